package gsb

import (
	"github.com/blang/semver"
	"github.com/google/uuid"
)

// ClientInfo identifies this process to a broker; it is sent once, in
// the Hello frame, immediately after connect.
type ClientInfo struct {
	Name       string
	Version    semver.Version
	InstanceID uuid.UUID
}

// NewClientInfo builds a ClientInfo with a fresh random instance id.
// version must be a valid semantic version string; an empty version
// defaults to 0.0.0 rather than failing, since many embedders don't
// track one.
func NewClientInfo(name, version string) (ClientInfo, error) {
	if version == "" {
		version = "0.0.0"
	}
	v, err := semver.Parse(version)
	if err != nil {
		return ClientInfo{}, gsbBadRequest("invalid client version: " + err.Error())
	}
	return ClientInfo{
		Name:       name,
		Version:    v,
		InstanceID: uuid.New(),
	}, nil
}
