package gsbproto

import "fmt"

// ErrUnknownTag carries the tag of a frame whose type this version of
// the protocol does not recognize. The connection's dispatch loop
// wraps one of these as the Cause of a KindProtocol gsb.Error and
// stops — an unknown frame is fatal to the connection, not retried.
type ErrUnknownTag struct {
	Tag Tag
}

func (e ErrUnknownTag) Error() string {
	return fmt.Sprintf("gsbproto: unknown frame tag %d", e.Tag)
}

// ErrUnknownCode carries the reply family and code when a reply frame
// falls outside the closed set that family defines. The reply-code
// decoders wrap one of these as the Cause of a KindProtocol
// gsb.Error, same as ErrUnknownTag.
type ErrUnknownCode struct {
	Family string
	Code   int
}

func (e ErrUnknownCode) Error() string {
	return fmt.Sprintf("gsbproto: unknown %s reply code %d", e.Family, e.Code)
}
