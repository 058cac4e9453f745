package gsb

import jsoniter "github.com/json-iterator/go"

// Serializer converts between typed user messages and the raw bytes
// that cross a Slot or the broker connection. The default
// implementation is backed by json-iterator/go.
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// jsonSerializer is the default Serializer, backed by json-iterator's
// ConfigCompatibleWithStandardLibrary so payloads stay readable on the
// wire while avoiding encoding/json's reflection overhead.
type jsonSerializer struct{}

var defaultSerializer Serializer = jsonSerializer{}

func (jsonSerializer) Marshal(v any) ([]byte, error) {
	return jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(v)
}

func (jsonSerializer) Unmarshal(data []byte, v any) error {
	return jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, v)
}
