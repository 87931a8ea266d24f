package barstore

import "encoding/json"

// codec (de)serializes a domain.BarSeries to/from its on-disk
// representation. JSON remains the default and documented wire format;
// msgpack is an opt-in alternative for the larger minute-bar series.
type codec interface {
	name() string
	extension() string
	marshal(v interface{}) ([]byte, error)
	unmarshal(data []byte, v interface{}) error
}

type jsonCodec struct{}

func (jsonCodec) name() string      { return "json" }
func (jsonCodec) extension() string { return ".json" }
func (jsonCodec) marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}
func (jsonCodec) unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
