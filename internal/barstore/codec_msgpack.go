package barstore

import "github.com/vmihailenco/msgpack/v5"

// msgpackCodec is a compact alternative encoding for the minute-bar
// series, whose volume is much larger than daily bars. Selected via
// the MsgpackCodec() Option; JSON stays the default.
type msgpackCodec struct{}

func (msgpackCodec) name() string      { return "msgpack" }
func (msgpackCodec) extension() string { return ".msgpack" }
func (msgpackCodec) marshal(v interface{}) ([]byte, error) {
	return msgpack.Marshal(v)
}
func (msgpackCodec) unmarshal(data []byte, v interface{}) error {
	return msgpack.Unmarshal(data, v)
}

// MsgpackCodec selects the msgpack on-disk encoding for a Store.
func MsgpackCodec() Option {
	return func(s *Store) { s.codec = msgpackCodec{} }
}
