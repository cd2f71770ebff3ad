package grpc

import (
	"github.com/maxpert/viewsync/encoding"
	grpcencoding "google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content-subtype used by every viewsync RPC
const CodecName = "msgpack"

// msgpackCodec lets gRPC carry plain Go structs encoded through the encoding package
type msgpackCodec struct{}

func init() {
	grpcencoding.RegisterCodec(msgpackCodec{})
}

func (msgpackCodec) Marshal(v interface{}) ([]byte, error) {
	return encoding.Marshal(v)
}

func (msgpackCodec) Unmarshal(data []byte, v interface{}) error {
	return encoding.Unmarshal(data, v)
}

func (msgpackCodec) Name() string {
	return CodecName
}
