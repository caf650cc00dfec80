package relog

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrDeserialize is wrapped by every Codec.Unmarshal failure, so callers can
// tell an unreadable payload apart from an I/O failure.
var ErrDeserialize = errors.New("relog: failed to deserialize payload")

// Codec converts values to and from their serialized form. The spool
// stores whatever bytes the Codec produces.
type Codec[T any] interface {
	Marshal(v T) ([]byte, error)
	Unmarshal(b []byte) (T, error)
}

// MsgpackCodec serializes values with msgpack. It is the default spool codec.
type MsgpackCodec[T any] struct{}

func (MsgpackCodec[T]) Marshal(v T) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (MsgpackCodec[T]) Unmarshal(b []byte) (T, error) {
	var v T
	if err := msgpack.Unmarshal(b, &v); err != nil {
		var zero T
		return zero, fmt.Errorf("%w: msgpack: %v", ErrDeserialize, err)
	}
	return v, nil
}

var jsonConfig = sonic.ConfigStd

// JSONCodec serializes values as JSON.
type JSONCodec[T any] struct{}

func (JSONCodec[T]) Marshal(v T) ([]byte, error) {
	return jsonConfig.Marshal(v)
}

func (JSONCodec[T]) Unmarshal(b []byte) (T, error) {
	var v T
	if err := jsonConfig.Unmarshal(b, &v); err != nil {
		var zero T
		return zero, fmt.Errorf("%w: json: %v", ErrDeserialize, err)
	}
	return v, nil
}
