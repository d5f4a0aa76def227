package cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrUnsupportedSerializer is returned by NewSerializer for unknown names.
var ErrUnsupportedSerializer = errors.New("unsupported serializer")

// Serializer turns payloads into bytes and back.
type Serializer interface {
	Marshal(value any) ([]byte, error)
	Unmarshal(data []byte, dest any) error
}

type jsonSerializer struct{}

func (jsonSerializer) Marshal(value any) ([]byte, error) { return json.Marshal(value) }

func (jsonSerializer) Unmarshal(data []byte, dest any) error { return json.Unmarshal(data, dest) }

type msgpackSerializer struct{}

func (msgpackSerializer) Marshal(value any) ([]byte, error) { return msgpack.Marshal(value) }

func (msgpackSerializer) Unmarshal(data []byte, dest any) error { return msgpack.Unmarshal(data, dest) }

// NewSerializer returns the serializer called name: "json" (the default when
// name is empty) or "msgpack".
func NewSerializer(name string) (Serializer, error) {
	switch name {
	case "json", "":
		return jsonSerializer{}, nil
	case "msgpack":
		return msgpackSerializer{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedSerializer, name)
	}
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
