package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"google.golang.org/protobuf/proto"
)

// Format names accepted by NewSerializer.
const (
	FormatJSON  = "json"
	FormatCBOR  = "cbor"
	FormatProto = "proto"
)

// Serializer converts payload values to and from bytes.
type Serializer interface {
	// Name returns the format name, e.g. "json"
	Name() string

	// Marshal encodes v
	Marshal(v any) ([]byte, error)

	// Unmarshal decodes data into v, which must be a pointer.
	// It returns ErrNullPayload when data encodes an explicit null.
	Unmarshal(data []byte, v any) error
}

// NewSerializer returns the serializer registered under name.
func NewSerializer(name string) (Serializer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", FormatJSON:
		return JSON{}, nil
	case FormatCBOR:
		return CBOR{}, nil
	case FormatProto, "protobuf":
		return Proto{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, name)
	}
}

// JSON serializes payloads with encoding/json.
type JSON struct{}

// Name returns "json".
func (JSON) Name() string { return FormatJSON }

// Marshal encodes v as JSON.
func (JSON) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal decodes JSON data into v.
func (JSON) Unmarshal(data []byte, v any) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return ErrNullPayload
	}
	return json.Unmarshal(data, v)
}

// CBOR serializes payloads as RFC 8949 CBOR.
type CBOR struct{}

// Name returns "cbor".
func (CBOR) Name() string { return FormatCBOR }

// Marshal encodes v as CBOR.
func (CBOR) Marshal(v any) ([]byte, error) {
	return cbor.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func (CBOR) Unmarshal(data []byte, v any) error {
	// 0xf6 is the CBOR simple value null
	if len(data) == 1 && data[0] == 0xf6 {
		return ErrNullPayload
	}
	return cbor.Unmarshal(data, v)
}

// Proto serializes payloads that implement proto.Message.
type Proto struct{}

// Name returns "proto".
func (Proto) Name() string { return FormatProto }

// Marshal encodes v in protobuf wire format.
func (Proto) Marshal(v any) ([]byte, error) {
	msg, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrNotProto, v)
	}
	return proto.Marshal(msg)
}

// Unmarshal decodes protobuf wire data into v.
func (Proto) Unmarshal(data []byte, v any) error {
	msg, ok := v.(proto.Message)
	if !ok {
		return fmt.Errorf("%w: %T", ErrNotProto, v)
	}
	return proto.Unmarshal(data, msg)
}
