package codec

import "errors"

// Registry errors
var (
	ErrEmptyTypeCode     = errors.New("type code cannot be empty")
	ErrNilFactory        = errors.New("payload factory cannot be nil")
	ErrDuplicateTypeCode = errors.New("type code already registered")
)

// Serialization errors
var (
	ErrEncode        = errors.New("payload encode error")
	ErrDecode        = errors.New("payload decode error")
	ErrNullPayload   = errors.New("payload is null")
	ErrNotProto      = errors.New("payload is not a protobuf message")
	ErrUnknownFormat = errors.New("unknown serializer")
	ErrNilSerializer = errors.New("serializer cannot be nil")
	ErrNilRegistry   = errors.New("registry cannot be nil")
)
