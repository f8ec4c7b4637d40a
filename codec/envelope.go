// Package codec turns wire envelopes into typed payloads.
//
// An Envelope carries a type code and an opaque byte payload. The Registry
// maps type codes to factories producing fresh payload values, and a
// Serializer fills those values from the payload bytes.
package codec

import (
	"fmt"
)

// Envelope is the wire-level wrapper handed to an entity.
type Envelope struct {
	// TypeCode identifies the payload type in the Registry
	TypeCode string `json:"type_code" yaml:"type_code"`

	// BinaryBytes is the serialized payload
	BinaryBytes []byte `json:"binary_bytes" yaml:"binary_bytes"`
}

// String returns a short description of the envelope.
func (e Envelope) String() string {
	return fmt.Sprintf("%s(%d bytes)", e.TypeCode, len(e.BinaryBytes))
}

// Seal serializes v and wraps it in an envelope tagged with typeCode.
func Seal(s Serializer, typeCode string, v any) (Envelope, error) {
	if typeCode == "" {
		return Envelope{}, ErrEmptyTypeCode
	}
	data, err := s.Marshal(v)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %s: %v", ErrEncode, typeCode, err)
	}
	return Envelope{TypeCode: typeCode, BinaryBytes: data}, nil
}
