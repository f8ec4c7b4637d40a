package codec

import (
	"errors"
	"fmt"
)

// Decoder resolves envelope type codes and deserializes their payloads.
type Decoder struct {
	registry   *Registry
	serializer Serializer
}

// NewDecoder creates a Decoder over registry and serializer.
func NewDecoder(registry *Registry, serializer Serializer) (*Decoder, error) {
	if registry == nil {
		return nil, ErrNilRegistry
	}
	if serializer == nil {
		return nil, ErrNilSerializer
	}
	return &Decoder{registry: registry, serializer: serializer}, nil
}

// Registry returns the type registry backing this decoder.
func (d *Decoder) Registry() *Registry {
	return d.registry
}

// Serializer returns the serializer backing this decoder.
func (d *Decoder) Serializer() Serializer {
	return d.serializer
}

// Decode turns env into a typed payload.
//
// ok is false without an error when the type code is unknown or the payload
// is an explicit null; callers drop such envelopes. Any other
// deserialization failure is returned wrapped in ErrDecode.
func (d *Decoder) Decode(env Envelope) (payload any, ok bool, err error) {
	factory, found := d.registry.Resolve(env.TypeCode)
	if !found {
		return nil, false, nil
	}

	target := factory()
	if err := d.serializer.Unmarshal(env.BinaryBytes, target); err != nil {
		if errors.Is(err, ErrNullPayload) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: %s via %s: %v", ErrDecode, env.TypeCode, d.serializer.Name(), err)
	}
	return target, true, nil
}
