package store

import (
	"encoding/hex"
	"fmt"
)

// IDCodec encodes ids for callers and decodes them before they reach an adapter.
type IDCodec interface {
	EncodeID(id any) (any, error)
	DecodeID(id any) (any, error)
}

// IdentityCodec leaves ids untouched.
type IdentityCodec struct{}

func (IdentityCodec) EncodeID(id any) (any, error) { return id, nil }
func (IdentityCodec) DecodeID(id any) (any, error) { return id, nil }

// HexCodec hides ids behind the hex encoding of their string form.
// It only obfuscates; it offers no secrecy.
type HexCodec struct{}

// EncodeID implements IDCodec.
func (HexCodec) EncodeID(id any) (any, error) {
	return hex.EncodeToString([]byte(fmt.Sprint(id))), nil
}

// DecodeID implements IDCodec.
func (HexCodec) DecodeID(id any) (any, error) {
	s, ok := id.(string)
	if !ok {
		return nil, fmt.Errorf("%w: encoded id must be a string, got %T", ErrInvalidParams, id)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: decode id %q: %v", ErrInvalidParams, s, err)
	}
	return string(b), nil
}

// secureFor reports whether ids must be decoded for this call.
func (s *Store) secureFor(opts CallOptions) bool {
	if opts.SecureID != nil {
		return *opts.SecureID
	}
	return s.config.Primary.Secure
}

// sanitizeID decodes id when the call is secure.
func (s *Store) sanitizeID(id any, opts CallOptions) (any, error) {
	if !s.secureFor(opts) {
		return id, nil
	}
	return s.config.Codec.DecodeID(id)
}

// encodeID encodes a raw id when the call is secure.
func (s *Store) encodeID(id any, opts CallOptions) (any, error) {
	if !s.secureFor(opts) {
		return id, nil
	}
	return s.config.Codec.EncodeID(id)
}
