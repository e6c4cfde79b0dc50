package record

import (
	"bytes"
	"encoding/json"
	"maps"
)

// FlagKind discriminates the forms a Flag can take.
type FlagKind int

const (
	// FlagPresent is a bare marker with no payload. Serialized as true.
	FlagPresent FlagKind = iota
	// FlagScalar carries a single value.
	FlagScalar
	// FlagMetadata carries a mapping of metadata keys to values.
	FlagMetadata
)

// Flag is a named, non-fatal marker attached to a run.
type Flag struct {
	kind  FlagKind
	value any
	meta  map[string]any
}

// Present returns a bare flag.
func Present() Flag {
	return Flag{kind: FlagPresent}
}

// Scalar returns a flag carrying a single value. The value should already be
// normalized.
func Scalar(v any) Flag {
	return Flag{kind: FlagScalar, value: v}
}

// WithMetadata returns a flag carrying a copy of meta.
func WithMetadata(meta map[string]any) Flag {
	m := make(map[string]any, len(meta))
	maps.Copy(m, meta)
	return Flag{kind: FlagMetadata, meta: m}
}

// Kind reports which form the flag takes.
func (f Flag) Kind() FlagKind {
	return f.kind
}

// Value returns the scalar payload, or nil for other kinds.
func (f Flag) Value() any {
	if f.kind != FlagScalar {
		return nil
	}
	return f.value
}

// Metadata returns a copy of the metadata map, or nil for other kinds.
func (f Flag) Metadata() map[string]any {
	if f.kind != FlagMetadata {
		return nil
	}
	return maps.Clone(f.meta)
}

// MarshalJSON encodes a present flag as true, a scalar flag as its value and
// a metadata flag as an object.
func (f Flag) MarshalJSON() ([]byte, error) {
	switch f.kind {
	case FlagScalar:
		return json.Marshal(f.value)
	case FlagMetadata:
		if f.meta == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(f.meta)
	default:
		return []byte("true"), nil
	}
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (f *Flag) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("true")) {
		*f = Present()
		return nil
	}
	if len(data) > 0 && data[0] == '{' {
		var meta map[string]any
		if err := json.Unmarshal(data, &meta); err != nil {
			return err
		}
		*f = Flag{kind: FlagMetadata, meta: meta}
		return nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = Scalar(v)
	return nil
}

// Flags maps flag names to flags.
type Flags map[string]Flag

// Clone returns a copy of fs. Metadata maps are copied as well.
func (fs Flags) Clone() Flags {
	out := make(Flags, len(fs))
	for name, f := range fs {
		if f.kind == FlagMetadata {
			f = WithMetadata(f.meta)
		}
		out[name] = f
	}
	return out
}
