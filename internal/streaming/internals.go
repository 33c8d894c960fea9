// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package streaming

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/vmihailenco/msgpack/v5"
)

// Internals is the opaque state an operator saves between phases.
type Internals struct {
	shared map[string][]byte
	local  map[string][]byte
}

// entry is one key/value pair; sections are encoded as key-sorted entry
// lists so the encoding never depends on map iteration order.
type entry struct {
	_msgpack struct{} `msgpack:",as_array"`
	Key      string
	Value    []byte
}

type wireInternals struct {
	_msgpack struct{} `msgpack:",as_array"`
	Shared   []entry
	Local    []entry
}

func toEntries(m map[string][]byte) []entry {
	out := make([]entry, 0, len(m))
	for _, k := range keys(m) {
		out = append(out, entry{Key: k, Value: m[k]})
	}
	return out
}

func fromEntries(list []entry) map[string][]byte {
	m := make(map[string][]byte, len(list))
	for _, e := range list {
		m[e.Key] = e.Value
	}
	return m
}

// NewInternals returns an empty bag.
func NewInternals() *Internals {
	return &Internals{shared: make(map[string][]byte), local: make(map[string][]byte)}
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func put(m map[string][]byte, key string, v any) error {
	b, err := encode(v)
	if err != nil {
		return fmt.Errorf("failed to encode internals key '%s': %w", key, err)
	}
	m[key] = b
	return nil
}

func get(m map[string][]byte, key string, out any) (bool, error) {
	b, ok := m[key]
	if !ok {
		return false, nil
	}
	if err := msgpack.Unmarshal(b, out); err != nil {
		return true, fmt.Errorf("failed to decode internals key '%s': %w", key, err)
	}
	return true, nil
}

// PutShared stores v under key in the shared section.
func (in *Internals) PutShared(key string, v any) error { return put(in.shared, key, v) }

// GetShared decodes the shared value under key into out.
func (in *Internals) GetShared(key string, out any) (bool, error) { return get(in.shared, key, out) }

// PutLocal stores v under key in the partition-local section.
func (in *Internals) PutLocal(key string, v any) error { return put(in.local, key, v) }

// GetLocal decodes the local value under key into out.
func (in *Internals) GetLocal(key string, out any) (bool, error) { return get(in.local, key, out) }

// SharedKeys returns the shared keys in ascending order.
func (in *Internals) SharedKeys() []string { return keys(in.shared) }

// LocalKeys returns the local keys in ascending order.
func (in *Internals) LocalKeys() []string { return keys(in.local) }

// Clone returns a deep copy.
func (in *Internals) Clone() *Internals {
	out := NewInternals()
	for k, v := range in.shared {
		out.shared[k] = append([]byte(nil), v...)
	}
	for k, v := range in.local {
		out.local[k] = append([]byte(nil), v...)
	}
	return out
}

// SharedOnly returns a copy without the local section.
func (in *Internals) SharedOnly() *Internals {
	out := in.Clone()
	out.local = make(map[string][]byte)
	return out
}

// MarshalBinary returns the canonical encoding.
func (in *Internals) MarshalBinary() ([]byte, error) {
	return encode(wireInternals{Shared: toEntries(in.shared), Local: toEntries(in.local)})
}

// UnmarshalBinary replaces the contents from a canonical encoding.
func (in *Internals) UnmarshalBinary(b []byte) error {
	var w wireInternals
	if err := msgpack.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("failed to decode internals: %w", err)
	}
	in.shared, in.local = fromEntries(w.Shared), fromEntries(w.Local)
	return nil
}

// SharedBytes returns the canonical encoding of the shared section.
func (in *Internals) SharedBytes() ([]byte, error) {
	return encode(toEntries(in.shared))
}

// Equal reports whether a and b encode to the same bytes.
func Equal(a, b *Internals) bool {
	if a == nil || b == nil {
		return a == b
	}
	ab, err := a.MarshalBinary()
	if err != nil {
		return false
	}
	bb, err := b.MarshalBinary()
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

func keys(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
