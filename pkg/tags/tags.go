// Package tags implements the event tag list: lists of string lists with a
// literal ordering and no uniqueness constraint (not a set).
package tags

import (
	"github.com/mixnetlabs/obscuratr/pkg/escape"
)

// The tag position meanings so they are clear when reading.
const (
	Key = iota
	Value
	Relay
)

// Tag is a list of strings with a literal ordering.
type Tag []string

// Key returns the first element of the tag.
func (t Tag) Key() string {
	if len(t) > Key {
		return t[Key]
	}
	return ""
}

// Value returns the second element of the tag.
func (t Tag) Value() string {
	if len(t) > Value {
		return t[Value]
	}
	return ""
}

// T is a list of Tag.
type T []Tag

// GetAll returns the values of every tag whose key matches tagName.
func (t T) GetAll(tagName string) (values []string) {
	for _, v := range t {
		if len(v) >= 2 && v.Key() == tagName {
			values = append(values, v.Value())
		}
	}
	return
}

// ContainsAny returns true if any of the strings given in `values` matches
// any of the tag elements under the given tag name.
func (t T) ContainsAny(tagName string, values []string) bool {
	for _, v := range t {
		if len(v) < 2 {
			continue
		}
		if v.Key() != tagName {
			continue
		}
		for _, candidate := range values {
			if v.Value() == candidate {
				return true
			}
		}
	}
	return false
}

// MarshalTo appends the JSON encoded bytes of T as [][]string to dst.
// String escaping is as described in RFC8259.
func (t T) MarshalTo(dst []byte) []byte {
	dst = append(dst, '[')
	for i, tt := range t {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = append(dst, '[')
		for j, s := range tt {
			if j > 0 {
				dst = append(dst, ',')
			}
			dst = escape.String(dst, s)
		}
		dst = append(dst, ']')
	}
	dst = append(dst, ']')
	return dst
}

// Clone returns a deep copy of the tag list.
func (t T) Clone() T {
	if t == nil {
		return nil
	}
	clone := make(T, len(t))
	for i, tt := range t {
		clone[i] = append(Tag{}, tt...)
	}
	return clone
}
