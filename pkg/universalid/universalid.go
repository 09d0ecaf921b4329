// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package universalid provides the 16-byte opaque identifier used across the
gateway metadata model.

Services, schemas, objects, vendors, and authentication applications are all
addressed by a UniversalID. The type is an immutable value with a total
order and a canonical lowercase-hex string form, so it can be used directly
as a map key, sorted, and round-tripped through JWT claims and cookies.
*/
package universalid

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Size is the fixed byte length of every identifier.
const Size = 16

// ID is a 16-byte opaque identifier.
//
// The zero value is a valid "absent" identifier; see [ID.IsZero].
type ID [Size]byte

// Zero is the absent identifier.
var Zero ID

// FromBytes builds an ID from a raw byte slice.
func FromBytes(raw []byte) (ID, error) {
	if len(raw) != Size {
		return Zero, fmt.Errorf("universalid: need %d bytes, got %d", Size, len(raw))
	}
	var id ID
	copy(id[:], raw)
	return id, nil
}

// Parse decodes the canonical lowercase-hex representation.
func Parse(s string) (ID, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Zero, fmt.Errorf("universalid: invalid hex: %w", err)
	}
	return FromBytes(raw)
}

// MustParse is Parse for static identifiers; it panics on invalid input.
func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns the canonical lowercase-hex representation.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// MarshalJSON encodes the identifier as its canonical hex string.
func (id ID) MarshalJSON() ([]byte, error) {
	buf := make([]byte, 0, Size*2+2)
	buf = append(buf, '"')
	buf = append(buf, hex.EncodeToString(id[:])...)
	return append(buf, '"'), nil
}

// UnmarshalJSON decodes the canonical hex string form.
func (id *ID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("universalid: %w", err)
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// IsZero reports whether the identifier is absent (all zero bytes).
func (id ID) IsZero() bool {
	return id == Zero
}

// Compare orders identifiers byte-wise starting from the least significant
// byte, matching the storage order of the metadata tables. It returns -1, 0
// or 1.
func (id ID) Compare(other ID) int {
	for i := Size - 1; i >= 0; i-- {
		switch {
		case id[i] < other[i]:
			return -1
		case id[i] > other[i]:
			return 1
		}
	}
	return 0
}

// Less reports whether id orders before other.
func (id ID) Less(other ID) bool {
	return id.Compare(other) < 0
}
