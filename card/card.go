package card

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Reader model names reported by the drivers and sent with each scan.
const (
	ModelRCS300   = "RC-S300"
	ModelRCS320   = "RC-S320"
	ModelRCS330   = "RC-S330"
	ModelRCS620   = "RC-S620"
	ModelKeyboard = "HID-KBD"
	ModelUnknown  = "Unknown"
)

// ID is a card identifier as read from the card (the FeliCa IDm, or the
// UID returned by a PC/SC reader). Its canonical form is upper-case hex.
type ID []byte

// HexUpper renders b as upper-case hex, two digits per byte.
func HexUpper(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}

// ParseHex decodes a hex card ID, accepting either case.
func ParseHex(s string) (ID, error) {
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("parse card id %q: %w", s, err)
	}
	return ID(b), nil
}

// String implements fmt.Stringer.
func (id ID) String() string {
	return HexUpper(id)
}

// Empty reports whether no bytes were read, or every byte is zero.
// libpafe hands back an all-zero IDm when polling finds nothing.
func (id ID) Empty() bool {
	for _, b := range id {
		if b != 0 {
			return false
		}
	}
	return true
}

// Equal compares two IDs byte for byte.
func (id ID) Equal(other ID) bool {
	return HexUpper(id) == HexUpper(other)
}
