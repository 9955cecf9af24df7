// Package address defines the Bluetooth device identity type shared by every
// per-device table in the coordinator.
package address

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Addr is a 6-byte Bluetooth device address (BD_ADDR), used as the key for
// every per-device state table in the coordinator.
type Addr [6]byte

// String renders the address in the conventional colon-separated hex form,
// most-significant octet first (e.g. "AA:BB:CC:DD:EE:FF").
func (a Addr) String() string {
	parts := make([]string, 6)
	for i, b := range a {
		parts[i] = hex.EncodeToString([]byte{b})
	}
	return strings.ToUpper(strings.Join(parts, ":"))
}

// Parse decodes a colon- or dash-separated hex address such as
// "aa:bb:cc:dd:ee:ff" into an Addr. Returns an error for anything that is
// not exactly six octets of hex.
func Parse(s string) (Addr, error) {
	var a Addr
	s = strings.ReplaceAll(s, "-", ":")
	octets := strings.Split(s, ":")
	if len(octets) != 6 {
		return a, fmt.Errorf("address: %q is not a 6-octet address", s)
	}
	for i, o := range octets {
		if len(o) != 2 {
			return a, fmt.Errorf("address: %q has a malformed octet %q", s, o)
		}
		b, err := hex.DecodeString(o)
		if err != nil {
			return a, fmt.Errorf("address: %q has a malformed octet %q: %w", s, o, err)
		}
		a[i] = b[0]
	}
	return a, nil
}

// MustParse is Parse without an error return, for constants in tests.
func MustParse(s string) Addr {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}
