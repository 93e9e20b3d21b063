package owbus

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"periph.io/x/conn/v3/onewire"
)

// Address is a 64-bit ROM code as it travels on the wire:
// byte 0 family code, bytes 1-6 serial number, byte 7 CRC8 of bytes 0-6.
type Address [8]byte

// Forms is the multi-representation view of one address.
type Forms struct {
	Family  byte    `json:"family"`
	ROM     Address `json:"rom"`
	SN      string  `json:"sn"`      // "28 69 2F 2C 0C 32 20 9A"
	Hex     string  `json:"hex"`     // "28692F2C0C32209A"
	RPI     string  `json:"rpi"`     // "28-692f2c0c3220"
	Reverse string  `json:"reverse"` // "9A 20 32 0C 2C 2F 69 28"
}

// AddressFromBytes builds an address from a raw 8 byte ROM code, or from a
// 7 byte partial code in which case the CRC byte is computed with CRC8Masked.
func AddressFromBytes(code []byte, masks MaskLookup) (Address, error) {
	var a Address
	switch len(code) {
	case 8:
		copy(a[:], code)
	case 7:
		copy(a[:], code)
		a[7] = CRC8Masked(code, masks)
	default:
		return a, &Error{Kind: KindConfigurationError, Op: "address", Msg: fmt.Sprintf("wrong rom code length %d", len(code))}
	}
	return a, nil
}

// ParseAddress accepts a hex string with optional space, dash, colon or dot
// separators, 7 or 8 bytes long.
func ParseAddress(s string, masks MaskLookup) (Address, error) {
	h := strings.NewReplacer(" ", "", "-", "", ":", "", ".", "").Replace(strings.TrimSpace(s))
	h = strings.TrimPrefix(strings.TrimPrefix(h, "0x"), "0X")
	code, err := hex.DecodeString(h)
	if err != nil {
		return Address{}, &Error{Kind: KindConfigurationError, Op: "address", Msg: "invalid address " + s, Err: err}
	}
	return AddressFromBytes(code, masks)
}

// AddressFromOneWire converts periph's little-endian representation.
func AddressFromOneWire(o onewire.Address) Address {
	var a Address
	binary.LittleEndian.PutUint64(a[:], uint64(o))
	return a
}

// OneWire returns the address in periph's little-endian representation.
func (a Address) OneWire() onewire.Address {
	return onewire.Address(binary.LittleEndian.Uint64(a[:]))
}

// Family returns the family code.
func (a Address) Family() byte {
	return a[0]
}

// Valid reports whether the masked CRC8 over all 8 bytes is zero.
func (a Address) Valid(masks MaskLookup) bool {
	return CRC8Masked(a[:], masks) == 0
}

// String returns the de facto "28 69 2F ..." form.
func (a Address) String() string {
	var bytes = make([]string, 0, 8)
	for _, b := range a {
		bytes = append(bytes, fmt.Sprintf("%02X", b))
	}
	return strings.Join(bytes, " ")
}

// Forms returns every representation of the address.
func (a Address) Forms() Forms {
	sn := a.String()
	hx := strings.ReplaceAll(sn, " ", "")
	parts := strings.Split(sn, " ")
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return Forms{
		Family:  a[0],
		ROM:     a,
		SN:      sn,
		Hex:     hx,
		RPI:     strings.ToLower(hx[:2] + "-" + hx[2:14]),
		Reverse: strings.Join(parts, " "),
	}
}

// MarshalText encodes the address as compact hex.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(strings.ToUpper(hex.EncodeToString(a[:]))), nil
}

// UnmarshalText accepts any form ParseAddress does; the CRC is not masked.
func (a *Address) UnmarshalText(text []byte) error {
	v, err := ParseAddress(string(text), nil)
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// Bit returns bit n (0..63) in wire order, least significant bit of byte 0 first.
func (a Address) Bit(n int) byte {
	return (a[n/8] >> (n % 8)) & 0x01
}

func addressFromBits(bits []byte) Address {
	var a Address
	for n, bit := range bits {
		if n >= 64 {
			break
		}
		if bit > 0b0 {
			a[n/8] |= byte(0x01) << (n % 8)
		}
	}
	return a
}

func (a Address) toBits() []byte {
	bits := make([]byte, 0, 64)
	for _, b := range a {
		for m := 0; m < 8; m++ {
			bits = append(bits, b%2)
			b >>= 1
		}
	}
	return bits
}
