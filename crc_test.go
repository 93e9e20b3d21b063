package owbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var validAddresses = []string{
	"28 69 2F 2C 0C 32 20 9A",
	"29 EE D2 02 00 00 00 C3",
	"1D 00 00 00 00 00 00 C3",
}

func TestCRC8_ValidAddress(t *testing.T) {
	for _, s := range validAddresses {
		a, err := ParseAddress(s, nil)
		if !assert.NoError(t, err) {
			continue
		}
		assert.Equal(t, byte(0), CRC8(a[:]), s)

		for n := 0; n < 64; n++ {
			b := a
			b[n/8] ^= 1 << (n % 8)
			assert.NotEqual(t, byte(0), CRC8(b[:]), "%s bit %d", s, n)
		}
	}
}

func TestCRC8_Masked(t *testing.T) {
	r := NewRegistry()
	data := []byte{0x1c, 0x55, 0x01, 0x02, 0x03, 0x04, 0x05}
	orig := append([]byte(nil), data...)

	want := CRC8([]byte{0x1c, 0x7f, 0x01, 0x02, 0x03, 0x04, 0x05})
	assert.Equal(t, want, CRC8Masked(data, r))
	assert.Equal(t, orig, data)

	// Families without a mask are unaffected.
	data[0] = 0x28
	assert.Equal(t, CRC8(data), CRC8Masked(data, r))
	assert.Equal(t, CRC8(data), CRC8Masked(data, nil))
}

func TestCRC16_RoundTrip(t *testing.T) {
	blocks := [][]byte{
		{},
		{0x00},
		{0xf0, 0x89, 0x00, 0xff, 0x00, 0x00, 0x00, 0x00, 0x00, 0xff},
		[]byte("The quick brown fox"),
	}
	for _, b := range blocks {
		crc := CRC16(b)
		block := append(append([]byte(nil), b...), crc[0], crc[1])
		assert.Equal(t, uint16(0), CRC16Check(block), "%x", b)

		block[0] ^= 0x01
		assert.NotEqual(t, uint16(0), CRC16Check(block), "%x", b)
	}
}

func TestCRC16Value(t *testing.T) {
	// CRC-16/MAXIM check value.
	assert.Equal(t, uint16(0x44c2), CRC16Value([]byte("123456789"), 0, true))
	assert.Equal(t, uint16(0xbb3d), CRC16Value([]byte("123456789"), 0, false))
}
