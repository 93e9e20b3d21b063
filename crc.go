package owbus

// MaskLookup reports the CRC mask byte a family declares for address byte 1.
// Registry implements it.
type MaskLookup interface {
	FamilyMask(family byte) (byte, bool)
}

// CRC8 computes the Dallas/Maxim 1-Wire CRC (polynomial 0x8C reflected).
// A correct 8 byte address, or 9 byte scratchpad, yields 0.
func CRC8(data []byte) byte {
	var crc byte = 0x00
	for _, b := range data {
		for i := 0; i < 8; i++ {
			mix := (crc ^ b) & 0x01
			crc >>= 1
			if mix > 0 {
				crc ^= 0x8c
			}
			b >>= 1
		}
	}
	return crc
}

// CRC8Masked is CRC8 with byte 1 replaced by the family's mask byte, for
// families that use that byte for something other than serial data.
// data is not modified.
func CRC8Masked(data []byte, masks MaskLookup) byte {
	if masks == nil || len(data) < 2 {
		return CRC8(data)
	}
	mask, ok := masks.FamilyMask(data[0])
	if !ok {
		return CRC8(data)
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	buf[1] = mask
	return CRC8(buf)
}

var oddParity = [16]uint16{0, 1, 1, 0, 1, 0, 0, 1, 1, 0, 0, 1, 0, 1, 1, 0}

// CRC16Value runs the 1-Wire CRC16 accumulator over data starting at seed.
func CRC16Value(data []byte, seed uint16, invert bool) uint16 {
	crc := seed
	for _, b := range data {
		cdata := (uint16(b) ^ crc) & 0xff
		crc >>= 8
		if oddParity[cdata&0x0f]^oddParity[cdata>>4] != 0 {
			crc ^= 0xc001
		}
		cdata <<= 6
		crc ^= cdata
		cdata <<= 1
		crc ^= cdata
	}
	if invert {
		crc ^= 0xffff
	}
	return crc
}

// CRC16 returns the inverted CRC16 of data, little-endian, ready to be
// appended to an outgoing block.
func CRC16(data []byte) [2]byte {
	crc := CRC16Value(data, 0, true)
	return [2]byte{byte(crc), byte(crc >> 8)}
}

// CRC16Check returns 0 for a block that ends with its own valid inverted CRC16.
func CRC16Check(block []byte) uint16 {
	return CRC16Value(block, 0, false) ^ 0xb001
}
