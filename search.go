package owbus

import (
	"bytes"
	"log/slog"
	"sort"
)

//
// SEARCH ROM [F0h]
// The bus driver learns the ROM codes through a process of elimination that requires it to perform
// a Search ROM cycle as many times as necessary to identify all of the devices.
//
// ALARM SEARCH [ECh]
// The operation of this command is identical to the operation of the Search ROM command except that
// only devices with a set alarm flag will respond.
//

// Scan enumerates every device on the bus. Addresses are returned sorted by
// raw byte value. If an error occurs the already discovered addresses are
// returned with it.
func (b *Bus) Scan() ([]Address, error) {
	return b.scan(cmdSearchROM, nil)
}

// ScanFamily enumerates the devices of one family. It still issues SEARCH
// ROM; the family code pre-filled in the seed prunes the other branches.
func (b *Bus) ScanFamily(family byte) ([]Address, error) {
	return b.scan(cmdSearchROM, &family)
}

// ScanAlarm enumerates the devices with their alarm flag set.
func (b *Bus) ScanAlarm() ([]Address, error) {
	return b.scan(cmdAlarmSearch, nil)
}

func (b *Bus) scan(command byte, family *byte) ([]Address, error) {
	b.lock()
	defer b.unlock()

	var seed Address
	if family != nil {
		seed[0] = *family
	}
	found := make([]Address, 0)
	for {
		rom, conflicts, ok, err := b.searchPass(command, seed)
		if err != nil {
			return sorted(found), err
		}
		if !ok {
			break
		}
		if !rom.Valid(b.registry) {
			b.logger.Error("scan: failed CRC", slog.String("sn", rom.String()))
			return sorted(found), crcError("scan", rom.String(), "invalid address CRC")
		}
		if family != nil && rom[0] != *family {
			// Every participant left the requested family on a forced bit.
			break
		}
		found = append(found, rom)

		// Backtrack from the conflict closest to the last bit: flip an untaken
		// 0 branch to 1, drop conflicts whose 1 branch was already taken.
		next := false
		for len(conflicts) > 0 {
			pos := conflicts[len(conflicts)-1]
			if family != nil && pos < 8 {
				// The next branch would leave the family.
				return sorted(found), nil
			}
			if seed.Bit(pos) == 0 {
				seed.setBit(pos, 1)
				next = true
				break
			}
			seed.setBit(pos, 0)
			conflicts = conflicts[:len(conflicts)-1]
		}
		if !next {
			break
		}
	}
	b.logger.Debug("scan complete", slog.String("bus", b.String()), slog.Int("found", len(found)))
	return sorted(found), nil
}

// searchPass performs a single discovery pass guided by seed. It returns the
// address found, the bit positions where participants disagreed, and false
// when nobody answered the reset (or no device is in alarm state).
func (b *Bus) searchPass(command byte, seed Address) (Address, []int, bool, error) {
	var rom Address
	present, err := b.checkedReset("scan")
	if err != nil || !present {
		return rom, nil, false, err
	}
	if err := b.writeByte(command); err != nil {
		return rom, nil, false, err
	}
	conflicts := make([]int, 0, 8)
	for pos := 0; pos < 64; pos++ {
		t, err := b.line.ReadBit()
		if err != nil {
			return rom, nil, false, err
		}
		c, err := b.line.ReadBit()
		if err != nil {
			return rom, nil, false, err
		}
		bit := t
		switch {
		case t == 1 && c == 1:
			if command == cmdAlarmSearch && pos == 0 {
				return rom, nil, false, nil
			}
			return rom, nil, false, busFault("scan", "no response at bit %d (no devices or wiring fault)", pos)
		case t == 0 && c == 0:
			conflicts = append(conflicts, pos)
			bit = seed.Bit(pos)
		}
		if err := b.line.WriteBit(bit); err != nil {
			return rom, nil, false, err
		}
		rom.setBit(pos, bit)
	}
	return rom, conflicts, true, nil
}

func (a *Address) setBit(n int, bit byte) {
	if bit&1 != 0 {
		a[n/8] |= 1 << (n % 8)
	} else {
		a[n/8] &^= 1 << (n % 8)
	}
}

func sorted(found []Address) []Address {
	sort.Slice(found, func(i, j int) bool {
		return bytes.Compare(found[i][:], found[j][:]) < 0
	})
	return found
}
