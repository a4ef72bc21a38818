package edi

import (
	"fmt"

	"github.com/L-S-D/libdvbdab/internal/crc16"
)

// assembleETIFrame builds a 6144-byte ETI-NI frame from the decoder's
// current tag state, following the sync/FC/STC/EOH/MST/EOF layout of
// ETSI EN 300 799. It only succeeds when the decoded tags described a
// DETI stream with FIC data matching the declared transmission mode.
func (d *Decoder) assembleETIFrame() ([6144]byte, uint16, error) {
	var frame [6144]byte
	s := &d.state

	if !s.isETI || !s.fcValid || len(s.fic) == 0 {
		return frame, 0, fmt.Errorf("edi: AF packet is not a valid DETI frame")
	}

	expectedFIC := 96
	if s.fc.mid == 3 {
		expectedFIC = 128
	}
	if len(s.fic) != expectedFIC {
		return frame, 0, fmt.Errorf("edi: FIC length %d does not match mode %d (want %d)", len(s.fic), s.fc.mid, expectedFIC)
	}

	frame[0] = s.err

	fct := s.fc.dflc % 250
	if fct%2 == 1 {
		frame[1], frame[2], frame[3] = 0xF8, 0xC5, 0x49
	} else {
		frame[1], frame[2], frame[3] = 0x07, 0x3A, 0xB6
	}

	frame[4] = byte(fct)

	nst := s.fc.nst
	var ficfBit byte
	if s.fc.ficf {
		ficfBit = 0x80
	}
	frame[5] = ficfBit | nst

	fl := uint16(nst) + 1 + uint16(len(s.fic)/4)
	for i := uint8(0); i < nst; i++ {
		fl += uint16(len(s.streams[i].mst) / 4)
	}

	fpMidFl := uint16(s.fc.fp)<<13 | uint16(s.fc.mid)<<11 | fl
	frame[6] = byte(fpMidFl >> 8)
	frame[7] = byte(fpMidFl)

	for i := uint8(0); i < nst; i++ {
		stc := s.streams[i]
		stl := uint16(len(stc.mst) / 8)

		base := 8 + int(i)*4
		frame[base+0] = stc.scid<<2 | byte(stc.sad>>8)&0x03
		frame[base+1] = byte(stc.sad)
		frame[base+2] = stc.tpl<<2 | byte(stl>>8)&0x03
		frame[base+3] = byte(stl)
	}

	idx := 8 + int(nst)*4

	frame[idx] = byte(s.mnsc >> 8)
	frame[idx+1] = byte(s.mnsc)

	eohCRC := crc16.Compute(frame[4 : idx+2])
	frame[idx+2] = byte(eohCRC >> 8)
	frame[idx+3] = byte(eohCRC)
	idx += 4

	mstStart := idx
	copy(frame[idx:], s.fic)
	idx += len(s.fic)

	for i := uint8(0); i < nst; i++ {
		mst := s.streams[i].mst
		if idx+len(mst) > 6144-8 {
			return frame, 0, fmt.Errorf("edi: MST region overflows ETI-NI frame")
		}
		copy(frame[idx:], mst)
		idx += len(mst)
	}

	mstCRC := crc16.Compute(frame[mstStart:idx])
	frame[idx] = byte(mstCRC >> 8)
	frame[idx+1] = byte(mstCRC)

	frame[idx+2] = byte(s.rfu >> 8)
	frame[idx+3] = byte(s.rfu)

	frame[idx+4] = byte(s.fc.tsta >> 24)
	frame[idx+5] = byte(s.fc.tsta >> 16)
	frame[idx+6] = byte(s.fc.tsta >> 8)
	frame[idx+7] = byte(s.fc.tsta)
	idx += 8

	for i := idx; i < 6144; i++ {
		frame[i] = 0x55
	}

	return frame, s.fc.dflc, nil
}
