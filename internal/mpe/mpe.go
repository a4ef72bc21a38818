// Package mpe accumulates DVB Multi-Protocol Encapsulation sections
// (table_id 0x3E, ETSI EN 301 192) across transport stream packets on a
// single PID, emitting one section at a time as it completes.
package mpe

import "github.com/L-S-D/libdvbdab/internal/tsframe"

const tableIDMPE = 0x3E

// Section is one complete MPE section, payload included (from table_id
// through the CRC trailer).
type Section struct {
	Data []byte
}

// Accumulator reassembles MPE sections for one PID across Feed calls,
// mirroring the PUSI/pointer_field handling of a generic PSI accumulator
// but restricted to table_id 0x3E (spec.md §4.2).
type Accumulator struct {
	buf        []byte
	inProgress bool
	expected   int
	lastCC     uint8
	haveCC     bool
}

// NewAccumulator creates an empty MPE section accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Feed processes one transport stream packet and returns any complete MPE
// sections it produced. Non-payload packets are ignored by the caller
// before reaching here; Feed assumes pkt.HasPayload is true.
func (a *Accumulator) Feed(pkt tsframe.Packet) []Section {
	if a.haveCC {
		expectedCC := (a.lastCC + 1) & 0x0F
		if pkt.ContinuityCounter != expectedCC {
			a.reset()
		}
	}
	a.lastCC = pkt.ContinuityCounter
	a.haveCC = true

	payload := pkt.Payload
	if len(payload) == 0 {
		return nil
	}

	var out []Section

	if pkt.PayloadUnitStartIndicator {
		pointerField := int(payload[0])
		if pointerField+1 > len(payload) {
			a.reset()
			return nil
		}

		// Complete any section already in progress with the bytes before
		// the next section start.
		if a.inProgress && pointerField > 0 {
			a.append(payload[1 : 1+pointerField])
			if sec, ok := a.tryComplete(); ok {
				out = append(out, sec)
			}
		}
		a.reset()

		pos := 1 + pointerField
		for pos < len(payload) {
			if payload[pos] == 0xFF {
				break
			}
			if pos+3 > len(payload) {
				a.startPartial(payload[pos:])
				break
			}
			tableID := payload[pos]
			sectionLength := int(payload[pos+1]&0x0F)<<8 | int(payload[pos+2])
			total := 3 + sectionLength
			end := pos + total
			if end > len(payload) {
				a.startPartial(payload[pos:])
				break
			}
			if tableID == tableIDMPE {
				out = append(out, Section{Data: append([]byte{}, payload[pos:end]...)})
			}
			pos = end
		}
		return out
	}

	if !a.inProgress {
		return nil
	}
	a.append(payload)
	if sec, ok := a.tryComplete(); ok {
		out = append(out, sec)
	}
	return out
}

func (a *Accumulator) startPartial(data []byte) {
	if len(data) < 3 {
		a.buf = append([]byte{}, data...)
		a.inProgress = true
		a.expected = -1
		return
	}
	a.buf = append([]byte{}, data...)
	sectionLength := int(data[1]&0x0F)<<8 | int(data[2])
	a.expected = 3 + sectionLength
	a.inProgress = true
}

func (a *Accumulator) append(data []byte) {
	a.buf = append(a.buf, data...)
	if a.expected < 0 && len(a.buf) >= 3 {
		sectionLength := int(a.buf[1]&0x0F)<<8 | int(a.buf[2])
		a.expected = 3 + sectionLength
	}
}

func (a *Accumulator) tryComplete() (Section, bool) {
	if a.expected >= 0 && len(a.buf) >= a.expected {
		data := a.buf[:a.expected]
		tableID := data[0]
		a.reset()
		if tableID == tableIDMPE {
			return Section{Data: append([]byte{}, data...)}, true
		}
	}
	return Section{}, false
}

func (a *Accumulator) reset() {
	a.buf = nil
	a.inProgress = false
	a.expected = -1
}

// ResetAll discards any in-progress section and CC tracking.
func (a *Accumulator) ResetAll() {
	a.reset()
	a.haveCC = false
}
