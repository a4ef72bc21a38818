// Package gse depacketises DVB Generic Stream Encapsulation frames
// (ETSI TS 102 606-1) carrying IPv4 datagrams, reassembling fragmented
// packets by fragment ID.
package gse

import "fmt"

const (
	protocolIPv4  = 0x0800
	maxPacketLen  = 8192
	maxBufferLen  = 32768
	maxResyncTail = 64
)

type fragment struct {
	data       []byte
	currentPos int
	active     bool
}

// Depacketiser reassembles GSE packets fed either as raw TS payload bytes
// (which may start mid-packet and need sync recovery) or as a chunk known
// to start at a GSE packet boundary, such as a BBF payload.
type Depacketiser struct {
	buf           []byte
	synced        bool
	fragments     [256]fragment
	PacketCount   int
	FragmentCount int
}

// NewDepacketiser creates an unsynced GSE depacketiser.
func NewDepacketiser() *Depacketiser {
	return &Depacketiser{}
}

// Reset discards all buffered bytes and fragment reassembly state.
func (d *Depacketiser) Reset() {
	d.buf = nil
	d.synced = false
	for i := range d.fragments {
		d.fragments[i] = fragment{}
	}
}

// FeedTSPayload appends raw TS payload bytes that may not start at a GSE
// packet boundary. It searches for sync (a complete, well-formed IPv4 GSE
// packet) before emitting anything.
func (d *Depacketiser) FeedTSPayload(data []byte) []Datagram {
	d.buf = append(d.buf, data...)

	pos := 0
	if !d.synced {
		sync := d.findSync()
		if sync < 0 {
			if len(d.buf) > maxResyncTail {
				d.buf = append([]byte{}, d.buf[len(d.buf)-maxResyncTail:]...)
			}
			return nil
		}
		d.synced = true
		d.buf = append([]byte{}, d.buf[sync:]...)
	}

	out, consumed := d.drain(d.buf, pos)
	if consumed > 0 {
		d.buf = append([]byte{}, d.buf[consumed:]...)
	}
	if len(d.buf) > maxBufferLen {
		d.buf = nil
		d.synced = false
	}
	return out
}

// FeedSynced processes a chunk already known to start at a GSE packet
// boundary (for example a reassembled BBF baseband frame payload) without
// any cross-call buffering.
func (d *Depacketiser) FeedSynced(data []byte) []Datagram {
	out, _ := d.drain(data, 0)
	return out
}

// drain walks data from pos looking for complete GSE packets, stopping at
// padding, an oversized length, or an incomplete trailing packet. It
// returns the datagrams produced and the number of bytes consumed.
func (d *Depacketiser) drain(data []byte, pos int) ([]Datagram, int) {
	var out []Datagram
	for pos+2 <= len(data) {
		header := data[pos]
		gseLen := int(header&0x0F)<<8 | int(data[pos+1])

		if header&0xF0 == 0 || header == 0xFF {
			// Padding: rest of this chunk carries no more GSE packets.
			return out, len(data)
		}

		packetLen := gseLen + 2
		if packetLen > maxPacketLen {
			d.synced = false
			return out, pos + 1
		}
		if pos+packetLen > len(data) {
			return out, pos
		}

		dgram, ok := d.processPacket(data[pos : pos+packetLen])
		if !ok {
			pos++
			continue
		}
		if dgram != nil {
			out = append(out, *dgram)
		}
		pos += packetLen
	}
	return out, pos
}

// findSync scans buf for the start of a complete (S=1, E=1) IPv4 GSE
// packet, verifying the protocol type field and the embedded IPv4 version
// nibble before trusting the position.
func (d *Depacketiser) findSync() int {
	for pos := 0; pos+22 < len(d.buf); pos++ {
		header := d.buf[pos]
		if header&0xF0 == 0 {
			continue
		}
		gseLen := int(header&0x0F)<<8 | int(d.buf[pos+1])
		start := header&0x80 != 0
		end := header&0x40 != 0

		if !start || !end || gseLen < 22 || gseLen > 2000 {
			continue
		}
		protoOffset := pos + 2
		if protoOffset+2 >= len(d.buf) {
			continue
		}
		proto := uint16(d.buf[protoOffset])<<8 | uint16(d.buf[protoOffset+1])
		if proto != protocolIPv4 {
			continue
		}
		// The label (0, 3 or 6 bytes) follows the protocol type, as in
		// extractIPv4Payload.
		for _, labelLen := range [...]int{0, 3, 6} {
			ipOffset := protoOffset + 2 + labelLen
			if ipOffset < len(d.buf) && d.buf[ipOffset]&0xF0 == 0x40 {
				return pos
			}
		}
	}
	return -1
}

func labelLength(lt uint8) int {
	switch lt {
	case 0:
		return 6
	case 1:
		return 3
	default:
		return 0
	}
}

// Datagram is one reassembled GSE payload carrying protocol type 0x0800
// with its IPv4 datagram bytes.
type Datagram struct {
	IPv4 []byte
}

// processPacket handles one complete GSE packet (header through its
// declared length) and returns a Datagram when it completes a payload,
// either immediately (S=1,E=1) or via fragment reassembly (S=0,E=1).
func (d *Depacketiser) processPacket(pkt []byte) (*Datagram, bool) {
	if len(pkt) < 2 {
		return nil, false
	}
	header := pkt[0]
	gseLen := int(header&0x0F)<<8 | int(pkt[1])
	if header&0xF0 == 0 {
		return nil, false
	}

	start := header&0x80 != 0
	stop := header&0x40 != 0

	switch {
	case start && stop:
		d.PacketCount++
		return extractIPv4Payload(pkt[2:]), true

	case start && !stop:
		if gseLen < 7 {
			return nil, true
		}
		fragID := pkt[2]
		totalLen := int(pkt[3])<<8 | int(pkt[4])

		// The protocol type follows the total length; any label comes
		// after it and is skipped by extractIPv4Payload on completion.
		protoOffset := 5
		if protoOffset+2 > gseLen+2 {
			return nil, true
		}
		protocol := uint16(pkt[protoOffset])<<8 | uint16(pkt[protoOffset+1])
		if protocol != protocolIPv4 {
			return nil, true
		}
		if totalLen > 2000 || totalLen < 28 {
			return nil, true
		}

		frag := &d.fragments[fragID]
		frag.data = make([]byte, totalLen+2)
		frag.data[0] = header | 0xC0
		frag.data[1] = pkt[1]
		frag.currentPos = 0
		frag.active = true

		payloadLen := gseLen - 3
		if 2+payloadLen <= len(frag.data) {
			copy(frag.data[2:], pkt[5:5+payloadLen])
			frag.currentPos = 2 + payloadLen
		} else {
			frag.active = false
		}
		d.FragmentCount++
		return nil, true

	case !start && !stop:
		if gseLen < 1 || len(pkt) < 3 {
			return nil, true
		}
		fragID := pkt[2]
		frag := &d.fragments[fragID]
		if !frag.active {
			return nil, true
		}
		payloadLen := gseLen - 1
		if frag.currentPos+payloadLen <= len(frag.data) && 3+payloadLen <= len(pkt) {
			copy(frag.data[frag.currentPos:], pkt[3:3+payloadLen])
			frag.currentPos += payloadLen
		}
		d.FragmentCount++
		return nil, true

	default: // !start && stop
		if gseLen < 5 || len(pkt) < 3 {
			return nil, true
		}
		fragID := pkt[2]
		frag := &d.fragments[fragID]
		if !frag.active {
			return nil, true
		}
		payloadLen := gseLen - 5
		if frag.currentPos+payloadLen <= len(frag.data) && 3+payloadLen <= len(pkt) {
			copy(frag.data[frag.currentPos:], pkt[3:3+payloadLen])
			frag.currentPos += payloadLen
		}
		d.PacketCount++
		d.FragmentCount++
		dgram := extractIPv4Payload(frag.data[2:frag.currentPos])
		frag.active = false
		return dgram, true
	}
}

// extractIPv4Payload interprets a reassembled GSE payload (protocol type
// plus optional label plus data) and returns the embedded IPv4 datagram.
// The label type is not tracked through fragmentation, so every plausible
// label length (0, 3, 6 bytes) is tried until the IPv4 version/IHL nibble
// (0x4) is found, matching the original depacketiser's recovery heuristic.
func extractIPv4Payload(data []byte) *Datagram {
	if len(data) < 4 {
		return nil
	}
	protocol := uint16(data[0])<<8 | uint16(data[1])
	if protocol != protocolIPv4 {
		return nil
	}

	for _, labelLen := range [...]int{0, 3, 6} {
		offset := 2 + labelLen
		if offset+20 > len(data) {
			continue
		}
		if data[offset]&0xF0 == 0x40 {
			return emitIPv4(data[offset:])
		}
	}
	return nil
}

func emitIPv4(ip []byte) *Datagram {
	if len(ip) < 20 {
		return nil
	}
	if ip[0]>>4 != 4 {
		return nil
	}
	totalLen := int(ip[2])<<8 | int(ip[3])
	if totalLen > len(ip) || totalLen < 20 {
		totalLen = len(ip)
	}
	return &Datagram{IPv4: append([]byte{}, ip[:totalLen]...)}
}

// Describe reports the depacketiser's current sync state, used by
// callers that surface per-source diagnostics (spec.md §9).
func (d *Depacketiser) Describe() string {
	if d.synced {
		return fmt.Sprintf("gse: synced, %d packets, %d fragments", d.PacketCount, d.FragmentCount)
	}
	return "gse: not synced"
}
