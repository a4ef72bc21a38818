package mpe

import (
	"testing"

	"github.com/L-S-D/libdvbdab/internal/tsframe"
)

func buildMPESection(ipDatagram []byte) []byte {
	header := make([]byte, 12)
	header[0] = tableIDMPE
	body := append(header, ipDatagram...)
	sectionLength := len(body) - 3 + 4 // +4 for CRC trailer
	body[1] = byte(sectionLength >> 8 & 0x0F)
	body[2] = byte(sectionLength)
	body = append(body, 0xAA, 0xBB, 0xCC, 0xDD) // fake CRC, not checked here
	return body
}

func TestAccumulatorSinglePacket(t *testing.T) {
	a := NewAccumulator()
	ip := []byte{0x45, 0x00, 0x00, 0x14}
	section := buildMPESection(ip)

	payload := append([]byte{0x00}, section...) // pointer_field = 0
	pkt := tsframe.Packet{PID: 100, PayloadUnitStartIndicator: true, HasPayload: true, Payload: payload}

	secs := a.Feed(pkt)
	if len(secs) != 1 {
		t.Fatalf("Feed: got %d sections, want 1", len(secs))
	}
	datagram, err := ExtractIPv4(secs[0])
	if err != nil {
		t.Fatalf("ExtractIPv4: %v", err)
	}
	if string(datagram) != string(ip) {
		t.Errorf("ExtractIPv4: got % x, want % x", datagram, ip)
	}
}

func TestAccumulatorSplitAcrossPackets(t *testing.T) {
	a := NewAccumulator()
	ip := make([]byte, 40)
	for i := range ip {
		ip[i] = byte(i)
	}
	section := buildMPESection(ip)

	first := append([]byte{0x00}, section[:30]...)
	pkt1 := tsframe.Packet{PID: 100, PayloadUnitStartIndicator: true, HasPayload: true, ContinuityCounter: 0, Payload: first}
	if secs := a.Feed(pkt1); len(secs) != 0 {
		t.Fatalf("first packet should not complete a section, got %d", len(secs))
	}

	pkt2 := tsframe.Packet{PID: 100, HasPayload: true, ContinuityCounter: 1, Payload: section[30:]}
	secs := a.Feed(pkt2)
	if len(secs) != 1 {
		t.Fatalf("Feed: got %d sections, want 1", len(secs))
	}
}

func TestExtractIPv4SkipsLLCSNAPHeader(t *testing.T) {
	ip := []byte{0x45, 0x00, 0x00, 0x14, 0, 0, 0, 0, 64, 17, 0, 0, 10, 0, 0, 1, 10, 0, 0, 2}
	llcSnap := make([]byte, 8)

	header := make([]byte, 12)
	header[0] = tableIDMPE
	header[1] = 0x08 // LLC/SNAP flag, byte 1 bit 3

	body := append(header, llcSnap...)
	body = append(body, ip...)
	sectionLength := len(body) - 3 + 4
	body[1] |= byte(sectionLength >> 8 & 0x0F)
	body[2] = byte(sectionLength)
	body = append(body, 0xAA, 0xBB, 0xCC, 0xDD)

	datagram, err := ExtractIPv4(Section{Data: body})
	if err != nil {
		t.Fatalf("ExtractIPv4: %v", err)
	}
	if string(datagram) != string(ip) {
		t.Errorf("ExtractIPv4: got % x, want % x", datagram, ip)
	}
}

func TestAccumulatorIgnoresNonMPETableID(t *testing.T) {
	a := NewAccumulator()
	section := buildMPESection([]byte{1, 2, 3, 4})
	section[0] = 0x3F // not MPE
	payload := append([]byte{0x00}, section...)
	pkt := tsframe.Packet{PID: 100, PayloadUnitStartIndicator: true, HasPayload: true, Payload: payload}

	if secs := a.Feed(pkt); len(secs) != 0 {
		t.Errorf("expected non-MPE table_id to be silently ignored, got %d sections", len(secs))
	}
}
