package ensemble

import (
	"testing"
)

const (
	tagStarPtr = 0x2A707472
	tagDeti    = 0x64657469
)

func buildPFPacket(pseq uint16, findex, fcount uint32, payload []byte) []byte {
	plen := len(payload)
	pkt := make([]byte, 14+plen)
	pkt[0], pkt[1] = 'P', 'F'
	pkt[2] = byte(pseq >> 8)
	pkt[3] = byte(pseq)
	pkt[4] = byte(findex >> 16)
	pkt[5] = byte(findex >> 8)
	pkt[6] = byte(findex)
	pkt[7] = byte(fcount >> 16)
	pkt[8] = byte(fcount >> 8)
	pkt[9] = byte(fcount)
	pkt[10] = byte(plen >> 8 & 0x3F)
	pkt[11] = byte(plen)
	copy(pkt[14:], payload)
	return pkt
}

func buildTagRecord(tagID uint32, value []byte) []byte {
	tagLenBits := uint32(len(value)) * 8
	out := make([]byte, 8+len(value))
	out[0] = byte(tagID >> 24)
	out[1] = byte(tagID >> 16)
	out[2] = byte(tagID >> 8)
	out[3] = byte(tagID)
	out[4] = byte(tagLenBits >> 24)
	out[5] = byte(tagLenBits >> 16)
	out[6] = byte(tagLenBits >> 8)
	out[7] = byte(tagLenBits)
	copy(out[8:], value)
	return out
}

func buildDetiValue(mid uint8, ficLen int) []byte {
	detiHeader := uint16(0x4000)
	etiHeader := uint32(mid&0x03) << 22

	value := make([]byte, 6+ficLen)
	value[0] = byte(detiHeader >> 8)
	value[1] = byte(detiHeader)
	value[2] = byte(etiHeader >> 24)
	value[3] = byte(etiHeader >> 16)
	value[4] = byte(etiHeader >> 8)
	value[5] = byte(etiHeader)
	for i := 0; i < ficLen; i++ {
		value[6+i] = 0xFF // empty FIB, fails CRC but decodes harmlessly
	}
	return value
}

func buildAFPacket(tags []byte) []byte {
	taglength := uint32(len(tags))
	af := make([]byte, 10+len(tags))
	af[0], af[1] = 'A', 'F'
	af[2] = byte(taglength >> 24)
	af[3] = byte(taglength >> 16)
	af[4] = byte(taglength >> 8)
	af[5] = byte(taglength)
	af[9] = 'T'
	copy(af[10:], tags)
	return af
}

func buildETIPayload(mid uint8, ficLen int) []byte {
	starPtr := buildTagRecord(tagStarPtr, []byte{'D', 'E', 'T', 'I', 0, 0, 0, 0})
	deti := buildTagRecord(tagDeti, buildDetiValue(mid, ficLen))
	tags := append(append([]byte{}, starPtr...), deti...)
	return buildAFPacket(tags)
}

func TestProcessUDPFiresETIFrameCallback(t *testing.T) {
	af := buildETIPayload(1, 96)
	pf := buildPFPacket(1, 0, 1, af)

	var gotETI int
	m := NewManager(Callbacks{
		ETIFrame: func(key StreamKey, frame []byte) { gotETI++ },
	})

	m.ProcessUDP(0x0A000001, 12000, pf)
	if gotETI != 1 {
		t.Fatalf("ETIFrame callback count: got %d, want 1", gotETI)
	}
	if m.StreamCount() != 1 {
		t.Errorf("StreamCount: got %d, want 1", m.StreamCount())
	}
}

func TestProcessIPPacketRoutesToSameStream(t *testing.T) {
	af := buildETIPayload(1, 96)
	pf := buildPFPacket(2, 0, 1, af)

	ipPacket := buildIPv4UDP(0x0A000002, 12001, pf)

	var gotETI int
	m := NewManager(Callbacks{
		ETIFrame: func(key StreamKey, frame []byte) {
			gotETI++
			if key.IP != 0x0A000002 || key.Port != 12001 {
				t.Errorf("key: got %+v", key)
			}
		},
	})

	m.ProcessIPPacket(ipPacket)
	if gotETI != 1 {
		t.Fatalf("ETIFrame callback count: got %d, want 1", gotETI)
	}
}

func TestProcessETIFrameDispatchesByPID(t *testing.T) {
	frame := make([]byte, 108)
	frame[0], frame[1], frame[2], frame[3] = 0xFF, 0xF8, 0xC5, 0x49

	m := NewManager(Callbacks{})
	m.ProcessETIFrame(100, frame)
	m.ProcessETIFrame(200, frame)

	if m.StreamCount() != 2 {
		t.Errorf("StreamCount: got %d, want 2", m.StreamCount())
	}
	if _, ok := m.EtinaEnsembles()[100]; !ok {
		t.Error("expected PID 100 to have an ensemble entry")
	}
}

// buildIPv4UDP constructs a minimal IPv4 + UDP packet carrying payload,
// addressed to dstIP:dstPort.
func buildIPv4UDP(dstIP uint32, dstPort uint16, payload []byte) []byte {
	udpLen := 8 + len(payload)
	totalLen := 20 + udpLen
	pkt := make([]byte, totalLen)
	pkt[0] = 0x45
	pkt[2] = byte(totalLen >> 8)
	pkt[3] = byte(totalLen)
	pkt[8] = 64
	pkt[9] = 17 // UDP
	pkt[16] = byte(dstIP >> 24)
	pkt[17] = byte(dstIP >> 16)
	pkt[18] = byte(dstIP >> 8)
	pkt[19] = byte(dstIP)

	udp := pkt[20:]
	udp[2] = byte(dstPort >> 8)
	udp[3] = byte(dstPort)
	udp[4] = byte(udpLen >> 8)
	udp[5] = byte(udpLen)
	copy(udp[8:], payload)
	return pkt
}
