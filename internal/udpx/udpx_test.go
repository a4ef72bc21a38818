package udpx

import "testing"

// buildIPv4UDP constructs a minimal IPv4 packet (no options) carrying a
// UDP datagram with the given payload, destination IP 10.0.0.5 and
// destination port 5001.
func buildIPv4UDP(payload []byte) []byte {
	udpLen := 8 + len(payload)
	totalLen := 20 + udpLen

	pkt := make([]byte, totalLen)
	pkt[0] = 0x45 // version 4, IHL 5
	pkt[2] = byte(totalLen >> 8)
	pkt[3] = byte(totalLen)
	pkt[8] = 64 // TTL
	pkt[9] = 17 // UDP
	// src IP 10.0.0.1
	pkt[12], pkt[13], pkt[14], pkt[15] = 10, 0, 0, 1
	// dst IP 10.0.0.5
	pkt[16], pkt[17], pkt[18], pkt[19] = 10, 0, 0, 5

	udp := pkt[20:]
	srcPort := uint16(6000)
	dstPort := uint16(5001)
	udp[0] = byte(srcPort >> 8)
	udp[1] = byte(srcPort)
	udp[2] = byte(dstPort >> 8)
	udp[3] = byte(dstPort)
	udp[4] = byte(udpLen >> 8)
	udp[5] = byte(udpLen)
	copy(udp[8:], payload)

	return pkt
}

func TestExtractValid(t *testing.T) {
	payload := []byte("dab-over-ip-test")
	pkt := buildIPv4UDP(payload)

	dgram, err := Extract(pkt)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if dgram.DstIP != "10.0.0.5" {
		t.Errorf("DstIP: got %q, want %q", dgram.DstIP, "10.0.0.5")
	}
	if dgram.DstPort != 5001 {
		t.Errorf("DstPort: got %d, want 5001", dgram.DstPort)
	}
	if string(dgram.Payload) != string(payload) {
		t.Errorf("Payload: got %q, want %q", dgram.Payload, payload)
	}
}

func TestExtractRejectsTooShort(t *testing.T) {
	if _, err := Extract(make([]byte, 27)); err == nil {
		t.Error("expected error for datagram shorter than 28 bytes")
	}
}

func TestExtractRejectsNonUDP(t *testing.T) {
	pkt := buildIPv4UDP([]byte("x"))
	pkt[9] = 6 // TCP
	if _, err := Extract(pkt); err == nil {
		t.Error("expected error for non-UDP protocol")
	}
}

func TestExtractRejectsBadUDPLength(t *testing.T) {
	pkt := buildIPv4UDP([]byte("hello"))
	udp := pkt[20:]
	udp[4] = 0
	udp[5] = 3 // udp_len < 8
	if _, err := Extract(pkt); err == nil {
		t.Error("expected error for udp_len below minimum")
	}
}

func TestExtractRejectsOversizedUDPLength(t *testing.T) {
	pkt := buildIPv4UDP([]byte("hello"))
	udp := pkt[20:]
	udp[4] = 0xFF
	udp[5] = 0xFF // udp_len far larger than remaining
	if _, err := Extract(pkt); err == nil {
		t.Error("expected error for udp_len exceeding remaining bytes")
	}
}
