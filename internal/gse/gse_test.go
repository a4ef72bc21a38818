package gse

import "testing"

func buildIPv4(payloadLen int) []byte {
	ip := make([]byte, 20+payloadLen)
	ip[0] = 0x45
	total := len(ip)
	ip[2] = byte(total >> 8)
	ip[3] = byte(total)
	for i := 0; i < payloadLen; i++ {
		ip[20+i] = byte(i)
	}
	return ip
}

func buildCompletePacket(ip []byte) []byte {
	payload := append([]byte{0x08, 0x00}, ip...)
	gseLen := len(payload)
	header := byte(0xC0) | byte(gseLen>>8)&0x0F
	pkt := append([]byte{header, byte(gseLen)}, payload...)
	return pkt
}

func TestFeedSyncedCompletePacket(t *testing.T) {
	ip := buildIPv4(10)
	pkt := buildCompletePacket(ip)

	d := NewDepacketiser()
	out := d.FeedSynced(pkt)
	if len(out) != 1 {
		t.Fatalf("FeedSynced: got %d datagrams, want 1", len(out))
	}
	if string(out[0].IPv4) != string(ip) {
		t.Errorf("FeedSynced: got % x, want % x", out[0].IPv4, ip)
	}
	if d.PacketCount != 1 {
		t.Errorf("PacketCount: got %d, want 1", d.PacketCount)
	}
}

func TestFeedSyncedStopsAtPadding(t *testing.T) {
	ip := buildIPv4(4)
	pkt := buildCompletePacket(ip)
	padded := append(append([]byte{}, pkt...), 0x00, 0x00, 0xFF, 0xFF)

	d := NewDepacketiser()
	out := d.FeedSynced(padded)
	if len(out) != 1 {
		t.Fatalf("FeedSynced: got %d datagrams, want 1", len(out))
	}
}

func TestFragmentedReassembly(t *testing.T) {
	ip := buildIPv4(50)
	full := append([]byte{0x08, 0x00}, ip...) // protocol + IPv4, no label
	totalLen := len(full)

	// First fragment: FragID(1) + TotalLength(2) + up to half the payload.
	fragID := byte(7)
	split := 20
	first := append([]byte{0x08, 0x00}, full[:0]...) // placeholder, unused
	_ = first
	firstPayload := append([]byte{fragID, byte(totalLen >> 8), byte(totalLen)}, full[:split]...)
	firstLen := len(firstPayload)
	firstHeader := byte(0x80) | byte(firstLen>>8)&0x0F
	firstPkt := append([]byte{firstHeader, byte(firstLen)}, firstPayload...)

	rest := full[split:]
	lastPayload := append([]byte{fragID}, rest...)
	lastPayload = append(lastPayload, 0, 0, 0, 0) // fake CRC32 trailer
	lastLen := len(lastPayload)
	lastHeader := byte(0x40) | byte(lastLen>>8)&0x0F
	lastPkt := append([]byte{lastHeader, byte(lastLen)}, lastPayload...)

	d := NewDepacketiser()
	if out := d.FeedSynced(firstPkt); len(out) != 0 {
		t.Fatalf("first fragment should not complete a datagram, got %d", len(out))
	}
	out := d.FeedSynced(lastPkt)
	if len(out) != 1 {
		t.Fatalf("FeedSynced: got %d datagrams after last fragment, want 1", len(out))
	}
	if string(out[0].IPv4) != string(ip) {
		t.Errorf("reassembled IPv4 mismatch: got % x, want % x", out[0].IPv4, ip)
	}
}

func TestFeedTSPayloadResyncsBeforeEmitting(t *testing.T) {
	ip := buildIPv4(10)
	pkt := buildCompletePacket(ip)
	garbage := []byte{0x01, 0x02, 0x03, 0x04, 0x05}

	d := NewDepacketiser()
	if out := d.FeedTSPayload(garbage); len(out) != 0 {
		t.Fatalf("garbage prefix should not sync, got %d datagrams", len(out))
	}
	out := d.FeedTSPayload(pkt)
	if len(out) != 1 {
		t.Fatalf("FeedTSPayload after sync: got %d datagrams, want 1", len(out))
	}
}

func TestProcessPacketRejectsPadding(t *testing.T) {
	d := NewDepacketiser()
	out := d.FeedSynced([]byte{0x00, 0x00, 0xAA})
	if len(out) != 0 {
		t.Errorf("padding header should produce no datagrams, got %d", len(out))
	}
}
