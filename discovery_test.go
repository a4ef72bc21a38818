package dab

import (
	"os"
	"testing"
)

func buildIPv4UDPPacket(dstIP [4]byte, dstPort uint16, payload []byte) []byte {
	udpLen := 8 + len(payload)
	totalLen := 20 + udpLen
	pkt := make([]byte, totalLen)
	pkt[0] = 0x45
	pkt[2] = byte(totalLen >> 8)
	pkt[3] = byte(totalLen)
	pkt[8] = 64
	pkt[9] = 17
	copy(pkt[16:20], dstIP[:])

	udp := pkt[20:]
	udp[2] = byte(dstPort >> 8)
	udp[3] = byte(dstPort)
	udp[4] = byte(udpLen >> 8)
	udp[5] = byte(udpLen)
	copy(udp[8:], payload)
	return pkt
}

func TestEnsembleDiscoveryFailsFastWithoutTraffic(t *testing.T) {
	d := NewEnsembleDiscovery(0, 1000)
	pkt := buildIPv4UDPPacket([4]byte{10, 0, 0, 5}, 12000, []byte("not-multicast"))

	if status := d.FeedIPPacket(pkt); status != Failed {
		t.Fatalf("FeedIPPacket: got %v, want Failed", status)
	}
	if !d.IsDone() {
		t.Error("expected IsDone after early-exit failure")
	}
}

func TestEnsembleDiscoveryContinuesWithMulticastTraffic(t *testing.T) {
	d := NewEnsembleDiscovery(1000, 2000)
	pkt := buildIPv4UDPPacket([4]byte{239, 1, 1, 1}, 12000, []byte("not-a-real-pf-packet"))

	if status := d.FeedIPPacket(pkt); status != Continue {
		t.Fatalf("FeedIPPacket: got %v, want Continue", status)
	}
	if d.IsDone() {
		t.Error("should not be done yet")
	}
	if d.HasEnsembles() {
		t.Error("a single malformed EDI payload should not produce an ensemble")
	}
}

func TestDiscoverEnsemblesReadsFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/stream.ts"

	pkt := make([]byte, 188)
	pkt[0] = 0x47
	pkt[3] = 0x10 // payload only, PID 0

	if err := os.WriteFile(path, append(pkt, pkt...), 0o644); err != nil {
		t.Fatalf("os.WriteFile: %v", err)
	}

	results, err := DiscoverEnsembles(path, FormatMPE, 0, 200)
	if err != nil {
		t.Fatalf("DiscoverEnsembles: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no ensembles from plain TS packets, got %d", len(results))
	}
}
