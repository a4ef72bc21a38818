// Package udpx extracts UDP datagrams from IPv4 packets using gopacket's
// layer decoders, applying extra bounds checks before trusting the
// declared UDP length.
package udpx

import (
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

const minIPv4UDPLen = 28 // 20-byte IPv4 header (no options) + 8-byte UDP header

// Datagram is a decoded UDP payload with its destination addressing,
// used by callers that demultiplex by destination port.
type Datagram struct {
	DstIP   string
	DstPort uint16
	Payload []byte
}

// Extract verifies an IPv4 datagram carries UDP (protocol 17) and
// returns its destination IP, destination port, and payload bytes. It
// rejects datagrams shorter than the minimum IPv4+UDP header size and
// UDP lengths that are internally inconsistent with the remaining data,
// per spec.md §4.5, on top of gopacket's own layer decoding.
func Extract(ipv4 []byte) (Datagram, error) {
	if len(ipv4) < minIPv4UDPLen {
		return Datagram{}, fmt.Errorf("udpx: datagram too short: %d bytes", len(ipv4))
	}
	if ipv4[0]>>4 != 4 {
		return Datagram{}, fmt.Errorf("udpx: not IPv4 (version=%d)", ipv4[0]>>4)
	}
	if ipv4[9] != 17 {
		return Datagram{}, fmt.Errorf("udpx: not UDP (protocol=%d)", ipv4[9])
	}

	packet := gopacket.NewPacket(ipv4, layers.LayerTypeIPv4, gopacket.NoCopy)
	ipLayer := packet.Layer(layers.LayerTypeIPv4)
	if ipLayer == nil {
		return Datagram{}, fmt.Errorf("udpx: gopacket failed to decode IPv4 layer")
	}
	ip, _ := ipLayer.(*layers.IPv4)

	udpLayer := packet.Layer(layers.LayerTypeUDP)
	if udpLayer == nil {
		return Datagram{}, fmt.Errorf("udpx: gopacket failed to decode UDP layer")
	}
	udp, _ := udpLayer.(*layers.UDP)

	udpLen := int(udp.Length)
	ihl := int(ipv4[0]&0x0F) * 4
	remaining := len(ipv4) - ihl
	if udpLen < 8 {
		return Datagram{}, fmt.Errorf("udpx: udp_len %d below minimum header size", udpLen)
	}
	if udpLen > remaining {
		return Datagram{}, fmt.Errorf("udpx: udp_len %d exceeds remaining %d bytes", udpLen, remaining)
	}

	payloadLen := udpLen - 8
	payload := udp.Payload
	if payloadLen < len(payload) {
		payload = payload[:payloadLen]
	}

	return Datagram{
		DstIP:   ip.DstIP.String(),
		DstPort: uint16(udp.DstPort),
		Payload: append([]byte{}, payload...),
	}, nil
}
