// Package ensemble routes UDP-delivered EDI and PID-delivered ETI-NA
// frames to per-stream FIC parsers, and fires callbacks on the
// basic-ready, complete, ETI-frame, and sub-channel-change transitions
// each stream produces.
package ensemble

import (
	"net"

	"github.com/L-S-D/libdvbdab/internal/edi"
	"github.com/L-S-D/libdvbdab/internal/fic"
	"github.com/L-S-D/libdvbdab/internal/udpx"
)

// StreamKey identifies one ensemble source: a UDP destination (IP/port)
// for EDI-delivered streams, or a PID (with Port zero) for ETI-NA
// streams carried directly in TS packets.
type StreamKey struct {
	IP   uint32
	Port uint16
}

// Callbacks bundles the four notification points a Manager fires.
// Every field is optional; a nil callback is simply not invoked. All
// are called synchronously from within the Manager's Process* methods.
type Callbacks struct {
	BasicReady       func(key StreamKey, ens fic.Ensemble)
	Complete         func(key StreamKey, ens fic.Ensemble)
	ETIFrame         func(key StreamKey, frame []byte)
	SubchannelChange func(key StreamKey, changes []fic.SubchannelChange)
}

// ediStream owns the EDI decode chain (PF reassembly, AF decode, FIC
// parsing) for one UDP-keyed stream.
type ediStream struct {
	pf              *edi.PFReassembler
	af              *edi.Decoder
	fic             *fic.Parser
	ready, complete bool
}

func newEdiStream() *ediStream {
	return &ediStream{pf: edi.NewPFReassembler(), af: edi.NewDecoder(), fic: fic.NewParser()}
}

// etinaStream owns the FIC parser for one PID-keyed ETI-NA stream.
type etinaStream struct {
	fic             *fic.Parser
	ready, complete bool
}

// Manager owns one FIC parser per discovered stream, dispatching
// decoded bytes by stream key and tracking basic-ready/complete
// transitions so each callback fires at most once per stream.
type Manager struct {
	streams      map[StreamKey]*ediStream
	etinaStreams map[uint16]*etinaStream

	cb Callbacks
}

// NewManager creates an empty Manager. The notification handlers are
// given here and stay fixed for the Manager's lifetime.
func NewManager(cb Callbacks) *Manager {
	return &Manager{
		streams:      make(map[StreamKey]*ediStream),
		etinaStreams: make(map[uint16]*etinaStream),
		cb:           cb,
	}
}

// Reset discards all per-stream state.
func (m *Manager) Reset() {
	m.streams = make(map[StreamKey]*ediStream)
	m.etinaStreams = make(map[uint16]*etinaStream)
}

func (m *Manager) getStream(key StreamKey) *ediStream {
	s, ok := m.streams[key]
	if !ok {
		s = newEdiStream()
		m.streams[key] = s
	}
	return s
}

// ProcessUDP feeds one UDP payload (a PF or AF packet) for the stream
// identified by dstIP/dstPort, firing any callbacks the resulting
// state transition triggers.
func (m *Manager) ProcessUDP(dstIP uint32, dstPort uint16, payload []byte) {
	key := StreamKey{IP: dstIP, Port: dstPort}
	s := m.getStream(key)

	af, ok := s.pf.Feed(payload)
	if !ok {
		return
	}
	frame, _, err := s.af.DecodeAF(af)
	if err != nil {
		return
	}

	changes := s.fic.ProcessETIFrame(frame[:])

	if m.cb.ETIFrame != nil {
		m.cb.ETIFrame(key, frame[:])
	}

	if s.fic.IsBasicReady() && !s.ready {
		s.ready = true
		if m.cb.BasicReady != nil {
			m.cb.BasicReady(key, s.fic.GetEnsemble())
		}
	}

	if s.fic.IsComplete() && !s.complete {
		s.complete = true
		if m.cb.Complete != nil {
			m.cb.Complete(key, s.fic.GetEnsemble())
		}
	}

	if s.complete && len(changes) > 0 && m.cb.SubchannelChange != nil {
		m.cb.SubchannelChange(key, changes)
	}
}

// ProcessIPPacket extracts the UDP payload from a raw IPv4 datagram and
// delegates to ProcessUDP. Malformed or non-UDP datagrams are dropped.
func (m *Manager) ProcessIPPacket(ipBytes []byte) {
	dgram, err := udpx.Extract(ipBytes)
	if err != nil {
		return
	}
	ip, port, ok := parseDstIP(dgram)
	if !ok {
		return
	}
	m.ProcessUDP(ip, port, dgram.Payload)
}

// parseDstIP recovers the numeric destination IP and port from a
// udpx.Datagram, since Manager keys streams by the raw 32-bit address
// rather than its dotted-quad string form.
func parseDstIP(dgram udpx.Datagram) (uint32, uint16, bool) {
	ip := net.ParseIP(dgram.DstIP)
	if ip == nil {
		return 0, 0, false
	}
	v4 := ip.To4()
	if v4 == nil {
		return 0, 0, false
	}
	return uint32(v4[0])<<24 | uint32(v4[1])<<16 | uint32(v4[2])<<8 | uint32(v4[3]), dgram.DstPort, true
}

// ProcessETIFrame feeds a pre-assembled ETI-NI frame from an ETI-NA
// source directly to the PID-keyed FIC parser, firing basic-ready
// before the ETI-frame callback so a downstream muxer exists before
// the first audio bytes for that frame arrive.
func (m *Manager) ProcessETIFrame(pid uint16, frame []byte) {
	key := StreamKey{IP: uint32(pid), Port: 0}

	s, ok := m.etinaStreams[pid]
	if !ok {
		s = &etinaStream{fic: fic.NewParser()}
		m.etinaStreams[pid] = s
	}

	changes := s.fic.ProcessETIFrame(frame)

	if s.fic.IsBasicReady() && !s.ready {
		s.ready = true
		if m.cb.BasicReady != nil {
			m.cb.BasicReady(key, s.fic.GetEnsemble())
		}
	}

	if m.cb.ETIFrame != nil {
		m.cb.ETIFrame(key, frame)
	}

	if s.fic.IsComplete() && !s.complete {
		s.complete = true
		if m.cb.Complete != nil {
			m.cb.Complete(key, s.fic.GetEnsemble())
		}
	}

	if s.complete && len(changes) > 0 && m.cb.SubchannelChange != nil {
		m.cb.SubchannelChange(key, changes)
	}
}

// IsComplete reports whether the given stream has reached completion.
func (m *Manager) IsComplete(key StreamKey) bool {
	if key.Port == 0 {
		if s, ok := m.etinaStreams[uint16(key.IP)]; ok {
			return s.complete
		}
		return false
	}
	if s, ok := m.streams[key]; ok {
		return s.complete
	}
	return false
}

// AllComplete reports whether every stream the Manager has seen (UDP
// and ETI-NA) has reached completion. A Manager that has seen no
// streams is not considered complete.
func (m *Manager) AllComplete() bool {
	if len(m.streams) == 0 && len(m.etinaStreams) == 0 {
		return false
	}
	for _, s := range m.streams {
		if !s.complete {
			return false
		}
	}
	for _, s := range m.etinaStreams {
		if !s.complete {
			return false
		}
	}
	return true
}

// StreamCount returns the number of distinct streams seen so far,
// combining UDP-keyed and PID-keyed streams.
func (m *Manager) StreamCount() int {
	return len(m.streams) + len(m.etinaStreams)
}

// Ensembles returns the current ensemble snapshot for every UDP-keyed
// stream, complete or not.
func (m *Manager) Ensembles() map[StreamKey]fic.Ensemble {
	out := make(map[StreamKey]fic.Ensemble, len(m.streams))
	for key, s := range m.streams {
		out[key] = s.fic.GetEnsemble()
	}
	return out
}

// EtinaEnsembles returns the current ensemble snapshot for every
// PID-keyed ETI-NA stream, complete or not.
func (m *Manager) EtinaEnsembles() map[uint16]fic.Ensemble {
	out := make(map[uint16]fic.Ensemble, len(m.etinaStreams))
	for pid, s := range m.etinaStreams {
		out[pid] = s.fic.GetEnsemble()
	}
	return out
}
