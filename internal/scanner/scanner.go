// Package scanner auto-detects DAB ensembles carried in a raw MPEG-2
// transport stream, classifying each PID as it sees traffic and
// routing MPE sections and ETI-NA payloads to the ensemble manager.
package scanner

import (
	"net"
	"time"

	"github.com/L-S-D/libdvbdab/internal/ensemble"
	"github.com/L-S-D/libdvbdab/internal/etina"
	"github.com/L-S-D/libdvbdab/internal/fic"
	"github.com/L-S-D/libdvbdab/internal/mpe"
	"github.com/L-S-D/libdvbdab/internal/tsframe"
	"github.com/L-S-D/libdvbdab/internal/udpx"
)

const (
	etinaPacketThreshold    = 100   // packets with no PUSI before declaring an ETI-NA candidate
	earlyExitMs             = 1000  // give up early if nothing DAB-shaped has appeared
	etinaFailureBufferBytes = 16384 // undecoded bytes before abandoning an ETI-NA candidate
)

// DiscoveredService is one service within a DiscoveredEnsemble.
type DiscoveredService struct {
	SID          uint32
	Label        string
	BitrateKbps  int
	SubchannelID int
	DABPlus      bool
}

// EtinaInfo reports the bit-alignment parameters an ETI-NA stream
// settled on, useful for diagnosing a marginal signal.
type EtinaInfo struct {
	PaddingBytes  int
	SyncBitOffset int
	Inverted      bool
}

// DiscoveredEnsemble is one ensemble found on the stream, either
// UDP-keyed (EDI over IP, identified by multicast IP/port) or
// ETI-NA-keyed (identified by source PID, IP/Port zero).
type DiscoveredEnsemble struct {
	IP        uint32
	Port      uint16
	PID       uint16
	EID       uint16
	Label     string
	Services  []DiscoveredService
	IsEtina   bool
	EtinaInfo EtinaInfo
	Stats     tsframe.Stats
}

func toDiscovered(key ensemble.StreamKey, pid uint16, ens fic.Ensemble) DiscoveredEnsemble {
	de := DiscoveredEnsemble{IP: key.IP, Port: key.Port, PID: pid, EID: ens.EID, Label: ens.Label}
	for _, svc := range ens.Services {
		de.Services = append(de.Services, DiscoveredService{
			SID:          svc.SID,
			Label:        svc.Label,
			BitrateKbps:  svc.Bitrate,
			SubchannelID: svc.SubchannelID,
			DABPlus:      svc.DABPlus,
		})
	}
	return de
}

func toDiscoveredEtina(pid uint16, ens fic.Ensemble, info EtinaInfo) DiscoveredEnsemble {
	de := toDiscovered(ensemble.StreamKey{}, pid, ens)
	de.IsEtina = true
	de.EtinaInfo = info
	return de
}

// pidState tracks per-PID classification and, once classified,
// whatever decode state that classification needs.
type pidState struct {
	active  bool
	checked bool
	isMPE   bool
	mpeAcc  *mpe.Accumulator

	packetCount  int
	pusiCount    int
	etinaChecked bool
	candidate    bool
	streaming    bool
	reported     bool
	pipeline     *etina.Pipeline
}

// Scanner drives a tsframe.Reader over incoming bytes, classifies each
// PID, and feeds discovered MPE/ETI-NA traffic to an ensemble.Manager,
// accumulating DiscoveredEnsemble results until a termination
// condition fires.
type Scanner struct {
	reader  *tsframe.Reader
	pids    map[uint16]*pidState
	mpePIDs []uint16

	etinaResults       []EtinaInfo
	etinaStreamingPIDs []uint16
	etinaEnsembles     map[uint16]DiscoveredEnsemble

	streamPIDMap map[ensemble.StreamKey]uint16
	currentPID   uint16

	mgr        *ensemble.Manager
	resultsMap map[ensemble.StreamKey]DiscoveredEnsemble

	totalPackets int
	timeoutMs    uint
	startTime    time.Time
	started      bool
	done         bool
}

// New creates a Scanner with the default 500ms timeout; call
// SetTimeout to override it before the first Feed.
func New() *Scanner {
	s := &Scanner{
		reader:         tsframe.NewReader(),
		pids:           make(map[uint16]*pidState),
		etinaEnsembles: make(map[uint16]DiscoveredEnsemble),
		streamPIDMap:   make(map[ensemble.StreamKey]uint16),
		resultsMap:     make(map[ensemble.StreamKey]DiscoveredEnsemble),
		timeoutMs:      500,
	}
	s.mgr = ensemble.NewManager(ensemble.Callbacks{
		BasicReady: func(key ensemble.StreamKey, ens fic.Ensemble) {
			de := toDiscovered(key, s.streamPIDMap[key], ens)
			de.Stats = s.reader.Stats
			s.resultsMap[key] = de
		},
		Complete: func(key ensemble.StreamKey, ens fic.Ensemble) {
			de := toDiscovered(key, s.streamPIDMap[key], ens)
			de.Stats = s.reader.Stats
			s.resultsMap[key] = de
		},
	})
	return s
}

// SetTimeout overrides the overall scan timeout in milliseconds.
func (s *Scanner) SetTimeout(timeoutMs uint) {
	s.timeoutMs = timeoutMs
}

// Stats returns the transport-stream-level discontinuity/sync-loss/drop
// counters accumulated across the whole scan, per spec.md §7's
// recoverable-local error class.
func (s *Scanner) Stats() tsframe.Stats {
	return s.reader.Stats
}

func (s *Scanner) pidState(pid uint16) *pidState {
	st, ok := s.pids[pid]
	if !ok {
		st = &pidState{}
		s.pids[pid] = st
	}
	return st
}

// onUDP is the ensemble manager's entry point for IP datagrams
// recovered from MPE sections; only multicast destinations (per
// spec.md's IPv4/UDP wire format note) are considered ensemble
// traffic.
func (s *Scanner) onUDP(ip uint32, port uint16, payload []byte) {
	firstOctet := byte(ip >> 24)
	if firstOctet < 224 || firstOctet > 239 {
		return
	}
	key := ensemble.StreamKey{IP: ip, Port: port}
	if _, ok := s.streamPIDMap[key]; !ok {
		s.streamPIDMap[key] = s.currentPID
	}
	s.mgr.ProcessUDP(ip, port, payload)
}

func (s *Scanner) onIPPacket(pid uint16, ipData []byte) {
	s.currentPID = pid
	dgram, err := udpx.Extract(ipData)
	if err != nil {
		return
	}
	ip := net.ParseIP(dgram.DstIP)
	if ip == nil {
		return
	}
	v4 := ip.To4()
	if v4 == nil {
		return
	}
	dstIP := uint32(v4[0])<<24 | uint32(v4[1])<<16 | uint32(v4[2])<<8 | uint32(v4[3])
	s.onUDP(dstIP, dgram.DstPort, dgram.Payload)
}

func (s *Scanner) processPacket(pkt tsframe.Packet) {
	s.totalPackets++
	if !pkt.HasPayload || len(pkt.Payload) == 0 {
		return
	}

	st := s.pidState(pkt.PID)
	st.active = true

	payload := pkt.Payload

	if !st.checked && pkt.PayloadUnitStartIndicator && len(payload) > 1 {
		st.checked = true
		pointer := payload[0]
		if int(pointer) < len(payload)-1 {
			tableID := payload[1+int(pointer)]
			if tableID == 0x3E {
				st.isMPE = true
				s.mpePIDs = append(s.mpePIDs, pkt.PID)
				st.mpeAcc = mpe.NewAccumulator()
			}
		}
	}

	if st.isMPE && st.mpeAcc != nil {
		pid := pkt.PID
		for _, sec := range st.mpeAcc.Feed(pkt) {
			if ip, err := mpe.ExtractIPv4(sec); err == nil {
				s.onIPPacket(pid, ip)
			}
		}
	}

	st.packetCount++
	if pkt.PayloadUnitStartIndicator {
		st.pusiCount++
	}

	if !st.etinaChecked && !st.isMPE && st.packetCount >= etinaPacketThreshold {
		if st.pusiCount == 0 {
			st.candidate = true
			st.pipeline = etina.NewPipeline()
		}
		st.etinaChecked = true
	}

	if (st.candidate || st.streaming) && st.pipeline != nil {
		s.feedEtina(pkt.PID, st, payload)
	}
}

func (s *Scanner) feedEtina(pid uint16, st *pidState, payload []byte) {
	frames := st.pipeline.Feed(payload)
	for _, frame := range frames {
		if !st.streaming {
			st.streaming = true
			st.candidate = false
			s.etinaStreamingPIDs = append(s.etinaStreamingPIDs, pid)
		}
		if !st.reported {
			st.reported = true
			info := st.pipeline.Info()
			s.etinaResults = append(s.etinaResults, EtinaInfo{
				PaddingBytes:  info.PaddingBytes,
				SyncBitOffset: info.BitOffset,
				Inverted:      info.Inverted,
			})
		}

		s.mgr.ProcessETIFrame(pid, frame[:])

		if s.mgr.IsComplete(ensemble.StreamKey{IP: uint32(pid), Port: 0}) {
			ens := s.mgr.EtinaEnsembles()[pid]
			de := toDiscoveredEtina(pid, ens, EtinaInfo{
				PaddingBytes:  st.pipeline.Info().PaddingBytes,
				SyncBitOffset: st.pipeline.Info().BitOffset,
				Inverted:      st.pipeline.Info().Inverted,
			})
			de.Stats = s.reader.Stats
			s.etinaEnsembles[pid] = de
		}
	}

	if st.candidate && !st.streaming && st.pipeline.BufferedBytes() > etinaFailureBufferBytes {
		st.candidate = false
		st.pipeline = nil
	}
}

// Feed consumes raw transport stream bytes, advancing every classified
// PID's decode state. It returns true once a termination condition has
// fired (timeout, all-complete, or early-exit); once true, further
// Feed calls are no-ops.
func (s *Scanner) Feed(data []byte) bool {
	if s.done {
		return true
	}
	if !s.started {
		s.started = true
		s.startTime = time.Now()
	}

	for _, pkt := range s.reader.Feed(data) {
		s.processPacket(pkt)
	}

	elapsed := time.Since(s.startTime)
	elapsedMs := uint(elapsed / time.Millisecond)

	if elapsedMs >= s.timeoutMs {
		s.done = true
		return true
	}

	mpeBasicCount := len(s.resultsMap)
	mpeCompleteCount := 0
	for key := range s.resultsMap {
		if s.mgr.IsComplete(key) {
			mpeCompleteCount++
		}
	}
	mpeComplete := mpeBasicCount == 0 || mpeCompleteCount >= mpeBasicCount

	etinaStreamingCount := len(s.etinaStreamingPIDs)
	etinaCompleteCount := len(s.etinaEnsembles)
	etinaComplete := etinaStreamingCount == 0 || etinaCompleteCount >= etinaStreamingCount

	hasContent := mpeBasicCount > 0 || etinaStreamingCount > 0
	if hasContent && mpeComplete && etinaComplete {
		s.done = true
		return true
	}

	if elapsedMs >= earlyExitMs && len(s.mpePIDs) == 0 && etinaStreamingCount == 0 && mpeBasicCount == 0 {
		s.done = true
		return true
	}

	return false
}

// Results combines UDP-keyed and ETI-NA-keyed ensembles discovered so
// far into one list.
func (s *Scanner) Results() []DiscoveredEnsemble {
	results := make([]DiscoveredEnsemble, 0, len(s.resultsMap)+len(s.etinaEnsembles))
	for _, de := range s.resultsMap {
		results = append(results, de)
	}
	for _, de := range s.etinaEnsembles {
		results = append(results, de)
	}
	return results
}

// IsDone reports whether a termination condition has fired.
func (s *Scanner) IsDone() bool {
	return s.done
}

// HadTraffic reports whether any valid transport stream packet was
// ever seen.
func (s *Scanner) HadTraffic() bool {
	return s.totalPackets > 0
}

// MpePIDs returns the PIDs confirmed to carry MPE sections.
func (s *Scanner) MpePIDs() []uint16 {
	return s.mpePIDs
}

// EtinaResults returns the bit-alignment parameters recorded for each
// PID that locked onto ETI-NA framing.
func (s *Scanner) EtinaResults() []EtinaInfo {
	return s.etinaResults
}
