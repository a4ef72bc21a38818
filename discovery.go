package dab

import (
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/L-S-D/libdvbdab/internal/bbf"
	"github.com/L-S-D/libdvbdab/internal/ensemble"
	"github.com/L-S-D/libdvbdab/internal/fic"
	"github.com/L-S-D/libdvbdab/internal/gse"
	"github.com/L-S-D/libdvbdab/internal/mpe"
	"github.com/L-S-D/libdvbdab/internal/tsframe"
	"github.com/L-S-D/libdvbdab/internal/udpx"
)

// Format selects which IP-over-DVB adapter a single-PID discovery run
// uses to recover IPv4 datagrams before EDI decode.
type Format int

const (
	FormatMPE Format = iota
	FormatBBF
	FormatGSE
)

// DiscoveryStatus is the result of one EnsembleDiscovery.FeedIPPacket
// call.
type DiscoveryStatus int

const (
	Continue DiscoveryStatus = iota
	Done
	Failed
)

// EnsembleDiscovery accumulates ensembles from a sequence of raw IPv4
// datagrams (already extracted from a known carrier), applying a
// two-tier timeout: it fails fast if no multicast traffic appears
// within earlyMs, otherwise it keeps accumulating until totalMs.
type EnsembleDiscovery struct {
	mgr *ensemble.Manager

	earlyMs, totalMs uint
	startTime        time.Time
	started          bool
	done             bool
	failed           bool

	sawTraffic bool
	results    map[ensemble.StreamKey]DiscoveredEnsemble
	changes    []SubchannelChange
}

// NewEnsembleDiscovery creates an EnsembleDiscovery with the given
// early-failure and total timeouts, in milliseconds.
func NewEnsembleDiscovery(earlyMs, totalMs uint) *EnsembleDiscovery {
	d := &EnsembleDiscovery{
		earlyMs: earlyMs,
		totalMs: totalMs,
		results: make(map[ensemble.StreamKey]DiscoveredEnsemble),
	}
	d.mgr = ensemble.NewManager(ensemble.Callbacks{
		BasicReady: func(key ensemble.StreamKey, ens fic.Ensemble) {
			d.results[key] = fromEnsemble(key, ens)
		},
		Complete: func(key ensemble.StreamKey, ens fic.Ensemble) {
			d.results[key] = fromEnsemble(key, ens)
		},
		SubchannelChange: func(key ensemble.StreamKey, chs []fic.SubchannelChange) {
			for _, c := range chs {
				d.changes = append(d.changes, SubchannelChange{
					SID:             c.SID,
					OldSubchannelID: uint8(c.Old),
					NewSubchannelID: uint8(c.New),
				})
			}
		},
	})
	return d
}

func fromEnsemble(key ensemble.StreamKey, ens fic.Ensemble) DiscoveredEnsemble {
	de := DiscoveredEnsemble{IP: key.IP, Port: key.Port, EID: ens.EID, Label: ens.Label}
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

// FeedIPPacket extracts the UDP payload from a raw IPv4 datagram,
// ignoring non-multicast destinations, and routes it to the
// ensemble manager. It returns Failed once earlyMs elapses with no
// multicast traffic seen, Done once totalMs elapses, and Continue
// otherwise.
func (d *EnsembleDiscovery) FeedIPPacket(ipBytes []byte) DiscoveryStatus {
	if d.done {
		if d.failed {
			return Failed
		}
		return Done
	}
	if !d.started {
		d.started = true
		d.startTime = time.Now()
	}

	if dgram, err := udpx.Extract(ipBytes); err == nil {
		if ip := net.ParseIP(dgram.DstIP); ip != nil {
			if v4 := ip.To4(); v4 != nil {
				first := v4[0]
				if first >= 224 && first <= 239 {
					d.sawTraffic = true
					dstIP := uint32(v4[0])<<24 | uint32(v4[1])<<16 | uint32(v4[2])<<8 | uint32(v4[3])
					d.mgr.ProcessUDP(dstIP, dgram.DstPort, dgram.Payload)
				}
			}
		}
	}

	elapsed := time.Since(d.startTime)
	if !d.sawTraffic && elapsed >= time.Duration(d.earlyMs)*time.Millisecond {
		d.done = true
		d.failed = true
		return Failed
	}
	if elapsed >= time.Duration(d.totalMs)*time.Millisecond {
		d.done = true
		return Done
	}
	return Continue
}

// GetResults returns every ensemble discovered so far.
func (d *EnsembleDiscovery) GetResults() []DiscoveredEnsemble {
	out := make([]DiscoveredEnsemble, 0, len(d.results))
	for _, de := range d.results {
		out = append(out, de)
	}
	return out
}

// GetSubchannelChanges returns every sub-channel reassignment observed
// since the last call, for callers that poll rather than use a
// callback-based surface.
func (d *EnsembleDiscovery) GetSubchannelChanges() []SubchannelChange {
	out := d.changes
	d.changes = nil
	return out
}

// IsDone reports whether a termination condition has fired.
func (d *EnsembleDiscovery) IsDone() bool { return d.done }

// HasEnsembles reports whether at least one ensemble has been found.
func (d *EnsembleDiscovery) HasEnsembles() bool { return len(d.results) > 0 }

// formatSource adapts one of the three IP-over-DVB carriers to a
// single method that turns one TS payload into zero or more IPv4
// datagrams, so DiscoverEnsembles can drive all three the same way.
type formatSource interface {
	feed(payload []byte, pusi bool) [][]byte
}

type mpeSource struct{ acc *mpe.Accumulator }

func (s *mpeSource) feed(payload []byte, pusi bool) [][]byte {
	pkt := tsframe.Packet{PayloadUnitStartIndicator: pusi, HasPayload: true, Payload: payload}
	var out [][]byte
	for _, sec := range s.acc.Feed(pkt) {
		if ip, err := mpe.ExtractIPv4(sec); err == nil {
			out = append(out, ip)
		}
	}
	return out
}

type gseSource struct{ dep *gse.Depacketiser }

func (s *gseSource) feed(payload []byte, pusi bool) [][]byte {
	var out [][]byte
	for _, d := range s.dep.FeedTSPayload(payload) {
		out = append(out, d.IPv4)
	}
	return out
}

type bbfSource struct{ src *bbf.Source }

func (s *bbfSource) feed(payload []byte, pusi bool) [][]byte {
	var out [][]byte
	for _, d := range s.src.Feed(payload) {
		out = append(out, d.IPv4)
	}
	return out
}

func newFormatSource(format Format) formatSource {
	switch format {
	case FormatBBF:
		return &bbfSource{src: bbf.NewSource()}
	case FormatGSE:
		return &gseSource{dep: gse.NewDepacketiser()}
	default:
		return &mpeSource{acc: mpe.NewAccumulator()}
	}
}

// DiscoverEnsembles reads path as a raw transport stream, restricts
// attention to pid, decodes IPv4 datagrams via the given format's
// adapter, and accumulates ensembles with a two-tier timeout.
func DiscoverEnsembles(path string, format Format, pid uint16, timeoutMs uint) ([]DiscoveredEnsemble, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dab: open %s: %w", path, err)
	}
	defer f.Close()

	reader := tsframe.NewReader()
	source := newFormatSource(format)
	discovery := NewEnsembleDiscovery(timeoutMs/2, timeoutMs)
	results := func() []DiscoveredEnsemble {
		out := discovery.GetResults()
		for i := range out {
			out[i].PID = pid
		}
		return out
	}

	buf := make([]byte, readChunkSize)
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			for _, pkt := range reader.Feed(buf[:n]) {
				if pkt.PID != pid || !pkt.HasPayload {
					continue
				}
				for _, ip := range source.feed(pkt.Payload, pkt.PayloadUnitStartIndicator) {
					if discovery.FeedIPPacket(ip) != Continue {
						return results(), nil
					}
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, fmt.Errorf("dab: read %s: %w", path, readErr)
		}
	}

	return results(), nil
}
