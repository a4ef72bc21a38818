// Package dab discovers DAB/DAB+ ensembles carried in a raw MPEG-2
// transport stream, over EDI-encapsulated UDP multicast or ETI-NA
// framing directly in TS packets.
package dab

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/L-S-D/libdvbdab/internal/scanner"
	"github.com/L-S-D/libdvbdab/internal/tsframe"
)

// DiscoveredService is one service within a DiscoveredEnsemble.
type DiscoveredService struct {
	SID          uint32 `json:"sid"`
	Label        string `json:"label"`
	BitrateKbps  int    `json:"bitrate_kbps"`
	SubchannelID int    `json:"subchannel_id"`
	DABPlus      bool   `json:"dabplus"`
}

// EtinaInfo reports the bit-alignment parameters an ETI-NA stream
// settled on.
type EtinaInfo struct {
	PaddingBytes  int  `json:"padding_bytes"`
	SyncBitOffset int  `json:"sync_bit_offset"`
	Inverted      bool `json:"inverted"`
}

// Stats reports the transport-stream-level recoverable-error counters
// (spec.md §7) accumulated up to the point an ensemble was recognized.
// It is the zero value for ensembles fed directly as EDI/IP bytes,
// which never pass through transport-stream framing.
type Stats struct {
	Discontinuities int `json:"discontinuities"`
	SyncLosses      int `json:"sync_losses"`
	Dropped         int `json:"dropped"`
}

// DiscoveredEnsemble is one ensemble found on the stream. IP and Port
// are zero for ETI-NA-keyed ensembles; PID is zero when the ensemble
// was not derived from a transport stream at all (e.g. fed directly as
// EDI bytes via EnsembleDiscovery).
type DiscoveredEnsemble struct {
	IP        uint32              `json:"ip"`
	Port      uint16              `json:"port"`
	PID       uint16              `json:"pid"`
	EID       uint16              `json:"eid"`
	Label     string              `json:"label"`
	Services  []DiscoveredService `json:"services"`
	IsEtina   bool                `json:"is_etina"`
	EtinaInfo *EtinaInfo          `json:"etina_info,omitempty"`
	Stats     Stats               `json:"stats"`
}

func fromTsframeStats(s tsframe.Stats) Stats {
	return Stats{Discontinuities: s.Discontinuities, SyncLosses: s.SyncLosses, Dropped: s.Dropped}
}

// SubchannelChange reports a service's primary sub-channel
// reassignment observed after its ensemble was already complete.
// Old or New is 0xFF when the service was added or removed.
type SubchannelChange struct {
	SID             uint32 `json:"sid"`
	OldSubchannelID uint8  `json:"old_subchannel_id"`
	NewSubchannelID uint8  `json:"new_subchannel_id"`
}

func fromInternal(de scanner.DiscoveredEnsemble) DiscoveredEnsemble {
	out := DiscoveredEnsemble{
		IP:      de.IP,
		Port:    de.Port,
		PID:     de.PID,
		EID:     de.EID,
		Label:   de.Label,
		IsEtina: de.IsEtina,
		Stats:   fromTsframeStats(de.Stats),
	}
	for _, svc := range de.Services {
		out.Services = append(out.Services, DiscoveredService{
			SID:          svc.SID,
			Label:        svc.Label,
			BitrateKbps:  svc.BitrateKbps,
			SubchannelID: svc.SubchannelID,
			DABPlus:      svc.DABPlus,
		})
	}
	if de.IsEtina {
		out.EtinaInfo = &EtinaInfo{
			PaddingBytes:  de.EtinaInfo.PaddingBytes,
			SyncBitOffset: de.EtinaInfo.SyncBitOffset,
			Inverted:      de.EtinaInfo.Inverted,
		}
	}
	return out
}

// readChunkSize matches the buffered-read sizing used for file scans.
const readChunkSize = 64 * 1024

// ScanTSFile opens path, feeds it through a TsScanner in 64 KiB
// chunks, and returns every ensemble discovered before a termination
// condition fires or the file is exhausted.
func ScanTSFile(path string, timeoutMs uint) ([]DiscoveredEnsemble, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dab: open %s: %w", path, err)
	}
	defer f.Close()

	s := NewTsScanner()
	s.SetTimeout(timeoutMs)

	buf := make([]byte, readChunkSize)
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			if s.Feed(buf[:n]) {
				break
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, fmt.Errorf("dab: read %s: %w", path, readErr)
		}
	}

	return s.GetResults(), nil
}

// TsScanner wraps internal/scanner.Scanner with the public result
// types, mirroring spec.md §6's TsScanner surface.
type TsScanner struct {
	inner *scanner.Scanner
}

// NewTsScanner creates a TsScanner with the default 500ms timeout.
func NewTsScanner() *TsScanner {
	return &TsScanner{inner: scanner.New()}
}

// SetTimeout overrides the overall scan timeout in milliseconds.
func (t *TsScanner) SetTimeout(timeoutMs uint) {
	t.inner.SetTimeout(timeoutMs)
}

// Feed consumes raw transport stream bytes and reports whether a
// termination condition has fired.
func (t *TsScanner) Feed(data []byte) bool {
	return t.inner.Feed(data)
}

// GetResults returns every ensemble discovered so far.
func (t *TsScanner) GetResults() []DiscoveredEnsemble {
	raw := t.inner.Results()
	out := make([]DiscoveredEnsemble, 0, len(raw))
	for _, de := range raw {
		out = append(out, fromInternal(de))
	}
	return out
}

// IsDone reports whether a termination condition has fired.
func (t *TsScanner) IsDone() bool { return t.inner.IsDone() }

// HadTraffic reports whether any valid transport stream packet was
// ever seen.
func (t *TsScanner) HadTraffic() bool { return t.inner.HadTraffic() }

// Stats returns the transport-stream-level discontinuity/sync-loss/drop
// counters accumulated so far.
func (t *TsScanner) Stats() Stats { return fromTsframeStats(t.inner.Stats()) }

// GetMpePids returns the PIDs confirmed to carry MPE sections.
func (t *TsScanner) GetMpePids() []uint16 { return t.inner.MpePIDs() }

// GetEtinaResults returns the bit-alignment parameters recorded for
// each PID that locked onto ETI-NA framing.
func (t *TsScanner) GetEtinaResults() []EtinaInfo {
	raw := t.inner.EtinaResults()
	out := make([]EtinaInfo, 0, len(raw))
	for _, info := range raw {
		out = append(out, EtinaInfo{
			PaddingBytes:  info.PaddingBytes,
			SyncBitOffset: info.SyncBitOffset,
			Inverted:      info.Inverted,
		})
	}
	return out
}

// DiscoverEnsemblesFromFD reads r in a separate goroutine and feeds the
// chunks to a TsScanner until the scanner finishes, totalMs elapses, no
// transport stream packet has been seen after earlyMs, or the reader is
// exhausted. The reader goroutine is not waited for, so a blocking read
// does not delay the return; it exits once its Read returns.
func DiscoverEnsemblesFromFD(ctx context.Context, r io.Reader, earlyMs, totalMs uint) ([]DiscoveredEnsemble, error) {
	s := NewTsScanner()
	s.SetTimeout(totalMs)

	ctx, cancel := context.WithTimeout(ctx, time.Duration(totalMs)*time.Millisecond)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	chunks := make(chan []byte, 4)

	go func() {
		defer close(chunks)
		buf := make([]byte, readChunkSize)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				chunk := append([]byte(nil), buf[:n]...)
				select {
				case chunks <- chunk:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	g.Go(func() error {
		early := time.NewTimer(time.Duration(earlyMs) * time.Millisecond)
		defer early.Stop()
		for {
			select {
			case chunk, ok := <-chunks:
				if !ok {
					return nil
				}
				if s.Feed(chunk) {
					return nil
				}
			case <-early.C:
				if !s.HadTraffic() {
					return nil // no transport stream packet within earlyMs, fail fast
				}
			case <-ctx.Done():
				return nil
			}
		}
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("dab: discover from fd: %w", err)
	}

	return s.GetResults(), nil
}
