// Package fic parses the Fast Information Channel carried in ETI-NI
// frames, accumulating ensemble, service, and sub-channel information
// until it stabilises.
package fic

import "github.com/L-S-D/libdvbdab/internal/crc16"

const (
	fsync0 = 0xFFF8C549 // odd frames (ERR byte 0xFF + FSYNC F8 C5 49)
	fsync1 = 0xFF073AB6 // even frames (ERR byte 0xFF + FSYNC 07 3A B6)

	basicReadyStableFrames = 3
	completeStableFrames   = 10

	subchAbsent = 0xFF
)

type subChannel struct {
	subchID       int
	startAddr     int
	subchSize     int
	bitrate       int
	eepProtection bool
	protLevel     int
	uepIndex      int
	dabPlus       bool
}

type serviceInfo struct {
	sid            uint32
	primarySubch   int
	secondarySubch int
}

// componentKey identifies a FIG 0/8 service component by its owning
// service and in-service component index.
type componentKey struct {
	sid   uint32
	scids int
}

// Service is one parsed programme or data service, combining FIG 0/2's
// component mapping with FIG 0/1's sub-channel characteristics and FIG
// 1/1's label.
type Service struct {
	SID             uint32
	Label           string
	Bitrate         int
	SubchannelID    int
	StartAddr       int
	SubchannelSize  int
	DABPlus         bool
	ProtectionLevel int
	EEPProtection   bool
}

// Ensemble is the parser's current view of the multiplex: its identity,
// label, and every service with a resolved primary sub-channel.
type Ensemble struct {
	EID      uint16
	Label    string
	Services []Service
}

// SubchannelChange reports that a service's primary sub-channel
// assignment changed after the ensemble was already considered
// complete. Old or New is subchAbsent when the service was added or
// removed rather than remapped.
type SubchannelChange struct {
	SID uint32
	Old int
	New int
}

// Parser accumulates FIC state for one ETI stream (one PID, or one EDI
// UDP source) across successive ETI-NI frames.
type Parser struct {
	subchannels    map[int]subChannel
	serviceMap     map[uint32]serviceInfo
	serviceLabels  map[uint32]string
	packetModeMap  map[int]PacketModeEntry
	componentLinks map[componentKey]ComponentLink
	ensembleLabel  string
	ensembleID     uint16

	labelled   bool
	basicReady bool

	lastBasicServiceCount int
	basicStableFrames     int
	lastServiceCount      int
	stableFrames          int

	lastPrimarySubch map[uint32]int

	FIBCount   int
	FIBDropped int
	FIG02Count int
}

// NewParser creates an empty FIC parser.
func NewParser() *Parser {
	p := &Parser{}
	p.reset()
	return p
}

func (p *Parser) reset() {
	p.subchannels = make(map[int]subChannel)
	p.serviceMap = make(map[uint32]serviceInfo)
	p.serviceLabels = make(map[uint32]string)
	p.packetModeMap = make(map[int]PacketModeEntry)
	p.componentLinks = make(map[componentKey]ComponentLink)
	p.ensembleLabel = ""
	p.ensembleID = 0
	p.labelled = false
	p.basicReady = false
	p.lastBasicServiceCount = 0
	p.basicStableFrames = 0
	p.lastServiceCount = 0
	p.stableFrames = 0
	p.lastPrimarySubch = make(map[uint32]int)
}

// Reset discards all accumulated ensemble state.
func (p *Parser) Reset() {
	p.reset()
}

// IsBasicReady reports whether enough sub-channel/service mapping has
// stabilised for downstream audio output to start.
func (p *Parser) IsBasicReady() bool {
	return p.basicReady
}

// IsComplete reports whether every known service has a label and the
// ensemble label and service count have stabilised.
func (p *Parser) IsComplete() bool {
	return p.labelled
}

// ProcessETIFrame parses one 6144-byte ETI-NI frame, updating ensemble
// state and returning any sub-channel reassignments observed after the
// ensemble was already complete.
func (p *Parser) ProcessETIFrame(frame []byte) []SubchannelChange {
	if len(frame) < 8 {
		return nil
	}

	sync := uint32(frame[0])<<24 | uint32(frame[1])<<16 | uint32(frame[2])<<8 | uint32(frame[3])
	if sync != fsync0 && sync != fsync1 {
		return nil
	}

	ficf := frame[5]&0x80 != 0
	if !ficf {
		return nil
	}
	nst := int(frame[5] & 0x7F)
	mid := uint8(frame[6]>>3) & 0x03

	ficl := 24
	if mid == 3 {
		ficl = 32
	}
	stcEnd := 8 + nst*4 + 4
	ficLen := ficl * 4
	if stcEnd+ficLen > len(frame) {
		return nil
	}

	p.processFIC(frame[stcEnd:stcEnd+ficLen], mid)

	if len(p.serviceMap) > 0 {
		p.updateBasicReady()
	}

	changes := p.detectSubchannelChanges()
	p.updateCompletion()
	return changes
}

func (p *Parser) updateBasicReady() {
	if p.labelled {
		return
	}
	validServices := 0
	for _, info := range p.serviceMap {
		if info.primarySubch >= 0 {
			if _, ok := p.subchannels[info.primarySubch]; ok {
				validServices++
			}
		}
	}
	if validServices == 0 {
		return
	}
	if validServices != p.lastBasicServiceCount {
		p.lastBasicServiceCount = validServices
		p.basicStableFrames = 0
	} else {
		p.basicStableFrames++
	}
	if p.basicStableFrames >= basicReadyStableFrames {
		p.basicReady = true
	}
}

func (p *Parser) updateCompletion() {
	if p.labelled || len(p.serviceMap) == 0 {
		return
	}
	labelledCount := 0
	for sid := range p.serviceMap {
		if _, ok := p.serviceLabels[sid]; ok {
			labelledCount++
		}
	}
	hasEnsembleLabel := p.ensembleLabel != ""

	if len(p.serviceMap) != p.lastServiceCount {
		p.lastServiceCount = len(p.serviceMap)
		p.stableFrames = 0
	} else {
		p.stableFrames++
	}

	allLabelled := labelledCount == len(p.serviceMap) && hasEnsembleLabel
	stable := p.stableFrames >= completeStableFrames
	if allLabelled && stable {
		p.labelled = true
		for sid, info := range p.serviceMap {
			if info.primarySubch < 0 {
				p.lastPrimarySubch[sid] = subchAbsent
			} else {
				p.lastPrimarySubch[sid] = info.primarySubch
			}
		}
	}
}

// detectSubchannelChanges compares the current primary sub-channel per
// service against the last snapshot, but only once the ensemble is
// already complete (spec.md §4.8: emitted "once complete").
func (p *Parser) detectSubchannelChanges() []SubchannelChange {
	if !p.labelled {
		return nil
	}

	var changes []SubchannelChange
	seen := make(map[uint32]bool, len(p.serviceMap))

	for sid, info := range p.serviceMap {
		seen[sid] = true
		newSubch := info.primarySubch
		if newSubch < 0 {
			newSubch = subchAbsent
		}
		old, known := p.lastPrimarySubch[sid]
		if !known {
			changes = append(changes, SubchannelChange{SID: sid, Old: subchAbsent, New: newSubch})
		} else if old != newSubch {
			changes = append(changes, SubchannelChange{SID: sid, Old: old, New: newSubch})
		}
		p.lastPrimarySubch[sid] = newSubch
	}

	for sid, old := range p.lastPrimarySubch {
		if !seen[sid] {
			changes = append(changes, SubchannelChange{SID: sid, Old: old, New: subchAbsent})
			delete(p.lastPrimarySubch, sid)
		}
	}

	return changes
}

// PacketModeMap returns the FIG 0/3 SCId→SubChId table accumulated so
// far, for packet-mode data decoders keyed off a service component's
// SCId.
func (p *Parser) PacketModeMap() map[int]PacketModeEntry {
	out := make(map[int]PacketModeEntry, len(p.packetModeMap))
	for k, v := range p.packetModeMap {
		out[k] = v
	}
	return out
}

// ComponentLinks returns the FIG 0/8 service-component-to-sub-channel
// links accumulated so far.
func (p *Parser) ComponentLinks() []ComponentLink {
	out := make([]ComponentLink, 0, len(p.componentLinks))
	for _, v := range p.componentLinks {
		out = append(out, v)
	}
	return out
}

// GetEnsemble builds the current ensemble snapshot from accumulated FIG
// 0/1, 0/2, 1/0, and 1/1 state.
func (p *Parser) GetEnsemble() Ensemble {
	ens := Ensemble{EID: p.ensembleID, Label: p.ensembleLabel}

	for sid, info := range p.serviceMap {
		if info.primarySubch < 0 {
			continue
		}
		svc := Service{SID: sid, Label: p.serviceLabels[sid]}
		if sc, ok := p.subchannels[info.primarySubch]; ok {
			svc.SubchannelID = sc.subchID
			svc.StartAddr = sc.startAddr
			svc.SubchannelSize = sc.subchSize
			svc.Bitrate = sc.bitrate
			svc.DABPlus = sc.dabPlus
			svc.ProtectionLevel = sc.protLevel
			svc.EEPProtection = sc.eepProtection
		}
		ens.Services = append(ens.Services, svc)
	}

	for i := 0; i < len(ens.Services); i++ {
		for j := i + 1; j < len(ens.Services); j++ {
			if ens.Services[j].SID < ens.Services[i].SID {
				ens.Services[i], ens.Services[j] = ens.Services[j], ens.Services[i]
			}
		}
	}

	return ens
}

// processFIC walks the FIC region's 32-byte FIBs (30 data bytes + 2-byte
// CRC-16), dropping any that fail their checksum.
func (p *Parser) processFIC(fic []byte, mid uint8) {
	for offset := 0; offset+32 <= len(fic); offset += 32 {
		p.processFIB(fic[offset : offset+32])
	}
}

func (p *Parser) processFIB(fib []byte) {
	p.FIBCount++
	if err := crc16.Verify(fib); err != nil {
		p.FIBDropped++
		return
	}

	pos := 0
	for pos < 30 {
		hdr := fib[pos]
		if hdr == 0xFF {
			break
		}
		figType := int(hdr>>5) & 0x07
		figLen := int(hdr & 0x1F)
		if pos+1+figLen > 30 {
			break
		}
		p.processFIG(figType, fib[pos+1:pos+1+figLen])
		pos += 1 + figLen
	}
}

func (p *Parser) processFIG(figType int, fig []byte) {
	if len(fig) < 1 {
		return
	}
	ext := int(fig[0] & 0x1F)
	pd := fig[0]&0x20 != 0

	switch figType {
	case 0:
		p.processFIG0(fig[1:], ext, pd)
	case 1:
		p.processFIG1(fig[1:], int(fig[0]&0x07))
	}
}
