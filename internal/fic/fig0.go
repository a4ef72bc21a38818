package fic

// userApplicationNames maps FIG 0/13 user application types to a
// human-readable name, per ETSI TS 101 756.
var userApplicationNames = map[int]string{
	0x002: "SlideShow",
	0x003: "BWS",
	0x004: "TPEG",
	0x005: "DGPS",
	0x006: "TMC",
	0x007: "EPG",
	0x008: "DABJava",
	0x009: "DMB",
	0x00a: "IPDC",
	0x00b: "Voice",
	0x00c: "Middleware",
	0x00d: "Filecasting",
	0x44a: "Journaline",
}

func userApplicationName(uaType int) string {
	if name, ok := userApplicationNames[uaType]; ok {
		return name
	}
	return "unknown"
}

// PacketModeEntry is one FIG 0/3 SCId→SubChId mapping for a
// packet-mode data service component.
type PacketModeEntry struct {
	SCId       int
	SubchID    int
	PacketAddr int
	DSCTy      int
	DGFlag     bool
}

// ComponentLink is one FIG 0/8 service-component-to-sub-channel link.
// SubchID is valid when LongForm is false; SCId is valid when LongForm
// is true (referencing a FIG 0/3 PacketModeEntry).
type ComponentLink struct {
	SID      uint32
	SCIdS    int
	SubchID  int
	SCId     int
	LongForm bool
}

// processFIG0 dispatches FIG type 0 extensions relevant to service and
// sub-channel discovery; unrecognised extensions are ignored.
func (p *Parser) processFIG0(data []byte, ext int, pd bool) {
	switch ext {
	case 0:
		p.fig0_0(data)
	case 1:
		p.fig0_1(data)
	case 2:
		p.fig0_2(data, pd)
	case 3:
		p.fig0_3(data)
	case 8:
		p.fig0_8(data, pd)
	case 13:
		p.fig0_13(data, pd)
	}
}

// fig0_3 decodes FIG 0/3 Service Component in Packet Mode, maintaining
// the SCId→SubChId table packet-mode data decoders key off of. Each
// entry is 5 bytes: Rfa(4)+SCId(12), a flags byte (SCCA_flag at bit 4,
// DG_flag at bit 3), DSCTy in the low 6 bits of the next byte, and
// SubChId in the low 6 bits of the last, plus two optional CA bytes
// when SCCA_flag is set.
func (p *Parser) fig0_3(data []byte) {
	pos := 0
	for pos+5 <= len(data) {
		scid := int(data[pos]&0x0F)<<8 | int(data[pos+1])
		pos += 2

		scaFlag := data[pos]&0x10 != 0
		dgFlag := data[pos]&0x08 != 0
		pos++

		dscty := int(data[pos] & 0x3F)
		pos++

		subchID := int(data[pos] & 0x3F)
		pos++

		if scaFlag && pos+2 <= len(data) {
			pos += 2
		}

		p.packetModeMap[scid] = PacketModeEntry{SCId: scid, SubchID: subchID, DSCTy: dscty, DGFlag: dgFlag}
	}
}

// fig0_8 decodes FIG 0/8 Service Component Global Definition, linking
// a service's component (SCIdS) to a sub-channel either directly
// (short form) or via a FIG 0/3 SCId reference (long form).
func (p *Parser) fig0_8(data []byte, pd bool) {
	pos := 0
	for pos < len(data) {
		var sid uint32
		if pd {
			if pos+4 > len(data) {
				break
			}
			sid = uint32(data[pos])<<24 | uint32(data[pos+1])<<16 | uint32(data[pos+2])<<8 | uint32(data[pos+3])
			pos += 4
		} else {
			if pos+2 > len(data) {
				break
			}
			sid = uint32(data[pos])<<8 | uint32(data[pos+1])
			pos += 2
		}

		if pos >= len(data) {
			break
		}
		extFlag := data[pos]&0x80 != 0
		scids := int(data[pos] & 0x0F)
		pos++

		if pos >= len(data) {
			break
		}
		link := ComponentLink{SID: sid, SCIdS: scids}
		if data[pos]&0x80 == 0 {
			link.SubchID = int(data[pos] & 0x3F)
			pos++
		} else {
			if pos+1 >= len(data) {
				break
			}
			link.LongForm = true
			link.SCId = int(data[pos]&0x0F)<<8 | int(data[pos+1])
			pos += 2
		}

		p.componentLinks[componentKey{sid: sid, scids: scids}] = link

		if extFlag && pos < len(data) {
			pos++
		}
	}
}

// fig0_0 decodes FIG 0/0 Ensemble Information, learning the EID.
func (p *Parser) fig0_0(data []byte) {
	if len(data) < 4 {
		return
	}
	eid := uint16(data[0])<<8 | uint16(data[1])
	if p.ensembleID == 0 || p.ensembleID != eid {
		p.ensembleID = eid
	}
}

// fig0_1 decodes FIG 0/1 sub-channel organisation, short (UEP) and long
// (EEP) form entries.
func (p *Parser) fig0_1(data []byte) {
	pos := 0
	for pos+3 <= len(data) {
		subchID := int(data[pos]>>2) & 0x3F
		startAddr := int(data[pos]&0x03)<<8 | int(data[pos+1])
		form := data[pos+2]&0x80 != 0

		sc := subChannel{subchID: subchID, startAddr: startAddr}
		if existing, ok := p.subchannels[subchID]; ok {
			sc.dabPlus = existing.dabPlus
		}

		if !form {
			tableIndex := int(data[pos+2] & 0x3F)
			sc.eepProtection = false
			sc.uepIndex = tableIndex
			sc.bitrate = uepBitrate(tableIndex)
			pos += 3
		} else {
			if pos+4 > len(data) {
				break
			}
			subchSize := int(data[pos+2]&0x03)<<8 | int(data[pos+3])
			protLvl := int(data[pos+2]>>2) & 0x03
			option := int(data[pos+2]>>4) & 0x07

			sc.subchSize = subchSize
			sc.eepProtection = true
			if option != 0 {
				sc.protLevel = protLvl + 4
			} else {
				sc.protLevel = protLvl
			}
			sc.bitrate = eepBitrate(subchSize, sc.protLevel)
			pos += 4
		}

		p.subchannels[subchID] = sc
	}
}

// fig0_2 decodes FIG 0/2 basic service and component definitions,
// resolving each service's primary and secondary sub-channel.
func (p *Parser) fig0_2(data []byte, pd bool) {
	pos := 0
	minServiceSize := 3
	if pd {
		minServiceSize = 5
	}

	for pos+minServiceSize <= len(data) {
		var sid uint32
		if pd {
			sid = uint32(data[pos])<<24 | uint32(data[pos+1])<<16 | uint32(data[pos+2])<<8 | uint32(data[pos+3])
			pos += 4
		} else {
			sid = uint32(data[pos])<<8 | uint32(data[pos+1])
			pos += 2
		}

		numComponents := int(data[pos] & 0x0F)
		pos++

		info := serviceInfo{sid: sid, primarySubch: -1, secondarySubch: -1}

		for i := 0; i < numComponents && pos+2 <= len(data); i++ {
			tmid := int(data[pos]>>6) & 0x03
			if tmid == 0 {
				ascty := int(data[pos] & 0x3F)
				subchID := int(data[pos+1]>>2) & 0x3F
				primary := data[pos+1]&0x02 != 0

				if sc, ok := p.subchannels[subchID]; ok {
					sc.dabPlus = ascty == 63
					p.subchannels[subchID] = sc
				}

				if primary && info.primarySubch < 0 {
					info.primarySubch = subchID
				} else if info.secondarySubch < 0 {
					info.secondarySubch = subchID
				}
			} else if tmid == 1 {
				subchID := int(data[pos+1]>>2) & 0x3F
				primary := data[pos+1]&0x02 != 0
				if primary && info.primarySubch < 0 {
					info.primarySubch = subchID
				}
			}
			pos += 2
		}

		if info.primarySubch >= 0 {
			p.serviceMap[sid] = info
			p.FIG02Count++
		}
	}
}

// fig0_13 walks FIG 0/13 user application information entries and skips
// over them. The application types are not read or recorded, so nothing
// from FIG 0/13 reaches the ensemble model.
func (p *Parser) fig0_13(data []byte, pd bool) {
	pos := 0
	for pos < len(data) {
		var sidLen int
		if pd {
			sidLen = 4
		} else {
			sidLen = 2
		}
		if pos+sidLen > len(data) {
			break
		}
		pos += sidLen

		if pos >= len(data) {
			break
		}
		numApps := int(data[pos] & 0x0F)
		pos++

		for i := 0; i < numApps && pos+2 <= len(data); i++ {
			uaWord := uint16(data[pos])<<8 | uint16(data[pos+1])
			uaLen := int(uaWord & 0x1F)
			pos += 2
			pos += uaLen
		}
	}
}
