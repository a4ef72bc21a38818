package fic

import "github.com/L-S-D/libdvbdab/internal/latin1"

// processFIG1 dispatches FIG type 1 (label) extensions. The character
// set nibble of byte 0 is not inspected; every label is transcoded as
// ISO-8859-1, matching the assumption the original parser makes.
func (p *Parser) processFIG1(data []byte, ext int) {
	if len(data) < 2 {
		return
	}
	switch ext {
	case 0:
		p.fig1_0(data)
	case 1:
		p.fig1_1(data)
	}
}

// fig1_0 decodes FIG 1/0, the ensemble label.
func (p *Parser) fig1_0(data []byte) {
	if len(data) < 18 {
		return
	}
	p.ensembleID = uint16(data[0])<<8 | uint16(data[1])
	p.ensembleLabel = latin1.ToUTF8(data[2:18])
}

// fig1_1 decodes FIG 1/1, a programme service label keyed by 16-bit SID.
func (p *Parser) fig1_1(data []byte) {
	if len(data) < 20 {
		return
	}
	sid := uint32(data[0])<<8 | uint32(data[1])
	p.serviceLabels[sid] = latin1.ToUTF8(data[2:18])
}
