package etina

// Pipeline composes the four ETI-NA recovery stages, feeding each
// incoming payload fragment through padding strip, E1 bit-sync,
// multiframe accumulation, and deinterleaving.
type Pipeline struct {
	offset        *OffsetStripper
	e1            *E1Sync
	multiframe    *MultiframeAccumulator
	deinterleaver *Deinterleaver
}

// NewPipeline creates an ETI-NA recovery pipeline in its initial,
// unsynced state.
func NewPipeline() *Pipeline {
	return &Pipeline{
		offset:        NewOffsetStripper(),
		e1:            NewE1Sync(),
		multiframe:    NewMultiframeAccumulator(),
		deinterleaver: NewDeinterleaver(),
	}
}

// Reset returns every stage to its initial state.
func (p *Pipeline) Reset() {
	p.offset.Reset()
	p.e1.Reset()
	p.multiframe.Reset()
	p.deinterleaver.Reset()
}

// DetectionInfo is the set of parameters the pipeline settled on while
// recovering frame alignment, reported once to the caller for
// diagnostics.
type DetectionInfo struct {
	PaddingBytes int
	BitOffset    int
	Inverted     bool
}

// Info returns the pipeline's current detection parameters.
func (p *Pipeline) Info() DetectionInfo {
	return DetectionInfo{
		PaddingBytes: p.offset.DetectedOffset(),
		BitOffset:    p.e1.BitOffset(),
		Inverted:     p.e1.Inverted(),
	}
}

// BufferedBytes reports how many undecoded bytes are waiting in the E1
// sync stage, used to detect a candidate stream that never locks.
func (p *Pipeline) BufferedBytes() int {
	return p.e1.BufferLen()
}

// Feed pushes one payload fragment through all four stages and returns
// every complete ETI-NI frame produced.
func (p *Pipeline) Feed(payload []byte) [][6144]byte {
	stripped := p.offset.Strip(payload)
	if stripped == nil {
		return nil
	}

	var out [][6144]byte
	e1Frames := p.e1.Feed(stripped)

	for _, frame := range e1Frames {
		multi := p.multiframe.Feed(frame)
		if multi == nil {
			continue
		}
		out = append(out, p.deinterleaver.Deinterleave(multi))
		p.multiframe.Consume()
	}
	return out
}
