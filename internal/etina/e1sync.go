package etina

const (
	e1FrameSize    = 32
	e1SyncVal      = 0x1B
	e1SyncMask     = 0x7F
	e1SyncInterval = e1FrameSize * 2 // 64 bytes
	maxBufferBytes = 8192
	discardBytes   = 4096
)

// E1Sync bit-aligns a de-padded byte stream to E1/G.704 32-byte frame
// boundaries, searching across 8 bit offsets and 2 polarities for a run
// of 4 consecutive frames whose masked first byte matches the E1 sync
// pattern.
type E1Sync struct {
	buffer    []byte
	bitOffset int // -1 = not found yet
	inverted  bool
	syncFound bool
}

// NewE1Sync creates an unsynced E1 frame extractor.
func NewE1Sync() *E1Sync {
	return &E1Sync{bitOffset: -1}
}

// Reset discards all buffered bytes and sync state.
func (e *E1Sync) Reset() {
	*e = E1Sync{bitOffset: -1}
}

// Feed appends stripped payload bytes and returns every complete
// 32-byte aligned E1 frame that becomes available. Call with a nil
// slice to drain any frames already buffered.
func (e *E1Sync) Feed(data []byte) [][]byte {
	if len(data) > 0 {
		e.buffer = append(e.buffer, data...)
	}

	var out [][]byte
	for {
		frame := e.extractOne()
		if frame == nil {
			break
		}
		out = append(out, frame)
	}
	return out
}

func (e *E1Sync) extractOne() []byte {
	if !e.syncFound {
		if !e.findSync() {
			return nil
		}
	}

	if len(e.buffer) < e1FrameSize+1 {
		return nil
	}

	frame := make([]byte, e1FrameSize)
	for i := 0; i < e1FrameSize; i++ {
		frame[i] = e.extractByte(e.buffer, i)
	}
	e.buffer = append([]byte{}, e.buffer[e1FrameSize:]...)
	return frame
}

// BitOffset returns the bit offset the sync search settled on, or -1
// if synchronisation has not yet been found.
func (e *E1Sync) BitOffset() int {
	return e.bitOffset
}

// Inverted reports whether the synced bit stream runs inverted
// polarity relative to the input bytes.
func (e *E1Sync) Inverted() bool {
	return e.inverted
}

// BufferLen reports how many undecoded bytes are currently buffered,
// used by callers to detect a candidate stream that never finds sync.
func (e *E1Sync) BufferLen() int {
	return len(e.buffer)
}

// extractByte reads the byte at pos after applying the sync's bit
// offset (bit-shift across two adjacent bytes) and polarity inversion.
func (e *E1Sync) extractByte(buf []byte, pos int) byte {
	if pos+1 >= len(buf) {
		return 0
	}
	var result byte
	if e.bitOffset == 0 {
		result = buf[pos]
	} else {
		result = buf[pos]<<e.bitOffset | buf[pos+1]>>(8-e.bitOffset)
	}
	if e.inverted {
		result ^= 0xFF
	}
	return result
}

// findSync searches the buffer for a bit offset and polarity under
// which 4 consecutive predicted sync positions, e1SyncInterval bytes
// apart, all mask to the E1 sync value.
func (e *E1Sync) findSync() bool {
	bytesNeeded := e1SyncInterval*4 + 1
	if len(e.buffer) < bytesNeeded {
		return false
	}

	for bitOffset := 0; bitOffset < 8; bitOffset++ {
		for _, inverted := range [2]bool{false, true} {
			e.bitOffset = bitOffset
			e.inverted = inverted

			for start := 0; start < 1024 && start+bytesNeeded < len(e.buffer); start++ {
				allSync := true
				for frame := 0; frame < 4; frame++ {
					pos := start + frame*e1SyncInterval
					if e.extractByte(e.buffer, pos)&e1SyncMask != e1SyncVal {
						allSync = false
						break
					}
				}
				if allSync {
					e.syncFound = true
					e.buffer = append([]byte{}, e.buffer[start:]...)
					return true
				}
			}
		}
	}

	e.bitOffset = -1
	e.inverted = false

	if len(e.buffer) > maxBufferBytes {
		e.buffer = append([]byte{}, e.buffer[discardBytes:]...)
	}
	return false
}
