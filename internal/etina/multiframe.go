package etina

const (
	framesInBlock           = 8
	blocksInSuperblock      = 8
	superblocksInMultiframe = 3
	framesInMultiframe      = framesInBlock * blocksInSuperblock * superblocksInMultiframe // 192
)

// MultiframeAccumulator groups E1 frames into 192-frame (6144-byte)
// multiframes, recognising the block/superblock structure encoded in
// each frame's management byte.
type MultiframeAccumulator struct {
	frameBuffer []byte
	synced      bool
}

// NewMultiframeAccumulator creates an unsynced multiframe accumulator.
func NewMultiframeAccumulator() *MultiframeAccumulator {
	return &MultiframeAccumulator{}
}

// Reset discards all buffered frames and sync state.
func (m *MultiframeAccumulator) Reset() {
	m.frameBuffer = nil
	m.synced = false
}

// Feed appends one 32-byte E1 frame and returns a complete 6144-byte
// multiframe once enough synced frames have accumulated. The returned
// slice aliases internal storage and must be consumed before the next
// call to Consume.
func (m *MultiframeAccumulator) Feed(e1Frame []byte) []byte {
	if e1Frame != nil {
		m.frameBuffer = append(m.frameBuffer, e1Frame...)
	}

	framesNeeded := framesInMultiframe + framesInBlock
	if len(m.frameBuffer) < framesNeeded*e1FrameSize {
		return nil
	}

	if !m.synced {
		if !m.findSync() {
			if len(m.frameBuffer) > framesInBlock*e1FrameSize*2 {
				m.frameBuffer = append([]byte{}, m.frameBuffer[framesInBlock*e1FrameSize:]...)
			}
			return nil
		}
	}

	if len(m.frameBuffer) >= framesInMultiframe*e1FrameSize {
		return m.frameBuffer[:framesInMultiframe*e1FrameSize]
	}
	return nil
}

// Consume removes the multiframe most recently returned by Feed from
// the accumulator's buffer.
func (m *MultiframeAccumulator) Consume() {
	if len(m.frameBuffer) >= framesInMultiframe*e1FrameSize {
		m.frameBuffer = append([]byte{}, m.frameBuffer[framesInMultiframe*e1FrameSize:]...)
	}
}

// findSync looks for a frame offset where, across 8 consecutive blocks,
// the management byte's block number and superblock number fields match
// block 0/superblock 0 for the first block and ascending block numbers
// for the rest.
func (m *MultiframeAccumulator) findSync() bool {
	maxSearch := framesInBlock * blocksInSuperblock

	for frameOffset := 0; frameOffset < maxSearch; frameOffset++ {
		valid := true
		for block := 0; block < blocksInSuperblock; block++ {
			frameIdx := frameOffset + block*framesInBlock
			if frameIdx*e1FrameSize+1 >= len(m.frameBuffer) {
				valid = false
				break
			}
			mgmt := m.frameBuffer[frameIdx*e1FrameSize+1]
			blockNum := (mgmt >> 5) & 0x07
			superblockNum := (mgmt >> 3) & 0x03

			if block == 0 {
				if blockNum != 0 || superblockNum != 0 {
					valid = false
				}
			} else if int(blockNum) != block || superblockNum != 0 {
				valid = false
			}
		}
		if valid {
			if frameOffset > 0 {
				m.frameBuffer = append([]byte{}, m.frameBuffer[frameOffset*e1FrameSize:]...)
			}
			m.synced = true
			return true
		}
	}
	return false
}
