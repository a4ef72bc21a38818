package etina

const (
	interleaveRows = 8
	interleaveCols = 240
	etiNIFrameSize = 6144

	fsync0 = 0xb63a07ff // even frame
	fsync1 = 0x49c5f8ff // odd frame
)

// Deinterleaver turns successive 192-frame (6144-byte) ETI-NA
// multiframes into 6144-byte ETI-NI frames, tracking which of the
// alternating sync words to emit next.
type Deinterleaver struct {
	evenFrame bool
}

// NewDeinterleaver creates a deinterleaver starting on an even frame.
func NewDeinterleaver() *Deinterleaver {
	return &Deinterleaver{evenFrame: true}
}

// Reset returns the deinterleaver to its initial even-frame state.
func (d *Deinterleaver) Reset() {
	d.evenFrame = true
}

// Deinterleave converts one 6144-byte multiframe (3 superblocks of 64
// E1 frames each) into a 6144-byte ETI-NI frame.
func (d *Deinterleaver) Deinterleave(multiframe []byte) [6144]byte {
	var out [6144]byte

	sync := uint32(fsync1)
	if d.evenFrame {
		sync = fsync0
	}
	out[0] = byte(sync)
	out[1] = byte(sync >> 8)
	out[2] = byte(sync >> 16)
	out[3] = byte(sync >> 24)

	deint := make([]byte, interleaveRows*interleaveCols*superblocksInMultiframe)
	superblockFrames := framesInBlock * blocksInSuperblock

	for sb := 0; sb < superblocksInMultiframe; sb++ {
		superblock := multiframe[sb*superblockFrames*e1FrameSize:]
		deintOut := deint[sb*interleaveRows*interleaveCols:]
		inPtr := 0

		for col := 0; col < interleaveCols; col++ {
			for row := 0; row < interleaveRows; row++ {
				if inPtr%16 == 0 {
					inPtr++
				}
				outIdx := col + row*interleaveCols
				deintOut[outIdx] = superblock[inPtr]
				inPtr++
			}
		}
	}

	mgmt := deint[30] // M01 byte position in the first superblock
	typeBit := (mgmt >> 1) & 0x01
	maxRead := 235
	if typeBit != 0 {
		maxRead = 226
	}

	outPtr := 4
	totalRows := interleaveRows * superblocksInMultiframe // 24

	for row := 0; row < totalRows; row++ {
		rowData := deint[row*interleaveCols : (row+1)*interleaveCols]

		if row%interleaveRows < 2 {
			readPtr := 0
			for readPtr < maxRead {
				toRead := 29
				if readPtr+toRead > maxRead {
					toRead = maxRead - readPtr - 1
				}
				readPtr++ // skip management byte
				copy(out[outPtr:outPtr+toRead], rowData[readPtr:readPtr+toRead])
				outPtr += toRead
				readPtr += toRead
			}
		} else {
			copy(out[outPtr:outPtr+maxRead], rowData[:maxRead])
			outPtr += maxRead
		}
	}

	for ; outPtr < etiNIFrameSize; outPtr++ {
		out[outPtr] = 0x55
	}

	d.evenFrame = !d.evenFrame
	return out
}
