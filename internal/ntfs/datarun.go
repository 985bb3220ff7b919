package ntfs

// Segment is one contiguous extent of a non-resident attribute.
type Segment struct {
	LCN    uint64 // absolute logical cluster number
	Length uint64 // clusters
	Sparse bool   // run had no offset field; reads as zeros
}

// DecodeRuns decodes an NTFS run-list into absolute extents. Each run
// starts with a header byte whose low nibble is the byte-width of the
// length field and whose high nibble is the byte-width of the offset
// field. Offsets are signed deltas against the previous run's LCN and
// must be sign-extended from their actual width. A zero header byte
// terminates the list.
func DecodeRuns(b []byte) []Segment {
	var segments []Segment
	var lastLCN int64

	i := 0
	for i < len(b) && b[i] != 0x00 {
		header := b[i]
		i++
		lenWidth := int(header & 0x0F)
		offWidth := int(header >> 4)

		if i+lenWidth+offWidth > len(b) {
			break
		}

		var count uint64
		for j := 0; j < lenWidth; j++ {
			count |= uint64(b[i+j]) << (8 * j)
		}
		i += lenWidth

		var delta int64
		for j := 0; j < offWidth; j++ {
			delta |= int64(b[i+j]) << (8 * j)
		}
		if offWidth > 0 && b[i+offWidth-1]&0x80 != 0 {
			for j := offWidth; j < 8; j++ {
				delta |= 0xFF << (8 * j)
			}
		}
		i += offWidth

		lastLCN += delta
		segments = append(segments, Segment{
			LCN:    uint64(lastLCN),
			Length: count,
			Sparse: offWidth == 0,
		})
	}

	return segments
}
