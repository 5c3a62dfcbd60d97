package transfer

// sparsePageSize is the allocation unit of a sparseBuffer.
const sparsePageSize = 64 * 1024

// sparseBuffer is a growable byte sequence supporting positional overwrite.
// Storage is split into fixed-size pages keyed by index; pages never written
// are absent and read as zeros, so a far offset costs one page.
type sparseBuffer struct {
	pages  map[uint64][]byte
	length uint64
}

// WriteAt copies p into the buffer at off, growing it as needed. Callers
// bound off+len(p); Bytes materializes the whole length.
func (b *sparseBuffer) WriteAt(p []byte, off uint64) {
	if b.pages == nil {
		b.pages = make(map[uint64][]byte)
	}
	end := off + uint64(len(p))

	for len(p) > 0 {
		idx := off / sparsePageSize
		within := off % sparsePageSize

		page, ok := b.pages[idx]
		if !ok {
			page = make([]byte, sparsePageSize)
			b.pages[idx] = page
		}

		n := copy(page[within:], p)
		p = p[n:]
		off += uint64(n)
	}

	if end > b.length {
		b.length = end
	}
}

// Len returns the logical length: the highest offset ever written.
func (b *sparseBuffer) Len() uint64 {
	return b.length
}

// Bytes returns a contiguous copy of the buffer. Unwritten ranges are zero.
func (b *sparseBuffer) Bytes() []byte {
	out := make([]byte, b.length)
	for idx, page := range b.pages {
		start := idx * sparsePageSize
		if start >= b.length {
			continue
		}
		copy(out[start:], page)
	}
	return out
}
