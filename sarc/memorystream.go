package sarc

import (
	"io"

	"sarcfs/vmem"
)

// memoryStream is an IoStream backed by a vmem.Region: the "memory-IO
// factory" the host supplies for fresh write-only streams, and the
// backing stream Archive.publish installs for an archive with no file
// path. Owned entries are read and written through entryHandle, which
// uses the entry's region directly rather than a memoryStream.
type memoryStream struct {
	region *vmem.Region
	pos    int64
	owns   bool // true if Close should Release the region
}

// NewMemoryStream returns a writable IoStream over a freshly reserved
// region of at least initialReserve bytes.
func NewMemoryStream(initialReserve int) (IoStream, error) {
	r, err := vmem.Reserve(initialReserve)
	if err != nil {
		return nil, err
	}
	return &memoryStream{region: r, owns: true}, nil
}

// newMemoryStreamOverRegion wraps an existing region without taking
// ownership of releasing it (the Entry that owns the region will release
// it when the archive closes).
func newMemoryStreamOverRegion(r *vmem.Region) IoStream {
	return &memoryStream{region: r}
}

func (s *memoryStream) Read(buf []byte) (int, error) {
	data := s.region.Bytes()
	if s.pos >= int64(len(data)) {
		return 0, io.EOF
	}
	n := copy(buf, data[s.pos:])
	s.pos += int64(n)
	return n, nil
}

func (s *memoryStream) Write(buf []byte) (int, error) {
	end := s.pos + int64(len(buf))
	if end > int64(s.region.Len()) {
		if err := s.region.Resize(int(end)); err != nil {
			return 0, err
		}
	}
	n := copy(s.region.Bytes()[s.pos:end], buf)
	s.pos += int64(n)
	return n, nil
}

func (s *memoryStream) Seek(offset int64) error {
	if offset > int64(s.region.Len()) {
		return ErrPastEOF
	}
	s.pos = offset
	return nil
}

func (s *memoryStream) Tell() (int64, error) { return s.pos, nil }

func (s *memoryStream) Length() (int64, error) { return int64(s.region.Len()), nil }

func (s *memoryStream) Truncate(length int64) error {
	return s.region.Resize(int(length))
}

func (s *memoryStream) Duplicate() (IoStream, error) {
	// Independent cursor over the same region: both copies observe
	// writes, matching the contract that a duplicate shares underlying
	// data but not position.
	return &memoryStream{region: s.region}, nil
}

func (s *memoryStream) Flush() error { return nil }

func (s *memoryStream) Close() error {
	if s.owns {
		s.region.Release()
	}
	return nil
}
