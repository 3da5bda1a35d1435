package sarc

import (
	"io"
	"os"

	"golang.org/x/xerrors"
)

// IoStream is a polymorphic byte stream: the unified contract implemented
// by plain files, SARC member handles, and the Zstd decompression wrapper
// (in the sibling zstdio package), so any consumer can read/seek/write/
// duplicate any of them uniformly.
type IoStream interface {
	// Read reads up to len(buf) bytes, returning (0, io.EOF) at EOF.
	Read(buf []byte) (int, error)
	// Write writes len(buf) bytes, or returns ErrReadOnly for a read-only
	// stream.
	Write(buf []byte) (int, error)
	// Seek sets the absolute position. Bounded streams fail with
	// ErrPastEOF if offset exceeds Length().
	Seek(offset int64) error
	// Tell returns the current absolute position.
	Tell() (int64, error)
	// Length returns the stream's total length in bytes.
	Length() (int64, error)
	// Truncate sets the stream's length, for writable streams that
	// support it; otherwise returns ErrUnsupportedOp.
	Truncate(length int64) error
	// Duplicate returns an independent cursor over the same underlying
	// data.
	Duplicate() (IoStream, error)
	// Flush commits buffered state. On a SARC write handle Flush does
	// nothing and does not rebuild the archive; the archive-wide rebuild
	// runs from Close, once the last write handle is closed.
	Flush() error
	// Close releases any resources held by the stream.
	Close() error
}

// fileStream adapts an *os.File to IoStream.
type fileStream struct {
	f        *os.File
	readonly bool
}

// NewFileStream wraps f, the host's plain-file IoStream implementation.
func NewFileStream(f *os.File, readonly bool) IoStream {
	return &fileStream{f: f, readonly: readonly}
}

// OpenFileStream opens name for reading.
func OpenFileStream(name string) (IoStream, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, xerrors.Errorf("opening %s: %w", name, err)
	}
	return NewFileStream(f, true), nil
}

func (s *fileStream) Read(buf []byte) (int, error) { return s.f.Read(buf) }

func (s *fileStream) Write(buf []byte) (int, error) {
	if s.readonly {
		return 0, ErrReadOnly
	}
	return s.f.Write(buf)
}

func (s *fileStream) Seek(offset int64) error {
	length, err := s.Length()
	if err != nil {
		return err
	}
	if offset > length {
		return ErrPastEOF
	}
	_, err = s.f.Seek(offset, io.SeekStart)
	return err
}

func (s *fileStream) Tell() (int64, error) {
	return s.f.Seek(0, io.SeekCurrent)
}

func (s *fileStream) Length() (int64, error) {
	fi, err := s.f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func (s *fileStream) Truncate(length int64) error {
	if s.readonly {
		return ErrUnsupportedOp
	}
	return s.f.Truncate(length)
}

func (s *fileStream) Duplicate() (IoStream, error) {
	pos, err := s.Tell()
	if err != nil {
		return nil, err
	}
	dup, err := os.Open(s.f.Name())
	if err != nil {
		return nil, xerrors.Errorf("duplicating %s: %w", s.f.Name(), err)
	}
	out := &fileStream{f: dup, readonly: s.readonly}
	if err := out.Seek(pos); err != nil {
		dup.Close()
		return nil, err
	}
	return out, nil
}

func (s *fileStream) Flush() error { return s.f.Sync() }
func (s *fileStream) Close() error { return s.f.Close() }

// byteRangeStream is an IoStream view over another IoStream, bounded to
// [base, base+size). Used to give a read-mode handle a private cursor into
// a clean (non-Owned) entry's bytes without exposing the rest of the
// backing stream.
type byteRangeStream struct {
	backing IoStream
	base    int64
	size    int64
	pos     int64
}

// NewByteRangeStream returns a stream over backing restricted to
// [base, base+size). backing is consumed (positioned) by this wrapper;
// callers that need their own cursor should Duplicate backing first.
func NewByteRangeStream(backing IoStream, base, size int64) (IoStream, error) {
	if err := backing.Seek(base); err != nil {
		return nil, err
	}
	return &byteRangeStream{backing: backing, base: base, size: size}, nil
}

func (s *byteRangeStream) Read(buf []byte) (int, error) {
	remaining := s.size - s.pos
	if remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(buf)) > remaining {
		buf = buf[:remaining]
	}
	n, err := s.backing.Read(buf)
	s.pos += int64(n)
	return n, err
}

func (s *byteRangeStream) Write(buf []byte) (int, error) { return 0, ErrReadOnly }

func (s *byteRangeStream) Seek(offset int64) error {
	if offset > s.size {
		return ErrPastEOF
	}
	if err := s.backing.Seek(s.base + offset); err != nil {
		return err
	}
	s.pos = offset
	return nil
}

func (s *byteRangeStream) Tell() (int64, error) { return s.pos, nil }
func (s *byteRangeStream) Length() (int64, error) { return s.size, nil }
func (s *byteRangeStream) Truncate(int64) error   { return ErrUnsupportedOp }

func (s *byteRangeStream) Duplicate() (IoStream, error) {
	dup, err := s.backing.Duplicate()
	if err != nil {
		return nil, err
	}
	out := &byteRangeStream{backing: dup, base: s.base, size: s.size}
	if err := out.Seek(s.pos); err != nil {
		dup.Close()
		return nil, err
	}
	return out, nil
}

func (s *byteRangeStream) Flush() error { return nil }
func (s *byteRangeStream) Close() error { return s.backing.Close() }
