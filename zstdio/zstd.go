package zstdio

import (
	"encoding/binary"
	"io"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/xerrors"

	"sarcfs/sarc"
)

// Wire format for a zstdio stream: a small fixed header followed by a
// table of per-block compressed lengths, followed by the concatenated
// compressed blocks themselves. Each block independently compresses up to
// blockSize bytes of the original content (the last block may be
// shorter), which is what gives Seek its O(1) block lookup instead of the
// original's reset-and-replay-from-start fallback.
const (
	formatMagic  = 0x42445A53 // "SZDB"
	headerLen    = 4 + 4 + 8 + 4 + 4 // magic, blockSize, uncompressedLen, dictIndex, numBlocks
	noDict       = -1
)

// Stream is an IoStream presenting the decompressed view of a zstdio
// container. It keeps at most one decoded block resident at a time,
// matching zstd_ctx's single dbuf in the original.
type Stream struct {
	backing         sarc.IoStream
	blockSize       int
	uncompressedLen int64
	blockOffsets    []int64 // absolute offset in backing of each compressed block
	blockLens       []uint32

	dec *zstd.Decoder

	curBlock int // index of the block currently in buf, -1 if none
	buf      []byte
	pos      int64
}

// Wrap parses backing as a zstdio container and returns a seekable,
// decompressing view over it. backing is read from position 0, whatever
// its current position.
func Wrap(backing sarc.IoStream) (sarc.IoStream, error) {
	if err := backing.Seek(0); err != nil {
		return nil, err
	}
	hdr := make([]byte, headerLen)
	if _, err := io.ReadFull(streamReader{backing}, hdr); err != nil {
		return nil, xerrors.Errorf("reading zstdio header: %w", sarc.ErrCorrupt)
	}
	magic := binary.LittleEndian.Uint32(hdr[0:4])
	if magic != formatMagic {
		return nil, sarc.ErrCorrupt
	}
	blockSize := int(binary.LittleEndian.Uint32(hdr[4:8]))
	uncompressedLen := int64(binary.LittleEndian.Uint64(hdr[8:16]))
	dictIndex := int32(binary.LittleEndian.Uint32(hdr[16:20]))
	numBlocks := binary.LittleEndian.Uint32(hdr[20:24])

	lenBuf := make([]byte, 4*numBlocks)
	if _, err := io.ReadFull(streamReader{backing}, lenBuf); err != nil {
		return nil, xerrors.Errorf("reading zstdio block table: %w", sarc.ErrCorrupt)
	}
	blockLens := make([]uint32, numBlocks)
	blockOffsets := make([]int64, numBlocks)
	cursor, err := backing.Tell()
	if err != nil {
		return nil, err
	}
	for i := range blockLens {
		blockLens[i] = binary.LittleEndian.Uint32(lenBuf[i*4 : i*4+4])
		blockOffsets[i] = cursor
		cursor += int64(blockLens[i])
	}

	opts, err := snapshotDicts()
	if err != nil {
		return nil, err
	}
	if dictIndex != noDict {
		// A container that names a dictionary narrows decoding to that
		// one dictionary, unlike zstd_ctx_init, which refs every
		// populated dict_buffers slot and lets the frame header pick
		// the one that matches.
		d, derr := dictAt(int(dictIndex))
		if derr != nil {
			return nil, derr
		}
		opts = []zstd.DOption{zstd.WithDecoderDicts(d)}
	}
	dec, err := zstd.NewReader(nil, opts...)
	if err != nil {
		return nil, xerrors.Errorf("constructing zstd decoder: %w", err)
	}

	return &Stream{
		backing:         backing,
		blockSize:       blockSize,
		uncompressedLen: uncompressedLen,
		blockOffsets:    blockOffsets,
		blockLens:       blockLens,
		dec:             dec,
		curBlock:        -1,
	}, nil
}

func dictAt(idx int) ([]byte, error) {
	dictTable.mu.Lock()
	defer dictTable.mu.Unlock()
	if idx < 0 || idx >= len(dictTable.dicts) {
		return nil, xerrors.Errorf("dictionary index %d: %w", idx, sarc.ErrCorrupt)
	}
	return dictTable.dicts[idx], nil
}

// streamReader adapts a sarc.IoStream to io.Reader for use with
// io.ReadFull.
type streamReader struct{ s sarc.IoStream }

func (r streamReader) Read(buf []byte) (int, error) { return r.s.Read(buf) }

func (s *Stream) blockFor(pos int64) int {
	idx := int(pos / int64(s.blockSize))
	if idx >= len(s.blockOffsets) {
		idx = len(s.blockOffsets) - 1
	}
	return idx
}

// loadBlock decompresses block idx into s.buf, per the original's
// zstd_decompress_block: exactly one block resident at a time.
func (s *Stream) loadBlock(idx int) error {
	if idx == s.curBlock {
		return nil
	}
	if idx < 0 || idx >= len(s.blockOffsets) {
		return sarc.ErrPastEOF
	}
	if err := s.backing.Seek(s.blockOffsets[idx]); err != nil {
		return err
	}
	compressed := make([]byte, s.blockLens[idx])
	if _, err := io.ReadFull(streamReader{s.backing}, compressed); err != nil {
		return xerrors.Errorf("reading compressed block %d: %w", idx, sarc.ErrCorrupt)
	}
	want := s.blockSize
	if last := len(s.blockOffsets) - 1; idx == last {
		if rem := int(s.uncompressedLen % int64(s.blockSize)); rem != 0 {
			want = rem
		}
	}
	out, err := s.dec.DecodeAll(compressed, make([]byte, 0, want))
	if err != nil {
		return xerrors.Errorf("decompressing block %d: %w", idx, sarc.ErrCorrupt)
	}
	s.buf = out
	s.curBlock = idx
	return nil
}

func (s *Stream) Read(buf []byte) (int, error) {
	if s.pos >= s.uncompressedLen {
		return 0, io.EOF
	}
	idx := s.blockFor(s.pos)
	if err := s.loadBlock(idx); err != nil {
		return 0, err
	}
	blockStart := int64(idx) * int64(s.blockSize)
	within := int(s.pos - blockStart)
	n := copy(buf, s.buf[within:])
	s.pos += int64(n)
	return n, nil
}

func (s *Stream) Write([]byte) (int, error) { return 0, sarc.ErrReadOnly }

// Seek implements the block-indexed random access this package exists
// for: the target block is addressed directly as pos/blockSize, no
// sequential replay required regardless of whether it's ahead of or
// behind the current position.
func (s *Stream) Seek(offset int64) error {
	if offset > s.uncompressedLen {
		return sarc.ErrPastEOF
	}
	s.pos = offset
	return nil
}

func (s *Stream) Tell() (int64, error) { return s.pos, nil }

func (s *Stream) Length() (int64, error) { return s.uncompressedLen, nil }

func (s *Stream) Truncate(int64) error { return sarc.ErrUnsupportedOp }

func (s *Stream) Duplicate() (sarc.IoStream, error) {
	dup, err := s.backing.Duplicate()
	if err != nil {
		return nil, err
	}
	return Wrap(dup)
}

func (s *Stream) Flush() error { return nil }

func (s *Stream) Close() error {
	s.dec.Close()
	return s.backing.Close()
}
