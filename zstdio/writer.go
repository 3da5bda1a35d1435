package zstdio

import (
	"encoding/binary"
	"io"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/xerrors"

	"sarcfs/sarc"
)

// Compress reads all of src, splits it into blockSize chunks, compresses
// each chunk independently (optionally against the dictionary registered
// under dictIndex, or with no dictionary if dictIndex is negative), and
// writes the resulting zstdio container to dst starting at dst's current
// position.
func Compress(dst sarc.IoStream, src io.Reader, blockSize int, dictIndex int) error {
	if blockSize <= 0 {
		return xerrors.New("zstdio: blockSize must be positive")
	}

	var encOpts []zstd.EOption
	if dictIndex >= 0 {
		d, err := dictAt(dictIndex)
		if err != nil {
			return err
		}
		encOpts = append(encOpts, zstd.WithEncoderDict(d))
	}
	enc, err := zstd.NewWriter(nil, encOpts...)
	if err != nil {
		return xerrors.Errorf("constructing zstd encoder: %w", err)
	}
	defer enc.Close()

	var blocks [][]byte
	var total int64
	chunk := make([]byte, blockSize)
	for {
		n, rerr := io.ReadFull(src, chunk)
		if n > 0 {
			compressed := enc.EncodeAll(chunk[:n], nil)
			blocks = append(blocks, compressed)
			total += int64(n)
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return xerrors.Errorf("reading source: %w", rerr)
		}
	}

	hdr := make([]byte, headerLen)
	binary.LittleEndian.PutUint32(hdr[0:4], formatMagic)
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(blockSize))
	binary.LittleEndian.PutUint64(hdr[8:16], uint64(total))
	binary.LittleEndian.PutUint32(hdr[16:20], uint32(int32(dictIndex)))
	binary.LittleEndian.PutUint32(hdr[20:24], uint32(len(blocks)))
	if _, err := dst.Write(hdr); err != nil {
		return err
	}

	lenBuf := make([]byte, 4*len(blocks))
	for i, b := range blocks {
		binary.LittleEndian.PutUint32(lenBuf[i*4:i*4+4], uint32(len(b)))
	}
	if _, err := dst.Write(lenBuf); err != nil {
		return err
	}

	for _, b := range blocks {
		if _, err := dst.Write(b); err != nil {
			return err
		}
	}
	return nil
}
