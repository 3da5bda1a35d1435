// Package zstdio implements the Zstd-compressed IoStream wrapper: a
// block-indexed, randomly seekable decompression layer over any
// sarc.IoStream, grounded on zstd_ctx in the original zstd_io.c.
package zstdio

import (
	"sync"

	"github.com/klauspost/compress/zstd"
)

// dictTable is the process-wide, append-only table of decompression
// dictionaries, mirroring zstd_io.c's dict_buffers array. Every Stream's
// decoder references every dictionary registered here at the time it was
// opened, exactly as zstd_ctx_init calls ZSTD_DCtx_refDDict once per
// populated slot.
var dictTable struct {
	mu    sync.Mutex
	dicts [][]byte
}

// minDicts matches the original's fixed dict_buffers[3]: the table always
// has room for at least this many slots, though it is free to grow
// beyond that as more dictionaries are registered.
const minDicts = 3

// AddDict registers data as a new decompression dictionary and returns
// its index. Dictionaries are never removed or replaced once added:
// existing Streams keep decoding correctly regardless of what gets
// appended after they were opened.
func AddDict(data []byte) (int, error) {
	dictTable.mu.Lock()
	defer dictTable.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	dictTable.dicts = append(dictTable.dicts, cp)
	return len(dictTable.dicts) - 1, nil
}

// snapshotDicts returns the dictionary table as zstd decoder options,
// one WithDecoderDicts entry covering every registered dictionary. Called
// once per opened Stream.
func snapshotDicts() ([]zstd.DOption, error) {
	dictTable.mu.Lock()
	defer dictTable.mu.Unlock()
	if len(dictTable.dicts) == 0 {
		return nil, nil
	}
	return []zstd.DOption{zstd.WithDecoderDicts(dictTable.dicts...)}, nil
}
