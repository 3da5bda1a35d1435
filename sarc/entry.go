package sarc

import (
	"time"

	"sarcfs/vmem"
)

// dataKind distinguishes a clean entry (read straight from the backing
// stream) from one that has been snapshotted into its own Owned region.
type dataKind int

const (
	dataEmpty dataKind = iota
	dataOwned
)

// unavailableTime is the sentinel used for an entry's ctime/mtime when the
// archive format carries no timestamp (SARC does not store one).
var unavailableTime time.Time

// Entry is a leaf (or directory) in an archive's tree. Exactly one Entry
// exists per unique path within an archive; see the invariants in
// SPEC_FULL.md §3.
type Entry struct {
	Name  string // path segments joined by "/", no leading slash
	IsDir bool

	// startPos is the absolute byte offset in the backing stream where
	// the file's bytes begin. Only meaningful while the entry is clean
	// (kind == dataEmpty).
	startPos int64
	size     int64

	kind   dataKind
	region *vmem.Region // non-nil iff kind == dataOwned

	CTime, MTime time.Time
}

// Size returns the entry's current logical length in bytes.
func (e *Entry) Size() int64 { return e.size }

// Dirty reports whether the entry has been snapshotted into its own Owned
// region (kind == dataOwned). Once any entry in an archive is dirty, every
// non-directory entry in that archive is dirty too (SPEC_FULL.md §3).
func (e *Entry) Dirty() bool { return e.kind == dataOwned }

// bytes returns the entry's Owned region contents. Callers must only call
// this when Dirty() is true.
func (e *Entry) bytes() []byte {
	return e.region.Bytes()
}

// materialize snapshots a clean entry's bytes (read from backing at
// startPos) into a freshly reserved Owned region of at least
// initialReserve bytes, per SPEC_FULL.md §4.5.
func (e *Entry) materialize(backing IoStream, initialReserve int) error {
	r, err := vmem.Reserve(initialReserve)
	if err != nil {
		return ErrOutOfMemory
	}
	if err := r.Commit(int(e.size)); err != nil {
		r.Release()
		return ErrOutOfMemory
	}
	if e.size > 0 {
		if err := backing.Seek(e.startPos); err != nil {
			r.Release()
			return err
		}
		buf := r.Bytes()[:e.size]
		if _, err := readFull(backing, buf); err != nil {
			r.Release()
			return err
		}
	}
	e.region = r
	e.kind = dataOwned
	return nil
}

// resize grows or shrinks the entry's Owned region to newLen bytes,
// matching resize_entry in the original source (including its +500 byte
// slack on reallocating growth, which vmem.Region.Resize implements).
func (e *Entry) resize(newLen int64) error {
	if e.kind != dataOwned {
		return ErrReadOnly
	}
	if err := e.region.Resize(int(newLen)); err != nil {
		return ErrOutOfMemory
	}
	e.size = newLen
	return nil
}

// readFull reads exactly len(buf) bytes from s, the IoStream equivalent of
// io.ReadFull.
func readFull(s IoStream, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := s.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}
