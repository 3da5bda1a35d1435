package sarc

import (
	"encoding/binary"
	"fmt"
	"sync"

	"golang.org/x/xerrors"
)

// Stat mirrors the subset of an Entry a caller needs without reaching
// into archive internals.
type Stat struct {
	Name     string
	IsDir    bool
	Size     int64
	ReadOnly bool
}

// Archive is an open SARC archive: its parsed tree plus the backing
// stream it was parsed from (or will be rebuilt onto). One Archive may
// back many concurrent read handles; handle.go counts open writers in
// openWriteHandles so the rebuild waits for the last one to close.
type Archive struct {
	mu      sync.Mutex
	backing IoStream
	tree    DirTree
	hashKey uint32

	// dataOffset is the header's recorded data section start; file
	// start/end offsets in the SFAT are relative to it.
	dataOffset int64

	openWriteHandles int

	// everWritable latches true the moment any entry becomes Owned and
	// never resets: see the REDESIGN FLAGS note on Stat.ReadOnly.
	everWritable bool

	// path is the filesystem path Close rebuilds onto, empty for an
	// archive opened over a caller-supplied stream with no save target.
	path string
}

// NewArchive returns an empty, writable, in-memory archive with no
// backing stream: the starting point for building a SARC from scratch.
func NewArchive() *Archive {
	a := &Archive{hashKey: hashKeyDefault}
	a.tree.Init(true)
	a.tree.nodes[""] = &Entry{Name: "", IsDir: true}
	return a
}

// Open parses a SARC archive from backing, per SPEC_FULL.md §4.3.
func Open(backing IoStream) (*Archive, error) {
	a := &Archive{backing: backing, hashKey: hashKeyDefault}
	a.tree.Init(true)
	if err := a.parse(); err != nil {
		return nil, err
	}
	return a, nil
}

// OpenFile opens path as a plain file and parses it as a SARC archive.
// The archive remembers path as its rebuild target for Close.
func OpenFile(path string) (*Archive, error) {
	s, err := OpenFileStream(path)
	if err != nil {
		return nil, err
	}
	a, err := Open(s)
	if err != nil {
		s.Close()
		return nil, err
	}
	a.path = path
	return a, nil
}

func (a *Archive) parse() error {
	if err := a.backing.Seek(0); err != nil {
		return err
	}

	hdrBuf := make([]byte, headerLen)
	if _, err := readFull(a.backing, hdrBuf); err != nil {
		return xerrors.Errorf("reading SARC header: %w", ErrCorrupt)
	}
	var h header
	h.Magic = binary.LittleEndian.Uint32(hdrBuf[0:4])
	h.HeaderSize = binary.LittleEndian.Uint16(hdrBuf[4:6])
	h.ByteOrder = binary.LittleEndian.Uint16(hdrBuf[6:8])
	h.ArchiveSize = binary.LittleEndian.Uint32(hdrBuf[8:12])
	h.DataOffset = binary.LittleEndian.Uint32(hdrBuf[12:16])
	h.Version = binary.LittleEndian.Uint16(hdrBuf[16:18])
	h.Reserved = binary.LittleEndian.Uint16(hdrBuf[18:20])

	if h.Magic != magic {
		return ErrUnsupported
	}
	if h.HeaderSize != headerLen {
		return ErrCorrupt
	}
	if h.ByteOrder == byteOrderBE {
		return ErrUnsupported
	}
	if h.ByteOrder != byteOrderLE {
		return ErrCorrupt
	}
	a.dataOffset = int64(h.DataOffset)

	sfatBuf := make([]byte, sfatHeaderLen)
	if _, err := readFull(a.backing, sfatBuf); err != nil {
		return xerrors.Errorf("reading SFAT header: %w", ErrCorrupt)
	}
	var sh sfatHeader
	sh.Magic = binary.LittleEndian.Uint32(sfatBuf[0:4])
	sh.HeaderSize = binary.LittleEndian.Uint16(sfatBuf[4:6])
	sh.NodeCount = binary.LittleEndian.Uint16(sfatBuf[6:8])
	sh.HashKey = binary.LittleEndian.Uint32(sfatBuf[8:12])
	if sh.Magic != sfatMagic || sh.HeaderSize != sfatHeaderLen {
		return ErrCorrupt
	}
	a.hashKey = sh.HashKey

	nodes := make([]sfatNode, sh.NodeCount)
	nodeBuf := make([]byte, sfatNodeLen)
	for i := range nodes {
		if _, err := readFull(a.backing, nodeBuf); err != nil {
			return xerrors.Errorf("reading SFAT node %d: %w", i, ErrCorrupt)
		}
		nodes[i] = sfatNode{
			FilenameHash:    binary.LittleEndian.Uint32(nodeBuf[0:4]),
			FilenameOffset:  binary.LittleEndian.Uint16(nodeBuf[4:6]),
			EnableOffset:    binary.LittleEndian.Uint16(nodeBuf[6:8]),
			FileStartOffset: binary.LittleEndian.Uint32(nodeBuf[8:12]),
			FileEndOffset:   binary.LittleEndian.Uint32(nodeBuf[12:16]),
		}
	}

	sfntStart, err := a.backing.Tell()
	if err != nil {
		return err
	}
	sfntBuf := make([]byte, sfntHeaderLen)
	if _, err := readFull(a.backing, sfntBuf); err != nil {
		return xerrors.Errorf("reading SFNT header: %w", ErrCorrupt)
	}
	var fh sfntHeader
	fh.Magic = binary.LittleEndian.Uint32(sfntBuf[0:4])
	fh.HeaderSize = binary.LittleEndian.Uint16(sfntBuf[4:6])
	if fh.Magic != sfntMagic || fh.HeaderSize != sfntHeaderLen {
		return ErrCorrupt
	}
	namesBase := sfntStart + sfntHeaderLen
	if a.dataOffset < namesBase {
		return xerrors.Errorf("data offset %#x precedes name table at %#x: %w", a.dataOffset, namesBase, ErrCorrupt)
	}

	a.tree.nodes[""] = &Entry{Name: "", IsDir: true}

	for _, n := range nodes {
		name, err := a.readName(n, namesBase)
		if err != nil {
			return err
		}
		e, err := a.tree.Add(name, false)
		if err != nil {
			return xerrors.Errorf("inserting %q: %w", name, err)
		}
		e.startPos = a.dataOffset + int64(n.FileStartOffset)
		e.size = int64(n.FileEndOffset - n.FileStartOffset)
	}

	return nil
}

// readName resolves an SFAT node's filename, or synthesizes one from its
// hash for a hash-only (nameless) entry — an edge case the original
// format allows for entries the archive author never intended to be
// looked up by path.
func (a *Archive) readName(n sfatNode, namesBase int64) (string, error) {
	if n.EnableOffset&enableOffsetFlag == 0 {
		return fmt.Sprintf("~%08x", n.FilenameHash), nil
	}
	off := namesBase + int64(n.FilenameOffset)*4
	if err := a.backing.Seek(off); err != nil {
		return "", xerrors.Errorf("seeking to name at %#x: %w", off, ErrCorrupt)
	}
	var buf []byte
	chunk := make([]byte, 16)
	for {
		nRead, err := a.backing.Read(chunk)
		if nRead == 0 && err != nil {
			return "", xerrors.Errorf("reading name at %#x: %w", off, ErrCorrupt)
		}
		if i := indexByte(chunk[:nRead], 0); i >= 0 {
			buf = append(buf, chunk[:i]...)
			break
		}
		buf = append(buf, chunk[:nRead]...)
		if len(buf) > 4096 {
			return "", ErrCorrupt
		}
	}
	return string(buf), nil
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// SetPath sets the filesystem path Rebuild publishes to. Used when
// building a fresh in-memory archive (NewArchive) that should be saved to
// a real file rather than kept purely in memory.
func (a *Archive) SetPath(path string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.path = path
}

// AddFile inserts path with the given contents directly, without going
// through a write handle's open/close lifecycle. Intended for bulk
// archive construction (cmd/sarcfs's pack command), where materializing
// and rebuilding once per file would be wasteful; call Rebuild once after
// the whole tree has been added.
func (a *Archive) AddFile(path string, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, err := a.tree.Add(path, false)
	if err != nil {
		return err
	}
	if err := e.materialize(nil, len(data)+vmemSlack); err != nil {
		return err
	}
	if err := e.resize(int64(len(data))); err != nil {
		return err
	}
	copy(e.bytes(), data)
	a.everWritable = true
	return nil
}

// Stat returns metadata for the entry at path.
func (a *Archive) Stat(path string) (Stat, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.tree.Find(path)
	if !ok {
		return Stat{}, ErrNotExist
	}
	return Stat{Name: e.Name, IsDir: e.IsDir, Size: e.size, ReadOnly: !a.everWritable}, nil
}

// Enumerate lists the immediate children of dir.
func (a *Archive) Enumerate(dir string, fn func(Stat) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	ro := !a.everWritable
	return a.tree.Enumerate(dir, func(e *Entry) error {
		return fn(Stat{Name: e.Name, IsDir: e.IsDir, Size: e.size, ReadOnly: ro})
	})
}

// Mkdir inserts a directory entry at path.
func (a *Archive) Mkdir(path string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, err := a.tree.Add(path, true)
	return err
}

// Remove is unsupported: the archive format this package implements has
// no notion of deleting a member in place. Callers that want a path gone
// must rebuild the archive without it.
func (a *Archive) Remove(path string) error {
	return ErrReadOnly
}

// AbandonArchive releases the archive's backing resources without
// rebuilding, discarding any Owned (dirty) entry data. Used when a caller
// wants to close a read-only archive, or discard in-progress edits.
func (a *Archive) AbandonArchive() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range a.tree.All() {
		if e.Dirty() && e.region != nil {
			e.region.Release()
		}
	}
	if a.backing != nil {
		return a.backing.Close()
	}
	return nil
}
