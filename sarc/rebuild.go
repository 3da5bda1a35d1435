package sarc

import (
	"bytes"
	"encoding/binary"
	"path/filepath"
	"sort"

	"github.com/google/renameio"
	"golang.org/x/xerrors"
)

// Rebuild re-serializes the archive from its current entries and
// publishes the result, replacing the on-disk file atomically via
// renameio when the archive has a path, or swapping in a fresh in-memory
// backing stream otherwise. It mirrors rebuild_sarc from the original
// source: sort entries by filename hash, lay out header/SFAT/SFNT/bodies
// deterministically, then every entry goes back to being Empty/clean
// against the new backing, releasing its Owned region.
//
// Unlike the original, layout is computed once, in full, before any
// bytes are written — there is no "terrible sort" of repeated
// linear-minimum search, and no seek-back-and-patch pass.
func (a *Archive) Rebuild() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	entries := a.nonDirEntries()
	if len(entries) == 0 && a.backing != nil {
		return nil
	}

	sort.Slice(entries, func(i, j int) bool {
		return filenameHash(entries[i].Name, a.hashKey) < filenameHash(entries[j].Name, a.hashKey)
	})
	for i := 1; i < len(entries); i++ {
		if filenameHash(entries[i-1].Name, a.hashKey) == filenameHash(entries[i].Name, a.hashKey) {
			return xerrors.Errorf("rebuilding: hash collision between %q and %q: %w",
				entries[i-1].Name, entries[i].Name, ErrCorrupt)
		}
	}

	nodeCount := len(entries)
	sfatSize := sfatHeaderLen + nodeCount*sfatNodeLen
	preNames := headerLen + sfatSize + sfntHeaderLen

	nameOffsets := make([]int, nodeCount)
	var names bytes.Buffer
	for i, e := range entries {
		nameOffsets[i] = names.Len()
		names.WriteString(e.Name)
		names.WriteByte(0)
		for names.Len()%4 != 0 {
			names.WriteByte(0)
		}
	}

	dataOffset := align8(preNames + names.Len())

	bodyOffsets := make([]int64, nodeCount)
	cursor := int64(dataOffset)
	for i, e := range entries {
		bodyOffsets[i] = cursor - int64(dataOffset)
		cursor += e.size
		cursor = int64(align8(int(cursor)))
	}
	archiveSize := cursor

	var out bytes.Buffer
	writeHeader(&out, uint32(archiveSize), uint32(dataOffset))
	writeSFAT(&out, a.hashKey, entries, nameOffsets, bodyOffsets)
	writeSFNT(&out, names.Bytes())
	for out.Len() < dataOffset {
		out.WriteByte(0)
	}
	for i, e := range entries {
		out.Write(e.bytes())
		for int64(out.Len()) < dataOffset+int64(align8(int(bodyOffsets[i]+e.size))) {
			out.WriteByte(0)
		}
	}

	newBacking, err := a.publish(out.Bytes())
	if err != nil {
		return err
	}

	if a.backing != nil {
		a.backing.Close()
	}
	a.backing = newBacking
	a.dataOffset = int64(dataOffset)
	for i, e := range entries {
		if e.region != nil {
			e.region.Release()
		}
		e.region = nil
		e.kind = dataEmpty
		e.startPos = int64(dataOffset) + bodyOffsets[i]
	}
	return nil
}

// publish writes data either to a.path atomically (via renameio) or into
// a fresh in-memory backing stream when the archive has no file path.
func (a *Archive) publish(data []byte) (IoStream, error) {
	if a.path == "" {
		m, err := NewMemoryStream(len(data))
		if err != nil {
			return nil, err
		}
		if _, err := m.Write(data); err != nil {
			m.Close()
			return nil, err
		}
		if err := m.Seek(0); err != nil {
			m.Close()
			return nil, err
		}
		return m, nil
	}

	t, err := renameio.TempFile(filepath.Dir(a.path), a.path)
	if err != nil {
		return nil, xerrors.Errorf("creating temp file for %s: %w", a.path, err)
	}
	defer t.Cleanup()
	if _, err := t.Write(data); err != nil {
		return nil, xerrors.Errorf("writing rebuilt archive: %w", err)
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		return nil, xerrors.Errorf("publishing %s: %w", a.path, err)
	}
	return OpenFileStream(a.path)
}

func (a *Archive) nonDirEntries() []*Entry {
	var out []*Entry
	for _, e := range a.tree.All() {
		if !e.IsDir {
			out = append(out, e)
		}
	}
	return out
}

func writeHeader(buf *bytes.Buffer, archiveSize, dataOffset uint32) {
	var b [headerLen]byte
	binary.LittleEndian.PutUint32(b[0:4], magic)
	binary.LittleEndian.PutUint16(b[4:6], headerLen)
	binary.LittleEndian.PutUint16(b[6:8], byteOrderLE)
	binary.LittleEndian.PutUint32(b[8:12], archiveSize)
	binary.LittleEndian.PutUint32(b[12:16], dataOffset)
	binary.LittleEndian.PutUint16(b[16:18], version)
	binary.LittleEndian.PutUint16(b[18:20], 0)
	buf.Write(b[:])
}

func writeSFAT(buf *bytes.Buffer, hashKey uint32, entries []*Entry, nameOffsets []int, bodyOffsets []int64) {
	var hb [sfatHeaderLen]byte
	binary.LittleEndian.PutUint32(hb[0:4], sfatMagic)
	binary.LittleEndian.PutUint16(hb[4:6], sfatHeaderLen)
	binary.LittleEndian.PutUint16(hb[6:8], uint16(len(entries)))
	binary.LittleEndian.PutUint32(hb[8:12], hashKey)
	buf.Write(hb[:])

	for i, e := range entries {
		var nb [sfatNodeLen]byte
		binary.LittleEndian.PutUint32(nb[0:4], filenameHash(e.Name, hashKey))
		binary.LittleEndian.PutUint16(nb[4:6], uint16(nameOffsets[i]/4))
		binary.LittleEndian.PutUint16(nb[6:8], enableOffsetFlag)
		binary.LittleEndian.PutUint32(nb[8:12], uint32(bodyOffsets[i]))
		binary.LittleEndian.PutUint32(nb[12:16], uint32(bodyOffsets[i]+e.size))
		buf.Write(nb[:])
	}
}

func writeSFNT(buf *bytes.Buffer, names []byte) {
	var hb [sfntHeaderLen]byte
	binary.LittleEndian.PutUint32(hb[0:4], sfntMagic)
	binary.LittleEndian.PutUint16(hb[4:6], sfntHeaderLen)
	binary.LittleEndian.PutUint16(hb[6:8], 0)
	buf.Write(hb[:])
	buf.Write(names)
}
