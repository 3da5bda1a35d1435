package sarc

import "io"

// handleMode distinguishes a read-only cursor from a writer that
// participates in the archive's openWriteHandles count.
type handleMode int

const (
	modeRead handleMode = iota
	modeWrite
)

// entryHandle is the IoStream a caller gets back from OpenRead/OpenWrite:
// an independent cursor over one Entry's bytes. While the entry is clean,
// the handle reads through its own private view (a duplicated backing
// stream, scoped to the entry's byte range) rather than the archive's
// shared backing stream, so concurrent handles never race over a shared
// cursor. Once the entry is dirty, the handle reads from the entry's own
// Owned region instead.
type entryHandle struct {
	archive *Archive
	entry   *Entry
	mode    handleMode
	pos     int64
	view    IoStream // non-nil while entry is clean; private per-handle cursor
	closed  bool
}

// OpenRead returns a read-only handle on the file at path.
func (a *Archive) OpenRead(path string) (IoStream, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.tree.Find(path)
	if !ok {
		return nil, ErrNotExist
	}
	if e.IsDir {
		return nil, ErrNotAFile
	}
	h := &entryHandle{archive: a, entry: e, mode: modeRead}
	if !e.Dirty() {
		view, err := a.newEntryView(e)
		if err != nil {
			return nil, err
		}
		h.view = view
	}
	return h, nil
}

// newEntryView duplicates the archive's backing stream and wraps it in a
// byteRangeStream scoped to e's bytes, giving a read-mode handle a private
// cursor positioned at the entry's origin. Callers must hold a.mu.
func (a *Archive) newEntryView(e *Entry) (IoStream, error) {
	dup, err := a.backing.Duplicate()
	if err != nil {
		return nil, err
	}
	view, err := NewByteRangeStream(dup, e.startPos, e.size)
	if err != nil {
		dup.Close()
		return nil, err
	}
	return view, nil
}

// OpenWrite returns a writable handle on the file at path, creating it if
// create is true and it does not exist. truncate resets the file to
// length 0. Opening any file for writing materializes every non-directory
// entry in the archive into its own Owned region, since the eventual
// rebuild invalidates every entry's old backing-file offset at once.
func (a *Archive) OpenWrite(path string, create, truncate bool) (IoStream, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.tree.Find(path)
	if !ok {
		if !create {
			return nil, ErrNotExist
		}
		var err error
		e, err = a.tree.Add(path, false)
		if err != nil {
			return nil, err
		}
		if err := e.materialize(nil, 4096); err != nil {
			return nil, err
		}
	}
	if e.IsDir {
		return nil, ErrNotAFile
	}

	if err := a.materializeAll(); err != nil {
		return nil, err
	}
	if truncate {
		if err := e.resize(0); err != nil {
			return nil, err
		}
	}

	a.openWriteHandles++
	a.everWritable = true
	return &entryHandle{archive: a, entry: e, mode: modeWrite}, nil
}

// OpenAppend returns a writable handle on path positioned at the file's
// current end.
func (a *Archive) OpenAppend(path string, create bool) (IoStream, error) {
	h, err := a.OpenWrite(path, create, false)
	if err != nil {
		return nil, err
	}
	length, err := h.Length()
	if err != nil {
		h.Close()
		return nil, err
	}
	if err := h.Seek(length); err != nil {
		h.Close()
		return nil, err
	}
	return h, nil
}

// materializeAll snapshots every clean entry into an Owned region. No-op
// once the archive is already fully dirty.
func (a *Archive) materializeAll() error {
	for _, e := range a.tree.All() {
		if e.IsDir || e.Dirty() {
			continue
		}
		if err := e.materialize(a.backing, int(e.size)+vmemSlack); err != nil {
			return err
		}
	}
	return nil
}

const vmemSlack = 500

func (h *entryHandle) Read(buf []byte) (int, error) {
	if h.closed {
		return 0, ErrIO
	}
	if h.entry.Dirty() {
		h.releaseView()
		data := h.entry.bytes()
		if h.pos >= int64(len(data)) {
			return 0, io.EOF
		}
		n := copy(buf, data[h.pos:])
		h.pos += int64(n)
		return n, nil
	}
	if err := h.view.Seek(h.pos); err != nil {
		return 0, err
	}
	n, err := h.view.Read(buf)
	h.pos += int64(n)
	return n, err
}

// releaseView closes and clears h.view, if any. Called once the entry this
// handle targets has gone dirty (so the view's now-stale backing offset
// must not be read again) and on Close.
func (h *entryHandle) releaseView() {
	if h.view != nil {
		h.view.Close()
		h.view = nil
	}
}

func (h *entryHandle) Write(buf []byte) (int, error) {
	if h.closed {
		return 0, ErrIO
	}
	if h.mode != modeWrite {
		return 0, ErrReadOnly
	}
	if !h.entry.Dirty() {
		return 0, ErrReadOnly
	}
	end := h.pos + int64(len(buf))
	if end > h.entry.size {
		if err := h.entry.resize(end); err != nil {
			return 0, err
		}
	}
	n := copy(h.entry.bytes()[h.pos:end], buf)
	h.pos += int64(n)
	return n, nil
}

// Seek sets the handle's position. Write-mode handles may seek up to and
// including the entry's current size (the position one past the last
// written byte, where the next Write extends the file); read-mode handles
// may only seek strictly within it, since there is nothing to read at or
// past the end.
func (h *entryHandle) Seek(offset int64) error {
	if h.mode == modeRead {
		if offset >= h.entry.size {
			return ErrPastEOF
		}
	} else if offset > h.entry.size {
		return ErrPastEOF
	}
	h.pos = offset
	return nil
}

func (h *entryHandle) Tell() (int64, error) { return h.pos, nil }

func (h *entryHandle) Length() (int64, error) { return h.entry.size, nil }

func (h *entryHandle) Truncate(length int64) error {
	if h.mode != modeWrite {
		return ErrReadOnly
	}
	return h.entry.resize(length)
}

// Duplicate returns a new read-mode handle on the same entry, cursor reset
// to the start, with its own freshly duplicated backing view.
func (h *entryHandle) Duplicate() (IoStream, error) {
	dup := &entryHandle{archive: h.archive, entry: h.entry, mode: modeRead}
	if !h.entry.Dirty() {
		h.archive.mu.Lock()
		view, err := h.archive.newEntryView(h.entry)
		h.archive.mu.Unlock()
		if err != nil {
			return nil, err
		}
		dup.view = view
	}
	return dup, nil
}

func (h *entryHandle) Flush() error { return nil }

// Close releases the handle. For a write handle, it decrements the
// archive's open-write-handle count and triggers a rebuild once that
// count reaches zero, matching close_write_handle in the original source
// (minus its unconditional-rebuild defect: here the rebuild fires only
// for the last writer out).
func (h *entryHandle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	h.releaseView()
	if h.mode != modeWrite {
		return nil
	}
	h.archive.mu.Lock()
	h.archive.openWriteHandles--
	last := h.archive.openWriteHandles == 0
	h.archive.mu.Unlock()
	if last {
		return h.archive.Rebuild()
	}
	return nil
}
