// Package fuse mounts a sarc.Archive as a live, writable filesystem.
// There is one inode space and one archive: no cross-image lookups or
// union-of-images addressing.
package fuse

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path"
	"sync"
	"syscall"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"golang.org/x/xerrors"

	"sarcfs/sarc"
)

// Mount mounts archive at mountpoint and returns a join function that
// blocks until the filesystem is unmounted, so callers can wait on it
// from a signal handler.
func Mount(archive *sarc.Archive, mountpoint string) (join func(context.Context) error, err error) {
	fs := newSarcFS(archive)
	server := fuseutil.NewFileSystemServer(fs)

	cfg := &fuse.MountConfig{
		FSName:      "sarcfs",
		ReadOnly:    false,
		ErrorLogger: log.New(os.Stderr, "fuse: ", 0),
	}

	mfs, err := fuse.Mount(mountpoint, server, cfg)
	if err != nil {
		return nil, xerrors.Errorf("mounting %s: %w", mountpoint, err)
	}
	return mfs.Join, nil
}

// sarcFS implements fuseutil.FileSystem over a single sarc.Archive.
// Operations this archive format has no analogue for (symlinks, xattrs,
// hard links) are left to fuseutil.NotImplementedFileSystem's default
// ENOSYS; the sarc package has no symlink support.
type sarcFS struct {
	fuseutil.NotImplementedFileSystem

	archive *sarc.Archive

	mu         sync.Mutex
	pathOf     map[fuseops.InodeID]string
	inodeOf    map[string]fuseops.InodeID
	nextInode  fuseops.InodeID
	handles    map[fuseops.HandleID]sarc.IoStream
	nextHandle fuseops.HandleID
}

func newSarcFS(archive *sarc.Archive) *sarcFS {
	fs := &sarcFS{
		archive:    archive,
		pathOf:     map[fuseops.InodeID]string{fuseops.RootInodeID: ""},
		inodeOf:    map[string]fuseops.InodeID{"": fuseops.RootInodeID},
		nextInode:  fuseops.RootInodeID + 1,
		handles:    map[fuseops.HandleID]sarc.IoStream{},
		nextHandle: 1,
	}
	return fs
}

// inodeFor returns the stable inode ID for p, allocating a new one on
// first sight. A single archive only needs a monotonic counter, not a
// packed image/block/offset scheme for addressing across many images.
func (fs *sarcFS) inodeFor(p string) fuseops.InodeID {
	if id, ok := fs.inodeOf[p]; ok {
		return id
	}
	id := fs.nextInode
	fs.nextInode++
	fs.inodeOf[p] = id
	fs.pathOf[id] = p
	return id
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

func attrFor(st sarc.Stat) fuseops.InodeAttributes {
	mode := os.FileMode(0o644)
	switch {
	case st.IsDir:
		mode = os.ModeDir | 0o755
	case st.ReadOnly:
		mode = 0o444
	}
	return fuseops.InodeAttributes{
		Size:  uint64(st.Size),
		Nlink: 1,
		Mode:  mode,
		Uid:   uint32(os.Getuid()),
		Gid:   uint32(os.Getgid()),
	}
}

// translateErr maps sarc's sentinel errors to the errno values the
// kernel expects back over the FUSE protocol, per the error-translation
// table in SPEC_FULL.md's FUSE mount section.
func translateErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sarc.ErrNotExist):
		return syscall.ENOENT
	case errors.Is(err, sarc.ErrExist):
		return syscall.EEXIST
	case errors.Is(err, sarc.ErrPastEOF):
		return syscall.EINVAL
	case errors.Is(err, sarc.ErrReadOnly):
		return syscall.EACCES
	case errors.Is(err, sarc.ErrNotAFile):
		return syscall.EISDIR
	case errors.Is(err, sarc.ErrUnsupportedOp), errors.Is(err, sarc.ErrUnsupported):
		return syscall.ENOSYS
	default:
		return syscall.EIO
	}
}

func (fs *sarcFS) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	op.BlockSize = 4096
	op.Blocks = 1 << 20
	op.BlocksFree = 0
	op.BlocksAvailable = 0
	op.IoSize = 4096
	return nil
}

func (fs *sarcFS) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parent, ok := fs.pathOf[op.Parent]
	if !ok {
		return syscall.ENOENT
	}
	child := joinPath(parent, op.Name)
	st, err := fs.archive.Stat(child)
	if err != nil {
		return translateErr(err)
	}
	op.Entry.Child = fs.inodeFor(child)
	op.Entry.Attributes = attrFor(st)
	return nil
}

func (fs *sarcFS) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	fs.mu.Lock()
	p, ok := fs.pathOf[op.Inode]
	fs.mu.Unlock()
	if !ok {
		return syscall.ENOENT
	}
	st, err := fs.archive.Stat(p)
	if err != nil {
		return translateErr(err)
	}
	op.Attributes = attrFor(st)
	return nil
}

func (fs *sarcFS) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	fs.mu.Lock()
	p, ok := fs.pathOf[op.Inode]
	fs.mu.Unlock()
	if !ok {
		return syscall.ENOENT
	}
	st, err := fs.archive.Stat(p)
	if err != nil {
		return translateErr(err)
	}
	if !st.IsDir {
		return syscall.ENOTDIR
	}
	return nil
}

func (fs *sarcFS) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	fs.mu.Lock()
	p, ok := fs.pathOf[op.Inode]
	fs.mu.Unlock()
	if !ok {
		return syscall.ENOENT
	}

	var children []sarc.Stat
	if err := fs.archive.Enumerate(p, func(s sarc.Stat) error {
		children = append(children, s)
		return nil
	}); err != nil {
		return translateErr(err)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	for i := int(op.Offset); i < len(children); i++ {
		c := children[i]
		typ := fuseutil.DT_File
		if c.IsDir {
			typ = fuseutil.DT_Directory
		}
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], fuseutil.Dirent{
			Offset: fuseops.DirOffset(i + 1),
			Inode:  fs.inodeFor(c.Name),
			Name:   path.Base(c.Name),
			Type:   typ,
		})
		if n == 0 {
			break
		}
		op.BytesRead += n
	}
	return nil
}

func (fs *sarcFS) MkDir(ctx context.Context, op *fuseops.MkDirOp) error {
	fs.mu.Lock()
	parent, ok := fs.pathOf[op.Parent]
	fs.mu.Unlock()
	if !ok {
		return syscall.ENOENT
	}
	child := joinPath(parent, op.Name)
	if err := fs.archive.Mkdir(child); err != nil {
		return translateErr(err)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	st, err := fs.archive.Stat(child)
	if err != nil {
		return translateErr(err)
	}
	op.Entry.Child = fs.inodeFor(child)
	op.Entry.Attributes = attrFor(st)
	return nil
}

func (fs *sarcFS) CreateFile(ctx context.Context, op *fuseops.CreateFileOp) error {
	fs.mu.Lock()
	parent, ok := fs.pathOf[op.Parent]
	fs.mu.Unlock()
	if !ok {
		return syscall.ENOENT
	}
	child := joinPath(parent, op.Name)
	h, err := fs.archive.OpenWrite(child, true, true)
	if err != nil {
		return translateErr(err)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	handleID := fs.nextHandle
	fs.nextHandle++
	fs.handles[handleID] = h

	st, err := fs.archive.Stat(child)
	if err != nil {
		return translateErr(err)
	}
	op.Entry.Child = fs.inodeFor(child)
	op.Entry.Attributes = attrFor(st)
	op.Handle = &handleID
	return nil
}

func (fs *sarcFS) Unlink(ctx context.Context, op *fuseops.UnlinkOp) error {
	fs.mu.Lock()
	parent, ok := fs.pathOf[op.Parent]
	fs.mu.Unlock()
	if !ok {
		return syscall.ENOENT
	}
	return translateErr(fs.archive.Remove(joinPath(parent, op.Name)))
}

func (fs *sarcFS) RmDir(ctx context.Context, op *fuseops.RmDirOp) error {
	fs.mu.Lock()
	parent, ok := fs.pathOf[op.Parent]
	fs.mu.Unlock()
	if !ok {
		return syscall.ENOENT
	}
	return translateErr(fs.archive.Remove(joinPath(parent, op.Name)))
}

func (fs *sarcFS) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	fs.mu.Lock()
	p, ok := fs.pathOf[op.Inode]
	fs.mu.Unlock()
	if !ok {
		return syscall.ENOENT
	}

	var h sarc.IoStream
	var err error
	if op.OpenFlags.IsWriteOnly() || op.OpenFlags.IsReadWrite() {
		h, err = fs.archive.OpenWrite(p, false, false)
	} else {
		h, err = fs.archive.OpenRead(p)
	}
	if err != nil {
		return translateErr(err)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	id := fs.nextHandle
	fs.nextHandle++
	fs.handles[id] = h
	op.Handle = id
	op.KeepPageCache = false
	return nil
}

func (fs *sarcFS) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	fs.mu.Lock()
	h, ok := fs.handles[op.Handle]
	fs.mu.Unlock()
	if !ok {
		return syscall.EBADF
	}
	if err := h.Seek(op.Offset); err != nil {
		return translateErr(err)
	}
	n, err := readFull(h, op.Dst)
	op.BytesRead = n
	if err != nil && err != io.EOF {
		return translateErr(err)
	}
	return nil
}

func (fs *sarcFS) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) error {
	fs.mu.Lock()
	h, ok := fs.handles[op.Handle]
	fs.mu.Unlock()
	if !ok {
		return syscall.EBADF
	}
	if err := h.Seek(op.Offset); err != nil {
		return translateErr(err)
	}
	if _, err := h.Write(op.Data); err != nil {
		return translateErr(err)
	}
	return nil
}

func (fs *sarcFS) FlushFile(ctx context.Context, op *fuseops.FlushFileOp) error {
	fs.mu.Lock()
	h, ok := fs.handles[op.Handle]
	fs.mu.Unlock()
	if !ok {
		return syscall.EBADF
	}
	return translateErr(h.Flush())
}

func (fs *sarcFS) ReleaseFileHandle(ctx context.Context, op *fuseops.ReleaseFileHandleOp) error {
	fs.mu.Lock()
	h, ok := fs.handles[op.Handle]
	delete(fs.handles, op.Handle)
	fs.mu.Unlock()
	if !ok {
		return nil
	}
	return translateErr(h.Close())
}

func (fs *sarcFS) Destroy() {
	fs.archive.AbandonArchive()
}

// readFull reads until dst is full or the stream is exhausted — the same
// fill-as-much-as-possible contract FUSE's ReadFileOp expects. It returns
// the bytes read so far together with any error the stream reported,
// io.EOF included.
func readFull(h sarc.IoStream, dst []byte) (int, error) {
	total := 0
	for total < len(dst) {
		n, err := h.Read(dst[total:])
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
