package sarc

import "errors"

// Sentinel errors, compared with errors.Is. These mirror the error taxonomy
// of the PhysicsFS-style archiver this package replaces: bad magic is
// Unsupported (not a claim failure, just "not ours"), structural
// inconsistencies are Corrupt, and so on.
var (
	// ErrUnsupported means the backing stream is not a SARC (bad magic),
	// or is a big-endian SARC, which this package does not read.
	ErrUnsupported = errors.New("sarc: not a SARC archive")

	// ErrCorrupt means the SFAT/SFNT tables are structurally inconsistent,
	// or a rebuild found two entries hashing to the same filename_hash.
	ErrCorrupt = errors.New("sarc: corrupt archive")

	// ErrOutOfMemory means a heap or VMem reserve/commit call failed.
	ErrOutOfMemory = errors.New("sarc: out of memory")

	// ErrReadOnly means the operation is not permitted: Remove, a write on
	// a clean (non-Owned) entry, or a write or truncate through a
	// read-only stream or read-mode handle.
	ErrReadOnly = errors.New("sarc: read-only")

	// ErrNotAFile means OpenRead targeted a directory entry.
	ErrNotAFile = errors.New("sarc: not a file")

	// ErrPastEOF means a read-mode handle seek landed at or beyond the
	// entry's size, or a seek on another bounded stream went beyond its
	// length.
	ErrPastEOF = errors.New("sarc: seek past eof")

	// ErrIO means an I/O operation could not be carried out, such as a
	// Read or Write on a closed handle. Errors from the backing IoStream
	// are returned as they are, not wrapped in ErrIO.
	ErrIO = errors.New("sarc: i/o error")

	// ErrNotExist means the requested path has no entry.
	ErrNotExist = errors.New("sarc: no such entry")

	// ErrExist means Mkdir targeted a path already occupied by a
	// non-directory entry.
	ErrExist = errors.New("sarc: already exists")

	// ErrUnsupportedOp means the IoStream implementation does not support
	// the requested operation (e.g. Truncate on a read-only stream).
	ErrUnsupportedOp = errors.New("sarc: unsupported operation")
)
