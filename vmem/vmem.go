// Package vmem implements per-entry growable memory regions backed by
// reserved virtual address space, the way archiver_sarc's C source manages
// SARC entry buffers: reserve a large range up front, commit only the
// prefix that is actually in use, and grow the committed prefix in place
// whenever possible so pointers handed out to callers stay valid.
//
// When the mmap reservation fails, Reserve falls back to a plain
// allocation and growth beyond it is done by reallocate-and-copy, as the
// original source's Nintendo Switch branch does (no virtual memory
// reservation primitive on that kernel). The package uses
// golang.org/x/sys/unix and builds only on Unix-like systems.
package vmem

import (
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// Slack is the number of extra bytes committed beyond a requested growth,
// matching the original resize_entry's "len + 500".
const Slack = 500

// Region is a growable memory region. The zero value is not usable; create
// one with Reserve.
type Region struct {
	mem      []byte // mmap'd (or fallback-allocated) backing storage
	reserved int    // length of mem
	size     int    // bytes currently committed and valid
	mmapped  bool   // true if mem came from unix.Mmap and must be Munmap'd
}

// Reserve acquires a region able to hold at least size bytes without
// committing physical memory for all of it upfront. The platform's mmap is
// used with PROT_NONE so the reservation costs no RAM; Commit later makes a
// prefix readable/writable.
func Reserve(size int) (*Region, error) {
	if size <= 0 {
		size = 1
	}
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		// No reservation-without-commit primitive available (or address
		// space exhausted): fall back to a plain allocation. Owned
		// regions must still be stable for the life of the archive, so
		// this is a legal substitute per the VMem contract.
		return &Region{mem: make([]byte, size), reserved: size}, nil
	}
	return &Region{mem: mem, reserved: size, mmapped: true}, nil
}

// Commit makes the first n bytes of the region readable and writable,
// extending a previous commit idempotently.
func (r *Region) Commit(n int) error {
	if n > r.reserved {
		return xerrors.Errorf("commit %d exceeds reserved %d", n, r.reserved)
	}
	if r.mmapped && n > 0 {
		if err := unix.Mprotect(r.mem[:n], unix.PROT_READ|unix.PROT_WRITE); err != nil {
			return xerrors.Errorf("mprotect: %w", err)
		}
	}
	if n > r.size {
		r.size = n
	}
	return nil
}

// Resize grows or shrinks the region's logical size to newLen, extending
// the commit (or reallocating and copying, if no adjacent virtual space is
// available) as needed. It hides from callers whether commit-extend or
// reserve-relocate-copy was used; callers must re-fetch Bytes() afterward,
// since the backing slice may have moved.
func (r *Region) Resize(newLen int) error {
	if newLen <= r.reserved {
		if err := r.Commit(newLen); err == nil {
			r.size = newLen
			return nil
		}
		// fall through to reallocation below
	}

	newReserved := newLen
	if newLen > r.reserved {
		newReserved = newLen + Slack
	}

	fresh, err := Reserve(newReserved)
	if err != nil {
		return xerrors.Errorf("reserve %d: %w", newReserved, err)
	}
	copyLen := r.size
	if newLen < copyLen {
		copyLen = newLen
	}
	if err := fresh.Commit(newLen); err != nil {
		fresh.Release()
		return xerrors.Errorf("commit %d: %w", newLen, err)
	}
	copy(fresh.mem[:copyLen], r.mem[:copyLen])
	r.Release()
	*r = *fresh
	r.size = newLen
	return nil
}

// Bytes returns the region's currently committed bytes. The returned slice
// is only valid until the next Resize call.
func (r *Region) Bytes() []byte {
	return r.mem[:r.size]
}

// Len reports the region's current logical size.
func (r *Region) Len() int {
	return r.size
}

// Release returns both the virtual range and any committed storage.
func (r *Region) Release() {
	if r.mmapped && r.mem != nil {
		unix.Munmap(r.mem)
	}
	r.mem = nil
	r.reserved = 0
	r.size = 0
}
