package vmem

import (
	"bytes"
	"testing"
)

func TestReserveCommit(t *testing.T) {
	r, err := Reserve(5 * 1024 * 1024) // 5 MiB reserve, committed incrementally below
	if err != nil {
		t.Fatal(err)
	}
	defer r.Release()

	if err := r.Commit(4); err != nil {
		t.Fatal(err)
	}
	copy(r.Bytes(), []byte("abcd"))
	if got, want := r.Bytes(), []byte("abcd"); !bytes.Equal(got, want) {
		t.Fatalf("Bytes() = %q, want %q", got, want)
	}
}

func TestResizeWithinReservation(t *testing.T) {
	r, err := Reserve(64)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Release()

	if err := r.Commit(4); err != nil {
		t.Fatal(err)
	}
	copy(r.Bytes(), []byte("data"))

	if err := r.Resize(10); err != nil {
		t.Fatal(err)
	}
	if got, want := r.Len(), 10; got != want {
		t.Fatalf("Len() = %d, want %d", got, want)
	}
	// Entry-stability invariant: the first min(old,new) bytes survive resize.
	if got, want := r.Bytes()[:4], []byte("data"); !bytes.Equal(got, want) {
		t.Fatalf("Bytes()[:4] = %q, want %q", got, want)
	}
}

func TestResizeBeyondReservationReallocates(t *testing.T) {
	r, err := Reserve(8)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Release()

	if err := r.Commit(4); err != nil {
		t.Fatal(err)
	}
	copy(r.Bytes(), []byte("abcd"))

	// Grow well beyond the original reservation of 8 bytes.
	if err := r.Resize(32); err != nil {
		t.Fatal(err)
	}
	if got, want := r.Len(), 32; got != want {
		t.Fatalf("Len() = %d, want %d", got, want)
	}
	if got, want := r.Bytes()[:4], []byte("abcd"); !bytes.Equal(got, want) {
		t.Fatalf("Bytes()[:4] = %q, want %q (content must survive reallocating growth)", got, want)
	}
	copy(r.Bytes()[4:], bytes.Repeat([]byte{'x'}, 28))
	if got, want := r.Bytes()[31], byte('x'); got != want {
		t.Fatalf("Bytes()[31] = %q, want %q", got, want)
	}
}

func TestResizeShrink(t *testing.T) {
	r, err := Reserve(64)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Release()

	if err := r.Commit(32); err != nil {
		t.Fatal(err)
	}
	copy(r.Bytes(), bytes.Repeat([]byte{'y'}, 32))

	if err := r.Resize(8); err != nil {
		t.Fatal(err)
	}
	if got, want := r.Len(), 8; got != want {
		t.Fatalf("Len() = %d, want %d", got, want)
	}
}
