package zstdio

import (
	"bytes"
	"io"
	"testing"

	"sarcfs/sarc"
)

func roundTrip(t *testing.T, content []byte, blockSize, dictIndex int) *Stream {
	t.Helper()
	dst, err := sarc.NewMemoryStream(len(content) + 64)
	if err != nil {
		t.Fatalf("NewMemoryStream: %v", err)
	}
	if err := Compress(dst, bytes.NewReader(content), blockSize, dictIndex); err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if err := dst.Seek(0); err != nil {
		t.Fatalf("Seek(0): %v", err)
	}
	s, err := Wrap(dst)
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	return s.(*Stream)
}

func TestCompressWrapRoundTrip(t *testing.T) {
	content := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog. "), 200)
	s := roundTrip(t, content, 64, noDict)
	defer s.Close()

	got, err := io.ReadAll(streamReader{s})
	if err != nil {
		t.Fatalf("reading decompressed stream: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("round trip mismatch: got %d bytes, want %d", len(got), len(content))
	}
}

func TestSeekRandomAccess(t *testing.T) {
	content := make([]byte, 4096)
	for i := range content {
		content[i] = byte(i)
	}
	s := roundTrip(t, content, 256, noDict)
	defer s.Close()

	for _, pos := range []int64{0, 300, 4000, 1, 4095, 255, 256} {
		if err := s.Seek(pos); err != nil {
			t.Fatalf("Seek(%d): %v", pos, err)
		}
		buf := make([]byte, 1)
		n, err := s.Read(buf)
		if n != 1 || err != nil {
			t.Fatalf("Read at %d: n=%d err=%v", pos, n, err)
		}
		if buf[0] != content[pos] {
			t.Errorf("byte at %d = %d, want %d", pos, buf[0], content[pos])
		}
	}
}

func TestDictionaryRoundTrip(t *testing.T) {
	dictData := bytes.Repeat([]byte("common-prefix-material"), 32)
	idx, err := AddDict(dictData)
	if err != nil {
		t.Fatalf("AddDict: %v", err)
	}

	content := append(append([]byte{}, dictData...), []byte(" plus a unique tail")...)
	s := roundTrip(t, content, 128, idx)
	defer s.Close()

	got, err := io.ReadAll(streamReader{s})
	if err != nil {
		t.Fatalf("reading: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("dictionary round trip mismatch: got %d bytes, want %d", len(got), len(content))
	}
}

func TestSeekPastEndFails(t *testing.T) {
	s := roundTrip(t, []byte("short"), 64, noDict)
	defer s.Close()
	if err := s.Seek(1000); err != sarc.ErrPastEOF {
		t.Errorf("Seek(past end) = %v, want ErrPastEOF", err)
	}
}
