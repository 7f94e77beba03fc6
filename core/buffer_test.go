package core

import (
	"bytes"
	"testing"
)

func TestTBufAppendAndBytes(t *testing.T) {
	r := NewRegion(NewArena(0))
	b := NewTBuf(r)
	if err := b.Append([]byte("hello")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := b.Append([]byte(" world")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if got := string(b.Bytes()); got != "hello world" {
		t.Fatalf("Bytes() = %q, want %q", got, "hello world")
	}
	if b.Len() != len("hello world") {
		t.Fatalf("Len() = %d, want %d", b.Len(), len("hello world"))
	}
}

func TestTBufGrowsPastMinAlloc(t *testing.T) {
	r := NewRegion(NewArena(0))
	b := NewTBuf(r)
	big := bytes.Repeat([]byte{'x'}, tbufMinAlloc*3)
	if err := b.Append(big); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if b.Len() != len(big) {
		t.Fatalf("Len() = %d, want %d", b.Len(), len(big))
	}
	if !bytes.Equal(b.Bytes(), big) {
		t.Fatal("Bytes() content mismatch after growth")
	}
}

func TestTBufEnsureNoCopyWhenCapacitySuffices(t *testing.T) {
	r := NewRegion(NewArena(0))
	b := NewTBuf(r)
	if err := b.Ensure(64); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if err := b.Append([]byte("abc")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	before := &b.Bytes()[0]
	if err := b.Ensure(10); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if &b.Bytes()[0] != before {
		t.Fatal("Ensure reallocated although capacity sufficed")
	}
	if string(b.Bytes()) != "abc" {
		t.Fatalf("Bytes() = %q, want %q", b.Bytes(), "abc")
	}
}

func TestTBufPeekAdvancesReadHead(t *testing.T) {
	r := NewRegion(NewArena(0))
	b := NewTBuf(r)
	_ = b.Append([]byte("abcdef"))

	got, ok := b.Peek(3)
	if !ok {
		t.Fatal("Peek(3) returned ok=false")
	}
	if string(got) != "abc" {
		t.Fatalf("Peek(3) = %q, want %q", got, "abc")
	}
	if b.Remaining() != 3 {
		t.Fatalf("Remaining() = %d, want 3", b.Remaining())
	}

	got, ok = b.Peek(3)
	if !ok {
		t.Fatal("Peek(3) returned ok=false")
	}
	if string(got) != "def" {
		t.Fatalf("Peek(3) = %q, want %q", got, "def")
	}
	if b.Remaining() != 0 {
		t.Fatalf("Remaining() = %d, want 0", b.Remaining())
	}
}

func TestTBufPeekBeyondLengthFails(t *testing.T) {
	r := NewRegion(NewArena(0))
	b := NewTBuf(r)
	_ = b.Append([]byte("ab"))
	if _, ok := b.Peek(3); ok {
		t.Fatal("Peek(3) should fail on a 2-byte buffer")
	}
}

func TestTBufSplit(t *testing.T) {
	r := NewRegion(NewArena(0))
	b := NewTBuf(r)
	_ = b.Append([]byte("abcdefgh"))

	head, err := b.Split(3)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if string(head.Bytes()) != "abc" {
		t.Fatalf("head.Bytes() = %q, want %q", head.Bytes(), "abc")
	}
	if string(b.Bytes()) != "defgh" {
		t.Fatalf("b.Bytes() = %q, want %q", b.Bytes(), "defgh")
	}
}

func TestTBufSplitBeyondLengthPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic splitting beyond buffer length")
		}
	}()
	r := NewRegion(NewArena(0))
	b := NewTBuf(r)
	_ = b.Append([]byte("ab"))
	_, _ = b.Split(5)
}
