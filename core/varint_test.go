package core

import (
	"bytes"
	"testing"
)

func TestVarintRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		v    uint32
		size int
	}{
		{"zero", 0, 1},
		{"one-byte-max", 1<<7 - 1, 1},
		{"two-byte-min", 1 << 7, 2},
		{"two-byte-max", 1<<14 - 1, 2},
		{"three-byte-min", 1 << 14, 3},
		{"three-byte-max", 1<<21 - 1, 3},
		{"four-byte-min", 1 << 21, 4},
		{"four-byte-max", 1<<28 - 1, 4},
		{"five-byte-min", 1 << 28, 5},
		{"five-byte-max", ^uint32(0), 5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := VarintSize(tc.v); got != tc.size {
				t.Fatalf("VarintSize(%d) = %d, want %d", tc.v, got, tc.size)
			}
			enc := WriteVarint(nil, tc.v)
			if len(enc) != tc.size {
				t.Fatalf("WriteVarint(%d) produced %d bytes, want %d", tc.v, len(enc), tc.size)
			}
			got, n, err := ReadVarint(enc)
			if err != nil {
				t.Fatalf("ReadVarint: %v", err)
			}
			if n != tc.size {
				t.Fatalf("ReadVarint consumed %d bytes, want %d", n, tc.size)
			}
			if got != tc.v {
				t.Fatalf("ReadVarint = %d, want %d", got, tc.v)
			}
		})
	}
}

func TestWriteVarintAppends(t *testing.T) {
	dst := []byte{0xff, 0xee}
	out := WriteVarint(dst, 1)
	if !bytes.HasPrefix(out, []byte{0xff, 0xee}) {
		t.Fatalf("WriteVarint did not preserve dst prefix: %x", out)
	}
	if len(out) != 3 {
		t.Fatalf("len(out) = %d, want 3", len(out))
	}
}

func TestReadVarintTrailingBytesIgnored(t *testing.T) {
	enc := WriteVarint(nil, 300)
	enc = append(enc, 0x01, 0x02, 0x03)
	v, n, err := ReadVarint(enc)
	if err != nil {
		t.Fatalf("ReadVarint: %v", err)
	}
	if v != 300 {
		t.Fatalf("v = %d, want 300", v)
	}
	if n != VarintSize(300) {
		t.Fatalf("n = %d, want %d", n, VarintSize(300))
	}
}

func TestReadVarintBufferTooShort(t *testing.T) {
	enc := WriteVarint(nil, 1<<20) // multi-byte encoding
	truncated := enc[:len(enc)-1]
	_, _, err := ReadVarint(truncated)
	if err != ErrBufferTooShort {
		t.Fatalf("err = %v, want ErrBufferTooShort", err)
	}
}

func TestReadVarintEmptyBuffer(t *testing.T) {
	_, _, err := ReadVarint(nil)
	if err != ErrBufferTooShort {
		t.Fatalf("err = %v, want ErrBufferTooShort", err)
	}
}

func TestReadVarintExceedsFiveBytes(t *testing.T) {
	p := []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x00}
	_, _, err := ReadVarint(p)
	if err == nil {
		t.Fatal("expected error for >5 byte varint")
	}
}

func TestMultipleValuesConcatenate(t *testing.T) {
	var buf []byte
	values := []uint32{0, 127, 128, 16384, 1 << 28, 42}
	for _, v := range values {
		buf = WriteVarint(buf, v)
	}
	pos := 0
	for _, want := range values {
		got, n, err := ReadVarint(buf[pos:])
		if err != nil {
			t.Fatalf("ReadVarint at pos %d: %v", pos, err)
		}
		if got != want {
			t.Fatalf("got %d, want %d", got, want)
		}
		pos += n
	}
	if pos != len(buf) {
		t.Fatalf("consumed %d bytes, buffer is %d", pos, len(buf))
	}
}
