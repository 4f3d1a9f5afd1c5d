package protocol

import (
	"errors"
	"io"
	"math"
	"testing"
)

func TestVarintRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 0x7F, 0x80, 300, 1 << 21, math.MaxUint64}
	e := NewEncoder()
	for _, v := range values {
		e.WriteUvarint(v)
	}
	d := NewDecoder(e.Bytes())
	for _, want := range values {
		got, err := d.ReadUvarint()
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("uvarint = %d, want %d", got, want)
		}
	}
	if !d.EOF() {
		t.Errorf("%d bytes left over", d.Remaining())
	}
}

func TestSvarintZigZag(t *testing.T) {
	// Small magnitudes stay small regardless of sign.
	for _, v := range []int64{-1, 1, -64, 63} {
		e := NewEncoder()
		e.WriteSvarint(v)
		if e.Len() != 1 {
			t.Errorf("svarint(%d) took %d bytes, want 1", v, e.Len())
		}
		got, err := NewDecoder(e.Bytes()).ReadSvarint()
		if err != nil {
			t.Fatal(err)
		}
		if got != v {
			t.Errorf("svarint round trip = %d, want %d", got, v)
		}
	}

	for _, v := range []int64{math.MinInt64, math.MaxInt64} {
		e := NewEncoder()
		e.WriteSvarint(v)
		got, err := NewDecoder(e.Bytes()).ReadSvarint()
		if err != nil {
			t.Fatal(err)
		}
		if got != v {
			t.Errorf("svarint round trip = %d, want %d", got, v)
		}
	}
}

func TestDecoderTruncatedInputs(t *testing.T) {
	e := NewEncoder()
	e.WriteString("hello")
	e.WriteFloat64(3.14)

	full := e.Bytes()
	for n := 0; n < len(full); n++ {
		d := NewDecoder(full[:n])
		if _, err := d.ReadString(); err == nil {
			if _, err := d.ReadFloat64(); err == nil {
				t.Fatalf("decode of %d/%d bytes succeeded", n, len(full))
			}
		}
	}
}

func TestDecoderStringLengthLimit(t *testing.T) {
	// A frame claiming a giant string must fail before allocating.
	e := NewEncoder()
	e.WriteUvarint(MaxStringLen + 1)
	d := NewDecoder(e.Bytes())
	if _, err := d.ReadString(); !errors.Is(err, ErrStringTooLong) && !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("err = %v", err)
	}
}

func TestDecoderCollectionCountLimit(t *testing.T) {
	e := NewEncoder()
	e.WriteUvarint(MaxCollectionCount + 1)
	d := NewDecoder(e.Bytes())
	if _, err := d.ReadCollectionCount(); err == nil {
		t.Fatal("oversized collection count accepted")
	}
}

func TestEncoderReset(t *testing.T) {
	e := NewEncoder()
	e.WriteString("first")
	e.Reset()
	e.WriteByte(0x42)
	if e.Len() != 1 || e.Bytes()[0] != 0x42 {
		t.Fatalf("after reset: len=%d bytes=%v", e.Len(), e.Bytes())
	}
}
