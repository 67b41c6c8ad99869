// Copyright 2025 Albatross Validators
//
// Framed Update Codec Tests
// Round-trip and truncation tests for the framed LevelUpdate codec.
//
package codec

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/albatross-validator/handel/pkg/handel"
)

func buildUpdate(t *testing.T, universe int) *handel.LevelUpdate {
	t.Helper()
	id, err := handel.IdentityFromIndices(universe, 0, 1)
	if err != nil {
		t.Fatalf("IdentityFromIndices: %v", err)
	}
	agg, err := handel.NewContribution(handel.Signature{}, id)
	if err != nil {
		t.Fatalf("NewContribution: %v", err)
	}
	return &handel.LevelUpdate{Aggregate: agg, Level: 1, Origin: 0}
}

func TestReaderWriterRoundTrip(t *testing.T) {
	universe := 4
	var buf bytes.Buffer

	w := NewWriter(&buf)
	update := buildUpdate(t, universe)
	if err := w.WriteUpdate(update); err != nil {
		t.Fatalf("WriteUpdate: %v", err)
	}

	r := NewReader(&buf, universe)
	decoded, err := r.ReadUpdate(context.Background())
	if err != nil {
		t.Fatalf("ReadUpdate: %v", err)
	}
	if decoded.Level != update.Level || decoded.Origin != update.Origin {
		t.Fatalf("decoded = %+v, want level=%d origin=%d", decoded, update.Level, update.Origin)
	}
}

func TestReaderMultipleFrames(t *testing.T) {
	universe := 4
	var buf bytes.Buffer
	w := NewWriter(&buf)

	u1 := buildUpdate(t, universe)
	u1.Level = 1
	u2 := buildUpdate(t, universe)
	u2.Level = 2

	if err := w.WriteUpdate(u1); err != nil {
		t.Fatalf("WriteUpdate 1: %v", err)
	}
	if err := w.WriteUpdate(u2); err != nil {
		t.Fatalf("WriteUpdate 2: %v", err)
	}

	r := NewReader(&buf, universe)
	first, err := r.ReadUpdate(context.Background())
	if err != nil {
		t.Fatalf("ReadUpdate first: %v", err)
	}
	if first.Level != 1 {
		t.Fatalf("first.Level = %d, want 1", first.Level)
	}
	second, err := r.ReadUpdate(context.Background())
	if err != nil {
		t.Fatalf("ReadUpdate second: %v", err)
	}
	if second.Level != 2 {
		t.Fatalf("second.Level = %d, want 2", second.Level)
	}

	if _, err := r.ReadUpdate(context.Background()); err != io.EOF {
		t.Fatalf("ReadUpdate at clean end = %v, want io.EOF", err)
	}
}

func TestReaderUnexpectedEndMidHeader(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0x00, 0x00}) // 2 of 4 header bytes
	r := NewReader(buf, 4)
	if _, err := r.ReadUpdate(context.Background()); err == nil {
		t.Fatal("expected an error reading a truncated header")
	}
}

func TestReaderUnexpectedEndMidPayload(t *testing.T) {
	universe := 4
	var full bytes.Buffer
	w := NewWriter(&full)
	if err := w.WriteUpdate(buildUpdate(t, universe)); err != nil {
		t.Fatalf("WriteUpdate: %v", err)
	}

	truncated := bytes.NewBuffer(full.Bytes()[:HeaderSize+2])
	r := NewReader(truncated, universe)
	if _, err := r.ReadUpdate(context.Background()); err == nil {
		t.Fatal("expected an error reading a truncated payload")
	}
}
