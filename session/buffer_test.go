package session

import (
	"bytes"
	"errors"
	"testing"
)

func TestAudioBufferChunks(t *testing.T) {
	tests := []struct {
		name       string
		appends    []int
		wantChunks int
		wantRest   int
	}{
		{name: "empty", appends: nil, wantChunks: 0, wantRest: 0},
		{name: "partial", appends: []int{5}, wantChunks: 0, wantRest: 5},
		{name: "exact", appends: []int{8}, wantChunks: 1, wantRest: 0},
		{name: "across appends", appends: []int{3, 3, 3}, wantChunks: 1, wantRest: 1},
		{name: "several", appends: []int{20}, wantChunks: 2, wantRest: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ab := NewAudioBuffer(8, 1024)
			for _, n := range tt.appends {
				if err := ab.Append(make([]byte, n)); err != nil {
					t.Fatalf("Append failed: %v", err)
				}
			}
			chunks := ab.Chunks()
			if len(chunks) != tt.wantChunks {
				t.Errorf("chunks = %d, want %d", len(chunks), tt.wantChunks)
			}
			for _, c := range chunks {
				if len(c) != 8 {
					t.Errorf("chunk size = %d", len(c))
				}
			}
			if ab.Size() != tt.wantRest {
				t.Errorf("rest = %d, want %d", ab.Size(), tt.wantRest)
			}
		})
	}
}

func TestAudioBufferKeepsOrder(t *testing.T) {
	ab := NewAudioBuffer(4, 1024)
	_ = ab.Append([]byte{1, 2, 3})
	_ = ab.Append([]byte{4, 5, 6, 7, 8, 9})

	chunks := ab.Chunks()
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(chunks))
	}
	if !bytes.Equal(chunks[0], []byte{1, 2, 3, 4}) || !bytes.Equal(chunks[1], []byte{5, 6, 7, 8}) {
		t.Errorf("chunks out of order: %v", chunks)
	}

	flushed := ab.Flush()
	if len(flushed) != 1 || !bytes.Equal(flushed[0], []byte{9, 0, 0, 0}) {
		t.Errorf("flush mismatch: %v", flushed)
	}
	if !ab.IsEmpty() {
		t.Errorf("buffer not empty after flush: %d", ab.Size())
	}
	if ab.Flush() != nil {
		t.Error("flush of empty buffer returned chunks")
	}
}

func TestAudioBufferLimit(t *testing.T) {
	ab := NewAudioBuffer(4, 10)
	if err := ab.Append(make([]byte, 8)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := ab.Append(make([]byte, 3)); !errors.Is(err, ErrBufferFull) {
		t.Errorf("expected ErrBufferFull, got %v", err)
	}
	ab.Chunks()
	if err := ab.Append(make([]byte, 3)); err != nil {
		t.Errorf("Append after draining failed: %v", err)
	}
	ab.Clear()
	if ab.Size() != 0 {
		t.Errorf("size after Clear = %d", ab.Size())
	}
}
