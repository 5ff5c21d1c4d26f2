package audio

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWAVRoundTrip(t *testing.T) {
	pcm := []byte{1, 2, 3, 4, 5, 6}
	var buf bytes.Buffer
	f := Format{SampleRate: 16000, Channels: 1, BitDepth: 16}
	if err := WriteWAV(&buf, f, pcm); err != nil {
		t.Fatalf("WriteWAV failed: %v", err)
	}
	if buf.Len() != 44+len(pcm) {
		t.Errorf("size = %d", buf.Len())
	}

	got, data, err := ParseWAV(buf.Bytes())
	if err != nil {
		t.Fatalf("ParseWAV failed: %v", err)
	}
	if got != f || !bytes.Equal(data, pcm) {
		t.Errorf("parsed %+v %v", got, data)
	}
}

func TestParseWAVErrors(t *testing.T) {
	if _, _, err := ParseWAV([]byte("raw pcm data")); !errors.Is(err, ErrNotWAV) {
		t.Errorf("expected ErrNotWAV, got %v", err)
	}

	var buf bytes.Buffer
	_ = WriteWAV(&buf, Format{SampleRate: 16000, Channels: 1, BitDepth: 16}, nil)
	data := buf.Bytes()
	data[20] = 3 // IEEE float
	if _, _, err := ParseWAV(data); err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Errorf("expected unsupported encoding error, got %v", err)
	}
}

func TestLoadPCM(t *testing.T) {
	dir := t.TempDir()

	raw := filepath.Join(dir, "in.pcm")
	_ = os.WriteFile(raw, []byte{9, 9}, 0o600)
	if data, err := LoadPCM(raw, 16000); err != nil || !bytes.Equal(data, []byte{9, 9}) {
		t.Errorf("raw: %v %v", data, err)
	}

	var buf bytes.Buffer
	_ = WriteWAV(&buf, Format{SampleRate: 16000, Channels: 1, BitDepth: 16}, []byte{7, 7})
	wav := filepath.Join(dir, "in.wav")
	_ = os.WriteFile(wav, buf.Bytes(), 0o600)
	if data, err := LoadPCM(wav, 16000); err != nil || !bytes.Equal(data, []byte{7, 7}) {
		t.Errorf("wav: %v %v", data, err)
	}
	if _, err := LoadPCM(wav, 24000); err == nil {
		t.Error("expected sample rate mismatch")
	}
}
