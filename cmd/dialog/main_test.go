package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/room4-2/realtimedialog/dialog"
	"github.com/room4-2/realtimedialog/protocol"
	"github.com/room4-2/realtimedialog/recording"
)

func TestCommands(t *testing.T) {
	app := newApp()

	want := map[string][]string{
		"talk":   {"input", "tail", "max-rounds", "output", "record", "archive"},
		"text":   {"max-rounds", "output", "no-play", "profile"},
		"replay": {"realtime", "audio-out", "verbose"},
	}
	for name, flags := range want {
		cmd := app.Command(name)
		if cmd == nil {
			t.Errorf("missing command %q", name)
			continue
		}
		have := map[string]bool{}
		for _, f := range cmd.Flags {
			have[f.Names()[0]] = true
		}
		for _, f := range flags {
			if !have[f] {
				t.Errorf("%s: missing --%s", name, f)
			}
		}
	}
}

func TestSilenceBytes(t *testing.T) {
	tests := []struct {
		tail time.Duration
		want int
	}{
		{0, 0},
		{-time.Second, 0},
		{20 * time.Millisecond, 640},
		{3 * time.Second, 96000},
	}
	for _, tt := range tests {
		if got := silenceBytes(tt.tail); got != tt.want {
			t.Errorf("silenceBytes(%v) = %d, want %d", tt.tail, got, tt.want)
		}
	}
}

func TestReadQueries(t *testing.T) {
	got, err := readQueries(strings.NewReader("你好\n\n  讲个笑话  \n"))
	if err != nil {
		t.Fatalf("readQueries: %v", err)
	}
	if len(got) != 2 || got[0] != "你好" || got[1] != "讲个笑话" {
		t.Errorf("readQueries = %q", got)
	}
}

func writeRecording(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	w := recording.NewWriter(f)
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	events := []dialog.Event{
		{ID: protocol.EventSessionStarted, Raw: []byte(`{"dialog_id":"d1"}`)},
		{ID: protocol.EventASRResponse, Raw: []byte(`{"results":[{"text":"你好","is_interim":false}]}`)},
		{ID: protocol.EventChatResponse, Raw: []byte(`{"content":"你好！"}`)},
		{ID: protocol.EventTTSResponse, Raw: []byte{1, 2, 3, 4}},
		{ID: protocol.EventChatEnded, Raw: []byte(`{}`)},
		{ID: protocol.EventTTSResponse, Raw: []byte{5, 6}},
		{ID: protocol.EventTTSEnded, Raw: []byte(`{}`)},
	}
	for i, ev := range events {
		ev.HasID = true
		ev.Category = ev.ID.Category()
		ev.SessionID = "sess-1"
		if err := w.Write(recording.NewEntry(ev, at.Add(time.Duration(i)*time.Millisecond))); err != nil {
			t.Fatalf("write entry: %v", err)
		}
	}
}

func TestReplay(t *testing.T) {
	dir := t.TempDir()
	rec := filepath.Join(dir, "session.rec")
	out := filepath.Join(dir, "reply.pcm")
	writeRecording(t, rec)

	var stdout bytes.Buffer
	app := newApp()
	app.Writer = &stdout
	app.ExitErrHandler = func(*cli.Context, error) {}

	if err := app.Run([]string{"dialog", "replay", "--audio-out", out, rec}); err != nil {
		t.Fatalf("replay: %v", err)
	}

	text := stdout.String()
	for _, want := range []string{"You: 你好", "Assistant: 你好！", "sess-1", "rounds   1"} {
		if !strings.Contains(text, want) {
			t.Errorf("missing %q in output:\n%s", want, text)
		}
	}

	pcm, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(pcm, []byte{1, 2, 3, 4, 5, 6}) {
		t.Errorf("audio = %v", pcm)
	}
}

func TestReplayRequiresFile(t *testing.T) {
	app := newApp()
	app.Writer = &bytes.Buffer{}
	app.ErrWriter = &bytes.Buffer{}
	app.ExitErrHandler = func(*cli.Context, error) {}

	if err := app.Run([]string{"dialog", "replay"}); err == nil {
		t.Fatal("replay without a file should fail")
	}
}
