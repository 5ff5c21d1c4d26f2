// Package audio moves raw PCM between sox, files and the command line tools.
package audio

import (
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
)

// Player streams s16le mono PCM to the default output device via sox.
type Player struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	mu     sync.Mutex
	closed bool
}

// NewPlayer starts sox at sampleRate. It fails when sox is not installed.
func NewPlayer(sampleRate int) (*Player, error) {
	cmd := exec.Command("sox",
		"-q",
		"-t", "raw",
		"-r", strconv.Itoa(sampleRate),
		"-b", "16",
		"-c", "1",
		"-e", "signed-integer",
		"-",
		"-d",
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("sox stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start sox (is it installed?): %w", err)
	}
	return &Player{cmd: cmd, stdin: stdin}, nil
}

// Write queues audio for playback.
func (p *Player) Write(audio []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, io.ErrClosedPipe
	}
	return p.stdin.Write(audio)
}

// Close waits for queued audio to finish playing.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.stdin.Close()
	return p.cmd.Wait()
}

// Capture reads s16le mono PCM from the default input device via sox.
type Capture struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	once   sync.Once
}

// StartCapture starts recording at sampleRate.
func StartCapture(sampleRate int) (*Capture, error) {
	cmd := exec.Command("sox",
		"-q",
		"-d",
		"-t", "raw",
		"-r", strconv.Itoa(sampleRate),
		"-b", "16",
		"-c", "1",
		"-e", "signed-integer",
		"-",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("sox stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start sox (is it installed?): %w", err)
	}
	return &Capture{cmd: cmd, stdout: stdout}, nil
}

func (c *Capture) Read(p []byte) (int, error) {
	return c.stdout.Read(p)
}

// Close stops recording.
func (c *Capture) Close() error {
	c.once.Do(func() {
		if c.cmd.Process != nil {
			_ = c.cmd.Process.Kill()
		}
		_ = c.cmd.Wait()
	})
	return nil
}
