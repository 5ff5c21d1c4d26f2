package session

import (
	"errors"
	"sync"
)

// ErrBufferFull is returned when the buffer exceeds its maximum size
var ErrBufferFull = errors.New("audio buffer full")

// AudioBuffer re-chunks browser capture into fixed-size frames. Audio is
// held until the upstream session is ready to take it.
type AudioBuffer struct {
	pending   []byte
	chunkSize int
	maxSize   int
	mu        sync.Mutex
}

// NewAudioBuffer creates a buffer cutting chunkSize frames and holding at
// most maxSize bytes.
func NewAudioBuffer(chunkSize, maxSize int) *AudioBuffer {
	return &AudioBuffer{
		pending:   make([]byte, 0, chunkSize),
		chunkSize: chunkSize,
		maxSize:   maxSize,
	}
}

// MaxSize returns the maximum buffer size
func (ab *AudioBuffer) MaxSize() int {
	return ab.maxSize
}

// ChunkSize returns the frame size
func (ab *AudioBuffer) ChunkSize() int {
	return ab.chunkSize
}

// Append adds capture bytes to the buffer
// Returns ErrBufferFull if adding the data would exceed maxSize
func (ab *AudioBuffer) Append(data []byte) error {
	ab.mu.Lock()
	defer ab.mu.Unlock()

	if len(ab.pending)+len(data) > ab.maxSize {
		return ErrBufferFull
	}
	ab.pending = append(ab.pending, data...)
	return nil
}

// Chunks removes and returns every complete chunk. A trailing partial
// chunk stays buffered.
func (ab *AudioBuffer) Chunks() [][]byte {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	return ab.take(false)
}

// Flush removes and returns everything buffered. The final partial chunk
// is padded with silence.
func (ab *AudioBuffer) Flush() [][]byte {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	return ab.take(true)
}

func (ab *AudioBuffer) take(pad bool) [][]byte {
	n := len(ab.pending) / ab.chunkSize
	if pad && len(ab.pending)%ab.chunkSize != 0 {
		n++
	}
	if n == 0 {
		return nil
	}

	chunks := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		chunk := make([]byte, ab.chunkSize)
		copy(chunk, ab.pending[min(i*ab.chunkSize, len(ab.pending)):min((i+1)*ab.chunkSize, len(ab.pending))])
		chunks = append(chunks, chunk)
	}

	rest := len(ab.pending) - min(n*ab.chunkSize, len(ab.pending))
	copy(ab.pending, ab.pending[len(ab.pending)-rest:])
	ab.pending = ab.pending[:rest]
	return chunks
}

// Clear empties the buffer without returning data
func (ab *AudioBuffer) Clear() {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	ab.pending = ab.pending[:0]
}

// Size returns the current total buffered bytes
func (ab *AudioBuffer) Size() int {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	return len(ab.pending)
}

// IsEmpty returns true if nothing is buffered
func (ab *AudioBuffer) IsEmpty() bool {
	return ab.Size() == 0
}
