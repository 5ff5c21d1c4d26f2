// Package recording persists dialogue events as length-prefixed msgpack
// records so a conversation can be replayed offline.
//
// Each record is a 4-byte big-endian length followed by a msgpack-encoded
// Entry.
package recording

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/room4-2/realtimedialog/dialog"
	"github.com/room4-2/realtimedialog/protocol"
)

const (
	// MaxRecordSize bounds a single record.
	MaxRecordSize = 16 * 1024 * 1024
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4
)

// ErrTruncated is returned when the stream ends inside a record.
var ErrTruncated = errors.New("truncated record")

// Entry is one recorded event.
type Entry struct {
	At        time.Time `msgpack:"at"`
	EventID   uint32    `msgpack:"event_id"`
	HasID     bool      `msgpack:"has_id"`
	ConnectID string    `msgpack:"connect_id,omitempty"`
	SessionID string    `msgpack:"session_id,omitempty"`
	Payload   []byte    `msgpack:"payload"`
	Suspect   bool      `msgpack:"suspect,omitempty"`
	Error     string    `msgpack:"error,omitempty"`
}

// NewEntry captures ev at time at.
func NewEntry(ev dialog.Event, at time.Time) Entry {
	e := Entry{
		At:        at.UTC(),
		EventID:   uint32(ev.ID),
		HasID:     ev.HasID,
		ConnectID: ev.ConnectID,
		SessionID: ev.SessionID,
		Payload:   ev.Raw,
		Suspect:   ev.Suspect,
	}
	if ev.Err != nil {
		e.Error = ev.Err.Error()
	}
	return e
}

// Event rebuilds the dialogue event. Structured payloads are parsed back
// into Payload; remote errors come back as plain errors.
func (e Entry) Event() dialog.Event {
	ev := dialog.Event{
		HasID:     e.HasID,
		ConnectID: e.ConnectID,
		SessionID: e.SessionID,
		Raw:       e.Payload,
		Suspect:   e.Suspect,
	}
	if e.HasID {
		ev.ID = protocol.EventID(e.EventID)
		ev.Category = ev.ID.Category()
	}
	if !ev.ID.CarriesAudio() && len(e.Payload) > 0 {
		var obj map[string]any
		if protocol.UnmarshalJSON(e.Payload, &obj) == nil {
			ev.Payload = obj
		}
	}
	if e.Error != "" {
		ev.Err = errors.New(e.Error)
	}
	return ev
}

// Writer appends entries to a stream. It is safe for concurrent use.
type Writer struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

// NewWriter creates a Writer on w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, now: time.Now}
}

// Record writes ev stamped with the current time.
func (w *Writer) Record(ev dialog.Event) error {
	return w.Write(NewEntry(ev, w.now()))
}

// Write appends one entry.
func (w *Writer) Write(e Entry) error {
	payload, err := msgpack.Marshal(&e)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	if len(payload) > MaxRecordSize {
		return fmt.Errorf("entry size %d exceeds maximum %d", len(payload), MaxRecordSize)
	}

	buf := make([]byte, LengthPrefixSize, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	buf = append(buf, payload...)

	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = w.w.Write(buf)
	return err
}

// Reader reads entries written by Writer.
type Reader struct {
	r io.Reader
}

// NewReader creates a Reader on r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Next returns the next entry. It returns io.EOF at a clean end of stream
// and ErrTruncated when the stream stops inside a record.
func (r *Reader) Next() (Entry, error) {
	var lengthBuf [LengthPrefixSize]byte
	if _, err := io.ReadFull(r.r, lengthBuf[:]); err != nil {
		if err == io.EOF {
			return Entry{}, io.EOF
		}
		return Entry{}, fmt.Errorf("%w: length prefix: %v", ErrTruncated, err)
	}

	size := binary.BigEndian.Uint32(lengthBuf[:])
	if size > MaxRecordSize {
		return Entry{}, fmt.Errorf("record size %d exceeds maximum %d", size, MaxRecordSize)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return Entry{}, fmt.Errorf("%w: payload: %v", ErrTruncated, err)
	}

	var e Entry
	if err := msgpack.Unmarshal(payload, &e); err != nil {
		return Entry{}, fmt.Errorf("decode entry: %w", err)
	}
	return e, nil
}

// ReadAll returns every entry in r.
func ReadAll(r io.Reader) ([]Entry, error) {
	reader := NewReader(r)
	var entries []Entry
	for {
		e, err := reader.Next()
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			return entries, err
		}
		entries = append(entries, e)
	}
}
