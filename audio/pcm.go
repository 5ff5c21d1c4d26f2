package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// Format describes a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// ErrNotWAV is returned by ParseWAV for data without a RIFF/WAVE header.
var ErrNotWAV = errors.New("not a WAV file")

// ParseWAV returns the format and sample data of a PCM WAV file.
func ParseWAV(data []byte) (Format, []byte, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Format{}, nil, ErrNotWAV
	}

	var f Format
	haveFmt := false
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if size < 0 || body+size > len(data) {
			size = len(data) - body
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return Format{}, nil, fmt.Errorf("fmt chunk too short: %d", size)
			}
			if tag := binary.LittleEndian.Uint16(data[body:]); tag != 1 {
				return Format{}, nil, fmt.Errorf("unsupported WAV encoding %d", tag)
			}
			f.Channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			f.SampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
			f.BitDepth = int(binary.LittleEndian.Uint16(data[body+14:]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return Format{}, nil, errors.New("data chunk before fmt chunk")
			}
			return f, data[body : body+size], nil
		}
		// Chunks are word aligned
		off = body + size + size%2
	}
	return Format{}, nil, errors.New("no data chunk")
}

// LoadPCM reads a capture file. WAV files must be 16-bit mono at
// sampleRate; anything else is taken as raw s16le PCM.
func LoadPCM(path string, sampleRate int) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	format, pcm, err := ParseWAV(data)
	if errors.Is(err, ErrNotWAV) {
		return data, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if format.BitDepth != 16 || format.Channels != 1 || format.SampleRate != sampleRate {
		return nil, fmt.Errorf("%s: need 16-bit mono %dHz, got %d-bit %dch %dHz",
			path, sampleRate, format.BitDepth, format.Channels, format.SampleRate)
	}
	return pcm, nil
}

// WriteWAV writes pcm with a WAV header.
func WriteWAV(w io.Writer, f Format, pcm []byte) error {
	blockAlign := f.Channels * f.BitDepth / 8
	header := make([]byte, 0, 44)
	header = append(header, "RIFF"...)
	header = binary.LittleEndian.AppendUint32(header, uint32(36+len(pcm)))
	header = append(header, "WAVEfmt "...)
	header = binary.LittleEndian.AppendUint32(header, 16)
	header = binary.LittleEndian.AppendUint16(header, 1)
	header = binary.LittleEndian.AppendUint16(header, uint16(f.Channels))
	header = binary.LittleEndian.AppendUint32(header, uint32(f.SampleRate))
	header = binary.LittleEndian.AppendUint32(header, uint32(f.SampleRate*blockAlign))
	header = binary.LittleEndian.AppendUint16(header, uint16(blockAlign))
	header = binary.LittleEndian.AppendUint16(header, uint16(f.BitDepth))
	header = append(header, "data"...)
	header = binary.LittleEndian.AppendUint32(header, uint32(len(pcm)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(pcm)
	return err
}
