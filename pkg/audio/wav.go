package audio

import (
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// wavFormatPCM is the RIFF WAVE format tag for integer PCM.
const wavFormatPCM = 1

// ErrInvalidWAV is returned by [DecodeWAV] when the input is not a RIFF/WAVE
// stream the decoder understands.
var ErrInvalidWAV = errors.New("audio: invalid wav stream")

// DecodeWAV reads a complete RIFF/WAVE stream into a [PCM] clip. Sample rate
// and channel layout are taken from the fmt chunk unchanged.
func DecodeWAV(r io.ReadSeeker) (PCM, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return PCM{}, ErrInvalidWAV
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return PCM{}, fmt.Errorf("audio: decode wav: %w", err)
	}
	if buf == nil || buf.Format == nil {
		return PCM{}, ErrInvalidWAV
	}
	depth := buf.SourceBitDepth
	if depth == 0 {
		depth = int(dec.BitDepth)
	}
	return PCM{
		Samples:    IntToFloat32(buf.Data, depth),
		SampleRate: buf.Format.SampleRate,
		Channels:   buf.Format.NumChannels,
	}, nil
}

// EncodeWAV renders p as a 16-bit PCM RIFF/WAVE file. Recognizer back-ends
// that accept uploads (whisper.cpp server, OpenAI) receive this encoding.
func EncodeWAV(p PCM) ([]byte, error) {
	if p.Channels <= 0 || p.SampleRate <= 0 {
		return nil, fmt.Errorf("audio: encode wav: invalid format %s", formatString(p.SampleRate, p.Channels))
	}
	ws := &writeSeeker{}
	enc := wav.NewEncoder(ws, p.SampleRate, 16, p.Channels, wavFormatPCM)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: p.Channels, SampleRate: p.SampleRate},
		Data:           Float32ToInt16(p.Samples),
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("audio: encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("audio: encode wav: %w", err)
	}
	return ws.buf, nil
}

// writeSeeker is an in-memory [io.WriteSeeker]; the WAV encoder seeks back to
// patch chunk sizes once all samples are written.
type writeSeeker struct {
	buf []byte
	pos int
}

func (w *writeSeeker) Write(p []byte) (int, error) {
	end := w.pos + len(p)
	if end > len(w.buf) {
		w.buf = append(w.buf, make([]byte, end-len(w.buf))...)
	}
	copy(w.buf[w.pos:end], p)
	w.pos = end
	return len(p), nil
}

func (w *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(w.pos) + offset
	case io.SeekEnd:
		abs = int64(len(w.buf)) + offset
	default:
		return 0, fmt.Errorf("audio: seek: invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, errors.New("audio: seek: negative position")
	}
	w.pos = int(abs)
	return abs, nil
}
