package normalize

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/gabriel-vasile/mimetype"
	"github.com/hajimehoshi/go-mp3"
	"github.com/mewkiz/flac"

	"github.com/MrWong99/vocalis/pkg/audio"
)

// Library sniffs the content type and decodes MP3, FLAC or WAV with pure-Go
// codecs.
type Library struct{}

// Name implements Strategy.
func (Library) Name() string { return "library" }

// Decode implements Strategy.
func (Library) Decode(_ context.Context, path, _ string) (audio.PCM, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return audio.PCM{}, fmt.Errorf("sniff content: %w", err)
	}
	switch {
	case mt.Is("audio/mpeg"):
		return decodeMP3(path)
	case mt.Is("audio/flac"):
		return decodeFLAC(path)
	case mt.Is("audio/wav"):
		f, err := os.Open(path)
		if err != nil {
			return audio.PCM{}, err
		}
		defer f.Close()
		return audio.DecodeWAV(f)
	default:
		return audio.PCM{}, fmt.Errorf("unsupported content type %s", mt.String())
	}
}

func decodeMP3(path string) (audio.PCM, error) {
	f, err := os.Open(path)
	if err != nil {
		return audio.PCM{}, err
	}
	defer f.Close()

	dec, err := mp3.NewDecoder(f)
	if err != nil {
		return audio.PCM{}, fmt.Errorf("mp3: %w", err)
	}
	// go-mp3 always emits 16-bit little-endian stereo.
	raw, err := io.ReadAll(dec)
	if err != nil && len(raw) == 0 {
		return audio.PCM{}, fmt.Errorf("mp3: %w", err)
	}
	raw = raw[:len(raw)-len(raw)%4]
	return audio.PCM{
		Samples:    audio.Int16ToFloat32(raw),
		SampleRate: dec.SampleRate(),
		Channels:   2,
	}, nil
}

func decodeFLAC(path string) (audio.PCM, error) {
	stream, err := flac.Open(path)
	if err != nil {
		return audio.PCM{}, fmt.Errorf("flac: %w", err)
	}
	defer stream.Close()

	channels := int(stream.Info.NChannels)
	bps := int(stream.Info.BitsPerSample)
	if channels == 0 || bps == 0 {
		return audio.PCM{}, errors.New("flac: missing stream info")
	}
	scale := float32(int64(1) << (bps - 1))

	var samples []float32
	for {
		frame, err := stream.ParseNext()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if len(samples) > 0 {
				break
			}
			return audio.PCM{}, fmt.Errorf("flac: %w", err)
		}
		n := int(frame.BlockSize)
		for i := range n {
			for ch := range channels {
				samples = append(samples, float32(frame.Subframes[ch].Samples[i])/scale)
			}
		}
	}
	return audio.PCM{
		Samples:    samples,
		SampleRate: int(stream.Info.SampleRate),
		Channels:   channels,
	}, nil
}
