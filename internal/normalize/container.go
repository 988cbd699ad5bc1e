package normalize

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"layeh.com/gopus"

	"github.com/MrWong99/vocalis/pkg/audio"
)

const (
	opusRate = 48000
	// opusMaxFrame is 120 ms at 48 kHz, the longest Opus frame.
	opusMaxFrame = 5760
)

// containerHints are the extensions the container strategy recognises.
var containerHints = map[string]bool{
	"ogg":  true,
	"opus": true,
	"webm": true,
	"mp4":  true,
	"m4a":  true,
}

// Container decodes by the declared container type. Ogg/Opus is demuxed and
// decoded in-process; the other accepted hints have no in-process codec and
// fail so the chain moves on to the transcoder.
type Container struct{}

// Name implements Strategy.
func (Container) Name() string { return "container" }

// Decode implements Strategy.
func (Container) Decode(ctx context.Context, path, ext string) (audio.PCM, error) {
	if !containerHints[ext] {
		return audio.PCM{}, fmt.Errorf("no container hint for %q", ext)
	}
	switch ext {
	case "ogg", "opus":
		f, err := os.Open(path)
		if err != nil {
			return audio.PCM{}, err
		}
		defer f.Close()
		return decodeOggOpus(ctx, f)
	default:
		return audio.PCM{}, fmt.Errorf("no in-process demuxer for %s", ext)
	}
}

func decodeOggOpus(ctx context.Context, r io.Reader) (audio.PCM, error) {
	or := newOggReader(r)
	head, err := or.NextPacket()
	if err != nil {
		return audio.PCM{}, fmt.Errorf("ogg: read header: %w", err)
	}
	if len(head) < 19 || !bytes.HasPrefix(head, []byte("OpusHead")) {
		return audio.PCM{}, errors.New("ogg: stream is not opus")
	}
	channels := int(head[9])
	if channels < 1 || channels > 2 {
		return audio.PCM{}, fmt.Errorf("opus: unsupported channel count %d", channels)
	}
	preSkip := int(binary.LittleEndian.Uint16(head[10:12])) * channels

	// OpusTags.
	if _, err := or.NextPacket(); err != nil {
		return audio.PCM{}, fmt.Errorf("ogg: read tags: %w", err)
	}

	dec, err := gopus.NewDecoder(opusRate, channels)
	if err != nil {
		return audio.PCM{}, fmt.Errorf("opus: %w", err)
	}

	var samples []float32
	for {
		if err := ctx.Err(); err != nil {
			return audio.PCM{}, err
		}
		pkt, err := or.NextPacket()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return audio.PCM{}, err
		}
		if len(pkt) == 0 {
			continue
		}
		pcm, err := dec.Decode(pkt, opusMaxFrame, false)
		if err != nil {
			return audio.PCM{}, fmt.Errorf("opus: decode packet: %w", err)
		}
		for _, s := range pcm {
			samples = append(samples, float32(s)/32768)
		}
	}
	if preSkip >= len(samples) {
		samples = nil
	} else {
		samples = samples[preSkip:]
	}
	return audio.PCM{Samples: samples, SampleRate: opusRate, Channels: channels}, nil
}
