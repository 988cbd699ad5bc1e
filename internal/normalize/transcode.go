package normalize

import (
	"context"
	"errors"

	"github.com/MrWong99/vocalis/pkg/audio"
)

// Transcode delegates decoding to the external transcoder, which emits mono
// float32 samples at [audio.TargetRate].
type Transcode struct {
	Transcoder Transcoder
}

// Name implements Strategy.
func (Transcode) Name() string { return "transcoder" }

// Decode implements Strategy.
func (t Transcode) Decode(ctx context.Context, path, _ string) (audio.PCM, error) {
	if t.Transcoder == nil {
		return audio.PCM{}, errors.New("no transcoder configured")
	}
	samples, err := t.Transcoder.DecodeFloat32(ctx, path)
	if err != nil {
		return audio.PCM{}, err
	}
	return audio.PCM{Samples: samples, SampleRate: audio.TargetRate, Channels: 1}, nil
}
