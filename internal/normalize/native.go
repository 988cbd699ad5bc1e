package normalize

import (
	"context"
	"os"

	"github.com/MrWong99/vocalis/pkg/audio"
)

// Native decodes RIFF/WAVE files with a well-formed header.
type Native struct{}

// Name implements Strategy.
func (Native) Name() string { return "native" }

// Decode implements Strategy. The declared extension is ignored; a WAV file
// with the wrong name still decodes.
func (Native) Decode(_ context.Context, path, _ string) (audio.PCM, error) {
	f, err := os.Open(path)
	if err != nil {
		return audio.PCM{}, err
	}
	defer f.Close()
	return audio.DecodeWAV(f)
}
