package normalize

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ValidateAndRepair checks whether path is a WAV file with an intact RIFF
// header. Files that pass are returned unchanged. Broken WAVs and every other
// container are transcoded into a new WAV in the scratch directory; temp is
// then true and the caller owns the returned file.
//
// On error the original path is returned with temp false and nothing is left
// behind in the scratch directory.
func (n *Normalizer) ValidateAndRepair(ctx context.Context, path string) (repaired string, temp bool, err error) {
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		ok, err := hasRIFFHeader(path)
		if err != nil {
			return path, false, fmt.Errorf("normalize: read header: %w", err)
		}
		if ok {
			return path, false, nil
		}
	}

	if n.transcoder == nil {
		return path, false, ErrNoTranscoder
	}
	if err := os.MkdirAll(n.scratchDir, 0o750); err != nil {
		return path, false, fmt.Errorf("normalize: create scratch dir: %w", err)
	}
	f, err := os.CreateTemp(n.scratchDir, "repaired-*.wav")
	if err != nil {
		return path, false, fmt.Errorf("normalize: create temp file: %w", err)
	}
	out := f.Name()
	f.Close()

	if err := n.transcoder.ToWAV(ctx, path, out); err != nil {
		_ = os.Remove(out)
		return path, false, fmt.Errorf("normalize: repair %s: %w", filepath.Base(path), err)
	}
	return out, true, nil
}

// hasRIFFHeader reports whether bytes [0:4] are "RIFF" and [8:12] are "WAVE".
func hasRIFFHeader(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	var hdr [12]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		// Shorter than a header: not a valid WAV.
		return false, nil
	}
	return string(hdr[0:4]) == "RIFF" && string(hdr[8:12]) == "WAVE", nil
}
