package resilience

import (
	"context"
	"errors"
	"strings"

	"github.com/MrWong99/vocalis/pkg/audio"
	"github.com/MrWong99/vocalis/pkg/provider/stt"
)

// Recognizer implements [stt.Recognizer] by failing over across several
// back-ends. Audio the back-ends reject as unsupported is not retried
// elsewhere and does not trip a breaker.
type Recognizer struct {
	group *FallbackGroup[stt.Recognizer]
}

var _ stt.Recognizer = (*Recognizer)(nil)

// NewRecognizer creates a failover recognizer with primary preferred. The
// primary's Name labels its breaker.
func NewRecognizer(primary stt.Recognizer, cfg FallbackConfig) *Recognizer {
	if cfg.Permanent == nil {
		cfg.Permanent = func(err error) bool {
			return errors.Is(err, stt.ErrUnsupportedAudio)
		}
	}
	return &Recognizer{group: NewFallbackGroup(primary, primary.Name(), cfg)}
}

// AddFallback registers another back-end, tried after all earlier ones.
func (r *Recognizer) AddFallback(rec stt.Recognizer) {
	r.group.AddFallback(rec.Name(), rec)
}

// Recognize implements [stt.Recognizer].
func (r *Recognizer) Recognize(ctx context.Context, pcm audio.PCM, opts stt.Options) (stt.Transcript, error) {
	return ExecuteWithResult(ctx, r.group, func(rec stt.Recognizer) (stt.Transcript, error) {
		return rec.Recognize(ctx, pcm, opts)
	})
}

// Name returns "fallback(a,b,...)".
func (r *Recognizer) Name() string {
	return "fallback(" + strings.Join(r.group.Names(), ",") + ")"
}

// States exposes each back-end's breaker state for health reporting.
func (r *Recognizer) States() map[string]State {
	return r.group.States()
}
