package health

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/MrWong99/vocalis/internal/resilience"
)

// Transcoder reports whether the external transcoder binary can be found.
// It is optional: in-process decoders keep working without it.
func Transcoder(available func() (string, error)) Checker {
	return Checker{
		Name:     "transcoder",
		Optional: true,
		Check: func(context.Context) error {
			_, err := available()
			return err
		},
	}
}

// Breakers fails when every recognizer breaker is open, which means no
// back-end will accept a request until a reset timeout elapses.
func Breakers(states func() map[string]resilience.State) Checker {
	return Checker{
		Name: "recognizer",
		Check: func(context.Context) error {
			var open []string
			st := states()
			for name, s := range st {
				if s == resilience.StateOpen {
					open = append(open, name)
				}
			}
			if len(st) > 0 && len(open) == len(st) {
				slices.Sort(open)
				return fmt.Errorf("all recognizer circuits open: %s", strings.Join(open, ", "))
			}
			return nil
		},
	}
}

// ScratchDir verifies that dir exists and accepts new files.
func ScratchDir(dir string) Checker {
	return Checker{
		Name: "scratch_dir",
		Check: func(context.Context) error {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return err
			}
			f, err := os.CreateTemp(dir, "probe-*")
			if err != nil {
				return err
			}
			name := f.Name()
			return errors.Join(f.Close(), os.Remove(name))
		},
	}
}
