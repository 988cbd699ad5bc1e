// Command vocalis runs speech transcription and pronunciation-assessment
// jobs, either as an HTTP service (serve) or one file at a time from the
// command line (transcribe, assess).
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	os.Exit(run())
}

func run() int {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "vocalis: %v\n", err)
		}
		return 1
	}
	return 0
}
