package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/vocalis/internal/app"
	"github.com/MrWong99/vocalis/internal/config"
	"github.com/MrWong99/vocalis/internal/job"
	"github.com/MrWong99/vocalis/internal/pronunciation"
	"github.com/MrWong99/vocalis/pkg/provider/stt"
)

// pollInterval is how often a local run checks its job.
const pollInterval = 100 * time.Millisecond

type localFlags struct {
	language string
	format   string
	jsonOut  bool
}

func (f *localFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.language, "language", "l", "", "spoken language (default from config)")
	cmd.Flags().StringVar(&f.format, "format", "", "declared audio format when the file name has no extension")
	cmd.Flags().BoolVar(&f.jsonOut, "json", false, "print the job view as JSON")
}

func newTranscribeCommand(ctx *commandContext) *cobra.Command {
	var flags localFlags
	var task string
	cmd := &cobra.Command{
		Use:   "transcribe <audio-file>",
		Short: "Transcribe one file with the configured recognizer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := runLocal(cmd.Context(), ctx, job.KindTranscription, job.Params{
				AudioPath: args[0],
				Extension: flags.format,
				Language:  flags.language,
				Task:      stt.Task(task),
			})
			if err != nil {
				return err
			}
			return printView(cmd.OutOrStdout(), v, flags.jsonOut)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&task, "task", string(stt.TaskTranscribe), "transcribe or translate")
	return cmd
}

func newAssessCommand(ctx *commandContext) *cobra.Command {
	var flags localFlags
	var reference string
	cmd := &cobra.Command{
		Use:   "assess <audio-file>",
		Short: "Score one reading of a reference text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := runLocal(cmd.Context(), ctx, job.KindPronunciation, job.Params{
				AudioPath:     args[0],
				Extension:     flags.format,
				Language:      flags.language,
				ReferenceText: reference,
			})
			if err != nil {
				return err
			}
			return printView(cmd.OutOrStdout(), v, flags.jsonOut)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&reference, "reference", "r", "", "text the speaker was asked to read")
	_ = cmd.MarkFlagRequired("reference")
	return cmd
}

// runLocal wires the application without serving HTTP, submits a single job
// and waits for it to finish.
func runLocal(parent context.Context, cc *commandContext, kind job.Kind, p job.Params) (job.View, error) {
	cfg, err := cc.ensureConfig()
	if err != nil {
		return job.View{}, err
	}
	reg := config.NewRegistry()
	registerBuiltinRecognizers(reg)

	if parent == nil {
		parent = context.Background()
	}
	application, err := app.New(parent, cfg, app.WithRegistry(reg))
	if err != nil {
		return job.View{}, fmt.Errorf("initialise application: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := application.Shutdown(shutdownCtx); err != nil {
			slog.Warn("shutdown error", "err", err)
		}
	}()

	return submitAndWait(parent, application.Runner(), kind, p)
}

// submitter is the part of the job runner a local run needs.
type submitter interface {
	Submit(ctx context.Context, kind job.Kind, p job.Params) (string, error)
	Poll(ctx context.Context, id string) (job.View, error)
}

func submitAndWait(ctx context.Context, r submitter, kind job.Kind, p job.Params) (job.View, error) {
	id, err := r.Submit(ctx, kind, p)
	if err != nil {
		return job.View{}, err
	}
	slog.Debug("job submitted", "job_id", id, "kind", kind)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	lastProgress := -1
	for {
		v, err := r.Poll(ctx, id)
		if err != nil {
			return job.View{}, err
		}
		if v.Progress != lastProgress {
			slog.Debug("job progress", "job_id", id, "status", v.Status, "progress", v.Progress)
			lastProgress = v.Progress
		}
		if v.Status.Terminal() {
			if v.Status == job.StatusFailed {
				msg := "unknown error"
				if v.Error != nil {
					msg = *v.Error
				}
				return v, fmt.Errorf("job %s failed: %s", id, msg)
			}
			return v, nil
		}
		select {
		case <-ctx.Done():
			return v, ctx.Err()
		case <-ticker.C:
		}
	}
}

func printView(w io.Writer, v job.View, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	if v.Result == nil {
		_, err := fmt.Fprintln(w, "(no result)")
		return err
	}
	if v.Result.Analysis == nil {
		_, err := fmt.Fprintln(w, v.Result.Transcript)
		return err
	}
	_, err := io.WriteString(w, renderAnalysis(v.Result.Analysis))
	return err
}

// renderAnalysis prints the scores followed by one row per error.
func renderAnalysis(a *pronunciation.Analysis) string {
	summary := renderTable(
		[]string{"Score", "Value"},
		[][]string{
			{"overall", formatScore(a.OverallScore)},
			{"accuracy", formatScore(a.AccuracyScore)},
			{"fluency", formatScore(a.FluencyScore)},
			{"words analyzed", strconv.Itoa(a.WordsAnalyzed)},
			{"errors", strconv.Itoa(a.TotalErrors)},
		},
		[]columnAlignment{alignLeft, alignRight},
	)
	out := "Transcript: " + a.Transcript + "\n" + summary + "\n"
	if len(a.Errors) == 0 {
		return out
	}

	rows := make([][]string, 0, len(a.Errors))
	for _, e := range a.Errors {
		rows = append(rows, []string{
			strconv.Itoa(e.Position),
			string(e.Type),
			e.Word,
			e.Actual,
			strconv.FormatFloat(e.Confidence, 'f', 2, 64),
			e.Suggestion,
		})
	}
	return out + renderTable(
		[]string{"Pos", "Type", "Expected", "Heard", "Confidence", "Suggestion"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	) + "\n"
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}
