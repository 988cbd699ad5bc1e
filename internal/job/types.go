// Package job runs audio-analysis jobs in the background and tracks their
// state.
//
// A [Runner] validates a submission synchronously, records a queued [Job] in
// a [Store] and schedules it on a bounded worker pool. The owning task is the
// only writer of its job; any number of callers may [Runner.Poll] it. Temp
// files a task creates are removed before the task writes its terminal
// status, on every exit path including a recovered panic.
package job

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/MrWong99/vocalis/internal/pronunciation"
	"github.com/MrWong99/vocalis/pkg/provider/stt"
)

// Kind selects what a job computes.
type Kind string

const (
	KindTranscription Kind = "transcription"
	KindPronunciation Kind = "pronunciation"
)

// IsValid reports whether k is a known job kind.
func (k Kind) IsValid() bool {
	return k == KindTranscription || k == KindPronunciation
}

// Status is a job's lifecycle state.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether s is completed or failed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// canTransition enforces queued → processing → completed|failed.
func canTransition(from, to Status) bool {
	switch from {
	case StatusQueued:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// Params are the inputs of a submission.
type Params struct {
	// AudioPath is the uploaded file. It must exist and be non-empty.
	AudioPath string
	// Extension is the declared format ("wav", ".mp3"). When empty it is
	// derived from AudioPath and then ContentType.
	Extension string
	// ContentType is the declared MIME type of the upload, if any.
	ContentType string
	// Language is the spoken language. Empty uses the runner default.
	Language string
	// Task is the recognition task for transcription jobs.
	Task stt.Task
	// ReferenceText is required for pronunciation jobs.
	ReferenceText string
	// RemoveInput registers AudioPath as a temp file owned by the job.
	RemoveInput bool
}

// Result is the partial or final output of a job.
type Result struct {
	Transcript string                  `json:"transcript"`
	Language   string                  `json:"language,omitempty"`
	Duration   float64                 `json:"duration_seconds,omitempty"`
	Analysis   *pronunciation.Analysis `json:"analysis,omitempty"`
}

func (r *Result) clone() *Result {
	if r == nil {
		return nil
	}
	c := *r
	c.Analysis = r.Analysis.Clone()
	return &c
}

// Job is the full record kept by a [Store].
type Job struct {
	ID        string
	Kind      Kind
	Status    Status
	Progress  int
	Result    *Result
	Error     string
	Temps     []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// View is the read-only snapshot returned to pollers. It never shares
// memory with the stored job.
type View struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Status    Status    `json:"status"`
	Progress  int       `json:"progress"`
	Result    *Result   `json:"result"`
	Error     *string   `json:"error"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (j *Job) view() View {
	v := View{
		ID:        j.ID,
		Kind:      j.Kind,
		Status:    j.Status,
		Progress:  j.Progress,
		Result:    j.Result.clone(),
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
	if j.Error != "" {
		msg := j.Error
		v.Error = &msg
	}
	return v
}

var contentTypeExt = map[string]string{
	"audio/webm":  "webm",
	"video/webm":  "webm",
	"audio/mp4":   "mp4",
	"audio/x-m4a": "m4a",
	"audio/ogg":   "ogg",
	"audio/opus":  "opus",
	"audio/mpeg":  "mp3",
	"audio/flac":  "flac",
	"audio/wav":   "wav",
	"audio/x-wav": "wav",
}

// ResolveExtension picks the declared format of an upload: the explicit
// extension, else the file name's, else one derived from the content type,
// else "wav".
func ResolveExtension(ext, name, contentType string) string {
	clean := func(s string) string {
		return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "."))
	}
	if e := clean(ext); e != "" {
		return e
	}
	if e := clean(filepath.Ext(name)); e != "" {
		return e
	}
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if e, ok := contentTypeExt[ct]; ok {
		return e
	}
	return "wav"
}
