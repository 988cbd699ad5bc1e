package whisper_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/vocalis/pkg/audio"
	"github.com/MrWong99/vocalis/pkg/provider/stt"
	"github.com/MrWong99/vocalis/pkg/provider/stt/whisper"
)

// receivedForm captures the multipart fields of the last /inference request.
type receivedForm struct {
	fields  map[string]string
	wavHead string
}

// newMockServer creates a test server that responds to POST /inference with a
// JSON body containing the provided responseText. It increments *callCount on
// every matched request and records the submitted form in *got.
func newMockServer(t *testing.T, responseText string, callCount *atomic.Int32, got *receivedForm) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if callCount != nil {
			callCount.Add(1)
		}
		if got != nil {
			_, params, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
			mr := multipart.NewReader(r.Body, params["boundary"])
			got.fields = map[string]string{}
			for {
				part, err := mr.NextPart()
				if err != nil {
					break
				}
				data, _ := io.ReadAll(part)
				if part.FormName() == "file" {
					got.wavHead = string(data[:4])
					continue
				}
				got.fields[part.FormName()] = string(data)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": responseText})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// makeSpeech generates one second of a 440 Hz sine at 16 kHz mono.
func makeSpeech() audio.PCM {
	samples := make([]float32, 16000)
	for i := range samples {
		samples[i] = float32(0.3 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	return audio.PCM{Samples: samples, SampleRate: 16000, Channels: 1}
}

// ---- construction -----------------------------------------------------------

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	_, err := whisper.New("")
	if err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

func TestNew_WithOptions_DoesNotError(t *testing.T) {
	p, err := whisper.New("http://localhost:8080",
		whisper.WithModel("base.en"),
		whisper.WithLanguage("de"),
		whisper.WithHTTPClient(http.DefaultClient),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name() != "whisper" {
		t.Errorf("Name() = %q, want %q", p.Name(), "whisper")
	}
}

// ---- recognition ------------------------------------------------------------

func TestRecognize_ReturnsServerText(t *testing.T) {
	var calls atomic.Int32
	var form receivedForm
	srv := newMockServer(t, "  the quick brown fox \n", &calls, &form)

	p, err := whisper.New(srv.URL+"/", whisper.WithModel("small"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := p.Recognize(context.Background(), makeSpeech(), stt.Options{Language: "en-US"})
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if got.Text != "the quick brown fox" {
		t.Errorf("Text = %q, want trimmed server text", got.Text)
	}
	if calls.Load() != 1 {
		t.Errorf("server calls = %d, want 1", calls.Load())
	}
	if form.wavHead != "RIFF" {
		t.Errorf("uploaded file does not start with RIFF: %q", form.wavHead)
	}
	if form.fields["language"] != "en" {
		t.Errorf("language field = %q, want %q", form.fields["language"], "en")
	}
	if form.fields["model"] != "small" {
		t.Errorf("model field = %q, want %q", form.fields["model"], "small")
	}
	if _, ok := form.fields["translate"]; ok {
		t.Error("translate field should be omitted for transcription")
	}
}

func TestRecognize_TranslateTask(t *testing.T) {
	var form receivedForm
	srv := newMockServer(t, "hello", nil, &form)
	p, _ := whisper.New(srv.URL)

	if _, err := p.Recognize(context.Background(), makeSpeech(), stt.Options{Task: stt.TaskTranslate}); err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if form.fields["translate"] != "true" {
		t.Errorf("translate field = %q, want true", form.fields["translate"])
	}
	if form.fields["language"] != "en" {
		t.Errorf("language should fall back to the default, got %q", form.fields["language"])
	}
}

func TestRecognize_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	p, _ := whisper.New(srv.URL)

	_, err := p.Recognize(context.Background(), makeSpeech(), stt.Options{})
	if err == nil {
		t.Fatal("expected error for HTTP 500")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("error should mention the status code, got: %v", err)
	}
}

func TestRecognize_RejectsNonCanonicalAudio(t *testing.T) {
	var calls atomic.Int32
	srv := newMockServer(t, "x", &calls, nil)
	p, _ := whisper.New(srv.URL)

	stereo := audio.PCM{Samples: make([]float32, 3200), SampleRate: 16000, Channels: 2}
	_, err := p.Recognize(context.Background(), stereo, stt.Options{})
	if !errors.Is(err, stt.ErrUnsupportedAudio) {
		t.Fatalf("got %v, want ErrUnsupportedAudio", err)
	}
	if calls.Load() != 0 {
		t.Error("server should not be called for rejected audio")
	}
}

func TestRecognize_CancelledContext(t *testing.T) {
	srv := newMockServer(t, "x", nil, nil)
	p, _ := whisper.New(srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Recognize(ctx, makeSpeech(), stt.Options{}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
