package openai

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/vocalis/pkg/audio"
	"github.com/MrWong99/vocalis/pkg/provider/stt"
)

func speech() audio.PCM {
	return audio.PCM{Samples: make([]float32, 16000), SampleRate: 16000, Channels: 1}
}

func newServer(t *testing.T, status int, body string, paths *[]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if paths != nil {
			*paths = append(*paths, r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if _, _, err := r.FormFile("file"); err != nil {
			http.Error(w, "missing file", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNew_EmptyAPIKey(t *testing.T) {
	t.Parallel()
	if _, err := New("", ""); err == nil {
		t.Fatal("expected error for empty apiKey")
	}
}

func TestNew_DefaultModel(t *testing.T) {
	t.Parallel()
	r, err := New("sk-test", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.model != DefaultModel {
		t.Errorf("model = %q, want %q", r.model, DefaultModel)
	}
	if r.Name() != "openai" {
		t.Errorf("Name() = %q", r.Name())
	}
}

func TestRecognize_Transcription(t *testing.T) {
	t.Parallel()
	var paths []string
	srv := newServer(t, http.StatusOK, `{"text":" hello world "}`, &paths)
	r, err := New("sk-test", "", WithBaseURL(srv.URL+"/"), WithMaxRetries(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := r.Recognize(context.Background(), speech(), stt.Options{Language: "de-DE"})
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if got.Text != "hello world" {
		t.Errorf("Text = %q", got.Text)
	}
	if got.Language != "de" {
		t.Errorf("Language = %q, want de", got.Language)
	}
	if len(paths) != 1 || !strings.HasSuffix(paths[0], "/audio/transcriptions") {
		t.Errorf("paths = %v", paths)
	}
}

func TestRecognize_Translation(t *testing.T) {
	t.Parallel()
	var paths []string
	srv := newServer(t, http.StatusOK, `{"text":"good morning"}`, &paths)
	r, _ := New("sk-test", "", WithBaseURL(srv.URL+"/"), WithMaxRetries(0))

	got, err := r.Recognize(context.Background(), speech(), stt.Options{Task: stt.TaskTranslate})
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if got.Text != "good morning" || got.Language != "en" {
		t.Errorf("got %+v", got)
	}
	if len(paths) != 1 || !strings.HasSuffix(paths[0], "/audio/translations") {
		t.Errorf("paths = %v", paths)
	}
}

func TestRecognize_ServerError(t *testing.T) {
	t.Parallel()
	srv := newServer(t, http.StatusBadRequest, `{"error":{"message":"bad audio"}}`, nil)
	r, _ := New("sk-test", "", WithBaseURL(srv.URL+"/"), WithMaxRetries(0))

	if _, err := r.Recognize(context.Background(), speech(), stt.Options{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestRecognize_RejectsNonCanonical(t *testing.T) {
	t.Parallel()
	r, _ := New("sk-test", "")
	pcm := audio.PCM{Samples: make([]float32, 100), SampleRate: 8000, Channels: 1}
	if _, err := r.Recognize(context.Background(), pcm, stt.Options{}); !errors.Is(err, stt.ErrUnsupportedAudio) {
		t.Fatalf("got %v, want ErrUnsupportedAudio", err)
	}
}

func TestBaseLanguage(t *testing.T) {
	t.Parallel()
	tests := []struct{ in, want string }{
		{"en", "en"},
		{"en-US", "en"},
		{"pt_BR", "pt"},
		{"auto", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := baseLanguage(tt.in); got != tt.want {
			t.Errorf("baseLanguage(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
