package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/vocalis/internal/api"
	"github.com/MrWong99/vocalis/internal/health"
	"github.com/MrWong99/vocalis/internal/job"
	"github.com/MrWong99/vocalis/internal/normalize"
	"github.com/MrWong99/vocalis/internal/observe"
	"github.com/MrWong99/vocalis/internal/recognize"
	"github.com/MrWong99/vocalis/pkg/audio"
	"github.com/MrWong99/vocalis/pkg/provider/stt"
	"github.com/MrWong99/vocalis/pkg/provider/stt/mock"
)

// fakeJobs scripts the job runner.
type fakeJobs struct {
	mu        sync.Mutex
	submitted []job.Params
	kinds     []job.Kind
	submitErr error
	views     map[string]job.View
}

func (f *fakeJobs) Submit(_ context.Context, kind job.Kind, p job.Params) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, p)
	f.kinds = append(f.kinds, kind)
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return "job-1", nil
}

func (f *fakeJobs) Poll(_ context.Context, id string) (job.View, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.views[id]
	if !ok {
		return job.View{}, job.ErrNotFound
	}
	return v, nil
}

func (f *fakeJobs) Delete(_ context.Context, id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.views[id]
	delete(f.views, id)
	return ok
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader())))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newServer(t *testing.T, jobs api.Jobs, opts ...func(*api.Config)) (*httptest.Server, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := api.Config{
		Jobs:         jobs,
		UploadDir:    dir,
		PollInterval: 10 * time.Millisecond,
		Metrics:      testMetrics(t),
	}
	for _, o := range opts {
		o(&cfg)
	}
	s, err := api.New(cfg)
	if err != nil {
		t.Fatalf("api.New: %v", err)
	}
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv, dir
}

// multipartBody builds a form with an optional file part and text fields.
func multipartBody(t *testing.T, filename, contentType string, data []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if filename != "" {
		h := make(map[string][]string)
		h["Content-Disposition"] = []string{`form-data; name="file"; filename="` + filename + `"`}
		if contentType != "" {
			h["Content-Type"] = []string{contentType}
		}
		part, err := mw.CreatePart(h)
		if err != nil {
			t.Fatal(err)
		}
		part.Write(data)
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func post(t *testing.T, url string, body *bytes.Buffer, ct string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, ct, body)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func wavBytes(t *testing.T, seconds float64) []byte {
	t.Helper()
	n := int(seconds * audio.TargetRate)
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(0.3 * math.Sin(2*math.Pi*440*float64(i)/audio.TargetRate))
	}
	data, err := audio.EncodeWAV(audio.PCM{Samples: samples, SampleRate: audio.TargetRate, Channels: 1})
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestSubmitTranscription(t *testing.T) {
	t.Parallel()
	jobs := &fakeJobs{}
	srv, dir := newServer(t, jobs)

	body, ct := multipartBody(t, "clip.WEBM", "audio/webm", []byte("webm-bytes"), map[string]string{
		"language": " de ",
		"task":     "translate",
	})
	resp, out := post(t, srv.URL+"/v1/jobs/transcription", body, ct)

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, out)
	}
	if out["job_id"] != "job-1" {
		t.Errorf("body = %v", out)
	}
	if len(jobs.submitted) != 1 || jobs.kinds[0] != job.KindTranscription {
		t.Fatalf("submitted = %+v", jobs.submitted)
	}
	p := jobs.submitted[0]
	if filepath.Dir(p.AudioPath) != dir || filepath.Ext(p.AudioPath) != ".webm" {
		t.Errorf("upload path = %q", p.AudioPath)
	}
	if !p.RemoveInput || p.ContentType != "audio/webm" || p.Language != "de" || p.Task != stt.TaskTranslate {
		t.Errorf("params = %+v", p)
	}
	if data, err := os.ReadFile(p.AudioPath); err != nil || string(data) != "webm-bytes" {
		t.Errorf("stored upload = %q, %v", data, err)
	}
}

func TestSubmitPronunciation_SniffsContentType(t *testing.T) {
	t.Parallel()
	jobs := &fakeJobs{}
	srv, _ := newServer(t, jobs)

	body, ct := multipartBody(t, "blob", "application/octet-stream", wavBytes(t, 0.5), map[string]string{
		"reference_text": "hello world",
	})
	resp, _ := post(t, srv.URL+"/v1/jobs/pronunciation", body, ct)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	p := jobs.submitted[0]
	if p.ReferenceText != "hello world" || p.Task != "" {
		t.Errorf("params = %+v", p)
	}
	if !strings.Contains(p.ContentType, "wav") {
		t.Errorf("content type = %q, want a sniffed WAV type", p.ContentType)
	}
}

func TestSubmit_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		submitErr error
		noFile    bool
		rawBody   string
		wantCode  int
		wantError string
	}{
		{name: "no file", noFile: true, wantCode: http.StatusBadRequest, wantError: "no audio file provided"},
		{name: "not multipart", rawBody: `{"file":"x"}`, wantCode: http.StatusBadRequest, wantError: "multipart"},
		{
			name:      "validation",
			submitErr: &job.ValidationError{Field: "reference_text", Reason: "reference text cannot be empty"},
			wantCode:  http.StatusBadRequest,
			wantError: "reference text cannot be empty",
		},
		{name: "closed", submitErr: job.ErrClosed, wantCode: http.StatusServiceUnavailable, wantError: "shutting down"},
		{name: "internal", submitErr: errors.New("boom"), wantCode: http.StatusInternalServerError, wantError: "could not create job"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			jobs := &fakeJobs{submitErr: tt.submitErr}
			srv, dir := newServer(t, jobs)

			var (
				body *bytes.Buffer
				ct   string
			)
			switch {
			case tt.rawBody != "":
				body, ct = bytes.NewBufferString(tt.rawBody), "application/json"
			case tt.noFile:
				body, ct = multipartBody(t, "", "", nil, map[string]string{"language": "en"})
			default:
				body, ct = multipartBody(t, "a.wav", "audio/wav", []byte("RIFF"), nil)
			}
			resp, out := post(t, srv.URL+"/v1/jobs/pronunciation", body, ct)
			if resp.StatusCode != tt.wantCode {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantCode)
			}
			if msg, _ := out["error"].(string); !strings.Contains(msg, tt.wantError) {
				t.Errorf("error = %q, want it to contain %q", msg, tt.wantError)
			}
			entries, _ := os.ReadDir(dir)
			if len(entries) != 0 {
				t.Errorf("rejected upload left files behind: %v", entries)
			}
		})
	}
}

func TestGetAndDelete(t *testing.T) {
	t.Parallel()
	jobs := &fakeJobs{views: map[string]job.View{
		"abc": {ID: "abc", Kind: job.KindTranscription, Status: job.StatusProcessing, Progress: 40},
	}}
	srv, _ := newServer(t, jobs)

	resp, err := http.Get(srv.URL + "/v1/jobs/abc")
	if err != nil {
		t.Fatal(err)
	}
	var v job.View
	_ = json.NewDecoder(resp.Body).Decode(&v)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || v.Progress != 40 || v.Status != job.StatusProcessing {
		t.Errorf("GET = %d %+v", resp.StatusCode, v)
	}

	del := func() (int, map[string]any) {
		req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/v1/jobs/abc", nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		var out map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&out)
		return resp.StatusCode, out
	}
	if code, out := del(); code != http.StatusOK || out["deleted"] != true {
		t.Errorf("DELETE = %d %v", code, out)
	}
	if code, out := del(); code != http.StatusNotFound || out["error"] != "job not found" {
		t.Errorf("second DELETE = %d %v", code, out)
	}

	resp, err = http.Get(srv.URL + "/v1/jobs/abc")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET after delete = %d", resp.StatusCode)
	}
}

func TestProbesAndMetricsMounted(t *testing.T) {
	t.Parallel()
	srv, _ := newServer(t, &fakeJobs{}, func(c *api.Config) {
		c.Health = health.New()
		c.MetricsHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte("# metrics\n"))
		})
	})
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s status = %d", path, resp.StatusCode)
		}
	}
}

func TestEvents_UnknownJob(t *testing.T) {
	t.Parallel()
	srv, _ := newServer(t, &fakeJobs{})
	resp, err := http.Get(srv.URL + "/v1/jobs/nope/events")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

// TestEvents_StreamsUntilTerminal runs a real job behind the API and reads
// the websocket until the server closes it.
func TestEvents_StreamsUntilTerminal(t *testing.T) {
	t.Parallel()
	m := testMetrics(t)
	release := make(chan struct{})
	rec := &mock.Recognizer{Func: func(ctx context.Context, _ audio.PCM, _ stt.Options) (stt.Transcript, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return stt.Transcript{Text: "hello there"}, nil
	}}
	runner, err := job.NewRunner(job.Config{
		Normalizer: normalize.New(nil, normalize.WithScratchDir(t.TempDir()), normalize.WithMetrics(m)),
		Driver:     recognize.New(rec, recognize.WithMetrics(m)),
		Metrics:    m,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = runner.Close(context.Background()) })
	srv, _ := newServer(t, runner)

	body, ct := multipartBody(t, "clip.wav", "audio/wav", wavBytes(t, 1), nil)
	resp, out := post(t, srv.URL+"/v1/jobs/transcription", body, ct)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("submit status = %d %v", resp.StatusCode, out)
	}
	id := out["job_id"].(string)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/jobs/"+id+"/events", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()

	var views []job.View
	first := true
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				t.Fatalf("read: %v", err)
			}
			break
		}
		var v job.View
		if err := json.Unmarshal(data, &v); err != nil {
			t.Fatalf("decode view: %v", err)
		}
		views = append(views, v)
		if first {
			first = false
			close(release)
		}
	}

	if len(views) < 2 {
		t.Fatalf("got %d views, want the initial and the terminal state", len(views))
	}
	lastView := views[len(views)-1]
	if lastView.Status != job.StatusCompleted || lastView.Progress != 100 || lastView.Result.Transcript != "hello there" {
		t.Errorf("last view = %+v", lastView)
	}
	for i := 1; i < len(views); i++ {
		if views[i].Progress < views[i-1].Progress {
			t.Errorf("progress went backwards: %d → %d", views[i-1].Progress, views[i].Progress)
		}
	}
}
