package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/scribe/errors"
	"github.com/teranos/scribe/remote"
)

type fakeService struct {
	mu             sync.Mutex
	uploaded       []byte
	idempotencyKey string
	authorization  string
	submitted      submitRequest
	status         string
	transcript     string
	transcriptCode int
	cancelled      []string
}

func (f *fakeService) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/uploads", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.uploaded = b
		f.authorization = r.Header.Get("Authorization")
		f.mu.Unlock()
		json.NewEncoder(w).Encode(uploadResponse{UploadID: "up-1"})
	})
	mux.HandleFunc("/v1/transcriptions", func(w http.ResponseWriter, r *http.Request) {
		var req submitRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		f.mu.Lock()
		f.submitted = req
		f.idempotencyKey = r.Header.Get("Idempotency-Key")
		f.mu.Unlock()
		json.NewEncoder(w).Encode(submitResponse{ID: "tr-9"})
	})
	mux.HandleFunc("/v1/transcriptions/tr-9", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			f.mu.Lock()
			f.cancelled = append(f.cancelled, "tr-9")
			f.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
			return
		}
		f.mu.Lock()
		status := f.status
		f.mu.Unlock()
		json.NewEncoder(w).Encode(statusResponse{Status: status, Progress: 40})
	})
	mux.HandleFunc("/v1/transcriptions/tr-9/transcript", func(w http.ResponseWriter, r *http.Request) {
		if f.transcriptCode != 0 {
			w.WriteHeader(f.transcriptCode)
			return
		}
		w.Write([]byte(f.transcript))
	})
	return mux
}

func newTestProvider(t *testing.T, f *fakeService) *HTTPProvider {
	t.Helper()
	server := httptest.NewServer(f.handler(t))
	t.Cleanup(server.Close)

	client, err := remote.New(remote.Options{
		BaseURL:              server.URL,
		Policy:               remote.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Exponent: 1},
		Breaker:              remote.BreakerSettings{Name: "test", FailureThreshold: 10, Window: time.Minute, Cooldown: time.Minute},
		AttemptTimeout:       5 * time.Second,
		AllowPrivateNetworks: true,
		Header:               http.Header{"Authorization": {"Bearer k"}},
	})
	require.NoError(t, err)
	return NewHTTPProvider(client, nil)
}

func TestHTTPProvider_SubmitPollDownload(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	audio := filepath.Join(dir, "talk.wav")
	require.NoError(t, os.WriteFile(audio, []byte("RIFF....WAVEfmt pcm bytes"), 0644))

	f := &fakeService{status: "processing", transcript: `{"text":"hello"}`}
	p := newTestProvider(t, f)

	var mu sync.Mutex
	var seen []float64
	id, err := p.Submit(ctx, audio, SubmitOptions{Language: "en", IdempotencyKey: "hash-1"}, func(pct float64) {
		mu.Lock()
		seen = append(seen, pct)
		mu.Unlock()
	})
	require.NoError(t, err)
	assert.Equal(t, "tr-9", id)

	assert.Equal(t, "RIFF....WAVEfmt pcm bytes", string(f.uploaded))
	assert.Equal(t, "Bearer k", f.authorization)
	assert.Equal(t, "hash-1", f.idempotencyKey)
	assert.Equal(t, submitRequest{UploadID: "up-1", Language: "en"}, f.submitted)
	require.NotEmpty(t, seen)
	assert.Equal(t, 100.0, seen[len(seen)-1])
	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i], seen[i-1])
	}

	st, err := p.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, Status{Phase: PhaseProcessing, Percent: 40}, st)
	assert.False(t, st.Phase.Terminal())

	out := filepath.Join(dir, "out", "talk.transcript.json")
	var last float64
	require.NoError(t, p.DownloadResult(ctx, id, out, func(pct float64) { last = pct }))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":"hello"}`, string(data))
	assert.NoFileExists(t, out+".part")
	assert.Equal(t, 100.0, last)

	require.NoError(t, p.Cancel(ctx, id))
	assert.Equal(t, []string{"tr-9"}, f.cancelled)
}

func TestHTTPProvider_UnknownStatus(t *testing.T) {
	p := newTestProvider(t, &fakeService{status: "exploded"})
	_, err := p.GetStatus(context.Background(), "tr-9")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrProviderRejection))
}

func TestHTTPProvider_FailedDownloadLeavesNothing(t *testing.T) {
	out := filepath.Join(t.TempDir(), "x.transcript.json")
	p := newTestProvider(t, &fakeService{transcriptCode: http.StatusInternalServerError})

	err := p.DownloadResult(context.Background(), "tr-9", out, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrTransientRemote))
	assert.NoFileExists(t, out)
	assert.NoFileExists(t, out+".part")
}

func TestHTTPProvider_CancelUnknownIsNotAnError(t *testing.T) {
	p := newTestProvider(t, &fakeService{})
	assert.NoError(t, p.Cancel(context.Background(), "gone"))
}

func TestHTTPProvider_SubmitMissingFile(t *testing.T) {
	p := newTestProvider(t, &fakeService{})
	_, err := p.Submit(context.Background(), filepath.Join(t.TempDir(), "nope.wav"), SubmitOptions{}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrIO))
}

func TestCountingReaderRestartsOnSeek(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "audio")
	require.NoError(t, err)
	defer f.Close()
	_, err = f.WriteString("0123456789")
	require.NoError(t, err)
	_, err = f.Seek(0, io.SeekStart)
	require.NoError(t, err)

	var last float64
	c := &countingReader{r: f, total: 10, progress: func(p float64) { last = p }}
	_, err = io.ReadAll(c)
	require.NoError(t, err)
	assert.InDelta(t, 99, last, 0.001)

	_, err = c.Seek(0, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, int64(0), c.read)
}
