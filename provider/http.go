package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/scribe/errors"
	"github.com/teranos/scribe/logger"
	"github.com/teranos/scribe/remote"
)

// uploadBytesPerSecond is the slowest link an upload is expected to survive;
// it sizes the per-attempt timeout of large uploads.
const uploadBytesPerSecond = 256 << 10

// Doer executes one logical call with retries and breaker applied.
// *remote.Client implements it.
type Doer interface {
	Do(ctx context.Context, method, path string, body interface{}, header http.Header) (*http.Response, error)
}

// HTTPProvider implements Provider over the transcription service's REST API.
type HTTPProvider struct {
	client Doer
	logger *zap.SugaredLogger
}

// NewHTTPProvider creates a provider using client for every call.
func NewHTTPProvider(client Doer, log *zap.SugaredLogger) *HTTPProvider {
	return &HTTPProvider{client: client, logger: logger.OrNop(log).Named("provider")}
}

type uploadResponse struct {
	UploadID string `json:"upload_id"`
}

type submitRequest struct {
	UploadID string            `json:"upload_id"`
	Language string            `json:"language,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type submitResponse struct {
	ID string `json:"id"`
}

type statusResponse struct {
	Status   string  `json:"status"`
	Progress float64 `json:"progress"`
	Error    string  `json:"error,omitempty"`
}

// Submit uploads audioPath then creates the transcription.
func (p *HTTPProvider) Submit(ctx context.Context, audioPath string, opts SubmitOptions, progress ProgressFunc) (string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return "", errors.Mark(errors.Wrapf(err, "failed to open audio %s", audioPath), errors.ErrIO)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", errors.Mark(errors.Wrapf(err, "failed to stat audio %s", audioPath), errors.ErrIO)
	}

	body := &countingReader{r: f, total: info.Size(), progress: progress}
	header := http.Header{
		"Content-Type": {"application/octet-stream"},
		"X-Filename":   {filepath.Base(audioPath)},
	}
	uploadCtx := remote.WithAttemptTimeout(ctx, time.Minute+time.Duration(info.Size()/uploadBytesPerSecond)*time.Second)

	var uploaded uploadResponse
	if err := p.doJSON(uploadCtx, http.MethodPost, "/v1/uploads", body, header, &uploaded); err != nil {
		return "", errors.Wrap(err, "upload failed")
	}
	if uploaded.UploadID == "" {
		return "", errors.Mark(errors.New("upload response carried no upload_id"), errors.ErrTransientRemote)
	}
	report(progress, 100)

	payload, err := json.Marshal(submitRequest{
		UploadID: uploaded.UploadID,
		Language: opts.Language,
		Metadata: opts.Metadata,
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to encode submission")
	}
	header = http.Header{"Content-Type": {"application/json"}}
	if opts.IdempotencyKey != "" {
		header.Set("Idempotency-Key", opts.IdempotencyKey)
	}

	var submitted submitResponse
	if err := p.doJSON(ctx, http.MethodPost, "/v1/transcriptions", payload, header, &submitted); err != nil {
		return "", errors.Wrap(err, "submission failed")
	}
	if submitted.ID == "" {
		return "", errors.Mark(errors.New("submission response carried no id"), errors.ErrTransientRemote)
	}

	p.logger.Debugw("Submitted transcription",
		logger.FieldRemoteJobID, submitted.ID,
		logger.FieldSize, info.Size(),
		logger.FieldFile, filepath.Base(audioPath),
	)
	return submitted.ID, nil
}

// GetStatus polls one transcription.
func (p *HTTPProvider) GetStatus(ctx context.Context, remoteJobID string) (Status, error) {
	var sr statusResponse
	if err := p.doJSON(ctx, http.MethodGet, "/v1/transcriptions/"+url.PathEscape(remoteJobID), nil, nil, &sr); err != nil {
		return Status{}, err
	}

	phase := Phase(sr.Status)
	switch phase {
	case PhaseQueued, PhaseProcessing, PhaseCompleted, PhaseFailed, PhaseCancelled:
	default:
		return Status{}, errors.Mark(errors.Newf("unknown transcription status %q", sr.Status), errors.ErrProviderRejection)
	}
	return Status{Phase: phase, Percent: sr.Progress, Message: sr.Error}, nil
}

// DownloadResult streams the transcript to outPath via a .part file so a
// partial download never sits at the final path.
func (p *HTTPProvider) DownloadResult(ctx context.Context, remoteJobID, outPath string, progress ProgressFunc) error {
	resp, err := p.client.Do(ctx, http.MethodGet, "/v1/transcriptions/"+url.PathEscape(remoteJobID)+"/transcript", nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(filepath.Dir(outPath), 0750); err != nil {
		return errors.Mark(errors.Wrapf(err, "failed to create output directory for %s", outPath), errors.ErrIO)
	}

	partPath := outPath + ".part"
	out, err := os.Create(partPath)
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "failed to create %s", partPath), errors.ErrIO)
	}

	w := &countingWriter{w: out, total: resp.ContentLength, progress: progress}
	_, copyErr := io.Copy(w, resp.Body)
	closeErr := out.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(partPath)
		if copyErr != nil {
			if ctx.Err() == context.Canceled {
				return context.Canceled
			}
			return errors.Mark(errors.Wrap(copyErr, "transcript download interrupted"), errors.ErrTransientRemote)
		}
		return errors.Mark(errors.Wrapf(closeErr, "failed to write %s", partPath), errors.ErrIO)
	}

	if err := os.Rename(partPath, outPath); err != nil {
		os.Remove(partPath)
		return errors.Mark(errors.Wrapf(err, "failed to move transcript into %s", outPath), errors.ErrIO)
	}
	report(progress, 100)
	return nil
}

// Cancel asks the provider to stop a transcription. An unknown id is not an error.
func (p *HTTPProvider) Cancel(ctx context.Context, remoteJobID string) error {
	resp, err := p.client.Do(ctx, http.MethodDelete, "/v1/transcriptions/"+url.PathEscape(remoteJobID), nil, nil)
	if err != nil {
		var statusErr *remote.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return nil
		}
		return err
	}
	resp.Body.Close()
	return nil
}

func (p *HTTPProvider) doJSON(ctx context.Context, method, path string, body interface{}, header http.Header, out interface{}) error {
	if header == nil {
		header = http.Header{}
	}
	header.Set("Accept", "application/json")

	resp, err := p.client.Do(ctx, method, path, body, header)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Mark(errors.Wrapf(err, "failed to decode %s %s response", method, path), errors.ErrTransientRemote)
	}
	return nil
}

// countingReader reports upload progress. Seeking back to the start (a retry)
// restarts the count.
type countingReader struct {
	r        io.ReadSeeker
	total    int64
	read     int64
	progress ProgressFunc
}

func (c *countingReader) Read(b []byte) (int, error) {
	n, err := c.r.Read(b)
	c.read += int64(n)
	if c.total > 0 && n > 0 {
		// Hold back the last percent until the server has answered
		report(c.progress, float64(c.read)/float64(c.total)*99)
	}
	return n, err
}

func (c *countingReader) Seek(offset int64, whence int) (int64, error) {
	pos, err := c.r.Seek(offset, whence)
	if err == nil {
		c.read = pos
	}
	return pos, err
}

type countingWriter struct {
	w        io.Writer
	total    int64
	written  int64
	progress ProgressFunc
}

func (c *countingWriter) Write(b []byte) (int, error) {
	n, err := c.w.Write(b)
	c.written += int64(n)
	if c.total > 0 {
		report(c.progress, float64(c.written)/float64(c.total)*100)
	}
	return n, err
}
