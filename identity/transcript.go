package identity

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/teranos/scribe/errors"
)

// Segment is one timed span of a transcript.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcript is the document the provider returns and scribe writes to disk.
type Transcript struct {
	ID       string    `json:"id,omitempty"`
	Text     string    `json:"text"`
	Language string    `json:"language,omitempty"`
	Duration float64   `json:"duration,omitempty"`
	Segments []Segment `json:"segments,omitempty"`
}

// ReadTranscript loads and decodes a transcript file.
func ReadTranscript(path string) (*Transcript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Mark(errors.Wrapf(err, "transcript missing: %s", path), errors.ErrVerification)
		}
		return nil, errors.Mark(errors.Wrapf(err, "failed to read transcript %s", path), errors.ErrIO)
	}
	if len(data) == 0 {
		return nil, errors.Mark(errors.Newf("transcript is empty: %s", path), errors.ErrVerification)
	}

	var t Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "transcript is not valid JSON: %s", path), errors.ErrVerification)
	}
	return &t, nil
}

// VerifyOutput accepts a transcript file only if it exists, is non-empty,
// decodes, and carries text or at least one segment.
func VerifyOutput(path string) error {
	t, err := ReadTranscript(path)
	if err != nil {
		return err
	}
	if strings.TrimSpace(t.Text) == "" && len(t.Segments) == 0 {
		return errors.Mark(errors.Newf("transcript has no text or segments: %s", path), errors.ErrVerification)
	}
	for i, seg := range t.Segments {
		if seg.End < seg.Start {
			return errors.Mark(errors.Newf("transcript segment %d ends before it starts: %s", i, path), errors.ErrVerification)
		}
	}
	return nil
}
