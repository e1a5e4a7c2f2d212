package identity

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/teranos/scribe/errors"
)

func TestVerifyOutput(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content *string // nil = file absent
		ok      bool
	}{
		{name: "text only", content: strp(`{"text":"hello world"}`), ok: true},
		{name: "segments only", content: strp(`{"text":"","segments":[{"start":0,"end":1.5,"text":"hi"}]}`), ok: true},
		{name: "missing file", content: nil, ok: false},
		{name: "empty file", content: strp(``), ok: false},
		{name: "not json", content: strp(`<html>502</html>`), ok: false},
		{name: "no text no segments", content: strp(`{"id":"t1","language":"en"}`), ok: false},
		{name: "inverted segment", content: strp(`{"segments":[{"start":2,"end":1,"text":"x"}]}`), ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".transcript.json")
			if tt.content != nil {
				writeFile(t, dir, filepath.Base(path), *tt.content)
			}

			err := VerifyOutput(path)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrVerification), "got %v", err)
		})
	}
}

func strp(s string) *string { return &s }
