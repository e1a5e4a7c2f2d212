package folder

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/scribe/errors"
)

var testExtensions = []string{".mp3", ".wav", ".mp4"}

func writeFile(t *testing.T, path string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	return path
}

func TestMatchesExtension(t *testing.T) {
	assert.True(t, MatchesExtension("/a/talk.MP3", testExtensions))
	assert.True(t, MatchesExtension("clip.mp4", testExtensions))
	assert.False(t, MatchesExtension("notes.txt", testExtensions))
	assert.False(t, MatchesExtension("Makefile", testExtensions))
	assert.False(t, MatchesExtension("a.transcript.json", testExtensions))
}

func TestScan(t *testing.T) {
	dir := t.TempDir()
	top := writeFile(t, filepath.Join(dir, "b.mp3"))
	upper := writeFile(t, filepath.Join(dir, "A.WAV"))
	nested := writeFile(t, filepath.Join(dir, "sub", "c.mp4"))
	writeFile(t, filepath.Join(dir, "readme.txt"))
	writeFile(t, filepath.Join(dir, ".hidden.mp3"))
	writeFile(t, filepath.Join(dir, ".cache", "d.mp3"))

	files, err := Scan(dir, testExtensions, true)
	require.NoError(t, err)
	assert.Equal(t, []string{upper, top, nested}, files)

	files, err = Scan(dir, testExtensions, false)
	require.NoError(t, err)
	assert.Equal(t, []string{upper, top}, files)
}

func TestScan_Errors(t *testing.T) {
	_, err := Scan(filepath.Join(t.TempDir(), "missing"), testExtensions, true)
	assert.True(t, errors.Is(err, errors.ErrInput))

	file := writeFile(t, filepath.Join(t.TempDir(), "a.mp3"))
	_, err = Scan(file, testExtensions, true)
	assert.True(t, errors.Is(err, errors.ErrInput))
}
