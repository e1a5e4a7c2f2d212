package identity

import (
	"encoding/hex"
	"io"
	"os"
	"path/filepath"

	"github.com/mr-tron/base58"
	"lukechampine.com/blake3"

	"github.com/teranos/scribe/errors"
)

// HashSize is the digest length in bytes (BLAKE3-256).
const HashSize = 32

// Hash returns the hex-encoded BLAKE3-256 digest of the file at path.
// The file is streamed, never loaded whole.
func Hash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.Mark(errors.Wrapf(err, "input file missing: %s", path), errors.ErrInput)
		}
		return "", errors.Mark(errors.Wrapf(err, "failed to open %s", path), errors.ErrIO)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", errors.Mark(errors.Wrapf(err, "failed to stat %s", path), errors.ErrIO)
	}
	if info.IsDir() {
		return "", errors.NewInputError("not a regular file: %s", path)
	}

	h := blake3.New(HashSize, nil)
	if _, err := io.Copy(h, f); err != nil {
		return "", errors.Mark(errors.Wrapf(err, "failed to read %s", path), errors.ErrIO)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ShortID renders the first 8 bytes of a hex content hash in base58 for
// tables and log lines. Anything that is not hex is returned truncated.
func ShortID(hash string) string {
	raw, err := hex.DecodeString(hash)
	if err != nil || len(raw) == 0 {
		if len(hash) > 12 {
			return hash[:12]
		}
		return hash
	}
	if len(raw) > 8 {
		raw = raw[:8]
	}
	return base58.Encode(raw)
}

// DirTag is a short, filesystem-safe digest of a directory path. It keeps
// same-named inputs from different folders apart in one output directory.
func DirTag(dir string) string {
	sum := blake3.Sum256([]byte(filepath.Clean(dir)))
	return hex.EncodeToString(sum[:4])
}
