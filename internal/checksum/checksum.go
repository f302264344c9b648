// Package checksum computes evidence digests for extracted files.
package checksum

import (
	"crypto/md5" //nolint:gosec // MD5 is reported alongside SHA-256 for examiners
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Digests holds the hex digests of one stream.
type Digests struct {
	MD5    string `json:"md5"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

// Reader hashes everything read from r.
func Reader(r io.Reader) (Digests, error) {
	m := md5.New() //nolint:gosec
	s := sha256.New()
	n, err := io.Copy(io.MultiWriter(m, s), r)
	if err != nil {
		return Digests{}, fmt.Errorf("checksum: read: %w", err)
	}
	return Digests{
		MD5:    hex.EncodeToString(m.Sum(nil)),
		SHA256: hex.EncodeToString(s.Sum(nil)),
		Size:   n,
	}, nil
}

// File hashes the file at path.
func File(path string) (Digests, error) {
	f, err := os.Open(path)
	if err != nil {
		return Digests{}, fmt.Errorf("checksum: open: %w", err)
	}
	defer f.Close()
	return Reader(f)
}
