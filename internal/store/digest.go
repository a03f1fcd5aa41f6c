package store

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// DefaultChunkSize is the read size used by Digest.
const DefaultChunkSize = 8192

// Digest computes the SHA-1 hex digest of the file at path. SHA-1 is the
// digest the upstream advertises in endpoint.json.
func Digest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	sum, err := DigestReader(f, DefaultChunkSize)
	if err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return sum, nil
}

// DigestReader hashes r in fixed-size chunks. The result does not depend on
// chunkSize.
func DigestReader(r io.Reader, chunkSize int) (string, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	h := sha1.New()
	buf := make([]byte, chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// DigestBytes computes the SHA-1 hex digest of data.
func DigestBytes(data []byte) string {
	h := sha1.Sum(data)
	return hex.EncodeToString(h[:])
}
