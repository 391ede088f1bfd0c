package crypto

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/sha3"
)

// ErrDigestMismatch is returned by FileVerifyReader.Finish when the bytes
// read through the reader do not hash to the expected digest.
var ErrDigestMismatch error = digestMismatchError{}

type digestMismatchError struct{}

func (digestMismatchError) Error() string { return "crypto: digest mismatch" }

// base32Encoding matches the unpadded, standard (uppercase) alphabet used for
// content-addressed file names throughout this module.
var base32Encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// ContentAddress returns the file name a digest is stored under within dir.
func ContentAddress(dir string, digest Hash) string {
	return filepath.Join(dir, base32Encoding.EncodeToString(digest[:]))
}

// FileHasher streams arbitrary writes to a temporary file while hashing
// them, then on Finalize renames the temp file to its content-addressed
// name within dir. The temp file name is seeded from the wall clock;
// collisions are not a correctness concern because the final rename
// resolves ordering (the content-addressed destination is the same
// regardless of which temp file produced it).
type FileHasher struct {
	dir  string
	tmp  *os.File
	hash *Hasher
}

// NewFileHasher creates a temp file under dir and returns a FileHasher
// ready to receive writes. The temp name mixes the wall clock with a short
// random suffix (sha3-256 of a fresh nonce) so concurrent exports on the
// same host never collide on the same temp path.
func NewFileHasher(dir string) (*FileHasher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	var nonce [16]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}
	suffix := sha3.Sum256(nonce[:])
	name := filepath.Join(dir, fmt.Sprintf(".tmp-%d-%x", time.Now().UnixNano(), suffix[:8]))
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileHasher{dir: dir, tmp: f, hash: NewHasher()}, nil
}

// Write implements io.Writer, hashing and persisting p.
func (fh *FileHasher) Write(p []byte) (int, error) {
	if _, err := fh.hash.Write(p); err != nil {
		return 0, err
	}
	return fh.tmp.Write(p)
}

// Finalize closes the temp file, renames it to its content-addressed path,
// and returns that path along with the digest of everything written.
func (fh *FileHasher) Finalize() (string, Hash, error) {
	digest := fh.hash.Sum32()
	tmpName := fh.tmp.Name()
	if err := fh.tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", Hash{}, err
	}
	dest := ContentAddress(fh.dir, digest)
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return "", Hash{}, err
	}
	return dest, digest, nil
}

// Abort discards the temp file without renaming it, for callers that fail
// before Finalize.
func (fh *FileHasher) Abort() {
	name := fh.tmp.Name()
	fh.tmp.Close()
	os.Remove(name)
}

// FileVerifyReader streams a file's contents while hashing them, so the
// caller can verify the file's actual digest matches what it claims to be
// named/signed as, without buffering the whole file in memory.
type FileVerifyReader struct {
	f    *os.File
	hash *Hasher
}

// OpenFileVerifyReader opens path for streaming verification.
func OpenFileVerifyReader(path string) (*FileVerifyReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &FileVerifyReader{f: f, hash: NewHasher()}, nil
}

// Read implements io.Reader, hashing bytes as they are consumed.
func (r *FileVerifyReader) Read(p []byte) (int, error) {
	n, err := r.f.Read(p)
	if n > 0 {
		r.hash.Write(p[:n])
	}
	return n, err
}

// Finish drains any remaining bytes, closes the file, and reports whether
// the accumulated digest equals expected. A mismatch is a recoverable
// error: callers should discard whatever they decoded from the stream
// rather than trust partial state.
func (r *FileVerifyReader) Finish(expected Hash) error {
	_, copyErr := io.Copy(io.Discard, r)
	closeErr := r.f.Close()
	if copyErr != nil {
		return copyErr
	}
	if closeErr != nil {
		return closeErr
	}
	if r.hash.Sum32() != expected {
		return ErrDigestMismatch
	}
	return nil
}
