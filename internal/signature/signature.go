// Package signature decides whether a local file already matches an
// expected file, using its size and, below a threshold, its MD5 digest.
package signature

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DefaultThreshold is the size above which content hashing is skipped.
const DefaultThreshold int64 = 512 << 20

// Verifier compares files against expected signatures. It is safe for
// concurrent use.
type Verifier struct {
	// Threshold is the largest size whose content is still hashed. Files
	// with an expected size above it match on length alone.
	Threshold int64

	mu     sync.Mutex
	digest map[uint64]digestEntry
}

// digestEntry is a cached digest together with the file identity it was
// computed for. The map key is only a hash of that identity.
type digestEntry struct {
	path  string
	size  int64
	mtime int64
	sum   string
}

func (e digestEntry) sameFile(other digestEntry) bool {
	return e.path == other.path && e.size == other.size && e.mtime == other.mtime
}

// New creates a Verifier with the given hashing threshold.
func New(threshold int64) *Verifier {
	return &Verifier{Threshold: threshold}
}

// Matches reports whether the file at path has the expected size and, when
// size does not exceed the threshold, the expected MD5 digest. A missing
// file never matches.
func (v *Verifier) Matches(path string, size int64, md5Hex string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if info.IsDir() || info.Size() != size {
		return false, nil
	}
	if size > v.Threshold {
		return true, nil
	}

	sum, err := v.cachedMD5(path, info)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(sum, md5Hex), nil
}

// MatchesFile reports whether the file at path matches the file at
// reference, using the same rule as Matches.
func (v *Verifier) MatchesFile(path, reference string) (bool, error) {
	ref, err := os.Stat(reference)
	if err != nil {
		return false, fmt.Errorf("failed to stat reference file: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if info.IsDir() || info.Size() != ref.Size() {
		return false, nil
	}
	if ref.Size() > v.Threshold {
		return true, nil
	}

	want, err := v.cachedMD5(reference, ref)
	if err != nil {
		return false, err
	}
	got, err := v.cachedMD5(path, info)
	if err != nil {
		return false, err
	}
	return got == want, nil
}

// cachedMD5 returns the digest of path, reusing an earlier result when the
// file's size and modification time are unchanged.
func (v *Verifier) cachedMD5(path string, info fs.FileInfo) (string, error) {
	want := digestEntry{path: path, size: info.Size(), mtime: info.ModTime().UnixNano()}
	key := cacheKey(want)

	v.mu.Lock()
	cached, ok := v.digest[key]
	v.mu.Unlock()
	if ok && cached.sameFile(want) {
		return cached.sum, nil
	}

	sum, err := FileMD5(path)
	if err != nil {
		return "", err
	}

	want.sum = sum
	v.mu.Lock()
	if v.digest == nil {
		v.digest = make(map[uint64]digestEntry)
	}
	v.digest[key] = want
	v.mu.Unlock()
	return sum, nil
}

func cacheKey(e digestEntry) uint64 {
	return xxhash.Sum64String(e.path + "\x00" + strconv.FormatInt(e.size, 10) + "\x00" + strconv.FormatInt(e.mtime, 10))
}

// FileMD5 computes the lowercase hex MD5 digest of a file.
func FileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = f.Close()
	}()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
