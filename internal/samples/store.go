// Package samples stores named reference voice recordings in the canonical
// WAV format, keyed by a sanitized sample name.
package samples

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/example/go-voice-tts/internal/audio"
)

const (
	canonicalExt   = "wav"
	dirPermissions = 0o750
)

// ErrNotFound is returned when a named sample does not exist in the store.
var ErrNotFound = errors.New("sample not found")

// FileNormalizer converts an arbitrary audio file into canonical WAV.
type FileNormalizer interface {
	NormalizeFile(ctx context.Context, inputPath, outputPath string) error
}

// Sample describes one stored recording.
type Sample struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modified"`
}

// Store maps sanitized sample names to canonical WAV files in one directory.
type Store struct {
	dir        string
	normalizer FileNormalizer
}

// NewStore opens (creating if needed) a sample store rooted at dir.
func NewStore(dir string, n FileNormalizer) (*Store, error) {
	if dir == "" {
		return nil, errors.New("samples directory is required")
	}
	if n == nil {
		return nil, errors.New("samples normalizer is required")
	}

	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return nil, fmt.Errorf("create samples directory: %w", err)
	}

	return &Store{dir: dir, normalizer: n}, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string { return s.dir }

// Put stores the upload read from raw under the sanitized name and returns
// that key. ext is the original file extension. Canonical WAV uploads are
// moved into place as-is; everything else is normalized first. An existing
// sample with the same key is replaced.
func (s *Store) Put(ctx context.Context, name string, raw io.Reader, ext string) (string, error) {
	key := SanitizeName(name)
	ext = CleanExt(ext)

	staging, err := os.CreateTemp(s.dir, "."+key+".*."+ext)
	if err != nil {
		return "", fmt.Errorf("create staging file: %w", err)
	}
	stagingPath := staging.Name()
	defer func() { _ = os.Remove(stagingPath) }()

	_, err = io.Copy(staging, raw)
	closeErr := staging.Close()
	if err != nil {
		return "", fmt.Errorf("write staging file: %w", err)
	}
	if closeErr != nil {
		return "", fmt.Errorf("close staging file: %w", closeErr)
	}

	final := s.path(key)

	if ext == canonicalExt && isCanonicalFile(stagingPath) {
		if err := os.Rename(stagingPath, final); err != nil {
			return "", fmt.Errorf("move sample %q into place: %w", key, err)
		}
		return key, nil
	}

	if err := s.normalizer.NormalizeFile(ctx, stagingPath, final); err != nil {
		return "", fmt.Errorf("normalize sample %q: %w", key, err)
	}

	return key, nil
}

// Resolve returns the canonical WAV path for a stored sample. The name is
// sanitized first, so the same raw name used for Put resolves the same file.
func (s *Store) Resolve(name string) (string, error) {
	key := SanitizeName(name)
	p := s.path(key)

	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %q", ErrNotFound, key)
		}
		return "", fmt.Errorf("stat sample %q: %w", key, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %q", ErrNotFound, key)
	}

	return p, nil
}

// List returns the stored samples sorted by name.
func (s *Store) List() ([]Sample, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read samples directory: %w", err)
	}

	out := make([]Sample, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		stem, ok := strings.CutSuffix(e.Name(), "."+canonicalExt)
		if !ok || !ValidName(stem) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		out = append(out, Sample{Name: stem, Size: info.Size(), ModTime: info.ModTime()})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out, nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+"."+canonicalExt)
}

// CleanExt lower-cases an extension, drops the leading dot and restricts it
// to the key alphabet.
func CleanExt(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if ext == "" {
		return "bin"
	}
	return SanitizeName(ext)
}

func isCanonicalFile(p string) bool {
	data, err := os.ReadFile(p)
	if err != nil {
		return false
	}
	return audio.CheckCanonical(data) == nil
}
