// Package doctor provides environment preflight checks for voicetts.
package doctor

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// PassMark and FailMark are the prefix symbols printed for each check result.
const (
	PassMark = "✓"
	FailMark = "✗"
)

// minFFmpegMajor is the oldest ffmpeg release whose wav muxer and resampler
// flags we rely on.
const minFFmpegMajor = 4

// VersionFunc returns a version string or an error if the component is unavailable.
type VersionFunc func() (string, error)

// Config holds injectable dependencies for each doctor check.
type Config struct {
	// FFmpegVersion returns the first line of `ffmpeg -version`.
	FFmpegVersion VersionFunc
	// SkipFFmpeg skips the ffmpeg check.
	SkipFFmpeg bool
	// Engine names the configured backend in the output.
	Engine string
	// EngineHealth probes the engine and returns a short description.
	EngineHealth VersionFunc
	// WritableDirs must exist (or be creatable) and accept new files.
	WritableDirs []string
}

// Result collects the outcome of all checks.
type Result struct {
	failures []string
}

// Failed returns true if any check failed.
func (r *Result) Failed() bool { return len(r.failures) > 0 }

// Failures returns the list of failure messages.
func (r *Result) Failures() []string { return append([]string(nil), r.failures...) }

// AddFailure appends an external failure message to the result.
func (r *Result) AddFailure(msg string) { r.failures = append(r.failures, msg) }

func (r *Result) fail(msg string) { r.failures = append(r.failures, msg) }

// Run executes all configured checks and writes human-readable output to w.
// Each check line is prefixed with PassMark or FailMark.
func Run(cfg Config, w io.Writer) Result {
	var res Result

	// ---- ffmpeg -----------------------------------------------------------
	switch {
	case cfg.SkipFFmpeg:
		fmt.Fprintf(w, "%s ffmpeg: skipped\n", PassMark)
	case cfg.FFmpegVersion == nil:
		res.fail("ffmpeg: no probe configured")
		fmt.Fprintf(w, "%s ffmpeg: no probe configured\n", FailMark)
	default:
		ver, err := cfg.FFmpegVersion()
		if err != nil {
			res.fail(fmt.Sprintf("ffmpeg: %v", err))
			fmt.Fprintf(w, "%s ffmpeg: not found (%v)\n", FailMark, err)
		} else if verErr := checkFFmpegVersion(ver); verErr != nil {
			res.fail(fmt.Sprintf("ffmpeg: %v", verErr))
			fmt.Fprintf(w, "%s ffmpeg %s: %v\n", FailMark, ver, verErr)
		} else {
			fmt.Fprintf(w, "%s ffmpeg: %s\n", PassMark, ver)
		}
	}

	// ---- synthesis engine -------------------------------------------------
	name := cfg.Engine
	if name == "" {
		name = "engine"
	}
	if cfg.EngineHealth != nil {
		desc, err := cfg.EngineHealth()
		if err != nil {
			res.fail(fmt.Sprintf("%s: %v", name, err))
			fmt.Fprintf(w, "%s %s: unavailable (%v)\n", FailMark, name, err)
		} else {
			fmt.Fprintf(w, "%s %s: %s\n", PassMark, name, desc)
		}
	}

	// ---- directories ------------------------------------------------------
	for _, dir := range cfg.WritableDirs {
		if err := checkWritable(dir); err != nil {
			res.fail(fmt.Sprintf("directory %q: %v", dir, err))
			fmt.Fprintf(w, "%s directory %s: not writable\n", FailMark, dir)
		} else {
			fmt.Fprintf(w, "%s directory: %s\n", PassMark, dir)
		}
	}

	return res
}

func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".voicetts-doctor-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

// checkFFmpegVersion rejects releases older than minFFmpegMajor. Snapshot
// builds ("N-112233-gabcdef") carry no release number and are accepted.
func checkFFmpegVersion(line string) error {
	ver := ffmpegVersionToken(line)
	if ver == "" || strings.HasPrefix(ver, "N-") {
		return nil
	}

	major, _, err := parseMajorMinor(strings.TrimPrefix(ver, "n"))
	if err != nil {
		return fmt.Errorf("cannot parse %q: %w", ver, err)
	}
	if major < minFFmpegMajor {
		return fmt.Errorf("requires ffmpeg >=%d, got %d", minFFmpegMajor, major)
	}
	return nil
}

// ffmpegVersionToken extracts "6.1.1" from "ffmpeg version 6.1.1-3ubuntu5 ...".
func ffmpegVersionToken(line string) string {
	const prefix = "ffmpeg version "
	i := strings.Index(line, prefix)
	if i < 0 {
		return ""
	}
	fields := strings.Fields(line[i+len(prefix):])
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func parseMajorMinor(ver string) (major, minor int, err error) {
	parts := strings.SplitN(ver, ".", 3)
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("unexpected version format %q", ver)
	}
	major, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("bad major in %q: %w", ver, err)
	}
	minor, err = strconv.Atoi(leadingDigits(parts[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("bad minor in %q: %w", ver, err)
	}
	return major, minor, nil
}

// leadingDigits trims distro suffixes such as "1-3ubuntu5".
func leadingDigits(s string) string {
	for i, r := range s {
		if r < '0' || r > '9' {
			return s[:i]
		}
	}
	return s
}
