package doctor

import (
	"testing"
)

func TestParseMajorMinor(t *testing.T) {
	tests := []struct {
		name      string
		ver       string
		wantMajor int
		wantMinor int
		wantErr   bool
	}{
		{"simple", "6.1", 6, 1, false},
		{"with patch", "6.1.1", 6, 1, false},
		{"distro suffix", "4.4-2ubuntu1", 4, 4, false},
		{"single number", "7", 0, 0, true},
		{"empty", "", 0, 0, true},
		{"bad major", "abc.11", 0, 0, true},
		{"bad minor", "3.xyz", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			major, minor, err := parseMajorMinor(tt.ver)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseMajorMinor(%q) = (%d,%d,nil); want error", tt.ver, major, minor)
				}

				return
			}

			if err != nil {
				t.Fatalf("parseMajorMinor(%q) error: %v", tt.ver, err)
			}

			if major != tt.wantMajor || minor != tt.wantMinor {
				t.Fatalf("parseMajorMinor(%q) = (%d,%d); want (%d,%d)",
					tt.ver, major, minor, tt.wantMajor, tt.wantMinor)
			}
		})
	}
}

func TestCheckFFmpegVersion(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		wantErr bool
	}{
		{"4.0 ok", "ffmpeg version 4.0 Copyright", false},
		{"6.1 distro", "ffmpeg version 6.1.1-3ubuntu5 Copyright", false},
		{"n-prefixed tag", "ffmpeg version n7.0.2", false},
		{"snapshot build", "ffmpeg version N-113045-g1f4ec3b", false},
		{"unrecognised banner", "avconv version 12", false},
		{"too old", "ffmpeg version 3.4.8", true},
		{"garbage version", "ffmpeg version banana", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkFFmpegVersion(tt.line)
			if (err != nil) != tt.wantErr {
				t.Fatalf("checkFFmpegVersion(%q) = %v; wantErr=%v", tt.line, err, tt.wantErr)
			}
		})
	}
}
