package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tcolgate/mp3"
)

// TestIsAllowed checks content type and suffix acceptance.
func TestIsAllowed(t *testing.T) {
	cases := []struct {
		contentType string
		filename    string
		want        bool
	}{
		{"audio/mpeg", "meeting.bin", true},
		{"audio/wav; charset=binary", "x", true},
		{"application/octet-stream", "Sitzung.M4A", true},
		{"application/octet-stream", "notes.txt", false},
		{"video/mp4", "clip.mp4", false},
		{"", "", false},
	}
	for _, tc := range cases {
		if got := IsAllowed(tc.contentType, tc.filename); got != tc.want {
			t.Fatalf("IsAllowed(%q, %q) = %v, want %v", tc.contentType, tc.filename, got, tc.want)
		}
	}
}

// TestDurationWAV computes length from the fmt and data chunks.
func TestDurationWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.wav")
	writeWAV(t, path, 16000, 2*16000*2)

	got, err := Duration(path)
	if err != nil {
		t.Fatalf("Duration() error = %v", err)
	}
	if got != 2*time.Second {
		t.Fatalf("duration = %v, want 2s", got)
	}
}

// TestDurationMP3 sums the frame durations of a valid MPEG stream.
func TestDurationMP3(t *testing.T) {
	frame := mp3.SilentBytes[:mp3.SilentFrame.Size()]
	path := filepath.Join(t.TempDir(), "clip.mp3")
	if err := os.WriteFile(path, bytes.Repeat(frame, 40), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := Duration(path)
	if err != nil {
		t.Fatalf("Duration() error = %v", err)
	}
	want := 40 * mp3.SilentFrame.Duration()
	if want <= 0 || got != want {
		t.Fatalf("duration = %v, want %v", got, want)
	}
}

// TestDurationWAVExtendedFmtChunk skips fmt bytes past the PCM fields.
func TestDurationWAVExtendedFmtChunk(t *testing.T) {
	le := binary.LittleEndian
	buf := []byte("RIFF")
	buf = le.AppendUint32(buf, 0)
	buf = append(buf, "WAVEfmt "...)
	buf = le.AppendUint32(buf, 18)
	buf = le.AppendUint16(buf, 1)
	buf = le.AppendUint16(buf, 1)
	buf = le.AppendUint32(buf, 8000)
	buf = le.AppendUint32(buf, 16000)
	buf = le.AppendUint16(buf, 2)
	buf = le.AppendUint16(buf, 16)
	buf = le.AppendUint16(buf, 0)
	buf = append(buf, "data"...)
	buf = le.AppendUint32(buf, 8000)
	buf = append(buf, make([]byte, 8000)...)

	path := filepath.Join(t.TempDir(), "ext.wav")
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := Duration(path)
	if err != nil {
		t.Fatalf("Duration() error = %v", err)
	}
	if got != 500*time.Millisecond {
		t.Fatalf("duration = %v, want 500ms", got)
	}
}

// TestDurationWAVHostileChunkSizes rejects sizes that exceed the file.
func TestDurationWAVHostileChunkSizes(t *testing.T) {
	le := binary.LittleEndian
	cases := map[string]struct {
		id   string
		size uint32
	}{
		"huge fmt":     {"fmt ", 0x7FFFFFF0},
		"short fmt":    {"fmt ", 4},
		"max list":     {"LIST", 0xFFFFFFFF},
		"huge unknown": {"junk", 0x7FFFFFF0},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			buf := []byte("RIFF")
			buf = le.AppendUint32(buf, 0)
			buf = append(buf, "WAVE"...)
			buf = append(buf, tc.id...)
			buf = le.AppendUint32(buf, tc.size)

			path := filepath.Join(t.TempDir(), "hostile.wav")
			if err := os.WriteFile(path, buf, 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
			if _, err := Duration(path); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

// TestDurationRejectsGarbage checks malformed and unsupported inputs.
func TestDurationRejectsGarbage(t *testing.T) {
	root := t.TempDir()

	wavPath := filepath.Join(root, "bad.wav")
	if err := os.WriteFile(wavPath, []byte("not a riff file at all"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Duration(wavPath); err == nil {
		t.Fatal("expected wav error")
	}

	mp3Path := filepath.Join(root, "bad.mp3")
	if err := os.WriteFile(mp3Path, []byte("definitely not mpeg audio"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Duration(mp3Path); err == nil {
		t.Fatal("expected mp3 error")
	}

	m4aPath := filepath.Join(root, "clip.m4a")
	if err := os.WriteFile(m4aPath, []byte("ftyp"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Duration(m4aPath); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("error = %v, want ErrUnsupportedFormat", err)
	}
}

// writeWAV writes a mono 16-bit PCM file with dataSize zero bytes.
func writeWAV(t *testing.T, path string, sampleRate, dataSize uint32) {
	t.Helper()
	buf := make([]byte, 0, 44+dataSize)
	le := binary.LittleEndian
	buf = append(buf, "RIFF"...)
	buf = le.AppendUint32(buf, 36+dataSize)
	buf = append(buf, "WAVE"...)
	buf = append(buf, "fmt "...)
	buf = le.AppendUint32(buf, 16)
	buf = le.AppendUint16(buf, 1)
	buf = le.AppendUint16(buf, 1)
	buf = le.AppendUint32(buf, sampleRate)
	buf = le.AppendUint32(buf, sampleRate*2)
	buf = le.AppendUint16(buf, 2)
	buf = le.AppendUint16(buf, 16)
	buf = append(buf, "data"...)
	buf = le.AppendUint32(buf, dataSize)
	buf = append(buf, make([]byte, dataSize)...)
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write wav: %v", err)
	}
}
