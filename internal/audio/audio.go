// Package audio probes uploaded recordings: the accepted container types and
// their playback duration.
package audio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tcolgate/mp3"
)

// ErrUnsupportedFormat is returned for containers Duration cannot read.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// maxFmtChunkSize covers WAVE_FORMAT_EXTENSIBLE (40 bytes) with headroom.
const maxFmtChunkSize = 64

// AllowedContentTypes lists the upload MIME types accepted for transcription.
var AllowedContentTypes = []string{
	"audio/mpeg",
	"audio/wav",
	"audio/mp4",
	"audio/x-m4a",
	"audio/mp3",
}

// AllowedExtensions lists the filename suffixes accepted for transcription.
var AllowedExtensions = []string{".mp3", ".wav", ".m4a"}

// IsAllowed reports whether an upload is acceptable by declared content type
// or by filename suffix.
func IsAllowed(contentType, filename string) bool {
	mediaType := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	for _, allowed := range AllowedContentTypes {
		if mediaType == allowed {
			return true
		}
	}
	ext := strings.ToLower(filepath.Ext(filename))
	for _, allowed := range AllowedExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

// Duration returns the playback length of an MP3 or WAV file.
func Duration(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		return mp3Duration(bufio.NewReader(f))
	case ".wav":
		return wavDuration(f)
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// mp3Duration sums the durations of all decodable frames.
func mp3Duration(r io.Reader) (time.Duration, error) {
	dec := mp3.NewDecoder(r)
	var (
		frame   mp3.Frame
		skipped int
		total   time.Duration
		frames  int
	)
	for {
		if err := dec.Decode(&frame, &skipped); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return 0, fmt.Errorf("decode mp3 frame: %w", err)
		}
		total += frame.Duration()
		frames++
	}
	if frames == 0 {
		return 0, fmt.Errorf("decode mp3: no frames found")
	}
	return total, nil
}

// wavDuration reads the RIFF chunks to find the byte rate and data size.
func wavDuration(r io.Reader) (time.Duration, error) {
	var header [12]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, fmt.Errorf("read wav header: %w", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return 0, fmt.Errorf("%w: not a RIFF/WAVE file", ErrUnsupportedFormat)
	}

	var byteRate uint32
	for {
		var chunk [8]byte
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			return 0, fmt.Errorf("read wav chunk: %w", err)
		}
		id := string(chunk[0:4])
		size := binary.LittleEndian.Uint32(chunk[4:8])

		switch id {
		case "fmt ":
			if size < 16 || size > maxFmtChunkSize {
				return 0, fmt.Errorf("%w: wav fmt chunk of %d bytes", ErrUnsupportedFormat, size)
			}
			var fmtChunk [16]byte
			if _, err := io.ReadFull(r, fmtChunk[:]); err != nil {
				return 0, fmt.Errorf("read wav fmt chunk: %w", err)
			}
			byteRate = binary.LittleEndian.Uint32(fmtChunk[8:12])
			if _, err := io.CopyN(io.Discard, r, paddedSize(size)-16); err != nil {
				return 0, fmt.Errorf("skip wav fmt extension: %w", err)
			}
		case "data":
			if byteRate == 0 {
				return 0, fmt.Errorf("wav data chunk before fmt chunk")
			}
			return time.Duration(float64(size) / float64(byteRate) * float64(time.Second)), nil
		default:
			if _, err := io.CopyN(io.Discard, r, paddedSize(size)); err != nil {
				return 0, fmt.Errorf("skip wav chunk %q: %w", id, err)
			}
		}
	}
}

// paddedSize returns a chunk's size on disk; odd chunks carry a pad byte.
func paddedSize(size uint32) int64 {
	n := int64(size)
	return n + n%2
}
