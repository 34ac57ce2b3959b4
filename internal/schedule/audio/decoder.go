package audio

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Decoder turns the compressed audio track of a container into interleaved
// signed 16-bit PCM at the track's native rate and channel count.
type Decoder interface {
	Decode(path string, track Track) (*Buffer, error)
}

// FFmpegDecoder decodes through an external ffmpeg binary.
type FFmpegDecoder struct {
	// Path is the ffmpeg executable. Empty means "ffmpeg" on PATH.
	Path string
}

// NewFFmpegDecoder creates a decoder that runs the given ffmpeg binary.
func NewFFmpegDecoder(path string) *FFmpegDecoder {
	return &FFmpegDecoder{Path: path}
}

func (d *FFmpegDecoder) binary() string {
	if d.Path == "" {
		return "ffmpeg"
	}
	return d.Path
}

// Decode runs ffmpeg once and collects raw s16le samples from its stdout.
// A missing binary is reported as ErrDecoderInit, a non-zero exit as
// ErrDecode.
func (d *FFmpegDecoder) Decode(path string, track Track) (*Buffer, error) {
	bin, err := exec.LookPath(d.binary())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecoderInit, err)
	}

	channels := track.Channels
	if channels <= 0 {
		channels = 1
	}

	cmd := exec.Command(bin, ffmpegArgs(path, track.AudioIndex, channels, track.SampleRate)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%w: ffmpeg exited %d: %s", ErrDecode, exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("%w: %v", ErrDecoderInit, err)
	}

	return &Buffer{
		Samples:    BytesToSamples(stdout.Bytes()),
		SampleRate: track.SampleRate,
		Channels:   channels,
	}, nil
}

func ffmpegArgs(path string, audioIndex, channels, sampleRate int) []string {
	args := []string{
		"-nostdin", "-hide_banner", "-loglevel", "error",
		"-i", path,
		"-map", "0:a:" + strconv.Itoa(audioIndex),
		"-vn",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ac", strconv.Itoa(channels),
	}
	if sampleRate > 0 {
		args = append(args, "-ar", strconv.Itoa(sampleRate))
	}
	return append(args, "pipe:1")
}
