package audio

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// Error kinds reported by Transcode. Match them with errors.Is.
var (
	ErrUnsupportedContainer = errors.New("unsupported container")
	ErrNoAudioTrack         = errors.New("no audio track")
	ErrDecoderInit          = errors.New("decoder unavailable")
	ErrDecode               = errors.New("decode failed")
	ErrEmptyDecode          = errors.New("decoder produced no samples")
	ErrReadInput            = errors.New("read input")
	ErrWriteOutput          = errors.New("write output")
)

// supportedCodecs lists the sample entry fourccs the decoder accepts.
var supportedCodecs = map[string]bool{
	"mp4a": true,
}

// TranscodeError describes a failed conversion.
type TranscodeError struct {
	Kind error
	Path string
	Err  error
}

func (e *TranscodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("transcode %s: %v", e.Path, e.Kind)
	}
	return fmt.Sprintf("transcode %s: %v: %v", e.Path, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *TranscodeError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Stats summarizes a successful conversion.
type Stats struct {
	Codec          string
	SourceRate     int
	SourceChannels int
	// Duration is the movie duration declared by the container.
	Duration time.Duration
	// Samples is the number of 16 kHz mono samples written.
	Samples int
	// Bytes is the size of the WAV file including its header.
	Bytes int64
}

// Transcoder converts MP4/M4A recordings to 16 kHz mono WAV.
type Transcoder struct {
	decoder Decoder
}

// NewTranscoder creates a transcoder using the given decoder.
func NewTranscoder(decoder Decoder) *Transcoder {
	return &Transcoder{decoder: decoder}
}

// Transcode converts the recording at inputPath into a WAV file at
// outputPath. The output must not exist yet; on failure any partial output
// is removed. The input is only read.
func (t *Transcoder) Transcode(inputPath, outputPath string) (Stats, error) {
	fail := func(kind, err error) (Stats, error) {
		return Stats{}, &TranscodeError{Kind: kind, Path: inputPath, Err: err}
	}

	track, container, err := probeFile(inputPath)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnsupportedContainer), errors.Is(err, errInvalidBox):
			return fail(ErrUnsupportedContainer, err)
		case errors.Is(err, ErrNoAudioTrack):
			return fail(ErrNoAudioTrack, nil)
		default:
			return fail(ErrReadInput, err)
		}
	}

	if !supportedCodecs[track.Codec] {
		return fail(ErrDecoderInit, fmt.Errorf("no decoder for codec %q", track.Codec))
	}

	buf, err := t.decoder.Decode(inputPath, track)
	if err != nil {
		if errors.Is(err, ErrDecoderInit) {
			return fail(ErrDecoderInit, err)
		}
		return fail(ErrDecode, err)
	}
	if buf == nil || len(buf.Samples) == 0 {
		return fail(ErrEmptyDecode, nil)
	}

	mono := Mixdown(buf.Samples, buf.Channels)
	pcm := Resample(mono, buf.SampleRate, TargetSampleRate)
	if len(pcm) == 0 {
		return fail(ErrEmptyDecode, fmt.Errorf("%d source samples resample to nothing", len(mono)))
	}

	size, err := writeFile(outputPath, pcm)
	if err != nil {
		return fail(ErrWriteOutput, err)
	}

	return Stats{
		Codec:          track.Codec,
		SourceRate:     buf.SampleRate,
		SourceChannels: buf.Channels,
		Duration:       container.Duration,
		Samples:        len(pcm),
		Bytes:          size,
	}, nil
}

func probeFile(path string) (Track, *Container, error) {
	f, err := os.Open(path)
	if err != nil {
		return Track{}, nil, err
	}
	defer f.Close()

	c, err := ProbeMP4(f)
	if err != nil {
		return Track{}, nil, err
	}
	track, ok := c.FirstAudioTrack()
	if !ok {
		return Track{}, nil, ErrNoAudioTrack
	}
	return track, c, nil
}

// writeFile creates path exclusively and writes the WAV. The file is
// removed again if anything fails after creation.
func writeFile(path string, samples []int16) (size int64, err error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(path)
		}
	}()

	if err = WriteWAV(f, samples, TargetSampleRate); err != nil {
		return 0, err
	}
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if err = f.Close(); err != nil {
		return 0, err
	}
	return info.Size(), nil
}
