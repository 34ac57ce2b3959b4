package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// errInvalidBox indicates a box whose size does not fit its parent.
var errInvalidBox = errors.New("invalid MP4 box layout")

// compatibleBrands are the ftyp major brands accepted as an MP4/M4A
// recording.
var compatibleBrands = map[string]bool{
	"M4A ": true,
	"M4B ": true,
	"mp41": true,
	"mp42": true,
	"isom": true,
	"iso2": true,
	"3gp4": true,
	"3gp5": true,
	"3gp6": true,
	"dash": true,
}

// Container describes an MP4 recording.
type Container struct {
	Brand    string
	Duration time.Duration
	Tracks   []Track
}

// Track is one trak box of an MP4 container.
type Track struct {
	// Handler is the hdlr handler type: "soun" for audio, "vide" for video.
	Handler string
	// Codec is the sample entry fourcc, e.g. "mp4a".
	Codec      string
	Channels   int
	SampleRate int
	// AudioIndex is the ordinal of this track among the audio tracks.
	AudioIndex int
}

// FirstAudioTrack returns the first track whose handler is "soun".
func (c *Container) FirstAudioTrack() (Track, bool) {
	for _, t := range c.Tracks {
		if t.Handler == "soun" {
			return t, true
		}
	}
	return Track{}, false
}

type boxHeader struct {
	typ       string
	size      int64
	headerLen int64
}

// ProbeMP4 walks the box tree of an ISO base media file and collects the
// movie duration and its tracks. It returns ErrUnsupportedContainer when
// the stream does not start with a compatible ftyp box.
func ProbeMP4(r io.ReadSeeker) (*Container, error) {
	end, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, err
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	c := &Container{}
	var foundFtyp, foundMoov bool

	err = walkBoxes(r, 0, end, func(h boxHeader, bodyStart, bodyEnd int64) error {
		switch h.typ {
		case "ftyp":
			brand, err := readFtyp(r, bodyEnd-bodyStart)
			if err != nil {
				return err
			}
			c.Brand = brand
			foundFtyp = true
		case "moov":
			if !foundFtyp {
				return ErrUnsupportedContainer
			}
			foundMoov = true
			return parseMoov(r, bodyStart, bodyEnd, c)
		default:
			if !foundFtyp {
				return ErrUnsupportedContainer
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !foundFtyp || !foundMoov {
		return nil, ErrUnsupportedContainer
	}

	audio := 0
	for i := range c.Tracks {
		if c.Tracks[i].Handler == "soun" {
			c.Tracks[i].AudioIndex = audio
			audio++
		}
	}
	return c, nil
}

// walkBoxes visits each box between start and end. Boxes with size 0 extend
// to end; size 1 means a 64-bit size follows the type.
func walkBoxes(r io.ReadSeeker, start, end int64, visit func(h boxHeader, bodyStart, bodyEnd int64) error) error {
	pos := start
	for pos+8 <= end {
		if _, err := r.Seek(pos, io.SeekStart); err != nil {
			return err
		}
		h, err := readBoxHeader(r)
		if err != nil {
			return err
		}

		boxEnd := pos + h.size
		if h.size == 0 {
			boxEnd = end
		}
		bodyStart := pos + h.headerLen
		if boxEnd > end || boxEnd < bodyStart {
			return fmt.Errorf("%w: %q at offset %d", errInvalidBox, h.typ, pos)
		}

		if err := visit(h, bodyStart, boxEnd); err != nil {
			return err
		}
		pos = boxEnd
	}
	return nil
}

func readBoxHeader(r io.Reader) (boxHeader, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return boxHeader{}, err
	}

	h := boxHeader{
		typ:       string(header[4:8]),
		size:      int64(binary.BigEndian.Uint32(header[0:4])),
		headerLen: 8,
	}
	if h.size == 1 {
		var large [8]byte
		if _, err := io.ReadFull(r, large[:]); err != nil {
			return boxHeader{}, err
		}
		h.size = int64(binary.BigEndian.Uint64(large[:]))
		h.headerLen = 16
	}
	return h, nil
}

func readFtyp(r io.Reader, bodyLen int64) (string, error) {
	if bodyLen < 4 {
		return "", ErrUnsupportedContainer
	}
	var brand [4]byte
	if _, err := io.ReadFull(r, brand[:]); err != nil {
		return "", err
	}
	if !compatibleBrands[string(brand[:])] {
		return "", ErrUnsupportedContainer
	}
	return string(brand[:]), nil
}

func parseMoov(r io.ReadSeeker, start, end int64, c *Container) error {
	return walkBoxes(r, start, end, func(h boxHeader, bodyStart, bodyEnd int64) error {
		switch h.typ {
		case "mvhd":
			timescale, duration, err := readTimescaleDuration(r)
			if err != nil {
				return err
			}
			if timescale > 0 {
				c.Duration = time.Duration(duration) * time.Second / time.Duration(timescale)
			}
		case "trak":
			t := Track{}
			if err := parseTrak(r, bodyStart, bodyEnd, &t); err != nil {
				return err
			}
			c.Tracks = append(c.Tracks, t)
		}
		return nil
	})
}

func parseTrak(r io.ReadSeeker, start, end int64, t *Track) error {
	return walkBoxes(r, start, end, func(h boxHeader, bodyStart, bodyEnd int64) error {
		if h.typ == "mdia" {
			return parseMdia(r, bodyStart, bodyEnd, t)
		}
		return nil
	})
}

func parseMdia(r io.ReadSeeker, start, end int64, t *Track) error {
	var timescale uint32
	err := walkBoxes(r, start, end, func(h boxHeader, bodyStart, bodyEnd int64) error {
		switch h.typ {
		case "mdhd":
			ts, _, err := readTimescaleDuration(r)
			if err != nil {
				return err
			}
			timescale = ts
		case "hdlr":
			handler, err := readHandler(r)
			if err != nil {
				return err
			}
			t.Handler = handler
		case "minf":
			return walkBoxes(r, bodyStart, bodyEnd, func(h boxHeader, bodyStart, bodyEnd int64) error {
				if h.typ != "stbl" {
					return nil
				}
				return walkBoxes(r, bodyStart, bodyEnd, func(h boxHeader, bodyStart, bodyEnd int64) error {
					if h.typ != "stsd" {
						return nil
					}
					return readSampleDescription(r, bodyEnd-bodyStart, t)
				})
			})
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Rates above 65535 Hz do not fit the 16.16 field of the sample entry;
	// the media timescale carries the real rate in that case.
	if t.SampleRate == 0 && t.Handler == "soun" {
		t.SampleRate = int(timescale)
	}
	return nil
}

// readTimescaleDuration reads the timescale and duration fields shared by
// mvhd and mdhd, handling both the 32-bit (v0) and 64-bit (v1) layouts.
func readTimescaleDuration(r io.Reader) (uint32, uint64, error) {
	var versionFlags [4]byte
	if _, err := io.ReadFull(r, versionFlags[:]); err != nil {
		return 0, 0, err
	}

	if versionFlags[0] == 1 {
		var b [28]byte // creation(8) modification(8) timescale(4) duration(8)
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, 0, err
		}
		return binary.BigEndian.Uint32(b[16:20]), binary.BigEndian.Uint64(b[20:28]), nil
	}

	var b [16]byte // creation(4) modification(4) timescale(4) duration(4)
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, 0, err
	}
	return binary.BigEndian.Uint32(b[8:12]), uint64(binary.BigEndian.Uint32(b[12:16])), nil
}

func readHandler(r io.Reader) (string, error) {
	var b [12]byte // version/flags(4) pre_defined(4) handler_type(4)
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return "", err
	}
	return string(b[8:12]), nil
}

// readSampleDescription reads the first entry of an stsd box. For audio
// entries the channel count and 16.16 sample rate follow the generic
// SampleEntry fields.
func readSampleDescription(r io.Reader, bodyLen int64, t *Track) error {
	if bodyLen < 16 {
		return nil
	}
	var head [16]byte // version/flags(4) entry_count(4) entry size(4) format(4)
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return err
	}
	if binary.BigEndian.Uint32(head[4:8]) == 0 {
		return nil
	}
	t.Codec = string(head[12:16])

	if t.Handler != "soun" || bodyLen < 16+28 {
		return nil
	}
	var entry [28]byte // reserved(6) data_ref(2) reserved(8) channels(2) size(2) pre_defined(2) reserved(2) rate(4)
	if _, err := io.ReadFull(r, entry[:]); err != nil {
		return err
	}
	t.Channels = int(binary.BigEndian.Uint16(entry[16:18]))
	t.SampleRate = int(binary.BigEndian.Uint32(entry[24:28]) >> 16)
	return nil
}
