package audio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// WAVHeaderSize is the length of the canonical RIFF/WAVE header.
const WAVHeaderSize = 44

const (
	formatPCM     = 1
	bitsPerSample = 16
	bytesPerFrame = bitsPerSample / 8
	fmtChunkSize  = 16

	riffSizeOffset = 4
	dataSizeOffset = 40
)

// WriteWAV writes a mono 16-bit PCM WAV file: the 44-byte header followed
// by the samples in little-endian order. The RIFF and data size fields are
// written as zero first and backpatched once all sample data is on disk.
func WriteWAV(w io.WriteSeeker, samples []int16, sampleRate int) error {
	if _, err := w.Write(wavHeader(sampleRate)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	bw := bufio.NewWriterSize(w, 64*1024)
	var b [2]byte
	for _, s := range samples {
		binary.LittleEndian.PutUint16(b[:], uint16(s))
		if _, err := bw.Write(b[:]); err != nil {
			return fmt.Errorf("write samples: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush samples: %w", err)
	}

	end, err := w.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("locate end of data: %w", err)
	}

	if err := patchUint32(w, riffSizeOffset, uint32(end-8)); err != nil {
		return fmt.Errorf("patch riff size: %w", err)
	}
	if err := patchUint32(w, dataSizeOffset, uint32(end-WAVHeaderSize)); err != nil {
		return fmt.Errorf("patch data size: %w", err)
	}

	if _, err := w.Seek(end, io.SeekStart); err != nil {
		return fmt.Errorf("seek to end: %w", err)
	}
	return nil
}

func wavHeader(sampleRate int) []byte {
	h := make([]byte, WAVHeaderSize)
	copy(h[0:4], "RIFF")
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], fmtChunkSize)
	binary.LittleEndian.PutUint16(h[20:22], formatPCM)
	binary.LittleEndian.PutUint16(h[22:24], 1)
	binary.LittleEndian.PutUint32(h[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(h[28:32], uint32(sampleRate*bytesPerFrame))
	binary.LittleEndian.PutUint16(h[32:34], bytesPerFrame)
	binary.LittleEndian.PutUint16(h[34:36], bitsPerSample)
	copy(h[36:40], "data")
	return h
}

func patchUint32(w io.WriteSeeker, offset int64, v uint32) error {
	if _, err := w.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}
