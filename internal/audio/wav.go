package audio

import (
	"errors"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAV format tags accepted for integer PCM decoding.
const (
	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE
)

// Static errors for WAV decoding.
var (
	// ErrInvalidWAV is returned when a file is not a readable WAV file.
	ErrInvalidWAV = errors.New("audio: invalid WAV file")
	// ErrUnsupportedFormat is returned for WAV encodings that are not integer PCM
	// at 16, 24 or 32 bits.
	ErrUnsupportedFormat = errors.New("audio: unsupported WAV format")
)

// PeakAmplitude returns the largest absolute sample value within the first
// maxFrames frames of the WAV file at path, scaled to 16-bit full scale.
// A file without frames has a peak of zero.
func PeakAmplitude(path string, maxFrames int) (int, error) {
	f, err := os.Open(path) // #nosec G304 - path comes from the engine output directory
	if err != nil {
		return 0, fmt.Errorf("open stem: %w", err)
	}
	defer func() { _ = f.Close() }()

	d := wav.NewDecoder(f)
	d.ReadInfo()
	if err := d.Err(); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidWAV, err)
	}
	if d.NumChans < 1 || d.BitDepth < 8 {
		return 0, ErrInvalidWAV
	}
	if d.WavAudioFormat != wavFormatPCM && d.WavAudioFormat != wavFormatExtensible {
		return 0, fmt.Errorf("%w: format tag %d", ErrUnsupportedFormat, d.WavAudioFormat)
	}

	bitDepth := int(d.BitDepth)
	if bitDepth != 16 && bitDepth != 24 && bitDepth != 32 {
		return 0, fmt.Errorf("%w: %d-bit", ErrUnsupportedFormat, bitDepth)
	}

	if err := d.FwdToPCM(); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidWAV, err)
	}
	if d.PCMSize == 0 {
		return 0, nil
	}

	channels := int(d.NumChans)
	limit := maxFrames * channels

	buf := &goaudio.IntBuffer{
		Format:         d.Format(),
		Data:           make([]int, 4096*channels),
		SourceBitDepth: bitDepth,
	}

	read, peak := 0, 0
	for read < limit {
		n, err := d.PCMBuffer(buf)
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, fmt.Errorf("decode PCM: %w", err)
		}
		if n == 0 {
			break
		}
		if n > limit-read {
			n = limit - read
		}
		for _, s := range buf.Data[:n] {
			if s < 0 {
				s = -s
			}
			if s > peak {
				peak = s
			}
		}
		read += n
	}

	return peak >> (bitDepth - 16), nil
}

// IsValidWAV reports whether path holds a WAV file with a readable header.
func IsValidWAV(path string) bool {
	f, err := os.Open(path) // #nosec G304 - path is produced by the cleaner
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()
	return wav.NewDecoder(f).IsValidFile()
}
