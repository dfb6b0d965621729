package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// writeWAV writes mono 16-bit PCM samples to path.
func writeWAV(t *testing.T, path string, rate int, samples []int) {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	enc := wav.NewEncoder(f, rate, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: rate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())
}

// writeTone writes frames samples alternating between +peak and -peak.
func writeTone(t *testing.T, path string, rate, frames, peak int) {
	t.Helper()
	samples := make([]int, frames)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = peak
		} else {
			samples[i] = -peak
		}
	}
	writeWAV(t, path, rate, samples)
}

// writeEmptyWAV writes a canonical 16-bit mono header with an empty data chunk.
func writeEmptyWAV(t *testing.T, path string) {
	t.Helper()

	var b bytes.Buffer
	b.WriteString("RIFF")
	_ = binary.Write(&b, binary.LittleEndian, uint32(36))
	b.WriteString("WAVEfmt ")
	_ = binary.Write(&b, binary.LittleEndian, uint32(16))
	_ = binary.Write(&b, binary.LittleEndian, uint16(1))     // PCM
	_ = binary.Write(&b, binary.LittleEndian, uint16(1))     // channels
	_ = binary.Write(&b, binary.LittleEndian, uint32(48000)) // sample rate
	_ = binary.Write(&b, binary.LittleEndian, uint32(96000)) // byte rate
	_ = binary.Write(&b, binary.LittleEndian, uint16(2))     // block align
	_ = binary.Write(&b, binary.LittleEndian, uint16(16))    // bits per sample
	b.WriteString("data")
	_ = binary.Write(&b, binary.LittleEndian, uint32(0))

	require.NoError(t, os.WriteFile(path, b.Bytes(), 0o600))
}

// mockCleaner implements Cleaner for testing.
type mockCleaner struct {
	mock.Mock
	write func(stem Stem) string
}

func (m *mockCleaner) Clean(ctx context.Context, stem Stem) (string, error) {
	args := m.Called(ctx, stem)
	if err := args.Error(0); err != nil {
		return "", err
	}
	return m.write(stem), nil
}

func TestPeakAmplitude(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tone.wav")
	writeTone(t, path, 8000, 8000, 5000)

	peak, err := PeakAmplitude(path, 48000*30)
	require.NoError(t, err)
	assert.Equal(t, 5000, peak)
}

func TestPeakAmplitude_OnlyLeadingWindow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "late.wav")
	samples := make([]int, 200)
	samples[150] = 20000
	writeWAV(t, path, 100, samples)

	peak, err := PeakAmplitude(path, 100)
	require.NoError(t, err)
	assert.Equal(t, 0, peak)

	peak, err = PeakAmplitude(path, 200)
	require.NoError(t, err)
	assert.Equal(t, 20000, peak)
}

func TestPeakAmplitude_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.wav")
	writeEmptyWAV(t, path)

	peak, err := PeakAmplitude(path, 100)
	require.NoError(t, err)
	assert.Equal(t, 0, peak)
}

func TestPeakAmplitude_NotWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.wav")
	require.NoError(t, os.WriteFile(path, []byte("definitely not audio data"), 0o600))

	_, err := PeakAmplitude(path, 100)
	assert.ErrorIs(t, err, ErrInvalidWAV)
}

func TestClassify_SilentAndAudible(t *testing.T) {
	dir := t.TempDir()
	vocals := filepath.Join(dir, "vocals.wav")
	piano := filepath.Join(dir, "piano.wav")
	writeTone(t, vocals, 8000, 8000, 5000)
	writeTone(t, piano, 8000, 8000, 40)

	c := NewClassifier(DefaultClassifyOpts(), nil, nil)

	assert.False(t, c.Classify(context.Background(), Stem{Name: "vocals", Path: vocals}).Silent)
	assert.True(t, c.Classify(context.Background(), Stem{Name: "piano", Path: piano}).Silent)
}

func TestClassify_ThresholdIsInclusive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "edge.wav")
	writeTone(t, path, 8000, 100, 150)

	c := NewClassifier(DefaultClassifyOpts(), nil, nil)
	assert.True(t, c.Classify(context.Background(), Stem{Name: "guitar", Path: path}).Silent)
}

func TestClassify_EmptyIsSilent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.wav")
	writeEmptyWAV(t, path)

	c := NewClassifier(DefaultClassifyOpts(), nil, nil)
	v := c.Classify(context.Background(), Stem{Name: "other", Path: path})
	assert.True(t, v.Silent)
	assert.NoError(t, v.Err)
}

func TestClassify_UndecodableIsKept(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFF....garbage"), 0o600))

	c := NewClassifier(DefaultClassifyOpts(), nil, nil)
	v := c.Classify(context.Background(), Stem{Name: "drums", Path: path})
	assert.False(t, v.Silent)
	assert.Error(t, v.Err)
}

func TestClassify_DoesNotModifyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocals.wav")
	writeTone(t, path, 8000, 8000, 5000)
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	c := NewClassifier(DefaultClassifyOpts(), nil, nil)
	c.Classify(context.Background(), Stem{Name: "vocals", Path: path})

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestClassify_AdoptsValidCleanedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocals.wav")
	writeTone(t, path, 8000, 8000, 5000)

	cleaner := &mockCleaner{write: func(s Stem) string {
		out := CleanedPath(s.Path)
		writeTone(t, out, 8000, 8000, 9000)
		return out
	}}
	cleaner.On("Clean", mock.Anything, mock.Anything).Return(nil)

	c := NewClassifier(DefaultClassifyOpts(), cleaner, nil)
	v := c.Classify(context.Background(), Stem{Name: "vocals", Path: path})

	assert.True(t, v.Cleaned)
	assert.NoError(t, v.Err)
	peak, err := PeakAmplitude(path, 8000)
	require.NoError(t, err)
	assert.Equal(t, 9000, peak)
	_, statErr := os.Stat(CleanedPath(path))
	assert.True(t, os.IsNotExist(statErr))
}

func TestClassify_RejectsTinyCleanedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocals.wav")
	writeTone(t, path, 8000, 8000, 5000)
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	cleaner := &mockCleaner{write: func(s Stem) string {
		out := CleanedPath(s.Path)
		writeTone(t, out, 8000, 10, 9000)
		return out
	}}
	cleaner.On("Clean", mock.Anything, mock.Anything).Return(nil)

	c := NewClassifier(DefaultClassifyOpts(), cleaner, nil)
	v := c.Classify(context.Background(), Stem{Name: "vocals", Path: path})

	assert.False(t, v.Cleaned)
	assert.ErrorIs(t, v.Err, ErrCleanRejected)
	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestClassify_CleanerFailureKeepsOriginal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocals.wav")
	writeTone(t, path, 8000, 8000, 5000)

	cleaner := &mockCleaner{}
	cleaner.On("Clean", mock.Anything, mock.Anything).Return(errors.New("filter failed"))

	c := NewClassifier(DefaultClassifyOpts(), cleaner, nil)
	v := c.Classify(context.Background(), Stem{Name: "vocals", Path: path})

	assert.False(t, v.Silent)
	assert.False(t, v.Cleaned)
	assert.Error(t, v.Err)
	assert.True(t, IsValidWAV(path))
}

func TestClassify_SilentStemIsNotCleaned(t *testing.T) {
	path := filepath.Join(t.TempDir(), "piano.wav")
	writeTone(t, path, 8000, 8000, 10)

	cleaner := &mockCleaner{}
	c := NewClassifier(DefaultClassifyOpts(), cleaner, nil)
	v := c.Classify(context.Background(), Stem{Name: "piano", Path: path})

	assert.True(t, v.Silent)
	cleaner.AssertNotCalled(t, "Clean", mock.Anything, mock.Anything)
}

func TestNewClassifier_Defaults(t *testing.T) {
	c := NewClassifier(ClassifyOpts{Threshold: -1}, nil, nil)
	assert.Equal(t, DefaultClassifyOpts(), c.opts)
}
