package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		want   int
		wantOK bool
	}{
		{"tqdm bar", " 45%|████▌     | 23.4/52.0 [00:10<00:12, 2.3seconds/s]", 45, true},
		{"tqdm start", "  0%|          | 0.0/52.0 [00:00<?, ?seconds/s]", 0, true},
		{"tqdm done", "100%|██████████| 52.0/52.0 [00:22<00:00, 2.3seconds/s]", 100, true},
		{"yt-dlp download", "[download]  45.3% of    3.52MiB at  1.20MiB/s ETA 00:01", 45, true},
		{"percent at end of line", "progress 77%", 77, true},
		{"clamped", "250%| weird", 100, true},
		{"no delimiter after percent", "ratio 50%x", 0, false},
		{"too many digits", "1234% done", 0, false},
		{"too many digits at start of line", "99999%|", 0, false},
		{"plain text", "Selected model is a bag of 1 models.", 0, false},
		{"empty", "", 0, false},
		{"binary junk", "\x00\x01\xff%%%|", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Parse(tt.line)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_MonotonicOverEngineStream(t *testing.T) {
	stream := []string{
		"Selected model is a bag of 1 models. You can pass --shifts to use more.",
		"Separated tracks will be stored in /out/htdemucs_6s",
		"Separating track /in/song.wav",
		"  0%|          | 0.0/187.2 [00:00<?, ?seconds/s]",
		" 12%|█▏        | 23.4/187.2 [00:05<00:40, 4.1seconds/s]",
		" 50%|█████     | 93.6/187.2 [00:20<00:20, 4.6seconds/s]",
		" 87%|████████▋ | 163.8/187.2 [00:36<00:05, 4.5seconds/s]",
		"100%|██████████| 187.2/187.2 [00:41<00:00, 4.5seconds/s]",
	}

	last := -1
	for _, line := range stream {
		p, ok := Parse(line)
		if !ok {
			continue
		}
		assert.GreaterOrEqual(t, p, last, "line %q", line)
		last = p
	}
	assert.Equal(t, 100, last)
}

func TestScale(t *testing.T) {
	assert.Equal(t, 20, Scale(0, 20, 80))
	assert.Equal(t, 50, Scale(50, 20, 80))
	assert.Equal(t, 80, Scale(100, 20, 80))
	assert.Equal(t, 80, Scale(150, 20, 80))
	assert.Equal(t, 20, Scale(-3, 20, 80))
	assert.Equal(t, 14, Scale(33, 10, 25))
}
