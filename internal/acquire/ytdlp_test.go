package acquire

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/stemsplit-api/internal/supervisor"
)

func skipIfNoShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not found in PATH, skipping test")
	}
}

// fakeYtDlp writes an executable script that mimics yt-dlp's output layout.
// The -o template is the second-to-last argument.
func fakeYtDlp(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "yt-dlp")
	script := `#!/bin/sh
tmpl=""
prev=""
for a in "$@"; do
  if [ "$prev" = "-o" ]; then tmpl="$a"; fi
  prev="$a"
done
base=$(printf '%s' "$tmpl" | sed 's/\.%(ext)s$//')
` + body
	require.NoError(t, os.WriteFile(path, []byte(script), 0o700)) // #nosec G306 - test executable
	return path
}

func TestYtDlp_Command(t *testing.T) {
	y := NewYtDlp("", "/data/input", nil, nil)
	cmd := y.Command("https://example.com/watch?v=1", "abc")

	assert.Equal(t, "yt-dlp", cmd.Path)
	assert.Equal(t, supervisor.Stdout, cmd.Stream)
	assert.Contains(t, cmd.Args, "--newline")
	assert.Contains(t, cmd.Args, "--no-playlist")
	assert.Contains(t, cmd.Args, filepath.Join("/data/input", "abc.%(ext)s"))
	assert.Equal(t, "https://example.com/watch?v=1", cmd.Args[len(cmd.Args)-1])
}

func TestYtDlp_Acquire(t *testing.T) {
	skipIfNoShell(t)

	bin := fakeYtDlp(t, `
echo "[download]   0.0% of 3.00MiB"
echo "[download]  42.5% of 3.00MiB"
echo "[download] 100.0% of 3.00MiB"
printf 'RIFFdata' > "$base.wav"
printf '{"title": "  My Song  "}' > "$base.info.json"
printf 'jpeg' > "$base.jpg"
`)
	dir := t.TempDir()
	y := NewYtDlp(bin, dir, supervisor.New(nil), nil)

	var got []int
	src, err := y.Acquire(context.Background(), "https://example.com/v", func(p int) { got = append(got, p) })
	require.NoError(t, err)

	assert.Equal(t, []int{0, 42, 100}, got)
	assert.Equal(t, "My Song", src.Title)
	assert.True(t, strings.HasSuffix(src.Path, ".wav"))
	assert.FileExists(t, src.Path)
	assert.True(t, strings.HasSuffix(src.ThumbnailPath, ".jpg"))
	assert.Equal(t, filepath.Dir(src.Path), dir)

	matches, _ := filepath.Glob(filepath.Join(dir, "*.info.json"))
	assert.Empty(t, matches)
}

func TestYtDlp_AcquireFailureCleansUp(t *testing.T) {
	skipIfNoShell(t)

	bin := fakeYtDlp(t, `
printf 'partial' > "$base.wav.part"
echo "ERROR: Unsupported URL" >&2
exit 1
`)
	dir := t.TempDir()
	y := NewYtDlp(bin, dir, supervisor.New(nil), nil)

	_, err := y.Acquire(context.Background(), "https://example.com/v", nil)
	require.Error(t, err)

	var failure *supervisor.EngineFailure
	assert.ErrorAs(t, err, &failure)

	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries)
}

func TestYtDlp_AcquireNoAudio(t *testing.T) {
	skipIfNoShell(t)

	bin := fakeYtDlp(t, `echo "[download] 100% done"`)
	y := NewYtDlp(bin, t.TempDir(), supervisor.New(nil), nil)

	_, err := y.Acquire(context.Background(), "https://example.com/v", nil)
	assert.ErrorIs(t, err, ErrNoAudio)
}

func TestYtDlp_AcquireRequiresURL(t *testing.T) {
	y := NewYtDlp("", t.TempDir(), nil, nil)
	_, err := y.Acquire(context.Background(), "  ", nil)
	assert.ErrorIs(t, err, ErrURLRequired)
}

func TestReadTitle_MissingOrInvalid(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, "", readTitle(filepath.Join(dir, "missing.json")))

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0o600))
	assert.Equal(t, "", readTitle(bad))
}
