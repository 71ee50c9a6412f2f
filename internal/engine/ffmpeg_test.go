package engine

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCatalog = `Filters:
  T.. = Timeline support
  .S. = Slice threading
  ..C = Command support
  A = Audio input/output
  V = Video input/output
  N = Dynamic number and/or type of input/output
  | = Source or sink filter
 ... abuffer           |->A       Buffer audio frames, and make them accessible to the filterchain.
 T.. delogo            V->V       Remove logo from input video.
 T.C drawtext          V->V       Draw text on top of video frames using libfreetype library.
 TSC overlay           VV->V      Overlay a video source on top of the input.
`

// writeFakeFFmpeg writes a shell script standing in for the ffmpeg binary.
func writeFakeFFmpeg(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake ffmpeg script requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

// skipIfNoFFmpeg skips the test if ffmpeg is not available.
func skipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not found in PATH, skipping test")
	}
}

func TestNewFFmpeg(t *testing.T) {
	t.Run("default path", func(t *testing.T) {
		f := NewFFmpeg("")
		assert.Equal(t, "ffmpeg", f.path)
		assert.Equal(t, DefaultDiagnosticsLimit, f.diagLimit)
	})

	t.Run("custom path and options", func(t *testing.T) {
		f := NewFFmpeg("/usr/local/bin/ffmpeg", WithDiagnosticsLimit(10), WithTimeout(time.Second))
		assert.Equal(t, "/usr/local/bin/ffmpeg", f.path)
		assert.Equal(t, 10, f.diagLimit)
		assert.Equal(t, time.Second, f.timeout)
	})

	t.Run("non-positive diagnostics limit keeps default", func(t *testing.T) {
		f := NewFFmpeg("", WithDiagnosticsLimit(0))
		assert.Equal(t, DefaultDiagnosticsLimit, f.diagLimit)
	})
}

func TestCatalogHasFilter(t *testing.T) {
	assert.True(t, catalogHasFilter(sampleCatalog, "delogo"))
	assert.True(t, catalogHasFilter(sampleCatalog, "drawtext"))
	assert.True(t, catalogHasFilter(sampleCatalog, "overlay"))
	assert.False(t, catalogHasFilter(sampleCatalog, "boxblur"))
	// Substrings of real names and legend words are not matches.
	assert.False(t, catalogHasFilter(sampleCatalog, "logo"))
	assert.False(t, catalogHasFilter(sampleCatalog, "Timeline"))
	assert.False(t, catalogHasFilter("", "delogo"))
	assert.False(t, catalogHasFilter("garbage output\nwithout entries", "delogo"))
}

func TestFFmpeg_SupportsFilter(t *testing.T) {
	ctx := context.Background()

	t.Run("filter present", func(t *testing.T) {
		path := writeFakeFFmpeg(t, "cat <<'EOF'\n"+sampleCatalog+"EOF")
		assert.True(t, NewFFmpeg(path).SupportsFilter(ctx, FilterDelogo))
	})

	t.Run("filter absent", func(t *testing.T) {
		path := writeFakeFFmpeg(t, "echo ' T.. boxblur V->V Blur'")
		assert.False(t, NewFFmpeg(path).SupportsFilter(ctx, FilterDelogo))
	})

	t.Run("non-zero exit", func(t *testing.T) {
		path := writeFakeFFmpeg(t, "cat <<'EOF'\n"+sampleCatalog+"EOF\nexit 1")
		assert.False(t, NewFFmpeg(path).SupportsFilter(ctx, FilterDelogo))
	})

	t.Run("missing binary", func(t *testing.T) {
		f := NewFFmpeg(filepath.Join(t.TempDir(), "does-not-exist"))
		assert.False(t, f.SupportsFilter(ctx, FilterDelogo))
	})
}

func TestFFmpeg_Run(t *testing.T) {
	ctx := context.Background()

	t.Run("success prepends banner and overwrite flags", func(t *testing.T) {
		argsFile := filepath.Join(t.TempDir(), "args")
		path := writeFakeFFmpeg(t, `echo "$@" > `+argsFile)

		err := NewFFmpeg(path).Run(ctx, []string{"-i", "in.mp4", "out.mp4"})
		require.NoError(t, err)

		got, err := os.ReadFile(argsFile)
		require.NoError(t, err)
		assert.Equal(t, "-hide_banner -y -i in.mp4 out.mp4", strings.TrimSpace(string(got)))
	})

	t.Run("non-zero exit returns truncated diagnostics", func(t *testing.T) {
		path := writeFakeFFmpeg(t, `printf 'abcdefghijklmnop' >&2; exit 3`)

		err := NewFFmpeg(path, WithDiagnosticsLimit(5)).Run(ctx, []string{"out.mp4"})
		require.Error(t, err)

		var engErr *Error
		require.ErrorAs(t, err, &engErr)
		assert.Equal(t, 3, engErr.ExitCode)
		assert.Equal(t, "abcde", engErr.Stderr)
		assert.Contains(t, engErr.Error(), "code 3")
	})

	t.Run("missing binary", func(t *testing.T) {
		f := NewFFmpeg(filepath.Join(t.TempDir(), "does-not-exist"))
		err := f.Run(ctx, []string{"out.mp4"})

		var engErr *Error
		require.ErrorAs(t, err, &engErr)
		assert.Equal(t, -1, engErr.ExitCode)
	})

	t.Run("timeout kills the process", func(t *testing.T) {
		path := writeFakeFFmpeg(t, "exec sleep 10")

		start := time.Now()
		err := NewFFmpeg(path, WithTimeout(100*time.Millisecond)).Run(ctx, nil)
		assert.True(t, errors.Is(err, ErrTimeout))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), 8*time.Second)
	})
}

func TestFFmpeg_RealBinary(t *testing.T) {
	skipIfNoFFmpeg(t)

	f := NewFFmpeg("")
	assert.True(t, f.SupportsFilter(context.Background(), FilterOverlay))

	out := filepath.Join(t.TempDir(), "out.mp4")
	err := f.Run(context.Background(), []string{"-f", "lavfi", "-i", "definitely_not_a_filter", out})
	var engErr *Error
	require.ErrorAs(t, err, &engErr)
	assert.NotEmpty(t, engErr.Stderr)
	assert.LessOrEqual(t, len([]rune(engErr.Stderr)), DefaultDiagnosticsLimit)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "ab", Truncate("abc", 2))
	assert.Equal(t, "héé", Truncate("hééllo", 3))
	assert.Equal(t, "abc", Truncate("abc", 0))
}
