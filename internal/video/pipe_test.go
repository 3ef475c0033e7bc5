package video

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kikiluvv/videomatte/internal/ffmpeg"
)

const frameBytes720 = 1280 * 720 * 4

// scriptOpener puts a shell ffmpeg on PATH and returns an Opener driving it
// through the real frame reader and writer. Invocations reading pipe:0 run
// encode, everything else runs decode.
func scriptOpener(t *testing.T, decode, encode string) *Opener {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts stand in for ffmpeg")
	}
	dir := t.TempDir()
	script := "#!/bin/sh\ncase \"$*\" in\n*pipe:0*)\n" + encode + "\n;;\n*)\n" + decode + "\n;;\nesac\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ffmpeg"), []byte(script), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ffprobe"), []byte("#!/bin/sh\nexit 1\n"), 0755))
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))

	tools, err := ffmpeg.New(zerolog.Nop(), 0)
	require.NoError(t, err)
	return NewOpener(tools, OutputOptions{Codec: "libx264", Quality: 0.35}, zerolog.Nop())
}

var asset720 = Asset{Path: "in.mp4", Width: 1280, Height: 720, FPS: 25, Duration: 10 * time.Second}

const copyToLastArg = `for last; do :; done; exec cat > "$last"`

func TestCancelMidStreamRemovesPartialOutput(t *testing.T) {
	o := scriptOpener(t, "exec cat /dev/zero", copyToLastArg)
	dir := t.TempDir()
	dest := filepath.Join(dir, "out.mp4")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src, err := o.OpenSource(ctx, asset720)
	require.NoError(t, err)
	defer src.Close()
	sink, err := o.OpenSink(ctx, dest, asset720)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		f, err := src.Next(ctx)
		require.NoError(t, err)
		require.NoError(t, sink.Write(f))
	}
	cancel()

	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	err = sink.Finalize(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	require.NoError(t, sink.Abort())
	require.NoError(t, src.Close())
	assertOnlyFile(t, dir)
}

func TestAbortStopsRunningEncoder(t *testing.T) {
	o := scriptOpener(t, "exec cat /dev/zero", copyToLastArg)
	dir := t.TempDir()
	dest := filepath.Join(dir, "out.mp4")

	src, err := o.OpenSource(context.Background(), asset720)
	require.NoError(t, err)
	sink, err := o.OpenSink(context.Background(), dest, asset720)
	require.NoError(t, err)

	f, err := src.Next(context.Background())
	require.NoError(t, err)
	require.NoError(t, sink.Write(f))

	require.NoError(t, sink.Abort())
	require.NoError(t, src.Close())
	assertOnlyFile(t, dir)
}

func TestDecoderCrashIsNotEndOfStream(t *testing.T) {
	decode := `head -c 7372800 /dev/zero; echo "corrupt packet" >&2; exit 1`
	o := scriptOpener(t, decode, copyToLastArg)

	src, err := o.OpenSource(context.Background(), asset720)
	require.NoError(t, err)
	defer src.Close()

	ctx := context.Background()
	for i := 0; i < 7372800/frameBytes720; i++ {
		_, err := src.Next(ctx)
		require.NoError(t, err, "frame %d", i)
	}
	_, err = src.Next(ctx)
	require.ErrorIs(t, err, ErrSourceRead)
	assert.NotErrorIs(t, err, io.EOF)
	assert.Contains(t, err.Error(), "corrupt packet")
}

func TestDecoderCleanExitIsEndOfStream(t *testing.T) {
	o := scriptOpener(t, "head -c 7372800 /dev/zero", copyToLastArg)

	src, err := o.OpenSource(context.Background(), asset720)
	require.NoError(t, err)
	defer src.Close()

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := src.Next(ctx)
		require.NoError(t, err)
	}
	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestEncoderFailureFailsFinalize(t *testing.T) {
	encode := `cat > /dev/null; echo "No space left on device" >&2; exit 1`
	o := scriptOpener(t, "exec cat /dev/zero", encode)
	dir := t.TempDir()
	dest := filepath.Join(dir, "out.mp4")

	src, err := o.OpenSource(context.Background(), asset720)
	require.NoError(t, err)
	defer src.Close()
	sink, err := o.OpenSink(context.Background(), dest, asset720)
	require.NoError(t, err)

	f, err := src.Next(context.Background())
	require.NoError(t, err)
	require.NoError(t, sink.Write(f))

	err = sink.Finalize(context.Background())
	require.ErrorIs(t, err, ErrEncodeWrite)
	assert.Contains(t, err.Error(), "No space left on device")
	assertOnlyFile(t, dir)
}
