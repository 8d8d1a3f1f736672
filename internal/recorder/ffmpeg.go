package recorder

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/snapcase/pkg/models"
)

// FFmpegSource records the desktop or a single window by driving an ffmpeg
// process. Pause and resume are implemented with job-control signals, so the
// captured duration matches the un-paused wall clock.
type FFmpegSource struct {
	Binary  string // ffmpeg binary path, default "ffmpeg"
	Display string // X11 display, default ":0"
	WorkDir string // artifact scratch dir, default os.TempDir()
}

// Acquire implements Source. Only desktop/window capture is served here;
// tab capture belongs to the browser bridge.
func (s *FFmpegSource) Acquire(ctx context.Context, typ models.RecordingType, opts Options) (Stream, error) {
	if typ != models.RecordingTypeDesktop {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, typ)
	}
	if runtime.GOOS == "windows" {
		return nil, fmt.Errorf("%w: signal-based pause is unavailable on windows", ErrUnsupported)
	}

	binary := s.Binary
	if binary == "" {
		binary = "ffmpeg"
	}
	display := s.Display
	if display == "" {
		display = ":0"
	}
	dir := s.WorkDir
	if dir == "" {
		dir = os.TempDir()
	}

	out := filepath.Join(dir, "snapcase-"+uuid.NewString()+".webm")
	args := []string{
		"-y",
		"-f", "x11grab",
		"-i", display,
		"-c:v", "libvpx-vp9",
		"-b:v", "2M",
		out,
	}
	// ffmpeg keeps running after the parent context ends; Stop and Discard
	// own its shutdown.
	cmd := exec.Command(binary, args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	log.Info().Str("output", out).Int("pid", cmd.Process.Pid).Msg("Desktop recording started")
	return &ffmpegStream{cmd: cmd, output: out, started: time.Now()}, nil
}

type ffmpegStream struct {
	cmd     *exec.Cmd
	output  string
	started time.Time
}

func (f *ffmpegStream) Pause() error {
	return f.cmd.Process.Signal(syscall.SIGSTOP)
}

func (f *ffmpegStream) Resume() error {
	return f.cmd.Process.Signal(syscall.SIGCONT)
}

// Stop asks ffmpeg to finalize the container and reads the artifact back.
func (f *ffmpegStream) Stop(ctx context.Context) (Artifact, error) {
	// SIGINT makes ffmpeg write the trailer; SIGKILL would corrupt the file.
	if err := f.cmd.Process.Signal(syscall.SIGINT); err != nil {
		return Artifact{}, fmt.Errorf("signal ffmpeg: %w", err)
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- f.cmd.Wait() }()
	select {
	case <-waitCh:
		// ffmpeg exits non-zero on SIGINT; the artifact decides success.
	case <-ctx.Done():
		_ = f.cmd.Process.Kill()
		return Artifact{}, ctx.Err()
	}

	data, err := os.ReadFile(f.output)
	if err != nil {
		return Artifact{}, fmt.Errorf("read recording artifact: %w", err)
	}
	_ = os.Remove(f.output)

	return Artifact{
		Data:     data,
		MimeType: "video/webm",
		Duration: time.Since(f.started),
	}, nil
}

func (f *ffmpegStream) Discard() error {
	_ = f.cmd.Process.Kill()
	_ = f.cmd.Wait()
	if err := os.Remove(f.output); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("output", f.output).Msg("Failed to remove discarded recording")
	}
	return nil
}
