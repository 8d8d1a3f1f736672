package bridge

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/snapcase/internal/recorder"
	"github.com/thebtf/snapcase/pkg/models"
)

const screencastFramerate = 10

// ScreencastSource records a single tab by piping CDP screencast frames
// through ffmpeg. Pause drops frames rather than stopping the screencast, so
// resume is instant.
type ScreencastSource struct {
	Chrome  *Chrome
	Binary  string // ffmpeg binary path, default "ffmpeg"
	WorkDir string // artifact scratch dir, default os.TempDir()
}

// Acquire implements recorder.Source for tab capture.
func (s *ScreencastSource) Acquire(ctx context.Context, typ models.RecordingType, opts recorder.Options) (recorder.Stream, error) {
	if typ != models.RecordingTypeTab {
		return nil, fmt.Errorf("%w: %s", recorder.ErrUnsupported, typ)
	}
	if opts.TabID == "" {
		return nil, fmt.Errorf("screencast: tab id is required")
	}

	binary := s.Binary
	if binary == "" {
		binary = "ffmpeg"
	}
	dir := s.WorkDir
	if dir == "" {
		dir = os.TempDir()
	}

	out := filepath.Join(dir, "snapcase-tab-"+uuid.NewString()+".webm")
	args := []string{
		"-y",
		"-f", "image2pipe",
		"-framerate", fmt.Sprint(screencastFramerate),
		"-i", "-",
		"-c:v", "libvpx-vp9",
		"-b:v", "2M",
		out,
	}
	cmd := exec.Command(binary, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	// The tab context must outlive Acquire; the stream owns its teardown.
	tabCtx, tabCancel := chromedp.NewContext(s.Chrome.browserCtx,
		chromedp.WithTargetID(target.ID(opts.TabID)))

	st := &screencastStream{
		tabCtx:    tabCtx,
		tabCancel: tabCancel,
		cmd:       cmd,
		stdin:     stdin,
		output:    out,
		started:   time.Now(),
	}

	chromedp.ListenTarget(tabCtx, func(ev any) {
		frame, ok := ev.(*page.EventScreencastFrame)
		if !ok {
			return
		}
		st.onFrame(frame)
	})

	startCtx, cancel := context.WithTimeout(tabCtx, opTimeout)
	defer cancel()
	err = chromedp.Run(startCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		return page.StartScreencast().
			WithFormat(page.ScreencastFormatJpeg).
			WithQuality(80).
			WithEveryNthFrame(1).
			Do(ctx)
	}))
	if err != nil {
		tabCancel()
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		_ = os.Remove(out)
		return nil, fmt.Errorf("start screencast for tab %s: %w", opts.TabID, err)
	}

	log.Info().Str("tabId", opts.TabID).Str("output", out).Msg("Tab recording started")
	return st, nil
}

type screencastStream struct {
	tabCtx    context.Context
	tabCancel context.CancelFunc
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	output    string
	started   time.Time

	paused  atomic.Bool
	writeMu sync.Mutex
	closed  bool
}

func (s *screencastStream) onFrame(frame *page.EventScreencastFrame) {
	// Ack from a goroutine; blocking the event listener stalls the whole
	// target connection.
	go func() {
		_ = chromedp.Run(s.tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
			return page.ScreencastFrameAck(frame.SessionID).Do(ctx)
		}))
	}()

	if s.paused.Load() {
		return
	}
	data, err := base64.StdEncoding.DecodeString(frame.Data)
	if err != nil {
		log.Debug().Err(err).Msg("Dropped undecodable screencast frame")
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return
	}
	if _, err := s.stdin.Write(data); err != nil {
		log.Debug().Err(err).Msg("Dropped screencast frame, encoder pipe closed")
		s.closed = true
	}
}

func (s *screencastStream) Pause() error {
	s.paused.Store(true)
	return nil
}

func (s *screencastStream) Resume() error {
	s.paused.Store(false)
	return nil
}

// Stop ends the screencast, closes the encoder pipe, and reads the artifact.
func (s *screencastStream) Stop(ctx context.Context) (recorder.Artifact, error) {
	stopCtx, cancel := context.WithTimeout(s.tabCtx, opTimeout)
	_ = chromedp.Run(stopCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		return page.StopScreencast().Do(ctx)
	}))
	cancel()

	s.writeMu.Lock()
	s.closed = true
	_ = s.stdin.Close()
	s.writeMu.Unlock()
	s.tabCancel()

	waitCh := make(chan error, 1)
	go func() { waitCh <- s.cmd.Wait() }()
	select {
	case <-waitCh:
	case <-ctx.Done():
		_ = s.cmd.Process.Kill()
		return recorder.Artifact{}, ctx.Err()
	}

	data, err := os.ReadFile(s.output)
	if err != nil {
		return recorder.Artifact{}, fmt.Errorf("read recording artifact: %w", err)
	}
	_ = os.Remove(s.output)

	return recorder.Artifact{
		Data:     data,
		MimeType: "video/webm",
		Duration: time.Since(s.started),
	}, nil
}

func (s *screencastStream) Discard() error {
	s.writeMu.Lock()
	s.closed = true
	_ = s.stdin.Close()
	s.writeMu.Unlock()
	s.tabCancel()

	_ = s.cmd.Process.Kill()
	_ = s.cmd.Wait()
	if err := os.Remove(s.output); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("output", s.output).Msg("Failed to remove discarded recording")
	}
	return nil
}
