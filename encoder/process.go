package encoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"

	"go2tv.app/browserstream/frame"
	"go2tv.app/browserstream/internal/processutil"
)

const stderrTailBytes = 300

var (
	ErrInvalidFrame   = errors.New("invalid frame for encoder")
	ErrEncoderExited  = errors.New("ffmpeg exited early")
	ErrInputClosed    = errors.New("ffmpeg input already closed")
	ErrFFmpegRequired = errors.New("ffmpeg path is required")
)

// ExitError reports a non-zero ffmpeg exit status with the last stderr output.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("ffmpeg exited with status %d: %s", e.Code, e.Stderr)
}

// Options control process-level behaviour that is not part of the argument
// grammar.
type Options struct {
	Verbose bool
	Logger  hclog.Logger
}

// Process is a running ffmpeg reading rgb24 frames from stdin.
type Process struct {
	settings Settings
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	stderr   *lockedBuffer
	logger   hclog.Logger

	done     chan struct{}
	waitErr  error
	exitCode int

	closeOnce sync.Once
}

// Spawn starts ffmpeg for s. Diagnostic output is drained in the background
// into opts.Logger, at Info when verbose and Debug otherwise.
func Spawn(ctx context.Context, s Settings, opts Options) (*Process, error) {
	if strings.TrimSpace(s.FFmpegPath) == "" {
		return nil, ErrFFmpegRequired
	}
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	logLevel := "warning"
	lineLevel := hclog.Debug
	if opts.Verbose {
		logLevel = "info"
		lineLevel = hclog.Info
	}
	args := BuildArgsWithLogLevel(s, logLevel)

	logger.Info("starting ffmpeg", "ffmpeg", s.FFmpegPath, "output", s.Output)
	logger.Debug("ffmpeg command", "args", strings.Join(args, " "))

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Not CommandContext: shutdown goes through TerminateAndWait.
	cmd := exec.Command(s.FFmpegPath, args...)
	processutil.HideConsoleWindow(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdin unavailable: %w", err)
	}

	stderrBuf := &lockedBuffer{}
	cmd.Stderr = io.MultiWriter(stderrBuf, &lineLogger{logger: logger, level: lineLevel})

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("failed to spawn ffmpeg from %s: %w", s.FFmpegPath, err)
	}

	p := &Process{
		settings: s,
		cmd:      cmd,
		stdin:    stdin,
		stderr:   stderrBuf,
		logger:   logger,
		done:     make(chan struct{}),
	}

	go func() {
		err := cmd.Wait()
		p.waitErr = err
		if cmd.ProcessState != nil {
			p.exitCode = cmd.ProcessState.ExitCode()
		}
		close(p.done)
	}()

	return p, nil
}

// Pid returns the ffmpeg process id.
func (p *Process) Pid() int {
	if p == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Done is closed once ffmpeg has exited and its stderr has been drained.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// PollExit reports whether ffmpeg has exited without blocking.
func (p *Process) PollExit() (exited bool, code int) {
	select {
	case <-p.done:
		return true, p.exitCode
	default:
		return false, 0
	}
}

// Write sends one frame to ffmpeg's stdin.
func (p *Process) Write(f *frame.RawFrame) error {
	if err := f.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	if f.Width != p.settings.Width || f.Height != p.settings.Height {
		return fmt.Errorf("%w: got %dx%d, encoder expects %dx%d", ErrInvalidFrame, f.Width, f.Height, p.settings.Width, p.settings.Height)
	}

	if exited, code := p.PollExit(); exited {
		return fmt.Errorf("%w with status %d: %s", ErrEncoderExited, code, p.StderrTail(stderrTailBytes))
	}

	if _, err := p.stdin.Write(f.Pixels); err != nil {
		if exited, code := p.PollExit(); exited {
			return fmt.Errorf("%w with status %d: %s", ErrEncoderExited, code, p.StderrTail(stderrTailBytes))
		}
		return fmt.Errorf("failed writing frame to ffmpeg stdin: %w", err)
	}
	return nil
}

// TerminateAndWait kills ffmpeg and waits for it. Failures are logged only.
func (p *Process) TerminateAndWait() {
	p.closeInput()

	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.logger.Warn("failed to kill ffmpeg", "error", err)
	}

	<-p.done
	p.logger.Debug("ffmpeg exited after kill", "status", p.exitCode)
}

// CloseInputAndWait signals end of stream and waits for ffmpeg to flush and
// exit. The returned code is the authoritative outcome of the attempt; err
// is only set when waiting itself failed.
func (p *Process) CloseInputAndWait() (int, error) {
	if err := p.closeInput(); err != nil {
		p.logger.Debug("closing ffmpeg stdin", "error", err)
	}

	<-p.done

	var exitErr *exec.ExitError
	if p.waitErr != nil && !errors.As(p.waitErr, &exitErr) {
		return p.exitCode, fmt.Errorf("failed waiting for ffmpeg exit: %w", p.waitErr)
	}
	return p.exitCode, nil
}

// StderrTail returns at most n trailing bytes of ffmpeg diagnostics.
func (p *Process) StderrTail(n int) string {
	if p == nil || p.stderr == nil {
		return ""
	}
	return p.stderr.Tail(n)
}

func (p *Process) closeInput() error {
	err := ErrInputClosed
	p.closeOnce.Do(func() {
		err = p.stdin.Close()
	})
	return err
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Only the tail is ever read back.
	if b.buf.Len() > 64*1024 {
		tail := append([]byte(nil), b.buf.Bytes()[b.buf.Len()-4096:]...)
		b.buf.Reset()
		b.buf.Write(tail)
	}
	return b.buf.Write(p)
}

func (b *lockedBuffer) Tail(n int) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := strings.TrimSpace(b.buf.String())
	if s == "" {
		return "no ffmpeg stderr output"
	}
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// lineLogger forwards complete stderr lines to hclog. ffmpeg's progress
// output uses carriage returns, so both \r and \n end a line.
type lineLogger struct {
	logger  hclog.Logger
	level   hclog.Level
	pending []byte
}

func (w *lineLogger) Write(p []byte) (int, error) {
	w.pending = append(w.pending, p...)
	for {
		i := bytes.IndexAny(w.pending, "\r\n")
		if i < 0 {
			break
		}
		line := strings.TrimSpace(string(w.pending[:i]))
		w.pending = w.pending[i+1:]
		if line != "" {
			w.logger.Log(w.level, line)
		}
	}
	return len(p), nil
}
