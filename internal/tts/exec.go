package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"
)

const (
	execChunkBytes  = 8192
	execStderrLimit = 4096
	execWaitDelay   = 2 * time.Second
)

// ExecVoice runs the piper command line once per request and reads raw PCM
// from its stdout. Every call owns its own process, so the voice is safe for
// concurrent use; Limit bounds how many processes run at once.
type ExecVoice struct {
	cmd         []string
	model       string
	modelConfig string
	useCUDA     bool
	sampleRate  int
}

// ExecOptions describe how to invoke piper for one voice model.
type ExecOptions struct {
	Command     string
	Model       string
	ModelConfig string
	UseCUDA     bool
	SampleRate  int
}

func NewExecVoice(opts ExecOptions) (*ExecVoice, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(opts.Command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("tts command empty")
	}
	if opts.SampleRate <= 0 {
		return nil, fmt.Errorf("tts sample rate must be positive")
	}
	if _, err := exec.LookPath(args[0]); err != nil {
		return nil, fmt.Errorf("locate tts command: %w", err)
	}
	return &ExecVoice{
		cmd:         args,
		model:       opts.Model,
		modelConfig: opts.ModelConfig,
		useCUDA:     opts.UseCUDA,
		sampleRate:  opts.SampleRate,
	}, nil
}

func (e *ExecVoice) SampleRate() int { return e.sampleRate }

func (e *ExecVoice) Synthesize(ctx context.Context, text string, params Params, sink io.Writer) error {
	s, err := e.Stream(ctx, text, params)
	if err != nil {
		return err
	}
	defer s.Close()
	return Drain(s, sink)
}

func (e *ExecVoice) args(params Params) []string {
	args := append([]string{}, e.cmd[1:]...)
	if e.model != "" {
		args = append(args, "--model", e.model)
	}
	if e.modelConfig != "" {
		args = append(args, "--config", e.modelConfig)
	}
	args = append(args, "--output_raw")
	args = append(args, params.Args()...)
	if e.useCUDA {
		args = append(args, "--cuda")
	}
	return args
}

func (e *ExecVoice) Stream(ctx context.Context, text string, params Params) (Stream, error) {
	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, e.cmd[0], e.args(params)...)
	// piper treats every input line as an utterance
	cmd.Stdin = strings.NewReader(text + "\n")
	stderr := &boundedBuffer{limit: execStderrLimit}
	cmd.Stderr = stderr
	// children of a killed piper wrapper may keep stderr open
	cmd.WaitDelay = execWaitDelay
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, err
	}
	return &execStream{
		ctx:    ctx,
		cmd:    cmd,
		stdout: stdout,
		stderr: stderr,
		cancel: cancel,
		buf:    make([]byte, execChunkBytes),
	}, nil
}

type execStream struct {
	ctx     context.Context
	cmd     *exec.Cmd
	stdout  io.ReadCloser
	stderr  *boundedBuffer
	cancel  context.CancelFunc
	buf     []byte
	waitErr error
	waited  bool
	once    sync.Once
}

func (s *execStream) Recv() ([]byte, error) {
	if s.waited {
		if s.waitErr != nil {
			return nil, s.waitErr
		}
		return nil, io.EOF
	}
	for {
		n, err := s.stdout.Read(s.buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, s.buf[:n])
			return chunk, nil
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			if werr := s.wait(); werr != nil {
				return nil, werr
			}
			return nil, io.EOF
		}
		return nil, &SynthesisError{Op: "read", Cause: err}
	}
}

func (s *execStream) wait() error {
	s.waited = true
	if err := s.cmd.Wait(); err != nil {
		if ctxErr := s.ctx.Err(); ctxErr != nil {
			s.waitErr = ctxErr
			return s.waitErr
		}
		msg := strings.TrimSpace(s.stderr.String())
		if msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		s.waitErr = &SynthesisError{Op: "exec", Cause: err}
	}
	return s.waitErr
}

func (s *execStream) Close() error {
	s.once.Do(func() {
		s.cancel()
		if !s.waited {
			s.waited = true
			_ = s.cmd.Wait()
		}
	})
	return nil
}

// boundedBuffer keeps the first limit bytes written to it.
type boundedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
