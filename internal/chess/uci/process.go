package uci

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// Process owns a spawned engine and its pipes. Only the owning Session reads
// from or writes to it.
type Process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader

	mu     sync.Mutex
	closed bool

	termOnce sync.Once
	termErr  error
}

// Spawn starts binaryPath with piped stdin/stdout. The engine's stderr is
// discarded unless stderr is non-nil.
func Spawn(ctx context.Context, binaryPath string, args []string, stderr io.Writer) (*Process, error) {
	if strings.TrimSpace(binaryPath) == "" {
		return nil, fmt.Errorf("%w: binary path required", ErrSpawn)
	}
	// Bare names are searched on PATH; anything with a separator must be an
	// executable file.
	resolved, err := exec.LookPath(binaryPath)
	if err != nil {
		return nil, fmt.Errorf("%w: stockfish binary check: %w", ErrSpawn, err)
	}

	cmd := exec.CommandContext(ctx, resolved, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: create stdin pipe: %w", ErrSpawn, err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("%w: create stdout pipe: %w", ErrSpawn, err)
	}
	if stderr == nil {
		stderr = io.Discard
	}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdoutPipe.Close()
		return nil, fmt.Errorf("%w: start engine: %w", ErrSpawn, err)
	}

	return &Process{
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdoutPipe),
	}, nil
}

func (p *Process) PID() int {
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// WriteLine writes text plus a newline in a single write so the engine sees
// every command before the next one is issued.
func (p *Process) WriteLine(text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("%w: %q: process terminated", ErrWrite, text)
	}
	if _, err := io.WriteString(p.stdin, text+"\n"); err != nil {
		return fmt.Errorf("%w: %q: %w", ErrWrite, text, err)
	}
	return nil
}

// ReadLine blocks for the next output line with its terminator removed.
// io.EOF means the engine closed its output, by exiting or being killed. An
// unterminated final line is returned first and the end of stream reported on
// the following call.
func (p *Process) ReadLine() (string, error) {
	line, err := p.stdout.ReadString('\n')
	if err != nil {
		if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
			return "", err
		}
		if line != "" {
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", io.EOF
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Terminate kills and reaps the engine. Calling it again, or on an engine
// that already exited, is a no-op.
func (p *Process) Terminate() error {
	p.termOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		if p.stdin != nil {
			_ = p.stdin.Close()
		}
		p.mu.Unlock()

		if p.cmd == nil || p.cmd.Process == nil {
			return
		}
		if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			p.termErr = fmt.Errorf("kill engine: %w", err)
		}
		var exitErr *exec.ExitError
		if err := p.cmd.Wait(); err != nil && !errors.As(err, &exitErr) && p.termErr == nil {
			p.termErr = fmt.Errorf("wait engine: %w", err)
		}
	})
	return p.termErr
}
