package media

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/teranos/scribe/errors"
)

// stderrTailLines is how much ffmpeg stderr is kept for error messages.
const stderrTailLines = 20

// CommandResult is the outcome of one external command.
type CommandResult struct {
	ExitCode   int
	StderrTail string
}

// Runner executes external commands, streaming their output line by line.
type Runner interface {
	Run(ctx context.Context, name string, args []string, onStdout, onStderr func(line string)) (CommandResult, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run starts name with args and blocks until it exits or ctx is done.
func (ExecRunner) Run(ctx context.Context, name string, args []string, onStdout, onStderr func(line string)) (CommandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return CommandResult{ExitCode: -1}, errors.Wrap(err, "stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return CommandResult{ExitCode: -1}, errors.Wrap(err, "stderr pipe")
	}
	if err := cmd.Start(); err != nil {
		return CommandResult{ExitCode: -1}, err
	}

	tail := newLineTail(stderrTailLines)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scanLines(stdout, onStdout)
	}()
	go func() {
		defer wg.Done()
		scanLines(stderr, func(line string) {
			tail.add(line)
			if onStderr != nil {
				onStderr(line)
			}
		})
	}()
	wg.Wait()

	err = cmd.Wait()
	result := CommandResult{StderrTail: tail.String()}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}
	return result, nil
}

func scanLines(r io.Reader, fn func(string)) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64<<10), 1<<20)
	// ffmpeg rewrites its status line with \r
	sc.Split(scanCRLF)
	for sc.Scan() {
		if fn != nil {
			fn(sc.Text())
		}
	}
	io.Copy(io.Discard, r)
}

func scanCRLF(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i, b := range data {
		if b == '\n' || b == '\r' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

type lineTail struct {
	mu    sync.Mutex
	max   int
	lines []string
}

func newLineTail(max int) *lineTail { return &lineTail{max: max} }

func (t *lineTail) add(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.max {
		t.lines = t.lines[len(t.lines)-t.max:]
	}
}

func (t *lineTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "\n")
}
