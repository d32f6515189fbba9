package player

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// process is the handle for one running player child. It is created by
// spawn and released by terminate; nothing else signals the child.
type process struct {
	cmd     *exec.Cmd
	started time.Time
	done    chan struct{}

	// expected is set before we stop the child ourselves, so the exit is
	// not reported as a failure.
	expected atomic.Bool

	mu       sync.Mutex
	waitErr  error
	lastLine string
}

// spawn starts argv with stdout and stderr merged and passes each output
// line to onLine. onExit runs once after the child has been reaped.
func spawn(argv []string, onLine func(string), onExit func(*process)) (*process, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	setGroup(cmd)

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create output pipe: %w", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw
	cmd.Stdin = nil

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, err
	}
	pw.Close()

	p := &process{
		cmd:     cmd,
		started: time.Now(),
		done:    make(chan struct{}),
	}

	outputDone := make(chan struct{})
	go func() {
		defer close(outputDone)
		defer pr.Close()
		p.scan(pr, onLine)
	}()

	go func() {
		err := cmd.Wait()
		// Grandchildren may hold the pipe open; do not wait forever for EOF.
		select {
		case <-outputDone:
		case <-time.After(100 * time.Millisecond):
		}
		p.mu.Lock()
		p.waitErr = err
		p.mu.Unlock()
		close(p.done)
		if onExit != nil {
			onExit(p)
		}
	}()

	return p, nil
}

func (p *process) scan(r io.Reader, onLine func(string)) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 64*1024)
	sc.Split(scanLines)
	for sc.Scan() {
		line := string(bytes.TrimSpace(sc.Bytes()))
		if line == "" {
			continue
		}
		p.mu.Lock()
		p.lastLine = line
		p.mu.Unlock()
		if onLine != nil {
			onLine(line)
		}
	}
}

// scanLines splits on '\n' or '\r'; mpg123 redraws its status line with
// carriage returns.
func scanLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func (p *process) pid() int {
	return p.cmd.Process.Pid
}

func (p *process) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// exitError describes why the child ended, including its last output line.
func (p *process) exitError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.waitErr
	if err == nil {
		err = fmt.Errorf("player exited")
	}
	if p.lastLine != "" {
		return fmt.Errorf("%w (last output: %q)", err, p.lastLine)
	}
	return err
}

func (p *process) signal(sig syscall.Signal) error {
	return signalGroup(p.cmd, sig)
}

// terminate sends SIGTERM to the process group, waits up to grace, then
// sends SIGKILL. It returns once the child has been reaped.
func (p *process) terminate(grace time.Duration) {
	p.expected.Store(true)
	if p.exited() {
		return
	}
	_ = p.signal(syscall.SIGTERM)
	// A stopped child cannot handle SIGTERM until continued.
	_ = p.signal(syscall.SIGCONT)

	select {
	case <-p.done:
		return
	case <-time.After(grace):
	}
	_ = p.signal(syscall.SIGKILL)
	<-p.done
}
