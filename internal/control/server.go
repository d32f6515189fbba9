package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	xlog "github.com/sweeney/radio-alarm/internal/log"
)

// maxCommand bounds one command line.
const maxCommand = 1024

const ioTimeout = 5 * time.Second

var (
	// ErrAlreadyRunning means another daemon answers on the control socket.
	ErrAlreadyRunning = errors.New("daemon already running")
	// ErrNotRunning means no daemon answers on the control socket.
	ErrNotRunning = errors.New("daemon not running")
)

// Server answers one command per connection on a Unix socket.
type Server struct {
	path   string
	exec   *Executor
	logger zerolog.Logger
}

// NewServer creates a Server listening on the socket at path.
func NewServer(path string, exec *Executor) *Server {
	return &Server{path: path, exec: exec, logger: xlog.WithComponent("control")}
}

// Run listens until ctx is done, then closes the listener, waits for open
// connections and removes the socket file. A stale socket left by a crashed
// daemon is replaced; a live one fails with ErrAlreadyRunning.
func (s *Server) Run(ctx context.Context) error {
	if Running(s.path) {
		return fmt.Errorf("%w on %s", ErrAlreadyRunning, s.path)
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "unix", s.path)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.path, err)
	}
	s.logger.Info().Str(xlog.FieldEvent, "control.listening").Str(xlog.FieldPath, s.path).Msg("control socket ready")

	var wg sync.WaitGroup
	defer func() {
		wg.Wait()
		_ = os.Remove(s.path)
	}()

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn().Err(err).Msg("accept failed")
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.serve(ctx, conn)
		}()
	}
}

func (s *Server) serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(ioTimeout))

	buf := make([]byte, maxCommand)
	n, err := conn.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		s.logger.Debug().Err(err).Msg("read command")
		return
	}
	line := strings.TrimSpace(string(buf[:n]))
	if line == "" {
		// Liveness checks connect and hang up.
		return
	}

	reply, err := s.exec.Execute(ctx, "socket", line)
	ev := s.logger.Debug()
	if err != nil {
		ev = s.logger.Info().Err(err)
	}
	ev.Str(xlog.FieldEvent, "control.command").Str("command", line).Msg("command handled")

	if _, err := io.WriteString(conn, reply); err != nil {
		s.logger.Debug().Err(err).Msg("write reply")
	}
}

// Running reports whether a daemon accepts connections on the socket at path.
func Running(path string) bool {
	conn, err := net.DialTimeout("unix", path, time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Send connects to the control socket at path, sends line and returns the
// daemon's reply.
func Send(ctx context.Context, path, line string) (string, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return "", fmt.Errorf("%w: connect to daemon at %s: %w", ErrNotRunning, path, err)
	}
	defer conn.Close()
	deadline := time.Now().Add(ioTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetDeadline(deadline)

	if _, err := io.WriteString(conn, line); err != nil {
		return "", fmt.Errorf("send command: %w", err)
	}
	if uc, ok := conn.(*net.UnixConn); ok {
		_ = uc.CloseWrite()
	}
	reply, err := io.ReadAll(conn)
	if err != nil {
		return "", fmt.Errorf("read reply: %w", err)
	}
	return string(reply), nil
}

// IsError reports whether a reply signals a failed command.
func IsError(reply string) bool {
	return strings.HasPrefix(reply, "ERROR:")
}
