package shell

import (
	"errors"
	"os"
	"os/exec"
	"sync"
	"syscall"

	creackpty "github.com/creack/pty"
)

// localShell runs the configured shell inside a PTY. The PTY gives us a
// single interleaved output stream and makes \x03 deliver SIGINT to the
// foreground process group.
type localShell struct {
	cmd  *exec.Cmd
	ptmx *os.File

	out chan string

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

func startLocal(shellPath, workDir string) (*localShell, error) {
	if shellPath == "" {
		return nil, errors.New("shell: shell path must not be empty")
	}
	if workDir != "" {
		if err := os.MkdirAll(workDir, 0o755); err != nil {
			return nil, err
		}
	}

	cmd := exec.Command(shellPath, "-i")
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(), "TERM=dumb")

	ptmx, err := creackpty.StartWithSize(cmd, &creackpty.Winsize{Cols: 120, Rows: 30})
	if err != nil {
		return nil, err
	}

	s := &localShell{
		cmd:  cmd,
		ptmx: ptmx,
		out:  make(chan string, 256),
	}

	go s.readPump()

	return s, nil
}

// readPump reads from the PTY fd until the shell exits or the fd is closed,
// then closes the output channel so the controller observes the EOF.
func (s *localShell) readPump() {
	defer close(s.out)

	buf := make([]byte, 4096)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			s.out <- string(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

func (s *localShell) Output() <-chan string { return s.out }

func (s *localShell) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, errors.New("shell: local shell is closed")
	}
	return s.ptmx.Write(p)
}

// Interrupt sends ETX through the PTY; the line discipline turns it into
// SIGINT for the foreground process group.
func (s *localShell) Interrupt() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	_, err := s.ptmx.Write([]byte{0x03})
	return err
}

// Close terminates the shell (SIGTERM) and closes the PTY fd. Safe to call
// multiple times.
func (s *localShell) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		if s.cmd.Process != nil {
			_ = s.cmd.Process.Signal(syscall.SIGTERM)
		}
		err = s.ptmx.Close()

		go func() { _ = s.cmd.Wait() }()
	})
	return err
}
