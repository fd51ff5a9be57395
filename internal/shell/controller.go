package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// Controller owns at most one live shell backend for a session. The backend
// is a local PTY by default and can be swapped for an SSH channel with
// ConnectSSH. Commands are serialized; output is streamed in ordered chunks
// and command completion is detected via sentinel, so the stream is always
// finite even when the shell dies mid-command.
type Controller struct {
	shellPath string
	workDir   string

	startFn func(shellPath, workDir string) (backend, error)
	dialFn  func(host, username string, cred Credential) (backend, error)

	handshakeTimeout time.Duration
	drainTimeout     time.Duration

	mu     sync.Mutex
	state  State
	be     backend
	ssh    *SSHInfo
	cwd    string
	cancel chan struct{}
	closed bool

	cmdMu     sync.Mutex
	closeOnce sync.Once
}

func NewController(shellPath, workDir string) *Controller {
	return &Controller{
		shellPath: shellPath,
		workDir:   workDir,
		startFn: func(shellPath, workDir string) (backend, error) {
			return startLocal(shellPath, workDir)
		},
		dialFn: func(host, username string, cred Credential) (backend, error) {
			return dialSSH(host, username, cred)
		},
		handshakeTimeout: 10 * time.Second,
		drainTimeout:     300 * time.Millisecond,
		state:            StateDisconnected,
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Cwd() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cwd
}

// SSHConn reports the remote end when the controller is SSH-backed, nil when
// the backend is the local shell.
func (c *Controller) SSHConn() *SSHInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ssh == nil {
		return nil
	}
	info := *c.ssh
	return &info
}

// Prompt renders the visible prompt for the current backend and directory.
func (c *Controller) Prompt() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	cwd := c.cwd
	if cwd == "" {
		cwd = c.workDir
	}
	if cwd == "" {
		cwd = "~"
	}
	if c.ssh != nil {
		return fmt.Sprintf("%s@%s:%s$ ", c.ssh.Username, c.ssh.Hostname, cwd)
	}
	return fmt.Sprintf("local:%s$ ", cwd)
}

// RunCommand executes one command line on the current backend, starting the
// local shell lazily on first use. The returned channel streams output chunks
// in order and is closed exactly once: after the sentinel arrives, after a
// cancel, or after an I/O failure (final chunk carries a CommandIOError).
func (c *Controller) RunCommand(ctx context.Context, text string) (<-chan Chunk, error) {
	c.cmdMu.Lock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.cmdMu.Unlock()
		return nil, ErrClosed
	}
	c.mu.Unlock()

	be, err := c.ensureBackend()
	if err != nil {
		c.cmdMu.Unlock()
		return nil, err
	}

	marker := newMarker()
	if _, err := be.Write([]byte(wrapCommand(text, marker))); err != nil {
		if isBrokenConn(err) {
			c.reset()
		}
		c.cmdMu.Unlock()
		return nil, fmt.Errorf("shell: write command: %w", err)
	}

	cancel := make(chan struct{})
	c.mu.Lock()
	c.cancel = cancel
	c.state = StateBusy
	c.mu.Unlock()

	ch := make(chan Chunk, 16)
	go c.stream(ctx, be, marker, cancel, ch)
	return ch, nil
}

// Cancel interrupts the in-flight command, if any. Idempotent; a no-op when
// the controller is idle.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		select {
		case <-c.cancel:
		default:
			close(c.cancel)
		}
	}
}

// ConnectSSH dials the remote host, quiets the remote shell, and swaps it in
// as the active backend. On failure the existing backend is left untouched so
// commands keep running locally.
func (c *Controller) ConnectSSH(ctx context.Context, host, username string, cred Credential) (string, error) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrClosed
	}
	prev := c.state
	c.state = StateConnecting
	c.mu.Unlock()

	restore := func() {
		c.mu.Lock()
		if !c.closed {
			c.state = prev
		}
		c.mu.Unlock()
	}

	type dialResult struct {
		be  backend
		err error
	}
	done := make(chan dialResult, 1)
	go func() {
		be, err := c.dialFn(host, username, cred)
		done <- dialResult{be, err}
	}()

	var be backend
	select {
	case <-ctx.Done():
		go func() {
			if r := <-done; r.be != nil {
				r.be.Close()
			}
		}()
		restore()
		return "", classifyConnectErr(host, ctx.Err())
	case r := <-done:
		if r.err != nil {
			restore()
			return "", classifyConnectErr(host, r.err)
		}
		be = r.be
	}

	cwd, err := c.handshake(be)
	if err != nil {
		be.Close()
		restore()
		return "", classifyConnectErr(host, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		be.Close()
		return "", ErrClosed
	}
	if old := c.be; old != nil {
		go old.Close()
	}
	c.be = be
	c.ssh = &SSHInfo{Username: username, Hostname: host}
	c.cwd = cwd
	c.state = StateConnected
	c.mu.Unlock()

	return c.Prompt(), nil
}

// DisconnectSSH tears down the SSH backend. The local shell is restarted
// lazily by the next command.
func (c *Controller) DisconnectSSH() error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	c.mu.Lock()
	if c.ssh == nil {
		c.mu.Unlock()
		return errors.New("shell: no ssh connection")
	}
	be := c.be
	c.be = nil
	c.ssh = nil
	c.cwd = ""
	if !c.closed {
		c.state = StateDisconnected
	}
	c.mu.Unlock()

	if be != nil {
		return be.Close()
	}
	return nil
}

// Close shuts the controller down: the in-flight command is cancelled and the
// backend is closed. Safe to call from any goroutine, any number of times.
func (c *Controller) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.state = StateClosing
		if c.cancel != nil {
			select {
			case <-c.cancel:
			default:
				close(c.cancel)
			}
		}
		be := c.be
		c.be = nil
		c.ssh = nil
		c.mu.Unlock()

		if be != nil {
			err = be.Close()
		}
	})
	return err
}

func (c *Controller) ensureBackend() (backend, error) {
	c.mu.Lock()
	if c.be != nil {
		be := c.be
		c.mu.Unlock()
		return be, nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	be, err := c.startFn(c.shellPath, c.workDir)
	if err != nil {
		c.mu.Lock()
		if !c.closed {
			c.state = StateDisconnected
		}
		c.mu.Unlock()
		return nil, fmt.Errorf("shell: start local shell: %w", err)
	}

	cwd, err := c.handshake(be)
	if err != nil {
		be.Close()
		c.mu.Lock()
		if !c.closed {
			c.state = StateDisconnected
		}
		c.mu.Unlock()
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		be.Close()
		return nil, ErrClosed
	}
	c.be = be
	c.cwd = cwd
	c.state = StateConnected
	c.mu.Unlock()
	return be, nil
}

// handshake disables echo and prompts on a fresh backend and waits for its
// ready sentinel, which also reports the initial working directory.
func (c *Controller) handshake(be backend) (string, error) {
	marker := newMarker()
	if _, err := be.Write([]byte(setupCommand(marker))); err != nil {
		return "", fmt.Errorf("shell: handshake write: %w", err)
	}

	deadline := time.NewTimer(c.handshakeTimeout)
	defer deadline.Stop()

	var pending string
	for {
		select {
		case <-deadline.C:
			return "", errors.New("shell: handshake timed out")
		case raw, ok := <-be.Output():
			if !ok {
				return "", errors.New("shell: shell exited during handshake")
			}
			pending += cleanOutput(raw)
			if res, _, _ := findMarker(pending, marker); res != nil {
				return res.cwd, nil
			}
		}
	}
}

func (c *Controller) stream(ctx context.Context, be backend, marker string, cancel chan struct{}, ch chan Chunk) {
	defer c.cmdMu.Unlock()
	defer close(ch)

	var pending string
	var escHold string
	off := 0
	emitted := 0

	// ingest holds back an unterminated trailing escape sequence the same way
	// findMarker holds back a split sentinel, so stripping sees it whole.
	ingest := func(raw string) {
		raw = escHold + raw
		h := escapeHoldback(raw)
		escHold = raw[len(raw)-h:]
		pending += cleanOutput(raw[:len(raw)-h])
	}

	emit := func(n int) {
		if n <= emitted {
			return
		}
		ch <- Chunk{Offset: off, Data: pending[emitted:n]}
		off += n - emitted
		emitted = n
	}

	settle := func(res *markerResult) {
		c.mu.Lock()
		c.cancel = nil
		if res != nil && res.cwd != "" {
			c.cwd = res.cwd
		}
		if !c.closed && c.state == StateBusy {
			c.state = StateConnected
		}
		c.mu.Unlock()
	}

	for {
		select {
		case <-ctx.Done():
			res := c.interruptAndDrain(be, marker, &pending, ingest)
			if res != nil {
				emit(len(res.pre))
			} else {
				_, _, safe := findMarker(pending, marker)
				emit(safe)
			}
			settle(res)
			return

		case <-cancel:
			res := c.interruptAndDrain(be, marker, &pending, ingest)
			if res != nil {
				emit(len(res.pre))
			} else {
				_, _, safe := findMarker(pending, marker)
				emit(safe)
			}
			settle(res)
			return

		case raw, ok := <-be.Output():
			if !ok {
				if res, needMore, safe := findMarker(pending, marker); res != nil {
					emit(len(res.pre))
				} else if needMore {
					emit(safe)
				} else {
					emit(len(pending))
				}
				ch <- Chunk{Offset: off, Err: &CommandIOError{Err: io.ErrUnexpectedEOF}}
				c.mu.Lock()
				c.cancel = nil
				c.mu.Unlock()
				c.reset()
				return
			}
			ingest(raw)
			res, _, safe := findMarker(pending, marker)
			if res != nil {
				emit(len(res.pre))
				settle(res)
				return
			}
			emit(safe)
		}
	}
}

// interruptAndDrain sends Ctrl-C and collects output for a short window in
// case the sentinel still arrives. An interrupted compound command may never
// print its sentinel; the stream is terminated here either way.
func (c *Controller) interruptAndDrain(be backend, marker string, pending *string, ingest func(string)) *markerResult {
	_ = be.Interrupt()

	timer := time.NewTimer(c.drainTimeout)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			return nil
		case raw, ok := <-be.Output():
			if !ok {
				return nil
			}
			ingest(raw)
			if res, _, _ := findMarker(*pending, marker); res != nil {
				return res
			}
		}
	}
}

// reset tears down a dead backend. The next command restarts the local shell.
func (c *Controller) reset() {
	c.mu.Lock()
	be := c.be
	c.be = nil
	c.ssh = nil
	c.cwd = ""
	if !c.closed {
		c.state = StateDisconnected
	}
	c.mu.Unlock()

	if be != nil {
		be.Close()
	}
}

func cleanOutput(raw string) string {
	return stripANSI(normalizeCR(raw))
}
