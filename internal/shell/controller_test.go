package shell

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"
)

var markerRe = regexp.MustCompile(`__OFA_[0-9a-f]{8}__`)

// fakeBackend is a scripted shell. Its onWrite hook sees every write and
// pushes whatever output the scenario calls for, marker included.
type fakeBackend struct {
	out     chan string
	onWrite func(fb *fakeBackend, marker, data string)

	mu         sync.Mutex
	interrupts int
	closed     bool
	closeOnce  sync.Once
}

func newFakeBackend(onWrite func(fb *fakeBackend, marker, data string)) *fakeBackend {
	return &fakeBackend{out: make(chan string, 64), onWrite: onWrite}
}

func (f *fakeBackend) Write(p []byte) (int, error) {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return 0, errors.New("fake backend closed")
	}
	if f.onWrite != nil {
		f.onWrite(f, markerRe.FindString(string(p)), string(p))
	}
	return len(p), nil
}

func (f *fakeBackend) Output() <-chan string { return f.out }

func (f *fakeBackend) Interrupt() error {
	f.mu.Lock()
	f.interrupts++
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) Close() error {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()
		close(f.out)
	})
	return nil
}

func (f *fakeBackend) interruptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.interrupts
}

func (f *fakeBackend) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// readyThen answers the handshake with the given cwd, then hands command
// writes to run.
func readyThen(cwd string, run func(fb *fakeBackend, marker string)) func(*fakeBackend, string, string) {
	return func(fb *fakeBackend, marker, data string) {
		if strings.Contains(data, "stty -echo") {
			fb.out <- "\n" + marker + "0 " + cwd + "\n"
			return
		}
		if run != nil {
			run(fb, marker)
		}
	}
}

func newTestController(fb *fakeBackend) *Controller {
	c := NewController("/bin/bash", "/work")
	c.handshakeTimeout = time.Second
	c.drainTimeout = 20 * time.Millisecond
	c.startFn = func(string, string) (backend, error) { return fb, nil }
	return c
}

func collect(t *testing.T, ch <-chan Chunk) []Chunk {
	t.Helper()
	var got []Chunk
	timeout := time.After(2 * time.Second)
	for {
		select {
		case c, ok := <-ch:
			if !ok {
				return got
			}
			got = append(got, c)
		case <-timeout:
			t.Fatal("output stream did not terminate")
		}
	}
}

func joinData(chunks []Chunk) string {
	var b strings.Builder
	for _, c := range chunks {
		b.WriteString(c.Data)
	}
	return b.String()
}

func TestRunCommandStreamsOrderedChunks(t *testing.T) {
	line := strings.Repeat("a", 150) + "\n"
	fb := newFakeBackend(readyThen("/work", func(fb *fakeBackend, marker string) {
		fb.out <- line
		fb.out <- line
		fb.out <- "\n" + marker + "0 /work\n"
	}))
	c := newTestController(fb)
	defer c.Close()

	ch, err := c.RunCommand(context.Background(), "ls")
	if err != nil {
		t.Fatalf("RunCommand: %v", err)
	}
	chunks := collect(t, ch)

	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	want := line + line
	if got := joinData(chunks); got != want {
		t.Fatalf("reassembled output = %q, want %q", got, want)
	}
	off := 0
	for i, chunk := range chunks {
		if chunk.Err != nil {
			t.Fatalf("chunk %d carries error: %v", i, chunk.Err)
		}
		if chunk.Offset != off {
			t.Fatalf("chunk %d offset = %d, want %d", i, chunk.Offset, off)
		}
		off += len(chunk.Data)
	}
	if st := c.State(); st != StateConnected {
		t.Fatalf("state after command = %v, want connected", st)
	}
}

func TestRunCommandTracksWorkingDirectory(t *testing.T) {
	fb := newFakeBackend(readyThen("/work", func(fb *fakeBackend, marker string) {
		fb.out <- "\n" + marker + "0 /work/project\n"
	}))
	c := newTestController(fb)
	defer c.Close()

	ch, err := c.RunCommand(context.Background(), "cd project")
	if err != nil {
		t.Fatalf("RunCommand: %v", err)
	}
	collect(t, ch)

	if got := c.Cwd(); got != "/work/project" {
		t.Fatalf("Cwd = %q, want /work/project", got)
	}
	if got := c.Prompt(); got != "local:/work/project$ " {
		t.Fatalf("Prompt = %q", got)
	}
}

func TestRunCommandStripsEscapeSplitAcrossReads(t *testing.T) {
	fb := newFakeBackend(readyThen("/work", func(fb *fakeBackend, marker string) {
		fb.out <- "before \x1b[3"
		fb.out <- "1mred\x1b[0m after\n"
		fb.out <- "\n" + marker + "0 /work\n"
	}))
	c := newTestController(fb)
	defer c.Close()

	ch, err := c.RunCommand(context.Background(), "ls --color")
	if err != nil {
		t.Fatalf("RunCommand: %v", err)
	}
	got := joinData(collect(t, ch))

	if strings.ContainsRune(got, 0x1b) {
		t.Fatalf("escape bytes leaked: %q", got)
	}
	if got != "before red after\n" {
		t.Fatalf("output = %q, want %q", got, "before red after\n")
	}
}

func TestCancelTerminatesStream(t *testing.T) {
	fb := newFakeBackend(readyThen("/work", func(fb *fakeBackend, marker string) {
		fb.out <- strings.Repeat("x", 200)
		// No sentinel: the command hangs until interrupted.
	}))
	c := newTestController(fb)
	defer c.Close()

	ch, err := c.RunCommand(context.Background(), "sleep 1000")
	if err != nil {
		t.Fatalf("RunCommand: %v", err)
	}

	select {
	case first := <-ch:
		if first.Data == "" {
			t.Fatal("expected streamed data before cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("no output before cancel")
	}

	c.Cancel()
	collect(t, ch)

	if n := fb.interruptCount(); n != 1 {
		t.Fatalf("interrupt count = %d, want 1", n)
	}
	if st := c.State(); st != StateConnected {
		t.Fatalf("state after cancel = %v, want connected", st)
	}

	// A second cancel with nothing running is a no-op.
	c.Cancel()
}

func TestBackendDeathMidCommand(t *testing.T) {
	fb := newFakeBackend(readyThen("/work", func(fb *fakeBackend, marker string) {
		fb.out <- "partial output before the shell dies\n"
		fb.Close()
	}))
	c := newTestController(fb)
	defer c.Close()

	ch, err := c.RunCommand(context.Background(), "cat /dev/zero")
	if err != nil {
		t.Fatalf("RunCommand: %v", err)
	}
	chunks := collect(t, ch)

	if len(chunks) == 0 {
		t.Fatal("expected at least the error chunk")
	}
	last := chunks[len(chunks)-1]
	var ioErr *CommandIOError
	if !errors.As(last.Err, &ioErr) {
		t.Fatalf("final chunk error = %v, want CommandIOError", last.Err)
	}
	if got := joinData(chunks); !strings.Contains(got, "partial output") {
		t.Fatalf("output before failure lost: %q", got)
	}
	if st := c.State(); st != StateDisconnected {
		t.Fatalf("state after death = %v, want disconnected", st)
	}
}

func TestCommandsSerialized(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	fb := newFakeBackend(readyThen("/work", func(fb *fakeBackend, marker string) {
		mu.Lock()
		calls++
		mu.Unlock()
		fb.out <- "\n" + marker + "0 /work\n"
	}))
	c := newTestController(fb)
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch, err := c.RunCommand(context.Background(), "true")
			if err != nil {
				t.Errorf("RunCommand: %v", err)
				return
			}
			for range ch {
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if calls != 4 {
		t.Fatalf("command writes = %d, want 4", calls)
	}
}

func TestConnectSSHSwapsBackend(t *testing.T) {
	local := newFakeBackend(readyThen("/work", nil))
	remote := newFakeBackend(readyThen("/home/alice", func(fb *fakeBackend, marker string) {
		fb.out <- "remote says hi\n"
		fb.out <- "\n" + marker + "0 /home/alice\n"
	}))

	c := newTestController(local)
	defer c.Close()
	c.dialFn = func(host, username string, cred Credential) (backend, error) {
		return remote, nil
	}

	prompt, err := c.ConnectSSH(context.Background(), "example.com", "alice", Credential{Password: "pw"})
	if err != nil {
		t.Fatalf("ConnectSSH: %v", err)
	}
	if prompt != "alice@example.com:/home/alice$ " {
		t.Fatalf("prompt = %q", prompt)
	}
	info := c.SSHConn()
	if info == nil || info.Username != "alice" || info.Hostname != "example.com" {
		t.Fatalf("SSHConn = %+v", info)
	}

	ch, err := c.RunCommand(context.Background(), "hostname")
	if err != nil {
		t.Fatalf("RunCommand over ssh: %v", err)
	}
	if got := joinData(collect(t, ch)); !strings.Contains(got, "remote says hi") {
		t.Fatalf("remote output = %q", got)
	}

	if err := c.DisconnectSSH(); err != nil {
		t.Fatalf("DisconnectSSH: %v", err)
	}
	if c.SSHConn() != nil {
		t.Fatal("SSHConn should be nil after disconnect")
	}
	if !remote.isClosed() {
		t.Fatal("remote backend not closed on disconnect")
	}
	if st := c.State(); st != StateDisconnected {
		t.Fatalf("state after disconnect = %v", st)
	}
}

func TestConnectSSHAuthFailure(t *testing.T) {
	c := newTestController(newFakeBackend(readyThen("/work", nil)))
	defer c.Close()
	c.dialFn = func(host, username string, cred Credential) (backend, error) {
		return nil, errors.New("ssh: handshake failed: ssh: unable to authenticate, attempted methods [none password]")
	}

	_, err := c.ConnectSSH(context.Background(), "example.com", "alice", Credential{Password: "bad"})
	var connErr *ConnectError
	if !errors.As(err, &connErr) {
		t.Fatalf("error = %v, want ConnectError", err)
	}
	if connErr.Kind != AuthFailure {
		t.Fatalf("kind = %v, want auth_failure", connErr.Kind)
	}
	if c.SSHConn() != nil {
		t.Fatal("failed connect must not record ssh info")
	}
}

func TestConnectSSHTimeout(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	c := newTestController(newFakeBackend(readyThen("/work", nil)))
	defer c.Close()
	c.dialFn = func(host, username string, cred Credential) (backend, error) {
		<-release
		return nil, errors.New("late")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.ConnectSSH(ctx, "10.0.0.1", "alice", Credential{Password: "pw"})
	var connErr *ConnectError
	if !errors.As(err, &connErr) {
		t.Fatalf("error = %v, want ConnectError", err)
	}
	if connErr.Kind != Timeout {
		t.Fatalf("kind = %v, want timeout", connErr.Kind)
	}
}

func TestConnectSSHCancelled(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	c := newTestController(newFakeBackend(readyThen("/work", nil)))
	defer c.Close()
	c.dialFn = func(host, username string, cred Credential) (backend, error) {
		<-release
		return nil, errors.New("late")
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := c.ConnectSSH(ctx, "example.com", "alice", Credential{Password: "pw"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	var connErr *ConnectError
	if errors.As(err, &connErr) {
		t.Fatalf("cancelled dial misclassified as %v", connErr.Kind)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	fb := newFakeBackend(readyThen("/work", func(fb *fakeBackend, marker string) {
		fb.out <- "\n" + marker + "0 /work\n"
	}))
	c := newTestController(fb)

	ch, err := c.RunCommand(context.Background(), "true")
	if err != nil {
		t.Fatalf("RunCommand: %v", err)
	}
	collect(t, ch)

	if err := c.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if !fb.isClosed() {
		t.Fatal("backend not closed")
	}
	if _, err := c.RunCommand(context.Background(), "true"); !errors.Is(err, ErrClosed) {
		t.Fatalf("RunCommand after close = %v, want ErrClosed", err)
	}
}
