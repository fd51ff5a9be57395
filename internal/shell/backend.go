package shell

// State is the controller's lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateBusy
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBusy:
		return "busy"
	case StateClosing:
		return "closing"
	}
	return "unknown"
}

// Chunk is one piece of streamed command output. Offsets increase
// monotonically within a single command. A non-nil Err is the final element
// of a stream and signals a CommandIOError.
type Chunk struct {
	Offset int
	Data   string
	Err    error
}

// backend is a live shell: a local subprocess on a PTY or a remote SSH
// channel. The output channel is closed when the shell dies (EOF, broken
// pipe, remote drop).
type backend interface {
	Write(p []byte) (int, error)
	Output() <-chan string
	Interrupt() error
	Close() error
}

// SSHInfo describes the remote end of an SSH-backed controller.
type SSHInfo struct {
	Username string
	Hostname string
}

// Credential carries SSH authentication material, supplied out-of-band by
// the caller of ConnectSSH.
type Credential struct {
	Password      string
	KeyPath       string
	KeyPassphrase string
}
