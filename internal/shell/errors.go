package shell

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrClosed is returned by operations on a controller after Close.
var ErrClosed = errors.New("shell: controller closed")

// ConnectKind classifies why an SSH connection attempt failed.
type ConnectKind string

const (
	AuthFailure     ConnectKind = "auth_failure"
	HostUnreachable ConnectKind = "host_unreachable"
	Timeout         ConnectKind = "timeout"
)

// ConnectError is returned by ConnectSSH. The session's remote descriptor
// stays absent; subsequent commands fall back to the local shell.
type ConnectError struct {
	Kind ConnectKind
	Host string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("shell: ssh connect to %s: %s: %v", e.Host, e.Kind, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// CommandIOError reports a broken pipe or unexpected EOF mid-command. Output
// streamed before the failure is preserved; the controller resets to
// Disconnected.
type CommandIOError struct {
	Err error
}

func (e *CommandIOError) Error() string {
	return fmt.Sprintf("shell: command i/o failed: %v", e.Err)
}

func (e *CommandIOError) Unwrap() error { return e.Err }

func classifyConnectErr(host string, err error) error {
	// A caller-driven cancel is not a connection failure; pass it through.
	if errors.Is(err, context.Canceled) {
		return err
	}

	kind := HostUnreachable

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = Timeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = Timeout
	case containsAny(err.Error(), "unable to authenticate", "no supported methods remain", "permission denied", "handshake failed"):
		kind = AuthFailure
	case containsAny(err.Error(), "i/o timeout", "timed out"):
		kind = Timeout
	}

	return &ConnectError{Kind: kind, Host: host, Err: err}
}

func containsAny(s string, subs ...string) bool {
	s = strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func isBrokenConn(err error) bool {
	if err == nil {
		return false
	}
	return containsAny(err.Error(),
		"eof",
		"broken pipe",
		"connection reset",
		"use of closed",
		"closed network connection",
		"channel closed",
		"input/output error",
	)
}
