package shell

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

const sshDialTimeout = 15 * time.Second

// sshShell runs a remote interactive shell over an SSH channel with a PTY
// requested, so stdout and stderr arrive as one interleaved stream.
type sshShell struct {
	client *ssh.Client
	sess   *ssh.Session
	stdin  io.WriteCloser

	out chan string

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

func dialSSH(host, username string, cred Credential) (*sshShell, error) {
	auth, err := buildAuthMethods(cred)
	if err != nil {
		return nil, err
	}

	addr := host
	if !strings.Contains(addr, ":") {
		addr = net.JoinHostPort(addr, "22")
	}

	cfg := &ssh.ClientConfig{
		User:            username,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         sshDialTimeout,
	}

	client, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, err
	}

	sess, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, err
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          0,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty("dumb", 30, 120, modes); err != nil {
		sess.Close()
		client.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		client.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		client.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := sess.Shell(); err != nil {
		sess.Close()
		client.Close()
		return nil, fmt.Errorf("start shell: %w", err)
	}

	s := &sshShell{
		client: client,
		sess:   sess,
		stdin:  stdin,
		out:    make(chan string, 256),
	}

	go s.readPump(stdout)

	return s, nil
}

func buildAuthMethods(cred Credential) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if cred.KeyPath != "" {
		key, err := os.ReadFile(cred.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("read key %q: %w", cred.KeyPath, err)
		}
		var signer ssh.Signer
		if cred.KeyPassphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(cred.KeyPassphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(key)
		}
		if err != nil {
			return nil, fmt.Errorf("parse key %q: %w", cred.KeyPath, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if cred.Password != "" {
		pw := cred.Password
		methods = append(methods, ssh.Password(pw))
		methods = append(methods, ssh.KeyboardInteractive(
			func(name, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range questions {
					answers[i] = pw
				}
				return answers, nil
			}))
	}

	if len(methods) == 0 {
		return nil, errors.New("shell: no ssh credentials supplied (need password or key path)")
	}
	return methods, nil
}

func (s *sshShell) readPump(stdout io.Reader) {
	defer close(s.out)

	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			s.out <- string(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

func (s *sshShell) Output() <-chan string { return s.out }

func (s *sshShell) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, errors.New("shell: ssh shell is closed")
	}
	return s.stdin.Write(p)
}

// Interrupt sends the Ctrl-C byte over the channel; the remote PTY delivers
// SIGINT to the foreground process group.
func (s *sshShell) Interrupt() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	_, err := s.stdin.Write([]byte{0x03})
	return err
}

func (s *sshShell) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		_ = s.stdin.Close()
		_ = s.sess.Close()
		err = s.client.Close()
	})
	return err
}
