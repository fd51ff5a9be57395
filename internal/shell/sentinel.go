package shell

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Command completion is detected by a unique per-command sentinel the shell
// prints after the command finishes, never by guessing at the user's prompt
// string. The sentinel line carries the exit code and the working directory
// so the visible prompt can be rebuilt without extra round trips.
const (
	markerPrefix = "__OFA_"
	markerSuffix = "__"

	// markerHold is how many trailing bytes of pending output are withheld
	// from streaming so a sentinel split across reads is never leaked.
	markerHold = 96
)

func newMarker() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return markerPrefix + "00000000" + markerSuffix
	}
	return markerPrefix + hex.EncodeToString(b) + markerSuffix
}

// wrapCommand appends the sentinel printer to a command line. The printf is
// a separate statement, so it runs even when the command itself fails.
func wrapCommand(text, marker string) string {
	return fmt.Sprintf("%s; printf '\\n%s%%d %%s\\n' \"$?\" \"$PWD\"\n", text, marker)
}

// setupCommand quiets the shell (no echo, no prompt) and prints a ready
// sentinel, used as a handshake when a backend starts.
func setupCommand(marker string) string {
	return fmt.Sprintf("stty -echo 2>/dev/null; PS1=''; PS2=''; PROMPT_COMMAND=''; printf '\\n%s0 %%s\\n' \"$PWD\"\n", marker)
}

type markerResult struct {
	pre      string
	exitCode int
	cwd      string
}

// findMarker scans buf (CR-normalized) for the sentinel line.
//
// When the full line is present it returns the result, with pre holding
// everything before the sentinel (minus the artificial newline the sentinel
// printf emits). When the sentinel has started but its line is incomplete it
// reports needMore. Otherwise safe is the number of leading bytes that can be
// streamed to the client without risking a split sentinel.
func findMarker(buf, marker string) (res *markerResult, needMore bool, safe int) {
	idx := -1
	for from := 0; ; {
		i := strings.Index(buf[from:], marker)
		if i < 0 {
			break
		}
		i += from
		if i == 0 || buf[i-1] == '\n' {
			idx = i
			break
		}
		from = i + len(marker)
	}

	if idx < 0 {
		safe = len(buf) - markerHold
		if safe < 0 {
			safe = 0
		}
		return nil, false, safe
	}

	boundary := idx
	if boundary > 0 && buf[boundary-1] == '\n' {
		boundary--
	}

	rest := buf[idx+len(marker):]
	nl := strings.IndexByte(rest, '\n')
	if nl < 0 {
		return nil, true, boundary
	}

	line := rest[:nl]
	code := 0
	cwd := ""
	if sp := strings.IndexByte(line, ' '); sp >= 0 {
		if n, err := strconv.Atoi(line[:sp]); err == nil {
			code = n
		}
		cwd = line[sp+1:]
	} else if n, err := strconv.Atoi(line); err == nil {
		code = n
	}

	return &markerResult{pre: buf[:boundary], exitCode: code, cwd: cwd}, false, boundary
}

// normalizeCR folds CRLF and bare CR line endings into LF so sentinel
// matching is not defeated by PTY line discipline.
func normalizeCR(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
