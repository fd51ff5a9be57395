package shell

import (
	"regexp"
	"strings"
)

var (
	ansiCSI     *regexp.Regexp
	ansiOSC     *regexp.Regexp
	ansiCharset *regexp.Regexp
	ansiKeypad  *regexp.Regexp
	ansiSingle  *regexp.Regexp
)

func init() {
	ansiCSI = regexp.MustCompile(`\x1b\[[0-?]*[ -/]*[@-~]`)
	ansiOSC = regexp.MustCompile(`\x1b\].*?(?:\x07|\x1b\\)`)
	ansiCharset = regexp.MustCompile(`\x1b[()][0-9A-Za-z]`)
	ansiKeypad = regexp.MustCompile(`\x1b[=>]`)
	ansiSingle = regexp.MustCompile(`\x1b.`)
}

// stripANSI removes escape sequences and control bytes so the text streamed
// to clients and scanned for sentinels is what the shell actually printed.
func stripANSI(s string) string {
	s = ansiCSI.ReplaceAllString(s, "")
	s = ansiOSC.ReplaceAllString(s, "")
	s = ansiCharset.ReplaceAllString(s, "")
	s = ansiKeypad.ReplaceAllString(s, "")
	s = ansiSingle.ReplaceAllString(s, "")

	result := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch == '\r' {
			continue
		}
		if ch == '\b' {
			if len(result) > 0 {
				result = result[:len(result)-1]
			}
			continue
		}
		if (ch < 0x20 || ch == 0x7f) && ch != '\n' && ch != '\t' {
			continue
		}
		result = append(result, ch)
	}
	return string(result)
}

// escapeHoldback reports how many trailing bytes of s are the start of an
// escape sequence that has not terminated yet. Callers hold those bytes back
// and prepend them to the next read, so a sequence split across reads is
// still stripped whole.
func escapeHoldback(s string) int {
	i := strings.LastIndexByte(s, 0x1b)
	if i < 0 {
		return 0
	}
	tail := s[i:]
	if len(tail) > 64 {
		// Too long for a real sequence; let it through rather than stall
		// the stream on garbage.
		return 0
	}
	if escapeComplete(tail) {
		return 0
	}
	return len(tail)
}

func escapeComplete(seq string) bool {
	if len(seq) < 2 {
		return false
	}
	switch seq[1] {
	case '[':
		for i := 2; i < len(seq); i++ {
			if seq[i] >= 0x40 && seq[i] <= 0x7e {
				return true
			}
		}
		return false
	case ']':
		return strings.ContainsRune(seq[2:], 0x07) || strings.Contains(seq[2:], "\x1b\\")
	case '(', ')':
		return len(seq) >= 3
	default:
		return true
	}
}
