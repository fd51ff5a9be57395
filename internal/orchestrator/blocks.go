package orchestrator

import (
	"path/filepath"
	"regexp"
	"strings"
)

// Replies mark runnable commands with fenced blocks of the form
// ```bash {run}, optionally suffixed like {run:background} or {run_2}.
var (
	codeBlockRe    = regexp.MustCompile("(?s)```bash\\s*\\{(run(?::\\w+)?(?:_\\d+)?)\\}(.*?)```")
	transferCallRe = regexp.MustCompile(`transfer_to_\w+_agent\((.*?)\)`)
	jsonWrapRe     = regexp.MustCompile(`^\s*\{\s*"[^"]+"\s*:\s*"([^"]+)"\s*\}\s*$`)
)

// extractCommandBlocks pulls tagged code blocks out of a reply. It returns the
// reply with the blocks removed and the blocks themselves, numbered from 1 in
// order of appearance. Model output sometimes wraps the command in a tool-call
// shape; those wrappers are stripped.
func extractCommandBlocks(content, workingDir string) (string, []CommandBlock) {
	var blocks []CommandBlock

	stripped := codeBlockRe.ReplaceAllStringFunc(content, func(m string) string {
		sub := codeBlockRe.FindStringSubmatch(m)
		code := strings.TrimSpace(sub[2])
		code = transferCallRe.ReplaceAllString(code, "$1")
		code = jsonWrapRe.ReplaceAllString(code, "$1")
		blocks = append(blocks, CommandBlock{
			Index:      len(blocks) + 1,
			Command:    code,
			WorkingDir: baseDir(workingDir),
		})
		return ""
	})

	return stripped, blocks
}

func baseDir(dir string) string {
	if dir == "" {
		return ""
	}
	return filepath.Base(dir)
}
