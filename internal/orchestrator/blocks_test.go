package orchestrator

import (
	"strings"
	"testing"
)

func TestExtractCommandBlocksSingle(t *testing.T) {
	content := "Install it like this:\n```bash {run}\nsudo apt install jq\n```\nThen check the version."

	stripped, blocks := extractCommandBlocks(content, "/home/user/project")

	if len(blocks) != 1 {
		t.Fatalf("blocks = %d, want 1", len(blocks))
	}
	b := blocks[0]
	if b.Index != 1 {
		t.Fatalf("index = %d, want 1", b.Index)
	}
	if b.Command != "sudo apt install jq" {
		t.Fatalf("command = %q", b.Command)
	}
	if b.WorkingDir != "project" {
		t.Fatalf("working dir = %q, want project", b.WorkingDir)
	}
	if strings.Contains(stripped, "apt install") {
		t.Fatalf("command left in stripped content: %q", stripped)
	}
	if !strings.Contains(stripped, "Install it like this") {
		t.Fatalf("prose lost: %q", stripped)
	}
}

func TestExtractCommandBlocksNumbersInOrder(t *testing.T) {
	content := "First:\n```bash {run}\necho one\n```\nthen:\n```bash {run:background}\nsleep 100\n```"

	_, blocks := extractCommandBlocks(content, "/tmp")

	if len(blocks) != 2 {
		t.Fatalf("blocks = %d, want 2", len(blocks))
	}
	if blocks[0].Index != 1 || blocks[1].Index != 2 {
		t.Fatalf("indexes = %d, %d", blocks[0].Index, blocks[1].Index)
	}
	if blocks[0].Command != "echo one" || blocks[1].Command != "sleep 100" {
		t.Fatalf("commands = %q, %q", blocks[0].Command, blocks[1].Command)
	}
}

func TestExtractCommandBlocksStripsToolCallWrappers(t *testing.T) {
	cases := []struct {
		name string
		code string
		want string
	}{
		{"transfer call", "transfer_to_terminal_agent(ls -la)", "ls -la"},
		{"json wrapper", `{"command": "df -h"}`, "df -h"},
		{"plain", "uptime", "uptime"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			content := "```bash {run}\n" + tc.code + "\n```"
			_, blocks := extractCommandBlocks(content, "/tmp")
			if len(blocks) != 1 {
				t.Fatalf("blocks = %d, want 1", len(blocks))
			}
			if blocks[0].Command != tc.want {
				t.Fatalf("command = %q, want %q", blocks[0].Command, tc.want)
			}
		})
	}
}

func TestExtractCommandBlocksIgnoresPlainFences(t *testing.T) {
	content := "Example only:\n```bash\necho not tagged\n```"

	stripped, blocks := extractCommandBlocks(content, "/tmp")

	if len(blocks) != 0 {
		t.Fatalf("blocks = %d, want 0", len(blocks))
	}
	if stripped != content {
		t.Fatalf("untagged fence modified: %q", stripped)
	}
}
