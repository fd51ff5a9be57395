// Package protocol defines the wire messages exchanged between a connected
// client and the session gateway. Both directions are closed tagged unions:
// adding a message kind means adding a type here and handling it everywhere
// the compiler complains.
package protocol

// Message type discriminators, client to gateway.
const (
	TypeChatInput       = "chat_message"
	TypeTerminalCommand = "terminal_command"
	TypeToggleBrowser   = "toggle_browser"
	TypeModeSwitch      = "mode_change"
	TypeCancel          = "cancel"
)

// Message type discriminators, gateway to client.
const (
	TypeChatEvent     = "chat_message"
	TypeCommandBlock  = "command_block"
	TypeTerminalOut   = "terminal_output"
	TypeModeChange    = "mode_change"
	TypeSSHStatus     = "ssh_status"
	TypeBrowserStatus = "browser_status"
	TypeServerLog     = "server_log"
)

// Chat senders.
const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
	SenderSystem    = "system"
)

// Modes a session can be in.
const (
	ModeChat     = "chat"
	ModeTerminal = "terminal"
)

// Inbound is a message received from the client.
type Inbound interface{ inbound() }

// ChatInput is free text typed in chat mode. Text starting with the escape
// marker is routed to the shell instead of the orchestrator.
type ChatInput struct {
	Content string `json:"content"`
}

// CommandInput is a command typed in terminal mode.
type CommandInput struct {
	Command string `json:"command"`
}

// BrowserToggle enables or disables the background browsing sub-agent.
type BrowserToggle struct {
	Enabled bool `json:"enabled"`
}

// ModeSwitch toggles the session between chat and terminal mode.
type ModeSwitch struct{}

// CancelInput interrupts the in-flight terminal command, if any.
type CancelInput struct{}

func (ChatInput) inbound()     {}
func (CommandInput) inbound()  {}
func (BrowserToggle) inbound() {}
func (ModeSwitch) inbound()    {}
func (CancelInput) inbound()   {}

// Event is a message emitted toward the client. Events carry their own type
// tag so they can be marshaled directly; use the constructors to get the tag
// right.
type Event interface{ event() }

type ChatEvent struct {
	Type    string `json:"type"`
	Sender  string `json:"sender"`
	Content string `json:"content"`
}

type CommandBlockEvent struct {
	Type       string `json:"type"`
	Index      int    `json:"index"`
	Command    string `json:"command"`
	WorkingDir string `json:"working_dir"`
}

type TerminalOutputEvent struct {
	Type    string `json:"type"`
	Prompt  string `json:"prompt"`
	Command string `json:"command"`
	Output  string `json:"output"`
}

type ModeChangeEvent struct {
	Type string `json:"type"`
	Mode string `json:"mode"`
}

type SSHStatusEvent struct {
	Type      string `json:"type"`
	Connected bool   `json:"connected"`
	Username  string `json:"username,omitempty"`
	Hostname  string `json:"hostname,omitempty"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

type BrowserStatusEvent struct {
	Type    string `json:"type"`
	Enabled bool   `json:"enabled"`
}

type ServerLogEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (ChatEvent) event()           {}
func (CommandBlockEvent) event()   {}
func (TerminalOutputEvent) event() {}
func (ModeChangeEvent) event()     {}
func (SSHStatusEvent) event()      {}
func (BrowserStatusEvent) event()  {}
func (ServerLogEvent) event()      {}

func NewChatEvent(sender, content string) ChatEvent {
	return ChatEvent{Type: TypeChatEvent, Sender: sender, Content: content}
}

func NewCommandBlockEvent(index int, command, workingDir string) CommandBlockEvent {
	return CommandBlockEvent{Type: TypeCommandBlock, Index: index, Command: command, WorkingDir: workingDir}
}

func NewTerminalOutputEvent(prompt, command, output string) TerminalOutputEvent {
	return TerminalOutputEvent{Type: TypeTerminalOut, Prompt: prompt, Command: command, Output: output}
}

func NewModeChangeEvent(mode string) ModeChangeEvent {
	return ModeChangeEvent{Type: TypeModeChange, Mode: mode}
}

func NewSSHStatusEvent(connected bool, username, hostname, status, message string) SSHStatusEvent {
	return SSHStatusEvent{
		Type:      TypeSSHStatus,
		Connected: connected,
		Username:  username,
		Hostname:  hostname,
		Status:    status,
		Message:   message,
	}
}

func NewBrowserStatusEvent(enabled bool) BrowserStatusEvent {
	return BrowserStatusEvent{Type: TypeBrowserStatus, Enabled: enabled}
}

func NewServerLogEvent(message string) ServerLogEvent {
	return ServerLogEvent{Type: TypeServerLog, Message: message}
}
