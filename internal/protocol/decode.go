package protocol

import (
	"encoding/json"
	"fmt"
)

// DecodeError reports a malformed or unknown inbound message. The gateway
// logs it and keeps the connection open; it never tears down a session.
type DecodeError struct {
	Kind string // message type, when it could be read
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("protocol: bad %q message: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("protocol: bad message: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

type envelope struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Command string `json:"command"`
	Enabled bool   `json:"enabled"`
}

// DecodeInbound parses one client message. Unknown types and undecodable
// payloads return a *DecodeError.
func DecodeInbound(data []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &DecodeError{Err: err}
	}

	switch env.Type {
	case TypeChatInput:
		return ChatInput{Content: env.Content}, nil
	case TypeTerminalCommand:
		return CommandInput{Command: env.Command}, nil
	case TypeToggleBrowser:
		return BrowserToggle{Enabled: env.Enabled}, nil
	case TypeModeSwitch:
		return ModeSwitch{}, nil
	case TypeCancel:
		return CancelInput{}, nil
	case "":
		return nil, &DecodeError{Err: fmt.Errorf("missing type field")}
	default:
		return nil, &DecodeError{Kind: env.Type, Err: fmt.Errorf("unknown message type")}
	}
}

// Encode marshals an outbound event.
func Encode(e Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %T: %w", e, err)
	}
	return data, nil
}
