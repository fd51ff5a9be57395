// Package gateway owns the websocket sessions: one connection, one session,
// one shell controller. Inbound messages are handled strictly in arrival
// order by a per-session worker, and all outbound events go through a single
// queue, so clients observe events in the order they were produced. Cancel is
// the one exception: it is handled directly on the read loop so it can reach
// a command the worker is still draining.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	shellquote "github.com/kballard/go-shellquote"
	"nhooyr.io/websocket"

	"github.com/metantonio/open-first-agent/internal/history"
	"github.com/metantonio/open-first-agent/internal/orchestrator"
	"github.com/metantonio/open-first-agent/internal/protocol"
	"github.com/metantonio/open-first-agent/internal/shell"
)

// ShellController is the shell side of a session. *shell.Controller
// implements it; tests substitute fakes.
type ShellController interface {
	RunCommand(ctx context.Context, text string) (<-chan shell.Chunk, error)
	Cancel()
	ConnectSSH(ctx context.Context, host, username string, cred shell.Credential) (string, error)
	DisconnectSSH() error
	Close() error
	Prompt() string
	Cwd() string
	SSHConn() *shell.SSHInfo
}

type Gateway struct {
	logger        *slog.Logger
	store         *history.Store
	logs          *LogBroadcaster
	newController func(sessionID string) ShellController
	newHandler    func(sessionID string) orchestrator.Handler

	// DefaultBrowserEnabled is the initial browsing toggle for new sessions.
	DefaultBrowserEnabled bool
}

// New wires a gateway. store and logs may be nil; controller and handler
// factories are required and are invoked once per connection.
func New(
	logger *slog.Logger,
	store *history.Store,
	logs *LogBroadcaster,
	newController func(sessionID string) ShellController,
	newHandler func(sessionID string) orchestrator.Handler,
) *Gateway {
	return &Gateway{
		logger:        logger,
		store:         store,
		logs:          logs,
		newController: newController,
		newHandler:    newHandler,
	}
}

// HandleWebSocket serves one session on /ws/{connection_id}. An empty id gets
// a generated one.
func (g *Gateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/ws"), "/")
	if id == "" {
		id = uuid.NewString()
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		g.logger.Warn("websocket accept failed", "error", err)
		return
	}

	sess := newSession(id)
	sess.SetBrowserEnabled(g.DefaultBrowserEnabled)

	c := &client{
		g:       g,
		conn:    conn,
		send:    make(chan []byte, 256),
		work:    make(chan protocol.Inbound, 64),
		sess:    sess,
		ctrl:    g.newController(id),
		handler: g.newHandler(id),
		logger:  g.logger.With("session", id),
	}
	c.run(r.Context())
}

type client struct {
	g       *Gateway
	conn    *websocket.Conn
	send    chan []byte
	work    chan protocol.Inbound
	sess    *Session
	ctrl    ShellController
	handler orchestrator.Handler
	logger  *slog.Logger
}

func (c *client) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	unsubscribe := func() {}
	if c.g.logs != nil {
		unsubscribe = c.g.logs.Subscribe(c.pushLog)
	}

	// A dead writer cancels the whole session so in-flight command streams
	// terminate instead of blocking on a full queue.
	go func() {
		c.writePump(ctx)
		cancel()
	}()

	// Messages are dispatched off the read loop so the connection keeps
	// reading while a command or orchestrator call is in flight.
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-c.work:
				c.dispatch(ctx, msg)
			}
		}
	}()

	c.logger.Info("session connected")
	c.replayHistory(ctx)
	c.readPump(ctx)

	unsubscribe()
	cancel()
	<-workerDone
	if err := c.ctrl.Close(); err != nil {
		c.logger.Warn("controller close", "error", err)
	}
	c.logger.Info("session closed")
}

func (c *client) readPump(ctx context.Context) {
	defer c.conn.Close(websocket.StatusNormalClosure, "")

	c.conn.SetReadLimit(1 << 20)

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && ctx.Err() == nil {
				c.logger.Debug("read ended", "error", err)
			}
			return
		}

		msg, err := protocol.DecodeInbound(data)
		if err != nil {
			// Malformed input is logged and skipped; the session stays up.
			c.logger.Warn("malformed message", "error", err)
			continue
		}

		// Cancel bypasses the queue: it targets the command the worker is
		// currently draining.
		if _, ok := msg.(protocol.CancelInput); ok {
			c.ctrl.Cancel()
			continue
		}

		select {
		case c.work <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (c *client) writePump(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.conn.Ping(ctx); err != nil {
				return
			}
		case msg := <-c.send:
			if err := c.conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		}
	}
}

// emit queues a session-scoped event. Blocks when the queue is full rather
// than dropping, so per-session order and completeness hold.
func (c *client) emit(ctx context.Context, ev protocol.Event) {
	data, err := protocol.Encode(ev)
	if err != nil {
		c.logger.Error("encode event", "error", err)
		return
	}
	select {
	case c.send <- data:
	case <-ctx.Done():
	}
}

// pushLog queues a server_log event, dropping it when the session is slow.
func (c *client) pushLog(message string) {
	data, err := protocol.Encode(protocol.NewServerLogEvent(message))
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

const historyReplayLimit = 50

// replayHistory pushes the persisted transcript for this session so a
// reconnecting client picks up where it left off, and warms the handler's
// conversation window from the same transcript.
func (c *client) replayHistory(ctx context.Context) {
	if c.g.store == nil {
		return
	}

	msgs, err := c.g.store.RecentChat(ctx, c.sess.ID, historyReplayLimit)
	if err != nil {
		c.logger.Warn("load chat history", "error", err)
	}
	if len(msgs) > 0 {
		seed := make([]orchestrator.SeedMessage, 0, len(msgs))
		for _, msg := range msgs {
			c.emit(ctx, protocol.NewChatEvent(msg.Sender, msg.Content))
			seed = append(seed, orchestrator.SeedMessage{Sender: msg.Sender, Content: msg.Content})
		}
		if seeder, ok := c.handler.(orchestrator.HistorySeeder); ok {
			seeder.SeedHistory(seed)
		}
	}

	recs, err := c.g.store.RecentCommands(ctx, c.sess.ID, historyReplayLimit)
	if err != nil {
		c.logger.Warn("load command history", "error", err)
	}
	for _, rec := range recs {
		c.emit(ctx, protocol.NewTerminalOutputEvent(rec.Prompt, rec.Command, rec.Output))
	}
}

func (c *client) dispatch(ctx context.Context, msg protocol.Inbound) {
	switch m := msg.(type) {
	case protocol.BrowserToggle:
		c.sess.SetBrowserEnabled(m.Enabled)
		c.emit(ctx, protocol.NewBrowserStatusEvent(m.Enabled))

	case protocol.ModeSwitch:
		c.emit(ctx, protocol.NewModeChangeEvent(c.sess.ToggleMode()))

	case protocol.ChatInput:
		c.routeText(ctx, strings.TrimSpace(m.Content))

	case protocol.CommandInput:
		c.routeText(ctx, strings.TrimSpace(m.Command))
	}
}

// routeText applies the mode rules to free text. Routing depends on the
// session mode and the escape marker, not on which inbound type carried the
// text.
func (c *client) routeText(ctx context.Context, text string) {
	switch {
	case text == "":
	case strings.HasPrefix(text, "!"):
		// Escape marker: run in the shell, stay in chat mode.
		c.executeCommand(ctx, strings.TrimSpace(text[1:]))
	case c.sess.Mode() == protocol.ModeTerminal:
		c.handleTerminal(ctx, text)
	default:
		c.handleChat(ctx, text)
	}
}

const sshUsage = `ssh commands:
  ssh connect -h <host> -u <user> [-p <password>] [-k <keyfile>] [--passphrase <phrase>]
  ssh disconnect
  ssh help`

func (c *client) handleTerminal(ctx context.Context, cmd string) {
	if cmd == "" {
		return
	}
	switch {
	case strings.EqualFold(cmd, "exit"):
		c.sess.SetMode(protocol.ModeChat)
		c.emit(ctx, protocol.NewModeChangeEvent(protocol.ModeChat))

	case strings.EqualFold(cmd, "clear"):
		if c.g.store != nil {
			if err := c.g.store.ClearTerminal(ctx, c.sess.ID); err != nil {
				c.logger.Warn("clear history", "error", err)
			}
		}
		c.emit(ctx, protocol.NewTerminalOutputEvent(c.ctrl.Prompt(), "clear", ""))

	case cmd == "ssh" || strings.HasPrefix(cmd, "ssh "):
		c.handleSSH(ctx, cmd)

	default:
		c.executeCommand(ctx, cmd)
	}
}

func (c *client) handleSSH(ctx context.Context, cmd string) {
	args, err := shellquote.Split(cmd)
	if err != nil {
		c.emit(ctx, protocol.NewSSHStatusEvent(false, "", "", "error", "cannot parse ssh command: "+err.Error()))
		return
	}
	if len(args) < 2 || args[1] == "help" {
		c.emit(ctx, protocol.NewTerminalOutputEvent(c.ctrl.Prompt(), cmd, sshUsage+"\n"))
		return
	}

	switch args[1] {
	case "connect":
		c.sshConnect(ctx, args[2:])
	case "disconnect":
		if err := c.ctrl.DisconnectSSH(); err != nil {
			c.emit(ctx, protocol.NewSSHStatusEvent(false, "", "", "error", err.Error()))
			return
		}
		c.sess.SetPrompt(c.ctrl.Prompt())
		c.emit(ctx, protocol.NewSSHStatusEvent(false, "", "", "success", "ssh connection closed"))
	default:
		c.emit(ctx, protocol.NewTerminalOutputEvent(c.ctrl.Prompt(), cmd, sshUsage+"\n"))
	}
}

func (c *client) sshConnect(ctx context.Context, args []string) {
	var host, user string
	var cred shell.Credential

	for i := 0; i < len(args); i++ {
		var val string
		if i+1 < len(args) {
			val = args[i+1]
		}
		switch args[i] {
		case "-h", "--host":
			host = val
			i++
		case "-u", "--user":
			user = val
			i++
		case "-p", "--password":
			cred.Password = val
			i++
		case "-k", "--key":
			cred.KeyPath = val
			i++
		case "--passphrase":
			cred.KeyPassphrase = val
			i++
		}
	}

	if host == "" || user == "" {
		c.emit(ctx, protocol.NewSSHStatusEvent(false, "", "", "error", "host and user are required\n"+sshUsage))
		return
	}

	prompt, err := c.ctrl.ConnectSSH(ctx, host, user, cred)
	if err != nil {
		c.logger.Warn("ssh connect failed", "host", host, "error", err)
		c.emit(ctx, protocol.NewSSHStatusEvent(false, "", "", "error", sshErrorMessage(host, err)))
		return
	}

	c.sess.SetPrompt(prompt)
	c.emit(ctx, protocol.NewSSHStatusEvent(true, user, host, "success", "connected to "+host))
}

func sshErrorMessage(host string, err error) string {
	var connErr *shell.ConnectError
	if errors.As(err, &connErr) {
		switch connErr.Kind {
		case shell.AuthFailure:
			return "authentication failed for " + host
		case shell.Timeout:
			return "connection to " + host + " timed out"
		case shell.HostUnreachable:
			return "cannot reach " + host
		}
	}
	return err.Error()
}

func (c *client) executeCommand(ctx context.Context, cmd string) {
	if cmd == "" {
		return
	}

	seq := c.sess.NextCommandSeq()
	prompt := c.ctrl.Prompt()
	hadSSH := c.ctrl.SSHConn() != nil

	c.emit(ctx, protocol.NewCommandBlockEvent(seq, cmd, baseDir(c.ctrl.Cwd())))

	stream, err := c.ctrl.RunCommand(ctx, cmd)
	if err != nil {
		if errors.Is(err, shell.ErrClosed) {
			return
		}
		c.logger.Warn("run command", "error", err)
		c.emit(ctx, protocol.NewTerminalOutputEvent(prompt, cmd, "error: "+err.Error()+"\n"))
		return
	}

	var out strings.Builder
	first := true
	for chunk := range stream {
		if chunk.Err != nil {
			const notice = "\n[connection to shell lost]\n"
			c.emit(ctx, protocol.NewTerminalOutputEvent(prompt, "", notice))
			out.WriteString(notice)
			continue
		}
		label := ""
		if first {
			label = cmd
			first = false
		}
		c.emit(ctx, protocol.NewTerminalOutputEvent(prompt, label, chunk.Data))
		out.WriteString(chunk.Data)
	}

	newPrompt := c.ctrl.Prompt()
	c.sess.SetPrompt(newPrompt)
	label := ""
	if first {
		label = cmd
	}
	c.emit(ctx, protocol.NewTerminalOutputEvent(newPrompt, label, ""))

	c.recordCommand(ctx, prompt, cmd, out.String())

	if hadSSH && c.ctrl.SSHConn() == nil {
		c.emit(ctx, protocol.NewSSHStatusEvent(false, "", "", "error", "ssh connection lost"))
	}
}

func (c *client) handleChat(ctx context.Context, text string) {
	c.recordChat(ctx, protocol.SenderUser, text)

	snap := orchestrator.Snapshot{
		Mode:           c.sess.Mode(),
		BrowserEnabled: c.sess.BrowserEnabled(),
		SSHConnected:   c.ctrl.SSHConn() != nil,
		WorkingDir:     c.ctrl.Cwd(),
		Prompt:         c.ctrl.Prompt(),
	}

	events, err := c.handler.Handle(ctx, text, snap)
	if err != nil {
		c.logger.Warn("orchestrator request failed", "error", err)
		c.emit(ctx, protocol.NewChatEvent(protocol.SenderSystem,
			"The assistant is unavailable right now. Please try again."))
		return
	}

	for _, ev := range events {
		switch e := ev.(type) {
		case orchestrator.ChatText:
			c.recordChat(ctx, protocol.SenderAssistant, e.Text)
			c.emit(ctx, protocol.NewChatEvent(protocol.SenderAssistant, e.Text))
		case orchestrator.CommandBlock:
			c.emit(ctx, protocol.NewCommandBlockEvent(e.Index, e.Command, e.WorkingDir))
		}
	}
}

func (c *client) recordChat(ctx context.Context, sender, content string) {
	if c.g.store == nil {
		return
	}
	msg := &history.ChatMessage{SessionID: c.sess.ID, Sender: sender, Content: content}
	if err := c.g.store.AppendChat(ctx, msg); err != nil {
		c.logger.Warn("record chat message", "error", err)
	}
}

func (c *client) recordCommand(ctx context.Context, prompt, cmd, output string) {
	if c.g.store == nil {
		return
	}
	rec := &history.CommandRecord{SessionID: c.sess.ID, Prompt: prompt, Command: cmd, Output: output}
	if err := c.g.store.AppendCommand(ctx, rec); err != nil {
		c.logger.Warn("record command", "error", err)
	}
}

func baseDir(dir string) string {
	if dir == "" {
		return ""
	}
	return filepath.Base(dir)
}
