// Interactive chat client.
//
// Screens
// -------
//   stateLogin – centered username prompt
//   stateChat  – full-screen chat with scrollable message viewport
//
// Concurrency
// -----------
//   A reader goroutine turns newline-delimited JSON from the TCP connection
//   into a channel of raw lines; the Bubbletea event loop consumes one line
//   at a time via waitForLine (a tea.Cmd).  Outbound requests go through a
//   bounded queue drained by a writer goroutine, so the UI never blocks on
//   a slow socket.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"linechat/internal/protocol"
)

// ---------------------------------------------------------------------------
// Styles
// ---------------------------------------------------------------------------

var (
	purple = lipgloss.Color("99")
	cyan   = lipgloss.Color("86")
	red    = lipgloss.Color("196")
	yellow = lipgloss.Color("220")
	gray   = lipgloss.Color("241")
	white  = lipgloss.Color("255")
	orange = lipgloss.Color("214")
	blue   = lipgloss.Color("75")

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Background(purple).
			Foreground(white).
			Padding(0, 1)

	footerBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.NormalBorder(), true, false, false, false).
				BorderForeground(gray).
				Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(purple).
			Padding(0, 2)

	hintStyle = lipgloss.NewStyle().
			Foreground(gray).
			Italic(true)

	focusedStyle = lipgloss.NewStyle().Foreground(cyan)
	errorStyle   = lipgloss.NewStyle().Foreground(red)
	infoStyle    = lipgloss.NewStyle().Foreground(yellow).Italic(true)
	tsStyle      = lipgloss.NewStyle().Foreground(gray)
	historyStyle = lipgloss.NewStyle().Foreground(gray)
	myNameStyle  = lipgloss.NewStyle().Bold(true).Foreground(orange)
	peerStyle    = lipgloss.NewStyle().Bold(true).Foreground(blue)
)

// ---------------------------------------------------------------------------
// Bubbletea message types
// ---------------------------------------------------------------------------

type serverLineMsg []byte     // a raw response line arrived from the server
type disconnectedMsg struct{} // server closed the connection

// ---------------------------------------------------------------------------
// Application state
// ---------------------------------------------------------------------------

type appState int

const (
	stateLogin appState = iota
	stateChat
)

type model struct {
	lines chan []byte // reader goroutine → bubbletea bridge
	out   chan []byte // bubbletea → writer goroutine, bounded

	state appState
	me    string // username confirmed by the server

	// Login
	nameField textinput.Model
	statusMsg string
	waitLogin bool // a login request is in flight

	// Chat
	ready     bool
	viewport  viewport.Model
	chatInput textinput.Model
	chatLines []string

	width, height int
}

func newModel(lines, out chan []byte) model {
	nf := textinput.New()
	nf.Placeholder = "username"
	nf.Focus()
	nf.CharLimit = 20
	nf.Width = 24

	ci := textinput.New()
	ci.Placeholder = "Type a message, or /help for commands…"
	ci.CharLimit = 500

	return model{
		lines:     lines,
		out:       out,
		state:     stateLogin,
		nameField: nf,
		chatInput: ci,
	}
}

// ---------------------------------------------------------------------------
// Tea interface
// ---------------------------------------------------------------------------

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForLine(m.lines))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if !m.ready {
			m.viewport = viewport.New(msg.Width, m.vpHeight())
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = m.vpHeight()
		}
		m.chatInput.Width = msg.Width - 4
		return m, nil

	case serverLineMsg:
		m = m.handleServerLine([]byte(msg))
		return m, waitForLine(m.lines)

	case disconnectedMsg:
		return m, tea.Quit

	case tea.KeyMsg:
		switch m.state {
		case stateLogin:
			return m.handleLoginKey(msg)
		case stateChat:
			return m.handleChatKey(msg)
		}
	}
	return m, nil
}

// vpHeight returns the number of lines available for the chat viewport.
func (m model) vpHeight() int {
	// header (1) + footer border (1) + footer input (1)
	h := m.height - 3
	if h < 1 {
		h = 1
	}
	return h
}

// ---------------------------------------------------------------------------
// Key handlers
// ---------------------------------------------------------------------------

func (m model) handleLoginKey(msg tea.KeyMsg) (model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return m, tea.Quit

	case tea.KeyEnter:
		name := strings.TrimSpace(m.nameField.Value())
		if name == "" {
			m.statusMsg = "enter a username"
			return m, nil
		}
		m.enqueue(protocol.KindLogin, name)
		m.statusMsg = "Logging in…"
		m.waitLogin = true
		return m, nil
	}

	var cmd tea.Cmd
	m.nameField, cmd = m.nameField.Update(msg)
	return m, cmd
}

func (m model) handleChatKey(msg tea.KeyMsg) (model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyCtrlQ:
		// Best-effort logout, independent of server state.
		m.enqueue(protocol.KindLogout, protocol.NoContent)
		return m, tea.Quit

	case tea.KeyEnter:
		return m.submitInput()

	case tea.KeyPgUp:
		m.viewport.HalfViewUp()
		return m, nil

	case tea.KeyPgDown:
		m.viewport.HalfViewDown()
		return m, nil
	}

	var cmd tea.Cmd
	m.chatInput, cmd = m.chatInput.Update(msg)
	return m, cmd
}

// submitInput turns the input line into a request.  Plain text becomes a
// msg request; slash commands map onto the other request kinds; whitespace
// is ignored.
func (m model) submitInput() (model, tea.Cmd) {
	line := strings.TrimSpace(m.chatInput.Value())
	if line == "" {
		return m, nil
	}
	m.chatInput.Reset()

	switch line {
	case "exit", "/exit":
		m.enqueue(protocol.KindLogout, protocol.NoContent)
		return m, tea.Quit
	case "/logout":
		m.enqueue(protocol.KindLogout, protocol.NoContent)
	case "/names":
		m.enqueue(protocol.KindNames, protocol.NoContent)
	case "/help":
		m.enqueue(protocol.KindHelp, protocol.NoContent)
	default:
		m.enqueue(protocol.KindMsg, line)
	}
	return m, nil
}

// ---------------------------------------------------------------------------
// Server line handler
// ---------------------------------------------------------------------------

func (m model) handleServerLine(data []byte) model {
	resp, err := protocol.DecodeResponse(data)
	if err != nil {
		m.appendChat(errorStyle.Render("⚠ unreadable response from server"))
		return m
	}

	switch resp.Kind {

	case protocol.KindMessage:
		ts := tsStyle.Render("[" + resp.Timestamp + "]")
		name := peerStyle.Render(resp.Sender)
		if resp.Sender == m.me {
			name = myNameStyle.Render(resp.Sender)
		}
		m.appendChat(ts + " " + name + ": " + resp.Content)

	case protocol.KindHistory:
		for _, line := range strings.Split(resp.Content, "\n") {
			m.appendChat(historyStyle.Render(line))
		}

	case protocol.KindInfo:
		if m.waitLogin && strings.HasPrefix(resp.Content, "Login successful") {
			m.waitLogin = false
			m.me = strings.TrimSpace(m.nameField.Value())
			m.state = stateChat
			m.chatInput.Focus()
		}
		if strings.HasPrefix(resp.Content, "Logout successful") {
			// Back to the username prompt; the connection stays up.
			m.state = stateLogin
			m.me = ""
			m.statusMsg = ""
			m.chatLines = nil
			m.nameField.Reset()
			m.nameField.Focus()
			return m
		}
		m.appendChat(infoStyle.Render(resp.Content))

	case protocol.KindError:
		if m.state == stateLogin {
			m.waitLogin = false
			m.statusMsg = resp.Content
		} else {
			m.appendChat(errorStyle.Render("⚠ " + resp.Content))
		}
	}
	return m
}

// appendChat adds a rendered line and scrolls the viewport to the bottom.
func (m *model) appendChat(line string) {
	m.chatLines = append(m.chatLines, line)
	m.viewport.SetContent(strings.Join(m.chatLines, "\n"))
	m.viewport.GotoBottom()
}

// enqueue encodes a request and hands it to the writer goroutine.  A full
// queue drops the request rather than blocking the UI.
func (m model) enqueue(kind protocol.RequestKind, content string) {
	data, err := protocol.EncodeRequest(kind, content)
	if err != nil {
		return
	}
	select {
	case m.out <- data:
	default:
	}
}

// ---------------------------------------------------------------------------
// Views
// ---------------------------------------------------------------------------

func (m model) View() string {
	switch m.state {
	case stateLogin:
		return m.viewLogin()
	case stateChat:
		return m.viewChat()
	}
	return ""
}

func (m model) viewLogin() string {
	if m.width == 0 {
		return "\n  Connecting to server…"
	}

	form := lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("  linechat  "),
		"",
		focusedStyle.Render("Username")+"  "+m.nameField.View(),
		"",
		hintStyle.Render("Enter: log in   Ctrl+C: quit"),
		"",
		m.renderStatus(),
	)

	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, form)
}

func (m model) viewChat() string {
	if !m.ready {
		return "\n  Connecting…"
	}

	hdr := headerStyle.
		Width(m.width).
		Render(fmt.Sprintf(" linechat  ·  %s  ·  /names /help /logout  ·  PgUp/Dn: Scroll  Ctrl+C: Quit", m.me))

	footer := footerBorderStyle.
		Width(m.width - 2).
		Render(m.chatInput.View())

	return lipgloss.JoinVertical(lipgloss.Left, hdr, m.viewport.View(), footer)
}

func (m model) renderStatus() string {
	if m.statusMsg == "" {
		return ""
	}
	if strings.Contains(m.statusMsg, "Logging in") {
		return hintStyle.Render(m.statusMsg)
	}
	return errorStyle.Render(m.statusMsg)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// waitForLine returns a tea.Cmd that blocks until the next server line.
// When the channel closes (server disconnected) it reports disconnectedMsg.
func waitForLine(ch <-chan []byte) tea.Cmd {
	return func() tea.Msg {
		data, ok := <-ch
		if !ok {
			return disconnectedMsg{}
		}
		return serverLineMsg(data)
	}
}

// ---------------------------------------------------------------------------
// Main
// ---------------------------------------------------------------------------

func main() {
	addr := flag.String("addr", "localhost:9998", "server address")
	flag.Parse()

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	// Reader goroutine: TCP → lines channel.
	lines := make(chan []byte, 64)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			line := make([]byte, len(scanner.Bytes()))
			copy(line, scanner.Bytes())
			lines <- line
		}
	}()

	// Writer goroutine: out channel → TCP.
	out := make(chan []byte, 64)
	go func() {
		for data := range out {
			if _, err := conn.Write(append(data, '\n')); err != nil {
				return
			}
		}
	}()

	p := tea.NewProgram(
		newModel(lines, out),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
