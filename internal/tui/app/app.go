package app

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/stream-pulse/pulse/internal/tui/client"
	"github.com/stream-pulse/pulse/internal/tui/theme"
	"github.com/stream-pulse/pulse/internal/tui/views/dashboard"
	"github.com/stream-pulse/pulse/internal/tui/views/debug"
	"github.com/stream-pulse/pulse/internal/tui/views/feed"
	"github.com/stream-pulse/pulse/internal/tui/views/help"
	"github.com/stream-pulse/pulse/internal/tui/views/status"
)

const statusPollInterval = 2 * time.Second

// Overlay identifies which modal is active.
type Overlay int

const (
	OverlayNone Overlay = iota
	OverlayHelp
	OverlayDebug
)

type frameMsg time.Time

func frameCmd() tea.Cmd {
	return tea.Tick(time.Second/dashboard.FPS, func(t time.Time) tea.Msg {
		return frameMsg(t)
	})
}

// Options tweak the model; the zero value is fine.
type Options struct {
	// HelpStyle is the glamour style for the help overlay.
	HelpStyle string
	// Filter is applied on the first connection.
	Filter string
}

// Model is the root Bubble Tea model.
type Model struct {
	ws     *client.WSClient
	http   *client.HTTPClient
	ctx    context.Context
	cancel context.CancelFunc

	keys   KeyMap
	width  int
	height int

	// Sub-views.
	statusBar status.Model
	dashboard dashboard.Model
	feed      feed.Model
	debug     debug.Model
	help      help.Model
	input     textinput.Model
	spinner   spinner.Model

	overlay   Overlay
	editing   bool
	connected bool
	animating bool
}

// New creates the root model. ws and http may be nil in tests.
func New(ws *client.WSClient, http *client.HTTPClient, opts Options) Model {
	ctx, cancel := context.WithCancel(context.Background())
	keys := DefaultKeyMap()

	in := textinput.New()
	in.Prompt = "filter> "
	in.Placeholder = "regular expression, empty shows everything"
	in.CharLimit = 512

	sp := spinner.New(spinner.WithSpinner(spinner.Dot))

	if ws != nil && opts.Filter != "" {
		// Not connected yet; this only records the filter for the dial.
		_ = ws.SetFilter(opts.Filter)
	}

	return Model{
		ws:        ws,
		http:      http,
		ctx:       ctx,
		cancel:    cancel,
		keys:      keys,
		statusBar: status.New(),
		dashboard: dashboard.New(),
		feed:      feed.New(),
		debug:     debug.New(),
		help:      help.New(keys.HelpBindings(), opts.HelpStyle),
		input:     in,
		spinner:   sp,
	}
}

// Init starts the WebSocket connection and status polling.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick}
	if m.ws != nil {
		cmds = append(cmds, m.ws.Listen(m.ctx))
	}
	if m.http != nil {
		cmds = append(cmds, m.http.PollStatus(m.ctx, 0))
	}
	return tea.Batch(cmds...)
}

func (m Model) read() tea.Cmd {
	if m.ws == nil {
		return nil
	}
	return m.ws.ReadLoop(m.ctx)
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.statusBar.Width = msg.Width
		m.dashboard.Width = msg.Width
		m.feed.SetSize(msg.Width, m.feedHeight())
		m.help.SetWidth(msg.Width)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		if m.connected {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.statusBar.Spinner = m.spinner.View()
		return m, cmd

	case frameMsg:
		if m.dashboard.Animate() {
			return m, frameCmd()
		}
		m.animating = false
		return m, nil

	case client.WSConnectedMsg:
		m.connected = true
		m.statusBar.Connected = true
		m.statusBar.SessionID = msg.Hello.SessionID
		m.statusBar.Pattern = msg.Hello.Pattern
		m.statusBar.PatternValid = true
		m.debug.Add(debug.KindConn, fmt.Sprintf("connected session=%s pattern=%q", msg.Hello.SessionID, msg.Hello.Pattern))
		return m, m.read()

	case client.WSDisconnectedMsg:
		m.connected = false
		m.statusBar.Connected = false
		if msg.Err != nil {
			m.debug.Add(debug.KindConn, "disconnected: "+msg.Err.Error())
		}
		if m.ws == nil {
			return m, nil
		}
		return m, tea.Batch(m.ws.Listen(m.ctx), m.spinner.Tick)

	case client.WSEventMsg:
		m.feed.Add(msg.Event)
		return m, m.read()

	case client.WSMetricsMsg:
		m.dashboard.SetMetrics(msg.Metrics)
		cmds := []tea.Cmd{m.read()}
		if !m.animating {
			m.animating = true
			cmds = append(cmds, frameCmd())
		}
		return m, tea.Batch(cmds...)

	case client.WSFilterAckMsg:
		m.statusBar.Pattern = msg.Ack.Pattern
		m.statusBar.PatternValid = msg.Ack.Valid
		m.dashboard.Reset()
		if msg.Ack.Valid {
			m.debug.Add(debug.KindFilter, fmt.Sprintf("filter %q applied", msg.Ack.Pattern))
		} else {
			m.debug.Add(debug.KindError, fmt.Sprintf("filter %q invalid, matching everything", msg.Ack.Pattern))
		}
		return m, m.read()

	case client.WSUpstreamMsg:
		m.statusBar.Upstream = msg.Upstream.Status
		m.statusBar.UpstreamError = msg.Upstream.Error
		m.debug.Add(debug.KindUpstream, fmt.Sprintf("upstream %s %s", msg.Upstream.Status, msg.Upstream.Error))
		return m, m.read()

	case client.WSErrorMsg:
		m.debug.Add(debug.KindError, msg.Message)
		return m, m.read()

	case client.StatusMsg:
		if msg.Err != nil {
			m.debug.Add(debug.KindError, "status: "+msg.Err.Error())
		} else {
			m.statusBar.SetStatus(msg.Status)
		}
		if m.http == nil {
			return m, nil
		}
		return m, m.http.PollStatus(m.ctx, statusPollInterval)
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.editing {
		return m.handleEditKey(msg)
	}

	if key.Matches(msg, m.keys.Quit) {
		return m.quit()
	}

	if m.overlay != OverlayNone {
		switch {
		case key.Matches(msg, m.keys.Escape),
			m.overlay == OverlayHelp && key.Matches(msg, m.keys.Help),
			m.overlay == OverlayDebug && key.Matches(msg, m.keys.Debug):
			m.overlay = OverlayNone
		case m.overlay == OverlayDebug && key.Matches(msg, m.keys.Up):
			m.debug.ScrollUp(1)
		case m.overlay == OverlayDebug && key.Matches(msg, m.keys.Down):
			m.debug.ScrollDown(1)
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Filter):
		m.editing = true
		m.input.SetValue(m.statusBar.Pattern)
		m.input.CursorEnd()
		return m, m.input.Focus()

	case key.Matches(msg, m.keys.ClearFilter):
		m.applyFilter("")
		return m, nil

	case key.Matches(msg, m.keys.Help):
		m.overlay = OverlayHelp
		return m, nil

	case key.Matches(msg, m.keys.Debug):
		m.overlay = OverlayDebug
		return m, nil
	}

	return m, nil
}

func (m Model) handleEditKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Apply):
		m.editing = false
		m.input.Blur()
		m.applyFilter(m.input.Value())
		return m, nil

	case key.Matches(msg, m.keys.Escape):
		m.editing = false
		m.input.Blur()
		return m, nil

	case msg.Type == tea.KeyCtrlC:
		return m.quit()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) applyFilter(pattern string) {
	if m.ws == nil {
		m.statusBar.Pattern = pattern
		return
	}
	if err := m.ws.SetFilter(pattern); err != nil {
		m.debug.Add(debug.KindError, "set filter: "+err.Error())
	}
}

func (m Model) quit() (tea.Model, tea.Cmd) {
	if m.ws != nil {
		m.ws.Close()
	}
	m.cancel()
	return m, tea.Quit
}

// feedHeight is what is left after the status bar, dashboard and footer.
func (m Model) feedHeight() int {
	return m.height - 3 - 6 - 2
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	var main string
	switch {
	case m.overlay == OverlayHelp:
		main = m.help.View()
	case m.overlay == OverlayDebug:
		main = m.debug.View(m.width, m.feedHeight())
	case !m.connected:
		main = m.renderDisconnected()
	default:
		main = m.feed.View()
	}

	sections := []string{
		m.statusBar.View(),
		m.dashboard.View(),
		main,
		m.renderFooter(),
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderDisconnected() string {
	box := lipgloss.NewStyle().
		Padding(1, 4).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorDanger).
		Render(lipgloss.JoinVertical(lipgloss.Center,
			lipgloss.NewStyle().Bold(true).Foreground(theme.ColorDanger).Render("DISCONNECTED"),
			theme.StyleDimmed.Render(m.spinner.View()+" Reconnecting..."),
		))
	return lipgloss.Place(m.width, max(m.feedHeight(), 5), lipgloss.Center, lipgloss.Center, box)
}

func (m Model) renderFooter() string {
	if m.editing {
		return m.input.View()
	}
	return theme.StyleDimmed.Render("  /:filter  c:clear  ?:help  d:debug  q:quit")
}
