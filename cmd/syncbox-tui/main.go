// Command syncbox-tui is a diagnostics terminal for a running syncbox
// daemon. It polls the control API and renders cache, queue, sync, and
// notification state in one screen.
//
// Usage:
//
//	go run ./cmd/syncbox-tui --api http://127.0.0.1:8788
//	# or after building:
//	./syncbox-tui
//
// The TUI provides:
//   - Connectivity, uptime, and connected client views at a glance
//   - Per-namespace cache occupancy
//   - Per-category queue depth and drain state
//   - The most recent notifications, suppressions included
//   - Manual sync trigger without leaving the terminal
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ─────────────────────────────────────────────────────
// Control API client
// ─────────────────────────────────────────────────────

// statusReply mirrors GET /api/status.
type statusReply struct {
	Version       string                     `json:"version"`
	Uptime        string                     `json:"uptime"`
	Online        bool                       `json:"online"`
	Cache         map[string]namespaceStatus `json:"cache"`
	Queue         map[string]int             `json:"queue"`
	Sync          map[string]categoryStatus  `json:"sync"`
	Notifications []notification             `json:"notifications"`
	Clients       []clientView               `json:"clients"`
}

type namespaceStatus struct {
	Size       int      `json:"size"`
	MaxEntries int      `json:"maxEntries"`
	TTLMs      int64    `json:"ttlMs"`
	Keys       []string `json:"keys"`
}

type categoryStatus struct {
	State    string      `json:"state"`
	Pending  int         `json:"pending"`
	LastPass *passResult `json:"lastPass"`
}

type passResult struct {
	Trigger   string    `json:"trigger"`
	StartedAt time.Time `json:"startedAt"`
	Attempted int       `json:"attempted"`
	Replayed  int       `json:"replayed"`
	Remaining int       `json:"remaining"`
}

type notification struct {
	Type       string    `json:"type"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"receivedAt"`
	Suppressed string    `json:"suppressed"`
}

type clientView struct {
	ClientID string `json:"clientId"`
	URL      string `json:"url"`
}

var httpClient = &http.Client{Timeout: 5 * time.Second}

func fetchStatus(apiURL string) (*statusReply, error) {
	resp, err := httpClient.Get(apiURL + "/api/status")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	var status statusReply
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, err
	}
	return &status, nil
}

func triggerSync(apiURL string) error {
	body := strings.NewReader(`{"type":"TRIGGER_SYNC"}`)
	resp, err := httpClient.Post(apiURL+"/api/message", "application/json", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		detail, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}

// ─────────────────────────────────────────────────────
// Bubble Tea messages
// ─────────────────────────────────────────────────────

type statusMsg struct {
	status *statusReply
}

type statusErrMsg struct {
	err error
}

type syncDoneMsg struct {
	err error
}

type tickMsg struct{}

func fetchStatusCmd(apiURL string) tea.Cmd {
	return func() tea.Msg {
		status, err := fetchStatus(apiURL)
		if err != nil {
			return statusErrMsg{err: err}
		}
		return statusMsg{status: status}
	}
}

func triggerSyncCmd(apiURL string) tea.Cmd {
	return func() tea.Msg {
		return syncDoneMsg{err: triggerSync(apiURL)}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return tickMsg{}
	})
}

// ─────────────────────────────────────────────────────
// Styles
// ─────────────────────────────────────────────────────

var (
	// Colors
	primaryColor = lipgloss.Color("#7C3AED") // violet
	accentColor  = lipgloss.Color("#06B6D4") // cyan
	mutedColor   = lipgloss.Color("#6B7280") // gray
	successColor = lipgloss.Color("#10B981") // green
	errorColor   = lipgloss.Color("#EF4444") // red
	warnColor    = lipgloss.Color("#F59E0B") // amber

	sidebarStyle = lipgloss.NewStyle().
			Width(32).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(1, 1)

	sectionTitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#E5E7EB"))

	metricStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			PaddingLeft(2)

	notesBorder = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(accentColor)

	noteTitle = lipgloss.NewStyle().
			Foreground(accentColor).
			Bold(true)

	noteBody = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#E5E7EB"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(primaryColor).
			Padding(0, 1)

	footerStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	onlineBadge = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	offlineBadge = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)

	drainingBadge = lipgloss.NewStyle().
			Foreground(warnColor)

	errStyle = lipgloss.NewStyle().
			Foreground(errorColor)
)

// ─────────────────────────────────────────────────────
// TUI Model
// ─────────────────────────────────────────────────────

type tuiModel struct {
	api     string
	status  *statusReply
	lastErr error
	flash   string // one-line feedback after a manual action
	notes   viewport.Model
	width   int
	height  int
	ready   bool
}

func newModel(apiURL string) tuiModel {
	return tuiModel{api: apiURL}
}

func (m tuiModel) Init() tea.Cmd {
	return tea.Batch(
		fetchStatusCmd(m.api),
		tickCmd(),
	)
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "r":
			m.flash = "refreshing..."
			return m, fetchStatusCmd(m.api)
		case "s":
			m.flash = "sync requested..."
			return m, triggerSyncCmd(m.api)
		}

	case statusMsg:
		m.status = msg.status
		m.lastErr = nil
		if m.ready {
			m.notes.SetContent(m.renderNotes())
		}
		return m, nil

	case statusErrMsg:
		m.lastErr = msg.err
		return m, nil

	case syncDoneMsg:
		if msg.err != nil {
			m.flash = "sync failed: " + msg.err.Error()
		} else {
			m.flash = "sync pass complete"
		}
		return m, fetchStatusCmd(m.api)

	case tickMsg:
		cmds = append(cmds, fetchStatusCmd(m.api), tickCmd())

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		sidebarW := 34
		notesW := m.width - sidebarW - 3 // borders/gap
		notesH := m.height - 6           // header + footer

		if !m.ready {
			m.notes = viewport.New(notesW, notesH)
			m.notes.SetContent(m.renderNotes())
			m.ready = true
		} else {
			m.notes.Width = notesW
			m.notes.Height = notesH
			m.notes.SetContent(m.renderNotes())
		}
	}

	var cmd tea.Cmd
	m.notes, cmd = m.notes.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m tuiModel) View() string {
	if !m.ready {
		return "Connecting to syncbox..."
	}

	// Header
	badge := offlineBadge.Render("● OFFLINE")
	uptime := ""
	if m.status != nil {
		if m.status.Online {
			badge = onlineBadge.Render("● ONLINE")
		}
		uptime = "  up " + m.status.Uptime
	}
	header := headerStyle.Width(m.width).Render(
		"  📦 Syncbox Diagnostics  " + badge + uptime,
	)

	// Body: sidebar (cache/queue/sync) + notifications pane
	sidebar := m.renderSidebar()
	notes := notesBorder.Width(m.width - 35).Render(m.notes.View())
	body := lipgloss.JoinHorizontal(lipgloss.Top, sidebar, " ", notes)

	// Footer
	hint := "  r: refresh │ s: sync now │ ↑↓: scroll │ q: quit"
	status := ""
	if m.lastErr != nil {
		status = "  " + errStyle.Render("✗ "+m.lastErr.Error())
	} else if m.flash != "" {
		status = "  " + m.flash
	}
	footer := footerStyle.Render(hint + status)

	return lipgloss.JoinVertical(lipgloss.Left, header, body, footer)
}

// ─────────────────────────────────────────────────────
// Rendering helpers
// ─────────────────────────────────────────────────────

func (m tuiModel) renderSidebar() string {
	var sb strings.Builder

	if m.status == nil {
		sb.WriteString(metricStyle.Render("waiting for daemon..."))
		if m.lastErr != nil {
			sb.WriteString("\n\n")
			sb.WriteString(errStyle.Render(m.lastErr.Error()))
		}
		return sidebarStyle.Height(m.height - 4).Render(sb.String())
	}

	// Cache occupancy per namespace
	sb.WriteString(sectionTitle.Render("  Cache"))
	sb.WriteString("\n")
	for _, name := range sortedKeys(m.status.Cache) {
		ns := m.status.Cache[name]
		sb.WriteString(fmt.Sprintf("  %s\n", labelStyle.Render(name)))
		sb.WriteString(metricStyle.Render(fmt.Sprintf("entries: %d/%d  ttl: %s",
			ns.Size, ns.MaxEntries, shortTTL(ns.TTLMs))))
		sb.WriteString("\n")
	}
	sb.WriteString("\n")

	// Queue depth and drain state per category
	sb.WriteString(sectionTitle.Render("  Queue"))
	sb.WriteString("\n")
	for _, category := range sortedKeys(m.status.Queue) {
		depth := m.status.Queue[category]
		indicator := metricStyle.Render("○")
		if st, ok := m.status.Sync[category]; ok && st.State == "draining" {
			indicator = drainingBadge.Render("◉")
		}
		sb.WriteString(fmt.Sprintf("  %s %s\n", indicator, labelStyle.Render(category)))
		sb.WriteString(metricStyle.Render(fmt.Sprintf("pending: %d", depth)))
		sb.WriteString("\n")
		if st, ok := m.status.Sync[category]; ok && st.LastPass != nil {
			pass := st.LastPass
			sb.WriteString(metricStyle.Render(fmt.Sprintf("last: %d/%d (%s, %s)",
				pass.Replayed, pass.Attempted, pass.Trigger, ago(pass.StartedAt))))
			sb.WriteString("\n")
		}
	}
	sb.WriteString("\n")

	// System summary
	sb.WriteString(sectionTitle.Render("  System"))
	sb.WriteString("\n")
	sb.WriteString(metricStyle.Render("version: " + m.status.Version))
	sb.WriteString("\n")
	sb.WriteString(metricStyle.Render(fmt.Sprintf("clients: %d", len(m.status.Clients))))
	sb.WriteString("\n")

	return sidebarStyle.Height(m.height - 4).Render(sb.String())
}

func (m tuiModel) renderNotes() string {
	if m.status == nil || len(m.status.Notifications) == 0 {
		return lipgloss.NewStyle().
			Foreground(mutedColor).
			Padding(1).
			Render("No notifications yet.")
	}

	var sb strings.Builder
	for _, n := range m.status.Notifications {
		ts := lipgloss.NewStyle().Foreground(mutedColor).Render(n.ReceivedAt.Format("15:04"))
		title := noteTitle.Render(fmt.Sprintf("[%s] %s", n.Type, n.Title))
		sb.WriteString(fmt.Sprintf("%s %s", ts, title))
		if n.Suppressed != "" {
			sb.WriteString(" " + drainingBadge.Render("("+n.Suppressed+")"))
		}
		sb.WriteString("\n")
		if n.Body != "" {
			sb.WriteString(noteBody.Render(n.Body))
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func ago(t time.Time) string {
	d := time.Since(t)
	if d < time.Minute {
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
	return fmt.Sprintf("%dd ago", int(d.Hours())/24)
}

// shortTTL renders a millisecond TTL in the largest sensible unit.
func shortTTL(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	switch {
	case d >= 24*time.Hour:
		return fmt.Sprintf("%dd", int(d.Hours())/24)
	case d >= time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	case d >= time.Minute:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
}

func main() {
	apiURL := flag.String("api", "http://127.0.0.1:8788", "syncbox control API URL")
	flag.Parse()

	model := newModel(strings.TrimRight(*apiURL, "/"))
	program := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
