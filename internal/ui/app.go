package ui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/five82/hackops/internal/api"
	"github.com/five82/hackops/internal/logtail"
	"github.com/five82/hackops/internal/outbox"
	"github.com/five82/hackops/internal/prefs"
	"github.com/five82/hackops/internal/state"
)

// logStripLines is how many log lines are read for the log strip.
const logStripLines = 200

// Backend is the sync context the dashboard drives. *state.Store satisfies it.
type Backend interface {
	Snapshot() state.Snapshot
	Refresh(ctx context.Context) error
	DrainOutbox(ctx context.Context) (outbox.DrainReport, error)
	RequeueDead(ctx context.Context, id string) error
	SetSupportStatus(ctx context.Context, id, status string) (state.Result, error)
	SetForcedOffline(forced bool)
}

// Pane is one of the switchable content areas.
type Pane int

const (
	PaneCaches Pane = iota
	PaneOutbox
	PaneSupport
	PaneNotices
)

var paneNames = [...]string{"caches", "outbox", "support", "notices"}

func (p Pane) String() string {
	if p < 0 || int(p) >= len(paneNames) {
		return paneNames[0]
	}
	return paneNames[p]
}

// paneFromName maps a saved pane name back to a Pane.
func paneFromName(name string) Pane {
	for i, n := range paneNames {
		if n == name {
			return Pane(i)
		}
	}
	return PaneCaches
}

// Options configures the UI.
type Options struct {
	Context   context.Context
	Store     Backend
	PollTick  time.Duration
	Prefs     prefs.Prefs
	PrefsPath string
	LogPath   string
}

// Model is the root application state for Bubble Tea.
type Model struct {
	// Configuration
	ctx       context.Context
	store     Backend
	prefsPath string
	logPath   string
	pollTick  time.Duration

	// UI state
	keys     keyMap
	help     help.Model
	spinner  spinner.Model
	theme    Theme
	pane     Pane
	showLog  bool
	showHelp bool
	width    int
	height   int
	ready    bool
	selected [len(paneNames)]int

	// Data state
	snapshot    state.Snapshot
	lastUpdated time.Time
	logEntries  []logtail.Entry
	logErr      string
	status      string
	busy        int
}

// New creates a new Bubble Tea model.
func New(opts Options) Model {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	pollTick := opts.PollTick
	if pollTick <= 0 {
		pollTick = time.Second
	}
	p := opts.Prefs
	if p.Theme == "" {
		p = prefs.Defaults()
	}
	theme := GetTheme(p.Theme)

	spin := spinner.New(spinner.WithSpinner(spinner.Dot))
	spin.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(theme.Accent))

	return Model{
		ctx:       ctx,
		store:     opts.Store,
		prefsPath: opts.PrefsPath,
		logPath:   opts.LogPath,
		pollTick:  pollTick,
		keys:      DefaultKeyMap(),
		help:      help.New(),
		spinner:   spin,
		theme:     theme,
		pane:      paneFromName(p.Pane),
		showLog:   p.ShowLog,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{
		tea.EnterAltScreen,
		tickCmd(m.pollTick),
		m.spinner.Tick,
	}
	if m.store != nil {
		cmds = append(cmds, fetchSnapshotCmd(m.store))
	}
	if m.showLog {
		cmds = append(cmds, readLogCmd(m.logPath))
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.ready = true
		return m, nil

	case tickMsg:
		return m.handleTick()

	case snapshotMsg:
		m.snapshot = state.Snapshot(msg)
		m.lastUpdated = time.Now()
		m.clampSelection()
		return m, nil

	case logMsg:
		m.logEntries = msg.entries
		m.logErr = ""
		if msg.err != nil {
			m.logErr = msg.err.Error()
		}
		return m, nil

	case actionMsg:
		if m.busy > 0 {
			m.busy--
		}
		m.status = msg.text()
		if m.store != nil {
			return m, fetchSnapshotCmd(m.store)
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	if m.showHelp {
		return m.renderHelp()
	}
	return m.renderMain()
}

// handleKey processes keyboard input.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.showHelp {
		// Any key closes help
		m.showHelp = false
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.showHelp = true
		return m, nil

	case key.Matches(msg, m.keys.CycleTheme):
		m.theme = GetTheme(NextTheme(m.theme.Name))
		m.spinner.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(m.theme.Accent))
		m.savePrefs()
		return m, nil

	case key.Matches(msg, m.keys.Tab):
		m.pane = Pane((int(m.pane) + 1) % len(paneNames))
		m.savePrefs()
		return m, nil

	case key.Matches(msg, m.keys.ShiftTab):
		m.pane = Pane((int(m.pane) + len(paneNames) - 1) % len(paneNames))
		m.savePrefs()
		return m, nil

	case key.Matches(msg, m.keys.ToggleLog):
		m.showLog = !m.showLog
		m.savePrefs()
		if m.showLog {
			return m, readLogCmd(m.logPath)
		}
		return m, nil

	case key.Matches(msg, m.keys.Refresh):
		return m.startAction("refresh", func(ctx context.Context, b Backend) (string, error) {
			return "refreshed", b.Refresh(ctx)
		})

	case key.Matches(msg, m.keys.Drain):
		return m.startAction("replay", drainAction)

	case key.Matches(msg, m.keys.ToggleOffline):
		if m.store == nil {
			return m, nil
		}
		forced := !m.snapshot.Forced
		m.store.SetForcedOffline(forced)
		m.snapshot.Forced = forced
		m.status = ternary(forced, "forced offline", "offline override released")
		return m, fetchSnapshotCmd(m.store)

	case key.Matches(msg, m.keys.Requeue):
		return m.requeueSelected()

	case key.Matches(msg, m.keys.Resolve):
		return m.resolveSelected()

	case key.Matches(msg, m.keys.Up):
		m.moveSelection(-1)
	case key.Matches(msg, m.keys.Down):
		m.moveSelection(1)
	case key.Matches(msg, m.keys.Top):
		m.selected[m.pane] = 0
	case key.Matches(msg, m.keys.Bottom):
		m.selected[m.pane] = clamp(m.rowCount(m.pane)-1, m.rowCount(m.pane))
	}

	return m, nil
}

// handleTick processes the polling tick.
func (m Model) handleTick() (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	if m.store != nil {
		cmds = append(cmds, fetchSnapshotCmd(m.store))
	}
	if m.showLog {
		cmds = append(cmds, readLogCmd(m.logPath))
	}
	cmds = append(cmds, tickCmd(m.pollTick))
	return m, tea.Batch(cmds...)
}

func (m Model) startAction(label string, run func(context.Context, Backend) (string, error)) (tea.Model, tea.Cmd) {
	if m.store == nil {
		return m, nil
	}
	m.busy++
	m.status = label + "..."
	ctx, store := m.ctx, m.store
	return m, func() tea.Msg {
		text, err := run(ctx, store)
		return actionMsg{label: label, result: text, err: err}
	}
}

func drainAction(ctx context.Context, b Backend) (string, error) {
	report, err := b.DrainOutbox(ctx)
	if err != nil {
		return "", err
	}
	if report.Skipped {
		return "replay already running", nil
	}
	return fmt.Sprintf("replayed %d, failed %d, dead %d, remaining %d",
		report.Replayed, report.Failed, report.DeadLettered, report.Remaining), nil
}

func (m Model) requeueSelected() (tea.Model, tea.Cmd) {
	if m.pane != PaneOutbox {
		return m, nil
	}
	entries := m.outboxRows()
	if len(entries) == 0 {
		return m, nil
	}
	e := entries[clamp(m.selected[PaneOutbox], len(entries))]
	if e.Status != outbox.StatusDead {
		m.status = "only dead writes can be requeued"
		return m, nil
	}
	id := e.ID
	return m.startAction("requeue", func(ctx context.Context, b Backend) (string, error) {
		return "requeued " + e.Label, b.RequeueDead(ctx, id)
	})
}

func (m Model) resolveSelected() (tea.Model, tea.Cmd) {
	if m.pane != PaneSupport {
		return m, nil
	}
	reqs := m.snapshot.SupportRequests
	if len(reqs) == 0 {
		return m, nil
	}
	r := reqs[clamp(m.selected[PaneSupport], len(reqs))]
	if r.Status == api.SupportResolved {
		m.status = "already resolved"
		return m, nil
	}
	id := r.ID
	return m.startAction("resolve", func(ctx context.Context, b Backend) (string, error) {
		res, err := b.SetSupportStatus(ctx, id, api.SupportResolved)
		return fmt.Sprintf("resolve %s: %s", id, res.Outcome), err
	})
}

func (m *Model) moveSelection(delta int) {
	n := m.rowCount(m.pane)
	m.selected[m.pane] = clamp(m.selected[m.pane]+delta, n)
}

func (m *Model) clampSelection() {
	for i := range m.selected {
		m.selected[i] = clamp(m.selected[i], m.rowCount(Pane(i)))
	}
}

func (m Model) rowCount(p Pane) int {
	switch p {
	case PaneCaches:
		return len(m.snapshot.Caches)
	case PaneOutbox:
		return len(m.snapshot.Pending) + len(m.snapshot.Dead)
	case PaneSupport:
		return len(m.snapshot.SupportRequests)
	case PaneNotices:
		return len(m.snapshot.Notices)
	}
	return 0
}

// outboxRows lists pending writes in replay order, then dead letters.
func (m Model) outboxRows() []outbox.Entry {
	rows := make([]outbox.Entry, 0, len(m.snapshot.Pending)+len(m.snapshot.Dead))
	rows = append(rows, m.snapshot.Pending...)
	return append(rows, m.snapshot.Dead...)
}

// savePrefs persists theme, pane and log strip choices. Failures only show
// in the status line.
func (m *Model) savePrefs() {
	if m.prefsPath == "" {
		return
	}
	p := prefs.Prefs{Theme: m.theme.Name, Pane: m.pane.String(), ShowLog: m.showLog}
	if err := prefs.Save(m.prefsPath, p); err != nil {
		m.status = "could not save preferences: " + err.Error()
	}
}

// Messages

type tickMsg time.Time

type snapshotMsg state.Snapshot

type logMsg struct {
	entries []logtail.Entry
	err     error
}

type actionMsg struct {
	label  string
	result string
	err    error
}

func (a actionMsg) text() string {
	if a.err != nil {
		return fmt.Sprintf("%s failed: %v", a.label, a.err)
	}
	if a.result == "" {
		return a.label + " done"
	}
	return a.result
}

// Commands

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetchSnapshotCmd(store Backend) tea.Cmd {
	return func() tea.Msg {
		return snapshotMsg(store.Snapshot())
	}
}

func readLogCmd(path string) tea.Cmd {
	return func() tea.Msg {
		if path == "" {
			return logMsg{}
		}
		lines, err := logtail.Read(path, logStripLines)
		if err != nil {
			return logMsg{err: err}
		}
		entries := make([]logtail.Entry, 0, len(lines))
		for _, line := range lines {
			entries = append(entries, logtail.Parse(line))
		}
		return logMsg{entries: entries}
	}
}

// Run starts the Bubble Tea program and blocks until it exits or the
// context is cancelled.
func Run(opts Options) error {
	m := New(opts)
	teaOpts := []tea.ProgramOption{tea.WithAltScreen()}
	if opts.Context != nil {
		teaOpts = append(teaOpts, tea.WithContext(opts.Context))
	}
	p := tea.NewProgram(m, teaOpts...)
	_, err := p.Run()
	if err != nil && opts.Context != nil && opts.Context.Err() != nil {
		return nil
	}
	return err
}
