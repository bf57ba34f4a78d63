package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/five82/hackops/internal/cache"
	"github.com/five82/hackops/internal/outbox"
)

// renderMain renders the full dashboard.
func (m Model) renderMain() string {
	styles := m.theme.Styles()
	var sections []string
	sections = append(sections, m.renderHeader(styles))
	if line := m.renderStatusLine(styles); line != "" {
		sections = append(sections, line)
	}
	sections = append(sections, m.renderTabs(styles))

	logHeight := 0
	if m.showLog {
		logHeight = maxInt(3, m.height/4)
	}
	used := len(sections) + 1 // footer
	if logHeight > 0 {
		used += logHeight + 1
	}
	bodyHeight := maxInt(1, m.height-used)

	sections = append(sections, m.renderPane(styles, bodyHeight))
	if logHeight > 0 {
		sections = append(sections, m.renderLogStrip(styles, logHeight))
	}
	sections = append(sections, styles.Footer.Width(m.width).Render(m.help.View(m.keys)))
	return strings.Join(sections, "\n")
}

// renderHeader shows connectivity, the signed-in user and activity.
func (m Model) renderHeader(styles Styles) string {
	snap := m.snapshot
	parts := []string{styles.Title.Render("HackOps")}

	switch {
	case snap.Forced:
		parts = append(parts, styles.StatusStyle("forced").Render("OFFLINE (forced)"))
	case snap.Online:
		parts = append(parts, styles.StatusStyle("online").Render("ONLINE"))
	default:
		parts = append(parts, styles.StatusStyle("offline").Render("OFFLINE"))
	}

	if s := snap.Session; s != nil {
		name := s.DisplayName
		if name == "" {
			name = s.ID
		}
		parts = append(parts, styles.Text.Render(fmt.Sprintf("%s (%s)", name, s.Role)))
	} else {
		parts = append(parts, styles.MutedText.Render("signed out"))
	}

	if m.activity() {
		parts = append(parts, m.spinner.View()+styles.MutedText.Render(m.activityLabel()))
	}
	if n := len(snap.Pending); n > 0 {
		parts = append(parts, styles.InfoText.Render(fmt.Sprintf("%d queued", n)))
	}
	if n := len(snap.Dead); n > 0 {
		parts = append(parts, styles.DangerText.Render(fmt.Sprintf("%d dead", n)))
	}
	if snap.Conflicts > 0 {
		parts = append(parts, styles.WarningText.Render(fmt.Sprintf("%d conflicts", snap.Conflicts)))
	}
	if !snap.LastRefresh.IsZero() {
		parts = append(parts, styles.FaintText.Render("refreshed "+ago(time.Now(), snap.LastRefresh)))
	}
	return styles.Header.Width(m.width).Render(strings.Join(parts, "  "))
}

func (m Model) activity() bool {
	s := m.snapshot
	return s.Loading || s.Refreshing || s.Draining || m.busy > 0
}

func (m Model) activityLabel() string {
	s := m.snapshot
	switch {
	case s.Draining:
		return " replaying"
	case s.Refreshing:
		return " refreshing"
	case s.Loading:
		return fmt.Sprintf(" loading (%d)", s.InFlight)
	default:
		return " working"
	}
}

// renderStatusLine shows the most recent error, or the last action result.
func (m Model) renderStatusLine(styles Styles) string {
	snap := m.snapshot
	switch {
	case snap.LastError != "":
		return styles.DangerText.Render(truncate("error: "+snap.LastError, m.width))
	case snap.RefreshError != "":
		return styles.WarningText.Render(truncate("refresh: "+snap.RefreshError, m.width))
	case m.status != "":
		return styles.MutedText.Render(truncate(m.status, m.width))
	}
	return ""
}

func (m Model) renderTabs(styles Styles) string {
	tabs := make([]string, 0, len(paneNames))
	for i, name := range paneNames {
		label := strings.ToUpper(name[:1]) + name[1:]
		if Pane(i) == PaneOutbox {
			if n := len(m.snapshot.Pending) + len(m.snapshot.Dead); n > 0 {
				label = fmt.Sprintf("%s (%d)", label, n)
			}
		}
		if Pane(i) == m.pane {
			tabs = append(tabs, styles.Selected.Bold(true).Padding(0, 1).Render(label))
		} else {
			tabs = append(tabs, styles.MutedText.Padding(0, 1).Render(label))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
}

func (m Model) renderPane(styles Styles, height int) string {
	var lines []string
	switch m.pane {
	case PaneCaches:
		lines = m.cacheLines(styles)
	case PaneOutbox:
		lines = m.outboxLines(styles)
	case PaneSupport:
		lines = m.supportLines(styles)
	case PaneNotices:
		lines = m.noticeLines(styles)
	}
	return strings.Join(window(lines, m.selected[m.pane]+1, height), "\n")
}

// window keeps at most height lines, scrolled so that line focus (counting
// the header at 0) stays visible.
func window(lines []string, focus, height int) []string {
	if len(lines) <= height || height <= 1 {
		if height > 0 && len(lines) > height {
			return lines[:height]
		}
		return lines
	}
	start := 1
	if focus >= height {
		start = focus - height + 2
	}
	end := minInt(len(lines), start+height-1)
	return append([]string{lines[0]}, lines[start:end]...)
}

func (m Model) row(styles Styles, pane Pane, i int, text string) string {
	if pane == m.pane && i == m.selected[pane] {
		return styles.Selected.Width(m.width).Render(text)
	}
	return styles.Text.Render(text)
}

func (m Model) cacheLines(styles Styles) []string {
	now := time.Now()
	lines := []string{styles.MutedText.Render(fmt.Sprintf("%-18s %6s %8s  %-8s %s", "CACHE", "ITEMS", "VERSION", "STATE", "UPDATED"))}
	for i, st := range m.snapshot.Caches {
		stateName := cacheState(st)
		text := fmt.Sprintf("%-18s %6d %8d  ", st.Kind, st.Count, st.Version)
		badge := styles.StatusStyle(stateName).Render(padRight(stateName, 6))
		tail := " " + ago(now, st.UpdatedAt)
		if st.Stale != "" {
			tail += "  " + truncate(st.Stale, maxInt(10, m.width-60))
		}
		lines = append(lines, m.row(styles, PaneCaches, i, text)+badge+styles.MutedText.Render(tail))
	}
	if m.snapshot.HasSettings {
		set := m.snapshot.Settings
		lines = append(lines, "",
			styles.AccentText.Render("Event ")+styles.Text.Render(set.EventName),
			styles.MutedText.Render(fmt.Sprintf("registration %s · attendance %s · snacks round %d",
				ternary(set.RegistrationOpen, "open", "closed"), orDash(set.AttendanceMode), set.SnacksRound)))
		if set.Announcement != "" {
			lines = append(lines, styles.InfoText.Render(truncate(set.Announcement, m.width)))
		}
	}
	return lines
}

func cacheState(st cache.Status) string {
	switch {
	case st.Stale != "":
		return "stale"
	case st.Loaded:
		return "loaded"
	default:
		return "empty"
	}
}

func (m Model) outboxLines(styles Styles) []string {
	rows := m.outboxRows()
	if len(rows) == 0 {
		return []string{styles.MutedText.Render("No queued writes.")}
	}
	now := time.Now()
	lines := []string{styles.MutedText.Render(fmt.Sprintf("%-8s %-32s %8s %6s  %s", "STATUS", "WRITE", "ATTEMPTS", "AGE", "LAST ERROR"))}
	for i, e := range rows {
		badge := styles.StatusStyle(string(e.Status)).Render(padRight(string(e.Status), 6))
		text := fmt.Sprintf(" %-32s %8s %6s  %s",
			truncate(e.Label, 32), attempts(e), ago(now, e.CreatedAt), truncate(e.LastError, maxInt(10, m.width-62)))
		lines = append(lines, badge+m.row(styles, PaneOutbox, i, text))
	}
	return lines
}

func attempts(e outbox.Entry) string {
	return fmt.Sprintf("%d/%d", e.Attempts, e.MaxAttempts)
}

func (m Model) supportLines(styles Styles) []string {
	reqs := m.snapshot.SupportRequests
	if len(reqs) == 0 {
		return []string{styles.MutedText.Render("No support requests.")}
	}
	now := time.Now()
	lines := []string{styles.MutedText.Render(fmt.Sprintf("%-10s %-10s %-12s %5s %-10s %s", "ID", "LAB", "CATEGORY", "AGE", "STATUS", "MESSAGE"))}
	for i, r := range reqs {
		text := fmt.Sprintf("%-10s %-10s %-12s %5s ", truncate(r.ID, 10), truncate(orDash(r.Lab), 10),
			truncate(orDash(r.Category), 12), ago(now, r.ParsedCreatedAt()))
		badge := styles.StatusStyle(r.Status).Render(padRight(orDash(r.Status), 8))
		msg := " " + truncate(r.Message, maxInt(10, m.width-54))
		lines = append(lines, m.row(styles, PaneSupport, i, text)+badge+styles.Text.Render(msg))
	}
	return lines
}

func (m Model) noticeLines(styles Styles) []string {
	notices := m.snapshot.Notices
	if len(notices) == 0 {
		return []string{styles.MutedText.Render("No notices.")}
	}
	lines := []string{styles.MutedText.Render("Newest first")}
	for i := len(notices) - 1; i >= 0; i-- {
		n := notices[i]
		text := n.At.Format("15:04:05") + "  " + truncate(n.Message, maxInt(10, m.width-12))
		lines = append(lines, m.row(styles, PaneNotices, len(notices)-1-i, text))
	}
	return lines
}

// renderLogStrip shows the tail of the client log, colored by level.
func (m Model) renderLogStrip(styles Styles, height int) string {
	rule := styles.FaintText.Render(strings.Repeat("─", maxInt(1, m.width)))
	if m.logErr != "" {
		return rule + "\n" + styles.DangerText.Render(truncate(m.logErr, m.width))
	}
	entries := m.logEntries
	if len(entries) > height {
		entries = entries[len(entries)-height:]
	}
	lines := make([]string, 0, len(entries)+1)
	lines = append(lines, rule)
	for _, e := range entries {
		if e.Level == "" {
			lines = append(lines, styles.MutedText.Render(truncate(e.Raw, m.width)))
			continue
		}
		var fields []string
		for _, f := range e.Fields {
			fields = append(fields, f.Key+"="+f.Value)
		}
		level := styles.StatusStyle(e.Level).Render(padRight(strings.ToUpper(e.Level), 5))
		text := " " + e.Message
		if len(fields) > 0 {
			text += "  " + strings.Join(fields, " ")
		}
		lines = append(lines, level+styles.Text.Render(truncate(text, maxInt(10, m.width-8))))
	}
	return strings.Join(lines, "\n")
}

// renderHelp renders the help overlay.
func (m Model) renderHelp() string {
	styles := m.theme.Styles()

	full := m.help
	full.ShowAll = true
	full.Width = 0

	var b strings.Builder
	b.WriteString(styles.Text.Bold(true).Render("Keyboard Shortcuts"))
	b.WriteString("\n")
	b.WriteString(styles.FaintText.Render(strings.Repeat("─", 30)))
	b.WriteString("\n\n")
	b.WriteString(full.View(m.keys))
	b.WriteString("\n\n")
	b.WriteString(styles.MutedText.Render("Theme: " + m.theme.Name))

	modal := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(m.theme.Accent)).
		Padding(1, 2)

	return lipgloss.Place(
		m.width,
		m.height,
		lipgloss.Center,
		lipgloss.Center,
		modal.Render(b.String()),
		lipgloss.WithWhitespaceChars(" "),
		lipgloss.WithWhitespaceForeground(lipgloss.Color(m.theme.Background)),
	)
}

func orDash(s string) string {
	return ternary(strings.TrimSpace(s) == "", "-", s)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
