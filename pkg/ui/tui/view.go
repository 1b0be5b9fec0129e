package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"mediadex/pkg/models"
	"mediadex/pkg/syncer"
)

// View renders the entire TUI
func (m *Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	// Build the UI layout
	var sections []string

	// Logo
	sections = append(sections, m.renderLogo())

	// Main content area with two columns
	leftColumn := m.renderLeftColumn()
	rightColumn := m.renderRightColumn()

	mainContent := lipgloss.JoinHorizontal(
		lipgloss.Top,
		leftColumn,
		"  ", // spacing
		rightColumn,
	)
	sections = append(sections, mainContent)

	// Help
	if m.showHelp {
		sections = append(sections, m.renderHelp())
	} else {
		sections = append(sections, helpStyle.Render("Press ? for help"))
	}

	// Join all sections vertically
	return baseStyle.Width(m.width).Height(m.height).Render(
		lipgloss.JoinVertical(lipgloss.Left, sections...),
	)
}

// renderLogo renders the banner
func (m *Model) renderLogo() string {
	logo := `
███╗   ███╗███████╗██████╗ ██╗ █████╗ ██████╗ ███████╗██╗  ██╗
████╗ ████║██╔════╝██╔══██╗██║██╔══██╗██╔══██╗██╔════╝╚██╗██╔╝
██╔████╔██║█████╗  ██║  ██║██║███████║██║  ██║█████╗   ╚███╔╝
██║╚██╔╝██║██╔══╝  ██║  ██║██║██╔══██║██║  ██║██╔══╝   ██╔██╗
██║ ╚═╝ ██║███████╗██████╔╝██║██║  ██║██████╔╝███████╗██╔╝ ██╗
╚═╝     ╚═╝╚══════╝╚═════╝ ╚═╝╚═╝  ╚═╝╚═════╝ ╚══════╝╚═╝  ╚═╝
                  LOCAL CATALOG SYNC ENGINE`

	return logoStyle.Width(m.width).Render(logo)
}

// renderLeftColumn renders the left side of the UI
func (m *Model) renderLeftColumn() string {
	width := (m.width - 4) / 2

	var sections []string

	// Stats panel
	sections = append(sections, m.renderStatsPanel(width))

	// Discovery feed panel
	sections = append(sections, m.renderDiscoveriesPanel(width))

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// renderRightColumn renders the right side of the UI
func (m *Model) renderRightColumn() string {
	width := (m.width - 4) / 2

	var sections []string

	// Run identity panel
	sections = append(sections, m.renderRunPanel(width))

	// Activity panel
	sections = append(sections, m.renderActivityPanel(width))

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// renderStatsPanel renders the sync counters and flush bar
func (m *Model) renderStatsPanel(width int) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	title := titleStyle.Render(" SYNC STATS ")

	elapsed := m.runTime
	if !m.done {
		elapsed = time.Since(m.runStart)
	}

	rate := 0.0
	if mins := elapsed.Minutes(); mins > 0 {
		rate = float64(m.discovered) / mins
	}

	stats := []string{
		fmt.Sprintf("%s %s", statsLabelStyle.Render("State:"), m.renderState()),
		fmt.Sprintf("%s %s", statsLabelStyle.Render("Discovered:"), statsValueStyle.Render(fmt.Sprintf("%d items", m.discovered))),
		fmt.Sprintf("%s %s", statsLabelStyle.Render("Stored:"), statsValueStyle.Render(fmt.Sprintf("%d items", m.persisted))),
		fmt.Sprintf("%s %s", statsLabelStyle.Render("Rate:"), rateStyle.Render(FormatRate(rate))),
		fmt.Sprintf("%s %s", statsLabelStyle.Render("Elapsed:"), statsValueStyle.Render(formatDuration(elapsed))),
	}

	if m.message != "" {
		stats = append(stats, errorStyle.Render(truncate(m.message, width-6)))
	}

	// Flush bar shows stored as a share of discovered
	ratio := 0.0
	if m.discovered > 0 {
		ratio = float64(m.persisted) / float64(m.discovered)
		if ratio > 1 {
			ratio = 1
		}
	}
	stats = append(stats, "", m.flushBar.ViewAs(ratio))

	content := lipgloss.JoinVertical(lipgloss.Left, stats...)

	return panelStyle.Width(width).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, content),
	)
}

// renderState renders the run state with a spinner while active.
// Caller holds the lock.
func (m *Model) renderState() string {
	switch m.state {
	case "":
		return m.spinner.View() + " " + statsValueStyle.Render("waiting")
	case syncer.StateStarted, syncer.StateInProgress:
		return m.spinner.View() + " " + statsValueStyle.Render(m.verb)
	case syncer.StateCompleted:
		return successStyle.Render("✓ completed")
	case syncer.StateCancelled:
		return warningStyle.Render("✗ cancelled")
	case syncer.StateError:
		return errorStyle.Render("✗ " + m.reason)
	}
	return statsValueStyle.Render(string(m.state))
}

// renderDiscoveriesPanel renders the newest items the scan has flushed
func (m *Model) renderDiscoveriesPanel(width int) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	title := titleStyle.Render(" RECENT DISCOVERIES ")

	if len(m.recent) == 0 {
		content := lipgloss.NewStyle().Foreground(dimWhite).Render("Nothing discovered yet")
		return panelStyle.Width(width).Render(
			lipgloss.JoinVertical(lipgloss.Left, title, content),
		)
	}

	var rows []string
	for _, item := range m.recent {
		rows = append(rows, renderItem(item, width-8))
	}

	content := lipgloss.JoinVertical(lipgloss.Left, rows...)

	return panelStyle.Width(width).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, content),
	)
}

// renderItem renders one discovery feed row
func renderItem(item models.CatalogItem, width int) string {
	icon := "•"
	if item.HasMedia() {
		icon = "▸"
	}

	label := item.Title
	if label == "" {
		label = item.ID
	}

	line := fmt.Sprintf("%s %s", icon, truncate(label, width-12))
	if item.SizeBytes > 0 {
		line += " " + FormatBytes(item.SizeBytes)
	}

	return itemStyle.Render(line)
}

// renderRunPanel renders the run identity
func (m *Model) renderRunPanel(width int) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	title := titleStyle.Render(" RUN ")

	source := m.source
	if m.accountID != "" {
		source += " / " + m.accountID
	}

	rows := []string{
		fmt.Sprintf("%s %s", statsLabelStyle.Render("Source:"), statsValueStyle.Render(source)),
		fmt.Sprintf("%s %s", statsLabelStyle.Render("Run ID:"), statsValueStyle.Render(shortID(m.runID))),
		fmt.Sprintf("%s %s", statsLabelStyle.Render("Mode:"), statsValueStyle.Render(m.verb)),
	}

	content := lipgloss.JoinVertical(lipgloss.Left, rows...)

	return panelStyle.Width(width).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, content),
	)
}

// renderActivityPanel renders the activity log
func (m *Model) renderActivityPanel(width int) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	title := titleStyle.Render(" ACTIVITY ")

	// Get recent entries
	start := len(m.logMessages) - 10
	if start < 0 {
		start = 0
	}

	var logs []string
	for i := start; i < len(m.logMessages); i++ {
		log := m.logMessages[i]
		timestamp := logTimestampStyle.Render(log.Time.Format("15:04:05"))
		level := lipgloss.NewStyle().Foreground(log.Color).Bold(true).Render(fmt.Sprintf("[%-7s]", log.Level))
		message := logMessageStyle.Render(truncate(log.Message, width-24))

		logs = append(logs, fmt.Sprintf("%s %s %s", timestamp, level, message))
	}

	content := strings.Join(logs, "\n")
	if content == "" {
		content = lipgloss.NewStyle().Foreground(dimWhite).Render("No activity yet...")
	}

	// Fill the remaining vertical space
	logsHeight := m.height - 30
	if logsHeight < 5 {
		logsHeight = 5
	}

	return panelStyle.Width(width).Height(logsHeight).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, content),
	)
}

// renderHelp renders the help panel
func (m *Model) renderHelp() string {
	help := `
  Navigation:
    q/Q      - Quit the screen (a running sync is cancelled)
    ctrl+l   - Clear the activity log
    ?        - Toggle this help

  Status Indicators:
    ` + successStyle.Render("Green") + `    - Completed/Healthy
    ` + warningStyle.Render("Orange") + `   - Cancelled/Warning
    ` + errorStyle.Render("Red") + `      - Error/Critical

  Icons:
    ▸        - Item with playable media
    •        - Metadata-only item
    ✓        - Run completed
`

	return panelStyle.Width(m.width).Render(help)
}

// shortID trims a run id down to its leading segment for display
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	if id == "" {
		return "-"
	}
	return id
}

// truncate shortens s to at most n runes
func truncate(s string, n int) string {
	if n <= 3 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if d < 0 {
		return "00:00"
	}

	h := int(d.Hours())
	mins := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60

	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, mins, s)
	}
	return fmt.Sprintf("%02d:%02d", mins, s)
}
