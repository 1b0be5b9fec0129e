package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"mediadex/pkg/models"
	"mediadex/pkg/syncer"
)

// Message types for the TUI

// StatusMsg carries one engine status into the model.
type StatusMsg syncer.Status

// ItemsMsg carries a flushed batch of discovered items.
type ItemsMsg []models.CatalogItem

// LogMsg adds a line to the activity panel.
type LogMsg struct {
	Level   string
	Message string
}

// TickMsg drives the elapsed clock between statuses.
type TickMsg time.Time

// Update handles all messages and updates the model
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if w := (msg.Width-8)/2 - 8; w > 10 {
			m.flushBar.Width = w
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case TickMsg:
		// Regular UI update tick
		return m, tea.Batch(
			tickCmd(),
			m.spinner.Tick,
		)

	case StatusMsg:
		m.ApplyStatus(syncer.Status(msg))
		return m, nil

	case ItemsMsg:
		m.AddItems([]models.CatalogItem(msg))
		return m, nil

	case LogMsg:
		m.AddLogMessage(msg.Level, msg.Message)
		return m, nil
	}

	return m, nil
}

// handleKeyPress handles keyboard input
func (m *Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "Q", "ctrl+c":
		return m, tea.Quit

	case "?":
		m.showHelp = !m.showHelp
		return m, nil

	case "ctrl+l":
		// Clear the activity log
		m.mu.Lock()
		m.logMessages = []LogMessage{}
		m.mu.Unlock()
		return m, nil
	}

	return m, nil
}

// Commands

// tickCmd returns a command that sends a tick message
func tickCmd() tea.Cmd {
	return tea.Tick(time.Millisecond*100, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}
