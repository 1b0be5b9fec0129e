package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"mediadex/pkg/models"
	"mediadex/pkg/syncer"
)

// TUI wraps a bubbletea program around one run's Model. Commands forward
// engine statuses and flushed batches through it from their own
// goroutines; bubbletea serializes delivery into the model.
type TUI struct {
	program *tea.Program
	model   *Model
}

// New creates a full-screen TUI for one run. verb is the word shown
// while the run is active, "syncing" or "watching".
func New(source, verb string) *TUI {
	model := NewModel(source, verb)
	program := tea.NewProgram(&model, tea.WithAltScreen())

	return &TUI{
		program: program,
		model:   &model,
	}
}

// Run blocks until the user quits or Quit is called.
func (t *TUI) Run() error {
	go func() {
		// Send initial tick to start the elapsed clock
		time.Sleep(100 * time.Millisecond)
		t.send(TickMsg(time.Now()))
	}()

	_, err := t.program.Run()
	return err
}

// Quit tears the screen down without waiting for a keypress.
func (t *TUI) Quit() {
	if t.program != nil {
		t.program.Quit()
	}
}

// Observe forwards an engine status to the view.
func (t *TUI) Observe(st syncer.Status) {
	t.send(StatusMsg(st))
}

// Discovered forwards a flushed batch to the discovery feed.
func (t *TUI) Discovered(items []models.CatalogItem) {
	if len(items) == 0 {
		return
	}

	copied := make([]models.CatalogItem, len(items))
	copy(copied, items)
	t.send(ItemsMsg(copied))
}

// Done reports whether the run behind the screen has finished.
func (t *TUI) Done() bool {
	return t.model.Done()
}

// send delivers a message to the program if one is running
func (t *TUI) send(msg tea.Msg) {
	if t.program != nil {
		t.program.Send(msg)
	}
}

// Log sends a formatted line to the activity panel
func (t *TUI) Log(level, format string, args ...interface{}) {
	t.send(LogMsg{Level: level, Message: fmt.Sprintf(format, args...)})
}

// LogInfo logs an info message
func (t *TUI) LogInfo(format string, args ...interface{}) {
	t.Log("INFO", format, args...)
}

// LogSuccess logs a success message
func (t *TUI) LogSuccess(format string, args ...interface{}) {
	t.Log("SUCCESS", format, args...)
}

// LogWarning logs a warning message
func (t *TUI) LogWarning(format string, args ...interface{}) {
	t.Log("WARN", format, args...)
}

// LogError logs an error message
func (t *TUI) LogError(format string, args ...interface{}) {
	t.Log("ERROR", format, args...)
}
