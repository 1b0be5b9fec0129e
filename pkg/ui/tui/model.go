package tui

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"mediadex/pkg/models"
	"mediadex/pkg/syncer"
)

// LogMessage is one entry in the activity panel.
type LogMessage struct {
	Time    time.Time
	Level   string
	Message string
	Color   lipgloss.Color
}

// Model is the bubbletea model for a single sync or watch run. Engine
// statuses and flushed item batches arrive as messages from the command
// goroutine; everything else is presentation state.
type Model struct {
	// UI components
	spinner  spinner.Model
	flushBar progress.Model

	// Run identity
	source    string
	accountID string
	runID     string
	verb      string

	// Run state
	state      syncer.SyncState
	reason     string
	message    string
	discovered int64
	persisted  int64
	totalItems int64
	runStart   time.Time
	runTime    time.Duration
	done       bool

	// Discovery feed, newest first
	recent    []models.CatalogItem
	maxRecent int

	// Activity log
	logMessages    []LogMessage
	maxLogMessages int

	// UI state
	width    int
	height   int
	showHelp bool

	// Mutex for thread safety
	mu sync.RWMutex
}

// NewModel creates a model for one run. verb is the word shown while the
// run is active, "syncing" or "watching".
func NewModel(source, verb string) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(neonCyan)

	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = 40

	return Model{
		spinner:        s,
		flushBar:       bar,
		source:         source,
		verb:           verb,
		runStart:       time.Now(),
		maxRecent:      8,
		logMessages:    []LogMessage{},
		maxLogMessages: 50,
	}
}

// Init initializes the model
func (m *Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// ApplyStatus folds one engine status into the view state.
func (m *Model) ApplyStatus(st syncer.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = st.State
	if st.Source != "" {
		m.source = string(st.Source)
	}
	if st.AccountID != "" {
		m.accountID = st.AccountID
	}
	if st.RunID != "" {
		m.runID = st.RunID
	}

	switch st.State {
	case syncer.StateStarted:
		// A command can feed several runs through one screen, one per
		// content type, so a fresh start wipes the previous run's state.
		m.runStart = time.Now()
		m.runTime = 0
		m.discovered = 0
		m.persisted = 0
		m.totalItems = 0
		m.reason = ""
		m.message = ""
		m.done = false
		m.addLog("INFO", "run started")

	case syncer.StateInProgress:
		m.discovered = st.Discovered
		m.persisted = st.Persisted

	case syncer.StateCompleted:
		m.discovered = st.Discovered
		m.persisted = st.Persisted
		m.totalItems = st.TotalItems
		m.runTime = time.Duration(st.DurationMs) * time.Millisecond
		m.done = true
		if st.Discovered == 0 && st.TotalItems > 0 {
			m.addLog("SUCCESS", fmt.Sprintf("up to date, %d items in catalog", st.TotalItems))
		} else {
			m.addLog("SUCCESS", fmt.Sprintf("completed: %d items in %s", st.TotalItems, formatDuration(m.runTime)))
		}

	case syncer.StateCancelled:
		m.persisted = st.ItemsPersisted
		m.runTime = time.Since(m.runStart)
		m.done = true
		m.addLog("WARN", fmt.Sprintf("cancelled, %d items persisted", st.ItemsPersisted))

	case syncer.StateError:
		m.reason = st.Reason
		m.message = st.Message
		m.runTime = time.Since(m.runStart)
		m.done = true
		m.addLog("ERROR", fmt.Sprintf("%s: %s", st.Reason, st.Message))
	}
}

// AddItems records a flushed batch in the discovery feed, newest first.
func (m *Model) AddItems(items []models.CatalogItem) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := len(items) - m.maxRecent
	if start < 0 {
		start = 0
	}
	for _, item := range items[start:] {
		m.recent = append([]models.CatalogItem{item}, m.recent...)
	}
	if len(m.recent) > m.maxRecent {
		m.recent = m.recent[:m.maxRecent]
	}
}

// AddLogMessage adds a log message
func (m *Model) AddLogMessage(level, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.addLog(level, message)
}

// addLog appends one entry and trims the buffer. Caller holds the lock.
func (m *Model) addLog(level, message string) {
	color := dimWhite
	switch level {
	case "ERROR":
		color = errRed
	case "WARN":
		color = neonOrange
	case "SUCCESS":
		color = neonGreen
	case "INFO":
		color = neonCyan
	}

	m.logMessages = append(m.logMessages, LogMessage{
		Time:    time.Now(),
		Level:   level,
		Message: message,
		Color:   color,
	})

	// Keep only the last N messages
	if len(m.logMessages) > m.maxLogMessages {
		m.logMessages = m.logMessages[len(m.logMessages)-m.maxLogMessages:]
	}
}

// Done reports whether a terminal status has been applied.
func (m *Model) Done() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.done
}

// FormatBytes formats bytes to human readable format
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatRate formats a per-minute item rate
func FormatRate(perMinute float64) string {
	return fmt.Sprintf("%.1f/min", perMinute)
}
