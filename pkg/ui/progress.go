package ui

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"

	"mediadex/pkg/models"
	"mediadex/pkg/syncer"
)

// SyncProgress renders one run's status stream as a single rewriting
// terminal line. On non-terminal outputs the line is suppressed and only
// the final summary prints, so piped output stays clean.
type SyncProgress struct {
	mu         sync.Mutex
	source     string
	quiet      bool
	isTTY      bool
	width      int
	startTime  time.Time
	discovered int64
	persisted  int64
	lastTitle  string
	lineDrawn  bool
	done       bool
}

// NewSyncProgress creates a progress line for one source. quiet keeps
// everything but errors off the terminal.
func NewSyncProgress(source string, quiet bool) *SyncProgress {
	p := &SyncProgress{
		source:    source,
		quiet:     quiet,
		width:     80,
		startTime: time.Now(),
	}

	fd := int(os.Stdout.Fd())
	if term.IsTerminal(fd) {
		p.isTTY = true
		if w, _, err := term.GetSize(fd); err == nil && w > 0 {
			p.width = w
		}
	}

	return p
}

// Observe folds one engine status into the line. Terminal statuses clear
// the line and print a one-shot summary in its place.
func (p *SyncProgress) Observe(st syncer.Status) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch st.State {
	case syncer.StateStarted:
		p.startTime = time.Now()
		p.redraw()

	case syncer.StateInProgress:
		p.discovered = st.Discovered
		p.persisted = st.Persisted
		p.redraw()

	case syncer.StateCompleted:
		p.finishLine()
		if p.quiet {
			return
		}
		if st.Discovered == 0 && st.TotalItems > 0 {
			PrintSuccess(fmt.Sprintf("✓ %s: up to date (%d items)", p.source, st.TotalItems))
		} else {
			PrintSuccess(fmt.Sprintf("✓ %s: %d items stored in %s",
				p.source, st.Persisted, formatDuration(time.Duration(st.DurationMs)*time.Millisecond)))
		}

	case syncer.StateCancelled:
		p.finishLine()
		if p.quiet {
			return
		}
		PrintWarning(fmt.Sprintf("✗ %s: cancelled, %d items persisted", p.source, st.ItemsPersisted))

	case syncer.StateError:
		p.finishLine()
		PrintError(fmt.Sprintf("✗ %s: sync failed (%s)", p.source, st.Reason), st.Message)
	}
}

// Discovered notes the newest flushed item so the line shows what the
// scan is currently finding.
func (p *SyncProgress) Discovered(items []models.CatalogItem) {
	if len(items) == 0 {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastTitle = truncate(items[len(items)-1].Title, p.width/3)
	p.redraw()
}

// redraw rewrites the progress line in place. Caller holds the lock.
func (p *SyncProgress) redraw() {
	if p.quiet || !p.isTTY || p.done {
		return
	}

	elapsed := time.Since(p.startTime)

	line := fmt.Sprintf("%s %d discovered • %d stored • %s",
		Cyan(p.source),
		p.discovered,
		p.persisted,
		formatDuration(elapsed),
	)

	if elapsed > time.Second && p.persisted > 0 {
		line += fmt.Sprintf(" • %.1f/min", float64(p.persisted)/elapsed.Minutes())
	}

	if p.lastTitle != "" {
		line += " • " + Dim(p.lastTitle)
	}

	// Clear line and print
	fmt.Printf("\r%s\r%s", strings.Repeat(" ", p.width-1), line)
	p.lineDrawn = true
}

// finishLine wipes the in-place line so the summary starts clean.
// Caller holds the lock.
func (p *SyncProgress) finishLine() {
	p.done = true
	if p.lineDrawn {
		fmt.Printf("\r%s\r", strings.Repeat(" ", p.width-1))
		p.lineDrawn = false
	}
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}

// truncate shortens s to at most n runes, marking the cut with an
// ellipsis.
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
