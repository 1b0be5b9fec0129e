package tui

import (
	"fmt"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"mediadex/pkg/models"
	"mediadex/pkg/syncer"
)

func TestModel(t *testing.T) {
	model := NewModel("chatarchive", "syncing")

	// Statuses stamp the run identity
	model.ApplyStatus(syncer.Status{
		State:     syncer.StateStarted,
		Source:    models.SourceChatArchive,
		AccountID: "acct-1",
		RunID:     "0c5acd1e-run",
	})
	if model.state != syncer.StateStarted {
		t.Errorf("Expected state %q, got %q", syncer.StateStarted, model.state)
	}
	if model.accountID != "acct-1" {
		t.Errorf("Expected account acct-1, got %s", model.accountID)
	}
	if len(model.logMessages) != 1 {
		t.Errorf("Expected 1 log message after start, got %d", len(model.logMessages))
	}

	// Progress updates the counters without finishing the run
	_, _ = model.Update(StatusMsg{State: syncer.StateInProgress, Discovered: 50, Persisted: 25})
	if model.discovered != 50 || model.persisted != 25 {
		t.Errorf("Expected counters 50/25, got %d/%d", model.discovered, model.persisted)
	}
	if model.Done() {
		t.Error("Expected run to still be active")
	}

	// Completion marks the run done and records the duration
	model.ApplyStatus(syncer.Status{
		State:      syncer.StateCompleted,
		Discovered: 120,
		Persisted:  120,
		TotalItems: 120,
		DurationMs: 1500,
	})
	if !model.Done() {
		t.Error("Expected run to be done after completion")
	}
	if model.runTime != 1500*time.Millisecond {
		t.Errorf("Expected run time 1.5s, got %s", model.runTime)
	}
	if model.persisted != 120 {
		t.Errorf("Expected 120 persisted, got %d", model.persisted)
	}
}

func TestModelErrorStatus(t *testing.T) {
	model := NewModel("paneltv", "syncing")

	model.ApplyStatus(syncer.Status{
		State:   syncer.StateError,
		Reason:  syncer.ReasonPreflight,
		Message: "account is not authenticated",
	})

	if !model.Done() {
		t.Error("Expected error status to finish the run")
	}
	if model.reason != syncer.ReasonPreflight {
		t.Errorf("Expected reason %q, got %q", syncer.ReasonPreflight, model.reason)
	}
	if model.message != "account is not authenticated" {
		t.Errorf("Unexpected message %q", model.message)
	}
}

func TestModelRecentItems(t *testing.T) {
	model := NewModel("chatarchive", "syncing")

	var batch []models.CatalogItem
	for i := 0; i < 12; i++ {
		batch = append(batch, models.CatalogItem{
			ID:    fmt.Sprintf("clip-%d", i),
			Title: fmt.Sprintf("Clip %d", i),
		})
	}
	model.AddItems(batch)

	if len(model.recent) != model.maxRecent {
		t.Errorf("Expected %d recent items, got %d", model.maxRecent, len(model.recent))
	}
	if model.recent[0].ID != "clip-11" {
		t.Errorf("Expected newest item first, got %s", model.recent[0].ID)
	}

	// A later batch pushes older items out
	model.AddItems([]models.CatalogItem{{ID: "clip-12", Title: "Clip 12"}})
	if model.recent[0].ID != "clip-12" {
		t.Errorf("Expected clip-12 first, got %s", model.recent[0].ID)
	}
	if len(model.recent) != model.maxRecent {
		t.Errorf("Expected feed to stay at %d items, got %d", model.maxRecent, len(model.recent))
	}
}

func TestModelLogCap(t *testing.T) {
	model := NewModel("chatarchive", "syncing")

	for i := 0; i < model.maxLogMessages+10; i++ {
		model.AddLogMessage("INFO", fmt.Sprintf("message %d", i))
	}

	if len(model.logMessages) != model.maxLogMessages {
		t.Errorf("Expected %d log messages, got %d", model.maxLogMessages, len(model.logMessages))
	}
	if model.logMessages[0].Message != "message 10" {
		t.Errorf("Expected oldest messages trimmed, got %q first", model.logMessages[0].Message)
	}
}

func TestQuitKeys(t *testing.T) {
	for _, key := range []tea.KeyMsg{
		{Type: tea.KeyRunes, Runes: []rune{'q'}},
		{Type: tea.KeyCtrlC},
	} {
		model := NewModel("chatarchive", "syncing")
		_, cmd := model.Update(key)
		if cmd == nil {
			t.Fatalf("Expected a quit command for %s", key.String())
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Errorf("Expected tea.QuitMsg for %s", key.String())
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes    int64
		expected string
	}{
		{500, "500 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1024 * 1024, "1.0 MB"},
		{5 * 1024 * 1024 * 1024, "5.0 GB"},
	}

	for _, test := range tests {
		result := FormatBytes(test.bytes)
		if result != test.expected {
			t.Errorf("FormatBytes(%d) = %s, expected %s", test.bytes, result, test.expected)
		}
	}
}

func TestFormatRate(t *testing.T) {
	tests := []struct {
		perMinute float64
		expected  string
	}{
		{0, "0.0/min"},
		{12.34, "12.3/min"},
		{480, "480.0/min"},
	}

	for _, test := range tests {
		result := FormatRate(test.perMinute)
		if result != test.expected {
			t.Errorf("FormatRate(%f) = %s, expected %s", test.perMinute, result, test.expected)
		}
	}
}
