package ui

import (
	"mediadex/pkg/models"
	"mediadex/pkg/syncer"
)

// StatusRenderer consumes the status stream of one run and draws it for
// a human. The plain progress line and the full-screen TUI both satisfy
// it, so commands pick a surface at flag time and forward blindly.
//
// Every run ends with a terminal status, so renderers do their own
// cleanup when one arrives.
type StatusRenderer interface {
	Observe(st syncer.Status)
	Discovered(items []models.CatalogItem)
}
