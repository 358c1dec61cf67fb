package handlers

import (
	"time"

	"imgcat/internal/database"
	"imgcat/internal/engine"
)

// Handlers serves the HTTP API over one engine.
type Handlers struct {
	engine    *engine.Engine
	db        *database.Database
	startTime time.Time
}

// New creates handlers for e.
func New(e *engine.Engine) *Handlers {
	return &Handlers{
		engine:    e,
		db:        e.Database(),
		startTime: time.Now(),
	}
}
