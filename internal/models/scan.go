package models

import (
	"fmt"
	"time"
)

// Mode selects the scanner configuration
type Mode string

const (
	ModeSwing    Mode = "swing"
	ModeIntraday Mode = "intraday"
)

// ParseMode validates a mode string
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeSwing, ModeIntraday:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown scan mode %q", s)
}

// ScanStatus is the coordinator lifecycle state
type ScanStatus string

const (
	StatusIdle      ScanStatus = "idle"
	StatusRunning   ScanStatus = "running"
	StatusCompleted ScanStatus = "completed"
	StatusError     ScanStatus = "error"
)

// ScanState is the coordinator snapshot handed to readers
type ScanState struct {
	RunID           string        `json:"run_id,omitempty"`
	InProgress      bool          `json:"in_progress"`
	Mode            Mode          `json:"mode,omitempty"`
	StartedAt       *time.Time    `json:"started_at,omitempty"`
	Scanned         int           `json:"scanned"`
	Total           int           `json:"total"`
	ProgressPct     float64       `json:"progress_pct"`
	Status          ScanStatus    `json:"status"`
	Error           string        `json:"error,omitempty"`
	LastUpdate      *time.Time    `json:"last_update,omitempty"`
	ResultsSwing    []Opportunity `json:"results_swing"`
	ResultsIntraday []Opportunity `json:"results_intraday"`
}

// Clone returns a deep copy so callers never share slices with the coordinator
func (s ScanState) Clone() ScanState {
	out := s
	if s.StartedAt != nil {
		t := *s.StartedAt
		out.StartedAt = &t
	}
	if s.LastUpdate != nil {
		t := *s.LastUpdate
		out.LastUpdate = &t
	}
	out.ResultsSwing = append([]Opportunity(nil), s.ResultsSwing...)
	out.ResultsIntraday = append([]Opportunity(nil), s.ResultsIntraday...)
	return out
}

// Results returns the result slice for a mode
func (s ScanState) Results(mode Mode) []Opportunity {
	if mode == ModeIntraday {
		return s.ResultsIntraday
	}
	return s.ResultsSwing
}

// Pagination describes one page of a result list
type Pagination struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
	HasPrev    bool `json:"has_prev"`
}

// ScanRun summarises one finished scan
type ScanRun struct {
	RunID         string         `json:"run_id" db:"run_id"`
	Mode          Mode           `json:"mode" db:"mode"`
	Status        ScanStatus     `json:"status" db:"status"`
	Error         string         `json:"error,omitempty" db:"error"`
	StartedAt     time.Time      `json:"started_at" db:"started_at"`
	FinishedAt    time.Time      `json:"finished_at" db:"finished_at"`
	Total         int            `json:"total" db:"total"`
	Scanned       int            `json:"scanned" db:"scanned"`
	Opportunities int            `json:"opportunities" db:"opportunities"`
	Skipped       map[string]int `json:"skipped,omitempty" db:"-"`
}

// Duration is the wall time the run took
func (r ScanRun) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
