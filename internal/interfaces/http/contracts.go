package http

import (
	"time"

	"github.com/sawpanic/nsescan/internal/models"
)

// Error codes returned in ErrorResponse.Code
const (
	CodeInvalidInput = "invalid_input"
	CodeNotFound     = "not_found"
	CodeUnavailable  = "analysis_unavailable"
	CodeBusy         = "scan_in_progress"
	CodeMethod       = "method_not_allowed"
	CodeInternal     = "internal_error"
)

// ErrorResponse is the body of every non-2xx API response
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ScanRequest is the optional body of POST /api/scan/{mode}
type ScanRequest struct {
	Symbols []string `json:"symbols,omitempty"`
	Full    bool     `json:"full,omitempty"`
}

// ScanStartResponse acknowledges an accepted scan
type ScanStartResponse struct {
	RunID  string `json:"run_id"`
	Mode   string `json:"mode"`
	Status string `json:"status"`
}

// CancelResponse reports whether a running scan was asked to stop
type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

// OpportunitiesResponse is one page of ranked opportunities
type OpportunitiesResponse struct {
	Mode          string               `json:"mode"`
	Opportunities []models.Opportunity `json:"opportunities"`
	Pagination    models.Pagination    `json:"pagination"`
}

// SectorsResponse lists sectors above the requested change
type SectorsResponse struct {
	MinChange float64             `json:"min_change"`
	Sectors   []models.SectorMove `json:"sectors"`
}

// IndicesResponse lists indices ordered by momentum
type IndicesResponse struct {
	Indices []models.IndexTrend `json:"indices"`
}

// HistoryResponse lists recorded scan runs, newest first
type HistoryResponse struct {
	Runs []models.ScanRun `json:"runs"`
}
