package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/nsescan/internal/application"
	"github.com/sawpanic/nsescan/internal/models"
	"github.com/sawpanic/nsescan/internal/scan"
)

const (
	defaultMinChange = 0.5
	defaultPage      = 1
	defaultLimit     = 20
	maxBodyBytes     = 64 << 10
)

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, http.StatusOK, s.api.Health())
}

func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	analysis, err := s.api.Analyze(r.Context(), symbol, r.URL.Query().Get("timeframe"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if analysis == nil {
		writeError(w, r, http.StatusNotFound, CodeUnavailable, "no analysis available for "+symbol)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

func (s *Server) fundamentals(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	doc, err := s.api.Fundamentals(r.Context(), symbol)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if doc == nil {
		writeError(w, r, http.StatusNotFound, CodeUnavailable, "no fundamentals available for "+symbol)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) marketHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.api.MarketHealth(r.Context()))
}

func (s *Server) sectors(w http.ResponseWriter, r *http.Request) {
	minChange := defaultMinChange
	if raw := r.URL.Query().Get("min_change"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, CodeInvalidInput, "min_change must be a number")
			return
		}
		minChange = v
	}
	sectors, err := s.api.BullishSectors(r.Context(), minChange)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if sectors == nil {
		sectors = []models.SectorMove{}
	}
	writeJSON(w, http.StatusOK, SectorsResponse{MinChange: minChange, Sectors: sectors})
}

func (s *Server) indices(w http.ResponseWriter, r *http.Request) {
	indices := s.api.TrendingIndices(r.Context())
	if indices == nil {
		indices = []models.IndexTrend{}
	}
	writeJSON(w, http.StatusOK, IndicesResponse{Indices: indices})
}

func (s *Server) scanStart(w http.ResponseWriter, r *http.Request) {
	mode := mux.Vars(r)["mode"]

	var req ScanRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, CodeInvalidInput, "unable to read request body")
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, CodeInvalidInput, "malformed JSON body: "+err.Error())
			return
		}
	}

	runID, err := s.api.ScanStart(mode, req.Full, req.Symbols)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ScanStartResponse{RunID: runID, Mode: mode, Status: string(models.StatusRunning)})
}

func (s *Server) scanStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.api.ScanStatus())
}

func (s *Server) scanCancel(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, CancelResponse{Cancelled: s.api.ScanCancel()})
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(w, r, "limit", defaultLimit)
	if !ok {
		return
	}
	runs, err := s.api.History(r.Context(), limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if runs == nil {
		runs = []models.ScanRun{}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Runs: runs})
}

func (s *Server) opportunities(w http.ResponseWriter, r *http.Request) {
	mode := mux.Vars(r)["mode"]
	page, ok := intParam(w, r, "page", defaultPage)
	if !ok {
		return
	}
	limit, ok := intParam(w, r, "limit", defaultLimit)
	if !ok {
		return
	}
	opps, pg, err := s.api.Opportunities(mode, page, limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if opps == nil {
		opps = []models.Opportunity{}
	}
	writeJSON(w, http.StatusOK, OpportunitiesResponse{Mode: mode, Opportunities: opps, Pagination: pg})
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeError(w, r, http.StatusNotFound, CodeNotFound, "no route for "+r.Method+" "+r.URL.Path)
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeError(w, r, http.StatusMethodNotAllowed, CodeMethod, r.Method+" not allowed on "+r.URL.Path)
}

// writeServiceError maps application errors onto status codes
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, application.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, CodeInvalidInput, err.Error())
	case errors.Is(err, scan.ErrBusy):
		writeError(w, r, http.StatusConflict, CodeBusy, err.Error())
	default:
		log.Error().Err(err).Str("request_id", RequestID(r.Context())).Str("path", r.URL.Path).Msg("Request failed")
		writeError(w, r, http.StatusInternalServerError, CodeInternal, "internal error")
	}
}

func intParam(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, CodeInvalidInput, name+" must be an integer")
		return 0, false
	}
	return v, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Code:      code,
		RequestID: RequestID(r.Context()),
		Timestamp: time.Now().UTC(),
	})
}
