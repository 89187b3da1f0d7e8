package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/GoCodeAlone/gamify"
	"github.com/GoCodeAlone/gamify/modules/badges"
	"github.com/GoCodeAlone/gamify/modules/points"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "malformed json body")
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.engine.GetHealth()
	status := http.StatusOK
	if report.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	collector := s.engine.Metrics()
	if collector == nil {
		writeError(w, http.StatusNotFound, "metrics disabled")
		return
	}
	writeJSON(w, http.StatusOK, collector.Snapshot(r.Context()))
}

func (s *Server) handleUserStats(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	writeJSON(w, http.StatusOK, map[string]any{
		"userId": userID,
		"stats":  s.engine.GetUserStats(r.Context(), userID),
	})
}

// handleUserModule serves one module's projection of a user. The "history"
// segment maps onto the points transaction log.
func (s *Server) handleUserModule(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	moduleName := chi.URLParam(r, "module")

	if moduleName == "history" {
		pointsModule, ok := s.pointsModule()
		if !ok {
			writeError(w, http.StatusNotFound, "points module not registered")
			return
		}
		limit := queryInt(r, "limit", 10)
		history, err := pointsModule.GetTransactionHistory(r.Context(), userID, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"userId": userID, "history": history})
		return
	}

	module, ok := s.engine.Module(moduleName)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown module: "+moduleName)
		return
	}
	stats, err := module.GetUserStats(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"userId": userID, moduleName: stats})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	pointsModule, ok := s.pointsModule()
	if !ok {
		writeError(w, http.StatusNotFound, "points module not registered")
		return
	}
	period := chi.URLParam(r, "period")
	limit := queryInt(r, "limit", 10)
	top, err := pointsModule.GetTopUsers(r.Context(), limit, period)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"period": period, "leaderboard": top})
}

func (s *Server) handleUserRank(w http.ResponseWriter, r *http.Request) {
	pointsModule, ok := s.pointsModule()
	if !ok {
		writeError(w, http.StatusNotFound, "points module not registered")
		return
	}
	period := chi.URLParam(r, "period")
	userID := chi.URLParam(r, "userID")
	rank, ranked, err := pointsModule.GetUserRank(r.Context(), userID, period)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"period": period,
		"userId": userID,
		"rank":   rank,
		"ranked": ranked,
	})
}

func (s *Server) handleBadgeCatalog(w http.ResponseWriter, r *http.Request) {
	module, ok := s.engine.Module(badges.ModuleName)
	if !ok {
		writeError(w, http.StatusNotFound, "badges module not registered")
		return
	}
	badgeModule, ok := module.(*badges.Module)
	if !ok {
		writeError(w, http.StatusInternalServerError, "unexpected badges module type")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"badges": badgeModule.Catalog()})
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if !decodeBody(w, r, &body) {
		return
	}
	eventName, _ := body["eventName"].(string)
	if eventName == "" {
		writeError(w, http.StatusBadRequest, "eventName is required")
		return
	}
	delete(body, "eventName")

	result, err := s.engine.Track(r.Context(), eventName, body)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, gamify.ErrNotRunning) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAdminReset(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if err := s.engine.ResetUser(r.Context(), userID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"userId": userID, "reset": true})
}

type adminAwardRequest struct {
	UserID string `json:"userId"`
	Type   string `json:"type"`
	Value  any    `json:"value"`
	Reason string `json:"reason"`
}

func (s *Server) handleAdminAward(w http.ResponseWriter, r *http.Request) {
	var req adminAwardRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	switch req.Type {
	case "points", "xp":
		pointsModule, ok := s.pointsModule()
		if !ok {
			writeError(w, http.StatusNotFound, "points module not registered")
			return
		}
		amount, ok := numericValue(req.Value)
		if !ok || amount <= 0 {
			writeError(w, http.StatusBadRequest, "value must be a positive number")
			return
		}
		result, err := pointsModule.Award(r.Context(), req.UserID, amount, req.Reason)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, result)
	case "badge":
		module, ok := s.engine.Module(badges.ModuleName)
		if !ok {
			writeError(w, http.StatusNotFound, "badges module not registered")
			return
		}
		badgeModule, _ := module.(*badges.Module)
		badgeID, _ := req.Value.(string)
		if badgeID == "" {
			writeError(w, http.StatusBadRequest, "value must be a badge id")
			return
		}
		granted, err := badgeModule.AwardBadge(r.Context(), req.UserID, badgeID)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"userId": req.UserID, "badgeId": badgeID, "granted": granted})
	default:
		writeError(w, http.StatusBadRequest, "type must be one of points, badge, xp")
	}
}

func (s *Server) pointsModule() (*points.Module, bool) {
	module, ok := s.engine.Module(points.ModuleName)
	if !ok {
		return nil, false
	}
	pointsModule, ok := module.(*points.Module)
	return pointsModule, ok
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func numericValue(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		return parsed, err == nil
	default:
		return 0, false
	}
}
