// Package httpserv provides the read-only HTTP surface over the ledger:
// health, leaderboard, and per-user history. The history endpoint is what
// the external charting service renders from.
package httpserv

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/jdholdren/minusone/internal/core"
)

type Config struct {
	Port int
}

type Server struct {
	*http.Server

	cr core.Core
	l  *zap.SugaredLogger
}

func New(l *zap.SugaredLogger, c Config, cr core.Core) *Server {
	r := mux.NewRouter()

	s := &Server{
		Server: &http.Server{
			Addr:         fmt.Sprintf(":%d", c.Port),
			Handler:      r,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		},
		cr: cr,
		l:  l,
	}

	r.HandleFunc("/leaderboard", s.handleLeaderboard()).Methods(http.MethodGet)
	r.HandleFunc("/users/{id}/history", s.handleHistory()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", handleHealthCheck()).Methods(http.MethodGet)

	r.Use(loggingMiddleware(l))

	return s
}

func loggingMiddleware(l *zap.SugaredLogger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.RequestURI == "/healthz" {
				next.ServeHTTP(w, r)
				return
			}

			l.Infow("request received", "uri", r.RequestURI, "method", r.Method)

			next.ServeHTTP(w, r)
		})
	}
}

type boardEntry struct {
	UserID string `json:"user_id"`
	Votes  int64  `json:"votes"`
}

type boardResponse struct {
	Received  bool         `json:"received"`
	UserCount int64        `json:"user_count"`
	Top       []boardEntry `json:"top"`
	Bottom    []boardEntry `json:"bottom"`
}

func (s *Server) handleLeaderboard() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := int64(10)
		received := true
		if v := r.URL.Query().Get("limit"); v != "" {
			parsed, err := strconv.ParseInt(v, 10, 64)
			if err != nil || parsed < 1 {
				http.Error(w, fmt.Sprintf("invalid limit: %s", v), http.StatusBadRequest)
				return
			}
			limit = parsed
		}
		if v := r.URL.Query().Get("received"); v != "" {
			parsed, err := strconv.ParseBool(v)
			if err != nil {
				http.Error(w, fmt.Sprintf("invalid received flag: %s", v), http.StatusBadRequest)
				return
			}
			received = parsed
		}

		top, err := s.cr.Leaderboard(r.Context(), limit, true, received)
		if err != nil {
			http.Error(w, fmt.Sprintf("error getting leaderboard: %s", err), http.StatusInternalServerError)
			return
		}
		bottom, err := s.cr.Leaderboard(r.Context(), limit, false, received)
		if err != nil {
			http.Error(w, fmt.Sprintf("error getting leaderboard: %s", err), http.StatusInternalServerError)
			return
		}
		userCount, err := s.cr.DistinctUsers(r.Context(), received)
		if err != nil {
			http.Error(w, fmt.Sprintf("error counting users: %s", err), http.StatusInternalServerError)
			return
		}

		resp := boardResponse{
			Received:  received,
			UserCount: userCount,
			Top:       make([]boardEntry, 0, len(top)),
			Bottom:    make([]boardEntry, 0, len(bottom)),
		}
		for _, e := range top {
			resp.Top = append(resp.Top, boardEntry{UserID: e.UserID, Votes: e.Votes})
		}
		for _, e := range bottom {
			resp.Bottom = append(resp.Bottom, boardEntry{UserID: e.UserID, Votes: e.Votes})
		}

		writeJSON(w, resp)
	}
}

type historyPoint struct {
	Timestamp time.Time `json:"timestamp"`
	SourceID  string    `json:"source_user_id"`
	Votes     int64     `json:"votes"`
	// Total is the cumulative sum up to and including this point, so the
	// series charts directly as a rating line.
	Total int64 `json:"total"`
}

type historyResponse struct {
	UserID string         `json:"user_id"`
	Points []historyPoint `json:"points"`
}

func (s *Server) handleHistory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := mux.Vars(r)["id"]

		points, err := s.cr.History(r.Context(), userID)
		if err != nil {
			http.Error(w, fmt.Sprintf("error getting history: %s", err), http.StatusInternalServerError)
			return
		}

		resp := historyResponse{
			UserID: userID,
			Points: make([]historyPoint, 0, len(points)),
		}
		var total int64
		for _, p := range points {
			total += p.Votes
			resp.Points = append(resp.Points, historyPoint{
				Timestamp: p.Timestamp,
				SourceID:  p.SourceID,
				Votes:     p.Votes,
				Total:     total,
			})
		}

		writeJSON(w, resp)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Add("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func handleHealthCheck() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {}
}
