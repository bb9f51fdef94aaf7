// Package api exposes the read-only status HTTP interface for the crawler.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fairyland/douban-crawler/internal/task"
)

const handlerTimeout = 3 * time.Second

// TaskReader is the slice of the repository the status API reads from.
type TaskReader interface {
	ListAll(ctx context.Context, ns task.Namespace) ([]*task.Record, error)
	Load(ctx context.Context, ns task.Namespace, movieID string) (*task.Record, error)
	IsCommentCompleted(ctx context.Context, movieID string) (bool, error)
}

// Server wires the read-only task endpoints. It never mutates task state.
type Server struct {
	router chi.Router
	repo   TaskReader
	logger *zap.Logger
}

// NewServer constructs a Server with its routes.
func NewServer(repo TaskReader, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{repo: repo, logger: logger}

	r := chi.NewRouter()
	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Route("/api", func(r chi.Router) {
		r.Get("/tasks", s.listTasks)
		r.Get("/tasks/{movie_id}", s.getTask)
	})
	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// listTasks handles GET /api/tasks?namespace=&status=. Namespace defaults to
// info; status filters to one lifecycle state when present.
func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), handlerTimeout)
	defer cancel()

	ns, err := parseNamespace(r.URL.Query().Get("namespace"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var statusFilter task.Status
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		statusFilter, err = task.ParseStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "unknown status "+raw)
			return
		}
	}

	records, err := s.repo.ListAll(ctx, ns)
	if err != nil {
		s.logger.Error("list tasks failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}

	out := make([]taskDTO, 0, len(records))
	for _, rec := range records {
		if statusFilter != "" && rec.Status != statusFilter {
			continue
		}
		out = append(out, toTaskDTO(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": out})
}

// getTask handles GET /api/tasks/{movie_id}?namespace=.
func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), handlerTimeout)
	defer cancel()

	ns, err := parseNamespace(r.URL.Query().Get("namespace"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	movieID := chi.URLParam(r, "movie_id")

	rec, err := s.repo.Load(ctx, ns, movieID)
	if errors.Is(err, task.ErrNotFound) {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		s.logger.Error("load task failed", zap.String("movie_id", movieID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load task")
		return
	}

	dto := toTaskDTO(rec)
	if ns == task.NamespaceComment {
		done, err := s.repo.IsCommentCompleted(ctx, movieID)
		if err == nil {
			dto.CommentsCompleted = &done
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": dto})
}

func parseNamespace(raw string) (task.Namespace, error) {
	switch strings.TrimSpace(raw) {
	case "", string(task.NamespaceInfo):
		return task.NamespaceInfo, nil
	case string(task.NamespaceComment):
		return task.NamespaceComment, nil
	default:
		return "", errors.New("unknown namespace " + raw)
	}
}

// taskDTO is the wire shape of one task record.
type taskDTO struct {
	MovieID           string    `json:"movie_id"`
	Status            string    `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
	RetryCount        int       `json:"retry_count"`
	MaxRetries        int       `json:"max_retries"`
	ErrorMsg          string    `json:"error_msg,omitempty"`
	Abandoned         bool      `json:"abandoned"`
	CommentsCompleted *bool     `json:"comments_completed,omitempty"`
}

func toTaskDTO(rec *task.Record) taskDTO {
	return taskDTO{
		MovieID:    rec.MovieID,
		Status:     string(rec.Status),
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
		RetryCount: rec.RetryCount,
		MaxRetries: rec.MaxRetries,
		ErrorMsg:   rec.ErrorMsg,
		Abandoned:  rec.Abandoned(),
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
