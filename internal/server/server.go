package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"coursewatch/internal/domain"
	"coursewatch/internal/providers"
)

const shutdownTimeout = 5 * time.Second

// TaskDirectory is the slice of the persisted store the management API
// needs.
type TaskDirectory interface {
	FindAll(ctx context.Context) ([]domain.WatchedSection, error)
	FindBySectionID(ctx context.Context, sectionID string) (*domain.WatchedSection, error)
	Upsert(ctx context.Context, ws domain.WatchedSection) error
	ToggleEnabled(ctx context.Context, sectionID string) (bool, error)
	DeleteByDisplayName(ctx context.Context, displayName string) (int64, error)
}

// Server exposes the management API for watched sections:
//
//	GET    /api/tasks                          list
//	PATCH  /api/tasks/{sectionID}/toggle       flip enabled
//	POST   /api/tasks?courseName=NAME          search and add a course
//	DELETE /api/tasks?courseDisplayName=NAME   remove a course's sections
type Server struct {
	tasks    TaskDirectory
	searcher providers.CourseSearcher
	addr     string
	logger   *slog.Logger

	httpServer *http.Server
}

func New(tasks TaskDirectory, searcher providers.CourseSearcher, addr string, logger *slog.Logger) *Server {
	return &Server{
		tasks:    tasks,
		searcher: searcher,
		addr:     addr,
		logger:   logger,
	}
}

// Handler returns the API routes. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/tasks", s.handleList)
	mux.HandleFunc("PATCH /api/tasks/{sectionID}/toggle", s.handleToggle)
	mux.HandleFunc("POST /api/tasks", s.handleAdd)
	mux.HandleFunc("DELETE /api/tasks", s.handleDelete)
	return mux
}

// Start begins serving in a background goroutine and returns once the
// listener is bound. The server shuts down gracefully when ctx is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("server: bind %s: %w", s.addr, err)
	}

	s.httpServer = &http.Server{
		Handler: s.Handler(),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
	}()

	s.logger.Info("management api listening", "addr", ln.Addr().String())
	return nil
}

type taskDTO struct {
	SectionID         string  `json:"sectionId"`
	CourseID          string  `json:"courseId"`
	CourseDisplayName string  `json:"courseDisplayName"`
	Enabled           bool    `json:"enabled"`
	Status            *string `json:"status"`
}

func toDTO(ws domain.WatchedSection) taskDTO {
	dto := taskDTO{
		SectionID:         ws.SectionID,
		CourseID:          ws.CourseID,
		CourseDisplayName: ws.DisplayName,
		Enabled:           ws.Enabled,
	}
	if ws.LastStatus != nil {
		st := string(*ws.LastStatus)
		dto.Status = &st
	}
	return dto
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	sections, err := s.tasks.FindAll(r.Context())
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}

	dtos := make([]taskDTO, 0, len(sections))
	for _, ws := range sections {
		dtos = append(dtos, toDTO(ws))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	sectionID := r.PathValue("sectionID")

	enabled, err := s.tasks.ToggleEnabled(r.Context(), sectionID)
	switch {
	case errors.Is(err, domain.ErrSectionNotFound):
		s.fail(w, http.StatusNotFound, err)
		return
	case err != nil:
		s.fail(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sectionId": sectionID,
		"enabled":   enabled,
	})
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	courseName := strings.TrimSpace(r.URL.Query().Get("courseName"))
	if courseName == "" {
		s.fail(w, http.StatusBadRequest, errors.New("missing courseName"))
		return
	}

	match, err := s.searcher.SearchCourse(r.Context(), courseName)
	switch {
	case errors.Is(err, providers.ErrRateLimited):
		s.fail(w, http.StatusServiceUnavailable, err)
		return
	case err != nil:
		// ErrCourseNotFound and plain failures both surface as 404 to the
		// caller, mirroring "wrong input / course not found"
		s.fail(w, http.StatusNotFound, err)
		return
	}

	created := make([]taskDTO, 0, len(match.SectionIDs))
	for _, sectionID := range match.SectionIDs {
		existing, err := s.tasks.FindBySectionID(r.Context(), sectionID)
		if err != nil {
			s.fail(w, http.StatusInternalServerError, err)
			return
		}
		if existing != nil {
			created = append(created, toDTO(*existing))
			continue
		}

		ws := domain.WatchedSection{
			SectionID:   sectionID,
			CourseID:    match.CourseID,
			DisplayName: match.Designation,
			Enabled:     false,
		}
		if err := s.tasks.Upsert(r.Context(), ws); err != nil {
			s.fail(w, http.StatusInternalServerError, err)
			return
		}
		created = append(created, toDTO(ws))
	}

	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	displayName := strings.TrimSpace(r.URL.Query().Get("courseDisplayName"))
	if displayName == "" {
		s.fail(w, http.StatusBadRequest, errors.New("missing courseDisplayName"))
		return
	}

	n, err := s.tasks.DeleteByDisplayName(r.Context(), displayName)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": n})
}

func (s *Server) fail(w http.ResponseWriter, code int, err error) {
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", "status", code, "error", err)
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
