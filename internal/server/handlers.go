package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/vecdex/internal/client"
	"github.com/hyperjump/vecdex/internal/models"
)

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.source == nil {
		s.respondError(w, http.StatusNotImplemented, "no document source configured")
		return
	}
	clientID := chi.URLParam(r, "clientID")
	s.logger.Debug("refresh request", zap.String("client_id", clientID))
	report, err := s.coordinator.Refresh(r.Context(), clientID, s.source)
	if err != nil {
		s.logger.Error("refresh failed", zap.String("client_id", clientID), zap.Error(err))
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")
	var query models.SearchQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("search request",
		zap.String("client_id", clientID), zap.String("query", query.Query), zap.Int("k", query.K))
	response, err := s.searcher.Search(r.Context(), clientID, &query)
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			s.logger.Error("search failed", zap.String("client_id", clientID), zap.Error(err))
		}
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")
	store, err := s.registry.Get(clientID)
	if err != nil {
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, store.Stats())
}

func (s *Server) handleCompact(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")
	force := r.URL.Query().Get("force") == "true"
	reclaimed, err := s.coordinator.Compact(clientID, force)
	if err != nil {
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"reclaimed": reclaimed})
}

func (s *Server) handleRemoveDocument(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")
	docID := chi.URLParam(r, "docID")
	s.logger.Debug("remove document request",
		zap.String("client_id", clientID), zap.String("document_id", docID))
	removed, err := s.coordinator.RemoveDocument(r.Context(), clientID, docID)
	if err != nil {
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"document_id":    docID,
		"chunks_removed": removed,
	})
}

func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")
	s.logger.Debug("purge request", zap.String("client_id", clientID))
	if err := s.registry.Purge(clientID); err != nil {
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"client_id": clientID, "status": "purged"})
}

func (s *Server) handleListClients(w http.ResponseWriter, r *http.Request) {
	ids, err := s.registry.Clients()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string][]string{"clients": ids})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor maps domain errors to HTTP statuses: unknown client 404, write
// conflict 409, corruption 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, client.ErrIndexNotFound):
		return http.StatusNotFound
	case errors.Is(err, client.ErrBusy):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
