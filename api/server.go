// Package api exposes the HTTP surface of the knowledge-grounded chat
// service: a JSON API plus the embedded browser UI.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/fabfab/kb-chat/chat"
	"github.com/fabfab/kb-chat/config"
	"github.com/fabfab/kb-chat/extract"
	"github.com/fabfab/kb-chat/knowledge"
	"github.com/fabfab/kb-chat/suggest"
)

// Uploads are a single document; anything past this is rejected before
// extraction.
const maxUploadBytes = 32 << 20

// Server wires the knowledge store, chat session, and suggestion fetcher
// behind HTTP handlers.
type Server struct {
	cfg     config.Config
	logger  *log.Logger
	store   *knowledge.Store
	session *chat.Session
	fetcher *suggest.Fetcher
	handler http.Handler
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type createGroupRequest struct {
	Name string `json:"name"`
}

type renameGroupRequest struct {
	Name string `json:"name"`
}

type urlRequest struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Query string `json:"query"`
}

type stateResponse struct {
	Groups               []knowledge.Group `json:"groups"`
	ActiveGroupID        string            `json:"activeGroupId"`
	Messages             []chat.Message    `json:"messages"`
	Suggestions          []string          `json:"suggestions"`
	CredentialConfigured bool              `json:"credentialConfigured"`
}

// New constructs a Server around an already-wired store, session, and
// fetcher. Every successful store mutation re-derives suggestions in the
// background.
func New(cfg config.Config, store *knowledge.Store, session *chat.Session, fetcher *suggest.Fetcher, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		session: session,
		fetcher: fetcher,
	}
	store.OnMutate(func() {
		go s.session.RefreshSuggestions(context.Background())
	})
	s.handler = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.Handle("/assets/", s.staticHandler())
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/state", s.handleState)
	mux.HandleFunc("/v1/suggestions", s.handleSuggestions)
	mux.HandleFunc("/v1/chat", s.handleChat)
	mux.HandleFunc("/v1/groups", s.handleGroups)
	mux.HandleFunc("/v1/groups/{id}", s.handleGroup)
	mux.HandleFunc("/v1/groups/{id}/activate", s.handleActivate)
	mux.HandleFunc("/v1/groups/{id}/urls", s.handleURLs)
	mux.HandleFunc("/v1/groups/{id}/documents", s.handleDocuments)
	mux.HandleFunc("/v1/groups/{id}/documents/{docId}", s.handleDocument)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	s.writeJSON(w, http.StatusOK, messageResponse{Message: "ok"})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	s.writeJSON(w, http.StatusOK, stateResponse{
		Groups:               s.store.Groups(),
		ActiveGroupID:        s.store.ActiveGroupID(),
		Messages:             s.session.Messages(),
		Suggestions:          s.fetcher.Suggestions(),
		CredentialConfigured: s.cfg.CredentialConfigured(),
	})
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string][]string{"suggestions": s.fetcher.Suggestions()})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	if err := s.session.Send(r.Context(), req.Query); err != nil {
		switch {
		case errors.Is(err, chat.ErrEmptyQuery):
			s.writeError(w, http.StatusBadRequest, err)
		case errors.Is(err, chat.ErrBusy):
			s.writeError(w, http.StatusConflict, err)
		default:
			s.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	s.writeJSON(w, http.StatusOK, map[string][]chat.Message{"messages": s.session.Messages()})
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, map[string][]knowledge.Group{"groups": s.store.Groups()})
	case http.MethodPost:
		var req createGroupRequest
		if err := decodeJSON(r, &req); err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
			return
		}

		group, err := s.store.CreateGroup(r.Context(), req.Name)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, group)
	default:
		s.methodNotAllowed(w, "GET, POST")
	}
}

func (s *Server) handleGroup(w http.ResponseWriter, r *http.Request) {
	groupID := r.PathValue("id")

	switch r.Method {
	case http.MethodPatch:
		var req renameGroupRequest
		if err := decodeJSON(r, &req); err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
			return
		}
		if err := s.store.RenameGroup(r.Context(), groupID, req.Name); err != nil {
			s.writeStoreError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, messageResponse{Message: "group renamed"})
	case http.MethodDelete:
		if err := s.store.DeleteGroup(r.Context(), groupID); err != nil {
			s.writeStoreError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, messageResponse{Message: "group deleted"})
	default:
		s.methodNotAllowed(w, "PATCH, DELETE")
	}
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	if err := s.session.SwitchGroup(r.Context(), r.PathValue("id")); err != nil {
		s.writeStoreError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string][]chat.Message{"messages": s.session.Messages()})
}

func (s *Server) handleURLs(w http.ResponseWriter, r *http.Request) {
	groupID := r.PathValue("id")

	if r.Method != http.MethodPost && r.Method != http.MethodDelete {
		s.methodNotAllowed(w, "POST, DELETE")
		return
	}

	var req urlRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	switch r.Method {
	case http.MethodPost:
		if err := s.store.AddURL(r.Context(), groupID, req.URL); err != nil {
			s.writeStoreError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, messageResponse{Message: "url added"})
	case http.MethodDelete:
		if err := s.store.RemoveURL(r.Context(), groupID, req.URL); err != nil {
			s.writeStoreError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, messageResponse{Message: "url removed"})
	}
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	groupID := r.PathValue("id")

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("read upload: %w", err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("read upload: %w", err))
		return
	}

	doc, err := s.store.AddDocument(r.Context(), groupID, header.Filename, data)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		s.methodNotAllowed(w, http.MethodDelete)
		return
	}

	if err := s.store.RemoveDocument(r.Context(), r.PathValue("id"), r.PathValue("docId")); err != nil {
		s.writeStoreError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, messageResponse{Message: "document removed"})
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed, use %s", allowed))
}

// writeStoreError maps domain errors onto HTTP statuses: unknown groups are
// 404, rejected mutations and extraction failures are 400/422, anything
// else is a 500.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	var verr *knowledge.ValidationError
	if errors.As(err, &verr) {
		status := http.StatusBadRequest
		if verr.Code == knowledge.CodeInvalidGroup {
			status = http.StatusNotFound
		}
		s.logger.Printf("api error (%d): %v", status, err)
		s.writeJSON(w, status, errorResponse{Error: verr.Message, Code: string(verr.Code)})
		return
	}

	var xerr *extract.ExtractionError
	switch {
	case errors.Is(err, extract.ErrUnsupportedFormat):
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "unsupported_format"})
	case errors.Is(err, extract.ErrEmptyDocument):
		s.writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error(), Code: "empty_or_unreadable"})
	case errors.As(err, &xerr):
		s.writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: xerr.Error(), Code: "extraction_failed"})
	default:
		s.writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Printf("encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.logger.Printf("api error (%d): %v", status, err)
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}

	if dec.More() {
		return fmt.Errorf("request body must contain a single JSON object")
	}

	return nil
}
