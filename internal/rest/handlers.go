package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/zoniahub/portal/internal/auth"
	"github.com/zoniahub/portal/internal/mail"
	"github.com/zoniahub/portal/internal/presence"
	"github.com/zoniahub/portal/internal/upload"
)

// Handler bundles the dependencies of the HTTP API.
type Handler struct {
	logger   zerolog.Logger
	presence *presence.Service
	resolver presence.Resolver
	store    *auth.Store
	sessions *auth.Sessions
	mailer   *mail.Mailer
	uploader *upload.Uploader
}

func NewHandler(
	logger zerolog.Logger,
	svc *presence.Service,
	resolver presence.Resolver,
	store *auth.Store,
	sessions *auth.Sessions,
	mailer *mail.Mailer,
	uploader *upload.Uploader,
) *Handler {
	return &Handler{
		logger:   logger,
		presence: svc,
		resolver: resolver,
		store:    store,
		sessions: sessions,
		mailer:   mailer,
		uploader: uploader,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type sessionUser struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
}

// Login verifies credentials and sets the session cookie.
func (h *Handler) Login(w http.ResponseWriter, req *http.Request) {
	var body loginRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Username == "" || body.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	user, ok := h.store.Authenticate(body.Username, body.Password)
	if !ok {
		h.logger.Warn().Str("username", body.Username).Msg("failed login attempt")
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := h.sessions.Issue(user)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to issue session")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	auth.SetCookie(w, token)
	h.logger.Info().Str("username", user.Username).Msg("login successful")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"user":    sessionUser{Username: user.Username, DisplayName: user.DisplayName},
	})
}

// Logout clears the session cookie.
func (h *Handler) Logout(w http.ResponseWriter, req *http.Request) {
	auth.ClearCookie(w)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Me returns the authenticated identity behind the session cookie.
func (h *Handler) Me(w http.ResponseWriter, req *http.Request) {
	identity, ok := auth.IdentityFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]sessionUser{
		"user": {Username: identity.Username, DisplayName: identity.DisplayName},
	})
}

// Test is a liveness probe used by the frontend during startup.
func (h *Handler) Test(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "server is responding",
	})
}

// ListWorkflows returns every workflow room with at least one viewer.
func (h *Handler) ListWorkflows(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"workflows": h.presence.AllSnapshots(),
	})
}

// WorkflowUsers returns the members of one workflow room.
func (h *Handler) WorkflowUsers(w http.ResponseWriter, req *http.Request) {
	workflowID := chi.URLParam(req, "workflowID")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"users": h.presence.Snapshot(workflowID),
	})
}

// CheckUpdate reports the current name and modification timestamp of a
// workflow straight from n8n, bypassing the name cache.
func (h *Handler) CheckUpdate(w http.ResponseWriter, req *http.Request) {
	workflowID := chi.URLParam(req, "workflowID")
	workflow, ok := h.resolver.ResolveWorkflow(req.Context(), workflowID)
	if !ok {
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":      workflow.Name,
		"updatedAt": workflow.UpdatedAt,
	})
}

// RefreshName re-resolves a workflow's display name and pushes the change to
// the room.
func (h *Handler) RefreshName(w http.ResponseWriter, req *http.Request) {
	workflowID := chi.URLParam(req, "workflowID")
	name, ok := h.presence.RefreshName(req.Context(), workflowID)
	if !ok {
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"workflowName": name,
	})
}

type contactRequest struct {
	Email string `json:"email"`
}

// Contact forwards an audit request from the public site to the team inbox.
func (h *Handler) Contact(w http.ResponseWriter, req *http.Request) {
	var body contactRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || !mail.ValidEmail(body.Email) {
		writeError(w, http.StatusBadRequest, "a valid email address is required")
		return
	}

	if err := h.mailer.SendAuditRequest(req.Context(), body.Email); err != nil {
		if errors.Is(err, mail.ErrNotConfigured) {
			writeError(w, http.StatusInternalServerError, "email is not configured, contact the administrator")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to send the request, try again later")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "your request has been sent, we will reply within one business day",
	})
}

// Upload stores submitted documents for the ingestion pipeline. Multipart
// field name is "files"; at most upload.MaxFiles files of upload.MaxFileSize
// each.
func (h *Handler) Upload(w http.ResponseWriter, req *http.Request) {
	if !h.uploader.Enabled() {
		writeError(w, http.StatusInternalServerError, "upload storage is not configured")
		return
	}

	req.Body = http.MaxBytesReader(w, req.Body, int64(upload.MaxFiles)*upload.MaxFileSize)
	if err := req.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart request")
		return
	}
	defer func() { _ = req.MultipartForm.RemoveAll() }()

	files := req.MultipartForm.File["files"]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "no files provided")
		return
	}
	if len(files) > upload.MaxFiles {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %v files per request", upload.MaxFiles))
		return
	}

	var uploaded []upload.Result
	for _, header := range files {
		if header.Size > upload.MaxFileSize {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("%v exceeds the size limit", header.Filename))
			return
		}

		file, err := header.Open()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to read upload")
			return
		}

		name := upload.DecodeFileName(header.Filename)
		result, err := h.uploader.Store(req.Context(), name, header.Size, file)
		file.Close()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to store upload")
			return
		}
		uploaded = append(uploaded, result)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":  fmt.Sprintf("%v file(s) stored", len(uploaded)),
		"uploaded": uploaded,
	})
}
