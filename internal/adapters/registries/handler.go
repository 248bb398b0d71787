// Package registries exposes registry editing sessions over a JSON HTTP API.
package registries

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/OpenCoralTools/oct-registry/internal/auth"
	"github.com/OpenCoralTools/oct-registry/internal/editor"
	"github.com/OpenCoralTools/oct-registry/internal/observability"
	"github.com/OpenCoralTools/oct-registry/internal/schema"
	"github.com/OpenCoralTools/oct-registry/pkg/registry"
)

const apiPrefix = "/api/v1/registries"

// Editor is the session surface the handler drives. *editor.Editor satisfies it.
type Editor interface {
	Status() editor.Status
	Records() []registry.Record
	Fields() []schema.Field
	Options(field string) ([]editor.Option, bool)
	Save(ctx context.Context, candidate registry.Record, isEdit bool) (editor.SaveOutcome, error)
	Propose(ctx context.Context, candidate registry.Record, isEdit bool, info editor.ProposalInfo) (editor.SaveOutcome, error)
	Reload(ctx context.Context) error
	LastSave() (editor.SaveOutcome, bool)
}

// Session is the auth surface the handler drives. *auth.Session satisfies it.
type Session interface {
	Login(ctx context.Context, token string) (auth.User, error)
	Logout()
	CurrentUser() (auth.User, bool)
}

// Handler provides HTTP access to registry sessions.
type Handler struct {
	Editors map[registry.Name]Editor
	Session Session
	Metrics http.Handler
	OpenAPI []byte
	Logger  observability.Logger
}

// NewHandler constructs a registry HTTP handler.
func NewHandler(editors map[registry.Name]Editor, session Session) *Handler {
	return &Handler{Editors: editors, Session: session, Logger: observability.NopLogger()}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case path == "/metrics":
		if h.Metrics == nil {
			http.NotFound(w, r)
			return
		}
		h.Metrics.ServeHTTP(w, r)
	case path == "/api/v1/openapi.yaml":
		if h.OpenAPI == nil || r.Method != http.MethodGet {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(h.OpenAPI)
	case strings.HasPrefix(path, "/api/v1/auth/"):
		h.handleAuth(w, r, strings.TrimPrefix(path, "/api/v1/auth/"))
	case path == apiPrefix:
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h.handleList(w)
	case strings.HasPrefix(path, apiPrefix+"/"):
		h.handleRegistry(w, r, strings.TrimPrefix(path, apiPrefix+"/"))
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) logger() observability.Logger { return observability.LoggerOrNop(h.Logger) }

func (h *Handler) handleList(w http.ResponseWriter) {
	statuses := make([]editor.Status, 0, len(h.Editors))
	for _, name := range registry.Names() {
		if ed, ok := h.Editors[name]; ok {
			statuses = append(statuses, ed.Status())
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"registries": statuses})
}

func (h *Handler) handleRegistry(w http.ResponseWriter, r *http.Request, remainder string) {
	segments := strings.Split(remainder, "/")
	name, err := registry.Parse(segments[0])
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	ed, ok := h.Editors[name]
	if !ok {
		writeError(w, http.StatusNotFound, "registry not served")
		return
	}

	if len(segments) == 1 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		writeJSON(w, http.StatusOK, registryResponse{Status: ed.Status(), Records: nonNil(ed.Records())})
		return
	}

	action := segments[1]
	switch {
	case action == "fields" && len(segments) == 2:
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		fields := ed.Fields()
		if fields == nil {
			writeError(w, http.StatusServiceUnavailable, "schema not loaded")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"fields": fields})
	case action == "options" && len(segments) == 3:
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		opts, ok := ed.Options(segments[2])
		writeJSON(w, http.StatusOK, optionsResponse{Field: segments[2], Available: ok, Options: opts})
	case action == "records" && len(segments) == 2:
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h.handleSave(w, r, name, ed, "", false)
	case action == "records" && len(segments) == 3:
		if r.Method != http.MethodPut {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h.handleSave(w, r, name, ed, segments[2], true)
	case action == "proposals" && len(segments) == 2:
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h.handlePropose(w, r, name, ed)
	case action == "reload" && len(segments) == 2:
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if err := ed.Reload(r.Context()); err != nil {
			h.logger().Warn("reload degraded", "registry", name, "error", err)
		}
		writeJSON(w, http.StatusOK, registryResponse{Status: ed.Status(), Records: nonNil(ed.Records())})
	case action == "save" && len(segments) == 2:
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		out, ok := ed.LastSave()
		if !ok {
			writeError(w, http.StatusNotFound, "no save recorded")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"save": newSaveResponse(out)})
	default:
		writeError(w, http.StatusNotFound, "registry endpoint not found")
	}
}

type registryResponse struct {
	Status  editor.Status     `json:"status"`
	Records []registry.Record `json:"records"`
}

type optionsResponse struct {
	Field     string          `json:"field"`
	Available bool            `json:"available"`
	Options   []editor.Option `json:"options,omitempty"`
}

type recordRequest struct {
	Record registry.Record `json:"record"`
}

type proposalRequest struct {
	Record      registry.Record `json:"record"`
	Edit        bool            `json:"edit"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
}

func (h *Handler) handleSave(w http.ResponseWriter, r *http.Request, name registry.Name, ed Editor, id string, isEdit bool) {
	var req recordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid record payload")
		return
	}
	if isEdit {
		field := name.IdentifierField()
		if got := req.Record.String(field); got != "" && got != id {
			writeError(w, http.StatusBadRequest, "record "+field+" does not match path")
			return
		}
		req.Record.Set(field, id)
	}
	out, err := ed.Save(r.Context(), req.Record, isEdit)
	h.writeOutcome(w, out, err, http.StatusOK)
}

func (h *Handler) handlePropose(w http.ResponseWriter, r *http.Request, _ registry.Name, ed Editor) {
	var req proposalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid proposal payload")
		return
	}
	out, err := ed.Propose(r.Context(), req.Record, req.Edit, editor.ProposalInfo{Title: req.Title, Description: req.Description})
	h.writeOutcome(w, out, err, http.StatusCreated)
}

func (h *Handler) writeOutcome(w http.ResponseWriter, out editor.SaveOutcome, err error, okStatus int) {
	if err == nil {
		writeJSON(w, okStatus, map[string]any{"save": newSaveResponse(out)})
		return
	}
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger().Error("submission failed", "error", err)
	}
	writeJSON(w, status, errorResponse{
		Error:     err.Error(),
		Retryable: registry.IsRetryable(err),
		Fields:    fieldErrors(err),
		Save:      saveOrNil(out),
	})
}

func (h *Handler) handleAuth(w http.ResponseWriter, r *http.Request, action string) {
	if h.Session == nil {
		http.NotFound(w, r)
		return
	}
	switch action {
	case "login":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var req struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid login payload")
			return
		}
		user, err := h.Session.Login(r.Context(), req.Token)
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"user": user})
	case "logout":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h.Session.Logout()
		w.WriteHeader(http.StatusNoContent)
	case "me":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		user, ok := h.Session.CurrentUser()
		if !ok {
			writeError(w, http.StatusUnauthorized, "not signed in")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"user": user})
	default:
		http.NotFound(w, r)
	}
}

func nonNil(records []registry.Record) []registry.Record {
	if records == nil {
		return []registry.Record{}
	}
	return records
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

// statusFor maps engine and gateway errors onto HTTP statuses.
func statusFor(err error) int {
	var (
		verr *registry.SchemaValidationError
		ref  *registry.ReferentialIntegrityError
		dup  *registry.DuplicateIdentifierError
	)
	switch {
	case errors.As(err, &verr), errors.As(err, &ref):
		return http.StatusUnprocessableEntity
	case errors.As(err, &dup),
		errors.Is(err, registry.ErrRevisionConflict),
		errors.Is(err, registry.ErrSaveInProgress):
		return http.StatusConflict
	case errors.Is(err, registry.ErrUnauthenticated), errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, registry.ErrRemoteUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, registry.ErrNotReady), errors.Is(err, registry.ErrSchemaUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusAccepted
	default:
		return http.StatusInternalServerError
	}
}
