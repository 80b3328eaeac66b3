// internal/api/handlers.go
package api

import (
	"encoding/json"
	"net/http"

	"scribe/internal/errors"
	"scribe/internal/logging"
	"scribe/internal/parcel"
	"scribe/internal/validation"

	"github.com/invopop/jsonschema"
	"go.uber.org/zap"
)

// Handler serves the edit engine over JSON.
type Handler struct {
	parcel *parcel.Parcel
	logger *logging.Logger
}

func NewHandler(p *parcel.Parcel, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Handler{parcel: p, logger: logger}
}

// Register mounts every route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /api/tools", h.Tools)

	mux.HandleFunc("POST /api/sessions", h.OpenSession)
	mux.HandleFunc("GET /api/sessions", h.ListSessions)
	mux.HandleFunc("DELETE /api/sessions/{id}", h.CloseSession)

	mux.HandleFunc("POST /api/files/read", h.ReadFile)
	mux.HandleFunc("POST /api/files/write", h.WriteFile)
	mux.HandleFunc("POST /api/files/edit", h.EditFile)
	mux.HandleFunc("POST /api/files/remove", h.RemoveFile)
	mux.HandleFunc("POST /api/files/chmod", h.Chmod)

	mux.HandleFunc("POST /api/recover", h.Recover)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) OpenSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.parcel.OpenSession(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, SessionResponse{Session: s.ID, CreatedAt: s.CreatedAt})
}

func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	records, err := h.parcel.ListSessions(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, r, errors.InvalidRequest("missing session id"))
		return
	}

	if err := h.parcel.CloseSession(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ReadFile(w http.ResponseWriter, r *http.Request) {
	var req ReadFileRequest
	if err := validation.DecodeRequest(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	snap, err := h.parcel.ReadFile(r.Context(), req.Path)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp, err := NewReadFileResponse(snap)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) WriteFile(w http.ResponseWriter, r *http.Request) {
	var req WriteFileRequest
	if err := validation.DecodeRequest(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	s, err := h.parcel.Session(r.Context(), req.Session)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.parcel.WriteFile(r.Context(), s, req.Path, req.Content, req.Description)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) EditFile(w http.ResponseWriter, r *http.Request) {
	var req EditFileRequest
	if err := validation.DecodeRequest(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	s, err := h.parcel.Session(r.Context(), req.Session)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.parcel.EditFile(r.Context(), s, parcel.Edit{
		Path:         req.Path,
		Old:          req.OldString,
		New:          req.NewString,
		Occurrences:  req.ExpectedReplacements,
		Description:  req.Description,
		ExpectedHash: req.ExpectedHash,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) RemoveFile(w http.ResponseWriter, r *http.Request) {
	var req RemoveFileRequest
	if err := validation.DecodeRequest(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	s, err := h.parcel.Session(r.Context(), req.Session)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.parcel.RemoveFile(r.Context(), s, req.Path, req.Description)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) Chmod(w http.ResponseWriter, r *http.Request) {
	var req ChmodRequest
	if err := validation.DecodeRequest(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	s, err := h.parcel.Session(r.Context(), req.Session)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.parcel.Chmod(r.Context(), s, req.Path, req.Mode, req.Description)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) Recover(w http.ResponseWriter, r *http.Request) {
	report, err := h.parcel.Recover(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Tools lists the operations with JSON schemas of their inputs.
func (h *Handler) Tools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Tools())
}

func Tools() []Tool {
	return []Tool{
		{
			Name:        "open_session",
			Description: "Start a session and return its id. Every change made under the id is folded into one commit.",
			InputSchema: generateSchema[OpenSessionRequest](),
		},
		{
			Name:        "read_file",
			Description: "Read a file and return its text together with the hash to pass to edit_file.",
			InputSchema: generateSchema[ReadFileRequest](),
		},
		{
			Name:        "write_file",
			Description: "Replace the whole content of a tracked file or create a new one. The change is committed.",
			InputSchema: generateSchema[WriteFileRequest](),
		},
		{
			Name:        "edit_file",
			Description: "Replace one located occurrence of old_string with new_string. Matching tolerates whitespace drift but never guesses between several matches.",
			InputSchema: generateSchema[EditFileRequest](),
		},
		{
			Name:        "remove_file",
			Description: "Delete a tracked file. The removal is committed with the session's other changes.",
			InputSchema: generateSchema[RemoveFileRequest](),
		},
		{
			Name:        "chmod",
			Description: "Add (a+x) or remove (a-x) the executable bits of a tracked file. The change is committed.",
			InputSchema: generateSchema[ChmodRequest](),
		},
		{
			Name:        "close_session",
			Description: "End a session. The next edits should use a new session and start a new commit.",
			InputSchema: generateSchema[CloseSessionRequest](),
		},
	}
}

func generateSchema[T any]() interface{} {
	reflector := jsonschema.Reflector{
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	var v T
	return reflector.Reflect(&v)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := errors.NewResponse(err)
	e := resp.Error

	logger := h.logger.WithRequestID(r.Context())
	if e.Code >= http.StatusInternalServerError {
		logger.Error("request failed", zap.String("type", string(e.Type)), zap.Error(err))
	} else {
		logger.Info("request rejected", zap.String("type", string(e.Type)), zap.String("message", e.Message))
	}

	writeJSON(w, e.Code, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
