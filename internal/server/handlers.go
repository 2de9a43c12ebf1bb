package server

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/chmdznr/caracterizacion-sync/internal/db"
	apperrors "github.com/chmdznr/caracterizacion-sync/internal/errors"
	"github.com/chmdznr/caracterizacion-sync/pkg/models"
	"github.com/chmdznr/caracterizacion-sync/pkg/version"
)

type handler struct {
	records Records
	sync    Syncer
	conn    Connectivity
	logger  *slog.Logger
}

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Online    bool   `json:"online"`
	SyncState string `json:"syncState"`
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   version.Version,
		Online:    h.conn.Online(),
		SyncState: h.sync.State().String(),
	})
}

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.records.Stats(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *handler) errorList(w http.ResponseWriter, r *http.Request) {
	list, err := h.records.ErrorList(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

func (h *handler) listRecords(w http.ResponseWriter, r *http.Request) {
	status := models.Status(r.URL.Query().Get("status"))
	list, err := h.records.List(r.Context(), status)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

func (h *handler) getRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := h.records.FindByReference(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handler) retry(w http.ResponseWriter, r *http.Request) {
	rec, err := h.records.FindByReference(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.records.Retry(r.Context(), rec.ID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) runSync(w http.ResponseWriter, r *http.Request) {
	result := h.sync.Sync(r.Context())
	status := http.StatusOK
	if result.Busy {
		status = http.StatusConflict
	}
	writeJSON(w, status, result)
}

func (h *handler) syncLog(w http.ResponseWriter, r *http.Request) {
	limit := db.DefaultLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeError(w, apperrors.Newf(apperrors.ErrInvalid, "limit must be a positive integer, got %q", raw))
			return
		}
		limit = n
	}
	entries, err := h.records.SyncLog(r.Context(), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(entries))
}

func (h *handler) writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case apperrors.ErrNotFound:
		status = http.StatusNotFound
	case apperrors.ErrInvalid:
		status = http.StatusBadRequest
	case apperrors.ErrInvalidTransition:
		status = http.StatusConflict
	case apperrors.ErrStorageUnavailable:
		status = http.StatusServiceUnavailable
	case "":
		code = "INTERNAL"
	}
	if status >= 500 {
		h.logger.Error("Request failed", slog.String("code", string(code)), slog.String("error", err.Error()))
	}

	var body errorBody
	body.Error.Code = string(code)
	body.Error.Message = err.Error()
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func nonNil[T any](list []T) []T {
	if list == nil {
		return []T{}
	}
	return list
}
