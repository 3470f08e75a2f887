package api

import (
	"encoding/json"
	"errors"
	"math"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"JobMailer/internal/engine"
	"JobMailer/internal/ingest"
	"JobMailer/internal/models"
	"JobMailer/internal/store"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500

	// DefaultMaxUploadBytes bounds multipart uploads when unset.
	DefaultMaxUploadBytes = 10 << 20
)

type EngineMonitor interface {
	State() engine.State
}

// Kicker requests an immediate engine tick.
type Kicker interface {
	Kick()
}

type Handler struct {
	Store     store.Store
	Ingest    *ingest.Service
	Engine    EngineMonitor
	Scheduler Kicker

	MaxUploadBytes int64
	Log            *zap.Logger
}

type listResponse struct {
	Contacts []models.Contact `json:"contacts"`
	Total    int              `json:"total"`
	Pages    int              `json:"pages"`
}

func (h *Handler) ListContacts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil || limit == 0 {
		limit = defaultPageSize
	}
	limit = min(max(limit, 1), maxPageSize)

	page, err := strconv.Atoi(q.Get("page"))
	if err != nil || page < 1 {
		page = 1
	}

	status := models.ContactStatus(q.Get("status"))
	if status == "all" {
		status = ""
	}
	if status != "" && !status.Valid() {
		writeMessage(w, http.StatusBadRequest, "Invalid status filter")
		return
	}

	contacts, total, err := h.Store.List(r.Context(), models.ListFilter{
		Status: status,
		Search: strings.TrimSpace(q.Get("search")),
		Limit:  limit,
		Offset: (page - 1) * limit,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if contacts == nil {
		contacts = []models.Contact{}
	}

	writeJSON(w, http.StatusOK, listResponse{
		Contacts: contacts,
		Total:    total,
		Pages:    int(math.Ceil(float64(total) / float64(limit))),
	})
}

func (h *Handler) UpdateContactStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id < 1 {
		writeMessage(w, http.StatusBadRequest, "Invalid contact id")
		return
	}

	var body struct {
		Status models.ContactStatus `json:"status"`
		Reason string               `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || !body.Status.Valid() {
		writeMessage(w, http.StatusBadRequest, "Invalid input")
		return
	}

	contact, err := h.Store.SetStatus(r.Context(), id, body.Status, body.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, contact)
}

func (h *Handler) CreateContact(w http.ResponseWriter, r *http.Request) {
	var in models.NewContact
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid input")
		return
	}
	in.ResumePath = nil

	contact, err := h.Ingest.CreateManual(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, contact)
}

func (h *Handler) UploadContacts(w http.ResponseWriter, r *http.Request) {
	file, name, ok := h.formFile(w, r)
	if !ok {
		return
	}
	defer file.Close()

	if !strings.EqualFold(filepath.Ext(name), ".csv") {
		writeMessage(w, http.StatusBadRequest, "Only CSV files are allowed")
		return
	}

	res, err := h.Ingest.ImportCSV(r.Context(), file, name)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":    "CSV processed successfully",
		"processed":  res.Processed,
		"duplicates": res.Duplicates,
	})
}

func (h *Handler) QuickSend(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid input")
		return
	}

	contact, err := h.Ingest.QuickSend(r.Context(), body.Name, body.Email)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Email sent successfully",
		"contact": contact,
	})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Store.CountsByStatus(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		h.Log.Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// formFile reads the "file" field of a size-limited multipart upload. It
// writes the error response itself and reports ok=false on failure.
func (h *Handler) formFile(w http.ResponseWriter, r *http.Request) (multipart.File, string, bool) {
	limit := h.MaxUploadBytes
	if limit <= 0 {
		limit = DefaultMaxUploadBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeMessage(w, http.StatusRequestEntityTooLarge, "File is too large")
		default:
			writeMessage(w, http.StatusBadRequest, "No file uploaded")
		}
		return nil, "", false
	}
	return file, filepath.Base(header.Filename), true
}
