package api

import (
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"

	"JobMailer/internal/email"
	"JobMailer/internal/models"
)

// settingsResponse never carries the password, only whether one is stored.
type settingsResponse struct {
	models.Settings
	SMTPPassSet bool `json:"smtpPassSet"`
}

func newSettingsResponse(s models.Settings) settingsResponse {
	return settingsResponse{Settings: s, SMTPPassSet: s.SMTPPass != ""}
}

func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.Store.Get(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSettingsResponse(s))
}

func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var patch models.SettingsPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid input")
		return
	}
	// set only through the resume upload
	patch.ResumeFilename = nil

	if err := email.CheckTemplates(deref(patch.EmailSubject), deref(patch.EmailBody)); err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	s, err := h.Store.Update(r.Context(), patch)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if patch.IsActive != nil && *patch.IsActive {
		h.Scheduler.Kick()
	}
	writeJSON(w, http.StatusOK, newSettingsResponse(s))
}

func (h *Handler) ToggleEngine(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IsActive *bool `json:"isActive"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.IsActive == nil {
		writeMessage(w, http.StatusBadRequest, "Invalid input")
		return
	}

	s, err := h.Store.Update(r.Context(), models.SettingsPatch{IsActive: body.IsActive})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	msg := "Engine stopped"
	if s.IsActive {
		h.Scheduler.Kick()
		msg = "Engine started"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"isActive": s.IsActive,
		"message":  msg,
	})
}

func (h *Handler) SendTestEmail(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid input")
		return
	}

	// SMTP errors come back as 400 with the server's reply.
	if err := h.Ingest.SendTest(r.Context(), body.Email); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Test email sent successfully",
	})
}

func (h *Handler) UploadResume(w http.ResponseWriter, r *http.Request) {
	file, name, ok := h.formFile(w, r)
	if !ok {
		return
	}
	defer file.Close()

	if !strings.EqualFold(filepath.Ext(name), ".pdf") {
		writeMessage(w, http.StatusBadRequest, "Only PDF files are allowed")
		return
	}

	s, err := h.Ingest.SaveResume(r.Context(), file, name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSettingsResponse(s))
}

func (h *Handler) EngineStatus(w http.ResponseWriter, r *http.Request) {
	s, err := h.Store.Get(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"state":    h.Engine.State().String(),
		"isActive": s.IsActive,
	})
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
