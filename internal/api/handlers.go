package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wablast/wablast/internal/contacts"
	"github.com/wablast/wablast/internal/dispatch"
)

// UploadResponse is the response for contact uploads.
type UploadResponse struct {
	SessionID string                 `json:"session_id"`
	Import    *contacts.ImportResult `json:"import"`
	Contacts  []contacts.Recipient   `json:"contacts"`
}

// ContactsResponse lists a session's contacts and current selection.
type ContactsResponse struct {
	SessionID string               `json:"session_id"`
	Contacts  []contacts.Recipient `json:"contacts"`
	Selection []contacts.Recipient `json:"selection"`
}

// SelectRequest narrows the session's selection. Filter mode and
// index-range mode are mutually exclusive; range mode is used when
// start_index is present.
type SelectRequest struct {
	AddressContains string   `json:"address_contains,omitempty"`
	MinSpent        *float64 `json:"min_spent,omitempty"`
	PurchasedAfter  string   `json:"purchased_after,omitempty"` // YYYY-MM-DD
	Limit           int      `json:"limit,omitempty"`

	StartIndex *int `json:"start_index,omitempty"`
	EndIndex   *int `json:"end_index,omitempty"`
}

// SelectResponse returns the new selection.
type SelectResponse struct {
	SessionID string               `json:"session_id"`
	Count     int                  `json:"count"`
	Selection []contacts.Recipient `json:"selection"`
}

// DispatchTextRequest starts a text broadcast over the selection.
type DispatchTextRequest struct {
	Template string `json:"template"`
	DryRun   *bool  `json:"dry_run,omitempty"` // overrides configured mode
}

// DispatchImageRequest starts an image broadcast by remote URL.
type DispatchImageRequest struct {
	ImageURL string `json:"image_url"`
	Caption  string `json:"caption,omitempty"`
	DryRun   *bool  `json:"dry_run,omitempty"`
}

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Uptime: time.Since(s.startTime).Round(time.Second).String(),
	})
}

// handleContactsUpload handles POST /api/v1/contacts (multipart CSV).
func (s *Server) handleContactsUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.API.MaxUploadBytes)

	file, _, err := r.FormFile("file")
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	list, result, err := contacts.ReadCSV(file)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, fmt.Sprintf("invalid CSV: %v", err))
		return
	}

	sess := s.sessions.create(list)
	s.logger.Info("contacts uploaded",
		"session", sess.ID,
		"total", result.Total,
		"imported", result.Imported,
		"skipped", result.Skipped,
	)

	s.sendJSON(w, http.StatusCreated, UploadResponse{
		SessionID: sess.ID,
		Import:    result,
		Contacts:  list,
	})
}

// handleContactsSample handles POST /api/v1/contacts/sample.
func (s *Server) handleContactsSample(w http.ResponseWriter, r *http.Request) {
	list := contacts.Sample()
	sess := s.sessions.create(list)

	s.sendJSON(w, http.StatusCreated, UploadResponse{
		SessionID: sess.ID,
		Import:    &contacts.ImportResult{Total: len(list), Imported: len(list)},
		Contacts:  list,
	})
}

func (s *Server) handleContactsList(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	s.sendJSON(w, http.StatusOK, ContactsResponse{
		SessionID: sess.ID,
		Contacts:  sess.Contacts,
		Selection: sess.Selection,
	})
}

// handleSelect handles POST /api/v1/contacts/{session}/select.
func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var req SelectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	var selection []contacts.Recipient
	if req.StartIndex != nil {
		end := len(sess.Contacts) - 1
		if req.EndIndex != nil {
			end = *req.EndIndex
		}
		selection = contacts.Range(sess.Contacts, *req.StartIndex, end)
	} else {
		filter := contacts.Filter{
			AddressContains: req.AddressContains,
			MinSpent:        req.MinSpent,
			Limit:           req.Limit,
		}
		if req.PurchasedAfter != "" {
			t, err := time.Parse(contacts.DateLayout, req.PurchasedAfter)
			if err != nil {
				s.sendError(w, http.StatusBadRequest, "purchased_after must be YYYY-MM-DD")
				return
			}
			filter.PurchasedAfter = &t
		}
		selection = contacts.Select(sess.Contacts, filter)
	}

	s.sessions.setSelection(sess.ID, selection)

	s.sendJSON(w, http.StatusOK, SelectResponse{
		SessionID: sess.ID,
		Count:     len(selection),
		Selection: selection,
	})
}

// handleExport handles GET /api/v1/contacts/{session}/export.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="filtered_customers.csv"`)
	if err := contacts.WriteCSV(w, sess.Selection); err != nil {
		s.logger.Error("export failed", "session", sess.ID, "error", err)
	}
}

// handleDispatchText handles POST /api/v1/dispatch/{session}/text.
func (s *Server) handleDispatchText(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var req DispatchTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Template == "" {
		s.sendError(w, http.StatusBadRequest, "template is required")
		return
	}

	dryRun, ok := s.resolveMode(w, req.DryRun)
	if !ok {
		return
	}

	engine := s.newEngine(dryRun)
	if s.metrics != nil {
		s.metrics.RecordRun("text", dryRun)
	}

	report, err := engine.RunText(r.Context(), sess.Selection, req.Template)
	if err != nil {
		s.sendError(w, http.StatusBadGateway, err.Error())
		return
	}

	s.sendJSON(w, http.StatusOK, report)
}

// handleDispatchImage handles POST /api/v1/dispatch/{session}/image.
// JSON bodies reference a remote image URL; multipart bodies carry the
// image itself, which is uploaded to the provider once.
func (s *Server) handleDispatchImage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		s.dispatchImageUpload(w, r, sess)
		return
	}

	var req DispatchImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ImageURL == "" {
		s.sendError(w, http.StatusBadRequest, "image_url is required")
		return
	}

	dryRun, ok := s.resolveMode(w, req.DryRun)
	if !ok {
		return
	}

	engine := s.newEngine(dryRun)
	if s.metrics != nil {
		s.metrics.RecordRun("image", dryRun)
	}

	report, err := engine.RunImage(r.Context(), sess.Selection, req.ImageURL, req.Caption)
	if err != nil {
		s.sendError(w, http.StatusBadGateway, err.Error())
		return
	}

	s.sendJSON(w, http.StatusOK, report)
}

func (s *Server) dispatchImageUpload(w http.ResponseWriter, r *http.Request, sess *session) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.API.MaxUploadBytes)

	file, hdr, err := r.FormFile("file")
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "read upload: "+err.Error())
		return
	}

	var override *bool
	if v := r.FormValue("dry_run"); v != "" {
		b := v == "true" || v == "1"
		override = &b
	}
	dryRun, ok := s.resolveMode(w, override)
	if !ok {
		return
	}

	mimeType := hdr.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	engine := s.newEngine(dryRun)
	if s.metrics != nil {
		s.metrics.RecordRun("image", dryRun)
	}

	report, err := engine.RunImageUpload(r.Context(), sess.Selection, data, hdr.Filename, mimeType, r.FormValue("caption"))
	if err != nil {
		// A failed upload aborts before any send.
		s.sendError(w, http.StatusBadGateway, err.Error())
		return
	}

	s.sendJSON(w, http.StatusOK, report)
}

// resolveMode decides dry-run vs live for one request. Live dispatch
// without configured credentials fails fast.
func (s *Server) resolveMode(w http.ResponseWriter, override *bool) (dryRun bool, ok bool) {
	dryRun = !s.cfg.Dispatch.LiveMode
	if override != nil {
		dryRun = *override
	}

	if !dryRun {
		if err := s.cfg.ValidateCredentials(); err != nil {
			s.sendError(w, http.StatusBadRequest, err.Error())
			return false, false
		}
		if s.transport == nil {
			s.sendError(w, http.StatusBadRequest, dispatch.ErrNotConfigured.Error())
			return false, false
		}
	}

	return dryRun, true
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session, bool) {
	id := chi.URLParam(r, "session")
	sess, ok := s.sessions.get(id)
	if !ok {
		s.sendError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return sess, true
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, status int, msg string) {
	s.sendJSON(w, status, ErrorResponse{Error: msg})
}
