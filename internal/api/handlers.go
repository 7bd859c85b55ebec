package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"autocare/internal/export"
	"autocare/internal/models"
	"autocare/internal/pricing"
	"autocare/internal/service"
)

const maxBodyBytes = 1 << 20

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if s.deps.Ledger != nil {
		resp["requests"] = len(s.deps.Ledger.List(models.RequestFilter{}))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleListRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.RequestFilter{
		CustomerID: strings.TrimSpace(q.Get("customerId")),
		MechanicID: strings.TrimSpace(q.Get("mechanicId")),
	}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		st, err := models.ParseStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Status = st
	}

	requests := s.deps.Ledger.List(filter)
	writeJSON(w, http.StatusOK, map[string]any{"requests": requests, "count": len(requests)})
}

func (s *HTTPServer) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var draft models.RequestDraft
	if err := decodeBody(r, &draft); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req, err := s.deps.Ledger.Create(r.Context(), draft)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.Header().Set("ETag", versionTag(req.Version))
	writeJSON(w, http.StatusCreated, req)
}

func (s *HTTPServer) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.deps.Ledger.Get(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.Header().Set("ETag", versionTag(req.Version))
	writeJSON(w, http.StatusOK, req)
}

type actionBody struct {
	MechanicID string `json:"mechanicId"`
	Version    int64  `json:"version"`
}

func (s *HTTPServer) handleRequestAction(w http.ResponseWriter, r *http.Request) {
	actionType, ok := service.ParseAction(r.PathValue("action"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown action")
		return
	}

	var body actionBody
	if err := decodeOptionalBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	expected := body.Version
	if raw := r.Header.Get("If-Match"); raw != "" {
		v, err := parseVersionTag(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid If-Match header")
			return
		}
		expected = v
	}

	req, err := s.deps.Ledger.Dispatch(r.Context(), service.Action{
		Type:            actionType,
		RequestID:       r.PathValue("id"),
		MechanicID:      strings.TrimSpace(body.MechanicID),
		ExpectedVersion: expected,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.Header().Set("ETag", versionTag(req.Version))
	writeJSON(w, http.StatusOK, req)
}

func (s *HTTPServer) handleExportRequests(w http.ResponseWriter, r *http.Request) {
	requests := s.deps.Ledger.List(models.RequestFilter{})

	var buf bytes.Buffer
	if err := export.WriteRequestsXLSX(&buf, requests); err != nil {
		s.logger.Error().Err(err).Msg("export requests")
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}

	fileName := fmt.Sprintf("requests_%s.xlsx", time.Now().Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *HTTPServer) handleListCatalog(w http.ResponseWriter, r *http.Request) {
	includeInactive, _ := strconv.ParseBool(r.URL.Query().Get("all"))
	services := s.deps.Catalog.List(includeInactive)
	writeJSON(w, http.StatusOK, map[string]any{"services": services})
}

func (s *HTTPServer) handleUpsertCatalog(w http.ResponseWriter, r *http.Request) {
	entry := models.CatalogService{Active: true}
	if err := decodeBody(r, &entry); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	entry.ID = r.PathValue("id")

	saved, err := s.deps.Catalog.Upsert(entry)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *HTTPServer) handleDeactivateCatalog(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Catalog.Deactivate(r.PathValue("id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleQuote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	distance, err := strconv.ParseFloat(strings.TrimSpace(q.Get("distance")), 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "distance must be a number")
		return
	}

	var basePrice float64
	if serviceType := strings.TrimSpace(q.Get("serviceType")); serviceType != "" {
		entry, err := s.deps.Catalog.Lookup(serviceType)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		basePrice = entry.BasePrice
	} else {
		basePrice, err = strconv.ParseFloat(strings.TrimSpace(q.Get("basePrice")), 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "basePrice or serviceType is required")
			return
		}
	}

	writeJSON(w, http.StatusOK, pricing.Itemize(basePrice, distance, q.Get("urgency")))
}

func (s *HTTPServer) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("userId"))
	writeJSON(w, http.StatusOK, map[string]any{
		"notifications": s.deps.Notifications.List(userID),
		"unread":        s.deps.Notifications.UnreadCount(userID),
	})
}

func (s *HTTPServer) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Notifications.MarkRead(r.PathValue("id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleRemoveNotification(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Notifications.Remove(r.PathValue("id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type chatMessageInput struct {
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	Message    string `json:"message"`
}

func (s *HTTPServer) handleListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.deps.Chat.Messages(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *HTTPServer) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var in chatMessageInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	msg, err := s.deps.Chat.Send(r.PathValue("id"), models.ChatMessage{
		SenderID:   in.SenderID,
		SenderName: in.SenderName,
		Message:    in.Message,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func decodeBody(r *http.Request, v any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

// decodeOptionalBody accepts an empty body.
func decodeOptionalBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := decodeBody(r, v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func versionTag(v int64) string {
	return strconv.Quote(strconv.FormatInt(v, 10))
}

func parseVersionTag(raw string) (int64, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "W/")
	raw = strings.Trim(raw, `"`)
	return strconv.ParseInt(raw, 10, 64)
}
