// Package api provides HTTP handlers for PillMinder endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/PillboxLabs/PillMinder/internal/genai"
	"github.com/PillboxLabs/PillMinder/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// DefaultAnalyzeTimeout bounds GenAI calls made on behalf of a request.
const DefaultAnalyzeTimeout = 30 * time.Second

// statusForError maps domain errors onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, models.ErrMedicationNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrAlreadyTaken),
		errors.Is(err, models.ErrAlarmMismatch),
		errors.Is(err, models.ErrNoActiveAlarm):
		return http.StatusConflict
	case errors.Is(err, models.ErrEmptyName),
		errors.Is(err, models.ErrEmptyDosage),
		errors.Is(err, models.ErrEmptyScheduledTime),
		errors.Is(err, models.ErrInvalidScheduledTime),
		errors.Is(err, models.ErrNegativeStock),
		errors.Is(err, models.ErrEmptyRecordValue),
		errors.Is(err, models.ErrInvalidRecordType):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) listMedicationsHandler(w http.ResponseWriter, r *http.Request) {
	meds := s.engine.List()
	slog.Debug("Server.listMedicationsHandler: medications fetched", "count", len(meds))
	writeJSONResponse(w, http.StatusOK, models.Success(meds))
}

func (s *Server) pendingMedicationsHandler(w http.ResponseWriter, r *http.Request) {
	meds := s.engine.ListPending()
	slog.Debug("Server.pendingMedicationsHandler: pending fetched", "count", len(meds))
	writeJSONResponse(w, http.StatusOK, models.Success(meds))
}

func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	meds := s.engine.ListHistory()
	slog.Debug("Server.historyHandler: history fetched", "count", len(meds))
	writeJSONResponse(w, http.StatusOK, models.Success(meds))
}

func (s *Server) getMedicationHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	med, err := s.engine.Get(id)
	if err != nil {
		slog.Warn("Server.getMedicationHandler: lookup failed", "id", id, "error", err)
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(med))
}

func (s *Server) addMedicationHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var draft models.MedicationDraft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		slog.Warn("Server.addMedicationHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	med, err := s.engine.Add(draft)
	if err != nil {
		slog.Warn("Server.addMedicationHandler: add failed", "error", err)
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
		return
	}
	slog.Info("Server.addMedicationHandler: medication added", "id", med.ID, "name", med.Name)
	writeJSONResponse(w, http.StatusCreated, models.Success(med))
}

// scanMedicationRequest carries a base64 medication photo and optional
// overrides for fields the label cannot provide.
type scanMedicationRequest struct {
	Image         string `json:"image"`
	ScheduledTime string `json:"scheduledTime,omitempty"`
	TimeLabel     string `json:"timeLabel,omitempty"`
}

func (s *Server) scanMedicationHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if s.ga == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("GenAI client not configured"))
		return
	}
	var req scanMedicationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.scanMedicationHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.Image == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: image"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), DefaultAnalyzeTimeout)
	defer cancel()
	info, err := s.ga.AnalyzeMedicationLabel(ctx, req.Image)
	if err != nil {
		slog.Error("Server.scanMedicationHandler: label analysis failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to analyze medication label"))
		return
	}

	scheduledTime := req.ScheduledTime
	if scheduledTime == "" {
		scheduledTime = "08:00"
	}
	draft := models.MedicationDraft{
		Name:          info.Name,
		Dosage:        info.Dosage,
		ScheduledTime: scheduledTime,
		TimeLabel:     req.TimeLabel,
		Instructions:  info.Instructions,
	}
	med, err := s.engine.Add(draft)
	if err != nil {
		slog.Warn("Server.scanMedicationHandler: add failed", "error", err)
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
		return
	}
	slog.Info("Server.scanMedicationHandler: medication added from label", "id", med.ID, "name", med.Name)
	writeJSONResponse(w, http.StatusCreated, models.Success(med))
}

func (s *Server) updateMedicationHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	id := chi.URLParam(r, "id")
	var patch models.MedicationPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		slog.Warn("Server.updateMedicationHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	med, err := s.engine.Update(id, patch)
	if err != nil {
		slog.Warn("Server.updateMedicationHandler: update failed", "id", id, "error", err)
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
		return
	}
	slog.Info("Server.updateMedicationHandler: medication updated", "id", id)
	writeJSONResponse(w, http.StatusOK, models.Success(med))
}

func (s *Server) deleteMedicationHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.engine.Delete(id); err != nil {
		slog.Warn("Server.deleteMedicationHandler: delete failed", "id", id, "error", err)
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
		return
	}
	slog.Info("Server.deleteMedicationHandler: medication deleted", "id", id)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Medication deleted", nil))
}

func (s *Server) takeMedicationHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	med, err := s.engine.Take(id)
	if err != nil {
		slog.Warn("Server.takeMedicationHandler: take failed", "id", id, "error", err)
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
		return
	}
	slog.Info("Server.takeMedicationHandler: medication taken", "id", id, "stock", med.Stock)
	writeJSONResponse(w, http.StatusOK, models.Success(med))
}

func (s *Server) alarmStatusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(s.engine.Alarm()))
}

// acknowledgeRequest names the medication being confirmed.
type acknowledgeRequest struct {
	ID string `json:"id"`
}

func (s *Server) acknowledgeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var req acknowledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.acknowledgeHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	med, err := s.engine.Acknowledge(req.ID)
	if err != nil {
		slog.Warn("Server.acknowledgeHandler: acknowledge failed", "id", req.ID, "error", err)
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
		return
	}
	slog.Info("Server.acknowledgeHandler: alarm acknowledged", "id", req.ID)
	writeJSONResponse(w, http.StatusOK, models.Success(med))
}

func (s *Server) deferHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Defer(); err != nil {
		slog.Warn("Server.deferHandler: defer failed", "error", err)
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
		return
	}
	slog.Info("Server.deferHandler: alarm deferred")
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Alarm deferred", nil))
}

// snoozeRequest carries the snooze delay in minutes.
type snoozeRequest struct {
	Minutes int `json:"minutes"`
}

func (s *Server) snoozeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var req snoozeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.snoozeHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.Minutes <= 0 {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Snooze minutes must be positive"))
		return
	}
	if err := s.engine.Snooze(time.Duration(req.Minutes) * time.Minute); err != nil {
		slog.Warn("Server.snoozeHandler: snooze failed", "error", err)
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
		return
	}
	slog.Info("Server.snoozeHandler: alarm snoozed", "minutes", req.Minutes)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Alarm snoozed", nil))
}

func (s *Server) intentHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var in models.Intent
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		slog.Warn("Server.intentHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	result, err := s.dispatcher.Dispatch(in)
	if err != nil {
		slog.Warn("Server.intentHandler: dispatch failed", "intent", in.Intent, "error", err)
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
		return
	}
	slog.Info("Server.intentHandler: intent dispatched", "intent", in.Intent)
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

// analyzeIntentRequest carries a raw voice transcript.
type analyzeIntentRequest struct {
	Transcript string `json:"transcript"`
}

func (s *Server) analyzeIntentHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if s.ga == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("GenAI client not configured"))
		return
	}
	var req analyzeIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.analyzeIntentHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.Transcript == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: transcript"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), DefaultAnalyzeTimeout)
	defer cancel()
	in, err := s.ga.AnalyzeIntent(ctx, req.Transcript)
	if err != nil {
		slog.Error("Server.analyzeIntentHandler: intent analysis failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to analyze transcript"))
		return
	}
	result, err := s.dispatcher.Dispatch(in)
	if err != nil {
		slog.Warn("Server.analyzeIntentHandler: dispatch failed", "intent", in.Intent, "error", err)
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
		return
	}
	slog.Info("Server.analyzeIntentHandler: transcript dispatched", "intent", in.Intent)
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

// chatRequest carries a companion chat message with optional prior turns.
type chatRequest struct {
	Message string           `json:"message"`
	History []genai.ChatTurn `json:"history,omitempty"`
}

func (s *Server) chatHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if s.ga == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("GenAI client not configured"))
		return
	}
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.chatHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.Message == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: message"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), DefaultAnalyzeTimeout)
	defer cancel()
	reply, err := s.ga.Chat(ctx, req.History, req.Message)
	if err != nil {
		slog.Error("Server.chatHandler: chat failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to generate reply"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"reply": reply}))
}

func (s *Server) listRecordsHandler(w http.ResponseWriter, r *http.Request) {
	records, err := s.st.GetHealthRecords()
	if err != nil {
		slog.Error("Server.listRecordsHandler: failed to fetch records", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch records"))
		return
	}
	slog.Debug("Server.listRecordsHandler: records fetched", "count", len(records))
	writeJSONResponse(w, http.StatusOK, models.Success(records))
}

func (s *Server) addRecordHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var rec models.HealthRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		slog.Warn("Server.addRecordHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := rec.Validate(); err != nil {
		slog.Warn("Server.addRecordHandler: validation failed", "error", err)
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
		return
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp == "" {
		rec.Timestamp = time.Now().Format(models.TakenTimeLayout)
	}
	if err := s.st.AddHealthRecord(rec); err != nil {
		slog.Error("Server.addRecordHandler: failed to store record", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to store record"))
		return
	}
	slog.Info("Server.addRecordHandler: record added", "id", rec.ID, "type", rec.Type)
	writeJSONResponse(w, http.StatusCreated, models.Success(rec))
}

func (s *Server) resetHandler(w http.ResponseWriter, r *http.Request) {
	count, err := s.engine.DailyReset()
	if err != nil {
		slog.Error("Server.resetHandler: reset failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to reset statuses"))
		return
	}
	slog.Info("Server.resetHandler: daily reset complete", "reset_count", count)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Statuses reset", count))
}
