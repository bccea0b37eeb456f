package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/StatusPipe/internal/logfields"
	"github.com/BTreeMap/StatusPipe/internal/models"
	"github.com/BTreeMap/StatusPipe/internal/status"
	"github.com/BTreeMap/StatusPipe/internal/store"
)

type diagnosisRequest struct {
	Symptoms  models.Symptoms `json:"symptoms"`
	StartDate *time.Time      `json:"start_date"`
}

type checkinRequest struct {
	Symptoms models.Symptoms `json:"symptoms"`
}

type testResultRequest struct {
	Result             string    `json:"result"`
	TestTimestamp      time.Time `json:"test_timestamp"`
	Type               string    `json:"type"`
	AcknowledgementURL string    `json:"acknowledgement_url"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, ok(map[string]string{"status": "ok"}))
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	s.respondWithState(w, r, http.StatusOK, "")
}

// operationHandler serves the operations that take no input.
func (s *Server) operationHandler(name string, op func(StatusService, context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.finish(w, r, name, op(s.status, r.Context()))
	}
}

func (s *Server) diagnosisHandler(w http.ResponseWriter, r *http.Request) {
	var req diagnosisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.diagnosisHandler: failed to decode JSON", logfields.Error(err))
		writeJSONResponse(w, http.StatusBadRequest, failure("Invalid JSON format: "+err.Error()))
		return
	}
	if req.StartDate == nil {
		writeJSONResponse(w, http.StatusBadRequest, failure("Missing required field: start_date"))
		return
	}
	s.finish(w, r, "self_diagnose", s.status.SelfDiagnose(r.Context(), req.Symptoms, *req.StartDate))
}

func (s *Server) checkinHandler(w http.ResponseWriter, r *http.Request) {
	var req checkinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.checkinHandler: failed to decode JSON", logfields.Error(err))
		writeJSONResponse(w, http.StatusBadRequest, failure("Invalid JSON format: "+err.Error()))
		return
	}
	s.finish(w, r, "checkin", s.status.Checkin(r.Context(), req.Symptoms))
}

func (s *Server) testResultHandler(w http.ResponseWriter, r *http.Request) {
	var req testResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.testResultHandler: failed to decode JSON", logfields.Error(err))
		writeJSONResponse(w, http.StatusBadRequest, failure("Invalid JSON format: "+err.Error()))
		return
	}
	kind, err := models.ParseTestResultKind(req.Result)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, failure(err.Error()))
		return
	}
	if req.TestTimestamp.IsZero() {
		writeJSONResponse(w, http.StatusBadRequest, failure("Missing required field: test_timestamp"))
		return
	}
	result := models.TestResult{
		Result:             kind,
		TestTimestamp:      req.TestTimestamp,
		Type:               req.Type,
		AcknowledgementURL: req.AcknowledgementURL,
	}
	s.finish(w, r, "received", s.status.Received(r.Context(), result))
}

func (s *Server) mailboxHandler(w http.ResponseWriter, r *http.Request) {
	msg, err := s.mailbox.Receive(r.Context())
	if err != nil {
		slog.Error("Server.mailboxHandler: receive failed", logfields.Error(err))
		writeJSONResponse(w, http.StatusInternalServerError, failure("Failed to read mailbox"))
		return
	}
	if msg == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSONResponse(w, http.StatusOK, ok(msg))
}

func (s *Server) contactEventHandler(w http.ResponseWriter, r *http.Request) {
	var ev store.ContactEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		slog.Warn("Server.contactEventHandler: failed to decode JSON", logfields.Error(err))
		writeJSONResponse(w, http.StatusBadRequest, failure("Invalid JSON format: "+err.Error()))
		return
	}
	if ev.PeerID == "" {
		writeJSONResponse(w, http.StatusBadRequest, failure("Missing required field: peer_id"))
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now()
	}
	ev.ID = ""
	id, err := s.contacts.AddContactEvent(r.Context(), ev)
	if err != nil {
		slog.Error("Server.contactEventHandler: store failed", logfields.Error(err))
		writeJSONResponse(w, http.StatusInternalServerError, failure("Failed to record contact event"))
		return
	}
	writeJSONResponse(w, http.StatusCreated, ok(map[string]string{"id": id}))
}

// finish maps the outcome of an operation to a reply. Invalid input is a 400.
// A side effect failure still committed the transition, so the new state is
// returned with 202 and the failure in the error field.
func (s *Server) finish(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case err == nil:
		s.respondWithState(w, r, http.StatusOK, "")
	case errors.Is(err, status.ErrInvalidInput):
		slog.Warn("Server.finish: invalid input", logfields.Operation(op), logfields.Error(err))
		writeJSONResponse(w, http.StatusBadRequest, failure(err.Error()))
	case errors.Is(err, status.ErrSideEffect):
		slog.Warn("Server.finish: side effect failed", logfields.Operation(op), logfields.Error(err))
		s.respondWithState(w, r, http.StatusAccepted, err.Error())
	default:
		slog.Error("Server.finish: operation failed", logfields.Operation(op), logfields.Error(err))
		writeJSONResponse(w, http.StatusInternalServerError, failure("Operation failed: "+op))
	}
}

func (s *Server) respondWithState(w http.ResponseWriter, r *http.Request, code int, warning string) {
	state, err := s.status.State(r.Context())
	if err != nil {
		slog.Error("Server.respondWithState: load failed", logfields.Error(err))
		writeJSONResponse(w, http.StatusInternalServerError, failure("Failed to load status"))
		return
	}
	data, err := models.MarshalStatusState(state)
	if err != nil {
		slog.Error("Server.respondWithState: encode failed", logfields.Error(err))
		writeJSONResponse(w, http.StatusInternalServerError, failure("Failed to encode status"))
		return
	}
	writeJSONResponse(w, code, Response{Success: true, Data: json.RawMessage(data), Error: warning})
}
