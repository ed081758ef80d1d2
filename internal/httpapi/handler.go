package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"ddrc/queue-service/internal/catalog"
	"ddrc/queue-service/internal/models"
	"ddrc/queue-service/internal/registration"
	"ddrc/queue-service/internal/seed"
	"ddrc/queue-service/internal/store"
	"ddrc/queue-service/internal/views"
)

type Handler struct {
	engine   store.QueueStore
	catalog  *catalog.Catalog
	flow     *registration.Flow
	sessions *views.Sessions
	history  EventHistory
	seed     seed.Catalog
	now      func() time.Time
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Options struct {
	// Seed is the catalog restored by POST /api/admin/reset.
	Seed seed.Catalog
	// History backs the token history and event feed endpoints. Optional.
	History EventHistory
	Now     func() time.Time
}

func NewHandler(engine store.QueueStore, cat *catalog.Catalog, flow *registration.Flow, sessions *views.Sessions, options Options) *Handler {
	now := options.Now
	if now == nil {
		now = time.Now
	}
	return &Handler{
		engine:   engine,
		catalog:  cat,
		flow:     flow,
		sessions: sessions,
		history:  options.History,
		seed:     options.Seed,
		now:      now,
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/admin/reset", h.handleReset)
	mux.HandleFunc("/api/catalog/", h.handleCatalog)
	mux.HandleFunc("/api/registrations", h.handleRegistrations)
	mux.HandleFunc("/api/registrations/", h.handleRegistrationActions)
	mux.HandleFunc("/api/queues", h.handleQueues)
	mux.HandleFunc("/api/queues/", h.handleQueueActions)
	mux.HandleFunc("/api/tokens/", h.handleTokenActions)
	mux.HandleFunc("/api/patients", h.handlePatients)
	mux.HandleFunc("/api/patients/", h.handlePatientDetail)
	mux.HandleFunc("/api/display", h.handleDisplay)
	mux.HandleFunc("/api/kanban", h.handleKanban)
	mux.HandleFunc("/api/dashboard", h.handleDashboard)
	mux.HandleFunc("/api/events", h.handleEvents)
	mux.HandleFunc("/api/staff/sessions", h.handleStaffSessions)
	mux.HandleFunc("/api/staff/sessions/", h.handleStaffSessionActions)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleReset restores the seeded catalog and queue state.
func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	h.catalog.Reset(h.seed)
	if err := h.engine.Reset(); err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"counter": h.engine.Counter(),
		"queues":  h.engine.Queues(),
	})
}

// ---- registrations

type confirmRequest struct {
	PaymentMode string `json:"payment_mode"`
}

func (h *Handler) handleRegistrations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var in registration.Input
	if !decodeRequest(w, r, &in) {
		return
	}
	pending, err := h.flow.Stage(in)
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, pending)
}

func (h *Handler) handleRegistrationActions(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r.URL.Path, "/api/registrations/")
	if len(parts) == 0 || len(parts) > 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	id := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			pending, ok := h.flow.Pending(id)
			if !ok {
				writeMappedError(w, r, registration.ErrNotStaged)
				return
			}
			writeJSON(w, http.StatusOK, pending)
		case http.MethodDelete:
			if err := h.flow.Reset(id); err != nil {
				writeMappedError(w, r, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	switch parts[1] {
	case "confirm":
		var req confirmRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		receipt, err := h.flow.Confirm(r.Context(), id, strings.TrimSpace(req.PaymentMode))
		if errors.Is(err, registration.ErrPaymentPending) {
			pending, _ := h.flow.Pending(id)
			writeJSON(w, http.StatusAccepted, pending)
			return
		}
		if err != nil {
			writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, receipt)
	case "confirm-online":
		receipt, err := h.flow.ConfirmOnlinePayment(r.Context(), id)
		if err != nil {
			writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, receipt)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// ---- queues

type enqueueRequest struct {
	Token string `json:"token"`
}

type reorderRequest struct {
	FromIndex int `json:"from_index"`
	ToIndex   int `json:"to_index"`
}

type queueResponse struct {
	DepartmentID string         `json:"department_id"`
	Tokens       []models.Token `json:"tokens"`
}

func (h *Handler) handleQueues(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.engine.Queues())
}

func (h *Handler) handleQueueActions(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r.URL.Path, "/api/queues/")
	if len(parts) == 0 || len(parts) > 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	deptID := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.writeQueue(w, r, deptID)
		return
	}

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	switch parts[1] {
	case "enqueue":
		var req enqueueRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		token, ok := parseToken(w, r, req.Token)
		if !ok {
			return
		}
		if err := h.engine.Enqueue(deptID, token); err != nil {
			writeMappedError(w, r, err)
			return
		}
		h.writeQueue(w, r, deptID)
	case "reorder":
		var req reorderRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		if err := h.engine.Reorder(deptID, req.FromIndex, req.ToIndex); err != nil {
			writeMappedError(w, r, err)
			return
		}
		h.writeQueue(w, r, deptID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) writeQueue(w http.ResponseWriter, r *http.Request, deptID string) {
	queue, err := h.engine.Queue(deptID)
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, queueResponse{DepartmentID: deptID, Tokens: queue})
}

// ---- tokens

type transferRequest struct {
	FromDepartmentID string `json:"from_department_id"`
	ToDepartmentID   string `json:"to_department_id"`
}

type moveRequest struct {
	ToDepartmentID string `json:"to_department_id"`
}

type departmentRequest struct {
	DepartmentID string `json:"department_id"`
}

type tagsRequest struct {
	Tags []string `json:"tags"`
}

type tokenResponse struct {
	Token        models.Token       `json:"token"`
	Status       models.TokenStatus `json:"status"`
	DepartmentID string             `json:"department_id,omitempty"`
	Patient      *models.Patient    `json:"patient,omitempty"`
	Events       []store.TokenEvent `json:"events"`
	View         *store.TokenView   `json:"view,omitempty"`
	JournalValid bool               `json:"journal_valid"`
}

func (h *Handler) handleTokenActions(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r.URL.Path, "/api/tokens/")
	if len(parts) == 0 || len(parts) > 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	token, ok := parseToken(w, r, parts[0])
	if !ok {
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.writeToken(w, r, token)
		return
	}

	switch parts[1] {
	case "transfer":
		h.handleTransfer(w, r, token)
	case "move":
		h.handleMove(w, r, token)
	case "call":
		h.handleCall(w, r, token)
	case "complete":
		h.handleComplete(w, r, token)
	case "tags":
		h.handleTags(w, r, token)
	case "history":
		h.handleTokenHistory(w, r, token)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request, token models.Token) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req transferRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if err := h.engine.Transfer(token, strings.TrimSpace(req.FromDepartmentID), strings.TrimSpace(req.ToDepartmentID)); err != nil {
		writeMappedError(w, r, err)
		return
	}
	h.writeToken(w, r, token)
}

func (h *Handler) handleMove(w http.ResponseWriter, r *http.Request, token models.Token) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req moveRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if _, err := h.engine.Move(token, strings.TrimSpace(req.ToDepartmentID)); err != nil {
		writeMappedError(w, r, err)
		return
	}
	h.writeToken(w, r, token)
}

func (h *Handler) handleCall(w http.ResponseWriter, r *http.Request, token models.Token) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req departmentRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if err := h.engine.Call(token, strings.TrimSpace(req.DepartmentID)); err != nil {
		writeMappedError(w, r, err)
		return
	}
	h.writeToken(w, r, token)
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request, token models.Token) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req departmentRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if _, err := h.engine.Complete(token, strings.TrimSpace(req.DepartmentID)); err != nil {
		writeMappedError(w, r, err)
		return
	}
	h.writeToken(w, r, token)
}

func (h *Handler) handleTags(w http.ResponseWriter, r *http.Request, token models.Token) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req tagsRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	patient, err := h.engine.SetTags(token, req.Tags)
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, patient)
}

func (h *Handler) writeToken(w http.ResponseWriter, r *http.Request, token models.Token) {
	resp := tokenResponse{
		Token:  token,
		Status: h.engine.TokenStatus(token),
		Events: h.engine.Events(token),
	}
	patient, hasPatient := h.engine.PatientByToken(token)
	if hasPatient {
		resp.Patient = &patient
	}
	if dept, ok := h.engine.LocateToken(token); ok {
		resp.DepartmentID = dept
	}
	if !hasPatient && resp.Status == models.TokenCreated && len(resp.Events) == 0 {
		writeMappedError(w, r, store.ErrTokenNotFound)
		return
	}
	resp.JournalValid = h.engine.VerifyJournal(token) == nil
	if len(resp.Events) > 0 && resp.JournalValid {
		if view, err := store.RehydrateToken(resp.Events); err == nil {
			resp.View = &view
		}
	}
	if resp.Events == nil {
		resp.Events = []store.TokenEvent{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ---- views

func (h *Handler) handleDisplay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, views.PublicBoard(h.engine.Queues(), h.catalog.Departments(), h.now()))
}

func (h *Handler) handleKanban(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	branchID, ok := h.branchParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, views.Kanban(h.engine, h.catalog, branchID))
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	branchID, ok := h.branchParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, views.DashboardFor(h.engine, branchID))
}

// branchParam reads the optional branch_id filter. An empty value means all
// branches.
func (h *Handler) branchParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	branchID := strings.TrimSpace(r.URL.Query().Get("branch_id"))
	if branchID == "" {
		return "", true
	}
	if _, ok := h.catalog.Branch(branchID); !ok {
		writeMappedError(w, r, store.ErrBranchNotFound)
		return "", false
	}
	return branchID, true
}

// ---- patients

type patientDetail struct {
	models.Patient
	BranchName   string             `json:"branch_name,omitempty"`
	TokenStatus  models.TokenStatus `json:"token_status"`
	DepartmentID string             `json:"department_id,omitempty"`
	TestDetails  []models.Test      `json:"test_details"`
}

// handlePatients lists registered patients, optionally narrowed to a region
// and/or a branch.
func (h *Handler) handlePatients(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var inRegion map[string]bool
	if regionID := strings.TrimSpace(r.URL.Query().Get("region_id")); regionID != "" {
		if _, ok := h.catalog.Region(regionID); !ok {
			writeMappedError(w, r, store.ErrRegionNotFound)
			return
		}
		inRegion = make(map[string]bool)
		for _, b := range h.catalog.BranchesInRegion(regionID) {
			inRegion[b.ID] = true
		}
	}
	branchID, ok := h.branchParam(w, r)
	if !ok {
		return
	}

	out := make([]models.Patient, 0)
	for _, p := range h.engine.Patients() {
		if branchID != "" && p.BranchID != branchID {
			continue
		}
		if inRegion != nil && !inRegion[p.BranchID] {
			continue
		}
		out = append(out, p)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handlePatientDetail(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r.URL.Path, "/api/patients/")
	if len(parts) != 1 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	token, ok := parseToken(w, r, parts[0])
	if !ok {
		return
	}
	patient, ok := h.engine.PatientByToken(token)
	if !ok {
		writeMappedError(w, r, store.ErrPatientNotFound)
		return
	}

	detail := patientDetail{
		Patient:     patient,
		TokenStatus: h.engine.TokenStatus(token),
		TestDetails: make([]models.Test, 0, len(patient.Tests)),
	}
	if branch, ok := h.catalog.Branch(patient.BranchID); ok {
		detail.BranchName = branch.Name
	}
	detail.DepartmentID, _ = h.engine.LocateToken(token)
	for _, id := range patient.Tests {
		test, ok := h.catalog.Test(id)
		if !ok {
			test = models.Test{ID: id}
		}
		detail.TestDetails = append(detail.TestDetails, test)
	}
	writeJSON(w, http.StatusOK, detail)
}

// ---- staff sessions

type openSessionRequest struct {
	UserID       string `json:"user_id"`
	DepartmentID string `json:"department_id"`
}

type selectRequest struct {
	Token string `json:"token"`
}

type assignRequest struct {
	ToDepartmentID string `json:"to_department_id"`
}

type staffActionResponse struct {
	Token models.Token `json:"token"`
	Panel views.Panel  `json:"panel"`
}

func (h *Handler) handleStaffSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req openSessionRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	sess, err := h.sessions.Open(strings.TrimSpace(req.UserID), strings.TrimSpace(req.DepartmentID))
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (h *Handler) handleStaffSessionActions(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r.URL.Path, "/api/staff/sessions/")
	if len(parts) == 0 || len(parts) > 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	id := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			h.writePanel(w, r, id)
		case http.MethodDelete:
			if err := h.sessions.Close(id); err != nil {
				writeMappedError(w, r, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	switch parts[1] {
	case "select":
		var req selectRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		token, ok := parseToken(w, r, req.Token)
		if !ok {
			return
		}
		if _, err := h.sessions.Select(id, token); err != nil {
			writeMappedError(w, r, err)
			return
		}
		h.writePanel(w, r, id)
	case "clear":
		if _, err := h.sessions.Clear(id); err != nil {
			writeMappedError(w, r, err)
			return
		}
		h.writePanel(w, r, id)
	case "call":
		token, err := h.sessions.Call(id)
		if err != nil {
			writeMappedError(w, r, err)
			return
		}
		h.writeStaffAction(w, r, id, token)
	case "assign":
		var req assignRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		token, err := h.sessions.AssignNext(id, strings.TrimSpace(req.ToDepartmentID))
		if err != nil {
			writeMappedError(w, r, err)
			return
		}
		h.writeStaffAction(w, r, id, token)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) writePanel(w http.ResponseWriter, r *http.Request, id string) {
	panel, err := h.sessions.Panel(id)
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, panel)
}

func (h *Handler) writeStaffAction(w http.ResponseWriter, r *http.Request, id string, token models.Token) {
	panel, err := h.sessions.Panel(id)
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, staffActionResponse{Token: token, Panel: panel})
}

// ---- helpers

func pathParts(path, prefix string) []string {
	trimmed := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func parseToken(w http.ResponseWriter, r *http.Request, raw string) (models.Token, bool) {
	token, err := models.ParseToken(strings.TrimSpace(raw))
	if err != nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_token", "token must look like T-<number>")
		return "", false
	}
	return token, true
}

func requestIDFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Request-ID"))
}

func decodeRequest(w http.ResponseWriter, r *http.Request, target any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

func mapError(err error) (int, string, string) {
	var validation *registration.ValidationError
	switch {
	case errors.As(err, &validation):
		return http.StatusUnprocessableEntity, "validation_failed", validation.Error()
	case errors.Is(err, store.ErrTokenNotFound):
		return http.StatusNotFound, "token_not_found", "token not found"
	case errors.Is(err, store.ErrDepartmentNotFound):
		return http.StatusNotFound, "department_not_found", err.Error()
	case errors.Is(err, store.ErrPatientNotFound):
		return http.StatusNotFound, "patient_not_found", "patient not found"
	case errors.Is(err, views.ErrSessionNotFound):
		return http.StatusNotFound, "session_not_found", "staff session not found"
	case errors.Is(err, registration.ErrNotStaged):
		return http.StatusNotFound, "registration_not_found", "registration not found"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found", err.Error()
	case errors.Is(err, store.ErrTokenQueued):
		return http.StatusConflict, "token_queued", "token is already queued"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "token state does not allow this action"
	case errors.Is(err, registration.ErrNotAwaitingPayment):
		return http.StatusConflict, "not_awaiting_payment", "registration is not awaiting online payment"
	case errors.Is(err, store.ErrInvalidEntity):
		return http.StatusUnprocessableEntity, "invalid_entity", err.Error()
	case errors.Is(err, store.ErrInvalidOperation):
		return http.StatusBadRequest, "invalid_operation", err.Error()
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeMappedError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := mapError(err)
	writeError(w, requestIDFromRequest(r), status, code, msg)
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
