package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/undarez/synexa-sub003/config"
	"github.com/undarez/synexa-sub003/internal/domain"
	"github.com/undarez/synexa-sub003/internal/service"
	"github.com/undarez/synexa-sub003/internal/storage"
)

// APIResponse is the uniform envelope every endpoint returns.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type ReminderResponse struct {
	ID       int64   `json:"id"`
	Title    string  `json:"title"`
	Notes    string  `json:"notes,omitempty"`
	Rule     string  `json:"rule"`
	NextRun  *string `json:"next_run,omitempty"`
	LastSent *string `json:"last_sent,omitempty"`
	IsActive bool    `json:"is_active"`
}

type StepResponse struct {
	Order        int                   `json:"order"`
	ActionType   string                `json:"action_type"`
	DeviceID     *int64                `json:"device_id,omitempty"`
	Payload      domain.CommandPayload `json:"payload"`
	DelaySeconds int                   `json:"delay_seconds,omitempty"`
}

type RoutineResponse struct {
	ID          int64          `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	IsActive    bool           `json:"is_active"`
	TriggerType string         `json:"trigger_type"`
	TriggerData string         `json:"trigger_data,omitempty"`
	Steps       []StepResponse `json:"steps"`
}

type DeviceResponse struct {
	ID         int64   `json:"id"`
	Name       string  `json:"name"`
	Provider   string  `json:"provider"`
	ExternalID string  `json:"external_id,omitempty"`
	Room       string  `json:"room,omitempty"`
	LastSeenAt *string `json:"last_seen_at,omitempty"`
}

// Reloader lets the server nudge the scheduler after routine changes.
type Reloader interface {
	Reload() error
}

// Server exposes the REST API over basic auth.
type Server struct {
	cfg      *config.Config
	storage  *storage.Storage
	reminder *service.ReminderService
	routine  *service.RoutineService
	device   *service.DeviceService
	agenda   *service.AgendaService
	reloader Reloader
	log      zerolog.Logger

	httpServer *http.Server
}

func New(cfg *config.Config, st *storage.Storage, reminderSvc *service.ReminderService, routineSvc *service.RoutineService, deviceSvc *service.DeviceService, agendaSvc *service.AgendaService, reloader Reloader, log zerolog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		storage:  st,
		reminder: reminderSvc,
		routine:  routineSvc,
		device:   deviceSvc,
		agenda:   agendaSvc,
		reloader: reloader,
		log:      log.With().Str("component", "api").Logger(),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/reminders", s.basicAuth(s.apiReminders))
	mux.HandleFunc("/api/reminder/", s.basicAuth(s.apiReminder))

	mux.HandleFunc("/api/routines", s.basicAuth(s.apiRoutines))
	mux.HandleFunc("/api/routine/", s.basicAuth(s.apiRoutine))

	mux.HandleFunc("/api/devices", s.basicAuth(s.apiDevices))
	mux.HandleFunc("/api/device/", s.basicAuth(s.apiDevice))
	mux.HandleFunc("/api/providers", s.basicAuth(s.apiProviders))

	mux.HandleFunc("/api/agenda", s.basicAuth(s.apiAgenda))
	mux.HandleFunc("/api/agenda.ics", s.basicAuth(s.apiAgendaICS))

	return mux
}

func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    ":" + s.cfg.ServerPort,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Error().Err(err).Msg("server shutdown failed")
		}
	}()

	s.log.Info().Str("port", s.cfg.ServerPort).Msg("api server started")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) basicAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok || username != s.cfg.APIUsername || password != s.cfg.APIPassword {
			w.Header().Set("WWW-Authenticate", `Basic realm="Synexa API"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(APIResponse{Success: true, Data: data})
}

func (s *Server) jsonStatus(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{Success: true, Data: data})
}

func (s *Server) jsonError(w http.ResponseWriter, err string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{Success: false, Error: err})
}

// serviceError maps service failures onto HTTP statuses.
func (s *Server) serviceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		s.jsonError(w, "not found", http.StatusNotFound)
	case errors.Is(err, service.ErrAccessDenied):
		s.jsonError(w, "access denied", http.StatusForbidden)
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, domain.ErrInvalidRule):
		s.jsonError(w, err.Error(), http.StatusBadRequest)
	default:
		s.log.Error().Err(err).Msg("request failed")
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
	}
}

// ownerUser resolves the configured owner account. The single-tenant API
// always acts as this user.
func (s *Server) ownerUser() (*domain.User, error) {
	user, err := s.storage.GetUserByEmail(s.cfg.OwnerEmail)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("owner user %q not provisioned", s.cfg.OwnerEmail)
	}
	return user, nil
}

// pathID parses "/api/thing/{id}[/sub]" into the id and optional sub-action.
func pathID(path, prefix string) (int64, string, error) {
	rest := strings.TrimPrefix(path, prefix)
	parts := strings.SplitN(rest, "/", 2)
	if parts[0] == "" {
		return 0, "", fmt.Errorf("id required")
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("invalid id %q", parts[0])
	}
	sub := ""
	if len(parts) > 1 {
		sub = parts[1]
	}
	return id, sub, nil
}

// GET /api/reminders - list reminders
// POST /api/reminders - create reminder
func (s *Server) apiReminders(w http.ResponseWriter, r *http.Request) {
	user, err := s.ownerUser()
	if err != nil {
		s.serviceError(w, err)
		return
	}

	switch r.Method {
	case http.MethodGet:
		reminders, err := s.reminder.List(user.ID)
		if err != nil {
			s.serviceError(w, err)
			return
		}
		s.jsonResponse(w, remindersToResponse(reminders))

	case http.MethodPost:
		var req struct {
			Title string `json:"title"`
			Notes string `json:"notes"`
			Rule  string `json:"rule"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.jsonError(w, "invalid JSON", http.StatusBadRequest)
			return
		}

		reminder, err := s.reminder.Create(user.ID, req.Title, req.Notes, req.Rule)
		if err != nil {
			s.serviceError(w, err)
			return
		}
		s.jsonResponse(w, reminderToResponse(reminder))

	default:
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// GET /api/reminder/{id} - get reminder
// DELETE /api/reminder/{id} - delete reminder
// POST /api/reminder/{id}/complete - mark sent, advancing the next run
func (s *Server) apiReminder(w http.ResponseWriter, r *http.Request) {
	user, err := s.ownerUser()
	if err != nil {
		s.serviceError(w, err)
		return
	}

	id, sub, err := pathID(r.URL.Path, "/api/reminder/")
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if sub == "complete" {
		if r.Method != http.MethodPost {
			s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := s.reminder.MarkSent(id, user.ID); err != nil {
			s.serviceError(w, err)
			return
		}
		reminder, err := s.reminder.Get(id, user.ID)
		if err != nil {
			s.serviceError(w, err)
			return
		}
		s.jsonResponse(w, reminderToResponse(reminder))
		return
	}

	switch r.Method {
	case http.MethodGet:
		reminder, err := s.reminder.Get(id, user.ID)
		if err != nil {
			s.serviceError(w, err)
			return
		}
		s.jsonResponse(w, reminderToResponse(reminder))

	case http.MethodDelete:
		if err := s.reminder.Delete(id, user.ID); err != nil {
			s.serviceError(w, err)
			return
		}
		// Best effort: a published CalDAV series should not outlive its reminder.
		if err := s.agenda.Unpublish(r.Context(), id); err != nil {
			s.log.Warn().Err(err).Int64("reminder", id).Msg("caldav cleanup failed")
		}
		s.jsonResponse(w, map[string]bool{"deleted": true})

	default:
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type routineRequest struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	IsActive    *bool              `json:"is_active"`
	TriggerType string             `json:"trigger_type"`
	TriggerData string             `json:"trigger_data"`
	Steps       []domain.StepInput `json:"steps"`
}

// GET /api/routines - list routines
// POST /api/routines - create routine
func (s *Server) apiRoutines(w http.ResponseWriter, r *http.Request) {
	user, err := s.ownerUser()
	if err != nil {
		s.serviceError(w, err)
		return
	}

	switch r.Method {
	case http.MethodGet:
		routines, err := s.routine.List(user.ID)
		if err != nil {
			s.serviceError(w, err)
			return
		}
		s.jsonResponse(w, routinesToResponse(routines))

	case http.MethodPost:
		var req routineRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.jsonError(w, "invalid JSON", http.StatusBadRequest)
			return
		}

		routine, err := s.routine.Create(user.ID, req.Name, req.Description, domain.TriggerType(req.TriggerType), req.TriggerData, req.Steps)
		if err != nil {
			s.serviceError(w, err)
			return
		}
		s.reloadSchedules()
		s.jsonResponse(w, routineToResponse(routine))

	default:
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// GET /api/routine/{id} - get routine with steps
// PUT /api/routine/{id} - update routine, steps replaced wholesale
// DELETE /api/routine/{id} - delete routine
// POST /api/routine/{id}/execute - run the routine now
func (s *Server) apiRoutine(w http.ResponseWriter, r *http.Request) {
	user, err := s.ownerUser()
	if err != nil {
		s.serviceError(w, err)
		return
	}

	id, sub, err := pathID(r.URL.Path, "/api/routine/")
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if sub == "execute" {
		if r.Method != http.MethodPost {
			s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req struct {
			DryRun bool `json:"dry_run"`
		}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&req)
		}

		result, err := s.routine.Execute(r.Context(), id, user.ID, service.ExecuteOptions{
			DryRun:   req.DryRun,
			Metadata: map[string]string{"trigger": "api"},
		})
		if err != nil && result == nil {
			s.serviceError(w, err)
			return
		}
		s.jsonStatus(w, http.StatusAccepted, result)
		return
	}

	switch r.Method {
	case http.MethodGet:
		routine, err := s.routine.Get(id, user.ID)
		if err != nil {
			s.serviceError(w, err)
			return
		}
		s.jsonResponse(w, routineToResponse(routine))

	case http.MethodPut:
		var req routineRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.jsonError(w, "invalid JSON", http.StatusBadRequest)
			return
		}

		active := true
		if req.IsActive != nil {
			active = *req.IsActive
		}
		trigger := domain.TriggerType(req.TriggerType)
		if trigger == "" {
			trigger = domain.TriggerManual
		}

		routine, err := s.routine.Update(id, user.ID, req.Name, req.Description, active, trigger, req.TriggerData, req.Steps)
		if err != nil {
			s.serviceError(w, err)
			return
		}
		s.reloadSchedules()
		s.jsonResponse(w, routineToResponse(routine))

	case http.MethodDelete:
		if err := s.routine.Delete(id, user.ID); err != nil {
			s.serviceError(w, err)
			return
		}
		s.reloadSchedules()
		s.jsonResponse(w, map[string]bool{"deleted": true})

	default:
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) reloadSchedules() {
	if s.reloader == nil {
		return
	}
	if err := s.reloader.Reload(); err != nil {
		s.log.Error().Err(err).Msg("schedule reload failed")
	}
}

// GET /api/devices - list devices
// POST /api/devices - register device
func (s *Server) apiDevices(w http.ResponseWriter, r *http.Request) {
	user, err := s.ownerUser()
	if err != nil {
		s.serviceError(w, err)
		return
	}

	switch r.Method {
	case http.MethodGet:
		devices, err := s.device.List(user.ID)
		if err != nil {
			s.serviceError(w, err)
			return
		}
		s.jsonResponse(w, devicesToResponse(devices))

	case http.MethodPost:
		var req struct {
			Name          string `json:"name"`
			Provider      string `json:"provider"`
			ExternalID    string `json:"external_id"`
			BridgeAddress string `json:"bridge_address"`
			Credentials   string `json:"credentials"`
			Room          string `json:"room"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.jsonError(w, "invalid JSON", http.StatusBadRequest)
			return
		}

		device, err := s.device.Register(user.ID, &domain.Device{
			Name:          req.Name,
			Provider:      req.Provider,
			ExternalID:    req.ExternalID,
			BridgeAddress: req.BridgeAddress,
			Credentials:   req.Credentials,
			Room:          req.Room,
		})
		if err != nil {
			s.serviceError(w, err)
			return
		}
		s.jsonResponse(w, deviceToResponse(device))

	default:
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// GET /api/device/{id} - get device
// DELETE /api/device/{id} - remove device
// POST /api/device/{id}/command - send a command
func (s *Server) apiDevice(w http.ResponseWriter, r *http.Request) {
	user, err := s.ownerUser()
	if err != nil {
		s.serviceError(w, err)
		return
	}

	id, sub, err := pathID(r.URL.Path, "/api/device/")
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if sub == "command" {
		if r.Method != http.MethodPost {
			s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var cmd domain.Command
		if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
			s.jsonError(w, "invalid JSON", http.StatusBadRequest)
			return
		}
		if cmd.Action == "" {
			s.jsonError(w, "action is required", http.StatusBadRequest)
			return
		}

		result, err := s.device.Dispatch(r.Context(), id, user.ID, cmd)
		if err != nil {
			s.serviceError(w, err)
			return
		}
		s.jsonResponse(w, result)
		return
	}

	switch r.Method {
	case http.MethodGet:
		device, err := s.device.Get(id, user.ID)
		if err != nil {
			s.serviceError(w, err)
			return
		}
		s.jsonResponse(w, deviceToResponse(device))

	case http.MethodDelete:
		if err := s.device.Delete(id, user.ID); err != nil {
			s.serviceError(w, err)
			return
		}
		s.jsonResponse(w, map[string]bool{"deleted": true})

	default:
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// GET /api/providers - providers with a registered connector
func (s *Server) apiProviders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.jsonResponse(w, s.device.Providers())
}

// agendaWindow parses the optional ?days=N query, defaulting to 7.
func (s *Server) agendaWindow(r *http.Request) (time.Time, time.Time) {
	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 && n <= 90 {
			days = n
		}
	}
	from := time.Now().In(s.cfg.Timezone)
	return from, from.AddDate(0, 0, days)
}

// GET /api/agenda - upcoming occurrences as JSON
func (s *Server) apiAgenda(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	user, err := s.ownerUser()
	if err != nil {
		s.serviceError(w, err)
		return
	}

	from, until := s.agendaWindow(r)
	occurrences, err := s.agenda.Occurrences(user.ID, from, until)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.jsonResponse(w, occurrences)
}

// GET /api/agenda.ics - upcoming occurrences as an iCalendar feed
func (s *Server) apiAgendaICS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	user, err := s.ownerUser()
	if err != nil {
		s.serviceError(w, err)
		return
	}

	from, until := s.agendaWindow(r)
	ics, err := s.agenda.BuildICS(user.ID, from, until)
	if err != nil {
		s.serviceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Write([]byte(ics))
}

func remindersToResponse(reminders []*domain.Reminder) []ReminderResponse {
	result := make([]ReminderResponse, 0, len(reminders))
	for _, r := range reminders {
		result = append(result, reminderToResponse(r))
	}
	return result
}

func reminderToResponse(r *domain.Reminder) ReminderResponse {
	resp := ReminderResponse{
		ID:       r.ID,
		Title:    r.Title,
		Notes:    r.Notes,
		Rule:     domain.FormatRule(r.Rule),
		IsActive: r.IsActive,
	}
	if r.NextRun != nil {
		v := r.NextRun.Format(time.RFC3339)
		resp.NextRun = &v
	}
	if r.LastSent != nil {
		v := r.LastSent.Format(time.RFC3339)
		resp.LastSent = &v
	}
	return resp
}

func routinesToResponse(routines []*domain.Routine) []RoutineResponse {
	result := make([]RoutineResponse, 0, len(routines))
	for _, r := range routines {
		result = append(result, routineToResponse(r))
	}
	return result
}

func routineToResponse(r *domain.Routine) RoutineResponse {
	steps := make([]StepResponse, 0, len(r.Steps))
	for _, s := range r.Steps {
		steps = append(steps, StepResponse{
			Order:        s.Order,
			ActionType:   s.ActionType,
			DeviceID:     s.DeviceID,
			Payload:      s.Payload,
			DelaySeconds: s.DelaySeconds,
		})
	}
	return RoutineResponse{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		IsActive:    r.IsActive,
		TriggerType: string(r.TriggerType),
		TriggerData: r.TriggerData,
		Steps:       steps,
	}
}

func devicesToResponse(devices []*domain.Device) []DeviceResponse {
	result := make([]DeviceResponse, 0, len(devices))
	for _, d := range devices {
		result = append(result, deviceToResponse(d))
	}
	return result
}

func deviceToResponse(d *domain.Device) DeviceResponse {
	resp := DeviceResponse{
		ID:         d.ID,
		Name:       d.Name,
		Provider:   d.Provider,
		ExternalID: d.ExternalID,
		Room:       d.Room,
	}
	if d.LastSeenAt != nil {
		v := d.LastSeenAt.Format(time.RFC3339)
		resp.LastSeenAt = &v
	}
	return resp
}
