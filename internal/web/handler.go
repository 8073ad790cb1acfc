// Package web serves the admin API: the command surface, flow listings,
// events and the live websocket feed.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/funnyzak/replaytap/internal/capture"
	"github.com/funnyzak/replaytap/internal/command"
	"github.com/funnyzak/replaytap/internal/config"
	"github.com/funnyzak/replaytap/internal/eventlog"
	"github.com/funnyzak/replaytap/internal/hooks"
	"github.com/funnyzak/replaytap/internal/logger"
	"github.com/funnyzak/replaytap/internal/replay"
	"github.com/funnyzak/replaytap/internal/storage"
	"github.com/funnyzak/replaytap/pkg/flow"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
	maxUploadBytes   = 32 << 20
	contentTypeJSON  = "application/json"
)

// Websocket event types.
const (
	EventUpdate = "update"
	EventReplay = "replay"
	EventLog    = "log"
	EventClear  = "clear"
)

// Options wires the service to the rest of the engine.
type Options struct {
	Commands *command.Registry
	Events   *eventlog.Store
	// History is optional; without it the replay history route is disabled.
	History storage.Store
}

// Service bundles the admin API capabilities. It also observes the replay
// engine: it implements replay.Notifier and hooks.Hook.
type Service struct {
	cfg      *config.APIConfig
	logger   logger.Logger
	commands *command.Registry
	events   *eventlog.Store
	history  storage.Store
	view     *FlowView
	hub      *WebsocketHub
	auth     *TokenAuth
}

// NewService builds a Service from configuration.
func NewService(cfg *config.APIConfig, opts Options, log logger.Logger) *Service {
	if opts.Commands == nil {
		opts.Commands = command.NewRegistry()
	}
	s := &Service{
		cfg:      cfg,
		logger:   log,
		commands: opts.Commands,
		events:   opts.Events,
		history:  opts.History,
		view:     NewFlowView(cfg.MaxFlows),
		hub:      NewWebsocketHub(log),
		auth:     NewTokenAuth(cfg.Token),
	}
	if s.events != nil {
		s.events.Subscribe(func(kind string, e *eventlog.Entry) {
			if kind == eventlog.ChangeClear {
				s.hub.Broadcast(Event{Type: EventClear})
				return
			}
			s.hub.Broadcast(Event{Type: EventLog, Data: e})
		})
	}
	return s
}

// Flows returns the flow view backing replay.client lookups.
func (s *Service) Flows() *FlowView {
	return s.view
}

// Hub returns the websocket hub.
func (s *Service) Hub() *WebsocketHub {
	return s.hub
}

// Update implements replay.Notifier.
func (s *Service) Update(flows []*flow.Flow) {
	records := make([]*flow.Record, 0, len(flows))
	for _, f := range flows {
		records = append(records, s.view.Put(f))
	}
	s.hub.Broadcast(Event{Type: EventUpdate, Data: records})
}

// OnPhase implements hooks.Hook. Finished replays are snapshotted into the
// view and pushed to websocket clients.
func (s *Service) OnPhase(_ context.Context, phase hooks.Phase, f *flow.Flow) hooks.Verdict {
	if phase == hooks.PhaseResponse || phase == hooks.PhaseError {
		s.hub.Broadcast(Event{Type: EventReplay, Data: s.view.Put(f)})
	}
	return hooks.Pass()
}

// RegisterRoutes wires HTTP routes into the provided router.
func (s *Service) RegisterRoutes(router *mux.Router) {
	if s == nil || !s.cfg.Enable {
		return
	}

	api := router.PathPrefix(normalizePath(s.cfg.BasePath)).Subrouter()
	api.Use(s.auth.Middleware)

	api.HandleFunc("/commands", s.handleCommands).Methods(http.MethodGet)
	api.HandleFunc("/commands/{name}", s.handleCommand).Methods(http.MethodPost)

	api.HandleFunc("/replay/client", s.handleReplayRecords).Methods(http.MethodPost)
	api.HandleFunc("/replay/client/file", s.handleReplayFile).Methods(http.MethodPost)
	api.HandleFunc("/replay/client/count", s.commandRoute(command.ReplayClientCount)).Methods(http.MethodGet)
	api.HandleFunc("/replay/client/stop", s.commandRoute(command.ReplayClientStop)).Methods(http.MethodPost)

	api.HandleFunc("/flows", s.handleFlows).Methods(http.MethodGet)
	api.HandleFunc("/flows/export", s.handleExport).Methods(http.MethodGet)
	api.HandleFunc("/flows/{id}", s.handleFlow).Methods(http.MethodGet)
	api.HandleFunc("/flows/{id}/replays", s.handleReplays).Methods(http.MethodGet)

	api.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	api.HandleFunc("/events", s.commandRoute(command.EventStoreClear)).Methods(http.MethodDelete)

	api.HandleFunc("/ws", s.handleWebsocket).Methods(http.MethodGet)
}

// Close releases resources.
func (s *Service) Close() {
	if s == nil {
		return
	}
	s.hub.Close()
}

func (s *Service) handleCommands(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"data": s.commands.Commands()})
}

func (s *Service) handleCommand(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Args []string `json:"args"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}
	s.call(w, r, mux.Vars(r)["name"], payload.Args)
}

func (s *Service) commandRoute(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.call(w, r, name, nil)
	}
}

func (s *Service) handleReplayFile(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || strings.TrimSpace(payload.Path) == "" {
		http.Error(w, "path is required", http.StatusBadRequest)
		return
	}
	s.call(w, r, command.ReplayClientFile, []string{payload.Path})
}

// handleReplayRecords accepts capture records in any JSON capture layout,
// adds them to the view and queues them.
func (s *Service) handleReplayRecords(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}
	records, err := capture.DecodeJSON(data)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid capture records: %v", err), http.StatusBadRequest)
		return
	}
	if len(records) == 0 {
		http.Error(w, "No flows given", http.StatusBadRequest)
		return
	}

	ids := make([]string, 0, len(records))
	for _, rec := range records {
		f, err := rec.Flow()
		if err != nil {
			http.Error(w, fmt.Sprintf("Invalid capture records: %v", err), http.StatusBadRequest)
			return
		}
		s.view.Put(f)
		ids = append(ids, f.ID)
	}
	s.call(w, r, command.ReplayClient, ids)
}

func (s *Service) call(w http.ResponseWriter, r *http.Request, name string, args []string) {
	result, err := s.commands.Call(r.Context(), name, args)
	if err != nil {
		s.respondCommandError(w, name, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"command": name, "result": result})
}

func (s *Service) respondCommandError(w http.ResponseWriter, name string, err error) {
	var (
		cmdErr *replay.CommandError
		argErr *command.ArgumentError
	)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, command.ErrUnknownCommand):
		status = http.StatusNotFound
	case errors.As(err, &cmdErr), errors.As(err, &argErr):
		status = http.StatusBadRequest
	default:
		s.logger.Error("Command failed", "command", name, "error", err)
	}
	s.respondJSON(w, status, map[string]string{"command": name, "error": err.Error()})
}

func (s *Service) handleFlows(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := parseIntDefault(query.Get("limit"), defaultListLimit)
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := parseIntDefault(query.Get("offset"), 0)

	items, total := s.view.List(ListOptions{
		Search: query.Get("search"),
		Method: query.Get("method"),
		Limit:  limit,
		Offset: offset,
	})

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"data":   items,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (s *Service) handleFlow(w http.ResponseWriter, r *http.Request) {
	record, ok := s.view.Get(mux.Vars(r)["id"])
	if !ok {
		http.Error(w, "Flow not found", http.StatusNotFound)
		return
	}
	s.respondJSON(w, http.StatusOK, record)
}

func (s *Service) handleReplays(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.Error(w, "Replay history unavailable", http.StatusServiceUnavailable)
		return
	}
	replays, err := s.history.GetReplays(mux.Vars(r)["id"])
	if err != nil {
		s.logger.Error("Failed to load replay history", "error", err)
		http.Error(w, "Failed to load replay history", http.StatusInternalServerError)
		return
	}
	if replays == nil {
		replays = []*storage.ReplayRecord{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"data": replays})
}

func (s *Service) handleExport(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = "json"
	}
	if !supportedFormat(format) {
		http.Error(w, fmt.Sprintf("Unsupported export format: %s", format), http.StatusBadRequest)
		return
	}

	items, _ := s.view.List(ListOptions{
		Search: r.URL.Query().Get("search"),
		Method: r.URL.Query().Get("method"),
	})
	// oldest first, so the export replays in capture order
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}

	data, contentType, ext, err := ExportFlows(items, format)
	if err != nil {
		http.Error(w, "Failed to export data", http.StatusInternalServerError)
		s.logger.Error("Export failed", "error", err)
		return
	}

	filename := fmt.Sprintf("replaytap_flows_%d.%s", time.Now().Unix(), ext)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Service) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		s.respondJSON(w, http.StatusOK, map[string]interface{}{"data": []*eventlog.Entry{}, "total": 0})
		return
	}
	query := r.URL.Query()
	limit := parseIntDefault(query.Get("limit"), defaultListLimit)
	if limit > maxListLimit {
		limit = maxListLimit
	}
	items, total := s.events.List(eventlog.ListOptions{
		Level:  query.Get("level"),
		Search: query.Get("search"),
		Limit:  limit,
		Offset: parseIntDefault(query.Get("offset"), 0),
	})
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"data": items, "total": total})
}

func (s *Service) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	if _, err := s.hub.Upgrade(w, r); err != nil {
		s.logger.Error("Failed to upgrade websocket", "error", err)
		return
	}
}

func (s *Service) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Failed to encode JSON response", "error", err)
	}
}

func parseIntDefault(value string, def int) int {
	if value == "" {
		return def
	}

	if parsed, err := strconv.Atoi(value); err == nil {
		return parsed
	}
	return def
}

func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
