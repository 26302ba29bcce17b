// Package httpapi is the door controller's local control API: scanners
// submit access requests, and the operator console opens the door,
// triggers a sync and reads or clears notifications.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Gostdragon/IoT-Door-Control-System/internal/notify"
	"github.com/Gostdragon/IoT-Door-Control-System/internal/portunus/service"
	"github.com/Gostdragon/IoT-Door-Control-System/internal/portunus/types"
)

// Refresher reloads the door's authorization cache. It is implemented by
// service.SyncAgent.
type Refresher interface {
	Refresh(ctx context.Context) error
}

type StatusReporter interface {
	Status() types.DoorStatus
}

// LogHistory is implemented by notify.History.
type LogHistory interface {
	Recent(level notify.Level) []notify.Message
	Clear(ctx context.Context, level notify.Level) (int, error)
}

type Dependencies struct {
	Logger        *slog.Logger
	Addr          string
	AccessService *service.AccessService
	Opener        service.Opener
	Sync          Refresher
	Status        StatusReporter
	Logs          LogHistory
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	mux        *http.ServeMux

	access *service.AccessService
	opener service.Opener
	sync   Refresher
	status StatusReporter
	logs   LogHistory
}

func NewServer(d Dependencies) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()

	s := &Server{
		logger: logger.With("component", "httpapi"),
		mux:    mux,
		access: d.AccessService,
		opener: d.Opener,
		sync:   d.Sync,
		status: d.Status,
		logs:   d.Logs,
	}

	mux.HandleFunc("POST /v1/access_request", s.handleAccessRequest)
	mux.HandleFunc("POST /v1/door/open", s.handleDoorOpen)
	mux.HandleFunc("POST /v1/sync", s.handleSync)
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /v1/logs/{level}", s.handleLogs)
	mux.HandleFunc("POST /v1/logs/{level}/clear", s.handleClearLogs)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           loggingMiddleware(s.logger, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start serves until Shutdown; it returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.logger.Info("http listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ── Access ───────────────────────────────────────────────────────────────────

func (s *Server) handleAccessRequest(w http.ResponseWriter, r *http.Request) {
	pb := isProtobuf(r)

	var req types.AccessRequest
	if pb {
		var msg structpb.Struct
		if err := readProto(r, &msg); err != nil {
			writeProto(w, http.StatusBadRequest, errorToProto("bad_proto", "invalid protobuf body"))
			return
		}
		req = accessRequestFromProto(&msg)
	} else {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
			return
		}
	}

	resp, err := s.access.Decide(r.Context(), req)
	if err != nil {
		status, code := http.StatusInternalServerError, "internal_error"
		msg := "unexpected server error"
		switch {
		case errors.Is(err, service.ErrInvalidModuleID):
			status, code, msg = http.StatusBadRequest, "invalid_module_id", err.Error()
		case errors.Is(err, service.ErrInvalidCardID):
			status, code, msg = http.StatusBadRequest, "invalid_card_id", err.Error()
		default:
			s.logger.Error("access_request failed", "err", err)
		}
		if pb {
			writeProto(w, status, errorToProto(code, msg))
		} else {
			writeError(w, status, code, msg)
		}
		return
	}

	if pb {
		writeProto(w, http.StatusOK, accessResponseToProto(resp))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ── Door and sync ────────────────────────────────────────────────────────────

func (s *Server) handleDoorOpen(w http.ResponseWriter, r *http.Request) {
	if err := s.opener.Open(r.Context()); err != nil {
		s.logger.Error("remote open failed", "err", err)
		writeError(w, http.StatusInternalServerError, "open_failed", "door could not be opened")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleSync refreshes this door's cache and answers with the resulting
// sync status. A failed refresh is reported as 502 with the status attached.
// Nothing changed in the store, so no change broadcast goes out.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	err := s.sync.Refresh(r.Context())
	st := s.status.Status()
	if err != nil {
		writeJSON(w, http.StatusBadGateway, st)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status.Status())
}

// ── Notifications ────────────────────────────────────────────────────────────

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	level, err := notify.ParseLevel(r.PathValue("level"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_level", err.Error())
		return
	}
	msgs := s.logs.Recent(level)
	if msgs == nil {
		msgs = []notify.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleClearLogs(w http.ResponseWriter, r *http.Request) {
	level, err := notify.ParseLevel(r.PathValue("level"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_level", err.Error())
		return
	}
	n, err := s.logs.Clear(r.Context(), level)
	if err != nil {
		s.logger.Warn("clearing notification channel failed", "level", level, "err", err)
	}
	writeJSON(w, http.StatusOK, map[string]any{"level": level, "cleared": n})
}

// ── Helpers ──────────────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: code, Message: msg})
}
