package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Gostdragon/IoT-Door-Control-System/internal/portunus/store"
	"github.com/Gostdragon/IoT-Door-Control-System/internal/portunus/types"
)

var (
	ErrInvalidModuleID = errors.New("module_id is required")
	ErrInvalidCardID   = errors.New("card_id is required")
)

// Decision reasons recorded in the audit log and returned to scanners.
const (
	ReasonTokenValid   = "token_valid"
	ReasonTokenInvalid = "token_invalid"
	ReasonOpenFailed   = "open_failed"
)

// AccessService is the entry validator: it answers whether a scanned token
// may open this door, releases the strike on grant and audits the decision.
type AccessService struct {
	doorID     string
	cache      *AuthCache
	opener     Opener
	eventStore store.AccessEventStore
	logger     *slog.Logger
}

func NewAccessService(doorID string, cache *AuthCache, opener Opener, es store.AccessEventStore, logger *slog.Logger) *AccessService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccessService{
		doorID:     doorID,
		cache:      cache,
		opener:     opener,
		eventStore: es,
		logger:     logger.With("component", "entry_validator", "door_id", doorID),
	}
}

// Validate reports whether tok is in the authorization cache. Only the
// identifier is compared.
func (s *AccessService) Validate(tok types.Token) bool {
	if tok.ID.IsZero() {
		return false
	}
	return s.cache.Has(tok.ID)
}

func (s *AccessService) Decide(ctx context.Context, req types.AccessRequest) (types.AccessResponse, error) {
	now := time.Now().UTC()

	moduleID := strings.TrimSpace(req.ModuleID)
	cardID := strings.TrimSpace(req.CardID)

	if moduleID == "" {
		return types.AccessResponse{}, ErrInvalidModuleID
	}
	if cardID == "" {
		return types.AccessResponse{}, ErrInvalidCardID
	}

	tok := types.NewUnauthorized(types.Identifier(cardID))
	granted := s.Validate(tok)
	opened := false
	reason := ReasonTokenInvalid

	if granted {
		reason = ReasonTokenValid
		s.logger.Info("token valid", "module_id", moduleID)
		if err := s.opener.Open(ctx); err != nil {
			reason = ReasonOpenFailed
			s.logger.Error("door open failed", "module_id", moduleID, "err", err)
		} else {
			opened = true
		}
	} else {
		s.logger.Info("token invalid", "module_id", moduleID)
	}

	s.recordEvent(ctx, req, tok, granted, opened, reason, now)

	return types.AccessResponse{
		OK:         true,
		Granted:    granted,
		Opened:     opened,
		Reason:     reason,
		ModuleID:   moduleID,
		ServerTime: now.Format(time.RFC3339Nano),
	}, nil
}

// recordEvent persists the access decision to the audit log. A failed audit
// write never changes the decision; it is logged and dropped.
func (s *AccessService) recordEvent(
	ctx context.Context,
	req types.AccessRequest,
	tok types.Token,
	granted, opened bool,
	reason string,
	receivedAt time.Time,
) {
	if s.eventStore == nil {
		return
	}
	rec := store.AccessEventRecord{
		EventID:    uuid.NewString(),
		DoorID:     s.doorID,
		ModuleID:   strings.TrimSpace(req.ModuleID),
		TokenID:    string(tok.ID),
		ReceivedAt: receivedAt,
		Granted:    granted,
		Opened:     opened,
		Reason:     reason,
		DecidedAt:  time.Now().UTC(),
	}
	if t := parseOptionalTimestamp(req.RequestedAt); t != nil {
		rec.RequestedAt = t
	}

	if err := s.eventStore.RecordEvent(ctx, rec); err != nil {
		s.logger.Warn("audit write failed", "event_id", rec.EventID, "err", err)
	}
}

// parseOptionalTimestamp attempts to parse a device-reported timestamp.
// Returns nil if the string is empty or unparseable.
func parseOptionalTimestamp(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	// RFC3339 parsing also accepts fractional seconds.
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		u := t.UTC()
		return &u
	}
	return nil
}
