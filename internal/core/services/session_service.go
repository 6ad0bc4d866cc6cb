package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"nearcast/internal/core/domain"
	"nearcast/internal/core/ports"
	"nearcast/pkg/tracing"
	"nearcast/pkg/utils"
)

const maxDeviceNameLength = 64

// SessionServiceConfig carries the pairing policy knobs.
type SessionServiceConfig struct {
	CodeLength int
	AutoAccept bool
	MediaPort  int
}

type relayBaseline struct {
	frames uint64
	bytes  uint64
}

// SessionService owns the accepting side's pairing state: the current code,
// pending pairs and active sessions. The control transport calls in with
// handshakes and disconnects; the API calls in with operator decisions.
type SessionService struct {
	cfg      SessionServiceConfig
	sessions ports.SessionRepository
	pending  ports.PendingPairRepository
	history  ports.SessionHistoryRepository
	events   ports.EventPublisher
	metrics  ports.MetricsCollector
	relay    ports.RelayStats
	logger   *zap.SugaredLogger

	// controller is set after construction because the control server that
	// implements it is itself constructed with this service.
	controller ports.ConnectionController

	mu        sync.Mutex
	code      string
	baselines map[domain.SessionID]relayBaseline
}

func NewSessionService(
	cfg SessionServiceConfig,
	sessions ports.SessionRepository,
	pending ports.PendingPairRepository,
	history ports.SessionHistoryRepository,
	events ports.EventPublisher,
	metrics ports.MetricsCollector,
	relay ports.RelayStats,
	logger *zap.SugaredLogger,
) *SessionService {
	s := &SessionService{
		cfg:       cfg,
		sessions:  sessions,
		pending:   pending,
		history:   history,
		events:    events,
		metrics:   metrics,
		relay:     relay,
		logger:    logger,
		code:      utils.GeneratePairingCode(cfg.CodeLength),
		baselines: make(map[domain.SessionID]relayBaseline),
	}
	logger.Infow("pairing code generated", "code", s.code)
	return s
}

// SetController wires the control transport in once it exists.
func (s *SessionService) SetController(c ports.ConnectionController) {
	s.controller = c
}

func (s *SessionService) CurrentCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.code
}

// RotateCode replaces the pairing code. Pairs already pending were validated
// against the old code and stay pending.
func (s *SessionService) RotateCode() string {
	s.mu.Lock()
	s.code = utils.GeneratePairingCode(s.cfg.CodeLength)
	code := s.code
	s.mu.Unlock()

	s.logger.Infow("pairing code rotated", "code", code)
	return code
}

func (s *SessionService) SubmitHandshake(ctx context.Context, connID domain.ConnectionID, remote domain.RemoteDescription, code string) (outcome *domain.HandshakeOutcome, err error) {
	ctx, span := tracing.TracePairingOperation(ctx, "handshake", string(connID))
	defer func() {
		if err != nil {
			tracing.RecordError(ctx, err)
		}
		span.End()
	}()

	remote.Name = utils.TruncateString(utils.SanitizeString(remote.Name), maxDeviceNameLength)
	tracing.AddSpanAttributes(ctx, tracing.PeerAddressKey.String(remote.Address))

	s.mu.Lock()
	valid := code == s.code
	s.mu.Unlock()

	if !valid {
		tracing.AddSpanAttributes(ctx, tracing.DecisionKey.String("declined"))
		s.logger.Warnw("handshake with wrong code", "device", remote.Name, "address", remote.Address)
		s.metrics.HandshakeResult("declined")
		return &domain.HandshakeOutcome{Decision: domain.DecisionDeclined, Message: "Invalid code"}, nil
	}

	if s.cfg.AutoAccept {
		session, err := s.createSession(ctx, connID, remote)
		if err != nil {
			return nil, err
		}
		tracing.AddSpanAttributes(ctx,
			tracing.DecisionKey.String("accepted"),
			tracing.SessionIDKey.String(string(session.ID)),
		)
		s.announceSession(session)
		s.metrics.HandshakeResult("accepted")
		s.logger.Infow("handshake auto-accepted",
			"session_id", session.ID, "device", remote.Name, "address", remote.Address)
		return &domain.HandshakeOutcome{Decision: domain.DecisionAccepted, Session: session}, nil
	}

	pair := &domain.PendingPair{
		ID:           domain.PairID(utils.GeneratePairID()),
		Code:         code,
		ConnectionID: connID,
		Remote:       remote,
		RequestedAt:  time.Now(),
	}
	if err := s.pending.Add(ctx, pair); err != nil {
		return nil, fmt.Errorf("failed to register pending pair: %w", err)
	}

	tracing.AddSpanAttributes(ctx,
		tracing.DecisionKey.String("pending"),
		tracing.PairIDKey.String(string(pair.ID)),
	)
	s.metrics.PairPending(s.pendingCount(ctx))
	s.events.Publish(domain.NewEvent(domain.EventPairRequested, pair))
	s.logger.Infow("handshake pending operator decision",
		"pair_id", pair.ID, "device", remote.Name, "address", remote.Address)
	return &domain.HandshakeOutcome{Decision: domain.DecisionPending, PairID: pair.ID}, nil
}

func (s *SessionService) Accept(ctx context.Context, pairID domain.PairID) (session *domain.Session, err error) {
	ctx, span := tracing.StartSpan(ctx, "pairing.accept")
	defer func() {
		if err != nil {
			tracing.RecordError(ctx, err)
		}
		span.End()
	}()
	tracing.AddSpanAttributes(ctx, tracing.PairIDKey.String(string(pairID)))

	pair, err := s.pending.GetByID(ctx, pairID)
	if err != nil {
		return nil, err
	}
	// A disconnect may have removed the pair between lookup and here.
	if err := s.pending.Remove(ctx, pairID); err != nil {
		return nil, err
	}

	session, err = s.createSession(ctx, pair.ConnectionID, pair.Remote)
	if err != nil {
		return nil, err
	}
	tracing.AddSpanAttributes(ctx, tracing.SessionIDKey.String(string(session.ID)))

	res := domain.HandshakeResolution{
		Accepted:  true,
		SessionID: session.ID,
		MediaPort: s.cfg.MediaPort,
	}
	if err := s.controller.ResolvePair(pair.ConnectionID, res); err != nil {
		if derr := s.sessions.Delete(ctx, session.ID); derr != nil {
			s.logger.Errorw("failed to roll back session", "session_id", session.ID, "error", derr)
		}
		return nil, fmt.Errorf("failed to deliver acceptance: %w", err)
	}

	s.announceSession(session)
	s.metrics.HandshakeResult("accepted")
	s.metrics.PairPending(s.pendingCount(ctx))
	s.events.Publish(domain.NewEvent(domain.EventPairAccepted, pair))
	s.logger.Infow("pairing accepted",
		"pair_id", pair.ID, "session_id", session.ID, "device", pair.Remote.Name)
	return session, nil
}

func (s *SessionService) Decline(ctx context.Context, pairID domain.PairID) (err error) {
	ctx, span := tracing.StartSpan(ctx, "pairing.decline")
	defer func() {
		if err != nil {
			tracing.RecordError(ctx, err)
		}
		span.End()
	}()
	tracing.AddSpanAttributes(ctx, tracing.PairIDKey.String(string(pairID)))

	pair, err := s.pending.GetByID(ctx, pairID)
	if err != nil {
		return err
	}
	if err := s.pending.Remove(ctx, pairID); err != nil {
		return err
	}

	res := domain.HandshakeResolution{Accepted: false, Message: "Declined"}
	if err := s.controller.ResolvePair(pair.ConnectionID, res); err != nil {
		s.logger.Debugw("decline not delivered, connection already gone",
			"pair_id", pair.ID, "error", err)
	}

	s.metrics.HandshakeResult("declined")
	s.metrics.PairPending(s.pendingCount(ctx))
	s.events.Publish(domain.NewEvent(domain.EventPairDeclined, pair))
	s.logger.Infow("pairing declined", "pair_id", pair.ID, "device", pair.Remote.Name)
	return nil
}

func (s *SessionService) PendingPairs(ctx context.Context) ([]*domain.PendingPair, error) {
	pairs, err := s.pending.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].RequestedAt.Before(pairs[j].RequestedAt)
	})
	return pairs, nil
}

func (s *SessionService) Sessions(ctx context.Context) ([]*domain.Session, error) {
	return s.sessions.ListActive(ctx)
}

func (s *SessionService) EndSession(ctx context.Context, id domain.SessionID, reason string) (err error) {
	ctx, span := tracing.TraceSessionOperation(ctx, "end", string(id))
	defer func() {
		if err != nil {
			tracing.RecordError(ctx, err)
		}
		span.End()
	}()

	session, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.sessions.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	s.recordClosed(ctx, session, reason)

	// The disconnect that follows finds no session and records nothing.
	if s.controller != nil {
		if err := s.controller.CloseConnection(session.ConnectionID, reason); err != nil {
			s.logger.Debugw("connection already closed", "session_id", id, "error", err)
		}
	}
	return nil
}

func (s *SessionService) HandleDisconnect(ctx context.Context, connID domain.ConnectionID, reason string) (err error) {
	ctx, span := tracing.TracePairingOperation(ctx, "disconnect", string(connID))
	defer func() {
		if err != nil {
			tracing.RecordError(ctx, err)
		}
		span.End()
	}()

	if reason == domain.ReasonHeartbeatTimeout {
		s.metrics.HeartbeatTimeout()
	}

	if pair, err := s.pending.RemoveByConnection(ctx, connID); err == nil {
		s.metrics.PairPending(s.pendingCount(ctx))
		s.events.Publish(domain.NewEvent(domain.EventPairCancelled, pair))
		s.logger.Infow("pending pair cancelled by peer",
			"pair_id", pair.ID, "device", pair.Remote.Name, "reason", reason)
		return nil
	}

	session, err := s.sessions.GetByConnection(ctx, connID)
	if err != nil {
		// Nothing pending and no session: a viewer that never got past the
		// handshake.
		return nil
	}
	if err := s.sessions.Delete(ctx, session.ID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	s.recordClosed(ctx, session, reason)
	s.logger.Infow("session ended by disconnect",
		"session_id", session.ID, "device", session.Remote.Name, "reason", reason)
	return nil
}

func (s *SessionService) History(ctx context.Context, limit int) ([]*domain.SessionRecord, error) {
	return s.history.List(ctx, limit)
}

func (s *SessionService) ActiveCount(ctx context.Context) int {
	sessions, err := s.sessions.ListActive(ctx)
	if err != nil {
		return 0
	}
	return len(sessions)
}

func (s *SessionService) createSession(ctx context.Context, connID domain.ConnectionID, remote domain.RemoteDescription) (*domain.Session, error) {
	session := &domain.Session{
		ID:           domain.SessionID(uuid.NewString()),
		ConnectionID: connID,
		Remote:       remote,
		StartedAt:    time.Now(),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

func (s *SessionService) announceSession(session *domain.Session) {
	s.captureBaseline(session.ID)
	s.metrics.SessionStarted()
	s.events.Publish(domain.NewEvent(domain.EventSessionStarted, session))
}

// recordClosed turns a removed session into a history record. History loss is
// logged, not propagated: the session is already gone.
func (s *SessionService) recordClosed(ctx context.Context, session *domain.Session, reason string) {
	frames, bytes := s.relayedSince(session.ID)
	record := &domain.SessionRecord{
		ID:            session.ID,
		Remote:        session.Remote,
		StartedAt:     session.StartedAt,
		EndedAt:       time.Now(),
		FramesRelayed: frames,
		BytesRelayed:  bytes,
		CloseReason:   reason,
	}
	if err := s.history.Append(ctx, record); err != nil {
		s.logger.Warnw("failed to record session history", "session_id", session.ID, "error", err)
	}

	s.metrics.SessionEnded()
	s.events.Publish(domain.NewEvent(domain.EventSessionEnded, record))
}

func (s *SessionService) captureBaseline(id domain.SessionID) {
	if s.relay == nil {
		return
	}
	frames, bytes := s.relay.RelayTotals()
	s.mu.Lock()
	s.baselines[id] = relayBaseline{frames: frames, bytes: bytes}
	s.mu.Unlock()
}

// relayedSince reports the relay counters accumulated while the session was
// active. Sessions restored without a baseline report zero.
func (s *SessionService) relayedSince(id domain.SessionID) (frames, bytes uint64) {
	s.mu.Lock()
	base, ok := s.baselines[id]
	delete(s.baselines, id)
	s.mu.Unlock()

	if !ok || s.relay == nil {
		return 0, 0
	}
	frames, bytes = s.relay.RelayTotals()
	return frames - base.frames, bytes - base.bytes
}

func (s *SessionService) pendingCount(ctx context.Context) int {
	pairs, err := s.pending.List(ctx)
	if err != nil {
		return 0
	}
	return len(pairs)
}
