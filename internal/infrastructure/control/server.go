package control

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"nearcast/internal/core/domain"
	"nearcast/internal/core/ports"
)

type ServerConfig struct {
	ListenAddr       string
	MediaPort        int
	HandshakeTimeout time.Duration
	HandshakePerSec  float64
	HandshakeBurst   int
	Heartbeat        HeartbeatConfig
}

// Server is the accepting side of the pairing protocol: one TCP listener,
// one reader/writer goroutine pair per connection, so a slow viewer never
// stalls the rest. Operator decisions come back in through ResolvePair.
type Server struct {
	cfg      ServerConfig
	sessions ports.SessionService
	limiter  *HandshakeLimiter
	log      *zap.SugaredLogger

	listener net.Listener
	mu       sync.Mutex
	conns    map[domain.ConnectionID]*serverConn
	on       bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type serverConn struct {
	id     domain.ConnectionID
	conn   net.Conn
	out    chan interface{}
	paired atomic.Bool

	mu     sync.Mutex
	reason string
}

// closeAfterFlush tells the writer to close the connection once everything
// queued before it has been written.
type closeAfterFlush struct{}

func NewServer(cfg ServerConfig, sessions ports.SessionService, log *zap.SugaredLogger) *Server {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	cfg.Heartbeat = cfg.Heartbeat.withDefaults()
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		limiter:  NewHandshakeLimiter(cfg.HandshakePerSec, cfg.HandshakeBurst),
		log:      log,
		conns:    make(map[domain.ConnectionID]*serverConn),
	}
}

// Start binds the control listener and begins accepting viewers.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("bind control listener: %w", err)
	}
	s.listener = ln

	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.acceptLoop(ctx)

	s.log.Infow("control server listening", "addr", ln.Addr().String())
	return nil
}

// Stop closes the listener and every live connection.
func (s *Server) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Lock()
	for _, sc := range s.conns {
		sc.conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Addr returns the bound control address.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// SetBroadcast records the broadcast switch and pushes the change to every
// paired viewer.
func (s *Server) SetBroadcast(on bool) {
	s.mu.Lock()
	s.on = on
	conns := make([]*serverConn, 0, len(s.conns))
	for _, sc := range s.conns {
		conns = append(conns, sc)
	}
	s.mu.Unlock()

	for _, sc := range conns {
		if sc.paired.Load() {
			sc.send(&BroadcastStatus{On: on})
		}
	}
}

// ResolvePair delivers the operator's accept or decline to the waiting
// connection.
func (s *Server) ResolvePair(connID domain.ConnectionID, res domain.HandshakeResolution) error {
	s.mu.Lock()
	sc, ok := s.conns[connID]
	on := s.on
	s.mu.Unlock()
	if !ok {
		return domain.ErrConnectionClosed
	}

	if res.Accepted {
		sc.paired.Store(true)
		// Paired links are expected to carry heartbeats from now on.
		sc.conn.SetReadDeadline(time.Now().Add(s.cfg.Heartbeat.Timeout()))
		sc.send(&HandshakeResponse{OK: true, SessionID: string(res.SessionID), UDPPort: res.MediaPort})
		sc.send(&BroadcastStatus{On: on})
		return nil
	}

	sc.setReason("declined")
	sc.send(&HandshakeResponse{OK: false, Message: res.Message})
	sc.send(closeAfterFlush{})
	return nil
}

// CloseConnection tears down a control connection on the operator's behalf,
// for example when a session is ended from the API.
func (s *Server) CloseConnection(connID domain.ConnectionID, reason string) error {
	s.mu.Lock()
	sc, ok := s.conns[connID]
	s.mu.Unlock()
	if !ok {
		return domain.ErrConnectionClosed
	}

	sc.setReason(reason)
	sc.send(closeAfterFlush{})
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warnw("accept failed", "error", err)
			continue
		}
		s.wg.Add(1)
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()

	sc := &serverConn{
		id:   domain.ConnectionID(uuid.NewString()),
		conn: conn,
		out:  make(chan interface{}, 16),
	}
	s.mu.Lock()
	s.conns[sc.id] = sc
	s.mu.Unlock()

	log := s.log.With("connection_id", string(sc.id), "remote", conn.RemoteAddr().String())
	log.Infow("control connection opened")

	writerDone := make(chan struct{})
	go s.writeLoop(sc, writerDone)

	reason := s.readLoop(ctx, sc, log)

	s.mu.Lock()
	delete(s.conns, sc.id)
	s.mu.Unlock()

	// Let the writer flush queued responses (declines in particular) before
	// the socket goes away.
	close(sc.out)
	<-writerDone
	conn.Close()

	if stored := sc.getReason(); stored != "" {
		reason = stored
	}
	if err := s.sessions.HandleDisconnect(context.Background(), sc.id, reason); err != nil {
		log.Warnw("disconnect cleanup failed", "error", err)
	}
	log.Infow("control connection closed", "reason", reason)
}

// readLoop drives one connection through handshake and steady state. The
// returned string is the close reason.
func (s *Server) readLoop(ctx context.Context, sc *serverConn, log *zap.SugaredLogger) string {
	lr := NewLineReader(sc.conn)

	// Handshake must arrive promptly; afterwards the watchdog takes over.
	sc.conn.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	msg, err := lr.Next()
	if err != nil {
		return closeReasonFor(err)
	}
	if msg.Kind != KindHandshakeRequest {
		return "protocol error"
	}
	req := msg.Handshake

	switch {
	case req.App != AppID:
		return "protocol error"
	case req.Ver != ProtocolVersion:
		sc.send(&HandshakeResponse{OK: false, Message: "Unsupported version"})
		sc.send(closeAfterFlush{})
		return "unsupported version"
	case req.Role != RoleViewer:
		sc.send(&HandshakeResponse{OK: false, Message: "Unsupported role"})
		sc.send(closeAfterFlush{})
		return "unsupported role"
	}

	if !s.limiter.Allow(sc.conn.RemoteAddr().String()) {
		log.Warnw("handshake rate limited")
		sc.send(&HandshakeResponse{OK: false, Message: "Too many attempts"})
		sc.send(closeAfterFlush{})
		return "rate limited"
	}

	remote := domain.RemoteDescription{
		Name:    req.Name,
		Address: sc.conn.RemoteAddr().String(),
	}
	outcome, err := s.sessions.SubmitHandshake(ctx, sc.id, remote, req.Code)
	if err != nil {
		log.Errorw("handshake processing failed", "error", err)
		sc.send(&HandshakeResponse{OK: false, Message: "Internal error"})
		sc.send(closeAfterFlush{})
		return "internal error"
	}

	switch outcome.Decision {
	case domain.DecisionDeclined:
		sc.send(&HandshakeResponse{OK: false, Message: outcome.Message})
		sc.send(closeAfterFlush{})
		return "declined"
	case domain.DecisionAccepted:
		sc.paired.Store(true)
		s.mu.Lock()
		on := s.on
		s.mu.Unlock()
		sc.send(&HandshakeResponse{OK: true, SessionID: string(outcome.Session.ID), UDPPort: s.cfg.MediaPort})
		sc.send(&BroadcastStatus{On: on})
		sc.conn.SetReadDeadline(time.Now().Add(s.cfg.Heartbeat.Timeout()))
	case domain.DecisionPending:
		// The operator may take their time; no deadline while we wait.
		sc.conn.SetReadDeadline(time.Time{})
	}

	for {
		msg, err := lr.Next()
		if err != nil {
			if IsTimeout(err) {
				return domain.ReasonHeartbeatTimeout
			}
			return closeReasonFor(err)
		}
		if sc.paired.Load() {
			sc.conn.SetReadDeadline(time.Now().Add(s.cfg.Heartbeat.Timeout()))
		}
		switch msg.Kind {
		case KindHeartbeat:
			// Any traffic proves liveness; nothing else to do.
		default:
			return "protocol error"
		}
	}
}

func (s *Server) writeLoop(sc *serverConn, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.cfg.Heartbeat.Interval)
	defer ticker.Stop()

	for {
		select {
		case v, ok := <-sc.out:
			if !ok {
				return
			}
			if _, isClose := v.(closeAfterFlush); isClose {
				sc.conn.Close()
				continue
			}
			sc.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := WriteMessage(sc.conn, v); err != nil {
				return
			}
		case <-ticker.C:
			if sc.paired.Load() {
				sc.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := WriteMessage(sc.conn, &Heartbeat{HB: 1}); err != nil {
					return
				}
			}
		}
	}
}

func (sc *serverConn) send(v interface{}) {
	defer func() {
		// sc.out may already be closed by connection teardown.
		recover()
	}()
	select {
	case sc.out <- v:
	default:
		sc.conn.Close()
	}
}

func (sc *serverConn) setReason(r string) {
	sc.mu.Lock()
	if sc.reason == "" {
		sc.reason = r
	}
	sc.mu.Unlock()
}

func (sc *serverConn) getReason() string {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.reason
}

func closeReasonFor(err error) string {
	if IsTimeout(err) {
		return "timeout"
	}
	if _, ok := err.(*ProtocolError); ok {
		return "protocol error"
	}
	return "disconnect"
}
