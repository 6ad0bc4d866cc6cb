package control

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"nearcast/internal/core/domain"
)

type ClientConfig struct {
	DeviceName       string
	DialTimeout      time.Duration
	HandshakeTimeout time.Duration
	Heartbeat        HeartbeatConfig
}

// Client drives the connecting side of a pairing: Idle -> Connecting ->
// WaitingAcceptance -> Paired or Failed, with explicit Cancel back to Idle
// from any state. Status changes are observable through OnStatus; the
// broadcaster's on-air switch arrives through OnBroadcast. Pairing alone
// never starts media: the caller arms its receiver only while paired AND
// on-air.
type Client struct {
	cfg ClientConfig
	log *zap.SugaredLogger

	mu          sync.Mutex
	status      domain.PairingStatus
	conn        net.Conn
	cancel      context.CancelFunc
	gen         uint64
	onStatus    func(domain.PairingStatus)
	onBroadcast func(bool)
}

func NewClient(cfg ClientConfig, log *zap.SugaredLogger) *Client {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	cfg.Heartbeat = cfg.Heartbeat.withDefaults()
	return &Client{cfg: cfg, log: log, status: domain.StatusIdle()}
}

// OnStatus registers the status observer. Set before Connect.
func (c *Client) OnStatus(fn func(domain.PairingStatus)) {
	c.mu.Lock()
	c.onStatus = fn
	c.mu.Unlock()
}

// OnBroadcast registers the observer for the broadcaster's on-air switch.
func (c *Client) OnBroadcast(fn func(bool)) {
	c.mu.Lock()
	c.onBroadcast = fn
	c.mu.Unlock()
}

func (c *Client) Status() domain.PairingStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Connect starts a pairing attempt against peer using the operator-supplied
// code. It returns immediately; progress arrives via OnStatus. Only one
// attempt may be in flight.
func (c *Client) Connect(ctx context.Context, peer domain.CandidatePeer, code string) error {
	c.mu.Lock()
	if c.status.State != domain.PairingIdle && c.status.State != domain.PairingFailed {
		c.mu.Unlock()
		return domain.ErrAlreadyPairing
	}
	c.gen++
	gen := c.gen
	// Set synchronously so a second Connect cannot slip in before the
	// goroutine starts.
	c.status = domain.StatusConnecting(peer.Name)
	status := c.status
	fn := c.onStatus
	ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	if fn != nil {
		fn(status)
	}
	go c.run(ctx, gen, peer, code)
	return nil
}

// Cancel aborts any attempt or session and returns to Idle. The accepting
// side observes a plain disconnect.
func (c *Client) Cancel() {
	c.mu.Lock()
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.status = domain.StatusIdle()
	fn := c.onStatus
	status := c.status
	c.mu.Unlock()

	if fn != nil {
		fn(status)
	}
}

func (c *Client) run(ctx context.Context, gen uint64, peer domain.CandidatePeer, code string) {
	dialer := net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", peer.ControlAddress())
	if err != nil {
		c.fail(gen, "connect failed")
		return
	}
	if !c.adopt(gen, conn) {
		conn.Close()
		return
	}

	req := &HandshakeRequest{App: AppID, Ver: ProtocolVersion, Role: RoleViewer, Code: code, Name: c.cfg.DeviceName}
	if err := WriteMessage(conn, req); err != nil {
		c.fail(gen, "connection closed")
		return
	}
	c.setStatus(gen, domain.StatusWaitingAcceptance())

	lr := NewLineReader(conn)
	conn.SetReadDeadline(time.Now().Add(c.cfg.HandshakeTimeout))
	msg, err := lr.Next()
	if err != nil {
		c.fail(gen, failureReason(err, "handshake timeout"))
		return
	}
	if msg.Kind != KindHandshakeResponse {
		c.fail(gen, "protocol error")
		return
	}
	if !msg.Response.OK {
		reason := msg.Response.Message
		if reason == "" {
			reason = "Declined"
		}
		c.fail(gen, reason)
		return
	}

	c.setStatus(gen, domain.StatusPaired(domain.SessionID(msg.Response.SessionID), msg.Response.UDPPort))
	c.log.Infow("paired", "session_id", msg.Response.SessionID, "media_port", msg.Response.UDPPort)

	go c.heartbeatLoop(ctx, conn)
	c.steadyLoop(gen, conn, lr)
}

// steadyLoop consumes heartbeats and broadcast switches until the link dies.
func (c *Client) steadyLoop(gen uint64, conn net.Conn, lr *LineReader) {
	for {
		conn.SetReadDeadline(time.Now().Add(c.cfg.Heartbeat.Timeout()))
		msg, err := lr.Next()
		if err != nil {
			c.fail(gen, failureReason(err, "heartbeat timeout"))
			return
		}
		switch msg.Kind {
		case KindHeartbeat:
			// Liveness only.
		case KindBroadcastStatus:
			c.mu.Lock()
			fn := c.onBroadcast
			c.mu.Unlock()
			if fn != nil {
				fn(msg.Broadcast.On)
			}
		default:
			c.fail(gen, "protocol error")
			return
		}
	}
}

func (c *Client) heartbeatLoop(ctx context.Context, conn net.Conn) {
	ticker := time.NewTicker(c.cfg.Heartbeat.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := WriteMessage(conn, &Heartbeat{HB: 1}); err != nil {
				return
			}
		}
	}
}

// adopt stores the live connection unless the attempt was canceled while
// dialing.
func (c *Client) adopt(gen uint64, conn net.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return false
	}
	c.conn = conn
	return true
}

func (c *Client) setStatus(gen uint64, status domain.PairingStatus) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.status = status
	fn := c.onStatus
	c.mu.Unlock()

	if fn != nil {
		fn(status)
	}
}

func (c *Client) fail(gen uint64, reason string) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.status = domain.StatusFailed(reason)
	fn := c.onStatus
	status := c.status
	c.mu.Unlock()

	c.log.Warnw("pairing failed", "reason", reason)
	if fn != nil {
		fn(status)
	}
}

func failureReason(err error, timeoutReason string) string {
	if IsTimeout(err) {
		return timeoutReason
	}
	if _, ok := err.(*ProtocolError); ok {
		return "protocol error"
	}
	return "connection closed"
}
