package media

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"nearcast/internal/core/domain"
	"nearcast/pkg/optimize"
)

// RelayConfig carries the media plane settings of the accepting side.
type RelayConfig struct {
	ListenAddr    string
	MTU           int
	QueueLen      int
	SweepInterval time.Duration
}

// Relay is the outbound media engine of the accepting side. It owns the UDP
// socket: keepalives arriving on it feed the peer tracker, already-framed
// video datagrams from a loopback encoder are forwarded as-is, and frames
// pushed through OnEncodedFrame are fragmented locally. One sender goroutine
// does all writes; a bounded queue decouples it from the encoder, dropping
// whole frames when the viewer cannot keep up.
type Relay struct {
	cfg     RelayConfig
	tracker *Tracker
	stats   *Stats
	log     *zap.SugaredLogger

	pool       *optimize.BytePool
	fragMu     sync.Mutex
	fragmenter *Fragmenter

	conn  *net.UDPConn
	queue chan [][]byte

	broadcasting  atomic.Bool
	sessionActive atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRelay(cfg RelayConfig, tracker *Tracker, stats *Stats, log *zap.SugaredLogger) *Relay {
	if cfg.MTU <= 0 {
		cfg.MTU = DefaultMTU
	}
	if cfg.QueueLen <= 0 {
		cfg.QueueLen = 64
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Second
	}
	pool := optimize.NewBytePool(cfg.MTU)
	return &Relay{
		cfg:        cfg,
		tracker:    tracker,
		stats:      stats,
		log:        log,
		pool:       pool,
		fragmenter: NewFragmenter(cfg.MTU, pool),
		queue:      make(chan [][]byte, cfg.QueueLen),
	}
}

// Start binds the socket and launches the read, send and sweep loops.
func (r *Relay) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", r.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("resolve media listen address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("bind media socket: %w", err)
	}
	r.conn = conn

	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(3)
	go r.readLoop(ctx)
	go r.sendLoop(ctx)
	go r.sweepLoop(ctx)

	r.log.Infow("media relay listening", "addr", conn.LocalAddr().String(), "mtu", r.cfg.MTU)
	return nil
}

// Stop closes the socket and waits for the loops to drain.
func (r *Relay) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	if r.conn != nil {
		r.conn.Close()
	}
	r.wg.Wait()
}

// Port returns the bound media port.
func (r *Relay) Port() int {
	if r.conn == nil {
		return 0
	}
	return r.conn.LocalAddr().(*net.UDPAddr).Port
}

func (r *Relay) SetBroadcasting(on bool) {
	r.broadcasting.Store(on)
	r.log.Infow("broadcast gate", "on", on)
}

func (r *Relay) SetSessionActive(active bool) {
	r.sessionActive.Store(active)
	if !active {
		r.tracker.Clear()
	}
}

// Armed reports whether outbound media is currently flowing: a paired
// session, the broadcast switch on and a fresh viewer to send to.
func (r *Relay) Armed() bool {
	if !r.broadcasting.Load() || !r.sessionActive.Load() {
		return false
	}
	_, ok := r.tracker.Current(time.Now())
	return ok
}

func (r *Relay) Counters() domain.MediaCounters {
	return r.stats.Snapshot()
}

func (r *Relay) PeerTracked() bool {
	_, ok := r.tracker.Current(time.Now())
	return ok
}

// OnEncodedFrame fragments a frame from the in-process encoder and queues
// its datagrams. Never blocks: a full queue drops the frame and counts it.
func (r *Relay) OnEncodedFrame(frame domain.Frame) error {
	if !r.broadcasting.Load() || !r.sessionActive.Load() {
		return domain.ErrBroadcastOff
	}

	r.fragMu.Lock()
	datagrams, err := r.fragmenter.Fragment(frame)
	r.fragMu.Unlock()
	if err != nil {
		return err
	}

	select {
	case r.queue <- datagrams:
		return nil
	default:
		r.stats.FrameDropped()
		r.releaseAll(datagrams)
		return nil
	}
}

func (r *Relay) readLoop(ctx context.Context) {
	defer r.wg.Done()
	buf := make([]byte, 64*1024)
	for {
		n, src, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.log.Warnw("media read failed", "error", err)
			continue
		}
		r.stats.DatagramIn(n)
		dg := buf[:n]

		if IsHello(dg) {
			r.tracker.Observe(src.IP.String(), src.Port, time.Now())
			continue
		}
		if _, err := ParseHeader(dg); err != nil {
			r.stats.DatagramDiscarded()
			continue
		}
		// Pre-framed video from the loopback encoder feed.
		out := r.pool.Get()
		if cap(out) < n {
			r.pool.Put(out)
			out = make([]byte, n)
		}
		out = out[:n]
		copy(out, dg)
		select {
		case r.queue <- [][]byte{out}:
		default:
			r.stats.FrameDropped()
			r.pool.Put(out)
		}
	}
}

func (r *Relay) sendLoop(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case datagrams := <-r.queue:
			r.forward(datagrams)
		}
	}
}

func (r *Relay) forward(datagrams [][]byte) {
	defer r.releaseAll(datagrams)

	if !r.broadcasting.Load() || !r.sessionActive.Load() {
		r.stats.FrameDropped()
		return
	}
	peer, ok := r.tracker.Current(time.Now())
	if !ok {
		r.stats.FrameDropped()
		return
	}
	dst := &net.UDPAddr{IP: net.ParseIP(peer.Host), Port: peer.Port}
	for _, dg := range datagrams {
		if _, err := r.conn.WriteToUDP(dg, dst); err != nil {
			r.log.Warnw("media send failed", "peer", peer.String(), "error", err)
			r.stats.FrameDropped()
			return
		}
		r.stats.DatagramOut(len(dg))
	}
	r.stats.FrameRelayed()
}

func (r *Relay) sweepLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tracker.Sweep(time.Now())
		}
	}
}

func (r *Relay) releaseAll(datagrams [][]byte) {
	for _, dg := range datagrams {
		r.pool.Put(dg)
	}
}
