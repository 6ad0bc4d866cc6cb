package media

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"nearcast/internal/core/domain"
)

// Receiver is the inbound media engine of the connecting side. While armed
// it keeps a connected UDP socket to the broadcaster's media port, announces
// itself with keepalives so the relay knows where to send, and feeds every
// received datagram to the reassembler. The reassembler outlives arm cycles,
// so sequence tracking carries across a paused broadcast.
type Receiver struct {
	helloInterval time.Duration
	reasm         *Reassembler
	stats         *Stats
	log           *zap.SugaredLogger

	mu     sync.Mutex
	conn   *net.UDPConn
	cancel context.CancelFunc
	wg     sync.WaitGroup
	armed  bool
}

func NewReceiver(helloInterval time.Duration, reasm *Reassembler, stats *Stats, log *zap.SugaredLogger) *Receiver {
	if helloInterval <= 0 {
		helloInterval = 2 * time.Second
	}
	return &Receiver{helloInterval: helloInterval, reasm: reasm, stats: stats, log: log}
}

// Arm opens the media channel towards host:port. No-op when already armed.
func (v *Receiver) Arm(ctx context.Context, host string, port int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.armed {
		return nil
	}

	target := &net.UDPAddr{IP: net.ParseIP(host), Port: port}
	if target.IP == nil {
		ips, err := net.LookupIP(host)
		if err != nil || len(ips) == 0 {
			return fmt.Errorf("resolve media host %q: %w", host, err)
		}
		target.IP = ips[0]
	}
	conn, err := net.DialUDP("udp", nil, target)
	if err != nil {
		return fmt.Errorf("open media socket: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	v.conn = conn
	v.cancel = cancel
	v.armed = true
	v.wg.Add(2)
	go v.readLoop(ctx, conn)
	go v.helloLoop(ctx, conn)

	v.log.Infow("media channel armed", "target", target.String(), "local", conn.LocalAddr().String())
	return nil
}

// Disarm closes the media channel and discards any partial frame.
func (v *Receiver) Disarm() {
	v.mu.Lock()
	if !v.armed {
		v.mu.Unlock()
		return
	}
	v.armed = false
	cancel, conn := v.cancel, v.conn
	v.cancel, v.conn = nil, nil
	v.mu.Unlock()

	cancel()
	conn.Close()
	v.wg.Wait()
	v.reasm.Reset()
	v.log.Infow("media channel disarmed")
}

func (v *Receiver) Armed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.armed
}

func (v *Receiver) Counters() domain.MediaCounters {
	return v.stats.Snapshot()
}

// PeerTracked on the connecting side means the channel is armed towards a
// broadcaster.
func (v *Receiver) PeerTracked() bool {
	return v.Armed()
}

// LocalPort returns the bound port of the armed socket.
func (v *Receiver) LocalPort() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.conn == nil {
		return 0
	}
	return v.conn.LocalAddr().(*net.UDPAddr).Port
}

func (v *Receiver) readLoop(ctx context.Context, conn *net.UDPConn) {
	defer v.wg.Done()
	buf := make([]byte, 64*1024)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			v.log.Warnw("media read failed", "error", err)
			continue
		}
		v.stats.DatagramIn(n)
		v.reasm.Ingest(buf[:n])
	}
}

func (v *Receiver) helloLoop(ctx context.Context, conn *net.UDPConn) {
	defer v.wg.Done()
	ticker := time.NewTicker(v.helloInterval)
	defer ticker.Stop()

	hello := Hello()
	for {
		if _, err := conn.Write(hello); err != nil {
			if ctx.Err() != nil {
				return
			}
			v.log.Warnw("keepalive send failed", "error", err)
		} else {
			v.stats.DatagramOut(len(hello))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
