package discovery

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"nearcast/internal/core/domain"
)

const (
	DefaultService = "_nearcast._tcp"
	DefaultDomain  = "local."

	// DefaultBrowseTimeout bounds one browse pass. LAN answers arrive well
	// under a second; the margin covers sleepy devices.
	DefaultBrowseTimeout = 3 * time.Second
)

// Advertiser announces this broadcaster over mDNS so viewers on the same
// network can list it without any configuration.
type Advertiser struct {
	instance string
	service  string
	domain   string
	port     int
	log      *zap.SugaredLogger

	mu     sync.Mutex
	server *zeroconf.Server
}

func NewAdvertiser(instance, service, domainName string, port int, log *zap.SugaredLogger) *Advertiser {
	if service == "" {
		service = DefaultService
	}
	if domainName == "" {
		domainName = DefaultDomain
	}
	return &Advertiser{
		instance: instance,
		service:  service,
		domain:   domainName,
		port:     port,
		log:      log,
	}
}

func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		return nil
	}

	server, err := zeroconf.Register(a.instance, a.service, a.domain, a.port, []string{"role=broadcaster"}, nil)
	if err != nil {
		return fmt.Errorf("register mdns service: %w", err)
	}
	a.server = server

	a.log.Infow("advertising on mdns", "instance", a.instance, "service", a.service, "port", a.port)
	return nil
}

func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server == nil {
		return
	}
	a.server.Shutdown()
	a.server = nil
	a.log.Infow("mdns advertisement stopped")
}

// Browser lists broadcasters advertising the service. Each Candidates call
// is one browse pass; callers wanting caching wrap it in the discovery
// service.
type Browser struct {
	service string
	domain  string
	timeout time.Duration
	log     *zap.SugaredLogger
}

func NewBrowser(service, domainName string, timeout time.Duration, log *zap.SugaredLogger) *Browser {
	if service == "" {
		service = DefaultService
	}
	if domainName == "" {
		domainName = DefaultDomain
	}
	if timeout <= 0 {
		timeout = DefaultBrowseTimeout
	}
	return &Browser{service: service, domain: domainName, timeout: timeout, log: log}
}

func (b *Browser) Candidates(ctx context.Context) ([]domain.CandidatePeer, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("create mdns resolver: %w", err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	entries := make(chan *zeroconf.ServiceEntry)
	collected := make(chan []domain.CandidatePeer, 1)
	go func() {
		var peers []domain.CandidatePeer
		seen := make(map[string]bool)
		for entry := range entries {
			peer, ok := entryToCandidate(entry)
			if !ok || seen[peer.Name] {
				continue
			}
			seen[peer.Name] = true
			peers = append(peers, peer)
		}
		collected <- peers
	}()

	if err := resolver.Browse(ctx, b.service, b.domain, entries); err != nil {
		return nil, fmt.Errorf("browse %s: %w", b.service, err)
	}

	<-ctx.Done()
	peers := <-collected
	b.log.Debugw("mdns browse finished", "candidates", len(peers))
	return peers, nil
}

func entryToCandidate(entry *zeroconf.ServiceEntry) (domain.CandidatePeer, bool) {
	if entry == nil || entry.Port <= 0 {
		return domain.CandidatePeer{}, false
	}

	var host string
	switch {
	case len(entry.AddrIPv4) > 0:
		host = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		host = entry.AddrIPv6[0].String()
	default:
		host = strings.TrimSuffix(entry.HostName, ".")
	}
	if host == "" {
		return domain.CandidatePeer{}, false
	}

	return domain.CandidatePeer{
		Name:        entry.Instance,
		Host:        host,
		ControlPort: entry.Port,
	}, true
}
