package services

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/aservis/maestro/internal/config"
)

// Prober checks reachability of every registered service on a fixed
// interval by opening and closing a TCP connection. Results feed the same
// breakers the router reports call outcomes to.
type Prober struct {
	registry *Registry
	config   config.ServicesConfig

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func NewProber(registry *Registry, cfg config.ServicesConfig) *Prober {
	return &Prober{
		registry: registry,
		config:   cfg,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (p *Prober) Start(ctx context.Context) {
	go func() {
		defer close(p.doneCh)
		ticker := time.NewTicker(p.config.ProbeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.probeAll()
			}
		}
	}()
}

func (p *Prober) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	<-p.doneCh
}

func (p *Prober) probeAll() {
	services := p.registry.List()

	var wg sync.WaitGroup
	for _, svc := range services {
		wg.Add(1)
		go func(svc ServiceView) {
			defer wg.Done()
			p.probe(svc)
		}(svc)
	}
	wg.Wait()
}

func (p *Prober) probe(svc ServiceView) {
	conn, err := net.DialTimeout("tcp", svc.Address, p.config.ProbeTimeout)
	if err != nil {
		log.Debug("probe failed", "service", svc.Name, "addr", svc.Address, "error", err)
		p.registry.RecordFailure(svc.Name)
		return
	}
	conn.Close()
	p.registry.RecordSuccess(svc.Name)
}
