package services

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/aservis/maestro/internal/logger"
)

var log = logger.ForComponent("services")

// Source records how a service entered the registry: declared in the
// manifest file or registered over the protocol.
type Source string

const (
	SourceManifest Source = "manifest"
	SourceAPI      Source = "api"
)

type ServiceInfo struct {
	Name         string   `json:"name"`
	Host         string   `json:"host"`
	Port         int      `json:"port"`
	Capabilities []string `json:"capabilities"`
}

// Addr returns the dialable host:port of the service.
func (s ServiceInfo) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

func (s ServiceInfo) hasCapability(cap string) bool {
	for _, c := range s.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// ServiceView is the JSON shape handed to list_services and the
// maestro://services resource.
type ServiceView struct {
	ServiceInfo
	Address      string      `json:"address"`
	Health       HealthState `json:"health"`
	Source       Source      `json:"source"`
	RegisteredAt time.Time   `json:"registeredAt"`
}

type entry struct {
	info         ServiceInfo
	source       Source
	registeredAt time.Time
	breaker      *HealthBreaker
}

// Registry is the authoritative map of known services. Lookup walks
// services in registration order, so earlier registrations win routing.
type Registry struct {
	mu            sync.RWMutex
	entries       map[string]*entry
	order         []string
	breakerConfig BreakerConfig
}

func NewRegistry(breakerConfig BreakerConfig) *Registry {
	return &Registry{
		entries:       make(map[string]*entry),
		breakerConfig: breakerConfig,
	}
}

// Register adds a service or replaces an existing registration with the
// same name. A replacement keeps the existing breaker when the address is
// unchanged; a moved service starts over with fresh health.
func (r *Registry) Register(info ServiceInfo, source Source) error {
	if info.Name == "" {
		return fmt.Errorf("service has empty name")
	}
	if info.Host == "" || info.Port <= 0 || info.Port > 65535 {
		return fmt.Errorf("service %s has invalid address %s:%d", info.Name, info.Host, info.Port)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[info.Name]; ok {
		breaker := existing.breaker
		if existing.info.Addr() != info.Addr() {
			breaker = NewHealthBreaker(r.breakerConfig)
		}
		r.entries[info.Name] = &entry{
			info:         info,
			source:       source,
			registeredAt: existing.registeredAt,
			breaker:      breaker,
		}
		log.Info("service re-registered", "service", info.Name, "addr", info.Addr())
		return nil
	}

	r.entries[info.Name] = &entry{
		info:         info,
		source:       source,
		registeredAt: time.Now(),
		breaker:      NewHealthBreaker(r.breakerConfig),
	}
	r.order = append(r.order, info.Name)
	log.Info("service registered", "service", info.Name, "addr", info.Addr(), "capabilities", info.Capabilities)
	return nil
}

func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[name]; !ok {
		return false
	}
	delete(r.entries, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	log.Info("service unregistered", "service", name)
	return true
}

func (r *Registry) Get(name string) (ServiceInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return ServiceInfo{}, false
	}
	return e.info, true
}

// Lookup returns the first registered service that advertises the
// capability and is not unreachable.
func (r *Registry) Lookup(capability string) (ServiceInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range r.order {
		e := r.entries[name]
		if !e.info.hasCapability(capability) {
			continue
		}
		if e.breaker.Health() == HealthUnreachable {
			continue
		}
		return e.info, true
	}
	return ServiceInfo{}, false
}

func (r *Registry) Health(name string) (HealthState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return "", false
	}
	return e.breaker.Health(), true
}

func (r *Registry) RecordSuccess(name string) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if ok {
		e.breaker.RecordSuccess()
	}
}

func (r *Registry) RecordFailure(name string) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if ok {
		e.breaker.RecordFailure()
		if e.breaker.Health() == HealthUnreachable {
			log.Warn("service marked unreachable", "service", name, "addr", e.info.Addr())
		}
	}
}

// List returns a snapshot of all services in registration order.
func (r *Registry) List() []ServiceView {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ServiceView, 0, len(r.order))
	for _, name := range r.order {
		e := r.entries[name]
		out = append(out, ServiceView{
			ServiceInfo:  e.info,
			Address:      e.info.Addr(),
			Health:       e.breaker.Health(),
			Source:       e.source,
			RegisteredAt: e.registeredAt,
		})
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
