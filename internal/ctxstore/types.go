// Package ctxstore keeps the orchestrator's conversational state: user
// profiles, live sessions and registered devices. Entities are cached in
// memory and written through to one JSON file each under the working
// directory, so state survives restarts.
package ctxstore

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// InterfaceTypes lists the session surfaces the orchestrator accepts.
var InterfaceTypes = []string{"voice", "text", "web", "mobile"}

func ValidInterfaceType(t string) bool {
	for _, known := range InterfaceTypes {
		if t == known {
			return true
		}
	}
	return false
}

type UserContext struct {
	UserID            string            `json:"userId"`
	PreferredLanguage string            `json:"preferredLanguage"`
	Timezone          string            `json:"timezone"`
	Location          string            `json:"location,omitempty"`
	Preferences       map[string]string `json:"preferences"`
	LastActivity      int64             `json:"lastActivity"`
}

type SessionContext struct {
	SessionID       string            `json:"sessionId"`
	UserID          string            `json:"userId"`
	InterfaceType   string            `json:"interfaceType"`
	CreatedAt       int64             `json:"createdAt"`
	LastAccessed    int64             `json:"lastAccessed"`
	CommandHistory  []string          `json:"commandHistory"`
	ResponseHistory []string          `json:"responseHistory"`
	Variables       map[string]string `json:"variables"`
	LastIntent      string            `json:"lastIntent"`
	LastParameters  map[string]string `json:"lastParameters"`
	LastUsedService string            `json:"lastUsedService"`
	ServiceState    map[string]string `json:"serviceState"`
}

type DeviceContext struct {
	DeviceID         string            `json:"deviceId"`
	DeviceType       string            `json:"deviceType"`
	Platform         string            `json:"platform"`
	Version          string            `json:"version"`
	AudioDevices     []string          `json:"audioDevices"`
	GPIOCapabilities []string          `json:"gpioCapabilities"`
	SystemInfo       map[string]string `json:"systemInfo"`
	CurrentState     map[string]string `json:"currentState"`
	LastUpdate       int64             `json:"lastUpdate"`
}

// Active reports whether the session was touched within ttl.
func (s *SessionContext) Active(now time.Time, ttl time.Duration) bool {
	return now.Unix()-s.LastAccessed < int64(ttl.Seconds())
}

func (s *SessionContext) clone() *SessionContext {
	c := *s
	c.CommandHistory = append([]string(nil), s.CommandHistory...)
	c.ResponseHistory = append([]string(nil), s.ResponseHistory...)
	c.Variables = cloneMap(s.Variables)
	c.LastParameters = cloneMap(s.LastParameters)
	c.ServiceState = cloneMap(s.ServiceState)
	return &c
}

func (u *UserContext) clone() *UserContext {
	c := *u
	c.Preferences = cloneMap(u.Preferences)
	return &c
}

func (d *DeviceContext) clone() *DeviceContext {
	c := *d
	c.AudioDevices = append([]string(nil), d.AudioDevices...)
	c.GPIOCapabilities = append([]string(nil), d.GPIOCapabilities...)
	c.SystemInfo = cloneMap(d.SystemInfo)
	c.CurrentState = cloneMap(d.CurrentState)
	return &c
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	c := make(map[string]string, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// NewSessionID mints an opaque session id: "sess_" plus 16 hex digits
// taken from a random UUID.
func NewSessionID() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "sess_" + hex[:16]
}
