package ctxstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aservis/maestro/internal/config"
	"github.com/aservis/maestro/internal/logger"
)

var log = logger.ForComponent("ctxstore")

// Store is the write-through context cache. Each entity kind has its own
// lock so session churn does not contend with device updates.
type Store struct {
	config config.ContextConfig
	files  *fileStore

	usersMu sync.RWMutex
	users   map[string]*UserContext

	sessionsMu sync.RWMutex
	sessions   map[string]*SessionContext

	devicesMu sync.RWMutex
	devices   map[string]*DeviceContext

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func NewStore(workingDir string, cfg config.ContextConfig) (*Store, error) {
	files, err := newFileStore(workingDir)
	if err != nil {
		return nil, err
	}
	return &Store{
		config:   cfg,
		files:    files,
		users:    make(map[string]*UserContext),
		sessions: make(map[string]*SessionContext),
		devices:  make(map[string]*DeviceContext),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start launches the expiry sweeper. Stop (or ctx cancellation) ends it.
func (s *Store) Start(ctx context.Context) {
	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(s.config.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				if n := s.sweepOnce(time.Now()); n > 0 {
					log.Info("swept expired sessions", "count", n)
				}
			}
		}
	}()
}

func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
}

// GetOrCreateUser returns the stored profile, creating a default one on
// first interaction.
func (s *Store) GetOrCreateUser(userID string) (*UserContext, error) {
	if userID == "" {
		return nil, errors.New("empty user id")
	}

	s.usersMu.RLock()
	if u, ok := s.users[userID]; ok {
		s.usersMu.RUnlock()
		return u.clone(), nil
	}
	s.usersMu.RUnlock()

	s.usersMu.Lock()
	defer s.usersMu.Unlock()
	if u, ok := s.users[userID]; ok {
		return u.clone(), nil
	}

	u := &UserContext{UserID: userID}
	err := s.files.load(kindUsers, userID, u)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		u = &UserContext{
			UserID:            userID,
			PreferredLanguage: "en",
			Timezone:          "UTC",
			Preferences:       make(map[string]string),
			LastActivity:      time.Now().Unix(),
		}
		if err := s.files.save(kindUsers, userID, u); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	s.users[userID] = u
	return u.clone(), nil
}

func (s *Store) UpdateUser(u *UserContext) error {
	if u == nil || u.UserID == "" {
		return errors.New("invalid user context")
	}

	s.usersMu.Lock()
	defer s.usersMu.Unlock()
	if err := s.files.save(kindUsers, u.UserID, u); err != nil {
		return err
	}
	s.users[u.UserID] = u.clone()
	return nil
}

// CreateSession mints a session for a user on one of the known interface
// surfaces and persists it immediately.
func (s *Store) CreateSession(userID, interfaceType string) (*SessionContext, error) {
	if !ValidInterfaceType(interfaceType) {
		return nil, fmt.Errorf("unknown interface type: %s", interfaceType)
	}
	if _, err := s.GetOrCreateUser(userID); err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	sess := &SessionContext{
		SessionID:       NewSessionID(),
		UserID:          userID,
		InterfaceType:   interfaceType,
		CreatedAt:       now,
		LastAccessed:    now,
		CommandHistory:  []string{},
		ResponseHistory: []string{},
		Variables:       make(map[string]string),
		LastParameters:  make(map[string]string),
		ServiceState:    make(map[string]string),
	}

	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	if err := s.files.save(kindSessions, sess.SessionID, sess); err != nil {
		return nil, err
	}
	s.sessions[sess.SessionID] = sess

	log.Debug("session created", "session", sess.SessionID, "user", userID, "interface", interfaceType)
	return sess.clone(), nil
}

// GetSession returns a snapshot of the session, consulting disk on a cache
// miss. It does not bump lastAccessed; command traffic does that.
func (s *Store) GetSession(sessionID string) (*SessionContext, error) {
	s.sessionsMu.RLock()
	if sess, ok := s.sessions[sessionID]; ok {
		s.sessionsMu.RUnlock()
		return sess.clone(), nil
	}
	s.sessionsMu.RUnlock()

	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok {
		return sess.clone(), nil
	}

	sess := &SessionContext{}
	if err := s.files.load(kindSessions, sessionID, sess); err != nil {
		return nil, err
	}
	s.sessions[sessionID] = sess
	return sess.clone(), nil
}

// UpdateSession replaces the stored session with the given snapshot.
func (s *Store) UpdateSession(sess *SessionContext) error {
	if sess == nil || sess.SessionID == "" {
		return errors.New("invalid session context")
	}

	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	if err := s.files.save(kindSessions, sess.SessionID, sess); err != nil {
		return err
	}
	s.sessions[sess.SessionID] = sess.clone()
	return nil
}

func (s *Store) DeleteSession(sessionID string) error {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	delete(s.sessions, sessionID)
	return s.files.delete(kindSessions, sessionID)
}

// SetSessionVariable sets one key in the session's variables map.
func (s *Store) SetSessionVariable(sessionID, key, value string) error {
	sess, err := s.GetSession(sessionID)
	if err != nil {
		return err
	}
	if sess.Variables == nil {
		sess.Variables = make(map[string]string)
	}
	sess.Variables[key] = value
	sess.LastAccessed = time.Now().Unix()
	return s.UpdateSession(sess)
}

// AddCommandToHistory appends one command/response pair, trims both
// histories to the configured limit oldest-first, bumps lastAccessed and
// persists. The two histories always move together.
func (s *Store) AddCommandToHistory(sessionID, command, response string) error {
	sess, err := s.GetSession(sessionID)
	if err != nil {
		return err
	}

	sess.CommandHistory = append(sess.CommandHistory, command)
	sess.ResponseHistory = append(sess.ResponseHistory, response)

	limit := s.config.HistoryLimit
	if limit > 0 {
		if n := len(sess.CommandHistory); n > limit {
			sess.CommandHistory = sess.CommandHistory[n-limit:]
		}
		if n := len(sess.ResponseHistory); n > limit {
			sess.ResponseHistory = sess.ResponseHistory[n-limit:]
		}
	}

	sess.LastAccessed = time.Now().Unix()
	return s.UpdateSession(sess)
}

// Sessions returns snapshots of every cached session plus any session
// present only on disk.
func (s *Store) Sessions() []*SessionContext {
	ids, err := s.files.list(kindSessions)
	if err != nil {
		log.Warn("listing session files failed", "error", err)
	}

	seen := make(map[string]bool)
	var out []*SessionContext

	s.sessionsMu.RLock()
	for id, sess := range s.sessions {
		seen[id] = true
		out = append(out, sess.clone())
	}
	s.sessionsMu.RUnlock()

	for _, id := range ids {
		if seen[id] {
			continue
		}
		if sess, err := s.GetSession(id); err == nil {
			out = append(out, sess)
		}
	}
	return out
}

// RegisterDevice stores the device context, replacing any previous
// registration with the same id.
func (s *Store) RegisterDevice(d *DeviceContext) error {
	if d == nil || d.DeviceID == "" {
		return errors.New("invalid device context")
	}
	d.LastUpdate = time.Now().Unix()

	s.devicesMu.Lock()
	defer s.devicesMu.Unlock()
	if err := s.files.save(kindDevices, d.DeviceID, d); err != nil {
		return err
	}
	s.devices[d.DeviceID] = d.clone()
	return nil
}

func (s *Store) GetDevice(deviceID string) (*DeviceContext, error) {
	s.devicesMu.RLock()
	if d, ok := s.devices[deviceID]; ok {
		s.devicesMu.RUnlock()
		return d.clone(), nil
	}
	s.devicesMu.RUnlock()

	s.devicesMu.Lock()
	defer s.devicesMu.Unlock()
	if d, ok := s.devices[deviceID]; ok {
		return d.clone(), nil
	}

	d := &DeviceContext{}
	if err := s.files.load(kindDevices, deviceID, d); err != nil {
		return nil, err
	}
	s.devices[deviceID] = d
	return d.clone(), nil
}

// sweepOnce drops every session idle past the TTL from cache and disk,
// returning how many went.
func (s *Store) sweepOnce(now time.Time) int {
	ttl := int64(s.config.SessionTTL.Seconds())
	swept := 0

	ids, err := s.files.list(kindSessions)
	if err != nil {
		log.Warn("sweep: listing session files failed", "error", err)
	}

	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()

	seen := make(map[string]bool)
	for id, sess := range s.sessions {
		seen[id] = true
		if now.Unix()-sess.LastAccessed >= ttl {
			delete(s.sessions, id)
			if err := s.files.delete(kindSessions, id); err != nil {
				log.Warn("sweep: deleting session file failed", "session", id, "error", err)
			}
			swept++
		}
	}

	for _, id := range ids {
		if seen[id] {
			continue
		}
		sess := &SessionContext{}
		if err := s.files.load(kindSessions, id, sess); err != nil {
			continue
		}
		if now.Unix()-sess.LastAccessed >= ttl {
			if err := s.files.delete(kindSessions, id); err != nil {
				log.Warn("sweep: deleting session file failed", "session", id, "error", err)
			}
			swept++
		}
	}
	return swept
}
