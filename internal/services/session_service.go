// internal/services/session_service.go
package services

import (
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/Corphon/StoryboardStudio/internal/errors"
	"github.com/Corphon/StoryboardStudio/internal/utils"
)

// TaskRetention is how long finished tasks stay queryable
const TaskRetention = 10 * time.Minute

// SessionFactory builds a session for a freshly issued id
type SessionFactory func(id string) *EditorSession

// SessionService keeps editor sessions alive until they sit idle past the TTL
type SessionService struct {
	sessions      map[string]*sessionEntry
	mutex         sync.RWMutex
	factory       SessionFactory
	ttl           time.Duration
	taskRetention time.Duration
	cleanupTicker *time.Ticker
	stop          chan struct{}
	stopOnce      sync.Once
	metrics       *utils.MetricsCollector
	logger        *utils.Logger
	now           func() time.Time
}

type sessionEntry struct {
	session  *EditorSession
	lastUsed time.Time
}

// NewSessionService creates the registry. A positive cleanupEvery starts the
// background sweeper.
func NewSessionService(factory SessionFactory, ttl, cleanupEvery time.Duration, logger *utils.Logger) *SessionService {
	if logger == nil {
		logger = utils.GetLogger()
	}
	s := &SessionService{
		sessions:      make(map[string]*sessionEntry),
		factory:       factory,
		ttl:           ttl,
		taskRetention: TaskRetention,
		stop:          make(chan struct{}),
		metrics:       utils.GetMetricsCollector(),
		logger:        logger,
		now:           time.Now,
	}
	if cleanupEvery > 0 {
		s.startCleanup(cleanupEvery)
	}
	return s
}

// Create opens a new session
func (s *SessionService) Create() *EditorSession {
	id := uuid.NewString()
	session := s.factory(id)

	s.mutex.Lock()
	s.sessions[id] = &sessionEntry{session: session, lastUsed: s.now()}
	count := len(s.sessions)
	s.mutex.Unlock()

	s.metrics.SetGauge("editor_sessions_active", int64(count))
	s.logger.Info("Editor session created", map[string]interface{}{"session_id": id})
	return session
}

// Get returns a live session and refreshes its idle timer
func (s *SessionService) Get(id string) (*EditorSession, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	entry, exists := s.sessions[id]
	if !exists {
		return nil, apperrors.NewNotFoundError("session "+id+" not found or expired", nil)
	}
	entry.lastUsed = s.now()
	return entry.session, nil
}

// Remove closes and forgets a session
func (s *SessionService) Remove(id string) bool {
	s.mutex.Lock()
	entry, exists := s.sessions[id]
	delete(s.sessions, id)
	count := len(s.sessions)
	s.mutex.Unlock()

	if !exists {
		return false
	}
	entry.session.Close()
	s.metrics.SetGauge("editor_sessions_active", int64(count))
	return true
}

// Count returns the number of live sessions
func (s *SessionService) Count() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.sessions)
}

// Close stops the sweeper and closes every session
func (s *SessionService) Close() {
	s.stopOnce.Do(func() {
		close(s.stop)
		if s.cleanupTicker != nil {
			s.cleanupTicker.Stop()
		}
	})

	s.mutex.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*sessionEntry)
	s.mutex.Unlock()

	for _, entry := range sessions {
		entry.session.Close()
	}
	s.metrics.SetGauge("editor_sessions_active", 0)
}

func (s *SessionService) startCleanup(every time.Duration) {
	s.cleanupTicker = time.NewTicker(every)
	go func() {
		for {
			select {
			case <-s.cleanupTicker.C:
				s.cleanupExpired()
				s.pruneTasks()
			case <-s.stop:
				return
			}
		}
	}()
}

// cleanupExpired closes sessions idle for longer than the TTL
func (s *SessionService) cleanupExpired() int {
	if s.ttl <= 0 {
		return 0
	}

	now := s.now()
	var expired []*sessionEntry

	s.mutex.Lock()
	for id, entry := range s.sessions {
		if now.Sub(entry.lastUsed) > s.ttl {
			expired = append(expired, entry)
			delete(s.sessions, id)
		}
	}
	count := len(s.sessions)
	s.mutex.Unlock()

	for _, entry := range expired {
		entry.session.Close()
		s.logger.Info("Editor session expired", map[string]interface{}{"session_id": entry.session.ID})
	}
	if len(expired) > 0 {
		s.metrics.SetGauge("editor_sessions_active", int64(count))
	}
	return len(expired)
}

// pruneTasks drops finished tasks past the retention window from live sessions
func (s *SessionService) pruneTasks() int {
	if s.taskRetention <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.taskRetention)

	s.mutex.RLock()
	sessions := make([]*EditorSession, 0, len(s.sessions))
	for _, entry := range s.sessions {
		sessions = append(sessions, entry.session)
	}
	s.mutex.RUnlock()

	pruned := 0
	for _, session := range sessions {
		pruned += session.PruneTasks(cutoff)
	}
	if pruned > 0 {
		s.logger.Debug("Pruned finished editor tasks", map[string]interface{}{"tasks": pruned})
	}
	return pruned
}
