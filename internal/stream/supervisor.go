package stream

import "sync"

// Supervisor owns the single live Session of the process. Starting a session
// for a new URL stops the previous one first, so at most one connection to a
// camera is open at any time.
type Supervisor struct {
	cfg Config

	mu      sync.Mutex
	current *Session
}

// NewSupervisor returns a Supervisor whose sessions use cfg.
func NewSupervisor(cfg Config) *Supervisor {
	return &Supervisor{cfg: cfg.withDefaults()}
}

// Ensure returns a running session for url, starting one when needed.
// It returns nil when a previous session already established that url does
// not serve a multipart stream; the url is not tried again until another
// url has been streamed or the supervisor is stopped.
func (s *Supervisor) Ensure(url string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur := s.current; cur != nil {
		if cur.url == url {
			switch {
			case cur.State() != Stopped:
				return cur
			case cur.rejected():
				return nil
			}
		}
		cur.Stop()
		s.current = nil
	}
	sess := newSession(url, s.cfg)
	s.current = sess
	go sess.run()
	return sess
}

// Active returns the live session for url, or nil.
func (s *Supervisor) Active(url string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || s.current.url != url || s.current.State() == Stopped {
		return nil
	}
	return s.current
}

// Current returns the live session whatever its url, or nil.
func (s *Supervisor) Current() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || s.current.State() == Stopped {
		return nil
	}
	return s.current
}

// Stop tears down the current session and waits for its connection to close.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cur := s.current
	s.current = nil
	s.mu.Unlock()
	if cur != nil {
		cur.Stop()
	}
}

func (s *Session) rejected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notStream
}
