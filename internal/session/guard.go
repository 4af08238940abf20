package session

// Track runs op as a tracked long-running operation. The in-flight
// count is raised before op starts and lowered when it returns, on
// every path including panics, so the idle escalator stays quiet for
// exactly as long as op is running.
func (s *Session) Track(op func() error) error {
	release := s.acquire()
	defer release()
	return op()
}

// Tracked is the value-returning form of [Session.Track].
func Tracked[T any](s *Session, op func() (T, error)) (T, error) {
	release := s.acquire()
	defer release()
	return op()
}

// Executing reports whether any tracked operation is in flight.
func (s *Session) Executing() bool {
	return s.ExecutingCount() > 0
}

// ExecutingCount returns the number of tracked operations in flight.
func (s *Session) ExecutingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executing
}

// acquire increments the in-flight count and returns the matching
// release. Calling release more than once is a no-op.
func (s *Session) acquire() func() {
	s.mu.Lock()
	s.executing++
	s.mu.Unlock()

	var released bool
	return func() {
		if released {
			return
		}
		released = true

		s.mu.Lock()
		defer s.mu.Unlock()
		s.executing--
		if s.executing < 0 {
			panic("session: executing count went negative")
		}
	}
}
