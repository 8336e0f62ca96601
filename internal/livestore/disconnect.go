package livestore

// OnDisconnectSet queues a write of value at p that runs when the store
// session ends (Disconnect or Close). A later registration for the same path
// replaces the earlier one.
func (s *Store) OnDisconnectSet(p string, value any) error {
	p, err := cleanPath(p)
	if err != nil {
		return err
	}
	norm, err := normalize(value)
	if err != nil {
		return err
	}
	s.discMu.Lock()
	s.onDisconnect[p] = norm
	s.discMu.Unlock()
	return nil
}

// CancelOnDisconnect drops the queued write for p, if any.
func (s *Store) CancelOnDisconnect(p string) {
	p, err := cleanPath(p)
	if err != nil {
		return
	}
	s.discMu.Lock()
	delete(s.onDisconnect, p)
	s.discMu.Unlock()
}

// Disconnect applies and clears every queued on-disconnect write.
func (s *Store) Disconnect() error {
	s.discMu.Lock()
	pending := s.onDisconnect
	s.onDisconnect = make(map[string]any)
	s.discMu.Unlock()

	if len(pending) == 0 {
		return nil
	}
	return s.write(pending)
}

// PendingDisconnects reports how many on-disconnect writes are queued.
func (s *Store) PendingDisconnects() int {
	s.discMu.Lock()
	defer s.discMu.Unlock()
	return len(s.onDisconnect)
}
