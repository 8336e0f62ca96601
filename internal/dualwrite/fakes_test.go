package dualwrite

import (
	"context"
	"slices"
	"sort"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tutor-realtime/internal/aggregate"
	"tutor-realtime/internal/livestore"
	"tutor-realtime/internal/mocks"
	"tutor-realtime/internal/models"
	"tutor-realtime/internal/repositories"
	"tutor-realtime/internal/ws"
)

// memShells is an in-memory shell table with the ordering of the SQL one.
type memShells struct {
	mu     sync.Mutex
	shells map[string]models.Shell
}

var _ repositories.ShellRepository = (*memShells)(nil)

func newMemShells() *memShells {
	return &memShells{shells: map[string]models.Shell{}}
}

func (m *memShells) put(s models.Shell) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shells[s.ID] = s
}

func (m *memShells) FindByID(_ context.Context, id string) (models.Shell, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.shells[id]
	if !ok {
		return models.Shell{}, repositories.ErrShellNotFound
	}
	return s, nil
}

func (m *memShells) Find(_ context.Context, f models.ShellFilter) ([]models.Shell, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Shell
	for _, s := range m.shells {
		if matches(s, f) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func matches(s models.Shell, f models.ShellFilter) bool {
	switch {
	case f.Kind != "" && s.Kind != f.Kind:
		return false
	case f.OwnerID != "" && s.OwnerID != f.OwnerID:
		return false
	case f.ParentID != "" && s.ParentID != f.ParentID:
		return false
	case f.Participant != "" && !s.Involves(f.Participant):
		return false
	case f.Tag != "" && s.Tag != f.Tag:
		return false
	case f.Status != "" && s.Status != f.Status:
		return false
	case !f.IncludeDeleted && s.IsDeleted:
		return false
	case len(f.IDs) > 0 && !slices.Contains(f.IDs, s.ID):
		return false
	}
	return true
}

func (m *memShells) Insert(_ context.Context, s models.Shell) error {
	m.put(s)
	return nil
}

func (m *memShells) UpdateOne(_ context.Context, id string, u repositories.ShellUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.shells[id]
	if !ok {
		return repositories.ErrShellNotFound
	}
	m.shells[id] = applyUpdate(s, u)
	return nil
}

func (m *memShells) UpdateMany(_ context.Context, f models.ShellFilter, u repositories.ShellUpdate) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.shells {
		if matches(s, f) {
			m.shells[id] = applyUpdate(s, u)
			n++
		}
	}
	return n, nil
}

func (m *memShells) DeleteOne(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.shells[id]; !ok {
		return repositories.ErrShellNotFound
	}
	delete(m.shells, id)
	return nil
}

func (m *memShells) Aggregate(_ context.Context, f models.ShellFilter, groupBy string) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]int64{}
	for _, s := range m.shells {
		if !matches(s, f) {
			continue
		}
		switch groupBy {
		case "tag":
			out[s.Tag]++
		case "status":
			out[s.Status]++
		case "kind":
			out[string(s.Kind)]++
		case "owner_id":
			out[s.OwnerID]++
		}
	}
	return out, nil
}

type sentEvent struct {
	Scope  string
	Target string
	Event  string
	Data   any
}

type recordingFanout struct {
	mu   sync.Mutex
	sent []sentEvent
}

func (f *recordingFanout) record(scope, target, event string, data any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentEvent{Scope: scope, Target: target, Event: event, Data: data})
}

func (f *recordingFanout) EmitToRoom(_ context.Context, room, event string, data any) {
	f.record(ws.ScopeRoom, room, event, data)
}

func (f *recordingFanout) EmitToUser(_ context.Context, userID, event string, data any) {
	f.record(ws.ScopeUser, userID, event, data)
}

func (f *recordingFanout) Broadcast(_ context.Context, event string, data any) {
	f.record(ws.ScopeBroadcast, "", event, data)
}

func (f *recordingFanout) named(event string) []sentEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentEvent
	for _, e := range f.sent {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

type recordingFiles struct {
	paths []string
}

func (r *recordingFiles) RemoveFiles(_ context.Context, paths []string) error {
	r.paths = append(r.paths, paths...)
	return nil
}

var testUsers = []models.User{
	{ID: "x", Username: "xavier", FirstName: "Xavier", Role: models.RoleStudent},
	{ID: "y", Username: "yara", FirstName: "Yara", Role: models.RoleStudent},
	{ID: "z", Username: "zane", Role: models.RoleStudent},
	{ID: "s1", Username: "sam", Role: models.RoleStaff},
	{ID: "b", Username: "blocked", Role: models.RoleStudent, IsBlocked: true},
}

func student(id string) Actor { return Actor{UserID: id, Role: models.RoleStudent} }

func staff() Actor { return Actor{UserID: "s1", Role: models.RoleStaff, Username: "sam"} }

func userRepo() *mocks.UserRepositoryMock {
	users := new(mocks.UserRepositoryMock)
	for _, u := range testUsers {
		users.On("FindByID", mock.Anything, u.ID).Return(u, nil).Maybe()
	}
	users.On("FindByID", mock.Anything, mock.Anything).Return(models.User{}, repositories.ErrUserNotFound).Maybe()
	return users
}

type fixture struct {
	c      *Coordinator
	shells *memShells
	live   *livestore.Store
	fanout *recordingFanout
	files  *recordingFiles
}

func openLive(t *testing.T) *livestore.Store {
	t.Helper()
	live, err := livestore.Open(livestore.Options{InMemory: true, Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = live.Close() })
	return live
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		shells: newMemShells(),
		live:   openLive(t),
		fanout: &recordingFanout{},
		files:  &recordingFiles{},
	}
	f.rebuild(f.shells, zerolog.Nop())
	return f
}

// rebuild wires a fresh coordinator over the fixture's stores.
func (f *fixture) rebuild(shells repositories.ShellRepository, log zerolog.Logger) {
	f.c = NewCoordinator(Deps{
		Shells:   shells,
		Users:    userRepo(),
		Live:     f.live,
		Counters: aggregate.NewMaintainer(f.live, zerolog.Nop()),
		Fanout:   f.fanout,
		Files:    f.files,
		Logger:   log,
	})
}
