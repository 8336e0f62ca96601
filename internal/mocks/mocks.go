package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"tutor-realtime/internal/models"
	"tutor-realtime/internal/repositories"
)

type ShellRepositoryMock struct {
	mock.Mock
}

func (m *ShellRepositoryMock) FindByID(ctx context.Context, id string) (models.Shell, error) {
	args := m.Called(ctx, id)
	var shell models.Shell
	if val := args.Get(0); val != nil {
		shell = val.(models.Shell)
	}
	return shell, args.Error(1)
}

func (m *ShellRepositoryMock) Find(ctx context.Context, filter models.ShellFilter) ([]models.Shell, error) {
	args := m.Called(ctx, filter)
	var shells []models.Shell
	if val := args.Get(0); val != nil {
		shells = val.([]models.Shell)
	}
	return shells, args.Error(1)
}

func (m *ShellRepositoryMock) Insert(ctx context.Context, shell models.Shell) error {
	args := m.Called(ctx, shell)
	return args.Error(0)
}

func (m *ShellRepositoryMock) UpdateOne(ctx context.Context, id string, update repositories.ShellUpdate) error {
	args := m.Called(ctx, id, update)
	return args.Error(0)
}

func (m *ShellRepositoryMock) UpdateMany(ctx context.Context, filter models.ShellFilter, update repositories.ShellUpdate) (int64, error) {
	args := m.Called(ctx, filter, update)
	return int64(args.Int(0)), args.Error(1)
}

func (m *ShellRepositoryMock) DeleteOne(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *ShellRepositoryMock) Aggregate(ctx context.Context, filter models.ShellFilter, groupBy string) (map[string]int64, error) {
	args := m.Called(ctx, filter, groupBy)
	var out map[string]int64
	if val := args.Get(0); val != nil {
		out = val.(map[string]int64)
	}
	return out, args.Error(1)
}

type UserRepositoryMock struct {
	mock.Mock
}

func (m *UserRepositoryMock) FindByID(ctx context.Context, id string) (models.User, error) {
	args := m.Called(ctx, id)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *UserRepositoryMock) SetPresence(ctx context.Context, id, status string, at time.Time) error {
	args := m.Called(ctx, id, status, at)
	return args.Error(0)
}

func (m *UserRepositoryMock) Touch(ctx context.Context, ids []string, at time.Time) error {
	args := m.Called(ctx, ids, at)
	return args.Error(0)
}

func (m *UserRepositoryMock) FindStale(ctx context.Context, before time.Time) ([]models.User, error) {
	args := m.Called(ctx, before)
	var users []models.User
	if val := args.Get(0); val != nil {
		users = val.([]models.User)
	}
	return users, args.Error(1)
}

func (m *UserRepositoryMock) ListOnline(ctx context.Context) ([]models.User, error) {
	args := m.Called(ctx)
	var users []models.User
	if val := args.Get(0); val != nil {
		users = val.([]models.User)
	}
	return users, args.Error(1)
}

var _ repositories.ShellRepository = (*ShellRepositoryMock)(nil)
var _ repositories.UserRepository = (*UserRepositoryMock)(nil)
