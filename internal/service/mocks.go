package service

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/taskfi/taskfi-escrow/internal/oracle"
	"github.com/taskfi/taskfi-escrow/internal/repository"
)

type MockTransactor struct {
	mock.Mock
}

func (m *MockTransactor) WithinTransaction(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

type MockTeamRepository struct {
	mock.Mock
}

func (m *MockTeamRepository) Create(ctx context.Context, team *repository.Team) error {
	args := m.Called(ctx, team)
	return args.Error(0)
}

func (m *MockTeamRepository) Get(ctx context.Context, address string) (*repository.Team, error) {
	args := m.Called(ctx, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.Team), args.Error(1)
}

type MockTaskRepository struct {
	mock.Mock
}

func (m *MockTaskRepository) Create(ctx context.Context, task *repository.Task) error {
	args := m.Called(ctx, task)
	return args.Error(0)
}

func (m *MockTaskRepository) Get(ctx context.Context, address string) (*repository.Task, error) {
	args := m.Called(ctx, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.Task), args.Error(1)
}

func (m *MockTaskRepository) PlaceBid(ctx context.Context, address, bidder string, amount int64, now time.Time) (bool, error) {
	args := m.Called(ctx, address, bidder, amount, now)
	return args.Bool(0), args.Error(1)
}

func (m *MockTaskRepository) Transition(ctx context.Context, t *repository.TaskTransition) (bool, error) {
	args := m.Called(ctx, t)
	return args.Bool(0), args.Error(1)
}

type MockAccountRepository struct {
	mock.Mock
}

func (m *MockAccountRepository) Create(ctx context.Context, address string) error {
	args := m.Called(ctx, address)
	return args.Error(0)
}

func (m *MockAccountRepository) Get(ctx context.Context, address string) (*repository.Account, error) {
	args := m.Called(ctx, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.Account), args.Error(1)
}

func (m *MockAccountRepository) Credit(ctx context.Context, address string, amount int64) error {
	args := m.Called(ctx, address, amount)
	return args.Error(0)
}

func (m *MockAccountRepository) Debit(ctx context.Context, address string, amount int64) error {
	args := m.Called(ctx, address, amount)
	return args.Error(0)
}

type MockVerifier struct {
	mock.Mock
}

func (m *MockVerifier) Verify(ctx context.Context, req oracle.VerificationRequest) (bool, error) {
	args := m.Called(ctx, req)
	return args.Bool(0), args.Error(1)
}
