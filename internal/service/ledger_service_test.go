package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/taskfi/taskfi-escrow/internal/pda"
	"github.com/taskfi/taskfi-escrow/internal/repository"
)

func testAuthorityAddress() pda.Address {
	var a pda.Address
	for i := range a {
		a[i] = byte(i + 1)
	}
	return a
}

func testWalletAddress(fill byte) string {
	var a pda.Address
	for i := range a {
		a[i] = fill
	}
	return a.String()
}

// derivedTeam builds a team row whose addresses genuinely derive from
// (authority, teamID), so the handlers' derivation checks pass.
func derivedTeam(t *testing.T, teamID uint64) *repository.Team {
	t.Helper()

	authority := testAuthorityAddress()
	teamAddr, teamBump, err := pda.TeamAddress(authority, teamID)
	require.NoError(t, err)
	vaultAddr, vaultBump, err := pda.VaultAddress(teamAddr)
	require.NoError(t, err)

	return &repository.Team{
		Address:      teamAddr.String(),
		Authority:    authority.String(),
		TeamID:       int64(teamID),
		Bump:         int16(teamBump),
		VaultAddress: vaultAddr.String(),
		VaultBump:    int16(vaultBump),
	}
}

func TestLedgerService_InitializeTeam(t *testing.T) {
	authority := testAuthorityAddress().String()

	tests := []struct {
		name          string
		authority     string
		teamID        uint64
		setupMocks    func(*MockTeamRepository, *MockAccountRepository)
		expectedError bool
		errorCode     ErrorCode
	}{
		{
			name:      "success",
			authority: authority,
			teamID:    42,
			setupMocks: func(tr *MockTeamRepository, ar *MockAccountRepository) {
				tr.On("Create", mock.Anything, mock.Anything).Return(nil)
				ar.On("Create", mock.Anything, mock.Anything).Return(nil)
			},
		},
		{
			name:      "already initialized",
			authority: authority,
			teamID:    42,
			setupMocks: func(tr *MockTeamRepository, ar *MockAccountRepository) {
				ar.On("Create", mock.Anything, mock.Anything).Return(nil)
				tr.On("Create", mock.Anything, mock.Anything).Return(repository.ErrAlreadyExists)
			},
			expectedError: true,
			errorCode:     ErrorCodeAlreadyInitialized,
		},
		{
			name:          "invalid authority address",
			authority:     "not-an-address",
			teamID:        42,
			setupMocks:    func(tr *MockTeamRepository, ar *MockAccountRepository) {},
			expectedError: true,
			errorCode:     ErrorCodeInvalidBody,
		},
		{
			name:      "team create failure",
			authority: authority,
			teamID:    42,
			setupMocks: func(tr *MockTeamRepository, ar *MockAccountRepository) {
				ar.On("Create", mock.Anything, mock.Anything).Return(nil)
				tr.On("Create", mock.Anything, mock.Anything).Return(errors.New("db error"))
			},
			expectedError: true,
			errorCode:     ErrorCodeUnspecified,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockTx := new(MockTransactor)
			mockTeamRepo := new(MockTeamRepository)
			mockAccountRepo := new(MockAccountRepository)

			tt.setupMocks(mockTeamRepo, mockAccountRepo)

			svc := NewLedgerService(mockTx).
				WithTeamRepo(mockTeamRepo).
				WithAccountRepo(mockAccountRepo)

			got, err := svc.InitializeTeam(context.Background(), tt.authority, tt.teamID)

			if tt.expectedError {
				require.Error(t, err)
				assert.Equal(t, tt.errorCode, err.Code)
				assert.Nil(t, got)
			} else {
				require.Nil(t, err)
				require.NotNil(t, got)
				assert.Equal(t, tt.authority, got.Authority)
				assert.Equal(t, tt.teamID, got.TeamID)
				assert.NotEmpty(t, got.Address)
				assert.NotEmpty(t, got.VaultAddress)
				assert.NotEqual(t, got.Address, got.VaultAddress)
			}

			mockTeamRepo.AssertExpectations(t)
			mockAccountRepo.AssertExpectations(t)
		})
	}
}

func TestLedgerService_InitializeTeam_CreatesVaultBeforeTeam(t *testing.T) {
	authority := testAuthorityAddress().String()

	var calls []string

	mockTeamRepo := new(MockTeamRepository)
	mockAccountRepo := new(MockAccountRepository)
	mockAccountRepo.On("Create", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { calls = append(calls, "account") }).Return(nil)
	mockTeamRepo.On("Create", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { calls = append(calls, "team") }).Return(nil)

	svc := NewLedgerService(new(MockTransactor)).
		WithTeamRepo(mockTeamRepo).
		WithAccountRepo(mockAccountRepo)

	_, err := svc.InitializeTeam(context.Background(), authority, 42)
	require.Nil(t, err)

	// The team row carries an FK to the vault account, so the account insert
	// has to commit first or the team insert fails against the schema.
	assert.Equal(t, []string{"account", "team"}, calls)
}

func TestLedgerService_InitializeTeam_Deterministic(t *testing.T) {
	authority := testAuthorityAddress().String()

	newService := func() *LedgerService {
		mockTeamRepo := new(MockTeamRepository)
		mockAccountRepo := new(MockAccountRepository)
		mockTeamRepo.On("Create", mock.Anything, mock.Anything).Return(nil)
		mockAccountRepo.On("Create", mock.Anything, mock.Anything).Return(nil)
		return NewLedgerService(new(MockTransactor)).
			WithTeamRepo(mockTeamRepo).
			WithAccountRepo(mockAccountRepo)
	}

	first, err := newService().InitializeTeam(context.Background(), authority, 7)
	require.Nil(t, err)

	second, err := newService().InitializeTeam(context.Background(), authority, 7)
	require.Nil(t, err)

	assert.Equal(t, first.Address, second.Address)
	assert.Equal(t, first.VaultAddress, second.VaultAddress)
}

func TestLedgerService_Deposit(t *testing.T) {
	team := derivedTeam(t, 42)
	depositor := testWalletAddress(0xAA)

	tests := []struct {
		name          string
		amount        int64
		setupMocks    func(*MockTeamRepository, *MockAccountRepository)
		expectedError bool
		errorCode     ErrorCode
		expectedVault int64
	}{
		{
			name:   "success",
			amount: 5_000_000,
			setupMocks: func(tr *MockTeamRepository, ar *MockAccountRepository) {
				tr.On("Get", mock.Anything, team.Address).Return(team, nil)
				ar.On("Debit", mock.Anything, depositor, int64(5_000_000)).Return(nil)
				ar.On("Credit", mock.Anything, team.VaultAddress, int64(5_000_000)).Return(nil)
				ar.On("Get", mock.Anything, team.VaultAddress).
					Return(&repository.Account{Address: team.VaultAddress, Lamports: 5_000_000}, nil)
			},
			expectedVault: 5_000_000,
		},
		{
			name:          "zero amount rejected",
			amount:        0,
			setupMocks:    func(tr *MockTeamRepository, ar *MockAccountRepository) {},
			expectedError: true,
			errorCode:     ErrorCodeInvalidAmount,
		},
		{
			name:   "insufficient depositor funds",
			amount: 5_000_000,
			setupMocks: func(tr *MockTeamRepository, ar *MockAccountRepository) {
				tr.On("Get", mock.Anything, team.Address).Return(team, nil)
				ar.On("Debit", mock.Anything, depositor, int64(5_000_000)).
					Return(repository.ErrInsufficientFunds)
			},
			expectedError: true,
			errorCode:     ErrorCodeInsufficientFunds,
		},
		{
			name:   "team not found",
			amount: 5_000_000,
			setupMocks: func(tr *MockTeamRepository, ar *MockAccountRepository) {
				tr.On("Get", mock.Anything, team.Address).Return(nil, repository.ErrNotFound)
			},
			expectedError: true,
			errorCode:     ErrorCodeNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockTx := new(MockTransactor)
			mockTeamRepo := new(MockTeamRepository)
			mockAccountRepo := new(MockAccountRepository)

			tt.setupMocks(mockTeamRepo, mockAccountRepo)

			svc := NewLedgerService(mockTx).
				WithTeamRepo(mockTeamRepo).
				WithAccountRepo(mockAccountRepo)

			got, err := svc.Deposit(context.Background(), depositor, team.Address, tt.amount)

			if tt.expectedError {
				require.Error(t, err)
				assert.Equal(t, tt.errorCode, err.Code)
				assert.Nil(t, got)
			} else {
				require.Nil(t, err)
				require.NotNil(t, got)
				assert.Equal(t, team.VaultAddress, got.Address)
				assert.Equal(t, tt.expectedVault, got.Lamports)
			}

			mockTeamRepo.AssertExpectations(t)
			mockAccountRepo.AssertExpectations(t)
		})
	}
}

func TestLedgerService_Deposit_RejectsTamperedVault(t *testing.T) {
	team := derivedTeam(t, 42)
	team.VaultAddress = testWalletAddress(0xEE) // not the derived vault

	mockTeamRepo := new(MockTeamRepository)
	mockTeamRepo.On("Get", mock.Anything, team.Address).Return(team, nil)

	svc := NewLedgerService(new(MockTransactor)).
		WithTeamRepo(mockTeamRepo).
		WithAccountRepo(new(MockAccountRepository))

	got, err := svc.Deposit(context.Background(), testWalletAddress(0xAA), team.Address, 1000)

	require.Error(t, err)
	assert.Equal(t, ErrorCodeUnspecified, err.Code)
	assert.Nil(t, got)
}

func TestLedgerService_Payout(t *testing.T) {
	team := derivedTeam(t, 42)
	recipient := testWalletAddress(0xBB)

	tests := []struct {
		name          string
		caller        string
		amount        int64
		setupMocks    func(*MockTeamRepository, *MockAccountRepository)
		expectedError bool
		errorCode     ErrorCode
	}{
		{
			name:   "success",
			caller: team.Authority,
			amount: 1_500_000,
			setupMocks: func(tr *MockTeamRepository, ar *MockAccountRepository) {
				tr.On("Get", mock.Anything, team.Address).Return(team, nil)
				ar.On("Debit", mock.Anything, team.VaultAddress, int64(1_500_000)).Return(nil)
				ar.On("Credit", mock.Anything, recipient, int64(1_500_000)).Return(nil)
				ar.On("Get", mock.Anything, team.VaultAddress).
					Return(&repository.Account{Address: team.VaultAddress, Lamports: 3_500_000}, nil)
			},
		},
		{
			name:   "caller is not the authority",
			caller: testWalletAddress(0xCC),
			amount: 1_500_000,
			setupMocks: func(tr *MockTeamRepository, ar *MockAccountRepository) {
				tr.On("Get", mock.Anything, team.Address).Return(team, nil)
			},
			expectedError: true,
			errorCode:     ErrorCodeNotAuthority,
		},
		{
			name:   "insufficient vault funds",
			caller: team.Authority,
			amount: 1_500_000,
			setupMocks: func(tr *MockTeamRepository, ar *MockAccountRepository) {
				tr.On("Get", mock.Anything, team.Address).Return(team, nil)
				ar.On("Debit", mock.Anything, team.VaultAddress, int64(1_500_000)).
					Return(repository.ErrInsufficientFunds)
			},
			expectedError: true,
			errorCode:     ErrorCodeInsufficientVaultFunds,
		},
		{
			name:          "negative amount rejected",
			caller:        team.Authority,
			amount:        -5,
			setupMocks:    func(tr *MockTeamRepository, ar *MockAccountRepository) {},
			expectedError: true,
			errorCode:     ErrorCodeInvalidAmount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockTx := new(MockTransactor)
			mockTeamRepo := new(MockTeamRepository)
			mockAccountRepo := new(MockAccountRepository)

			tt.setupMocks(mockTeamRepo, mockAccountRepo)

			svc := NewLedgerService(mockTx).
				WithTeamRepo(mockTeamRepo).
				WithAccountRepo(mockAccountRepo)

			got, err := svc.Payout(context.Background(), tt.caller, team.Address, recipient, tt.amount)

			if tt.expectedError {
				require.Error(t, err)
				assert.Equal(t, tt.errorCode, err.Code)
				assert.Nil(t, got)
			} else {
				require.Nil(t, err)
				require.NotNil(t, got)
			}

			mockTeamRepo.AssertExpectations(t)
			mockAccountRepo.AssertExpectations(t)
		})
	}
}

func TestLedgerService_WalletBalance_MissingAccountReadsZero(t *testing.T) {
	address := testWalletAddress(0xAB)

	mockAccountRepo := new(MockAccountRepository)
	mockAccountRepo.On("Get", mock.Anything, address).Return(nil, repository.ErrNotFound)

	svc := NewLedgerService(new(MockTransactor)).WithAccountRepo(mockAccountRepo)

	got, err := svc.WalletBalance(context.Background(), address)
	require.Nil(t, err)
	assert.Equal(t, address, got.Address)
	assert.Zero(t, got.Lamports)
}
