package service

import (
	"context"

	"github.com/pkg/errors"
	"github.com/taskfi/taskfi-escrow/internal/db"
	"github.com/taskfi/taskfi-escrow/internal/model"
	"github.com/taskfi/taskfi-escrow/internal/pda"
	"github.com/taskfi/taskfi-escrow/internal/repository"
)

// LedgerService implements the value-movement instructions: team/vault
// initialization, deposits, direct payouts and the devnet-style airdrop.
// Every mutating instruction runs inside one transaction, so it either fully
// applies or leaves no trace.
type LedgerService struct {
	tx db.Transactor

	teams    repository.TeamRepository
	accounts repository.AccountRepository
}

func NewLedgerService(tx db.Transactor) *LedgerService {
	return &LedgerService{tx: tx}
}

func (s *LedgerService) WithTeamRepo(teams repository.TeamRepository) *LedgerService {
	s.teams = teams
	return s
}

func (s *LedgerService) WithAccountRepo(accounts repository.AccountRepository) *LedgerService {
	s.accounts = accounts
	return s
}

// InitializeTeam creates the team record and its vault account at their
// derived addresses. A second call for the same (authority, team_id) pair
// fails with ALREADY_INITIALIZED.
func (s *LedgerService) InitializeTeam(ctx context.Context, authority string, teamID uint64) (*model.Team, *Error) {
	authorityAddr, err := pda.ParseAddress(authority)
	if err != nil {
		return nil, NewError(ErrorCodeInvalidBody, "invalid authority address")
	}

	teamAddr, teamBump, err := pda.TeamAddress(authorityAddr, teamID)
	if err != nil {
		// Derivation exhaustion is a configuration-level failure, never retried.
		return nil, NewError(ErrorCodeUnspecified, "team address derivation failed")
	}

	vaultAddr, vaultBump, err := pda.VaultAddress(teamAddr)
	if err != nil {
		return nil, NewError(ErrorCodeUnspecified, "vault address derivation failed")
	}

	team := &repository.Team{
		Address:      teamAddr.String(),
		Authority:    authority,
		TeamID:       int64(teamID),
		Bump:         int16(teamBump),
		VaultAddress: vaultAddr.String(),
		VaultBump:    int16(vaultBump),
	}

	txErr := s.tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		// The team row references the vault account, so the account insert
		// must come first. Account creation is replay-safe, so a duplicate
		// initialize still reports ALREADY_INITIALIZED from the team insert.
		if err := s.accounts.Create(txCtx, team.VaultAddress); err != nil {
			return NewError(ErrorCodeUnspecified, "failed to create vault account")
		}

		if err := s.teams.Create(txCtx, team); err != nil {
			if errors.Is(err, repository.ErrAlreadyExists) {
				return NewError(ErrorCodeAlreadyInitialized, "team already initialized at derived address")
			}
			return NewError(ErrorCodeUnspecified, "failed to create team")
		}
		return nil
	})
	if txErr != nil {
		return nil, asServiceError(txErr)
	}

	return teamToModel(team), nil
}

// Deposit moves amount from the depositor's wallet into the team vault.
// Both legs happen in one transaction, so value is conserved even under
// partial failure.
func (s *LedgerService) Deposit(ctx context.Context, depositor, teamAddress string, amount int64) (*model.Wallet, *Error) {
	if amount <= 0 {
		return nil, NewError(ErrorCodeInvalidAmount, "deposit amount must be greater than 0")
	}

	vault := &model.Wallet{}

	txErr := s.tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		team, err := s.teams.Get(txCtx, teamAddress)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return NewError(ErrorCodeNotFound, "team not found")
			}
			return NewError(ErrorCodeUnspecified, "failed to get team")
		}

		if svcErr := verifyTeamDerivation(team); svcErr != nil {
			return svcErr
		}

		if err = s.accounts.Debit(txCtx, depositor, amount); err != nil {
			if errors.Is(err, repository.ErrInsufficientFunds) || errors.Is(err, repository.ErrNotFound) {
				return NewError(ErrorCodeInsufficientFunds, "depositor balance cannot cover deposit")
			}
			return NewError(ErrorCodeUnspecified, "failed to debit depositor")
		}

		if err = s.accounts.Credit(txCtx, team.VaultAddress, amount); err != nil {
			return NewError(ErrorCodeUnspecified, "failed to credit vault")
		}

		acc, err := s.accounts.Get(txCtx, team.VaultAddress)
		if err != nil {
			return NewError(ErrorCodeUnspecified, "failed to read vault balance")
		}

		vault.Address = acc.Address
		vault.Lamports = acc.Lamports
		return nil
	})
	if txErr != nil {
		return nil, asServiceError(txErr)
	}

	return vault, nil
}

// Payout is the direct form: the team authority pays an arbitrary recipient
// from the vault. The vault solvency check happens at the moment of debit.
func (s *LedgerService) Payout(ctx context.Context, caller, teamAddress, recipient string, amount int64) (*model.Wallet, *Error) {
	if amount <= 0 {
		return nil, NewError(ErrorCodeInvalidAmount, "payout amount must be greater than 0")
	}

	vault := &model.Wallet{}

	txErr := s.tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		team, err := s.teams.Get(txCtx, teamAddress)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return NewError(ErrorCodeNotFound, "team not found")
			}
			return NewError(ErrorCodeUnspecified, "failed to get team")
		}

		if team.Authority != caller {
			return NewError(ErrorCodeNotAuthority, "only the team authority can trigger payout")
		}

		if err = s.accounts.Debit(txCtx, team.VaultAddress, amount); err != nil {
			if errors.Is(err, repository.ErrInsufficientFunds) || errors.Is(err, repository.ErrNotFound) {
				return NewError(ErrorCodeInsufficientVaultFunds, "vault balance cannot cover payout")
			}
			return NewError(ErrorCodeUnspecified, "failed to debit vault")
		}

		if err = s.accounts.Credit(txCtx, recipient, amount); err != nil {
			return NewError(ErrorCodeUnspecified, "failed to credit recipient")
		}

		acc, err := s.accounts.Get(txCtx, team.VaultAddress)
		if err != nil {
			return NewError(ErrorCodeUnspecified, "failed to read vault balance")
		}

		vault.Address = acc.Address
		vault.Lamports = acc.Lamports
		return nil
	})
	if txErr != nil {
		return nil, asServiceError(txErr)
	}

	return vault, nil
}

// Airdrop credits a wallet out of thin air. Admin-only faucet for demo and
// test environments, mirroring the devnet airdrop the mobile client used.
func (s *LedgerService) Airdrop(ctx context.Context, address string, amount int64) (*model.Wallet, *Error) {
	if amount <= 0 {
		return nil, NewError(ErrorCodeInvalidAmount, "airdrop amount must be greater than 0")
	}
	if _, err := pda.ParseAddress(address); err != nil {
		return nil, NewError(ErrorCodeInvalidBody, "invalid wallet address")
	}

	wallet := &model.Wallet{}

	txErr := s.tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		if err := s.accounts.Credit(txCtx, address, amount); err != nil {
			return NewError(ErrorCodeUnspecified, "failed to credit wallet")
		}

		acc, err := s.accounts.Get(txCtx, address)
		if err != nil {
			return NewError(ErrorCodeUnspecified, "failed to read wallet balance")
		}

		wallet.Address = acc.Address
		wallet.Lamports = acc.Lamports
		return nil
	})
	if txErr != nil {
		return nil, asServiceError(txErr)
	}

	return wallet, nil
}

// WalletBalance reads an account balance. Missing accounts read as zero:
// a wallet that never received funds holds nothing.
func (s *LedgerService) WalletBalance(ctx context.Context, address string) (*model.Wallet, *Error) {
	acc, err := s.accounts.Get(ctx, address)
	if errors.Is(err, repository.ErrNotFound) {
		return &model.Wallet{Address: address}, nil
	}
	if err != nil {
		return nil, NewError(ErrorCodeUnspecified, "failed to read wallet balance")
	}
	return &model.Wallet{Address: acc.Address, Lamports: acc.Lamports}, nil
}

// VaultBalance exposes the pre-flight read clients use before relying on a
// payout succeeding: task creation never checks vault funds, so this is the
// only way to warn about an under-funded vault.
func (s *LedgerService) VaultBalance(ctx context.Context, teamAddress string) (*model.Wallet, *Error) {
	team, err := s.teams.Get(ctx, teamAddress)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, NewError(ErrorCodeNotFound, "team not found")
		}
		return nil, NewError(ErrorCodeUnspecified, "failed to get team")
	}
	return s.WalletBalance(ctx, team.VaultAddress)
}

// verifyTeamDerivation checks the stored team and vault addresses against
// the pure derivation of (authority, team_id).
func verifyTeamDerivation(team *repository.Team) *Error {
	authorityAddr, err := pda.ParseAddress(team.Authority)
	if err != nil {
		return NewError(ErrorCodeUnspecified, "stored authority is not a valid address")
	}

	teamAddr, err := pda.ParseAddress(team.Address)
	if err != nil {
		return NewError(ErrorCodeUnspecified, "stored team address is not a valid address")
	}

	vaultAddr, err := pda.ParseAddress(team.VaultAddress)
	if err != nil {
		return NewError(ErrorCodeUnspecified, "stored vault address is not a valid address")
	}

	if !pda.Verify(teamAddr, uint8(team.Bump), pda.NamespaceTeam, authorityAddr[:], pda.Uint64Seed(uint64(team.TeamID))) {
		return NewError(ErrorCodeUnspecified, "team address does not match derivation")
	}
	if !pda.Verify(vaultAddr, uint8(team.VaultBump), pda.NamespaceVault, teamAddr[:]) {
		return NewError(ErrorCodeUnspecified, "vault address does not match derivation")
	}
	return nil
}

func teamToModel(team *repository.Team) *model.Team {
	return &model.Team{
		Address:      team.Address,
		Authority:    team.Authority,
		TeamID:       uint64(team.TeamID),
		Bump:         uint8(team.Bump),
		VaultAddress: team.VaultAddress,
		VaultBump:    uint8(team.VaultBump),
		CreatedAt:    team.CreatedAt,
	}
}

func taskToModel(task *repository.Task) *model.Task {
	m := &model.Task{
		Address:           task.Address,
		TeamAddress:       task.TeamAddress,
		TaskID:            uint64(task.TaskID),
		Creator:           task.Creator,
		RewardLamports:    task.RewardLamports,
		LowestBidLamports: task.LowestBidLamports,
		Status:            task.Status,
		AuctionEnd:        task.AuctionEnd,
		Bump:              uint8(task.Bump),
		CreatedAt:         task.CreatedAt,
	}
	if task.LeadingBidder != nil {
		m.LeadingBidder = *task.LeadingBidder
	}
	if task.Assignee != nil {
		m.Assignee = *task.Assignee
	}
	return m
}

// asServiceError unwraps the typed error carried out of a transaction
// closure; anything else is an infrastructure failure.
func asServiceError(err error) *Error {
	svcErr := &Error{}
	if errors.As(err, &svcErr) {
		return svcErr
	}
	return NewError(ErrorCodeUnspecified, "instruction failed")
}
