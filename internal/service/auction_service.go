package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/taskfi/taskfi-escrow/internal/db"
	"github.com/taskfi/taskfi-escrow/internal/model"
	"github.com/taskfi/taskfi-escrow/internal/oracle"
	"github.com/taskfi/taskfi-escrow/internal/pda"
	"github.com/taskfi/taskfi-escrow/internal/repository"
)

// AuctionService implements the task lifecycle instructions. Tasks move
// through Bidding -> Assigned -> Completed -> Paid; every handler checks the
// exact predecessor state and the guarded transitions in the repository
// enforce it again at commit point.
type AuctionService struct {
	tx db.Transactor

	teams    repository.TeamRepository
	tasks    repository.TaskRepository
	accounts repository.AccountRepository
	verifier oracle.Verifier

	now func() time.Time
}

func NewAuctionService(tx db.Transactor) *AuctionService {
	return &AuctionService{tx: tx, now: time.Now}
}

func (s *AuctionService) WithTeamRepo(teams repository.TeamRepository) *AuctionService {
	s.teams = teams
	return s
}

func (s *AuctionService) WithTaskRepo(tasks repository.TaskRepository) *AuctionService {
	s.tasks = tasks
	return s
}

func (s *AuctionService) WithAccountRepo(accounts repository.AccountRepository) *AuctionService {
	s.accounts = accounts
	return s
}

func (s *AuctionService) WithVerifier(verifier oracle.Verifier) *AuctionService {
	s.verifier = verifier
	return s
}

// WithClock overrides the time source. Tests use it to close auctions.
func (s *AuctionService) WithClock(now func() time.Time) *AuctionService {
	s.now = now
	return s
}

// CreateTaskAuction opens a reverse auction: the reserve reward is the
// ceiling and bids only move down. The vault is not debited and not checked
// here; solvency is enforced at payout, and clients are expected to
// pre-flight the vault balance instead.
func (s *AuctionService) CreateTaskAuction(ctx context.Context, caller, teamAddress string, taskID uint64, reserveReward int64, auctionEnd time.Time) (*model.Task, *Error) {
	if reserveReward <= 0 {
		return nil, NewError(ErrorCodeInvalidAmount, "reserve reward must be greater than 0")
	}
	if !auctionEnd.After(s.now()) {
		return nil, NewError(ErrorCodeInvalidBody, "auction end must be in the future")
	}

	var task *repository.Task

	txErr := s.tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		team, err := s.teams.Get(txCtx, teamAddress)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return NewError(ErrorCodeNotFound, "team not found")
			}
			return NewError(ErrorCodeUnspecified, "failed to get team")
		}

		if team.Authority != caller {
			return NewError(ErrorCodeNotAuthority, "only the team authority can create tasks")
		}

		teamAddr, err := pda.ParseAddress(team.Address)
		if err != nil {
			return NewError(ErrorCodeUnspecified, "stored team address is not a valid address")
		}

		taskAddr, taskBump, err := pda.TaskAddress(teamAddr, taskID)
		if err != nil {
			return NewError(ErrorCodeUnspecified, "task address derivation failed")
		}

		task = &repository.Task{
			Address:           taskAddr.String(),
			TeamAddress:       team.Address,
			TaskID:            int64(taskID),
			Creator:           caller,
			RewardLamports:    reserveReward,
			LowestBidLamports: reserveReward,
			Status:            model.TaskStatusBidding,
			AuctionEnd:        auctionEnd,
			Bump:              int16(taskBump),
		}

		if err = s.tasks.Create(txCtx, task); err != nil {
			if errors.Is(err, repository.ErrAlreadyExists) {
				return NewError(ErrorCodeAlreadyInitialized, "task already exists at derived address")
			}
			return NewError(ErrorCodeUnspecified, "failed to create task")
		}
		return nil
	})
	if txErr != nil {
		return nil, asServiceError(txErr)
	}

	return taskToModel(task), nil
}

// PlaceBid records a strictly improving bid: ties are rejected, so the first
// bidder at a price keeps priority. No bidder funds are escrowed; a bid is a
// price commitment, the worker is paid from the vault.
func (s *AuctionService) PlaceBid(ctx context.Context, caller, taskAddress string, amount int64) (*model.Task, *Error) {
	if amount <= 0 {
		return nil, NewError(ErrorCodeInvalidAmount, "bid amount must be greater than 0")
	}

	var result *repository.Task

	txErr := s.tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		task, err := s.tasks.Get(txCtx, taskAddress)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return NewError(ErrorCodeNotFound, "task not found")
			}
			return NewError(ErrorCodeUnspecified, "failed to get task")
		}

		now := s.now()
		if task.Status != model.TaskStatusBidding || !task.AuctionEnd.After(now) {
			return NewError(ErrorCodeAuctionClosed, "auction is closed")
		}
		if amount >= task.LowestBidLamports {
			return NewError(ErrorCodeBidTooHigh, "bid must be strictly lower than the current lowest bid")
		}

		applied, err := s.tasks.PlaceBid(txCtx, taskAddress, caller, amount, now)
		if err != nil {
			return NewError(ErrorCodeUnspecified, "failed to place bid")
		}
		if !applied {
			// The row changed between the read and the guarded update:
			// another bid or a finalize committed first.
			current, err := s.tasks.Get(txCtx, taskAddress)
			if err != nil {
				return NewError(ErrorCodeUnspecified, "failed to re-read task")
			}
			if current.Status != model.TaskStatusBidding || !current.AuctionEnd.After(now) {
				return NewError(ErrorCodeAuctionClosed, "auction is closed")
			}
			return NewError(ErrorCodeBidTooHigh, "bid must be strictly lower than the current lowest bid")
		}

		result, err = s.tasks.Get(txCtx, taskAddress)
		if err != nil {
			return NewError(ErrorCodeUnspecified, "failed to re-read task")
		}
		return nil
	})
	if txErr != nil {
		return nil, asServiceError(txErr)
	}

	return taskToModel(result), nil
}

// FinalizeAuction settles a closed auction. With bids, the leading bidder
// becomes the assignee and the reward drops to the winning bid; with none,
// the team authority is assigned as the fallback so every task converges.
// Calling it again after settlement is a soft no-op.
func (s *AuctionService) FinalizeAuction(ctx context.Context, taskAddress string) (*model.FinalizeResult, *Error) {
	result := &model.FinalizeResult{}

	txErr := s.tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		task, err := s.tasks.Get(txCtx, taskAddress)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return NewError(ErrorCodeNotFound, "task not found")
			}
			return NewError(ErrorCodeUnspecified, "failed to get task")
		}

		if task.Status != model.TaskStatusBidding {
			result.Task = taskToModel(task)
			result.AlreadyFinalized = true
			return nil
		}

		if task.AuctionEnd.After(s.now()) {
			return NewError(ErrorCodeAuctionNotEnded, "auction has not ended yet")
		}

		transition := &repository.TaskTransition{
			Address:    taskAddress,
			FromStatus: model.TaskStatusBidding,
			ToStatus:   model.TaskStatusAssigned,
		}

		if task.LeadingBidder != nil {
			transition.Assignee = task.LeadingBidder
			transition.RewardLamports = &task.LowestBidLamports
		} else {
			team, err := s.teams.Get(txCtx, task.TeamAddress)
			if err != nil {
				return NewError(ErrorCodeUnspecified, "failed to get team")
			}
			// Zero participation: the authority absorbs the task, reward
			// stays at the reserve.
			transition.Assignee = &team.Authority
		}

		applied, err := s.tasks.Transition(txCtx, transition)
		if err != nil {
			return NewError(ErrorCodeUnspecified, "failed to finalize auction")
		}

		current, err := s.tasks.Get(txCtx, taskAddress)
		if err != nil {
			return NewError(ErrorCodeUnspecified, "failed to re-read task")
		}

		result.Task = taskToModel(current)
		result.AlreadyFinalized = !applied
		return nil
	})
	if txErr != nil {
		return nil, asServiceError(txErr)
	}

	return result, nil
}

// AssignTask is the explicit confirmation step. Flows that skip bidding
// converge here: the authority may direct-assign a task that received no
// bids, and re-assigning the current assignee is a soft no-op.
func (s *AuctionService) AssignTask(ctx context.Context, caller, taskAddress, assignee string) (*model.AssignResult, *Error) {
	result := &model.AssignResult{}

	txErr := s.tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		task, err := s.tasks.Get(txCtx, taskAddress)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return NewError(ErrorCodeNotFound, "task not found")
			}
			return NewError(ErrorCodeUnspecified, "failed to get task")
		}

		team, err := s.teams.Get(txCtx, task.TeamAddress)
		if err != nil {
			return NewError(ErrorCodeUnspecified, "failed to get team")
		}

		switch task.Status {
		case model.TaskStatusAssigned:
			if task.Assignee != nil && *task.Assignee == assignee {
				result.Task = taskToModel(task)
				result.AlreadyAssigned = true
				return nil
			}
			if team.Authority != caller {
				return NewError(ErrorCodeNotAuthority, "only the team authority can reassign a task")
			}
			transition := &repository.TaskTransition{
				Address:    taskAddress,
				FromStatus: model.TaskStatusAssigned,
				ToStatus:   model.TaskStatusAssigned,
				Assignee:   &assignee,
			}
			if _, err = s.tasks.Transition(txCtx, transition); err != nil {
				return NewError(ErrorCodeUnspecified, "failed to reassign task")
			}

		case model.TaskStatusBidding:
			if task.LeadingBidder != nil {
				return NewError(ErrorCodeWrongState, "auction in progress, finalize it instead")
			}
			if team.Authority != caller {
				return NewError(ErrorCodeNotAuthority, "only the team authority can assign a task directly")
			}
			transition := &repository.TaskTransition{
				Address:    taskAddress,
				FromStatus: model.TaskStatusBidding,
				ToStatus:   model.TaskStatusAssigned,
				Assignee:   &assignee,
			}
			if _, err = s.tasks.Transition(txCtx, transition); err != nil {
				return NewError(ErrorCodeUnspecified, "failed to assign task")
			}

		default:
			return NewError(ErrorCodeWrongState, "task can no longer be assigned")
		}

		current, err := s.tasks.Get(txCtx, taskAddress)
		if err != nil {
			return NewError(ErrorCodeUnspecified, "failed to re-read task")
		}
		result.Task = taskToModel(current)
		return nil
	})
	if txErr != nil {
		return nil, asServiceError(txErr)
	}

	return result, nil
}

// MarkComplete moves an Assigned task to Completed. Only the assignee may
// report completion.
func (s *AuctionService) MarkComplete(ctx context.Context, caller, taskAddress string) (*model.Task, *Error) {
	var result *repository.Task

	txErr := s.tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		task, err := s.completeAssignedTask(txCtx, caller, taskAddress)
		if err != nil {
			return err
		}
		result = task
		return nil
	})
	if txErr != nil {
		return nil, asServiceError(txErr)
	}

	return taskToModel(result), nil
}

// VerifyAndComplete runs the verification oracle and, only on a positive
// verdict, marks the task complete. The oracle call happens before the
// transaction opens, so oracle failures cannot leave partial ledger state.
func (s *AuctionService) VerifyAndComplete(ctx context.Context, caller, taskAddress, description, mediaURL string) (*model.Task, *Error) {
	if s.verifier == nil {
		return nil, NewError(ErrorCodeOracleUnavailable, "no verification oracle configured")
	}

	approved, err := s.verifier.Verify(ctx, oracle.VerificationRequest{
		ID:          uuid.NewString(),
		TaskAddress: taskAddress,
		Description: description,
		MediaURL:    mediaURL,
	})
	if err != nil {
		return nil, NewError(ErrorCodeOracleUnavailable, "verification oracle unavailable")
	}
	if !approved {
		return nil, NewError(ErrorCodeVerificationFailed, "verification oracle rejected the submission")
	}

	return s.MarkComplete(ctx, caller, taskAddress)
}

// PayoutTask pays the fixed task reward from the vault to the assignee and
// retires the task. An under-funded vault fails the whole transaction and
// leaves the task Completed, so payout can be retried after a top-up.
func (s *AuctionService) PayoutTask(ctx context.Context, caller, taskAddress string) (*model.Task, *Error) {
	var result *repository.Task

	txErr := s.tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		task, err := s.tasks.Get(txCtx, taskAddress)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return NewError(ErrorCodeNotFound, "task not found")
			}
			return NewError(ErrorCodeUnspecified, "failed to get task")
		}

		if task.Status != model.TaskStatusCompleted {
			return NewError(ErrorCodeWrongState, "task is not completed")
		}
		if task.Assignee == nil || *task.Assignee == "" {
			return NewError(ErrorCodeNoAssignee, "task has no assignee")
		}

		team, err := s.teams.Get(txCtx, task.TeamAddress)
		if err != nil {
			return NewError(ErrorCodeUnspecified, "failed to get team")
		}
		if team.Authority != caller {
			return NewError(ErrorCodeNotAuthority, "only the team authority can trigger payout")
		}

		// The solvency check happens here, at the moment of payout, never
		// at task creation: two completed tasks may contend for the same
		// vault and only the balance at commit decides.
		if err = s.accounts.Debit(txCtx, team.VaultAddress, task.RewardLamports); err != nil {
			if errors.Is(err, repository.ErrInsufficientFunds) || errors.Is(err, repository.ErrNotFound) {
				return NewError(ErrorCodeInsufficientVaultFunds, "vault balance cannot cover the task reward")
			}
			return NewError(ErrorCodeUnspecified, "failed to debit vault")
		}

		if err = s.accounts.Credit(txCtx, *task.Assignee, task.RewardLamports); err != nil {
			return NewError(ErrorCodeUnspecified, "failed to credit assignee")
		}

		applied, err := s.tasks.Transition(txCtx, &repository.TaskTransition{
			Address:    taskAddress,
			FromStatus: model.TaskStatusCompleted,
			ToStatus:   model.TaskStatusPaid,
		})
		if err != nil || !applied {
			return NewError(ErrorCodeUnspecified, "failed to retire task")
		}

		result, err = s.tasks.Get(txCtx, taskAddress)
		if err != nil {
			return NewError(ErrorCodeUnspecified, "failed to re-read task")
		}
		return nil
	})
	if txErr != nil {
		return nil, asServiceError(txErr)
	}

	return taskToModel(result), nil
}

// GetTask reads current task state for display.
func (s *AuctionService) GetTask(ctx context.Context, taskAddress string) (*model.Task, *Error) {
	task, err := s.tasks.Get(ctx, taskAddress)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, NewError(ErrorCodeNotFound, "task not found")
		}
		return nil, NewError(ErrorCodeUnspecified, "failed to get task")
	}
	return taskToModel(task), nil
}

func (s *AuctionService) completeAssignedTask(txCtx context.Context, caller, taskAddress string) (*repository.Task, error) {
	task, err := s.tasks.Get(txCtx, taskAddress)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, NewError(ErrorCodeNotFound, "task not found")
		}
		return nil, NewError(ErrorCodeUnspecified, "failed to get task")
	}

	if task.Status != model.TaskStatusAssigned {
		return nil, NewError(ErrorCodeWrongState, "task is not assigned")
	}
	if task.Assignee == nil || *task.Assignee != caller {
		return nil, NewError(ErrorCodeNotAssignee, "only the assignee can mark this task complete")
	}

	applied, err := s.tasks.Transition(txCtx, &repository.TaskTransition{
		Address:    taskAddress,
		FromStatus: model.TaskStatusAssigned,
		ToStatus:   model.TaskStatusCompleted,
	})
	if err != nil || !applied {
		return nil, NewError(ErrorCodeUnspecified, "failed to mark task complete")
	}

	current, err := s.tasks.Get(txCtx, taskAddress)
	if err != nil {
		return nil, NewError(ErrorCodeUnspecified, "failed to re-read task")
	}
	return current, nil
}
