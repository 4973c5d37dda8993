package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/stephenafamo/bob"
	"github.com/stephenafamo/bob/dialect/psql"
	"github.com/stephenafamo/bob/dialect/psql/dialect"
	"github.com/stephenafamo/bob/dialect/psql/im"
	"github.com/stephenafamo/bob/dialect/psql/sm"
	"github.com/stephenafamo/bob/dialect/psql/um"
	"github.com/taskfi/taskfi-escrow/internal/db"
	"github.com/taskfi/taskfi-escrow/internal/model"
)

type Task struct {
	Address           string           `db:"address"`
	TeamAddress       string           `db:"team_address"`
	TaskID            int64            `db:"task_id"`
	Creator           string           `db:"creator"`
	RewardLamports    int64            `db:"reward_lamports"`
	LowestBidLamports int64            `db:"lowest_bid_lamports"`
	LeadingBidder     *string          `db:"leading_bidder"`
	Assignee          *string          `db:"assignee"`
	Status            model.TaskStatus `db:"status"`
	AuctionEnd        time.Time        `db:"auction_end"`
	Bump              int16            `db:"bump"`
	CreatedAt         *time.Time       `db:"created_at"`
}

// TaskTransition is a guarded single-statement state change. The row only
// moves to ToStatus when its current status equals FromStatus, so every
// handler enforces the exact predecessor state at commit point.
type TaskTransition struct {
	Address        string
	FromStatus     model.TaskStatus
	ToStatus       model.TaskStatus
	Assignee       *string
	RewardLamports *int64
}

type TaskRepository interface {
	Create(ctx context.Context, task *Task) error
	Get(ctx context.Context, address string) (*Task, error)
	PlaceBid(ctx context.Context, address, bidder string, amount int64, now time.Time) (bool, error)
	Transition(ctx context.Context, t *TaskTransition) (bool, error)
}

type pgxTaskRepository struct {
	pool *pgxpool.Pool
}

func NewPgxTaskRepository(pool *pgxpool.Pool) TaskRepository {
	return &pgxTaskRepository{pool: pool}
}

func (p *pgxTaskRepository) Create(ctx context.Context, task *Task) error {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	q := psql.Insert(
		im.Into("task",
			"address", "team_address", "task_id", "creator",
			"reward_lamports", "lowest_bid_lamports", "status", "auction_end", "bump",
		),
		im.Values(
			psql.Arg(task.Address), psql.Arg(task.TeamAddress), psql.Arg(task.TaskID), psql.Arg(task.Creator),
			psql.Arg(task.RewardLamports), psql.Arg(task.LowestBidLamports), psql.Arg(task.Status),
			psql.Arg(task.AuctionEnd), psql.Arg(task.Bump),
		),
		im.Returning("created_at"),
	)

	sql, args, err := q.Build()
	if err != nil {
		return err
	}

	err = e.QueryRow(ctx, sql, args...).Scan(&task.CreatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return ErrAlreadyExists
		case "23503": // parent team row does not exist
			return ErrNotFound
		}
	}
	return err
}

func (p *pgxTaskRepository) Get(ctx context.Context, address string) (*Task, error) {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	q := psql.Select(
		sm.Columns(
			"address", "team_address", "task_id", "creator",
			"reward_lamports", "lowest_bid_lamports", "leading_bidder", "assignee",
			"status", "auction_end", "bump", "created_at",
		),
		sm.From("task"),
		sm.Where(psql.Quote("address").EQ(psql.Arg(address))),
	)

	sql, args, err := q.Build()
	if err != nil {
		return nil, err
	}

	task := &Task{}
	if err = e.QueryRow(ctx, sql, args...).Scan(
		&task.Address,
		&task.TeamAddress,
		&task.TaskID,
		&task.Creator,
		&task.RewardLamports,
		&task.LowestBidLamports,
		&task.LeadingBidder,
		&task.Assignee,
		&task.Status,
		&task.AuctionEnd,
		&task.Bump,
		&task.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return task, nil
}

// PlaceBid records a strictly improving bid. The strict-improvement and
// still-open checks live in the statement itself, so a bid racing another
// bid is evaluated against whatever state the first commit left behind.
func (p *pgxTaskRepository) PlaceBid(ctx context.Context, address, bidder string, amount int64, now time.Time) (bool, error) {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	q := psql.Update(
		um.Table("task"),
		um.SetCol("lowest_bid_lamports").ToArg(amount),
		um.SetCol("leading_bidder").ToArg(bidder),
		um.Where(psql.Quote("address").EQ(psql.Arg(address))),
		um.Where(psql.Quote("status").EQ(psql.Arg(model.TaskStatusBidding))),
		um.Where(psql.Quote("lowest_bid_lamports").GT(psql.Arg(amount))),
		um.Where(psql.Quote("auction_end").GT(psql.Arg(now))),
	)

	sql, args, err := q.Build()
	if err != nil {
		return false, err
	}

	tag, err := e.Exec(ctx, sql, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (p *pgxTaskRepository) Transition(ctx context.Context, t *TaskTransition) (bool, error) {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	sets := make([]bob.Mod[*dialect.UpdateQuery], 0, 3)
	sets = append(sets, um.SetCol("status").ToArg(t.ToStatus))
	if t.Assignee != nil {
		sets = append(sets, um.SetCol("assignee").ToArg(*t.Assignee))
	}
	if t.RewardLamports != nil {
		sets = append(sets, um.SetCol("reward_lamports").ToArg(*t.RewardLamports))
	}

	q := psql.Update(
		um.Table("task"),
		um.Where(psql.Quote("address").EQ(psql.Arg(t.Address))),
		um.Where(psql.Quote("status").EQ(psql.Arg(t.FromStatus))),
	)

	q.Apply(sets...)

	sql, args, err := q.Build()
	if err != nil {
		return false, err
	}

	tag, err := e.Exec(ctx, sql, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
