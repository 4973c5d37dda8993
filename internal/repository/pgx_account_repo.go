package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/stephenafamo/bob/dialect/psql"
	"github.com/stephenafamo/bob/dialect/psql/im"
	"github.com/stephenafamo/bob/dialect/psql/sm"
	"github.com/stephenafamo/bob/dialect/psql/um"
	"github.com/taskfi/taskfi-escrow/internal/db"
)

// Account is a value-bearing row on the host ledger. Wallets and vaults are
// both plain accounts; the lamports column carries a CHECK (lamports >= 0)
// so no code path can drive a balance negative.
type Account struct {
	Address  string `db:"address"`
	Lamports int64  `db:"lamports"`
}

type AccountRepository interface {
	Create(ctx context.Context, address string) error
	Get(ctx context.Context, address string) (*Account, error)
	Credit(ctx context.Context, address string, amount int64) error
	Debit(ctx context.Context, address string, amount int64) error
}

type pgxAccountRepository struct {
	pool *pgxpool.Pool
}

func NewPgxAccountRepository(pool *pgxpool.Pool) AccountRepository {
	return &pgxAccountRepository{pool: pool}
}

// Create inserts a zero-balance account. Creating an existing account is a
// no-op, so vault creation is safe to replay.
func (p *pgxAccountRepository) Create(ctx context.Context, address string) error {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	q := psql.Insert(
		im.Into("account", "address"),
		im.Values(psql.Arg(address)),
		im.OnConflict(psql.Quote("address")).DoNothing(),
	)

	sql, args, err := q.Build()
	if err != nil {
		return err
	}

	_, err = e.Exec(ctx, sql, args...)
	return err
}

func (p *pgxAccountRepository) Get(ctx context.Context, address string) (*Account, error) {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	q := psql.Select(
		sm.Columns("address", "lamports"),
		sm.From("account"),
		sm.Where(psql.Quote("address").EQ(psql.Arg(address))),
	)

	sql, args, err := q.Build()
	if err != nil {
		return nil, err
	}

	acc := &Account{}
	if err = e.QueryRow(ctx, sql, args...).Scan(&acc.Address, &acc.Lamports); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return acc, nil
}

// Credit upserts the account and adds amount to its balance.
func (p *pgxAccountRepository) Credit(ctx context.Context, address string, amount int64) error {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	q := psql.Insert(
		im.Into("account", "address", "lamports"),
		im.Values(psql.Arg(address), psql.Arg(amount)),
		im.OnConflict(psql.Quote("address")).DoUpdate(
			im.SetCol("lamports").To(psql.Raw("account.lamports + EXCLUDED.lamports")),
		),
	)

	sql, args, err := q.Build()
	if err != nil {
		return err
	}

	_, err = e.Exec(ctx, sql, args...)
	return err
}

// Debit subtracts amount only when the balance covers it. The solvency check
// and the subtraction are one statement, so concurrent debits against the
// same account cannot overdraw it.
func (p *pgxAccountRepository) Debit(ctx context.Context, address string, amount int64) error {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	q := psql.Update(
		um.Table("account"),
		um.SetCol("lamports").To(psql.Raw("lamports - ?", amount)),
		um.Where(psql.Quote("address").EQ(psql.Arg(address))),
		um.Where(psql.Quote("lamports").GTE(psql.Arg(amount))),
	)

	sql, args, err := q.Build()
	if err != nil {
		return err
	}

	tag, err := e.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// No row matched: either the account is missing or it cannot cover
	// the amount. Re-read to report the right failure.
	if _, err = p.Get(ctx, address); err != nil {
		return err
	}
	return ErrInsufficientFunds
}
