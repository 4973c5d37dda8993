package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/stephenafamo/bob/dialect/psql"
	"github.com/stephenafamo/bob/dialect/psql/im"
	"github.com/stephenafamo/bob/dialect/psql/sm"
	"github.com/taskfi/taskfi-escrow/internal/db"
)

type Team struct {
	Address      string     `db:"address"`
	Authority    string     `db:"authority"`
	TeamID       int64      `db:"team_id"`
	Bump         int16      `db:"bump"`
	VaultAddress string     `db:"vault_address"`
	VaultBump    int16      `db:"vault_bump"`
	CreatedAt    *time.Time `db:"created_at"`
}

type TeamRepository interface {
	Create(ctx context.Context, team *Team) error
	Get(ctx context.Context, address string) (*Team, error)
}

type pgxTeamRepository struct {
	pool *pgxpool.Pool
}

func NewPgxTeamRepository(pool *pgxpool.Pool) TeamRepository {
	return &pgxTeamRepository{pool: pool}
}

func (p *pgxTeamRepository) Create(ctx context.Context, team *Team) error {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	q := psql.Insert(
		im.Into("team", "address", "authority", "team_id", "bump", "vault_address", "vault_bump"),
		im.Values(
			psql.Arg(team.Address), psql.Arg(team.Authority), psql.Arg(team.TeamID),
			psql.Arg(team.Bump), psql.Arg(team.VaultAddress), psql.Arg(team.VaultBump),
		),
		im.Returning("created_at"),
	)

	sql, args, err := q.Build()
	if err != nil {
		return err
	}

	err = e.QueryRow(ctx, sql, args...).Scan(&team.CreatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrAlreadyExists
	}

	return err
}

func (p *pgxTeamRepository) Get(ctx context.Context, address string) (*Team, error) {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	q := psql.Select(
		sm.Columns("address", "authority", "team_id", "bump", "vault_address", "vault_bump", "created_at"),
		sm.From("team"),
		sm.Where(psql.Quote("address").EQ(psql.Arg(address))),
	)

	sql, args, err := q.Build()
	if err != nil {
		return nil, err
	}

	team := &Team{}
	if err = e.QueryRow(ctx, sql, args...).Scan(
		&team.Address,
		&team.Authority,
		&team.TeamID,
		&team.Bump,
		&team.VaultAddress,
		&team.VaultBump,
		&team.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return team, nil
}
