package user

import (
	"context"

	"MeetChat/module/user/model"
	"MeetChat/tools/errs"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

type PostgresDirectory struct {
	pool *pgxpool.Pool
}

func NewPostgresDirectory(pool *pgxpool.Pool) *PostgresDirectory {
	return &PostgresDirectory{pool: pool}
}

func (d *PostgresDirectory) Migrate(ctx context.Context) error {
	_, err := d.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS user_profile (
	user_id             TEXT PRIMARY KEY,
	nickname            TEXT NOT NULL DEFAULT '',
	verification_status TEXT NOT NULL DEFAULT 'unverified',
	subscription_plan   TEXT NOT NULL DEFAULT 'free',
	update_time         TIMESTAMPTZ NOT NULL DEFAULT now()
)`)
	return errors.Wrap(err, "migrate user_profile")
}

func (d *PostgresDirectory) Profile(ctx context.Context, userID string) (*model.Profile, error) {
	var (
		p            model.Profile
		status, plan string
	)
	err := d.pool.QueryRow(ctx,
		`SELECT user_id, nickname, verification_status, subscription_plan, update_time FROM user_profile WHERE user_id = $1`,
		userID).Scan(&p.UserID, &p.Nickname, &status, &plan, &p.UpdateTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound.WrapMsg("profile", "userId", userID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select profile")
	}
	p.VerificationStatus = model.VerificationStatus(status)
	p.SubscriptionPlan = model.SubscriptionPlan(plan)
	return &p, nil
}

func (d *PostgresDirectory) Upsert(ctx context.Context, p model.Profile) error {
	_, err := d.pool.Exec(ctx,
		`INSERT INTO user_profile (user_id, nickname, verification_status, subscription_plan, update_time)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (user_id) DO UPDATE SET nickname = EXCLUDED.nickname,
			verification_status = EXCLUDED.verification_status,
			subscription_plan = EXCLUDED.subscription_plan,
			update_time = now()`,
		p.UserID, p.Nickname, string(p.VerificationStatus), string(p.Plan()))
	return errors.Wrap(err, "upsert profile")
}
