package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/ai-video-pipeline/internal/domain"
)

// AccountRepo persists and loads platform accounts.
type AccountRepo struct{ DB *sql.DB }

// NewAccountRepo constructs an AccountRepo over the given handle.
func NewAccountRepo(db *sql.DB) *AccountRepo { return &AccountRepo{DB: db} }

const accountColumns = `id, platform, email, password, access_token, device_id, user_agent, cookies,
	credits_remaining, credits_last_checked, credits_reset_at, status, last_used`

// Create inserts a new account and returns its id.
func (r *AccountRepo) Create(ctx domain.Context, a domain.Account) (int64, error) {
	tracer := otel.Tracer("repo.accounts")
	ctx, span := tracer.Start(ctx, "accounts.Create")
	defer span.End()

	if a.Status == "" {
		a.Status = domain.AccountLive
	}
	res, err := r.DB.ExecContext(ctx, `INSERT INTO accounts
		(platform, email, password, access_token, device_id, user_agent, cookies,
		 credits_remaining, credits_last_checked, credits_reset_at, status, last_used)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.Platform, a.Email, a.Password, a.AccessToken, a.DeviceID, a.UserAgent, a.Cookies,
		a.CreditsRemaining, fmtTime(a.CreditsLastChecked), fmtTime(a.CreditsResetAt),
		string(a.Status), fmtTime(a.LastUsed))
	if err != nil {
		return 0, fmt.Errorf("op=account.create: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("op=account.create: %w", err)
	}
	return id, nil
}

// Get loads an account by id.
func (r *AccountRepo) Get(ctx domain.Context, id int64) (domain.Account, error) {
	tracer := otel.Tracer("repo.accounts")
	ctx, span := tracer.Start(ctx, "accounts.Get")
	defer span.End()

	row := r.DB.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id=?`, id)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Account{}, fmt.Errorf("op=account.get: %w", domain.ErrNotFound)
		}
		return domain.Account{}, fmt.Errorf("op=account.get: %w", err)
	}
	return a, nil
}

// List returns every account.
func (r *AccountRepo) List(ctx domain.Context) ([]domain.Account, error) {
	tracer := otel.Tracer("repo.accounts")
	ctx, span := tracer.Start(ctx, "accounts.List")
	defer span.End()

	rows, err := r.DB.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("op=account.list: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectAccounts(rows)
}

// ListEligible returns live accounts with credits for the given platform,
// oldest last_used first (the pool's LRU order).
func (r *AccountRepo) ListEligible(ctx domain.Context, platform string) ([]domain.Account, error) {
	tracer := otel.Tracer("repo.accounts")
	ctx, span := tracer.Start(ctx, "accounts.ListEligible")
	defer span.End()

	rows, err := r.DB.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts
		WHERE platform=? AND status=? AND credits_remaining>0
		ORDER BY last_used ASC, id ASC`, platform, string(domain.AccountLive))
	if err != nil {
		return nil, fmt.Errorf("op=account.list_eligible: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectAccounts(rows)
}

// Update persists every mutable field of the account.
func (r *AccountRepo) Update(ctx domain.Context, a domain.Account) error {
	tracer := otel.Tracer("repo.accounts")
	ctx, span := tracer.Start(ctx, "accounts.Update")
	defer span.End()

	res, err := r.DB.ExecContext(ctx, `UPDATE accounts SET
		platform=?, email=?, password=?, access_token=?, device_id=?, user_agent=?, cookies=?,
		credits_remaining=?, credits_last_checked=?, credits_reset_at=?, status=?, last_used=?
		WHERE id=?`,
		a.Platform, a.Email, a.Password, a.AccessToken, a.DeviceID, a.UserAgent, a.Cookies,
		a.CreditsRemaining, fmtTime(a.CreditsLastChecked), fmtTime(a.CreditsResetAt),
		string(a.Status), fmtTime(a.LastUsed), a.ID)
	if err != nil {
		return fmt.Errorf("op=account.update: %w", err)
	}
	return requireRow(res, "account.update")
}

// UpdateStatus sets the account health state.
func (r *AccountRepo) UpdateStatus(ctx domain.Context, id int64, status domain.AccountStatus) error {
	tracer := otel.Tracer("repo.accounts")
	ctx, span := tracer.Start(ctx, "accounts.UpdateStatus")
	defer span.End()

	res, err := r.DB.ExecContext(ctx, `UPDATE accounts SET status=? WHERE id=?`, string(status), id)
	if err != nil {
		return fmt.Errorf("op=account.update_status: %w", err)
	}
	return requireRow(res, "account.update_status")
}

// UpdateCredits writes the credit balance and check timestamp.
func (r *AccountRepo) UpdateCredits(ctx domain.Context, id int64, credits int, checkedAt time.Time) error {
	tracer := otel.Tracer("repo.accounts")
	ctx, span := tracer.Start(ctx, "accounts.UpdateCredits")
	defer span.End()

	res, err := r.DB.ExecContext(ctx, `UPDATE accounts SET credits_remaining=?, credits_last_checked=? WHERE id=?`,
		credits, fmtTime(checkedAt), id)
	if err != nil {
		return fmt.Errorf("op=account.update_credits: %w", err)
	}
	return requireRow(res, "account.update_credits")
}

// SetDeviceID persists a synthesized device identifier. The same id must be
// reused for every later call on behalf of this account.
func (r *AccountRepo) SetDeviceID(ctx domain.Context, id int64, deviceID string) error {
	tracer := otel.Tracer("repo.accounts")
	ctx, span := tracer.Start(ctx, "accounts.SetDeviceID")
	defer span.End()

	res, err := r.DB.ExecContext(ctx, `UPDATE accounts SET device_id=? WHERE id=?`, deviceID, id)
	if err != nil {
		return fmt.Errorf("op=account.set_device_id: %w", err)
	}
	return requireRow(res, "account.set_device_id")
}

// TouchLastUsed records when the account was last leased.
func (r *AccountRepo) TouchLastUsed(ctx domain.Context, id int64, t time.Time) error {
	tracer := otel.Tracer("repo.accounts")
	ctx, span := tracer.Start(ctx, "accounts.TouchLastUsed")
	defer span.End()

	res, err := r.DB.ExecContext(ctx, `UPDATE accounts SET last_used=? WHERE id=?`, fmtTime(t), id)
	if err != nil {
		return fmt.Errorf("op=account.touch_last_used: %w", err)
	}
	return requireRow(res, "account.touch_last_used")
}

// CountWithCredits returns total accounts and how many still have credits.
func (r *AccountRepo) CountWithCredits(ctx domain.Context) (int, int, error) {
	tracer := otel.Tracer("repo.accounts")
	ctx, span := tracer.Start(ctx, "accounts.CountWithCredits")
	defer span.End()

	row := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN credits_remaining>0 THEN 1 ELSE 0 END),0) FROM accounts`)
	var total, withCredits int
	if err := row.Scan(&total, &withCredits); err != nil {
		return 0, 0, fmt.Errorf("op=account.count_with_credits: %w", err)
	}
	return total, withCredits, nil
}

func scanAccount(row rowScanner) (domain.Account, error) {
	var (
		a                          domain.Account
		status                     string
		checked, resetAt, lastUsed string
	)
	err := row.Scan(&a.ID, &a.Platform, &a.Email, &a.Password, &a.AccessToken, &a.DeviceID,
		&a.UserAgent, &a.Cookies, &a.CreditsRemaining, &checked, &resetAt, &status, &lastUsed)
	if err != nil {
		return domain.Account{}, err
	}
	a.Status = domain.AccountStatus(status)
	a.CreditsLastChecked = parseTime(checked)
	a.CreditsResetAt = parseTime(resetAt)
	a.LastUsed = parseTime(lastUsed)
	return a, nil
}

func collectAccounts(rows *sql.Rows) ([]domain.Account, error) {
	var out []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
