package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fairyhunter13/ai-video-pipeline/internal/adapter/observability"
	"github.com/fairyhunter13/ai-video-pipeline/internal/domain"
)

// lruCandidates is the small-k randomization window: the acquired account is
// picked uniformly from the k least-recently-used eligible candidates so
// concurrent generators diffuse instead of racing for the same account.
const lruCandidates = 3

// AccountPool tracks which accounts are leased and applies selection policy.
// Lease bits live only in memory; eligibility comes from the repository.
type AccountPool struct {
	repo domain.AccountRepository
	api  domain.VideoAPI

	mu     sync.Mutex
	leased map[int64]struct{}
}

// NewAccountPool constructs a pool over the account repository.
func NewAccountPool(repo domain.AccountRepository, api domain.VideoAPI) *AccountPool {
	return &AccountPool{repo: repo, api: api, leased: map[int64]struct{}{}}
}

// Acquire returns an eligible account (live, credits > 0, not excluded, not
// leased) and marks it leased. Selection is LRU over last_used with the
// choice made uniformly among the lruCandidates oldest. On first use of an
// account without a device id a fresh random one is synthesized and
// persisted; the same id is reused for every subsequent call.
func (p *AccountPool) Acquire(ctx domain.Context, platform string, exclude []int64) (domain.Account, error) {
	eligible, err := p.repo.ListEligible(ctx, platform)
	if err != nil {
		return domain.Account{}, fmt.Errorf("op=pool.acquire: %w", err)
	}
	excluded := map[int64]struct{}{}
	for _, id := range exclude {
		excluded[id] = struct{}{}
	}

	p.mu.Lock()
	candidates := make([]domain.Account, 0, lruCandidates)
	for _, a := range eligible {
		if _, skip := excluded[a.ID]; skip {
			continue
		}
		if _, held := p.leased[a.ID]; held {
			continue
		}
		candidates = append(candidates, a)
		if len(candidates) == lruCandidates {
			break
		}
	}
	if len(candidates) == 0 {
		p.mu.Unlock()
		return domain.Account{}, domain.ErrNoAccount
	}
	acct := candidates[rand.Intn(len(candidates))]
	p.leased[acct.ID] = struct{}{}
	observability.AccountsLeased.Set(float64(len(p.leased)))
	p.mu.Unlock()

	now := time.Now().UTC()
	if err := p.repo.TouchLastUsed(ctx, acct.ID, now); err != nil {
		slog.Warn("failed to touch account last_used", slog.Int64("account_id", acct.ID), slog.Any("error", err))
	}
	acct.LastUsed = now

	if acct.DeviceID == "" {
		deviceID := uuid.New().String()
		if err := p.repo.SetDeviceID(ctx, acct.ID, deviceID); err != nil {
			p.Release(acct.ID)
			return domain.Account{}, fmt.Errorf("op=pool.acquire device_id: %w", err)
		}
		acct.DeviceID = deviceID
	}
	return acct, nil
}

// Release clears the lease bit for the account.
func (p *AccountPool) Release(id int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.leased, id)
	observability.AccountsLeased.Set(float64(len(p.leased)))
}

// ForceReset clears every lease bit (administrative reset).
func (p *AccountPool) ForceReset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.leased = map[int64]struct{}{}
	observability.AccountsLeased.Set(0)
}

// IsLeased reports whether the account is currently held.
func (p *AccountPool) IsLeased(id int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.leased[id]
	return ok
}

// LeasedCount returns the number of held leases.
func (p *AccountPool) LeasedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.leased)
}

// RefreshCredits fetches the balance from the remote API and persists it.
func (p *AccountPool) RefreshCredits(ctx domain.Context, id int64) (int, error) {
	acct, err := p.repo.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	credits, err := p.api.GetCredits(ctx, acct)
	if err != nil {
		return 0, fmt.Errorf("op=pool.refresh_credits: %w", err)
	}
	if err := p.repo.UpdateCredits(ctx, id, credits, time.Now().UTC()); err != nil {
		return 0, err
	}
	return credits, nil
}

// MarkPhoneRequired excludes the account until administrative intervention.
func (p *AccountPool) MarkPhoneRequired(ctx domain.Context, id int64) {
	p.markStatus(ctx, id, domain.AccountPhoneRequired)
}

// MarkNoCredits zeroes the balance and puts the account in cooldown.
func (p *AccountPool) MarkNoCredits(ctx domain.Context, id int64) {
	if err := p.repo.UpdateCredits(ctx, id, 0, time.Now().UTC()); err != nil && !errors.Is(err, domain.ErrNotFound) {
		slog.Error("failed to zero account credits", slog.Int64("account_id", id), slog.Any("error", err))
	}
	p.markStatus(ctx, id, domain.AccountCooldown)
}

// MarkExpired flags a dead session or token.
func (p *AccountPool) MarkExpired(ctx domain.Context, id int64) {
	p.markStatus(ctx, id, domain.AccountExpired)
}

func (p *AccountPool) markStatus(ctx domain.Context, id int64, status domain.AccountStatus) {
	if err := p.repo.UpdateStatus(ctx, id, status); err != nil && !errors.Is(err, domain.ErrNotFound) {
		slog.Error("failed to update account status",
			slog.Int64("account_id", id), slog.String("status", string(status)), slog.Any("error", err))
	}
}
