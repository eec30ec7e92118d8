package usecase

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fairyhunter13/ai-video-pipeline/internal/domain"
	"github.com/fairyhunter13/ai-video-pipeline/internal/pipeline"
	"github.com/fairyhunter13/ai-video-pipeline/internal/service/secrets"
)

// AccountService manages the platform account inventory: YAML import with
// password sealing, listing, status changes, and credit refresh.
type AccountService struct {
	Accounts domain.AccountRepository
	Pool     *pipeline.AccountPool
	Sealer   *secrets.Sealer
}

// NewAccountService constructs an AccountService. sealer may be nil (dev
// mode, passwords stored as-is).
func NewAccountService(accounts domain.AccountRepository, pool *pipeline.AccountPool, sealer *secrets.Sealer) AccountService {
	return AccountService{Accounts: accounts, Pool: pool, Sealer: sealer}
}

type accountImport struct {
	Platform    string `yaml:"platform"`
	Email       string `yaml:"email"`
	Password    string `yaml:"password"`
	AccessToken string `yaml:"access_token"`
	UserAgent   string `yaml:"user_agent"`
	Cookies     string `yaml:"cookies"`
	Credits     int    `yaml:"credits"`
}

type accountImportFile struct {
	Accounts []accountImport `yaml:"accounts"`
}

// ImportYAML parses an account inventory document and stores each entry with
// a sealed password. Returns the number of accounts created.
func (s AccountService) ImportYAML(ctx domain.Context, data []byte) (int, error) {
	var file accountImportFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	if len(file.Accounts) == 0 {
		return 0, domain.WrapInvalid("no accounts in document")
	}
	created := 0
	for i, in := range file.Accounts {
		if strings.TrimSpace(in.Email) == "" || strings.TrimSpace(in.Platform) == "" {
			return created, domain.WrapInvalid(fmt.Sprintf("account %d: platform and email are required", i))
		}
		sealed, err := s.Sealer.Seal(in.Password)
		if err != nil {
			return created, fmt.Errorf("op=accounts.import: %w", err)
		}
		_, err = s.Accounts.Create(ctx, domain.Account{
			Platform:         strings.ToLower(strings.TrimSpace(in.Platform)),
			Email:            strings.TrimSpace(in.Email),
			Password:         sealed,
			AccessToken:      in.AccessToken,
			UserAgent:        in.UserAgent,
			Cookies:          in.Cookies,
			CreditsRemaining: in.Credits,
			Status:           domain.AccountLive,
		})
		if err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

// List returns every account with the sealed password blanked out.
func (s AccountService) List(ctx domain.Context) ([]domain.Account, error) {
	accounts, err := s.Accounts.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range accounts {
		accounts[i].Password = ""
	}
	return accounts, nil
}

// SetStatus changes an account's health state, e.g. re-enabling a cooled-down
// account.
func (s AccountService) SetStatus(ctx domain.Context, id int64, status domain.AccountStatus) error {
	switch status {
	case domain.AccountLive, domain.AccountCooldown, domain.AccountExpired,
		domain.AccountPhoneRequired, domain.AccountDisabled:
	default:
		return domain.WrapInvalid("unknown account status")
	}
	return s.Accounts.UpdateStatus(ctx, id, status)
}

// RefreshCredits re-fetches the remote balance for one account.
func (s AccountService) RefreshCredits(ctx domain.Context, id int64) (int, error) {
	return s.Pool.RefreshCredits(ctx, id)
}
