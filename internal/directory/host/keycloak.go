package host

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Nerzal/gocloak/v13"
	"go.uber.org/zap"

	"github.com/thaliawww/cxdir/internal/metrics"
)

// DefaultQuotaAttribute is the user attribute that carries the storage quota.
const DefaultQuotaAttribute = "quota"

// KeycloakConfig holds the service-account settings for a Keycloak realm.
type KeycloakConfig struct {
	URL            string
	Realm          string
	ClientID       string
	ClientSecret   string
	QuotaAttribute string
}

// Keycloak is a UserRegistry backed by a Keycloak realm.
// The service-account token is cached until shortly before it expires.
type Keycloak struct {
	gc     *gocloak.GoCloak
	cfg    KeycloakConfig
	logger *zap.Logger

	mu          sync.RWMutex
	token       *gocloak.JWT
	tokenExpiry time.Time
}

var _ UserRegistry = (*Keycloak)(nil)

// NewKeycloak creates a registry client. No request is made until first use.
func NewKeycloak(cfg KeycloakConfig, logger *zap.Logger) *Keycloak {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.QuotaAttribute == "" {
		cfg.QuotaAttribute = DefaultQuotaAttribute
	}

	return &Keycloak{
		gc:     gocloak.NewClient(strings.TrimRight(cfg.URL, "/")),
		cfg:    cfg,
		logger: logger.Named("keycloak"),
	}
}

// Token returns a valid access token, refreshing if needed.
func (k *Keycloak) Token(ctx context.Context) (string, error) {
	k.mu.RLock()
	if k.token != nil && time.Now().Before(k.tokenExpiry) {
		tok := k.token.AccessToken
		k.mu.RUnlock()
		return tok, nil
	}
	k.mu.RUnlock()

	if err := k.refreshToken(ctx); err != nil {
		return "", err
	}

	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.token.AccessToken, nil
}

func (k *Keycloak) refreshToken(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.token != nil && time.Now().Before(k.tokenExpiry) {
		return nil
	}

	token, err := k.gc.LoginClient(ctx, k.cfg.ClientID, k.cfg.ClientSecret, k.cfg.Realm)
	if err != nil {
		metrics.HostUpdatesTotal.WithLabelValues("login", "error").Inc()
		return fmt.Errorf("%w: keycloak client login: %v", ErrUnavailable, err)
	}

	k.token = token
	// 30 second buffer so a nearly expired token is never used.
	k.tokenExpiry = time.Now().Add(time.Duration(token.ExpiresIn-30) * time.Second)

	k.logger.Debug("keycloak token refreshed", zap.Time("expires", k.tokenExpiry))
	return nil
}

// Lookup implements UserRegistry with an exact username search.
func (k *Keycloak) Lookup(ctx context.Context, uid string) (*Account, error) {
	token, err := k.Token(ctx)
	if err != nil {
		return nil, err
	}

	users, err := k.gc.GetUsers(ctx, token, k.cfg.Realm, gocloak.GetUsersParams{
		Username: gocloak.StringP(uid),
		Exact:    gocloak.BoolP(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", uid, err)
	}

	for _, u := range users {
		if u == nil || gocloak.PString(u.Username) == "" {
			continue
		}
		// Keycloak lower-cases usernames.
		if !strings.EqualFold(gocloak.PString(u.Username), uid) {
			continue
		}
		return &Account{
			ID:       gocloak.PString(u.ID),
			Username: uid,
			Email:    gocloak.PString(u.Email),
			Quota:    k.quotaOf(u),
		}, nil
	}
	return nil, nil
}

// Update implements UserRegistry. The stored representation is re-read so
// attributes this process does not manage survive the PUT.
func (k *Keycloak) Update(ctx context.Context, acct *Account, update AccountUpdate) error {
	if update.Empty() {
		return nil
	}

	token, err := k.Token(ctx)
	if err != nil {
		return err
	}

	existing, err := k.gc.GetUserByID(ctx, token, k.cfg.Realm, acct.ID)
	if err != nil {
		return fmt.Errorf("get user for update: %w", err)
	}

	if update.Email != nil {
		existing.Email = gocloak.StringP(*update.Email)
	}
	if update.Quota != nil {
		attrs := map[string][]string{}
		if existing.Attributes != nil {
			attrs = *existing.Attributes
		}
		attrs[k.cfg.QuotaAttribute] = []string{*update.Quota}
		existing.Attributes = &attrs
	}

	if err := k.gc.UpdateUser(ctx, token, k.cfg.Realm, *existing); err != nil {
		return fmt.Errorf("update user %s: %w", acct.Username, err)
	}
	return nil
}

func (k *Keycloak) quotaOf(u *gocloak.User) string {
	if u.Attributes == nil {
		return ""
	}
	values := (*u.Attributes)[k.cfg.QuotaAttribute]
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
