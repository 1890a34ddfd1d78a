package storage

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/and161185/appkit/internal/errs"
	"github.com/and161185/appkit/internal/model"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// ExpiryBuffer treats a token as expired this long before its real
// deadline, so a refresh can complete in time.
const ExpiryBuffer = 5 * time.Minute

// Credentials composes the two partitions into the credential store the
// rest of the app uses: tokens in the secure partition, expiry and the
// cached user record in the general one.
type Credentials struct {
	secure  Store
	general Store
	log     *zap.Logger
	now     func() time.Time
}

// NewCredentials wires the two partitions. A nil logger disables logging.
func NewCredentials(secure, general Store, log *zap.Logger) *Credentials {
	if log == nil {
		log = zap.NewNop()
	}
	return &Credentials{secure: secure, general: general, log: log, now: time.Now}
}

// SaveTokens decomposes a token payload into store entries. The expiry
// record is derived from expiresIn at save time; when the server omits it,
// the JWT exp claim is used without validating the signature. With neither,
// any stale expiry record is dropped (best effort).
func (c *Credentials) SaveTokens(ctx context.Context, tok model.TokenInfo) error {
	if err := c.secure.Set(ctx, KeyAccessToken, tok.AccessToken); err != nil {
		return err
	}
	if tok.RefreshToken != "" {
		if err := c.secure.Set(ctx, KeyRefreshToken, tok.RefreshToken); err != nil {
			return err
		}
	}
	exp := tok.ExpireAt(c.now())
	if exp.IsZero() {
		exp = jwtExpiry(tok.AccessToken)
	}
	if exp.IsZero() {
		_ = c.general.Remove(ctx, KeyTokenExpireAt)
		return nil
	}
	return c.general.Set(ctx, KeyTokenExpireAt, strconv.FormatInt(exp.UnixMilli(), 10))
}

// jwtExpiry pulls the exp claim out of an access token, zero time if the
// token is not a parseable JWT or carries no exp.
func jwtExpiry(access string) time.Time {
	var claims jwt.RegisteredClaims
	_, _ = jwt.ParseWithClaims(access, &claims, func(*jwt.Token) (any, error) { return nil, nil },
		jwt.WithoutClaimsValidation(),
	)
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

// AccessToken returns the stored access token. Read failures degrade to
// absent; callers needing the token treat absence as "proceed without".
func (c *Credentials) AccessToken(ctx context.Context) (string, bool) {
	return c.bestEffortGet(ctx, c.secure, KeyAccessToken)
}

// RefreshToken returns the stored refresh token, absent on any failure.
func (c *Credentials) RefreshToken(ctx context.Context) (string, bool) {
	return c.bestEffortGet(ctx, c.secure, KeyRefreshToken)
}

func (c *Credentials) bestEffortGet(ctx context.Context, s Store, key string) (string, bool) {
	v, err := s.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, errs.ErrNotFound) {
			c.log.Debug("credential read failed, treating as absent",
				zap.String("key", key), zap.Error(err))
		}
		return "", false
	}
	return v, true
}

// SaveUser caches the user record in the general partition.
func (c *Credentials) SaveUser(ctx context.Context, u *model.User) error {
	return SetObject(ctx, c.general, KeyUser, u)
}

// User returns the cached user record, absent on any failure.
func (c *Credentials) User(ctx context.Context) (*model.User, bool) {
	u, err := GetObject[model.User](ctx, c.general, KeyUser)
	if err != nil {
		if !errors.Is(err, errs.ErrNotFound) {
			c.log.Debug("cached user read failed, treating as absent", zap.Error(err))
		}
		return nil, false
	}
	return u, true
}

// IsTokenExpired reports whether the stored token is within ExpiryBuffer
// of its recorded deadline. No expiry record means not expired: a
// permissive default that favors availability over strict invalidation.
func (c *Credentials) IsTokenExpired(ctx context.Context) bool {
	raw, err := c.general.Get(ctx, KeyTokenExpireAt)
	if err != nil {
		return false
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		c.log.Warn("unparseable expiry record", zap.String("value", raw))
		return false
	}
	return !c.now().Before(time.UnixMilli(ms).Add(-ExpiryBuffer))
}

// ClearAll removes all four credential entries. Removals run in parallel
// and are not atomic across partitions; a crash mid-clear can leave a
// dangling token without its expiry record. Accepted limitation.
func (c *Credentials) ClearAll(ctx context.Context) error {
	type target struct {
		store Store
		key   string
	}
	targets := []target{
		{c.secure, KeyAccessToken},
		{c.secure, KeyRefreshToken},
		{c.general, KeyTokenExpireAt},
		{c.general, KeyUser},
	}
	errCh := make(chan error, len(targets))
	var wg sync.WaitGroup
	for _, tg := range targets {
		wg.Add(1)
		go func(tg target) {
			defer wg.Done()
			errCh <- tg.store.Remove(ctx, tg.key)
		}(tg)
	}
	wg.Wait()
	close(errCh)
	var errList []error
	for err := range errCh {
		errList = append(errList, err)
	}
	return errors.Join(errList...)
}
