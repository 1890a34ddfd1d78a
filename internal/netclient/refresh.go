package netclient

import (
	"context"

	"go.uber.org/zap"
)

// AuthHooks is the credential strategy the pipeline delegates to. The
// session manager implements it and binds itself once at construction.
type AuthHooks interface {
	// Token returns the current access token, empty when none is
	// stored. An error is treated as "no token", not a failure.
	Token(ctx context.Context) (string, error)

	// Refresh exchanges the stored refresh token for new credentials
	// and persists them before returning.
	Refresh(ctx context.Context) error

	// SessionExpired is the termination callback, fired when a refresh
	// attempt fails for an authenticated request.
	SessionExpired()
}

// refreshAndReplay handles an unauthorized response: refresh the
// credentials, then replay the original request exactly once. Concurrent
// 401-waiters share a single in-flight refresh (single-flight); each
// still replays its own request afterwards. On refresh failure the
// termination callback fires once per coalesced refresh and the original
// classified error is returned.
func (c *Client) refreshAndReplay(ctx context.Context, r Request, out any, cause *Error) (*Envelope, error) {
	_, err, shared := c.sf.Do("refresh", func() (any, error) {
		// detach from the originating request: its cancellation must not
		// abort a refresh other waiters depend on
		rctx := context.WithoutCancel(ctx)
		if rerr := c.hooks.Refresh(rctx); rerr != nil {
			c.hooks.SessionExpired()
			return nil, rerr
		}
		return nil, nil
	})
	if err != nil {
		c.log.Warn("token refresh failed, session terminated",
			zap.String("path", r.Path),
			zap.Bool("shared", shared),
			zap.Error(err),
		)
		return nil, cause
	}

	c.log.Debug("token refreshed, replaying request",
		zap.String("method", r.Method),
		zap.String("path", r.Path),
	)
	return c.do(ctx, r, out, true)
}
