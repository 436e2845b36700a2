package auth

import (
	"context"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/onnwee/song-tender/twitchapi"
)

// RedemptionScope is required on the Twitch token for settlement writes.
const RedemptionScope = "channel:manage:redemptions"

// Validator checks a Twitch user token; satisfied by *twitchapi.OAuth.
type Validator interface {
	ValidateToken(ctx context.Context, token string) (*twitchapi.Validation, error)
}

// RefundGuard tracks whether the refund/fulfillment capability is currently
// usable. Chat commands never consult it; only redemption settlement does.
type RefundGuard struct {
	enabled atomic.Bool
}

func (g *RefundGuard) Enabled() bool { return g.enabled.Load() }

func (g *RefundGuard) set(enabled bool) { g.enabled.Store(enabled) }

// StartValidator launches a goroutine that periodically validates the Twitch
// token, refreshing it once on a 401 and toggling the refund guard based on
// the result. A failed refresh or a missing redemption scope disables
// settlement until a later cycle succeeds.
func StartValidator(ctx context.Context, mgr *Manager, v Validator, guard *RefundGuard, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	go func() {
		runCycle(ctx, mgr, v, guard)
		for {
			// Per-iteration jitter spreads validation across instances.
			//nolint:gosec // G404: math/rand is sufficient for scheduling jitter
			jitter := time.Duration(rand.Int63n(int64(interval / 5)))
			select {
			case <-ctx.Done():
				return
			case <-time.After(interval + jitter):
			}
			runCycle(ctx, mgr, v, guard)
		}
	}()
}

func runCycle(ctx context.Context, mgr *Manager, v Validator, guard *RefundGuard) {
	cctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	tok, err := mgr.Current(cctx)
	if err != nil {
		slog.Warn("twitch token unavailable, refunds disabled", slog.Any("err", err))
		guard.set(false)
		return
	}
	res, err := v.ValidateToken(cctx, tok)
	if err != nil {
		slog.Warn("twitch token validation error, refunds disabled", slog.Any("err", err))
		guard.set(false)
		return
	}
	if !res.Valid {
		slog.Warn("twitch token invalid, attempting refresh")
		if err := mgr.Refresh(cctx); err != nil {
			slog.Error("twitch token refresh failed, refunds disabled until next validation cycle", slog.Any("err", err))
			guard.set(false)
			return
		}
		tok, err = mgr.Current(cctx)
		if err != nil {
			guard.set(false)
			return
		}
		res, err = v.ValidateToken(cctx, tok)
		if err != nil || !res.Valid {
			slog.Error("twitch token still invalid after refresh, refunds disabled")
			guard.set(false)
			return
		}
	}
	if !hasScope(res.Scopes, RedemptionScope) {
		slog.Warn("twitch token valid but missing redemption scope, refunds disabled", slog.String("scope", RedemptionScope))
		guard.set(false)
		return
	}
	if !guard.Enabled() {
		slog.Info("refund capability enabled")
	}
	guard.set(true)
}

func hasScope(scopes []string, want string) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}
	return false
}
