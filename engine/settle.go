package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/onnwee/song-tender/twitchapi"
)

// SettleResult is the outcome of settling a channel-point redemption.
type SettleResult int

const (
	SettleUnresolved SettleResult = iota
	SettleRefunded
	SettleFulfilled
)

func (r SettleResult) String() string {
	switch r {
	case SettleRefunded:
		return "refunded"
	case SettleFulfilled:
		return "fulfilled"
	default:
		return "unresolved"
	}
}

// stalenessWindow bounds how old an inferred redemption may be. The platform
// doesn't hand us a redemption id with the chat event, so settlement looks up
// the newest pending one; past this window it can no longer be safely
// attributed to the current request.
const stalenessWindow = 60 * time.Second

// RedemptionAPI is the slice of the stream platform client settlement needs.
type RedemptionAPI interface {
	LatestUnfulfilledRedemption(ctx context.Context, broadcasterID, rewardID string) (*twitchapi.Redemption, error)
	SetRedemptionStatus(ctx context.Context, broadcasterID, rewardID, redemptionID, status string) error
}

// CapabilityGuard gates settlement on the refund capability (auth.RefundGuard).
type CapabilityGuard interface {
	Enabled() bool
}

// Settler decides refund vs. fulfill for a redemption and performs the write.
type Settler struct {
	api           RedemptionAPI
	guard         CapabilityGuard
	broadcasterID string
	now           func() time.Time
}

func NewSettler(api RedemptionAPI, guard CapabilityGuard, broadcasterID string) *Settler {
	return &Settler{api: api, guard: guard, broadcasterID: broadcasterID, now: time.Now}
}

// Settle marks the most recent pending redemption CANCELED (request failed)
// or FULFILLED (request succeeded). When no pending redemption exists, or the
// newest one is older than the staleness window, nothing is touched and the
// ambiguity is logged for the operator. Never guesses.
func (s *Settler) Settle(ctx context.Context, rewardID string, success bool) SettleResult {
	if s.guard != nil && !s.guard.Enabled() {
		slog.Warn("redemption settlement skipped: refund capability disabled; refund manually if needed",
			slog.String("reward_id", rewardID))
		return SettleUnresolved
	}

	red, err := s.api.LatestUnfulfilledRedemption(ctx, s.broadcasterID, rewardID)
	if err != nil {
		slog.Error("redemption lookup failed; refund manually if needed", slog.Any("err", err))
		return SettleUnresolved
	}
	if red == nil {
		slog.Warn("no unfulfilled redemption found; was 'skip request queue' enabled on the reward? refund manually if needed",
			slog.String("reward_id", rewardID))
		return SettleUnresolved
	}
	if s.now().Sub(red.RedeemedAt) > stalenessWindow {
		slog.Warn("newest pending redemption is too old to attribute to this request; refund manually if needed",
			slog.String("redemption_id", red.ID),
			slog.Time("redeemed_at", red.RedeemedAt))
		return SettleUnresolved
	}

	status := twitchapi.StatusCanceled
	result := SettleRefunded
	if success {
		status = twitchapi.StatusFulfilled
		result = SettleFulfilled
	}
	if err := s.api.SetRedemptionStatus(ctx, s.broadcasterID, rewardID, red.ID, status); err != nil {
		slog.Error("redemption status update failed; refund manually if needed",
			slog.String("redemption_id", red.ID),
			slog.String("status", status),
			slog.Any("err", err))
		return SettleUnresolved
	}
	return result
}
