package engine

import (
	"sync"
	"time"
)

// VoteResult describes the effect of a single vote.
type VoteResult struct {
	Counted       bool // false for an idempotent re-vote
	Votes         int
	Required      int
	QuorumReached bool
}

// VoteSkip coordinates the timed group vote to skip the current track. One
// session per channel; every new distinct vote extends the deadline; quorum
// or deadline expiry returns the channel to idle.
type VoteSkip struct {
	mu       sync.Mutex
	sessions map[string]map[string]struct{}
	sched    Scheduler

	// onTimeout fires exactly once when a session's deadline lapses below
	// quorum. The session is already cleared by the time it runs.
	onTimeout func(channel string)
}

func NewVoteSkip(sched Scheduler, onTimeout func(channel string)) *VoteSkip {
	return &VoteSkip{
		sessions:  make(map[string]map[string]struct{}),
		sched:     sched,
		onTimeout: onTimeout,
	}
}

func deadlineKey(channel string) string { return "voteskip:" + channel }

// Vote registers a vote. The first vote in an idle channel opens a session;
// re-votes don't double-count; reaching quorum clears the session and cancels
// the deadline, and exactly one caller observes QuorumReached.
func (v *VoteSkip) Vote(channel, user string, quorum int, timeout time.Duration) VoteResult {
	if quorum < 1 {
		quorum = 1
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	sess := v.sessions[channel]
	if sess == nil {
		sess = make(map[string]struct{})
		v.sessions[channel] = sess
	}
	if _, voted := sess[user]; voted {
		return VoteResult{Counted: false, Votes: len(sess), Required: quorum}
	}
	sess[user] = struct{}{}

	if len(sess) >= quorum {
		delete(v.sessions, channel)
		v.sched.Cancel(deadlineKey(channel))
		return VoteResult{Counted: true, Votes: quorum, Required: quorum, QuorumReached: true}
	}

	// Progressive deadline: each new vote replaces the pending timer.
	v.sched.Schedule(deadlineKey(channel), timeout, func() { v.expire(channel) })
	return VoteResult{Counted: true, Votes: len(sess), Required: quorum}
}

func (v *VoteSkip) expire(channel string) {
	v.mu.Lock()
	_, active := v.sessions[channel]
	delete(v.sessions, channel)
	v.mu.Unlock()
	if active && v.onTimeout != nil {
		v.onTimeout(channel)
	}
}

// Active reports whether a vote session is open for the channel.
func (v *VoteSkip) Active(channel string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.sessions[channel]
	return ok
}
