package engine

import (
	"testing"
	"time"
)

const voteTimeout = time.Minute

func TestVoteSkipQuorum(t *testing.T) {
	sched := newFakeScheduler()
	vs := NewVoteSkip(sched, nil)

	r := vs.Vote("chan", "a", 3, voteTimeout)
	if !r.Counted || r.Votes != 1 || r.QuorumReached {
		t.Fatalf("first vote: got %+v", r)
	}
	r = vs.Vote("chan", "b", 3, voteTimeout)
	if !r.Counted || r.Votes != 2 || r.QuorumReached {
		t.Fatalf("second vote: got %+v", r)
	}
	r = vs.Vote("chan", "c", 3, voteTimeout)
	if !r.Counted || !r.QuorumReached || r.Votes != 3 {
		t.Fatalf("quorum vote: got %+v", r)
	}
	if vs.Active("chan") {
		t.Fatal("session should be cleared after quorum")
	}
	if sched.pending(deadlineKey("chan")) {
		t.Fatal("deadline timer should be canceled after quorum")
	}
}

func TestVoteSkipRevoteNotCounted(t *testing.T) {
	sched := newFakeScheduler()
	vs := NewVoteSkip(sched, nil)

	vs.Vote("chan", "a", 3, voteTimeout)
	r := vs.Vote("chan", "a", 3, voteTimeout)
	if r.Counted {
		t.Fatal("re-vote should not be counted")
	}
	if r.Votes != 1 {
		t.Fatalf("vote count changed on re-vote: %d", r.Votes)
	}
}

func TestVoteSkipQuorumReachedExactlyOnce(t *testing.T) {
	sched := newFakeScheduler()
	vs := NewVoteSkip(sched, nil)

	reached := 0
	for _, u := range []string{"a", "b", "c", "d", "e"} {
		if vs.Vote("chan", u, 3, voteTimeout).QuorumReached {
			reached++
		}
	}
	if reached != 1 {
		t.Fatalf("QuorumReached observed %d times, want 1", reached)
	}
}

func TestVoteSkipTimeoutClearsSession(t *testing.T) {
	sched := newFakeScheduler()
	var timedOut []string
	vs := NewVoteSkip(sched, func(channel string) { timedOut = append(timedOut, channel) })

	vs.Vote("chan", "a", 3, voteTimeout)
	vs.Vote("chan", "b", 3, voteTimeout)
	sched.fire(deadlineKey("chan"))

	if vs.Active("chan") {
		t.Fatal("session should be cleared after timeout")
	}
	if len(timedOut) != 1 || timedOut[0] != "chan" {
		t.Fatalf("timeout callback: got %v", timedOut)
	}

	// A fresh session starts from zero.
	r := vs.Vote("chan", "a", 3, voteTimeout)
	if r.Votes != 1 {
		t.Fatalf("votes should not survive a timeout: %d", r.Votes)
	}
}

func TestVoteSkipEachVoteExtendsDeadline(t *testing.T) {
	sched := newFakeScheduler()
	vs := NewVoteSkip(sched, nil)

	vs.Vote("chan", "a", 5, voteTimeout)
	if !sched.pending(deadlineKey("chan")) {
		t.Fatal("deadline should be scheduled on first vote")
	}
	// Each distinct vote replaces the pending deadline.
	sched.Cancel(deadlineKey("chan"))
	vs.Vote("chan", "b", 5, voteTimeout)
	if !sched.pending(deadlineKey("chan")) {
		t.Fatal("second vote should reschedule the deadline")
	}
}

func TestVoteSkipChannelsAreIndependent(t *testing.T) {
	sched := newFakeScheduler()
	vs := NewVoteSkip(sched, nil)

	vs.Vote("one", "a", 2, voteTimeout)
	r := vs.Vote("two", "a", 2, voteTimeout)
	if r.Votes != 1 {
		t.Fatalf("sessions should be per channel: %+v", r)
	}
}
