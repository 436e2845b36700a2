package engine

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/song-tender/config"
	"github.com/onnwee/song-tender/spotify"
	"github.com/onnwee/song-tender/twitchapi"
)

type fakeMusic struct {
	tracks     map[string]spotify.Track
	searchHit  *spotify.Track
	searchErr  error
	lastQuery  string
	enqueued   []string
	enqueueErr error
	skips      int
	current    *spotify.Track
	queue      []spotify.Track
	volume     int
}

func (f *fakeMusic) SearchTrack(ctx context.Context, token, query string) (*spotify.Track, error) {
	f.lastQuery = query
	return f.searchHit, f.searchErr
}

func (f *fakeMusic) GetTrack(ctx context.Context, token, id string) (*spotify.Track, error) {
	if t, ok := f.tracks[id]; ok {
		return &t, nil
	}
	return nil, &spotify.APIError{Status: 400, Message: "invalid id"}
}

func (f *fakeMusic) Enqueue(ctx context.Context, token, uri string) error {
	if f.enqueueErr != nil {
		return f.enqueueErr
	}
	f.enqueued = append(f.enqueued, uri)
	return nil
}

func (f *fakeMusic) SkipToNext(ctx context.Context, token string) error {
	f.skips++
	return nil
}

func (f *fakeMusic) GetVolume(ctx context.Context, token string) (int, error) { return f.volume, nil }

func (f *fakeMusic) SetVolume(ctx context.Context, token string, percent int) error {
	f.volume = percent
	return nil
}

func (f *fakeMusic) CurrentlyPlaying(ctx context.Context, token string) (*spotify.Track, error) {
	return f.current, nil
}

func (f *fakeMusic) Queue(ctx context.Context, token string) ([]spotify.Track, error) {
	return f.queue, nil
}

// passTokens satisfies TokenManager with a fixed credential and no retry.
type passTokens struct{}

func (passTokens) WithRetry(ctx context.Context, call func(token string) error) error {
	return call("test-token")
}

type fakeOut struct {
	mu   sync.Mutex
	msgs []string
}

func (f *fakeOut) Say(channel, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, text)
}

func (f *fakeOut) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.msgs) == 0 {
		return ""
	}
	return f.msgs[len(f.msgs)-1]
}

func (f *fakeOut) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

func testTrack() spotify.Track {
	return spotify.Track{
		ID:              "trk1",
		Name:            "Test Song",
		Artists:         []string{"Artist One", "Artist Two"},
		DurationSeconds: 200,
		ShareURL:        "https://open.spotify.com/track/trk1",
	}
}

func newTestEngine(s *config.Settings, settler *Settler) (*Engine, *fakeMusic, *fakeOut, *fakeScheduler) {
	music := &fakeMusic{tracks: map[string]spotify.Track{"trk1": testTrack()}}
	out := &fakeOut{}
	sched := newFakeScheduler()
	e := New(config.NewStore(s), music, passTokens{}, settler, sched, out)
	e.pick = func(n int) int { return 0 }
	return e, music, out, sched
}

func requestSettings() *config.Settings {
	s := config.DefaultSettings()
	s.AddedToQueueMsg = []string{"$(username) queued $(trackName) by $(artists)"}
	return s
}

func TestSongRequestByLink(t *testing.T) {
	e, music, out, _ := newTestEngine(requestSettings(), nil)

	e.HandleMessage(context.Background(), ChatEvent{
		Channel: "chan", User: "viewer",
		Text: "!sr https://open.spotify.com/track/trk1",
	})

	if len(music.enqueued) != 1 || music.enqueued[0] != "spotify:track:trk1" {
		t.Fatalf("enqueued = %v", music.enqueued)
	}
	if got := out.last(); got != "viewer queued Test Song by Artist One, Artist Two" {
		t.Fatalf("confirmation = %q", got)
	}
}

func TestSongRequestUsageHint(t *testing.T) {
	e, music, out, _ := newTestEngine(requestSettings(), nil)

	e.HandleMessage(context.Background(), ChatEvent{Channel: "chan", User: "viewer", Text: "!sr"})

	if len(music.enqueued) != 0 {
		t.Fatal("empty request must not enqueue")
	}
	if !strings.Contains(out.last(), "usage:") {
		t.Fatalf("expected usage hint, got %q", out.last())
	}
}

func TestSongRequestRoleGate(t *testing.T) {
	s := requestSettings()
	s.CommandUserLevel = []string{"subscriber"}
	e, music, out, _ := newTestEngine(s, nil)

	e.HandleMessage(context.Background(), ChatEvent{
		Channel: "chan", User: "viewer",
		Text: "!sr spotify:track:trk1",
	})
	if len(music.enqueued) != 0 || out.count() != 0 {
		t.Fatal("unprivileged request must be ignored silently")
	}

	e.HandleMessage(context.Background(), ChatEvent{
		Channel: "chan", User: "sub", Roles: []Role{RoleSubscriber},
		Text: "!sr spotify:track:trk1",
	})
	if len(music.enqueued) != 1 {
		t.Fatal("subscriber request should be queued")
	}
}

func TestSongRequestCooldown(t *testing.T) {
	s := requestSettings()
	s.UseCooldown = true
	e, music, out, sched := newTestEngine(s, nil)
	ev := ChatEvent{Channel: "chan", User: "viewer", Text: "!sr spotify:track:trk1"}

	e.HandleMessage(context.Background(), ev)
	e.HandleMessage(context.Background(), ev)

	if len(music.enqueued) != 1 {
		t.Fatalf("enqueued = %d, want 1 (second request on cooldown)", len(music.enqueued))
	}
	if !strings.Contains(out.last(), "wait before requesting") {
		t.Fatalf("cooldown message = %q", out.last())
	}

	sched.fire("cooldown:viewer")
	e.HandleMessage(context.Background(), ev)
	if len(music.enqueued) != 2 {
		t.Fatal("request after cooldown expiry should be queued")
	}
}

func TestSongRequestDurationGate(t *testing.T) {
	s := requestSettings()
	s.MaxDuration = 100
	s.IgnoreMaxLen = []string{"streamer"}
	e, music, out, _ := newTestEngine(s, nil)

	e.HandleMessage(context.Background(), ChatEvent{
		Channel: "chan", User: "viewer",
		Text: "!sr spotify:track:trk1",
	})
	if len(music.enqueued) != 0 {
		t.Fatal("over-limit track must not be queued")
	}
	if !strings.Contains(out.last(), "too long") {
		t.Fatalf("duration message = %q", out.last())
	}

	// Exempt role bypasses the gate.
	e.HandleMessage(context.Background(), ChatEvent{
		Channel: "chan", User: "streamer", Roles: []Role{RoleStreamer},
		Text: "!sr spotify:track:trk1",
	})
	if len(music.enqueued) != 1 {
		t.Fatal("exempt role should bypass the duration gate")
	}
}

func TestSongRequestNoActiveDevice(t *testing.T) {
	e, music, out, _ := newTestEngine(requestSettings(), nil)
	music.enqueueErr = &spotify.APIError{Status: 404, Message: "no active device"}

	e.HandleMessage(context.Background(), ChatEvent{
		Channel: "chan", User: "viewer",
		Text: "!sr spotify:track:trk1",
	})
	if !strings.Contains(out.last(), "play some music") {
		t.Fatalf("device message = %q", out.last())
	}
}

func TestSongRequestNotFound(t *testing.T) {
	s := requestSettings()
	e, _, out, _ := newTestEngine(s, nil)

	e.HandleMessage(context.Background(), ChatEvent{
		Channel: "chan", User: "viewer",
		Text: "!sr total gibberish",
	})
	if out.last() != s.SongNotFound {
		t.Fatalf("message = %q, want song-not-found", out.last())
	}
}

func TestSongRequestBlocked(t *testing.T) {
	s := requestSettings()
	s.BlockedTracks = []string{"trk1"}
	e, music, out, _ := newTestEngine(s, nil)

	e.HandleMessage(context.Background(), ChatEvent{
		Channel: "chan", User: "viewer",
		Text: "!sr spotify:track:trk1",
	})
	if len(music.enqueued) != 0 {
		t.Fatal("blocked track must not be queued")
	}
	if !strings.Contains(out.last(), "not allowed") {
		t.Fatalf("blocked message = %q", out.last())
	}
}

func TestSkipCommand(t *testing.T) {
	e, music, out, _ := newTestEngine(requestSettings(), nil)
	cur := testTrack()
	music.current = &cur

	// Default skip level excludes plain viewers.
	e.HandleMessage(context.Background(), ChatEvent{Channel: "chan", User: "viewer", Text: "!skip"})
	if music.skips != 0 {
		t.Fatal("viewer skip must be ignored")
	}

	e.HandleMessage(context.Background(), ChatEvent{
		Channel: "chan", User: "mod", Roles: []Role{RoleModerator}, Text: "!skip",
	})
	if music.skips != 1 {
		t.Fatal("moderator skip should advance playback")
	}
	if !strings.Contains(out.last(), "mod skipped Test Song") {
		t.Fatalf("skip announcement = %q", out.last())
	}
}

func TestTrackInfoCommand(t *testing.T) {
	e, music, out, _ := newTestEngine(requestSettings(), nil)

	e.HandleMessage(context.Background(), ChatEvent{Channel: "chan", User: "viewer", Text: "!song"})
	if !strings.Contains(out.last(), "no music is playing") {
		t.Fatalf("idle message = %q", out.last())
	}

	cur := testTrack()
	music.current = &cur
	e.HandleMessage(context.Background(), ChatEvent{Channel: "chan", User: "viewer", Text: "!song"})
	if !strings.Contains(out.last(), "Artist One, Artist Two - Test Song") {
		t.Fatalf("now playing = %q", out.last())
	}
}

func TestQueueCommand(t *testing.T) {
	s := requestSettings()
	s.QueueDisplayDepth = 2
	e, music, out, _ := newTestEngine(s, nil)

	e.HandleMessage(context.Background(), ChatEvent{Channel: "chan", User: "viewer", Text: "!queue"})
	if !strings.Contains(out.last(), "Nothing in the queue") {
		t.Fatalf("empty queue message = %q", out.last())
	}

	music.queue = []spotify.Track{
		{Name: "One", Artists: []string{"A"}},
		{Name: "Two", Artists: []string{"B"}},
		{Name: "Three", Artists: []string{"C"}},
	}
	e.HandleMessage(context.Background(), ChatEvent{Channel: "chan", User: "viewer", Text: "!queue"})
	got := out.last()
	if !strings.Contains(got, "Next 2 songs") || !strings.Contains(got, "1) A - One") || strings.Contains(got, "Three") {
		t.Fatalf("queue display = %q", got)
	}
}

func TestVolumeCommand(t *testing.T) {
	s := requestSettings()
	s.AllowVolumeSet = true
	e, music, out, _ := newTestEngine(s, nil)
	music.volume = 40
	mod := []Role{RoleModerator}

	e.HandleMessage(context.Background(), ChatEvent{Channel: "chan", User: "viewer", Text: "!volume 80"})
	if music.volume != 40 {
		t.Fatal("viewer volume change must be ignored")
	}

	e.HandleMessage(context.Background(), ChatEvent{Channel: "chan", User: "mod", Roles: mod, Text: "!volume"})
	if !strings.Contains(out.last(), "current volume is 40") {
		t.Fatalf("volume readout = %q", out.last())
	}

	e.HandleMessage(context.Background(), ChatEvent{Channel: "chan", User: "mod", Roles: mod, Text: "!volume 150"})
	if music.volume != 100 {
		t.Fatalf("volume = %d, want clamp to 100", music.volume)
	}

	e.HandleMessage(context.Background(), ChatEvent{Channel: "chan", User: "mod", Roles: mod, Text: "!volume loud"})
	if !strings.Contains(out.last(), "between 0 and 100") {
		t.Fatalf("parse error message = %q", out.last())
	}
}

func TestVoteSkipFlow(t *testing.T) {
	s := requestSettings()
	s.AllowVoteSkip = true
	s.RequiredVoteSkip = 3
	e, music, out, sched := newTestEngine(s, nil)
	cur := testTrack()
	music.current = &cur

	e.HandleMessage(context.Background(), ChatEvent{Channel: "chan", User: "a", Text: "!voteskip"})
	if !strings.Contains(out.last(), "(1/3)") {
		t.Fatalf("progress = %q", out.last())
	}
	e.HandleMessage(context.Background(), ChatEvent{Channel: "chan", User: "b", Text: "!voteskip"})
	if !strings.Contains(out.last(), "(2/3)") {
		t.Fatalf("progress = %q", out.last())
	}

	// Re-vote says nothing and changes nothing.
	before := out.count()
	e.HandleMessage(context.Background(), ChatEvent{Channel: "chan", User: "a", Text: "!voteskip"})
	if out.count() != before {
		t.Fatal("re-vote must not announce")
	}

	e.HandleMessage(context.Background(), ChatEvent{Channel: "chan", User: "c", Text: "!voteskip"})
	if music.skips != 1 {
		t.Fatal("quorum should skip the track")
	}
	if !strings.Contains(out.last(), "Chat has skipped Test Song (3/3)!") {
		t.Fatalf("quorum announcement = %q", out.last())
	}

	// Fresh session that times out below quorum.
	e.HandleMessage(context.Background(), ChatEvent{Channel: "chan", User: "a", Text: "!voteskip"})
	sched.fire(deadlineKey("chan"))
	if !strings.Contains(out.last(), "timed out") {
		t.Fatalf("timeout announcement = %q", out.last())
	}
	if music.skips != 1 {
		t.Fatal("timeout must not skip")
	}
}

func TestCheerRequest(t *testing.T) {
	s := requestSettings()
	s.UsageTypes = []string{config.UsageBits}
	s.MinimumBits = 100
	e, music, _, _ := newTestEngine(s, nil)

	e.HandleCheer(context.Background(), ChatEvent{Channel: "chan", User: "viewer", Text: "Cheer50 spotify:track:trk1"}, 50)
	if len(music.enqueued) != 0 {
		t.Fatal("below-minimum cheer must be ignored")
	}

	e.HandleCheer(context.Background(), ChatEvent{Channel: "chan", User: "viewer", Text: "Cheer200 spotify:track:trk1"}, 200)
	if len(music.enqueued) != 1 {
		t.Fatal("qualifying cheer should queue the track")
	}
}

func TestCheerExactBits(t *testing.T) {
	s := requestSettings()
	s.UsageTypes = []string{config.UsageBits}
	s.UseExactBits = true
	s.MinimumBits = 100
	e, music, _, _ := newTestEngine(s, nil)

	e.HandleCheer(context.Background(), ChatEvent{Channel: "chan", User: "viewer", Text: "Cheer200 spotify:track:trk1"}, 200)
	if len(music.enqueued) != 0 {
		t.Fatal("non-exact amount must be ignored in exact mode")
	}

	e.HandleCheer(context.Background(), ChatEvent{Channel: "chan", User: "viewer", Text: "Cheer100 spotify:track:trk1"}, 100)
	if len(music.enqueued) != 1 {
		t.Fatal("exact amount should queue the track")
	}
}

func TestCheerTokenStripping(t *testing.T) {
	s := requestSettings()
	s.UsageTypes = []string{config.UsageBits}
	s.MinimumBits = 1
	e, music, _, _ := newTestEngine(s, nil)
	hit := testTrack()
	music.searchHit = &hit

	e.HandleCheer(context.Background(), ChatEvent{Channel: "chan", User: "viewer", Text: "Cheer100 test song"}, 100)
	if music.lastQuery != "test song" {
		t.Fatalf("search query = %q, cheer token should be stripped", music.lastQuery)
	}
}

func redemptionSettings() *config.Settings {
	s := requestSettings()
	s.UsageTypes = []string{config.UsageChannelPoints}
	s.CustomRewardID = "reward-1"
	s.AutomaticRefunds = true
	return s
}

func TestRedemptionFulfilledOnSuccess(t *testing.T) {
	api := &fakeRedemptionAPI{latest: &twitchapi.Redemption{ID: "red-1", RedeemedAt: time.Now()}}
	settler := NewSettler(api, staticGuard(true), "bcast-1")
	e, music, _, _ := newTestEngine(redemptionSettings(), settler)

	e.HandleRedemption(context.Background(), ChatEvent{
		Channel: "chan", User: "viewer", Text: "spotify:track:trk1",
	}, "reward-1")

	if len(music.enqueued) != 1 {
		t.Fatal("redemption request should be queued")
	}
	if api.setStatus != twitchapi.StatusFulfilled {
		t.Fatalf("status = %q, want FULFILLED", api.setStatus)
	}
}

func TestRedemptionRefundedOnFailure(t *testing.T) {
	api := &fakeRedemptionAPI{latest: &twitchapi.Redemption{ID: "red-2", RedeemedAt: time.Now()}}
	settler := NewSettler(api, staticGuard(true), "bcast-1")
	e, music, _, _ := newTestEngine(redemptionSettings(), settler)

	e.HandleRedemption(context.Background(), ChatEvent{
		Channel: "chan", User: "viewer", Text: "total gibberish",
	}, "reward-1")

	if len(music.enqueued) != 0 {
		t.Fatal("unresolvable redemption must not queue")
	}
	if api.setStatus != twitchapi.StatusCanceled {
		t.Fatalf("status = %q, want CANCELED", api.setStatus)
	}
}

func TestRedemptionIgnoresOtherRewards(t *testing.T) {
	api := &fakeRedemptionAPI{latest: &twitchapi.Redemption{ID: "red-3", RedeemedAt: time.Now()}}
	settler := NewSettler(api, staticGuard(true), "bcast-1")
	e, music, _, _ := newTestEngine(redemptionSettings(), settler)

	e.HandleRedemption(context.Background(), ChatEvent{
		Channel: "chan", User: "viewer", Text: "spotify:track:trk1",
	}, "some-other-reward")

	if len(music.enqueued) != 0 || api.setID != "" {
		t.Fatal("foreign reward ids must be ignored")
	}
}
