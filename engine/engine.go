// Package engine is the song request orchestration core: it turns inbound
// chat events (commands, bits cheers, channel point redemptions) into
// validated, rate-limited, role-checked actions against the playback queue,
// coordinates the vote-skip state machine, and settles redemptions by
// request outcome.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/song-tender/config"
	"github.com/onnwee/song-tender/spotify"
	"github.com/onnwee/song-tender/telemetry"
)

// Request origins, matching the usage types in the settings file.
const (
	OriginCommand       = config.UsageCommand
	OriginBits          = config.UsageBits
	OriginChannelPoints = config.UsageChannelPoints
)

// MusicClient is the music provider surface the engine drives
// (implemented by spotify.Client). Every call takes the bearer credential.
type MusicClient interface {
	SearchTrack(ctx context.Context, token, query string) (*spotify.Track, error)
	GetTrack(ctx context.Context, token, id string) (*spotify.Track, error)
	Enqueue(ctx context.Context, token, uri string) error
	SkipToNext(ctx context.Context, token string) error
	GetVolume(ctx context.Context, token string) (int, error)
	SetVolume(ctx context.Context, token string, percent int) error
	CurrentlyPlaying(ctx context.Context, token string) (*spotify.Track, error)
	Queue(ctx context.Context, token string) ([]spotify.Track, error)
}

// TokenManager applies the one-refresh-one-retry credential contract
// (implemented by auth.Manager).
type TokenManager interface {
	WithRetry(ctx context.Context, call func(token string) error) error
}

// Announcer delivers outbound chat text (implemented by chat.Bot).
type Announcer interface {
	Say(channel, text string)
}

// ChatEvent is one parsed inbound chat event.
type ChatEvent struct {
	Channel string
	User    string
	Roles   []Role
	Text    string
}

// Engine routes chat events. It is safe for concurrent use; events are
// expected to arrive on independent goroutines.
type Engine struct {
	cfg      *config.Store
	music    MusicClient
	tokens   TokenManager
	settler  *Settler
	cooldown *CooldownTracker
	votes    *VoteSkip
	resolver *Resolver
	out      Announcer

	// pick selects a confirmation template index; injectable for tests.
	pick func(n int) int
}

func New(cfg *config.Store, music MusicClient, tokens TokenManager, settler *Settler, sched Scheduler, out Announcer) *Engine {
	e := &Engine{
		cfg:     cfg,
		music:   music,
		tokens:  tokens,
		settler: settler,
		out:     out,
		pick:    rand.Intn,
	}
	e.cooldown = NewCooldownTracker(sched)
	e.votes = NewVoteSkip(sched, e.voteSkipTimedOut)
	e.resolver = NewResolver(e.searchTrackID)
	return e
}

// searchTrackID runs the provider search under the token retry contract and
// returns the first hit's id, "" for an empty result.
func (e *Engine) searchTrackID(ctx context.Context, query string) (string, error) {
	var id string
	err := e.tokens.WithRetry(ctx, func(token string) error {
		t, err := e.music.SearchTrack(ctx, token, query)
		if err != nil {
			return err
		}
		if t != nil {
			id = t.ID
		}
		return nil
	})
	return id, err
}

// HandleMessage classifies one chat message and runs the matching command.
// Classification order is fixed: song request, volume, skip, track info,
// queue display, vote skip.
func (e *Engine) HandleMessage(ctx context.Context, ev ChatEvent) {
	s := e.cfg.Snapshot()
	lower := strings.ToLower(ev.Text)
	first, rest, _ := strings.Cut(lower, " ")

	switch {
	case s.UsageEnabled(config.UsageCommand) && hasAlias(s.CommandAliases, first) && Eligible(ev.Roles, ParseRoles(s.CommandUserLevel)):
		if strings.TrimSpace(rest) == "" {
			e.out.Say(ev.Channel, fmt.Sprintf("%s, usage: %s song-link (Spotify -> Share -> Copy Song Link)", ev.User, first))
			return
		}
		e.handleSongRequest(ctx, s, ev, ev.Text, OriginCommand)
	case s.AllowVolumeSet && first == "!volume":
		e.handleVolume(ctx, s, ev, strings.TrimSpace(rest))
	case lower == s.SkipAlias:
		e.handleSkip(ctx, s, ev)
	case s.UseSongCommand && lower == "!song":
		e.handleTrackInfo(ctx, ev.Channel)
	case s.UseQueueCommand && lower == "!queue":
		e.handleQueue(ctx, s, ev.Channel)
	case s.AllowVoteSkip && lower == "!voteskip":
		e.handleVoteSkip(ctx, s, ev)
	}
}

// cheerTokenPattern matches the amount tokens the chat platform injects into
// cheer messages ("Cheer100" etc.), which would corrupt search queries.
var cheerTokenPattern = regexp.MustCompile(`(?i)cheer`)

// HandleCheer processes a bits cheer as a song request when bits usage is
// enabled and the amount qualifies.
func (e *Engine) HandleCheer(ctx context.Context, ev ChatEvent, bits int) {
	s := e.cfg.Snapshot()
	if !s.UsageEnabled(config.UsageBits) {
		return
	}
	if s.UseExactBits && bits != s.MinimumBits {
		return
	}
	if !s.UseExactBits && bits < s.MinimumBits {
		return
	}
	text := stripCheerTokens(ev.Text)
	if ok := e.handleSongRequest(ctx, s, ev, text, OriginBits); !ok {
		slog.Info("cheered song request failed; the track must be added manually",
			slog.String("user", ev.User), slog.Int("bits", bits))
	}
}

// HandleRedemption processes a channel point redemption as a song request and
// hands the outcome to settlement.
func (e *Engine) HandleRedemption(ctx context.Context, ev ChatEvent, rewardID string) {
	s := e.cfg.Snapshot()
	if !s.UsageEnabled(config.UsageChannelPoints) || rewardID != s.CustomRewardID {
		return
	}
	ok := e.handleSongRequest(ctx, s, ev, ev.Text, OriginChannelPoints)
	if !s.AutomaticRefunds {
		return
	}
	result := e.settler.Settle(ctx, rewardID, ok)
	telemetry.CountSettlement(result.String())
	slog.Info("redemption settled",
		slog.String("user", ev.User),
		slog.Bool("request_ok", ok),
		slog.String("result", result.String()))
}

// handleSongRequest runs the full request sequence: resolve, cooldown,
// duration gate, enqueue, confirm. Returns whether the track was queued.
// Every rejection produces exactly one chat message.
func (e *Engine) handleSongRequest(ctx context.Context, s *config.Settings, ev ChatEvent, text, origin string) bool {
	id, err := e.resolver.Resolve(ctx, text, s.CommandAliases, s.BlockedTracks)
	if err != nil {
		if err == ErrBlocked {
			e.out.Say(ev.Channel, fmt.Sprintf("%s, that track is not allowed here.", ev.User))
			telemetry.CountRequest(origin, "blocked")
		} else {
			e.out.Say(ev.Channel, s.SongNotFound)
			telemetry.CountRequest(origin, "not_found")
		}
		return false
	}

	if s.UseCooldown && !e.cooldown.TryAcquire(ev.User, time.Duration(s.CooldownSecs)*time.Second) {
		e.out.Say(ev.Channel, fmt.Sprintf("%s, please wait before requesting another song.", ev.User))
		if telemetry.CooldownRejections != nil {
			telemetry.CooldownRejections.Inc()
		}
		telemetry.CountRequest(origin, "on_cooldown")
		return false
	}

	var track *spotify.Track
	err = e.tokens.WithRetry(ctx, func(token string) error {
		t, err := e.music.GetTrack(ctx, token, id)
		if err != nil {
			return err
		}
		track = t
		return nil
	})
	if err != nil {
		e.sayProviderError(s, ev.Channel, err)
		telemetry.CountRequest(origin, "provider_error")
		return false
	}

	if track.DurationSeconds > s.MaxDuration && !Eligible(ev.Roles, ParseRoles(s.IgnoreMaxLen)) {
		e.out.Say(ev.Channel, fmt.Sprintf("%s is too long. The max duration is %d seconds.", track.Name, s.MaxDuration))
		telemetry.CountRequest(origin, "too_long")
		return false
	}

	err = e.tokens.WithRetry(ctx, func(token string) error {
		return e.music.Enqueue(ctx, token, track.URI())
	})
	if err != nil {
		e.sayProviderError(s, ev.Channel, err)
		telemetry.CountRequest(origin, "provider_error")
		return false
	}

	artists := strings.Join(track.Artists, ", ")
	msg := RenderTemplate(pickTemplate(s.AddedToQueueMsg, e.pick), ev.User, track.Name, artists)
	e.out.Say(ev.Channel, msg)
	telemetry.CountRequest(origin, "queued")
	return true
}

// sayProviderError maps a provider failure to the single user-facing message
// for its error class. Operator detail goes to the log, never to chat.
func (e *Engine) sayProviderError(s *config.Settings, channel string, err error) {
	switch spotify.KindOf(err) {
	case spotify.KindNoActiveDevice:
		e.out.Say(channel, fmt.Sprintf("Hey, %s! You forgot to actually use Spotify this time. Please open it and play some music, then I will be able to add songs to the queue.", channel))
	case spotify.KindInvalid:
		e.out.Say(channel, s.SongNotFound)
	case spotify.KindForbidden:
		e.out.Say(channel, "It looks like Spotify doesn't want you to use it for some reason. Check the console for details.")
		slog.Error("spotify rejected the request", slog.Any("err", err))
	default:
		e.out.Say(channel, s.SongNotFound)
		slog.Error("error while reaching spotify", slog.Any("err", err))
	}
}

func (e *Engine) handleSkip(ctx context.Context, s *config.Settings, ev ChatEvent) {
	if !Eligible(ev.Roles, ParseRoles(s.SkipUserLevel)) {
		return
	}
	name := e.currentTrackName(ctx)
	err := e.tokens.WithRetry(ctx, func(token string) error {
		return e.music.SkipToNext(ctx, token)
	})
	if err != nil {
		// Let users spam the alias; skip failures stay out of chat.
		slog.Warn("skip failed", slog.Any("err", err))
		return
	}
	if telemetry.SkipsPerformed != nil {
		telemetry.SkipsPerformed.Inc()
	}
	e.out.Say(ev.Channel, fmt.Sprintf("%s skipped %s!", ev.User, name))
}

func (e *Engine) handleVolume(ctx context.Context, s *config.Settings, ev ChatEvent, arg string) {
	if !Eligible(ev.Roles, ParseRoles(s.VolumeUserLevel)) {
		return
	}
	if arg == "" {
		var vol int
		err := e.tokens.WithRetry(ctx, func(token string) error {
			v, err := e.music.GetVolume(ctx, token)
			if err != nil {
				return err
			}
			vol = v
			return nil
		})
		if err != nil {
			slog.Warn("get volume failed", slog.Any("err", err))
			return
		}
		e.out.Say(ev.Channel, fmt.Sprintf("%s, the current volume is %d!", ev.User, vol))
		return
	}
	n, err := strconv.Atoi(arg)
	if err != nil {
		e.out.Say(ev.Channel, fmt.Sprintf("%s, a number between 0 and 100 is required.", ev.User))
		return
	}
	n = clamp(n, 0, 100)
	err = e.tokens.WithRetry(ctx, func(token string) error {
		return e.music.SetVolume(ctx, token, n)
	})
	if err != nil {
		e.out.Say(ev.Channel, "There was a problem setting the volume.")
		slog.Warn("set volume failed", slog.Any("err", err))
		return
	}
	e.out.Say(ev.Channel, fmt.Sprintf("%s has set the current volume to %d!", ev.User, n))
}

func (e *Engine) handleTrackInfo(ctx context.Context, channel string) {
	var track *spotify.Track
	err := e.tokens.WithRetry(ctx, func(token string) error {
		t, err := e.music.CurrentlyPlaying(ctx, token)
		if err != nil {
			return err
		}
		track = t
		return nil
	})
	if err != nil || track == nil {
		e.out.Say(channel, "Seems like no music is playing right now.")
		return
	}
	e.out.Say(channel, fmt.Sprintf("▶️ %s - %s -> %s", strings.Join(track.Artists, ", "), track.Name, track.ShareURL))
}

func (e *Engine) handleQueue(ctx context.Context, s *config.Settings, channel string) {
	var queue []spotify.Track
	err := e.tokens.WithRetry(ctx, func(token string) error {
		q, err := e.music.Queue(ctx, token)
		if err != nil {
			return err
		}
		queue = q
		return nil
	})
	if err != nil || len(queue) == 0 {
		e.out.Say(channel, "Nothing in the queue.")
		return
	}
	depth := s.QueueDisplayDepth
	if depth > len(queue) {
		depth = len(queue)
	}
	var b strings.Builder
	for i := 0; i < depth; i++ {
		artist := ""
		if len(queue[i].Artists) > 0 {
			artist = queue[i].Artists[0]
		}
		fmt.Fprintf(&b, "• %d) %s - %s ", i+1, artist, queue[i].Name)
	}
	e.out.Say(channel, fmt.Sprintf("▶️ Next %d songs: %s", depth, strings.TrimSpace(b.String())))
}

func (e *Engine) handleVoteSkip(ctx context.Context, s *config.Settings, ev ChatEvent) {
	timeout := time.Duration(s.VoteSkipTimeoutSecs) * time.Second
	res := e.votes.Vote(ev.Channel, ev.User, s.RequiredVoteSkip, timeout)
	if !res.Counted {
		return
	}
	if res.Votes == 1 && !res.QuorumReached && telemetry.VoteSkipSessions != nil {
		telemetry.VoteSkipSessions.Inc()
	}
	if !res.QuorumReached {
		e.out.Say(ev.Channel, fmt.Sprintf("%s voted to skip the current song (%d/%d)!", ev.User, res.Votes, res.Required))
		return
	}
	name := e.currentTrackName(ctx)
	err := e.tokens.WithRetry(ctx, func(token string) error {
		return e.music.SkipToNext(ctx, token)
	})
	if err != nil {
		slog.Warn("vote skip action failed", slog.Any("err", err))
	} else if telemetry.SkipsPerformed != nil {
		telemetry.SkipsPerformed.Inc()
	}
	e.out.Say(ev.Channel, fmt.Sprintf("Chat has skipped %s (%d/%d)!", name, res.Required, res.Required))
}

// voteSkipTimedOut announces a lapsed session; the coordinator has already
// cleared it.
func (e *Engine) voteSkipTimedOut(channel string) {
	if telemetry.VoteSkipTimeouts != nil {
		telemetry.VoteSkipTimeouts.Inc()
	}
	e.out.Say(channel, "Voteskip has timed out... No song will be skipped at this time!")
}

func (e *Engine) currentTrackName(ctx context.Context) string {
	var name string
	err := e.tokens.WithRetry(ctx, func(token string) error {
		t, err := e.music.CurrentlyPlaying(ctx, token)
		if err != nil {
			return err
		}
		if t != nil {
			name = t.Name
		}
		return nil
	})
	if err != nil || name == "" {
		return "the current song"
	}
	return name
}

// CurrentlyPlayingText renders the overlay line for the HTTP server.
func (e *Engine) CurrentlyPlayingText(ctx context.Context) string {
	var track *spotify.Track
	err := e.tokens.WithRetry(ctx, func(token string) error {
		t, err := e.music.CurrentlyPlaying(ctx, token)
		if err != nil {
			return err
		}
		track = t
		return nil
	})
	if err != nil || track == nil {
		return ""
	}
	return fmt.Sprintf("%s - %s", strings.Join(track.Artists, ", "), track.Name)
}

func hasAlias(aliases []string, token string) bool {
	for _, a := range aliases {
		if a == token {
			return true
		}
	}
	return false
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

// stripCheerTokens removes the platform-injected cheer amount tokens from a
// message: any whitespace-delimited token containing "cheer" plus a digit.
func stripCheerTokens(message string) string {
	fields := strings.Fields(message)
	kept := fields[:0]
	for _, f := range fields {
		if cheerTokenPattern.MatchString(f) && strings.ContainsAny(f, "0123456789") {
			continue
		}
		kept = append(kept, f)
	}
	return strings.Join(kept, " ")
}
