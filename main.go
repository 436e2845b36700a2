// Command song-tender runs the song request bot for one Twitch channel.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres, runs idempotent migrations, and primes the
//     Spotify and Twitch token managers from the stored tokens.
//   - Bootstraps the channel point reward when channel point usage is on.
//   - Joins Twitch chat and routes messages, cheers and redemptions into
//     the request engine.
//   - Exposes an HTTP server with /healthz, /config, /now-playing, the
//     OAuth flows, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/song-tender/auth"
	"github.com/onnwee/song-tender/chat"
	"github.com/onnwee/song-tender/config"
	"github.com/onnwee/song-tender/db"
	"github.com/onnwee/song-tender/engine"
	"github.com/onnwee/song-tender/server"
	"github.com/onnwee/song-tender/spotify"
	"github.com/onnwee/song-tender/telemetry"
	"github.com/onnwee/song-tender/twitchapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	var handler slog.Handler
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))

	// Config: env for secrets and endpoints, settings file for chat tunables.
	env, err := config.LoadEnv()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	settings, err := config.LoadSettings(env.SettingsFile)
	if err != nil {
		slog.Error("settings load failed", slog.Any("err", err))
		os.Exit(1)
	}
	cfgStore := config.NewStore(settings)

	// Metrics / telemetry init
	telemetry.Init()
	shutdown, err := telemetry.InitTracing("song-tender", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// DB
	database, err := db.Connect(env.DBDsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()
	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.Migrate(migrateCtx, database); err != nil {
		cancelMigrate()
		slog.Error("failed to migrate db", slog.Any("err", err))
		os.Exit(1)
	}
	cancelMigrate()

	// Dashboard edits persisted in kv override the on-disk settings file.
	if doc, err := db.GetKV(context.Background(), database, "settings_yaml"); err != nil {
		slog.Warn("persisted settings load failed", slog.Any("err", err))
	} else if doc != "" {
		if s, err := config.ParseSettings([]byte(doc)); err != nil {
			slog.Warn("persisted settings invalid, keeping file settings", slog.Any("err", err))
		} else {
			cfgStore.Swap(s)
			slog.Info("persisted settings applied")
		}
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Token managers: one per provider, both backed by the oauth_tokens table.
	tokenStore := &db.TokenStoreAdapter{DB: database}
	spotifyApp := &spotify.Accounts{ClientID: env.SpotifyClientID, ClientSecret: env.SpotifyClientSecret}
	twitchApp := &twitchapi.OAuth{ClientID: env.TwitchClientID, ClientSecret: env.TwitchClientSecret}

	spotifyMgr := auth.NewManager("spotify", tokenStore, func(rctx context.Context, refreshToken string) (string, string, time.Time, error) {
		res, err := spotifyApp.RefreshToken(rctx, refreshToken)
		if err != nil {
			telemetry.TokenRefreshes.WithLabelValues("spotify", "error").Inc()
			return "", "", time.Time{}, err
		}
		telemetry.TokenRefreshes.WithLabelValues("spotify", "ok").Inc()
		return res.AccessToken, res.RefreshToken, spotify.ComputeExpiry(res.ExpiresIn), nil
	}, spotify.IsAuthError)
	twitchMgr := auth.NewManager("twitch", tokenStore, func(rctx context.Context, refreshToken string) (string, string, time.Time, error) {
		res, err := twitchApp.RefreshToken(rctx, refreshToken)
		if err != nil {
			telemetry.TokenRefreshes.WithLabelValues("twitch", "error").Inc()
			return "", "", time.Time{}, err
		}
		telemetry.TokenRefreshes.WithLabelValues("twitch", "ok").Inc()
		return res.AccessToken, res.RefreshToken, twitchapi.ComputeExpiry(res.ExpiresIn), nil
	}, nil)
	for provider, mgr := range map[string]*auth.Manager{"spotify": spotifyMgr, "twitch": twitchMgr} {
		if err := mgr.Load(ctx); err != nil {
			slog.Warn("token load failed, authorize via /auth/"+provider+"/start", slog.Any("err", err))
		}
	}

	helix := &twitchapi.HelixClient{ClientID: env.TwitchClientID, TokenSource: twitchMgr}

	// Broadcaster id and reward bootstrap are best-effort; without a Twitch
	// token they succeed on a later restart once /auth/twitch/start is done.
	broadcasterID := ""
	if env.TwitchChannel != "" {
		bctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if id, err := helix.GetBroadcasterID(bctx, env.TwitchChannel); err != nil {
			slog.Warn("broadcaster id lookup failed, redemption settlement disabled", slog.Any("err", err))
		} else {
			broadcasterID = id
		}
		cancel()
	}
	if s := cfgStore.Snapshot(); broadcasterID != "" && s.UsageEnabled(config.UsageChannelPoints) && s.CustomRewardID == "" {
		bctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if id, err := helix.EnsureReward(bctx, broadcasterID, s.CustomRewardName, s.CustomRewardCost); err != nil {
			slog.Warn("reward bootstrap failed", slog.Any("err", err))
		} else {
			updated := *s
			updated.CustomRewardID = id
			cfgStore.Swap(&updated)
			if doc, err := updated.Marshal(); err == nil {
				if err := db.SetKV(bctx, database, "settings_yaml", string(doc)); err != nil {
					slog.Warn("reward id persist failed", slog.Any("err", err))
				}
			}
			slog.Info("channel point reward ready", slog.String("reward_id", id))
		}
		cancel()
	}

	// Hourly Twitch token validation gates the refund capability.
	guard := &auth.RefundGuard{}
	auth.StartValidator(ctx, twitchMgr, twitchApp, guard, time.Hour)

	settler := engine.NewSettler(helix, guard, broadcasterID)
	bot := chat.NewBot(env)
	eng := engine.New(cfgStore, &spotify.Client{}, spotifyMgr, settler, engine.NewTimerScheduler(), bot)

	// HTTP server (health/config/now-playing/oauth/metrics)
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	handlers := server.NewHandlers(env, cfgStore, database, spotifyApp, twitchApp, spotifyMgr, twitchMgr, eng)
	go func() {
		if err := server.Start(ctx, handlers, addr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Chat loop
	if err := env.ValidateChatReady(); err != nil {
		slog.Warn("chat disabled", slog.Any("err", err))
		<-ctx.Done()
	} else if err := bot.Run(ctx, eng); err != nil {
		slog.Error("twitch chat connect error", slog.Any("err", err))
		os.Exit(1)
	}
	slog.Info("shutting down")
}
