package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultSettingsValid(t *testing.T) {
	s := DefaultSettings()
	if err := s.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	if !s.UsageEnabled(UsageCommand) {
		t.Fatal("command usage should be on by default")
	}
	if s.UsageEnabled(UsageBits) || s.UsageEnabled(UsageChannelPoints) {
		t.Fatal("bits and channel point usage should be off by default")
	}
}

func TestLoadSettingsMissingFileUsesDefaults(t *testing.T) {
	s, err := LoadSettings(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if s.SkipAlias != "!skip" {
		t.Fatalf("skip alias = %q", s.SkipAlias)
	}
}

func TestLoadSettingsMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	doc := []byte("command_aliases: [\"!REQUEST\"]\nmax_duration_seconds: 300\nallow_vote_skip: true\n")
	if err := os.WriteFile(path, doc, 0o600); err != nil {
		t.Fatal(err)
	}

	s, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if len(s.CommandAliases) != 1 || s.CommandAliases[0] != "!request" {
		t.Fatalf("aliases = %v, want lowercased override", s.CommandAliases)
	}
	if s.MaxDuration != 300 {
		t.Fatalf("max duration = %d", s.MaxDuration)
	}
	if !s.AllowVoteSkip {
		t.Fatal("vote skip override not applied")
	}
	// Untouched fields keep defaults.
	if s.CooldownSecs != 60 {
		t.Fatalf("cooldown = %d, default lost in merge", s.CooldownSecs)
	}
}

func TestValidateRejectsUnknownUsage(t *testing.T) {
	s := DefaultSettings()
	s.UsageTypes = []string{"donations"}
	if err := s.Validate(); err == nil {
		t.Fatal("unknown usage type should be rejected")
	}
}

func TestValidateRejectsCommandWithoutAliases(t *testing.T) {
	s := DefaultSettings()
	s.CommandAliases = nil
	if err := s.Validate(); err == nil {
		t.Fatal("command usage without aliases should be rejected")
	}
}

func TestValidateRejectsChannelPointsWithoutReward(t *testing.T) {
	s := DefaultSettings()
	s.UsageTypes = []string{UsageChannelPoints}
	s.CustomRewardID = ""
	s.CustomRewardName = ""
	if err := s.Validate(); err == nil {
		t.Fatal("channel point usage without a reward should be rejected")
	}
}

func TestValidateClampsQuorum(t *testing.T) {
	s := DefaultSettings()
	s.RequiredVoteSkip = 0
	if err := s.Validate(); err != nil {
		t.Fatal(err)
	}
	if s.RequiredVoteSkip != 1 {
		t.Fatalf("quorum = %d, want clamp to 1", s.RequiredVoteSkip)
	}
}

func TestParseSettingsRejectsBadYAML(t *testing.T) {
	if _, err := ParseSettings([]byte("usage_types: [unclosed")); err == nil {
		t.Fatal("malformed yaml should be rejected")
	}
}

func TestMarshalRoundtrip(t *testing.T) {
	s := DefaultSettings()
	s.BlockedTracks = []string{"abc"}
	b, err := s.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	got, err := ParseSettings(b)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.BlockedTracks) != 1 || got.BlockedTracks[0] != "abc" {
		t.Fatalf("roundtrip lost blocked tracks: %v", got.BlockedTracks)
	}
}

func TestStoreSwapAndSnapshot(t *testing.T) {
	store := NewStore(DefaultSettings())
	first := store.Snapshot()

	next := DefaultSettings()
	next.MaxDuration = 42
	store.Swap(next)

	if store.Snapshot().MaxDuration != 42 {
		t.Fatal("swap not visible in snapshot")
	}
	if first.MaxDuration == 42 {
		t.Fatal("earlier snapshot must be unaffected")
	}
}
