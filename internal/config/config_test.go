package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/loqalabs/loqa-padel/internal/score"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	rules, err := cfg.Match.Rules()
	if err != nil {
		t.Fatalf("rules: %v", err)
	}
	if rules != score.DefaultMatchConfig() {
		t.Fatalf("expected default rules, got %+v", rules)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "padel.yaml")
	data := []byte(`runtime_name: court-2
match:
  rule66: pro_set_8
  deuce_mode: adv_x2_then_killer
  sets_to_win: 2
narration:
  locale: it-IT
voice:
  phrases:
    point_us: ["punto noi"]
    point_them: ["punto loro"]
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RuntimeName != "court-2" || cfg.Narration.Locale != "it-IT" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	rules, err := cfg.Match.Rules()
	if err != nil {
		t.Fatalf("rules: %v", err)
	}
	want := score.MatchConfig{Rule66: score.RuleProSet8, DeuceMode: score.DeuceAdvTwiceThenKill, SetsToWin: 2}
	if rules != want {
		t.Fatalf("expected %+v, got %+v", want, rules)
	}
	if cfg.Voice.Phrases.PointUs[0] != "punto noi" {
		t.Fatalf("expected phrase override, got %v", cfg.Voice.Phrases.PointUs)
	}
	if len(cfg.Voice.Phrases.Undo) == 0 {
		t.Fatal("expected default undo phrases kept")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PADEL_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("PADEL_BUS_USERNAME", "alice")
	t.Setenv("PADEL_BUS_PASSWORD", "secret")
	t.Setenv("PADEL_BUS_TLS_INSECURE", "true")
	t.Setenv("PADEL_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("PADEL_EVENT_STORE_PATH", "./tmp.db")
	t.Setenv("PADEL_EVENT_STORE_RETENTION_MODE", "persistent")
	t.Setenv("PADEL_EVENT_STORE_RETENTION_DAYS", "7")
	t.Setenv("PADEL_EVENT_STORE_MAX_MATCHES", "123")
	t.Setenv("PADEL_EVENT_STORE_VACUUM_ON_START", "true")
	t.Setenv("PADEL_MATCH_DEUCE_MODE", "ADV_X2_THEN_KILLER")
	t.Setenv("PADEL_MATCH_PRO_SET_FIRST_TO_EIGHT", "true")
	t.Setenv("PADEL_NARRATION_TEAM_US", "Home")
	t.Setenv("PADEL_VOICE_PHRASES_UNDO", "scratch that, undo")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.EventStore.Path != "./tmp.db" {
		t.Fatalf("expected event store path override")
	}
	if cfg.EventStore.RetentionMode != "persistent" {
		t.Fatalf("expected event store retention mode override")
	}
	if cfg.EventStore.RetentionDays != 7 {
		t.Fatalf("expected event store retention days override")
	}
	if cfg.EventStore.MaxMatches != 123 {
		t.Fatalf("expected event store max matches override")
	}
	if !cfg.EventStore.VacuumOnStart {
		t.Fatalf("expected event store vacuum flag override")
	}
	if cfg.Match.DeuceMode != "ADV_X2_THEN_KILLER" || !cfg.Match.ProSetFirstToEight {
		t.Fatalf("expected match overrides, got %+v", cfg.Match)
	}
	if cfg.Narration.TeamUs != "Home" {
		t.Fatalf("expected team label override")
	}
	if len(cfg.Voice.Phrases.Undo) != 2 || cfg.Voice.Phrases.Undo[0] != "scratch that" {
		t.Fatalf("expected undo phrases override, got %v", cfg.Voice.Phrases.Undo)
	}
}

func TestValidateRejectsBadRules(t *testing.T) {
	t.Setenv("PADEL_MATCH_RULE66", "SUDDEN_DEATH")
	if _, err := Load(""); err == nil {
		t.Fatal("expected invalid rule66 error")
	}
}

func TestValidateVoiceNeedsBus(t *testing.T) {
	t.Setenv("PADEL_BUS_ENABLED", "false")
	if _, err := Load(""); err == nil {
		t.Fatal("expected voice without bus to fail validation")
	}
	t.Setenv("PADEL_VOICE_ENABLED", "false")
	if _, err := Load(""); err == nil {
		t.Fatal("expected announcer without bus to fail validation")
	}
	t.Setenv("PADEL_ANNOUNCER_ENABLED", "false")
	if _, err := Load(""); err != nil {
		t.Fatalf("expected valid config once every bus consumer is off: %v", err)
	}
}

func TestAnnouncerOverrides(t *testing.T) {
	t.Setenv("PADEL_ANNOUNCER_COMMAND", `espeak-ng -v "it"`)
	t.Setenv("PADEL_ANNOUNCER_TIMEOUT_MS", "0")
	if _, err := Load(""); err == nil {
		t.Fatal("expected zero announcer timeout to fail")
	}
	t.Setenv("PADEL_ANNOUNCER_TIMEOUT_MS", "2500")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Announcer.Command != `espeak-ng -v "it"` || cfg.Announcer.TimeoutMS != 2500 {
		t.Fatalf("expected announcer overrides, got %+v", cfg.Announcer)
	}
}

func TestAllowedOriginsOverride(t *testing.T) {
	t.Setenv("PADEL_HTTP_ALLOWED_ORIGINS", "https://club.example, http://court-tv.local:8080")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []string{"https://club.example", "http://court-tv.local:8080"}
	if len(cfg.HTTP.AllowedOrigins) != len(want) {
		t.Fatalf("expected %v, got %v", want, cfg.HTTP.AllowedOrigins)
	}
	for i := range want {
		if cfg.HTTP.AllowedOrigins[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, cfg.HTTP.AllowedOrigins)
		}
	}
}
