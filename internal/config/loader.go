package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"openai", "whisper"},
	"vad": {"energy"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is set"))
		}
		if cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is set"))
		}
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("stt", cfg.Providers.STTFallback.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)

	// VAD hysteresis thresholds
	if cfg.VAD.StartThreshold != 0 && (cfg.VAD.StartThreshold <= 0 || cfg.VAD.StartThreshold > 1) {
		errs = append(errs, fmt.Errorf("vad.start_threshold %.2f is out of range (0, 1]", cfg.VAD.StartThreshold))
	}
	if cfg.VAD.EndThreshold != 0 && (cfg.VAD.EndThreshold <= 0 || cfg.VAD.EndThreshold >= 1) {
		errs = append(errs, fmt.Errorf("vad.end_threshold %.2f is out of range (0, 1)", cfg.VAD.EndThreshold))
	}
	if cfg.VAD.StartThreshold != 0 && cfg.VAD.EndThreshold != 0 && cfg.VAD.EndThreshold >= cfg.VAD.StartThreshold {
		errs = append(errs, fmt.Errorf("vad.end_threshold %.2f must be below vad.start_threshold %.2f", cfg.VAD.EndThreshold, cfg.VAD.StartThreshold))
	}
	for _, f := range []struct {
		name string
		ms   int
	}{
		{"vad.min_speech_ms", cfg.VAD.MinSpeechMS},
		{"vad.min_silence_ms", cfg.VAD.MinSilenceMS},
		{"vad.silence_gate_ms", cfg.VAD.SilenceGateMS},
		{"vad.max_speech_ms", cfg.VAD.MaxSpeechMS},
		{"vad.stuck_state_timeout_ms", cfg.VAD.StuckStateTimeoutMS},
		{"session.cooldown_ms", cfg.Session.CooldownMS},
		{"session.first_speech_timeout_ms", cfg.Session.FirstSpeechTimeoutMS},
		{"session.heartbeat_timeout_ms", cfg.Session.HeartbeatTimeoutMS},
		{"session.reconnect_backoff_ms", cfg.Session.ReconnectBackoffMS},
		{"session.max_reconnect_backoff_ms", cfg.Session.MaxReconnectBackoffMS},
		{"session.pre_roll_ms", cfg.Session.PreRollMS},
		{"session.post_pad_ms", cfg.Session.PostPadMS},
	} {
		if f.ms < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %d", f.name, f.ms))
		}
	}

	if t := cfg.VAD.MiddleZoneRevertThreshold; t != 0 && (t < 0 || t >= 1) {
		errs = append(errs, fmt.Errorf("vad.middle_zone_revert_threshold %.2f is out of range [0, 1)", t))
	}
	if m := cfg.VAD.ExtendedSilenceMultiplier; m != 0 && m < 1 {
		errs = append(errs, fmt.Errorf("vad.extended_silence_multiplier %.2f must be at least 1", m))
	}

	// Session
	if cfg.Session.MaxReconnectAttempts < 0 {
		errs = append(errs, fmt.Errorf("session.max_reconnect_attempts must not be negative, got %d", cfg.Session.MaxReconnectAttempts))
	}
	if cfg.Session.ReplayLimit < 0 {
		errs = append(errs, fmt.Errorf("session.replay_limit must not be negative, got %d", cfg.Session.ReplayLimit))
	}

	// Transcript
	if cfg.Transcript.DuplicateSimilarity != 0 && (cfg.Transcript.DuplicateSimilarity <= 0 || cfg.Transcript.DuplicateSimilarity > 1) {
		errs = append(errs, fmt.Errorf("transcript.duplicate_similarity %.2f is out of range (0, 1]", cfg.Transcript.DuplicateSimilarity))
	}

	// Notes availability
	if cfg.Notes.PostgresDSN == "" {
		slog.Warn("notes.postgres_dsn is empty; notes will be kept in memory and lost on restart")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
