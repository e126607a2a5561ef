// Package config defines the Configuration struct enumerated in §6 and a
// defaults loader built on spf13/viper, mirroring the teacher's
// integration-api/config/config.go setDefault/mapstructure pattern. Unlike
// the teacher, this package never reads env files or flags itself — process
// bootstrap is an external collaborator per spec.md §1; a caller (cmd/bridge,
// or a test) supplies the *viper.Viper instance.
package config

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// ForwardingMode selects InputFlow's ingress batching policy (§4.4).
type ForwardingMode string

const (
	ForwardingImmediate ForwardingMode = "immediate"
	ForwardingCoalesced ForwardingMode = "coalesced"
)

// Model holds the cloud speech model's addressing configuration. ModelID is
// intentionally not validate:"required" — an empty model id is a §7
// External-config-invalid condition the session degrades around rather
// than a config-load failure.
type Model struct {
	Region  string `mapstructure:"region" validate:"required"`
	ModelID string `mapstructure:"model_id"`
}

// Valid reports whether the model is addressable at all.
func (m Model) Valid() bool { return m.ModelID != "" }

// Pacer holds the §4.2/§6 pacer.* configuration.
type Pacer struct {
	QuantumMs  int `mapstructure:"quantum_ms" validate:"required"`
	TickMs     int `mapstructure:"tick_ms" validate:"required"`
	MaxBufferMs int `mapstructure:"max_buffer_ms" validate:"required"`
}

// Input holds the §4.4/§6 input.* configuration.
type Input struct {
	ForwardingMode     ForwardingMode `mapstructure:"forwarding_mode" validate:"required,oneof=immediate coalesced"`
	CoalesceMaxChunks  int            `mapstructure:"coalesce_max_chunks" validate:"required"`
	CoalesceMaxWaitMs  int            `mapstructure:"coalesce_max_wait_ms" validate:"required"`
}

// Turn holds the §4.4/§6 turn.* configuration.
type Turn struct {
	SilenceTimeoutMs int `mapstructure:"silence_timeout_ms" validate:"required"`
	EndGapMs         int `mapstructure:"end_gap_ms" validate:"required"`
}

// Tool holds the §4.5/§6 tool.* configuration.
type Tool struct {
	TimeoutMs        int     `mapstructure:"timeout_ms" validate:"required"`
	MaxResults       int     `mapstructure:"max_results" validate:"required"`
	MinRelevanceScore float64 `mapstructure:"min_relevance_score"`
}

// SessionTimeouts holds the §5/§6 session.* configuration.
type SessionTimeouts struct {
	AckTimeoutMs    int `mapstructure:"ack_timeout_ms" validate:"required"`
	CloseDeadlineMs int `mapstructure:"close_deadline_ms" validate:"required"`
}

// Config is the full §6 "Configuration (structured values; enumerated)"
// struct. It is the only configuration surface the core reads; it never
// loads itself from disk or environment beyond what LoadDefaults populates.
type Config struct {
	Model   Model           `mapstructure:"model" validate:"required"`
	Pacer   Pacer           `mapstructure:"pacer" validate:"required"`
	Input   Input           `mapstructure:"input" validate:"required"`
	Turn    Turn            `mapstructure:"turn" validate:"required"`
	Tool    Tool            `mapstructure:"tool" validate:"required"`
	Session SessionTimeouts `mapstructure:"session" validate:"required"`
}

func (c Config) QuantumDuration() time.Duration  { return time.Duration(c.Pacer.QuantumMs) * time.Millisecond }
func (c Config) TickDuration() time.Duration     { return time.Duration(c.Pacer.TickMs) * time.Millisecond }
func (c Config) MaxBufferDuration() time.Duration {
	return time.Duration(c.Pacer.MaxBufferMs) * time.Millisecond
}
func (c Config) SilenceTimeout() time.Duration {
	return time.Duration(c.Turn.SilenceTimeoutMs) * time.Millisecond
}
func (c Config) EndGap() time.Duration { return time.Duration(c.Turn.EndGapMs) * time.Millisecond }
func (c Config) ToolTimeout() time.Duration {
	return time.Duration(c.Tool.TimeoutMs) * time.Millisecond
}
func (c Config) AckTimeout() time.Duration {
	return time.Duration(c.Session.AckTimeoutMs) * time.Millisecond
}
func (c Config) CloseDeadline() time.Duration {
	return time.Duration(c.Session.CloseDeadlineMs) * time.Millisecond
}
func (c Config) CoalesceMaxWait() time.Duration {
	return time.Duration(c.Input.CoalesceMaxWaitMs) * time.Millisecond
}

// setDefaults mirrors the teacher's setDefault(v *viper.Viper) — every
// §6 default value lives here, once.
func setDefaults(v *viper.Viper) {
	v.SetDefault("model.region", "us-east-1")
	v.SetDefault("model.model_id", "")

	v.SetDefault("pacer.quantum_ms", 20)
	v.SetDefault("pacer.tick_ms", 5)
	v.SetDefault("pacer.max_buffer_ms", 3000)

	v.SetDefault("input.forwarding_mode", string(ForwardingImmediate))
	v.SetDefault("input.coalesce_max_chunks", 5)
	v.SetDefault("input.coalesce_max_wait_ms", 100)

	v.SetDefault("turn.silence_timeout_ms", 3000)
	v.SetDefault("turn.end_gap_ms", 100)

	v.SetDefault("tool.timeout_ms", 5000)
	v.SetDefault("tool.max_results", 3)
	v.SetDefault("tool.min_relevance_score", 0.5)

	v.SetDefault("session.ack_timeout_ms", 2000)
	v.SetDefault("session.close_deadline_ms", 10000)
}

// LoadDefaults populates v (creating one with viper.New() if nil) with the
// §6 defaults, unmarshals into a Config, and validates required fields.
// Callers that already read env/flags into v do so before calling this —
// viper's SetDefault values never override values already set.
func LoadDefaults(v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
