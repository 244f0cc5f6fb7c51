package client

import "time"

// MixingConfig controls how many relays each outgoing message is spread
// over. Spreading writes over a random subset means no single relay sees
// the full posting history.
type MixingConfig struct {
	// Enabled turns random relay selection on. When off every write
	// relay receives every message.
	Enabled bool `json:"enabled"`
	// SelectCount is how many write relays to pick per message.
	SelectCount int `json:"select_count"`
	// MinRelaysCritical is the floor for messages flagged critical,
	// which need a guaranteed minimum fan-out for reliability.
	MinRelaysCritical int `json:"min_relays_critical"`
}

// TimingConfig controls the randomized delays that decorrelate message
// timing: queue dispatch delay, inter-relay jitter within one fan-out,
// and the gap between consecutive queued messages.
type TimingConfig struct {
	Enabled       bool          `json:"enabled"`
	MinQueueDelay time.Duration `json:"min_queue_delay"`
	MaxQueueDelay time.Duration `json:"max_queue_delay"`
	MinRelayDelay time.Duration `json:"min_relay_delay"`
	MaxRelayDelay time.Duration `json:"max_relay_delay"`
	MinMessageGap time.Duration `json:"min_message_gap"`
	MaxMessageGap time.Duration `json:"max_message_gap"`
}

// ObfuscationConfig controls subscription obfuscation: dummy identifier
// injection and the diffusion of the interest set across relays so that
// no single relay sees the complete set.
type ObfuscationConfig struct {
	Enabled             bool    `json:"enabled"`
	Diffusion           bool    `json:"diffusion"`
	DummyInjection      bool    `json:"dummy_injection"`
	DummyAuthors        int     `json:"dummy_authors"`
	DummyIDs            int     `json:"dummy_ids"`
	DiffusionRatio      float64 `json:"diffusion_ratio"`
	MinRelaysPerElement int     `json:"min_relays_per_element"`
}

// Config is the whole privacy configuration; the three sections toggle
// independently.
type Config struct {
	Mixing      MixingConfig      `json:"mixing"`
	Timing      TimingConfig      `json:"timing"`
	Obfuscation ObfuscationConfig `json:"obfuscation"`
}

func DefaultConfig() Config {
	return Config{
		Mixing: MixingConfig{
			Enabled:           true,
			SelectCount:       3,
			MinRelaysCritical: 2,
		},
		Timing: TimingConfig{
			Enabled:       true,
			MinQueueDelay: time.Second,
			MaxQueueDelay: 30 * time.Second,
			MinRelayDelay: 100 * time.Millisecond,
			MaxRelayDelay: 500 * time.Millisecond,
			MinMessageGap: 500 * time.Millisecond,
			MaxMessageGap: 2 * time.Second,
		},
		Obfuscation: ObfuscationConfig{
			Enabled:             true,
			Diffusion:           true,
			DummyInjection:      true,
			DummyAuthors:        5,
			DummyIDs:            3,
			DiffusionRatio:      0.6,
			MinRelaysPerElement: 2,
		},
	}
}

// Config returns a copy of the current configuration.
func (cl *T) Config() Config {
	cl.cfgMx.RLock()
	defer cl.cfgMx.RUnlock()
	return cl.cfg
}

// SetConfig replaces the whole configuration.
func (cl *T) SetConfig(cfg Config) {
	cl.cfgMx.Lock()
	defer cl.cfgMx.Unlock()
	cl.cfg = cfg
}

// SetMixing replaces the relay mixing section.
func (cl *T) SetMixing(m MixingConfig) {
	cl.cfgMx.Lock()
	defer cl.cfgMx.Unlock()
	cl.cfg.Mixing = m
}

// SetTiming replaces the timing obfuscation section.
func (cl *T) SetTiming(t TimingConfig) {
	cl.cfgMx.Lock()
	defer cl.cfgMx.Unlock()
	cl.cfg.Timing = t
}

// SetObfuscation replaces the subscription obfuscation section.
func (cl *T) SetObfuscation(o ObfuscationConfig) {
	cl.cfgMx.Lock()
	defer cl.cfgMx.Unlock()
	cl.cfg.Obfuscation = o
}
