// settings.go - Privacy settings and the public/private mode toggle.
//
// One process-wide configuration record, loaded at startup, mutated only by
// explicit user action and persisted on every successful change. No chain
// interaction.

package privacy

import (
	"errors"
	"fmt"
	"sync"

	"shieldwallet/internal/notes"
)

// ErrInvalidSettings rejects an update that violates the bounds.
var ErrInvalidSettings = errors.New("privacy: invalid settings")

// Settings is the wallet's privacy configuration.
type Settings struct {
	MinMixAmount     notes.Amount `json:"min_mix_amount"`
	MaxMixAmount     notes.Amount `json:"max_mix_amount"`
	AnonymitySetSize int          `json:"anonymity_set_size"`
	MixingRounds     int          `json:"mixing_rounds"`
	AutoShield       bool         `json:"auto_shield"`
	PrivateByDefault bool         `json:"private_by_default"`
}

// DefaultSettings returns the settings a fresh wallet starts with.
func DefaultSettings() Settings {
	return Settings{
		MinMixAmount:     1,
		MaxMixAmount:     1_000_000,
		AnonymitySetSize: 16,
		MixingRounds:     3,
		AutoShield:       false,
		PrivateByDefault: true,
	}
}

// Validate checks the bounds the rest of the wallet relies on.
func (s Settings) Validate() error {
	if s.MinMixAmount == 0 {
		return fmt.Errorf("%w: min_mix_amount must be positive", ErrInvalidSettings)
	}
	if s.MinMixAmount > s.MaxMixAmount {
		return fmt.Errorf("%w: min_mix_amount exceeds max_mix_amount", ErrInvalidSettings)
	}
	if s.AnonymitySetSize <= 0 {
		return fmt.Errorf("%w: anonymity_set_size must be positive", ErrInvalidSettings)
	}
	if s.MixingRounds <= 0 {
		return fmt.Errorf("%w: mixing_rounds must be positive", ErrInvalidSettings)
	}
	return nil
}

// Partial is a sparse settings update; nil fields keep their current value.
type Partial struct {
	MinMixAmount     *notes.Amount
	MaxMixAmount     *notes.Amount
	AnonymitySetSize *int
	MixingRounds     *int
	AutoShield       *bool
	PrivateByDefault *bool
}

// Controller holds the current settings and the private-mode toggle.
type Controller struct {
	mu          sync.Mutex
	settings    Settings
	privateMode bool
	persist     func(Settings, bool) error
}

// NewController starts from the given settings. persist is called with the
// new state after every successful change; a nil persist keeps the
// controller memory-only.
func NewController(s Settings, privateMode bool, persist func(Settings, bool) error) (*Controller, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if persist == nil {
		persist = func(Settings, bool) error { return nil }
	}
	return &Controller{settings: s, privateMode: privateMode, persist: persist}, nil
}

// Get returns the current settings.
func (c *Controller) Get() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// Update applies a partial update. The merged result is validated before
// anything changes, and persisted before the new value becomes visible.
func (c *Controller) Update(p Partial) (Settings, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.settings
	if p.MinMixAmount != nil {
		next.MinMixAmount = *p.MinMixAmount
	}
	if p.MaxMixAmount != nil {
		next.MaxMixAmount = *p.MaxMixAmount
	}
	if p.AnonymitySetSize != nil {
		next.AnonymitySetSize = *p.AnonymitySetSize
	}
	if p.MixingRounds != nil {
		next.MixingRounds = *p.MixingRounds
	}
	if p.AutoShield != nil {
		next.AutoShield = *p.AutoShield
	}
	if p.PrivateByDefault != nil {
		next.PrivateByDefault = *p.PrivateByDefault
	}
	if err := next.Validate(); err != nil {
		return c.settings, err
	}
	if err := c.persist(next, c.privateMode); err != nil {
		return c.settings, fmt.Errorf("privacy: persist settings: %w", err)
	}
	c.settings = next
	return next, nil
}

// PrivateMode reports whether the wallet is currently in private mode.
func (c *Controller) PrivateMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.privateMode
}

// SetPrivateMode toggles private mode and persists the change.
func (c *Controller) SetPrivateMode(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.privateMode == on {
		return nil
	}
	if err := c.persist(c.settings, on); err != nil {
		return fmt.Errorf("privacy: persist private mode: %w", err)
	}
	c.privateMode = on
	return nil
}
