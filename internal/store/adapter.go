// adapter.go - Persistence adapter between the wallet state and storage.
//
// Ledger writes are keyed by the snapshot's revision: a save racing behind a
// newer one is skipped, so last-writer-wins is decided by revision number,
// never by wall clock.

package store

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"shieldwallet/internal/ledger"
	"shieldwallet/internal/pipeline"
	"shieldwallet/internal/privacy"
)

const (
	keyLedger   = "ledger"
	keySettings = "settings"
	keyHistory  = "history"
)

// Adapter loads and saves the wallet's durable state.
type Adapter struct {
	mu      sync.Mutex
	storage Storage
	lastRev uint64
	log     zerolog.Logger
}

// NewAdapter wraps a storage backend.
func NewAdapter(storage Storage, log zerolog.Logger) *Adapter {
	return &Adapter{
		storage: storage,
		log:     log.With().Str("component", "store").Logger(),
	}
}

type persistedSettings struct {
	Settings    privacy.Settings `json:"settings"`
	PrivateMode bool             `json:"private_mode"`
}

// LoadLedger returns the persisted snapshot, or nil if none exists yet.
func (a *Adapter) LoadLedger() (*ledger.Snapshot, error) {
	data, ok, err := a.storage.Get(keyLedger)
	if err != nil || !ok {
		return nil, err
	}
	snap, err := ledger.DecodeSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("store: decode ledger snapshot: %w", err)
	}
	a.mu.Lock()
	a.lastRev = snap.Revision
	a.mu.Unlock()
	return snap, nil
}

// SaveLedger persists the snapshot unless a newer revision was already
// written; stale writes are skipped, not errors, since the newer state is
// already safe.
func (a *Adapter) SaveLedger(snap *ledger.Snapshot) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if snap.Revision < a.lastRev {
		a.log.Debug().
			Uint64("revision", snap.Revision).
			Uint64("persisted", a.lastRev).
			Msg("skipping stale ledger write")
		return nil
	}
	data, err := snap.Encode()
	if err != nil {
		return fmt.Errorf("store: encode ledger snapshot: %w", err)
	}
	if err := a.storage.Put(keyLedger, data); err != nil {
		return err
	}
	a.lastRev = snap.Revision
	return nil
}

// LoadSettings returns the persisted settings and private-mode flag; found
// is false on first run.
func (a *Adapter) LoadSettings() (s privacy.Settings, privateMode bool, found bool, err error) {
	data, ok, err := a.storage.Get(keySettings)
	if err != nil || !ok {
		return privacy.Settings{}, false, false, err
	}
	var p persistedSettings
	if err := json.Unmarshal(data, &p); err != nil {
		return privacy.Settings{}, false, false, fmt.Errorf("store: decode settings: %w", err)
	}
	return p.Settings, p.PrivateMode, true, nil
}

// SaveSettings persists the settings and private-mode flag.
func (a *Adapter) SaveSettings(s privacy.Settings, privateMode bool) error {
	data, err := json.MarshalIndent(persistedSettings{Settings: s, PrivateMode: privateMode}, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode settings: %w", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.storage.Put(keySettings, data)
}

// LoadHistory returns all persisted transaction records.
func (a *Adapter) LoadHistory() ([]*pipeline.Record, error) {
	data, ok, err := a.storage.Get(keyHistory)
	if err != nil || !ok {
		return nil, err
	}
	var records []*pipeline.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("store: decode history: %w", err)
	}
	return records, nil
}

// SaveHistory persists the full record list. Records are never deleted, so
// the list only grows.
func (a *Adapter) SaveHistory(records []*pipeline.Record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode history: %w", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.storage.Put(keyHistory, data)
}
