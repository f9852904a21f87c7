package store

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"shieldwallet/internal/ledger"
	"shieldwallet/internal/notes"
	"shieldwallet/internal/pipeline"
	"shieldwallet/internal/privacy"
)

var testDomain = []byte("testpool-v1")

func TestFileStorageRoundTrip(t *testing.T) {
	s, err := NewFileStorage(t.TempDir())
	require.NoError(t, err)

	_, ok, err := s.Get("missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Put("k", []byte(`{"a":1}`)))
	got, ok, err := s.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte(`{"a":1}`), got)

	// Overwrite replaces the value.
	require.NoError(t, s.Put("k", []byte(`{"a":2}`)))
	got, _, _ = s.Get("k")
	require.Equal(t, []byte(`{"a":2}`), got)

	require.NoError(t, s.Delete("k"))
	_, ok, err = s.Get("k")
	require.NoError(t, err)
	require.False(t, ok)

	// Deleting again is not an error.
	require.NoError(t, s.Delete("k"))
}

func TestAdapterLedgerRoundTrip(t *testing.T) {
	a := NewAdapter(NewMemStorage(), zerolog.Nop())

	snap, err := a.LoadLedger()
	require.NoError(t, err)
	require.Nil(t, snap, "fresh storage has no snapshot")

	l := ledger.New(zerolog.Nop())
	require.NoError(t, l.AddNote(notes.NewNote(100, testDomain)))
	require.NoError(t, l.AddNote(notes.NewNote(50, testDomain)))
	require.NoError(t, a.SaveLedger(l.Snapshot()))

	loaded, err := a.LoadLedger()
	require.NoError(t, err)
	require.NotNil(t, loaded)

	restored := ledger.New(zerolog.Nop())
	require.NoError(t, restored.Restore(loaded))
	require.Equal(t, l.Revision(), restored.Revision())
	require.Equal(t, notes.Amount(150), restored.Balance())
}

func TestAdapterSkipsStaleLedgerWrite(t *testing.T) {
	a := NewAdapter(NewMemStorage(), zerolog.Nop())

	l := ledger.New(zerolog.Nop())
	require.NoError(t, l.AddNote(notes.NewNote(10, testDomain)))
	older := l.Snapshot()

	require.NoError(t, l.AddNote(notes.NewNote(20, testDomain)))
	newer := l.Snapshot()

	require.NoError(t, a.SaveLedger(newer))
	require.NoError(t, a.SaveLedger(older), "stale write is skipped, not an error")

	loaded, err := a.LoadLedger()
	require.NoError(t, err)
	require.Equal(t, newer.Revision, loaded.Revision, "newer snapshot survives the racing stale write")
}

func TestAdapterSettingsRoundTrip(t *testing.T) {
	a := NewAdapter(NewMemStorage(), zerolog.Nop())

	_, _, found, err := a.LoadSettings()
	require.NoError(t, err)
	require.False(t, found, "first run has no settings")

	s := privacy.DefaultSettings()
	s.AutoShield = true
	s.MinMixAmount = 5
	require.NoError(t, a.SaveSettings(s, false))

	got, privateMode, found, err := a.LoadSettings()
	require.NoError(t, err)
	require.True(t, found)
	require.False(t, privateMode)
	require.Equal(t, s, got)
}

func TestAdapterHistoryRoundTrip(t *testing.T) {
	a := NewAdapter(NewMemStorage(), zerolog.Nop())

	recs, err := a.LoadHistory()
	require.NoError(t, err)
	require.Empty(t, recs)

	change := notes.NewNote(60, testDomain)
	resolved := time.Now().UTC()
	in := []*pipeline.Record{
		{
			ID:         "rec-1",
			Kind:       pipeline.KindDeposit,
			Amount:     100,
			NoteIDs:    []string{"note-1"},
			Status:     pipeline.StatusConfirmed,
			ChainRef:   "tx-1",
			CreatedAt:  time.Now().UTC().Add(-time.Minute),
			ResolvedAt: &resolved,
		},
		{
			ID:             "rec-2",
			Kind:           pipeline.KindWithdraw,
			Amount:         40,
			NoteIDs:        []string{"note-1"},
			Status:         pipeline.StatusPending,
			ChainRef:       "tx-2",
			Recipient:      "pub-addr",
			CreatedAt:      time.Now().UTC(),
			PendingOutputs: []*notes.Note{change},
		},
	}
	require.NoError(t, a.SaveHistory(in))

	got, err := a.LoadHistory()
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, in[0].ID, got[0].ID)
	require.Equal(t, pipeline.StatusPending, got[1].Status)
	require.Len(t, got[1].PendingOutputs, 1)
	require.Equal(t, change.Secret, got[1].PendingOutputs[0].Secret,
		"change note material survives the round trip")
	require.Equal(t, change.Commitment, got[1].PendingOutputs[0].Commitment)
}
