package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"shieldwallet/internal/chain"
	"shieldwallet/internal/ledger"
	"shieldwallet/internal/notes"
)

var testDomain = []byte("testpool-v1")

const selfAddr = "shield-self"

type stubEngine struct {
	err error
}

func (s *stubEngine) ProveSpend(n *notes.Note) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []byte("proof:" + n.Nullifier.String()), nil
}

type fixture struct {
	pipe   *Pipeline
	ledger *ledger.Ledger
	sim    *chain.SimClient
	engine *stubEngine
}

func newFixture(t *testing.T, confirmTimeout time.Duration) *fixture {
	t.Helper()
	l := ledger.New(zerolog.Nop())
	sim := chain.NewSimClient(5*time.Millisecond, zerolog.Nop())
	engine := &stubEngine{}
	p := New(Config{
		Ledger:         l,
		Chain:          sim,
		Engine:         engine,
		Domain:         testDomain,
		SelfAddress:    selfAddr,
		ConfirmTimeout: confirmTimeout,
		Logger:         zerolog.Nop(),
	})
	return &fixture{pipe: p, ledger: l, sim: sim, engine: engine}
}

func (f *fixture) depositConfirmed(t *testing.T, amount notes.Amount) *Record {
	t.Helper()
	rec, err := f.pipe.Deposit(context.Background(), amount)
	require.NoError(t, err)
	f.pipe.Wait()
	got, ok := f.pipe.Record(rec.ID)
	require.True(t, ok)
	require.Equal(t, StatusConfirmed, got.Status)
	return got
}

func TestDepositOptimisticThenConfirmed(t *testing.T) {
	f := newFixture(t, time.Second)

	rec, err := f.pipe.Deposit(context.Background(), 100)
	require.NoError(t, err)
	require.Equal(t, StatusPending, rec.Status)
	require.NotEmpty(t, rec.ChainRef)
	require.Equal(t, notes.Amount(100), f.ledger.Balance(),
		"funds usable as soon as the node accepts the call")

	f.pipe.Wait()
	got, ok := f.pipe.Record(rec.ID)
	require.True(t, ok)
	require.Equal(t, StatusConfirmed, got.Status)
	require.Equal(t, notes.Amount(100), f.ledger.Balance())
	require.Equal(t, notes.Amount(100), f.ledger.SpendableBalance())
}

func TestDepositSubmitFailure(t *testing.T) {
	f := newFixture(t, time.Second)
	f.sim.FailNextSubmit(errors.New("node unreachable"))

	rec, err := f.pipe.Deposit(context.Background(), 100)
	require.ErrorIs(t, err, ErrChainSubmissionFailed)
	require.Equal(t, StatusFailed, rec.Status)
	require.NotEmpty(t, rec.FailureReason)
	require.Equal(t, notes.Amount(0), f.ledger.Balance(), "no optimistic note on submit failure")
}

func TestDepositRejectedAtConfirmationRemovesNote(t *testing.T) {
	f := newFixture(t, time.Second)
	f.sim.RejectNextConfirmation()

	rec, err := f.pipe.Deposit(context.Background(), 100)
	require.NoError(t, err)
	require.Equal(t, notes.Amount(100), f.ledger.Balance())

	f.pipe.Wait()
	got, _ := f.pipe.Record(rec.ID)
	require.Equal(t, StatusFailed, got.Status)
	require.Equal(t, notes.Amount(0), f.ledger.Balance(), "optimistic note rolled back")
	require.Empty(t, f.ledger.Notes())
}

func TestDepositZeroAmount(t *testing.T) {
	f := newFixture(t, time.Second)
	_, err := f.pipe.Deposit(context.Background(), 0)
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestWithdrawExactNote(t *testing.T) {
	f := newFixture(t, time.Second)
	f.depositConfirmed(t, 50)

	rec, err := f.pipe.Withdraw(context.Background(), 50, "pub-addr")
	require.NoError(t, err)
	require.Equal(t, notes.Amount(50), f.ledger.Balance(), "pending value still counted")
	require.Equal(t, notes.Amount(0), f.ledger.SpendableBalance())

	f.pipe.Wait()
	got, _ := f.pipe.Record(rec.ID)
	require.Equal(t, StatusConfirmed, got.Status)
	require.Equal(t, notes.Amount(0), f.ledger.Balance())

	// The nullifier is now chain fact.
	n, err := f.ledger.Note(rec.NoteIDs[0])
	require.NoError(t, err)
	require.Equal(t, notes.StateSpent, n.State)
	used, err := f.sim.IsNullifierUsed(context.Background(), n.Nullifier)
	require.NoError(t, err)
	require.True(t, used)
}

func TestWithdrawMintsChangeNote(t *testing.T) {
	f := newFixture(t, time.Second)
	f.depositConfirmed(t, 100)

	rec, err := f.pipe.Withdraw(context.Background(), 40, "pub-addr")
	require.NoError(t, err)
	require.Len(t, rec.PendingOutputs, 1, "change note material persisted with the record")
	require.Equal(t, notes.Amount(60), rec.PendingOutputs[0].Amount)

	f.pipe.Wait()
	require.Equal(t, notes.Amount(60), f.ledger.Balance(), "balance conserved through change")
	require.Equal(t, notes.Amount(60), f.ledger.SpendableBalance())

	// Change commitment was published on-chain with the withdraw.
	onChain, err := f.sim.HasCommitment(context.Background(), rec.PendingOutputs[0].Commitment)
	require.NoError(t, err)
	require.True(t, onChain)
}

func TestWithdrawInsufficientFunds(t *testing.T) {
	f := newFixture(t, time.Second)
	f.depositConfirmed(t, 30)

	_, err := f.pipe.Withdraw(context.Background(), 31, "pub-addr")
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	require.Empty(t, f.pipe.PendingRecords(), "insufficient funds fails before any record exists")
	require.Equal(t, notes.Amount(30), f.ledger.SpendableBalance())
}

func TestWithdrawChainFailureReverts(t *testing.T) {
	f := newFixture(t, time.Second)
	f.depositConfirmed(t, 50)
	f.sim.RejectNextConfirmation()

	rec, err := f.pipe.Withdraw(context.Background(), 50, "pub-addr")
	require.NoError(t, err)

	f.pipe.Wait()
	got, _ := f.pipe.Record(rec.ID)
	require.Equal(t, StatusFailed, got.Status)
	require.Equal(t, notes.Amount(50), f.ledger.SpendableBalance(), "funds spendable again after failure")

	n, err := f.ledger.Note(rec.NoteIDs[0])
	require.NoError(t, err)
	require.Equal(t, notes.StateUnspent, n.State)
}

func TestWithdrawSubmitFailureReverts(t *testing.T) {
	f := newFixture(t, time.Second)
	f.depositConfirmed(t, 50)
	f.sim.FailNextSubmit(errors.New("gas too low"))

	rec, err := f.pipe.Withdraw(context.Background(), 50, "pub-addr")
	require.ErrorIs(t, err, ErrChainSubmissionFailed)
	require.Equal(t, StatusFailed, rec.Status)
	require.Equal(t, notes.Amount(50), f.ledger.SpendableBalance())
}

func TestProofFailureIsFailedTransaction(t *testing.T) {
	f := newFixture(t, time.Second)
	f.depositConfirmed(t, 50)
	f.engine.err = errors.New("witness does not satisfy circuit")

	rec, err := f.pipe.Withdraw(context.Background(), 50, "pub-addr")
	require.ErrorIs(t, err, ErrProofGenerationFailed)
	require.Equal(t, StatusFailed, rec.Status)
	require.Equal(t, notes.Amount(50), f.ledger.SpendableBalance(), "notes reverted after proof failure")
}

func TestConfirmationTimeoutFailsAndReverts(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond)
	f.depositConfirmed(t, 50)
	f.sim.StallNextConfirmation()

	rec, err := f.pipe.Withdraw(context.Background(), 50, "pub-addr")
	require.NoError(t, err)

	f.pipe.Wait()
	got, _ := f.pipe.Record(rec.ID)
	require.Equal(t, StatusFailed, got.Status)
	require.Equal(t, "confirmation timeout", got.FailureReason)
	require.Equal(t, notes.Amount(50), f.ledger.SpendableBalance())
}

func TestDepositTimeoutKeepsNote(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond)
	f.sim.StallNextConfirmation()

	rec, err := f.pipe.Deposit(context.Background(), 100)
	require.NoError(t, err)
	f.pipe.Wait()

	got, _ := f.pipe.Record(rec.ID)
	require.Equal(t, StatusFailed, got.Status)

	// The outcome is unknown, not rejected: the submission may still land,
	// so the note must survive for reconciliation to settle.
	require.Equal(t, notes.Amount(100), f.ledger.Balance())
	n, err := f.ledger.Note(rec.NoteIDs[0])
	require.NoError(t, err)
	require.Equal(t, notes.StateUnspent, n.State)
}

func TestConfirmLateRecord(t *testing.T) {
	f := newFixture(t, time.Second)
	f.sim.FailNextSubmit(errors.New("rejected"))
	rec, _ := f.pipe.Deposit(context.Background(), 100)
	require.Equal(t, StatusFailed, rec.Status)

	require.True(t, f.pipe.ConfirmLateRecord(rec.ID))
	got, _ := f.pipe.Record(rec.ID)
	require.Equal(t, StatusConfirmed, got.Status)
	require.Empty(t, got.FailureReason)

	// Only failed records can be confirmed late, and only once.
	require.False(t, f.pipe.ConfirmLateRecord(rec.ID))
	require.False(t, f.pipe.ConfirmLateRecord("no-such-record"))
}

func TestNullifierAlreadyUsedForcesSpent(t *testing.T) {
	f := newFixture(t, time.Second)
	f.depositConfirmed(t, 50)

	// Another device spends the same note: its nullifier lands on-chain
	// outside this pipeline.
	n, err := f.ledger.Note(f.ledger.Notes()[0].ID)
	require.NoError(t, err)
	h, err := f.sim.SubmitWithdraw(context.Background(), []chain.SpendInput{{
		Nullifier:  n.Nullifier,
		Commitment: n.Commitment,
		Proof:      []byte("proof"),
	}}, "elsewhere", 50, nil)
	require.NoError(t, err)
	ch, err := f.sim.SubscribeConfirmations(context.Background(), h)
	require.NoError(t, err)
	<-ch

	// Our own withdraw now hits the used nullifier; chain truth wins.
	rec, err := f.pipe.Withdraw(context.Background(), 50, "pub-addr")
	require.ErrorIs(t, err, ErrChainSubmissionFailed)
	require.Equal(t, StatusFailed, rec.Status)

	got, err := f.ledger.Note(n.ID)
	require.NoError(t, err)
	require.Equal(t, notes.StateSpent, got.State, "authority-wins over the local pending state")
	require.Equal(t, notes.Amount(0), f.ledger.Balance())
}

func TestTransferToSelfMintsOutputNote(t *testing.T) {
	f := newFixture(t, time.Second)
	f.depositConfirmed(t, 100)

	rec, err := f.pipe.Transfer(context.Background(), 25, selfAddr)
	require.NoError(t, err)
	require.Len(t, rec.PendingOutputs, 2, "change note and self output persisted")

	f.pipe.Wait()
	got, _ := f.pipe.Record(rec.ID)
	require.Equal(t, StatusConfirmed, got.Status)
	require.Equal(t, notes.Amount(100), f.ledger.Balance(),
		"self-transfer conserves the private balance")

	amounts := map[notes.Amount]bool{}
	for _, n := range f.ledger.Notes() {
		if n.State == notes.StateUnspent {
			amounts[n.Amount] = true
		}
	}
	require.True(t, amounts[25], "recipient note minted")
	require.True(t, amounts[75], "change note minted")
}

func TestTransferToOtherOnlyRecords(t *testing.T) {
	f := newFixture(t, time.Second)
	f.depositConfirmed(t, 100)

	rec, err := f.pipe.Transfer(context.Background(), 25, "shield-bob")
	require.NoError(t, err)
	require.Len(t, rec.PendingOutputs, 1, "only the change note is owed back to us")

	f.pipe.Wait()
	require.Equal(t, notes.Amount(75), f.ledger.Balance())

	got, _ := f.pipe.Record(rec.ID)
	require.Equal(t, StatusConfirmed, got.Status)
	require.Equal(t, "shield-bob", got.Recipient)
}

func TestConcurrentWithdrawsSingleWinner(t *testing.T) {
	f := newFixture(t, time.Second)
	f.depositConfirmed(t, 50)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.pipe.Withdraw(context.Background(), 50, "pub-addr")
		}(i)
	}
	wg.Wait()
	f.pipe.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			contention := errors.Is(err, ledger.ErrInsufficientFunds) ||
				errors.Is(err, ledger.ErrNoteNotSpendable)
			require.True(t, contention, "loser must fail with a selection/contention error, got: %v", err)
		}
	}
	require.Equal(t, 1, winners, "exactly one concurrent withdraw may claim the note")
	require.Equal(t, notes.Amount(0), f.ledger.Balance())
}

func TestHistoryIsAppendOnly(t *testing.T) {
	f := newFixture(t, time.Second)
	f.depositConfirmed(t, 50)
	f.sim.FailNextSubmit(errors.New("rejected"))
	_, _ = f.pipe.Withdraw(context.Background(), 50, "pub-addr")
	f.pipe.Wait()

	recs := f.pipe.History()
	require.Len(t, recs, 2, "failed operations stay in history")
	require.Equal(t, KindDeposit, recs[0].Kind)
	require.Equal(t, KindWithdraw, recs[1].Kind)
	require.Equal(t, StatusFailed, recs[1].Status)
}

func TestRestoreHistoryRoundTrip(t *testing.T) {
	f := newFixture(t, time.Second)
	f.depositConfirmed(t, 50)

	recs := f.pipe.History()
	f2 := newFixture(t, time.Second)
	f2.pipe.RestoreHistory(recs)
	require.Equal(t, recs, f2.pipe.History())
	require.Empty(t, f2.pipe.PendingRecords())
}
