// sim.go - In-memory simulated chain.
//
// SimClient backs the demo daemon and the test suite. It keeps the on-chain
// view the pool contract would: the set of published commitments and the set
// of revealed nullifiers, rejecting any spend that reuses a nullifier.
// Confirmation latency and failures are programmable per test.

package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"shieldwallet/internal/notes"
)

// ProofVerifier checks a spend proof against its public inputs. The sim
// chain calls it for every spend input when configured.
type ProofVerifier func(in SpendInput) error

// ErrSubmissionRejected is the injected submit-time failure.
var ErrSubmissionRejected = errors.New("chain: submission rejected")

type simTx struct {
	status      TxStatus
	commitments []notes.Commitment
	nullifiers  []notes.Nullifier
	subs        []chan TxStatus
	stalled     bool
}

// SimClient is an in-memory Client implementation.
type SimClient struct {
	mu      sync.Mutex
	log     zerolog.Logger
	latency time.Duration
	verify  ProofVerifier

	commitments map[string]bool
	nullifiers  map[string]bool
	txs         map[TxHandle]*simTx
	seq         uint64

	failNextSubmit error
	rejectNext     bool
	stallNext      bool
}

// NewSimClient creates a simulated chain confirming submissions after the
// given latency.
func NewSimClient(latency time.Duration, log zerolog.Logger) *SimClient {
	return &SimClient{
		log:         log.With().Str("component", "simchain").Logger(),
		latency:     latency,
		commitments: make(map[string]bool),
		nullifiers:  make(map[string]bool),
		txs:         make(map[TxHandle]*simTx),
	}
}

// SetVerifier installs a spend-proof verifier applied to every spend input.
func (c *SimClient) SetVerifier(v ProofVerifier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.verify = v
}

// FailNextSubmit makes the next Submit* call return err.
func (c *SimClient) FailNextSubmit(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNextSubmit = err
}

// RejectNextConfirmation makes the next submitted transaction confirm as
// failed instead of applying its effects.
func (c *SimClient) RejectNextConfirmation() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejectNext = true
}

// StallNextConfirmation makes the next submitted transaction never resolve,
// for exercising operation timeouts.
func (c *SimClient) StallNextConfirmation() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stallNext = true
}

func (c *SimClient) submit(cms []notes.Commitment, sns []notes.Nullifier) (TxHandle, error) {
	if c.failNextSubmit != nil {
		err := c.failNextSubmit
		c.failNextSubmit = nil
		return "", err
	}
	for _, sn := range sns {
		if c.nullifiers[sn.String()] {
			return "", fmt.Errorf("%w: %s", ErrNullifierUsed, sn)
		}
	}
	c.seq++
	h := TxHandle(fmt.Sprintf("simtx-%d", c.seq))
	tx := &simTx{status: StatusPending, commitments: cms, nullifiers: sns}
	if c.rejectNext {
		c.rejectNext = false
		tx.status = StatusPending
		time.AfterFunc(c.latency, func() { c.finalize(h, StatusFailed) })
	} else if c.stallNext {
		c.stallNext = false
		tx.stalled = true
	} else {
		time.AfterFunc(c.latency, func() { c.finalize(h, StatusConfirmed) })
	}
	c.txs[h] = tx
	return h, nil
}

func (c *SimClient) finalize(h TxHandle, status TxStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tx, ok := c.txs[h]
	if !ok || tx.status != StatusPending {
		return
	}
	tx.status = status
	if status == StatusConfirmed {
		for _, cm := range tx.commitments {
			c.commitments[cm.String()] = true
		}
		for _, sn := range tx.nullifiers {
			c.nullifiers[sn.String()] = true
		}
	}
	c.log.Debug().Str("tx", string(h)).Str("status", string(status)).Msg("transaction finalized")
	for _, sub := range tx.subs {
		sub <- status
		close(sub)
	}
	tx.subs = nil
}

// Confirm forces a stalled transaction to resolve. Test hook for the
// late-arrival path after a local timeout.
func (c *SimClient) Confirm(h TxHandle) {
	c.finalize(h, StatusConfirmed)
}

// SubmitDeposit publishes the commitment after the confirmation latency.
func (c *SimClient) SubmitDeposit(ctx context.Context, cm notes.Commitment, amount notes.Amount) (TxHandle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if amount == 0 {
		return "", errors.New("chain: zero-amount deposit")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.commitments[cm.String()] {
		return "", errors.New("chain: commitment already published")
	}
	return c.submit([]notes.Commitment{cm}, nil)
}

// SubmitWithdraw reveals the nullifiers and publishes any change commitments.
func (c *SimClient) SubmitWithdraw(ctx context.Context, inputs []SpendInput, recipient string, amount notes.Amount, change []notes.Commitment) (TxHandle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if recipient == "" {
		return "", errors.New("chain: empty recipient")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	sns, err := c.checkInputs(inputs)
	if err != nil {
		return "", err
	}
	return c.submit(change, sns)
}

// SubmitTransfer reveals the nullifiers and publishes the output commitments.
func (c *SimClient) SubmitTransfer(ctx context.Context, inputs []SpendInput, outputs []notes.Commitment) (TxHandle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(outputs) == 0 {
		return "", errors.New("chain: transfer without outputs")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	sns, err := c.checkInputs(inputs)
	if err != nil {
		return "", err
	}
	return c.submit(outputs, sns)
}

func (c *SimClient) checkInputs(inputs []SpendInput) ([]notes.Nullifier, error) {
	if len(inputs) == 0 {
		return nil, errors.New("chain: spend without inputs")
	}
	sns := make([]notes.Nullifier, 0, len(inputs))
	for _, in := range inputs {
		if c.verify != nil {
			if err := c.verify(in); err != nil {
				return nil, fmt.Errorf("chain: spend proof rejected: %w", err)
			}
		}
		sns = append(sns, in.Nullifier)
	}
	return sns, nil
}

// IsNullifierUsed reports whether a confirmed spend revealed the nullifier.
func (c *SimClient) IsNullifierUsed(ctx context.Context, sn notes.Nullifier) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nullifiers[sn.String()], nil
}

// HasCommitment reports whether a confirmed transaction published the
// commitment.
func (c *SimClient) HasCommitment(ctx context.Context, cm notes.Commitment) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commitments[cm.String()], nil
}

// SubscribeConfirmations streams the terminal status for h. If the
// transaction has already resolved, the status is delivered immediately.
func (c *SimClient) SubscribeConfirmations(ctx context.Context, h TxHandle) (<-chan TxStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	tx, ok := c.txs[h]
	if !ok {
		return nil, fmt.Errorf("chain: unknown transaction %s", h)
	}
	ch := make(chan TxStatus, 1)
	if tx.status != StatusPending {
		ch <- tx.status
		close(ch)
		return ch, nil
	}
	tx.subs = append(tx.subs, ch)
	return ch, nil
}
