// main.go - Shielded wallet demo daemon.
//
// Wires a wallet session against the simulated chain and the Groth16 proof
// engine, then walks the full note lifecycle:
//   - deposit (shield) funds into the pool
//   - withdraw (unshield) part of the balance to a public recipient
//   - transfer part of the balance to this wallet's own shielded address
//   - reconcile the local ledger against chain truth
//
// Usage:
//   go run ./cmd/shieldwalletd -config shieldwallet.json

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"shieldwallet/internal/chain"
	"shieldwallet/internal/notes"
	"shieldwallet/internal/pipeline"
	"shieldwallet/internal/prover"
	"shieldwallet/internal/store"
	"shieldwallet/internal/wallet"
)

func main() {
	configPath := flag.String("config", "shieldwallet.json", "path to config file")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, closeLog, err := NewLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	metrics := NewMetricsCollector()
	ctx := context.Background()
	domain := []byte(cfg.PoolDomain)

	logger.Info().Msg("compiling spend circuit and loading proving keys")
	engine, err := prover.NewGroth16Engine(domain, cfg.KeyDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("proof engine setup failed")
	}

	sim := chain.NewSimClient(time.Duration(cfg.ChainLatencyMillis)*time.Millisecond, logger)
	sim.SetVerifier(func(in chain.SpendInput) error {
		return engine.VerifySpend(in.Proof, in.Commitment, in.Nullifier)
	})

	storage, err := store.NewFileStorage(cfg.DataDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("storage setup failed")
	}

	session, err := wallet.NewSession(ctx, wallet.Config{
		Chain:          sim,
		Engine:         engine,
		Storage:        storage,
		Domain:         domain,
		SelfAddress:    cfg.SelfAddress,
		ConfirmTimeout: time.Duration(cfg.ConfirmTimeoutSeconds) * time.Second,
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("wallet session failed to start")
	}
	defer session.Close()

	logger.Info().
		Uint64("balance", uint64(session.Balance())).
		Int("notes", len(session.Notes())).
		Msg("wallet session ready")

	// Shield 100 units.
	if _, err := session.Deposit(ctx, 100); err != nil {
		logger.Error().Err(err).Msg("deposit failed")
		metrics.IncrementCounter("deposits_failed")
	} else {
		metrics.IncrementCounter("deposits_submitted")
	}
	session.Wait()

	// Unshield 40 to a public address; the remaining 60 come back as a
	// change note.
	if _, err := session.Withdraw(ctx, 40, "pub-recipient-1"); err != nil {
		logger.Error().Err(err).Msg("withdraw failed")
		metrics.IncrementCounter("withdrawals_failed")
	} else {
		metrics.IncrementCounter("withdrawals_submitted")
	}
	session.Wait()

	// Shielded transfer of 25 to this wallet's own address.
	if _, err := session.Transfer(ctx, 25, cfg.SelfAddress); err != nil {
		logger.Error().Err(err).Msg("transfer failed")
		metrics.IncrementCounter("transfers_failed")
	} else {
		metrics.IncrementCounter("transfers_submitted")
	}
	session.Wait()

	res, err := session.Reconcile(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("reconciliation failed")
	} else {
		metrics.SetGauge("reconcile_notes_checked", float64(res.NotesChecked))
		metrics.SetGauge("reconcile_forced_spent", float64(res.NotesForcedSpent))
	}

	metrics.SetGauge("balance", float64(session.Balance()))
	metrics.SetGauge("spendable_balance", float64(session.SpendableBalance()))

	for _, rec := range session.History() {
		logger.Info().
			Str("record", rec.ID).
			Str("kind", string(rec.Kind)).
			Str("status", string(rec.Status)).
			Uint64("amount", uint64(rec.Amount)).
			Msg("history entry")
		if rec.Status == pipeline.StatusConfirmed {
			metrics.IncrementCounter(string(rec.Kind) + "s_confirmed")
		}
	}
	for _, n := range session.Notes() {
		logger.Info().
			Str("note", n.ID).
			Str("state", string(n.State)).
			Uint64("amount", uint64(n.Amount)).
			Msg("note")
	}

	fmt.Println(metrics.Summary())
	printBalance(session.Balance(), session.SpendableBalance())
}

func printBalance(total, spendable notes.Amount) {
	fmt.Printf("private balance: %d (spendable: %d)\n", uint64(total), uint64(spendable))
}
