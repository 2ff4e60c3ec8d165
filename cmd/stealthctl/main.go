// Command stealthctl is the WaveSwap wallet CLI.
//
// It keeps a wallet key, an optional hybrid key bundle, the scanner's match
// cache and pending payments in a local bbolt database, and talks to a
// ledger over ledgerrpc.
//
//	stealthctl wallet new
//	stealthctl airdrop 10000
//	stealthctl register --hybrid
//	stealthctl send --to <owner> --amount 2500 --tier mixer --relayer http://localhost:8080 --relayer-key <hex>
//	stealthctl scan
//	stealthctl claim --private --dest <address>
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
