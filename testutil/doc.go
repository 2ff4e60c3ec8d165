/*
Package testutil provides fixtures for testing the stealth payment components
against a simulated ledger.

# Devnet

NewDevnet wires a memledger.Ledger on an in-memory store, a program address,
a protocol.Config tuned for tests and an insecure test enclave that the
ledger trusts for TEE proofs. The clock auto-advances, so confirmation and
status polling loops run to completion without real sleeps.

	dn := testutil.NewDevnet(t)
	sender := dn.FundedWallet(1_000_000)
	recipient := testutil.NewRecipient(t)
	nonce, sendCfg := dn.Pay(sender, recipient.Keys, 5_000)

Options adjust the fixture:

	dn := testutil.NewDevnet(t,
	    testutil.WithConfirmationDepth(3),
	    testutil.WithChunkSize(600),
	)

# Generators

	nonce := testutil.RandomNonce(t)
	meta := testutil.MetaAddressFixture(1216)
*/
package testutil
