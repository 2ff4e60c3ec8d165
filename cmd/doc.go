// Package cmd provides the WaveSwap commands.
//
// # Commands
//
// relayer: Relays mixer payouts and private claims, hosts the enclave
// registry and, without --ledger-url, a devnet ledger with a faucet. Without
// --enclave-url it also runs an insecure in-process enclave and executor.
//
//	go run ./cmd/relayer --addr=:8080 --store=relayer.db
//	go run ./cmd/relayer --config=relayer.yaml
//
// enclave: Runs the TEE executor for TeeRelayed payments and the proof
// service relayers call for mixer payouts.
//
//	go run ./cmd/enclave --addr=:8081 --ledger-url=http://localhost:8080 --registry-url=http://localhost:8080
//
// stealthctl: Wallet CLI to register stealth keys, send, scan and claim.
//
//	go run ./cmd/stealthctl wallet new
//	go run ./cmd/stealthctl send --to <owner> --amount 1000 --tier mixer --relayer http://localhost:8080 --relayer-key <hex>
//
// # Configuration
//
// All commands accept the YAML file described in package common via
// --config. Command-line flags override file values.
//
//	http_addr: ":8080"
//	ledger_url: ""
//	store_path: "relayer.db"
//	attestation:
//	  provider: dummy
//	protocol:
//	  program_id: "<hex program address>"
//	  confirm_timeout: 60s
package cmd
