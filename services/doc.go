/*
Package services tracks the attested TEE enclaves that execute TeeRelayed
payments and prove mixer payouts.

# Enclave identity

An enclave publishes an EnclaveInfo signed with its Ed25519 signing key:

  - SigningKey signs TEE proofs and the executor's ledger transactions
  - SealingKey is the X25519 key senders seal payment instructions to
  - Endpoint is where relayers reach the proof service
  - Attestation binds the three through ReportDataForEnclave

SignEnclaveInfo builds the signed identity, VerifyEnclaveInfo checks the
signature, the attestation and, when a MeasurementSource is configured, the
allowed measurements. It returns the measurement digest that TEE proofs
carry.

# Registry

The Registry keeps verified identities in a store.Store and serves them:

  - POST /enclaves registers a signed EnclaveInfo
  - GET /enclaves lists the registered enclaves
  - DELETE /admin/enclaves/{signing_key} removes one, behind basic auth

Measurement allow-lists come from a StaticMeasurementSource or a
RemoteMeasurementSource polling a published JSON list.
*/
package services
