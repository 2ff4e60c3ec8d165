package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/WaveTek-co/WaveSwap-sub000/crypto"
)

// Domain prefixes every domain-separated hash and signature in the protocol.
const Domain = "WaveSwap"

const signedPrefix = Domain + ":Signed:"

var (
	ErrInvalidSignature = errors.New("signature not valid")
	ErrUnexpectedSigner = errors.New("unexpected signer")
)

// Signed is a JSON object authenticated by an Ed25519 key: relayer responses
// and enclave identities travel this way. The signature covers a domain
// prefix, the JSON encoding of Object and the signer's key.
type Signed[T any] struct {
	PublicKey crypto.PublicKey `json:"public_key"`
	Signature crypto.Signature `json:"signature"`
	Object    *T               `json:"object"`
}

func signingPayload[T any](obj *T, signer crypto.PublicKey) ([]byte, error) {
	data, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("encoding signed object: %w", err)
	}
	payload := make([]byte, 0, len(signedPrefix)+len(data)+len(signer))
	payload = append(payload, signedPrefix...)
	payload = append(payload, data...)
	return append(payload, signer...), nil
}

// NewSigned signs obj with privkey.
func NewSigned[T any](privkey crypto.PrivateKey, obj *T) (*Signed[T], error) {
	pubkey, err := privkey.PublicKey()
	if err != nil {
		return nil, err
	}
	payload, err := signingPayload(obj, pubkey)
	if err != nil {
		return nil, err
	}
	signature, err := crypto.Sign(privkey, payload)
	if err != nil {
		return nil, err
	}
	return &Signed[T]{PublicKey: pubkey, Signature: signature, Object: obj}, nil
}

// Recover verifies the signature and returns the object and its signer.
func (s *Signed[T]) Recover() (*T, crypto.PublicKey, error) {
	if s.Object == nil {
		return nil, nil, errors.New("signed message has no object")
	}
	payload, err := signingPayload(s.Object, s.PublicKey)
	if err != nil {
		return nil, nil, err
	}
	if !s.Signature.Verify(s.PublicKey, payload) {
		return nil, nil, ErrInvalidSignature
	}
	return s.Object, s.PublicKey, nil
}

// RecoverFrom is Recover pinned to one signer.
func (s *Signed[T]) RecoverFrom(expected crypto.PublicKey) (*T, error) {
	obj, signer, err := s.Recover()
	if err != nil {
		return nil, err
	}
	if !signer.Equal(expected) {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedSigner, signer)
	}
	return obj, nil
}

func UnmarshalMessage[T any](data []byte) (*T, error) {
	var msg T
	err := json.Unmarshal(data, &msg)
	return &msg, err
}

func DecodeMessage[T any](reader io.Reader) (*T, error) {
	var msg T
	err := json.NewDecoder(reader).Decode(&msg)
	return &msg, err
}

func SerializeMessage[T any](msg *T) ([]byte, error) {
	return json.Marshal(msg)
}
