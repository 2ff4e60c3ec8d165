package store

import (
	"context"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
}

// Marshal encodes v as deterministic CBOR.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return cbor.Unmarshal(data, v)
}

// PutObject stores v CBOR-encoded under bucket/key.
func PutObject(ctx context.Context, s Store, bucket, key string, v any) error {
	data, err := Marshal(v)
	if err != nil {
		return fmt.Errorf("store: encoding %s/%s: %w", bucket, key, err)
	}
	return s.Put(ctx, bucket, key, data)
}

// GetObject loads and decodes the value under bucket/key.
func GetObject[T any](ctx context.Context, s Store, bucket, key string) (*T, error) {
	data, err := s.Get(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	var out T
	if err := Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("store: decoding %s/%s: %w", bucket, key, err)
	}
	return &out, nil
}

// ListObjects decodes every value of a bucket.
func ListObjects[T any](ctx context.Context, s Store, bucket string) ([]*T, error) {
	entries, err := s.List(ctx, bucket)
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(entries))
	for _, e := range entries {
		var v T
		if err := Unmarshal(e.Value, &v); err != nil {
			return nil, fmt.Errorf("store: decoding %s/%s: %w", bucket, e.Key, err)
		}
		out = append(out, &v)
	}
	return out, nil
}
