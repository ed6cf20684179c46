// Package kvstore provides the key-value and pub/sub tier the pipeline
// leans on for model persistence, latest-reading caches and event mirroring.
//
// Every caller treats this tier as optional: a read error is a cache miss,
// a write or publish error is logged and dropped. Nothing above this
// package may fail an ingestion because the store is unreachable.
package kvstore

import (
	"context"
	"time"
)

// Message is one published payload delivered to a subscriber.
type Message struct {
	Subject string
	Data    []byte
}

type Store interface {
	// Get returns the value for key, or faults.ErrNotFound on a miss or
	// expired entry.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key. A non-positive ttl means no expiry
	// (backends with bucket-level TTL apply their configured expiry).
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	Delete(ctx context.Context, key string) error

	// Publish sends data to all current subscribers of subject.
	// Delivery is at-most-once; there is no replay.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe returns a channel of messages for subject and a cancel
	// function that must be called to release the subscription.
	Subscribe(ctx context.Context, subject string) (<-chan Message, func(), error)

	Close() error
}
