package kvstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"sentinelgrid/internal/faults"
)

// NATS backs the Store with JetStream KV buckets and core NATS subjects.
// JetStream expires per bucket, not per key, so Set routes by the requested
// ttl: short-lived entries land in a companion bucket expiring at ShortTTL,
// everything else in the main bucket expiring at BucketTTL.
type NATS struct {
	conn     *nats.Conn
	kv       jetstream.KeyValue
	shortKV  jetstream.KeyValue
	shortTTL time.Duration
	prefix   string
	logger   *slog.Logger
}

type NATSOptions struct {
	URL           string
	Bucket        string
	BucketTTL     time.Duration
	ShortTTL      time.Duration
	SubjectPrefix string
	ConnectWait   time.Duration
}

func NewNATS(ctx context.Context, opts NATSOptions, logger *slog.Logger) (*NATS, error) {
	if opts.Bucket == "" {
		opts.Bucket = "sentinelgrid"
	}
	if opts.SubjectPrefix == "" {
		opts.SubjectPrefix = "sentinelgrid"
	}
	if opts.ConnectWait <= 0 {
		opts.ConnectWait = 5 * time.Second
	}
	if opts.ShortTTL <= 0 {
		opts.ShortTTL = 5 * time.Minute
	}
	conn, err := nats.Connect(opts.URL,
		nats.Timeout(opts.ConnectWait),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", opts.URL, err)
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: opts.Bucket,
		TTL:    opts.BucketTTL,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("kv bucket %s: %w", opts.Bucket, err)
	}
	shortKV, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: opts.Bucket + "-short",
		TTL:    opts.ShortTTL,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("kv bucket %s-short: %w", opts.Bucket, err)
	}
	return &NATS{
		conn:     conn,
		kv:       kv,
		shortKV:  shortKV,
		shortTTL: opts.ShortTTL,
		prefix:   opts.SubjectPrefix,
		logger:   logger,
	}, nil
}

func (n *NATS) Get(ctx context.Context, key string) ([]byte, error) {
	entry, err := n.kv.Get(ctx, kvKey(key))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		entry, err = n.shortKV.Get(ctx, kvKey(key))
	}
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, faults.NotFound("key", key)
		}
		return nil, faults.Degraded("kv get "+key, err)
	}
	return entry.Value(), nil
}

func (n *NATS) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	bucket := n.kv
	if shortLived(ttl, n.shortTTL) {
		bucket = n.shortKV
	}
	if _, err := bucket.Put(ctx, kvKey(key), value); err != nil {
		return faults.Degraded("kv put "+key, err)
	}
	return nil
}

// shortLived reports whether a requested ttl belongs in the short-expiry
// bucket.
func shortLived(ttl, shortTTL time.Duration) bool {
	return ttl > 0 && ttl <= shortTTL
}

func (n *NATS) Delete(ctx context.Context, key string) error {
	for _, bucket := range []jetstream.KeyValue{n.kv, n.shortKV} {
		if err := bucket.Delete(ctx, kvKey(key)); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
			return faults.Degraded("kv delete "+key, err)
		}
	}
	return nil
}

func (n *NATS) Publish(_ context.Context, subject string, data []byte) error {
	if err := n.conn.Publish(n.prefix+"."+subject, data); err != nil {
		return faults.Degraded("publish "+subject, err)
	}
	return nil
}

func (n *NATS) Subscribe(_ context.Context, subject string) (<-chan Message, func(), error) {
	out := make(chan Message, 64)
	var mu sync.Mutex
	closed := false
	sub, err := n.conn.Subscribe(n.prefix+"."+subject, func(msg *nats.Msg) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case out <- Message{Subject: subject, Data: msg.Data}:
		default:
			if n.logger != nil {
				n.logger.Warn("subscriber channel full, dropping message", "subject", subject)
			}
		}
	})
	if err != nil {
		return nil, nil, faults.Degraded("subscribe "+subject, err)
	}
	cancel := func() {
		_ = sub.Unsubscribe()
		// a delivery may still be in flight after Unsubscribe returns;
		// closing under the same lock keeps it off the closed channel
		mu.Lock()
		closed = true
		close(out)
		mu.Unlock()
	}
	return out, cancel, nil
}

func (n *NATS) Close() error {
	n.conn.Close()
	return nil
}

// kvKey maps pipeline keys onto the JetStream KV key charset; subjects
// cannot contain ':'.
func kvKey(key string) string {
	return strings.ReplaceAll(key, ":", ".")
}
