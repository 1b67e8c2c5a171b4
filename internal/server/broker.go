package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/otpad/otpad/internal/ot"
)

// Broker fans the committed-operation stream out to consumers outside this
// process: presence/cursor layers remapping selection offsets, persistence
// workers, audit tooling. It is strictly one-way: nothing a broker
// subscriber does feeds back into document state, which keeps the
// coordinator the only sequencer for its document.
type Broker interface {
	Publish(ctx context.Context, docID string, cm ot.Commit) error
	Subscribe(ctx context.Context, docID string, handler func(ot.Commit)) error
}

// NopBroker drops everything, for single-process runs with no external
// consumers.
type NopBroker struct{}

func (NopBroker) Publish(context.Context, string, ot.Commit) error { return nil }

func (NopBroker) Subscribe(context.Context, string, func(ot.Commit)) error { return nil }

// RedisBroker publishes each commit to the document's redis channel.
type RedisBroker struct {
	rdb *redis.Client
}

func NewRedisBroker(rdb *redis.Client) *RedisBroker {
	return &RedisBroker{rdb: rdb}
}

func channelFor(docID string) string {
	return fmt.Sprintf("doc:%s", docID)
}

func (b *RedisBroker) Publish(ctx context.Context, docID string, cm ot.Commit) error {
	payload, err := json.Marshal(cm)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	return b.rdb.Publish(ctx, channelFor(docID), payload).Err()
}

// Subscribe delivers commits published for docID to handler until ctx is
// canceled. Malformed payloads are logged and skipped.
func (b *RedisBroker) Subscribe(ctx context.Context, docID string, handler func(ot.Commit)) error {
	pubsub := b.rdb.Subscribe(ctx, channelFor(docID))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return err
	}

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, open := <-ch:
				if !open {
					return
				}
				var cm ot.Commit
				if err := json.Unmarshal([]byte(msg.Payload), &cm); err != nil {
					log.Printf("broker: bad commit payload on %s: %v", msg.Channel, err)
					continue
				}
				handler(cm)
			}
		}
	}()
	return nil
}
