// Package vrf is the boundary to the verifiable randomness oracle. Requests
// return an id immediately; words arrive later through Fulfill and are
// routed by consumer name, so nothing per request is held in memory.
package vrf

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/R3E-Network/marcasino/internal/app/domain/random"
	"github.com/R3E-Network/marcasino/internal/app/metrics"
	"github.com/R3E-Network/marcasino/internal/app/storage"
	apperrors "github.com/R3E-Network/marcasino/internal/errors"
	"github.com/R3E-Network/marcasino/pkg/logger"
	"github.com/benbjohnson/clock"
)

// Config describes one randomness request.
type Config struct {
	Consumer string
	NumWords int
}

// Consumer receives fulfilled words inside the fulfilment transaction. It
// must tolerate duplicate deliveries.
type Consumer interface {
	ConsumerName() string
	OnFulfilled(ctx context.Context, tx storage.Tx, id random.RequestID, words []random.Word) error
}

// Coordinator issues randomness requests as part of the caller's
// transaction.
type Coordinator interface {
	RequestRandomWords(ctx context.Context, tx storage.Tx, cfg Config) (random.RequestID, error)
}

// LocalCoordinator keeps the request registry in the shared store and
// forwards fulfilments to registered consumers.
type LocalCoordinator struct {
	store storage.Store
	clock clock.Clock
	log   *logger.Logger

	mu        sync.RWMutex
	consumers map[string]Consumer
}

var _ Coordinator = (*LocalCoordinator)(nil)

// NewLocalCoordinator constructs a coordinator over store.
func NewLocalCoordinator(store storage.Store, clk clock.Clock, log *logger.Logger) *LocalCoordinator {
	if log == nil {
		log = logger.NewDefault("vrf")
	}
	if clk == nil {
		clk = clock.New()
	}
	return &LocalCoordinator{store: store, clock: clk, log: log, consumers: make(map[string]Consumer)}
}

// Register makes consumer reachable by its name.
func (c *LocalCoordinator) Register(consumer Consumer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consumers[consumer.ConsumerName()] = consumer
}

// RequestRandomWords reserves a fresh id and records the pending request.
func (c *LocalCoordinator) RequestRandomWords(ctx context.Context, tx storage.Tx, cfg Config) (random.RequestID, error) {
	if cfg.Consumer == "" {
		return 0, fmt.Errorf("vrf request without consumer")
	}
	if cfg.NumWords <= 0 {
		cfg.NumWords = 1
	}
	id, err := tx.NextRequestID(ctx)
	if err != nil {
		return 0, fmt.Errorf("reserve request id: %w", err)
	}
	req := random.Request{
		ID:        id,
		Consumer:  cfg.Consumer,
		NumWords:  cfg.NumWords,
		CreatedAt: c.clock.Now().UTC(),
	}
	if err := tx.PutRandomRequest(ctx, req); err != nil {
		return 0, err
	}
	return id, nil
}

// Fulfill delivers words for id. Repeat deliveries keep the first words and
// are still forwarded so the consumer can acknowledge them.
func (c *LocalCoordinator) Fulfill(ctx context.Context, id random.RequestID, words []random.Word) error {
	var consumerName string
	err := c.store.Update(ctx, func(tx storage.Tx) error {
		req, err := tx.GetRandomRequest(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.Newf(apperrors.KindRequestNotFound, "randomness request %d", id)
		}
		if err != nil {
			return err
		}
		consumerName = req.Consumer

		if req.Fulfilled {
			words = req.Words
		} else {
			if len(words) < req.NumWords {
				return apperrors.Newf(apperrors.KindInvalidAmount, "request %d needs %d words, got %d", id, req.NumWords, len(words))
			}
			req.Fulfilled = true
			req.Words = append([]random.Word(nil), words[:req.NumWords]...)
			req.FulfilledAt = c.clock.Now().UTC()
			if err := tx.PutRandomRequest(ctx, req); err != nil {
				return err
			}
			words = req.Words
		}

		consumer, ok := c.consumer(req.Consumer)
		if !ok {
			return fmt.Errorf("no consumer registered for %q", req.Consumer)
		}
		return consumer.OnFulfilled(ctx, tx, id, words)
	})
	metrics.RecordFulfilment(consumerName, err == nil)
	if err != nil {
		return err
	}
	c.log.WithField("request_id", id).WithField("consumer", consumerName).Info("randomness fulfilled")
	return nil
}

// Request returns the registry entry for id.
func (c *LocalCoordinator) Request(ctx context.Context, id random.RequestID) (random.Request, error) {
	var req random.Request
	err := c.store.View(ctx, func(tx storage.Tx) error {
		var err error
		req, err = tx.GetRandomRequest(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.Newf(apperrors.KindRequestNotFound, "randomness request %d", id)
		}
		return err
	})
	return req, err
}

// Pending lists unfulfilled requests, oldest first.
func (c *LocalCoordinator) Pending(ctx context.Context, limit int) ([]random.Request, error) {
	var pending []random.Request
	err := c.store.View(ctx, func(tx storage.Tx) error {
		var err error
		pending, err = tx.ListPendingRandomRequests(ctx, limit)
		return err
	})
	return pending, err
}

func (c *LocalCoordinator) consumer(name string) (Consumer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	consumer, ok := c.consumers[name]
	return consumer, ok
}
