package vrf

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/R3E-Network/marcasino/internal/app/domain/random"
	"github.com/R3E-Network/marcasino/internal/app/system"
	"github.com/R3E-Network/marcasino/pkg/logger"
	"github.com/holiman/uint256"
	"github.com/robfig/cron/v3"
	"golang.org/x/crypto/sha3"
)

// Provider simulates the external randomness oracle for development. Words
// are keccak256(key || request id || index), so a given key always yields the
// same words for the same request.
type Provider struct {
	coord    *LocalCoordinator
	key      []byte
	schedule string
	batch    int
	log      *logger.Logger

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

var _ system.Service = (*Provider)(nil)

// NewProvider builds a provider. An empty schedule disables the sweep; a
// schedule such as "@every 5s" fulfils pending requests periodically.
func NewProvider(coord *LocalCoordinator, key []byte, schedule string, log *logger.Logger) *Provider {
	if log == nil {
		log = logger.NewDefault("vrf-provider")
	}
	return &Provider{coord: coord, key: append([]byte(nil), key...), schedule: schedule, batch: 100, log: log}
}

// Words derives n words for id.
func (p *Provider) Words(id random.RequestID, n int) []random.Word {
	words := make([]random.Word, n)
	var buf [12]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(id))
	for i := range words {
		binary.BigEndian.PutUint32(buf[8:], uint32(i))
		h := sha3.NewLegacyKeccak256()
		h.Write(p.key)
		h.Write(buf[:])
		words[i] = random.Word(*new(uint256.Int).SetBytes(h.Sum(nil)))
	}
	return words
}

// FulfillPending answers every pending request and returns how many were
// delivered. Individual failures are logged and skipped.
func (p *Provider) FulfillPending(ctx context.Context) (int, error) {
	pending, err := p.coord.Pending(ctx, p.batch)
	if err != nil {
		return 0, fmt.Errorf("list pending requests: %w", err)
	}
	delivered := 0
	for _, req := range pending {
		if err := p.coord.Fulfill(ctx, req.ID, p.Words(req.ID, req.NumWords)); err != nil {
			p.log.WithError(err).WithField("request_id", req.ID).Warn("fulfil pending request")
			continue
		}
		delivered++
	}
	return delivered, nil
}

func (p *Provider) Name() string { return "vrf-provider" }

func (p *Provider) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.schedule == "" || p.cron != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c := cron.New()
	if _, err := c.AddFunc(p.schedule, func() {
		if n, err := p.FulfillPending(runCtx); err != nil {
			p.log.WithError(err).Warn("vrf sweep failed")
		} else if n > 0 {
			p.log.Infof("vrf sweep fulfilled %d requests", n)
		}
	}); err != nil {
		cancel()
		return fmt.Errorf("schedule %q: %w", p.schedule, err)
	}
	c.Start()
	p.cron, p.cancel = c, cancel
	p.log.WithField("schedule", p.schedule).Info("vrf provider started")
	return nil
}

func (p *Provider) Stop(ctx context.Context) error {
	p.mu.Lock()
	c, cancel := p.cron, p.cancel
	p.cron, p.cancel = nil, nil
	p.mu.Unlock()
	if c == nil {
		return nil
	}

	cancel()
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	p.log.Info("vrf provider stopped")
	return nil
}
