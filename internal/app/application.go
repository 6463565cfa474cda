package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/R3E-Network/marcasino/internal/app/domain/treasury"
	"github.com/R3E-Network/marcasino/internal/app/events"
	accesssvc "github.com/R3E-Network/marcasino/internal/app/services/access"
	"github.com/R3E-Network/marcasino/internal/app/services/betting"
	lotterysvc "github.com/R3E-Network/marcasino/internal/app/services/lottery"
	"github.com/R3E-Network/marcasino/internal/app/services/outcome"
	platformsvc "github.com/R3E-Network/marcasino/internal/app/services/platform"
	treasurysvc "github.com/R3E-Network/marcasino/internal/app/services/treasury"
	"github.com/R3E-Network/marcasino/internal/app/services/vrf"
	"github.com/R3E-Network/marcasino/internal/app/storage"
	"github.com/R3E-Network/marcasino/internal/app/storage/memory"
	"github.com/R3E-Network/marcasino/internal/app/system"
	"github.com/R3E-Network/marcasino/internal/config"
	apperrors "github.com/R3E-Network/marcasino/internal/errors"
	"github.com/R3E-Network/marcasino/pkg/logger"
	"github.com/benbjohnson/clock"
)

// Stores encapsulates persistence dependencies. A nil store defaults to the
// in-memory implementation.
type Stores struct {
	Store storage.Store
}

// Option customises New.
type Option func(*options)

type options struct {
	clock      clock.Clock
	publishers []events.Publisher
}

// WithClock replaces the wall clock, typically with clock.NewMock in tests.
func WithClock(clk clock.Clock) Option {
	return func(o *options) { o.clock = clk }
}

// WithPublisher adds an event sink next to the in-process bus.
func WithPublisher(pub events.Publisher) Option {
	return func(o *options) { o.publishers = append(o.publishers, pub) }
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger
	cfg     *config.Config
	store   storage.Store
	clock   clock.Clock
	events  events.Publisher

	Bus      *events.Bus
	Access   *accesssvc.Policy
	Treasury *treasurysvc.Service
	Platform *platformsvc.Service
	VRF      *vrf.LocalCoordinator
	Provider *vrf.Provider
	Lottery  *lotterysvc.Service

	mu    sync.RWMutex
	games map[string]*betting.Game
}

// New builds a fully initialised application. Configured games are
// registered on first start; games registered earlier through the admin
// API are reattached from the store.
func New(ctx context.Context, cfg *config.Config, stores Stores, log *logger.Logger, opts ...Option) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if stores.Store == nil {
		stores.Store = memory.New()
	}
	o := options{clock: clock.New()}
	for _, opt := range opts {
		opt(&o)
	}

	bus := events.NewBus(256)
	pub := events.Multi(append([]events.Publisher{bus}, o.publishers...)...)

	policy := accesssvc.New(stores.Store, log)
	admins := cfg.AdminSubjects()
	if len(admins) == 0 {
		log.Warn("no admin configured; administrative endpoints are unusable")
	}
	if err := policy.Bootstrap(ctx, admins...); err != nil {
		return nil, fmt.Errorf("bootstrap admins: %w", err)
	}

	allowed := make([]treasury.AssetID, 0, len(cfg.Engine.AllowedAssets))
	for _, a := range cfg.Engine.AllowedAssets {
		allowed = append(allowed, treasury.AssetID(a))
	}
	treasuryService := treasurysvc.New(stores.Store, policy, treasurysvc.Config{
		MinBet:               cfg.Engine.MinBet,
		MaxBet:               cfg.Engine.MaxBet,
		MaxSinglePayoutRatio: cfg.Engine.MaxSinglePayoutRatio,
		AllowedAssets:        allowed,
	}, o.clock, log)
	platformService := platformsvc.New(stores.Store, policy, pub, o.clock, cfg.Engine.HouseEdgeBps, log)
	coordinator := vrf.NewLocalCoordinator(stores.Store, o.clock, log)

	key, err := providerKey(cfg.VRF.Key)
	if err != nil {
		return nil, err
	}
	if cfg.VRF.Key == "" {
		log.Warn("VRF_KEY not set; provider words are derived from a random per-process key")
	}
	provider := vrf.NewProvider(coordinator, key, cfg.VRF.Schedule, log)

	manager := system.NewManager()
	if err := manager.Register(provider); err != nil {
		return nil, fmt.Errorf("register %s: %w", provider.Name(), err)
	}

	a := &Application{
		manager:  manager,
		log:      log,
		cfg:      cfg,
		store:    stores.Store,
		clock:    o.clock,
		events:   pub,
		Bus:      bus,
		Access:   policy,
		Treasury: treasuryService,
		Platform: platformService,
		VRF:      coordinator,
		Provider: provider,
		games:    make(map[string]*betting.Game),
	}

	for _, g := range cfg.Games {
		if _, err := platformService.EnsureGame(ctx, g.Name, g.Kind); err != nil {
			return nil, fmt.Errorf("register game %s: %w", g.Name, err)
		}
	}

	if cfg.Lottery.Enabled {
		if _, err := platformService.EnsureGame(ctx, cfg.Lottery.Name, lotterysvc.Kind); err != nil {
			return nil, fmt.Errorf("register lottery: %w", err)
		}
		a.Lottery = lotterysvc.New(lotterysvc.Config{
			Name:           cfg.Lottery.Name,
			Asset:          treasury.AssetID(cfg.Lottery.Asset),
			TicketPrice:    cfg.Lottery.TicketPrice,
			RoundDuration:  cfg.Lottery.RoundDuration,
			RequestTimeout: cfg.Lottery.RequestTimeout,
		}, stores.Store, treasuryService, platformService, coordinator, pub, o.clock, log)
		coordinator.Register(a.Lottery)
	}

	registered, err := platformService.Games(ctx)
	if err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	for _, g := range registered {
		if g.Kind == lotterysvc.Kind {
			continue
		}
		if err := a.attach(g.Name, g.Kind); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// RegisterGame records a new bettable game and starts accepting wagers on
// it immediately.
func (a *Application) RegisterGame(ctx context.Context, caller, name, kind string) (*betting.Game, error) {
	if _, err := outcome.ForKind(kind); err != nil {
		return nil, apperrors.New(apperrors.KindInvalidChoice, err.Error())
	}
	if _, err := a.Platform.RegisterGame(ctx, caller, name, kind); err != nil {
		return nil, err
	}
	if err := a.attach(strings.TrimSpace(name), kind); err != nil {
		return nil, err
	}
	return a.Game(name)
}

// Game returns the engine for a registered game.
func (a *Application) Game(name string) (*betting.Game, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	g, ok := a.games[strings.TrimSpace(name)]
	if !ok {
		return nil, apperrors.Newf(apperrors.KindGameNotFound, "game %s", name)
	}
	return g, nil
}

// GameNames lists the attached games in name order.
func (a *Application) GameNames() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, 0, len(a.games))
	for name := range a.games {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Store exposes the shared transactional store.
func (a *Application) Store() storage.Store {
	return a.store
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}

func (a *Application) attach(name, kind string) error {
	resolver, err := outcome.ForKind(kind)
	if err != nil {
		return fmt.Errorf("game %s: %w", name, err)
	}
	game := betting.New(name, resolver, betting.Config{
		RevealDelay:     a.cfg.Engine.RevealDelay,
		RevealTimeout:   a.cfg.Engine.RevealTimeout,
		RequestTimeout:  a.cfg.Engine.RequestTimeout,
		SlashingDeposit: a.cfg.Engine.SlashingDeposit,
	}, betting.Deps{
		Store:       a.store,
		Treasury:    a.Treasury,
		Platform:    a.Platform,
		Coordinator: a.VRF,
		Events:      a.events,
		Clock:       a.clock,
		Log:         a.log,
	})

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.games[name]; exists {
		return nil
	}
	a.games[name] = game
	a.VRF.Register(game)
	return nil
}

func providerKey(raw string) ([]byte, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if raw == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate vrf key: %w", err)
		}
		return key, nil
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, apperrors.Newf(apperrors.KindInvalidConfig, "vrf key must be hex: %v", err)
	}
	return key, nil
}
