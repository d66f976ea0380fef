package notify

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"dealsignal/internal/events"
	"dealsignal/internal/logger"
)

type simCompany struct {
	id       string
	name     string
	industry string
	region   string
}

var simCompanies = []simCompany{
	{"sim-northwind", "Northwind Analytics", "Fintech", "North America"},
	{"sim-lumen", "Lumen Health", "Healthcare", "Europe"},
	{"sim-tessera", "Tessera Robotics", "Robotics", "Asia"},
	{"sim-quarry", "Quarry Labs", "Climate", "Europe"},
}

var simRounds = []string{"seed", "series_a", "series_b", "series_c"}

// Simulator feeds synthetic funding and acquisition signals into the engine
// for demos.
type Simulator struct {
	engine      *Engine
	interval    time.Duration
	probability float64
	log         logger.Logger

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewSimulator(engine *Engine, interval time.Duration, probability float64, log logger.Logger) *Simulator {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Simulator{
		engine:      engine,
		interval:    interval,
		probability: probability,
		log:         log,
		rnd:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run ticks until ctx is done.
func (s *Simulator) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Tick synthesizes at most one notification, with the configured probability.
func (s *Simulator) Tick(ctx context.Context) (Notification, bool) {
	s.mu.Lock()
	if s.rnd.Float64() >= s.probability {
		s.mu.Unlock()
		return Notification{}, false
	}
	company := simCompanies[s.rnd.Intn(len(simCompanies))]
	sig := events.Signal{
		EntityID:   company.id,
		EntityName: company.name,
		Industry:   company.industry,
		Region:     company.region,
		Timestamp:  time.Now().UTC(),
		SourceID:   "simulator",
	}
	if s.rnd.Intn(4) == 0 {
		sig.Type = string(EventAcquisition)
		sig.Amount = float64(50+s.rnd.Intn(450)) * 1_000_000
	} else {
		sig.Type = simRounds[s.rnd.Intn(len(simRounds))]
		sig.Amount = float64(1+s.rnd.Intn(99)) * 1_000_000
	}
	s.mu.Unlock()

	n, ok := s.engine.HandleSignal(ctx, sig)
	if ok {
		s.log.Debug("simulated notification", logger.String("notification_id", n.ID), logger.String("type", sig.Type))
	}
	return n, ok
}
