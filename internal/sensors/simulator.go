// Package sensors produces compartment fill readings: a local simulator for
// demos and an MQTT subscriber for real bins.
package sensors

import (
	"context"
	"math/rand/v2"
	"time"

	"wastewatch/internal/log"
	"wastewatch/internal/session"
)

const (
	DefaultInterval = time.Second
	growChance      = 0.1
	maxGrowth       = 3
)

type SimulatorOptions struct {
	Interval time.Duration
	Rand     *rand.Rand
	Logger   *log.Logger
}

// Simulator fills compartments at random, one tick at a time.
type Simulator struct {
	session  *session.Session
	interval time.Duration
	rnd      *rand.Rand
	logger   *log.Logger
}

func NewSimulator(s *session.Session, opts SimulatorOptions) *Simulator {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed))
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Simulator{
		session:  s,
		interval: opts.Interval,
		rnd:      opts.Rand,
		logger:   opts.Logger.WithComponent(log.ComponentSimulator),
	}
}

// Tick gives every compartment that still has room a 10% chance to gain
// 1 to 3 items. It returns how many compartments grew.
func (sim *Simulator) Tick(ctx context.Context) (int, error) {
	grown := 0
	err := sim.session.Update(ctx, func(tx *session.Tx) error {
		for _, c := range tx.Compartments() {
			if c.Items >= c.Capacity {
				continue
			}
			if sim.rnd.Float64() >= growChance {
				continue
			}
			if tx.Grow(c.ID, sim.rnd.IntN(maxGrowth)+1) {
				grown++
			}
		}
		return nil
	})
	return grown, err
}

// Run ticks until ctx is done.
func (sim *Simulator) Run(ctx context.Context) error {
	ticker := time.NewTicker(sim.interval)
	defer ticker.Stop()

	sim.logger.InfoContext(ctx, "Sensor simulation started", "interval", sim.interval)
	for {
		select {
		case <-ctx.Done():
			sim.logger.InfoContext(ctx, "Sensor simulation stopped")
			return nil
		case <-ticker.C:
			n, err := sim.Tick(ctx)
			if err != nil {
				sim.logger.WarnContext(ctx, "Simulation tick failed", log.FieldError, err)
				continue
			}
			if n > 0 {
				sim.logger.DebugContext(ctx, "Simulated sensor growth", "compartments", n)
			}
		}
	}
}
