// Package casting gives every character of a production a consistent voice,
// drawing male and female characters from separate timbre pools.
package casting

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/loqalabs/radiodrama/internal/dialog"
	"github.com/loqalabs/radiodrama/internal/timbre"
	"github.com/loqalabs/radiodrama/internal/voicebank"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Eviction records a character losing its timbre to a newcomer.
type Eviction struct {
	Partition dialog.Gender `json:"partition"`
	Character string        `json:"character"`
	Timbre    string        `json:"timbre"`
	Successor string        `json:"successor"`
}

type Option func(*Casting)

// WithEvictionHook is called for every eviction by the Assign that caused it,
// after the allocator lock is released.
func WithEvictionHook(hook func(Eviction)) Option {
	return func(c *Casting) { c.hooks = append(c.hooks, hook) }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Casting) { c.logger = logger }
}

func WithMeter(meter metric.Meter) Option {
	return func(c *Casting) { c.meter = meter }
}

// Casting owns one timbre allocator per gender partition.
type Casting struct {
	pools  map[dialog.Gender]*timbre.Allocator
	hooks  []func(Eviction)
	logger *slog.Logger
	meter  metric.Meter

	resolves  metric.Int64Counter
	evictions metric.Int64Counter

	// Evictions queued by allocator observers, dispatched once the
	// allocator lock is released.
	pendingMu sync.Mutex
	pending   []Eviction
}

var partitions = []dialog.Gender{dialog.Male, dialog.Female}

// New splits seed between the partitions of bank. A seeded timbre that is not
// in the bank fails with timbre.ErrInvalidSeed. A partition with no voices is
// left empty and fails every assignment with timbre.ErrCapacityExhausted.
func New(bank *voicebank.Bank, seed map[string]string, opts ...Option) (*Casting, error) {
	c := &Casting{
		pools:  make(map[dialog.Gender]*timbre.Allocator, len(partitions)),
		logger: slog.Default(),
		meter:  otel.Meter("github.com/loqalabs/radiodrama/casting"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("component", "casting"))
	c.initMetrics()

	split := make(map[dialog.Gender]map[string]string, len(partitions))
	for character, key := range seed {
		voice, ok := bank.Lookup(key)
		if !ok {
			return nil, fmt.Errorf("%w: %q is assigned unknown voice %q", timbre.ErrInvalidSeed, character, key)
		}
		if split[voice.Gender] == nil {
			split[voice.Gender] = make(map[string]string)
		}
		split[voice.Gender][character] = key
	}

	for _, g := range partitions {
		candidates := bank.Keys(g)
		if len(candidates) == 0 {
			c.logger.Warn("no voices for partition", slog.String("partition", string(g)))
			c.pools[g] = &timbre.Allocator{}
			continue
		}
		alloc, err := timbre.New(candidates, split[g], timbre.WithObserver(c.observer(g)))
		if err != nil {
			return nil, fmt.Errorf("%s voices: %w", g, err)
		}
		c.pools[g] = alloc
	}
	c.registerGauge()
	return c, nil
}

// Assign returns the timbre for character, resolving within the pool of gender.
func (c *Casting) Assign(character string, gender dialog.Gender) (string, error) {
	pool, ok := c.pools[gender]
	if !ok {
		return "", fmt.Errorf("no voice partition for gender %q", gender)
	}
	key, err := pool.Resolve(character)
	c.dispatch()
	if err != nil {
		return "", fmt.Errorf("assign %s voice to %q: %w", gender, character, err)
	}
	if c.resolves != nil {
		c.resolves.Add(context.Background(), 1, metric.WithAttributes(attribute.String("partition", string(gender))))
	}
	return key, nil
}

// Snapshot merges the assignments of every partition.
func (c *Casting) Snapshot() map[string]string {
	out := make(map[string]string)
	for _, g := range partitions {
		for k, v := range c.pools[g].Snapshot() {
			out[k] = v
		}
	}
	return out
}

// Characters lists resident characters of one partition, most recent first.
func (c *Casting) Characters(gender dialog.Gender) []string {
	pool, ok := c.pools[gender]
	if !ok {
		return nil
	}
	return pool.Residents()
}

// observer runs under the allocator lock, so it only queues.
func (c *Casting) observer(g dialog.Gender) timbre.EvictionObserver {
	return timbre.ObserverFunc(func(evicted, key, successor string) {
		c.pendingMu.Lock()
		c.pending = append(c.pending, Eviction{Partition: g, Character: evicted, Timbre: key, Successor: successor})
		c.pendingMu.Unlock()
	})
}

func (c *Casting) dispatch() {
	c.pendingMu.Lock()
	queued := c.pending
	c.pending = nil
	c.pendingMu.Unlock()

	for _, ev := range queued {
		c.logger.Info("character lost its voice",
			slog.String("partition", string(ev.Partition)),
			slog.String("character", ev.Character),
			slog.String("timbre", ev.Timbre),
			slog.String("successor", ev.Successor))
		if c.evictions != nil {
			c.evictions.Add(context.Background(), 1, metric.WithAttributes(attribute.String("partition", string(ev.Partition))))
		}
		for _, hook := range c.hooks {
			hook(ev)
		}
	}
}

func (c *Casting) initMetrics() {
	if c.meter == nil {
		return
	}
	var err error
	if c.resolves, err = c.meter.Int64Counter("drama.timbre.resolves", metric.WithDescription("Timbre lookups")); err != nil {
		c.logger.Warn("failed to create metric", slog.String("error", err.Error()))
	}
	if c.evictions, err = c.meter.Int64Counter("drama.timbre.evictions", metric.WithDescription("Characters evicted from a timbre")); err != nil {
		c.logger.Warn("failed to create metric", slog.String("error", err.Error()))
	}
}

func (c *Casting) registerGauge() {
	if c.meter == nil {
		return
	}
	gauge, err := c.meter.Int64ObservableGauge("drama.timbre.residents", metric.WithDescription("Characters currently holding a timbre"))
	if err != nil {
		c.logger.Warn("failed to create metric", slog.String("error", err.Error()))
		return
	}
	_, err = c.meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		for _, g := range partitions {
			obs.ObserveInt64(gauge, int64(c.pools[g].Len()), metric.WithAttributes(attribute.String("partition", string(g))))
		}
		return nil
	}, gauge)
	if err != nil {
		c.logger.Warn("failed to register metric callback", slog.String("error", err.Error()))
	}
}

// Summary renders the assignments sorted by character, for logs.
func Summary(assignments map[string]string) []string {
	out := make([]string, 0, len(assignments))
	for k, v := range assignments {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// Voice assigns the timbre for whoever speaks line in cast.
func (c *Casting) Voice(cast *dialog.Cast, line dialog.Line) (string, error) {
	return c.Assign(line.CharacterKey(), cast.Gender(line))
}
