// Package syncer replays queued offline actions. Each category is drained
// independently: a trigger starts a pass only if the category is idle, the
// pass replays actions in enqueue order, and an action leaves the queue only
// once the origin confirms it.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/kanbanhq/syncbox/internal/queue"
	"github.com/kanbanhq/syncbox/internal/strategy"
)

// ErrDraining means the category is already mid-pass; the in-flight pass
// will pick up anything the caller wanted replayed.
var ErrDraining = errors.New("syncer: category already draining")

// PassResult summarizes one drain pass over a category.
type PassResult struct {
	Category  string        `json:"category"`
	Trigger   string        `json:"trigger"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	Attempted int           `json:"attempted"`
	Replayed  int           `json:"replayed"`
	Remaining int           `json:"remaining"`
}

// CategoryStatus is the introspection view of one category.
type CategoryStatus struct {
	State    string      `json:"state"`
	Pending  int         `json:"pending"`
	LastPass *PassResult `json:"lastPass,omitempty"`
}

// Coordinator owns the idle/draining state machine per category and the
// triggers that start passes: a connectivity-restored signal, a cron
// schedule, and explicit requests from the control API.
type Coordinator struct {
	queue   *queue.Queue
	fetcher strategy.Fetcher
	logger  *slog.Logger

	schedule cron.Schedule

	mu       sync.Mutex
	draining map[string]bool
	last     map[string]PassResult
	subs     []func(PassResult)
	running  bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewCoordinator builds a coordinator. schedule is a standard five-field
// cron expression for the periodic wake-up; empty disables it.
func NewCoordinator(q *queue.Queue, fetcher strategy.Fetcher, schedule string, logger *slog.Logger) (*Coordinator, error) {
	c := &Coordinator{
		queue:    q,
		fetcher:  fetcher,
		logger:   logger.With("component", "syncer"),
		draining: make(map[string]bool),
		last:     make(map[string]PassResult),
	}
	if schedule != "" {
		parsed, err := cron.ParseStandard(schedule)
		if err != nil {
			return nil, fmt.Errorf("syncer: parse schedule %q: %w", schedule, err)
		}
		c.schedule = parsed
	}
	return c, nil
}

// Subscribe registers a callback invoked after every completed pass.
// Callbacks run outside the coordinator's lock and must not block long.
func (c *Coordinator) Subscribe(fn func(PassResult)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, fn)
}

// DrainAll runs one pass over every category. Categories drain
// concurrently; one already mid-pass is left to its in-flight drain.
func (c *Coordinator) DrainAll(ctx context.Context, trigger string) ([]PassResult, error) {
	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	results := make([]PassResult, 0, len(queue.Categories()))

	for _, category := range queue.Categories() {
		category := category
		g.Go(func() error {
			res, err := c.DrainCategory(ctx, category, trigger)
			if errors.Is(err, ErrDraining) {
				return nil
			}
			if err != nil {
				return err
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// DrainCategory runs one pass over a single category: snapshot the queued
// actions, replay them in enqueue order, remove each on a confirmed success,
// and leave failures queued for the next trigger.
func (c *Coordinator) DrainCategory(ctx context.Context, category, trigger string) (PassResult, error) {
	if !validCategory(category) {
		return PassResult{}, fmt.Errorf("syncer: unknown category %q", category)
	}
	if !c.begin(category) {
		return PassResult{}, ErrDraining
	}

	res := PassResult{Category: category, Trigger: trigger, StartedAt: time.Now()}
	defer func() {
		res.Duration = time.Since(res.StartedAt)
		c.end(category, res)
	}()

	actions, err := c.queue.Drain(ctx, category)
	if err != nil {
		return res, err
	}
	res.Attempted = len(actions)
	if len(actions) == 0 {
		return res, nil
	}

	c.logger.Info("draining category", "category", category, "trigger", trigger, "actions", len(actions))

	for _, action := range actions {
		if !c.replay(ctx, action) {
			continue
		}
		if err := c.queue.Remove(ctx, action.ID); err != nil {
			// The action stays queued and will replay again; the origin
			// must tolerate the duplicate.
			c.logger.Warn("replayed action not removed", "id", action.ID, "error", err)
		}
		res.Replayed++
	}
	res.Remaining = res.Attempted - res.Replayed

	c.logger.Info("drain pass finished",
		"category", category,
		"replayed", res.Replayed,
		"remaining", res.Remaining)
	return res, nil
}

// replay performs one network attempt for a queued action. Only a 2xx
// answer counts as confirmed; anything else leaves the action queued.
func (c *Coordinator) replay(ctx context.Context, action queue.Action) bool {
	u, err := url.Parse(action.URL)
	if err != nil {
		c.logger.Error("queued action has unparseable url", "id", action.ID, "url", action.URL)
		return false
	}

	resp, err := c.fetcher.Fetch(ctx, &strategy.Request{
		Method: action.Method,
		URL:    u,
		Header: action.Header,
		Body:   action.Body,
	})
	if err != nil {
		c.logger.Info("replay failed, action stays queued", "id", action.ID, "error", err)
		return false
	}
	if !resp.OK() {
		c.logger.Warn("replay rejected by origin, action stays queued",
			"id", action.ID, "method", action.Method, "url", action.URL, "status", resp.Status)
		return false
	}

	c.logger.Debug("action replayed", "id", action.ID, "method", action.Method, "url", action.URL)
	return true
}

// Status reports every category's state, pending depth, and last pass.
func (c *Coordinator) Status(ctx context.Context) (map[string]CategoryStatus, error) {
	counts, err := c.queue.Counts(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]CategoryStatus, len(counts))
	for _, category := range queue.Categories() {
		st := CategoryStatus{State: "idle", Pending: counts[category]}
		if c.draining[category] {
			st.State = "draining"
		}
		if last, ok := c.last[category]; ok {
			cp := last
			st.LastPass = &cp
		}
		out[category] = st
	}
	return out, nil
}

func (c *Coordinator) begin(category string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.draining[category] {
		return false
	}
	c.draining[category] = true
	return true
}

func (c *Coordinator) end(category string, res PassResult) {
	c.mu.Lock()
	c.draining[category] = false
	c.last[category] = res
	subs := make([]func(PassResult), len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()

	for _, fn := range subs {
		fn(res)
	}
}

func validCategory(category string) bool {
	for _, known := range queue.Categories() {
		if category == known {
			return true
		}
	}
	return false
}
