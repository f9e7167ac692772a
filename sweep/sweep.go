// Package sweep runs a background consistency checker over the trees a
// registry manages: on each tick it pulls every row for a configured
// table/schema pair and runs memtree.ValidateTree, logging any violation
// it finds and counting it in an atomic counter the HTTP health endpoint
// can expose. It never mutates anything; repair is a separate, manual
// operation.
package sweep

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"nestedset/memtree"
	"nestedset/nestedset"
	"nestedset/store"
	"nestedset/treequery"
)

// Target names one host table/schema pair the checker validates each tick.
type Target struct {
	Name   string
	Schema nestedset.Schema
	Repo   store.Repository
}

// Checker periodically validates a set of targets on its own ticker.
type Checker struct {
	targets    []Target
	interval   time.Duration
	stop       chan struct{}
	violations atomic.Int64
}

// New creates a Checker that validates targets every interval.
func New(targets []Target, interval time.Duration) *Checker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Checker{targets: targets, interval: interval, stop: make(chan struct{})}
}

// Start begins the sweep loop in a new goroutine.
func (c *Checker) Start(ctx context.Context) {
	go c.run(ctx)
}

// Stop signals the sweep loop to exit.
func (c *Checker) Stop() {
	close(c.stop)
}

// Violations returns the total number of inconsistencies found since the
// checker started, for the health endpoint.
func (c *Checker) Violations() int64 {
	return c.violations.Load()
}

func (c *Checker) run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweepAll(ctx)
		}
	}
}

func (c *Checker) sweepAll(ctx context.Context) {
	for _, t := range c.targets {
		if err := c.checkOne(ctx, t); err != nil {
			log.Printf("sweep: %s: %v", t.Name, err)
		}
	}
}

func (c *Checker) checkOne(ctx context.Context, t Target) error {
	violation, err := validateTarget(ctx, t)
	if err != nil {
		return err
	}
	if violation != nil {
		c.violations.Add(1)
		log.Printf("sweep: %s: inconsistency found: %v", t.Name, violation)
	}
	return nil
}

// validateTarget loads every row for t and validates it, grouping by
// tree discriminator first when t.Schema is in multi-tree mode, since
// memtree.ValidateTree assumes a single scope.
func validateTarget(ctx context.Context, t Target) (violation error, err error) {
	err = t.Repo.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
		rows, err := tx.Select(ctx, treequery.New(t.Schema.Table))
		if err != nil {
			return err
		}
		if col, ok := t.Schema.TreeColumn(); ok {
			violation = validateByScope(rows, t.Schema, col)
		} else {
			violation = memtree.ValidateTree(rows, t.Schema)
		}
		return nil
	})
	return violation, err
}

func validateByScope(rows []nestedset.Row, schema nestedset.Schema, col string) error {
	byTree := make(map[any][]nestedset.Row)
	for _, row := range rows {
		byTree[row[col]] = append(byTree[row[col]], row)
	}
	for _, scoped := range byTree {
		if err := memtree.ValidateTree(scoped, schema); err != nil {
			return err
		}
	}
	return nil
}

// ProcessAll runs every target's check once, synchronously, returning the
// first inconsistency found across all targets. Useful for tests and for
// an explicit "check now" CLI command.
func (c *Checker) ProcessAll(ctx context.Context) error {
	for _, t := range c.targets {
		violation, err := validateTarget(ctx, t)
		if err != nil {
			return err
		}
		if violation != nil {
			return violation
		}
	}
	return nil
}
