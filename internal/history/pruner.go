package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/HyphaGroup/execstream/internal/logger"
)

// ErrInvalidCron is returned for an unparseable prune schedule
var ErrInvalidCron = errors.New("invalid cron expression")

// DefaultPruneCron runs retention daily at 03:17
const DefaultPruneCron = "17 3 * * *"

// cronParser is configured for standard 5-field cron (minute hour day month weekday)
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateCron checks if a cron expression is valid
func ValidateCron(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidCron, err)
	}
	return nil
}

// Pruner deletes history older than the retention window on a cron schedule
type Pruner struct {
	store     *Store
	retention time.Duration
	cron      *cron.Cron
	now       func() time.Time
}

// NewPruner creates a pruner; it does nothing until Start
func NewPruner(store *Store, retention time.Duration, expr string) (*Pruner, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("retention must be positive")
	}
	if expr == "" {
		expr = DefaultPruneCron
	}
	if err := ValidateCron(expr); err != nil {
		return nil, err
	}

	p := &Pruner{
		store:     store,
		retention: retention,
		cron:      cron.New(cron.WithParser(cronParser)),
		now:       time.Now,
	}
	if _, err := p.cron.AddFunc(expr, func() { _, _ = p.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCron, err)
	}
	return p, nil
}

// Start begins the schedule
func (p *Pruner) Start() {
	p.cron.Start()
	logger.Slog().Info("history pruner started", "retention", p.retention.String())
}

// Stop halts the schedule and waits for a running prune to finish
func (p *Pruner) Stop() {
	<-p.cron.Stop().Done()
}

// RunOnce prunes immediately
func (p *Pruner) RunOnce(ctx context.Context) (int64, error) {
	cutoff := p.now().Add(-p.retention)
	n, err := p.store.Prune(ctx, cutoff)
	if err != nil {
		logger.Slog().Error("history prune failed", "error", err)
		return 0, err
	}
	if n > 0 {
		logger.Slog().Info("history pruned", "rows", n, "cutoff", cutoff.Format(time.RFC3339))
	}
	return n, nil
}
