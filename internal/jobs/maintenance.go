package jobs

import (
	"context"
	"time"

	"github.com/haasonsaas/chatline/internal/tools"
)

// Job names.
const (
	JobApprovalPrune = "approval_prune"
	JobMemoSweep     = "memo_sweep"
)

const (
	DefaultApprovalPruneSchedule = "@every 10m"
	DefaultMemoSweepSchedule     = "@every 5m"
	DefaultApprovalTTL           = 24 * time.Hour
)

// Config holds maintenance schedules.
type Config struct {
	ApprovalPrune string `yaml:"approval_prune"`
	MemoSweep     string `yaml:"memo_sweep"`
}

// ApplyDefaults fills empty schedules.
func (c *Config) ApplyDefaults() {
	if c.ApprovalPrune == "" {
		c.ApprovalPrune = DefaultApprovalPruneSchedule
	}
	if c.MemoSweep == "" {
		c.MemoSweep = DefaultMemoSweepSchedule
	}
}

// Sweeper drops expired entries from a cache.
type Sweeper interface {
	SweepMemo() int
}

// RegisterMaintenance adds the approval prune and, when memo is set, the
// caption memo sweep.
func RegisterMaintenance(s *Scheduler, cfg Config, approvals tools.ApprovalStore, approvalTTL time.Duration, memo Sweeper) error {
	cfg.ApplyDefaults()
	if approvalTTL <= 0 {
		approvalTTL = DefaultApprovalTTL
	}
	if approvals != nil {
		err := s.Add(JobApprovalPrune, cfg.ApprovalPrune, func(ctx context.Context) (int, error) {
			return approvals.Prune(ctx, approvalTTL)
		})
		if err != nil {
			return err
		}
	}
	if memo != nil {
		err := s.Add(JobMemoSweep, cfg.MemoSweep, func(context.Context) (int, error) {
			return memo.SweepMemo(), nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
