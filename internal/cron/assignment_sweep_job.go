package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/terminalpay/pkg/logger"
)

type assignmentSweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

type AssignmentSweepJobParams struct {
	Logger  *logger.Logger
	Sweeper assignmentSweeper
}

// NewAssignmentSweepJob releases terminal assignments older than the
// maximum assignment age.
func NewAssignmentSweepJob(params AssignmentSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Sweeper == nil {
		return nil, fmt.Errorf("assignment sweeper required")
	}
	return &assignmentSweepJob{logg: params.Logger, sweeper: params.Sweeper}, nil
}

type assignmentSweepJob struct {
	logg    *logger.Logger
	sweeper assignmentSweeper
}

func (j *assignmentSweepJob) Name() string { return "terminal-assignment-sweep" }

func (j *assignmentSweepJob) Run(ctx context.Context) error {
	released, err := j.sweeper.SweepExpired(ctx)
	if err != nil {
		return fmt.Errorf("assignment sweep: %w", err)
	}
	j.logg.Debug(j.logg.WithField(ctx, "released", released), "terminal assignment sweep complete")
	return nil
}
