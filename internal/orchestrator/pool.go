package orchestrator

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/casesmith/internal/logging"
	"github.com/fyrsmithlabs/casesmith/internal/model"
	"github.com/fyrsmithlabs/casesmith/internal/roles"
)

// writeResult is one worker's answer for the strategy at index.
type writeResult struct {
	index int
	cases []model.TestCase
	err   error
}

// write runs the writer over every strategy with at most c.concurrency
// calls in flight. Results land in slots indexed by strategy position, so
// the flattened output follows strategy order whatever the completion order.
func (c *Coordinator) write(ctx context.Context, run *PipelineRun) error {
	strategies := run.Strategies
	requirements := make(map[string]model.RequirementUnit, len(run.Requirements))
	for _, r := range run.Requirements {
		requirements[r.ID] = r
	}

	results := make(chan writeResult)
	var g errgroup.Group
	g.SetLimit(c.concurrency)

	go func() {
		defer close(results)
		for i, s := range strategies {
			if ctx.Err() != nil {
				break
			}
			in := roles.WriterInput{
				Strategy:    s,
				Requirement: requirements[s.RequirementRef],
				Template:    c.template,
			}
			g.Go(func() error {
				cases, err := c.roles.Writer.Run(logging.WithUnit(ctx, s.ID), in)
				results <- writeResult{index: i, cases: cases, err: err}
				return nil
			})
		}
		_ = g.Wait()
	}()

	slots := make([][]model.TestCase, len(strategies))
	done := 0
	for res := range results {
		done++
		s := strategies[res.index]
		c.report(Progress{Stage: StageWriting, Message: s.ID, Done: done, Total: len(strategies), Items: len(res.cases)})

		if res.err != nil {
			if ctx.Err() == nil {
				c.unitFailed(ctx, run, s.ID, res.err)
			}
			continue
		}
		if len(res.cases) == 0 {
			run.record(StageWriting, s.ID, SeverityWarning, errors.New("writer returned no test cases"))
			continue
		}
		slots[res.index] = ownCases(s, res.cases)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, group := range slots {
		run.Cases = append(run.Cases, group...)
	}
	c.logger.Info(ctx, "draft cases written",
		zap.Int("cases", len(run.Cases)),
		zap.Int("strategies", len(strategies)),
		zap.Int("concurrency", c.concurrency),
	)
	if len(run.Cases) == 0 {
		return &RunFailedError{Stage: StageWriting, Reason: "no draft test cases were written"}
	}
	return nil
}

// ownCases ties cases to their strategy: IDs follow position in the
// writer's reply and every case starts as a draft.
func ownCases(s model.StrategyUnit, cases []model.TestCase) []model.TestCase {
	out := make([]model.TestCase, len(cases))
	for i, tc := range cases {
		tc.ID = model.CaseID(s.ID, i+1)
		tc.StrategyRef = s.ID
		tc.Status = model.StatusDraft
		tc.ReviewNote = ""
		out[i] = tc
	}
	return out
}
