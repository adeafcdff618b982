// Package orchestrator drives a test case generation run through its stages.
//
// # Overview
//
// A Coordinator owns one PipelineRun per Run call and moves it forward
// through a fixed state machine:
//
//	Loaded → Analyzing → Designing → Writing → Reviewing → Assembled
//
// Improve runs skip generation and walk Loaded → Reviewing → Assembled.
// Any non-terminal stage may move to Failed. No other transition is
// accepted.
//
// # Stages
//
//   - Analyzing: the analyst runs over each document chunk in order and
//     requirement IDs are assigned in emission order.
//   - Designing: the designer runs over each requirement in order.
//   - Writing: the writer fans out over strategies on a bounded pool. Each
//     result lands in the slot for its strategy, so output order never
//     depends on completion order.
//   - Reviewing: the reviewer proposes verdicts for all drafts in one call
//     and review.Policy decides the final status of each case.
//
// A unit whose role invocation fails is recorded as a warning and skipped.
// A stage that ends with nothing to pass on fails the run with a
// *RunFailedError.
//
// # Gates
//
// Gates run before a stage is entered. They check reference integrity,
// ordering and template conformance; their findings are recorded as
// warnings.
//
// # Usage
//
//	coord := orchestrator.New(orchestrator.Roles{
//		Analyst:  roles.NewAnalyst(inv, model.CategoryFunctional),
//		Designer: roles.NewDesigner(inv),
//		Writer:   roles.NewWriter(inv),
//		Reviewer: roles.NewReviewer(inv),
//	}, tpl, export.NewFileExporter(tpl, logger), orchestrator.WithConcurrency(4))
//
//	run, err := coord.Run(ctx, orchestrator.Request{Source: "reqs.md", Output: "cases.xlsx"})
package orchestrator
