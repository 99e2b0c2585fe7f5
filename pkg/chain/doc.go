// Package chain runs ordered sequences of tasks sharing a variable scope.
//
// A Chain executes its tasks in order. Each Task wraps one Work variant:
//
//   - Func: a synchronous work function
//   - Async: a work function started in the background
//   - Wait: blocks until earlier tasks reach a terminal status
//   - Prune: releases earlier task data and/or chain variables
//   - Aggregate: runs a document-store aggregation pipeline
//
// Task failures are recorded on the task and the chain moves on. A work
// function that returns core.Abort(err) stops the chain instead.
//
// Chains are usually built from JSON descriptors through a Registry:
//
//	reg := chain.NewRegistry()
//	chain.RegisterBuiltins(reg)
//	reg.RegisterFunc("fetch", func(ctx context.Context, args FetchArgs) (any, error) { ... })
//	c, err := reg.Build("nightly", descriptors)
//	err = c.Run(ctx)
package chain
