// Package batch runs a function over a list of named resources so that one failing
// resource never stops the others.
package batch

import (
	"context"
	"sort"

	"github.com/rs/zerolog"
	"github.com/savaki/gox/slicex"
)

// DefaultConcurrency bounds how many items run at once.
const DefaultConcurrency = 4

// Item is one unit of work.
type Item[In any] struct {
	Name  string
	Input In
}

// Result is the outcome for one item. Results keep input order.
type Result[Out any] struct {
	Index int
	Name  string
	Value Out
	Err   error
}

// OK reports whether the item succeeded.
func (r Result[Out]) OK() bool {
	return r.Err == nil
}

// Results is the full batch outcome.
type Results[Out any] []Result[Out]

// Succeeded returns the successful results.
func (rr Results[Out]) Succeeded() Results[Out] {
	var out Results[Out]
	for _, r := range rr {
		if r.OK() {
			out = append(out, r)
		}
	}
	return out
}

// Failed returns the failed results.
func (rr Results[Out]) Failed() Results[Out] {
	var out Results[Out]
	for _, r := range rr {
		if !r.OK() {
			out = append(out, r)
		}
	}
	return out
}

// Names lists the names of the results.
func (rr Results[Out]) Names() []string {
	return slicex.Map(rr, func(r Result[Out]) string { return r.Name })
}

// Run applies fn to every item with bounded concurrency. Errors are captured per item
// and logged; they are never returned.
func Run[In, Out any](ctx context.Context, items []Item[In], fn func(ctx context.Context, in In) (Out, error)) Results[Out] {
	return RunWithConcurrency(ctx, DefaultConcurrency, items, fn)
}

// RunWithConcurrency is Run with an explicit bound. A bound of 1 runs items in order,
// which construct trees need because CDK scopes are not safe for concurrent mutation.
func RunWithConcurrency[In, Out any](ctx context.Context, concurrency int, items []Item[In], fn func(ctx context.Context, in In) (Out, error)) Results[Out] {
	logger := zerolog.Ctx(ctx)

	type indexed struct {
		index int
		item  Item[In]
	}
	inputs := make([]indexed, len(items))
	for i, item := range items {
		inputs[i] = indexed{index: i, item: item}
	}

	callback := func(ctx context.Context, in indexed) (Result[Out], error) {
		value, err := fn(ctx, in.item.Input)
		if err != nil {
			logger.Error().Err(err).Str("resource", in.item.Name).Msg("Failed to process resource")
		}
		return Result[Out]{Index: in.index, Name: in.item.Name, Value: value, Err: err}, nil
	}

	if concurrency < 1 {
		concurrency = 1
	}

	results, _ := slicex.MapConcurrent(callback).
		Concurrency(concurrency).
		CollectErrors().
		DoValues(ctx, inputs...)

	out := make(Results[Out], 0, len(results))
	out = append(out, results...)
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Names lists the names of the given items.
func Names[In any](items []Item[In]) []string {
	return slicex.Map(items, func(item Item[In]) string { return item.Name })
}
