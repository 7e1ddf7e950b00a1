// Copyright 2025 James Ross
// Package pluginmgr orchestrates the plugin lifecycle across the whole
// daemon: loading, unloading, reloading, dependency checking and the
// aggregated registry every loaded plugin feeds into.
package pluginmgr

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/kafuuchino-desu/mcdr-go/internal/plugin"
)

// SingleOperationResult records the outcome of one batch of same-kind
// plugin operations (a load pass, an unload pass, a reload pass, a
// dependency check pass): which plugins succeeded, in the order they were
// processed, and which failed, with a reason each.
type SingleOperationResult struct {
	SuccessList []*plugin.Plugin
	FailedList  []*plugin.Plugin
	Reasons     map[string]string
}

// NewSingleOperationResult returns an empty result ready to record into.
func NewSingleOperationResult() *SingleOperationResult {
	return &SingleOperationResult{Reasons: make(map[string]string)}
}

// Succeed records p as having completed this operation successfully.
func (r *SingleOperationResult) Succeed(p *plugin.Plugin) {
	r.SuccessList = append(r.SuccessList, p)
}

// Fail records that a plugin-to-be (identified only by path, since a failed
// load never produces a *plugin.Plugin worth keeping) failed this
// operation.
func (r *SingleOperationResult) Fail(path, reason string) {
	r.Reasons[path] = reason
}

// Record stores p's outcome: success or failure with reason.
func (r *SingleOperationResult) Record(p *plugin.Plugin, ok bool, reason string) {
	if ok {
		r.Succeed(p)
	} else {
		r.FailedList = append(r.FailedList, p)
		if p != nil {
			r.Reasons[p.ID()] = reason
		}
	}
}

// Err combines every failure reason into a single multierr-joined error,
// nil if every plugin in this batch succeeded.
func (r *SingleOperationResult) Err() error {
	var err error
	for id, reason := range r.Reasons {
		err = multierr.Append(err, fmt.Errorf("%s: %s", id, reason))
	}
	return err
}

// OperationResult aggregates the four SingleOperationResults produced by
// one refresh/load/unload/reload pass, mirroring the original's
// PluginOperationResult.record call across a load, unload, reload and
// dependency-check result.
type OperationResult struct {
	Load     *SingleOperationResult
	Unload   *SingleOperationResult
	Reload   *SingleOperationResult
	DepCheck *SingleOperationResult
}

// Record replaces the four component results with this pass's outcome.
func (r *OperationResult) Record(load, unload, reload, depCheck *SingleOperationResult) {
	r.Load = load
	r.Unload = unload
	r.Reload = reload
	r.DepCheck = depCheck
}

// Err combines every component result's failures into one error.
func (r *OperationResult) Err() error {
	var err error
	for _, res := range []*SingleOperationResult{r.Load, r.Unload, r.Reload, r.DepCheck} {
		if res != nil {
			err = multierr.Append(err, res.Err())
		}
	}
	return err
}
