// Package build implements the ordered, partial-failure-tolerant build-
// script executor: given a list of packages that declare a build step and
// the physical dependency relation between every package in the install
// (not just the ones that build), it runs each package's build commands no
// earlier than every package it depends on has settled, with bounded
// parallelism and a per-node allowed-to-fail escape hatch.
//
// Grounded on the teacher's internal/core (Engine/Scheduler): the same
// dag.AcyclicGraph-plus-semaphore walk shape, generalized from "package#task
// vertex, Visitor callback" to "locator vertex, spawn build commands via
// internal/process.Manager". Cycle detection reuses internal/util.ValidateGraph's
// approach (graph.Cycles()) but additionally picks the smallest cycle to
// report, since spec'd behavior asks for that rather than the whole list.
package build

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"sort"
	"sync"

	"github.com/hashicorp/go-hclog"
	hcmultierror "github.com/hashicorp/go-multierror"
	"github.com/pyr-sh/dag"

	"github.com/quillpm/quill/internal/locator"
	"github.com/quillpm/quill/internal/logstreamer"
	"github.com/quillpm/quill/internal/process"
	"github.com/quillpm/quill/internal/turbopath"
	"github.com/quillpm/quill/internal/util"
)

// Request is one package's build step: spec §4.I's {cwd, locator, commands,
// allowed_to_fail, force_rebuild}.
type Request struct {
	Cwd           turbopath.AbsoluteSystemPath
	Locator       locator.Locator
	Commands      []string
	AllowedToFail bool
	ForceRebuild  bool
}

// DependencyGraph is the full physical dependency relation the executor
// schedules against, keyed and valued by locator.ToFileString(). It must
// include every locator reachable from a Request's locator, not just the
// ones with a build step, so a build-less package passes its own
// dependencies' failures through to whatever depends on it in turn.
type DependencyGraph map[string][]string

// CircularBuildDependency is returned when the dependency relation has a
// cycle; Cycle holds the smallest one found, in locator-string form.
type CircularBuildDependency struct {
	Cycle []string
}

func (e *CircularBuildDependency) Error() string {
	return fmt.Sprintf("circular build dependency: %v", e.Cycle)
}

// Summary tabulates how every requested build settled.
type Summary struct {
	Succeeded []locator.Locator
	SoftFailed []locator.Locator // failed, but the request was allowed_to_fail
	HardFailed []locator.Locator // failed outright, or aborted because an upstream build hard-failed
}

type nodeState int

const (
	stateOK nodeState = iota
	stateSoftFailed
	stateHardFailed
	stateAborted
)

// Executor runs build requests to completion.
type Executor struct {
	Manager     *process.Manager
	Logger      hclog.Logger
	Concurrency int
}

// NewExecutor returns an Executor that spawns build commands through
// manager and bounds concurrent jobs at concurrency (<=0 means unbounded).
func NewExecutor(manager *process.Manager, logger hclog.Logger, concurrency int) *Executor {
	return &Executor{Manager: manager, Logger: logger, Concurrency: concurrency}
}

// Run schedules and executes every request, respecting deps, and returns
// once every reachable node has settled (or the cycle pre-check failed).
// The returned error aggregates every failed build command, including
// allowed-to-fail ones; the Summary tells soft and hard failures apart.
func (ex *Executor) Run(ctx context.Context, requests []Request, deps DependencyGraph) (*Summary, error) {
	g, err := buildGraph(deps)
	if err != nil {
		return nil, err
	}
	if err := util.ValidateGraph(g); err != nil {
		cycle := smallestCycle(g)
		if cycle != nil {
			return nil, &CircularBuildDependency{Cycle: cycle}
		}
		return nil, err
	}

	byKey := make(map[string]Request, len(requests))
	for _, r := range requests {
		byKey[r.Locator.ToFileString()] = r
		g.Add(r.Locator.ToFileString())
	}

	var (
		mu      sync.Mutex
		states  = make(map[string]nodeState, len(byKey))
		sema    = util.NewSemaphore(ex.Concurrency)
		runErrs []error
	)

	walkErrs := g.Walk(func(v dag.Vertex) error {
		key, ok := v.(string)
		if !ok {
			return nil
		}

		poisoned := false
		mu.Lock()
		for _, dep := range deps[key] {
			if states[dep] == stateHardFailed || states[dep] == stateAborted {
				poisoned = true
				break
			}
		}
		mu.Unlock()

		if poisoned {
			mu.Lock()
			states[key] = stateAborted
			mu.Unlock()
			return nil
		}

		req, hasRequest := byKey[key]
		if !hasRequest {
			mu.Lock()
			states[key] = stateOK
			mu.Unlock()
			return nil
		}

		sema.Acquire()
		defer sema.Release()

		runErr := ex.runRequest(ctx, req)

		mu.Lock()
		switch {
		case runErr == nil:
			states[key] = stateOK
		case req.AllowedToFail:
			states[key] = stateSoftFailed
		default:
			states[key] = stateHardFailed
		}
		if runErr != nil {
			runErrs = append(runErrs, runErr)
		}
		mu.Unlock()
		return nil
	})

	var summaryErr *hcmultierror.Error
	for _, e := range walkErrs {
		summaryErr = hcmultierror.Append(summaryErr, e)
	}
	for _, e := range runErrs {
		summaryErr = hcmultierror.Append(summaryErr, e)
	}

	summary := &Summary{}
	for _, r := range requests {
		switch states[r.Locator.ToFileString()] {
		case stateOK:
			summary.Succeeded = append(summary.Succeeded, r.Locator)
		case stateSoftFailed:
			summary.SoftFailed = append(summary.SoftFailed, r.Locator)
		default: // stateHardFailed or stateAborted
			summary.HardFailed = append(summary.HardFailed, r.Locator)
		}
	}
	return summary, summaryErr.ErrorOrNil()
}

func (ex *Executor) runRequest(ctx context.Context, req Request) error {
	for _, command := range req.Commands {
		cmd := exec.CommandContext(ctx, "sh", "-c", command)
		cmd.Dir = req.Cwd.ToString()

		stdout := logstreamer.NewLogstreamer(log.Default(), "stdout", false)
		stderr := logstreamer.NewLogstreamer(log.Default(), "stderr", false)
		cmd.Stdout = stdout
		cmd.Stderr = stderr

		err := ex.Manager.Exec(cmd)
		stdout.Close()
		stderr.Close()
		if err != nil {
			return fmt.Errorf("build: %s: %q: %w", req.Locator.ToHumanString(), command, err)
		}
	}
	return nil
}

func buildGraph(deps DependencyGraph) (*dag.AcyclicGraph, error) {
	var g dag.AcyclicGraph
	for dependent, dependencies := range deps {
		g.Add(dependent)
		for _, dependency := range dependencies {
			g.Add(dependency)
			g.Connect(dag.BasicEdge(dependent, dependency))
		}
	}
	return &g, nil
}

// smallestCycle returns the shortest cycle g.Cycles() finds, in stable
// sorted-within-cycle order for deterministic error messages, or nil if
// the graph is (now) acyclic.
func smallestCycle(g *dag.AcyclicGraph) []string {
	cycles := g.Cycles()
	if len(cycles) == 0 {
		return nil
	}
	best := cycles[0]
	for _, c := range cycles[1:] {
		if len(c) < len(best) {
			best = c
		}
	}
	out := make([]string, 0, len(best))
	for _, v := range best {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
