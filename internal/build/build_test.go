package build

import (
	"context"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillpm/quill/internal/ident"
	"github.com/quillpm/quill/internal/locator"
	"github.com/quillpm/quill/internal/process"
	"github.com/quillpm/quill/internal/turbopath"
)

func loc(name string) locator.Locator {
	return locator.New(ident.New("", name), locator.Reference{Kind: locator.KindWorkspaceIdent, WorkspacePath: name})
}

func newTestExecutor() *Executor {
	return NewExecutor(process.NewManager(hclog.NewNullLogger()), hclog.NewNullLogger(), 4)
}

func TestRunOrdersByDependency(t *testing.T) {
	// a depends on b depends on c; only a and c declare build commands.
	a, b, c := loc("a"), loc("b"), loc("c")
	deps := DependencyGraph{
		a.ToFileString(): {b.ToFileString()},
		b.ToFileString(): {c.ToFileString()},
		c.ToFileString(): {},
	}

	requests := []Request{
		{Cwd: turbopath.AbsoluteSystemPath("."), Locator: a, Commands: []string{"echo a"}},
		{Cwd: turbopath.AbsoluteSystemPath("."), Locator: c, Commands: []string{"echo c"}},
	}

	ex := newTestExecutor()
	summary, err := ex.Run(context.Background(), requests, deps)
	require.NoError(t, err)
	assert.Len(t, summary.Succeeded, 2)
	assert.Empty(t, summary.SoftFailed)
	assert.Empty(t, summary.HardFailed)
}

func TestRunHardFailureAbortsDependents(t *testing.T) {
	a, b := loc("a"), loc("b")
	deps := DependencyGraph{
		a.ToFileString(): {b.ToFileString()},
		b.ToFileString(): {},
	}
	requests := []Request{
		{Cwd: turbopath.AbsoluteSystemPath("."), Locator: a, Commands: []string{"echo a"}},
		{Cwd: turbopath.AbsoluteSystemPath("."), Locator: b, Commands: []string{"exit 1"}},
	}

	ex := newTestExecutor()
	summary, err := ex.Run(context.Background(), requests, deps)
	require.Error(t, err)
	assert.Empty(t, summary.Succeeded)
	assert.Empty(t, summary.SoftFailed)
	assert.ElementsMatch(t, summary.HardFailed, []locator.Locator{a, b})
}

func TestRunAllowedToFailDoesNotPoisonDependents(t *testing.T) {
	a, b := loc("a"), loc("b")
	deps := DependencyGraph{
		a.ToFileString(): {b.ToFileString()},
		b.ToFileString(): {},
	}
	requests := []Request{
		{Cwd: turbopath.AbsoluteSystemPath("."), Locator: a, Commands: []string{"echo a"}},
		{Cwd: turbopath.AbsoluteSystemPath("."), Locator: b, Commands: []string{"exit 1"}, AllowedToFail: true},
	}

	ex := newTestExecutor()
	summary, err := ex.Run(context.Background(), requests, deps)
	require.Error(t, err) // the manager still reports the non-zero exit
	assert.ElementsMatch(t, summary.Succeeded, []locator.Locator{a})
	assert.ElementsMatch(t, summary.SoftFailed, []locator.Locator{b})
	assert.Empty(t, summary.HardFailed)
}

func TestRunDetectsCycle(t *testing.T) {
	a, b := loc("a"), loc("b")
	deps := DependencyGraph{
		a.ToFileString(): {b.ToFileString()},
		b.ToFileString(): {a.ToFileString()},
	}

	ex := newTestExecutor()
	_, err := ex.Run(context.Background(), nil, deps)
	require.Error(t, err)
	var cycleErr *CircularBuildDependency
	require.ErrorAs(t, err, &cycleErr)
	assert.Len(t, cycleErr.Cycle, 2)
}
