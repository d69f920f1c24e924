package cli

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestSplitPkgArg(t *testing.T) {
	cases := []struct {
		arg      string
		wantName string
		wantRng  string
	}{
		{"lodash@^4.17.21", "lodash", "^4.17.21"},
		{"lodash", "lodash", "*"},
		{"@babel/core@^7.0.0", "@babel/core", "^7.0.0"},
		{"@babel/core", "@babel/core", "*"},
	}
	for _, tc := range cases {
		name, rng := splitPkgArg(tc.arg)
		assert.Equal(t, name, tc.wantName)
		assert.Equal(t, rng, tc.wantRng)
	}
}

func TestDependencyField(t *testing.T) {
	assert.Equal(t, dependencyField(false, false, false), "dependencies")
	assert.Equal(t, dependencyField(true, false, false), "devDependencies")
	assert.Equal(t, dependencyField(false, true, false), "optionalDependencies")
	assert.Equal(t, dependencyField(false, false, true), "peerDependencies")
}
