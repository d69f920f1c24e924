package cli

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestSplitIdentVersion(t *testing.T) {
	cases := []struct {
		name        string
		pattern     string
		wantIdent   string
		wantVersion string
		wantOK      bool
	}{
		{"bare name", "lodash@4.17.21", "lodash", "4.17.21", true},
		{"scoped name", "@babel/core@7.0.0", "@babel/core", "7.0.0", true},
		{"no version", "lodash", "", "", false},
		{"leading at only", "@lodash", "", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id, version, ok := splitIdentVersion(tc.pattern)
			assert.Equal(t, ok, tc.wantOK)
			if !tc.wantOK {
				return
			}
			assert.Equal(t, id, tc.wantIdent)
			assert.Equal(t, version, tc.wantVersion)
		})
	}
}
