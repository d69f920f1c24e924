// Adapted from https://github.com/thought-machine/please/tree/master/src/scm
// Copyright Thought Machine, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0
package scm

// stub is the SCM used outside of a git repository: every query reports no
// changes rather than failing, so a --since-less operation keeps working.
type stub struct{}

func (s *stub) ChangedFiles(fromCommit string, toCommit string, relativeTo string) ([]string, error) {
	return nil, nil
}
