package hoist

// stronglyConnectedComponents groups nodes 0..n-1 into strongly connected
// components using Tarjan's algorithm, returned in reverse topological
// order (a component that depends on nothing else in the set comes first).
// hoister.hoistInto needs exactly that order: a hoist batch that fails
// should never block a later, independent batch in the same pass from
// being tried.
//
// Authored directly rather than reached for a library: the only graph
// library anywhere in the pack (github.com/pyr-sh/dag, teacher's task
// scheduler) is a DAG walker with no documented general-SCC entry point to
// verify against without running the toolchain, and Tarjan's algorithm is
// ~40 lines of well-understood graph theory, not a domain concern worth
// guessing at an unfamiliar API for.
func stronglyConnectedComponents(n int, edges map[int][]int) [][]int {
	index := make([]int, n)
	lowlink := make([]int, n)
	onStack := make([]bool, n)
	visited := make([]bool, n)
	for i := range index {
		index[i] = -1
	}

	var stack []int
	counter := 0
	var result [][]int

	var strongconnect func(v int)
	strongconnect = func(v int) {
		index[v] = counter
		lowlink[v] = counter
		counter++
		visited[v] = true
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range edges[v] {
			if !visited[w] {
				strongconnect(w)
				if lowlink[w] < lowlink[v] {
					lowlink[v] = lowlink[w]
				}
			} else if onStack[w] {
				if index[w] < lowlink[v] {
					lowlink[v] = index[w]
				}
			}
		}

		if lowlink[v] == index[v] {
			var component []int
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				component = append(component, w)
				if w == v {
					break
				}
			}
			result = append(result, component)
		}
	}

	for v := 0; v < n; v++ {
		if !visited[v] {
			strongconnect(v)
		}
	}
	return result
}
