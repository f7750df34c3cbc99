// Package assign provides the gated optimal-assignment solver shared by
// the fuser (detection-to-detection pairing across cameras) and the
// tracker (track-to-observation association). Both call sites build a
// cost matrix and a gating threshold; everything else is identical.
package assign

import "math"

// Forbidden is the sentinel cost for inadmissible pairings. The solver
// never selects an entry at or above this value.
const Forbidden = 1e18

// Solve runs the Kuhn–Munkres (Hungarian) algorithm on an n×m cost
// matrix and returns assignment[i] = column assigned to row i, or -1 if
// row i is unassigned. Rectangular matrices are padded internally with
// Forbidden so excess rows stay unassigned. O(n³) in the larger
// dimension, using the Jonker–Volgenant potentials formulation.
func Solve(cost [][]float64) []int {
	n := len(cost)
	if n == 0 {
		return nil
	}
	m := len(cost[0])
	if m == 0 {
		result := make([]int, n)
		for i := range result {
			result[i] = -1
		}
		return result
	}

	dim := n
	if m > dim {
		dim = m
	}

	c := make([][]float64, dim)
	for i := 0; i < dim; i++ {
		c[i] = make([]float64, dim)
		for j := 0; j < dim; j++ {
			if i < n && j < m {
				c[i][j] = cost[i][j]
			} else {
				c[i][j] = Forbidden
			}
		}
	}

	// 1-indexed arrays keep the augmenting-path arithmetic clean.
	const inf = math.MaxFloat64 / 2

	u := make([]float64, dim+1) // row potentials
	v := make([]float64, dim+1) // column potentials
	p := make([]int, dim+1)     // p[j] = row assigned to column j
	way := make([]int, dim+1)   // way[j] = previous column on the path
	minv := make([]float64, dim+1)
	used := make([]bool, dim+1)

	for i := 1; i <= dim; i++ {
		p[0] = i
		j0 := 0

		for j := 1; j <= dim; j++ {
			minv[j] = inf
			used[j] = false
		}

		for {
			used[j0] = true
			i0 := p[j0]
			delta := inf
			j1 := -1

			for j := 1; j <= dim; j++ {
				if used[j] {
					continue
				}
				cur := c[i0-1][j-1] - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}

			if j1 < 0 {
				break
			}

			for j := 0; j <= dim; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}

			j0 = j1
			if p[j0] == 0 {
				break
			}
		}

		for j0 != 0 {
			p[j0] = p[way[j0]]
			j0 = way[j0]
		}
	}

	rowAssign := make([]int, dim)
	for i := range rowAssign {
		rowAssign[i] = -1
	}
	for j := 1; j <= dim; j++ {
		if p[j] > 0 && p[j] <= dim {
			rowAssign[p[j]-1] = j - 1
		}
	}

	// Trim padding and reject forbidden assignments.
	result := make([]int, n)
	for i := 0; i < n; i++ {
		col := rowAssign[i]
		if col < 0 || col >= m || cost[i][col] >= Forbidden {
			result[i] = -1
		} else {
			result[i] = col
		}
	}

	return result
}

// Matching is the result of a gated assignment: accepted pairs plus the
// row and column indices left unmatched.
type Matching struct {
	Pairs         [][2]int // [row, col], ordered by row index
	UnmatchedRows []int
	UnmatchedCols []int
}

// MatchWithGate solves the assignment problem after replacing every
// cost above gate with Forbidden. Optimal pairs whose original cost
// exceeds the gate are therefore rejected and reported as unmatched on
// both sides. A non-positive gate disables gating. cols is passed
// explicitly because a zero-row matrix carries no column count, yet
// its columns must still be reported unmatched.
func MatchWithGate(cost [][]float64, cols int, gate float64) Matching {
	n := len(cost)
	m := cols

	gated := make([][]float64, n)
	for i := range cost {
		gated[i] = make([]float64, m)
		for j := range cost[i] {
			v := cost[i][j]
			if gate > 0 && v > gate {
				v = Forbidden
			}
			gated[i][j] = v
		}
	}

	rowToCol := Solve(gated)

	match := Matching{}
	colMatched := make([]bool, m)
	for i, j := range rowToCol {
		if j >= 0 {
			match.Pairs = append(match.Pairs, [2]int{i, j})
			colMatched[j] = true
		} else {
			match.UnmatchedRows = append(match.UnmatchedRows, i)
		}
	}
	for j := 0; j < m; j++ {
		if !colMatched[j] {
			match.UnmatchedCols = append(match.UnmatchedCols, j)
		}
	}
	return match
}
