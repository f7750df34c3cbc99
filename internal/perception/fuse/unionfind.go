package fuse

// unionFind is a disjoint-set structure over detection indices within
// one coverage zone. Pairwise cross-camera matches are fed in as
// unions; the resulting groups are the fused objects, so an object
// seen by three or more overlapping cameras collapses transitively.
type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{
		parent: make([]int, n),
		rank:   make([]int, n),
	}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

// find returns the set representative for x, with path compression.
func (uf *unionFind) find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

// union merges the sets containing a and b. Union by rank, with the
// tie broken toward the lower root index so group representatives are
// stable for identical inputs.
func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return
	}
	switch {
	case uf.rank[ra] < uf.rank[rb]:
		uf.parent[ra] = rb
	case uf.rank[ra] > uf.rank[rb]:
		uf.parent[rb] = ra
	default:
		if rb < ra {
			ra, rb = rb, ra
		}
		uf.parent[rb] = ra
		uf.rank[ra]++
	}
}

// groups returns the members of each set, ordered by each group's
// smallest member index, members ascending within a group.
func (uf *unionFind) groups() [][]int {
	byRoot := make(map[int][]int)
	order := make([]int, 0)
	for i := range uf.parent {
		root := uf.find(i)
		if _, seen := byRoot[root]; !seen {
			order = append(order, root)
		}
		byRoot[root] = append(byRoot[root], i)
	}

	// Member indices are appended in ascending order, and the first
	// member of a group is always its smallest index, so ordering the
	// roots by first appearance yields stable output.
	result := make([][]int, 0, len(order))
	for _, root := range order {
		result = append(result, byRoot[root])
	}
	return result
}
