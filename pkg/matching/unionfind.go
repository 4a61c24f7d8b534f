package matching

// unionFind tracks connected components over record indexes
type unionFind struct {
	parent []int
	size   []int
}

func newUnionFind(n int) *unionFind {
	u := &unionFind{parent: make([]int, n), size: make([]int, n)}
	for i := range u.parent {
		u.parent[i] = i
		u.size[i] = 1
	}
	return u
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

// union joins the components of a and b. forced is true when both were already
// multi-member components; size is the size of the resulting component.
func (u *unionFind) union(a, b int) (joined, forced bool, size int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return false, false, u.size[ra]
	}
	forced = u.size[ra] > 1 && u.size[rb] > 1

	// larger component wins, lower index on ties
	if u.size[ra] < u.size[rb] || (u.size[ra] == u.size[rb] && rb < ra) {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
	u.size[ra] += u.size[rb]
	return true, forced, u.size[ra]
}
