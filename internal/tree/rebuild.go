package tree

import (
	"context"
	"fmt"

	"github.com/erazemk/rdb/internal/store"
)

// Node is one row of a tree table.
type Node struct {
	ID       int64
	ParentID *int64
	TreeID   int64
	Lft      int64
	Rgt      int64
	Level    int
}

// Number computes nested-set columns for nodes, which must be given in
// sibling order. Nodes whose parent is missing become roots. A tree's ID is
// the ID of its root, so adding or removing one tree leaves the others as
// they are. Nodes that
// cannot be reached from any root are part of a parent cycle and make
// Number fail with ErrCycle.
func Number(nodes []Node) ([]Node, error) {
	index := make(map[int64]int, len(nodes))
	for i, n := range nodes {
		index[n.ID] = i
	}

	children := make(map[int64][]int, len(nodes))
	var roots []int
	for i, n := range nodes {
		if n.ParentID == nil {
			roots = append(roots, i)
			continue
		}
		if _, ok := index[*n.ParentID]; !ok {
			roots = append(roots, i)
			continue
		}
		children[*n.ParentID] = append(children[*n.ParentID], i)
	}

	out := make([]Node, len(nodes))
	copy(out, nodes)
	numbered := 0

	var walk func(i int, treeID, counter int64, level int) int64
	walk = func(i int, treeID, counter int64, level int) int64 {
		n := &out[i]
		n.TreeID = treeID
		n.Level = level
		n.Lft = counter
		counter++
		for _, c := range children[n.ID] {
			counter = walk(c, treeID, counter, level+1)
		}
		n.Rgt = counter
		numbered++
		return counter + 1
	}

	for _, r := range roots {
		walk(r, out[r].ID, 1, 0)
	}

	if numbered != len(nodes) {
		return nil, fmt.Errorf("%d nodes unreachable from any root: %w", len(nodes)-numbered, ErrCycle)
	}
	return out, nil
}

func load(ctx context.Context, q store.Querier, kind Kind) ([]Node, error) {
	table, err := kind.table()
	if err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx,
		`SELECT id, parent_id, tree_id, lft, rgt, level FROM `+table+` ORDER BY `+siblingOrder[kind])
	if err != nil {
		return nil, fmt.Errorf("loading %s tree: %w", kind, err)
	}
	defer rows.Close()

	var nodes []Node
	for rows.Next() {
		var n Node
		if err := rows.Scan(&n.ID, &n.ParentID, &n.TreeID, &n.Lft, &n.Rgt, &n.Level); err != nil {
			return nil, fmt.Errorf("scanning %s node: %w", kind, err)
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// Rebuild recomputes the nested-set columns of every row of kind from the
// parent pointers. It returns the number of rows whose numbering changed.
func Rebuild(ctx context.Context, q store.Querier, kind Kind) (int, error) {
	current, err := load(ctx, q, kind)
	if err != nil {
		return 0, err
	}
	numbered, err := Number(current)
	if err != nil {
		return 0, fmt.Errorf("rebuilding %s: %w", kind, err)
	}

	changed := 0
	for i, n := range numbered {
		if sameNumbering(current[i], n) {
			continue
		}
		if _, err := q.ExecContext(ctx,
			`UPDATE `+string(kind)+` SET tree_id = ?, lft = ?, rgt = ?, level = ? WHERE id = ?`,
			n.TreeID, n.Lft, n.Rgt, n.Level, n.ID,
		); err != nil {
			return changed, fmt.Errorf("renumbering %s %d: %w", kind, n.ID, err)
		}
		changed++
	}
	return changed, nil
}

// Check reports how many rows of kind have numbering that disagrees with
// their parent pointers. Zero means descendant queries are accurate.
func Check(ctx context.Context, q store.Querier, kind Kind) (int, error) {
	current, err := load(ctx, q, kind)
	if err != nil {
		return 0, err
	}
	numbered, err := Number(current)
	if err != nil {
		return 0, fmt.Errorf("checking %s: %w", kind, err)
	}

	stale := 0
	for i := range numbered {
		if !sameNumbering(current[i], numbered[i]) {
			stale++
		}
	}
	return stale, nil
}

func sameNumbering(a, b Node) bool {
	return a.TreeID == b.TreeID && a.Lft == b.Lft && a.Rgt == b.Rgt && a.Level == b.Level
}
