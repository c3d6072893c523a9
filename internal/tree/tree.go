// Package tree maintains the nested-set ordering of the hierarchical tables.
//
// Parent pointers are the source of truth. The tree_id, lft, rgt and level
// columns are derived from them by Rebuild and are only correct for
// descendant and root queries after it has run.
package tree

import (
	"context"
	"errors"
	"fmt"

	"github.com/erazemk/rdb/internal/store"
)

// Kind names one of the tree-structured tables.
type Kind string

// Tree kinds.
const (
	Locations          Kind = "locations"
	Inventory          Kind = "inventory"
	AssemblyParts      Kind = "assembly_parts"
	MooringParts       Kind = "mooring_parts"
	InventorySnapshots Kind = "inventory_snapshots"
)

// Kinds lists every tree kind in a stable order.
var Kinds = []Kind{Locations, Inventory, AssemblyParts, MooringParts, InventorySnapshots}

// siblingOrder is the ORDER BY clause that fixes sibling order per kind.
var siblingOrder = map[Kind]string{
	Locations:          "name, id",
	Inventory:          "serial_number, id",
	AssemblyParts:      "sort_order, id",
	MooringParts:       "sort_order, id",
	InventorySnapshots: "sort_order, id",
}

var (
	// ErrUnknownKind is returned for a Kind that names no tree table.
	ErrUnknownKind = errors.New("unknown tree kind")
	// ErrCycle is returned when parent pointers would form a loop.
	ErrCycle = errors.New("tree contains a cycle")
)

// maxDepth bounds parent-pointer walks on corrupt data.
const maxDepth = 1000

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if _, ok := siblingOrder[k]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}

func (k Kind) table() (string, error) {
	if _, ok := siblingOrder[k]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, string(k))
	}
	return string(k), nil
}

// Children returns the IDs of a node's direct children in sibling order.
// It reads parent pointers, so it reflects moves immediately.
func Children(ctx context.Context, q store.Querier, kind Kind, id int64) ([]int64, error) {
	table, err := kind.table()
	if err != nil {
		return nil, err
	}
	return queryIDs(ctx, q,
		`SELECT id FROM `+table+` WHERE parent_id = ? ORDER BY `+siblingOrder[kind], id)
}

// Descendants returns a node's subtree in pre-order as of the last Rebuild.
func Descendants(ctx context.Context, q store.Querier, kind Kind, id int64, includeSelf bool) ([]int64, error) {
	table, err := kind.table()
	if err != nil {
		return nil, err
	}

	var treeID, lft, rgt int64
	err = q.QueryRowContext(ctx,
		`SELECT tree_id, lft, rgt FROM `+table+` WHERE id = ?`, id,
	).Scan(&treeID, &lft, &rgt)
	if err != nil {
		return nil, fmt.Errorf("getting %s node %d: %w", kind, id, err)
	}

	// Never numbered: nothing is known below it yet.
	if rgt <= lft {
		if includeSelf {
			return []int64{id}, nil
		}
		return nil, nil
	}

	cmp := ">"
	if includeSelf {
		cmp = ">="
	}
	return queryIDs(ctx, q,
		`SELECT id FROM `+table+` WHERE tree_id = ? AND lft `+cmp+` ? AND lft < ? ORDER BY lft`,
		treeID, lft, rgt)
}

// Root returns the root of a node's tree as of the last Rebuild. A node
// that has never been numbered is its own root.
func Root(ctx context.Context, q store.Querier, kind Kind, id int64) (int64, error) {
	table, err := kind.table()
	if err != nil {
		return 0, err
	}

	var treeID, lft, rgt int64
	err = q.QueryRowContext(ctx,
		`SELECT tree_id, lft, rgt FROM `+table+` WHERE id = ?`, id,
	).Scan(&treeID, &lft, &rgt)
	if err != nil {
		return 0, fmt.Errorf("getting %s node %d: %w", kind, id, err)
	}
	if rgt <= lft || lft == 1 {
		return id, nil
	}

	var root int64
	err = q.QueryRowContext(ctx,
		`SELECT id FROM `+table+` WHERE tree_id = ? AND lft = 1`, treeID,
	).Scan(&root)
	if err != nil {
		return 0, fmt.Errorf("getting %s root of %d: %w", kind, id, err)
	}
	return root, nil
}

// IsAncestor reports whether ancestor lies on the parent chain of id,
// following live parent pointers.
func IsAncestor(ctx context.Context, q store.Querier, kind Kind, ancestor, id int64) (bool, error) {
	table, err := kind.table()
	if err != nil {
		return false, err
	}

	cur := id
	for range maxDepth {
		var parent *int64
		if err := q.QueryRowContext(ctx,
			`SELECT parent_id FROM `+table+` WHERE id = ?`, cur,
		).Scan(&parent); err != nil {
			return false, fmt.Errorf("walking %s parents of %d: %w", kind, id, err)
		}
		if parent == nil {
			return false, nil
		}
		if *parent == ancestor {
			return true, nil
		}
		cur = *parent
	}
	return false, fmt.Errorf("walking %s parents of %d: %w", kind, id, ErrCycle)
}

// Move points a node at a new parent, or makes it a root when parent is
// nil. The nested-set columns are left stale until Rebuild.
func Move(ctx context.Context, q store.Querier, kind Kind, id int64, parent *int64) error {
	table, err := kind.table()
	if err != nil {
		return err
	}

	if parent != nil {
		if *parent == id {
			return fmt.Errorf("moving %s %d under itself: %w", kind, id, ErrCycle)
		}
		below, err := IsAncestor(ctx, q, kind, id, *parent)
		if err != nil {
			return err
		}
		if below {
			return fmt.Errorf("moving %s %d under its descendant %d: %w", kind, id, *parent, ErrCycle)
		}
	}

	if _, err := q.ExecContext(ctx,
		`UPDATE `+table+` SET parent_id = ? WHERE id = ?`, parent, id,
	); err != nil {
		return fmt.Errorf("moving %s %d: %w", kind, id, err)
	}
	return nil
}

func queryIDs(ctx context.Context, q store.Querier, query string, args ...any) ([]int64, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying tree: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning tree node: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
