// Package snapshot copies trees of template slots and inventory.
package snapshot

import (
	"context"
	"fmt"
)

// Cloner walks and duplicates one kind of tree.
type Cloner interface {
	// Children returns a node's children in sibling order.
	Children(ctx context.Context, id int64) ([]int64, error)
	// Clone creates a copy of id under parent. It reports ok=false when
	// the node has no place in the destination, which skips its subtree.
	Clone(ctx context.Context, id int64, parent *int64) (newID int64, ok bool, err error)
}

// Result describes a finished copy.
type Result struct {
	// RootID is the copy of the root, or zero if the root was skipped.
	RootID  int64           `json:"root_id"`
	Created int             `json:"created"`
	Mapping map[int64]int64 `json:"mapping"`
	// Skipped lists source nodes whose subtree was left out.
	Skipped []int64 `json:"skipped,omitempty"`
}

// Partial reports whether any subtree was skipped.
func (r *Result) Partial() bool { return len(r.Skipped) > 0 }

// CopySubtree clones root and its descendants under newParent, pre-order,
// keeping the shape and the sibling order of the source.
func CopySubtree(ctx context.Context, c Cloner, root int64, newParent *int64) (*Result, error) {
	res := &Result{Mapping: make(map[int64]int64)}
	if err := copyNode(ctx, c, root, newParent, res); err != nil {
		return nil, err
	}
	res.RootID = res.Mapping[root]
	return res, nil
}

func copyNode(ctx context.Context, c Cloner, id int64, parent *int64, res *Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	newID, ok, err := c.Clone(ctx, id, parent)
	if err != nil {
		return fmt.Errorf("copying node %d: %w", id, err)
	}
	if !ok {
		res.Skipped = append(res.Skipped, id)
		return nil
	}
	res.Mapping[id] = newID
	res.Created++

	children, err := c.Children(ctx, id)
	if err != nil {
		return fmt.Errorf("listing children of %d: %w", id, err)
	}
	for _, child := range children {
		if err := copyNode(ctx, c, child, &newID, res); err != nil {
			return err
		}
	}
	return nil
}
