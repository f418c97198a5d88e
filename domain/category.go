package domain

import (
	"errors"
	"fmt"
	"sort"
)

var ErrCategoryCycle = errors.New("category hierarchy contains a cycle")

type Category struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	ParentID *int64 `json:"parent_id,omitempty"`
}

// CategoryTree indexes categories by id so parent chains can be walked without recursion.
type CategoryTree struct {
	byID map[int64]Category
}

func NewCategoryTree(categories []Category) *CategoryTree {
	byID := make(map[int64]Category, len(categories))
	for _, c := range categories {
		byID[c.ID] = c
	}
	return &CategoryTree{byID: byID}
}

// Ancestors returns the parent chain of id, nearest parent first.
// A dangling parent reference ends the chain.
func (t *CategoryTree) Ancestors(id int64) ([]Category, error) {
	current, ok := t.byID[id]
	if !ok {
		return nil, &NotFoundError{Entity: "category", ID: id}
	}

	seen := map[int64]struct{}{id: {}}
	var chain []Category
	for current.ParentID != nil {
		parentID := *current.ParentID
		if _, dup := seen[parentID]; dup {
			return chain, fmt.Errorf("%w: category %d revisited", ErrCategoryCycle, parentID)
		}
		parent, exists := t.byID[parentID]
		if !exists {
			break
		}
		seen[parentID] = struct{}{}
		chain = append(chain, parent)
		current = parent
	}
	return chain, nil
}

// Children returns the direct children of id ordered by id.
func (t *CategoryTree) Children(id int64) []Category {
	var out []Category
	for _, c := range t.byID {
		if c.ParentID != nil && *c.ParentID == id {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
