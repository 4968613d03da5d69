// Package hierarchy answers questions about the shape of the user tree:
// downlines, ancestry and descendant checks.
package hierarchy

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/samber/lo"

	"github.com/IlyasAtabaev731/downline-ledger/internal/config"
	"github.com/IlyasAtabaev731/downline-ledger/internal/domain"
	"github.com/IlyasAtabaev731/downline-ledger/internal/domain/models"
)

const searchLimit = 50

// Store is the read side of the hierarchy the traversal needs.
type Store interface {
	User(ctx context.Context, id string) (models.User, error)
	Children(ctx context.Context, parentID string) ([]models.User, error)
}

type Traverser struct {
	store    Store
	logger   *slog.Logger
	maxNodes int
}

func New(cfg config.Ledger, store Store, logger *slog.Logger) *Traverser {
	return &Traverser{store: store, logger: logger, maxNodes: cfg.MaxDownlineNodes}
}

type Downline struct {
	Nodes          []*models.DownlineNode `json:"downline"`
	DirectChildren int                    `json:"direct_children"`
	TotalDownline  int                    `json:"total_downline"`
}

// Downline returns the tree below userID down to maxDepth relative levels
// (maxDepth <= 0 means no depth bound).
func (t *Traverser) Downline(ctx context.Context, userID string, maxDepth int) (Downline, error) {
	const op = "hierarchy.Downline"

	root, flat, err := t.walk(ctx, userID, maxDepth)
	if err != nil {
		return Downline{}, fmt.Errorf("%s: %w", op, err)
	}

	return Downline{
		Nodes:          lo.Ternary(root.Children == nil, []*models.DownlineNode{}, root.Children),
		DirectChildren: len(root.Children),
		TotalDownline:  len(flat),
	}, nil
}

// walk expands the tree below userID depth-first with an explicit stack.
// Every node is expanded at most once, so a corrupted parent link cannot
// make it loop, and the node cap bounds the work on very large trees.
func (t *Traverser) walk(ctx context.Context, userID string, maxDepth int) (*models.DownlineNode, []*models.DownlineNode, error) {
	u, err := t.store.User(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	root := &models.DownlineNode{User: u}
	visited := map[string]struct{}{u.ID: {}}
	stack := []*models.DownlineNode{root}
	var flat []*models.DownlineNode

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if maxDepth > 0 && node.RelativeLevel >= maxDepth {
			continue
		}

		children, err := t.store.Children(ctx, node.ID)
		if err != nil {
			return nil, nil, err
		}

		for _, c := range children {
			if _, seen := visited[c.ID]; seen {
				t.logger.Warn("Cycle in hierarchy, skipping node",
					slog.String("user_id", c.ID),
					slog.String("parent_id", node.ID),
				)
				continue
			}
			visited[c.ID] = struct{}{}

			if t.maxNodes > 0 && len(flat) >= t.maxNodes {
				return nil, nil, fmt.Errorf("%w: more than %d nodes below %s", domain.ErrTraversalLimit, t.maxNodes, userID)
			}

			child := &models.DownlineNode{User: c, RelativeLevel: node.RelativeLevel + 1}
			node.Children = append(node.Children, child)
			flat = append(flat, child)
			stack = append(stack, child)
		}
	}

	return root, flat, nil
}

// DirectDownline lists the immediate children of userID.
func (t *Traverser) DirectDownline(ctx context.Context, userID string) ([]models.User, error) {
	const op = "hierarchy.DirectDownline"

	if _, err := t.store.User(ctx, userID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	children, err := t.store.Children(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if children == nil {
		children = []models.User{}
	}
	return children, nil
}

// Search finds users anywhere below userID whose username or email contains
// query, ignoring case.
func (t *Traverser) Search(ctx context.Context, userID, query string) ([]models.User, error) {
	const op = "hierarchy.Search"

	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil, fmt.Errorf("%s: %w: empty search query", op, domain.ErrInvalidArgument)
	}

	_, flat, err := t.walk(ctx, userID, 0)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	matched := lo.FilterMap(flat, func(n *models.DownlineNode, _ int) (models.User, bool) {
		return n.User, strings.Contains(strings.ToLower(n.Username), query) ||
			strings.Contains(strings.ToLower(n.Email), query)
	})
	if len(matched) > searchLimit {
		matched = matched[:searchLimit]
	}
	return matched, nil
}

// IsDescendant reports whether candidateID lies strictly below ancestorID.
// It walks the candidate's parent chain, so the cost is bounded by depth.
func (t *Traverser) IsDescendant(ctx context.Context, ancestorID, candidateID string) (bool, error) {
	const op = "hierarchy.IsDescendant"

	found := false
	err := t.climb(ctx, candidateID, func(u models.User) bool {
		found = u.ID == ancestorID
		return !found
	})
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return found, nil
}

// Ancestors returns the parent chain of userID, nearest first.
func (t *Traverser) Ancestors(ctx context.Context, userID string) ([]models.User, error) {
	const op = "hierarchy.Ancestors"

	ancestors := []models.User{}
	err := t.climb(ctx, userID, func(u models.User) bool {
		ancestors = append(ancestors, u)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return ancestors, nil
}

// climb calls visit for each ancestor of userID until visit returns false
// or the root is reached.
func (t *Traverser) climb(ctx context.Context, userID string, visit func(models.User) bool) error {
	u, err := t.store.User(ctx, userID)
	if err != nil {
		return err
	}

	seen := map[string]struct{}{u.ID: {}}
	for u.ParentID != nil {
		if _, ok := seen[*u.ParentID]; ok {
			t.logger.Warn("Cycle in parent chain", slog.String("user_id", userID))
			return nil
		}
		seen[*u.ParentID] = struct{}{}

		if u, err = t.store.User(ctx, *u.ParentID); err != nil {
			return err
		}
		if !visit(u) {
			return nil
		}
	}
	return nil
}

type Stats struct {
	TotalUsers   int                `json:"total_users"`
	TotalBalance int64              `json:"total_balance"`
	Levels       []models.LevelStat `json:"level_stats"`
}

// Stats aggregates the full downline of userID by absolute level.
func (t *Traverser) Stats(ctx context.Context, userID string) (Stats, error) {
	const op = "hierarchy.Stats"

	_, flat, err := t.walk(ctx, userID, 0)
	if err != nil {
		return Stats{}, fmt.Errorf("%s: %w", op, err)
	}

	groups := lo.GroupBy(flat, func(n *models.DownlineNode) int { return n.Level })
	levels := lo.MapToSlice(groups, func(level int, nodes []*models.DownlineNode) models.LevelStat {
		total := lo.SumBy(nodes, func(n *models.DownlineNode) int64 { return n.Balance })
		return models.LevelStat{
			Level:        level,
			UserCount:    len(nodes),
			TotalBalance: total,
			AvgBalance:   float64(total) / float64(len(nodes)),
		}
	})
	slices.SortFunc(levels, func(a, b models.LevelStat) int { return cmp.Compare(a.Level, b.Level) })

	return Stats{
		TotalUsers:   len(flat),
		TotalBalance: lo.SumBy(levels, func(s models.LevelStat) int64 { return s.TotalBalance }),
		Levels:       levels,
	}, nil
}
