package hierarchy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IlyasAtabaev731/downline-ledger/internal/config"
	"github.com/IlyasAtabaev731/downline-ledger/internal/domain"
	"github.com/IlyasAtabaev731/downline-ledger/internal/domain/models"
	"github.com/IlyasAtabaev731/downline-ledger/internal/storage"
)

// fakeStore keeps users in insertion order and lets tests wire arbitrary,
// even cyclic, parent links.
type fakeStore struct {
	users map[string]models.User
	order []string
	calls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: make(map[string]models.User)}
}

func (s *fakeStore) add(id, parentID string, level int, balance int64) {
	u := models.User{ID: id, Username: "user_" + id, Email: id + "@Example.com", Level: level, Balance: balance}
	if parentID != "" {
		u.ParentID = &parentID
	}
	s.users[id] = u
	s.order = append(s.order, id)
}

func (s *fakeStore) User(_ context.Context, id string) (models.User, error) {
	u, ok := s.users[id]
	if !ok {
		return models.User{}, storage.ErrUserNotFound
	}
	return u, nil
}

func (s *fakeStore) Children(_ context.Context, parentID string) ([]models.User, error) {
	s.calls++
	var out []models.User
	for _, id := range s.order {
		if u := s.users[id]; u.IsChildOf(parentID) {
			out = append(out, u)
		}
	}
	return out, nil
}

func newTraverser(store Store, maxNodes int) *Traverser {
	return New(config.Ledger{MaxDownlineNodes: maxNodes}, store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// root
// ├── a
// │   ├── a1
// │   │   └── a1x
// │   └── a2
// └── b
func sampleTree() *fakeStore {
	s := newFakeStore()
	s.add("root", "", 0, 100)
	s.add("a", "root", 1, 10)
	s.add("b", "root", 1, 20)
	s.add("a1", "a", 2, 1)
	s.add("a2", "a", 2, 2)
	s.add("a1x", "a1", 3, 5)
	return s
}

func ids(nodes []*models.DownlineNode) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.ID)
	}
	return out
}

func TestDownline_FullTree(t *testing.T) {
	tr := newTraverser(sampleTree(), 0)

	d, err := tr.Downline(context.Background(), "root", 0)
	require.NoError(t, err)

	assert.Equal(t, 2, d.DirectChildren)
	assert.Equal(t, 5, d.TotalDownline)
	require.Equal(t, []string{"a", "b"}, ids(d.Nodes))

	a := d.Nodes[0]
	assert.Equal(t, 1, a.RelativeLevel)
	require.Equal(t, []string{"a1", "a2"}, ids(a.Children))
	assert.Equal(t, 2, a.Children[0].RelativeLevel)
	require.Equal(t, []string{"a1x"}, ids(a.Children[0].Children))
	assert.Equal(t, 3, a.Children[0].Children[0].RelativeLevel)
	assert.Empty(t, d.Nodes[1].Children)
}

func TestDownline_RelativeLevelsFromSubtree(t *testing.T) {
	tr := newTraverser(sampleTree(), 0)

	d, err := tr.Downline(context.Background(), "a", 0)
	require.NoError(t, err)
	require.Equal(t, []string{"a1", "a2"}, ids(d.Nodes))
	assert.Equal(t, 1, d.Nodes[0].RelativeLevel)
	assert.Equal(t, 2, d.Nodes[0].Level)
}

func TestDownline_MaxDepth(t *testing.T) {
	store := sampleTree()
	tr := newTraverser(store, 0)

	d, err := tr.Downline(context.Background(), "root", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, d.TotalDownline)
	for _, n := range d.Nodes {
		assert.Empty(t, n.Children)
	}
	assert.Equal(t, 1, store.calls)
}

func TestDownline_Leaf(t *testing.T) {
	tr := newTraverser(sampleTree(), 0)

	d, err := tr.Downline(context.Background(), "b", 0)
	require.NoError(t, err)
	assert.NotNil(t, d.Nodes)
	assert.Empty(t, d.Nodes)
	assert.Equal(t, 0, d.TotalDownline)
}

func TestDownline_UnknownUser(t *testing.T) {
	tr := newTraverser(sampleTree(), 0)

	_, err := tr.Downline(context.Background(), "nobody", 0)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDownline_TerminatesOnCycle(t *testing.T) {
	s := newFakeStore()
	s.add("x", "z", 0, 0)
	s.add("y", "x", 1, 0)
	s.add("z", "y", 2, 0)

	tr := newTraverser(s, 0)
	d, err := tr.Downline(context.Background(), "x", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, d.TotalDownline)
	assert.Equal(t, []string{"y"}, ids(d.Nodes))
	assert.Equal(t, []string{"z"}, ids(d.Nodes[0].Children))
	assert.Empty(t, d.Nodes[0].Children[0].Children)

	ok, err := tr.IsDescendant(context.Background(), "q", "x")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDownline_NodeCap(t *testing.T) {
	s := newFakeStore()
	s.add("root", "", 0, 0)
	for i := 0; i < 10; i++ {
		s.add(fmt.Sprintf("c%d", i), "root", 1, 0)
	}

	_, err := newTraverser(s, 5).Downline(context.Background(), "root", 0)
	require.ErrorIs(t, err, domain.ErrTraversalLimit)

	d, err := newTraverser(s, 10).Downline(context.Background(), "root", 0)
	require.NoError(t, err)
	assert.Equal(t, 10, d.TotalDownline)
}

func TestDownline_CanceledContext(t *testing.T) {
	tr := newTraverser(sampleTree(), 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tr.Downline(ctx, "root", 0)
	require.ErrorIs(t, err, context.Canceled)
}

func TestIsDescendant(t *testing.T) {
	tr := newTraverser(sampleTree(), 0)

	tests := []struct {
		ancestor, candidate string
		want                bool
	}{
		{"root", "a1x", true},
		{"a", "a2", true},
		{"a1", "a1x", true},
		{"a", "b", false},
		{"a1x", "root", false},
		{"a", "a", false},
	}
	for _, tt := range tests {
		t.Run(tt.ancestor+">"+tt.candidate, func(t *testing.T) {
			got, err := tr.IsDescendant(context.Background(), tt.ancestor, tt.candidate)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := tr.IsDescendant(context.Background(), "root", "nobody")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAncestors(t *testing.T) {
	tr := newTraverser(sampleTree(), 0)

	chain, err := tr.Ancestors(context.Background(), "a1x")
	require.NoError(t, err)

	got := make([]string, 0, len(chain))
	for _, u := range chain {
		got = append(got, u.ID)
	}
	assert.Equal(t, []string{"a1", "a", "root"}, got)

	chain, err = tr.Ancestors(context.Background(), "root")
	require.NoError(t, err)
	assert.Empty(t, chain)
}

func TestSearch(t *testing.T) {
	tr := newTraverser(sampleTree(), 0)

	found, err := tr.Search(context.Background(), "root", "USER_A1")
	require.NoError(t, err)
	got := make([]string, 0, len(found))
	for _, u := range found {
		got = append(got, u.ID)
	}
	assert.ElementsMatch(t, []string{"a1", "a1x"}, got)

	found, err = tr.Search(context.Background(), "a", "example.com")
	require.NoError(t, err)
	assert.Len(t, found, 3)

	found, err = tr.Search(context.Background(), "a", "user_b")
	require.NoError(t, err)
	assert.Empty(t, found)

	_, err = tr.Search(context.Background(), "root", "  ")
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestSearch_CapsResults(t *testing.T) {
	s := newFakeStore()
	s.add("root", "", 0, 0)
	for i := 0; i < 70; i++ {
		s.add(fmt.Sprintf("m%02d", i), "root", 1, 0)
	}

	found, err := newTraverser(s, 0).Search(context.Background(), "root", "user_m")
	require.NoError(t, err)
	assert.Len(t, found, searchLimit)
}

func TestStats(t *testing.T) {
	tr := newTraverser(sampleTree(), 0)

	st, err := tr.Stats(context.Background(), "root")
	require.NoError(t, err)

	assert.Equal(t, 5, st.TotalUsers)
	assert.Equal(t, int64(38), st.TotalBalance)
	assert.Equal(t, []models.LevelStat{
		{Level: 1, UserCount: 2, TotalBalance: 30, AvgBalance: 15},
		{Level: 2, UserCount: 2, TotalBalance: 3, AvgBalance: 1.5},
		{Level: 3, UserCount: 1, TotalBalance: 5, AvgBalance: 5},
	}, st.Levels)
}
