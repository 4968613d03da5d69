package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IlyasAtabaev731/downline-ledger/internal/domain/models"
	"github.com/IlyasAtabaev731/downline-ledger/internal/storage"
)

func seed(t *testing.T, s *Storage, name string, level int, balance int64) models.User {
	t.Helper()
	u := &models.User{
		Username: name,
		Email:    name + "@example.com",
		Role:     models.RoleUser,
		Level:    level,
		Balance:  balance,
		IsActive: true,
	}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return *u
}

func TestRunAtomic_DiscardsOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	alice := seed(t, s, "alice", 0, 1000)
	errBoom := errors.New("boom")

	err := s.RunAtomic(ctx, func(ctx context.Context, tx storage.Tx) error {
		require.NoError(t, tx.SetBalance(ctx, alice.ID, 0))
		require.NoError(t, tx.AppendTransaction(ctx, &models.Transaction{OwnerID: alice.ID, Amount: 1000}))
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	got, err := s.User(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), got.Balance)

	_, total, err := s.Transactions(ctx, models.TransactionFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestRunAtomic_Commits(t *testing.T) {
	s := New()
	ctx := context.Background()
	alice := seed(t, s, "alice", 0, 1000)

	err := s.RunAtomic(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.SetBalance(ctx, alice.ID, 250); err != nil {
			return err
		}
		return tx.AppendTransaction(ctx, &models.Transaction{OwnerID: alice.ID, Amount: 750, Type: models.TypeDebit})
	})
	require.NoError(t, err)

	got, err := s.User(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(250), got.Balance)

	txs, total, err := s.Transactions(ctx, models.TransactionFilter{OwnerID: alice.ID})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.NotEmpty(t, txs[0].ID)
}

func TestRunAtomic_CanceledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.RunAtomic(ctx, func(context.Context, storage.Tx) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestCreateUser_Uniqueness(t *testing.T) {
	s := New()
	ctx := context.Background()
	seed(t, s, "alice", 0, 0)

	err := s.CreateUser(ctx, &models.User{Username: "alice", Email: "other@example.com"})
	assert.ErrorIs(t, err, storage.ErrUserExists)

	err = s.CreateUser(ctx, &models.User{Username: "other", Email: "ALICE@example.com"})
	assert.ErrorIs(t, err, storage.ErrUserExists)

	got, err := s.UserByEmail(ctx, "Alice@Example.com")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
}

func TestUpdates_UnknownUser(t *testing.T) {
	s := New()
	ctx := context.Background()

	assert.ErrorIs(t, s.SetBalance(ctx, "missing", 1), storage.ErrUserNotFound)
	assert.ErrorIs(t, s.SetActive(ctx, "missing", false), storage.ErrUserNotFound)
	assert.ErrorIs(t, s.IncrementDownlineCount(ctx, "missing"), storage.ErrUserNotFound)

	_, err := s.User(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrUserNotFound)
}

func TestListUsers_FilterAndPage(t *testing.T) {
	s := New()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		seed(t, s, fmt.Sprintf("member%d", i), 1, int64(i*100))
	}
	seed(t, s, "outsider", 2, 0)

	users, total, err := s.ListUsers(ctx, storage.UserFilter{Search: "MEMBER", Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, users, 2)
	// newest first
	assert.Equal(t, "member3", users[0].Username)
	assert.Equal(t, "member2", users[1].Username)

	level := 2
	users, total, err = s.ListUsers(ctx, storage.UserFilter{Level: &level})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "outsider", users[0].Username)

	_, total, err = s.ListUsers(ctx, storage.UserFilter{Offset: 10})
	require.NoError(t, err)
	assert.Equal(t, 6, total)
}

func TestStats(t *testing.T) {
	s := New()
	ctx := context.Background()
	seed(t, s, "a", 0, 100)
	seed(t, s, "b", 1, 300)
	seed(t, s, "c", 1, 500)

	stats, err := s.BalanceStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.BalanceStats{
		TotalUsers:   3,
		TotalBalance: 900,
		AvgBalance:   300,
		MaxBalance:   500,
		MinBalance:   100,
	}, stats)

	levels, err := s.BalanceByLevel(ctx)
	require.NoError(t, err)
	require.Len(t, levels, 2)
	assert.Equal(t, models.LevelStat{Level: 1, UserCount: 2, TotalBalance: 800, AvgBalance: 400}, levels[1])

	top, err := s.TopUsers(ctx, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "c", top[0].Username)
	assert.Equal(t, "b", top[1].Username)
}

func TestSummarize(t *testing.T) {
	s := New()
	ctx := context.Background()
	for _, tr := range []models.Transaction{
		{OwnerID: "x", Type: models.TypeCredit, Amount: 100},
		{OwnerID: "x", Type: models.TypeCredit, Amount: 50},
		{OwnerID: "x", Type: models.TypeDebit, Amount: 30},
		{OwnerID: "y", Type: models.TypeCredit, Amount: 999},
	} {
		require.NoError(t, s.AppendTransaction(ctx, &tr))
	}

	summary, err := s.Summarize(ctx, models.TransactionFilter{OwnerID: "x"})
	require.NoError(t, err)
	assert.Equal(t, []models.TypeSummary{
		{Type: models.TypeCredit, Count: 2, TotalAmount: 150},
		{Type: models.TypeDebit, Count: 1, TotalAmount: 30},
	}, summary)

	recent, err := s.RecentTransactions(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, int64(999), recent[0].Amount)
}

func TestTransactions_PartyFilter(t *testing.T) {
	s := New()
	ctx := context.Background()
	for _, tr := range []models.Transaction{
		{SenderID: "p", ReceiverID: "c", OwnerID: "p", Type: models.TypeDebit, Amount: 10},
		{SenderID: "p", ReceiverID: "c", OwnerID: "c", Type: models.TypeCredit, Amount: 10},
		{SenderID: "c", ReceiverID: "g", OwnerID: "c", Type: models.TypeDebit, Amount: 5},
		{SenderID: "c", ReceiverID: "g", OwnerID: "g", Type: models.TypeCredit, Amount: 5},
	} {
		require.NoError(t, s.AppendTransaction(ctx, &tr))
	}

	_, total, err := s.Transactions(ctx, models.TransactionFilter{Party: "p"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	_, total, err = s.Transactions(ctx, models.TransactionFilter{Party: "c"})
	require.NoError(t, err)
	assert.Equal(t, 4, total)

	txs, total, err := s.Transactions(ctx, models.TransactionFilter{Party: "c", OwnerID: "g"})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, models.TypeCredit, txs[0].Type)
}
