package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"budget_system/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lunch(budgetID string, at time.Time) TransactionChange {
	return TransactionChange{
		ID:        uuid.NewString(),
		BudgetID:  budgetID,
		Amount:    decimal.NewFromInt(14),
		Currency:  "USD",
		Type:      domain.TypeExpense,
		Category:  "Food",
		Date:      "2025-03-14",
		UpdatedAt: at,
	}
}

func ids(items []domain.Transaction) []string {
	out := make([]string, 0, len(items))
	for _, t := range items {
		out = append(out, t.ID)
	}
	return out
}

func TestPushThenPullRoundTrip(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice := e.user(t, "alice")
	b := e.budget(t, alice)
	at := time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)
	change := lunch(b.ID, at)

	res, err := e.sync.Push(ctx, alice.ID, PushBatch{Transactions: []TransactionChange{change}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	require.Len(t, res.Results, 1)
	assert.Equal(t, PushProcessed, res.Results[0].Status)

	before := at.Add(-time.Second)
	pulled, err := e.sync.Pull(ctx, alice.ID, &before)
	require.NoError(t, err)
	assert.Contains(t, ids(pulled.Transactions), change.ID)
	for _, tx := range pulled.Transactions {
		if tx.ID == change.ID {
			assert.True(t, tx.UpdatedAt.Equal(at), "client updated_at is kept")
			assert.Equal(t, alice.ID, tx.UserID)
		}
	}

	after := at.Add(time.Second)
	pulled, err = e.sync.Pull(ctx, alice.ID, &after)
	require.NoError(t, err)
	assert.NotContains(t, ids(pulled.Transactions), change.ID)
}

func TestPullScopesToMembership(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice, bob := e.user(t, "alice"), e.user(t, "bob")
	mine := e.budget(t, alice)
	theirs := e.budget(t, bob)
	e.expense(t, mine, alice, 1, "Food")
	e.expense(t, theirs, bob, 2, "Food")

	pulled, err := e.sync.Pull(ctx, alice.ID, nil)
	require.NoError(t, err)
	require.Len(t, pulled.Users, 1)
	assert.Equal(t, alice.ID, pulled.Users[0].ID)
	require.Len(t, pulled.Budgets, 1)
	assert.Equal(t, mine.ID, pulled.Budgets[0].ID)
	require.Len(t, pulled.Transactions, 1)
	assert.Equal(t, mine.ID, pulled.Transactions[0].BudgetID)
}

func TestPullIncludesTombstones(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice := e.user(t, "alice")
	b := e.budget(t, alice)
	tx := e.expense(t, b, alice, 3, "Food")

	first, err := e.sync.Pull(ctx, alice.ID, nil)
	require.NoError(t, err)
	require.NoError(t, e.transactions.Delete(ctx, tx.ID, alice.ID))

	since := first.ServerTime.Add(-time.Millisecond)
	pulled, err := e.sync.Pull(ctx, alice.ID, &since)
	require.NoError(t, err)
	require.Len(t, pulled.Transactions, 1)
	assert.True(t, pulled.Transactions[0].DeletedAt.Valid)
}

func TestStalePushBecomesConflict(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice := e.user(t, "alice")
	b := e.budget(t, alice)
	now := time.Now().UTC().Truncate(time.Millisecond)

	fresh := lunch(b.ID, now)
	_, err := e.sync.Push(ctx, alice.ID, PushBatch{Transactions: []TransactionChange{fresh}})
	require.NoError(t, err)

	stale := fresh
	stale.Amount = decimal.NewFromInt(999)
	stale.UpdatedAt = now.Add(-time.Minute)
	res, err := e.sync.Push(ctx, alice.ID, PushBatch{Transactions: []TransactionChange{stale}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Conflicts)
	require.Len(t, res.Results, 1)
	assert.Equal(t, PushConflict, res.Results[0].Status)
	assert.NotEmpty(t, res.Results[0].ConflictID)

	var stored domain.Transaction
	require.NoError(t, e.db.First(&stored, "id = ?", fresh.ID).Error)
	assert.True(t, stored.Amount.Equal(decimal.NewFromInt(14)), "stored row unchanged")
	assert.True(t, stored.UpdatedAt.Equal(now))

	conflicts, err := e.sync.Conflicts(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, domain.EntityTransaction, conflicts[0].EntityType)
	assert.Equal(t, fresh.ID, conflicts[0].EntityID)
	var client TransactionChange
	require.NoError(t, json.Unmarshal(conflicts[0].ClientVersion, &client))
	assert.True(t, client.Amount.Equal(decimal.NewFromInt(999)))

	// A second stale push supersedes the open conflict instead of piling up
	_, err = e.sync.Push(ctx, alice.ID, PushBatch{Transactions: []TransactionChange{stale}})
	require.NoError(t, err)
	conflicts, err = e.sync.Conflicts(ctx, alice.ID)
	require.NoError(t, err)
	assert.Len(t, conflicts, 1)

	// Equal timestamps apply
	same := fresh
	same.Category = "Dining"
	res, err = e.sync.Push(ctx, alice.ID, PushBatch{Transactions: []TransactionChange{same}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
}

func TestPushRejectsWithoutEditAccess(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice, vera, mallory := e.user(t, "alice"), e.user(t, "vera"), e.user(t, "mallory")
	b := e.budget(t, alice)
	e.member(t, b, alice, vera, domain.RoleViewer)
	at := time.Now().UTC()

	res, err := e.sync.Push(ctx, vera.ID, PushBatch{Transactions: []TransactionChange{lunch(b.ID, at)}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rejected)

	otherName := "hijack"
	res, err = e.sync.Push(ctx, mallory.ID, PushBatch{
		Users:   []UserChange{{ID: alice.ID, Name: &otherName, UpdatedAt: at}},
		Budgets: []BudgetChange{{ID: b.ID, Name: "Mine now", Currency: "USD", UpdatedAt: at}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Rejected)

	var stored domain.Budget
	require.NoError(t, e.db.First(&stored, "id = ?", b.ID).Error)
	assert.Equal(t, "Household", stored.Name)
	assert.Zero(t, e.count(t, &domain.Transaction{}, "budget_id = ?", b.ID))
}

func TestPushDoesNotRevealRowsInForeignBudgets(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice, mallory := e.user(t, "alice"), e.user(t, "mallory")
	hers := e.budget(t, alice)
	spare := e.budget(t, alice)
	theirs := e.budget(t, mallory)
	secret := e.expense(t, hers, alice, 40, "Rent")

	guess := lunch(theirs.ID, time.Now().UTC())
	guess.ID = secret.ID
	res, err := e.sync.Push(ctx, mallory.ID, PushBatch{Transactions: []TransactionChange{guess}})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, PushRejected, res.Results[0].Status)
	assert.Contains(t, res.Results[0].Reason, domain.ErrNotFound.Error())
	assert.NotContains(t, res.Results[0].Reason, "budget_id")

	move := lunch(spare.ID, time.Now().UTC())
	move.ID = secret.ID
	res, err = e.sync.Push(ctx, alice.ID, PushBatch{Transactions: []TransactionChange{move}})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, PushRejected, res.Results[0].Status)
	assert.Contains(t, res.Results[0].Reason, "budget_id cannot change")

	var stored domain.Transaction
	require.NoError(t, e.db.First(&stored, "id = ?", secret.ID).Error)
	assert.Equal(t, hers.ID, stored.BudgetID)
}

func TestPushValidatesWholeBatchFirst(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice := e.user(t, "alice")
	b := e.budget(t, alice)
	good := lunch(b.ID, time.Now().UTC())
	bad := lunch(b.ID, time.Now().UTC())
	bad.Amount = decimal.NewFromInt(-1)

	_, err := e.sync.Push(ctx, alice.ID, PushBatch{Transactions: []TransactionChange{good, bad}})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Zero(t, e.count(t, &domain.Transaction{}, "id = ?", good.ID), "nothing from the batch is applied")

	_, err = e.sync.Push(ctx, alice.ID, PushBatch{Budgets: []BudgetChange{{ID: "nope", Name: "x", Currency: "USD", UpdatedAt: time.Now()}}})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestPushCreatesOfflineBudgetWithAdmin(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice := e.user(t, "alice")
	at := time.Now().UTC().Add(-10 * time.Minute).Truncate(time.Millisecond)
	budgetID := uuid.NewString()

	res, err := e.sync.Push(ctx, alice.ID, PushBatch{
		Budgets:      []BudgetChange{{ID: budgetID, Name: "Camping", Currency: "CAD", UpdatedAt: at}},
		Transactions: []TransactionChange{lunch(budgetID, at)},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)
	assert.True(t, e.access.IsAdmin(ctx, alice.ID, budgetID))

	var stored domain.Budget
	require.NoError(t, e.db.First(&stored, "id = ?", budgetID).Error)
	assert.True(t, stored.UpdatedAt.Equal(at))
	assert.Equal(t, domain.BudgetActive, stored.Status)
}

func TestPushOwnProfile(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice := e.user(t, "alice")
	name := "Alice from phone"

	res, err := e.sync.Push(ctx, alice.ID, PushBatch{Users: []UserChange{{ID: alice.ID, Name: &name, UpdatedAt: time.Now().UTC().Add(time.Minute)}}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)

	var stored domain.User
	require.NoError(t, e.db.First(&stored, "id = ?", alice.ID).Error)
	assert.Equal(t, name, stored.Name)
}

func TestResolveConflicts(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice := e.user(t, "alice")
	b := e.budget(t, alice)
	now := time.Now().UTC().Truncate(time.Millisecond)

	first, second := lunch(b.ID, now), lunch(b.ID, now)
	_, err := e.sync.Push(ctx, alice.ID, PushBatch{Transactions: []TransactionChange{first, second}})
	require.NoError(t, err)

	staleFirst, staleSecond := first, second
	staleFirst.Category, staleSecond.Category = "Groceries", "Takeaway"
	staleFirst.UpdatedAt, staleSecond.UpdatedAt = now.Add(-time.Hour), now.Add(-time.Hour)
	res, err := e.sync.Push(ctx, alice.ID, PushBatch{Transactions: []TransactionChange{staleFirst, staleSecond}})
	require.NoError(t, err)
	require.Equal(t, 2, res.Conflicts)

	byEntity := map[string]string{}
	for _, r := range res.Results {
		byEntity[r.ID] = r.ConflictID
	}
	unknown := uuid.NewString()
	out, err := e.sync.ResolveConflicts(ctx, alice.ID, map[string]domain.Resolution{
		byEntity[first.ID]:  domain.ResolveServer,
		byEntity[second.ID]: domain.ResolveClient,
		unknown:             domain.ResolveServer,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, out.ResolvedCount)
	assert.Zero(t, out.RemainingConflicts)
	assert.Equal(t, []string{unknown}, out.Skipped)

	var kept, overwritten domain.Transaction
	require.NoError(t, e.db.First(&kept, "id = ?", first.ID).Error)
	require.NoError(t, e.db.First(&overwritten, "id = ?", second.ID).Error)
	assert.Equal(t, "Food", kept.Category)
	assert.Equal(t, "Takeaway", overwritten.Category)
	assert.True(t, overwritten.UpdatedAt.After(now) || overwritten.UpdatedAt.Equal(now))

	_, err = e.sync.ResolveConflicts(ctx, alice.ID, map[string]domain.Resolution{unknown: "mine"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestSyncStatus(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice := e.user(t, "alice")
	b := e.budget(t, alice)

	st, err := e.sync.Status(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, HealthNeverSynced, st.SyncHealth)
	assert.Nil(t, st.LastSync)
	assert.Equal(t, int64(2), st.PendingChanges, "profile and budget were never pulled")

	_, err = e.sync.Pull(ctx, alice.ID, nil)
	require.NoError(t, err)
	st, err = e.sync.Status(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, HealthHealthy, st.SyncHealth)
	assert.NotNil(t, st.LastSync)
	assert.Zero(t, st.PendingChanges)

	time.Sleep(5 * time.Millisecond) // Step past the pull stamp at millisecond precision
	e.expense(t, b, alice, 4, "Food")
	stale := lunch(b.ID, time.Now().UTC())
	_, err = e.sync.Push(ctx, alice.ID, PushBatch{Transactions: []TransactionChange{stale}})
	require.NoError(t, err)
	stale.UpdatedAt = stale.UpdatedAt.Add(-time.Hour)
	_, err = e.sync.Push(ctx, alice.ID, PushBatch{Transactions: []TransactionChange{stale}})
	require.NoError(t, err)

	st, err = e.sync.Status(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, HealthConflicts, st.SyncHealth)
	assert.Equal(t, int64(1), st.ConflictsCount)
	assert.Equal(t, int64(2), st.PendingChanges)
}
