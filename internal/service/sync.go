package service

import (
	"context"       // Request scoping
	"encoding/json" // Conflict snapshots
	"errors"        // Error matching
	"fmt"           // Error wrapping
	"sort"          // Deterministic resolution order
	"time"          // Change timestamps

	"budget_system/internal/domain" // Importing domain models
	"budget_system/internal/utils"  // Text sanitizing

	"github.com/shopspring/decimal" // Exact decimal money
	"github.com/sirupsen/logrus"    // Structured logging
	"golang.org/x/sync/errgroup"    // Concurrent pull reads
	"gorm.io/datatypes"             // JSON column type
	"gorm.io/gorm"                  // GORM ORM library
	"gorm.io/gorm/clause"           // Upserts
)

// Push item outcomes
const (
	PushProcessed = "processed" // Applied to the store
	PushConflict  = "conflict"  // Stored row is newer, a SyncConflict was recorded
	PushRejected  = "rejected"  // Caller may not write this row
)

// Sync health values
const (
	HealthHealthy     = "healthy"
	HealthConflicts   = "conflicts"
	HealthNeverSynced = "never_synced"
)

// UserChange is a pushed edit of the caller's own profile
type UserChange struct {
	ID         string            `json:"id"`
	Name       *string           `json:"name,omitempty"`
	Email      *string           `json:"email,omitempty"`
	Phone      *string           `json:"phone,omitempty"`
	SyncStatus domain.SyncStatus `json:"sync_status,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// BudgetChange is a pushed budget row
type BudgetChange struct {
	ID         string              `json:"id"`
	Name       string              `json:"name"`
	Currency   string              `json:"currency"`
	Status     domain.BudgetStatus `json:"status,omitempty"`
	ArchivedAt *time.Time          `json:"archived_at,omitempty"`
	SyncStatus domain.SyncStatus   `json:"sync_status,omitempty"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

// TransactionChange is a pushed transaction row; DeletedAt carries tombstones
type TransactionChange struct {
	ID           string                 `json:"id"`
	BudgetID     string                 `json:"budget_id"`
	Amount       decimal.Decimal        `json:"amount"`
	Currency     string                 `json:"currency"`
	Type         domain.TransactionType `json:"type"`
	Category     string                 `json:"category"`
	Subcategory  *string                `json:"subcategory,omitempty"`
	Description  *string                `json:"description,omitempty"`
	ExchangeRate decimal.Decimal        `json:"exchange_rate"`
	Date         string                 `json:"date"`
	Details      datatypes.JSON         `json:"details,omitempty"`
	DeletedAt    *time.Time             `json:"deleted_at,omitempty"`
	SyncStatus   domain.SyncStatus      `json:"sync_status,omitempty"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// RecurringChange is a pushed recurring transaction row
type RecurringChange struct {
	ID            string                 `json:"id"`
	BudgetID      string                 `json:"budget_id"`
	Schedule      domain.Schedule        `json:"schedule"`
	RecurringType domain.RecurringType   `json:"recurring_type,omitempty"`
	Amount        decimal.Decimal        `json:"amount"`
	Currency      string                 `json:"currency"`
	Type          domain.TransactionType `json:"type"`
	Category      string                 `json:"category"`
	Subcategory   *string                `json:"subcategory,omitempty"`
	Description   *string                `json:"description,omitempty"`
	IsActive      bool                   `json:"is_active"`
	NextExecution string                 `json:"next_execution"`
	SyncStatus    domain.SyncStatus      `json:"sync_status,omitempty"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// PushBatch groups pushed rows by entity type
type PushBatch struct {
	Users                 []UserChange        `json:"users"`
	Budgets               []BudgetChange      `json:"budgets"`
	Transactions          []TransactionChange `json:"transactions"`
	RecurringTransactions []RecurringChange   `json:"recurring_transactions"`
}

// ItemResult is the outcome of one pushed row
type ItemResult struct {
	EntityType domain.EntityType `json:"entity_type"`
	ID         string            `json:"id"`
	Status     string            `json:"status"`
	ConflictID string            `json:"conflict_id,omitempty"`
	Reason     string            `json:"reason,omitempty"`
}

// PushResult summarizes a batch
type PushResult struct {
	Processed int          `json:"processed"`
	Conflicts int          `json:"conflicts"`
	Rejected  int          `json:"rejected"`
	Results   []ItemResult `json:"results"`
}

func (r *PushResult) add(item ItemResult) {
	switch item.Status {
	case PushProcessed:
		r.Processed++
	case PushConflict:
		r.Conflicts++
	case PushRejected:
		r.Rejected++
	}
	r.Results = append(r.Results, item)
}

// PullResult is every row visible to the caller changed after the cursor
type PullResult struct {
	Users                 []domain.User                 `json:"users"`
	Budgets               []domain.Budget               `json:"budgets"`
	Transactions          []domain.Transaction          `json:"transactions"`
	RecurringTransactions []domain.RecurringTransaction `json:"recurring_transactions"`
	ServerTime            time.Time                     `json:"server_time"`
}

// ResolveResult summarizes a conflict resolution call
type ResolveResult struct {
	ResolvedCount      int      `json:"resolved_count"`
	RemainingConflicts int64    `json:"remaining_conflicts"`
	Skipped            []string `json:"skipped,omitempty"` // Unknown ids and client versions that could not be applied
}

// StatusReport is the caller's sync bookkeeping
type StatusReport struct {
	LastSync       *time.Time `json:"last_sync"`
	PendingChanges int64      `json:"pending_changes"`
	ConflictsCount int64      `json:"conflicts_count"`
	SyncHealth     string     `json:"sync_health"`
}

// ParseDay accepts "2006-01-02" or an RFC 3339 timestamp and returns the calendar day
func ParseDay(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid date %q", domain.ErrValidation, s)
	}
	return t, nil
}

func stamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

func checkRowID(id string, updatedAt time.Time) error {
	if !domain.ValidID(id) {
		return fmt.Errorf("%w: id must be a UUID", domain.ErrValidation)
	}
	if updatedAt.IsZero() {
		return fmt.Errorf("%w: updated_at is required", domain.ErrValidation)
	}
	return nil
}

func checkSyncStatus(s *domain.SyncStatus) error {
	if *s == "" {
		*s = domain.SyncSynced
	}
	if !s.Valid() {
		return fmt.Errorf("%w: unknown sync_status %q", domain.ErrValidation, *s)
	}
	return nil
}

func (c *UserChange) validate() error {
	if err := checkRowID(c.ID, c.UpdatedAt); err != nil {
		return err
	}
	c.UpdatedAt = stamp(c.UpdatedAt)
	if c.Name != nil {
		name, err := cleanName(*c.Name)
		if err != nil {
			return err
		}
		c.Name = &name
	}
	if c.Email != nil {
		email, err := normalizeEmail(*c.Email)
		if err != nil {
			return err
		}
		c.Email = &email
	}
	if c.Phone != nil {
		phone, err := normalizePhone(*c.Phone)
		if err != nil {
			return err
		}
		c.Phone = &phone
	}
	return checkSyncStatus(&c.SyncStatus)
}

func (c *BudgetChange) validate() error {
	if err := checkRowID(c.ID, c.UpdatedAt); err != nil {
		return err
	}
	c.UpdatedAt = stamp(c.UpdatedAt)
	name, err := cleanBudgetName(c.Name)
	if err != nil {
		return err
	}
	c.Name = name
	if !ValidCurrency(c.Currency) {
		return fmt.Errorf("%w: currency must be a 3-letter code", domain.ErrValidation)
	}
	if c.Status == "" {
		c.Status = domain.BudgetActive
	}
	if !c.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", domain.ErrValidation, c.Status)
	}
	// archived_at is set iff archived
	if c.Status != domain.BudgetArchived {
		c.ArchivedAt = nil
	} else if c.ArchivedAt == nil {
		at := c.UpdatedAt
		c.ArchivedAt = &at
	}
	return checkSyncStatus(&c.SyncStatus)
}

func (c *TransactionChange) validate() error {
	if err := checkRowID(c.ID, c.UpdatedAt); err != nil {
		return err
	}
	c.UpdatedAt = stamp(c.UpdatedAt)
	if !domain.ValidID(c.BudgetID) {
		return fmt.Errorf("%w: budget_id must be a UUID", domain.ErrValidation)
	}
	if err := positive("amount", c.Amount); err != nil {
		return err
	}
	if c.ExchangeRate.IsZero() {
		c.ExchangeRate = decimal.NewFromInt(1)
	}
	if err := positive("exchange_rate", c.ExchangeRate); err != nil {
		return err
	}
	if !ValidCurrency(c.Currency) {
		return fmt.Errorf("%w: currency must be a 3-letter code", domain.ErrValidation)
	}
	if !c.Type.Valid() {
		return fmt.Errorf("%w: unknown transaction type %q", domain.ErrValidation, c.Type)
	}
	if _, err := ParseDay(c.Date); err != nil {
		return err
	}
	category, err := cleanCategory(c.Category)
	if err != nil {
		return err
	}
	c.Category = category
	if c.Subcategory, err = cleanSubcategory(c.Subcategory); err != nil {
		return err
	}
	c.Description = utils.CleanOptional(c.Description)
	if c.DeletedAt != nil {
		at := stamp(*c.DeletedAt)
		c.DeletedAt = &at
	}
	if len(c.Details) > 0 && !json.Valid(c.Details) {
		return fmt.Errorf("%w: details must be JSON", domain.ErrValidation)
	}
	return checkSyncStatus(&c.SyncStatus)
}

func (c *RecurringChange) validate() error {
	if err := checkRowID(c.ID, c.UpdatedAt); err != nil {
		return err
	}
	c.UpdatedAt = stamp(c.UpdatedAt)
	if !domain.ValidID(c.BudgetID) {
		return fmt.Errorf("%w: budget_id must be a UUID", domain.ErrValidation)
	}
	if !c.Schedule.Valid() {
		return fmt.Errorf("%w: unknown schedule %q", domain.ErrValidation, c.Schedule)
	}
	if c.RecurringType == "" {
		c.RecurringType = domain.RecurringAutomatic
	}
	if !c.RecurringType.Valid() {
		return fmt.Errorf("%w: unknown recurring type %q", domain.ErrValidation, c.RecurringType)
	}
	if err := positive("amount", c.Amount); err != nil {
		return err
	}
	if !ValidCurrency(c.Currency) {
		return fmt.Errorf("%w: currency must be a 3-letter code", domain.ErrValidation)
	}
	if !c.Type.Valid() {
		return fmt.Errorf("%w: unknown transaction type %q", domain.ErrValidation, c.Type)
	}
	if _, err := ParseDay(c.NextExecution); err != nil {
		return err
	}
	category, err := cleanCategory(c.Category)
	if err != nil {
		return err
	}
	c.Category = category
	if c.Subcategory, err = cleanSubcategory(c.Subcategory); err != nil {
		return err
	}
	c.Description = utils.CleanOptional(c.Description)
	return checkSyncStatus(&c.SyncStatus)
}

// Validate checks and normalizes every item. Nothing is applied when any item fails.
func (b *PushBatch) Validate() error {
	for i := range b.Users {
		if err := b.Users[i].validate(); err != nil {
			return fmt.Errorf("users[%d]: %w", i, err)
		}
	}
	for i := range b.Budgets {
		if err := b.Budgets[i].validate(); err != nil {
			return fmt.Errorf("budgets[%d]: %w", i, err)
		}
	}
	for i := range b.Transactions {
		if err := b.Transactions[i].validate(); err != nil {
			return fmt.Errorf("transactions[%d]: %w", i, err)
		}
	}
	for i := range b.RecurringTransactions {
		if err := b.RecurringTransactions[i].validate(); err != nil {
			return fmt.Errorf("recurring_transactions[%d]: %w", i, err)
		}
	}
	return nil
}

// Size is the number of items in the batch
func (b *PushBatch) Size() int {
	return len(b.Users) + len(b.Budgets) + len(b.Transactions) + len(b.RecurringTransactions)
}

// SyncService implements last-write-wins replication with durable conflicts
type SyncService struct {
	db *gorm.DB
}

// NewSyncService creates the sync component
func NewSyncService(db *gorm.DB) *SyncService {
	return &SyncService{db: db}
}

// Pull returns the caller's profile and every budget, transaction (tombstones
// included) and recurring transaction they can read with updated_at after since.
// A nil or zero since returns everything.
func (s *SyncService) Pull(ctx context.Context, userID string, since *time.Time) (*PullResult, error) {
	if !domain.ValidID(userID) {
		return nil, fmt.Errorf("user %s: %w", userID, domain.ErrNotFound)
	}
	res := &PullResult{ServerTime: utcNow()}
	changed := func(q *gorm.DB, col string) *gorm.DB {
		if since != nil && !since.IsZero() {
			q = q.Where(col+" > ?", since.UTC())
		}
		return q.Order(col)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		q := s.db.WithContext(gctx).Where("id = ?", userID)
		return changed(q, "updated_at").Find(&res.Users).Error
	})
	g.Go(func() error {
		scope, args := readScope("budgets.id", userID)
		q := s.db.WithContext(gctx).Where(scope, args...)
		return changed(q, "budgets.updated_at").Find(&res.Budgets).Error
	})
	g.Go(func() error {
		scope, args := readScope("transactions.budget_id", userID)
		q := s.db.WithContext(gctx).Unscoped().Where(scope, args...)
		return changed(q, "transactions.updated_at").Find(&res.Transactions).Error
	})
	g.Go(func() error {
		scope, args := readScope("recurring_transactions.budget_id", userID)
		q := s.db.WithContext(gctx).Where(scope, args...)
		return changed(q, "recurring_transactions.updated_at").Find(&res.RecurringTransactions).Error
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := touchState(s.db.WithContext(ctx), userID, "last_pull_at", res.ServerTime); err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"user_id":      userID,
		"budgets":      len(res.Budgets),
		"transactions": len(res.Transactions),
		"recurring":    len(res.RecurringTransactions),
	}).Info("Sync pull")
	return res, nil
}

// touchState upserts the caller's SyncState, stamping col and last_sync_at
func touchState(tx *gorm.DB, userID, col string, at time.Time) error {
	state := domain.SyncState{UserID: userID, LastSyncAt: &at}
	switch col {
	case "last_pull_at":
		state.LastPullAt = &at
	case "last_push_at":
		state.LastPushAt = &at
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{col, "last_sync_at", "updated_at"}),
	}).Create(&state).Error
}

// Push applies a validated batch in one transaction. Rows whose stored copy is
// newer than the pushed updated_at are left alone and recorded as conflicts.
func (s *SyncService) Push(ctx context.Context, userID string, batch PushBatch) (*PushResult, error) {
	if err := batch.Validate(); err != nil {
		return nil, err
	}
	result := &PushResult{Results: make([]ItemResult, 0, batch.Size())}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		a := &applier{tx: tx, userID: userID}
		for _, c := range batch.Users {
			item, err := a.user(c, false)
			if err != nil {
				return err
			}
			result.add(item)
		}
		for _, c := range batch.Budgets {
			item, err := a.budget(c, false)
			if err != nil {
				return err
			}
			result.add(item)
		}
		for _, c := range batch.Transactions {
			item, err := a.transaction(c, false)
			if err != nil {
				return err
			}
			result.add(item)
		}
		for _, c := range batch.RecurringTransactions {
			item, err := a.recurring(c, false)
			if err != nil {
				return err
			}
			result.add(item)
		}
		return touchState(tx, userID, "last_push_at", utcNow())
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{"user_id": userID, "items": batch.Size(), "error": err.Error()}).Error("Sync push rolled back")
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"user_id":   userID,
		"processed": result.Processed,
		"conflicts": result.Conflicts,
		"rejected":  result.Rejected,
	}).Info("Sync push")
	return result, nil
}

// applier writes pushed rows inside one store transaction. With force set the
// timestamp comparison is skipped; conflict resolution uses it.
type applier struct {
	tx     *gorm.DB
	userID string
}

// rejectable reports errors that reject a single item instead of the batch
func rejectable(err error) bool {
	return errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrForbidden) ||
		errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrValidation)
}

func itemOutcome(entity domain.EntityType, id string, err error) (ItemResult, error) {
	if err == nil {
		return ItemResult{EntityType: entity, ID: id, Status: PushProcessed}, nil
	}
	if rejectable(err) {
		return ItemResult{EntityType: entity, ID: id, Status: PushRejected, Reason: err.Error()}, nil
	}
	return ItemResult{}, err
}

// conflict records that the stored row beat the pushed one. Earlier open
// conflicts for the same row are superseded.
func (a *applier) conflict(entity domain.EntityType, id string, client any, clientAt time.Time, stored any, storedAt time.Time) (ItemResult, error) {
	clientJSON, err := json.Marshal(client)
	if err != nil {
		return ItemResult{}, err
	}
	storedJSON, err := json.Marshal(stored)
	if err != nil {
		return ItemResult{}, err
	}
	err = a.tx.Where("user_id = ? AND entity_type = ? AND entity_id = ? AND resolved_at IS NULL", a.userID, entity, id).
		Delete(&domain.SyncConflict{}).Error
	if err != nil {
		return ItemResult{}, err
	}
	c := domain.SyncConflict{
		UserID:          a.userID,
		EntityType:      entity,
		EntityID:        id,
		ClientVersion:   datatypes.JSON(clientJSON),
		ServerVersion:   datatypes.JSON(storedJSON),
		ClientUpdatedAt: clientAt,
		ServerUpdatedAt: storedAt,
	}
	if err := a.tx.Create(&c).Error; err != nil {
		return ItemResult{}, err
	}
	return ItemResult{EntityType: entity, ID: id, Status: PushConflict, ConflictID: c.ID}, nil
}

func (a *applier) user(c UserChange, force bool) (ItemResult, error) {
	if c.ID != a.userID {
		return itemOutcome(domain.EntityUser, c.ID, fmt.Errorf("%w: users may only push their own profile", domain.ErrForbidden))
	}
	var stored domain.User
	if err := forUpdate(a.tx).First(&stored, "id = ?", c.ID).Error; err != nil {
		return itemOutcome(domain.EntityUser, c.ID, notFound(err, "user "+c.ID))
	}
	if !force && stored.UpdatedAt.After(c.UpdatedAt) {
		return a.conflict(domain.EntityUser, c.ID, c, c.UpdatedAt, stored, stored.UpdatedAt)
	}
	if err := contactTaken(a.tx, c.Email, c.Phone, c.ID); err != nil {
		return itemOutcome(domain.EntityUser, c.ID, err)
	}
	cols := map[string]any{"sync_status": c.SyncStatus, "updated_at": c.UpdatedAt}
	if c.Name != nil {
		cols["name"] = *c.Name
	}
	if c.Email != nil {
		cols["email"] = *c.Email
	}
	if c.Phone != nil {
		cols["phone"] = *c.Phone
	}
	return itemOutcome(domain.EntityUser, c.ID, a.tx.Model(&stored).UpdateColumns(cols).Error)
}

func (a *applier) budget(c BudgetChange, force bool) (ItemResult, error) {
	var stored domain.Budget
	err := forUpdate(a.tx).First(&stored, "id = ?", c.ID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// A budget created offline: the pusher becomes its admin
		b := domain.Budget{
			ID:         c.ID,
			Name:       c.Name,
			Currency:   c.Currency,
			Status:     c.Status,
			ArchivedAt: c.ArchivedAt,
			SyncStatus: c.SyncStatus,
			UpdatedAt:  c.UpdatedAt,
		}
		return itemOutcome(domain.EntityBudget, c.ID, createBudgetWithAdmin(a.tx, &b, a.userID))
	}
	if err != nil {
		return ItemResult{}, err
	}
	if err := requireGrant(a.tx, a.userID, c.ID, domain.EditRoles, true, true); err != nil {
		return itemOutcome(domain.EntityBudget, c.ID, err)
	}
	if !force && stored.UpdatedAt.After(c.UpdatedAt) {
		return a.conflict(domain.EntityBudget, c.ID, c, c.UpdatedAt, stored, stored.UpdatedAt)
	}
	cols := map[string]any{
		"name":        c.Name,
		"currency":    c.Currency,
		"status":      c.Status,
		"archived_at": c.ArchivedAt,
		"sync_status": c.SyncStatus,
		"updated_at":  c.UpdatedAt,
	}
	return itemOutcome(domain.EntityBudget, c.ID, a.tx.Model(&stored).UpdateColumns(cols).Error)
}

func (a *applier) transaction(c TransactionChange, force bool) (ItemResult, error) {
	var stored domain.Transaction
	err := forUpdate(a.tx.Unscoped()).First(&stored, "id = ?", c.ID).Error
	found := err == nil
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return ItemResult{}, err
	}
	budgetID := c.BudgetID
	if found {
		budgetID = stored.BudgetID // Authorize against where the row lives now
	}
	if err := requireGrant(a.tx, a.userID, budgetID, domain.EditRoles, true, true); err != nil {
		return itemOutcome(domain.EntityTransaction, c.ID, err)
	}
	if budgetID != c.BudgetID {
		return itemOutcome(domain.EntityTransaction, c.ID, fmt.Errorf("%w: budget_id cannot change", domain.ErrValidation))
	}
	day, _ := ParseDay(c.Date) // Checked by validate
	var deletedAt gorm.DeletedAt
	if c.DeletedAt != nil {
		deletedAt = gorm.DeletedAt{Time: *c.DeletedAt, Valid: true}
	}
	if !found {
		t := domain.Transaction{
			ID:           c.ID,
			BudgetID:     c.BudgetID,
			UserID:       a.userID,
			Amount:       c.Amount,
			Currency:     c.Currency,
			Type:         c.Type,
			Category:     c.Category,
			Subcategory:  c.Subcategory,
			Description:  c.Description,
			ExchangeRate: c.ExchangeRate,
			Date:         dateOnly(day),
			Details:      c.Details,
			DeletedAt:    deletedAt,
			SyncStatus:   c.SyncStatus,
			UpdatedAt:    c.UpdatedAt,
		}
		return itemOutcome(domain.EntityTransaction, c.ID, a.tx.Create(&t).Error)
	}
	if !force && stored.UpdatedAt.After(c.UpdatedAt) {
		return a.conflict(domain.EntityTransaction, c.ID, c, c.UpdatedAt, stored, stored.UpdatedAt)
	}
	cols := map[string]any{
		"amount":        c.Amount,
		"currency":      c.Currency,
		"type":          c.Type,
		"category":      c.Category,
		"subcategory":   c.Subcategory,
		"description":   c.Description,
		"exchange_rate": c.ExchangeRate,
		"date":          dateOnly(day),
		"details":       c.Details,
		"deleted_at":    deletedAt,
		"sync_status":   c.SyncStatus,
		"updated_at":    c.UpdatedAt,
	}
	return itemOutcome(domain.EntityTransaction, c.ID, a.tx.Unscoped().Model(&stored).UpdateColumns(cols).Error)
}

func (a *applier) recurring(c RecurringChange, force bool) (ItemResult, error) {
	var stored domain.RecurringTransaction
	err := forUpdate(a.tx).First(&stored, "id = ?", c.ID).Error
	found := err == nil
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return ItemResult{}, err
	}
	budgetID := c.BudgetID
	if found {
		budgetID = stored.BudgetID // Authorize against where the row lives now
	}
	if err := requireGrant(a.tx, a.userID, budgetID, domain.EditRoles, true, true); err != nil {
		return itemOutcome(domain.EntityRecurring, c.ID, err)
	}
	if budgetID != c.BudgetID {
		return itemOutcome(domain.EntityRecurring, c.ID, fmt.Errorf("%w: budget_id cannot change", domain.ErrValidation))
	}
	next, _ := ParseDay(c.NextExecution)
	if !found {
		r := domain.RecurringTransaction{
			ID:            c.ID,
			BudgetID:      c.BudgetID,
			UserID:        a.userID,
			Schedule:      c.Schedule,
			RecurringType: c.RecurringType,
			Amount:        c.Amount,
			Currency:      c.Currency,
			Type:          c.Type,
			Category:      c.Category,
			Subcategory:   c.Subcategory,
			Description:   c.Description,
			IsActive:      c.IsActive,
			NextExecution: dateOnly(next),
			SyncStatus:    c.SyncStatus,
			UpdatedAt:     c.UpdatedAt,
		}
		return itemOutcome(domain.EntityRecurring, c.ID, a.tx.Create(&r).Error)
	}
	if !force && stored.UpdatedAt.After(c.UpdatedAt) {
		return a.conflict(domain.EntityRecurring, c.ID, c, c.UpdatedAt, stored, stored.UpdatedAt)
	}
	cols := map[string]any{
		"schedule":       c.Schedule,
		"recurring_type": c.RecurringType,
		"amount":         c.Amount,
		"currency":       c.Currency,
		"type":           c.Type,
		"category":       c.Category,
		"subcategory":    c.Subcategory,
		"description":    c.Description,
		"is_active":      c.IsActive,
		"next_execution": dateOnly(next),
		"sync_status":    c.SyncStatus,
		"updated_at":     c.UpdatedAt,
	}
	return itemOutcome(domain.EntityRecurring, c.ID, a.tx.Model(&stored).UpdateColumns(cols).Error)
}

// Conflicts lists the caller's unresolved conflicts, oldest first
func (s *SyncService) Conflicts(ctx context.Context, userID string) ([]domain.SyncConflict, error) {
	var out []domain.SyncConflict
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND resolved_at IS NULL", userID).
		Order("created_at").
		Find(&out).Error
	return out, err
}

// ResolveConflicts settles conflicts by id. "server" keeps the stored row;
// "client" re-applies the pushed version with a fresh updated_at. Unknown ids,
// and client versions the caller can no longer write, are skipped.
func (s *SyncService) ResolveConflicts(ctx context.Context, userID string, resolutions map[string]domain.Resolution) (*ResolveResult, error) {
	ids := make([]string, 0, len(resolutions))
	for id, r := range resolutions {
		if r != domain.ResolveServer && r != domain.ResolveClient {
			return nil, fmt.Errorf("%w: resolution for %s must be server or client", domain.ErrValidation, id)
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	result := &ResolveResult{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		a := &applier{tx: tx, userID: userID}
		for _, id := range ids {
			var c domain.SyncConflict
			err := tx.Where("id = ? AND user_id = ? AND resolved_at IS NULL", id, userID).First(&c).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				result.Skipped = append(result.Skipped, id)
				continue
			}
			if err != nil {
				return err
			}
			choice := resolutions[id]
			if choice == domain.ResolveClient {
				item, err := a.replay(&c)
				if err != nil {
					return err
				}
				if item.Status != PushProcessed {
					result.Skipped = append(result.Skipped, id)
					continue
				}
			}
			now := utcNow()
			if err := tx.Model(&c).Updates(map[string]any{"resolution": choice, "resolved_at": now}).Error; err != nil {
				return err
			}
			result.ResolvedCount++
		}
		return tx.Model(&domain.SyncConflict{}).Where("user_id = ? AND resolved_at IS NULL", userID).Count(&result.RemainingConflicts).Error
	})
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"user_id":   userID,
		"resolved":  result.ResolvedCount,
		"remaining": result.RemainingConflicts,
		"skipped":   len(result.Skipped),
	}).Info("Sync conflicts resolved")
	return result, nil
}

// replay force-applies the client side of a conflict, stamped now
func (a *applier) replay(c *domain.SyncConflict) (ItemResult, error) {
	now := utcNow()
	switch c.EntityType {
	case domain.EntityUser:
		var change UserChange
		if err := json.Unmarshal(c.ClientVersion, &change); err != nil {
			return ItemResult{}, err
		}
		change.UpdatedAt = now
		return a.user(change, true)
	case domain.EntityBudget:
		var change BudgetChange
		if err := json.Unmarshal(c.ClientVersion, &change); err != nil {
			return ItemResult{}, err
		}
		change.UpdatedAt = now
		return a.budget(change, true)
	case domain.EntityTransaction:
		var change TransactionChange
		if err := json.Unmarshal(c.ClientVersion, &change); err != nil {
			return ItemResult{}, err
		}
		change.UpdatedAt = now
		return a.transaction(change, true)
	case domain.EntityRecurring:
		var change RecurringChange
		if err := json.Unmarshal(c.ClientVersion, &change); err != nil {
			return ItemResult{}, err
		}
		change.UpdatedAt = now
		return a.recurring(change, true)
	}
	return ItemResult{}, fmt.Errorf("unknown entity type %q", c.EntityType)
}

// Status reports the caller's last sync, open conflicts and how many visible
// rows changed since their last pull
func (s *SyncService) Status(ctx context.Context, userID string) (*StatusReport, error) {
	db := s.db.WithContext(ctx)
	report := &StatusReport{SyncHealth: HealthNeverSynced}

	var state domain.SyncState
	err := db.First(&state, "user_id = ?", userID).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	report.LastSync = state.LastSyncAt

	if err := db.Model(&domain.SyncConflict{}).Where("user_id = ? AND resolved_at IS NULL", userID).Count(&report.ConflictsCount).Error; err != nil {
		return nil, err
	}

	userScope, userArgs := "id = ?", []any{userID}
	budgetScope, budgetArgs := readScope("budgets.id", userID)
	txScope, txArgs := readScope("transactions.budget_id", userID)
	recScope, recArgs := readScope("recurring_transactions.budget_id", userID)
	counts := []struct {
		query *gorm.DB
		col   string
	}{
		{db.Model(&domain.User{}).Where(userScope, userArgs...), "updated_at"},
		{db.Model(&domain.Budget{}).Where(budgetScope, budgetArgs...), "budgets.updated_at"},
		{db.Unscoped().Model(&domain.Transaction{}).Where(txScope, txArgs...), "transactions.updated_at"},
		{db.Model(&domain.RecurringTransaction{}).Where(recScope, recArgs...), "recurring_transactions.updated_at"},
	}
	for _, c := range counts {
		q := c.query
		if state.LastPullAt != nil {
			q = q.Where(c.col+" > ?", *state.LastPullAt)
		}
		var n int64
		if err := q.Count(&n).Error; err != nil {
			return nil, err
		}
		report.PendingChanges += n
	}

	switch {
	case report.ConflictsCount > 0:
		report.SyncHealth = HealthConflicts
	case report.LastSync != nil:
		report.SyncHealth = HealthHealthy
	}
	return report, nil
}
