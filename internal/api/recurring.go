package api

import (
	"net/http" // HTTP status codes
	"strconv"  // Boolean filter
	"time"     // Parsed dates

	"budget_system/internal/domain"  // Importing domain models
	"budget_system/internal/service" // Recurring operations

	"github.com/gin-gonic/gin"      // Gin web framework
	"github.com/shopspring/decimal" // Exact decimal money
)

// RecurringRequest is the body of POST /recurring-transactions
type RecurringRequest struct {
	BudgetID      string                 `json:"budget_id" binding:"required,uuid"`
	Schedule      domain.Schedule        `json:"schedule" binding:"required"`
	RecurringType domain.RecurringType   `json:"recurring_type"`
	Amount        decimal.Decimal        `json:"amount"`
	Currency      string                 `json:"currency" binding:"omitempty,currency"`
	Type          domain.TransactionType `json:"type" binding:"required,oneof=income expense investment"`
	Category      string                 `json:"category" binding:"required,max=100"`
	Subcategory   *string                `json:"subcategory" binding:"omitempty,max=100"`
	Description   *string                `json:"description"`
	NextExecution string                 `json:"next_execution" binding:"required"` // YYYY-MM-DD
}

// RecurringUpdateRequest is the body of PUT /recurring-transactions/:id
type RecurringUpdateRequest struct {
	Schedule      *domain.Schedule        `json:"schedule"`
	RecurringType *domain.RecurringType   `json:"recurring_type"`
	Amount        *decimal.Decimal        `json:"amount"`
	Currency      *string                 `json:"currency" binding:"omitempty,currency"`
	Type          *domain.TransactionType `json:"type" binding:"omitempty,oneof=income expense investment"`
	Category      *string                 `json:"category" binding:"omitempty,max=100"`
	Subcategory   *string                 `json:"subcategory" binding:"omitempty,max=100"`
	Description   *string                 `json:"description"`
	IsActive      *bool                   `json:"is_active"`
	NextExecution *string                 `json:"next_execution"`
}

// CreateRecurringHandler schedules a recurring transaction
func CreateRecurringHandler(recurring *service.RecurringService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RecurringRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		next, err := service.ParseDay(req.NextExecution)
		if err != nil {
			writeError(c, err, "create recurring transaction")
			return
		}
		r, err := recurring.Create(c.Request.Context(), service.RecurringInput{
			BudgetID:      req.BudgetID,
			Schedule:      req.Schedule,
			RecurringType: req.RecurringType,
			Amount:        req.Amount,
			Currency:      req.Currency,
			Type:          req.Type,
			Category:      req.Category,
			Subcategory:   req.Subcategory,
			Description:   req.Description,
			NextExecution: next,
		}, currentUser(c))
		if err != nil {
			writeError(c, err, "create recurring transaction")
			return
		}
		c.JSON(http.StatusCreated, r)
	}
}

// ListRecurringHandler lists recurring transactions, optionally by budget and activity
func ListRecurringHandler(recurring *service.RecurringService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var active *bool
		if raw := c.Query("is_active"); raw != "" {
			v, err := strconv.ParseBool(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "is_active must be true or false"})
				return
			}
			active = &v
		}
		items, err := recurring.List(c.Request.Context(), currentUser(c), c.Query("budget_id"), active)
		if err != nil {
			writeError(c, err, "list recurring transactions")
			return
		}
		c.JSON(http.StatusOK, gin.H{"recurring_transactions": items})
	}
}

// GetRecurringHandler returns one recurring transaction
func GetRecurringHandler(recurring *service.RecurringService) gin.HandlerFunc {
	return func(c *gin.Context) {
		r, err := recurring.Get(c.Request.Context(), c.Param("id"), currentUser(c))
		if err != nil {
			writeError(c, err, "get recurring transaction")
			return
		}
		c.JSON(http.StatusOK, r)
	}
}

// UpdateRecurringHandler edits or pauses a recurring transaction
func UpdateRecurringHandler(recurring *service.RecurringService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RecurringUpdateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		var next *time.Time
		if req.NextExecution != nil {
			d, err := service.ParseDay(*req.NextExecution)
			if err != nil {
				writeError(c, err, "update recurring transaction")
				return
			}
			next = &d
		}
		r, err := recurring.Update(c.Request.Context(), c.Param("id"), service.RecurringPatch{
			Schedule:      req.Schedule,
			RecurringType: req.RecurringType,
			Amount:        req.Amount,
			Currency:      req.Currency,
			Type:          req.Type,
			Category:      req.Category,
			Subcategory:   req.Subcategory,
			Description:   req.Description,
			IsActive:      req.IsActive,
			NextExecution: next,
		}, currentUser(c))
		if err != nil {
			writeError(c, err, "update recurring transaction")
			return
		}
		c.JSON(http.StatusOK, r)
	}
}

// DeleteRecurringHandler removes a recurring transaction
func DeleteRecurringHandler(recurring *service.RecurringService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := recurring.Delete(c.Request.Context(), c.Param("id"), currentUser(c)); err != nil {
			writeError(c, err, "delete recurring transaction")
			return
		}
		c.Status(http.StatusNoContent)
	}
}
