package api

import (
	"net/http" // HTTP status codes
	"time"     // Parsed dates

	"budget_system/internal/domain"  // Importing domain models
	"budget_system/internal/service" // Transaction operations

	"github.com/gin-gonic/gin"      // Gin web framework
	"github.com/shopspring/decimal" // Exact decimal money
	"gorm.io/datatypes"             // JSON details
)

// TransactionRequest is the body of POST /transactions
type TransactionRequest struct {
	BudgetID     string                 `json:"budget_id" binding:"required,uuid"`
	Amount       decimal.Decimal        `json:"amount"`
	Currency     string                 `json:"currency" binding:"omitempty,currency"`
	Type         domain.TransactionType `json:"type" binding:"required,oneof=income expense investment"`
	Category     string                 `json:"category" binding:"required,max=100"`
	Subcategory  *string                `json:"subcategory" binding:"omitempty,max=100"`
	Description  *string                `json:"description"`
	ExchangeRate decimal.Decimal        `json:"exchange_rate"`
	Date         string                 `json:"date" binding:"required"` // YYYY-MM-DD
	Details      datatypes.JSON         `json:"details"`
}

// TransactionUpdateRequest is the body of PUT /transactions/:id
type TransactionUpdateRequest struct {
	Amount       *decimal.Decimal        `json:"amount"`
	Currency     *string                 `json:"currency" binding:"omitempty,currency"`
	Type         *domain.TransactionType `json:"type" binding:"omitempty,oneof=income expense investment"`
	Category     *string                 `json:"category" binding:"omitempty,max=100"`
	Subcategory  *string                 `json:"subcategory" binding:"omitempty,max=100"`
	Description  *string                 `json:"description"`
	ExchangeRate *decimal.Decimal        `json:"exchange_rate"`
	Date         *string                 `json:"date"`
	Details      datatypes.JSON          `json:"details"`
}

// CreateTransactionHandler records a transaction in a budget the caller can edit
func CreateTransactionHandler(txs *service.TransactionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req TransactionRequest // Bind JSON request to struct
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		day, err := service.ParseDay(req.Date)
		if err != nil {
			writeError(c, err, "create transaction")
			return
		}
		tx, err := txs.Create(c.Request.Context(), service.TransactionInput{
			BudgetID:     req.BudgetID,
			Amount:       req.Amount,
			Currency:     req.Currency,
			Type:         req.Type,
			Category:     req.Category,
			Subcategory:  req.Subcategory,
			Description:  req.Description,
			ExchangeRate: req.ExchangeRate,
			Date:         day,
			Details:      req.Details,
		}, currentUser(c))
		if err != nil {
			writeError(c, err, "create transaction")
			return
		}
		c.JSON(http.StatusCreated, tx)
	}
}

// ListTransactionsHandler lists transactions across the caller's budgets
func ListTransactionsHandler(txs *service.TransactionService, defPage, maxPage int) gin.HandlerFunc {
	return func(c *gin.Context) {
		start, err := optionalDay(c, "start_date")
		if err != nil {
			writeError(c, err, "list transactions")
			return
		}
		end, err := optionalDay(c, "end_date")
		if err != nil {
			writeError(c, err, "list transactions")
			return
		}
		limit, offset := page(c, defPage, maxPage)
		items, total, err := txs.List(c.Request.Context(), currentUser(c), service.TransactionFilter{
			BudgetID:  c.Query("budget_id"),
			Type:      domain.TransactionType(c.Query("type")),
			Category:  c.Query("category"),
			StartDate: start,
			EndDate:   end,
			Limit:     limit,
			Offset:    offset,
		})
		if err != nil {
			writeError(c, err, "list transactions")
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"transactions": items,  // Page of transactions
			"total":        total,  // Total matches
			"limit":        limit,  // Page size
			"offset":       offset, // Page start
		})
	}
}

// GetTransactionHandler returns one transaction
func GetTransactionHandler(txs *service.TransactionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tx, err := txs.Get(c.Request.Context(), c.Param("id"), currentUser(c))
		if err != nil {
			writeError(c, err, "get transaction")
			return
		}
		c.JSON(http.StatusOK, tx)
	}
}

// UpdateTransactionHandler edits a transaction
func UpdateTransactionHandler(txs *service.TransactionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req TransactionUpdateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		var day *time.Time
		if req.Date != nil {
			d, err := service.ParseDay(*req.Date)
			if err != nil {
				writeError(c, err, "update transaction")
				return
			}
			day = &d
		}
		tx, err := txs.Update(c.Request.Context(), c.Param("id"), service.TransactionPatch{
			Amount:       req.Amount,
			Currency:     req.Currency,
			Type:         req.Type,
			Category:     req.Category,
			Subcategory:  req.Subcategory,
			Description:  req.Description,
			ExchangeRate: req.ExchangeRate,
			Date:         day,
			Details:      req.Details,
		}, currentUser(c))
		if err != nil {
			writeError(c, err, "update transaction")
			return
		}
		c.JSON(http.StatusOK, tx)
	}
}

// DeleteTransactionHandler tombstones a transaction
func DeleteTransactionHandler(txs *service.TransactionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := txs.Delete(c.Request.Context(), c.Param("id"), currentUser(c)); err != nil {
			writeError(c, err, "delete transaction")
			return
		}
		c.Status(http.StatusNoContent)
	}
}
