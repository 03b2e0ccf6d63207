package api

import (
	"net/http" // HTTP status codes

	"budget_system/internal/domain"  // Importing domain models
	"budget_system/internal/service" // Budget lifecycle

	"github.com/gin-gonic/gin" // Gin web framework
)

// BudgetRequest is the body of POST /budgets
type BudgetRequest struct {
	Name     string `json:"name" binding:"required,max=255"`
	Currency string `json:"currency" binding:"omitempty,currency"` // Defaults to USD
}

// BudgetUpdateRequest is the body of PUT /budgets/:id
type BudgetUpdateRequest struct {
	Name     *string              `json:"name" binding:"omitempty,max=255"`
	Currency *string              `json:"currency" binding:"omitempty,currency"`
	Status   *domain.BudgetStatus `json:"status"`
}

// MemberRequest is the body of POST /budgets/:id/members
type MemberRequest struct {
	UserID string      `json:"user_id" binding:"required,uuid"`
	Role   domain.Role `json:"role" binding:"required,oneof=admin editor viewer"`
}

// RoleRequest is the body of PUT /budgets/:id/members/:user_id
type RoleRequest struct {
	Role domain.Role `json:"role" binding:"required,oneof=admin editor viewer"`
}

// CreateBudgetHandler creates a budget with the caller as its admin
func CreateBudgetHandler(budgets *service.BudgetService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req BudgetRequest // Bind JSON request to struct
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		budget, err := budgets.Create(c.Request.Context(), req.Name, req.Currency, currentUser(c))
		if err != nil {
			writeError(c, err, "create budget")
			return
		}
		c.JSON(http.StatusCreated, budget)
	}
}

// ListBudgetsHandler lists the caller's active budgets
func ListBudgetsHandler(budgets *service.BudgetService, defPage, maxPage int) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, offset := page(c, defPage, maxPage)
		items, total, err := budgets.List(c.Request.Context(), currentUser(c), c.Query("search"), limit, offset)
		if err != nil {
			writeError(c, err, "list budgets")
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"budgets": items,  // Page of budgets
			"total":   total,  // Total visible budgets
			"limit":   limit,  // Page size
			"offset":  offset, // Page start
		})
	}
}

// GetBudgetHandler returns a budget with its member roster
func GetBudgetHandler(budgets *service.BudgetService) gin.HandlerFunc {
	return func(c *gin.Context) {
		detail, err := budgets.Get(c.Request.Context(), c.Param("id"), currentUser(c))
		if err != nil {
			writeError(c, err, "get budget")
			return
		}
		c.JSON(http.StatusOK, detail)
	}
}

// UpdateBudgetHandler edits a budget's name, currency or status
func UpdateBudgetHandler(budgets *service.BudgetService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req BudgetUpdateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		budget, err := budgets.Update(c.Request.Context(), c.Param("id"), service.BudgetPatch{
			Name:     req.Name,
			Currency: req.Currency,
			Status:   req.Status,
		}, currentUser(c))
		if err != nil {
			writeError(c, err, "update budget")
			return
		}
		c.JSON(http.StatusOK, budget)
	}
}

// ArchiveBudgetHandler archives an active budget
func ArchiveBudgetHandler(budgets *service.BudgetService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := budgets.Archive(c.Request.Context(), c.Param("id"), currentUser(c)); err != nil {
			writeError(c, err, "archive budget")
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Budget archived"})
	}
}

// DeleteBudgetHandler removes a budget and everything in it
func DeleteBudgetHandler(budgets *service.BudgetService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := budgets.Delete(c.Request.Context(), c.Param("id"), currentUser(c)); err != nil {
			writeError(c, err, "delete budget")
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// MembersHandler lists a budget's roster
func MembersHandler(budgets *service.BudgetService) gin.HandlerFunc {
	return func(c *gin.Context) {
		members, err := budgets.Members(c.Request.Context(), c.Param("id"), currentUser(c))
		if err != nil {
			writeError(c, err, "list members")
			return
		}
		c.JSON(http.StatusOK, gin.H{"members": members})
	}
}

// AddMemberHandler grants a user a role on the budget
func AddMemberHandler(budgets *service.BudgetService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req MemberRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		m, err := budgets.AddMember(c.Request.Context(), c.Param("id"), req.UserID, req.Role, currentUser(c))
		if err != nil {
			writeError(c, err, "add member")
			return
		}
		c.JSON(http.StatusCreated, m)
	}
}

// UpdateMemberHandler changes a member's role
func UpdateMemberHandler(budgets *service.BudgetService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RoleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		m, err := budgets.UpdateRole(c.Request.Context(), c.Param("id"), c.Param("user_id"), req.Role, currentUser(c))
		if err != nil {
			writeError(c, err, "update member")
			return
		}
		c.JSON(http.StatusOK, m)
	}
}

// RemoveMemberHandler revokes a member's access
func RemoveMemberHandler(budgets *service.BudgetService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := budgets.RemoveMember(c.Request.Context(), c.Param("id"), c.Param("user_id"), currentUser(c)); err != nil {
			writeError(c, err, "remove member")
			return
		}
		c.Status(http.StatusNoContent)
	}
}
