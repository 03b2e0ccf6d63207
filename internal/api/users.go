package api

import (
	"net/http" // HTTP status codes

	"budget_system/internal/service" // Account operations

	"github.com/gin-gonic/gin" // Gin web framework
)

// ProfileRequest is the body of PUT /users/me; omitted fields are unchanged
type ProfileRequest struct {
	Name  *string `json:"name" binding:"omitempty,max=255"`
	Email *string `json:"email" binding:"omitempty,email,max=255"`
	Phone *string `json:"phone" binding:"omitempty,max=20"`
}

// MeHandler returns the caller's profile
func MeHandler(users *service.UserService) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := users.Profile(c.Request.Context(), currentUser(c))
		if err != nil {
			writeError(c, err, "get profile")
			return
		}
		c.JSON(http.StatusOK, user)
	}
}

// UpdateMeHandler edits the caller's profile
func UpdateMeHandler(users *service.UserService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ProfileRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		user, err := users.UpdateProfile(c.Request.Context(), currentUser(c), service.ProfilePatch{
			Name:  req.Name,
			Email: req.Email,
			Phone: req.Phone,
		})
		if err != nil {
			writeError(c, err, "update profile")
			return
		}
		c.JSON(http.StatusOK, user)
	}
}

// DeleteMeHandler removes the caller's account and everything only they could reach
func DeleteMeHandler(users *service.UserService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := users.Delete(c.Request.Context(), currentUser(c)); err != nil {
			writeError(c, err, "delete account")
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// SearchUsersHandler finds active users by name, email or phone
func SearchUsersHandler(users *service.UserService, defPage, maxPage int) gin.HandlerFunc {
	return func(c *gin.Context) {
		query := c.Query("query")
		if query == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
			return
		}
		limit, offset := page(c, defPage, maxPage)
		found, total, err := users.Search(c.Request.Context(), query, limit, offset)
		if err != nil {
			writeError(c, err, "search users")
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"users":  found,  // Matching users
			"total":  total,  // Total matches
			"limit":  limit,  // Page size
			"offset": offset, // Page start
		})
	}
}
