package api

import (
	"net/http" // HTTP status codes
	"time"     // Token lifetime

	"budget_system/internal/domain"  // Importing domain models
	"budget_system/internal/service" // Account operations
	"budget_system/internal/utils"   // Token issuing

	"github.com/gin-gonic/gin"   // Gin web framework
	"github.com/sirupsen/logrus" // Structured logging
)

// RegisterRequest is the body of POST /auth/register
type RegisterRequest struct {
	Name     string `json:"name" binding:"required,max=255"`         // Display name
	Email    string `json:"email" binding:"omitempty,email,max=255"` // Email or phone must be provided
	Phone    string `json:"phone" binding:"omitempty,max=20"`        // E.164-ish phone number
	Password string `json:"password" binding:"required,min=8"`       // Plain password, hashed by the service
}

// LoginRequest is the body of POST /auth/login
type LoginRequest struct {
	Email    string `json:"email"`                       // Either email...
	Phone    string `json:"phone"`                       // ...or phone
	Password string `json:"password" binding:"required"` // Password must be provided
}

// AuthResponse carries a fresh token and the profile it was issued for
type AuthResponse struct {
	AccessToken string       `json:"access_token"` // JWT token
	TokenType   string       `json:"token_type"`   // Always "bearer"
	ExpiresIn   int64        `json:"expires_in"`   // Seconds
	User        *domain.User `json:"user"`         // Profile
}

// TokenSettings configures issued tokens
type TokenSettings struct {
	Secret string
	TTL    time.Duration
}

func issue(c *gin.Context, status int, tokens TokenSettings, user *domain.User) {
	sub := utils.TokenSubject{UserID: user.ID, Name: user.Name}
	if user.Email != nil {
		sub.Email = *user.Email
	}
	if user.Phone != nil {
		sub.Phone = *user.Phone
	}
	token, err := utils.GenerateJWT(sub, tokens.Secret, tokens.TTL)
	if err != nil {
		// If token generation fails, return internal server error
		logrus.WithFields(logrus.Fields{"user_id": user.ID, "error": err.Error()}).Error("Failed to generate token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}
	c.JSON(status, AuthResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int64(tokens.TTL.Seconds()),
		User:        user,
	})
}

// RegisterHandler creates an account and returns a token for it
func RegisterHandler(users *service.UserService, tokens TokenSettings) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RegisterRequest // Bind JSON request to struct
		if err := c.ShouldBindJSON(&req); err != nil {
			// If binding fails, return bad request
			badRequest(c, err)
			return
		}
		user, err := users.Register(c.Request.Context(), service.Registration{
			Name:     req.Name,
			Email:    req.Email,
			Phone:    req.Phone,
			Password: req.Password,
		})
		if err != nil {
			writeError(c, err, "register")
			return
		}
		issue(c, http.StatusCreated, tokens, user)
	}
}

// LoginHandler authenticates a user by email or phone and returns a JWT token
func LoginHandler(users *service.UserService, tokens TokenSettings) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest // Bind JSON request to struct
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		if req.Email == "" && req.Phone == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Email or phone is required"})
			return
		}
		user, err := users.Authenticate(c.Request.Context(), req.Email, req.Phone, req.Password)
		if err != nil {
			// Same answer for unknown accounts and wrong passwords
			logrus.WithField("error", err.Error()).Warn("Login failed")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
			return
		}
		issue(c, http.StatusOK, tokens, user)
	}
}
