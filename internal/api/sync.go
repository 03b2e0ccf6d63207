package api

import (
	"net/http" // HTTP status codes

	"budget_system/internal/domain"  // Importing domain models
	"budget_system/internal/service" // Replication

	"github.com/gin-gonic/gin" // Gin web framework
)

// MaxPushItems bounds a single push batch
const MaxPushItems = 1000

// ResolveRequest is the body of POST /sync/conflicts/resolve
type ResolveRequest struct {
	Resolutions map[string]domain.Resolution `json:"resolutions" binding:"required"` // Conflict id -> server|client
}

// PushHandler applies a batch of offline changes
func PushHandler(sync *service.SyncService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var batch service.PushBatch
		if err := c.ShouldBindJSON(&batch); err != nil {
			badRequest(c, err)
			return
		}
		if batch.Size() > MaxPushItems {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Push batch too large"})
			return
		}
		result, err := sync.Push(c.Request.Context(), currentUser(c), batch)
		if err != nil {
			writeError(c, err, "sync push")
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// PullHandler returns every visible row changed after ?since
func PullHandler(sync *service.SyncService) gin.HandlerFunc {
	return func(c *gin.Context) {
		since, err := optionalTime(c, "since")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be an RFC 3339 timestamp"})
			return
		}
		result, err := sync.Pull(c.Request.Context(), currentUser(c), since)
		if err != nil {
			writeError(c, err, "sync pull")
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// ConflictsHandler lists the caller's unresolved conflicts
func ConflictsHandler(sync *service.SyncService) gin.HandlerFunc {
	return func(c *gin.Context) {
		conflicts, err := sync.Conflicts(c.Request.Context(), currentUser(c))
		if err != nil {
			writeError(c, err, "sync conflicts")
			return
		}
		c.JSON(http.StatusOK, gin.H{"conflicts": conflicts, "total": len(conflicts)})
	}
}

// ResolveHandler settles conflicts
func ResolveHandler(sync *service.SyncService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ResolveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		result, err := sync.ResolveConflicts(c.Request.Context(), currentUser(c), req.Resolutions)
		if err != nil {
			writeError(c, err, "sync resolve")
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// SyncStatusHandler reports the caller's sync health
func SyncStatusHandler(sync *service.SyncService) gin.HandlerFunc {
	return func(c *gin.Context) {
		report, err := sync.Status(c.Request.Context(), currentUser(c))
		if err != nil {
			writeError(c, err, "sync status")
			return
		}
		c.JSON(http.StatusOK, report)
	}
}
