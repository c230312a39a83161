package booth

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/media-booth-system/internal/errs"
)

const (
	historyDefaultPageSize = 25
	historyMaxPageSize     = 100
)

type Handler struct {
	engine  *Engine
	history HistoryStore
}

func NewHandler(engine *Engine, history HistoryStore) *Handler {
	return &Handler{engine: engine, history: history}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/now", h.now)

	booth := r.Group("/booth")
	{
		booth.POST("/skip", h.skip)
		booth.POST("/replace", h.replace)
		booth.POST("/favorite", h.favorite)
		booth.POST("/vote", h.vote)
		booth.GET("/history", h.getHistory)
	}

	waitlist := r.Group("/waitlist")
	{
		waitlist.GET("", h.getWaitlist)
		waitlist.POST("", h.joinWaitlist)
		waitlist.DELETE("", h.clearWaitlist)
		waitlist.PUT("/move", h.moveWaitlist)
		waitlist.PUT("/lock", h.lockWaitlist)
		waitlist.DELETE("/:id", h.leaveWaitlist)
	}
}

// respondError maps the domain error taxonomy to HTTP statuses.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errs.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errs.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, errs.ErrPreconditionFailed):
		status = http.StatusPreconditionFailed
	case errors.Is(err, errs.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, errs.ErrInvalidArgument):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, errs.ErrInvalidToken):
		status = http.StatusUnauthorized
	case errors.Is(err, errs.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func actorID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.GetString("user_id"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "no authenticated user"})
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) now(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.SnapshotState())
}

type skipRequest struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason"`
	Remove bool   `json:"remove"`
}

func (h *Handler) skip(c *gin.Context) {
	actor, ok := actorID(c)
	if !ok {
		return
	}

	// An entirely empty body means "skip myself".
	var req skipRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	skip := SkipRequest{Reason: req.Reason, Remove: req.Remove}
	if req.UserID != "" {
		target, err := uuid.Parse(req.UserID)
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "user_id: expected a uuid"})
			return
		}
		skip.UserID = &target
	}

	if err := h.engine.Skip(c.Request.Context(), actor, skip); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

type replaceRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

func (h *Handler) replace(c *gin.Context) {
	actor, ok := actorID(c)
	if !ok {
		return
	}

	var req replaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	target, err := uuid.Parse(req.UserID)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "user_id: expected a uuid"})
		return
	}

	if err := h.engine.Replace(c.Request.Context(), actor, target); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

type favoriteRequest struct {
	PlaylistID string `json:"playlist_id" binding:"required"`
	HistoryID  string `json:"history_id" binding:"required"`
}

func (h *Handler) favorite(c *gin.Context) {
	actor, ok := actorID(c)
	if !ok {
		return
	}

	var req favoriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	playlistID, err := uuid.Parse(req.PlaylistID)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "playlist_id: expected a uuid"})
		return
	}
	historyID, err := uuid.Parse(req.HistoryID)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "history_id: expected a uuid"})
		return
	}

	item, err := h.engine.FavoriteCurrent(c.Request.Context(), actor, playlistID, historyID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

type voteRequest struct {
	Direction int `json:"direction" binding:"required,oneof=-1 1"`
}

func (h *Handler) vote(c *gin.Context) {
	actor, ok := actorID(c)
	if !ok {
		return
	}

	var req voteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.engine.CastVote(c.Request.Context(), actor, Direction(req.Direction)); err != nil {
		respondError(c, err)
		return
	}
	up, down := h.engine.Tally()
	c.JSON(http.StatusOK, gin.H{"upvotes": up, "downvotes": down})
}

func (h *Handler) getHistory(c *gin.Context) {
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(historyDefaultPageSize)))
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = historyDefaultPageSize
	}
	if limit > historyMaxPageSize {
		limit = historyMaxPageSize
	}

	var userFilter *uuid.UUID
	if raw := c.Query("user"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "user: expected a uuid"})
			return
		}
		userFilter = &id
	}

	entries, total, err := h.history.ListHistory(c.Request.Context(), userFilter, offset, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data": entries,
		"meta": gin.H{
			"offset": offset,
			"limit":  limit,
			"total":  total,
		},
	})
}

func (h *Handler) getWaitlist(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"waitlist": h.engine.Waitlist(), "locked": h.engine.Locked()})
}

type joinWaitlistRequest struct {
	UserID   string `json:"user_id"`
	Position *int   `json:"position"`
}

func (h *Handler) joinWaitlist(c *gin.Context) {
	actor, ok := actorID(c)
	if !ok {
		return
	}

	var req joinWaitlistRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	target := actor
	if req.UserID != "" {
		id, err := uuid.Parse(req.UserID)
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "user_id: expected a uuid"})
			return
		}
		target = id
	}
	position := -1
	if req.Position != nil {
		position = *req.Position
	}

	waitlist, err := h.engine.JoinWaitlist(c.Request.Context(), actor, target, position)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"waitlist": waitlist})
}

func (h *Handler) clearWaitlist(c *gin.Context) {
	actor, ok := actorID(c)
	if !ok {
		return
	}

	waitlist, err := h.engine.ClearWaitlist(c.Request.Context(), actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"waitlist": waitlist})
}

type moveWaitlistRequest struct {
	UserID   string `json:"user_id" binding:"required"`
	Position *int   `json:"position" binding:"required"`
}

func (h *Handler) moveWaitlist(c *gin.Context) {
	actor, ok := actorID(c)
	if !ok {
		return
	}

	var req moveWaitlistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	target, err := uuid.Parse(req.UserID)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "user_id: expected a uuid"})
		return
	}

	waitlist, err := h.engine.MoveWaitlist(c.Request.Context(), actor, target, *req.Position)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"waitlist": waitlist})
}

type lockWaitlistRequest struct {
	Lock *bool `json:"lock" binding:"required"`
}

func (h *Handler) lockWaitlist(c *gin.Context) {
	actor, ok := actorID(c)
	if !ok {
		return
	}

	var req lockWaitlistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	locked, err := h.engine.SetLocked(c.Request.Context(), actor, *req.Lock)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"locked": locked})
}

func (h *Handler) leaveWaitlist(c *gin.Context) {
	actor, ok := actorID(c)
	if !ok {
		return
	}

	target, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "id: expected a uuid"})
		return
	}

	waitlist, err := h.engine.RemoveFromWaitlist(c.Request.Context(), actor, target)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"waitlist": waitlist})
}
