// User and search HTTP handlers.
//
//   - GET   /me       (current user)
//   - PATCH /me       (rename)
//   - GET   /search   (ranked message hits)
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/unified-inbox/internal/services"
	"github.com/tbourn/unified-inbox/internal/utils"
)

// RenameUserRequest is the body for PATCH /me.
type RenameUserRequest struct {
	// Name is trimmed and must be 1–120 characters.
	Name string `json:"name" binding:"required" example:"Ada Lovelace"`
}

// SearchResponse wraps ranked hits.
type SearchResponse struct {
	Query string               `json:"query"`
	Hits  []services.SearchHit `json:"hits"`
}

// GetMe godoc
// @ID          getMe
// @Summary     Current user
// @Tags        Users
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  domain.User
// @Failure     404  {object}  handlers.ErrorResponse "User not found"
// @Router      /me [get]
func (h *Handlers) GetMe(c *gin.Context) {
	u, err := h.users.Get(c.Request.Context(), userID(c))
	if err != nil {
		failService(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, u)
}

// UpdateMe godoc
// @ID          updateMe
// @Summary     Rename the current user
// @Tags        Users
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body  handlers.RenameUserRequest  true  "New name"
// @Success     200  {object}  domain.User
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Router      /me [patch]
func (h *Handlers) UpdateMe(c *gin.Context) {
	var req RenameUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "name required (1–120 chars)")
		return
	}
	u, err := h.users.Rename(c.Request.Context(), userID(c), req.Name)
	if err != nil {
		failService(c, err, ErrCodeUpdateFailed)
		return
	}
	ok(c, http.StatusOK, u)
}

// Search godoc
// @ID          searchMessages
// @Summary     Search messages
// @Description Jaccard-ranked hits over the most recent messages.
// @Tags        Search
// @Produce     json
// @Security    BearerAuth
// @Param       q      query  string  true  "Query"
// @Param       limit  query  int     false "Max hits"  minimum(1) maximum(50) default(10)
// @Success     200  {object}  handlers.SearchResponse
// @Failure     400  {object}  handlers.ErrorResponse "Empty query"
// @Router      /search [get]
func (h *Handlers) Search(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	limit := utils.Clamp(utils.AtoiDefault(c.Query("limit"), 10), 1, 50)
	hits, err := h.search.Search(c.Request.Context(), q, limit)
	if err != nil {
		failService(c, err, ErrCodeInternal)
		return
	}
	if hits == nil {
		hits = []services.SearchHit{}
	}
	ok(c, http.StatusOK, SearchResponse{Query: q, Hits: hits})
}
