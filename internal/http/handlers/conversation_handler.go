// Conversation HTTP handlers.
//
//   - GET   /conversations                 (workspace list, ETag)
//   - GET   /conversations/stats           (dashboard counters)
//   - GET   /conversations/{id}            (fetch)
//   - PATCH /conversations/{id}            (state change or assign/unassign)
//   - POST  /conversations/{id}/read       (mark read)
//   - GET   /conversations/{id}/messages   (thread, oldest first, ETag)
package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/unified-inbox/internal/domain"
	"github.com/tbourn/unified-inbox/internal/services"
)

// ListConversationsResponse wraps a page of conversation summaries.
type ListConversationsResponse struct {
	Conversations []services.ConversationSummary `json:"conversations"`
	Pagination    Pagination                     `json:"pagination"`
}

// UpdateConversationRequest changes the state or the assignee. When both
// are given the action wins.
type UpdateConversationRequest struct {
	State  *string `json:"state"  example:"WAITING" enums:"OPEN,WAITING,CLOSED"`
	Action *string `json:"action" example:"assign"  enums:"assign,unassign"`
}

// ListMessagesResponse wraps a page of messages.
type ListMessagesResponse struct {
	Messages   []domain.Message `json:"messages"`
	Pagination Pagination       `json:"pagination"`
}

// ListConversations godoc
// @ID          listConversations
// @Summary     List conversations
// @Description Workspace view ordered by last activity. Supports a weak ETag via If-None-Match.
// @Tags        Conversations
// @Produce     json
// @Security    BearerAuth
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       workspace      query   string  false "unassigned (inbound) or mine (my-work)"
// @Param       channel        query   string  false "SMS, WHATSAPP or EMAIL"
// @Param       state          query   string  false "OPEN, WAITING or CLOSED"
// @Param       page           query   int     false "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.ListConversationsResponse
// @Header      200  {string}  ETag  "Weak ETag for current result"
// @Success     304  {string}  string "Not Modified"
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /conversations [get]
func (h *Handlers) ListConversations(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)
	page, pageSize := clampPagination(c)
	q := services.ConversationQuery{
		Workspace: c.Query("workspace"),
		Channel:   c.Query("channel"),
		State:     c.Query("state"),
		Page:      page,
		PageSize:  pageSize,
	}

	// ETag pre-check (best effort). The scope includes everything that
	// changes the result set.
	if count, maxTS, err := h.convs.ListStats(ctx, uid, q); err == nil {
		scope := fmt.Sprintf("conversations:%s:%s:%s:%s:%d:%d", uid, q.Workspace, q.Channel, q.State, q.Page, q.PageSize)
		if notModified(c, scope, count, maxTS) {
			return
		}
	}

	items, total, err := h.convs.ListPage(ctx, uid, q)
	if err != nil {
		failService(c, err, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, ListConversationsResponse{Conversations: items, Pagination: newPagination(page, pageSize, total)})
}

// ConversationStats godoc
// @ID          conversationStats
// @Summary     Dashboard counters
// @Description unassigned = OPEN without assignee, assigned = OPEN assigned to the caller.
// @Tags        Conversations
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  repo.ConversationCounts
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /conversations/stats [get]
func (h *Handlers) ConversationStats(c *gin.Context) {
	counts, err := h.convs.Stats(c.Request.Context(), userID(c))
	if err != nil {
		failService(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, counts)
}

// GetConversation godoc
// @ID          getConversation
// @Summary     Get a conversation
// @Tags        Conversations
// @Produce     json
// @Security    BearerAuth
// @Param       id  path  string  true  "Conversation ID"  format(uuid)
// @Success     200  {object}  domain.Conversation
// @Failure     404  {object}  handlers.ErrorResponse "Conversation not found"
// @Router      /conversations/{id} [get]
func (h *Handlers) GetConversation(c *gin.Context) {
	conv, err := h.convs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		failService(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, conv)
}

// UpdateConversation godoc
// @ID          updateConversation
// @Summary     Change state or assignee
// @Description Assigning also returns the conversation to OPEN. Reopening next to another active conversation of the same contact is a conflict.
// @Tags        Conversations
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path  string                              true  "Conversation ID"  format(uuid)
// @Param       body  body  handlers.UpdateConversationRequest  true  "State or action"
// @Success     200  {object}  domain.Conversation
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse "Conversation not found"
// @Failure     409  {object}  handlers.ErrorResponse "Contact already has an active conversation"
// @Router      /conversations/{id} [patch]
func (h *Handlers) UpdateConversation(c *gin.Context) {
	var req UpdateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	conv, err := h.convs.Update(c.Request.Context(), c.Param("id"), userID(c), services.ConversationUpdate{
		State:  req.State,
		Action: req.Action,
	})
	if err != nil {
		failService(c, err, ErrCodeUpdateFailed)
		return
	}
	ok(c, http.StatusOK, conv)
}

// MarkConversationRead godoc
// @ID          markConversationRead
// @Summary     Mark a conversation read
// @Tags        Conversations
// @Produce     json
// @Security    BearerAuth
// @Param       id  path  string  true  "Conversation ID"  format(uuid)
// @Success     200  {object}  domain.Conversation
// @Failure     404  {object}  handlers.ErrorResponse "Conversation not found"
// @Router      /conversations/{id}/read [post]
func (h *Handlers) MarkConversationRead(c *gin.Context) {
	conv, err := h.convs.MarkRead(c.Request.Context(), c.Param("id"))
	if err != nil {
		failService(c, err, ErrCodeUpdateFailed)
		return
	}
	ok(c, http.StatusOK, conv)
}

// ListConversationMessages godoc
// @ID          listConversationMessages
// @Summary     List a conversation's messages
// @Description Oldest first. Supports a weak ETag via If-None-Match.
// @Tags        Conversations
// @Produce     json
// @Security    BearerAuth
// @Param       id         path   string  true  "Conversation ID"  format(uuid)
// @Param       page       query  int     false "Page number"     minimum(1) default(1)
// @Param       page_size  query  int     false "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.ListMessagesResponse
// @Success     304  {string}  string "Not Modified"
// @Failure     404  {object}  handlers.ErrorResponse "Conversation not found"
// @Router      /conversations/{id}/messages [get]
func (h *Handlers) ListConversationMessages(c *gin.Context) {
	page, pageSize := clampPagination(c)
	h.listMessages(c, services.MessageQuery{ConversationID: c.Param("id"), Page: page, PageSize: pageSize})
}

func (h *Handlers) listMessages(c *gin.Context, q services.MessageQuery) {
	ctx := c.Request.Context()
	if count, maxTS, err := h.msgs.ListStats(ctx, q); err == nil {
		scope := fmt.Sprintf("messages:%s:%s:%d:%d", q.ConversationID, q.ContactID, q.Page, q.PageSize)
		if notModified(c, scope, count, maxTS) {
			return
		}
	}

	items, total, err := h.msgs.ListPage(ctx, q)
	if err != nil {
		failService(c, err, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, ListMessagesResponse{Messages: items, Pagination: newPagination(q.Page, q.PageSize, total)})
}
