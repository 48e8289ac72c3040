// Message HTTP handlers.
//
//   - POST /messages/send   (dispatch through a channel adapter, then record)
//   - GET  /messages        (timeline of a contact or a conversation)
//
// Idempotency:
// With an Idempotency-Key header, a retry of a send that already succeeded
// returns the recorded message with `Idempotency-Replayed: true` and makes
// no provider call. Keys are scoped to the caller and the route.
package handlers

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/unified-inbox/internal/http/middleware"
	"github.com/tbourn/unified-inbox/internal/services"
)

// SendMessageRequest is the JSON payload for an outbound message.
type SendMessageRequest struct {
	ContactID string `json:"contactId" binding:"required" example:"141add05-4415-4938-b5a1-17e0d3171aff"`
	Channel   string `json:"channel"   binding:"required" example:"SMS" enums:"SMS,WHATSAPP,EMAIL"`
	Content   string `json:"content"   binding:"required" example:"Your order has shipped."`
}

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeContent normalizes line endings and blank-line runs and trims
// surrounding whitespace.
func sanitizeContent(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// SendMessage godoc
// @ID          sendMessage
// @Summary     Send a message to a contact
// @Description Validates that the contact is reachable on the channel, calls the provider and records the OUTBOUND message.
// @Description Nothing is recorded when the provider call fails.
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body    handlers.SendMessageRequest  true  "Message"
// @Success     201  {object}  domain.Message
// @Header      201  {string}  Idempotency-Replayed  "true when served from a previous send"
// @Failure     400  {object}  handlers.ErrorResponse "Bad request or missing_contact_attribute"
// @Failure     404  {object}  handlers.ErrorResponse "Contact not found"
// @Failure     502  {object}  handlers.ErrorResponse "dispatch_failed"
// @Failure     503  {object}  handlers.ErrorResponse "provider_not_configured"
// @Router      /messages/send [post]
func (h *Handlers) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "contactId, channel and content are required")
		return
	}

	sreq := services.SendRequest{
		UserID:    userID(c),
		ContactID: req.ContactID,
		Channel:   req.Channel,
		Content:   sanitizeContent(req.Content),
	}
	if key, found := middleware.GetIdempotencyKey(c); found {
		sreq.IdempotencyKey = key
		sreq.IdempotencyScope = middleware.IdempotencyScope(c)
	}

	m, replayed, err := h.sender.Send(c.Request.Context(), sreq)
	if err != nil {
		failService(c, err, ErrCodeCreateFailed)
		return
	}
	if replayed {
		c.Header(middleware.HeaderIdempotencyReplayed, "true")
	}
	ok(c, http.StatusCreated, m)
}

// ListMessages godoc
// @ID          listMessages
// @Summary     Message timeline
// @Description Oldest first, for one contact (across conversations) or one conversation.
// @Tags        Messages
// @Produce     json
// @Security    BearerAuth
// @Param       contactId       query  string  false "Contact ID"
// @Param       conversationId  query  string  false "Conversation ID"
// @Param       page            query  int     false "Page number"     minimum(1) default(1)
// @Param       page_size       query  int     false "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.ListMessagesResponse
// @Success     304  {string}  string "Not Modified"
// @Failure     400  {object}  handlers.ErrorResponse "Neither contactId nor conversationId"
// @Failure     404  {object}  handlers.ErrorResponse "Contact or conversation not found"
// @Router      /messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	page, pageSize := clampPagination(c)
	h.listMessages(c, services.MessageQuery{
		ConversationID: strings.TrimSpace(c.Query("conversationId")),
		ContactID:      strings.TrimSpace(c.Query("contactId")),
		Page:           page,
		PageSize:       pageSize,
	})
}
