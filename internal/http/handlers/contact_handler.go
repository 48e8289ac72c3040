// Contact HTTP handlers.
//
//   - GET   /contacts               (list, search, paginated)
//   - POST  /contacts               (create)
//   - GET   /contacts/{id}          (fetch)
//   - PATCH /contacts/{id}          (partial update)
//   - GET   /contacts/{id}/notes    (notes, newest first)
//   - POST  /contacts/{id}/notes    (add a note)
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/unified-inbox/internal/domain"
	"github.com/tbourn/unified-inbox/internal/services"
)

// ContactRequest is the body for creating or patching a contact. Omitted
// fields are left unchanged on PATCH; an empty string clears the field.
type ContactRequest struct {
	Name  *string `json:"name"  example:"Ada Lovelace"`
	Email *string `json:"email" example:"ada@example.com"`
	Phone *string `json:"phone" example:"+15551234567"`
}

func (r ContactRequest) input() services.ContactInput {
	return services.ContactInput{Name: r.Name, Email: r.Email, Phone: r.Phone}
}

// ListContactsResponse wraps a page of contacts.
type ListContactsResponse struct {
	Contacts   []domain.Contact `json:"contacts"`
	Pagination Pagination       `json:"pagination"`
}

// NoteRequest is the body for adding a note.
type NoteRequest struct {
	Content string `json:"content" binding:"required" example:"Prefers WhatsApp after 6pm"`
}

// ListNotesResponse wraps a contact's notes.
type ListNotesResponse struct {
	Notes []domain.Note `json:"notes"`
}

// ListContacts godoc
// @ID          listContacts
// @Summary     List contacts
// @Description Case-insensitive search over name, email and phone. Most recently contacted first.
// @Tags        Contacts
// @Produce     json
// @Security    BearerAuth
// @Param       search     query  string  false "Search term"
// @Param       page       query  int     false "Page number"     minimum(1) default(1)
// @Param       page_size  query  int     false "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.ListContactsResponse
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /contacts [get]
func (h *Handlers) ListContacts(c *gin.Context) {
	page, pageSize := clampPagination(c)
	items, total, err := h.contacts.ListPage(c.Request.Context(), strings.TrimSpace(c.Query("search")), page, pageSize)
	if err != nil {
		failService(c, err, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, ListContactsResponse{Contacts: items, Pagination: newPagination(page, pageSize, total)})
}

// CreateContact godoc
// @ID          createContact
// @Summary     Create a contact
// @Description At least one of email or phone is required. Phone and email are unique.
// @Tags        Contacts
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body  handlers.ContactRequest  true  "Contact"
// @Success     201  {object}  domain.Contact
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     409  {object}  handlers.ErrorResponse "Phone or email already used"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /contacts [post]
func (h *Handlers) CreateContact(c *gin.Context) {
	var req ContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	ct, err := h.contacts.Create(c.Request.Context(), req.input())
	if err != nil {
		failService(c, err, ErrCodeCreateFailed)
		return
	}
	ok(c, http.StatusCreated, ct)
}

// GetContact godoc
// @ID          getContact
// @Summary     Get a contact
// @Tags        Contacts
// @Produce     json
// @Security    BearerAuth
// @Param       id  path  string  true  "Contact ID"  format(uuid)
// @Success     200  {object}  domain.Contact
// @Failure     404  {object}  handlers.ErrorResponse "Contact not found"
// @Router      /contacts/{id} [get]
func (h *Handlers) GetContact(c *gin.Context) {
	ct, err := h.contacts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		failService(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, ct)
}

// UpdateContact godoc
// @ID          updateContact
// @Summary     Update a contact
// @Description Partial update. Clearing both email and phone is rejected.
// @Tags        Contacts
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path  string                   true  "Contact ID"  format(uuid)
// @Param       body  body  handlers.ContactRequest  true  "Fields to change"
// @Success     200  {object}  domain.Contact
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse "Contact not found"
// @Failure     409  {object}  handlers.ErrorResponse "Phone or email already used"
// @Router      /contacts/{id} [patch]
func (h *Handlers) UpdateContact(c *gin.Context) {
	var req ContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	ct, err := h.contacts.Update(c.Request.Context(), c.Param("id"), req.input())
	if err != nil {
		failService(c, err, ErrCodeUpdateFailed)
		return
	}
	ok(c, http.StatusOK, ct)
}

// ListNotes godoc
// @ID          listNotes
// @Summary     List a contact's notes
// @Tags        Contacts
// @Produce     json
// @Security    BearerAuth
// @Param       id  path  string  true  "Contact ID"  format(uuid)
// @Success     200  {object}  handlers.ListNotesResponse
// @Failure     404  {object}  handlers.ErrorResponse "Contact not found"
// @Router      /contacts/{id}/notes [get]
func (h *Handlers) ListNotes(c *gin.Context) {
	notes, err := h.notes.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		failService(c, err, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, ListNotesResponse{Notes: notes})
}

// CreateNote godoc
// @ID          createNote
// @Summary     Add a note to a contact
// @Description The caller is recorded as the author.
// @Tags        Contacts
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path  string                true  "Contact ID"  format(uuid)
// @Param       body  body  handlers.NoteRequest  true  "Note"
// @Success     201  {object}  domain.Note
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse "Contact not found"
// @Router      /contacts/{id}/notes [post]
func (h *Handlers) CreateNote(c *gin.Context) {
	var req NoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}
	n, err := h.notes.Create(c.Request.Context(), c.Param("id"), userID(c), req.Content)
	if err != nil {
		failService(c, err, ErrCodeCreateFailed)
		return
	}
	ok(c, http.StatusCreated, n)
}
