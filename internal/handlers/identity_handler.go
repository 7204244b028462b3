package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/treasuretrails/payments-backend/internal/middleware"
	"github.com/treasuretrails/payments-backend/internal/models"
	"github.com/treasuretrails/payments-backend/internal/services"
	"github.com/treasuretrails/payments-backend/internal/utils"
	"github.com/treasuretrails/payments-backend/pkg/errs"
)

// IdentityHandler is the internal REST surface over the PII vault. Only
// authenticated services reach it; the auth middleware has already put
// the actor context on the request by the time these run.
type IdentityHandler struct {
	identity *services.IdentityService
	logger   *logrus.Logger
}

// NewIdentityHandler creates a new IdentityHandler
func NewIdentityHandler(identity *services.IdentityService, logger *logrus.Logger) *IdentityHandler {
	return &IdentityHandler{identity: identity, logger: logger}
}

type createUserRequest struct {
	FirstName   string `json:"first_name" binding:"required"`
	LastName    string `json:"last_name" binding:"required"`
	Email       string `json:"email" binding:"required"`
	Phone       string `json:"phone" binding:"required"`
	DateOfBirth string `json:"date_of_birth"`
	Gender      string `json:"gender"`
}

type updateUserRequest struct {
	FirstName   *string `json:"first_name"`
	LastName    *string `json:"last_name"`
	Email       *string `json:"email"`
	Phone       *string `json:"phone"`
	DateOfBirth *string `json:"date_of_birth"`
	Gender      *string `json:"gender"`
}

type addressRequest struct {
	Type      string `json:"type" binding:"required"`
	Line1     string `json:"line1" binding:"required"`
	Line2     string `json:"line2"`
	City      string `json:"city" binding:"required"`
	Postal    string `json:"postal" binding:"required"`
	Country   string `json:"country" binding:"required"`
	IsPrimary bool   `json:"is_primary"`
}

type consentRequest struct {
	ConsentKey     string `json:"consent_key" binding:"required"`
	Granted        bool   `json:"granted"`
	ConsentVersion string `json:"consent_version" binding:"required"`
	Source         string `json:"source"`
	LegalBasis     string `json:"legal_basis"`
}

type bulkLookupRequest struct {
	ReferenceIDs []string `json:"reference_ids" binding:"required"`
}

// CreateUser handles POST /internal/users
func (h *IdentityHandler) CreateUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	profile, err := h.identity.CreateUser(c.Request.Context(), services.CreateUserInput{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Email:       req.Email,
		Phone:       req.Phone,
		DateOfBirth: req.DateOfBirth,
		Gender:      models.Gender(req.Gender),
	}, h.meta(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, profile)
}

// GetUser handles GET /internal/users/:referenceId
func (h *IdentityHandler) GetUser(c *gin.Context) {
	profile, err := h.identity.GetUser(c.Request.Context(), c.Param("referenceId"), h.meta(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

// LookupUser handles GET /internal/users/lookup?email=...&phone=...
// When both parameters are present the email index is tried first and
// the phone index only if no user carries that email.
func (h *IdentityHandler) LookupUser(c *gin.Context) {
	email := c.Query("email")
	phone := c.Query("phone")
	if email == "" && phone == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email or phone query parameter is required"})
		return
	}

	meta := h.meta(c)
	ctx := c.Request.Context()

	if email != "" {
		profile, err := h.identity.GetUserByEmail(ctx, email, meta)
		if err == nil {
			c.JSON(http.StatusOK, profile)
			return
		}
		if !errs.IsKind(err, errs.KindNotFound) || phone == "" {
			h.fail(c, err)
			return
		}
	}

	profile, err := h.identity.GetUserByPhone(ctx, phone, meta)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

// BulkLookup handles POST /internal/users/bulk
func (h *IdentityHandler) BulkLookup(c *gin.Context) {
	var req bulkLookupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	if len(req.ReferenceIDs) == 0 || len(req.ReferenceIDs) > 200 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reference_ids must contain between 1 and 200 entries"})
		return
	}

	profiles, err := h.identity.GetUsersBulk(c.Request.Context(), req.ReferenceIDs, h.meta(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": profiles, "count": len(profiles)})
}

// UpdateUser handles PUT /internal/users/:referenceId
func (h *IdentityHandler) UpdateUser(c *gin.Context) {
	var req updateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	input := services.UpdateUserInput{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Email:       req.Email,
		Phone:       req.Phone,
		DateOfBirth: req.DateOfBirth,
	}
	if req.Gender != nil {
		gender := models.Gender(*req.Gender)
		input.Gender = &gender
	}

	profile, err := h.identity.UpdateUser(c.Request.Context(), c.Param("referenceId"), input, h.meta(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

// ArchiveUser handles DELETE /internal/users/:referenceId
func (h *IdentityHandler) ArchiveUser(c *gin.Context) {
	if err := h.identity.ArchiveUser(c.Request.Context(), c.Param("referenceId"), h.meta(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "user archived"})
}

// ReactivateUser handles POST /internal/users/:referenceId/reactivate
func (h *IdentityHandler) ReactivateUser(c *gin.Context) {
	if err := h.identity.ReactivateUser(c.Request.Context(), c.Param("referenceId"), h.meta(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "user reactivated"})
}

// AnonymizeUser handles POST /internal/users/:referenceId/anonymize
func (h *IdentityHandler) AnonymizeUser(c *gin.Context) {
	if err := h.identity.AnonymizeUser(c.Request.Context(), c.Param("referenceId"), h.meta(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "user anonymized"})
}

// AddAddress handles POST /internal/users/:referenceId/addresses
func (h *IdentityHandler) AddAddress(c *gin.Context) {
	var req addressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	address, err := h.identity.AddAddress(c.Request.Context(), c.Param("referenceId"), addressInput(req), h.meta(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, address)
}

// ListAddresses handles GET /internal/users/:referenceId/addresses
func (h *IdentityHandler) ListAddresses(c *gin.Context) {
	addresses, err := h.identity.ListAddresses(c.Request.Context(), c.Param("referenceId"), h.meta(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"addresses": addresses, "count": len(addresses)})
}

// UpdateAddress handles PUT /internal/users/:referenceId/addresses/:addressId
func (h *IdentityHandler) UpdateAddress(c *gin.Context) {
	addressID, ok := h.addressID(c)
	if !ok {
		return
	}
	var req addressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	if err := h.identity.UpdateAddress(c.Request.Context(), c.Param("referenceId"), addressID, addressInput(req), h.meta(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "address updated"})
}

// SetPrimaryAddress handles POST /internal/users/:referenceId/addresses/:addressId/primary
func (h *IdentityHandler) SetPrimaryAddress(c *gin.Context) {
	addressID, ok := h.addressID(c)
	if !ok {
		return
	}
	if err := h.identity.SetPrimaryAddress(c.Request.Context(), c.Param("referenceId"), addressID, h.meta(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "primary address set"})
}

// DeleteAddress handles DELETE /internal/users/:referenceId/addresses/:addressId
func (h *IdentityHandler) DeleteAddress(c *gin.Context) {
	addressID, ok := h.addressID(c)
	if !ok {
		return
	}
	if err := h.identity.DeleteAddress(c.Request.Context(), c.Param("referenceId"), addressID, h.meta(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "address deleted"})
}

// RecordConsent handles POST /internal/users/:referenceId/consents
func (h *IdentityHandler) RecordConsent(c *gin.Context) {
	var req consentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	input := services.ConsentInput{
		ConsentKey:     req.ConsentKey,
		Granted:        req.Granted,
		ConsentVersion: req.ConsentVersion,
		Source:         models.ConsentSource(req.Source),
		LegalBasis:     models.LegalBasis(req.LegalBasis),
	}
	if input.Source == "" {
		input.Source = models.ConsentSourceAPI
	}
	if input.LegalBasis == "" {
		input.LegalBasis = models.LegalBasisConsent
	}

	if err := h.identity.RecordConsent(c.Request.Context(), c.Param("referenceId"), input, h.meta(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "consent recorded"})
}

// ExportUser handles GET /internal/users/:referenceId/export
func (h *IdentityHandler) ExportUser(c *gin.Context) {
	export, err := h.identity.ExportUserData(c.Request.Context(), c.Param("referenceId"), h.meta(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, export)
}

// ListConsents handles GET /internal/users/:referenceId/consents
func (h *IdentityHandler) ListConsents(c *gin.Context) {
	consents, err := h.identity.ListConsents(c.Request.Context(), c.Param("referenceId"), h.meta(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"consents": consents, "count": len(consents)})
}

func addressInput(req addressRequest) services.AddressInput {
	return services.AddressInput{
		Type:      models.AddressType(req.Type),
		Line1:     req.Line1,
		Line2:     req.Line2,
		City:      req.City,
		Postal:    req.Postal,
		Country:   req.Country,
		IsPrimary: req.IsPrimary,
	}
}

func (h *IdentityHandler) addressID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("addressId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address id"})
		return uuid.Nil, false
	}
	return id, true
}

// meta assembles the audit context for the call from the verified actor
// and the request itself.
func (h *IdentityHandler) meta(c *gin.Context) services.RequestMeta {
	meta := services.RequestMeta{
		IPAddress: utils.GetRealIP(c),
		UserAgent: utils.SummarizeUserAgent(utils.GetUserAgent(c)),
		SessionID: c.GetHeader("X-Session-ID"),
	}
	if actor, ok := middleware.GetActorContext(c); ok {
		meta.ActorID = actor.ActorID
		meta.ActorRole = actor.Role
		meta.CorrelationID = actor.CorrelationID
	}
	return meta
}

func (h *IdentityHandler) fail(c *gin.Context, err error) {
	var tagged *errs.Error
	if errors.As(err, &tagged) {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"kind": tagged.Kind,
			"path": c.Request.URL.Path,
		}).Warn("Identity request failed")
		c.JSON(tagged.HTTPStatus(), gin.H{"error": tagged.Message, "code": tagged.Code, "kind": tagged.Kind})
		return
	}
	h.logger.WithError(err).WithField("path", c.Request.URL.Path).Error("Identity request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
