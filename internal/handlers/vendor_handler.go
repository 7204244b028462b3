package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/treasuretrails/payments-backend/internal/database"
	"github.com/treasuretrails/payments-backend/internal/models"
)

var errInvalidCommissionRate = errors.New("commission_rate must be a decimal between 0 and 100")

// VendorHandler is the admin surface for vendor payout profiles. Bank
// account numbers are accepted here but never serialized back out.
type VendorHandler struct {
	vendors     *database.VendorRepository
	defaultRate decimal.Decimal
	logger      *logrus.Logger
}

// NewVendorHandler creates a new VendorHandler. defaultRate is the
// platform commission applied when a profile is created without one.
func NewVendorHandler(vendors *database.VendorRepository, defaultRate decimal.Decimal, logger *logrus.Logger) *VendorHandler {
	return &VendorHandler{vendors: vendors, defaultRate: defaultRate, logger: logger}
}

type createVendorRequest struct {
	VendorID          string `json:"vendor_id" binding:"required"`
	Name              string `json:"name" binding:"required"`
	Email             string `json:"email"`
	Phone             string `json:"phone"`
	BankAccountNumber string `json:"bank_account_number" binding:"required"`
	IFSC              string `json:"ifsc" binding:"required"`
	AccountHolderName string `json:"account_holder_name" binding:"required"`
	CommissionRate    string `json:"commission_rate"`
}

type bankDetailsRequest struct {
	BankAccountNumber string `json:"bank_account_number" binding:"required"`
	IFSC              string `json:"ifsc" binding:"required"`
	AccountHolderName string `json:"account_holder_name" binding:"required"`
}

type commissionRequest struct {
	CommissionRate string `json:"commission_rate" binding:"required"`
}

type vendorActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// CreateVendor handles POST /internal/vendors
func (h *VendorHandler) CreateVendor(c *gin.Context) {
	var req createVendorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	rate := h.defaultRate
	if req.CommissionRate != "" {
		parsed, err := parseCommissionRate(req.CommissionRate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		rate = parsed
	}

	existing, err := h.vendors.GetByVendorID(c.Request.Context(), req.VendorID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to check vendor profile")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create vendor"})
		return
	}
	if existing != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "vendor profile already exists"})
		return
	}

	vendor := &models.VendorProfile{
		VendorID:          req.VendorID,
		Name:              req.Name,
		Email:             req.Email,
		Phone:             req.Phone,
		BankAccountNumber: req.BankAccountNumber,
		IFSC:              req.IFSC,
		AccountHolderName: req.AccountHolderName,
		CommissionRate:    rate,
		Active:            true,
	}
	if err := h.vendors.Create(c.Request.Context(), vendor); err != nil {
		h.logger.WithError(err).Error("Failed to create vendor profile")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create vendor"})
		return
	}
	c.JSON(http.StatusCreated, vendor)
}

// GetVendor handles GET /internal/vendors/:vendorId
func (h *VendorHandler) GetVendor(c *gin.Context) {
	vendor, err := h.vendors.GetByVendorID(c.Request.Context(), c.Param("vendorId"))
	if err != nil {
		h.logger.WithError(err).Error("Failed to fetch vendor profile")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch vendor"})
		return
	}
	if vendor == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "vendor not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"vendor":          vendor,
		"payout_eligible": vendor.PayoutEligible(),
	})
}

// UpdateBankDetails handles PUT /internal/vendors/:vendorId/bank
func (h *VendorHandler) UpdateBankDetails(c *gin.Context) {
	var req bankDetailsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	err := h.vendors.UpdateBankDetails(c.Request.Context(), c.Param("vendorId"),
		req.BankAccountNumber, req.IFSC, req.AccountHolderName)
	if err != nil {
		h.logger.WithError(err).Error("Failed to update vendor bank details")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update bank details"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "bank details updated"})
}

// UpdateCommissionRate handles PUT /internal/vendors/:vendorId/commission
func (h *VendorHandler) UpdateCommissionRate(c *gin.Context) {
	var req commissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	rate, err := parseCommissionRate(req.CommissionRate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.vendors.UpdateCommissionRate(c.Request.Context(), c.Param("vendorId"), rate); err != nil {
		h.logger.WithError(err).Error("Failed to update vendor commission rate")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update commission rate"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "commission rate updated"})
}

// SetActive handles PUT /internal/vendors/:vendorId/active
func (h *VendorHandler) SetActive(c *gin.Context) {
	var req vendorActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Active == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "active flag is required"})
		return
	}
	if err := h.vendors.SetActive(c.Request.Context(), c.Param("vendorId"), *req.Active); err != nil {
		h.logger.WithError(err).Error("Failed to update vendor active flag")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update vendor"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "vendor updated", "active": *req.Active})
}

func parseCommissionRate(raw string) (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(raw)
	if err != nil || rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(100)) {
		return decimal.Decimal{}, errInvalidCommissionRate
	}
	return rate, nil
}
