package handlers

import (
	"context"
	"encoding/base64"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"launchpad/internal/business"
	"launchpad/internal/middleware"
	"launchpad/internal/models"
)

// LaunchService is the pipeline surface the transports call
type LaunchService interface {
	Purchase(ctx context.Context, req business.PurchaseRequest) (*models.Launch, error)
	CreateLaunch(ctx context.Context, req business.CreateLaunchRequest) (*models.Launch, error)
	CreateToken(ctx context.Context, req business.CreateTokenRequest) (string, error)
}

// MintRequest is the body of a purchase. Signature is the buyer-signed
// payment transaction, serialized and base64 encoded.
type MintRequest struct {
	LaunchID   string `json:"launch_id"`
	MintAmount uint64 `json:"mint_amount"`
	Signature  string `json:"signature"`
}

// CreateLaunchRequest is the body of a launch creation. Price is in SOL.
type CreateLaunchRequest struct {
	Image       string    `json:"image"`
	Name        string    `json:"name"`
	Symbol      string    `json:"symbol"`
	Description string    `json:"description"`
	MaxSupply   int64     `json:"max_supply"`
	Premint     int64     `json:"premint"`
	Decimals    int       `json:"decimals"`
	Price       float64   `json:"price"`
	StartDate   time.Time `json:"start_date"`
	EndDate     time.Time `json:"end_date"`
	Website     string    `json:"website"`
	Twitter     string    `json:"twitter"`
	Telegram    string    `json:"telegram"`
	Discord     string    `json:"discord"`
	Signature   string    `json:"signature"`
}

// CreateTokenRequest is the body of a standalone token creation
type CreateTokenRequest struct {
	Image       string `json:"image"`
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Description string `json:"description"`
	MaxSupply   int64  `json:"max_supply"`
	Decimals    int    `json:"decimals"`
	Signature   string `json:"signature"`
}

// ErrorResponse is the caller-facing failure
type ErrorResponse struct {
	Kind    business.Kind `json:"kind"`
	Message string        `json:"message"`
}

type LaunchHandler struct {
	svc LaunchService
}

func NewLaunchHandler(svc LaunchService) *LaunchHandler {
	return &LaunchHandler{svc: svc}
}

// decodeTx decodes a base64 serialized transaction. Empty input decodes to
// nil so the pipeline reports the missing signature.
func decodeTx(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, business.ValidationError("Invalid signature.")
	}
	return raw, nil
}

// statusFor maps an error kind to an HTTP status
func statusFor(kind business.Kind) int {
	switch kind {
	case business.KindValidation:
		return http.StatusBadRequest
	case business.KindAuthorization:
		return http.StatusUnauthorized
	case business.KindState:
		return http.StatusConflict
	case business.KindPaymentVerification:
		return http.StatusPaymentRequired
	case business.KindIssuance:
		return http.StatusBadGateway
	case business.KindUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func toErrorResponse(err error) ErrorResponse {
	return ErrorResponse{Kind: business.KindOf(err), Message: business.MessageOf(err)}
}

func writeError(c *gin.Context, err error) {
	resp := toErrorResponse(err)
	c.JSON(statusFor(resp.Kind), resp)
}

func (r MintRequest) toPurchase(userID, wallet string) (business.PurchaseRequest, error) {
	raw, err := decodeTx(r.Signature)
	if err != nil {
		return business.PurchaseRequest{}, err
	}
	return business.PurchaseRequest{
		UserID:        userID,
		WalletAddress: wallet,
		LaunchID:      r.LaunchID,
		Amount:        r.MintAmount,
		SignedTx:      raw,
	}, nil
}

func (r CreateLaunchRequest) toBusiness(userID, owner string) (business.CreateLaunchRequest, error) {
	raw, err := decodeTx(r.Signature)
	if err != nil {
		return business.CreateLaunchRequest{}, err
	}
	return business.CreateLaunchRequest{
		UserID:       userID,
		OwnerAddress: owner,
		Image:        r.Image,
		Name:         r.Name,
		Symbol:       r.Symbol,
		Description:  r.Description,
		MaxSupply:    r.MaxSupply,
		Premint:      r.Premint,
		Decimals:     r.Decimals,
		Price:        r.Price,
		StartDate:    r.StartDate,
		EndDate:      r.EndDate,
		Website:      r.Website,
		Twitter:      r.Twitter,
		Telegram:     r.Telegram,
		Discord:      r.Discord,
		SignedTx:     raw,
	}, nil
}

func (r CreateTokenRequest) toBusiness(userID, owner string) (business.CreateTokenRequest, error) {
	raw, err := decodeTx(r.Signature)
	if err != nil {
		return business.CreateTokenRequest{}, err
	}
	return business.CreateTokenRequest{
		UserID:       userID,
		OwnerAddress: owner,
		Image:        r.Image,
		Name:         r.Name,
		Symbol:       r.Symbol,
		Description:  r.Description,
		MaxSupply:    r.MaxSupply,
		Decimals:     r.Decimals,
		SignedTx:     raw,
	}, nil
}

// Mint admits a purchase and returns the settled launch
func (h *LaunchHandler) Mint(c *gin.Context) {
	var body MintRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, business.ValidationError("Invalid request body"))
		return
	}

	req, err := body.toPurchase(middleware.UserID(c), middleware.WalletAddress(c))
	if err != nil {
		writeError(c, err)
		return
	}

	launch, err := h.svc.Purchase(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, launch)
}

// CreateLaunch creates a presale and its token
func (h *LaunchHandler) CreateLaunch(c *gin.Context) {
	var body CreateLaunchRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, business.ValidationError("Invalid request body"))
		return
	}

	req, err := body.toBusiness(middleware.UserID(c), middleware.WalletAddress(c))
	if err != nil {
		writeError(c, err)
		return
	}

	launch, err := h.svc.CreateLaunch(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Launch created.", "launch": launch})
}

// CreateToken creates a token without a presale
func (h *LaunchHandler) CreateToken(c *gin.Context) {
	var body CreateTokenRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, business.ValidationError("Invalid request body"))
		return
	}

	req, err := body.toBusiness(middleware.UserID(c), middleware.WalletAddress(c))
	if err != nil {
		writeError(c, err)
		return
	}

	mintAddress, err := h.svc.CreateToken(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"mint_address": mintAddress})
}
