package handler

import (
	"errors"
	"marketplace-checkout/internal/client"
	"marketplace-checkout/internal/dto"
	"marketplace-checkout/internal/middleware"
	"marketplace-checkout/internal/repository"
	"marketplace-checkout/internal/service"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type CheckoutHandler struct {
	cardService    service.CardCheckoutService
	libraryService service.LibraryService
	log            *zap.Logger
}

func NewCheckoutHandler(cardService service.CardCheckoutService, libraryService service.LibraryService, log *zap.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		cardService:    cardService,
		libraryService: libraryService,
		log:            log,
	}
}

func (h *CheckoutHandler) CardCheckout(c echo.Context) error {
	ctx := c.Request().Context()
	userID := middleware.UserID(c)

	var req dto.CardCheckoutRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, &dto.ErrorResponse{Error: "Invalid request payload"})
	}
	if req.ProductID == "" || req.Nonce == "" {
		return c.JSON(http.StatusBadRequest, &dto.ErrorResponse{Error: "product_id and nonce are required"})
	}

	result, err := h.cardService.Checkout(ctx, userID, &req)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, result)
	case errors.Is(err, repository.ErrNotFound):
		return c.JSON(http.StatusNotFound, &dto.ErrorResponse{Error: "Product not found"})
	case errors.Is(err, service.ErrAlreadyOwned):
		return c.JSON(http.StatusConflict, &dto.ErrorResponse{Error: "Product already owned"})
	case errors.Is(err, client.ErrCardDeclined):
		return c.JSON(http.StatusPaymentRequired, &dto.ErrorResponse{Error: "Card declined"})
	}

	h.log.Error("card checkout", zap.String("user_id", userID), zap.String("product_id", req.ProductID), zap.Error(err))
	return c.JSON(http.StatusInternalServerError, &dto.ErrorResponse{Error: "Checkout failed"})
}

func (h *CheckoutHandler) Library(c echo.Context) error {
	ctx := c.Request().Context()

	items, err := h.libraryService.List(ctx, middleware.UserID(c))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, items)
}
