package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/Danils137/CenasOcta.LV-sub000/internal/pkg/montonio"
)

var validate = validator.New()

// CreateOrderRequest is the checkout payload from the client app.
type CreateOrderRequest struct {
	Amount      int64               `json:"amount" validate:"required,gt=0"`
	Currency    string              `json:"currency" validate:"required,len=3"`
	Description string              `json:"description" validate:"required"`
	BankID      string              `json:"bankId" validate:"required"`
	Customer    CreateOrderCustomer `json:"customer"`
}

// CreateOrderCustomer mirrors montonio.Customer on the wire. Presence of a
// personal or company name is the client's responsibility.
type CreateOrderCustomer struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	CompanyName string `json:"companyName"`
	Email       string `json:"email" validate:"omitempty,email"`
	Phone       string `json:"phone"`
}

// PaymentController serves checkout: order creation and the bank listing.
// Dependencies are injected at construction; nothing here touches globals.
type PaymentController struct {
	client *montonio.Client
}

// NewPaymentController creates a payment controller around the provider client.
func NewPaymentController(client *montonio.Client) *PaymentController {
	return &PaymentController{client: client}
}

// HandleCreateOrder opens a Montonio order and returns the redirect URL.
// Provider failures are surfaced synchronously with diagnostics so the
// checkout UI can let the user retry.
func (pc *PaymentController) HandleCreateOrder(c *fiber.Ctx) error {
	var req CreateOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "invalid request body",
		})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   err.Error(),
		})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), 20*time.Second)
	defer cancel()

	result, err := pc.client.CreateOrder(ctx, montonio.OrderRequest{
		Amount:      req.Amount,
		Currency:    req.Currency,
		Description: req.Description,
		BankID:      req.BankID,
		Customer: montonio.Customer{
			FirstName:   req.Customer.FirstName,
			LastName:    req.Customer.LastName,
			CompanyName: req.Customer.CompanyName,
			Email:       req.Customer.Email,
			Phone:       req.Customer.Phone,
		},
	})
	if err != nil {
		var orderErr *montonio.OrderCreationError
		if errors.As(err, &orderErr) {
			log.Errorf("[Payments] Order creation rejected by provider: %v", orderErr)
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"success": false,
				"error":   orderErr.Error(),
			})
		}
		// Validation sentinels from the client map to 400.
		if errors.Is(err, montonio.ErrInvalidAmount) ||
			errors.Is(err, montonio.ErrMissingCurrency) ||
			errors.Is(err, montonio.ErrMissingDescription) ||
			errors.Is(err, montonio.ErrMissingBank) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"error":   err.Error(),
			})
		}
		log.Errorf("[Payments] Order creation failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "order creation failed",
		})
	}

	orderID := ""
	if uuid, ok := result.Order["uuid"].(string); ok {
		orderID = uuid
	}
	if orderID == "" {
		orderID = result.MerchantReference
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success":    true,
		"order":      result.Order,
		"paymentUrl": result.PaymentURL,
		"orderId":    orderID,
	})
}

// HandleGetPaymentMethods lists available banks. On upstream failure the
// response still carries an empty banks array so clients degrade gracefully.
func (pc *PaymentController) HandleGetPaymentMethods(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 15*time.Second)
	defer cancel()

	banks, err := pc.client.GetPaymentMethods(ctx, montonio.PaymentMethodsQuery{
		GrandTotal: c.Query("grandTotal"),
		Currency:   c.Query("currency"),
		Country:    c.Query("country"),
		Locale:     c.Query("locale"),
	})
	if err != nil {
		log.Errorf("[Payments] Payment methods lookup failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to load payment methods",
			"banks": []montonio.Bank{},
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"banks": banks})
}
