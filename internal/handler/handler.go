// Package handler содержит HTTP-обработчики API сервиса аренды ТВ-времени.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/akorotchenko/tvtime-system/internal/checkout"
	"github.com/akorotchenko/tvtime-system/internal/middleware"
	"github.com/akorotchenko/tvtime-system/internal/model"
	"github.com/akorotchenko/tvtime-system/internal/rate"
	"github.com/akorotchenko/tvtime-system/internal/repository"
	"github.com/akorotchenko/tvtime-system/internal/service"
	"github.com/akorotchenko/tvtime-system/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, fullName, email, phoneNumber, password string) (*model.User, error)
	AuthenticateUser(ctx context.Context, email, password string) (*model.User, error)
	PurchaseTime(ctx context.Context, userID int64, hours int, tvNumber string, roomNumber *string) (*model.Order, error)
	CreateCheckoutSession(ctx context.Context, userID int64, hours int, tvNumber string, roomNumber *string) (string, error)
	FulfillPayment(ctx context.Context, event *checkout.CompletedEvent) (*model.Order, error)
	TransferTime(ctx context.Context, orderID int64, suppliedOTP, newTv string, newRoom *string) (*model.Order, error)
	AdminTransfer(ctx context.Context, orderID int64, newTv string, newRoom *string) (*model.Order, error)
	GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error)
	GetAllOrders(ctx context.Context) ([]model.AdminOrder, error)
	GetRate(ctx context.Context) (*model.RateConfig, error)
	UpdateRate(ctx context.Context, hourlyRateCents *int64, thresholds []model.RateThreshold, expectedVersion int64) error
	ListUsers(ctx context.Context) ([]model.User, error)
	AddRoom(ctx context.Context, roomNumber, tvNumber string) (*model.Room, error)
	AddTv(ctx context.Context, roomNumber, tvNumber string) (*model.Tv, error)
	ListRooms(ctx context.Context) ([]model.Room, error)
	ToggleTv(ctx context.Context, roomNumber, tvNumber string, state model.TvState) error
}

// Handler реализует HTTP-обработчики API сервиса аренды ТВ-времени.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	webhookSecret  string
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, webhookSecret string) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		webhookSecret:  webhookSecret,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Заголовки уже отправлены, остаётся только оборвать тело.
		return
	}
}

func dollars(cents int64) float64 {
	return float64(cents) / 100
}

type locationResponse struct {
	RoomNumber *string `json:"roomNumber"`
	TvNumber   string  `json:"tvNumber"`
	AssignedAt string  `json:"assignedAt"`
}

type orderResponse struct {
	ID         int64              `json:"id"`
	TimeBought int                `json:"timeBought"`
	TotalCost  float64            `json:"totalCost"`
	OrderDate  string             `json:"orderDate"`
	OTP        string             `json:"otp"`
	Locations  []locationResponse `json:"locations"`
}

func toOrderResponse(o *model.Order) orderResponse {
	locations := make([]locationResponse, 0, len(o.Locations))
	for _, l := range o.Locations {
		locations = append(locations, locationResponse{
			RoomNumber: l.RoomNumber,
			TvNumber:   l.TvNumber,
			AssignedAt: l.AssignedAt.Format(time.RFC3339),
		})
	}
	return orderResponse{
		ID:         o.ID,
		TimeBought: o.TimeBought,
		TotalCost:  dollars(o.TotalCostCents),
		OrderDate:  o.OrderDate.Format(time.RFC3339),
		OTP:        o.OTP,
		Locations:  locations,
	}
}

type signupRequest struct {
	FullName    string `json:"fullName"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phoneNumber"`
	Password    string `json:"password"`
}

// Signup обрабатывает регистрацию нового пользователя и выдаёт токен доступа.
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.FullName == "" || req.Email == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	user, err := h.service.RegisterUser(r.Context(), req.FullName, req.Email, req.PhoneNumber, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("signup error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	token, err := h.authMiddleware.IssueToken(user)
	if err != nil {
		h.logger.Error("issue token error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login выполняет аутентификацию пользователя и выдаёт токен доступа.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Email == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	user, err := h.service.AuthenticateUser(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	token, err := h.authMiddleware.IssueToken(user)
	if err != nil {
		h.logger.Error("issue token error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

type buyRequest struct {
	Hours      int     `json:"hours"`
	TvNumber   string  `json:"tvNumber"`
	RoomNumber *string `json:"roomNumber"`
}

// BuyTvTime создаёт оплаченный заказ на ТВ-время для текущего пользователя.
func (h *Handler) BuyTvTime(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req buyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !validation.IsValidTvNumber(req.TvNumber) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if req.RoomNumber != nil && !validation.IsValidRoomNumber(*req.RoomNumber) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	order, err := h.service.PurchaseTime(r.Context(), userID, req.Hours, req.TvNumber, req.RoomNumber)
	if err != nil {
		if errors.Is(err, rate.ErrInvalidDuration) {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		h.logger.Error("buy tv time error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, toOrderResponse(order))
}

// CheckoutSession создаёт платёжную сессию у внешнего провайдера.
func (h *Handler) CheckoutSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req buyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !validation.IsValidTvNumber(req.TvNumber) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if req.RoomNumber != nil && !validation.IsValidRoomNumber(*req.RoomNumber) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	url, err := h.service.CreateCheckoutSession(r.Context(), userID, req.Hours, req.TvNumber, req.RoomNumber)
	if err != nil {
		switch {
		case errors.Is(err, rate.ErrInvalidDuration):
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		case errors.Is(err, service.ErrCheckoutUnavailable):
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		default:
			h.logger.Error("create checkout session error", zap.Error(err), zap.Int64("userID", userID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// MyOrders возвращает заказы текущего пользователя, новые первыми.
func (h *Handler) MyOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	orders, err := h.service.GetOrdersByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("get orders error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, toOrderResponse(&orders[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

type transferRequest struct {
	OrderID    int64   `json:"orderId"`
	OTP        string  `json:"otp"`
	TvNumber   string  `json:"tvNumber"`
	RoomNumber *string `json:"roomNumber"`
}

// Transfer переносит заказ на другой телевизор по коду подтверждения.
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.GetUserIDFromContext(r.Context()); !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.OrderID <= 0 || req.OTP == "" || !validation.IsValidTvNumber(req.TvNumber) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if req.RoomNumber != nil && !validation.IsValidRoomNumber(*req.RoomNumber) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	order, err := h.service.TransferTime(r.Context(), req.OrderID, req.OTP, req.TvNumber, req.RoomNumber)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrOrderNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, repository.ErrOTPMismatch):
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		default:
			h.logger.Error("transfer error", zap.Error(err), zap.Int64("orderID", req.OrderID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

type rateResponse struct {
	HourlyRate *float64        `json:"hourlyRate"`
	Thresholds []rateThreshold `json:"thresholds"`
	Version    int64           `json:"version"`
}

type rateThreshold struct {
	Days  int     `json:"days"`
	Price float64 `json:"price"`
}

// GetRate возвращает действующую тарифную конфигурацию.
func (h *Handler) GetRate(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.service.GetRate(r.Context())
	if err != nil {
		if errors.Is(err, repository.ErrRateNotConfigured) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get rate error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := rateResponse{
		Thresholds: make([]rateThreshold, 0, len(cfg.Thresholds)),
		Version:    cfg.Version,
	}
	if cfg.HourlyRateCents != nil {
		hourly := dollars(*cfg.HourlyRateCents)
		resp.HourlyRate = &hourly
	}
	for _, t := range cfg.Thresholds {
		resp.Thresholds = append(resp.Thresholds, rateThreshold{Days: t.Days, Price: dollars(t.PriceCents)})
	}

	writeJSON(w, http.StatusOK, resp)
}

// PaymentWebhook принимает подтверждения оплаты от платёжного провайдера.
// Подпись тела обязательна, повторная доставка события не создаёт второй заказ.
// Без настроенного секрета подпись проверить нечем, приём отключён.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	if h.webhookSecret == "" {
		h.logger.Warn("payment webhook rejected: webhook secret is not configured")
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}

	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	signature := r.Header.Get(checkout.SignatureHeader)
	if !checkout.VerifySignature([]byte(h.webhookSecret), body, signature) {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	event, err := checkout.ParseEvent(body)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if event.Type != checkout.EventTypeSessionCompleted {
		w.WriteHeader(http.StatusOK)
		return
	}

	if _, err := h.service.FulfillPayment(r.Context(), event); err != nil {
		if errors.Is(err, repository.ErrDuplicateFulfillment) {
			w.WriteHeader(http.StatusOK)
			return
		}
		h.logger.Error("fulfill payment error", zap.Error(err), zap.String("eventID", event.ID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}
