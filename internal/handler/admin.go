package handler

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"

	"go.uber.org/zap"

	"github.com/akorotchenko/tvtime-system/internal/model"
	"github.com/akorotchenko/tvtime-system/internal/repository"
	"github.com/akorotchenko/tvtime-system/internal/validation"
)

type adminOrderResponse struct {
	orderResponse
	UserEmail    string `json:"userEmail"`
	UserFullName string `json:"userFullName"`
}

// AllOrders возвращает все заказы с данными владельцев.
func (h *Handler) AllOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.GetAllOrders(r.Context())
	if err != nil {
		h.logger.Error("get all orders error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]adminOrderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, adminOrderResponse{
			orderResponse: toOrderResponse(&orders[i].Order),
			UserEmail:     orders[i].UserEmail,
			UserFullName:  orders[i].UserFullName,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

type userResponse struct {
	ID          int64  `json:"id"`
	FullName    string `json:"fullName"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phoneNumber"`
	IsAdmin     bool   `json:"isAdmin"`
}

// AllUsers возвращает всех зарегистрированных пользователей.
func (h *Handler) AllUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		h.logger.Error("list users error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]userResponse, 0, len(users))
	for _, u := range users {
		resp = append(resp, userResponse{
			ID:          u.ID,
			FullName:    u.FullName,
			Email:       u.Email,
			PhoneNumber: u.PhoneNumber,
			IsAdmin:     u.IsAdmin,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

type changeRoomRequest struct {
	OrderID    int64   `json:"orderId"`
	TvNumber   string  `json:"tvNumber"`
	RoomNumber *string `json:"roomNumber"`
}

// ChangeRoom переносит заказ без проверки кода подтверждения.
func (h *Handler) ChangeRoom(w http.ResponseWriter, r *http.Request) {
	var req changeRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.OrderID <= 0 || !validation.IsValidTvNumber(req.TvNumber) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if req.RoomNumber != nil && !validation.IsValidRoomNumber(*req.RoomNumber) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	order, err := h.service.AdminTransfer(r.Context(), req.OrderID, req.TvNumber, req.RoomNumber)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("admin change room error", zap.Error(err), zap.Int64("orderID", req.OrderID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

type changeRateRequest struct {
	HourlyRate *float64        `json:"hourlyRate"`
	Thresholds []rateThreshold `json:"thresholds"`
	Version    int64           `json:"version"`
}

func cents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// ChangeRate сохраняет тарифную конфигурацию с проверкой версии.
func (h *Handler) ChangeRate(w http.ResponseWriter, r *http.Request) {
	var req changeRateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var hourly *int64
	if req.HourlyRate != nil {
		v := cents(*req.HourlyRate)
		hourly = &v
	}

	thresholds := make([]model.RateThreshold, 0, len(req.Thresholds))
	for _, t := range req.Thresholds {
		thresholds = append(thresholds, model.RateThreshold{Days: t.Days, PriceCents: cents(t.Price)})
	}

	if err := h.service.UpdateRate(r.Context(), hourly, thresholds, req.Version); err != nil {
		if errors.Is(err, repository.ErrRateVersionConflict) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("change rate error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type roomRequest struct {
	RoomNumber string `json:"roomNumber"`
	TvNumber   string `json:"tvNumber"`
}

// AddRoom создаёт комнату с первым телевизором.
func (h *Handler) AddRoom(w http.ResponseWriter, r *http.Request) {
	var req roomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !validation.IsValidRoomNumber(req.RoomNumber) || !validation.IsValidTvNumber(req.TvNumber) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	room, err := h.service.AddRoom(r.Context(), req.RoomNumber, req.TvNumber)
	if err != nil {
		if errors.Is(err, repository.ErrRoomExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("add room error", zap.Error(err), zap.String("room", req.RoomNumber))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, toRoomResponse(room))
}

// AddTv добавляет телевизор в существующую комнату.
func (h *Handler) AddTv(w http.ResponseWriter, r *http.Request) {
	var req roomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !validation.IsValidRoomNumber(req.RoomNumber) || !validation.IsValidTvNumber(req.TvNumber) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	tv, err := h.service.AddTv(r.Context(), req.RoomNumber, req.TvNumber)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrRoomNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, repository.ErrTvExists):
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		default:
			h.logger.Error("add tv error", zap.Error(err), zap.String("room", req.RoomNumber), zap.String("tv", req.TvNumber))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusCreated, tvResponse{ID: tv.ID, TvNumber: tv.TvNumber, State: string(tv.State)})
}

type tvResponse struct {
	ID       int64  `json:"id"`
	TvNumber string `json:"tvNumber"`
	State    string `json:"state"`
}

type roomResponse struct {
	ID         int64        `json:"id"`
	RoomNumber string       `json:"roomNumber"`
	Tvs        []tvResponse `json:"tvs"`
}

func toRoomResponse(room *model.Room) roomResponse {
	tvs := make([]tvResponse, 0, len(room.Tvs))
	for _, tv := range room.Tvs {
		tvs = append(tvs, tvResponse{ID: tv.ID, TvNumber: tv.TvNumber, State: string(tv.State)})
	}
	return roomResponse{ID: room.ID, RoomNumber: room.RoomNumber, Tvs: tvs}
}

// AllRooms возвращает все комнаты с телевизорами.
func (h *Handler) AllRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.service.ListRooms(r.Context())
	if err != nil {
		h.logger.Error("list rooms error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]roomResponse, 0, len(rooms))
	for i := range rooms {
		resp = append(resp, toRoomResponse(&rooms[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

type toggleTvRequest struct {
	RoomNumber string `json:"roomNumber"`
	TvNumber   string `json:"tvNumber"`
	State      string `json:"state"`
}

// ToggleTv включает или выключает телевизор и оповещает устройства.
func (h *Handler) ToggleTv(w http.ResponseWriter, r *http.Request) {
	var req toggleTvRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	state := model.TvState(req.State)
	if state != model.TvStateOn && state != model.TvStateOff {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if !validation.IsValidRoomNumber(req.RoomNumber) || !validation.IsValidTvNumber(req.TvNumber) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.ToggleTv(r.Context(), req.RoomNumber, req.TvNumber, state); err != nil {
		if errors.Is(err, repository.ErrTvNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("toggle tv error", zap.Error(err), zap.String("room", req.RoomNumber), zap.String("tv", req.TvNumber))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}
