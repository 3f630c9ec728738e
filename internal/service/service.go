// Package service реализует бизнес-логику сервиса аренды ТВ-времени.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/akorotchenko/tvtime-system/internal/broadcast"
	"github.com/akorotchenko/tvtime-system/internal/checkout"
	"github.com/akorotchenko/tvtime-system/internal/model"
	"github.com/akorotchenko/tvtime-system/internal/otp"
	"github.com/akorotchenko/tvtime-system/internal/rate"
	"github.com/akorotchenko/tvtime-system/internal/repository"
)

// ErrInvalidCredentials возвращается при неверной паре email/пароль.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrCheckoutUnavailable возвращается, если платёжный провайдер не настроен.
var ErrCheckoutUnavailable = errors.New("checkout is not configured")

const outboxMaxAttempts = 5

// Задачи, зависшие в обработке дольше этого срока, возвращаются в очередь:
// диспетчер мог упасть между выборкой и отметкой результата.
const outboxStaleAfter = time.Minute

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateUser(ctx context.Context, fullName, email, phoneNumber string, passwordHash []byte, isAdmin bool) (int64, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	CreateOrder(ctx context.Context, o repository.NewOrder, tasks []repository.OutboxTask) (*model.Order, error)
	CreateOrderFromPayment(ctx context.Context, eventID string, o repository.NewOrder, tasks []repository.OutboxTask) (*model.Order, error)
	GetOrderByID(ctx context.Context, orderID int64) (*model.Order, error)
	GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error)
	GetAllOrders(ctx context.Context) ([]model.AdminOrder, error)
	TransferOrder(ctx context.Context, orderID int64, suppliedOTP string, newRoom *string, newTv string, rotatedOTP string, buildTasks repository.TaskBuilder) (*model.Location, *model.Location, error)
	GetRateConfig(ctx context.Context) (*model.RateConfig, error)
	UpdateRateConfig(ctx context.Context, hourlyRateCents *int64, thresholds []model.RateThreshold, expectedVersion int64) error
	AddRoom(ctx context.Context, roomNumber, tvNumber string) (*model.Room, error)
	AddTv(ctx context.Context, roomNumber, tvNumber string) (*model.Tv, error)
	ListRooms(ctx context.Context) ([]model.Room, error)
	SetTvState(ctx context.Context, roomNumber, tvNumber string, state model.TvState) error
	EnqueueOutbox(ctx context.Context, kind string, payload []byte) error
	PickOutbox(ctx context.Context, limit int) ([]repository.OutboxTask, error)
	ReclaimOutbox(ctx context.Context, olderThan time.Duration) (int64, error)
	MarkOutboxDone(ctx context.Context, taskID int64) error
	MarkOutboxFailed(ctx context.Context, taskID int64, maxAttempts int) error
}

// Mailer описывает контракт отправки почтовых уведомлений.
type Mailer interface {
	Send(ctx context.Context, to, subject, plainText, htmlContent string) error
}

// Broadcaster описывает контракт рассылки событий устройствам.
type Broadcaster interface {
	Publish(ctx context.Context, event broadcast.Event) error
}

// Service содержит бизнес-логику сервиса аренды ТВ-времени.
type Service struct {
	repo           Repository
	checkoutClient *checkout.Client
	mailer         Mailer
	broadcaster    Broadcaster
	logger         *zap.Logger
}

// NewService создаёт сервис с указанными репозиторием и внешними коллабораторами.
// Почтовый клиент и издатель событий могут быть nil: соответствующие задачи
// будут пропускаться с записью в лог.
func NewService(repo Repository, checkoutClient *checkout.Client, m Mailer, b Broadcaster, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:           repo,
		checkoutClient: checkoutClient,
		mailer:         m,
		broadcaster:    b,
		logger:         logger,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового пользователя.
func (s *Service) RegisterUser(ctx context.Context, fullName, email, phoneNumber, password string) (*model.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	id, err := s.repo.CreateUser(ctx, fullName, email, phoneNumber, hash, false)
	if err != nil {
		return nil, err
	}

	return &model.User{
		ID:          id,
		FullName:    fullName,
		Email:       email,
		PhoneNumber: phoneNumber,
	}, nil
}

// AuthenticateUser проверяет email и пароль и возвращает пользователя.
func (s *Service) AuthenticateUser(ctx context.Context, email, password string) (*model.User, error) {
	u, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return u, nil
}

// EnsureAdmin создаёт административную учётную запись, если её ещё нет.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	_, err = s.repo.CreateUser(ctx, "Administrator", email, "", hash, true)
	if err != nil && !errors.Is(err, repository.ErrUserExists) {
		return err
	}

	return nil
}

// PurchaseTime создаёт заказ на покупку ТВ-времени. Стоимость рассчитывается
// по действующему тарифу и фиксируется в заказе; вместе с заказом ставятся
// задачи на письмо-квитанцию и событие устройствам.
func (s *Service) PurchaseTime(ctx context.Context, userID int64, hours int, tvNumber string, roomNumber *string) (*model.Order, error) {
	cfg, err := s.repo.GetRateConfig(ctx)
	if err != nil {
		return nil, err
	}

	cost, err := rate.ResolveCost(cfg, hours)
	if err != nil {
		return nil, err
	}

	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	code := otp.Generate()

	tasks, err := purchaseTasks(user, hours, cost, code, tvNumber, roomNumber)
	if err != nil {
		return nil, err
	}

	return s.repo.CreateOrder(ctx, repository.NewOrder{
		UserID:         userID,
		TimeBought:     hours,
		TotalCostCents: cost,
		OTP:            code,
		RoomNumber:     roomNumber,
		TvNumber:       tvNumber,
	}, tasks)
}

// CreateCheckoutSession создаёт платёжную сессию и возвращает адрес оплаты.
func (s *Service) CreateCheckoutSession(ctx context.Context, userID int64, hours int, tvNumber string, roomNumber *string) (string, error) {
	if s.checkoutClient == nil {
		return "", ErrCheckoutUnavailable
	}
	if hours <= 0 {
		return "", rate.ErrInvalidDuration
	}

	session, err := s.checkoutClient.CreateSession(ctx, checkout.CreateSessionRequest{
		UserID:     userID,
		Hours:      hours,
		TvNumber:   tvNumber,
		RoomNumber: roomNumber,
	})
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}

	return session.URL, nil
}

// FulfillPayment создаёт заказ по подтверждённому платёжному событию.
// Стоимость рассчитывается по тарифу на момент подтверждения, а не на момент
// создания сессии. Повторная доставка события не создаёт второй заказ:
// возвращается ErrDuplicateFulfillment.
func (s *Service) FulfillPayment(ctx context.Context, event *checkout.CompletedEvent) (*model.Order, error) {
	cfg, err := s.repo.GetRateConfig(ctx)
	if err != nil {
		return nil, err
	}

	cost, err := rate.ResolveCost(cfg, event.Metadata.Hours)
	if err != nil {
		return nil, err
	}

	user, err := s.repo.GetUserByID(ctx, event.Metadata.UserID)
	if err != nil {
		return nil, err
	}

	code := otp.Generate()

	tasks, err := purchaseTasks(user, event.Metadata.Hours, cost, code, event.Metadata.TvNumber, event.Metadata.RoomNumber)
	if err != nil {
		return nil, err
	}

	return s.repo.CreateOrderFromPayment(ctx, event.ID, repository.NewOrder{
		UserID:         event.Metadata.UserID,
		TimeBought:     event.Metadata.Hours,
		TotalCostCents: cost,
		OTP:            code,
		RoomNumber:     event.Metadata.RoomNumber,
		TvNumber:       event.Metadata.TvNumber,
	}, tasks)
}

// TransferTime переносит заказ на другой телевизор после проверки кода
// подтверждения. При успехе код ротируется и отправляется владельцу письмом,
// устройства получают событие со старой и новой привязкой. Задачи уведомлений
// формируются внутри транзакции переноса по фактическим привязкам, поэтому
// параллельный перенос не может подменить старую привязку в событии.
func (s *Service) TransferTime(ctx context.Context, orderID int64, suppliedOTP, newTv string, newRoom *string) (*model.Order, error) {
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	user, err := s.repo.GetUserByID(ctx, order.UserID)
	if err != nil {
		return nil, err
	}

	rotated := otp.Generate()

	builder := func(old, next model.Location) ([]repository.OutboxTask, error) {
		return transferTasks(user, rotated, old, next)
	}

	if _, _, err := s.repo.TransferOrder(ctx, orderID, suppliedOTP, newRoom, newTv, rotated, builder); err != nil {
		return nil, err
	}

	return s.repo.GetOrderByID(ctx, orderID)
}

// AdminTransfer переносит заказ без проверки кода подтверждения. Код не
// ротируется, форма аудиторного следа совпадает с обычным переносом.
func (s *Service) AdminTransfer(ctx context.Context, orderID int64, newTv string, newRoom *string) (*model.Order, error) {
	builder := func(old, next model.Location) ([]repository.OutboxTask, error) {
		task, err := changeRoomTask(old, next)
		if err != nil {
			return nil, err
		}
		return []repository.OutboxTask{task}, nil
	}

	if _, _, err := s.repo.TransferOrder(ctx, orderID, "", newRoom, newTv, "", builder); err != nil {
		return nil, err
	}

	return s.repo.GetOrderByID(ctx, orderID)
}

// GetOrdersByUser возвращает заказы пользователя.
func (s *Service) GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	return s.repo.GetOrdersByUser(ctx, userID)
}

// GetAllOrders возвращает все заказы с данными владельцев.
func (s *Service) GetAllOrders(ctx context.Context) ([]model.AdminOrder, error) {
	return s.repo.GetAllOrders(ctx)
}

// GetRate возвращает действующую тарифную конфигурацию.
func (s *Service) GetRate(ctx context.Context) (*model.RateConfig, error) {
	return s.repo.GetRateConfig(ctx)
}

// UpdateRate сохраняет тарифную конфигурацию с проверкой версии.
func (s *Service) UpdateRate(ctx context.Context, hourlyRateCents *int64, thresholds []model.RateThreshold, expectedVersion int64) error {
	if hourlyRateCents != nil && *hourlyRateCents <= 0 {
		return fmt.Errorf("hourly rate must be positive")
	}

	seen := make(map[int]struct{}, len(thresholds))
	for _, t := range thresholds {
		if t.Days <= 0 {
			return fmt.Errorf("threshold days must be positive")
		}
		if t.PriceCents <= 0 {
			return fmt.Errorf("threshold price must be positive")
		}
		if _, ok := seen[t.Days]; ok {
			return fmt.Errorf("duplicate threshold for %d days", t.Days)
		}
		seen[t.Days] = struct{}{}
	}

	if hourlyRateCents == nil && len(thresholds) == 0 {
		return fmt.Errorf("rate config is empty")
	}

	return s.repo.UpdateRateConfig(ctx, hourlyRateCents, thresholds, expectedVersion)
}

// ListUsers возвращает всех пользователей.
func (s *Service) ListUsers(ctx context.Context) ([]model.User, error) {
	return s.repo.ListUsers(ctx)
}

// AddRoom создаёт комнату с первым телевизором.
func (s *Service) AddRoom(ctx context.Context, roomNumber, tvNumber string) (*model.Room, error) {
	return s.repo.AddRoom(ctx, roomNumber, tvNumber)
}

// AddTv добавляет телевизор в комнату.
func (s *Service) AddTv(ctx context.Context, roomNumber, tvNumber string) (*model.Tv, error) {
	return s.repo.AddTv(ctx, roomNumber, tvNumber)
}

// ListRooms возвращает все комнаты с телевизорами.
func (s *Service) ListRooms(ctx context.Context) ([]model.Room, error) {
	return s.repo.ListRooms(ctx)
}

// ToggleTv изменяет состояние телевизора и оповещает устройства.
func (s *Service) ToggleTv(ctx context.Context, roomNumber, tvNumber string, state model.TvState) error {
	if err := s.repo.SetTvState(ctx, roomNumber, tvNumber, state); err != nil {
		return err
	}

	event := broadcast.Event{
		Action:     broadcast.ActionToggleTv,
		RoomNumber: &roomNumber,
		TvNumber:   tvNumber,
		NewState:   string(state),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal broadcast event: %w", err)
	}

	if err := s.repo.EnqueueOutbox(ctx, repository.OutboxKindBroadcast, payload); err != nil {
		// Состояние уже изменено, потеря события не откатывает операцию.
		s.logger.Warn("enqueue toggle-tv broadcast", zap.Error(err))
	}

	return nil
}

// StartOutboxDispatcher запускает фоновую доставку отложенных задач
// уведомлений и событий устройств.
func (s *Service) StartOutboxDispatcher(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.processOutboxBatch(ctx)
			}
		}
	}()
}

func (s *Service) processOutboxBatch(ctx context.Context) {
	reclaimed, err := s.repo.ReclaimOutbox(ctx, outboxStaleAfter)
	if err != nil {
		s.logger.Warn("reclaim outbox tasks", zap.Error(err))
	} else if reclaimed > 0 {
		s.logger.Warn("reclaimed stale outbox tasks", zap.Int64("count", reclaimed))
	}

	tasks, err := s.repo.PickOutbox(ctx, 100)
	if err != nil {
		s.logger.Warn("pick outbox tasks", zap.Error(err))
		return
	}

	for _, t := range tasks {
		if err := s.dispatchTask(ctx, t); err != nil {
			s.logger.Warn("dispatch outbox task",
				zap.Int64("taskID", t.ID),
				zap.String("kind", t.Kind),
				zap.Int("attempts", t.Attempts),
				zap.Error(err),
			)
			if err := s.repo.MarkOutboxFailed(ctx, t.ID, outboxMaxAttempts); err != nil {
				s.logger.Warn("mark outbox failed", zap.Int64("taskID", t.ID), zap.Error(err))
			}
			continue
		}

		if err := s.repo.MarkOutboxDone(ctx, t.ID); err != nil {
			s.logger.Warn("mark outbox done", zap.Int64("taskID", t.ID), zap.Error(err))
		}
	}
}

func (s *Service) dispatchTask(ctx context.Context, t repository.OutboxTask) error {
	switch t.Kind {
	case repository.OutboxKindEmail:
		if s.mailer == nil {
			s.logger.Debug("mailer not configured, skipping email task", zap.Int64("taskID", t.ID))
			return nil
		}
		var e emailTask
		if err := json.Unmarshal(t.Payload, &e); err != nil {
			return fmt.Errorf("decode email task: %w", err)
		}
		return s.mailer.Send(ctx, e.To, e.Subject, e.Text, e.HTML)

	case repository.OutboxKindBroadcast:
		if s.broadcaster == nil {
			s.logger.Debug("broadcaster not configured, skipping broadcast task", zap.Int64("taskID", t.ID))
			return nil
		}
		var event broadcast.Event
		if err := json.Unmarshal(t.Payload, &event); err != nil {
			return fmt.Errorf("decode broadcast event: %w", err)
		}
		return s.broadcaster.Publish(ctx, event)

	default:
		return fmt.Errorf("unknown task kind %q", t.Kind)
	}
}
