package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/akorotchenko/tvtime-system/internal/broadcast"
	"github.com/akorotchenko/tvtime-system/internal/checkout"
	"github.com/akorotchenko/tvtime-system/internal/model"
	"github.com/akorotchenko/tvtime-system/internal/otp"
	"github.com/akorotchenko/tvtime-system/internal/rate"
	"github.com/akorotchenko/tvtime-system/internal/repository"
)

type stubRepo struct {
	users map[int64]*model.User

	rateConfig *model.RateConfig
	rateErr    error

	createdOrder *repository.NewOrder
	createdTasks []repository.OutboxTask
	createErr    error

	fulfilledEvents map[string]bool

	order          *model.Order
	staleLocations []model.Location

	transferSupplied string
	transferRotated  string
	transferTasks    []repository.OutboxTask
	transferErr      error

	updateRateHourly  *int64
	updateRateVersion int64

	enqueued [][2]any

	outboxTasks []repository.OutboxTask
	stuckTasks  []repository.OutboxTask
	doneIDs     []int64
	failedIDs   []int64

	tvStateErr error
}

func (r *stubRepo) Close() error { return nil }

func (r *stubRepo) CreateUser(ctx context.Context, fullName, email, phoneNumber string, passwordHash []byte, isAdmin bool) (int64, error) {
	for _, u := range r.users {
		if u.Email == email {
			return 0, repository.ErrUserExists
		}
	}
	id := int64(len(r.users) + 1)
	if r.users == nil {
		r.users = make(map[int64]*model.User)
	}
	r.users[id] = &model.User{
		ID:           id,
		FullName:     fullName,
		Email:        email,
		PhoneNumber:  phoneNumber,
		PasswordHash: passwordHash,
		IsAdmin:      isAdmin,
	}
	return id, nil
}

func (r *stubRepo) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	for _, u := range r.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (r *stubRepo) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	u, ok := r.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return u, nil
}

func (r *stubRepo) ListUsers(ctx context.Context) ([]model.User, error) { return nil, nil }

func (r *stubRepo) CreateOrder(ctx context.Context, o repository.NewOrder, tasks []repository.OutboxTask) (*model.Order, error) {
	if r.createErr != nil {
		return nil, r.createErr
	}
	r.createdOrder = &o
	r.createdTasks = tasks
	return &model.Order{
		ID:             1,
		UserID:         o.UserID,
		TimeBought:     o.TimeBought,
		TotalCostCents: o.TotalCostCents,
		OTP:            o.OTP,
		Locations: []model.Location{
			{RoomNumber: o.RoomNumber, TvNumber: o.TvNumber},
		},
	}, nil
}

func (r *stubRepo) CreateOrderFromPayment(ctx context.Context, eventID string, o repository.NewOrder, tasks []repository.OutboxTask) (*model.Order, error) {
	if r.fulfilledEvents == nil {
		r.fulfilledEvents = make(map[string]bool)
	}
	if r.fulfilledEvents[eventID] {
		return nil, repository.ErrDuplicateFulfillment
	}
	r.fulfilledEvents[eventID] = true
	return r.CreateOrder(ctx, o, tasks)
}

func (r *stubRepo) GetOrderByID(ctx context.Context, orderID int64) (*model.Order, error) {
	if r.order == nil || r.order.ID != orderID {
		return nil, repository.ErrOrderNotFound
	}
	// Эмуляция устаревшего чтения: снимок с другой историей привязок.
	if r.staleLocations != nil {
		stale := *r.order
		stale.Locations = r.staleLocations
		return &stale, nil
	}
	return r.order, nil
}

func (r *stubRepo) GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	return nil, nil
}

func (r *stubRepo) GetAllOrders(ctx context.Context) ([]model.AdminOrder, error) { return nil, nil }

func (r *stubRepo) TransferOrder(ctx context.Context, orderID int64, suppliedOTP string, newRoom *string, newTv string, rotatedOTP string, buildTasks repository.TaskBuilder) (*model.Location, *model.Location, error) {
	if r.transferErr != nil {
		return nil, nil, r.transferErr
	}
	if r.order == nil || r.order.ID != orderID {
		return nil, nil, repository.ErrOrderNotFound
	}
	if suppliedOTP != "" && !otp.Equal(suppliedOTP, r.order.OTP) {
		return nil, nil, repository.ErrOTPMismatch
	}

	r.transferSupplied = suppliedOTP
	r.transferRotated = rotatedOTP

	old := *r.order.CurrentLocation()
	if newRoom == nil {
		newRoom = old.RoomNumber
	}
	next := model.Location{RoomNumber: newRoom, TvNumber: newTv}

	if buildTasks != nil {
		tasks, err := buildTasks(old, next)
		if err != nil {
			return nil, nil, err
		}
		r.transferTasks = tasks
	}

	r.order.Locations = append([]model.Location{next}, r.order.Locations...)
	if rotatedOTP != "" {
		r.order.OTP = rotatedOTP
	}
	return &old, &next, nil
}

func (r *stubRepo) GetRateConfig(ctx context.Context) (*model.RateConfig, error) {
	if r.rateErr != nil {
		return nil, r.rateErr
	}
	if r.rateConfig == nil {
		return nil, repository.ErrRateNotConfigured
	}
	return r.rateConfig, nil
}

func (r *stubRepo) UpdateRateConfig(ctx context.Context, hourlyRateCents *int64, thresholds []model.RateThreshold, expectedVersion int64) error {
	r.updateRateHourly = hourlyRateCents
	r.updateRateVersion = expectedVersion
	return nil
}

func (r *stubRepo) AddRoom(ctx context.Context, roomNumber, tvNumber string) (*model.Room, error) {
	return &model.Room{RoomNumber: roomNumber}, nil
}

func (r *stubRepo) AddTv(ctx context.Context, roomNumber, tvNumber string) (*model.Tv, error) {
	return &model.Tv{TvNumber: tvNumber}, nil
}

func (r *stubRepo) ListRooms(ctx context.Context) ([]model.Room, error) { return nil, nil }

func (r *stubRepo) SetTvState(ctx context.Context, roomNumber, tvNumber string, state model.TvState) error {
	return r.tvStateErr
}

func (r *stubRepo) EnqueueOutbox(ctx context.Context, kind string, payload []byte) error {
	r.enqueued = append(r.enqueued, [2]any{kind, payload})
	return nil
}

func (r *stubRepo) PickOutbox(ctx context.Context, limit int) ([]repository.OutboxTask, error) {
	tasks := r.outboxTasks
	r.outboxTasks = nil
	return tasks, nil
}

func (r *stubRepo) ReclaimOutbox(ctx context.Context, olderThan time.Duration) (int64, error) {
	n := int64(len(r.stuckTasks))
	r.outboxTasks = append(r.stuckTasks, r.outboxTasks...)
	r.stuckTasks = nil
	return n, nil
}

func (r *stubRepo) MarkOutboxDone(ctx context.Context, taskID int64) error {
	r.doneIDs = append(r.doneIDs, taskID)
	return nil
}

func (r *stubRepo) MarkOutboxFailed(ctx context.Context, taskID int64, maxAttempts int) error {
	r.failedIDs = append(r.failedIDs, taskID)
	return nil
}

type stubMailer struct {
	sent []string
	err  error
}

func (m *stubMailer) Send(ctx context.Context, to, subject, plainText, htmlContent string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, subject)
	return nil
}

type stubBroadcaster struct {
	events []broadcast.Event
}

func (b *stubBroadcaster) Publish(ctx context.Context, event broadcast.Event) error {
	b.events = append(b.events, event)
	return nil
}

func flatRate(cents int64) *model.RateConfig {
	return &model.RateConfig{HourlyRateCents: &cents, Version: 1}
}

func testUser() map[int64]*model.User {
	return map[int64]*model.User{
		1: {ID: 1, FullName: "John Doe", Email: "john@example.com"},
	}
}

func TestPurchaseTime(t *testing.T) {
	repo := &stubRepo{
		users:      testUser(),
		rateConfig: flatRate(500),
	}
	svc := NewService(repo, nil, nil, nil, nil)

	room := "101"
	order, err := svc.PurchaseTime(context.Background(), 1, 3, "1234", &room)
	if err != nil {
		t.Fatalf("PurchaseTime() error = %v", err)
	}

	if order.TotalCostCents != 1500 {
		t.Errorf("TotalCostCents = %d, want 1500", order.TotalCostCents)
	}
	if len(order.OTP) != 6 {
		t.Errorf("OTP = %q, want six digits", order.OTP)
	}
	if len(repo.createdTasks) != 2 {
		t.Fatalf("created %d outbox tasks, want 2", len(repo.createdTasks))
	}
	if repo.createdTasks[0].Kind != repository.OutboxKindEmail {
		t.Errorf("first task kind = %q, want %q", repo.createdTasks[0].Kind, repository.OutboxKindEmail)
	}
	if repo.createdTasks[1].Kind != repository.OutboxKindBroadcast {
		t.Errorf("second task kind = %q, want %q", repo.createdTasks[1].Kind, repository.OutboxKindBroadcast)
	}

	var event broadcast.Event
	if err := json.Unmarshal(repo.createdTasks[1].Payload, &event); err != nil {
		t.Fatalf("unmarshal broadcast event: %v", err)
	}
	if event.Action != broadcast.ActionNewOrder {
		t.Errorf("event action = %q, want %q", event.Action, broadcast.ActionNewOrder)
	}
	if event.TvNumber != "1234" {
		t.Errorf("event tvNumber = %q, want 1234", event.TvNumber)
	}
}

func TestPurchaseTime_InvalidDuration(t *testing.T) {
	repo := &stubRepo{
		users:      testUser(),
		rateConfig: flatRate(500),
	}
	svc := NewService(repo, nil, nil, nil, nil)

	_, err := svc.PurchaseTime(context.Background(), 1, 0, "1234", nil)
	if !errors.Is(err, rate.ErrInvalidDuration) {
		t.Fatalf("error = %v, want %v", err, rate.ErrInvalidDuration)
	}
}

func TestPurchaseTime_RateNotConfigured(t *testing.T) {
	repo := &stubRepo{users: testUser()}
	svc := NewService(repo, nil, nil, nil, nil)

	_, err := svc.PurchaseTime(context.Background(), 1, 3, "1234", nil)
	if !errors.Is(err, repository.ErrRateNotConfigured) {
		t.Fatalf("error = %v, want %v", err, repository.ErrRateNotConfigured)
	}
}

func TestTransferTime_RotatesOTP(t *testing.T) {
	room := "101"
	repo := &stubRepo{
		users: testUser(),
		order: &model.Order{
			ID:     7,
			UserID: 1,
			OTP:    "123456",
			Locations: []model.Location{
				{RoomNumber: &room, TvNumber: "1234"},
			},
		},
	}
	svc := NewService(repo, nil, nil, nil, nil)

	order, err := svc.TransferTime(context.Background(), 7, "123456", "4321", nil)
	if err != nil {
		t.Fatalf("TransferTime() error = %v", err)
	}

	if repo.transferRotated == "" || repo.transferRotated == "123456" {
		t.Errorf("rotated OTP = %q, want fresh code", repo.transferRotated)
	}
	if order.OTP != repo.transferRotated {
		t.Errorf("order OTP = %q, want rotated %q", order.OTP, repo.transferRotated)
	}
	if len(order.Locations) != 2 {
		t.Fatalf("locations = %d, want 2", len(order.Locations))
	}
	if order.CurrentLocation().TvNumber != "4321" {
		t.Errorf("current tv = %q, want 4321", order.CurrentLocation().TvNumber)
	}
	// Комната наследуется, если новая не указана.
	if order.CurrentLocation().RoomNumber == nil || *order.CurrentLocation().RoomNumber != "101" {
		t.Errorf("current room = %v, want 101", order.CurrentLocation().RoomNumber)
	}
	if len(repo.transferTasks) != 2 {
		t.Errorf("transfer tasks = %d, want 2", len(repo.transferTasks))
	}
}

func TestTransferTime_OTPMismatch(t *testing.T) {
	repo := &stubRepo{
		users: testUser(),
		order: &model.Order{
			ID:     7,
			UserID: 1,
			OTP:    "123456",
			Locations: []model.Location{
				{TvNumber: "1234"},
			},
		},
	}
	svc := NewService(repo, nil, nil, nil, nil)

	_, err := svc.TransferTime(context.Background(), 7, "654321", "4321", nil)
	if !errors.Is(err, repository.ErrOTPMismatch) {
		t.Fatalf("error = %v, want %v", err, repository.ErrOTPMismatch)
	}
	if len(repo.order.Locations) != 1 {
		t.Errorf("locations = %d, want unchanged 1", len(repo.order.Locations))
	}
	if repo.order.OTP != "123456" {
		t.Errorf("OTP = %q, want unchanged", repo.order.OTP)
	}
}

func TestTransferTime_StaleOTPAfterRotation(t *testing.T) {
	repo := &stubRepo{
		users: testUser(),
		order: &model.Order{
			ID:        7,
			UserID:    1,
			OTP:       "123456",
			Locations: []model.Location{{TvNumber: "1234"}},
		},
	}
	svc := NewService(repo, nil, nil, nil, nil)

	if _, err := svc.TransferTime(context.Background(), 7, "123456", "4321", nil); err != nil {
		t.Fatalf("first transfer error = %v", err)
	}

	// Старый код после ротации больше не действует.
	_, err := svc.TransferTime(context.Background(), 7, "123456", "5678", nil)
	if !errors.Is(err, repository.ErrOTPMismatch) {
		t.Fatalf("error = %v, want %v", err, repository.ErrOTPMismatch)
	}
}

func TestTransferTime_BroadcastUsesCommittedLocations(t *testing.T) {
	staleRoom := "101"
	actualRoom := "303"
	repo := &stubRepo{
		users: testUser(),
		order: &model.Order{
			ID:     7,
			UserID: 1,
			OTP:    "123456",
			Locations: []model.Location{
				{RoomNumber: &actualRoom, TvNumber: "9999"},
				{RoomNumber: &staleRoom, TvNumber: "1234"},
			},
		},
		// Предварительное чтение видит уже устаревшую привязку.
		staleLocations: []model.Location{
			{RoomNumber: &staleRoom, TvNumber: "1234"},
		},
	}
	svc := NewService(repo, nil, nil, nil, nil)

	if _, err := svc.TransferTime(context.Background(), 7, "123456", "4321", nil); err != nil {
		t.Fatalf("TransferTime() error = %v", err)
	}

	if len(repo.transferTasks) != 2 {
		t.Fatalf("transfer tasks = %d, want 2", len(repo.transferTasks))
	}

	var event broadcast.Event
	if err := json.Unmarshal(repo.transferTasks[1].Payload, &event); err != nil {
		t.Fatalf("unmarshal broadcast event: %v", err)
	}
	if event.OldTvNumber != "9999" {
		t.Errorf("oldTvNumber = %q, want committed 9999", event.OldTvNumber)
	}
	if event.OldRoomNumber == nil || *event.OldRoomNumber != actualRoom {
		t.Errorf("oldRoomNumber = %v, want %q", event.OldRoomNumber, actualRoom)
	}
	if event.NewRoomNumber == nil || *event.NewRoomNumber != actualRoom {
		t.Errorf("newRoomNumber = %v, want inherited %q", event.NewRoomNumber, actualRoom)
	}
}

func TestAdminTransfer_SkipsOTP(t *testing.T) {
	repo := &stubRepo{
		users: testUser(),
		order: &model.Order{
			ID:        7,
			UserID:    1,
			OTP:       "123456",
			Locations: []model.Location{{TvNumber: "1234"}},
		},
	}
	svc := NewService(repo, nil, nil, nil, nil)

	order, err := svc.AdminTransfer(context.Background(), 7, "4321", nil)
	if err != nil {
		t.Fatalf("AdminTransfer() error = %v", err)
	}

	if repo.transferSupplied != "" {
		t.Errorf("supplied OTP = %q, want empty", repo.transferSupplied)
	}
	if repo.transferRotated != "" {
		t.Errorf("rotated OTP = %q, want empty", repo.transferRotated)
	}
	if order.OTP != "123456" {
		t.Errorf("OTP = %q, want unchanged", order.OTP)
	}
	if order.CurrentLocation().TvNumber != "4321" {
		t.Errorf("current tv = %q, want 4321", order.CurrentLocation().TvNumber)
	}
}

func TestFulfillPayment_DuplicateEvent(t *testing.T) {
	repo := &stubRepo{
		users:      testUser(),
		rateConfig: flatRate(500),
	}
	svc := NewService(repo, nil, nil, nil, nil)

	event := &checkout.CompletedEvent{
		ID:   "evt_1",
		Type: checkout.EventTypeSessionCompleted,
		Metadata: checkout.EventMetadata{
			UserID:   1,
			Hours:    2,
			TvNumber: "1234",
		},
	}

	order, err := svc.FulfillPayment(context.Background(), event)
	if err != nil {
		t.Fatalf("first fulfillment error = %v", err)
	}
	if order.TotalCostCents != 1000 {
		t.Errorf("TotalCostCents = %d, want 1000", order.TotalCostCents)
	}

	_, err = svc.FulfillPayment(context.Background(), event)
	if !errors.Is(err, repository.ErrDuplicateFulfillment) {
		t.Fatalf("error = %v, want %v", err, repository.ErrDuplicateFulfillment)
	}
}

func TestUpdateRate_Validation(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, nil, nil, nil, nil)

	negative := int64(-100)
	positive := int64(100)

	tests := []struct {
		name       string
		hourly     *int64
		thresholds []model.RateThreshold
		wantErr    bool
	}{
		{name: "empty config", wantErr: true},
		{name: "negative hourly", hourly: &negative, wantErr: true},
		{name: "zero days", thresholds: []model.RateThreshold{{Days: 0, PriceCents: 100}}, wantErr: true},
		{name: "zero price", thresholds: []model.RateThreshold{{Days: 1, PriceCents: 0}}, wantErr: true},
		{name: "duplicate days", thresholds: []model.RateThreshold{{Days: 1, PriceCents: 100}, {Days: 1, PriceCents: 200}}, wantErr: true},
		{name: "valid flat", hourly: &positive},
		{name: "valid tiers", thresholds: []model.RateThreshold{{Days: 1, PriceCents: 100}, {Days: 7, PriceCents: 500}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.UpdateRate(context.Background(), tt.hourly, tt.thresholds, 0)
			if (err != nil) != tt.wantErr {
				t.Errorf("UpdateRate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAuthenticateUser(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}

	repo := &stubRepo{
		users: map[int64]*model.User{
			1: {ID: 1, Email: "john@example.com", PasswordHash: hash},
		},
	}
	svc := NewService(repo, nil, nil, nil, nil)

	if _, err := svc.AuthenticateUser(context.Background(), "john@example.com", "secret"); err != nil {
		t.Errorf("valid credentials: error = %v", err)
	}

	if _, err := svc.AuthenticateUser(context.Background(), "john@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password: error = %v, want %v", err, ErrInvalidCredentials)
	}

	if _, err := svc.AuthenticateUser(context.Background(), "ghost@example.com", "secret"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown user: error = %v, want %v", err, ErrInvalidCredentials)
	}
}

func TestEnsureAdmin_Idempotent(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, nil, nil, nil, nil)

	if err := svc.EnsureAdmin(context.Background(), "admin@example.com", "secret"); err != nil {
		t.Fatalf("first EnsureAdmin() error = %v", err)
	}
	if err := svc.EnsureAdmin(context.Background(), "admin@example.com", "secret"); err != nil {
		t.Fatalf("second EnsureAdmin() error = %v", err)
	}

	admin, err := repo.GetUserByEmail(context.Background(), "admin@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail() error = %v", err)
	}
	if !admin.IsAdmin {
		t.Error("IsAdmin = false, want true")
	}
}

func TestOutboxDispatch(t *testing.T) {
	emailPayload, _ := json.Marshal(emailTask{To: "john@example.com", Subject: "Receipt"})
	eventPayload, _ := json.Marshal(broadcast.Event{Action: broadcast.ActionNewOrder, TvNumber: "1234"})

	repo := &stubRepo{
		outboxTasks: []repository.OutboxTask{
			{ID: 1, Kind: repository.OutboxKindEmail, Payload: emailPayload},
			{ID: 2, Kind: repository.OutboxKindBroadcast, Payload: eventPayload},
			{ID: 3, Kind: "unknown", Payload: []byte(`{}`)},
		},
	}
	m := &stubMailer{}
	b := &stubBroadcaster{}
	svc := NewService(repo, nil, m, b, nil)

	svc.processOutboxBatch(context.Background())

	if len(m.sent) != 1 || m.sent[0] != "Receipt" {
		t.Errorf("sent emails = %v, want [Receipt]", m.sent)
	}
	if len(b.events) != 1 || b.events[0].Action != broadcast.ActionNewOrder {
		t.Errorf("published events = %+v, want one new-order", b.events)
	}
	if len(repo.doneIDs) != 2 {
		t.Errorf("done tasks = %v, want [1 2]", repo.doneIDs)
	}
	if len(repo.failedIDs) != 1 || repo.failedIDs[0] != 3 {
		t.Errorf("failed tasks = %v, want [3]", repo.failedIDs)
	}
}

func TestOutboxDispatch_MailerFailure(t *testing.T) {
	emailPayload, _ := json.Marshal(emailTask{To: "john@example.com", Subject: "Receipt"})

	repo := &stubRepo{
		outboxTasks: []repository.OutboxTask{
			{ID: 1, Kind: repository.OutboxKindEmail, Payload: emailPayload},
		},
	}
	m := &stubMailer{err: errors.New("smtp down")}
	svc := NewService(repo, nil, m, nil, nil)

	svc.processOutboxBatch(context.Background())

	if len(repo.doneIDs) != 0 {
		t.Errorf("done tasks = %v, want none", repo.doneIDs)
	}
	if len(repo.failedIDs) != 1 {
		t.Errorf("failed tasks = %v, want [1]", repo.failedIDs)
	}
}

func TestOutboxDispatch_ReclaimsStaleTasks(t *testing.T) {
	emailPayload, _ := json.Marshal(emailTask{To: "john@example.com", Subject: "Receipt"})

	repo := &stubRepo{
		// Задача зависла в обработке после падения диспетчера.
		stuckTasks: []repository.OutboxTask{
			{ID: 5, Kind: repository.OutboxKindEmail, Payload: emailPayload},
		},
	}
	m := &stubMailer{}
	svc := NewService(repo, nil, m, nil, nil)

	svc.processOutboxBatch(context.Background())

	if len(m.sent) != 1 {
		t.Fatalf("sent emails = %v, want one delivery after reclaim", m.sent)
	}
	if len(repo.doneIDs) != 1 || repo.doneIDs[0] != 5 {
		t.Errorf("done tasks = %v, want [5]", repo.doneIDs)
	}
	if len(repo.stuckTasks) != 0 {
		t.Errorf("stuck tasks = %v, want empty", repo.stuckTasks)
	}
}

func TestToggleTv_PublishesEvent(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, nil, nil, nil, nil)

	if err := svc.ToggleTv(context.Background(), "101", "1234", model.TvStateOff); err != nil {
		t.Fatalf("ToggleTv() error = %v", err)
	}

	if len(repo.enqueued) != 1 {
		t.Fatalf("enqueued = %d tasks, want 1", len(repo.enqueued))
	}

	var event broadcast.Event
	if err := json.Unmarshal(repo.enqueued[0][1].([]byte), &event); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if event.Action != broadcast.ActionToggleTv {
		t.Errorf("action = %q, want %q", event.Action, broadcast.ActionToggleTv)
	}
	if event.NewState != string(model.TvStateOff) {
		t.Errorf("newState = %q, want off", event.NewState)
	}
}
