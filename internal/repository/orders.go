package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/akorotchenko/tvtime-system/internal/model"
	"github.com/akorotchenko/tvtime-system/internal/otp"
)

// Виды отложенных задач в outbox.
const (
	OutboxKindEmail     = "email"
	OutboxKindBroadcast = "broadcast"
)

// NewOrder описывает данные для создания заказа.
type NewOrder struct {
	UserID         int64
	TimeBought     int
	TotalCostCents int64
	OTP            string
	RoomNumber     *string
	TvNumber       string
}

// OutboxTask описывает отложенную задачу доставки побочного эффекта.
type OutboxTask struct {
	ID       int64
	Kind     string
	Payload  []byte
	Attempts int
}

// CreateOrder сохраняет заказ с первой записью истории привязок и отложенными
// задачами уведомлений в одной транзакции. Фиксация транзакции — точка
// коммита покупки: побочные эффекты доставляются позже диспетчером outbox.
func (r *PostgresRepository) CreateOrder(ctx context.Context, o NewOrder, tasks []OutboxTask) (*model.Order, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	order, err := insertOrder(ctx, tx, o)
	if err != nil {
		return nil, err
	}

	if err := enqueueTasks(ctx, tx, tasks); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return order, nil
}

// CreateOrderFromPayment создаёт заказ по платёжному событию провайдера.
// Идентификатор события фиксируется в той же транзакции, поэтому повторная
// доставка того же события не создаёт второй заказ, а возвращает
// ErrDuplicateFulfillment.
func (r *PostgresRepository) CreateOrderFromPayment(ctx context.Context, eventID string, o NewOrder, tasks []OutboxTask) (*model.Order, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	cmdTag, err := tx.Exec(ctx,
		`INSERT INTO payment_events (event_id) VALUES ($1) ON CONFLICT (event_id) DO NOTHING`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("insert payment event: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateFulfillment, eventID)
	}

	order, err := insertOrder(ctx, tx, o)
	if err != nil {
		return nil, err
	}

	if err := enqueueTasks(ctx, tx, tasks); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return order, nil
}

func insertOrder(ctx context.Context, tx pgx.Tx, o NewOrder) (*model.Order, error) {
	var (
		orderID   int64
		orderDate time.Time
	)
	err := tx.QueryRow(ctx,
		`INSERT INTO orders (user_id, time_bought, total_cost, otp)
		 VALUES ($1, $2, $3, $4) RETURNING id, order_date`,
		o.UserID, o.TimeBought, o.TotalCostCents, o.OTP,
	).Scan(&orderID, &orderDate)
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}

	var assignedAt time.Time
	err = tx.QueryRow(ctx,
		`INSERT INTO order_locations (order_id, room_number, tv_number)
		 VALUES ($1, $2, $3) RETURNING assigned_at`,
		orderID, o.RoomNumber, o.TvNumber,
	).Scan(&assignedAt)
	if err != nil {
		return nil, fmt.Errorf("insert order location: %w", err)
	}

	return &model.Order{
		ID:             orderID,
		UserID:         o.UserID,
		TimeBought:     o.TimeBought,
		TotalCostCents: o.TotalCostCents,
		OrderDate:      orderDate,
		OTP:            o.OTP,
		Locations: []model.Location{
			{RoomNumber: o.RoomNumber, TvNumber: o.TvNumber, AssignedAt: assignedAt},
		},
	}, nil
}

func enqueueTasks(ctx context.Context, tx pgx.Tx, tasks []OutboxTask) error {
	for _, t := range tasks {
		if _, err := tx.Exec(ctx,
			`INSERT INTO outbox (kind, payload) VALUES ($1, $2)`,
			t.Kind, t.Payload,
		); err != nil {
			return fmt.Errorf("enqueue outbox task: %w", err)
		}
	}
	return nil
}

// GetOrderByID возвращает заказ с полной историей привязок.
func (r *PostgresRepository) GetOrderByID(ctx context.Context, orderID int64) (*model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, user_id, time_bought, total_cost, otp, order_date
		 FROM orders WHERE id = $1`,
		orderID,
	)

	var o model.Order
	err := row.Scan(&o.ID, &o.UserID, &o.TimeBought, &o.TotalCostCents, &o.OTP, &o.OrderDate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	locations, err := r.loadLocations(ctx, []int64{o.ID})
	if err != nil {
		return nil, err
	}
	o.Locations = locations[o.ID]

	return &o, nil
}

// GetOrdersByUser возвращает заказы пользователя, новые первыми.
func (r *PostgresRepository) GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, time_bought, total_cost, otp, order_date
		 FROM orders
		 WHERE user_id = $1
		 ORDER BY order_date DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var (
		orders []model.Order
		ids    []int64
	)
	for rows.Next() {
		var o model.Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.TimeBought, &o.TotalCostCents, &o.OTP, &o.OrderDate); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
		ids = append(ids, o.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	locations, err := r.loadLocations(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Locations = locations[orders[i].ID]
	}

	return orders, nil
}

// GetAllOrders возвращает все заказы с данными владельцев, новые первыми.
func (r *PostgresRepository) GetAllOrders(ctx context.Context) ([]model.AdminOrder, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT o.id, o.user_id, o.time_bought, o.total_cost, o.otp, o.order_date,
		        u.email, u.full_name
		 FROM orders o
		 JOIN users u ON u.id = o.user_id
		 ORDER BY o.order_date DESC, o.id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("select all orders: %w", err)
	}
	defer rows.Close()

	var (
		orders []model.AdminOrder
		ids    []int64
	)
	for rows.Next() {
		var o model.AdminOrder
		if err := rows.Scan(
			&o.ID, &o.UserID, &o.TimeBought, &o.TotalCostCents, &o.OTP, &o.OrderDate,
			&o.UserEmail, &o.UserFullName,
		); err != nil {
			return nil, fmt.Errorf("scan admin order: %w", err)
		}
		orders = append(orders, o)
		ids = append(ids, o.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	locations, err := r.loadLocations(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Locations = locations[orders[i].ID]
	}

	return orders, nil
}

func (r *PostgresRepository) loadLocations(ctx context.Context, orderIDs []int64) (map[int64][]model.Location, error) {
	result := make(map[int64][]model.Location, len(orderIDs))
	if len(orderIDs) == 0 {
		return result, nil
	}

	rows, err := r.pool.Query(ctx,
		`SELECT order_id, room_number, tv_number, assigned_at
		 FROM order_locations
		 WHERE order_id = ANY($1)
		 ORDER BY order_id, id DESC`,
		orderIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("select order locations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID int64
			loc     model.Location
		)
		if err := rows.Scan(&orderID, &loc.RoomNumber, &loc.TvNumber, &loc.AssignedAt); err != nil {
			return nil, fmt.Errorf("scan order location: %w", err)
		}
		result[orderID] = append(result[orderID], loc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return result, nil
}

// TaskBuilder формирует отложенные задачи переноса по фактическим старой и
// новой привязкам. Вызывается внутри транзакции переноса: привязки, которые
// видит билдер, совпадают с тем, что фиксируется в истории.
type TaskBuilder func(old, next model.Location) ([]OutboxTask, error)

// TransferOrder переносит заказ на другой телевизор. Строка заказа блокируется
// на время проверки кода и записи новой привязки, поэтому два параллельных
// переноса одного заказа выполняются строго по очереди: проигравший увидит
// уже ротированный код и получит ErrOTPMismatch. Пустой suppliedOTP означает
// административный перенос без проверки кода и без ротации. Старая привязка
// остаётся в истории, новая становится текущей.
func (r *PostgresRepository) TransferOrder(ctx context.Context, orderID int64, suppliedOTP string, newRoom *string, newTv string, rotatedOTP string, buildTasks TaskBuilder) (*model.Location, *model.Location, error) {
	var oldLoc, newLoc *model.Location

	err := r.withRetry(ctx, func() error {
		var err error
		oldLoc, newLoc, err = r.transferOnce(ctx, orderID, suppliedOTP, newRoom, newTv, rotatedOTP, buildTasks)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	return oldLoc, newLoc, nil
}

func (r *PostgresRepository) transferOnce(ctx context.Context, orderID int64, suppliedOTP string, newRoom *string, newTv string, rotatedOTP string, buildTasks TaskBuilder) (*model.Location, *model.Location, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var storedOTP string
	err = tx.QueryRow(ctx,
		`SELECT otp FROM orders WHERE id = $1 FOR UPDATE`,
		orderID,
	).Scan(&storedOTP)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrOrderNotFound
		}
		return nil, nil, fmt.Errorf("lock order: %w", err)
	}

	if suppliedOTP != "" && !otp.Equal(suppliedOTP, storedOTP) {
		return nil, nil, ErrOTPMismatch
	}

	var old model.Location
	err = tx.QueryRow(ctx,
		`SELECT room_number, tv_number, assigned_at
		 FROM order_locations
		 WHERE order_id = $1
		 ORDER BY id DESC
		 LIMIT 1`,
		orderID,
	).Scan(&old.RoomNumber, &old.TvNumber, &old.AssignedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("get current location: %w", err)
	}

	// Комната наследуется от предыдущей привязки, если новая не указана.
	room := newRoom
	if room == nil {
		room = old.RoomNumber
	}

	next := model.Location{RoomNumber: room, TvNumber: newTv}
	err = tx.QueryRow(ctx,
		`INSERT INTO order_locations (order_id, room_number, tv_number)
		 VALUES ($1, $2, $3) RETURNING assigned_at`,
		orderID, room, newTv,
	).Scan(&next.AssignedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("insert order location: %w", err)
	}

	if rotatedOTP != "" {
		if _, err := tx.Exec(ctx,
			`UPDATE orders SET otp = $2 WHERE id = $1`,
			orderID, rotatedOTP,
		); err != nil {
			return nil, nil, fmt.Errorf("rotate otp: %w", err)
		}
	}

	if buildTasks != nil {
		tasks, err := buildTasks(old, next)
		if err != nil {
			return nil, nil, err
		}
		if err := enqueueTasks(ctx, tx, tasks); err != nil {
			return nil, nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit tx: %w", err)
	}

	return &old, &next, nil
}

// EnqueueOutbox добавляет отложенную задачу вне транзакции заказа.
func (r *PostgresRepository) EnqueueOutbox(ctx context.Context, kind string, payload []byte) error {
	if _, err := r.pool.Exec(ctx,
		`INSERT INTO outbox (kind, payload) VALUES ($1, $2)`,
		kind, payload,
	); err != nil {
		return fmt.Errorf("enqueue outbox task: %w", err)
	}
	return nil
}

// PickOutbox забирает пачку ожидающих задач. SKIP LOCKED позволяет нескольким
// экземплярам диспетчера работать параллельно без двойной доставки.
func (r *PostgresRepository) PickOutbox(ctx context.Context, limit int) ([]OutboxTask, error) {
	rows, err := r.pool.Query(ctx,
		`UPDATE outbox SET status = 'processing', picked_at = now()
		 WHERE id IN (
		     SELECT id FROM outbox
		     WHERE status = 'pending'
		     ORDER BY id
		     LIMIT $1
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, kind, payload, attempts`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("pick outbox tasks: %w", err)
	}
	defer rows.Close()

	var tasks []OutboxTask
	for rows.Next() {
		var t OutboxTask
		if err := rows.Scan(&t.ID, &t.Kind, &t.Payload, &t.Attempts); err != nil {
			return nil, fmt.Errorf("scan outbox task: %w", err)
		}
		tasks = append(tasks, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return tasks, nil
}

// ReclaimOutbox возвращает в очередь задачи, зависшие в обработке: диспетчер
// мог упасть между выборкой и отметкой результата. Возвращает число
// возвращённых задач.
func (r *PostgresRepository) ReclaimOutbox(ctx context.Context, olderThan time.Duration) (int64, error) {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE outbox SET status = 'pending', picked_at = NULL
		 WHERE status = 'processing' AND picked_at < $1`,
		time.Now().Add(-olderThan),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim outbox tasks: %w", err)
	}
	return cmdTag.RowsAffected(), nil
}

// MarkOutboxDone помечает задачу выполненной.
func (r *PostgresRepository) MarkOutboxDone(ctx context.Context, taskID int64) error {
	if _, err := r.pool.Exec(ctx,
		`UPDATE outbox SET status = 'done' WHERE id = $1`,
		taskID,
	); err != nil {
		return fmt.Errorf("mark outbox done: %w", err)
	}
	return nil
}

// MarkOutboxFailed увеличивает счётчик попыток и возвращает задачу в очередь.
// После maxAttempts неудач задача помечается как failed и больше не берётся.
func (r *PostgresRepository) MarkOutboxFailed(ctx context.Context, taskID int64, maxAttempts int) error {
	if _, err := r.pool.Exec(ctx,
		`UPDATE outbox
		 SET attempts = attempts + 1,
		     status = CASE WHEN attempts + 1 >= $2 THEN 'failed' ELSE 'pending' END
		 WHERE id = $1`,
		taskID, maxAttempts,
	); err != nil {
		return fmt.Errorf("mark outbox failed: %w", err)
	}
	return nil
}
