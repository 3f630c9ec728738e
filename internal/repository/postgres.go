// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/akorotchenko/tvtime-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке создать пользователя с уже занятым email.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrOrderNotFound возвращается, если заказ не найден.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOTPMismatch возвращается, если предъявленный код подтверждения не совпал.
	ErrOTPMismatch = errors.New("otp mismatch")
	// ErrRateNotConfigured возвращается, если тарифная конфигурация ещё не создана.
	ErrRateNotConfigured = errors.New("rate not configured")
	// ErrRateVersionConflict возвращается при конкурентном обновлении тарифа.
	ErrRateVersionConflict = errors.New("rate config version conflict")
	// ErrDuplicateFulfillment возвращается при повторной доставке платёжного события.
	ErrDuplicateFulfillment = errors.New("payment event already processed")
	// ErrRoomExists возвращается при попытке создать комнату с занятым номером.
	ErrRoomExists = errors.New("room already exists")
	// ErrRoomNotFound возвращается, если комната не найдена.
	ErrRoomNotFound = errors.New("room not found")
	// ErrTvExists возвращается, если телевизор с таким номером уже есть в комнате.
	ErrTvExists = errors.New("tv already exists in room")
	// ErrTvNotFound возвращается, если телевизор не найден.
	ErrTvNotFound = errors.New("tv not found")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Если ошибка контекста — выходим сразу
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// Ретраим ошибки сериализации и дедлоки: блокировка строки заказа
		// при переносе может конфликтовать с параллельным запросом.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт нового пользователя.
func (r *PostgresRepository) CreateUser(ctx context.Context, fullName, email, phoneNumber string, passwordHash []byte, isAdmin bool) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (full_name, email, phone_number, password_hash, is_admin)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		fullName, email, phoneNumber, passwordHash, isAdmin,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, email)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUserByEmail возвращает пользователя по адресу электронной почты.
func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, full_name, email, phone_number, password_hash, is_admin, created_at
		 FROM users WHERE email = $1`,
		email,
	)

	var u model.User
	err := row.Scan(&u.ID, &u.FullName, &u.Email, &u.PhoneNumber, &u.PasswordHash, &u.IsAdmin, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return &u, nil
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, full_name, email, phone_number, password_hash, is_admin, created_at
		 FROM users WHERE id = $1`,
		id,
	)

	var u model.User
	err := row.Scan(&u.ID, &u.FullName, &u.Email, &u.PhoneNumber, &u.PasswordHash, &u.IsAdmin, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return &u, nil
}

// ListUsers возвращает всех пользователей для административного списка.
func (r *PostgresRepository) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, full_name, email, phone_number, is_admin, created_at
		 FROM users
		 ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("select users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.FullName, &u.Email, &u.PhoneNumber, &u.IsAdmin, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return users, nil
}

// GetRateConfig возвращает снимок тарифной конфигурации. Конфигурация хранится
// одной строкой, поэтому снимок всегда согласован.
func (r *PostgresRepository) GetRateConfig(ctx context.Context) (*model.RateConfig, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT hourly_rate, thresholds, version FROM rate_config WHERE id`,
	)

	var cfg model.RateConfig
	err := row.Scan(&cfg.HourlyRateCents, &cfg.Thresholds, &cfg.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRateNotConfigured
		}
		return nil, fmt.Errorf("get rate config: %w", err)
	}

	return &cfg, nil
}

// UpdateRateConfig сохраняет тарифную конфигурацию с оптимистической проверкой
// версии. Нулевая ожидаемая версия означает создание первой конфигурации.
func (r *PostgresRepository) UpdateRateConfig(ctx context.Context, hourlyRateCents *int64, thresholds []model.RateThreshold, expectedVersion int64) error {
	if thresholds == nil {
		thresholds = []model.RateThreshold{}
	}

	if expectedVersion == 0 {
		cmdTag, err := r.pool.Exec(ctx,
			`INSERT INTO rate_config (id, hourly_rate, thresholds, version)
			 VALUES (TRUE, $1, $2, 1) ON CONFLICT (id) DO NOTHING`,
			hourlyRateCents, thresholds,
		)
		if err != nil {
			return fmt.Errorf("insert rate config: %w", err)
		}
		if cmdTag.RowsAffected() == 0 {
			return ErrRateVersionConflict
		}
		return nil
	}

	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE rate_config
		 SET hourly_rate = $1, thresholds = $2, version = version + 1
		 WHERE id AND version = $3`,
		hourlyRateCents, thresholds, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update rate config: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrRateVersionConflict
	}

	return nil
}

// AddRoom создаёт комнату с первым телевизором.
func (r *PostgresRepository) AddRoom(ctx context.Context, roomNumber, tvNumber string) (*model.Room, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var roomID int64
	err = tx.QueryRow(ctx,
		`INSERT INTO rooms (room_number) VALUES ($1) RETURNING id`,
		roomNumber,
	).Scan(&roomID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, fmt.Errorf("%w: %s", ErrRoomExists, roomNumber)
		}
		return nil, fmt.Errorf("insert room: %w", err)
	}

	var tvID int64
	err = tx.QueryRow(ctx,
		`INSERT INTO tvs (room_id, tv_number, state) VALUES ($1, $2, $3) RETURNING id`,
		roomID, tvNumber, string(model.TvStateOff),
	).Scan(&tvID)
	if err != nil {
		return nil, fmt.Errorf("insert tv: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return &model.Room{
		ID:         roomID,
		RoomNumber: roomNumber,
		Tvs:        []model.Tv{{ID: tvID, TvNumber: tvNumber, State: model.TvStateOff}},
	}, nil
}

// AddTv добавляет телевизор в существующую комнату.
func (r *PostgresRepository) AddTv(ctx context.Context, roomNumber, tvNumber string) (*model.Tv, error) {
	var roomID int64
	err := r.pool.QueryRow(ctx,
		`SELECT id FROM rooms WHERE room_number = $1`,
		roomNumber,
	).Scan(&roomID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("get room: %w", err)
	}

	var tvID int64
	err = r.pool.QueryRow(ctx,
		`INSERT INTO tvs (room_id, tv_number, state) VALUES ($1, $2, $3) RETURNING id`,
		roomID, tvNumber, string(model.TvStateOff),
	).Scan(&tvID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, fmt.Errorf("%w: %s", ErrTvExists, tvNumber)
		}
		return nil, fmt.Errorf("insert tv: %w", err)
	}

	return &model.Tv{ID: tvID, TvNumber: tvNumber, State: model.TvStateOff}, nil
}

// ListRooms возвращает все комнаты с их телевизорами.
func (r *PostgresRepository) ListRooms(ctx context.Context) ([]model.Room, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT r.id, r.room_number, t.id, t.tv_number, t.state
		 FROM rooms r
		 LEFT JOIN tvs t ON t.room_id = r.id
		 ORDER BY r.room_number, t.tv_number`,
	)
	if err != nil {
		return nil, fmt.Errorf("select rooms: %w", err)
	}
	defer rows.Close()

	var rooms []model.Room
	index := make(map[int64]int)

	for rows.Next() {
		var (
			roomID     int64
			roomNumber string
			tvID       *int64
			tvNumber   *string
			tvState    *string
		)
		if err := rows.Scan(&roomID, &roomNumber, &tvID, &tvNumber, &tvState); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}

		i, ok := index[roomID]
		if !ok {
			rooms = append(rooms, model.Room{ID: roomID, RoomNumber: roomNumber})
			i = len(rooms) - 1
			index[roomID] = i
		}

		if tvID != nil {
			rooms[i].Tvs = append(rooms[i].Tvs, model.Tv{
				ID:       *tvID,
				TvNumber: *tvNumber,
				State:    model.TvState(*tvState),
			})
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return rooms, nil
}

// SetTvState изменяет состояние телевизора в комнате.
func (r *PostgresRepository) SetTvState(ctx context.Context, roomNumber, tvNumber string, state model.TvState) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE tvs SET state = $3
		 FROM rooms
		 WHERE tvs.room_id = rooms.id AND rooms.room_number = $1 AND tvs.tv_number = $2`,
		roomNumber, tvNumber, string(state),
	)
	if err != nil {
		return fmt.Errorf("update tv state: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrTvNotFound
	}

	return nil
}
