// Package model содержит доменные сущности сервиса аренды ТВ-времени.
package model

import "time"

// User представляет зарегистрированного пользователя сервиса.
type User struct {
	ID           int64
	FullName     string
	Email        string
	PhoneNumber  string
	PasswordHash []byte
	IsAdmin      bool
	CreatedAt    time.Time
}

// TvState описывает состояние телевизора.
type TvState string

const (
	TvStateOn  TvState = "on"
	TvStateOff TvState = "off"
)

// Location описывает привязку заказа к комнате и телевизору.
// Номер комнаты может отсутствовать, если телевизор адресуется напрямую.
type Location struct {
	RoomNumber *string
	TvNumber   string
	AssignedAt time.Time
}

// Order описывает покупку ТВ-времени. Locations хранит историю привязок:
// первый элемент — текущее место обслуживания, остальные — аудиторный след.
// Записи истории никогда не удаляются, новые только добавляются в голову.
type Order struct {
	ID             int64
	UserID         int64
	TimeBought     int
	TotalCostCents int64
	Locations      []Location
	OrderDate      time.Time
	OTP            string
}

// CurrentLocation возвращает текущее место обслуживания заказа.
func (o *Order) CurrentLocation() *Location {
	if len(o.Locations) == 0 {
		return nil
	}
	return &o.Locations[0]
}

// AdminOrder дополняет заказ данными владельца для административных списков.
type AdminOrder struct {
	Order
	UserEmail    string
	UserFullName string
}

// RateThreshold задаёт одну ступень тарифа: цена за единицу времени
// для длительности, не превышающей Days суток.
type RateThreshold struct {
	Days       int   `json:"days"`
	PriceCents int64 `json:"price"`
}

// RateConfig содержит действующую тарифную конфигурацию. В системе существует
// не более одной записи. Если Thresholds непуст, действует ступенчатый тариф,
// иначе — плоская почасовая ставка.
type RateConfig struct {
	HourlyRateCents *int64
	Thresholds      []RateThreshold
	Version         int64
}

// Tv описывает телевизор в комнате.
type Tv struct {
	ID       int64
	TvNumber string
	State    TvState
}

// Room описывает комнату и установленные в ней телевизоры.
type Room struct {
	ID         int64
	RoomNumber string
	Tvs        []Tv
}
