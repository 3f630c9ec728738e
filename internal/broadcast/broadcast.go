// Package broadcast рассылает события устройствам через fanout-обменник
// брокера сообщений. Доставка best-effort: обменник и сообщения не
// персистентны, отключённые устройства события не получают.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

const exchangeName = "tv.events"

// Действия, известные устройствам отображения.
const (
	ActionNewOrder   = "new-order"
	ActionChangeRoom = "change-room"
	ActionToggleTv   = "toggle-tv"
)

// Event описывает сообщение для подключённых устройств. Набор полей зависит
// от действия, незаполненные поля не сериализуются.
type Event struct {
	Action        string  `json:"action"`
	RoomNumber    *string `json:"roomNumber,omitempty"`
	TvNumber      string  `json:"tvNumber,omitempty"`
	TimeBought    int     `json:"timeBought,omitempty"`
	OldRoomNumber *string `json:"oldRoomNumber,omitempty"`
	OldTvNumber   string  `json:"oldTvNumber,omitempty"`
	NewRoomNumber *string `json:"newRoomNumber,omitempty"`
	NewTvNumber   string  `json:"newTvNumber,omitempty"`
	NewState      string  `json:"newState,omitempty"`
}

// Publisher публикует события устройств в брокер сообщений.
type Publisher struct {
	url string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewPublisher создаёт издатель событий для указанного адреса брокера.
// Соединение устанавливается лениво при первой публикации.
func NewPublisher(url string) *Publisher {
	return &Publisher{url: url}
}

// Publish отправляет событие всем подключённым подписчикам обменника.
func (p *Publisher) Publish(ctx context.Context, event Event) error {
	if p == nil || p.url == "" {
		return fmt.Errorf("broadcaster not configured")
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if err != nil {
		return err
	}

	err = ch.PublishWithContext(ctx,
		exchangeName,
		"",    // routing key не используется fanout-обменником
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
	if err != nil {
		// Сбросим канал: следующая публикация переподключится.
		p.reset()
		return fmt.Errorf("publish event: %w", err)
	}

	return nil
}

func (p *Publisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}

	p.reset()

	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(
		exchangeName,
		amqp.ExchangeFanout,
		false, // durable
		false, // autoDelete
		false, // internal
		false, // noWait
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	p.conn = conn
	p.ch = ch
	return ch, nil
}

func (p *Publisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

// Close закрывает соединение с брокером.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	return nil
}
