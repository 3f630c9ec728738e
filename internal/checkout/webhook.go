package checkout

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// SignatureHeader — заголовок с подписью тела вебхука.
const SignatureHeader = "X-Checkout-Signature"

// EventTypeSessionCompleted — тип события успешно завершённой оплаты.
const EventTypeSessionCompleted = "checkout.session.completed"

// EventMetadata содержит параметры покупки, переданные при создании сессии.
type EventMetadata struct {
	UserID     int64   `json:"user_id"`
	Hours      int     `json:"hours"`
	TvNumber   string  `json:"tv_number"`
	RoomNumber *string `json:"room_number,omitempty"`
}

// CompletedEvent описывает провайдерское событие завершения оплаты.
type CompletedEvent struct {
	ID       string        `json:"id"`
	Type     string        `json:"type"`
	Metadata EventMetadata `json:"metadata"`
}

// Sign возвращает hex-подпись HMAC-SHA256 тела вебхука.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature сверяет подпись вебхука за постоянное время. Проверка
// подписи — обязательное условие перед обработкой события.
func VerifySignature(secret, body []byte, signature string) bool {
	expected := Sign(secret, body)
	return hmac.Equal([]byte(signature), []byte(expected))
}

// ParseEvent разбирает тело вебхука в событие завершения оплаты.
func ParseEvent(body []byte) (*CompletedEvent, error) {
	var event CompletedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if event.ID == "" {
		return nil, fmt.Errorf("event id is empty")
	}
	return &event, nil
}
