package service

import (
	"encoding/json"
	"fmt"

	"github.com/akorotchenko/tvtime-system/internal/broadcast"
	"github.com/akorotchenko/tvtime-system/internal/model"
	"github.com/akorotchenko/tvtime-system/internal/repository"
)

type emailTask struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html"`
}

func dollars(cents int64) string {
	return fmt.Sprintf("%.2f", float64(cents)/100)
}

func locationLabel(tvNumber string, roomNumber *string) string {
	if roomNumber != nil {
		return fmt.Sprintf("Room %s, TV %s", *roomNumber, tvNumber)
	}
	return fmt.Sprintf("TV %s", tvNumber)
}

// purchaseTasks формирует задачи для новой покупки: письмо-квитанцию с кодом
// подтверждения и событие new-order для устройств.
func purchaseTasks(user *model.User, hours int, costCents int64, code, tvNumber string, roomNumber *string) ([]repository.OutboxTask, error) {
	where := locationLabel(tvNumber, roomNumber)

	receipt := emailTask{
		To:      user.Email,
		Subject: "Your TV-Time Order Receipt",
		Text: fmt.Sprintf(
			"Dear %s,\n\nThank you for your order.\n\nOrder Details:\n- Time Bought: %d hours\n- Total Cost: $%s\n- Location: %s\n- Transfer Code: %s\n\nRegards,\nTV Service Team",
			user.FullName, hours, dollars(costCents), where, code,
		),
		HTML: fmt.Sprintf(
			"<h1>Thank you for your order, %s!</h1><p>Here are the details of your order:</p><ul><li><strong>Time Bought:</strong> %d hours</li><li><strong>Total Cost:</strong> $%s</li><li><strong>Location:</strong> %s</li><li><strong>Transfer Code:</strong> %s</li></ul><p>Thank you for choosing our service!</p>",
			user.FullName, hours, dollars(costCents), where, code,
		),
	}
	receiptPayload, err := json.Marshal(receipt)
	if err != nil {
		return nil, fmt.Errorf("marshal receipt email: %w", err)
	}

	event := broadcast.Event{
		Action:     broadcast.ActionNewOrder,
		RoomNumber: roomNumber,
		TvNumber:   tvNumber,
		TimeBought: hours,
	}
	eventPayload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal broadcast event: %w", err)
	}

	return []repository.OutboxTask{
		{Kind: repository.OutboxKindEmail, Payload: receiptPayload},
		{Kind: repository.OutboxKindBroadcast, Payload: eventPayload},
	}, nil
}

// transferTasks формирует задачи для переноса: письмо с новым кодом
// подтверждения и событие change-room для устройств. Привязки берутся из
// транзакции переноса и совпадают с зафиксированной историей.
func transferTasks(user *model.User, rotatedCode string, old, next model.Location) ([]repository.OutboxTask, error) {
	notice := emailTask{
		To:      user.Email,
		Subject: "Your TV-Time Transfer Confirmation",
		Text: fmt.Sprintf(
			"Dear %s,\n\nYour TV-time has been moved to %s.\n\nYour new transfer code: %s\n\nRegards,\nTV Service Team",
			user.FullName, locationLabel(next.TvNumber, next.RoomNumber), rotatedCode,
		),
		HTML: fmt.Sprintf(
			"<h1>Transfer confirmed, %s!</h1><p>Your TV-time has been moved to <strong>%s</strong>.</p><p>Your new transfer code: <strong>%s</strong></p>",
			user.FullName, locationLabel(next.TvNumber, next.RoomNumber), rotatedCode,
		),
	}
	noticePayload, err := json.Marshal(notice)
	if err != nil {
		return nil, fmt.Errorf("marshal transfer email: %w", err)
	}

	event, err := changeRoomTask(old, next)
	if err != nil {
		return nil, err
	}

	return []repository.OutboxTask{
		{Kind: repository.OutboxKindEmail, Payload: noticePayload},
		event,
	}, nil
}

// changeRoomTask формирует событие change-room по старой и новой привязкам.
func changeRoomTask(old, next model.Location) (repository.OutboxTask, error) {
	event := broadcast.Event{
		Action:        broadcast.ActionChangeRoom,
		OldTvNumber:   old.TvNumber,
		OldRoomNumber: old.RoomNumber,
		NewTvNumber:   next.TvNumber,
		NewRoomNumber: next.RoomNumber,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return repository.OutboxTask{}, fmt.Errorf("marshal broadcast event: %w", err)
	}

	return repository.OutboxTask{Kind: repository.OutboxKindBroadcast, Payload: payload}, nil
}
