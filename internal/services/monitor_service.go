package services

import (
	"fmt"
	"log"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// MonitorService — ops-канал в Telegram: дублируем туда исход каждой
// отправки кода (удобно смотреть доставку в stage/dev без доступа к логам).
// Может быть nil — тогда все вызовы no-op.
type MonitorService struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

func NewMonitorService(botToken string, chatID int64) (*MonitorService, error) {
	if botToken == "" || chatID == 0 {
		return nil, nil
	}
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	return &MonitorService{bot: bot, chatID: chatID}, nil
}

// DeliveryAttempted — отчёт об одной попытке доставки.
func (m *MonitorService) DeliveryAttempted(target, text string, sendErr error) {
	if m == nil || m.bot == nil {
		return
	}
	msg := fmt.Sprintf("Подтверждение номера %s\n%s", target, text)
	if sendErr != nil {
		msg += "\nОшибка доставки: " + sendErr.Error()
	}
	if _, err := m.bot.Send(tgbotapi.NewMessage(m.chatID, msg)); err != nil {
		log.Printf("[monitor][err] telegram send: %v", err)
	}
}
