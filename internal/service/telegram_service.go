package service

import (
	"context"
	"fmt"
	"sync"

	"autocare/internal/domain"
	"autocare/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

const telegramQueueSize = 100

// TelegramService pushes notifications to a single chat. Sends happen on a
// background goroutine so emitters never wait for the network.
type TelegramService struct {
	bot    domain.TelegramSender
	chatID int64
	logger *zerolog.Logger
	queue  chan models.Notification
	wg     sync.WaitGroup
}

func NewTelegramService(bot domain.TelegramSender, chatID int64, logger *zerolog.Logger) *TelegramService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &TelegramService{
		bot:    bot,
		chatID: chatID,
		logger: logger,
		queue:  make(chan models.Notification, telegramQueueSize),
	}
}

func (s *TelegramService) SendMessage(chatID int64, text string) (tgbotapi.Message, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	return s.bot.Send(msg)
}

// Push queues a notification; it is dropped when the queue is full.
func (s *TelegramService) Push(n models.Notification) {
	select {
	case s.queue <- n:
	default:
		s.logger.Warn().Str("notification_id", n.ID).Msg("telegram queue full, dropping notification")
	}
}

// Start drains the queue until ctx is canceled.
func (s *TelegramService) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case n := <-s.queue:
				if _, err := s.SendMessage(s.chatID, FormatNotification(n)); err != nil {
					s.logger.Error().Err(err).Str("notification_id", n.ID).Msg("telegram push failed")
				}
			}
		}
	}()
}

// Stop waits for the sender goroutine to exit.
func (s *TelegramService) Stop() {
	s.wg.Wait()
}

func FormatNotification(n models.Notification) string {
	text := fmt.Sprintf("[%s] %s\n%s", n.Type, n.Title, n.Message)
	if n.UserID != "" {
		text += fmt.Sprintf("\nuser: %s", n.UserID)
	}
	return text
}
