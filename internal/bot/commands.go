package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/lussekatt/internal/models"
)

const (
	scorerHelp = `Доступные команды:
/token <course> - Получить токен проверяющего для доступа к API
/stats <course> <item> - Сколько работ ждёт проверки
/help - Показать это сообщение`

	adminHelp = `Доступные команды:
/token <course> - Получить токен проверяющего для доступа к API
/stats <course> <item> - Сколько работ ждёт проверки
/pending <course> <item> - Список работ в очереди
/cancel <submission_uuid> <reason> - Снять работу с проверки
/return <submission_uuid> <reason> - Вернуть работу без оценки
/help - Показать это сообщение

Примеры:
/stats DE15 essay-01
/pending DE15 essay-01
/cancel 6b2e... "Duplicate submission"`
)

type commandHandler func(*tgbotapi.Message) error

func (b *Bot) routeScorerCommands(cmd string) (commandHandler, bool) {
	commands := map[string]commandHandler{
		"start": b.handleStart,
		"token": b.handleToken,
		"stats": b.handleStats,
		"help":  b.handleHelp,
	}
	handler, found := commands[cmd]
	return handler, found
}

func (b *Bot) routeAdminCommands(cmd string) (commandHandler, bool) {
	commands := map[string]commandHandler{
		"pending": b.handlePending,
		"cancel":  b.handleCancel,
		"return":  b.handleReturn,
	}
	handler, found := commands[cmd]
	return handler, found
}

func (b *Bot) handleMessage(msg *tgbotapi.Message) {
	if !msg.IsCommand() {
		b.sendHelp(msg.Chat.ID)
		return
	}

	cmd := msg.Command()

	if handler, ok := b.routeScorerCommands(cmd); ok {
		if err := handler(msg); err != nil {
			logger.Error.Printf("Command error: %v", err)
			b.sendMessage(msg.Chat.ID, fmt.Sprintf("Error: %v", err))
		}
		return
	}

	if b.admins[msg.From.ID] {
		if handler, ok := b.routeAdminCommands(cmd); ok {
			if err := handler(msg); err != nil {
				logger.Error.Printf("Command error: %v", err)
				b.sendMessage(msg.Chat.ID, fmt.Sprintf("Error: %v", err))
			}
		}
		return
	}

	b.sendHelp(msg.Chat.ID)
}

func (b *Bot) handleHelp(msg *tgbotapi.Message) error {
	var text string
	if b.admins[msg.From.ID] {
		text = adminHelp
	} else {
		text = scorerHelp
	}

	return b.sendMessage(msg.Chat.ID, text)
}

func (b *Bot) sendHelp(chatID int64) error {
	return b.sendMessage(chatID, "Используйте команды для взаимодействия с ботом. Отправьте /help для списка команд.")
}

func (b *Bot) handleStart(msg *tgbotapi.Message) error {
	text := "Привет! Я раздаю работы на проверку.\n\n"
	if b.admins[msg.From.ID] {
		text += "Ты администратор курса. Используй /help для списка команд."
	} else {
		text += "Используй /token чтобы получить токен проверяющего."
	}

	return b.sendMessage(msg.Chat.ID, text)
}

func (b *Bot) handleToken(msg *tgbotapi.Message) error {
	args := strings.Fields(msg.CommandArguments())
	if len(args) < 1 {
		return b.sendMessage(msg.Chat.ID, "Использование: /token <course>")
	}
	course := args[0]

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	scorerID, err := b.tokens.FetchScorerIDByTelegram(ctx, course, msg.From.UserName)
	if err != nil {
		return fmt.Errorf("не нашёл проверяющего для @%s в курсе %s", msg.From.UserName, course)
	}

	info, isNew, err := b.tokens.FetchOrCreateScorerToken(ctx, course, scorerID)
	if err != nil {
		return fmt.Errorf("ошибка выдачи токена: %v", err)
	}

	action := "действующий"
	if isNew {
		action = "новый"
	}

	return b.sendMessage(msg.Chat.ID, fmt.Sprintf(
		"✅ Твой %s токен для курса %s:\n%s",
		action,
		course,
		info.Token,
	))
}

func (b *Bot) handleStats(msg *tgbotapi.Message) error {
	args := strings.Fields(msg.CommandArguments())
	if len(args) < 2 {
		return b.sendMessage(msg.Chat.ID, "Использование: /stats <course> <item>")
	}

	category := models.CategoryKey{CourseID: args[0], ItemID: args[1]}
	counts, err := b.queue.Counts(category, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("ошибка получения статистики: %v", err)
	}

	return b.sendMessage(msg.Chat.ID, fmt.Sprintf(
		"Очередь %s/%s:\n\n"+
			"⏳ Ждут проверки: %d\n"+
			"👀 На проверке: %d\n"+
			"✅ Проверено: %d",
		category.CourseID,
		category.ItemID,
		counts.Ungraded,
		counts.InProgress,
		counts.Graded,
	))
}

func (b *Bot) handlePending(msg *tgbotapi.Message) error {
	args := strings.Fields(msg.CommandArguments())
	if len(args) < 2 {
		return b.sendMessage(msg.Chat.ID, "Использование: /pending <course> <item>")
	}

	category := models.CategoryKey{CourseID: args[0], ItemID: args[1]}
	pending, err := b.queue.Pending(category, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("ошибка получения очереди: %v", err)
	}

	if len(pending) == 0 {
		return b.sendMessage(msg.Chat.ID, "Очередь пуста, всё проверено 🎉")
	}

	var out strings.Builder
	out.WriteString(fmt.Sprintf("Работы в очереди %s/%s:\n\n", category.CourseID, category.ItemID))
	for _, uuid := range pending {
		out.WriteString(fmt.Sprintf("📝 %s\n", uuid))
	}

	return b.sendMessage(msg.Chat.ID, out.String())
}

func (b *Bot) handleCancel(msg *tgbotapi.Message) error {
	return b.handleTerminal(msg, "cancel", b.queue.Cancel)
}

func (b *Bot) handleReturn(msg *tgbotapi.Message) error {
	return b.handleTerminal(msg, "return", b.queue.Return)
}

func (b *Bot) handleTerminal(msg *tgbotapi.Message, cmd string, apply func(string, time.Time) error) error {
	args := strings.Fields(msg.CommandArguments())
	if len(args) < 1 {
		return b.sendMessage(msg.Chat.ID, fmt.Sprintf("Использование: /%s <submission_uuid> <reason>", cmd))
	}

	submissionUUID := args[0]
	reason := strings.Join(args[1:], " ")

	if err := apply(submissionUUID, time.Now().UTC()); err != nil {
		return fmt.Errorf("не получилось: %v", err)
	}

	logger.Info.Printf("Workflow %s %sed via bot by %d: %s", submissionUUID, cmd, msg.From.ID, reason)

	return b.sendMessage(msg.Chat.ID, fmt.Sprintf("✅ Работа %s снята из очереди (%s)", submissionUUID, reason))
}

func (b *Bot) sendMessage(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	_, err := b.api.Send(msg)
	return err
}
