// Package telegram serves one configured bot over Telegram long polling.
// Every chat is its own conversation thread.
package telegram

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/kb-bot/internal/bot"
	"github.com/xaenox/kb-bot/internal/models"
	"go.uber.org/zap"
)

const historySize = 5

// ChatService is the part of bot.Service the Telegram front-end calls.
type ChatService interface {
	HandleMessage(ctx context.Context, botID, content, threadID string) (bot.Response, error)
	GetBotSettings(ctx context.Context, botID string) (models.WidgetSettings, error)
	GetThreadMessages(ctx context.Context, botID, threadID string) ([]*models.Message, error)
}

// sender is the subset of *tgbotapi.BotAPI used to talk back to chats.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

type Bot struct {
	api    *tgbotapi.BotAPI
	sender sender
	svc    ChatService
	botID  string
	logger *zap.Logger
}

func New(token, botID string, svc ChatService, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	return &Bot{
		api:    api,
		sender: api,
		svc:    svc,
		botID:  botID,
		logger: logger,
	}, nil
}

// ThreadID is the conversation thread a Telegram chat maps to.
func ThreadID(chatID int64) string {
	return fmt.Sprintf("tg-%d", chatID)
}

// Start polls for updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.logger.Info("Telegram bot started",
		zap.String("bot_id", b.botID),
		zap.String("username", b.api.Self.UserName))

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			go b.handleMessage(ctx, update.Message)
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	// Handle commands
	if message.IsCommand() {
		b.handleCommand(ctx, message)
		return
	}

	content := message.Text
	if message.Caption != "" {
		content = message.Caption
	}
	if strings.TrimSpace(content) == "" {
		b.sendMessage(message.Chat.ID, "I can only answer text messages.")
		return
	}

	if _, err := b.sender.Request(tgbotapi.NewChatAction(message.Chat.ID, tgbotapi.ChatTyping)); err != nil {
		b.logger.Debug("Failed to send chat action", zap.Error(err))
	}

	resp, err := b.svc.HandleMessage(ctx, b.botID, content, ThreadID(message.Chat.ID))
	if err != nil {
		b.logger.Error("Failed to handle message",
			zap.Error(err),
			zap.String("bot_id", b.botID),
			zap.Int64("chat_id", message.Chat.ID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't answer your message. Please try again.")
		return
	}

	reply := tgbotapi.NewMessage(message.Chat.ID, resp.Content)
	reply.ReplyToMessageID = message.MessageID
	if _, err := b.sender.Send(reply); err != nil {
		b.logger.Error("Failed to send reply",
			zap.Error(err),
			zap.Int64("chat_id", message.Chat.ID))
	}
}

func (b *Bot) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	switch message.Command() {
	case "start":
		b.handleStart(ctx, message)
	case "help":
		b.handleHelp(message)
	case "history":
		b.handleHistory(ctx, message)
	default:
		b.sendMessage(message.Chat.ID, "Unknown command. Use /help to see available commands.")
	}
}

func (b *Bot) handleStart(ctx context.Context, message *tgbotapi.Message) {
	welcome := `Welcome! 👋
Ask me anything and I'll answer from my knowledge base.
Use /help to see all available commands.`

	settings, err := b.svc.GetBotSettings(ctx, b.botID)
	if err != nil {
		b.logger.Error("Failed to get bot settings",
			zap.Error(err),
			zap.String("bot_id", b.botID))
	} else if settings.InitialMessage != nil && *settings.InitialMessage != "" {
		welcome = *settings.InitialMessage
	}

	b.sendMessage(message.Chat.ID, welcome)
}

func (b *Bot) handleHelp(message *tgbotapi.Message) {
	help := `Available commands:
/start - Start the bot
/help - Show this help message
/history - Show the last messages of this chat

Send any text message to ask a question.`

	b.sendMessage(message.Chat.ID, help)
}

func (b *Bot) handleHistory(ctx context.Context, message *tgbotapi.Message) {
	messages, err := b.svc.GetThreadMessages(ctx, b.botID, ThreadID(message.Chat.ID))
	if err != nil {
		b.logger.Error("Failed to get thread messages",
			zap.Error(err),
			zap.Int64("chat_id", message.Chat.ID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't retrieve your message history.")
		return
	}

	if len(messages) == 0 {
		b.sendMessage(message.Chat.ID, "You don't have any messages yet.")
		return
	}
	if len(messages) > historySize {
		messages = messages[len(messages)-historySize:]
	}

	response := "*Your recent messages:*\n\n"
	for _, msg := range messages {
		who := "You"
		if msg.Role == models.RoleAssistant {
			who = "Bot"
		}
		response += fmt.Sprintf("*%s:* %s\n\n", who, escapeMarkdown(msg.Content))
	}

	msg := tgbotapi.NewMessage(message.Chat.ID, response)
	msg.ParseMode = "MarkdownV2"
	if _, err := b.sender.Send(msg); err != nil {
		b.logger.Error("Failed to send history message",
			zap.Error(err),
			zap.Int64("chat_id", message.Chat.ID))
	}
}

// escapeMarkdown escapes the characters MarkdownV2 reserves.
func escapeMarkdown(text string) string {
	specialChars := []string{"\\", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}
	escaped := text
	for _, char := range specialChars {
		escaped = strings.ReplaceAll(escaped, char, "\\"+char)
	}
	return escaped
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.sender.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendErrorMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, "⚠️ "+text)
	if _, err := b.sender.Send(msg); err != nil {
		b.logger.Error("Failed to send error message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}
