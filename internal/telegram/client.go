// Package telegram provides a client for sending notifications via Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/thientran01/weather-bot/internal/logger"
	"github.com/thientran01/weather-bot/internal/models"
	"github.com/thientran01/weather-bot/internal/report"
)

// maxMessageLen is Telegram's per-message text limit.
const maxMessageLen = 4096

// StatusSource supplies the most recent cycle for /status.
type StatusSource interface {
	LastSummary() *report.Summary
}

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context, status StatusSource) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(update.Message, status)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(msg *tgbotapi.Message, status StatusSource) {
	var reply tgbotapi.MessageConfig
	switch msg.Command() {
	case "ping":
		reply = tgbotapi.NewMessage(msg.Chat.ID, "Pong")
	case "status":
		var last *report.Summary
		if status != nil {
			last = status.LastSummary()
		}
		reply = tgbotapi.NewMessage(msg.Chat.ID, formatStatus(last))
		reply.ParseMode = "MarkdownV2"
	default:
		return
	}
	if _, err := c.bot.Send(reply); err != nil {
		logger.Warn("Failed to answer /%s: %v", msg.Command(), err)
	}
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// SendError sends a monitoring error notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (c *Client) SendError(cycleErr error) error {
	text := fmt.Sprintf("⚠️ *Monitoring error*\n`%s`", escapeMarkdownV2(cycleErr.Error()))
	return c.sendMarkdownV2(text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(failureCount int) error {
	text := fmt.Sprintf("✅ *Monitoring recovered* after %d consecutive failure\\(s\\)", failureCount)
	return c.sendMarkdownV2(text)
}

// SendSummary sends the cycle digest, split into as many messages as needed.
func (c *Client) SendSummary(s *report.Summary) error {
	for i, part := range splitMessage(formatSummary(s), maxMessageLen) {
		if err := c.sendMarkdownV2(part); err != nil {
			return fmt.Errorf("send summary part %d: %w", i+1, err)
		}
	}
	return nil
}

// formatSummary renders every section with its ranked buckets.
func formatSummary(s *report.Summary) string {
	var b strings.Builder
	b.WriteString("🌡️ *Forecast vs Market*\n")
	b.WriteString(fmt.Sprintf("📅 %s\n\n", escapeMarkdownV2(s.At.Format("2006-01-02 15:04 MST"))))

	for i := range s.Sections {
		sec := &s.Sections[i]
		b.WriteString(formatSectionHeader(sec))
		b.WriteString("\n")

		if sec.NoData {
			b.WriteString(fmt.Sprintf("   _no data available_ \\(%s\\)\n\n", escapeMarkdownV2(string(sec.Reason))))
			continue
		}
		for _, r := range report.Rank(sec.Records) {
			b.WriteString(formatRecord(r))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	ok, noData := s.Counts()
	b.WriteString(escapeMarkdownV2(fmt.Sprintf("%d compared, %d without data", ok, noData)))
	return b.String()
}

func formatSectionHeader(sec *report.Section) string {
	name := sec.Target.City
	if sec.CityName != "" {
		name = sec.CityName
	}
	header := fmt.Sprintf("*%s* %s %s", escapeMarkdownV2(name),
		escapeMarkdownV2(string(sec.Target.Metric)), escapeMarkdownV2(sec.Target.DateString()))
	if sec.Expected != nil {
		header += " " + escapeMarkdownV2(fmt.Sprintf("· NWS %.0f°F ±%.1f", *sec.Expected, sec.Spread))
	}
	if sec.Observed != nil {
		header += " " + escapeMarkdownV2(fmt.Sprintf("· obs %.0f°F", *sec.Observed))
	}
	return header
}

func formatRecord(r models.GapRecord) string {
	label := escapeMarkdownV2(r.Bucket.Label())
	fc := escapeMarkdownV2(fmt.Sprintf("%.1f%%", r.ForecastProb*100))
	if r.MarketProb == nil {
		return fmt.Sprintf("   %s fc %s · no market", label, fc)
	}

	emoji := "📈"
	if *r.Gap < 0 {
		emoji = "📉"
	}
	mkt := escapeMarkdownV2(fmt.Sprintf("%.1f%%", *r.MarketProb*100))
	gap := escapeMarkdownV2(fmt.Sprintf("%+.1f%%", *r.Gap*100))
	return fmt.Sprintf("   %s %s fc %s · mkt %s · *%s*", emoji, label, fc, mkt, gap)
}

// formatStatus renders the /status reply.
func formatStatus(s *report.Summary) string {
	if s == nil {
		return escapeMarkdownV2("No cycle has completed yet.")
	}
	ok, noData := s.Counts()
	lines := []string{
		"*Status*",
		escapeMarkdownV2(fmt.Sprintf("Last cycle: %s (%s)", s.At.Format("2006-01-02 15:04 MST"), s.Duration.Round(time.Millisecond))),
		escapeMarkdownV2(fmt.Sprintf("Sections: %d compared, %d without data", ok, noData)),
	}
	if r := s.Largest(); r != nil {
		lines = append(lines, escapeMarkdownV2(fmt.Sprintf("Largest gap: %s %s %s %+.1f%%",
			r.City, r.Metric, r.Bucket.Label(), *r.Gap*100)))
	}
	return strings.Join(lines, "\n")
}

// splitMessage cuts text at line boundaries into parts no longer than limit
// bytes. A single line longer than limit is cut at rune boundaries.
func splitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}

	var parts []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			parts = append(parts, strings.TrimRight(cur.String(), "\n"))
			cur.Reset()
		}
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		for len(line) > limit {
			flush()
			cut := limit
			for cut > 0 && !isRuneStart(line[cut]) {
				cut--
			}
			// Never leave a dangling escape at the end of a part.
			for cut > 1 && line[cut-1] == '\\' {
				cut--
			}
			parts = append(parts, line[:cut])
			line = line[cut:]
		}
		if cur.Len()+len(line) > limit {
			flush()
		}
		cur.WriteString(line)
	}
	flush()
	return parts
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
