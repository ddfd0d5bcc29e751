package notify

import (
	"context"
	"fmt"
	"strings"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"grid_bot/internal/models"
)

type Notifier interface {
	Send(msg string)
	Sendf(format string, args ...any)
}

// Telegram пассивный нотифайер в один чат. Отправка не блокирует торговый цикл.
type Telegram struct {
	bot    *tgbot.BotAPI
	chatID int64
	log    *zap.Logger
	queue  chan string
}

const telegramQueue = 64

func NewTelegram(token string, chatID int64, log *zap.Logger) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	t := &Telegram{
		bot:    b,
		chatID: chatID,
		log:    log,
		queue:  make(chan string, telegramQueue),
	}
	go t.loop()
	return t, nil
}

func (t *Telegram) loop() {
	for msg := range t.queue {
		if _, err := t.bot.Send(tgbot.NewMessage(t.chatID, msg)); err != nil {
			t.log.Warn("telegram send failed", zap.Error(err))
		}
	}
}

func (t *Telegram) Send(msg string) {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return
	}
	select {
	case t.queue <- msg:
	default:
		t.log.Warn("telegram queue full, message dropped", zap.String("msg", msg))
	}
}

func (t *Telegram) Sendf(format string, args ...any) { t.Send(fmt.Sprintf(format, args...)) }

// Command ответ на команду чата, например /positions.
type Command func(ctx context.Context) string

// Listen long-polling команд из своего чата до отмены ctx.
func (t *Telegram) Listen(ctx context.Context, cmds map[string]Command) {
	if t == nil || t.bot == nil || len(cmds) == 0 {
		return
	}
	u := tgbot.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message"}

	updates := t.bot.GetUpdatesChan(u)
	go func() {
		defer t.bot.StopReceivingUpdates()
		for {
			select {
			case <-ctx.Done():
				return
			case upd, ok := <-updates:
				if !ok {
					return
				}
				if upd.Message == nil || upd.Message.Chat == nil ||
					upd.Message.Chat.ID != t.chatID || !upd.Message.IsCommand() {
					continue
				}
				cmd, found := cmds[upd.Message.Command()]
				if !found {
					t.Sendf("неизвестная команда /%s", upd.Message.Command())
					continue
				}
				go func() { t.Send(cmd(ctx)) }()
			}
		}
	}()
}

// Log пишет уведомления в лог, когда Telegram не настроен.
type Log struct {
	log *zap.Logger
}

func NewLog(log *zap.Logger) *Log { return &Log{log: log} }

func (l *Log) Send(msg string)                  { l.log.Info("notify", zap.String("msg", msg)) }
func (l *Log) Sendf(format string, args ...any) { l.Send(fmt.Sprintf(format, args...)) }

// Nop глушилка для тестов и бэктеста.
type Nop struct{}

func (Nop) Send(string)          {}
func (Nop) Sendf(string, ...any) {}

func PositionOpened(p models.Position) string {
	return fmt.Sprintf("🟢 %s %s #%d qty=%.8g @ %.8g",
		p.Symbol, strings.ToUpper(string(p.Side)), p.ID, p.Quantity, p.EntryPrice)
}

func PositionClosed(t models.Trade) string {
	var profit float64
	if t.Profit != nil {
		profit = *t.Profit
	}
	emoji := "✅"
	if profit < 0 {
		emoji = "🔻"
	}
	return fmt.Sprintf("%s %s %s #%d closed @ %.8g profit=%.4f fee=%.4f %s",
		emoji, t.Symbol, strings.ToUpper(string(t.Side)), t.PositionID, t.Price, profit, t.Fee, t.FeeCurrency)
}

// OpenPositions сводка открытых позиций для /positions.
func OpenPositions(positions []models.Position) string {
	if len(positions) == 0 {
		return "📭 Открытых позиций нет"
	}
	var b strings.Builder
	b.WriteString("📊 Открытые позиции:\n")
	for _, p := range positions {
		fmt.Fprintf(&b, "- %s [%s] #%d qty=%.8g @ %.8g\n",
			p.Symbol, strings.ToUpper(string(p.Side)), p.ID, p.Quantity, p.EntryPrice)
	}
	return b.String()
}

func Unrecorded(symbol, orderID string, err error) string {
	return fmt.Sprintf("❗️ %s: ордер %s исполнен, но не записан в журнал: %v", symbol, orderID, err)
}
