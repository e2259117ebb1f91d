package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"

	"github.com/digitalshopbot/shopbot/internal/domain"
	"github.com/digitalshopbot/shopbot/internal/logging"
	"github.com/digitalshopbot/shopbot/internal/service/account"
)

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	log := logging.FromContext(ctx)

	refCode := ""
	if msg.IsCommand() && msg.Command() == "start" {
		refCode = strings.TrimSpace(msg.CommandArguments())
	}

	res, err := b.accounts.GetOrCreate(ctx, account.Identity{
		TelegramID: msg.From.ID,
		Username:   msg.From.UserName,
		FirstName:  msg.From.FirstName,
	}, refCode)
	if err != nil {
		log.Error("account resolution failed", "telegram_id", msg.From.ID, "error", err)
		b.reply(msg.Chat.ID, "Что-то пошло не так, попробуйте позже.")
		return
	}

	acct := res.Account
	if acct.IsBanned {
		b.reply(msg.Chat.ID, "Доступ ограничен.")
		return
	}

	if res.Created && res.Referrer != nil {
		if err := b.SendText(res.Referrer.TelegramID, fmt.Sprintf(
			"По вашей ссылке зарегистрировался новый пользователь! Бонус %s ₽ зачислен на баланс.",
			b.rewards.SignupBonus.StringFixed(2))); err != nil {
			log.Warn("referrer signup notice failed", "referrer_id", res.Referrer.ID, "error", err)
		}
	}

	if msg.IsCommand() {
		b.state.Clear(msg.Chat.ID)
		b.handleCommand(ctx, msg, acct, res.Created)
		return
	}

	if step, data, ok := b.state.Get(msg.Chat.ID); ok {
		b.handleStep(ctx, msg, acct, step, data)
		return
	}

	b.sendMenu(msg.Chat.ID, "Выберите раздел:")
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message, acct *domain.Account, created bool) {
	switch msg.Command() {
	case "start":
		text := fmt.Sprintf("Привет, %s! Это магазин цифровых товаров.", acct.FirstName)
		if created {
			text = fmt.Sprintf(
				"Добро пожаловать, %s!\nНа ваш баланс зачислен приветственный бонус %s ₽.",
				acct.FirstName, b.rewards.WelcomeBonus.StringFixed(2))
		}
		b.sendMenu(msg.Chat.ID, text)
	case "menu":
		b.sendMenu(msg.Chat.ID, "Выберите раздел:")
	case "help":
		b.reply(msg.Chat.ID,
			"/start — главное меню\n/menu — разделы магазина\n/help — эта справка\n\nПокупки, баланс и рефералы доступны через меню.")
	case "admin":
		b.handleAdminStats(ctx, msg, acct)
	case "credit":
		b.handleAdminCredit(ctx, msg)
	default:
		b.reply(msg.Chat.ID, "Неизвестная команда, /help для справки.")
	}
}

func (b *Bot) handleAdminStats(ctx context.Context, msg *tgbotapi.Message, acct *domain.Account) {
	if !b.cfg.IsAdmin(acct.TelegramID) {
		b.reply(msg.Chat.ID, "Неизвестная команда, /help для справки.")
		return
	}

	stats, err := b.stats.Snapshot(ctx)
	if err != nil {
		logging.FromContext(ctx).Error("stats snapshot failed", "error", err)
		b.reply(msg.Chat.ID, "Не удалось получить статистику.")
		return
	}

	b.reply(msg.Chat.ID, fmt.Sprintf(
		"📊 Статистика магазина\n\nПользователей: %d\nТоваров: %d\nЗаказов: %d (сегодня %d)\nВыручка: %s ₽ (сегодня %s ₽)",
		stats.TotalAccounts, stats.TotalProducts,
		stats.TotalOrders, stats.OrdersToday,
		stats.Revenue.StringFixed(2), stats.RevenueToday.StringFixed(2),
	))
}

// handleAdminCredit manually credits a user's balance after an
// operator-confirmed payment: /credit <telegram_id> <amount>.
func (b *Bot) handleAdminCredit(ctx context.Context, msg *tgbotapi.Message) {
	if !b.cfg.IsAdmin(msg.From.ID) {
		b.reply(msg.Chat.ID, "Неизвестная команда, /help для справки.")
		return
	}

	parts := strings.Fields(msg.CommandArguments())
	if len(parts) != 2 {
		b.reply(msg.Chat.ID, "Формат: /credit <telegram_id> <сумма>")
		return
	}
	telegramID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		b.reply(msg.Chat.ID, "Формат: /credit <telegram_id> <сумма>")
		return
	}
	amount, err := decimal.NewFromString(parts[1])
	if err != nil || amount.Sign() <= 0 {
		b.reply(msg.Chat.ID, "Сумма должна быть положительным числом.")
		return
	}

	target, err := b.accounts.GetByTelegramID(ctx, telegramID)
	if err != nil {
		b.reply(msg.Chat.ID, "Пользователь не найден.")
		return
	}
	if _, err := b.ledger.Deposit(ctx, target.ID, amount, fmt.Sprintf("manual:%d", msg.From.ID)); err != nil {
		logging.FromContext(ctx).Error("manual credit failed", "target", target.ID, "error", err)
		b.reply(msg.Chat.ID, "Не удалось зачислить средства.")
		return
	}

	b.reply(msg.Chat.ID, fmt.Sprintf("Зачислено %s ₽ пользователю %d.", amount.StringFixed(2), telegramID))
	if err := b.SendText(telegramID, fmt.Sprintf("Баланс пополнен на %s ₽.", amount.StringFixed(2))); err != nil {
		logging.FromContext(ctx).Warn("deposit notice failed", "telegram_id", telegramID, "error", err)
	}
}

func (b *Bot) handleStep(ctx context.Context, msg *tgbotapi.Message, acct *domain.Account, step Step, _ map[string]string) {
	switch step {
	case StepSupportMessage:
		b.stepSupportMessage(ctx, msg, acct)
	case StepWithdrawAmount:
		b.stepWithdrawAmount(ctx, msg, acct)
	case StepDepositAmount:
		b.stepDepositAmount(ctx, msg)
	default:
		b.state.Clear(msg.Chat.ID)
		b.sendMenu(msg.Chat.ID, "Выберите раздел:")
	}
}

func (b *Bot) stepSupportMessage(ctx context.Context, msg *tgbotapi.Message, acct *domain.Account) {
	ticket, err := b.support.Open(ctx, acct.ID, "", msg.Text)
	if err != nil {
		if errors.Is(err, domain.ErrTicketMessageTooShort) {
			b.reply(msg.Chat.ID, "Опишите проблему подробнее (минимум 10 символов).")
			return
		}
		logging.FromContext(ctx).Error("ticket open failed", "account_id", acct.ID, "error", err)
		b.reply(msg.Chat.ID, "Не удалось создать обращение, попробуйте позже.")
		return
	}

	b.state.Clear(msg.Chat.ID)
	b.reply(msg.Chat.ID, fmt.Sprintf("Обращение #%s создано, поддержка ответит в этом чате.", ticket.TicketRef))
}

func (b *Bot) stepWithdrawAmount(ctx context.Context, msg *tgbotapi.Message, acct *domain.Account) {
	amount, err := decimal.NewFromString(strings.ReplaceAll(msg.Text, ",", "."))
	if err != nil || amount.Sign() <= 0 {
		b.reply(msg.Chat.ID, "Введите сумму числом, например 500.")
		return
	}

	_, err = b.ledger.Withdraw(ctx, acct.ID, amount)
	switch {
	case errors.Is(err, domain.ErrWithdrawBelowMinimum):
		b.reply(msg.Chat.ID, fmt.Sprintf("Минимальная сумма вывода — %s ₽.", b.rewards.MinWithdraw.StringFixed(2)))
		return
	case errors.Is(err, domain.ErrInsufficientFunds):
		b.reply(msg.Chat.ID, "Недостаточно средств на балансе.")
		return
	case err != nil:
		logging.FromContext(ctx).Error("withdraw failed", "account_id", acct.ID, "error", err)
		b.reply(msg.Chat.ID, "Не удалось создать заявку, попробуйте позже.")
		return
	}

	b.state.Clear(msg.Chat.ID)
	b.reply(msg.Chat.ID, fmt.Sprintf("Заявка на вывод %s ₽ принята. Средства поступят в течение 24 часов.", amount.StringFixed(2)))
}

func (b *Bot) stepDepositAmount(ctx context.Context, msg *tgbotapi.Message) {
	amount, err := decimal.NewFromString(strings.ReplaceAll(msg.Text, ",", "."))
	if err != nil || amount.Sign() <= 0 {
		b.reply(msg.Chat.ID, "Введите сумму числом, например 1000.")
		return
	}

	b.state.Clear(msg.Chat.ID)
	link := fmt.Sprintf("%s?telegram_id=%d&amount=%s", b.cfg.PaymentPageURL, msg.From.ID, amount.StringFixed(2))
	b.sendPaymentLink(ctx, msg.Chat.ID, link,
		fmt.Sprintf("Пополнение на %s ₽.\nОплатите по ссылке, баланс обновится после подтверждения:\n%s", amount.StringFixed(2), link))
}

func (b *Bot) reply(chatID int64, text string) {
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		slog.Warn("send failed", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) sendMenu(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = mainMenuKeyboard()
	if _, err := b.api.Send(msg); err != nil {
		slog.Warn("send failed", "chat_id", chatID, "error", err)
	}
}
