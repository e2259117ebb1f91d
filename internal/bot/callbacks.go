package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"

	"github.com/digitalshopbot/shopbot/internal/domain"
	"github.com/digitalshopbot/shopbot/internal/logging"
	"github.com/digitalshopbot/shopbot/internal/service/account"
	"github.com/digitalshopbot/shopbot/internal/service/settlement"
)

func (b *Bot) handleCallback(ctx context.Context, query *tgbotapi.CallbackQuery) {
	log := logging.FromContext(ctx)

	if _, err := b.api.Request(tgbotapi.NewCallback(query.ID, "")); err != nil {
		log.Warn("callback ack failed", "error", err)
	}
	if query.Message == nil {
		return
	}
	chatID := query.Message.Chat.ID

	res, err := b.accounts.GetOrCreate(ctx, account.Identity{
		TelegramID: query.From.ID,
		Username:   query.From.UserName,
		FirstName:  query.From.FirstName,
	}, "")
	if err != nil {
		log.Error("account resolution failed", "telegram_id", query.From.ID, "error", err)
		b.reply(chatID, "Что-то пошло не так, попробуйте позже.")
		return
	}
	acct := res.Account
	if acct.IsBanned {
		b.reply(chatID, "Доступ ограничен.")
		return
	}

	data := query.Data
	switch {
	case data == cbMenu:
		b.state.Clear(chatID)
		b.sendMenu(chatID, "Выберите раздел:")
	case data == cbCatalog:
		b.showCatalog(ctx, chatID)
	case strings.HasPrefix(data, cbCategory):
		b.showCategory(ctx, chatID, strings.TrimPrefix(data, cbCategory))
	case strings.HasPrefix(data, cbProduct):
		b.showProduct(ctx, chatID, strings.TrimPrefix(data, cbProduct))
	case strings.HasPrefix(data, cbBuyBalance):
		b.buyWithBalance(ctx, chatID, acct, strings.TrimPrefix(data, cbBuyBalance))
	case strings.HasPrefix(data, cbBuyCard):
		b.buyExternal(ctx, chatID, acct, strings.TrimPrefix(data, cbBuyCard), domain.PaymentMethodCard)
	case strings.HasPrefix(data, cbBuyCrypto):
		b.buyExternal(ctx, chatID, acct, strings.TrimPrefix(data, cbBuyCrypto), domain.PaymentMethodCrypto)
	case data == cbProfile:
		b.showProfile(ctx, chatID, acct)
	case data == cbOrders:
		b.showOrders(ctx, chatID, acct)
	case data == cbReferral:
		b.showReferral(ctx, chatID, acct)
	case data == cbNotifications:
		b.showNotifications(ctx, chatID, acct)
	case data == cbSupport:
		b.state.Set(chatID, StepSupportMessage, nil)
		b.reply(chatID, "Опишите вашу проблему одним сообщением (минимум 10 символов):")
	case data == cbWithdraw:
		b.state.Set(chatID, StepWithdrawAmount, nil)
		b.reply(chatID, fmt.Sprintf("Введите сумму вывода (минимум %s ₽):", b.rewards.MinWithdraw.StringFixed(2)))
	case data == cbDeposit:
		b.state.Set(chatID, StepDepositAmount, nil)
		b.reply(chatID, "Введите сумму пополнения:")
	default:
		log.Warn("unknown callback", "data", data)
	}
}

func (b *Bot) showCatalog(ctx context.Context, chatID int64) {
	categories, err := b.products.ListCategories(ctx)
	if err != nil {
		logging.FromContext(ctx).Error("catalog listing failed", "error", err)
		b.reply(chatID, "Каталог временно недоступен.")
		return
	}
	if len(categories) == 0 {
		b.reply(chatID, "Каталог пока пуст.")
		return
	}

	msg := tgbotapi.NewMessage(chatID, "🛒 Категории товаров:")
	msg.ReplyMarkup = categoriesKeyboard(categories)
	b.send(msg)
}

func (b *Bot) showCategory(ctx context.Context, chatID int64, category string) {
	products, err := b.products.ListActiveByCategory(ctx, category, catalogPageSize)
	if err != nil {
		logging.FromContext(ctx).Error("category listing failed", "category", category, "error", err)
		b.reply(chatID, "Не удалось загрузить товары.")
		return
	}
	if len(products) == 0 {
		b.reply(chatID, "В этой категории пока нет товаров.")
		return
	}

	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("Товары в категории «%s»:", category))
	msg.ReplyMarkup = productsKeyboard(products)
	b.send(msg)
}

func (b *Bot) showProduct(ctx context.Context, chatID int64, rawID string) {
	product, ok := b.loadProduct(ctx, chatID, rawID)
	if !ok {
		return
	}

	stock := "в наличии"
	switch {
	case product.Stock == domain.StockUnlimited:
	case product.Stock == 0:
		stock = "нет в наличии"
	default:
		stock = fmt.Sprintf("осталось %d шт.", product.Stock)
	}

	text := fmt.Sprintf("📦 %s\n\n%s\n\nЦена: %s ₽\nНаличие: %s",
		product.Name, product.Description, product.Price.StringFixed(2), stock)
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = productKeyboard(product.ID.String())
	b.send(msg)
}

func (b *Bot) buyWithBalance(ctx context.Context, chatID int64, acct *domain.Account, rawID string) {
	product, ok := b.loadProduct(ctx, chatID, rawID)
	if !ok {
		return
	}

	_, err := b.settlement.Settle(ctx, settlement.SettleRequest{
		AccountID: acct.ID,
		ProductID: product.ID,
		Quantity:  1,
	})
	switch {
	case errors.Is(err, domain.ErrInsufficientFunds):
		b.reply(chatID, fmt.Sprintf(
			"Недостаточно средств: нужно %s ₽, на балансе %s ₽. Пополните баланс в профиле.",
			product.Price.StringFixed(2), acct.Balance.StringFixed(2)))
	case errors.Is(err, domain.ErrProductUnavailable):
		b.reply(chatID, "Товар закончился или снят с продажи.")
	case errors.Is(err, domain.ErrDeliveryFailed):
		b.reply(chatID, "Оплата прошла, товар будет выдан в ближайшее время.")
	case err != nil:
		logging.FromContext(ctx).Error("balance purchase failed", "account_id", acct.ID, "product_id", product.ID, "error", err)
		b.reply(chatID, "Не удалось оформить заказ, попробуйте позже.")
	}
	// Success is reported through the delivery notification.
}

func (b *Bot) buyExternal(ctx context.Context, chatID int64, acct *domain.Account, rawID string, method domain.PaymentMethod) {
	product, ok := b.loadProduct(ctx, chatID, rawID)
	if !ok {
		return
	}

	order, err := b.settlement.CreateOrder(ctx, settlement.SettleRequest{
		AccountID:     acct.ID,
		ProductID:     product.ID,
		Quantity:      1,
		PaymentMethod: method,
	})
	if err != nil {
		if errors.Is(err, domain.ErrProductUnavailable) {
			b.reply(chatID, "Товар закончился или снят с продажи.")
			return
		}
		logging.FromContext(ctx).Error("order creation failed", "account_id", acct.ID, "product_id", product.ID, "error", err)
		b.reply(chatID, "Не удалось оформить заказ, попробуйте позже.")
		return
	}

	link := fmt.Sprintf("%s?order_id=%s&amount=%s", b.cfg.PaymentPageURL, order.ID, order.TotalAmount.StringFixed(2))
	b.sendPaymentLink(ctx, chatID, link, fmt.Sprintf(
		"Заказ №%s на %s ₽ создан.\nОплатите в течение %d часов, товар придёт автоматически после оплаты:\n%s",
		order.ID.String()[:8], order.TotalAmount.StringFixed(2), b.cfg.PendingOrderTTLHours, link))
}

// sendPaymentLink sends the payment URL together with a QR code image.
// Falls back to plain text when QR generation fails.
func (b *Bot) sendPaymentLink(ctx context.Context, chatID int64, link, caption string) {
	png, err := qrcode.Encode(link, qrcode.Medium, 256)
	if err != nil {
		logging.FromContext(ctx).Warn("qr generation failed", "error", err)
		b.reply(chatID, caption)
		return
	}

	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: "payment.png", Bytes: png})
	photo.Caption = caption
	if _, err := b.api.Send(photo); err != nil {
		logging.FromContext(ctx).Warn("payment qr send failed", "chat_id", chatID, "error", err)
		b.reply(chatID, caption)
	}
}

var txTypeLabels = map[domain.TxType]string{
	domain.TxTypeDeposit:  "пополнение",
	domain.TxTypeWithdraw: "вывод",
	domain.TxTypePurchase: "покупка",
	domain.TxTypeRefund:   "возврат",
	domain.TxTypeReferral: "реферальный бонус",
	domain.TxTypeBonus:    "бонус",
}

func (b *Bot) showProfile(ctx context.Context, chatID int64, acct *domain.Account) {
	var sb strings.Builder
	fmt.Fprintf(&sb,
		"👤 Профиль\n\nБаланс: %s ₽\nПотрачено всего: %s ₽\nЗаработано на рефералах: %s ₽\nЗаказов: %d",
		acct.Balance.StringFixed(2), acct.TotalSpent.StringFixed(2),
		acct.TotalEarned.StringFixed(2), acct.OrdersCount)

	history, err := b.transactions.ListByAccount(ctx, acct.ID, 5)
	if err != nil {
		logging.FromContext(ctx).Warn("transaction history failed", "account_id", acct.ID, "error", err)
	} else if len(history) > 0 {
		sb.WriteString("\n\nПоследние операции:")
		for _, tx := range history {
			fmt.Fprintf(&sb, "\n%s: %s ₽ (%s)",
				tx.CreatedAt.Format("02.01"), tx.Amount.StringFixed(2), txTypeLabels[tx.Type])
		}
	}

	msg := tgbotapi.NewMessage(chatID, sb.String())
	msg.ReplyMarkup = profileKeyboard()
	b.send(msg)
}

var orderStatusLabels = map[domain.OrderStatus]string{
	domain.OrderStatusPending:   "⏳ ожидает оплаты",
	domain.OrderStatusPaid:      "💳 оплачен",
	domain.OrderStatusDelivered: "✅ доставлен",
	domain.OrderStatusCancelled: "✖️ отменён",
	domain.OrderStatusRefunded:  "↩️ возврат",
}

func (b *Bot) showOrders(ctx context.Context, chatID int64, acct *domain.Account) {
	orders, err := b.orders.ListByAccount(ctx, acct.ID, 10)
	if err != nil {
		logging.FromContext(ctx).Error("orders listing failed", "account_id", acct.ID, "error", err)
		b.reply(chatID, "Не удалось загрузить заказы.")
		return
	}
	if len(orders) == 0 {
		b.reply(chatID, "У вас пока нет заказов.")
		return
	}

	var sb strings.Builder
	sb.WriteString("📦 Последние заказы:\n")
	for _, o := range orders {
		fmt.Fprintf(&sb, "\n№%s — %s ₽, %s, %s",
			o.ID.String()[:8], o.TotalAmount.StringFixed(2),
			orderStatusLabels[o.Status], o.CreatedAt.Format("02.01.2006"))
	}
	msg := tgbotapi.NewMessage(chatID, sb.String())
	msg.ReplyMarkup = backKeyboard()
	b.send(msg)
}

func (b *Bot) showReferral(ctx context.Context, chatID int64, acct *domain.Account) {
	counts, err := b.referrals.CountByLevel(ctx, acct.ID)
	if err != nil {
		logging.FromContext(ctx).Error("referral counts failed", "account_id", acct.ID, "error", err)
		b.reply(chatID, "Не удалось загрузить реферальную статистику.")
		return
	}

	link := fmt.Sprintf("https://t.me/%s?start=%s", b.api.Self.UserName, acct.ReferralCode)
	var sb strings.Builder
	fmt.Fprintf(&sb, "🤝 Реферальная программа\n\nВаша ссылка:\n%s\n\n", link)
	fmt.Fprintf(&sb, "За регистрацию по вашей ссылке: %s ₽\n", b.rewards.SignupBonus.StringFixed(2))
	sb.WriteString("Процент с покупок рефералов:\n")
	for level := 1; level <= b.rewards.ReferralLevels; level++ {
		fmt.Fprintf(&sb, "  уровень %d — %d%% (приглашено: %d)\n",
			level, b.rewards.LevelPercent(level), counts[level])
	}
	fmt.Fprintf(&sb, "\nЗаработано всего: %s ₽", acct.TotalEarned.StringFixed(2))

	msg := tgbotapi.NewMessage(chatID, sb.String())
	msg.ReplyMarkup = backKeyboard()
	b.send(msg)
}

func (b *Bot) showNotifications(ctx context.Context, chatID int64, acct *domain.Account) {
	log := logging.FromContext(ctx)

	items, err := b.notifications.ListUnread(ctx, acct.ID, 10)
	if err != nil {
		log.Error("notification listing failed", "account_id", acct.ID, "error", err)
		b.reply(chatID, "Не удалось загрузить уведомления.")
		return
	}
	if len(items) == 0 {
		b.reply(chatID, "Новых уведомлений нет.")
		return
	}

	var sb strings.Builder
	sb.WriteString("🔔 Непрочитанные уведомления:\n")
	for _, n := range items {
		fmt.Fprintf(&sb, "\n• %s\n%s\n", n.Title, n.Body)
	}
	msg := tgbotapi.NewMessage(chatID, sb.String())
	msg.ReplyMarkup = backKeyboard()
	b.send(msg)

	if err := b.notifications.MarkRead(ctx, acct.ID); err != nil {
		log.Warn("mark read failed", "account_id", acct.ID, "error", err)
	}
}

func (b *Bot) loadProduct(ctx context.Context, chatID int64, rawID string) (*domain.Product, bool) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		logging.FromContext(ctx).Warn("bad product id in callback", "raw", rawID)
		b.reply(chatID, "Товар не найден.")
		return nil, false
	}
	product, err := b.products.GetByID(ctx, id)
	if err != nil {
		b.reply(chatID, "Товар не найден.")
		return nil, false
	}
	return product, true
}

func (b *Bot) send(msg tgbotapi.MessageConfig) {
	if _, err := b.api.Send(msg); err != nil {
		slog.Warn("send failed", "chat_id", msg.ChatID, "error", err)
	}
}
