package bot

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digitalshopbot/shopbot/internal/domain"
)

// Callback data prefixes. Telegram caps callback data at 64 bytes, so the
// payload after the prefix is always a short id or name.
const (
	cbMenu          = "menu"
	cbCatalog       = "catalog"
	cbCategory      = "cat:"
	cbProduct       = "prod:"
	cbBuyBalance    = "buy_bal:"
	cbBuyCard       = "buy_card:"
	cbBuyCrypto     = "buy_crypto:"
	cbProfile       = "profile"
	cbOrders        = "orders"
	cbReferral      = "referral"
	cbSupport       = "support"
	cbWithdraw      = "withdraw"
	cbDeposit       = "deposit"
	cbNotifications = "notifications"
)

func mainMenuKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🛒 Каталог", cbCatalog),
			tgbotapi.NewInlineKeyboardButtonData("👤 Профиль", cbProfile),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📦 Мои заказы", cbOrders),
			tgbotapi.NewInlineKeyboardButtonData("🤝 Рефералы", cbReferral),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔔 Уведомления", cbNotifications),
			tgbotapi.NewInlineKeyboardButtonData("💬 Поддержка", cbSupport),
		),
	)
}

func categoriesKeyboard(categories []string) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(categories)+1)
	for _, c := range categories {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(c, cbCategory+c),
		))
	}
	rows = append(rows, backRow())
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func productsKeyboard(products []domain.Product) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(products)+1)
	for _, p := range products {
		label := fmt.Sprintf("%s — %s ₽", p.Name, p.Price.StringFixed(2))
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, cbProduct+p.ID.String()),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("⬅️ Категории", cbCatalog),
	))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func productKeyboard(productID string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("💰 Оплатить балансом", cbBuyBalance+productID),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("💳 Карта", cbBuyCard+productID),
			tgbotapi.NewInlineKeyboardButtonData("🪙 Крипта", cbBuyCrypto+productID),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⬅️ Каталог", cbCatalog),
		),
	)
}

func profileKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("➕ Пополнить", cbDeposit),
			tgbotapi.NewInlineKeyboardButtonData("➖ Вывести", cbWithdraw),
		),
		backRow(),
	)
}

func backKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(backRow())
}

func backRow() []tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("⬅️ Меню", cbMenu),
	)
}
