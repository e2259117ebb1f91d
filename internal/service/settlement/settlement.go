// Package settlement moves an order from pending to paid to delivered.
// Money, stock and referral payouts commit in one database transaction;
// delivery and notifications happen after the commit, so a crashed send
// never loses money movement.
package settlement

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/digitalshopbot/shopbot/internal/domain"
	"github.com/digitalshopbot/shopbot/internal/logging"
	"github.com/digitalshopbot/shopbot/internal/repository"
	"github.com/digitalshopbot/shopbot/internal/service/ledger"
	"github.com/digitalshopbot/shopbot/internal/service/referral"
)

type accountRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Account, error)
	IncrementOrders(ctx context.Context, tx *sql.Tx, id uuid.UUID) error
}

type productRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Product, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Product, error)
	ApplySale(ctx context.Context, tx *sql.Tx, id uuid.UUID, quantity int, amount decimal.Decimal) error
	RestockAfterRefund(ctx context.Context, tx *sql.Tx, id uuid.UUID, quantity int, amount decimal.Decimal) error
}

type orderRepo interface {
	Create(ctx context.Context, tx *sql.Tx, o *domain.Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Order, error)
	MarkPaid(ctx context.Context, tx *sql.Tx, id uuid.UUID, paidAt time.Time) error
	ClaimProviderPayment(ctx context.Context, tx *sql.Tx, id uuid.UUID, providerPaymentID string) error
	MarkDelivered(ctx context.Context, id uuid.UUID, payload json.RawMessage, deliveredAt time.Time) error
	SavePayload(ctx context.Context, id uuid.UUID, payload json.RawMessage) error
	UpdateStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, status domain.OrderStatus) error
}

type dispatcher interface {
	Generate(ctx context.Context, product *domain.Product, quantity int) (map[string]any, error)
}

type notifier interface {
	Notify(ctx context.Context, accountID uuid.UUID, kind domain.NotificationKind, title, body string)
}

type Service struct {
	db        *sql.DB
	accounts  accountRepo
	products  productRepo
	orders    orderRepo
	ledger    *ledger.Service
	referrals *referral.Service
	delivery  dispatcher
	notify    notifier
}

func NewService(
	db *sql.DB,
	accounts accountRepo,
	products productRepo,
	orders orderRepo,
	ledgerSvc *ledger.Service,
	referrals *referral.Service,
	delivery dispatcher,
	notify notifier,
) *Service {
	return &Service{
		db:        db,
		accounts:  accounts,
		products:  products,
		orders:    orders,
		ledger:    ledgerSvc,
		referrals: referrals,
		delivery:  delivery,
		notify:    notify,
	}
}

type SettleRequest struct {
	AccountID     uuid.UUID
	ProductID     uuid.UUID
	Quantity      int
	PaymentMethod domain.PaymentMethod
}

// CreateOrder records a pending order with the price frozen at order time.
// Used for external payment methods, where the order waits for the provider
// confirmation.
func (s *Service) CreateOrder(ctx context.Context, req SettleRequest) (*domain.Order, error) {
	order, product, err := s.buildOrder(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("CreateOrder: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("CreateOrder: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := s.orders.Create(ctx, tx, order); err != nil {
		return nil, fmt.Errorf("CreateOrder: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("CreateOrder: commit: %w", err)
	}

	logging.FromContext(ctx).Info("order created",
		"order_id", order.ID,
		"account_id", order.AccountID,
		"product", product.Name,
		"total", order.TotalAmount,
		"method", order.PaymentMethod,
	)
	return order, nil
}

// Settle creates an order paid from the internal balance and settles it in
// one shot: debit, stock, paid status and referral payouts commit together.
// Insufficient funds rolls back everything, including the order row.
func (s *Service) Settle(ctx context.Context, req SettleRequest) (*domain.Order, error) {
	log := logging.FromContext(ctx)

	req.PaymentMethod = domain.PaymentMethodBalance
	order, _, err := s.buildOrder(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Settle: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("Settle: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := s.orders.Create(ctx, tx, order); err != nil {
		return nil, fmt.Errorf("Settle: %w", err)
	}

	payouts, err := s.settleLocked(ctx, tx, order, true)
	if err != nil {
		return nil, fmt.Errorf("Settle: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("Settle: commit: %w", err)
	}

	order.Status = domain.OrderStatusPaid
	log.Info("order settled from balance",
		"order_id", order.ID,
		"account_id", order.AccountID,
		"total", order.TotalAmount,
		"referral_payouts", len(payouts),
	)

	if err := s.deliverAndNotify(ctx, order, payouts); err != nil {
		return order, fmt.Errorf("Settle: %w", domain.ErrDeliveryFailed)
	}
	return order, nil
}

// ConfirmExternalPayment settles a pending order after a payment provider
// confirmation. Safe under at-least-once delivery: the first confirmation
// wins via the provider_payment_id claim, every retry gets
// ErrDuplicateConfirmation and no second settlement.
func (s *Service) ConfirmExternalPayment(ctx context.Context, orderID uuid.UUID, providerPaymentID string) (*domain.Order, error) {
	log := logging.FromContext(ctx)

	current, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("ConfirmExternalPayment: %w", err)
	}
	if current.Settled() {
		return current, fmt.Errorf("ConfirmExternalPayment: %w", domain.ErrDuplicateConfirmation)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("ConfirmExternalPayment: begin tx: %w", err)
	}
	defer tx.Rollback()

	order, err := s.orders.GetForUpdate(ctx, tx, orderID)
	if err != nil {
		return nil, fmt.Errorf("ConfirmExternalPayment: %w", err)
	}
	if order.Settled() {
		return order, fmt.Errorf("ConfirmExternalPayment: %w", domain.ErrDuplicateConfirmation)
	}
	if order.Status != domain.OrderStatusPending {
		return nil, fmt.Errorf("ConfirmExternalPayment: %w", domain.ErrOrderNotPending)
	}

	if err := s.orders.ClaimProviderPayment(ctx, tx, orderID, providerPaymentID); err != nil {
		if repository.IsUniqueViolation(err) {
			return order, fmt.Errorf("ConfirmExternalPayment: %w", domain.ErrDuplicateConfirmation)
		}
		return nil, fmt.Errorf("ConfirmExternalPayment: %w", err)
	}
	order.ProviderPaymentID = &providerPaymentID

	payouts, err := s.settleLocked(ctx, tx, order, false)
	if err != nil {
		return nil, fmt.Errorf("ConfirmExternalPayment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("ConfirmExternalPayment: commit: %w", err)
	}

	order.Status = domain.OrderStatusPaid
	log.Info("external payment settled",
		"order_id", order.ID,
		"provider_payment_id", providerPaymentID,
		"referral_payouts", len(payouts),
	)

	if err := s.deliverAndNotify(ctx, order, payouts); err != nil {
		return order, fmt.Errorf("ConfirmExternalPayment: %w", domain.ErrDeliveryFailed)
	}
	return order, nil
}

// Cancel moves a pending order to cancelled. No money has moved yet, so
// nothing to reverse.
func (s *Service) Cancel(ctx context.Context, orderID uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("Cancel: begin tx: %w", err)
	}
	defer tx.Rollback()

	order, err := s.orders.GetForUpdate(ctx, tx, orderID)
	if err != nil {
		return fmt.Errorf("Cancel: %w", err)
	}
	if order.Status != domain.OrderStatusPending {
		return fmt.Errorf("Cancel: %w", domain.ErrOrderNotPending)
	}

	if err := s.orders.UpdateStatus(ctx, tx, orderID, domain.OrderStatusCancelled); err != nil {
		return fmt.Errorf("Cancel: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("Cancel: commit: %w", err)
	}

	logging.FromContext(ctx).Info("order cancelled", "order_id", orderID)
	return nil
}

// Refund reverses a paid or delivered order: credits the buyer with a
// refund transaction and puts counted stock back. Referral bonuses already
// paid out stay with the referrers.
func (s *Service) Refund(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	log := logging.FromContext(ctx)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("Refund: begin tx: %w", err)
	}
	defer tx.Rollback()

	order, err := s.orders.GetForUpdate(ctx, tx, orderID)
	if err != nil {
		return nil, fmt.Errorf("Refund: %w", err)
	}
	if order.Status != domain.OrderStatusPaid && order.Status != domain.OrderStatusDelivered {
		return nil, fmt.Errorf("Refund: %w", domain.ErrOrderNotRefundable)
	}

	// Accounts before product, same order as a settlement, so a concurrent
	// purchase of the same product cannot deadlock against the refund.
	if _, err := s.accounts.GetForUpdate(ctx, tx, order.AccountID); err != nil {
		return nil, fmt.Errorf("Refund: %w", err)
	}
	if _, err := s.products.GetForUpdate(ctx, tx, order.ProductID); err != nil {
		return nil, fmt.Errorf("Refund: %w", err)
	}

	meta, _ := json.Marshal(map[string]any{"order_id": order.ID.String()})
	_, err = s.ledger.Credit(ctx, tx, order.AccountID, order.TotalAmount,
		domain.TxTypeRefund, fmt.Sprintf("Возврат средств за заказ #%s", shortID(order.ID)), meta)
	if err != nil {
		return nil, fmt.Errorf("Refund: %w", err)
	}

	if err := s.products.RestockAfterRefund(ctx, tx, order.ProductID, order.Quantity, order.TotalAmount); err != nil {
		return nil, fmt.Errorf("Refund: %w", err)
	}
	if err := s.orders.UpdateStatus(ctx, tx, orderID, domain.OrderStatusRefunded); err != nil {
		return nil, fmt.Errorf("Refund: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("Refund: commit: %w", err)
	}

	order.Status = domain.OrderStatusRefunded
	log.Info("order refunded", "order_id", orderID, "amount", order.TotalAmount)

	s.notify.Notify(ctx, order.AccountID, domain.NotificationKindPayment,
		"Возврат средств",
		fmt.Sprintf("Заказ #%s возвращён, %s ₽ зачислены на баланс.", shortID(order.ID), order.TotalAmount.StringFixed(2)))
	return order, nil
}

// buildOrder validates the buyer and product and prices the order. The
// stock check here is advisory; the binding one runs under the product's
// row lock inside settleLocked.
func (s *Service) buildOrder(ctx context.Context, req SettleRequest) (*domain.Order, *domain.Product, error) {
	if req.Quantity < 1 {
		return nil, nil, fmt.Errorf("buildOrder: %w", domain.ErrInvalidQuantity)
	}

	buyer, err := s.accounts.GetByID(ctx, req.AccountID)
	if err != nil {
		return nil, nil, fmt.Errorf("buildOrder: %w", err)
	}
	if buyer.IsBanned {
		return nil, nil, fmt.Errorf("buildOrder: %w", domain.ErrAccountBanned)
	}

	product, err := s.products.GetByID(ctx, req.ProductID)
	if err != nil {
		return nil, nil, fmt.Errorf("buildOrder: %w", err)
	}
	if !product.Available() || (product.Stock != domain.StockUnlimited && product.Stock < req.Quantity) {
		return nil, nil, fmt.Errorf("buildOrder: %w", domain.ErrProductUnavailable)
	}

	order := &domain.Order{
		ID:            uuid.New(),
		AccountID:     req.AccountID,
		ProductID:     req.ProductID,
		Quantity:      req.Quantity,
		TotalAmount:   product.Price.Mul(decimal.NewFromInt(int64(req.Quantity))),
		Status:        domain.OrderStatusPending,
		PaymentMethod: req.PaymentMethod,
		CreatedAt:     time.Now().UTC(),
	}
	return order, product, nil
}

// settleLocked performs the money-and-stock half of a settlement inside the
// caller's transaction. fromBalance selects whether the total is debited
// from the buyer's balance; an externally paid order instead records a
// deposit plus a purchase, so the ledger still sums to the balance.
func (s *Service) settleLocked(ctx context.Context, tx *sql.Tx, order *domain.Order, fromBalance bool) ([]referral.Payout, error) {
	if err := s.lockSettlementAccounts(ctx, tx, order.AccountID); err != nil {
		return nil, fmt.Errorf("settleLocked: %w", err)
	}

	product, err := s.products.GetForUpdate(ctx, tx, order.ProductID)
	if err != nil {
		return nil, fmt.Errorf("settleLocked: %w", err)
	}
	if !product.Available() || (product.Stock != domain.StockUnlimited && product.Stock < order.Quantity) {
		return nil, fmt.Errorf("settleLocked: %w", domain.ErrProductUnavailable)
	}

	meta, _ := json.Marshal(map[string]any{
		"order_id":   order.ID.String(),
		"product_id": order.ProductID.String(),
		"quantity":   order.Quantity,
	})
	description := fmt.Sprintf("Покупка: %s", product.Name)

	if !fromBalance {
		depositMeta, _ := json.Marshal(map[string]any{
			"order_id":            order.ID.String(),
			"provider_payment_id": order.ProviderPaymentID,
		})
		_, err = s.ledger.Credit(ctx, tx, order.AccountID, order.TotalAmount,
			domain.TxTypeDeposit, "Оплата заказа через платёжную систему", depositMeta)
		if err != nil {
			return nil, fmt.Errorf("settleLocked: deposit leg: %w", err)
		}
	}
	if _, err := s.ledger.Debit(ctx, tx, order.AccountID, order.TotalAmount, description, meta); err != nil {
		return nil, fmt.Errorf("settleLocked: %w", err)
	}

	if err := s.products.ApplySale(ctx, tx, order.ProductID, order.Quantity, order.TotalAmount); err != nil {
		return nil, fmt.Errorf("settleLocked: %w", err)
	}

	now := time.Now().UTC()
	if err := s.orders.MarkPaid(ctx, tx, order.ID, now); err != nil {
		return nil, fmt.Errorf("settleLocked: %w", err)
	}
	order.PaidAt = &now

	if err := s.accounts.IncrementOrders(ctx, tx, order.AccountID); err != nil {
		return nil, fmt.Errorf("settleLocked: %w", err)
	}

	var payouts []referral.Payout
	if !order.ReferralBonusPaid {
		payouts, err = s.referrals.PayoutChain(ctx, tx, order)
		if err != nil {
			return nil, fmt.Errorf("settleLocked: %w", err)
		}
	}
	return payouts, nil
}

// lockSettlementAccounts takes FOR UPDATE locks on the buyer and every
// upline referrer in UUID order, so concurrent settlements touching the
// same accounts cannot deadlock.
func (s *Service) lockSettlementAccounts(ctx context.Context, tx *sql.Tx, buyerID uuid.UUID) error {
	upline, err := s.referrals.UplineIDs(ctx, buyerID)
	if err != nil {
		return fmt.Errorf("lockSettlementAccounts: %w", err)
	}

	ids := append([]uuid.UUID{buyerID}, upline...)
	sort.Slice(ids, func(i, j int) bool {
		return ids[i].String() < ids[j].String()
	})

	for _, id := range ids {
		if _, err := s.accounts.GetForUpdate(ctx, tx, id); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return fmt.Errorf("lockSettlementAccounts: %w", err)
		}
	}
	return nil
}

// deliverAndNotify runs the post-commit half: generate the payload, persist
// it, flip the order to delivered and fan out notifications. The order is
// already paid; an error here leaves it paid for a later retry. A manual
// product deliberately stays paid until the operator hands it over.
func (s *Service) deliverAndNotify(ctx context.Context, order *domain.Order, payouts []referral.Payout) error {
	log := logging.FromContext(ctx)

	product, err := s.products.GetByID(ctx, order.ProductID)
	if err != nil {
		log.Error("delivery skipped, product lookup failed", "order_id", order.ID, "error", err)
		return fmt.Errorf("deliverAndNotify: %w", err)
	}

	payload, err := s.delivery.Generate(ctx, product, order.Quantity)
	if err != nil {
		log.Error("delivery payload generation failed", "order_id", order.ID, "error", err)
		return fmt.Errorf("deliverAndNotify: %w", err)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Error("delivery payload marshal failed", "order_id", order.ID, "error", err)
		return fmt.Errorf("deliverAndNotify: %w", err)
	}

	if product.Fulfillment == domain.FulfillmentManual {
		if err := s.orders.SavePayload(ctx, order.ID, raw); err != nil {
			log.Error("failed to persist manual delivery marker", "order_id", order.ID, "error", err)
			return fmt.Errorf("deliverAndNotify: %w", err)
		}
		order.DeliveryPayload = raw
		s.notify.Notify(ctx, order.AccountID, domain.NotificationKindOrder,
			"Заказ оплачен",
			fmt.Sprintf("Заказ #%s оплачен. Товар будет выдан вручную в ближайшее время.", shortID(order.ID)))
	} else {
		now := time.Now().UTC()
		if err := s.orders.MarkDelivered(ctx, order.ID, raw, now); err != nil {
			log.Error("failed to mark order delivered", "order_id", order.ID, "error", err)
			return fmt.Errorf("deliverAndNotify: %w", err)
		}
		order.Status = domain.OrderStatusDelivered
		order.DeliveryPayload = raw
		order.DeliveredAt = &now
		body := fmt.Sprintf("Заказ #%s оплачен и доставлен: %s.", shortID(order.ID), product.Name)
		if rendered := renderPayload(payload); rendered != "" {
			body += "\n\n" + rendered
		}
		s.notify.Notify(ctx, order.AccountID, domain.NotificationKindOrder, "Заказ доставлен", body)
	}

	for _, p := range payouts {
		s.notify.Notify(ctx, p.ReferrerID, domain.NotificationKindReferral,
			"Реферальный бонус",
			fmt.Sprintf("Начислено %s ₽ за покупку вашего реферала (уровень %d).",
				p.Amount.StringFixed(2), p.Level))
	}
	return nil
}

// renderPayload turns a delivery payload into the text the buyer receives.
func renderPayload(payload map[string]any) string {
	var b strings.Builder
	switch payload["type"] {
	case "file":
		fmt.Fprintf(&b, "Ссылка на файл: %v", payload["link"])
		if pw, ok := payload["password"]; ok {
			fmt.Fprintf(&b, "\nПароль: %v", pw)
		}
	case "license_key":
		keys, _ := payload["keys"].([]string)
		b.WriteString("Ваши ключи:")
		for _, k := range keys {
			fmt.Fprintf(&b, "\n%s", k)
		}
	case "account":
		creds, _ := payload["credentials"].([]map[string]string)
		b.WriteString("Данные аккаунта:")
		for _, c := range creds {
			fmt.Fprintf(&b, "\nЛогин: %s\nПароль: %s", c["login"], c["password"])
		}
	}
	return b.String()
}

func shortID(id uuid.UUID) string {
	return id.String()[:8]
}
