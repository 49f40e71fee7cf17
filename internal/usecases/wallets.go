package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.openly.dev/pointy"

	"github.com/sand/scrap-pickup/backend/internal/core/ports"
	"github.com/sand/scrap-pickup/backend/internal/entities"
	"github.com/sand/scrap-pickup/backend/internal/observability"
)

// WalletService moves money between wallets and from the payment gateway
// into wallets. Every balance change and its ledger entry commit together.
type WalletService struct {
	logger     *slog.Logger
	transactor Transactor
	wallets    WalletsRepository
	entries    TransactionsRepository
	orders     OrdersRepository
	gateway    ports.PaymentGateway
	publisher  ports.EventPublisher
	currency   string
	now        func() time.Time
}

type WalletServiceOption func(*WalletService)

// WithWalletClock replaces the wall clock stamped on entries.
func WithWalletClock(now func() time.Time) WalletServiceOption {
	return func(s *WalletService) {
		s.now = now
	}
}

func NewWalletService(
	logger *slog.Logger,
	transactor Transactor,
	wallets WalletsRepository,
	entries TransactionsRepository,
	orders OrdersRepository,
	gateway ports.PaymentGateway,
	publisher ports.EventPublisher,
	currency string,
	opts ...WalletServiceOption,
) *WalletService {
	if currency == "" {
		currency = ports.DefaultCurrency
	}
	s := &WalletService{
		logger:     logger,
		transactor: transactor,
		wallets:    wallets,
		entries:    entries,
		orders:     orders,
		gateway:    gateway,
		publisher:  publisher,
		currency:   currency,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TransferRequest moves Amount from From to To. The credit leg of a
// PAYMENT_SENT transfer is recorded as PAYMENT_RECEIVED.
// A non-empty RequestID makes the transfer safe to repeat: a replay returns
// the transfer recorded under the same key.
type TransferRequest struct {
	From         string
	To           string
	Amount       int64
	RelatedOrder string
	Category     entities.Category
	RequestID    string
}

// OrderPayment is the result of settling an order.
type OrderPayment struct {
	Order    *entities.Order    `json:"order"`
	Transfer *entities.Transfer `json:"transfer,omitempty"`
}

func (s *WalletService) clock() time.Time {
	return s.now().UTC()
}

func (s *WalletService) OpenWallet(ctx context.Context, ownerID string) (*entities.Wallet, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner is required", entities.ErrInvalidArgument)
	}
	return s.wallets.CreateWallet(ctx, ownerID, s.currency, s.clock())
}

func (s *WalletService) GetWallet(ctx context.Context, ownerID string) (*entities.Wallet, error) {
	wallet, err := s.wallets.FindWallet(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, entities.ErrWalletNotFound
	}
	return wallet, nil
}

func (s *WalletService) GetEntries(ctx context.Context, ownerID string, limit int) ([]entities.LedgerEntry, error) {
	if limit <= 0 || limit > ports.DefaultEntriesLimit {
		limit = ports.DefaultEntriesLimit
	}
	return s.entries.FindEntriesByOwner(ctx, ownerID, limit)
}

func (s *WalletService) FreezeWallet(ctx context.Context, ownerID string) (*entities.Wallet, error) {
	return s.setStatus(ctx, ownerID, entities.WalletFrozen)
}

func (s *WalletService) UnfreezeWallet(ctx context.Context, ownerID string) (*entities.Wallet, error) {
	return s.setStatus(ctx, ownerID, entities.WalletActive)
}

func (s *WalletService) setStatus(ctx context.Context, ownerID string, status entities.WalletStatus) (*entities.Wallet, error) {
	wallet, err := s.wallets.SetWalletStatus(ctx, ownerID, status, s.clock())
	if err != nil {
		return nil, fmt.Errorf("failed to set wallet status: %w", err)
	}
	if wallet == nil {
		return nil, entities.ErrWalletNotFound
	}
	s.logger.InfoContext(ctx, "Wallet status changed", "owner_id", ownerID, "status", status)
	return wallet, nil
}

// CreditFromGateway credits a captured gateway payment exactly once per
// external reference. A repeated reference returns the original entry with
// duplicate set and changes nothing.
func (s *WalletService) CreditFromGateway(ctx context.Context, ownerID string, amount int64, reference string) (entry *entities.LedgerEntry, duplicate bool, err error) {
	defer s.record("credit", &err)

	if ownerID == "" || reference == "" || amount <= 0 {
		return nil, false, fmt.Errorf("%w: owner, reference and positive amount are required", entities.ErrInvalidArgument)
	}

	now := s.clock()
	err = s.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		existing, err := s.replay(ctx, reference, ownerID, now)
		if err != nil {
			return err
		}
		if existing != nil {
			entry, duplicate = existing, true
			return nil
		}

		change, err := s.credit(ctx, ownerID, amount, now)
		if err != nil {
			return err
		}

		entry = s.newEntry(ownerID, entities.Credit, amount, change, entities.CategoryRecharge, now)
		entry.ExternalReference = pointy.String(reference)
		if err = s.entries.InsertEntry(ctx, entry); err != nil {
			return err
		}
		return s.entries.AttachReferenceEntry(ctx, reference, entry.ID)
	})
	if err != nil {
		return nil, false, err
	}

	if duplicate {
		s.logger.InfoContext(ctx, "Duplicate gateway credit ignored", "owner_id", ownerID, "external_reference", reference, "entry_id", entry.ID)
		return entry, true, nil
	}

	s.logger.InfoContext(ctx, "Wallet credited from gateway", "owner_id", ownerID, "amount", amount, "external_reference", reference)
	observability.SettledAmount.WithLabelValues("credit").Add(float64(amount))
	s.emit(ctx, entities.EventWalletCredited, ownerID, entry)

	return entry, false, nil
}

// InitiateRecharge opens a gateway charge whose capture is later confirmed
// with ConfirmRecharge.
func (s *WalletService) InitiateRecharge(ctx context.Context, ownerID string, amount int64) (*entities.Charge, error) {
	if ownerID == "" || amount <= 0 {
		return nil, fmt.Errorf("%w: owner and positive amount are required", entities.ErrInvalidArgument)
	}

	wallet, err := s.wallets.CreateWallet(ctx, ownerID, s.currency, s.clock())
	if err != nil {
		return nil, fmt.Errorf("failed to open wallet: %w", err)
	}
	if !wallet.IsActive() {
		return nil, entities.ErrWalletFrozen
	}

	charge, err := s.gateway.InitiateCharge(ctx, entities.ChargeRequest{
		OwnerID:   ownerID,
		Amount:    amount,
		Currency:  wallet.Currency,
		Reference: uuid.NewString(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initiate charge: %w", err)
	}

	s.logger.InfoContext(ctx, "Recharge initiated", "owner_id", ownerID, "amount", amount, "external_order_id", charge.ExternalOrderID)
	return charge, nil
}

// ConfirmRecharge verifies the charge with the gateway and credits the
// captured amount. It is safe to call any number of times.
func (s *WalletService) ConfirmRecharge(ctx context.Context, externalOrderID, ownerID string) (*entities.LedgerEntry, bool, error) {
	if externalOrderID == "" || ownerID == "" {
		return nil, false, fmt.Errorf("%w: external order and owner are required", entities.ErrInvalidArgument)
	}

	verification, err := s.gateway.VerifyCharge(ctx, externalOrderID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to verify charge: %w", err)
	}
	if !verification.Captured {
		return nil, false, entities.ErrChargeNotCaptured
	}
	if verification.OwnerID != "" && verification.OwnerID != ownerID {
		return nil, false, entities.ErrOwnerMismatch
	}
	if verification.Currency != "" && !strings.EqualFold(verification.Currency, s.currency) {
		return nil, false, fmt.Errorf("%w: charge currency %s does not match wallet currency %s",
			entities.ErrInvalidArgument, verification.Currency, s.currency)
	}

	return s.CreditFromGateway(ctx, ownerID, verification.Amount, verification.ExternalPaymentID)
}

// Transfer moves funds between two active wallets as one atomic pair of entries.
func (s *WalletService) Transfer(ctx context.Context, req TransferRequest) (transfer *entities.Transfer, err error) {
	defer s.record("transfer", &err)

	switch req.Category {
	case entities.CategoryPaymentSent, entities.CategoryPaymentReceived, entities.CategoryCommission:
	default:
		return nil, fmt.Errorf("%w: category %q cannot be used for transfers", entities.ErrInvalidArgument, req.Category)
	}
	if err = validateTransfer(req.From, req.To, req.Amount); err != nil {
		return nil, err
	}

	var related *string
	if req.RelatedOrder != "" {
		related = pointy.String(req.RelatedOrder)
	}

	now := s.clock()
	replayed := false
	err = s.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		if related != nil {
			order, err := s.orders.FindOrderByID(ctx, *related)
			if err != nil {
				return err
			}
			if order == nil {
				return entities.ErrOrderNotFound
			}
		}

		key := requestKey("transfer", req.From, req.RequestID)
		if key != "" {
			existing, err := s.replay(ctx, key, req.From, now)
			if err != nil {
				return err
			}
			if existing != nil {
				replayed = true
				transfer, err = s.findTransfer(ctx, existing)
				return err
			}
		}

		transfer, err = s.moveFunds(ctx, legs{
			from:           req.From,
			to:             req.To,
			amount:         req.Amount,
			debitCategory:  req.Category,
			creditCategory: req.Category.CounterpartCategory(),
			relatedOrder:   related,
		}, now)
		if err != nil || key == "" {
			return err
		}
		return s.entries.AttachReferenceEntry(ctx, key, transfer.Debit.ID)
	})
	if err != nil {
		return nil, err
	}
	if replayed {
		s.logger.InfoContext(ctx, "Transfer replayed", "transfer_id", transfer.ID, "request_id", req.RequestID)
		return transfer, nil
	}

	s.logger.InfoContext(ctx, "Transfer committed", "transfer_id", transfer.ID, "from", req.From, "to", req.To, "amount", req.Amount)
	observability.SettledAmount.WithLabelValues("transfer").Add(float64(req.Amount))
	s.emit(ctx, entities.EventWalletTransferred, transfer.ID, transfer)

	return transfer, nil
}

// PayOrder settles an order: the accepted agent pays the requester the order
// total and the order completes in the same transaction.
func (s *WalletService) PayOrder(ctx context.Context, orderID, payerID string) (payment *OrderPayment, err error) {
	defer s.record("pay_order", &err)

	if orderID == "" || payerID == "" {
		return nil, fmt.Errorf("%w: order and payer are required", entities.ErrInvalidArgument)
	}

	now := s.clock()
	payment = &OrderPayment{}
	err = s.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		order, err := s.orders.CompleteOrderPayment(ctx, orderID, payerID, now)
		if err != nil {
			return err
		}
		if order == nil {
			return s.explainPaymentFailure(ctx, orderID, payerID)
		}
		payment.Order = order

		if order.TotalAmount == 0 {
			return nil
		}
		payment.Transfer, err = s.moveFunds(ctx, legs{
			from:           payerID,
			to:             order.RequesterID,
			amount:         order.TotalAmount,
			debitCategory:  entities.CategoryPaymentSent,
			creditCategory: entities.CategoryPaymentReceived,
			relatedOrder:   pointy.String(order.ID),
		}, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Order paid", "order_id", orderID, "agent_id", payerID,
		"requester_id", payment.Order.RequesterID, "amount", payment.Order.TotalAmount)
	observability.SettledAmount.WithLabelValues("pay_order").Add(float64(payment.Order.TotalAmount))
	s.emit(ctx, entities.EventOrderCompleted, orderID, payment)

	return payment, nil
}

func (s *WalletService) explainPaymentFailure(ctx context.Context, orderID, payerID string) error {
	order, err := s.orders.FindOrderByID(ctx, orderID)
	if err != nil {
		return err
	}
	switch {
	case order == nil:
		return entities.ErrOrderNotFound
	case order.PaymentStatus != entities.PaymentPending:
		return entities.ErrOrderAlreadyPaid
	case !order.HeldBy(payerID):
		return fmt.Errorf("%w: only the accepted agent can pay this order", entities.ErrOrderNotEligible)
	default:
		return fmt.Errorf("%w: order is %s", entities.ErrOrderNotEligible, order.LifecycleStatus)
	}
}

// Refund reverses a committed entry. A transfer leg reverses the whole pair,
// a recharge credit is debited and refunded through the gateway. An amount of
// zero refunds the full original amount. Each entry can be refunded once.
func (s *WalletService) Refund(ctx context.Context, entryID string, amount int64) (refund *entities.Refund, err error) {
	defer s.record("refund", &err)

	if entryID == "" || amount < 0 {
		return nil, fmt.Errorf("%w: entry and non-negative amount are required", entities.ErrInvalidArgument)
	}

	now := s.clock()
	err = s.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		original, err := s.entries.FindEntryByID(ctx, entryID)
		if err != nil {
			return err
		}
		if original == nil {
			return entities.ErrEntryNotFound
		}
		if original.Status != entities.EntrySuccess || original.Category == entities.CategoryRefund {
			return entities.ErrEntryNotRefundable
		}
		if amount == 0 {
			amount = original.Amount
		}
		if amount > original.Amount {
			return entities.ErrRefundExceedsOriginal
		}
		if err = s.ensureNotRefunded(ctx, original.ID); err != nil {
			return err
		}

		switch {
		case original.TransferID != nil:
			refund, err = s.reverseTransfer(ctx, original, amount, now)
		case original.Category == entities.CategoryRecharge && original.Direction == entities.Credit && original.ExternalReference != nil:
			refund, err = s.refundRecharge(ctx, original, amount, now)
		default:
			err = entities.ErrEntryNotRefundable
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Refund committed", "entry_id", entryID, "amount", amount, "gateway_refund_id", refund.RefundID)
	observability.SettledAmount.WithLabelValues("refund").Add(float64(amount))
	s.emit(ctx, entities.EventWalletRefunded, entryID, refund)

	return refund, nil
}

func (s *WalletService) ensureNotRefunded(ctx context.Context, entryID string) error {
	existing, err := s.entries.FindRefundOf(ctx, entryID)
	if err != nil {
		return err
	}
	if existing != nil {
		return entities.ErrAlreadyRefunded
	}
	return nil
}

func (s *WalletService) reverseTransfer(ctx context.Context, original *entities.LedgerEntry, amount int64, now time.Time) (*entities.Refund, error) {
	pair, err := s.entries.FindEntriesByTransfer(ctx, *original.TransferID)
	if err != nil {
		return nil, err
	}

	var debitLeg, creditLeg *entities.LedgerEntry
	for i := range pair {
		switch pair[i].Direction {
		case entities.Debit:
			debitLeg = &pair[i]
		case entities.Credit:
			creditLeg = &pair[i]
		}
	}
	if debitLeg == nil || creditLeg == nil {
		return nil, entities.ErrEntryNotRefundable
	}

	counterpart := debitLeg.ID
	if original.ID == debitLeg.ID {
		counterpart = creditLeg.ID
	}
	if err = s.ensureNotRefunded(ctx, counterpart); err != nil {
		return nil, err
	}

	transfer, err := s.moveFunds(ctx, legs{
		from:           creditLeg.OwnerID,
		to:             debitLeg.OwnerID,
		amount:         amount,
		debitCategory:  entities.CategoryRefund,
		creditCategory: entities.CategoryRefund,
		relatedOrder:   debitLeg.RelatedOrder,
		debitRefundOf:  pointy.String(creditLeg.ID),
		creditRefundOf: pointy.String(debitLeg.ID),
	}, now)
	if err != nil {
		return nil, err
	}

	if amount == debitLeg.Amount && debitLeg.RelatedOrder != nil && debitLeg.Category == entities.CategoryPaymentSent {
		if _, err = s.orders.MarkOrderPaymentRefunded(ctx, *debitLeg.RelatedOrder, now); err != nil {
			return nil, err
		}
	}

	return &entities.Refund{Debit: transfer.Debit, Credit: transfer.Credit}, nil
}

// refundRecharge debits the wallet and refunds the gateway charge. A gateway
// failure rolls the debit back.
func (s *WalletService) refundRecharge(ctx context.Context, original *entities.LedgerEntry, amount int64, now time.Time) (*entities.Refund, error) {
	change, err := s.debit(ctx, original.OwnerID, amount, now)
	if err != nil {
		return nil, err
	}

	entry := s.newEntry(original.OwnerID, entities.Debit, amount, change, entities.CategoryRefund, now)
	entry.RefundOf = pointy.String(original.ID)
	entry.ExternalReference = original.ExternalReference
	if err = s.entries.InsertEntry(ctx, entry); err != nil {
		return nil, err
	}

	// Keyed by the original entry so a retried refund reuses the gateway refund.
	refundID, err := s.gateway.RefundCharge(ctx, *original.ExternalReference, pointy.Int64(amount), "refund-"+original.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to refund gateway charge: %w", err)
	}

	return &entities.Refund{Debit: entry, RefundID: refundID}, nil
}

// Withdraw debits a wallet for an external payout. A repeated non-empty
// requestID returns the original entry without debiting again.
func (s *WalletService) Withdraw(ctx context.Context, ownerID string, amount int64, requestID string) (entry *entities.LedgerEntry, err error) {
	defer s.record("withdraw", &err)

	if ownerID == "" || amount <= 0 {
		return nil, fmt.Errorf("%w: owner and positive amount are required", entities.ErrInvalidArgument)
	}

	now := s.clock()
	replayed := false
	key := requestKey("withdraw", ownerID, requestID)
	err = s.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		if key != "" {
			existing, err := s.replay(ctx, key, ownerID, now)
			if err != nil {
				return err
			}
			if existing != nil {
				entry, replayed = existing, true
				return nil
			}
		}

		change, err := s.debit(ctx, ownerID, amount, now)
		if err != nil {
			return err
		}
		entry = s.newEntry(ownerID, entities.Debit, amount, change, entities.CategoryWithdrawal, now)
		if err = s.entries.InsertEntry(ctx, entry); err != nil || key == "" {
			return err
		}
		return s.entries.AttachReferenceEntry(ctx, key, entry.ID)
	})
	if err != nil {
		return nil, err
	}
	if replayed {
		s.logger.InfoContext(ctx, "Withdrawal replayed", "owner_id", ownerID, "entry_id", entry.ID, "request_id", requestID)
		return entry, nil
	}

	s.logger.InfoContext(ctx, "Wallet withdrawn", "owner_id", ownerID, "amount", amount)
	observability.SettledAmount.WithLabelValues("withdraw").Add(float64(amount))
	s.emit(ctx, entities.EventWalletWithdrawn, ownerID, entry)

	return entry, nil
}

// requestKey scopes a client request id to an operation and owner. It is
// empty when the client sent no request id.
func requestKey(operation, ownerID, requestID string) string {
	if requestID == "" {
		return ""
	}
	return operation + ":" + ownerID + ":" + requestID
}

// replay reserves key for ownerID. When the key was reserved before it
// returns the entry recorded under it instead.
func (s *WalletService) replay(ctx context.Context, key, ownerID string, now time.Time) (*entities.LedgerEntry, error) {
	reserved, err := s.entries.ReserveReference(ctx, key, ownerID, now)
	if err != nil {
		return nil, err
	}
	if reserved {
		return nil, nil
	}

	existing, err := s.entries.FindEntryByReference(ctx, key)
	if err != nil {
		return nil, err
	}
	if existing == nil || existing.OwnerID != ownerID {
		return nil, entities.ErrDuplicateExternalReference
	}
	return existing, nil
}

// findTransfer rebuilds the transfer that leg belongs to.
func (s *WalletService) findTransfer(ctx context.Context, leg *entities.LedgerEntry) (*entities.Transfer, error) {
	if leg.TransferID == nil {
		return nil, entities.ErrDuplicateExternalReference
	}
	pair, err := s.entries.FindEntriesByTransfer(ctx, *leg.TransferID)
	if err != nil {
		return nil, err
	}

	transfer := &entities.Transfer{ID: *leg.TransferID}
	for i := range pair {
		switch pair[i].Direction {
		case entities.Debit:
			transfer.Debit = &pair[i]
		case entities.Credit:
			transfer.Credit = &pair[i]
		}
	}
	return transfer, nil
}

type legs struct {
	from, to       string
	amount         int64
	debitCategory  entities.Category
	creditCategory entities.Category
	relatedOrder   *string
	debitRefundOf  *string
	creditRefundOf *string
}

// moveFunds writes both balance updates and both entries. It must run
// inside a transaction. Wallets are touched in owner order so concurrent
// opposite transfers cannot deadlock.
func (s *WalletService) moveFunds(ctx context.Context, l legs, now time.Time) (*entities.Transfer, error) {
	var debitChange, creditChange *entities.BalanceChange

	debitFirst := l.from < l.to
	steps := []func() error{
		func() (err error) {
			debitChange, err = s.debit(ctx, l.from, l.amount, now)
			return err
		},
		func() (err error) {
			creditChange, err = s.credit(ctx, l.to, l.amount, now)
			return err
		},
	}
	if !debitFirst {
		steps[0], steps[1] = steps[1], steps[0]
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}

	transferID := uuid.NewString()

	debitEntry := s.newEntry(l.from, entities.Debit, l.amount, debitChange, l.debitCategory, now)
	debitEntry.TransferID = pointy.String(transferID)
	debitEntry.RelatedOrder = l.relatedOrder
	debitEntry.RefundOf = l.debitRefundOf

	creditEntry := s.newEntry(l.to, entities.Credit, l.amount, creditChange, l.creditCategory, now)
	creditEntry.TransferID = pointy.String(transferID)
	creditEntry.RelatedOrder = l.relatedOrder
	creditEntry.RefundOf = l.creditRefundOf

	if err := s.entries.InsertEntry(ctx, debitEntry); err != nil {
		return nil, err
	}
	if err := s.entries.InsertEntry(ctx, creditEntry); err != nil {
		return nil, err
	}

	return &entities.Transfer{ID: transferID, Debit: debitEntry, Credit: creditEntry}, nil
}

func (s *WalletService) debit(ctx context.Context, ownerID string, amount int64, now time.Time) (*entities.BalanceChange, error) {
	change, err := s.wallets.DebitWallet(ctx, ownerID, amount, now)
	if err != nil {
		return nil, err
	}
	if change != nil {
		return change, nil
	}

	wallet, err := s.wallets.FindWallet(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	switch {
	case wallet == nil:
		return nil, entities.ErrWalletNotFound
	case !wallet.IsActive():
		return nil, entities.ErrWalletFrozen
	default:
		return nil, fmt.Errorf("%w: available %d, required %d", entities.ErrInsufficientBalance, wallet.Balance, amount)
	}
}

// credit adds amount to an active wallet, opening it first when missing.
func (s *WalletService) credit(ctx context.Context, ownerID string, amount int64, now time.Time) (*entities.BalanceChange, error) {
	change, err := s.wallets.CreditWallet(ctx, ownerID, amount, now)
	if err != nil || change != nil {
		return change, err
	}

	wallet, err := s.wallets.CreateWallet(ctx, ownerID, s.currency, now)
	if err != nil {
		return nil, err
	}
	if !wallet.IsActive() {
		return nil, entities.ErrWalletFrozen
	}

	change, err = s.wallets.CreditWallet(ctx, ownerID, amount, now)
	if err != nil {
		return nil, err
	}
	if change == nil {
		return nil, errors.New("wallet disappeared during credit")
	}
	return change, nil
}

func (s *WalletService) newEntry(ownerID string, direction entities.Direction, amount int64, change *entities.BalanceChange, category entities.Category, now time.Time) *entities.LedgerEntry {
	return &entities.LedgerEntry{
		ID:            uuid.NewString(),
		OwnerID:       ownerID,
		Direction:     direction,
		Amount:        amount,
		BalanceBefore: change.Before,
		BalanceAfter:  change.After,
		Category:      category,
		Status:        entities.EntrySuccess,
		CreatedAt:     now,
	}
}

func (s *WalletService) record(operation string, err *error) {
	observability.SettlementOutcomes.WithLabelValues(operation, observability.Outcome(*err, entities.IsBusinessError)).Inc()
	if *err != nil && !entities.IsBusinessError(*err) {
		s.logger.Error("Wallet operation failed", "operation", operation, "error", *err)
	}
}

func (s *WalletService) emit(ctx context.Context, eventType entities.EventType, aggregateID string, payload any) {
	publish(ctx, s.logger, s.publisher, entities.Event{
		Type:        eventType,
		AggregateID: aggregateID,
		OccurredAt:  s.clock(),
		Payload:     payload,
	})
}

func validateTransfer(from, to string, amount int64) error {
	if from == "" || to == "" {
		return fmt.Errorf("%w: both wallets are required", entities.ErrInvalidArgument)
	}
	if from == to {
		return fmt.Errorf("%w: cannot transfer to the same wallet", entities.ErrInvalidArgument)
	}
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", entities.ErrInvalidArgument)
	}
	return nil
}
