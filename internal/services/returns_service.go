package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/voltlane/api/internal/domain"
	"github.com/voltlane/api/internal/repositories"
)

var (
	errReturnRepositoryRequired = errors.New("returns service: return repository is required")
	errReturnOrdersRequired     = errors.New("returns service: order repository is required")
	errReturnClockRequired      = errors.New("returns service: clock is required")
)

// ErrReturnInvalidInput indicates the caller supplied invalid input.
var ErrReturnInvalidInput = errors.New("returns service: invalid input")

// ErrReturnNotFound indicates the return does not exist or is not visible to the caller.
var ErrReturnNotFound = errors.New("returns service: not found")

// ErrReturnConflict indicates a conflicting concurrent write.
var ErrReturnConflict = errors.New("returns service: conflict")

// ErrReturnUnavailable indicates the backing store cannot be reached.
var ErrReturnUnavailable = errors.New("returns service: unavailable")

// ErrReturnInvalidState indicates the return or its order is not in a state
// that permits the requested operation.
var ErrReturnInvalidState = errors.New("returns service: invalid state")

// ErrReturnCancelDenied is the single error customers see for any failed
// cancellation attempt. The reason is logged internally only.
var ErrReturnCancelDenied = errors.New("returns service: cancellation denied")

// returnTransitions is the admin-side processing graph. Customer cancellation
// of a pending return is handled by CancelReturn.
var returnTransitions = map[domain.ReturnStatus][]domain.ReturnStatus{
	domain.ReturnStatusPending:    {domain.ReturnStatusApproved, domain.ReturnStatusRejected, domain.ReturnStatusCancelled},
	domain.ReturnStatusApproved:   {domain.ReturnStatusProcessing},
	domain.ReturnStatusProcessing: {domain.ReturnStatusCompleted},
}

func canTransitionReturn(from, to domain.ReturnStatus) bool {
	for _, next := range returnTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func isKnownReturnStatus(status domain.ReturnStatus) bool {
	switch status {
	case domain.ReturnStatusPending, domain.ReturnStatusApproved, domain.ReturnStatusRejected,
		domain.ReturnStatusProcessing, domain.ReturnStatusCompleted, domain.ReturnStatusCancelled:
		return true
	}
	return false
}

// ReturnsServiceDeps wires the repositories for the returns workflow.
type ReturnsServiceDeps struct {
	Returns     repositories.ReturnRepository
	Orders      repositories.OrderRepository
	Clock       func() time.Time
	Logger      func(context.Context, string, map[string]any)
	IDGenerator func() string
}

type returnsService struct {
	returns repositories.ReturnRepository
	orders  repositories.OrderRepository
	newID   func() string
	now     func() time.Time
	logger  func(context.Context, string, map[string]any)
}

// NewReturnsService constructs a ReturnsService enforcing dependency validation.
func NewReturnsService(deps ReturnsServiceDeps) (ReturnsService, error) {
	if deps.Returns == nil {
		return nil, errReturnRepositoryRequired
	}
	if deps.Orders == nil {
		return nil, errReturnOrdersRequired
	}
	if deps.Clock == nil {
		return nil, errReturnClockRequired
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	return &returnsService{
		returns: deps.Returns,
		orders:  deps.Orders,
		newID:   idGen,
		now:     func() time.Time { return deps.Clock().UTC() },
		logger:  logger,
	}, nil
}

// CreateReturn opens a return against a delivered order owned by the caller.
// Each submitted line must carry the product id, product name, quantity and
// unit price. Quantities are validated against the order lines and the
// refund amount is computed server-side from the order's unit prices, not
// the submitted ones.
func (s *returnsService) CreateReturn(ctx context.Context, cmd CreateReturnCommand) (domain.Return, error) {
	if s == nil || s.returns == nil {
		return domain.Return{}, ErrReturnUnavailable
	}

	uid := strings.TrimSpace(cmd.UserID)
	if uid == "" {
		return domain.Return{}, fmt.Errorf("%w: user id is required", ErrReturnInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return domain.Return{}, fmt.Errorf("%w: at least one item is required", ErrReturnInvalidInput)
	}
	if strings.TrimSpace(cmd.Reason) == "" {
		return domain.Return{}, fmt.Errorf("%w: a reason is required", ErrReturnInvalidInput)
	}

	order, err := s.resolveOrder(ctx, cmd.OrderID, cmd.OrderNumber)
	if err != nil {
		return domain.Return{}, err
	}
	if order.UserID != uid {
		return domain.Return{}, ErrReturnNotFound
	}
	if order.Status != domain.OrderStatusDelivered {
		return domain.Return{}, fmt.Errorf("%w: only delivered orders can be returned", ErrReturnInvalidState)
	}

	ordered := make(map[string]domain.OrderItem, len(order.Items))
	for _, item := range order.Items {
		ordered[item.ProductID] = item
	}

	items := make([]domain.ReturnItem, 0, len(cmd.Items))
	var refund domain.Money
	for _, line := range cmd.Items {
		pid := strings.TrimSpace(line.ProductID)
		if pid == "" {
			return domain.Return{}, fmt.Errorf("%w: item product id is required", ErrReturnInvalidInput)
		}
		if strings.TrimSpace(line.ProductName) == "" {
			return domain.Return{}, fmt.Errorf("%w: item product name is required", ErrReturnInvalidInput)
		}
		if line.Quantity <= 0 {
			return domain.Return{}, fmt.Errorf("%w: item quantity must be positive", ErrReturnInvalidInput)
		}
		if line.UnitPrice <= 0 {
			return domain.Return{}, fmt.Errorf("%w: item unit price must be positive", ErrReturnInvalidInput)
		}
		orderItem, ok := ordered[pid]
		if !ok {
			return domain.Return{}, fmt.Errorf("%w: product %s is not part of the order", ErrReturnInvalidInput, pid)
		}
		if line.Quantity > orderItem.Quantity {
			return domain.Return{}, fmt.Errorf("%w: cannot return %d of product %s, ordered %d",
				ErrReturnInvalidInput, line.Quantity, pid, orderItem.Quantity)
		}

		items = append(items, domain.ReturnItem{
			ProductID:      orderItem.ProductID,
			ProductName:    orderItem.ProductName,
			ProductImage:   orderItem.ProductImage,
			Quantity:       line.Quantity,
			UnitPrice:      orderItem.UnitPrice,
			Reason:         strings.TrimSpace(line.Reason),
			ConditionNotes: strings.TrimSpace(line.ConditionNotes),
		})
		refund += orderItem.UnitPrice * domain.Money(line.Quantity)
	}

	now := s.now()
	ret := domain.Return{
		ID:            "ret_" + s.newID(),
		ReturnNumber:  newReturnNumber(now, uid),
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        uid,
		Items:         items,
		Reason:        strings.TrimSpace(cmd.Reason),
		RefundAmount:  refund,
		RefundMethod:  strings.TrimSpace(cmd.RefundMethod),
		CustomerNotes: strings.TrimSpace(cmd.CustomerNotes),
		Status:        domain.ReturnStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.returns.Create(ctx, repositories.ReturnCreateRequest{Return: ret, Now: now}); err != nil {
		return domain.Return{}, s.translateRepoError(err)
	}

	s.logger(ctx, "return.created", map[string]any{
		"returnID":     ret.ID,
		"returnNumber": ret.ReturnNumber,
		"orderID":      order.ID,
		"userID":       uid,
		"refundAmount": refund,
	})

	created, err := s.returns.FindByID(ctx, ret.ID)
	if err != nil {
		return ret, nil
	}
	return created, nil
}

// GetReturn loads a return. A non-empty userID scopes visibility to the owner.
func (s *returnsService) GetReturn(ctx context.Context, returnID string, userID string) (domain.Return, error) {
	if s == nil || s.returns == nil {
		return domain.Return{}, ErrReturnUnavailable
	}
	rid := strings.TrimSpace(returnID)
	if rid == "" {
		return domain.Return{}, ErrReturnInvalidInput
	}

	ret, err := s.returns.FindByID(ctx, rid)
	if err != nil {
		return domain.Return{}, s.translateRepoError(err)
	}
	if uid := strings.TrimSpace(userID); uid != "" && ret.UserID != uid {
		return domain.Return{}, ErrReturnNotFound
	}
	return ret, nil
}

// GetReturnByNumber resolves a return by its customer-facing number.
func (s *returnsService) GetReturnByNumber(ctx context.Context, returnNumber string, userID string) (domain.Return, error) {
	if s == nil || s.returns == nil {
		return domain.Return{}, ErrReturnUnavailable
	}
	number := strings.TrimSpace(returnNumber)
	if number == "" {
		return domain.Return{}, ErrReturnInvalidInput
	}

	ret, err := s.returns.FindByNumber(ctx, number)
	if err != nil {
		return domain.Return{}, s.translateRepoError(err)
	}
	if uid := strings.TrimSpace(userID); uid != "" && ret.UserID != uid {
		return domain.Return{}, ErrReturnNotFound
	}
	return ret, nil
}

// ListReturns returns a filtered, offset-paginated page of returns.
func (s *returnsService) ListReturns(ctx context.Context, query ListReturnsQuery) (domain.Page[domain.Return], error) {
	if s == nil || s.returns == nil {
		return domain.Page[domain.Return]{}, ErrReturnUnavailable
	}

	for _, status := range query.Status {
		if !isKnownReturnStatus(status) {
			return domain.Page[domain.Return]{}, fmt.Errorf("%w: unknown status %q", ErrReturnInvalidInput, status)
		}
	}

	page, err := s.returns.List(ctx, repositories.ReturnListFilter{
		UserID: strings.TrimSpace(query.UserID),
		Status: query.Status,
		Page:   domain.PageRequest{Page: query.Page, Limit: query.Limit},
	})
	if err != nil {
		return domain.Page[domain.Return]{}, s.translateRepoError(err)
	}
	return page, nil
}

// UpdateStatus is the admin-side processing action. Every change records who
// processed it and when.
func (s *returnsService) UpdateStatus(ctx context.Context, cmd UpdateReturnStatusCommand) (domain.Return, error) {
	if s == nil || s.returns == nil {
		return domain.Return{}, ErrReturnUnavailable
	}
	rid := strings.TrimSpace(cmd.ReturnID)
	if rid == "" {
		return domain.Return{}, ErrReturnInvalidInput
	}
	if !isKnownReturnStatus(cmd.Status) {
		return domain.Return{}, fmt.Errorf("%w: unknown status %q", ErrReturnInvalidInput, cmd.Status)
	}
	processedBy := strings.TrimSpace(cmd.ProcessedBy)
	if processedBy == "" {
		return domain.Return{}, fmt.Errorf("%w: processedBy is required", ErrReturnInvalidInput)
	}

	ret, err := s.returns.FindByID(ctx, rid)
	if err != nil {
		return domain.Return{}, s.translateRepoError(err)
	}
	if !canTransitionReturn(ret.Status, cmd.Status) {
		return domain.Return{}, fmt.Errorf("%w: %s -> %s", ErrReturnInvalidState, ret.Status, cmd.Status)
	}

	updated, err := s.returns.UpdateStatus(ctx, repositories.ReturnStatusUpdate{
		ReturnID:     rid,
		Status:       cmd.Status,
		ProcessedBy:  processedBy,
		AdminNotes:   cmd.AdminNotes,
		RefundMethod: cmd.RefundMethod,
		Now:          s.now(),
	})
	if err != nil {
		return domain.Return{}, s.translateRepoError(err)
	}

	s.logger(ctx, "return.status_changed", map[string]any{
		"returnID":    updated.ID,
		"from":        ret.Status,
		"to":          cmd.Status,
		"processedBy": processedBy,
	})
	return updated, nil
}

// UpdateRefundAmount overrides the computed refund. Allowed only while the
// return is still pending or approved.
func (s *returnsService) UpdateRefundAmount(ctx context.Context, returnID string, amount domain.Money) (domain.Return, error) {
	if s == nil || s.returns == nil {
		return domain.Return{}, ErrReturnUnavailable
	}
	rid := strings.TrimSpace(returnID)
	if rid == "" {
		return domain.Return{}, ErrReturnInvalidInput
	}
	if amount < 0 {
		return domain.Return{}, fmt.Errorf("%w: refund amount must not be negative", ErrReturnInvalidInput)
	}

	ret, err := s.returns.FindByID(ctx, rid)
	if err != nil {
		return domain.Return{}, s.translateRepoError(err)
	}
	if ret.Status != domain.ReturnStatusPending && ret.Status != domain.ReturnStatusApproved {
		return domain.Return{}, fmt.Errorf("%w: refund amount is locked once processing starts", ErrReturnInvalidState)
	}

	updated, err := s.returns.UpdateRefundAmount(ctx, rid, amount, s.now())
	if err != nil {
		return domain.Return{}, s.translateRepoError(err)
	}
	return updated, nil
}

// CancelReturn is the customer-facing cancellation: owner only, pending only.
// All failure modes collapse into one opaque error so callers cannot probe
// for the existence of other users' returns.
func (s *returnsService) CancelReturn(ctx context.Context, returnID string, userID string) (domain.Return, error) {
	if s == nil || s.returns == nil {
		return domain.Return{}, ErrReturnUnavailable
	}
	rid := strings.TrimSpace(returnID)
	uid := strings.TrimSpace(userID)
	if rid == "" || uid == "" {
		return domain.Return{}, ErrReturnInvalidInput
	}

	ret, err := s.returns.FindByID(ctx, rid)
	if err != nil {
		if isRepoNotFound(err) {
			s.logger(ctx, "return.cancel.not_found", map[string]any{"returnID": rid, "userID": uid})
			return domain.Return{}, ErrReturnCancelDenied
		}
		return domain.Return{}, s.translateRepoError(err)
	}
	if ret.UserID != uid {
		s.logger(ctx, "return.cancel.forbidden", map[string]any{"returnID": rid, "userID": uid})
		return domain.Return{}, ErrReturnCancelDenied
	}
	if ret.Status != domain.ReturnStatusPending {
		s.logger(ctx, "return.cancel.bad_state", map[string]any{"returnID": rid, "status": ret.Status})
		return domain.Return{}, ErrReturnCancelDenied
	}

	updated, err := s.returns.UpdateStatus(ctx, repositories.ReturnStatusUpdate{
		ReturnID: rid,
		Status:   domain.ReturnStatusCancelled,
		Now:      s.now(),
	})
	if err != nil {
		return domain.Return{}, s.translateRepoError(err)
	}

	s.logger(ctx, "return.cancelled", map[string]any{"returnID": rid, "userID": uid})
	return updated, nil
}

// GetReturnStats aggregates return counts and refund volume. Refund totals
// cover completed returns only.
func (s *returnsService) GetReturnStats(ctx context.Context) (domain.ReturnStatistics, error) {
	if s == nil || s.returns == nil {
		return domain.ReturnStatistics{}, ErrReturnUnavailable
	}

	stats := domain.ReturnStatistics{
		CountsByStatus: map[domain.ReturnStatus]int{
			domain.ReturnStatusPending:    0,
			domain.ReturnStatusApproved:   0,
			domain.ReturnStatusRejected:   0,
			domain.ReturnStatusProcessing: 0,
			domain.ReturnStatusCompleted:  0,
			domain.ReturnStatusCancelled:  0,
		},
	}

	const pageSize = 100
	completed := 0
	for page := 1; ; page++ {
		result, err := s.returns.List(ctx, repositories.ReturnListFilter{
			Page: domain.PageRequest{Page: page, Limit: pageSize},
		})
		if err != nil {
			return domain.ReturnStatistics{}, s.translateRepoError(err)
		}
		for _, ret := range result.Items {
			stats.TotalReturns++
			stats.CountsByStatus[ret.Status]++
			if ret.Status == domain.ReturnStatusCompleted {
				stats.TotalRefundAmount += ret.RefundAmount
				completed++
			}
		}
		if page >= result.TotalPages || len(result.Items) == 0 {
			break
		}
	}

	if completed > 0 {
		stats.AvgRefundAmount = stats.TotalRefundAmount / domain.Money(completed)
	}
	return stats, nil
}

// resolveOrder loads the referenced order by ID when given, otherwise by number.
func (s *returnsService) resolveOrder(ctx context.Context, orderID, orderNumber string) (domain.Order, error) {
	oid := strings.TrimSpace(orderID)
	number := strings.TrimSpace(orderNumber)

	var (
		order domain.Order
		err   error
	)
	switch {
	case oid != "":
		order, err = s.orders.FindByID(ctx, oid)
	case number != "":
		order, err = s.orders.FindByNumber(ctx, number)
	default:
		return domain.Order{}, fmt.Errorf("%w: an order reference is required", ErrReturnInvalidInput)
	}
	if err != nil {
		if isRepoNotFound(err) {
			return domain.Order{}, ErrReturnNotFound
		}
		return domain.Order{}, s.translateRepoError(err)
	}
	return order, nil
}

func (s *returnsService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrReturnNotFound
		case repoErr.IsConflict():
			return ErrReturnConflict
		case repoErr.IsUnavailable():
			return ErrReturnUnavailable
		}
		return ErrReturnUnavailable
	}
	return ErrReturnUnavailable
}
