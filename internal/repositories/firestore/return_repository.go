package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/voltlane/api/internal/domain"
	pfirestore "github.com/voltlane/api/internal/platform/firestore"
	"github.com/voltlane/api/internal/repositories"
)

const (
	returnCollection       = "returns"
	returnNumberCollection = "returnNumbers"
)

// ReturnRepository persists return aggregates with a unique return-number
// index alongside.
type ReturnRepository struct {
	base     *pfirestore.BaseRepository[returnDocument]
	numbers  *pfirestore.BaseRepository[returnNumberDocument]
	provider *pfirestore.Provider
}

// NewReturnRepository constructs a Firestore-backed return repository.
func NewReturnRepository(provider *pfirestore.Provider) (*ReturnRepository, error) {
	if provider == nil {
		return nil, errors.New("return repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[returnDocument](provider, returnCollection, nil)
	numbers := pfirestore.NewBaseRepository[returnNumberDocument](provider, returnNumberCollection, nil)
	return &ReturnRepository{
		base:     base,
		numbers:  numbers,
		provider: provider,
	}, nil
}

// Create writes the return header and its number index entry in one
// transaction. A duplicate return number surfaces as a conflict.
func (r *ReturnRepository) Create(ctx context.Context, req repositories.ReturnCreateRequest) error {
	if r == nil || r.provider == nil {
		return errors.New("return repository not initialised")
	}
	ret := req.Return
	if strings.TrimSpace(ret.ID) == "" {
		return errors.New("return create: return id is required")
	}
	if strings.TrimSpace(ret.ReturnNumber) == "" {
		return errors.New("return create: return number is required")
	}
	if len(ret.Items) == 0 {
		return errors.New("return create: at least one item is required")
	}

	now := req.Now.UTC()

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		returnRef, err := r.base.DocumentRef(ctx, ret.ID)
		if err != nil {
			return err
		}
		numberRef, err := r.numbers.DocumentRef(ctx, ret.ReturnNumber)
		if err != nil {
			return err
		}

		numberDoc := returnNumberDocument{ReturnID: ret.ID, CreatedAt: now}
		if err := tx.Create(numberRef, numberDoc); err != nil {
			return err
		}
		return tx.Create(returnRef, newReturnDocument(ret, now))
	})
	return pfirestore.WrapError("returns.create", err)
}

// FindByID loads a return by surrogate ID.
func (r *ReturnRepository) FindByID(ctx context.Context, returnID string) (domain.Return, error) {
	if r == nil || r.base == nil {
		return domain.Return{}, errors.New("return repository not initialised")
	}
	rid := strings.TrimSpace(returnID)
	if rid == "" {
		return domain.Return{}, errors.New("return repository: return id is required")
	}

	doc, err := r.base.Get(ctx, rid)
	if err != nil {
		return domain.Return{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByNumber resolves the unique return number to a return.
func (r *ReturnRepository) FindByNumber(ctx context.Context, returnNumber string) (domain.Return, error) {
	if r == nil || r.numbers == nil {
		return domain.Return{}, errors.New("return repository not initialised")
	}
	number := strings.TrimSpace(returnNumber)
	if number == "" {
		return domain.Return{}, errors.New("return repository: return number is required")
	}

	doc, err := r.numbers.Get(ctx, number)
	if err != nil {
		return domain.Return{}, err
	}
	return r.FindByID(ctx, doc.Data.ReturnID)
}

// List returns an offset-paginated page of returns, newest first.
func (r *ReturnRepository) List(ctx context.Context, filter repositories.ReturnListFilter) (domain.Page[domain.Return], error) {
	if r == nil || r.base == nil {
		return domain.Page[domain.Return]{}, errors.New("return repository not initialised")
	}

	page := filter.Page.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Page.Limit
	if limit <= 0 {
		limit = defaultOrderPageLimit
	}
	if limit > maxOrderPageLimit {
		limit = maxOrderPageLimit
	}

	build := func(query firestore.Query) firestore.Query {
		if uid := strings.TrimSpace(filter.UserID); uid != "" {
			query = query.Where("userId", "==", uid)
		}
		if len(filter.Status) > 0 {
			statuses := make([]string, len(filter.Status))
			for i, s := range filter.Status {
				statuses[i] = string(s)
			}
			query = query.Where("status", "in", statuses)
		}
		return query.OrderBy("createdAt", firestore.Desc)
	}

	total, err := r.base.Count(ctx, build)
	if err != nil {
		return domain.Page[domain.Return]{}, err
	}

	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		return build(query).Offset((page - 1) * limit).Limit(limit)
	})
	if err != nil {
		return domain.Page[domain.Return]{}, err
	}

	returns := make([]domain.Return, len(docs))
	for i, doc := range docs {
		returns[i] = doc.Data.toDomain(doc.ID)
	}

	return domain.Page[domain.Return]{
		Items:      returns,
		Page:       page,
		Limit:      limit,
		TotalItems: total,
		TotalPages: (total + limit - 1) / limit,
	}, nil
}

// UpdateStatus writes the status change with its processing metadata.
func (r *ReturnRepository) UpdateStatus(ctx context.Context, update repositories.ReturnStatusUpdate) (domain.Return, error) {
	if r == nil || r.base == nil {
		return domain.Return{}, errors.New("return repository not initialised")
	}
	rid := strings.TrimSpace(update.ReturnID)
	if rid == "" {
		return domain.Return{}, errors.New("return status update: return id is required")
	}

	now := update.Now.UTC()
	updates := []firestore.Update{
		{Path: "status", Value: string(update.Status)},
		{Path: "updatedAt", Value: now},
	}
	if processedBy := strings.TrimSpace(update.ProcessedBy); processedBy != "" {
		updates = append(updates,
			firestore.Update{Path: "processedBy", Value: processedBy},
			firestore.Update{Path: "processedAt", Value: now},
		)
	}
	if update.AdminNotes != nil {
		updates = append(updates, firestore.Update{Path: "adminNotes", Value: strings.TrimSpace(*update.AdminNotes)})
	}
	if update.RefundMethod != nil {
		updates = append(updates, firestore.Update{Path: "refundMethod", Value: strings.TrimSpace(*update.RefundMethod)})
	}

	if _, err := r.base.Update(ctx, rid, updates); err != nil {
		return domain.Return{}, err
	}
	return r.FindByID(ctx, rid)
}

// UpdateRefundAmount overrides the refund amount on a pending return.
func (r *ReturnRepository) UpdateRefundAmount(ctx context.Context, returnID string, amount domain.Money, now time.Time) (domain.Return, error) {
	if r == nil || r.base == nil {
		return domain.Return{}, errors.New("return repository not initialised")
	}
	rid := strings.TrimSpace(returnID)
	if rid == "" {
		return domain.Return{}, errors.New("return refund update: return id is required")
	}

	updates := []firestore.Update{
		{Path: "refundAmount", Value: int64(amount)},
		{Path: "updatedAt", Value: now.UTC()},
	}
	if _, err := r.base.Update(ctx, rid, updates); err != nil {
		return domain.Return{}, err
	}
	return r.FindByID(ctx, rid)
}

// Helper structures ---------------------------------------------------------

type returnNumberDocument struct {
	ReturnID  string    `firestore:"returnId"`
	CreatedAt time.Time `firestore:"createdAt"`
}

type returnDocument struct {
	ReturnNumber  string               `firestore:"returnNumber"`
	OrderID       string               `firestore:"orderId"`
	OrderNumber   string               `firestore:"orderNumber"`
	UserID        string               `firestore:"userId"`
	Items         []returnItemDocument `firestore:"items"`
	Reason        string               `firestore:"reason"`
	RefundAmount  int64                `firestore:"refundAmount"`
	RefundMethod  string               `firestore:"refundMethod,omitempty"`
	CustomerNotes string               `firestore:"customerNotes,omitempty"`
	AdminNotes    string               `firestore:"adminNotes,omitempty"`
	Status        string               `firestore:"status"`
	ProcessedBy   string               `firestore:"processedBy,omitempty"`
	ProcessedAt   *time.Time           `firestore:"processedAt,omitempty"`
	CreatedAt     time.Time            `firestore:"createdAt"`
	UpdatedAt     time.Time            `firestore:"updatedAt"`
}

type returnItemDocument struct {
	ProductID      string `firestore:"productId"`
	ProductName    string `firestore:"productName"`
	ProductImage   string `firestore:"productImage,omitempty"`
	Quantity       int    `firestore:"quantity"`
	UnitPrice      int64  `firestore:"unitPrice"`
	Reason         string `firestore:"reason,omitempty"`
	ConditionNotes string `firestore:"conditionNotes,omitempty"`
}

func newReturnDocument(ret domain.Return, now time.Time) returnDocument {
	items := make([]returnItemDocument, len(ret.Items))
	for i, item := range ret.Items {
		items[i] = returnItemDocument{
			ProductID:      item.ProductID,
			ProductName:    item.ProductName,
			ProductImage:   item.ProductImage,
			Quantity:       item.Quantity,
			UnitPrice:      item.UnitPrice,
			Reason:         strings.TrimSpace(item.Reason),
			ConditionNotes: strings.TrimSpace(item.ConditionNotes),
		}
	}

	createdAt := ret.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = now
	}

	return returnDocument{
		ReturnNumber:  ret.ReturnNumber,
		OrderID:       ret.OrderID,
		OrderNumber:   ret.OrderNumber,
		UserID:        ret.UserID,
		Items:         items,
		Reason:        strings.TrimSpace(ret.Reason),
		RefundAmount:  ret.RefundAmount,
		RefundMethod:  strings.TrimSpace(ret.RefundMethod),
		CustomerNotes: strings.TrimSpace(ret.CustomerNotes),
		AdminNotes:    strings.TrimSpace(ret.AdminNotes),
		Status:        string(ret.Status),
		ProcessedBy:   strings.TrimSpace(ret.ProcessedBy),
		ProcessedAt:   ret.ProcessedAt,
		CreatedAt:     createdAt,
		UpdatedAt:     now,
	}
}

func (d returnDocument) toDomain(id string) domain.Return {
	items := make([]domain.ReturnItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.ReturnItem{
			ProductID:      item.ProductID,
			ProductName:    item.ProductName,
			ProductImage:   item.ProductImage,
			Quantity:       item.Quantity,
			UnitPrice:      item.UnitPrice,
			Reason:         item.Reason,
			ConditionNotes: item.ConditionNotes,
		}
	}
	return domain.Return{
		ID:            id,
		ReturnNumber:  d.ReturnNumber,
		OrderID:       d.OrderID,
		OrderNumber:   d.OrderNumber,
		UserID:        d.UserID,
		Items:         items,
		Reason:        d.Reason,
		RefundAmount:  d.RefundAmount,
		RefundMethod:  d.RefundMethod,
		CustomerNotes: d.CustomerNotes,
		AdminNotes:    d.AdminNotes,
		Status:        domain.ReturnStatus(d.Status),
		ProcessedBy:   d.ProcessedBy,
		ProcessedAt:   d.ProcessedAt,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

var _ repositories.ReturnRepository = (*ReturnRepository)(nil)
