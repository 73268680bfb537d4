package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/voltlane/api/internal/domain"
	pfirestore "github.com/voltlane/api/internal/platform/firestore"
	"github.com/voltlane/api/internal/repositories"
)

const cartCollection = "carts"

// CartRepository persists one cart document per user with embedded items.
// Item mutations run transactionally so the capacity check always sees the
// post-merge quantity.
type CartRepository struct {
	base     *pfirestore.BaseRepository[cartDocument]
	products *pfirestore.BaseRepository[productDocument]
	provider *pfirestore.Provider
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[cartDocument](provider, cartCollection, nil)
	products := pfirestore.NewBaseRepository[productDocument](provider, productCollection, nil)
	return &CartRepository{
		base:     base,
		products: products,
		provider: provider,
	}, nil
}

// GetCart loads the cart for the given user. A user without a stored cart
// gets an empty one.
func (r *CartRepository) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}

	doc, err := r.base.Get(ctx, uid)
	if err != nil {
		var repoErr *pfirestore.Error
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.Cart{UserID: uid, Items: []domain.CartItem{}}, nil
		}
		return domain.Cart{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// UpsertItem merges or replaces one cart line inside a transaction. The
// product's live stock is read in the same transaction and the post-merge
// quantity is checked against it.
func (r *CartRepository) UpsertItem(ctx context.Context, req repositories.CartItemUpsertRequest) (repositories.CartItemUpsertResult, error) {
	if r == nil || r.provider == nil {
		return repositories.CartItemUpsertResult{}, errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(req.UserID)
	if uid == "" {
		return repositories.CartItemUpsertResult{}, errors.New("cart upsert: user id is required")
	}
	pid := strings.TrimSpace(req.ProductID)
	if pid == "" {
		return repositories.CartItemUpsertResult{}, errors.New("cart upsert: product id is required")
	}
	if req.Quantity <= 0 {
		return repositories.CartItemUpsertResult{}, fmt.Errorf("cart upsert: quantity must be > 0, got %d", req.Quantity)
	}

	now := req.Now.UTC()
	var result repositories.CartItemUpsertResult

	// Cart lines are contended during sales; allow extra retries.
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		cartRef, err := r.base.DocumentRef(ctx, uid)
		if err != nil {
			return err
		}
		productRef, err := r.products.DocumentRef(ctx, pid)
		if err != nil {
			return err
		}

		var doc cartDocument
		cartSnap, err := tx.Get(cartRef)
		switch {
		case err == nil:
			if err := cartSnap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode cart %s: %w", uid, err)
			}
		case status.Code(err) == codes.NotFound:
			doc = cartDocument{CreatedAt: now}
		default:
			return err
		}

		productSnap, err := tx.Get(productRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				stockErr := repositories.NewStockError(repositories.StockErrorProductNotFound, fmt.Sprintf("product %s not found", pid), err)
				stockErr.ProductID = pid
				stockErr.Requested = req.Quantity
				return stockErr
			}
			return err
		}
		var productDoc productDocument
		if err := productSnap.DataTo(&productDoc); err != nil {
			return fmt.Errorf("decode product %s: %w", pid, err)
		}
		product := productDoc.toDomain(pid)

		idx := -1
		for i, item := range doc.Items {
			if item.ProductID == pid {
				idx = i
				break
			}
		}

		target := req.Quantity
		if req.Mode == repositories.CartUpsertAdd && idx >= 0 {
			target = doc.Items[idx].Quantity + req.Quantity
		}
		if req.MaxQuantity > 0 && target > req.MaxQuantity {
			target = req.MaxQuantity
		}

		if !product.HasCapacity(target) {
			stockErr := repositories.NewStockError(repositories.StockErrorInsufficient, fmt.Sprintf("insufficient stock for %s", pid), nil)
			stockErr.ProductID = pid
			stockErr.Requested = target
			stockErr.Available = product.Available()
			return stockErr
		}

		created := idx < 0
		if created {
			doc.Items = append(doc.Items, cartItemDocument{
				ProductID: pid,
				Quantity:  target,
				AddedAt:   now,
				UpdatedAt: now,
			})
		} else {
			doc.Items[idx].Quantity = target
			doc.Items[idx].UpdatedAt = now
		}
		if doc.CreatedAt.IsZero() {
			doc.CreatedAt = now
		}
		doc.UpdatedAt = now

		if err := tx.Set(cartRef, doc); err != nil {
			return err
		}

		result = repositories.CartItemUpsertResult{
			Cart:     doc.toDomain(uid),
			Quantity: target,
			Created:  created,
		}
		return nil
	}, pfirestore.WithTxAttempts(8))
	if err != nil {
		return repositories.CartItemUpsertResult{}, wrapStockError("carts.upsertItem", err)
	}
	return result, nil
}

// RemoveItem drops one product line from the cart. Removing a line that is
// not present fails with a not-found error.
func (r *CartRepository) RemoveItem(ctx context.Context, userID string, productID string, now time.Time) (domain.Cart, error) {
	if r == nil || r.provider == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.Cart{}, errors.New("cart remove: user id is required")
	}
	pid := strings.TrimSpace(productID)
	if pid == "" {
		return domain.Cart{}, errors.New("cart remove: product id is required")
	}

	ts := now.UTC()
	var cart domain.Cart

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		cartRef, err := r.base.DocumentRef(ctx, uid)
		if err != nil {
			return err
		}
		snap, err := tx.Get(cartRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return status.Errorf(codes.NotFound, "cart %s has no line for product %s", uid, pid)
			}
			return err
		}
		var doc cartDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode cart %s: %w", uid, err)
		}

		kept := doc.Items[:0]
		removed := false
		for _, item := range doc.Items {
			if item.ProductID == pid {
				removed = true
				continue
			}
			kept = append(kept, item)
		}
		if !removed {
			return status.Errorf(codes.NotFound, "cart %s has no line for product %s", uid, pid)
		}
		doc.Items = kept
		doc.UpdatedAt = ts
		if err := tx.Set(cartRef, doc); err != nil {
			return err
		}
		cart = doc.toDomain(uid)
		return nil
	})
	if err != nil {
		return domain.Cart{}, pfirestore.WrapError("carts.removeItem", err)
	}
	return cart, nil
}

// ClearItems empties the cart and reports how many lines were removed.
func (r *CartRepository) ClearItems(ctx context.Context, userID string, now time.Time) (int, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return 0, errors.New("cart clear: user id is required")
	}

	ts := now.UTC()
	removed := 0

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		cartRef, err := r.base.DocumentRef(ctx, uid)
		if err != nil {
			return err
		}
		snap, err := tx.Get(cartRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				removed = 0
				return nil
			}
			return err
		}
		var doc cartDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode cart %s: %w", uid, err)
		}

		removed = len(doc.Items)
		if removed == 0 {
			return nil
		}
		doc.Items = nil
		doc.UpdatedAt = ts
		return tx.Set(cartRef, doc)
	})
	if err != nil {
		return 0, pfirestore.WrapError("carts.clearItems", err)
	}
	return removed, nil
}

func wrapStockError(op string, err error) error {
	if err == nil {
		return nil
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		if stockErr.Op == "" {
			stockErr.Op = op
		}
		return stockErr
	}
	return pfirestore.WrapError(op, err)
}

type cartDocument struct {
	Items     []cartItemDocument `firestore:"items"`
	CreatedAt time.Time          `firestore:"createdAt"`
	UpdatedAt time.Time          `firestore:"updatedAt"`
}

type cartItemDocument struct {
	ProductID string    `firestore:"productId"`
	Quantity  int       `firestore:"quantity"`
	AddedAt   time.Time `firestore:"addedAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (d cartDocument) toDomain(userID string) domain.Cart {
	items := make([]domain.CartItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.CartItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			AddedAt:   item.AddedAt,
			UpdatedAt: item.UpdatedAt,
		}
	}
	return domain.Cart{
		UserID:    userID,
		Items:     items,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

var _ repositories.CartRepository = (*CartRepository)(nil)
