// Package firestore contains the Firestore-backed repository implementations.
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

const productCollection = "products"

// ProductRepository reads the product catalog and adjusts stock counters
// inside caller-supplied transactions. Catalog writes belong to another
// subsystem.
type ProductRepository struct {
	base     *pfirestore.BaseRepository[productDocument]
	provider *pfirestore.Provider
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[productDocument](provider, productCollection, nil)
	return &ProductRepository{
		base:     base,
		provider: provider,
	}, nil
}

// FindByID loads a single product.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	pid := strings.TrimSpace(productID)
	if pid == "" {
		return domain.Product{}, errors.New("product repository: product id is required")
	}

	doc, err := r.base.Get(ctx, pid)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByIDs loads the given products in one batch. Missing products are
// omitted from the result rather than treated as errors so callers can report
// stale references line by line.
func (r *ProductRepository) FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("product repository not initialised")
	}

	products := make(map[string]domain.Product, len(productIDs))
	if len(productIDs) == 0 {
		return products, nil
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}

	refs := make([]*firestore.DocumentRef, 0, len(productIDs))
	seen := make(map[string]struct{}, len(productIDs))
	for _, id := range productIDs {
		pid := strings.TrimSpace(id)
		if pid == "" {
			continue
		}
		if _, ok := seen[pid]; ok {
			continue
		}
		seen[pid] = struct{}{}
		refs = append(refs, client.Collection(productCollection).Doc(pid))
	}

	snaps, err := client.GetAll(ctx, refs)
	if err != nil {
		return nil, pfirestore.WrapError("products.findByIds", err)
	}
	for _, snap := range snaps {
		if !snap.Exists() {
			continue
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode product %s: %w", snap.Ref.ID, err)
		}
		products[snap.Ref.ID] = doc.toDomain(snap.Ref.ID)
	}
	return products, nil
}

// stockWrite is a pending product mutation prepared during a transaction's
// read phase and applied after all reads complete.
type stockWrite struct {
	ref *firestore.DocumentRef
	doc productDocument
}

// prepareStockDecrement reads every product touched by the order and verifies
// capacity against the live counters. Firestore requires all transaction
// reads before the first write, so the mutations are returned for the caller
// to apply.
func (r *ProductRepository) prepareStockDecrement(ctx context.Context, tx *firestore.Transaction, lines []repositories.StockLine, now time.Time) ([]stockWrite, error) {
	writes := make([]stockWrite, 0, len(lines))
	for _, line := range lines {
		pid := strings.TrimSpace(line.ProductID)
		if pid == "" {
			return nil, repositories.NewStockError(repositories.StockErrorProductNotFound, "stock decrement: product id is required", nil)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("stock decrement: quantity for %s must be > 0", pid)
		}

		ref, err := r.base.DocumentRef(ctx, pid)
		if err != nil {
			return nil, err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				stockErr := repositories.NewStockError(repositories.StockErrorProductNotFound, fmt.Sprintf("product %s not found", pid), err)
				stockErr.ProductID = pid
				stockErr.Requested = line.Quantity
				return nil, stockErr
			}
			return nil, err
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode product %s: %w", pid, err)
		}
		if !doc.TrackInventory {
			continue
		}
		if doc.Stock < line.Quantity {
			stockErr := repositories.NewStockError(repositories.StockErrorInsufficient, fmt.Sprintf("insufficient stock for %s", pid), nil)
			stockErr.ProductID = pid
			stockErr.Requested = line.Quantity
			stockErr.Available = doc.Stock
			return nil, stockErr
		}
		doc.Stock -= line.Quantity
		doc.InStock = doc.Stock > 0
		doc.UpdatedAt = now
		writes = append(writes, stockWrite{ref: ref, doc: doc})
	}
	return writes, nil
}

// prepareStockRestore reads the products of a cancelled order and returns the
// compensating increments. Products removed from the catalog since the order
// was placed are skipped.
func (r *ProductRepository) prepareStockRestore(ctx context.Context, tx *firestore.Transaction, lines []repositories.StockLine, now time.Time) ([]stockWrite, error) {
	writes := make([]stockWrite, 0, len(lines))
	for _, line := range lines {
		pid := strings.TrimSpace(line.ProductID)
		if pid == "" || line.Quantity <= 0 {
			continue
		}

		ref, err := r.base.DocumentRef(ctx, pid)
		if err != nil {
			return nil, err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				continue
			}
			return nil, err
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode product %s: %w", pid, err)
		}
		if !doc.TrackInventory {
			continue
		}
		doc.Stock += line.Quantity
		doc.InStock = doc.Stock > 0
		doc.UpdatedAt = now
		writes = append(writes, stockWrite{ref: ref, doc: doc})
	}
	return writes, nil
}

func applyStockWrites(tx *firestore.Transaction, writes []stockWrite) error {
	for _, write := range writes {
		if err := tx.Set(write.ref, write.doc); err != nil {
			return err
		}
	}
	return nil
}

type productDocument struct {
	Name           string    `firestore:"name"`
	Slug           string    `firestore:"slug"`
	Image          string    `firestore:"image,omitempty"`
	Category       string    `firestore:"category,omitempty"`
	PowerLevel     int       `firestore:"powerLevel,omitempty"`
	Price          int64     `firestore:"price"`
	CompareAtPrice int64     `firestore:"compareAtPrice,omitempty"`
	Stock          int       `firestore:"stock"`
	TrackInventory bool      `firestore:"trackInventory"`
	InStock        bool      `firestore:"inStock"`
	UpdatedAt      time.Time `firestore:"updatedAt"`
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:             id,
		Name:           strings.TrimSpace(d.Name),
		Slug:           strings.TrimSpace(d.Slug),
		Image:          strings.TrimSpace(d.Image),
		Category:       strings.TrimSpace(d.Category),
		PowerLevel:     d.PowerLevel,
		Price:          d.Price,
		CompareAtPrice: d.CompareAtPrice,
		Stock:          d.Stock,
		TrackInventory: d.TrackInventory,
		InStock:        d.InStock,
		UpdatedAt:      d.UpdatedAt,
	}
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)
