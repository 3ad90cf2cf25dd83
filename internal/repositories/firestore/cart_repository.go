package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/Arpitray/commerce/internal/domain"
	pfirestore "github.com/Arpitray/commerce/internal/platform/firestore"
	"github.com/Arpitray/commerce/internal/repositories"
)

const (
	cartCollection     = "carts"
	cartItemCollection = "items"
)

// CartRepository persists cart lines under carts/{userID}/items/{productID}.
type CartRepository struct {
	items    *pfirestore.Subcollection[cartItemDocument]
	provider *pfirestore.Provider
	now      func() time.Time
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	items := pfirestore.NewSubcollection[cartItemDocument](provider, "cart_items", cartItemsPath, nil)
	return &CartRepository{
		items:    items,
		provider: provider,
		now:      time.Now,
	}, nil
}

var _ repositories.CartRepository = (*CartRepository)(nil)

func cartItemsPath(userID string) string {
	return cartCollection + "/" + userID + "/" + cartItemCollection
}

// IncrementLine reads the current quantity and writes the sum inside a transaction so concurrent
// increments for the same line do not lose updates.
func (r *CartRepository) IncrementLine(ctx context.Context, userID string, productID domain.ProductID, delta int) (domain.RemoteCartLine, error) {
	if r == nil || r.items == nil {
		return domain.RemoteCartLine{}, errors.New("cart repository not initialised")
	}
	userID, docID, err := lineKey(userID, productID)
	if err != nil {
		return domain.RemoteCartLine{}, err
	}

	var saved domain.RemoteCartLine
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.items.DocumentRef(ctx, userID, docID)
		if err != nil {
			return err
		}
		now := r.now().UTC()
		current := cartItemDocument{ProductID: docID, CreatedAt: now}
		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			decoded, err := r.items.Decode(snap)
			if err != nil {
				return err
			}
			current = decoded.Data
		case status.Code(err) == codes.NotFound:
		default:
			return err
		}

		current.Quantity += delta
		current.UpdatedAt = now
		if current.CreatedAt.IsZero() {
			current.CreatedAt = now
		}
		saved = current.toDomain(userID)
		if current.Quantity <= 0 {
			saved.Quantity = 0
			return tx.Delete(ref)
		}
		return tx.Set(ref, current)
	})
	if err != nil {
		return domain.RemoteCartLine{}, pfirestore.WrapError("cart_items.increment", err)
	}
	return saved, nil
}

// SetLineQuantity overwrites the stored quantity while preserving the original creation time.
func (r *CartRepository) SetLineQuantity(ctx context.Context, userID string, productID domain.ProductID, quantity int) (domain.RemoteCartLine, error) {
	if r == nil || r.items == nil {
		return domain.RemoteCartLine{}, errors.New("cart repository not initialised")
	}
	userID, docID, err := lineKey(userID, productID)
	if err != nil {
		return domain.RemoteCartLine{}, err
	}
	now := r.now().UTC()
	if quantity <= 0 {
		if err := r.items.Delete(ctx, userID, docID); err != nil {
			return domain.RemoteCartLine{}, err
		}
		return domain.RemoteCartLine{UserID: userID, ProductID: productID, UpdatedAt: now}, nil
	}

	var saved domain.RemoteCartLine
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.items.DocumentRef(ctx, userID, docID)
		if err != nil {
			return err
		}
		doc := cartItemDocument{ProductID: docID, Quantity: quantity, CreatedAt: now, UpdatedAt: now}
		snap, err := tx.Get(ref)
		if err == nil {
			if existing, decodeErr := r.items.Decode(snap); decodeErr == nil && !existing.Data.CreatedAt.IsZero() {
				doc.CreatedAt = existing.Data.CreatedAt
			}
		} else if status.Code(err) != codes.NotFound {
			return err
		}
		saved = doc.toDomain(userID)
		return tx.Set(ref, doc)
	})
	if err != nil {
		return domain.RemoteCartLine{}, pfirestore.WrapError("cart_items.set_quantity", err)
	}
	return saved, nil
}

// DeleteLine removes a single line.
func (r *CartRepository) DeleteLine(ctx context.Context, userID string, productID domain.ProductID) error {
	if r == nil || r.items == nil {
		return errors.New("cart repository not initialised")
	}
	userID, docID, err := lineKey(userID, productID)
	if err != nil {
		return err
	}
	return r.items.Delete(ctx, userID, docID)
}

// DeleteAll removes every line owned by userID.
func (r *CartRepository) DeleteAll(ctx context.Context, userID string) error {
	if r == nil || r.items == nil {
		return errors.New("cart repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("cart repository: user id is required")
	}
	_, err := r.items.DeleteAll(ctx, userID)
	return err
}

// ListLines returns the user's lines ordered by creation time.
func (r *CartRepository) ListLines(ctx context.Context, userID string) ([]domain.RemoteCartLine, error) {
	if r == nil || r.items == nil {
		return nil, errors.New("cart repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("cart repository: user id is required")
	}
	docs, err := r.items.Query(ctx, userID, func(q firestore.Query) firestore.Query {
		return q.OrderBy("createdAt", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	lines := make([]domain.RemoteCartLine, 0, len(docs))
	for _, doc := range docs {
		if doc.Data.ProductID == "" {
			doc.Data.ProductID = doc.ID
		}
		if doc.Data.Quantity <= 0 {
			continue
		}
		lines = append(lines, doc.Data.toDomain(userID))
	}
	return lines, nil
}

func lineKey(userID string, productID domain.ProductID) (string, string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", "", errors.New("cart repository: user id is required")
	}
	docID := strings.TrimSpace(productID.String())
	if docID == "" || strings.Contains(docID, "/") {
		return "", "", errors.New("cart repository: invalid product id")
	}
	return userID, docID, nil
}

type cartItemDocument struct {
	ProductID string    `firestore:"productId"`
	Quantity  int       `firestore:"quantity"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (d cartItemDocument) toDomain(userID string) domain.RemoteCartLine {
	return domain.RemoteCartLine{
		UserID:    userID,
		ProductID: domain.ProductID(d.ProductID),
		Quantity:  d.Quantity,
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}
}
