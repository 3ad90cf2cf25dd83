package idempotency

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/Arpitray/commerce/internal/platform/firestore"
)

const (
	defaultCollection   = "idempotency_keys"
	defaultCleanupLimit = 100
	statusPending       = "pending"
	statusCompleted     = "completed"
)

type idempotencyDocument struct {
	UserID          string              `firestore:"user_id"`
	Fingerprint     string              `firestore:"fingerprint"`
	Status          string              `firestore:"status"`
	ResponseStatus  int                 `firestore:"response_status,omitempty"`
	ResponseHeaders map[string][]string `firestore:"response_headers,omitempty"`
	ResponseBody    []byte              `firestore:"response_body,omitempty"`
	UpdatedAt       time.Time           `firestore:"updated_at"`
	ExpiresAt       time.Time           `firestore:"expires_at"`
}

// FirestoreStore keeps records in a Firestore collection so replays work across instances.
type FirestoreStore struct {
	provider   *pfirestore.Provider
	collection string
}

// FirestoreOption customises a FirestoreStore.
type FirestoreOption func(*FirestoreStore)

// WithCollection overrides the collection name.
func WithCollection(name string) FirestoreOption {
	return func(s *FirestoreStore) {
		if name != "" {
			s.collection = name
		}
	}
}

// NewFirestoreStore builds a store on the shared Firestore provider.
func NewFirestoreStore(provider *pfirestore.Provider, opts ...FirestoreOption) *FirestoreStore {
	s := &FirestoreStore{provider: provider, collection: defaultCollection}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *FirestoreStore) doc(ctx context.Context, key Key) (*firestore.DocumentRef, *firestore.Client, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return nil, nil, err
	}
	return client.Collection(s.collection).Doc(key.ID()), client, nil
}

func (s *FirestoreStore) Reserve(ctx context.Context, key Key, now time.Time, ttl time.Duration) (Reservation, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ref, _, err := s.doc(ctx, key)
	if err != nil {
		return Reservation{}, err
	}
	now = now.UTC()

	var result Reservation
	err = s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if err == nil {
			var doc idempotencyDocument
			if err := snap.DataTo(&doc); err != nil {
				return err
			}
			if now.Before(doc.ExpiresAt) {
				if doc.Fingerprint != key.Fingerprint {
					return ErrFingerprintMismatch
				}
				result = doc.reservation()
				return nil
			}
		}

		fresh := idempotencyDocument{
			UserID:      key.UserID,
			Fingerprint: key.Fingerprint,
			Status:      statusPending,
			UpdatedAt:   now,
			ExpiresAt:   now.Add(ttl),
		}
		result = Reservation{Outcome: Acquired, ExpiresAt: fresh.ExpiresAt}
		return tx.Set(ref, fresh)
	})
	if errors.Is(err, ErrFingerprintMismatch) {
		return Reservation{}, ErrFingerprintMismatch
	}
	return result, err
}

func (s *FirestoreStore) Complete(ctx context.Context, key Key, resp Response, now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ref, _, err := s.doc(ctx, key)
	if err != nil {
		return err
	}
	now = now.UTC()
	done := idempotencyDocument{
		UserID:          key.UserID,
		Fingerprint:     key.Fingerprint,
		Status:          statusCompleted,
		ResponseStatus:  resp.Status,
		ResponseHeaders: replayableHeaders(resp.Headers),
		ResponseBody:    cloneBody(resp.Body),
		UpdatedAt:       now,
		ExpiresAt:       now.Add(ttl),
	}

	err = s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err == nil {
			var existing idempotencyDocument
			if err := snap.DataTo(&existing); err != nil {
				return err
			}
			if existing.Fingerprint != key.Fingerprint {
				return ErrFingerprintMismatch
			}
		} else if status.Code(err) != codes.NotFound {
			return err
		}
		return tx.Set(ref, done)
	})
	if errors.Is(err, ErrFingerprintMismatch) {
		return ErrFingerprintMismatch
	}
	return err
}

func (s *FirestoreStore) Release(ctx context.Context, key Key) error {
	ref, _, err := s.doc(ctx, key)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil && status.Code(err) != codes.NotFound {
		return pfirestore.WrapError("idempotency.release", err)
	}
	return nil
}

func (s *FirestoreStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultCleanupLimit
	}
	client, err := s.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	docs, err := client.Collection(s.collection).
		Where("expires_at", "<=", now.UTC()).
		Limit(limit).
		Documents(ctx).
		GetAll()
	if err != nil {
		return 0, pfirestore.WrapError("idempotency.cleanup", err)
	}
	if len(docs) == 0 {
		return 0, nil
	}

	writer := client.BulkWriter(ctx)
	for _, doc := range docs {
		if _, err := writer.Delete(doc.Ref); err != nil {
			writer.End()
			return 0, pfirestore.WrapError("idempotency.cleanup", err)
		}
	}
	writer.End()
	return len(docs), nil
}

func (d idempotencyDocument) reservation() Reservation {
	if d.Status != statusCompleted {
		return Reservation{Outcome: InFlight, ExpiresAt: d.ExpiresAt}
	}
	return Reservation{
		Outcome: Replay,
		Response: Response{
			Status:  d.ResponseStatus,
			Headers: d.ResponseHeaders,
			Body:    d.ResponseBody,
		},
		ExpiresAt: d.ExpiresAt,
	}
}
