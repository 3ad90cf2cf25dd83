package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// Document represents a strongly typed Firestore document with metadata timestamps.
type Document[T any] struct {
	ID         string
	Data       T
	CreateTime time.Time
	UpdateTime time.Time
}

// MutationResult captures the update timestamp returned by Firestore mutations.
type MutationResult struct {
	UpdateTime time.Time
}

// Decoder hydrates the strongly typed entity from a snapshot.
type Decoder[T any] func(snap *firestore.DocumentSnapshot) (T, error)

// QueryBuilder customises Firestore queries before execution.
type QueryBuilder func(query firestore.Query) firestore.Query

// PathFunc resolves the collection path for a parent key, e.g. "carts/{uid}/items".
type PathFunc func(parent string) string

// Subcollection provides typed helpers over a collection nested under a parent document.
type Subcollection[T any] struct {
	provider *Provider
	name     string
	path     PathFunc
	decode   Decoder[T]
}

// NewSubcollection binds typed helpers to the collections produced by path. A nil decoder uses
// Firestore struct decoding.
func NewSubcollection[T any](provider *Provider, name string, path PathFunc, decode Decoder[T]) *Subcollection[T] {
	if decode == nil {
		decode = StructDecoder[T]()
	}
	return &Subcollection[T]{
		provider: provider,
		name:     strings.TrimSpace(name),
		path:     path,
		decode:   decode,
	}
}

// Set writes value under parent/id. Options such as firestore.MergeAll are passed through.
func (s *Subcollection[T]) Set(ctx context.Context, parent, id string, value any, opts ...firestore.SetOption) (MutationResult, error) {
	doc, err := s.DocumentRef(ctx, parent, id)
	if err != nil {
		return MutationResult{}, err
	}
	result, err := doc.Set(ctx, value, opts...)
	if err != nil {
		return MutationResult{}, WrapError(s.op("set"), err)
	}
	return MutationResult{UpdateTime: result.UpdateTime}, nil
}

// Update applies partial updates to an existing document.
func (s *Subcollection[T]) Update(ctx context.Context, parent, id string, updates []firestore.Update, opts ...firestore.Precondition) (MutationResult, error) {
	doc, err := s.DocumentRef(ctx, parent, id)
	if err != nil {
		return MutationResult{}, err
	}
	result, err := doc.Update(ctx, updates, opts...)
	if err != nil {
		return MutationResult{}, WrapError(s.op("update"), err)
	}
	return MutationResult{UpdateTime: result.UpdateTime}, nil
}

// Get fetches and decodes parent/id.
func (s *Subcollection[T]) Get(ctx context.Context, parent, id string) (Document[T], error) {
	doc, err := s.DocumentRef(ctx, parent, id)
	if err != nil {
		return Document[T]{}, err
	}
	snapshot, err := doc.Get(ctx)
	if err != nil {
		return Document[T]{}, WrapError(s.op("get"), err)
	}
	return s.decodeDocument(snapshot)
}

// Delete removes parent/id. Deleting a missing document succeeds.
func (s *Subcollection[T]) Delete(ctx context.Context, parent, id string) error {
	doc, err := s.DocumentRef(ctx, parent, id)
	if err != nil {
		return err
	}
	if _, err := doc.Delete(ctx); err != nil {
		return WrapError(s.op("delete"), err)
	}
	return nil
}

// Query runs a query over the parent's collection and decodes every document.
func (s *Subcollection[T]) Query(ctx context.Context, parent string, build QueryBuilder) ([]Document[T], error) {
	coll, err := s.collectionRef(ctx, parent)
	if err != nil {
		return nil, err
	}
	query := coll.Query
	if build != nil {
		query = build(query)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var docs []Document[T]
	for {
		snapshot, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, WrapError(s.op("query"), err)
		}
		decoded, err := s.decodeDocument(snapshot)
		if err != nil {
			return nil, fmt.Errorf("firestore: decode document %s: %w", snapshot.Ref.ID, err)
		}
		docs = append(docs, decoded)
	}
	return docs, nil
}

// DeleteAll removes every document in the parent's collection using a bulk writer.
func (s *Subcollection[T]) DeleteAll(ctx context.Context, parent string) (int, error) {
	coll, err := s.collectionRef(ctx, parent)
	if err != nil {
		return 0, err
	}
	client, err := s.provider.Client(ctx)
	if err != nil {
		return 0, err
	}

	refs, err := coll.DocumentRefs(ctx).GetAll()
	if err != nil {
		return 0, WrapError(s.op("list"), err)
	}
	if len(refs) == 0 {
		return 0, nil
	}

	writer := client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(refs))
	for _, ref := range refs {
		job, err := writer.Delete(ref)
		if err != nil {
			writer.End()
			return 0, WrapError(s.op("delete_all"), err)
		}
		jobs = append(jobs, job)
	}
	writer.End()

	var errs []error
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return len(refs) - len(errs), WrapError(s.op("delete_all"), errors.Join(errs...))
	}
	return len(refs), nil
}

// DocumentRef exposes the document reference for transactional access.
func (s *Subcollection[T]) DocumentRef(ctx context.Context, parent, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, WrapError(s.op("document"), errors.New("firestore: document id is required"))
	}
	coll, err := s.collectionRef(ctx, parent)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

// Decode converts a snapshot read inside a transaction.
func (s *Subcollection[T]) Decode(snapshot *firestore.DocumentSnapshot) (Document[T], error) {
	return s.decodeDocument(snapshot)
}

func (s *Subcollection[T]) decodeDocument(snapshot *firestore.DocumentSnapshot) (Document[T], error) {
	entity, err := s.decode(snapshot)
	if err != nil {
		return Document[T]{}, err
	}
	return Document[T]{
		ID:         snapshot.Ref.ID,
		Data:       entity,
		CreateTime: snapshot.CreateTime,
		UpdateTime: snapshot.UpdateTime,
	}, nil
}

func (s *Subcollection[T]) collectionRef(ctx context.Context, parent string) (*firestore.CollectionRef, error) {
	if s == nil || s.provider == nil {
		return nil, WrapError(s.op("collection"), errors.New("firestore: provider is nil"))
	}
	if s.path == nil {
		return nil, WrapError(s.op("collection"), errors.New("firestore: collection path is required"))
	}
	parent = strings.TrimSpace(parent)
	if parent == "" || strings.Contains(parent, "/") {
		return nil, WrapError(s.op("collection"), fmt.Errorf("firestore: invalid parent key %q", parent))
	}
	client, err := s.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(s.path(parent)), nil
}

func (s *Subcollection[T]) op(action string) string {
	name := "firestore"
	if s != nil && s.name != "" {
		name = s.name
	}
	return fmt.Sprintf("%s.%s", name, strings.ToLower(action))
}

// StructDecoder populates the target struct using Firestore's native decoding.
func StructDecoder[T any]() Decoder[T] {
	return func(snap *firestore.DocumentSnapshot) (T, error) {
		var target T
		if err := snap.DataTo(&target); err != nil {
			return target, err
		}
		return target, nil
	}
}
