package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// The helpers below read through the transaction carried by ctx when one is
// open and queue their writes on it; without a transaction they hit the
// client directly. A queued Create on an existing document surfaces as a
// conflict when the unit of work commits.

// GetDoc loads ref and decodes it into a T.
func GetDoc[T any](ctx context.Context, ref *firestore.DocumentRef) (T, error) {
	var (
		out  T
		snap *firestore.DocumentSnapshot
		err  error
	)
	if tx, ok := TxFromContext(ctx); ok {
		snap, err = tx.Get(ref)
	} else {
		snap, err = ref.Get(ctx)
	}
	if err != nil {
		return out, WrapError("get "+ref.Path, err)
	}
	if err := snap.DataTo(&out); err != nil {
		return out, fmt.Errorf("firestore: decode %s: %w", ref.ID, err)
	}
	return out, nil
}

// GetAll loads refs in order. Missing documents yield ok=false at their index.
func GetAll[T any](ctx context.Context, client *firestore.Client, refs []*firestore.DocumentRef) ([]T, []bool, error) {
	var (
		snaps []*firestore.DocumentSnapshot
		err   error
	)
	if tx, ok := TxFromContext(ctx); ok {
		snaps, err = tx.GetAll(refs)
	} else {
		snaps, err = client.GetAll(ctx, refs)
	}
	if err != nil {
		return nil, nil, WrapError("get_all", err)
	}
	out := make([]T, len(snaps))
	found := make([]bool, len(snaps))
	for i, snap := range snaps {
		if !snap.Exists() {
			continue
		}
		if err := snap.DataTo(&out[i]); err != nil {
			return nil, nil, fmt.Errorf("firestore: decode %s: %w", snap.Ref.ID, err)
		}
		found[i] = true
	}
	return out, found, nil
}

// SetDoc overwrites ref with data.
func SetDoc(ctx context.Context, ref *firestore.DocumentRef, data any, opts ...firestore.SetOption) error {
	if state, ok := stateFromContext(ctx); ok {
		state.queue(func(tx *firestore.Transaction) error {
			return WrapError("set "+ref.Path, tx.Set(ref, data, opts...))
		})
		return nil
	}
	_, err := ref.Set(ctx, data, opts...)
	return WrapError("set "+ref.Path, err)
}

// CreateDoc writes ref and fails with a conflict when it already exists.
func CreateDoc(ctx context.Context, ref *firestore.DocumentRef, data any) error {
	if state, ok := stateFromContext(ctx); ok {
		state.queue(func(tx *firestore.Transaction) error {
			return WrapError("create "+ref.Path, tx.Create(ref, data))
		})
		return nil
	}
	_, err := ref.Create(ctx, data)
	return WrapError("create "+ref.Path, err)
}

// UpdateDoc applies field updates to ref.
func UpdateDoc(ctx context.Context, ref *firestore.DocumentRef, updates []firestore.Update, preconds ...firestore.Precondition) error {
	if state, ok := stateFromContext(ctx); ok {
		state.queue(func(tx *firestore.Transaction) error {
			return WrapError("update "+ref.Path, tx.Update(ref, updates, preconds...))
		})
		return nil
	}
	_, err := ref.Update(ctx, updates, preconds...)
	return WrapError("update "+ref.Path, err)
}

// DeleteDoc removes ref.
func DeleteDoc(ctx context.Context, ref *firestore.DocumentRef, preconds ...firestore.Precondition) error {
	if state, ok := stateFromContext(ctx); ok {
		state.queue(func(tx *firestore.Transaction) error {
			return WrapError("delete "+ref.Path, tx.Delete(ref, preconds...))
		})
		return nil
	}
	_, err := ref.Delete(ctx, preconds...)
	return WrapError("delete "+ref.Path, err)
}

// Doc is a decoded document with its ID.
type Doc[T any] struct {
	ID   string
	Data T
}

// Query runs q and decodes every document. Inside a transaction the query is part of its read set.
func Query[T any](ctx context.Context, q firestore.Query) ([]Doc[T], error) {
	var iter *firestore.DocumentIterator
	if tx, ok := TxFromContext(ctx); ok {
		iter = tx.Documents(q)
	} else {
		iter = q.Documents(ctx)
	}
	defer iter.Stop()

	var out []Doc[T]
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, WrapError("query", err)
		}
		var item T
		if err := snap.DataTo(&item); err != nil {
			return nil, fmt.Errorf("firestore: decode %s: %w", snap.Ref.ID, err)
		}
		out = append(out, Doc[T]{ID: snap.Ref.ID, Data: item})
	}
}
