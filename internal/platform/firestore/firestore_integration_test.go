//go:build integration

package firestore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/dingdong-ecommerce/api/internal/platform/firestore"
	"github.com/dingdong-ecommerce/api/internal/platform/firestore/firestoretest"
)

type stockDoc struct {
	Stock int `firestore:"stock"`
}

func TestDocumentHelpersInsideAndOutsideTransactions(t *testing.T) {
	provider := firestoretest.NewProvider(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	client, err := provider.Client(ctx)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	ref := client.Collection("variants").Doc("v1")

	if err := pfirestore.CreateDoc(ctx, ref, stockDoc{Stock: 3}); err != nil {
		t.Fatalf("create: %v", err)
	}
	err = pfirestore.CreateDoc(ctx, ref, stockDoc{Stock: 1})
	var classified interface{ IsConflict() bool }
	if !errors.As(err, &classified) || !classified.IsConflict() {
		t.Fatalf("expected conflict on duplicate create, got %v", err)
	}

	err = provider.RunInTx(ctx, func(ctx context.Context) error {
		doc, err := pfirestore.GetDoc[stockDoc](ctx, ref)
		if err != nil {
			return err
		}
		return pfirestore.SetDoc(ctx, ref, stockDoc{Stock: doc.Stock - 2})
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}

	sentinel := errors.New("rollback")
	err = provider.RunInTx(ctx, func(ctx context.Context) error {
		if err := pfirestore.UpdateDoc(ctx, ref, []firestore.Update{{Path: "stock", Value: 100}}); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel, got %v", err)
	}

	doc, err := pfirestore.GetDoc[stockDoc](ctx, ref)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc.Stock != 1 {
		t.Fatalf("expected stock 1 after commit and rollback, got %d", doc.Stock)
	}

	if _, err := pfirestore.GetDoc[stockDoc](ctx, client.Collection("variants").Doc("missing")); !pfirestore.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}
