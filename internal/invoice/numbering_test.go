package invoice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/checkout-system/internal/model"
	"github.com/mmeshcher/checkout-system/internal/repository"
)

type numberingStore struct {
	mu       sync.Mutex
	byNumber map[string]*model.Invoice
	byOrder  map[uuid.UUID]*model.Invoice
	nextID   int64

	// collisions задаёт, сколько первых вставок отвергнуть как занятый номер.
	collisions int
	inserts    int
}

func newNumberingStore() *numberingStore {
	return &numberingStore{
		byNumber: make(map[string]*model.Invoice),
		byOrder:  make(map[uuid.UUID]*model.Invoice),
	}
}

func (s *numberingStore) CountInvoices(ctx context.Context, jurisdiction string, year int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, inv := range s.byNumber {
		if inv.Jurisdiction == jurisdiction && inv.IssuedAt.Year() == year {
			count++
		}
	}
	return count, nil
}

func (s *numberingStore) InsertInvoice(ctx context.Context, orderID uuid.UUID, number, jurisdiction, artifactURL string) (*model.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserts++
	if s.collisions > 0 {
		s.collisions--
		return nil, repository.ErrInvoiceNumberTaken
	}
	if inv, ok := s.byOrder[orderID]; ok {
		cp := *inv
		return &cp, nil
	}
	if _, ok := s.byNumber[number]; ok {
		return nil, repository.ErrInvoiceNumberTaken
	}
	s.nextID++
	inv := &model.Invoice{
		ID:           s.nextID,
		OrderID:      orderID,
		Number:       number,
		Jurisdiction: jurisdiction,
		ArtifactURL:  artifactURL,
		IssuedAt:     time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC),
	}
	s.byNumber[number] = inv
	s.byOrder[orderID] = inv
	cp := *inv
	return &cp, nil
}

func TestIssueNumberedSequence(t *testing.T) {
	store := newNumberingStore()
	n := NewNumbering(store)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		inv, err := n.IssueNumbered(context.Background(), uuid.New(), "CL", 2026)
		if err != nil {
			t.Fatalf("issue %d: %v", i, err)
		}
		want := fmt.Sprintf("INV-CL-2026-%06d", i+1)
		if inv.Number != want {
			t.Fatalf("number = %s, want %s", inv.Number, want)
		}
		if seen[inv.Number] {
			t.Fatalf("duplicate number %s", inv.Number)
		}
		seen[inv.Number] = true
		if inv.ArtifactURL != fmt.Sprintf("invoices/2026/%s.pdf", inv.Number) {
			t.Fatalf("unexpected artifact url %s", inv.ArtifactURL)
		}
	}
}

func TestIssueNumberedRetriesOnCollision(t *testing.T) {
	store := newNumberingStore()
	store.collisions = 2
	n := NewNumbering(store)

	inv, err := n.IssueNumbered(context.Background(), uuid.New(), "CL", 2026)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if inv.Number != "INV-CL-2026-000001" {
		t.Fatalf("number = %s, want INV-CL-2026-000001", inv.Number)
	}
	if store.inserts != 3 {
		t.Fatalf("inserts = %d, want 3", store.inserts)
	}
}

func TestIssueNumberedExhausted(t *testing.T) {
	store := newNumberingStore()
	store.collisions = 100
	n := NewNumbering(store)

	_, err := n.IssueNumbered(context.Background(), uuid.New(), "CL", 2026)
	if !errors.Is(err, ErrNumberingExhausted) {
		t.Fatalf("err = %v, want ErrNumberingExhausted", err)
	}
	if store.inserts != 3 {
		t.Fatalf("inserts = %d, want 3", store.inserts)
	}
}

func TestNextNumberIndependentPerJurisdiction(t *testing.T) {
	store := newNumberingStore()
	n := NewNumbering(store)

	if _, err := n.IssueNumbered(context.Background(), uuid.New(), "CL", 2026); err != nil {
		t.Fatalf("issue CL: %v", err)
	}

	number, err := n.NextNumber(context.Background(), "ES", 2026)
	if err != nil {
		t.Fatalf("next number: %v", err)
	}
	if number != "INV-ES-2026-000001" {
		t.Fatalf("number = %s, want INV-ES-2026-000001", number)
	}
}
