package firestore

import (
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/nihonselect/api/internal/domain"
	pfirestore "github.com/nihonselect/api/internal/platform/firestore"
	"github.com/nihonselect/api/internal/platform/pagination"
)

func TestBuildPageEmitsCursorOnlyWhenMoreRemain(t *testing.T) {
	base := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	docs := make([]pfirestore.Document[productDocument], 0, 3)
	for i, id := range []string{"prd_c", "prd_b", "prd_a"} {
		docs = append(docs, pfirestore.Document[productDocument]{
			ID:   id,
			Data: productDocument{Title: id, Status: "active", CreatedAt: base.Add(-time.Duration(i) * time.Hour)},
		})
	}
	createdAt := func(d productDocument) time.Time { return d.CreatedAt }

	page := buildPage(docs, 2, createdAt, toDomainProduct)
	if len(page.Items) != 2 || page.Items[0].ID != "prd_c" || page.Items[1].ID != "prd_b" {
		t.Fatalf("unexpected items %#v", page.Items)
	}
	if page.Items[0].Status != domain.ProductStatusActive {
		t.Fatalf("expected status to convert, got %q", page.Items[0].Status)
	}
	cursor, err := pagination.DecodeToken(page.NextPageToken)
	if err != nil {
		t.Fatalf("decode token: %v", err)
	}
	if cursor.ID != "prd_b" || !cursor.CreatedAt.Equal(base.Add(-time.Hour)) {
		t.Fatalf("expected cursor at last returned item, got %#v", cursor)
	}

	last := buildPage(docs, 3, createdAt, toDomainProduct)
	if len(last.Items) != 3 || last.NextPageToken != "" {
		t.Fatalf("expected final page without token, got %d items token=%q", len(last.Items), last.NextPageToken)
	}
}

// TestBuildPageWalkVisitsEveryDocumentOnce replays the query semantics of pageQuery in memory:
// documents strictly after the cursor in (createdAt desc, id desc) order, limited to size+1.
func TestBuildPageWalkVisitsEveryDocumentOnce(t *testing.T) {
	base := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	all := make([]pfirestore.Document[productDocument], 0, 23)
	for i := 0; i < 23; i++ {
		// Pairs share a timestamp so the id tiebreak is exercised.
		all = append(all, pfirestore.Document[productDocument]{
			ID:   fmt.Sprintf("prd_%02d", i),
			Data: productDocument{Title: "t", Status: "active", CreatedAt: base.Add(time.Duration(i/2) * time.Minute)},
		})
	}
	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if !a.Data.CreatedAt.Equal(b.Data.CreatedAt) {
			return a.Data.CreatedAt.After(b.Data.CreatedAt)
		}
		return a.ID > b.ID
	})
	after := func(doc pfirestore.Document[productDocument], cursor pagination.Cursor) bool {
		if cursor.IsZero() {
			return true
		}
		if !doc.Data.CreatedAt.Equal(cursor.CreatedAt) {
			return doc.Data.CreatedAt.Before(cursor.CreatedAt)
		}
		return doc.ID < cursor.ID
	}
	createdAt := func(d productDocument) time.Time { return d.CreatedAt }

	for _, size := range []int{1, 4, 5, 23, 50} {
		seen := make(map[string]int)
		token := ""
		for pages := 0; ; pages++ {
			if pages > len(all)+1 {
				t.Fatalf("size %d: walk did not terminate", size)
			}
			cursor, err := pagination.DecodeToken(token)
			if err != nil {
				t.Fatalf("size %d: decode token: %v", size, err)
			}
			window := make([]pfirestore.Document[productDocument], 0, size+1)
			for _, doc := range all {
				if after(doc, cursor) && len(window) < size+1 {
					window = append(window, doc)
				}
			}
			page := buildPage(window, size, createdAt, toDomainProduct)
			for _, item := range page.Items {
				seen[item.ID]++
			}
			if page.NextPageToken == "" {
				break
			}
			token = page.NextPageToken
		}
		if len(seen) != len(all) {
			t.Fatalf("size %d: expected %d ids, got %d", size, len(all), len(seen))
		}
		for id, count := range seen {
			if count != 1 {
				t.Fatalf("size %d: id %s returned %d times", size, id, count)
			}
		}
	}
}

func TestPageQueryRejectsMalformedToken(t *testing.T) {
	if _, _, err := pageQuery(firestore.Query{}, domain.Pagination{PageToken: "%%%"}); !errors.Is(err, pagination.ErrInvalidPageToken) {
		t.Fatalf("expected invalid page token, got %v", err)
	}
}

func TestOrderDocumentRoundTripKeepsMoney(t *testing.T) {
	fee := int64(800)
	captured := int64(2000)
	order := domain.Order{
		ID:             "ord_1",
		Items:          []domain.LineItem{{ProductID: "prd_a", OriginalPrice: 500, Price: 600, Quantity: 2}},
		Subtotal:       1200,
		ShippingFee:    &fee,
		Total:          2000,
		CapturedAmount: &captured,
		PaymentStatus:  domain.PaymentStatusCaptured,
		OrderStatus:    domain.OrderStatusDelivered,
		Version:        4,
		CreatedAt:      time.Date(2025, 4, 1, 9, 0, 0, 0, time.FixedZone("JST", 9*3600)),
	}
	got := toDomainOrder(pfirestore.Document[orderDocument]{ID: "ord_1", Data: fromDomainOrder(order)})
	if got.Items[0].Price != 600 || *got.ShippingFee != 800 || *got.CapturedAmount != 2000 || got.Version != 4 {
		t.Fatalf("unexpected order %#v", got)
	}
	if got.CreatedAt.Location() != time.UTC || !got.CreatedAt.Equal(order.CreatedAt) {
		t.Fatalf("expected UTC timestamp equal to input, got %v", got.CreatedAt)
	}
	if !got.IsRealized() {
		t.Fatalf("expected realized order after round trip")
	}
}
