package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/nihonselect/api/internal/domain"
	"github.com/nihonselect/api/internal/translate"
)

type memPageCache struct {
	mu          sync.Mutex
	pages       map[string][]byte
	gets        int
	invalidated int
}

func newMemPageCache() *memPageCache {
	return &memPageCache{pages: make(map[string][]byte)}
}

func (c *memPageCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	value, ok := c.pages[key]
	return value, ok, nil
}

func (c *memPageCache) Set(_ context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pages[key] = value
	return nil
}

func (c *memPageCache) Invalidate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated++
	c.pages = make(map[string][]byte)
	return nil
}

type stubImageSigner struct {
	calls []string
	err   error
}

func (s *stubImageSigner) SignProductImageUpload(_ context.Context, productID, fileName, contentType string) (SignedUpload, error) {
	s.calls = append(s.calls, productID+"/"+fileName)
	if s.err != nil {
		return SignedUpload{}, s.err
	}
	return SignedUpload{
		URL:         "https://storage.example/signed",
		Method:      "PUT",
		ObjectPath:  "products/" + productID + "/" + fileName,
		ContentType: contentType,
	}, nil
}

var catalogTestNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newCatalogFixture(t *testing.T, products ...domain.Product) (CatalogService, *memProductRepo, *memPageCache, *stubImageSigner, *logRecorder) {
	t.Helper()
	tr, err := translate.New()
	if err != nil {
		t.Fatalf("translate.New: %v", err)
	}
	repo := newMemProductRepo(products...)
	cache := newMemPageCache()
	signer := &stubImageSigner{}
	logs := &logRecorder{}
	svc, err := NewCatalogService(CatalogServiceDeps{
		Products:    repo,
		Translator:  tr,
		Cache:       cache,
		Images:      signer,
		Clock:       func() time.Time { return catalogTestNow },
		IDGenerator: func() string { return "01PRD" },
		Logger:      logs.log,
	})
	if err != nil {
		t.Fatalf("NewCatalogService: %v", err)
	}
	return svc, repo, cache, signer, logs
}

func activeProduct(id string, price int64) domain.Product {
	return domain.Product{
		ID:            id,
		Title:         "手ぬぐい",
		TitleEN:       "tenugui towel",
		OriginalPrice: price,
		Category:      "textiles",
		Status:        domain.ProductStatusActive,
		ImageURLs:     []string{"https://img.example/" + id + ".jpg"},
	}
}

func TestCatalogServiceListProductsComputesDisplayPrice(t *testing.T) {
	draft := activeProduct("prd_draft", 100)
	draft.Status = domain.ProductStatusDraft
	svc, repo, cache, _, _ := newCatalogFixture(t, activeProduct("prd_a", 1000), activeProduct("prd_b", 333), draft)

	page, err := svc.ListProducts(context.Background(), ProductListFilter{Locale: "en-US,en;q=0.9"})
	if err != nil {
		t.Fatalf("ListProducts: %v", err)
	}
	if len(page.Items) != 2 {
		t.Fatalf("expected only active products, got %+v", page.Items)
	}
	if page.Items[0].DisplayPrice != 1200 || page.Items[1].DisplayPrice != 400 {
		t.Fatalf("unexpected display prices %d %d", page.Items[0].DisplayPrice, page.Items[1].DisplayPrice)
	}
	if page.Items[0].Title != "tenugui towel" || page.Items[0].Locale != "en" || page.Items[0].Currency != "JPY" {
		t.Fatalf("unexpected view %+v", page.Items[0])
	}

	// The second read is served from the cache.
	if _, err := svc.ListProducts(context.Background(), ProductListFilter{Locale: "en"}); err != nil {
		t.Fatalf("ListProducts: %v", err)
	}
	if len(repo.listed) != 1 {
		t.Fatalf("expected cached page to skip the repository, got %d lists", len(repo.listed))
	}
	if repo.listed[0].Pagination.PageSize != defaultProductPageSize {
		t.Fatalf("expected default page size, got %d", repo.listed[0].Pagination.PageSize)
	}

	if _, err := svc.SetProductStatus(context.Background(), "prd_b", "archived"); err != nil {
		t.Fatalf("SetProductStatus: %v", err)
	}
	if cache.invalidated != 1 {
		t.Fatalf("expected mutation to invalidate the cache")
	}
	page, err = svc.ListProducts(context.Background(), ProductListFilter{Locale: "en"})
	if err != nil {
		t.Fatalf("ListProducts: %v", err)
	}
	if len(page.Items) != 1 || len(repo.listed) != 2 {
		t.Fatalf("expected fresh listing after invalidation, got %d items %d lists", len(page.Items), len(repo.listed))
	}
}

func TestCatalogServiceGetProductLocalises(t *testing.T) {
	draft := activeProduct("prd_draft", 100)
	draft.Status = domain.ProductStatusDraft
	svc, _, _, _, _ := newCatalogFixture(t, activeProduct("prd_a", 1000), draft)

	view, err := svc.GetProduct(context.Background(), "prd_a", "ja-JP")
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if view.Title != "手ぬぐい" || view.Locale != "ja" {
		t.Fatalf("expected Japanese view, got %+v", view)
	}
	if _, err := svc.GetProduct(context.Background(), "prd_draft", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected draft to be hidden, got %v", err)
	}
	if _, err := svc.GetProduct(context.Background(), "prd_missing", ""); !errors.Is(err, ErrCatalogNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCatalogServiceImportProductSanitisesAndTranslates(t *testing.T) {
	svc, repo, cache, _, logs := newCatalogFixture(t)

	product, err := svc.ImportProduct(context.Background(), ImportProductCommand{
		Title:         "【送料無料】日本製 風呂敷",
		Description:   "<p>綿 <b>100%</b></p>\n<script>alert(1)</script>\n<a href=\"https://shop.example\">shop</a>",
		ImageURLs:     []string{" https://img.example/a.jpg ", "https://img.example/a.jpg"},
		SourceURL:     "https://shop.example/item/1",
		OriginalPrice: 2500,
		Category:      "Textiles",
	})
	if err != nil {
		t.Fatalf("ImportProduct: %v", err)
	}
	if product.ID != "prd_01PRD" || product.Status != domain.ProductStatusDraft {
		t.Fatalf("unexpected product %+v", product)
	}
	if strings.Contains(product.Description, "<script") {
		t.Fatalf("expected script to be stripped, got %q", product.Description)
	}
	if !strings.Contains(product.Description, `rel="nofollow`) {
		t.Fatalf("expected nofollow links, got %q", product.Description)
	}
	if product.Summary != "綿 100% shop" {
		t.Fatalf("unexpected summary %q", product.Summary)
	}
	if product.TitleEN != "[free shipping] made in Japan furoshiki wrapping cloth" {
		t.Fatalf("unexpected translated title %q", product.TitleEN)
	}
	if product.DescriptionEN != "cotton 100% shop" {
		t.Fatalf("unexpected translated description %q", product.DescriptionEN)
	}
	if len(product.ImageURLs) != 1 || product.Category != "textiles" {
		t.Fatalf("expected normalised images and category, got %+v", product)
	}
	if repo.get("prd_01PRD").ID == "" || cache.invalidated != 1 {
		t.Fatalf("expected product stored and cache invalidated")
	}
	if !logs.has("catalog.product.imported") {
		t.Fatalf("expected import log")
	}
}

func TestCatalogServiceRejectsInvalidProducts(t *testing.T) {
	svc, _, _, _, _ := newCatalogFixture(t)
	cases := map[string]UpsertProductCommand{
		"no title":       {OriginalPrice: 100},
		"negative price": {Title: "x", OriginalPrice: -1},
		"negative stock": {Title: "x", Stock: -1},
		"bad source":     {Title: "x", SourceURL: "javascript:alert(1)"},
		"bad image":      {Title: "x", ImageURLs: []string{"ftp://img"}},
	}
	for name, cmd := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := svc.CreateProduct(context.Background(), cmd); !errors.Is(err, ErrCatalogInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
		})
	}
}

func TestCatalogServiceSetProductStatusRequiresSellableProduct(t *testing.T) {
	noImage := activeProduct("prd_noimg", 1000)
	noImage.Status = domain.ProductStatusDraft
	noImage.ImageURLs = nil
	svc, _, _, _, _ := newCatalogFixture(t, noImage, activeProduct("prd_a", 1000))

	if _, err := svc.SetProductStatus(context.Background(), "prd_noimg", "active"); !errors.Is(err, ErrCatalogInvalidState) {
		t.Fatalf("expected activation without images to be rejected, got %v", err)
	}
	if _, err := svc.SetProductStatus(context.Background(), "prd_a", "active"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected same status to be rejected, got %v", err)
	}
	if _, err := svc.SetProductStatus(context.Background(), "prd_a", "sold"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected unknown status to be rejected, got %v", err)
	}
	updated, err := svc.SetProductStatus(context.Background(), "prd_a", "archived")
	if err != nil {
		t.Fatalf("SetProductStatus: %v", err)
	}
	if updated.Status != domain.ProductStatusArchived || !updated.UpdatedAt.Equal(catalogTestNow) {
		t.Fatalf("unexpected product %+v", updated)
	}
}

func TestCatalogServiceUpdateProductKeepsIdentity(t *testing.T) {
	existing := activeProduct("prd_a", 1000)
	existing.CreatedAt = catalogTestNow.Add(-24 * time.Hour)
	svc, repo, _, _, _ := newCatalogFixture(t, existing)

	updated, err := svc.UpdateProduct(context.Background(), UpsertProductCommand{
		ID:            "prd_a",
		Title:         "扇子",
		TitleEN:       "Folding fan",
		ImageURLs:     []string{"https://img.example/fan.jpg"},
		OriginalPrice: 1500,
		Stock:         3,
	})
	if err != nil {
		t.Fatalf("UpdateProduct: %v", err)
	}
	if updated.ID != "prd_a" || updated.Status != domain.ProductStatusActive || !updated.CreatedAt.Equal(existing.CreatedAt) {
		t.Fatalf("expected identity to be preserved, got %+v", updated)
	}
	if repo.get("prd_a").TitleEN != "Folding fan" || repo.get("prd_a").OriginalPrice != 1500 {
		t.Fatalf("expected stored update, got %+v", repo.get("prd_a"))
	}
	if _, err := svc.UpdateProduct(context.Background(), UpsertProductCommand{ID: "prd_missing", Title: "x"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCatalogServiceImageUploadURL(t *testing.T) {
	svc, _, _, signer, _ := newCatalogFixture(t, activeProduct("prd_a", 1000))

	upload, err := svc.ImageUploadURL(context.Background(), "prd_a", "image/PNG")
	if err != nil {
		t.Fatalf("ImageUploadURL: %v", err)
	}
	if upload.ObjectPath != "products/prd_a/01prd.png" || upload.Method != "PUT" {
		t.Fatalf("unexpected upload %+v", upload)
	}
	if _, err := svc.ImageUploadURL(context.Background(), "prd_a", "image/gif"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected unsupported type to be rejected, got %v", err)
	}
	if _, err := svc.ImageUploadURL(context.Background(), "prd_missing", "image/png"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if len(signer.calls) != 1 {
		t.Fatalf("expected one signing call, got %d", len(signer.calls))
	}

	disabled, err := NewCatalogService(CatalogServiceDeps{Products: newMemProductRepo()})
	if err != nil {
		t.Fatalf("NewCatalogService: %v", err)
	}
	if _, err := disabled.ImageUploadURL(context.Background(), "prd_a", "image/png"); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestResolveLocale(t *testing.T) {
	cases := map[string]string{
		"":                        "en",
		"ja":                      "ja",
		"ja-JP,ja;q=0.9,en;q=0.8": "ja",
		"en-GB":                   "en",
		"fr-FR":                   "en",
		"!!!":                     "en",
	}
	for in, want := range cases {
		if got := ResolveLocale(in); got != want {
			t.Errorf("ResolveLocale(%q) = %q, want %q", in, got, want)
		}
	}
}
