package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"
	"golang.org/x/text/language"

	domain "github.com/nihonselect/api/internal/domain"
	"github.com/nihonselect/api/internal/pricing"
	"github.com/nihonselect/api/internal/repositories"
	"github.com/nihonselect/api/internal/translate"
)

const (
	productIDPrefix = "prd_"

	defaultProductPageSize = 24
	maxProductPageSize     = 100
	maxProductImages       = 12
	maxSummaryRunes        = 160

	localeEnglish  = "en"
	localeJapanese = "ja"
)

var (
	// ErrCatalogInvalidInput indicates the caller supplied invalid product data.
	ErrCatalogInvalidInput = newKindError(ErrValidation, "catalog: invalid input")
	// ErrCatalogNotFound indicates the product does not exist or is not visible.
	ErrCatalogNotFound = newKindError(ErrNotFound, "catalog: product not found")
	// ErrCatalogConflict indicates a concurrent write collided.
	ErrCatalogConflict = newKindError(ErrConflict, "catalog: conflict")
	// ErrCatalogInvalidState indicates a status change the product cannot take.
	ErrCatalogInvalidState = newKindError(ErrInvalidTransition, "catalog: invalid status change")
	// ErrCatalogImagesDisabled indicates no image signer is configured.
	ErrCatalogImagesDisabled = newKindError(ErrConfiguration, "catalog: image uploads are not configured")
)

var storefrontLocales = language.NewMatcher([]language.Tag{language.English, language.Japanese})

var allowedImageTypes = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
}

// ProductPageCache stores serialised storefront pages. Invalidate drops every cached page.
type ProductPageCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Invalidate(ctx context.Context) error
}

// ProductTranslator renders Japanese listing text in English.
type ProductTranslator interface {
	Translate(text string) translate.Result
}

// ProductImageSigner issues signed upload URLs for product images.
type ProductImageSigner interface {
	SignProductImageUpload(ctx context.Context, productID, fileName, contentType string) (SignedUpload, error)
}

// CatalogServiceDeps bundles constructor inputs for the catalog service.
type CatalogServiceDeps struct {
	Products    repositories.ProductRepository
	Translator  ProductTranslator
	Cache       ProductPageCache
	Images      ProductImageSigner
	Clock       func() time.Time
	IDGenerator func() string
	Logger      Logger
}

type catalogService struct {
	products   repositories.ProductRepository
	translator ProductTranslator
	cache      ProductPageCache
	images     ProductImageSigner
	sanitizer  *bluemonday.Policy
	clock      func() time.Time
	newID      func() string
	logger     Logger
}

var _ CatalogService = (*catalogService)(nil)

// NewCatalogService constructs the catalog service with the supplied dependencies.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Products == nil {
		return nil, errors.New("catalog service: product repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &catalogService{
		products:   deps.Products,
		translator: deps.Translator,
		cache:      deps.Cache,
		images:     deps.Images,
		sanitizer:  newDescriptionPolicy(),
		clock:      func() time.Time { return clock().UTC() },
		newID:      idGen,
		logger:     logger,
	}, nil
}

func newDescriptionPolicy() *bluemonday.Policy {
	policy := bluemonday.UGCPolicy()
	policy.AllowAttrs("loading").OnElements("img")
	policy.RequireNoFollowOnLinks(true)
	policy.AddTargetBlankToFullyQualifiedLinks(true)
	return policy
}

func (s *catalogService) ListProducts(ctx context.Context, filter ProductListFilter) (domain.CursorPage[ProductView], error) {
	locale := ResolveLocale(filter.Locale)
	pager := clampProductPage(filter.Pagination)
	category := strings.ToLower(strings.TrimSpace(filter.Category))

	key := productPageKey(locale, category, pager)
	if page, ok := s.cachedPage(ctx, key); ok {
		return page, nil
	}

	page, err := s.products.List(ctx, repositories.ProductListFilter{
		Category:   category,
		Status:     []domain.ProductStatus{domain.ProductStatusActive},
		Pagination: pager,
	})
	if err != nil {
		return domain.CursorPage[ProductView]{}, translateRepositoryError(err, ErrCatalogNotFound, ErrCatalogInvalidInput)
	}

	views := make([]ProductView, 0, len(page.Items))
	for _, product := range page.Items {
		views = append(views, productView(product, locale))
	}
	result := domain.CursorPage[ProductView]{Items: views, NextPageToken: page.NextPageToken}
	s.storePage(ctx, key, result)
	return result, nil
}

func (s *catalogService) GetProduct(ctx context.Context, productID string, locale string) (ProductView, error) {
	product, err := s.find(ctx, productID)
	if err != nil {
		return ProductView{}, err
	}
	if product.Status != domain.ProductStatusActive {
		return ProductView{}, fmt.Errorf("%w: %s", ErrCatalogNotFound, product.ID)
	}
	return productView(product, ResolveLocale(locale)), nil
}

func (s *catalogService) ListAdminProducts(ctx context.Context, filter AdminProductFilter) (domain.CursorPage[Product], error) {
	repoFilter := repositories.ProductListFilter{
		Category:   strings.ToLower(strings.TrimSpace(filter.Category)),
		Pagination: clampProductPage(filter.Pagination),
	}
	for _, raw := range filter.Status {
		status, ok := domain.ParseProductStatus(raw)
		if !ok {
			return domain.CursorPage[Product]{}, fmt.Errorf("%w: unknown product status %q", ErrCatalogInvalidInput, raw)
		}
		repoFilter.Status = append(repoFilter.Status, status)
	}
	page, err := s.products.List(ctx, repoFilter)
	if err != nil {
		return domain.CursorPage[Product]{}, translateRepositoryError(err, ErrCatalogNotFound, ErrCatalogInvalidInput)
	}
	return page, nil
}

func (s *catalogService) CreateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error) {
	now := s.clock()
	product := Product{
		ID:        productIDPrefix + s.newID(),
		Status:    domain.ProductStatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.applyUpsert(ctx, &product, cmd); err != nil {
		return Product{}, err
	}
	if err := s.products.Insert(ctx, product); err != nil {
		return Product{}, translateRepositoryError(err, ErrCatalogNotFound, ErrCatalogConflict)
	}
	s.invalidate(ctx)
	return product, nil
}

func (s *catalogService) UpdateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error) {
	product, err := s.find(ctx, cmd.ID)
	if err != nil {
		return Product{}, err
	}
	if err := s.applyUpsert(ctx, &product, cmd); err != nil {
		return Product{}, err
	}
	if product.Status == domain.ProductStatusActive {
		if err := validateSellable(product); err != nil {
			return Product{}, err
		}
	}
	product.UpdatedAt = s.clock()
	if err := s.products.Update(ctx, product); err != nil {
		return Product{}, translateRepositoryError(err, ErrCatalogNotFound, ErrCatalogConflict)
	}
	s.invalidate(ctx)
	return product, nil
}

// ImportProduct stores a scraped listing as a draft with rule-translated English fields.
func (s *catalogService) ImportProduct(ctx context.Context, cmd ImportProductCommand) (Product, error) {
	if s.translator == nil {
		return Product{}, fmt.Errorf("%w: translator is not configured", ErrConfiguration)
	}
	product, err := s.CreateProduct(ctx, UpsertProductCommand{
		Title:         cmd.Title,
		Description:   cmd.Description,
		ImageURLs:     cmd.ImageURLs,
		SourceURL:     cmd.SourceURL,
		OriginalPrice: cmd.OriginalPrice,
		Category:      cmd.Category,
		Stock:         cmd.Stock,
	})
	if err != nil {
		return Product{}, err
	}
	s.logger(ctx, "catalog.product.imported", map[string]any{
		"product":   product.ID,
		"sourceURL": product.SourceURL,
	})
	return product, nil
}

func (s *catalogService) SetProductStatus(ctx context.Context, productID string, status string) (Product, error) {
	target, ok := domain.ParseProductStatus(status)
	if !ok {
		return Product{}, fmt.Errorf("%w: unknown product status %q", ErrCatalogInvalidInput, status)
	}
	product, err := s.find(ctx, productID)
	if err != nil {
		return Product{}, err
	}
	if product.Status == target {
		return Product{}, fmt.Errorf("%w: product is already %s", ErrCatalogInvalidState, target)
	}
	if target == domain.ProductStatusActive {
		if err := validateSellable(product); err != nil {
			return Product{}, err
		}
	}
	product.Status = target
	product.UpdatedAt = s.clock()
	if err := s.products.Update(ctx, product); err != nil {
		return Product{}, translateRepositoryError(err, ErrCatalogNotFound, ErrCatalogConflict)
	}
	s.invalidate(ctx)
	return product, nil
}

func (s *catalogService) ImageUploadURL(ctx context.Context, productID string, contentType string) (SignedUpload, error) {
	if s.images == nil {
		return SignedUpload{}, ErrCatalogImagesDisabled
	}
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	ext, ok := allowedImageTypes[contentType]
	if !ok {
		return SignedUpload{}, fmt.Errorf("%w: content type %q is not an accepted image type", ErrCatalogInvalidInput, contentType)
	}
	product, err := s.find(ctx, productID)
	if err != nil {
		return SignedUpload{}, err
	}
	upload, err := s.images.SignProductImageUpload(ctx, product.ID, strings.ToLower(s.newID())+"."+ext, contentType)
	if err != nil {
		s.logger(ctx, "catalog.image.sign_failed", map[string]any{
			"product": product.ID,
			"error":   err.Error(),
		})
		return SignedUpload{}, fmt.Errorf("%w: sign upload: %v", ErrExternalService, err)
	}
	return upload, nil
}

func (s *catalogService) find(ctx context.Context, productID string) (Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, translateRepositoryError(err, ErrCatalogNotFound, ErrCatalogConflict)
	}
	return product, nil
}

func (s *catalogService) applyUpsert(ctx context.Context, product *Product, cmd UpsertProductCommand) error {
	title := strings.TrimSpace(cmd.Title)
	if title == "" {
		return fmt.Errorf("%w: title is required", ErrCatalogInvalidInput)
	}
	if cmd.OriginalPrice < 0 {
		return fmt.Errorf("%w: original price must not be negative", ErrCatalogInvalidInput)
	}
	if cmd.Stock < 0 {
		return fmt.Errorf("%w: stock must not be negative", ErrCatalogInvalidInput)
	}
	sourceURL := strings.TrimSpace(cmd.SourceURL)
	if sourceURL != "" && !isHTTPURL(sourceURL) {
		return fmt.Errorf("%w: source url must be an http(s) url", ErrCatalogInvalidInput)
	}
	images, err := normaliseImageURLs(cmd.ImageURLs)
	if err != nil {
		return err
	}

	description := strings.TrimSpace(s.sanitizer.Sanitize(cmd.Description))
	summary := plainTextSummary(description)

	product.Title = title
	product.Description = description
	product.Summary = summary
	product.ImageURLs = images
	product.SourceURL = sourceURL
	product.OriginalPrice = cmd.OriginalPrice
	product.Category = strings.ToLower(strings.TrimSpace(cmd.Category))
	product.Stock = cmd.Stock
	product.TitleEN = strings.TrimSpace(cmd.TitleEN)
	product.DescriptionEN = strings.TrimSpace(s.sanitizer.Sanitize(cmd.DescriptionEN))

	if s.translator != nil {
		if product.TitleEN == "" {
			product.TitleEN = s.translateField(ctx, product.ID, "title", title)
		}
		if product.DescriptionEN == "" && summary != "" {
			product.DescriptionEN = s.translateField(ctx, product.ID, "description", plainText(description))
		}
	}
	return nil
}

func (s *catalogService) translateField(ctx context.Context, productID, field, text string) string {
	result := s.translator.Translate(text)
	if !result.Complete {
		s.logger(ctx, "catalog.translation.incomplete", map[string]any{
			"product": productID,
			"field":   field,
		})
	}
	return result.Text
}

func (s *catalogService) cachedPage(ctx context.Context, key string) (domain.CursorPage[ProductView], bool) {
	if s.cache == nil {
		return domain.CursorPage[ProductView]{}, false
	}
	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger(ctx, "catalog.cache.get_failed", map[string]any{"key": key, "error": err.Error()})
		return domain.CursorPage[ProductView]{}, false
	}
	if !ok {
		return domain.CursorPage[ProductView]{}, false
	}
	var page domain.CursorPage[ProductView]
	if err := json.Unmarshal(raw, &page); err != nil {
		s.logger(ctx, "catalog.cache.decode_failed", map[string]any{"key": key, "error": err.Error()})
		return domain.CursorPage[ProductView]{}, false
	}
	return page, true
}

func (s *catalogService) storePage(ctx context.Context, key string, page domain.CursorPage[ProductView]) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(page)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, raw); err != nil {
		s.logger(ctx, "catalog.cache.set_failed", map[string]any{"key": key, "error": err.Error()})
	}
}

func (s *catalogService) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger(ctx, "catalog.cache.invalidate_failed", map[string]any{"error": err.Error()})
	}
}

// ResolveLocale maps a locale parameter or Accept-Language header onto a storefront locale.
// English is the default.
func ResolveLocale(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return localeEnglish
	}
	tags, _, err := language.ParseAcceptLanguage(raw)
	if err != nil || len(tags) == 0 {
		return localeEnglish
	}
	_, index, _ := storefrontLocales.Match(tags...)
	if index == 1 {
		return localeJapanese
	}
	return localeEnglish
}

func productView(product Product, locale string) ProductView {
	title := product.Title
	description := product.Description
	if locale == localeEnglish {
		if product.TitleEN != "" {
			title = product.TitleEN
		}
		if product.DescriptionEN != "" {
			description = product.DescriptionEN
		}
	}
	return ProductView{
		ID:            product.ID,
		Title:         title,
		Description:   description,
		Summary:       product.Summary,
		ImageURLs:     append([]string(nil), product.ImageURLs...),
		SourceURL:     product.SourceURL,
		OriginalPrice: product.OriginalPrice,
		DisplayPrice:  pricing.MustDisplayPrice(product.OriginalPrice),
		Currency:      domain.CurrencyJPY,
		Category:      product.Category,
		Stock:         product.Stock,
		Locale:        locale,
		UpdatedAt:     product.UpdatedAt,
	}
}

func validateSellable(product Product) error {
	if product.OriginalPrice <= 0 {
		return fmt.Errorf("%w: an active product needs a positive price", ErrCatalogInvalidState)
	}
	if len(product.ImageURLs) == 0 {
		return fmt.Errorf("%w: an active product needs at least one image", ErrCatalogInvalidState)
	}
	return nil
}

func clampProductPage(pager Pagination) Pagination {
	switch {
	case pager.PageSize <= 0:
		pager.PageSize = defaultProductPageSize
	case pager.PageSize > maxProductPageSize:
		pager.PageSize = maxProductPageSize
	}
	pager.PageToken = strings.TrimSpace(pager.PageToken)
	return pager
}

func productPageKey(locale, category string, pager Pagination) string {
	return strings.Join([]string{"products", locale, category, strconv.Itoa(pager.PageSize), pager.PageToken}, ":")
}

func normaliseImageURLs(raw []string) ([]string, error) {
	if len(raw) > maxProductImages {
		return nil, fmt.Errorf("%w: at most %d images are allowed", ErrCatalogInvalidInput, maxProductImages)
	}
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, value := range raw {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if !isHTTPURL(value) {
			return nil, fmt.Errorf("%w: image url %q must be an http(s) url", ErrCatalogInvalidInput, value)
		}
		if _, dup := seen[value]; dup {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out, nil
}

func isHTTPURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}

// plainText extracts the visible text of sanitized HTML.
func plainText(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

func plainTextSummary(html string) string {
	text := plainText(html)
	if utf8.RuneCountInString(text) <= maxSummaryRunes {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:maxSummaryRunes-1])) + "…"
}
