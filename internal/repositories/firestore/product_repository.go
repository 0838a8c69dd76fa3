package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/nihonselect/api/internal/domain"
	pfirestore "github.com/nihonselect/api/internal/platform/firestore"
	"github.com/nihonselect/api/internal/repositories"
)

const productsCollection = "products"

// ProductRepository persists storefront products.
type ProductRepository struct {
	base *pfirestore.BaseRepository[productDocument]
	uow  *pfirestore.UnitOfWork
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider, uow *pfirestore.UnitOfWork) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	if uow == nil {
		uow = pfirestore.NewUnitOfWork(provider)
	}
	return &ProductRepository{
		base: pfirestore.NewBaseRepository[productDocument](provider, productsCollection),
		uow:  uow,
	}, nil
}

func (r *ProductRepository) Insert(ctx context.Context, product domain.Product) error {
	if strings.TrimSpace(product.ID) == "" {
		return errors.New("product id is required")
	}
	return r.base.Create(ctx, product.ID, fromDomainProduct(product))
}

// Update replaces an existing product; a missing product reports not found.
func (r *ProductRepository) Update(ctx context.Context, product domain.Product) error {
	if strings.TrimSpace(product.ID) == "" {
		return errors.New("product id is required")
	}
	return r.uow.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := r.base.Get(ctx, product.ID); err != nil {
			return err
		}
		return r.base.Set(ctx, product.ID, fromDomainProduct(product))
	})
}

func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(productID))
	if err != nil {
		return domain.Product{}, err
	}
	return toDomainProduct(doc), nil
}

// List pages through products newest first, optionally narrowed by category and status.
func (r *ProductRepository) List(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	statuses := make([]string, 0, len(filter.Status))
	for _, status := range filter.Status {
		statuses = append(statuses, string(status))
	}

	var size int
	var pageErr error
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if category := strings.TrimSpace(filter.Category); category != "" {
			q = q.Where("category", "==", category)
		}
		if len(statuses) > 0 {
			q = q.Where("status", "in", statuses)
		}
		q, size, pageErr = pageQuery(q, filter.Pagination)
		return q
	})
	if pageErr != nil {
		return domain.CursorPage[domain.Product]{}, pageErr
	}
	if err != nil {
		return domain.CursorPage[domain.Product]{}, err
	}
	return buildPage(docs, size, func(d productDocument) time.Time { return d.CreatedAt }, toDomainProduct), nil
}

type productDocument struct {
	Title         string    `firestore:"title"`
	TitleEN       string    `firestore:"titleEn,omitempty"`
	Description   string    `firestore:"description,omitempty"`
	DescriptionEN string    `firestore:"descriptionEn,omitempty"`
	Summary       string    `firestore:"summary,omitempty"`
	ImageURLs     []string  `firestore:"imageUrls"`
	SourceURL     string    `firestore:"sourceUrl,omitempty"`
	OriginalPrice int64     `firestore:"originalPrice"`
	Category      string    `firestore:"category"`
	Status        string    `firestore:"status"`
	Stock         int       `firestore:"stock"`
	CreatedAt     time.Time `firestore:"createdAt"`
	UpdatedAt     time.Time `firestore:"updatedAt"`
}

func fromDomainProduct(product domain.Product) productDocument {
	return productDocument{
		Title:         product.Title,
		TitleEN:       product.TitleEN,
		Description:   product.Description,
		DescriptionEN: product.DescriptionEN,
		Summary:       product.Summary,
		ImageURLs:     append([]string(nil), product.ImageURLs...),
		SourceURL:     product.SourceURL,
		OriginalPrice: product.OriginalPrice,
		Category:      product.Category,
		Status:        string(product.Status),
		Stock:         product.Stock,
		CreatedAt:     product.CreatedAt.UTC(),
		UpdatedAt:     product.UpdatedAt.UTC(),
	}
}

func toDomainProduct(doc pfirestore.Document[productDocument]) domain.Product {
	data := doc.Data
	return domain.Product{
		ID:            doc.ID,
		Title:         data.Title,
		TitleEN:       data.TitleEN,
		Description:   data.Description,
		DescriptionEN: data.DescriptionEN,
		Summary:       data.Summary,
		ImageURLs:     data.ImageURLs,
		SourceURL:     data.SourceURL,
		OriginalPrice: data.OriginalPrice,
		Category:      data.Category,
		Status:        domain.ProductStatus(data.Status),
		Stock:         data.Stock,
		CreatedAt:     data.CreatedAt,
		UpdatedAt:     data.UpdatedAt,
	}
}
