package domain

import (
	"strings"
	"time"
)

// ProductStatus controls storefront visibility.
type ProductStatus string

const (
	ProductStatusDraft    ProductStatus = "draft"
	ProductStatusActive   ProductStatus = "active"
	ProductStatusArchived ProductStatus = "archived"
)

// Product is a scraped source listing offered on the storefront. OriginalPrice is the source price
// in whole yen; the customer-facing price is derived on read and never stored.
type Product struct {
	ID            string
	Title         string
	TitleEN       string
	Description   string
	DescriptionEN string
	Summary       string
	ImageURLs     []string
	SourceURL     string
	OriginalPrice int64
	Category      string
	Status        ProductStatus
	Stock         int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ParseProductStatus normalises raw input into a known product status.
func ParseProductStatus(raw string) (ProductStatus, bool) {
	switch status := ProductStatus(strings.ToLower(strings.TrimSpace(raw))); status {
	case ProductStatusDraft, ProductStatusActive, ProductStatusArchived:
		return status, true
	default:
		return "", false
	}
}
