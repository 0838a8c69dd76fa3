package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const defaultMaxImageBytes = 10 << 20

var productImageTypes = []string{"image/jpeg", "image/png", "image/webp"}

// ProductImageUpload is a signed PUT target plus the public URL the object will be served from.
type ProductImageUpload struct {
	SignedURLResult
	ObjectPath string
	PublicURL  string
}

// ProductImages signs browser uploads into the public product image bucket.
type ProductImages struct {
	client   *Client
	bucket   string
	ttl      time.Duration
	maxBytes int64
}

type ProductImagesOption func(*ProductImages)

// WithUploadTTL sets how long signed upload URLs remain valid.
func WithUploadTTL(ttl time.Duration) ProductImagesOption {
	return func(p *ProductImages) {
		if ttl > 0 {
			p.ttl = ttl
		}
	}
}

func WithMaxUploadSize(bytes int64) ProductImagesOption {
	return func(p *ProductImages) {
		if bytes > 0 {
			p.maxBytes = bytes
		}
	}
}

func NewProductImages(client *Client, bucket string, opts ...ProductImagesOption) (*ProductImages, error) {
	if client == nil {
		return nil, ErrNoSigner
	}
	if bucket = strings.TrimSpace(bucket); bucket == "" {
		return nil, errInvalidBucket
	}
	p := &ProductImages{client: client, bucket: bucket, ttl: defaultSignedURLExpiry, maxBytes: defaultMaxImageBytes}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// SignUpload returns a signed PUT URL for products/<productID>/images/<fileName>.
func (p *ProductImages) SignUpload(ctx context.Context, productID, fileName, contentType string) (ProductImageUpload, error) {
	if p == nil {
		return ProductImageUpload{}, errors.New("storage: product images not configured")
	}
	object, err := ProductImagePath(productID, fileName)
	if err != nil {
		return ProductImageUpload{}, err
	}
	signed, err := p.client.SignPut(ctx, p.bucket, object, PutPolicy{
		ContentType:  contentType,
		AllowedTypes: productImageTypes,
		MaxBytes:     p.maxBytes,
		TTL:          p.ttl,
	})
	if err != nil {
		return ProductImageUpload{}, err
	}
	return ProductImageUpload{
		SignedURLResult: signed,
		ObjectPath:      object,
		PublicURL:       PublicObjectURL(p.bucket, object),
	}, nil
}

// ProductImagePath returns the object key for a product image. Neither part may contain a path
// separator or "..".
func ProductImagePath(productID, fileName string) (string, error) {
	id, err := pathSegment("product id", productID)
	if err != nil {
		return "", err
	}
	name, err := pathSegment("file name", fileName)
	if err != nil {
		return "", err
	}
	return "products/" + id + "/images/" + name, nil
}

// PublicObjectURL is the unauthenticated download URL of an object in a public bucket.
func PublicObjectURL(bucket, object string) string {
	return "https://storage.googleapis.com/" + strings.TrimSpace(bucket) + "/" + strings.TrimLeft(object, "/")
}

func pathSegment(label, value string) (string, error) {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		return "", fmt.Errorf("storage: %s is required", label)
	case strings.ContainsAny(value, "/\\"), strings.Contains(value, ".."):
		return "", fmt.Errorf("storage: %s %q is not a single path segment", label, value)
	}
	return value, nil
}
