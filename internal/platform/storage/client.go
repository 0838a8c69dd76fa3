package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

const (
	defaultSignedURLExpiry = 15 * time.Minute
	// V4 signatures are rejected by GCS beyond seven days.
	maxSignedURLExpiry = 7 * 24 * time.Hour

	lengthRangeHeader = "x-goog-content-length-range"
)

var (
	ErrNoSigner          = errors.New("storage: signer is required")
	ErrContentTypeDenied = errors.New("storage: content type not allowed")

	errInvalidBucket      = errors.New("storage: bucket name is required")
	errInvalidObject      = errors.New("storage: object name is required")
	errContentTypeMissing = errors.New("storage: content type is required for uploads")
	errMD5Invalid         = errors.New("storage: content MD5 must be base64 encoded")
	errExpiryTooLong      = errors.New("storage: expiry exceeds permitted maximum")
)

// Client issues V4 signed PUT URLs so browsers upload straight to a bucket.
type Client struct {
	signer Signer
	now    func() time.Time
}

type ClientOption func(*Client)

func WithClock(clock func() time.Time) ClientOption {
	return func(c *Client) {
		if clock != nil {
			c.now = clock
		}
	}
}

func NewClient(signer Signer, opts ...ClientOption) (*Client, error) {
	if signer == nil || strings.TrimSpace(signer.Email()) == "" {
		return nil, ErrNoSigner
	}
	c := &Client{signer: signer, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// PutPolicy constrains what the holder of a signed URL may upload. AllowedTypes entries may end
// in "/*" to admit a whole family.
type PutPolicy struct {
	ContentType  string
	AllowedTypes []string
	MaxBytes     int64
	ContentMD5   string
	TTL          time.Duration
}

func (p PutPolicy) validate() (contentType string, ttl time.Duration, err error) {
	contentType = strings.ToLower(strings.TrimSpace(p.ContentType))
	if contentType == "" {
		return "", 0, errContentTypeMissing
	}
	if len(p.AllowedTypes) > 0 && !matchesContentType(contentType, p.AllowedTypes) {
		return "", 0, fmt.Errorf("%w: %s", ErrContentTypeDenied, contentType)
	}
	if p.ContentMD5 != "" {
		if _, err := base64.StdEncoding.DecodeString(p.ContentMD5); err != nil {
			return "", 0, errMD5Invalid
		}
	}
	ttl = p.TTL
	if ttl <= 0 {
		ttl = defaultSignedURLExpiry
	}
	if ttl > maxSignedURLExpiry {
		return "", 0, errExpiryTooLong
	}
	return contentType, ttl, nil
}

// SignedURLResult is a ready-to-use upload target.
type SignedURLResult struct {
	URL       string
	Method    string
	ExpiresAt time.Time
	// Headers must be sent verbatim by the uploader for the signature to verify.
	Headers map[string]string
}

// SignPut signs a PUT of bucket/object under policy.
func (c *Client) SignPut(ctx context.Context, bucket, object string, policy PutPolicy) (SignedURLResult, error) {
	if c == nil {
		return SignedURLResult{}, ErrNoSigner
	}
	if bucket = strings.TrimSpace(bucket); bucket == "" {
		return SignedURLResult{}, errInvalidBucket
	}
	if object = strings.TrimSpace(object); object == "" {
		return SignedURLResult{}, errInvalidObject
	}
	contentType, ttl, err := policy.validate()
	if err != nil {
		return SignedURLResult{}, err
	}

	required := map[string]string{"Content-Type": contentType}
	var signedHeaders []string
	if policy.MaxBytes > 0 {
		value := fmt.Sprintf("0,%d", policy.MaxBytes)
		required[lengthRangeHeader] = value
		signedHeaders = append(signedHeaders, lengthRangeHeader+":"+value)
	}
	if policy.ContentMD5 != "" {
		required["Content-MD5"] = policy.ContentMD5
	}

	expires := c.now().Add(ttl)
	signed, err := storage.SignedURL(bucket, object, &storage.SignedURLOptions{
		GoogleAccessID: c.signer.Email(),
		Scheme:         storage.SigningSchemeV4,
		Method:         http.MethodPut,
		ContentType:    contentType,
		MD5:            policy.ContentMD5,
		Headers:        signedHeaders,
		Expires:        expires,
		SignBytes: func(payload []byte) ([]byte, error) {
			return c.signer.SignBytes(ctx, payload)
		},
	})
	if err != nil {
		return SignedURLResult{}, fmt.Errorf("storage: sign upload url: %w", err)
	}
	return SignedURLResult{URL: signed, Method: http.MethodPut, ExpiresAt: expires, Headers: required}, nil
}

func matchesContentType(contentType string, allowed []string) bool {
	for _, pattern := range allowed {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		switch {
		case pattern == "":
		case pattern == "*", pattern == contentType:
			return true
		case strings.HasSuffix(pattern, "/*") && strings.HasPrefix(contentType, strings.TrimSuffix(pattern, "*")):
			return true
		}
	}
	return false
}
