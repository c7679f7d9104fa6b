package auth

import (
	"crypto/hmac"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws/credentials"
	v4 "github.com/aws/aws-sdk-go/aws/signer/v4"
)

// SigV4 query parameters carried by presigned upload URLs
const (
	ParamDate      = "X-Amz-Date"
	ParamExpires   = "X-Amz-Expires"
	ParamSignature = "X-Amz-Signature"

	amzDateFormat = "20060102T150405Z"
)

// Credential scope of the development object store
const (
	presignAccessKey = "majuclass-devserver"
	presignRegion    = "local"
	presignService   = "s3"
)

var (
	ErrSignatureMismatch = errors.New("signature does not match")
	ErrURLExpired        = errors.New("presigned url expired")
)

// Presigner issues and verifies time-limited S3-style upload URLs. The
// content type is a signed header, so an upload must send the type it was
// issued for.
type Presigner struct {
	signer  *v4.Signer
	baseURL string
	ttl     time.Duration
	now     func() time.Time
}

// NewPresigner creates a presigner for URLs under baseURL + "/uploads/"
func NewPresigner(secret, baseURL string, ttl time.Duration) (*Presigner, error) {
	if secret == "" {
		return nil, errors.New("presign secret is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("ticket ttl must be positive, got %v", ttl)
	}
	return &Presigner{
		signer:  v4.NewSigner(credentials.NewStaticCredentials(presignAccessKey, secret, "")),
		baseURL: strings.TrimRight(baseURL, "/"),
		ttl:     ttl,
		now:     time.Now,
	}, nil
}

func (p *Presigner) presign(key, contentType string, signTime time.Time, ttl time.Duration) (*url.URL, error) {
	req, err := http.NewRequest(http.MethodPut, p.baseURL+"/uploads/"+key, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	if _, err := p.signer.Presign(req, nil, presignService, presignRegion, ttl, signTime); err != nil {
		return nil, fmt.Errorf("failed to presign upload: %w", err)
	}
	return req.URL, nil
}

// Sign returns a URL that allows a single content type to be PUT at key until it expires
func (p *Presigner) Sign(key, contentType string) (string, time.Time, error) {
	signTime := p.now().UTC().Truncate(time.Second)
	u, err := p.presign(key, contentType, signTime, p.ttl)
	if err != nil {
		return "", time.Time{}, err
	}
	return u.String(), signTime.Add(p.ttl), nil
}

// Verify re-signs the request parameters and compares signatures
func (p *Presigner) Verify(key, contentType string, query url.Values) error {
	signTime, err := time.Parse(amzDateFormat, query.Get(ParamDate))
	if err != nil {
		return fmt.Errorf("%w: bad signing date", ErrSignatureMismatch)
	}
	seconds, err := strconv.ParseInt(query.Get(ParamExpires), 10, 64)
	if err != nil || seconds <= 0 {
		return fmt.Errorf("%w: bad expiry", ErrSignatureMismatch)
	}
	ttl := time.Duration(seconds) * time.Second

	expected, err := p.presign(key, contentType, signTime, ttl)
	if err != nil {
		return err
	}
	want := expected.Query().Get(ParamSignature)
	if !hmac.Equal([]byte(want), []byte(query.Get(ParamSignature))) {
		return ErrSignatureMismatch
	}
	if p.now().After(signTime.Add(ttl)) {
		return ErrURLExpired
	}
	return nil
}
