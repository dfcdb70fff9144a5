package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/supportbridge/whatsapp-chatwoot-bridge/pkg/logging"
)

const (
	fetchTimeout = 15 * time.Second

	// maxAttachmentBytes bounds what we are willing to relay. WhatsApp media
	// caps out well below this.
	maxAttachmentBytes = 16 << 20
)

// S3API is the subset of the S3 client used by Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Store downloads vendor-held attachments and re-hosts them in a public
// bucket so the other side's vendor can fetch them without credentials.
type Store struct {
	bucket        string
	publicBaseURL string
	region        string
	s3Client      S3API
	httpClient    *http.Client
	logger        *logging.Logger
}

// NewStore creates a media store. publicBaseURL overrides the default
// virtual-hosted S3 URL, for CDN or LocalStack setups.
func NewStore(s3Client S3API, bucket, publicBaseURL, region string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{
		bucket:        bucket,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		region:        region,
		s3Client:      s3Client,
		httpClient: &http.Client{
			Timeout: fetchTimeout,
		},
		logger: logger,
	}
}

// Enabled reports whether re-hosting is configured.
func (s *Store) Enabled() bool {
	return s != nil && s.bucket != "" && s.s3Client != nil
}

// Fetch downloads attachment bytes from a vendor-hosted URL, authenticating
// with the helpdesk API token when one is given.
func (s *Store) Fetch(ctx context.Context, url, apiToken string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("media: build fetch request: %w", err)
	}
	if apiToken != "" {
		req.Header.Set("api_access_token", apiToken)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("media: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("media: fetch %s: status %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAttachmentBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("media: read attachment body: %w", err)
	}
	if len(data) > maxAttachmentBytes {
		return nil, "", fmt.Errorf("media: attachment exceeds %d bytes", maxAttachmentBytes)
	}

	return data, resp.Header.Get("Content-Type"), nil
}

// Host uploads the bytes under a collision-resistant key and returns the
// public URL Twilio can fetch.
func (s *Store) Host(ctx context.Context, keyPrefix, filename string, data []byte, contentType string) (string, error) {
	if !s.Enabled() {
		return "", fmt.Errorf("media: store not configured")
	}

	key := fmt.Sprintf("%s/%s_%s", strings.Trim(keyPrefix, "/"), uuid.New().String(), sanitizeFilename(filename))

	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("media: s3 put %s: %w", key, err)
	}

	url := s.publicURL(key)
	s.logger.Info("attachment re-hosted", "key", key, "bytes", len(data))
	return url, nil
}

func (s *Store) publicURL(key string) string {
	if s.publicBaseURL != "" {
		return s.publicBaseURL + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}

// sanitizeFilename keeps object keys URL-safe; anything odd becomes a dash.
func sanitizeFilename(name string) string {
	if name == "" || name == "." || name == "/" {
		return "attachment"
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}
