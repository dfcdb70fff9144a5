package media

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturingS3 struct {
	input *s3.PutObjectInput
	err   error
}

func (c *capturingS3) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.input = params
	return &s3.PutObjectOutput{}, nil
}

func TestFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "token-abc", r.Header.Get("api_access_token"))
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png-bytes"))
	}))
	defer server.Close()

	store := NewStore(&capturingS3{}, "bucket", "", "us-east-1", nil)

	data, contentType, err := store.Fetch(context.Background(), server.URL, "token-abc")
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)
	assert.Equal(t, "image/png", contentType)
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func TestFetchOversizedAttachmentFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.CopyN(w, zeroReader{}, maxAttachmentBytes+1)
	}))
	defer server.Close()

	store := NewStore(&capturingS3{}, "bucket", "", "us-east-1", nil)

	_, _, err := store.Fetch(context.Background(), server.URL, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")
}

func TestFetchNon2xxFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	store := NewStore(&capturingS3{}, "bucket", "", "us-east-1", nil)

	_, _, err := store.Fetch(context.Background(), server.URL, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestHostUploadsAndReturnsPublicURL(t *testing.T) {
	client := &capturingS3{}
	store := NewStore(client, "bridge-media", "https://cdn.example.com", "us-east-1", nil)

	url, err := store.Host(context.Background(), "from_chatwoot", "photo.jpg", []byte("jpeg-bytes"), "image/jpeg")
	require.NoError(t, err)

	require.NotNil(t, client.input)
	assert.Equal(t, "bridge-media", *client.input.Bucket)
	assert.Equal(t, "image/jpeg", *client.input.ContentType)

	key := *client.input.Key
	assert.True(t, strings.HasPrefix(key, "from_chatwoot/"))
	assert.True(t, strings.HasSuffix(key, "_photo.jpg"))
	assert.Equal(t, "https://cdn.example.com/"+key, url)

	uploaded, err := io.ReadAll(client.input.Body)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-bytes"), uploaded)
}

func TestHostDefaultsToS3URL(t *testing.T) {
	client := &capturingS3{}
	store := NewStore(client, "bridge-media", "", "sa-east-1", nil)

	url, err := store.Host(context.Background(), "from_chatwoot", "doc.pdf", []byte("pdf"), "application/pdf")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "https://bridge-media.s3.sa-east-1.amazonaws.com/from_chatwoot/"))
}

func TestHostWithoutBucketFails(t *testing.T) {
	store := NewStore(nil, "", "", "us-east-1", nil)
	assert.False(t, store.Enabled())

	_, err := store.Host(context.Background(), "from_chatwoot", "photo.jpg", []byte("x"), "image/jpeg")
	require.Error(t, err)
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"photo.jpg", "photo.jpg"},
		{"comprovante de pagamento.pdf", "comprovante-de-pagamento.pdf"},
		{"../../etc/passwd", "..-..-etc-passwd"},
		{"", "attachment"},
		{"relatório.png", "relat-rio.png"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeFilename(tt.in))
	}
}
