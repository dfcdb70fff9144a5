package chatwoot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/supportbridge/whatsapp-chatwoot-bridge/internal/conversation"
	"github.com/supportbridge/whatsapp-chatwoot-bridge/pkg/logging"
)

const (
	defaultTimeout = 15 * time.Second

	// sourceID marks conversations we open through the API.
	sourceID = "api"
)

// APIError is the single failure classification for Chatwoot calls: any
// non-success response, carrying the body for the logs.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chatwoot: %s failed: status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Client talks to the Chatwoot account API with a static access token.
type Client struct {
	baseURL    string
	accountID  string
	inboxID    int
	apiToken   string
	httpClient *http.Client
	logger     *logging.Logger
}

var _ conversation.HelpdeskClient = (*Client)(nil)

// NewClient builds a Chatwoot API client.
func NewClient(baseURL, accountID string, inboxID int, apiToken string, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		accountID: accountID,
		inboxID:   inboxID,
		apiToken:  apiToken,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		logger: logger,
	}
}

func (c *Client) endpoint(path string) string {
	return fmt.Sprintf("%s/api/v1/accounts/%s%s", c.baseURL, c.accountID, path)
}

// SearchContact looks up a contact by phone number. A failed or empty search
// is "not found", not an error; only transport failures surface as errors.
func (c *Client) SearchContact(ctx context.Context, phoneNumber string) (int64, bool, error) {
	searchURL := c.endpoint("/contacts/search") + "?q=" + url.QueryEscape(phoneNumber)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return 0, false, fmt.Errorf("chatwoot: build search request: %w", err)
	}
	req.Header.Set("api_access_token", c.apiToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, false, fmt.Errorf("chatwoot: search contact: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, false, nil
	}

	var parsed struct {
		Payload []struct {
			ID int64 `json:"id"`
		} `json:"payload"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil || len(parsed.Payload) == 0 {
		return 0, false, nil
	}

	c.logger.Info("chatwoot contact found", "contact_id", parsed.Payload[0].ID)
	return parsed.Payload[0].ID, true, nil
}

// CreateContact registers a new contact for the phone number.
func (c *Client) CreateContact(ctx context.Context, phoneNumber string) (int64, error) {
	payload := map[string]any{
		"inbox_id":     c.inboxID,
		"name":         conversation.ContactDisplayName(phoneNumber),
		"phone_number": phoneNumber,
	}

	var parsed struct {
		Payload struct {
			Contact struct {
				ID int64 `json:"id"`
			} `json:"contact"`
		} `json:"payload"`
	}
	if err := c.post(ctx, "create contact", c.endpoint("/contacts"), payload, &parsed); err != nil {
		return 0, err
	}

	c.logger.Info("chatwoot contact created", "contact_id", parsed.Payload.Contact.ID)
	return parsed.Payload.Contact.ID, nil
}

// CreateConversation opens a fresh conversation for the contact in our inbox.
func (c *Client) CreateConversation(ctx context.Context, contactID int64) (int64, error) {
	payload := map[string]any{
		"inbox_id":   c.inboxID,
		"contact_id": contactID,
		"source_id":  sourceID,
	}

	var parsed struct {
		ID int64 `json:"id"`
	}
	if err := c.post(ctx, "create conversation", c.endpoint("/conversations"), payload, &parsed); err != nil {
		return 0, err
	}
	return parsed.ID, nil
}

// ForwardMessage posts a user message into a Chatwoot conversation.
func (c *Client) ForwardMessage(ctx context.Context, conversationID int64, body string) error {
	payload := map[string]any{
		"content":      body,
		"message_type": "incoming",
	}
	endpoint := c.endpoint(fmt.Sprintf("/conversations/%d/messages", conversationID))
	return c.post(ctx, "forward message", endpoint, payload, nil)
}

// ForwardAttachment posts a user media message into a Chatwoot conversation,
// passing the provider-hosted URL through as-is.
func (c *Client) ForwardAttachment(ctx context.Context, conversationID int64, mediaURL, contentType, caption string) error {
	payload := map[string]any{
		"content":      caption,
		"message_type": "incoming",
		"attachments": []map[string]string{
			{"data_url": mediaURL, "content_type": contentType},
		},
	}
	endpoint := c.endpoint(fmt.Sprintf("/conversations/%d/messages", conversationID))
	return c.post(ctx, "forward attachment", endpoint, payload, nil)
}

func (c *Client) post(ctx context.Context, op, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("chatwoot: marshal %s payload: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("chatwoot: build %s request: %w", op, err)
	}
	req.Header.Set("api_access_token", c.apiToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("chatwoot: %s: %w", op, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return &APIError{Op: op, StatusCode: resp.StatusCode, Body: "malformed response: " + strings.TrimSpace(string(respBody))}
		}
	}
	return nil
}
