package messaging

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/supportbridge/whatsapp-chatwoot-bridge/internal/conversation"
)

// ValidateTwilioSignature validates that a request came from Twilio.
func ValidateTwilioSignature(r *http.Request, authToken, webhookURL string) bool {
	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" {
		return false
	}

	if err := r.ParseForm(); err != nil {
		return false
	}

	payload := buildSignaturePayload(webhookURL, r.PostForm)
	expectedSignature := computeSignature(payload, authToken)

	return hmac.Equal([]byte(signature), []byte(expectedSignature))
}

// buildSignaturePayload creates the payload string for signature verification:
// the URL followed by every form param, key-sorted.
func buildSignaturePayload(url string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var payload strings.Builder
	payload.WriteString(url)

	for _, key := range keys {
		for _, value := range params[key] {
			payload.WriteString(key)
			payload.WriteString(value)
		}
	}

	return payload.String()
}

// computeSignature computes the HMAC-SHA1 signature.
func computeSignature(data, key string) string {
	h := hmac.New(sha1.New, []byte(key))
	h.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// ParseTwilioWebhook normalizes an incoming Twilio WhatsApp webhook, including
// the indexed MediaUrlN/MediaContentTypeN attachment fields.
func ParseTwilioWebhook(r *http.Request) (*conversation.InboundMessage, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse form: %w", err)
	}

	msg := &conversation.InboundMessage{
		From:      r.FormValue("From"),
		Body:      strings.TrimSpace(r.FormValue("Body")),
		TwilioSID: r.FormValue("MessageSid"),
	}

	numMedia, _ := strconv.Atoi(r.FormValue("NumMedia"))
	for i := 0; i < numMedia; i++ {
		mediaURL := r.FormValue(fmt.Sprintf("MediaUrl%d", i))
		if mediaURL == "" {
			continue
		}
		msg.Attachments = append(msg.Attachments, conversation.Attachment{
			URL:         mediaURL,
			ContentType: r.FormValue(fmt.Sprintf("MediaContentType%d", i)),
		})
	}

	return msg, nil
}

func buildAbsoluteURL(r *http.Request) string {
	if r.URL == nil {
		return ""
	}
	if r.URL.Scheme != "" {
		return r.URL.String()
	}
	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		scheme = "https"
		if r.TLS == nil {
			scheme = "http"
		}
	}
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	return fmt.Sprintf("%s://%s%s", scheme, host, r.URL.RequestURI())
}
