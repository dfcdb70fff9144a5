package messaging

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func postForm(target string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestValidateTwilioSignature(t *testing.T) {
	authToken := "test_token"
	webhookURL := "https://example.com/webhooks/twilio/whatsapp"

	formData := url.Values{}
	formData.Set("MessageSid", "SM123")
	formData.Set("From", "whatsapp:+5511999990000")
	formData.Set("Body", "oi")

	req := postForm(webhookURL, formData)
	payload := buildSignaturePayload(webhookURL, formData)
	req.Header.Set("X-Twilio-Signature", computeSignature(payload, authToken))

	if !ValidateTwilioSignature(req, authToken, webhookURL) {
		t.Error("expected signature validation to pass")
	}
}

func TestValidateTwilioSignature_Invalid(t *testing.T) {
	webhookURL := "https://example.com/webhooks/twilio/whatsapp"
	formData := url.Values{}
	formData.Set("MessageSid", "SM123")

	req := postForm(webhookURL, formData)
	req.Header.Set("X-Twilio-Signature", "invalid_signature")

	if ValidateTwilioSignature(req, "test_token", webhookURL) {
		t.Error("expected signature validation to fail")
	}
}

func TestValidateTwilioSignature_Missing(t *testing.T) {
	webhookURL := "https://example.com/webhooks/twilio/whatsapp"
	formData := url.Values{}
	formData.Set("MessageSid", "SM123")

	if ValidateTwilioSignature(postForm(webhookURL, formData), "test_token", webhookURL) {
		t.Error("expected signature validation to fail without signature header")
	}
}

func TestParseTwilioWebhook(t *testing.T) {
	formData := url.Values{}
	formData.Set("MessageSid", "SM123")
	formData.Set("From", "whatsapp:+5511999990000")
	formData.Set("Body", "  oi  ")
	formData.Set("NumMedia", "0")

	msg, err := ParseTwilioWebhook(postForm("/webhook", formData))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.TwilioSID != "SM123" {
		t.Errorf("expected sid SM123, got %s", msg.TwilioSID)
	}
	if msg.From != "whatsapp:+5511999990000" {
		t.Errorf("unexpected from: %s", msg.From)
	}
	if msg.Body != "oi" {
		t.Errorf("expected trimmed body, got %q", msg.Body)
	}
	if len(msg.Attachments) != 0 {
		t.Errorf("expected no attachments, got %d", len(msg.Attachments))
	}
}

func TestParseTwilioWebhookWithMedia(t *testing.T) {
	formData := url.Values{}
	formData.Set("MessageSid", "SM124")
	formData.Set("From", "whatsapp:+5511999990000")
	formData.Set("Body", "segue a foto")
	formData.Set("NumMedia", "2")
	formData.Set("MediaUrl0", "https://api.twilio.com/media/1")
	formData.Set("MediaContentType0", "image/jpeg")
	formData.Set("MediaUrl1", "https://api.twilio.com/media/2")
	formData.Set("MediaContentType1", "image/png")

	msg, err := ParseTwilioWebhook(postForm("/webhook", formData))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(msg.Attachments) != 2 {
		t.Fatalf("expected 2 attachments, got %d", len(msg.Attachments))
	}
	if msg.Attachments[0].URL != "https://api.twilio.com/media/1" {
		t.Errorf("unexpected first media url: %s", msg.Attachments[0].URL)
	}
	if msg.Attachments[0].ContentType != "image/jpeg" {
		t.Errorf("unexpected content type: %s", msg.Attachments[0].ContentType)
	}
}

func TestFormatTwilioError(t *testing.T) {
	got := formatTwilioError(400, []byte(`{"code":21211,"message":"Invalid 'To' number"}`))
	want := "status 400 code 21211: Invalid 'To' number"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}

	if got := formatTwilioError(502, nil); got != "status 502" {
		t.Errorf("expected bare status, got %q", got)
	}
}
