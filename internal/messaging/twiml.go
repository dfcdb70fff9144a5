package messaging

import (
	"encoding/xml"
	"net/http"
)

// twimlResponse is the gateway reply markup Twilio renders back to the user.
type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Message string   `xml:"Message,omitempty"`
}

// WriteTwiML writes a TwiML document with zero or one reply message. An empty
// body produces an empty <Response/>, which Twilio treats as a silent ack.
func WriteTwiML(w http.ResponseWriter, body string) {
	out, err := xml.Marshal(twimlResponse{Message: body})
	if err != nil {
		// Marshalling a two-field struct cannot realistically fail; keep the
		// channel valid regardless.
		out = []byte("<Response></Response>")
	}

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(xml.Header))
	_, _ = w.Write(out)
}
