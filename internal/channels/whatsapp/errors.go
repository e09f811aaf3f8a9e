package whatsapp

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Graph error codes that mark a 4xx as transient.
var retryableGraphCodes = map[int]bool{
	4:      true, // application request limit
	80007:  true, // WhatsApp Business account rate limit
	130429: true, // throughput reached
	131016: true, // service unavailable
	131056: true, // pair rate limit
}

// DeliveryError is returned by SendText when a message did not reach the
// Cloud API. Status is zero for transport failures.
type DeliveryError struct {
	Status    int
	Code      int
	Message   string
	Retryable bool
	Err       error
}

func (e *DeliveryError) Error() string {
	switch {
	case e.Status != 0 && e.Code != 0:
		return fmt.Sprintf("whatsapp: %s (status=%d code=%d)", e.Message, e.Status, e.Code)
	case e.Status != 0:
		return fmt.Sprintf("whatsapp: %s (status=%d)", e.Message, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("whatsapp: %s: %v", e.Message, e.Err)
	default:
		return "whatsapp: " + e.Message
	}
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

type graphErrorBody struct {
	Error struct {
		Message      string `json:"message"`
		Type         string `json:"type"`
		Code         int    `json:"code"`
		ErrorSubcode int    `json:"error_subcode"`
		FBTraceID    string `json:"fbtrace_id"`
	} `json:"error"`
}

func decodeGraphError(status int, body []byte) *DeliveryError {
	out := &DeliveryError{Status: status, Retryable: shouldRetry(status, nil)}
	var parsed graphErrorBody
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.Error.Message == "" {
		out.Message = http.StatusText(status)
		if out.Message == "" {
			out.Message = "unexpected status"
		}
		return out
	}
	out.Code = parsed.Error.Code
	out.Message = parsed.Error.Message
	if retryableGraphCodes[parsed.Error.Code] {
		out.Retryable = true
	}
	return out
}
