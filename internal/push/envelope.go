// Package push holds the wire format of the push gateway and an HTTP client for it.
package push

// Envelope is the message shared by every token of a multicast send. The gateway
// picks the platform block that matches each token.
type Envelope struct {
	Data    map[string]string `json:"data,omitempty"`
	Android *AndroidConfig    `json:"android,omitempty"`
	Webpush *WebpushConfig    `json:"webpush,omitempty"`
	APNS    *APNSConfig       `json:"apns,omitempty"`
}

// AndroidConfig is the android delivery block.
type AndroidConfig struct {
	Priority     string               `json:"priority"`
	TTL          string               `json:"ttl"`
	CollapseKey  string               `json:"collapse_key,omitempty"`
	Notification *AndroidNotification `json:"notification,omitempty"`
}

// AndroidNotification is displayed by the android system tray.
type AndroidNotification struct {
	Title       string `json:"title"`
	Body        string `json:"body"`
	Tag         string `json:"tag,omitempty"`
	ClickAction string `json:"click_action,omitempty"`
}

// WebpushConfig is the web push block. It carries no notification payload:
// the receiving service worker renders the message from Data.
type WebpushConfig struct {
	Headers    map[string]string  `json:"headers"`
	FCMOptions *WebpushFCMOptions `json:"fcm_options,omitempty"`
}

// WebpushFCMOptions holds link metadata for the click target.
type WebpushFCMOptions struct {
	Link string `json:"link,omitempty"`
}

// APNSConfig is the iOS delivery block.
type APNSConfig struct {
	Headers map[string]string `json:"headers"`
	Payload APNSPayload       `json:"payload"`
}

// APNSPayload is the APNs JSON payload.
type APNSPayload struct {
	Aps    Aps    `json:"aps"`
	URL    string `json:"url,omitempty"`
	Tag    string `json:"tag,omitempty"`
	SentAt string `json:"sentAt,omitempty"`
}

// Aps is the reserved aps dictionary.
type Aps struct {
	Alert *ApsAlert `json:"alert,omitempty"`
	Sound string    `json:"sound,omitempty"`
}

// ApsAlert is the inline alert shown by iOS.
type ApsAlert struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Response is the per-token outcome of a multicast send.
type Response struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId,omitempty"`
	Error     *Error `json:"error,omitempty"`
}

// Error is a gateway error for one token.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// Gateway error codes used for classification.
const (
	CodeInternal            = "messaging/internal-error"
	CodeServerUnavailable   = "messaging/server-unavailable"
	CodeUnavailable         = "messaging/unavailable"
	CodeInvalidToken        = "messaging/invalid-registration-token"
	CodeTokenNotRegistered  = "messaging/registration-token-not-registered"
	CodeInvalidArgument     = "messaging/invalid-argument"
	CodeMessageRateExceeded = "messaging/message-rate-exceeded"
)
