package whatsapp

// WebhookEnvelope is the top-level body of a Cloud API webhook delivery.
type WebhookEnvelope struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry groups changes for one business account.
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// Change is one field update inside an entry.
type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

// ChangeValue carries the messages, contacts and statuses of a change.
type ChangeValue struct {
	MessagingProduct string           `json:"messaging_product"`
	Metadata         Metadata         `json:"metadata"`
	Contacts         []Contact        `json:"contacts,omitempty"`
	Messages         []InboundMessage `json:"messages,omitempty"`
	Statuses         []Status         `json:"statuses,omitempty"`
}

// Metadata identifies the business number that received the change.
type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

// Contact is the sender profile attached to inbound messages.
type Contact struct {
	WaID    string         `json:"wa_id"`
	Profile ContactProfile `json:"profile"`
}

// ContactProfile holds the WhatsApp display name.
type ContactProfile struct {
	Name string `json:"name"`
}

// InboundMessage is a single message as delivered by the Cloud API.
type InboundMessage struct {
	From        string           `json:"from"`
	ID          string           `json:"id"`
	Timestamp   string           `json:"timestamp"`
	Type        string           `json:"type"`
	Text        *TextBody        `json:"text,omitempty"`
	Image       *MediaBody       `json:"image,omitempty"`
	Audio       *MediaBody       `json:"audio,omitempty"`
	Voice       *MediaBody       `json:"voice,omitempty"`
	Video       *MediaBody       `json:"video,omitempty"`
	Sticker     *MediaBody       `json:"sticker,omitempty"`
	Document    *MediaBody       `json:"document,omitempty"`
	Location    *LocationBody    `json:"location,omitempty"`
	Button      *ButtonBody      `json:"button,omitempty"`
	Interactive *InteractiveBody `json:"interactive,omitempty"`
	Context     *MessageContext  `json:"context,omitempty"`
}

// TextBody is the payload of a text message.
type TextBody struct {
	Body string `json:"body"`
}

// MediaBody is shared by image, audio, video, sticker and document messages.
type MediaBody struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type,omitempty"`
	SHA256   string `json:"sha256,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// LocationBody is a shared location pin.
type LocationBody struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
}

// ButtonBody is a quick-reply button tap on a template message.
type ButtonBody struct {
	Text    string `json:"text"`
	Payload string `json:"payload"`
}

// InteractiveBody is a reply to an interactive list or button message.
type InteractiveBody struct {
	Type        string     `json:"type"`
	ButtonReply *ReplyBody `json:"button_reply,omitempty"`
	ListReply   *ReplyBody `json:"list_reply,omitempty"`
}

// ReplyBody is the chosen option of an interactive message.
type ReplyBody struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// MessageContext references the message being replied to.
type MessageContext struct {
	From string `json:"from"`
	ID   string `json:"id"`
}

// Status is a delivery receipt for an outbound message.
type Status struct {
	ID          string        `json:"id"`
	Status      string        `json:"status"`
	Timestamp   string        `json:"timestamp"`
	RecipientID string        `json:"recipient_id"`
	Errors      []StatusError `json:"errors,omitempty"`
}

// StatusError explains a failed delivery.
type StatusError struct {
	Code  int    `json:"code"`
	Title string `json:"title"`
}

type sendTextBody struct {
	MessagingProduct string         `json:"messaging_product"`
	RecipientType    string         `json:"recipient_type"`
	To               string         `json:"to"`
	Type             string         `json:"type"`
	Text             sendTextFields `json:"text"`
	Context          *sendContext   `json:"context,omitempty"`
}

type sendTextFields struct {
	Body       string `json:"body"`
	PreviewURL bool   `json:"preview_url"`
}

type sendContext struct {
	MessageID string `json:"message_id"`
}

type sendResponse struct {
	MessagingProduct string `json:"messaging_product"`
	Contacts         []struct {
		Input string `json:"input"`
		WaID  string `json:"wa_id"`
	} `json:"contacts"`
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type phoneNumberResponse struct {
	ID                 string `json:"id"`
	Status             string `json:"status"`
	DisplayPhoneNumber string `json:"display_phone_number"`
}
