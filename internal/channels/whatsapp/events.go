package whatsapp

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidPayload is returned when a webhook body cannot be parsed.
var ErrInvalidPayload = errors.New("whatsapp: invalid webhook payload")

const businessAccountObject = "whatsapp_business_account"

// MessageReceived is a normalized inbound message.
type MessageReceived struct {
	ID            string
	From          string
	To            string
	PhoneNumberID string
	Type          string
	Content       string
	MediaRef      string
	ReplyToID     string
	Timestamp     time.Time
}

// ContactProfileUpdated carries the display name WhatsApp reports for a sender.
type ContactProfileUpdated struct {
	Address       string
	DisplayName   string
	PhoneNumberID string
}

// MessageStatusChanged is a delivery receipt for a message we sent.
type MessageStatusChanged struct {
	ID            string
	Status        string
	Recipient     string
	PhoneNumberID string
	Timestamp     time.Time
	ErrorCode     int
	ErrorTitle    string
}

// Events is everything a single webhook delivery contained.
type Events struct {
	Messages []MessageReceived
	Contacts []ContactProfileUpdated
	Statuses []MessageStatusChanged
}

// Empty reports whether the delivery carried nothing actionable.
func (e Events) Empty() bool {
	return len(e.Messages) == 0 && len(e.Contacts) == 0 && len(e.Statuses) == 0
}

// ContactName returns the display name reported for address, if any.
func (e Events) ContactName(address string) string {
	for _, c := range e.Contacts {
		if c.Address == address {
			return c.DisplayName
		}
	}
	return ""
}

// Parse decodes a webhook body into normalized events. Reactions and
// unsupported/system messages are dropped.
func Parse(body []byte) (Events, error) {
	var env WebhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Events{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if env.Object != "" && env.Object != businessAccountObject {
		return Events{}, fmt.Errorf("%w: unexpected object %q", ErrInvalidPayload, env.Object)
	}

	var out Events
	for _, entry := range env.Entry {
		for _, change := range entry.Changes {
			if change.Field != "" && change.Field != "messages" {
				continue
			}
			value := change.Value
			phoneNumberID := value.Metadata.PhoneNumberID
			to := NormalizeAddress(value.Metadata.DisplayPhoneNumber)
			if to == "" {
				to = phoneNumberID
			}

			for _, c := range value.Contacts {
				address := NormalizeAddress(c.WaID)
				name := strings.TrimSpace(c.Profile.Name)
				if address == "" || name == "" {
					continue
				}
				out.Contacts = append(out.Contacts, ContactProfileUpdated{Address: address, DisplayName: name, PhoneNumberID: phoneNumberID})
			}

			for _, m := range value.Messages {
				if m.ID == "" || m.From == "" {
					continue
				}
				content, mediaRef, ok := normalizeContent(m)
				if !ok {
					continue
				}
				msg := MessageReceived{
					ID:            m.ID,
					From:          NormalizeAddress(m.From),
					To:            to,
					PhoneNumberID: phoneNumberID,
					Type:          m.Type,
					Content:       content,
					MediaRef:      mediaRef,
					Timestamp:     parseUnix(m.Timestamp),
				}
				if m.Context != nil {
					msg.ReplyToID = m.Context.ID
				}
				out.Messages = append(out.Messages, msg)
			}

			for _, s := range value.Statuses {
				if s.ID == "" || s.Status == "" {
					continue
				}
				st := MessageStatusChanged{
					ID:            s.ID,
					Status:        strings.ToLower(s.Status),
					Recipient:     NormalizeAddress(s.RecipientID),
					PhoneNumberID: phoneNumberID,
					Timestamp:     parseUnix(s.Timestamp),
				}
				if len(s.Errors) > 0 {
					st.ErrorCode = s.Errors[0].Code
					st.ErrorTitle = s.Errors[0].Title
				}
				out.Statuses = append(out.Statuses, st)
			}
		}
	}
	return out, nil
}

func normalizeContent(m InboundMessage) (content, mediaRef string, ok bool) {
	switch m.Type {
	case "text":
		if m.Text == nil {
			return "", "", false
		}
		return strings.TrimSpace(m.Text.Body), "", true
	case "image":
		return mediaContent(m.Image, "[image]")
	case "audio":
		return mediaContent(m.Audio, "[audio]")
	case "voice":
		return mediaContent(m.Voice, "[audio]")
	case "video":
		return mediaContent(m.Video, "[video]")
	case "sticker":
		return mediaContent(m.Sticker, "[sticker]")
	case "document":
		if m.Document == nil {
			return "[document]", "", true
		}
		label := strings.TrimSpace(m.Document.Caption)
		if label == "" {
			label = strings.TrimSpace(m.Document.Filename)
		}
		if label == "" {
			label = "[document]"
		}
		return label, m.Document.ID, true
	case "location":
		if m.Location == nil {
			return "[location]", "", true
		}
		loc := m.Location
		coords := strconv.FormatFloat(loc.Latitude, 'f', -1, 64) + "," + strconv.FormatFloat(loc.Longitude, 'f', -1, 64)
		parts := []string{"[location]"}
		if name := strings.TrimSpace(loc.Name); name != "" {
			parts = append(parts, name)
		}
		if addr := strings.TrimSpace(loc.Address); addr != "" {
			parts = append(parts, addr)
		}
		parts = append(parts, coords)
		return strings.Join(parts, " "), "", true
	case "button":
		if m.Button == nil {
			return "", "", false
		}
		return strings.TrimSpace(m.Button.Text), "", true
	case "interactive":
		if m.Interactive == nil {
			return "", "", false
		}
		if r := m.Interactive.ButtonReply; r != nil {
			return strings.TrimSpace(r.Title), "", true
		}
		if r := m.Interactive.ListReply; r != nil {
			return strings.TrimSpace(r.Title), "", true
		}
		return "", "", false
	default:
		// reaction, contacts, order, unsupported and future types are kept
		// as a placeholder so the message is still stored as "other".
		kind := strings.ToLower(strings.TrimSpace(m.Type))
		if kind == "" {
			kind = "unknown"
		}
		return "[" + kind + "]", "", true
	}
}

func mediaContent(media *MediaBody, placeholder string) (string, string, bool) {
	if media == nil {
		return placeholder, "", true
	}
	if caption := strings.TrimSpace(media.Caption); caption != "" {
		return caption, media.ID, true
	}
	return placeholder, media.ID, true
}

func parseUnix(raw string) time.Time {
	secs, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || secs <= 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}

// NormalizeAddress renders a WhatsApp id or phone number as +E.164.
func NormalizeAddress(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return "+" + b.String()
}
