package router

import (
	"encoding/json"
	"net/url"
)

// Event is one decoded inbound webhook event. The variant is closed:
// decoding produces exactly one of VerificationChallenge, TextCommand,
// ButtonTap, or Unrecognized, and handlers switch over the concrete types
// instead of probing nested payload structure.
type Event interface {
	inboundEvent()
}

// VerificationChallenge is the provider's GET handshake.
type VerificationChallenge struct {
	Mode      string
	Token     string
	Challenge string
}

// TextCommand is a free-text message from a sender.
type TextCommand struct {
	Sender string
	Body   string
}

// ButtonTap is an interactive reply-button press. ButtonID is the id the
// outbound message attached to the button.
type ButtonTap struct {
	Sender   string
	ButtonID string
}

// Unrecognized is any delivery the router does not act on (status
// receipts, media, reactions). It is acknowledged and dropped.
type Unrecognized struct{}

func (VerificationChallenge) inboundEvent() {}
func (TextCommand) inboundEvent()           {}
func (ButtonTap) inboundEvent()             {}
func (Unrecognized) inboundEvent()          {}

// DecodeVerification reads the handshake from the query string. ok is
// false when any of the three parameters is absent or empty; a blank
// challenge is useless to echo, so it counts as missing.
func DecodeVerification(q url.Values) (VerificationChallenge, bool) {
	vc := VerificationChallenge{
		Mode:      q.Get("hub.mode"),
		Token:     q.Get("hub.verify_token"),
		Challenge: q.Get("hub.challenge"),
	}
	if vc.Mode == "" || vc.Token == "" || vc.Challenge == "" {
		return VerificationChallenge{}, false
	}
	return vc, true
}

// webhookPayload mirrors the slice of the WhatsApp Cloud API notification
// shape the router cares about.
type webhookPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []webhookMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type webhookMessage struct {
	From string `json:"from"`
	Type string `json:"type"`
	Text struct {
		Body string `json:"body"`
	} `json:"text"`
	Interactive struct {
		Type        string `json:"type"`
		ButtonReply struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"button_reply"`
	} `json:"interactive"`
}

// DecodeMessages parses a POST body into events, one per inbound message.
// Malformed JSON is an error; a well-formed payload with nothing the
// router understands decodes to Unrecognized events or an empty slice.
func DecodeMessages(body []byte) ([]Event, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}

	var events []Event
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				events = append(events, decodeMessage(msg))
			}
		}
	}
	return events, nil
}

func decodeMessage(msg webhookMessage) Event {
	switch msg.Type {
	case "text":
		if msg.From == "" || msg.Text.Body == "" {
			return Unrecognized{}
		}
		return TextCommand{Sender: msg.From, Body: msg.Text.Body}
	case "interactive":
		if msg.Interactive.Type == "button_reply" && msg.From != "" && msg.Interactive.ButtonReply.ID != "" {
			return ButtonTap{Sender: msg.From, ButtonID: msg.Interactive.ButtonReply.ID}
		}
		return Unrecognized{}
	default:
		return Unrecognized{}
	}
}
