package onebot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Decoder turns event frames into ParsedMessage values. The zero value uses
// the wall clock and random message ids.
type Decoder struct {
	Now   func() time.Time
	NewID func() string
}

// Decode decodes a frame with the default Decoder.
func Decode(raw []byte) (*ParsedMessage, error) {
	return Decoder{}.Decode(raw)
}

// Decode returns the parsed chat message carried by raw, or nil when the
// frame is a notice, request, meta event or API response. Malformed JSON
// yields ErrDecode.
func (d Decoder) Decode(raw []byte) (*ParsedMessage, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return d.FromEvent(ev), nil
}

// FromEvent converts a decoded event. It returns nil for non-message events.
func (d Decoder) FromEvent(ev Event) *ParsedMessage {
	if ev.PostType != PostTypeMessage {
		return nil
	}
	if ev.MessageType != MessageTypePrivate && ev.MessageType != MessageTypeGroup {
		return nil
	}

	senderID := ev.UserID.String()
	if ev.Sender != nil && ev.Sender.UserID != "" {
		senderID = ev.Sender.UserID.String()
	}
	senderName := ""
	if ev.Sender != nil {
		senderName = strings.TrimSpace(ev.Sender.Nickname)
		if senderName == "" {
			senderName = strings.TrimSpace(ev.Sender.Card)
		}
	}
	if senderName == "" {
		senderName = "User" + senderID
	}

	segments := parseSegments(ev.Message)
	body := RenderBody(segments)
	rawBody := ev.RawMessage
	if rawBody == "" {
		rawBody = body
	}

	msg := &ParsedMessage{
		MessageID:  ev.MessageID.String(),
		Body:       body,
		RawBody:    rawBody,
		SenderID:   senderID,
		SenderName: senderName,
		ChatType:   ChatTypeDirect,
		SelfID:     ev.SelfID.String(),
		Segments:   segments,
	}
	if ev.MessageType == MessageTypeGroup {
		msg.ChatType = ChatTypeGroup
		msg.ChatID = ev.GroupID.String()
		msg.GroupSubject = "Group " + msg.ChatID
	} else {
		msg.ChatID = ev.TargetID.String()
		if msg.ChatID == "" {
			msg.ChatID = senderID
		}
	}
	if msg.MessageID == "" {
		msg.MessageID = d.newID()
	}
	if ev.Time > 0 {
		msg.Timestamp = ev.Time * 1000
	} else {
		msg.Timestamp = d.now().UnixMilli()
	}
	for _, seg := range segments {
		if att, ok := mediaAttachment(seg); ok {
			msg.MediaAttachments = append(msg.MediaAttachments, att)
		}
	}
	return msg
}

func (d Decoder) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d Decoder) newID() string {
	if d.NewID != nil {
		return d.NewID()
	}
	return "qq-" + uuid.NewString()
}

// parseSegments accepts the array form and the plain string form of the
// message field.
func parseSegments(raw json.RawMessage) []Segment {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}
	switch raw[0] {
	case '[':
		var items []RawSegment
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil
		}
		out := make([]Segment, 0, len(items))
		for _, item := range items {
			out = append(out, ParseSegment(item))
		}
		return out
	case '"':
		var text string
		if err := json.Unmarshal(raw, &text); err != nil || text == "" {
			return nil
		}
		return []Segment{Text{Text: text}}
	default:
		return nil
	}
}
