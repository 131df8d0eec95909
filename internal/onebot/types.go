// Package onebot implements the OneBot v11 wire protocol spoken by the QQ
// gateway process: inbound event decoding, content segments and outbound
// action frames.
package onebot

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
)

// ErrDecode indicates a frame that is not valid OneBot JSON.
var ErrDecode = errors.New("onebot: malformed frame")

// Post types carried in the post_type field.
const (
	PostTypeMessage   = "message"
	PostTypeNotice    = "notice"
	PostTypeRequest   = "request"
	PostTypeMetaEvent = "meta_event"
)

// Message types carried in the message_type field.
const (
	MessageTypePrivate = "private"
	MessageTypeGroup   = "group"
)

// ID is a numeric QQ identifier that some gateway builds emit as a string.
type ID string

// UnmarshalJSON accepts both JSON numbers and strings.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// String returns the identifier text.
func (id ID) String() string { return string(id) }

// Int64 parses the identifier as a number.
func (id ID) Int64() (int64, error) { return strconv.ParseInt(string(id), 10, 64) }

// Sender is the sender block of a message event.
type Sender struct {
	UserID   ID     `json:"user_id"`
	Nickname string `json:"nickname"`
	Card     string `json:"card,omitempty"`
}

// Event is the subset of a OneBot event frame read by the bridge.
type Event struct {
	PostType    string          `json:"post_type"`
	MessageType string          `json:"message_type,omitempty"`
	SubType     string          `json:"sub_type,omitempty"`
	Time        int64           `json:"time,omitempty"`
	SelfID      ID              `json:"self_id,omitempty"`
	UserID      ID              `json:"user_id,omitempty"`
	GroupID     ID              `json:"group_id,omitempty"`
	TargetID    ID              `json:"target_id,omitempty"`
	MessageID   ID              `json:"message_id,omitempty"`
	Message     json.RawMessage `json:"message,omitempty"`
	RawMessage  string          `json:"raw_message,omitempty"`
	Sender      *Sender         `json:"sender,omitempty"`
}

// ChatType distinguishes direct and group conversations.
type ChatType string

const (
	ChatTypeDirect ChatType = "direct"
	ChatTypeGroup  ChatType = "group"
)

// MediaKind is the kind of an inbound or outbound attachment.
type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaAudio    MediaKind = "audio"
	MediaVideo    MediaKind = "video"
	MediaDocument MediaKind = "document"
)

// MediaAttachment references remote media carried by a message. LocalPath
// and ContentType are populated only after a successful download.
type MediaAttachment struct {
	Kind           MediaKind `json:"kind"`
	RemoteURL      string    `json:"remote_url"`
	RemoteFileName string    `json:"remote_file_name"`
	LocalPath      string    `json:"local_path,omitempty"`
	ContentType    string    `json:"content_type,omitempty"`
}

// ParsedMessage is the canonical record for one inbound chat message.
type ParsedMessage struct {
	MessageID        string            `json:"message_id"`
	Timestamp        int64             `json:"timestamp"`
	Body             string            `json:"body"`
	RawBody          string            `json:"raw_body"`
	SenderID         string            `json:"sender_id"`
	SenderName       string            `json:"sender_name"`
	ChatType         ChatType          `json:"chat_type"`
	ChatID           string            `json:"chat_id"`
	GroupSubject     string            `json:"group_subject,omitempty"`
	SelfID           string            `json:"self_id,omitempty"`
	Segments         []Segment         `json:"-"`
	MediaAttachments []MediaAttachment `json:"media_attachments"`
}

// IsGroup reports whether the message came from a group chat.
func (m ParsedMessage) IsGroup() bool { return m.ChatType == ChatTypeGroup }

// WithMedia returns a copy of the message carrying the given attachments.
func (m ParsedMessage) WithMedia(items []MediaAttachment) ParsedMessage {
	m.MediaAttachments = append([]MediaAttachment(nil), items...)
	return m
}

// Mentions reports whether any mention segment targets qq.
func (m ParsedMessage) Mentions(qq string) bool {
	if qq == "" {
		return false
	}
	for _, seg := range m.Segments {
		if at, ok := seg.(Mention); ok && at.QQ == qq {
			return true
		}
	}
	return false
}
