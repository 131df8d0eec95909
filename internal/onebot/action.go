package onebot

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
)

// Actions issued by the bridge.
const (
	ActionSendPrivateMsg = "send_private_msg"
	ActionSendGroupMsg   = "send_group_msg"
)

// ErrUnsupportedMedia indicates a media kind with no segment mapping.
var ErrUnsupportedMedia = errors.New("onebot: unsupported media kind")

// Action is an outbound API call frame.
type Action struct {
	Action string `json:"action"`
	Params any    `json:"params"`
	Echo   string `json:"echo"`
}

type PrivateMessageParams struct {
	UserID  int64        `json:"user_id"`
	Message []RawSegment `json:"message"`
}

type GroupMessageParams struct {
	GroupID int64        `json:"group_id"`
	Message []RawSegment `json:"message"`
}

// Response is an API call result frame, correlated by Echo.
type Response struct {
	Status  string          `json:"status"`
	RetCode int             `json:"retcode"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message json.RawMessage `json:"message,omitempty"`
	Wording string          `json:"wording,omitempty"`
	Echo    ID              `json:"echo"`
}

// OK reports whether the action succeeded.
func (r Response) OK() bool { return r.RetCode == 0 }

// MessageID returns data.message_id when present.
func (r Response) MessageID() string {
	if len(r.Data) == 0 {
		return ""
	}
	var data struct {
		MessageID ID `json:"message_id"`
	}
	if err := json.Unmarshal(r.Data, &data); err != nil {
		return ""
	}
	return data.MessageID.String()
}

// ErrorMessage returns the failure text from message or wording.
func (r Response) ErrorMessage() string {
	var msg string
	if len(r.Message) > 0 && r.Message[0] == '"' {
		_ = json.Unmarshal(r.Message, &msg)
	}
	if strings.TrimSpace(msg) == "" {
		msg = r.Wording
	}
	if strings.TrimSpace(msg) == "" {
		msg = "unknown error"
	}
	return msg
}

// DecodeResponse returns the response carried by raw when the frame has an
// echo field. Event frames report false.
func DecodeResponse(raw []byte) (Response, bool) {
	var probe struct {
		Echo json.RawMessage `json:"echo"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Response{}, false
	}
	echo := bytes.TrimSpace(probe.Echo)
	if len(echo) == 0 || bytes.Equal(echo, []byte("null")) || bytes.Equal(echo, []byte(`""`)) {
		return Response{}, false
	}
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Response{}, false
	}
	return resp, true
}

// EncodeSegments converts typed segments into their wire form.
func EncodeSegments(segments []Segment) ([]RawSegment, error) {
	out := make([]RawSegment, 0, len(segments))
	for _, seg := range segments {
		raw, err := EncodeSegment(seg)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

// TextMessage builds a single text segment message.
func TextMessage(text string) []Segment {
	return []Segment{Text{Text: text}}
}

// MediaMessage builds an optional caption followed by one media segment
// carrying data inline as base64. Documents degrade to an image segment with
// the file name as summary.
func MediaMessage(caption string, kind MediaKind, data []byte, fileName string) ([]Segment, error) {
	file := "base64://" + base64.StdEncoding.EncodeToString(data)
	var media Segment
	switch kind {
	case MediaImage:
		media = Image{File: file}
	case MediaAudio:
		media = Voice{File: file}
	case MediaVideo:
		media = Video{File: file}
	case MediaDocument:
		summary := strings.TrimSpace(fileName)
		if summary == "" {
			summary = "document"
		}
		media = Image{File: file, Summary: summary}
	default:
		return nil, ErrUnsupportedMedia
	}
	segments := make([]Segment, 0, 2)
	if strings.TrimSpace(caption) != "" {
		segments = append(segments, Text{Text: caption})
	}
	return append(segments, media), nil
}
