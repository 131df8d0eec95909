package onebot

import (
	"encoding/json"
	"strings"
)

// Wire segment types.
const (
	SegmentText   = "text"
	SegmentImage  = "image"
	SegmentRecord = "record"
	SegmentVideo  = "video"
	SegmentFace   = "face"
	SegmentAt     = "at"
	SegmentShare  = "share"
	SegmentJSON   = "json"
)

// RawSegment is a segment as it appears on the wire.
type RawSegment struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Segment is one unit of mixed message content. The concrete types are
// Text, Image, Voice, Video, Face, Mention, Share, Structured and Other.
type Segment interface {
	// Type returns the wire segment type.
	Type() string
	// Render returns the plain-text rendering used in message bodies.
	Render() string
}

type Text struct {
	Text string `json:"text"`
}

type Image struct {
	File    string `json:"file"`
	URL     string `json:"url,omitempty"`
	Summary string `json:"summary,omitempty"`
}

type Voice struct {
	File string `json:"file"`
	URL  string `json:"url,omitempty"`
}

type Video struct {
	File string `json:"file"`
	URL  string `json:"url,omitempty"`
}

// Face is a built-in QQ sticker.
type Face struct {
	ID string `json:"id"`
}

// Mention targets a user, or everyone when QQ is "all".
type Mention struct {
	QQ string `json:"qq"`
}

type Share struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// Structured carries an opaque JSON card payload.
type Structured struct {
	Data string `json:"data"`
}

// Other keeps unknown segment types for forward compatibility.
type Other struct {
	Kind string
	Data json.RawMessage
}

func (Text) Type() string       { return SegmentText }
func (Image) Type() string      { return SegmentImage }
func (Voice) Type() string      { return SegmentRecord }
func (Video) Type() string      { return SegmentVideo }
func (Face) Type() string       { return SegmentFace }
func (Mention) Type() string    { return SegmentAt }
func (Share) Type() string      { return SegmentShare }
func (Structured) Type() string { return SegmentJSON }
func (o Other) Type() string    { return o.Kind }

func (s Text) Render() string { return s.Text }

func (s Image) Render() string {
	if s.File == "" {
		return "[image]"
	}
	return "[image: " + s.File + "]"
}

func (Voice) Render() string { return "[voice]" }
func (Video) Render() string { return "[video]" }

func (s Face) Render() string {
	if s.ID == "" {
		return "[face]"
	}
	return "[face: " + s.ID + "]"
}

func (s Mention) Render() string {
	if s.QQ == "" {
		return "@someone"
	}
	return "@" + s.QQ
}

func (s Share) Render() string {
	title := strings.TrimSpace(s.Title)
	if title == "" {
		title = "link"
	}
	return "[share: " + title + "]"
}

func (Structured) Render() string { return "[json]" }

func (o Other) Render() string { return "[" + o.Kind + "]" }

// segmentFields is a permissive view over segment data. Numeric fields such
// as at.qq and face.id are sometimes numbers and sometimes strings.
type segmentFields struct {
	Text    string `json:"text"`
	File    string `json:"file"`
	URL     string `json:"url"`
	Summary string `json:"summary"`
	ID      ID     `json:"id"`
	QQ      ID     `json:"qq"`
	Title   string `json:"title"`
	Data    any    `json:"data"`
}

// ParseSegment converts a wire segment into its typed form.
func ParseSegment(raw RawSegment) Segment {
	var f segmentFields
	if len(raw.Data) > 0 {
		if err := json.Unmarshal(raw.Data, &f); err != nil {
			return Other{Kind: raw.Type, Data: raw.Data}
		}
	}
	switch raw.Type {
	case SegmentText:
		return Text{Text: f.Text}
	case SegmentImage:
		return Image{File: f.File, URL: f.URL, Summary: f.Summary}
	case SegmentRecord:
		return Voice{File: f.File, URL: f.URL}
	case SegmentVideo:
		return Video{File: f.File, URL: f.URL}
	case SegmentFace:
		return Face{ID: f.ID.String()}
	case SegmentAt:
		return Mention{QQ: f.QQ.String()}
	case SegmentShare:
		return Share{URL: f.URL, Title: f.Title}
	case SegmentJSON:
		return Structured{Data: structuredData(f.Data)}
	default:
		return Other{Kind: raw.Type, Data: raw.Data}
	}
}

func structuredData(v any) string {
	switch d := v.(type) {
	case nil:
		return ""
	case string:
		return d
	default:
		b, err := json.Marshal(d)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// EncodeSegment converts a typed segment into its wire form.
func EncodeSegment(seg Segment) (RawSegment, error) {
	if o, ok := seg.(Other); ok {
		data := o.Data
		if len(data) == 0 {
			data = json.RawMessage("{}")
		}
		return RawSegment{Type: o.Kind, Data: data}, nil
	}
	data, err := json.Marshal(seg)
	if err != nil {
		return RawSegment{}, err
	}
	return RawSegment{Type: seg.Type(), Data: data}, nil
}

// RenderBody concatenates the rendering of every segment in order.
func RenderBody(segments []Segment) string {
	var b strings.Builder
	for _, seg := range segments {
		b.WriteString(seg.Render())
	}
	return b.String()
}

// mediaAttachment maps image, voice and video segments carrying both a URL
// and a file reference to an attachment.
func mediaAttachment(seg Segment) (MediaAttachment, bool) {
	var kind MediaKind
	var file, url string
	switch s := seg.(type) {
	case Image:
		kind, file, url = MediaImage, s.File, s.URL
	case Voice:
		kind, file, url = MediaAudio, s.File, s.URL
	case Video:
		kind, file, url = MediaVideo, s.File, s.URL
	default:
		return MediaAttachment{}, false
	}
	if strings.TrimSpace(file) == "" || strings.TrimSpace(url) == "" {
		return MediaAttachment{}, false
	}
	return MediaAttachment{Kind: kind, RemoteURL: url, RemoteFileName: file}, true
}
