package onebot

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMediaMessageRoundTrip(t *testing.T) {
	t.Parallel()

	payload := []byte{0xFF, 0xD8, 0xFF, 0xE0}
	segments, err := MediaMessage("look at this", MediaImage, payload, "cat.jpg")
	require.NoError(t, err)
	wire, err := EncodeSegments(segments)
	require.NoError(t, err)

	frame, err := json.Marshal(Action{
		Action: ActionSendPrivateMsg,
		Params: PrivateMessageParams{UserID: 123, Message: wire},
		Echo:   "e-1",
	})
	require.NoError(t, err)

	var decoded struct {
		Action string               `json:"action"`
		Params PrivateMessageParams `json:"params"`
		Echo   string               `json:"echo"`
	}
	require.NoError(t, json.Unmarshal(frame, &decoded))
	assert.Equal(t, ActionSendPrivateMsg, decoded.Action)
	assert.Equal(t, int64(123), decoded.Params.UserID)
	require.Len(t, decoded.Params.Message, 2)

	caption := ParseSegment(decoded.Params.Message[0])
	assert.Equal(t, Text{Text: "look at this"}, caption)

	media := ParseSegment(decoded.Params.Message[1])
	img, ok := media.(Image)
	require.True(t, ok, "expected image segment, got %T", media)
	assert.Equal(t, "base64://"+base64.StdEncoding.EncodeToString(payload), img.File)
}

func TestMediaMessageKinds(t *testing.T) {
	t.Parallel()

	cases := []struct {
		kind     MediaKind
		wantType string
	}{
		{MediaImage, SegmentImage},
		{MediaAudio, SegmentRecord},
		{MediaVideo, SegmentVideo},
		{MediaDocument, SegmentImage},
	}
	for _, tc := range cases {
		segments, err := MediaMessage("", tc.kind, []byte("x"), "")
		require.NoError(t, err)
		require.Len(t, segments, 1, "empty caption must not produce a text segment")
		assert.Equal(t, tc.wantType, segments[0].Type())
	}

	doc, err := MediaMessage("", MediaDocument, []byte("x"), "")
	require.NoError(t, err)
	assert.Equal(t, "document", doc[0].(Image).Summary)

	_, err = MediaMessage("c", MediaKind("sticker"), []byte("x"), "")
	assert.True(t, errors.Is(err, ErrUnsupportedMedia))
}

func TestDecodeResponse(t *testing.T) {
	t.Parallel()

	resp, ok := DecodeResponse([]byte(`{"status":"ok","retcode":0,"data":{"message_id":42},"echo":"abc"}`))
	require.True(t, ok)
	assert.True(t, resp.OK())
	assert.Equal(t, "abc", resp.Echo.String())
	assert.Equal(t, "42", resp.MessageID())

	resp, ok = DecodeResponse([]byte(`{"status":"failed","retcode":1200,"message":"","wording":"not friend","echo":7}`))
	require.True(t, ok)
	assert.False(t, resp.OK())
	assert.Equal(t, "7", resp.Echo.String())
	assert.Equal(t, "not friend", resp.ErrorMessage())

	_, ok = DecodeResponse([]byte(`{"post_type":"message","message_type":"private"}`))
	assert.False(t, ok)
	_, ok = DecodeResponse([]byte(`not json`))
	assert.False(t, ok)
}
