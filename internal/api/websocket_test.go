package api

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Corphon/Voice2SOP/internal/llm/llmtest"
	"github.com/Corphon/Voice2SOP/internal/models"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type testStreamMessage struct {
	Type    string                `json:"type"`
	Text    string                `json:"text"`
	Data    models.DocumentResult `json:"data"`
	Code    string                `json:"code"`
	Message string                `json:"message"`
}

func dialStream(t *testing.T, fake *llmtest.Provider, storedKey string) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(newTestRouter(t, storedKey, fake, 0))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/documents"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func readStream(t *testing.T, conn *websocket.Conn) []testStreamMessage {
	t.Helper()
	var messages []testStreamMessage
	for {
		var msg testStreamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), err.Error())
			return messages
		}
		messages = append(messages, msg)
	}
}

func TestStreamDocument(t *testing.T) {
	assert := require.New(t)
	fake := &llmtest.Provider{Chunks: []string{
		"[SECTION 1: CHECKLIST]\n- a\n",
		"[SECTION 2: DOCUMENT]\nBody\n",
		"[SECTION 3: EMAIL]\nMail",
	}}
	conn := dialStream(t, fake, "")

	start, err := json.Marshal(streamStartMessage{
		Type:     streamMessageStart,
		DocType:  models.DocTypes[3],
		APIKey:   "caller-key",
		MIMEType: "audio/webm;codecs=opus",
	})
	assert.NoError(err)
	assert.NoError(conn.WriteMessage(websocket.TextMessage, start))
	assert.NoError(conn.WriteMessage(websocket.BinaryMessage, []byte("OggS")))

	messages := readStream(t, conn)
	assert.Len(messages, 4)

	var streamed strings.Builder
	for _, msg := range messages[:3] {
		assert.Equal(streamMessageChunk, msg.Type)
		streamed.WriteString(msg.Text)
	}
	assert.Equal(strings.Join(fake.Chunks, ""), streamed.String())

	final := messages[3]
	assert.Equal(streamMessageResult, final.Type)
	assert.True(final.Data.Structured)
	assert.Equal("- a", final.Data.Sections.Checklist)
	assert.Equal("Body", final.Data.Sections.Document)
	assert.Equal("Mail", final.Data.Sections.Email)

	req := fake.LastRequest()
	assert.Equal("audio/webm", req.Audio.MIMEType)
	assert.Equal("caller-key", fake.APIKey())
}

func TestStreamDocumentWithoutKey(t *testing.T) {
	assert := require.New(t)
	fake := &llmtest.Provider{Reply: "unused"}
	conn := dialStream(t, fake, "")

	assert.NoError(conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"start"}`)))
	assert.NoError(conn.WriteMessage(websocket.BinaryMessage, []byte("RIFF")))

	messages := readStream(t, conn)
	assert.Len(messages, 1)
	assert.Equal(streamMessageError, messages[0].Type)
	assert.Equal(ErrorAPIKeyMissing, messages[0].Code)
	assert.Zero(fake.Calls())
}

func TestStreamDocumentRejectsBadStart(t *testing.T) {
	assert := require.New(t)
	conn := dialStream(t, &llmtest.Provider{}, "stored-key")

	assert.NoError(conn.WriteMessage(websocket.BinaryMessage, []byte("RIFF")))

	messages := readStream(t, conn)
	assert.Len(messages, 1)
	assert.Equal(ErrorBadRequest, messages[0].Code)
}

func TestStreamDocumentMissingAudio(t *testing.T) {
	assert := require.New(t)
	fake := &llmtest.Provider{Reply: "unused"}
	conn := dialStream(t, fake, "stored-key")

	assert.NoError(conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"start"}`)))
	assert.NoError(conn.WriteMessage(websocket.TextMessage, []byte(`not audio`)))

	messages := readStream(t, conn)
	assert.Len(messages, 1)
	assert.Equal(ErrorAudioMissing, messages[0].Code)
	assert.Zero(fake.Calls())
}
