// internal/api/websocket.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	apperrors "github.com/Corphon/Voice2SOP/internal/errors"
	"github.com/Corphon/Voice2SOP/internal/models"
	"github.com/Corphon/Voice2SOP/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	// 等待客户端发送开始消息和音频的时间
	handshakeTimeout = 60 * time.Second
	// 单次写入的超时
	writeWait = 10 * time.Second
	// 开始消息的最大长度
	startMessageLimit = 64 << 10
)

// 流式消息类型
const (
	streamMessageStart  = "start"
	streamMessageChunk  = "chunk"
	streamMessageResult = "result"
	streamMessageError  = "error"
)

// WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// streamStartMessage 客户端发送的第一条文本消息，随后是一条二进制音频消息
type streamStartMessage struct {
	Type     string `json:"type"`
	DocType  string `json:"doc_type"`
	Tone     string `json:"tone"`
	APIKey   string `json:"api_key"`
	Model    string `json:"model"`
	MIMEType string `json:"mime_type"`
}

// streamMessage 服务器推送给客户端的消息
type streamMessage struct {
	Type    string      `json:"type"`
	Text    string      `json:"text,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
}

// streamSession 一个流式生成连接，写入由互斥锁串行化
type streamSession struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	closed bool
}

// send 发送一条JSON消息，连接断开后静默丢弃
func (s *streamSession) send(msg streamMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.closed = true
		return err
	}
	return nil
}

// fail 发送错误消息
func (s *streamSession) fail(code, message string) {
	_ = s.send(streamMessage{Type: streamMessageError, Code: code, Message: sanitizeErrorMessage(message)})
}

// close 发送正常关闭帧并关闭连接
func (s *streamSession) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		s.closed = true
	}
	s.conn.Close()
}

// StreamDocument 通过 WebSocket 流式生成文档
func (h *Handler) StreamDocument(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 升级器已写入错误响应
		utils.GetLogger().Warn("WebSocket升级失败", map[string]interface{}{"error": err.Error()})
		return
	}

	utils.WebSocketConnections.Inc()
	defer utils.WebSocketConnections.Dec()

	session := &streamSession{conn: conn}
	defer session.close()

	req, ok := h.readStreamRequest(c, session)
	if !ok {
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// 之后只读取控制帧，客户端断开时取消生成
	conn.SetReadDeadline(time.Time{})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	result, err := h.DocumentService.GenerateStream(ctx, req, func(text string) {
		_ = session.send(streamMessage{Type: streamMessageChunk, Text: text})
	})
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			utils.GetLogger().Info("客户端断开，停止生成", map[string]interface{}{"request_id": c.GetString(requestIDKey)})
			return
		}
		h.streamError(c, session, err)
		return
	}

	_ = session.send(streamMessage{Type: streamMessageResult, Data: result})
}

// readStreamRequest 读取开始消息和音频
func (h *Handler) readStreamRequest(c *gin.Context, session *streamSession) (models.DocumentRequest, bool) {
	conn := session.conn
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	conn.SetReadLimit(startMessageLimit)

	messageType, data, err := conn.ReadMessage()
	if err != nil {
		return models.DocumentRequest{}, false
	}

	var start streamStartMessage
	if messageType != websocket.TextMessage || json.Unmarshal(data, &start) != nil || start.Type != streamMessageStart {
		session.fail(ErrorBadRequest, "第一条消息必须是 start")
		return models.DocumentRequest{}, false
	}

	// 多留一点余量，超出上限时仍能返回明确的错误
	conn.SetReadLimit(h.maxAudioBytes + 1)
	messageType, audio, err := conn.ReadMessage()
	if err != nil {
		if errors.Is(err, websocket.ErrReadLimit) {
			session.fail(ErrorAudioTooLarge, fmt.Sprintf("音频不能超过 %d 字节", h.maxAudioBytes))
		}
		return models.DocumentRequest{}, false
	}
	if messageType != websocket.BinaryMessage || len(audio) == 0 {
		session.fail(ErrorAudioMissing, "请先录制或上传音频")
		return models.DocumentRequest{}, false
	}

	return models.DocumentRequest{
		Audio:         audio,
		AudioMIMEType: start.MIMEType,
		DocType:       start.DocType,
		Tone:          start.Tone,
		APIKey:        callerAPIKey(c, start.APIKey),
		Model:         start.Model,
	}, true
}

// streamError 按接口错误代码返回错误消息
func (h *Handler) streamError(c *gin.Context, session *streamSession, err error) {
	code := errorCodeFor(err)
	message := err.Error()
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
	}

	if apperrors.HTTPStatus(err) >= http.StatusInternalServerError {
		utils.GetLogger().Error("流式生成失败", map[string]interface{}{
			"code":       code,
			"error":      err.Error(),
			"request_id": c.GetString(requestIDKey),
		})
	}

	session.fail(code, message)
}
