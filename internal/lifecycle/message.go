package lifecycle

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// 页面与 worker 之间只有两种消息。
const (
	typeSkipWaiting    = "SKIP_WAITING"
	typeSkipWaitingAck = "SKIP_WAITING_ACK"
)

var (
	// ErrUnknownMessage 表示消息是合法的 JSON 对象，但不属于已知类型，接收方应忽略。
	ErrUnknownMessage = errors.New("unknown message")
	// ErrInvalidMessage 表示消息体不是 JSON 对象。
	ErrInvalidMessage = errors.New("invalid message")
)

// Message 是页面与 worker 之间的封闭消息类型，只有本包定义的类型实现它。
type Message interface {
	messageType() string
}

// SkipWaiting 请求等待中的 worker 立即激活。
type SkipWaiting struct{}

// SkipWaitingAck 是 worker 通过回复端口返回的确认。
type SkipWaitingAck struct {
	OK bool
}

func (SkipWaiting) messageType() string    { return typeSkipWaiting }
func (SkipWaitingAck) messageType() string { return typeSkipWaitingAck }

type wireMessage struct {
	Type string `json:"type,omitempty"`
	OK   *bool  `json:"ok,omitempty"`
}

// EncodeMessage 输出 JSON 线格式：{"type":"SKIP_WAITING"} 或 {"type":"SKIP_WAITING_ACK","ok":true}。
func EncodeMessage(msg Message) ([]byte, error) {
	switch m := msg.(type) {
	case SkipWaiting:
		return json.Marshal(wireMessage{Type: typeSkipWaiting})
	case SkipWaitingAck:
		ok := m.OK
		return json.Marshal(wireMessage{Type: typeSkipWaitingAck, OK: &ok})
	default:
		return nil, ErrUnknownMessage
	}
}

// DecodeMessage 解析线格式；不带 type 的 {"ok":...} 也视为确认消息。
func DecodeMessage(raw []byte) (Message, error) {
	if trimmed := bytes.TrimSpace(raw); len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrInvalidMessage
	}
	var wire wireMessage
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	switch wire.Type {
	case typeSkipWaiting:
		return SkipWaiting{}, nil
	case typeSkipWaitingAck:
		return SkipWaitingAck{OK: wire.OK != nil && *wire.OK}, nil
	case "":
		if wire.OK != nil {
			return SkipWaitingAck{OK: *wire.OK}, nil
		}
	}
	return nil, ErrUnknownMessage
}

// MessageName 返回用于日志的消息类型名。
func MessageName(msg Message) string {
	if msg == nil {
		return ""
	}
	return msg.messageType()
}
