package lifecycle

import (
	"errors"
	"sync"
)

var (
	// ErrChannelUnsupported 表示宿主不支持创建消息通道。
	ErrChannelUnsupported = errors.New("message channels unsupported")
	// ErrTransferUnsupported 表示宿主不支持随消息传递端口。
	ErrTransferUnsupported = errors.New("port transfer unsupported")
	// ErrPortClosed 表示端口已关闭。
	ErrPortClosed = errors.New("message port closed")
)

// MessageChannel 是一对相连的端口，从 Port2 发出的消息由 Port1 的处理函数接收，反之亦然。
type MessageChannel struct {
	Port1 *MessagePort
	Port2 *MessagePort
}

// MessagePort 同步投递消息；处理函数未设置前到达的消息会暂存，设置后按序投递。
type MessagePort struct {
	mu      sync.Mutex
	peer    *MessagePort
	handler func(Message)
	pending []Message
	closed  bool
}

// NewMessageChannel 创建一对相连的端口，不受宿主能力限制。
func NewMessageChannel() *MessageChannel {
	p1 := &MessagePort{}
	p2 := &MessagePort{}
	p1.peer = p2
	p2.peer = p1
	return &MessageChannel{Port1: p1, Port2: p2}
}

// OnMessage 设置处理函数并投递此前暂存的消息。
func (p *MessagePort) OnMessage(fn func(Message)) {
	p.mu.Lock()
	p.handler = fn
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	if fn == nil {
		return
	}
	for _, msg := range pending {
		fn(msg)
	}
}

// Post 将消息发往对端。
func (p *MessagePort) Post(msg Message) error {
	p.mu.Lock()
	closed := p.closed
	peer := p.peer
	p.mu.Unlock()
	if closed || peer == nil {
		return ErrPortClosed
	}
	return peer.deliver(msg)
}

// Close 关闭两端，之后的 Post 返回 ErrPortClosed。
func (p *MessagePort) Close() {
	p.mu.Lock()
	p.closed = true
	peer := p.peer
	p.mu.Unlock()
	if peer != nil {
		peer.mu.Lock()
		peer.closed = true
		peer.mu.Unlock()
	}
}

func (p *MessagePort) deliver(msg Message) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPortClosed
	}
	handler := p.handler
	if handler == nil {
		p.pending = append(p.pending, msg)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	handler(msg)
	return nil
}
