package transport

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventKind 区分入站事件的三种形态。
type EventKind string

const (
	EventCommand  EventKind = "command"
	EventText     EventKind = "text"
	EventCallback EventKind = "callback"
)

// CallbackKind 枚举按钮回调的种类。回调数据在传输层解析一次，
// 业务层只消费结构化字段，不再做前缀匹配。
type CallbackKind string

const (
	CallbackConfirm CallbackKind = "confirm"
	CallbackToken   CallbackKind = "token"
	CallbackGas     CallbackKind = "gas"
)

// Callback 是解析后的按钮回调载荷。
type Callback struct {
	Kind CallbackKind `json:"kind"`
	// Approve 仅在 Kind 为 confirm 时有意义。
	Approve bool `json:"approve,omitempty"`
	// Symbol 仅在 Kind 为 token 时有意义。
	Symbol string `json:"symbol,omitempty"`
	// Priority 仅在 Kind 为 gas 时有意义。
	Priority string `json:"priority,omitempty"`
}

// Event 是消息通道投递给会话引擎的单个入站事件。
type Event struct {
	ID          string    `json:"id"`
	Kind        EventKind `json:"kind"`
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name,omitempty"`
	// Command 是去掉斜杠前缀的命令名，仅命令事件携带。
	Command string `json:"command,omitempty"`
	// Text 是自由文本或命令后跟随的参数原文。
	Text       string    `json:"text,omitempty"`
	Callback   *Callback `json:"callback,omitempty"`
	ReceivedAt int64     `json:"received_at"`
}

// NewCommandEvent 构造命令事件，命令名统一去掉斜杠并转小写。
func NewCommandEvent(userID, name, args string) Event {
	return Event{
		ID:         uuid.NewString(),
		Kind:       EventCommand,
		UserID:     userID,
		Command:    strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "/")),
		Text:       strings.TrimSpace(args),
		ReceivedAt: time.Now().Unix(),
	}
}

// NewTextEvent 构造自由文本事件。
func NewTextEvent(userID, text string) Event {
	return Event{
		ID:         uuid.NewString(),
		Kind:       EventText,
		UserID:     userID,
		Text:       strings.TrimSpace(text),
		ReceivedAt: time.Now().Unix(),
	}
}

// NewCallbackEvent 构造按钮回调事件。
func NewCallbackEvent(userID string, callback Callback) Event {
	return Event{
		ID:         uuid.NewString(),
		Kind:       EventCallback,
		UserID:     userID,
		Callback:   &callback,
		ReceivedAt: time.Now().Unix(),
	}
}

// Button 是回复中附带的一个按钮。
type Button struct {
	Label    string   `json:"label"`
	Callback Callback `json:"callback"`
}

// ReplyOptions 承载回复的可选格式与按钮布局，对会话引擎不透明的
// 部分由具体通道实现解释。
type ReplyOptions struct {
	Buttons [][]Button `json:"buttons,omitempty"`
}

// ConfirmButtons 返回标准的确认/取消两键布局。
func ConfirmButtons() *ReplyOptions {
	return &ReplyOptions{Buttons: [][]Button{{
		{Label: "确认", Callback: Callback{Kind: CallbackConfirm, Approve: true}},
		{Label: "取消", Callback: Callback{Kind: CallbackConfirm, Approve: false}},
	}}}
}
