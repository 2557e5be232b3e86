package transport

import (
	"context"
)

// Replier 是会话引擎对消息通道的唯一出站接口。
type Replier interface {
	Reply(ctx context.Context, userID, text string, opts *ReplyOptions) error
	EditLastMessage(ctx context.Context, userID, text string, opts *ReplyOptions) error
}

// Handler 处理来自事件队列的单个入站事件。
type Handler func(ctx context.Context, event Event) error

// Producer 负责向队列投递事件。
type Producer interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Consumer 负责从队列中消费事件。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}
