package transport

import (
	"context"
	"log/slog"

	"OpenTrade-Bot/pkg/logger"
)

// LogReplier 把出站回复打到日志，用于本地联调或没有接入
// 真实消息通道的部署。
type LogReplier struct{}

// NewLogReplier 创建 LogReplier。
func NewLogReplier() *LogReplier {
	return &LogReplier{}
}

// Reply 记录一条出站消息。
func (r *LogReplier) Reply(_ context.Context, userID, text string, opts *ReplyOptions) error {
	logger.Named("replier").Info("出站回复",
		slog.String("user_id", userID),
		slog.String("text", text),
		slog.Int("button_rows", buttonRows(opts)))
	return nil
}

// EditLastMessage 记录一条消息更新。
func (r *LogReplier) EditLastMessage(_ context.Context, userID, text string, opts *ReplyOptions) error {
	logger.Named("replier").Info("更新回复",
		slog.String("user_id", userID),
		slog.String("text", text),
		slog.Int("button_rows", buttonRows(opts)))
	return nil
}

func buttonRows(opts *ReplyOptions) int {
	if opts == nil {
		return 0
	}
	return len(opts.Buttons)
}

var _ Replier = (*LogReplier)(nil)
