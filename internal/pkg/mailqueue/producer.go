package mailqueue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Producer 邮件生产者，负责把待投递的邮件发布到队列。
//
// 由 API 服务使用；注册/重发等处理器入队后立即返回。
type Producer struct {
	queue  *MailQueue
	logger *slog.Logger
}

// NewProducer 创建一个新的邮件生产者。
//
// 参数:
//   - rdb: Redis 客户端
//   - logger: 日志记录器
//   - streamName: Stream 名称（可选，默认为 "taskmaster:mail:queue"）
func NewProducer(rdb *redis.Client, logger *slog.Logger, streamName ...string) *Producer {
	stream := "taskmaster:mail:queue"
	if len(streamName) > 0 && streamName[0] != "" {
		stream = streamName[0]
	}

	return &Producer{
		queue:  NewMailQueue(rdb, logger, stream),
		logger: logger,
	}
}

// Enqueue 提交一封邮件等待投递。
func (p *Producer) Enqueue(ctx context.Context, msg *MailMessage) error {
	if msg == nil || msg.To == "" {
		return fmt.Errorf("invalid mail message")
	}

	if err := p.queue.Publish(ctx, msg); err != nil {
		p.logger.Error("enqueue mail failed",
			slog.String("kind", msg.Kind),
			slog.String("to", msg.To),
			slog.String("error", err.Error()))
		return err
	}

	p.logger.Info("mail enqueued",
		slog.String("kind", msg.Kind),
		slog.String("to", msg.To))

	return nil
}

// QueueLength 获取当前队列长度。
func (p *Producer) QueueLength(ctx context.Context) (int64, error) {
	return p.queue.StreamInfo(ctx)
}
