package mailqueue

import (
	"context"
	"time"
)

// QueueMailer 把邮件请求写入 Redis Stream，由后台消费者实际投递。
//
// 它与同步 SMTP 发送器实现同一接口，调用方无需关心投递方式。
type QueueMailer struct {
	producer *Producer
	timeout  time.Duration
}

// NewQueueMailer 创建队列投递适配器。
func NewQueueMailer(producer *Producer) *QueueMailer {
	return &QueueMailer{
		producer: producer,
		timeout:  5 * time.Second,
	}
}

// SendVerificationEmail 入队一封验证邮件。
func (m *QueueMailer) SendVerificationEmail(toEmail string, name string, token string) error {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	return m.producer.Enqueue(ctx, NewVerificationMessage(toEmail, name, token))
}

// SendWelcomeEmail 入队一封欢迎邮件。
func (m *QueueMailer) SendWelcomeEmail(toEmail string, name string) error {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	return m.producer.Enqueue(ctx, NewWelcomeMessage(toEmail, name))
}
