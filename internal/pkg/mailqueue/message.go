package mailqueue

import "time"

// 邮件类型。
const (
	KindVerification = "verification"
	KindWelcome      = "welcome"
)

// MailMessage 表示邮件队列中的消息结构。
//
// 用于在 Redis Streams 中传递待投递的邮件任务。
type MailMessage struct {
	Kind      string    `json:"kind"`      // 邮件类型: "verification" / "welcome"
	To        string    `json:"to"`        // 接收邮箱
	Name      string    `json:"name"`      // 用户显示名称
	Token     string    `json:"token"`     // 验证令牌（仅 verification）
	Timestamp time.Time `json:"timestamp"` // 消息创建时间
	Retry     int       `json:"retry"`     // 重试次数
}

// NewVerificationMessage 创建验证邮件消息。
func NewVerificationMessage(to string, name string, token string) *MailMessage {
	return &MailMessage{
		Kind:      KindVerification,
		To:        to,
		Name:      name,
		Token:     token,
		Timestamp: time.Now(),
	}
}

// NewWelcomeMessage 创建欢迎邮件消息。
func NewWelcomeMessage(to string, name string) *MailMessage {
	return &MailMessage{
		Kind:      KindWelcome,
		To:        to,
		Name:      name,
		Timestamp: time.Now(),
	}
}
