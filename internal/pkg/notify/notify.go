package notify

// Mailer 定义对外邮件发送接口。
type Mailer interface {
	// SendVerificationEmail 发送带验证链接的邮件。
	//
	// 参数:
	//   toEmail: 接收邮箱
	//   name: 用户显示名称
	//   token: 邮箱验证令牌
	SendVerificationEmail(toEmail string, name string, token string) error

	// SendWelcomeEmail 在验证成功后发送欢迎邮件。
	SendWelcomeEmail(toEmail string, name string) error
}
