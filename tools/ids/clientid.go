package ids

import "github.com/google/uuid"

// GenerateClientMsgID 客户端幂等 token；客户端没带时由接入层补发，
// 保证重试链路始终有去重键。
func GenerateClientMsgID() string {
	return uuid.NewString()
}
