package utils

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// 生成随机 ID
func GenerateID() string {
	bytes := make([]byte, 16)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

// 时间格式化
func FormatTime(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

// 校验评论内容长度
func ValidateComment(content string) bool {
	if len(content) == 0 || len(content) > 4096 {
		return false
	}
	return true
}
