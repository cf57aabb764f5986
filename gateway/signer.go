package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// DefaultValidity 签名有效期（毫秒），随请求一起签名。
const DefaultValidity = "2000"

var timeNow = time.Now

// signPayload 参与签名的规范 JSON，字段顺序固定。
type signPayload struct {
	Timestamp string `json:"timestamp"`
	Validity  string `json:"validity"`
}

// Sign 计算 {"timestamp","validity"} 的 HMAC-SHA256 十六进制签名。
func Sign(secret, timestamp, validity string) (string, error) {
	raw, err := json.Marshal(signPayload{Timestamp: timestamp, Validity: validity})
	if err != nil {
		return "", fmt.Errorf("marshal sign payload: %w", err)
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(raw)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// unixTimestamp 秒级时间戳字符串
func unixTimestamp() string {
	return strconv.FormatInt(timeNow().Unix(), 10)
}
