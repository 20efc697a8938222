package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redisc "HProject/service/storage/redis"

	"github.com/redis/go-redis/v9"
)

// —— 未读计数：每个租户一个 hash，field = userID ——
// HINCRBY 自增；减到 0 以下由 Lua 脚本兜底（地板值 0）

const recentListCap = 10

// Ready redis 是否可用；协调单元在 redis 缺位时跳过持久化
func Ready() bool { return redisc.Initialized() }

func unreadKey(tenantID string) string { return "harbor:unread:" + tenantID }
func recentKey(tenantID, userID string) string {
	return fmt.Sprintf("harbor:recent:%s:%s", tenantID, userID)
}
func notifyKey(email string) string { return "harbor:notify:" + email }

// decrFloorScript 只在大于 0 时递减，返回新值
var decrFloorScript = redis.NewScript(`
local v = tonumber(redis.call('HGET', KEYS[1], ARGV[1]) or '0')
if v <= 0 then
  redis.call('HSET', KEYS[1], ARGV[1], 0)
  return 0
end
return redis.call('HINCRBY', KEYS[1], ARGV[1], -1)
`)

// IncrUnread 收到新消息时 +1，返回新值
func IncrUnread(ctx context.Context, tenantID, userID string) (int64, error) {
	return redisc.GetRedis().HIncrBy(ctx, unreadKey(tenantID), userID, 1).Result()
}

// DecrUnread 标记已读时 -1，地板 0，返回新值
func DecrUnread(ctx context.Context, tenantID, userID string) (int64, error) {
	return decrFloorScript.Run(ctx, redisc.GetRedis(),
		[]string{unreadKey(tenantID)}, userID).Int64()
}

// GetUnread 读当前计数，缺省 0
func GetUnread(ctx context.Context, tenantID, userID string) (int64, error) {
	v, err := redisc.GetRedis().HGet(ctx, unreadKey(tenantID), userID).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return v, err
}

// SetUnread 覆盖写（快照回填）
func SetUnread(ctx context.Context, tenantID, userID string, n int64) error {
	if n < 0 {
		n = 0
	}
	return redisc.GetRedis().HSet(ctx, unreadKey(tenantID), userID, n).Err()
}

// —— 最近未读列表：每用户一个 List，LPUSH + LTRIM 滚动窗口 ——

type RecentMessage struct {
	Id              string `json:"Id"`
	Subject         string `json:"Subject"`
	SenderEmail     string `json:"SenderEmail"`
	SenderName      string `json:"SenderName"`
	CreatedAt       string `json:"CreatedAt"`
	HasAttachments  bool   `json:"HasAttachments"`
	AttachmentCount int    `json:"AttachmentCount"`
}

// PushRecent 头插一条摘要，同 Id 先删后插（去重），保留最近 N 条
func PushRecent(ctx context.Context, tenantID, userID string, m RecentMessage) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	rdb := redisc.GetRedis()
	key := recentKey(tenantID, userID)

	// 去重：删掉旧的同 Id 条目再插入
	items, err := rdb.LRange(ctx, key, 0, recentListCap-1).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	for _, it := range items {
		var old RecentMessage
		if json.Unmarshal([]byte(it), &old) == nil && old.Id == m.Id {
			rdb.LRem(ctx, key, 1, it)
		}
	}

	pipe := rdb.TxPipeline()
	pipe.LPush(ctx, key, b)
	pipe.LTrim(ctx, key, 0, recentListCap-1)
	pipe.Expire(ctx, key, 30*24*time.Hour)
	_, err = pipe.Exec(ctx)
	return err
}

// RemoveRecent 按消息 Id 删除摘要（已读/删除时）
func RemoveRecent(ctx context.Context, tenantID, userID, messageID string) error {
	rdb := redisc.GetRedis()
	key := recentKey(tenantID, userID)
	items, err := rdb.LRange(ctx, key, 0, recentListCap-1).Result()
	if err != nil {
		if err == redis.Nil {
			return nil
		}
		return err
	}
	for _, it := range items {
		var m RecentMessage
		if json.Unmarshal([]byte(it), &m) == nil && m.Id == messageID {
			if err := rdb.LRem(ctx, key, 1, it).Err(); err != nil {
				return err
			}
		}
	}
	return nil
}

// ListRecent 取最近未读摘要
func ListRecent(ctx context.Context, tenantID, userID string) ([]RecentMessage, error) {
	items, err := redisc.GetRedis().LRange(ctx, recentKey(tenantID, userID), 0, recentListCap-1).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	out := make([]RecentMessage, 0, len(items))
	for _, it := range items {
		var m RecentMessage
		if json.Unmarshal([]byte(it), &m) != nil {
			continue // 脏数据跳过
		}
		out = append(out, m)
	}
	return out, nil
}

// —— 通知 feed：协调单元（notifications actor）的持久化后备 ——

type Notification struct {
	ID        string         `json:"id"`
	Kind      string         `json:"kind"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt int64          `json:"created_at"`
}

func PushNotification(ctx context.Context, email string, n Notification) error {
	b, err := json.Marshal(n)
	if err != nil {
		return err
	}
	pipe := redisc.GetRedis().TxPipeline()
	pipe.LPush(ctx, notifyKey(email), b)
	pipe.LTrim(ctx, notifyKey(email), 0, 199)
	_, err = pipe.Exec(ctx)
	return err
}

func ListNotifications(ctx context.Context, email string) ([]Notification, error) {
	items, err := redisc.GetRedis().LRange(ctx, notifyKey(email), 0, -1).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	out := make([]Notification, 0, len(items))
	for _, it := range items {
		var n Notification
		if json.Unmarshal([]byte(it), &n) != nil {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func ClearNotifications(ctx context.Context, email string) error {
	return redisc.GetRedis().Del(ctx, notifyKey(email)).Err()
}
