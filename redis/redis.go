package redis

import (
	"ShopDesk/config"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisClient struct {
	Client *redis.Client
}

// NewRedisClient 初始化并返回一个新的 RedisClient 实例
func NewRedisClient(cfg *config.RedisConfig) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
		// 可选：添加超时配置
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	// PING 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("redis client connection test failed: %w", err)
	}

	return &RedisClient{
		Client: client,
	}, nil
}

// Close 关闭 Redis 连接
func (r *RedisClient) Close() error {
	return r.Client.Close()
}

// ParticipantInfo 在线成员信息（按会话房间存储）
type ParticipantInfo struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"` // user, admin
}

func roomKey(sessionID string) string {
	return fmt.Sprintf("chat:session:%s:participants", sessionID)
}

// AddParticipant 将成员加入会话房间在线列表
func (r *RedisClient) AddParticipant(ctx context.Context, sessionID string, p ParticipantInfo) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	key := roomKey(sessionID)
	field := fmt.Sprintf("%d", p.UserID)
	if err := r.Client.HSet(ctx, key, field, data).Err(); err != nil {
		return err
	}
	// 设置过期时间（24小时）
	return r.Client.Expire(ctx, key, 24*time.Hour).Err()
}

// RemoveParticipant 将成员从会话房间在线列表移除
func (r *RedisClient) RemoveParticipant(ctx context.Context, sessionID string, userID uint) error {
	field := fmt.Sprintf("%d", userID)
	return r.Client.HDel(ctx, roomKey(sessionID), field).Err()
}

// GetParticipants 获取会话房间当前在线成员
func (r *RedisClient) GetParticipants(ctx context.Context, sessionID string) ([]ParticipantInfo, error) {
	result, err := r.Client.HGetAll(ctx, roomKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch participants for session %s: %w", sessionID, err)
	}

	participants := make([]ParticipantInfo, 0, len(result))
	for _, data := range result {
		var p ParticipantInfo
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			log.Printf("Failed to unmarshal participant info: %v", err)
			continue
		}
		participants = append(participants, p)
	}

	return participants, nil
}
