package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ai-tracker-go/internal/config"

	"github.com/rs/zerolog"
)

// Storage 存储管理器，聚合所有存储相关依赖
type Storage struct {
	// 关系型数据库
	MySQL *MySQL

	// 键值存储
	Redis *Redis

	// 对象存储
	MinIO *MinIO

	// 消息队列
	RabbitMQ *RabbitMQ
}

// NewStorage 创建存储管理器。
// MySQL是硬依赖；Redis/MinIO/RabbitMQ初始化失败只降级(记日志后置nil)，
// 对应能力分别退化为直查数据库、不落对象存储、不发事件。
func NewStorage(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Storage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("配置不能为空")
	}

	storage := &Storage{}
	var err error
	var initErrors []string

	storage.MySQL, err = NewMySQL(&cfg.MySQL)
	if err != nil {
		return nil, fmt.Errorf("初始化MySQL失败: %w", err)
	}
	logger.Info().Msg("MySQL客户端初始化成功")

	if cfg.Redis.Address != "" {
		storage.Redis, err = NewRedisAdapter(&cfg.Redis)
		if err != nil {
			logger.Warn().Err(err).Msg("初始化Redis失败，版本查询将直查MySQL")
			initErrors = append(initErrors, fmt.Sprintf("Redis: %v", err))
			storage.Redis = nil
		}
	}

	if cfg.MinIO.Endpoint != "" {
		storage.MinIO, err = NewMinIO(&cfg.MinIO, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("初始化MinIO失败，生成文档不落对象存储")
			initErrors = append(initErrors, fmt.Sprintf("MinIO: %v", err))
			storage.MinIO = nil
		}
	}

	if cfg.RabbitMQ.URL != "" {
		storage.RabbitMQ, err = NewRabbitMQ(&cfg.RabbitMQ, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("初始化RabbitMQ失败，会话事件不发布")
			initErrors = append(initErrors, fmt.Sprintf("RabbitMQ: %v", err))
			storage.RabbitMQ = nil
		}
	}

	if len(initErrors) > 0 {
		logger.Warn().Str("components", strings.Join(initErrors, "; ")).Msg("部分存储组件降级运行")
	}

	return storage, nil
}

// Close 关闭所有连接
func (s *Storage) Close() {
	if s.RabbitMQ != nil {
		_ = s.RabbitMQ.Close()
	}
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
	if s.MySQL != nil {
		_ = s.MySQL.Close()
	}
	// MinIO客户端无需显式Close
}

// VersionResolver 资料版本解析器：Redis旁路缓存 + MySQL回源 + 写透。
// 版本读取在每次生成请求的热路径上，缓存故障一律降级为直查数据库。
type VersionResolver struct {
	mysql  *MySQL
	redis  *Redis // 可为nil，此时每次直查MySQL
	logger zerolog.Logger
}

// NewVersionResolver 创建版本解析器
func NewVersionResolver(mysql *MySQL, redis *Redis, logger zerolog.Logger) *VersionResolver {
	return &VersionResolver{mysql: mysql, redis: redis, logger: logger}
}

// ProfileVersion 返回subject当前的资料版本
func (v *VersionResolver) ProfileVersion(ctx context.Context, subjectID string) (int64, error) {
	if v.redis != nil {
		version, err := v.redis.GetCachedProfileVersion(ctx, subjectID)
		if err == nil {
			return version, nil
		}
		if !errors.Is(err, ErrNotFound) {
			v.logger.Warn().Err(err).Msg("版本缓存读取失败，回源MySQL")
		}
	}

	version, err := v.mysql.GetProfileVersion(ctx, subjectID)
	if err != nil {
		return 0, err
	}

	if v.redis != nil {
		if err := v.redis.SetCachedProfileVersion(ctx, subjectID, version); err != nil {
			v.logger.Debug().Err(err).Msg("版本缓存写透失败")
		}
	}
	return version, nil
}

// InvalidateVersionCache 删除版本缓存，下次读取强制回源
func (v *VersionResolver) InvalidateVersionCache(ctx context.Context, subjectID string) error {
	if v.redis == nil {
		return nil
	}
	return v.redis.DeleteCachedProfileVersion(ctx, subjectID)
}
