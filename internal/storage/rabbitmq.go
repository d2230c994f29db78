package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"ai-tracker-go/internal/config"
	"ai-tracker-go/internal/types"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// RabbitMQ 会话事件发布器。
// 生成会话进入终态后向事件交换机发一条消息，下游(通知、统计)按路由键订阅。
// 发布是尽力而为的：失败只记日志，不影响生成请求本身。
type RabbitMQ struct {
	conn         *amqp.Connection
	channelPool  sync.Pool
	exchangeMap  map[string]bool // 记录已声明的exchange
	publishMutex sync.Mutex
	cfg          *config.RabbitMQConfig
	logger       zerolog.Logger
}

// NewRabbitMQ 创建RabbitMQ客户端并声明事件交换机
func NewRabbitMQ(cfg *config.RabbitMQConfig, logger zerolog.Logger) (*RabbitMQ, error) {
	if cfg == nil {
		return nil, fmt.Errorf("RabbitMQ配置不能为空")
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("RabbitMQ URL配置不能为空")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("无法连接到RabbitMQ服务器 (%s): %w", cfg.URL, err)
	}

	mq := &RabbitMQ{
		conn:        conn,
		exchangeMap: make(map[string]bool),
		cfg:         cfg,
		logger:      logger,
	}

	mq.channelPool = sync.Pool{
		New: func() interface{} {
			ch, errPool := conn.Channel()
			if errPool != nil {
				logger.Error().Err(errPool).Msg("创建RabbitMQ通道失败")
				return nil
			}
			return ch
		},
	}

	if err := mq.EnsureExchange(cfg.EventsExchange, "topic", true); err != nil {
		conn.Close()
		return nil, err
	}

	logger.Info().Str("exchange", cfg.EventsExchange).Msg("RabbitMQ事件发布器就绪")
	return mq, nil
}

// getChannel 获取可用通道
func (r *RabbitMQ) getChannel() *amqp.Channel {
	ch := r.channelPool.Get()
	if ch == nil {
		newCh, err := r.conn.Channel()
		if err != nil {
			r.logger.Error().Err(err).Msg("创建新RabbitMQ通道失败")
			return nil
		}
		return newCh
	}
	return ch.(*amqp.Channel)
}

// putChannel 归还通道到池
func (r *RabbitMQ) putChannel(ch *amqp.Channel) {
	if ch != nil {
		r.channelPool.Put(ch)
	}
}

// Close 关闭连接
func (r *RabbitMQ) Close() error {
	return r.conn.Close()
}

// EnsureExchange 确保exchange存在
func (r *RabbitMQ) EnsureExchange(exchangeName, exchangeType string, durable bool) error {
	if exchangeName == "" {
		return fmt.Errorf("exchange名称不能为空")
	}
	if _, exists := r.exchangeMap[exchangeName]; exists {
		return nil
	}

	ch := r.getChannel()
	if ch == nil {
		return fmt.Errorf("无法获取RabbitMQ通道")
	}
	defer r.putChannel(ch)

	err := ch.ExchangeDeclare(
		exchangeName, // exchange名称
		exchangeType, // exchange类型
		durable,      // 持久化
		false,        // 自动删除
		false,        // 内部专用
		false,        // 非阻塞
		nil,          // 参数
	)
	if err != nil {
		return fmt.Errorf("声明exchange失败: %w", err)
	}

	r.exchangeMap[exchangeName] = true
	return nil
}

// sessionEvent 发往交换机的事件载荷
type sessionEvent struct {
	SessionID   string `json:"session_id"`
	Fingerprint string `json:"fingerprint"`
	Kind        string `json:"kind"`
	SubjectID   string `json:"subject_id"`
	TargetID    string `json:"target_id"`
	Status      string `json:"status"`
	CacheHit    bool   `json:"cache_hit"`
	ResultRef   string `json:"result_ref,omitempty"`
	ErrorDetail string `json:"error_detail,omitempty"`
	OccurredAt  string `json:"occurred_at"`
}

// PublishSessionEvent 发布会话终态事件。
// 完成与失败走不同路由键，消息持久化。
func (r *RabbitMQ) PublishSessionEvent(ctx context.Context, session *types.GenerationSession) error {
	routingKey := r.cfg.CompletedRoutingKey
	if session.Status == types.SessionFailed {
		routingKey = r.cfg.FailedRoutingKey
	}

	event := sessionEvent{
		SessionID:   session.ID,
		Fingerprint: session.Fingerprint,
		Kind:        string(session.Kind),
		SubjectID:   session.SubjectID,
		TargetID:    session.TargetID,
		Status:      string(session.Status),
		CacheHit:    session.CacheHit,
		ResultRef:   session.ResultRef,
		ErrorDetail: session.ErrorDetail,
		OccurredAt:  time.Now().UTC().Format(time.RFC3339),
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化会话事件失败: %w", err)
	}

	r.publishMutex.Lock()
	defer r.publishMutex.Unlock()

	ch := r.getChannel()
	if ch == nil {
		return fmt.Errorf("无法获取RabbitMQ通道")
	}
	defer r.putChannel(ch)

	err = ch.PublishWithContext(
		ctx,
		r.cfg.EventsExchange, // exchange名
		routingKey,           // 路由键
		false,                // 强制
		false,                // 立即
		amqp.Publishing{
			DeliveryMode: 2, // 持久化
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("发布会话事件失败: %w", err)
	}
	return nil
}
