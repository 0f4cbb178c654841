package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cv-filter/internal/config"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Publisher 消息发布接口
type Publisher interface {
	PublishMessage(ctx context.Context, exchangeName, routingKey string, message []byte, persistent bool) error
}

// RabbitMQ 事件发布
type RabbitMQ struct {
	conn     *amqp.Connection
	channels chan *amqp.Channel
	mu       sync.Mutex
	logger   *zerolog.Logger
}

var _ Publisher = (*RabbitMQ)(nil)

// NewRabbitMQ 建立连接；DeclareOnStartup 时声明 topic 类型的事件交换机
func NewRabbitMQ(cfg *config.RabbitMQConfig, logger *zerolog.Logger) (*RabbitMQ, error) {
	if cfg == nil {
		return nil, fmt.Errorf("RabbitMQ配置不能为空")
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("RabbitMQ URL配置不能为空")
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("无法连接到RabbitMQ服务器: %w", err)
	}

	poolSize := cfg.ChannelPoolSize
	if poolSize <= 0 {
		poolSize = 1
	}
	r := &RabbitMQ{
		conn:     conn,
		channels: make(chan *amqp.Channel, poolSize),
		logger:   logger,
	}

	if cfg.DeclareOnStartup && cfg.CandidateExchange != "" {
		if err := r.EnsureExchange(cfg.CandidateExchange, amqp.ExchangeTopic, true); err != nil {
			conn.Close()
			return nil, err
		}
	}

	logger.Info().Str("exchange", cfg.CandidateExchange).Msg("成功连接到RabbitMQ服务器")
	return r, nil
}

// getChannel 优先复用池中未关闭的通道
func (r *RabbitMQ) getChannel() (*amqp.Channel, error) {
	for {
		select {
		case ch := <-r.channels:
			if ch != nil && !ch.IsClosed() {
				return ch, nil
			}
		default:
			ch, err := r.conn.Channel()
			if err != nil {
				return nil, fmt.Errorf("创建RabbitMQ通道失败: %w", err)
			}
			return ch, nil
		}
	}
}

// putChannel 池满或通道已关闭时直接丢弃
func (r *RabbitMQ) putChannel(ch *amqp.Channel) {
	if ch == nil || ch.IsClosed() {
		return
	}
	select {
	case r.channels <- ch:
	default:
		ch.Close()
	}
}

// EnsureExchange 确保exchange存在
func (r *RabbitMQ) EnsureExchange(exchangeName, exchangeType string, durable bool) error {
	if exchangeName == "" {
		return fmt.Errorf("exchange名称不能为空")
	}
	ch, err := r.getChannel()
	if err != nil {
		return err
	}
	defer r.putChannel(ch)

	if err := ch.ExchangeDeclare(exchangeName, exchangeType, durable, false, false, false, nil); err != nil {
		return fmt.Errorf("声明exchange失败: %w", err)
	}
	return nil
}

// PublishMessage 发布 JSON 消息到exchange
func (r *RabbitMQ) PublishMessage(ctx context.Context, exchangeName, routingKey string, message []byte, persistent bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, err := r.getChannel()
	if err != nil {
		return err
	}
	defer r.putChannel(ch)

	deliveryMode := amqp.Transient
	if persistent {
		deliveryMode = amqp.Persistent
	}

	return ch.PublishWithContext(ctx, exchangeName, routingKey, false, false, amqp.Publishing{
		DeliveryMode: deliveryMode,
		ContentType:  "application/json",
		Body:         message,
		Timestamp:    time.Now(),
	})
}

// Close 关闭所有通道和连接
func (r *RabbitMQ) Close() error {
	for {
		select {
		case ch := <-r.channels:
			if ch != nil {
				ch.Close()
			}
		default:
			return r.conn.Close()
		}
	}
}
