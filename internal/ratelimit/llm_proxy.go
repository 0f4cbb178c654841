package ratelimit

import (
	"context"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// RateLimitedChatModel 在调用前等待令牌，可选地对可重试错误做指数退避
type RateLimitedChatModel struct {
	original      model.ToolCallingChatModel
	limiter       *TokenBucket
	maxRetries    int
	retryWaitTime time.Duration
}

var _ model.ToolCallingChatModel = (*RateLimitedChatModel)(nil)

// NewRateLimitedChatModel qpm<=0 时直接返回原模型。
// maxRetries 为 0 时每次请求只调用一次模型。
func NewRateLimitedChatModel(original model.ToolCallingChatModel, qpm int, maxRetries int, retryWaitTime time.Duration) model.ToolCallingChatModel {
	if qpm <= 0 {
		return original
	}
	if retryWaitTime <= 0 {
		retryWaitTime = time.Second
	}
	return &RateLimitedChatModel{
		original:      original,
		limiter:       NewTokenBucket(qpm, qpm/2),
		maxRetries:    maxRetries,
		retryWaitTime: retryWaitTime,
	}
}

func (rl *RateLimitedChatModel) Generate(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.Message, error) {
	var response *schema.Message
	err := rl.do(ctx, func() error {
		var genErr error
		response, genErr = rl.original.Generate(ctx, messages, options...)
		return genErr
	})
	return response, err
}

func (rl *RateLimitedChatModel) Stream(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	var stream *schema.StreamReader[*schema.Message]
	err := rl.do(ctx, func() error {
		var streamErr error
		stream, streamErr = rl.original.Stream(ctx, messages, options...)
		return streamErr
	})
	return stream, err
}

// WithTools 新模型共享同一个令牌桶
func (rl *RateLimitedChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	newModel, err := rl.original.WithTools(tools)
	if err != nil {
		return nil, err
	}
	return &RateLimitedChatModel{
		original:      newModel,
		limiter:       rl.limiter,
		maxRetries:    rl.maxRetries,
		retryWaitTime: rl.retryWaitTime,
	}, nil
}

func (rl *RateLimitedChatModel) do(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= rl.maxRetries; attempt++ {
		if err = rl.limiter.Wait(ctx); err != nil {
			return err
		}

		err = fn()
		if err == nil || !isRetryableError(err) || attempt == rl.maxRetries {
			return err
		}

		backoff := rl.retryWaitTime * time.Duration(1<<uint(attempt))
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
