package generation

import (
	"errors"
	"fmt"
)

// 错误分类基础类型。
// 错误在发生处分类：provider适配器负责provider类错误，编排器负责校验/结果形状类错误，
// 分类结果原样扇出给所有去重等待方，任何内部错误都不会被吞成成功结果。
var (
	// ErrValidation 调用方输入不合法，快速失败，不重试不缓存
	ErrValidation = errors.New("请求校验失败")
	// ErrProviderTimeout 单次provider调用超过硬超时，适配器内部可重试
	ErrProviderTimeout = errors.New("provider调用超时")
	// ErrProviderRateLimited provider限流，带退避重试，封顶
	ErrProviderRateLimited = errors.New("provider限流")
	// ErrProviderRejected provider明确拒绝(请求非法/内容策略)，不重试
	ErrProviderRejected = errors.New("provider拒绝请求")
	// ErrResultShape provider返回了语法合法但不符合该类型结果结构的内容，
	// 不缓存；编排器不重试(同样的prompt重发大概率同样畸形，由调用方决定是否换输入重提)
	ErrResultShape = errors.New("生成结果结构不合法")
	// ErrCacheUnavailable 底层缓存故障。编排器按永远未命中降级，不让整个请求失败
	ErrCacheUnavailable = errors.New("结果缓存不可用")
)

// GenerationError 携带上下文细节的生成错误
type GenerationError struct {
	Fingerprint string
	Op          string // 发生错误的阶段: validate/render/provider/shape/cache/persist
	BaseErr     error
	Detail      string
}

func (e *GenerationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (阶段:%s, 指纹:%s): %s", e.BaseErr, e.Op, shortFP(e.Fingerprint), e.Detail)
	}
	return fmt.Sprintf("%s (阶段:%s, 指纹:%s)", e.BaseErr, e.Op, shortFP(e.Fingerprint))
}

func (e *GenerationError) Unwrap() error {
	return e.BaseErr
}

// Is 支持 errors.Is 按基础错误类型比较
func (e *GenerationError) Is(target error) bool {
	return errors.Is(e.BaseErr, target)
}

func shortFP(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}

// 错误构造函数

func NewValidationError(detail string) error {
	return &GenerationError{Op: "validate", BaseErr: ErrValidation, Detail: detail}
}

func NewProviderTimeoutError(fp, detail string) error {
	return &GenerationError{Fingerprint: fp, Op: "provider", BaseErr: ErrProviderTimeout, Detail: detail}
}

func NewProviderRateLimitedError(fp, detail string) error {
	return &GenerationError{Fingerprint: fp, Op: "provider", BaseErr: ErrProviderRateLimited, Detail: detail}
}

func NewProviderRejectedError(fp, detail string) error {
	return &GenerationError{Fingerprint: fp, Op: "provider", BaseErr: ErrProviderRejected, Detail: detail}
}

func NewResultShapeError(fp, detail string) error {
	return &GenerationError{Fingerprint: fp, Op: "shape", BaseErr: ErrResultShape, Detail: detail}
}

func NewCacheUnavailableError(fp, detail string) error {
	return &GenerationError{Fingerprint: fp, Op: "cache", BaseErr: ErrCacheUnavailable, Detail: detail}
}

// Retryable 判断错误是否值得调用方重新提交同样的请求
func Retryable(err error) bool {
	return errors.Is(err, ErrProviderTimeout) || errors.Is(err, ErrProviderRateLimited)
}
