package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	applogger "FinAlloc/pkg/logger"
)

// ConsumerHook observes message handling. An error from BeforeHandle skips
// the handler and counts as a failed attempt.
type ConsumerHook interface {
	BeforeHandle(ctx context.Context, topic string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error)
	AfterHandle(ctx context.Context, topic string, km kafka.Message, data []byte, err error)
	OnError(ctx context.Context, topic string, km kafka.Message, data []byte, err error)
}

type NoopHook struct{}

func (NoopHook) BeforeHandle(ctx context.Context, _ string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
	return ctx, km, data, nil
}
func (NoopHook) AfterHandle(context.Context, string, kafka.Message, []byte, error) {}
func (NoopHook) OnError(context.Context, string, kafka.Message, []byte, error)     {}

// HookFuncs adapts plain functions to ConsumerHook; nil funcs are no-ops.
type HookFuncs struct {
	Before func(context.Context, string, kafka.Message, []byte) (context.Context, kafka.Message, []byte, error)
	After  func(context.Context, string, kafka.Message, []byte, error)
	Err    func(context.Context, string, kafka.Message, []byte, error)
}

func (h HookFuncs) BeforeHandle(ctx context.Context, topic string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
	if h.Before == nil {
		return ctx, km, data, nil
	}
	return h.Before(ctx, topic, km, data)
}

func (h HookFuncs) AfterHandle(ctx context.Context, topic string, km kafka.Message, data []byte, err error) {
	if h.After != nil {
		h.After(ctx, topic, km, data, err)
	}
}

func (h HookFuncs) OnError(ctx context.Context, topic string, km kafka.Message, data []byte, err error) {
	if h.Err != nil {
		h.Err(ctx, topic, km, data, err)
	}
}

// HookChain runs Before hooks in order and After hooks in reverse. A
// panicking hook is turned into an error instead of killing the worker.
type HookChain struct {
	hooks []ConsumerHook
}

func NewHookChain(hooks ...ConsumerHook) *HookChain {
	out := make([]ConsumerHook, 0, len(hooks))
	for _, h := range hooks {
		if h != nil {
			out = append(out, h)
		}
	}
	return &HookChain{hooks: out}
}

func (c *HookChain) BeforeHandle(ctx context.Context, topic string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
	for _, h := range c.hooks {
		var err error
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("hook panic: %v", r)
				}
			}()
			ctx, km, data, err = h.BeforeHandle(ctx, topic, km, data)
		}()
		if err != nil {
			return ctx, km, data, err
		}
	}
	return ctx, km, data, nil
}

func (c *HookChain) AfterHandle(ctx context.Context, topic string, km kafka.Message, data []byte, err error) {
	for i := len(c.hooks) - 1; i >= 0; i-- {
		h := c.hooks[i]
		guard(func() { h.AfterHandle(ctx, topic, km, data, err) })
	}
}

func (c *HookChain) OnError(ctx context.Context, topic string, km kafka.Message, data []byte, err error) {
	for _, h := range c.hooks {
		h := h
		guard(func() { h.OnError(ctx, topic, km, data, err) })
	}
}

func guard(fn func()) {
	defer func() { _ = recover() }()
	fn()
}

type ctxKey string

const ctxTraceID ctxKey = "kafka_trace_id"

// TraceID returns the trace id a TracingHook stored in ctx.
func TraceID(ctx context.Context) string {
	v, _ := ctx.Value(ctxTraceID).(string)
	return v
}

// TracingHook copies the trace_id header into the handler context and logs
// slow or failed deliveries.
type TracingHook struct {
	Logger *applogger.Logger
	Slow   time.Duration
}

type startKey struct{}

func (h TracingHook) BeforeHandle(ctx context.Context, _ string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
	for _, hd := range km.Headers {
		if hd.Key == "trace_id" && len(hd.Value) > 0 {
			ctx = context.WithValue(ctx, ctxTraceID, string(hd.Value))
			break
		}
	}
	return context.WithValue(ctx, startKey{}, time.Now()), km, data, nil
}

func (h TracingHook) AfterHandle(ctx context.Context, topic string, km kafka.Message, _ []byte, err error) {
	start, ok := ctx.Value(startKey{}).(time.Time)
	if !ok || h.Logger == nil || h.Slow <= 0 || err != nil {
		return
	}
	if d := time.Since(start); d > h.Slow {
		h.Logger.Warn("slow message", applogger.String("topic", topic),
			applogger.Int64("offset", km.Offset), applogger.Duration("took", d), applogger.String("trace_id", TraceID(ctx)))
	}
}

func (h TracingHook) OnError(ctx context.Context, topic string, km kafka.Message, _ []byte, err error) {
	if h.Logger == nil {
		return
	}
	h.Logger.Warn("delivery attempt failed", applogger.String("topic", topic),
		applogger.Int64("offset", km.Offset), applogger.String("trace_id", TraceID(ctx)), applogger.Error(err))
}
