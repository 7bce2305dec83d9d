package interceptors

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/glimte/mailrelay/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// Mock handler
type mockHandler struct {
	mock.Mock
}

func (m *mockHandler) Handle(ctx context.Context, msg contracts.InboundMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

type mockMetricsCollector struct {
	mock.Mock
}

func (m *mockMetricsCollector) IncrementMessageCount(queue string) {
	m.Called(queue)
}

func (m *mockMetricsCollector) RecordProcessingTime(queue string, duration time.Duration) {
	m.Called(queue, duration)
}

func (m *mockMetricsCollector) IncrementErrorCount(queue string, errorType string) {
	m.Called(queue, errorType)
}

func testMessage() contracts.InboundMessage {
	return contracts.InboundMessage{
		Queue:      "user_registered_queue",
		RoutingKey: "user.registered",
		Body:       []byte(`{"email":"a@b.c"}`),
		MessageID:  "msg-1",
	}
}

func TestInterceptorChain(t *testing.T) {
	t.Run("NewInterceptorChain creates empty chain", func(t *testing.T) {
		logger := slog.Default()
		chain := NewInterceptorChain(logger)

		assert.NotNil(t, chain)
		assert.Equal(t, logger, chain.logger)
		assert.Empty(t, chain.interceptors)
	})

	t.Run("NewInterceptorChain with nil logger uses default", func(t *testing.T) {
		chain := NewInterceptorChain(nil)
		assert.NotNil(t, chain.logger)
	})

	t.Run("Execute without interceptors calls handler directly", func(t *testing.T) {
		chain := NewInterceptorChain(nil)
		handler := &mockHandler{}
		msg := testMessage()
		handler.On("Handle", mock.Anything, msg).Return(nil)

		err := chain.Execute(context.Background(), msg, handler)

		assert.NoError(t, err)
		handler.AssertExpectations(t)
	})

	t.Run("interceptors run in order added", func(t *testing.T) {
		var order []string
		record := func(name string) Interceptor {
			return NewInterceptorFunc(name, func(ctx context.Context, msg contracts.InboundMessage, next MessageHandler) error {
				order = append(order, name+":before")
				err := next.Handle(ctx, msg)
				order = append(order, name+":after")
				return err
			})
		}

		chain := NewInterceptorChain(nil).Add(record("first")).Add(record("second"))
		final := MessageHandlerFunc(func(ctx context.Context, msg contracts.InboundMessage) error {
			order = append(order, "handler")
			return nil
		})

		require.NoError(t, chain.Execute(context.Background(), testMessage(), final))
		assert.Equal(t, []string{"first:before", "second:before", "handler", "second:after", "first:after"}, order)
		assert.Equal(t, []string{"first", "second"}, chain.Names())
	})

	t.Run("interceptor can short circuit", func(t *testing.T) {
		stop := errors.New("stop")
		chain := NewInterceptorChain(nil).Add(NewInterceptorFunc("stopper",
			func(ctx context.Context, msg contracts.InboundMessage, next MessageHandler) error {
				return stop
			}))
		handler := &mockHandler{}

		err := chain.Execute(context.Background(), testMessage(), handler)

		assert.ErrorIs(t, err, stop)
		handler.AssertNotCalled(t, "Handle", mock.Anything, mock.Anything)
	})
}

func TestLoggingInterceptor(t *testing.T) {
	t.Run("logs success", func(t *testing.T) {
		var buf bytes.Buffer
		interceptor := NewLoggingInterceptor(slog.New(slog.NewTextHandler(&buf, nil)))
		handler := &mockHandler{}
		handler.On("Handle", mock.Anything, mock.Anything).Return(nil)

		err := interceptor.Intercept(context.Background(), testMessage(), handler)

		assert.NoError(t, err)
		assert.Contains(t, buf.String(), "message processed")
		assert.Contains(t, buf.String(), "queue=user_registered_queue")
		assert.Equal(t, "LoggingInterceptor", interceptor.Name())
	})

	t.Run("logs failure and returns error", func(t *testing.T) {
		var buf bytes.Buffer
		interceptor := NewLoggingInterceptor(slog.New(slog.NewTextHandler(&buf, nil)))
		handler := &mockHandler{}
		handlerErr := errors.New("smtp unavailable")
		handler.On("Handle", mock.Anything, mock.Anything).Return(handlerErr)

		err := interceptor.Intercept(context.Background(), testMessage(), handler)

		assert.Equal(t, handlerErr, err)
		assert.Contains(t, buf.String(), "message processing failed")
		assert.Contains(t, buf.String(), "smtp unavailable")
	})
}

func TestMetricsInterceptor(t *testing.T) {
	t.Run("records success", func(t *testing.T) {
		collector := &mockMetricsCollector{}
		collector.On("IncrementMessageCount", "user_registered_queue").Return()
		collector.On("RecordProcessingTime", "user_registered_queue", mock.AnythingOfType("time.Duration")).Return()
		handler := &mockHandler{}
		handler.On("Handle", mock.Anything, mock.Anything).Return(nil)

		err := NewMetricsInterceptor(collector).Intercept(context.Background(), testMessage(), handler)

		assert.NoError(t, err)
		collector.AssertExpectations(t)
		collector.AssertNotCalled(t, "IncrementErrorCount", mock.Anything, mock.Anything)
	})

	t.Run("records error type", func(t *testing.T) {
		collector := &mockMetricsCollector{}
		collector.On("IncrementMessageCount", mock.Anything).Return()
		collector.On("RecordProcessingTime", mock.Anything, mock.Anything).Return()
		collector.On("IncrementErrorCount", "user_registered_queue", "processing_error").Return()
		handler := &mockHandler{}
		handler.On("Handle", mock.Anything, mock.Anything).Return(errors.New("boom"))

		err := NewMetricsInterceptor(collector).Intercept(context.Background(), testMessage(), handler)

		assert.Error(t, err)
		collector.AssertExpectations(t)
	})

	t.Run("records panic type", func(t *testing.T) {
		collector := &mockMetricsCollector{}
		collector.On("IncrementMessageCount", mock.Anything).Return()
		collector.On("RecordProcessingTime", mock.Anything, mock.Anything).Return()
		collector.On("IncrementErrorCount", "user_registered_queue", "panic").Return()

		chain := NewInterceptorChain(nil).
			Add(NewMetricsInterceptor(collector)).
			Add(NewRecoveryInterceptor(nil))
		final := MessageHandlerFunc(func(ctx context.Context, msg contracts.InboundMessage) error {
			panic("nil template")
		})

		err := chain.Execute(context.Background(), testMessage(), final)

		assert.ErrorIs(t, err, ErrHandlerPanic)
		collector.AssertExpectations(t)
	})
}

func TestRecoveryInterceptor(t *testing.T) {
	t.Run("converts panic into error", func(t *testing.T) {
		var buf bytes.Buffer
		interceptor := NewRecoveryInterceptor(slog.New(slog.NewTextHandler(&buf, nil)))
		final := MessageHandlerFunc(func(ctx context.Context, msg contracts.InboundMessage) error {
			panic("unexpected state")
		})

		var err error
		require.NotPanics(t, func() {
			err = interceptor.Intercept(context.Background(), testMessage(), final)
		})

		assert.ErrorIs(t, err, ErrHandlerPanic)
		assert.Contains(t, err.Error(), "unexpected state")
		assert.Contains(t, buf.String(), "handler panic recovered")
	})

	t.Run("passes through errors", func(t *testing.T) {
		handler := &mockHandler{}
		handlerErr := errors.New("transient")
		handler.On("Handle", mock.Anything, mock.Anything).Return(handlerErr)

		err := NewRecoveryInterceptor(nil).Intercept(context.Background(), testMessage(), handler)
		assert.Equal(t, handlerErr, err)
	})
}

func TestDefaultInterceptorChainBuilder(t *testing.T) {
	collector := &mockMetricsCollector{}
	custom := NewInterceptorFunc("custom", func(ctx context.Context, msg contracts.InboundMessage, next MessageHandler) error {
		return next.Handle(ctx, msg)
	})

	chain := NewDefaultInterceptorChainBuilder(nil).
		WithLogging().
		WithMetrics(collector).
		WithRecovery().
		WithCustom(custom).
		Build()

	assert.Equal(t, []string{"LoggingInterceptor", "MetricsInterceptor", "RecoveryInterceptor", "custom"}, chain.Names())
}
