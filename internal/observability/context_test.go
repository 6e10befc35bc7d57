package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestIDContext(t *testing.T) {
	t.Run("stores and retrieves request ID", func(t *testing.T) {
		ctx := context.Background()
		ctx = WithRequestID(ctx, "req-123")

		assert.Equal(t, "req-123", RequestIDFromContext(ctx))
	})

	t.Run("returns empty string when not set", func(t *testing.T) {
		assert.Equal(t, "", RequestIDFromContext(context.Background()))
	})
}

func TestBatchIDContext(t *testing.T) {
	t.Run("stores and retrieves batch ID", func(t *testing.T) {
		ctx := context.Background()
		ctx = WithBatchID(ctx, "batch-456")

		assert.Equal(t, "batch-456", BatchIDFromContext(ctx))
	})

	t.Run("returns empty string when not set", func(t *testing.T) {
		assert.Equal(t, "", BatchIDFromContext(context.Background()))
	})
}

func TestContextChaining(t *testing.T) {
	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithBatchID(ctx, "batch-1")

	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.Equal(t, "batch-1", BatchIDFromContext(ctx))
}

func TestContextOverwrite(t *testing.T) {
	ctx := context.Background()
	ctx = WithBatchID(ctx, "first")
	ctx = WithBatchID(ctx, "second")

	assert.Equal(t, "second", BatchIDFromContext(ctx))
}
