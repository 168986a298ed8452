package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTxFromContext_Empty(t *testing.T) {
	q, ok := TxFromContext(context.Background())
	assert.Nil(t, q)
	assert.False(t, ok)
}

func TestWithTx_RoundTrip(t *testing.T) {
	marker := &DB{}
	ctx := withTx(context.Background(), marker)

	q, ok := TxFromContext(ctx)
	assert.True(t, ok)
	assert.Same(t, marker, q.(*DB))
}
