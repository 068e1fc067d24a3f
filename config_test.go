// SPDX-License-Identifier: GPL-3.0-or-later

package spio

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig(t *testing.T) {
	cfg := NewConfig()

	require.NotNil(t, cfg)

	// Dialer should be set to *net.Dialer
	_, ok := cfg.Dialer.(*net.Dialer)
	assert.True(t, ok, "Dialer should be *net.Dialer")

	// ErrClassifier should use errclass by default
	assert.Equal(t, "", cfg.ErrClassifier.Classify(nil))
	assert.Equal(t, "ETIMEDOUT", cfg.ErrClassifier.Classify(context.DeadlineExceeded))

	// TimeNow should be set and return a valid time
	now := cfg.TimeNow()
	assert.False(t, now.IsZero())

	assert.Equal(t, resolverWorkers, cfg.ResolverWorkers)
	assert.Nil(t, cfg.ResolverBackend)
	assert.Equal(t, 1, cfg.SendBufSize)
	assert.True(t, cfg.ResendTime > 0)
	assert.NotNil(t, cfg.Logger)
}
