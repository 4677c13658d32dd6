package telemetry

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flowbase/arb-engine/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSink struct {
	count int32
}

func (s *countingSink) Send(ctx context.Context, alert Alert) error {
	atomic.AddInt32(&s.count, 1)
	return nil
}

func TestAlertManagerSuppressesWithinCooldown(t *testing.T) {
	sink := &countingSink{}
	m := NewAlertManager(logger.New("test"), sink)

	alert := Alert{Level: LevelCritical, Title: "rpc down", Timestamp: time.Now()}
	require.NoError(t, m.Send(context.Background(), alert))
	require.NoError(t, m.Send(context.Background(), alert))

	assert.Equal(t, int32(1), atomic.LoadInt32(&sink.count))
}

func TestAlertManagerDistinguishesByTitle(t *testing.T) {
	sink := &countingSink{}
	m := NewAlertManager(logger.New("test"), sink)

	require.NoError(t, m.Send(context.Background(), Alert{Level: LevelWarning, Title: "a"}))
	require.NoError(t, m.Send(context.Background(), Alert{Level: LevelWarning, Title: "b"}))

	assert.Equal(t, int32(2), atomic.LoadInt32(&sink.count))
}

func TestAlertLevelCooldowns(t *testing.T) {
	assert.Equal(t, 60*time.Second, LevelCritical.cooldown())
	assert.Equal(t, 300*time.Second, LevelError.cooldown())
	assert.Equal(t, 900*time.Second, LevelWarning.cooldown())
	assert.Equal(t, 1800*time.Second, LevelInfo.cooldown())
	assert.Equal(t, 3600*time.Second, LevelSuccess.cooldown())
}

func TestNewMetricsRegistersWithoutPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		NewMetrics()
	})
}

func TestWebhookSinkErrorsWithoutURL(t *testing.T) {
	sink := WebhookSink{}
	err := sink.Send(context.Background(), Alert{Title: "x"})
	assert.Error(t, err)
}
