package collector

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/mylaniakea/unity/internal/config"
	"github.com/mylaniakea/unity/internal/testutil"
)

func TestPushCollector(t *testing.T) {
	s, _ := testutil.StartJetStream(t)

	nc, err := nats.Connect(s.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	c, err := NewFactory(zaptest.NewLogger(t), nc).Build(config.CollectorConfig{ID: "pi-garage", Type: "push"})
	require.NoError(t, err)
	push := c.(*PushCollector)
	defer push.Close()

	_, err = push.Collect(context.Background())
	require.ErrorIs(t, err, ErrNoReport)

	agent, err := nats.Connect(s.ClientURL())
	require.NoError(t, err)
	defer agent.Close()

	require.NoError(t, agent.Publish(PushSubject("pi-garage"), []byte(`not json`)))
	require.NoError(t, agent.Publish(PushSubject("pi-garage"), []byte(`{"metrics":{"temp_c":48.2}}`)))
	require.NoError(t, agent.Publish(PushSubject("pi-garage"), []byte(`{"metrics":{"temp_c":49.0,"throttled":0}}`)))
	require.NoError(t, agent.Flush())

	var metrics map[string]float64
	require.Eventually(t, func() bool {
		metrics, err = push.Collect(context.Background())
		return err == nil && metrics["temp_c"] == 49.0
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 0.0, metrics["throttled"])

	_, err = push.Collect(context.Background())
	require.ErrorIs(t, err, ErrNoReport, "a report is handed over once")
}

func TestNewPushCollectorRequiresConnection(t *testing.T) {
	_, err := NewPushCollector(zap.NewNop(), nil, "metrics.x")
	require.Error(t, err)
}
