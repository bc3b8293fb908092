// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"testing"

	"github.com/absmach/stomp/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// sum returns the total of an int64 sum instrument, restricted to data
// points carrying attr when attr is valid.
func sum(t *testing.T, rm metricdata.ResourceMetrics, name string, attr attribute.KeyValue) int64 {
	t.Helper()
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			data, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "%s is not an int64 sum", name)
			for _, dp := range data.DataPoints {
				if attr.Valid() {
					if v, ok := dp.Attributes.Value(attr.Key); !ok || v != attr.Value {
						continue
					}
				}
				total += dp.Value
			}
		}
	}
	return total
}

func TestConnectionMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { mp.Shutdown(context.Background()) })

	b := newTestBroker(t)
	c, err := Dial(b.options().SetMeterProvider(mp))
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Subscribe("/queue/m", nil))
	require.NoError(t, c.Subscribe("/queue/n", nil))
	require.NoError(t, c.Unsubscribe("/queue/n", nil))
	require.NoError(t, c.Publish("/queue/m", []byte("hello"), nil))

	f, err := c.Receive()
	require.NoError(t, err)
	require.Equal(t, frame.MESSAGE, f.Command)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	none := attribute.KeyValue{}
	assert.Equal(t, int64(1), sum(t, rm, "stomp.connect.attempts", none))
	assert.Equal(t, int64(0), sum(t, rm, "stomp.connect.failures", none))
	assert.Equal(t, int64(1), sum(t, rm, "stomp.frames.sent", attribute.String("command", frame.CONNECT)))
	assert.Equal(t, int64(2), sum(t, rm, "stomp.frames.sent", attribute.String("command", frame.SUBSCRIBE)))
	assert.Equal(t, int64(1), sum(t, rm, "stomp.frames.sent", attribute.String("command", frame.SEND)))
	assert.Equal(t, int64(5), sum(t, rm, "stomp.body.bytes.sent", none))
	assert.Equal(t, int64(1), sum(t, rm, "stomp.frames.received", attribute.String("command", frame.MESSAGE)))
	assert.Equal(t, int64(5), sum(t, rm, "stomp.body.bytes.received", none))
	assert.Equal(t, int64(1), sum(t, rm, "stomp.subscriptions.active", none))
}

func TestUnreceiveMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { mp.Shutdown(context.Background()) })

	b := newTestBroker(t)
	c, err := Dial(b.options().SetMeterProvider(mp))
	require.NoError(t, err)
	defer c.Close()

	f := frame.New(frame.MESSAGE, frame.Destination, "/queue/a", frame.MessageID, "m1")
	require.NoError(t, c.Unreceive(f, nil))
	f = frame.New(frame.MESSAGE, frame.Destination, "/queue/a", frame.MessageID, "m2", frame.RetryCount, "9")
	require.NoError(t, c.Unreceive(f, nil))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	dest := attribute.String("destination", "/queue/a")
	assert.Equal(t, int64(1), sum(t, rm, "stomp.messages.redelivered", dest))
	assert.Equal(t, int64(1), sum(t, rm, "stomp.messages.dead_lettered", dest))
}
