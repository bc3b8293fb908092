// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/absmach/stomp/client"

// metrics holds the OpenTelemetry instruments of a connection.
type metrics struct {
	framesSent        metric.Int64Counter
	framesReceived    metric.Int64Counter
	bytesSent         metric.Int64Counter
	bytesReceived     metric.Int64Counter
	connectAttempts   metric.Int64Counter
	connectFailures   metric.Int64Counter
	redeliveries      metric.Int64Counter
	deadLettered      metric.Int64Counter
	activeSubscribers metric.Int64UpDownCounter
}

func newMetrics(mp metric.MeterProvider) (*metrics, error) {
	var meter metric.Meter
	if mp != nil {
		meter = mp.Meter(meterName)
	} else {
		meter = otel.Meter(meterName)
	}

	m := &metrics{}
	var err error

	m.framesSent, err = meter.Int64Counter(
		"stomp.frames.sent",
		metric.WithDescription("Total number of frames sent"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create framesSent counter: %w", err)
	}

	m.framesReceived, err = meter.Int64Counter(
		"stomp.frames.received",
		metric.WithDescription("Total number of frames received"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create framesReceived counter: %w", err)
	}

	m.bytesSent, err = meter.Int64Counter(
		"stomp.body.bytes.sent",
		metric.WithDescription("Total body bytes sent"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create bytesSent counter: %w", err)
	}

	m.bytesReceived, err = meter.Int64Counter(
		"stomp.body.bytes.received",
		metric.WithDescription("Total body bytes received"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create bytesReceived counter: %w", err)
	}

	m.connectAttempts, err = meter.Int64Counter(
		"stomp.connect.attempts",
		metric.WithDescription("Total number of connection attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create connectAttempts counter: %w", err)
	}

	m.connectFailures, err = meter.Int64Counter(
		"stomp.connect.failures",
		metric.WithDescription("Total number of failed connection attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create connectFailures counter: %w", err)
	}

	m.redeliveries, err = meter.Int64Counter(
		"stomp.messages.redelivered",
		metric.WithDescription("Messages returned to their destination by unreceive"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create redeliveries counter: %w", err)
	}

	m.deadLettered, err = meter.Int64Counter(
		"stomp.messages.dead_lettered",
		metric.WithDescription("Messages moved to the dead letter queue by unreceive"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create deadLettered counter: %w", err)
	}

	m.activeSubscribers, err = meter.Int64UpDownCounter(
		"stomp.subscriptions.active",
		metric.WithDescription("Number of active subscriptions"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activeSubscribers counter: %w", err)
	}

	return m, nil
}

func (m *metrics) frameSent(cmd string, bodyLen int) {
	attrs := metric.WithAttributes(attribute.String("command", cmd))
	m.framesSent.Add(context.Background(), 1, attrs)
	if bodyLen > 0 {
		m.bytesSent.Add(context.Background(), int64(bodyLen), attrs)
	}
}

func (m *metrics) frameReceived(cmd string, bodyLen int) {
	attrs := metric.WithAttributes(attribute.String("command", cmd))
	m.framesReceived.Add(context.Background(), 1, attrs)
	if bodyLen > 0 {
		m.bytesReceived.Add(context.Background(), int64(bodyLen), attrs)
	}
}

func (m *metrics) connectAttempt(addr string, err error) {
	attrs := metric.WithAttributes(attribute.String("host", addr))
	m.connectAttempts.Add(context.Background(), 1, attrs)
	if err != nil {
		m.connectFailures.Add(context.Background(), 1, attrs)
	}
}

func (m *metrics) redelivered(dest string) {
	m.redeliveries.Add(context.Background(), 1, metric.WithAttributes(attribute.String("destination", dest)))
}

func (m *metrics) deadLetter(dest string) {
	m.deadLettered.Add(context.Background(), 1, metric.WithAttributes(attribute.String("destination", dest)))
}

func (m *metrics) subscriptions(delta int64) {
	m.activeSubscribers.Add(context.Background(), delta)
}
