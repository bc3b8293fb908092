// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Command stomp publishes to or subscribes on a STOMP destination.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/absmach/stomp/client"
	"github.com/absmach/stomp/config"
	"github.com/absmach/stomp/frame"
	stomptls "github.com/absmach/stomp/pkg/tls"
	"github.com/google/uuid"
)

const correlationID = "correlation-id"

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	brokerURL := flag.String("url", "", "Broker URL, overrides the configuration file (e.g. failover:(stomp://a:61613,stomp://b:61613))")
	mode := flag.String("mode", "subscribe", "publish or subscribe")
	dest := flag.String("dest", "/queue/test", "Destination")
	body := flag.String("body", "hello", "Message body to publish")
	count := flag.Int("count", 1, "Number of messages to publish")
	ack := flag.Bool("ack", false, "Subscribe with client acknowledgement")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *brokerURL != "" {
		cfg.Connection.URL = *brokerURL
	}

	logLevel := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	opts, err := cfg.Options()
	if err != nil {
		slog.Error("Invalid connection configuration", "error", err)
		os.Exit(1)
	}
	opts.SetLogger(logger)
	for _, h := range opts.Hosts {
		if h.UseTLS {
			slog.Info("Broker connection secured", "host", h.Addr(), "security", stomptls.SecurityStatus(opts.TLSConfig))
		}
	}

	c, err := client.New(opts)
	if err != nil {
		slog.Error("Failed to connect", "error", err)
		os.Exit(1)
	}
	if cf := c.ConnectionFrame(); cf != nil {
		slog.Info("Connected", "session", cf.Get("session"))
	}

	switch *mode {
	case "publish":
		err = publish(c, *dest, []byte(*body), *count)
	case "subscribe":
		err = subscribe(c, *dest, *ack)
	default:
		err = fmt.Errorf("unknown mode %q", *mode)
	}

	receipt := frame.NewHeader(frame.Receipt, "disconnect-"+uuid.NewString())
	if cerr := c.Close(receipt); cerr != nil {
		slog.Warn("Disconnect failed", "error", cerr)
	}
	if err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func publish(c *client.Client, dest string, body []byte, count int) error {
	var wg sync.WaitGroup
	for i := 0; i < count; i++ {
		id := uuid.NewString()
		wg.Add(1)
		onReceipt := func(f *frame.Frame) {
			slog.Debug("Message confirmed", "correlation_id", id, "receipt", f.Get(frame.ReceiptID))
			wg.Done()
		}
		h := frame.NewHeader(correlationID, id, frame.Persistent, "true")
		if err := c.Publish(dest, body, h, onReceipt); err != nil {
			return fmt.Errorf("publish %d: %w", i, err)
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Published", "destination", dest, "count", count)
		return nil
	case <-time.After(client.DefaultReceiptTimeout):
		return fmt.Errorf("timed out waiting for receipts")
	}
}

func subscribe(c *client.Client, dest string, clientAck bool) error {
	h := frame.NewHeader()
	if clientAck {
		h.Set(frame.Ack, frame.AckClient)
	}

	err := c.Subscribe(dest, h, func(f *frame.Frame) {
		fmt.Printf("%s\n", f.Body)
		if !clientAck {
			return
		}
		if err := c.Acknowledge(f, nil, nil); err != nil {
			slog.Warn("Ack failed", "message_id", f.MessageID(), "error", err)
		}
	})
	if err != nil {
		return err
	}
	slog.Info("Subscribed", "destination", dest)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	stopped := make(chan struct{})
	go func() {
		c.Wait()
		close(stopped)
	}()

	select {
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig)
		return nil
	case <-stopped:
		return c.Err()
	}
}
