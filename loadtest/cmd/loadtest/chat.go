package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/parley/chat-server/loadtest/client"
	"github.com/parley/chat-server/loadtest/stats"
)

// runChat simulates pairs of users holding a conversation. Each pair logs in
// with its own addresses, opens a dialog via add_user, joins the dialog room
// with get_dialog, and then exchanges timestamped messages for the configured
// duration. Recipients acknowledge every message with mark_read. Message
// latency is measured from send to fan-out delivery at the partner.
func runChat(args []string) {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:8080/ws", "WebSocket URL of the chat server")
	pairs := fs.Int("pairs", 50, "number of conversation pairs")
	chatDuration := fs.Duration("chat-duration", 60*time.Second, "how long each pair keeps chatting")
	msgInterval := fs.Duration("msg-interval", 2*time.Second, "delay between messages from each participant")
	metricsURL := fs.String("metrics-url", "http://localhost:8080/metrics", "Prometheus metrics endpoint to scrape (empty to disable)")
	fs.Parse(args)

	log.Printf("chat: pairs=%d duration=%s interval=%s url=%s",
		*pairs, *chatDuration, *msgInterval, *url)

	ctx, cancel := context.WithTimeout(context.Background(), *chatDuration+2*time.Minute)
	defer cancel()

	collector := stats.NewCollector()

	if *metricsURL != "" {
		scraper := stats.NewScraper(*metricsURL, 5*time.Second)
		scraper.Start(ctx)
		defer scraper.Stop()
		collector.SetScraper(scraper)
	}

	var wg sync.WaitGroup
	for i := 0; i < *pairs; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if err := runPair(ctx, *url, n, *chatDuration, *msgInterval, collector); err != nil {
				log.Printf("chat: pair %d: %v", n, err)
				collector.AddError()
			}
		}(i)

		// Stagger pair startup a little to avoid a thundering herd of
		// dialog creations against Postgres.
		time.Sleep(20 * time.Millisecond)
	}

	wg.Wait()
	collector.Report()
}

// runPair drives one conversation between two clients.
func runPair(ctx context.Context, url string, n int, duration, interval time.Duration, collector *stats.Collector) error {
	addrA := fmt.Sprintf("loadtest-a-%d", n)
	addrB := fmt.Sprintf("loadtest-b-%d", n)

	a, err := client.New(ctx, url, addrA)
	if err != nil {
		return fmt.Errorf("connect a: %w", err)
	}
	defer a.Close()
	collector.AddConnect(a.GetMetrics().ConnectLatency)

	b, err := client.New(ctx, url, addrB)
	if err != nil {
		return fmt.Errorf("connect b: %w", err)
	}
	defer b.Close()
	collector.AddConnect(b.GetMetrics().ConnectLatency)

	sessionCtx, sessionCancel := context.WithTimeout(ctx, 10*time.Second)
	defer sessionCancel()
	if err := a.WaitForSession(sessionCtx); err != nil {
		return fmt.Errorf("session a: %w", err)
	}
	if err := b.WaitForSession(sessionCtx); err != nil {
		return fmt.Errorf("session b: %w", err)
	}

	// Open the dialog from A's side and wait for the dialog id.
	chatIDCh := make(chan int64, 1)
	a.On(client.TypeAddUser, func(raw json.RawMessage) {
		var resp struct {
			Success bool `json:"success"`
			Data    struct {
				ID int64 `json:"id"`
			} `json:"data"`
		}
		if err := json.Unmarshal(raw, &resp); err != nil || !resp.Success {
			return
		}
		select {
		case chatIDCh <- resp.Data.ID:
		default:
		}
	})

	if err := a.Send(map[string]string{
		"type":      client.TypeAddUser,
		"address":   addrA,
		"recipient": addrB,
	}); err != nil {
		return fmt.Errorf("add_user: %w", err)
	}

	var chatID int64
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(10 * time.Second):
		return fmt.Errorf("timed out waiting for dialog id")
	case chatID = <-chatIDCh:
	}

	// Both participants join the dialog room so they receive the fan-out.
	wireMessages(a, addrA, chatID, collector)
	wireMessages(b, addrB, chatID, collector)

	for _, c := range []*client.Client{a, b} {
		if err := c.Send(map[string]interface{}{
			"type":    client.TypeGetDialog,
			"address": c.Address(),
			"chat_id": chatID,
		}); err != nil {
			return fmt.Errorf("get_dialog: %w", err)
		}
	}

	// Give the room joins a moment to settle before messages start flowing.
	time.Sleep(200 * time.Millisecond)

	// Both sides send on the same interval, offset by half a tick so the
	// conversation interleaves.
	deadline := time.Now().Add(duration)
	go chatLoop(ctx, a, addrA, chatID, interval, deadline, collector)
	time.Sleep(interval / 2)
	chatLoop(ctx, b, addrB, chatID, interval, deadline, collector)

	// Let the last fan-outs arrive before tearing down.
	time.Sleep(500 * time.Millisecond)
	return nil
}

// wireMessages registers the new_message handler for one participant. The
// handler records fan-out latency for messages sent by the partner and
// acknowledges them with mark_read.
func wireMessages(c *client.Client, address string, chatID int64, collector *stats.Collector) {
	prefix := address + ":"
	c.On(client.TypeNewMessage, func(raw json.RawMessage) {
		var msg struct {
			ID        int64  `json:"id"`
			DialogID  int64  `json:"dialog_id"`
			Recipient int64  `json:"recipient"`
			Content   string `json:"content"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			return
		}
		// The room fan-out includes our own messages; skip those.
		if strings.HasPrefix(msg.Content, prefix) {
			return
		}

		// Message content is "<sender-address>:<unix-nanos>".
		if idx := strings.LastIndexByte(msg.Content, ':'); idx != -1 {
			if nanos, err := strconv.ParseInt(msg.Content[idx+1:], 10, 64); err == nil {
				collector.AddMsgLatency(time.Since(time.Unix(0, nanos)))
			}
		}

		_ = c.Send(map[string]interface{}{
			"type":       client.TypeMarkRead,
			"chat_id":    msg.DialogID,
			"message_id": msg.ID,
			"consumer":   msg.Recipient,
		})
	})
}

// chatLoop sends timestamped messages at the given interval until the
// deadline passes or the context is cancelled.
func chatLoop(ctx context.Context, c *client.Client, address string, chatID int64, interval time.Duration, deadline time.Time, collector *stats.Collector) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		text := fmt.Sprintf("%s:%d", address, time.Now().UnixNano())
		if err := c.Send(map[string]interface{}{
			"type":    client.TypeMessage,
			"address": address,
			"chat_id": chatID,
			"text":    text,
		}); err != nil {
			return
		}
		collector.AddSend()
	}
}
