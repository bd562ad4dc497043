package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/parley/chat-server/loadtest/client"
	"github.com/parley/chat-server/loadtest/stats"
)

// runSaturate ramps up to the target connection count, logging each client in
// with a unique address, then holds the connections open for the configured
// duration while scraping server metrics.
func runSaturate(args []string) {
	fs := flag.NewFlagSet("saturate", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:8080/ws", "WebSocket URL of the chat server")
	connections := fs.Int("connections", 1000, "target number of concurrent connections")
	rampUp := fs.Duration("ramp-up", 30*time.Second, "time over which to establish all connections")
	hold := fs.Duration("hold", 60*time.Second, "how long to hold connections after ramp-up")
	metricsURL := fs.String("metrics-url", "http://localhost:8080/metrics", "Prometheus metrics endpoint to scrape (empty to disable)")
	fs.Parse(args)

	log.Printf("saturate: target=%d ramp-up=%s hold=%s url=%s",
		*connections, *rampUp, *hold, *url)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Stop early on Ctrl-C.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("saturate: interrupted, shutting down")
		cancel()
	}()

	collector := stats.NewCollector()

	if *metricsURL != "" {
		scraper := stats.NewScraper(*metricsURL, 5*time.Second)
		scraper.Start(ctx)
		defer scraper.Stop()
		collector.SetScraper(scraper)
	}

	// Pace connection attempts evenly across the ramp-up window.
	interval := *rampUp / time.Duration(*connections)
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Bound concurrent dial attempts so a slow server does not pile up
	// thousands of in-flight handshakes.
	sem := make(chan struct{}, 64)

	var (
		mu      sync.Mutex
		clients []*client.Client
		wg      sync.WaitGroup
	)

	// Progress reporting.
	progressDone := make(chan struct{})
	go func() {
		t := time.NewTicker(5 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-progressDone:
				return
			case <-t.C:
				log.Printf("saturate: connected=%d errors=%d",
					collector.ConnectionCount(), collector.ErrorCount())
			}
		}
	}()

ramp:
	for i := 0; i < *connections; i++ {
		select {
		case <-ctx.Done():
			break ramp
		case <-ticker.C:
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(n int) {
			defer wg.Done()
			defer func() { <-sem }()

			dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
			defer dialCancel()

			address := fmt.Sprintf("loadtest-sat-%d", n)
			c, err := client.New(dialCtx, *url, address)
			if err != nil {
				collector.AddError()
				return
			}
			collector.AddConnect(c.GetMetrics().ConnectLatency)

			mu.Lock()
			clients = append(clients, c)
			mu.Unlock()
		}(i)
	}

	wg.Wait()
	log.Printf("saturate: ramp-up complete, %d connections established", collector.ConnectionCount())

	// Hold phase. Connections stay open so the server's heartbeat and
	// resource accounting are exercised under sustained load.
	select {
	case <-ctx.Done():
	case <-time.After(*hold):
	}

	close(progressDone)

	log.Println("saturate: closing connections")
	mu.Lock()
	for _, c := range clients {
		c.Close()
	}
	mu.Unlock()

	collector.Report()
}
