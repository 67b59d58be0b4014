package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/patrickwarner/adcortex-go/internal/observability"
	"github.com/patrickwarner/adcortex-go/pkg/models"
)

var (
	server        string
	conversations int
	turns         int
	conc          int
	think         time.Duration
	geo           bool
	stats         bool
	debug         bool
	label         string
)

var logger *zap.Logger

// HTTP client with proper resource limits
var httpClient *http.Client

var (
	userAgents = []string{
		// Mobile
		"Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Mobile/15E148 Safari/604.1",
		"Mozilla/5.0 (Linux; Android 12; Pixel 6 Pro) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/114.0.5735.196 Mobile Safari/537.36",

		// Desktop
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 13_3_1) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.1 Safari/605.1.15",
		"Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:111.0) Gecko/20100101 Firefox/111.0",
	}
	userIPs = []string{
		"192.0.2.1",
		"198.51.100.1",
		"203.0.113.1",
	}
	userLines = []string{
		"I'm planning a trip to Japan next spring",
		"My laptop keeps overheating when I play games",
		"Any tips for getting back into running?",
		"I want to cook something healthy tonight",
		"What should I read after finishing Dune?",
	}
	aiLines = []string{
		"That sounds exciting! Tell me more.",
		"Here are a few ideas you could try.",
		"Good question, let's break it down.",
	}
	interestPool = []models.Interest{
		models.InterestGaming, models.InterestTechnology, models.InterestSports, models.InterestTravel,
	}
)

const statsInterval = 5 * time.Second

var (
	countSessions uint64
	countMessages uint64
	countQueued   uint64
	countSkipped  uint64
	countDropped  uint64
	countAds      uint64
	countErrors   uint64
)

func main() {
	flag.StringVar(&server, "server", "http://localhost:8788", "gateway base URL")
	flag.IntVar(&conversations, "conversations", 50, "number of conversations to simulate")
	flag.IntVar(&turns, "turns", 12, "messages per conversation")
	flag.IntVar(&conc, "concurrency", 10, "concurrent conversations")
	flag.DurationVar(&think, "think", 50*time.Millisecond, "pause between messages")
	flag.BoolVar(&geo, "geo", false, "omit location so the gateway resolves it from the client IP")
	flag.BoolVar(&stats, "stats", false, "print aggregated stats periodically")
	flag.BoolVar(&debug, "debug", false, "enable verbose debug logs")
	flag.StringVar(&label, "label", "", "label to identify this run")
	flag.Parse()

	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}
	var err error
	logger, err = observability.InitLoggerWithLevel(level, "traffic-simulator")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	httpClient = &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			MaxConnsPerHost:     50,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	if label == "" {
		label = time.Now().Format(time.RFC3339)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	if stats {
		go func() {
			ticker := time.NewTicker(statsInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					printStats()
				case <-done:
					return
				}
			}
		}()
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, conc)
	start := time.Now()
	for i := 0; i < conversations && ctx.Err() == nil; i++ {
		sem <- struct{}{}
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			defer func() { <-sem }()
			converse(ctx, rand.New(rand.NewSource(seed)))
		}(time.Now().UnixNano() + int64(i))
	}
	wg.Wait()
	close(done)

	printStats()
	logger.Info("simulation finished", zap.String("run", label), zap.Duration("elapsed", time.Since(start)))
}

func converse(ctx context.Context, r *rand.Rand) {
	ua := userAgents[r.Intn(len(userAgents))]
	ip := userIPs[r.Intn(len(userIPs))]

	session := map[string]any{
		"session_id":     uuid.NewString(),
		"character_name": "Sim",
		"user_info": map[string]any{
			"user_id":   fmt.Sprintf("sim-user-%d", r.Intn(1000)),
			"age":       18 + r.Intn(50),
			"gender":    []string{"male", "female", "other"}[r.Intn(3)],
			"language":  "en",
			"interests": []models.Interest{interestPool[r.Intn(len(interestPool))]},
		},
	}
	if !geo {
		session["user_info"].(map[string]any)["location"] = "US"
	}
	var created models.SessionInfo
	status, err := call(ctx, http.MethodPost, "/sessions", ua, ip, session, &created)
	if err != nil || status != http.StatusCreated {
		atomic.AddUint64(&countErrors, 1)
		logger.Warn("create session failed", zap.Int("status", status), zap.Error(err))
		return
	}
	atomic.AddUint64(&countSessions, 1)
	id := created.SessionID
	defer func() { _, _ = call(context.Background(), http.MethodDelete, "/sessions/"+id, ua, ip, nil, nil) }()

	for t := 0; t < turns && ctx.Err() == nil; t++ {
		msg := map[string]string{"role": "user", "content": userLines[r.Intn(len(userLines))]}
		if t%2 == 1 {
			msg = map[string]string{"role": "ai", "content": aiLines[r.Intn(len(aiLines))]}
		}
		var resp struct {
			Queued bool `json:"queued"`
		}
		status, err := call(ctx, http.MethodPost, "/sessions/"+id+"/messages", ua, ip, msg, &resp)
		atomic.AddUint64(&countMessages, 1)
		switch {
		case err != nil:
			atomic.AddUint64(&countErrors, 1)
			logger.Debug("message failed", zap.String("session_id", id), zap.Error(err))
		case status == http.StatusTooManyRequests:
			atomic.AddUint64(&countDropped, 1)
		case resp.Queued:
			atomic.AddUint64(&countQueued, 1)
		default:
			atomic.AddUint64(&countSkipped, 1)
		}

		var ad struct {
			Ad  *models.Ad `json:"ad"`
			New bool       `json:"new"`
		}
		if status, err := call(ctx, http.MethodGet, "/sessions/"+id+"/ad", ua, ip, nil, &ad); err == nil && status == http.StatusOK && ad.New {
			atomic.AddUint64(&countAds, 1)
			logger.Debug("ad shown", zap.String("session_id", id), zap.String("title", ad.Ad.AdTitle))
		}

		select {
		case <-ctx.Done():
		case <-time.After(think):
		}
	}
}

func call(ctx context.Context, method, path, ua, ip string, body, out any) (int, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, server+path, &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", ua)
	req.Header.Set("X-Forwarded-For", ip)

	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
		return resp.StatusCode, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func printStats() {
	logger.Info("stats",
		zap.String("run", label),
		zap.Uint64("sessions", atomic.LoadUint64(&countSessions)),
		zap.Uint64("messages", atomic.LoadUint64(&countMessages)),
		zap.Uint64("queued", atomic.LoadUint64(&countQueued)),
		zap.Uint64("cadence_skipped", atomic.LoadUint64(&countSkipped)),
		zap.Uint64("dropped", atomic.LoadUint64(&countDropped)),
		zap.Uint64("ads", atomic.LoadUint64(&countAds)),
		zap.Uint64("errors", atomic.LoadUint64(&countErrors)))
}
