package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/patrickwarner/adcortex-go/pkg/models"
)

const waitPollInterval = 10 * time.Millisecond

// AsyncChatClient queues messages and fetches ads in the background.
//
// Add never blocks on the network. A single drainer goroutine pops messages
// in order and fetches an ad for each, so at most one request is in flight
// per client. The drainer exits when the queue is empty and is restarted by
// the next Add.
type AsyncChatClient struct {
	core     *core
	maxQueue int
	sem      *semaphore.Weighted // held by the running drainer

	mu       sync.Mutex
	queue    []models.Message
	inFlight bool
	closed   bool
	shutDown bool // core released after a completed Close
	latest   *models.Ad
	unseen   bool
	failures int // consecutive failed fetches
}

// NewAsyncChatClient validates session and builds a client.
func NewAsyncChatClient(session models.SessionInfo, opts ...Option) (*AsyncChatClient, error) {
	c, err := newCore(session, opts)
	if err != nil {
		return nil, err
	}
	return &AsyncChatClient{
		core:     c,
		maxQueue: c.settings.maxQueueSize,
		sem:      semaphore.NewWeighted(1),
	}, nil
}

// Add stamps a message and queues it for a fetch. When the queue is full the
// message is dropped and ErrQueueFull returned.
func (c *AsyncChatClient) Add(role models.Role, content string) error {
	msg, err := c.core.newMessage(role, content)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if len(c.queue) >= c.maxQueue {
		c.mu.Unlock()
		c.core.metrics.IncrementQueueDrops()
		c.core.logger.Error("Request queue full, dropping message",
			zap.String("role", string(role)),
			zap.Int("max_queue_size", c.maxQueue))
		return ErrQueueFull
	}
	c.queue = append(c.queue, msg)
	size := len(c.queue)
	c.mu.Unlock()

	c.core.logger.Debug("Message queued", zap.String("role", string(role)), zap.Int("queue_size", size))

	if c.sem.TryAcquire(1) {
		go c.drain()
	}
	return nil
}

// drain processes the queue until it is empty. The semaphore is released
// under c.mu after observing an empty queue, so a concurrent Add either sees
// the slot free or its message is picked up by this loop.
func (c *AsyncChatClient) drain() {
	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.inFlight = false
			c.sem.Release(1)
			c.mu.Unlock()
			return
		}
		msg := c.queue[0]
		c.queue[0] = models.Message{}
		c.queue = c.queue[1:]
		c.inFlight = true
		c.mu.Unlock()

		c.process(msg)
	}
}

func (c *AsyncChatClient) process(msg models.Message) {
	ad, err := c.core.fetchMessage(context.Background(), msg)

	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case errors.Is(err, ErrRateLimited):
	case err != nil:
		c.failures++
	default:
		c.failures = 0
		if ad != nil {
			c.latest = ad
			c.unseen = true
		}
	}
}

// LatestAd returns the latest ad and whether it arrived since the previous
// call. Each fetched ad is reported as new exactly once.
func (c *AsyncChatClient) LatestAd() (*models.Ad, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.latest == nil {
		return nil, false
	}
	isNew := c.unseen
	c.unseen = false
	return copyAd(c.latest), isNew
}

// HasUnseen reports whether the latest ad has not yet been returned by
// LatestAd.
func (c *AsyncChatClient) HasUnseen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest != nil && c.unseen
}

// PeekAd returns the latest ad without marking it seen.
func (c *AsyncChatClient) PeekAd() *models.Ad {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyAd(c.latest)
}

// CreateContext formats the latest ad through the context template.
func (c *AsyncChatClient) CreateContext() (string, error) {
	return c.core.createContext(c.PeekAd())
}

// Pending returns the number of queued messages plus the one being fetched.
func (c *AsyncChatClient) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.queue)
	if c.inFlight {
		n++
	}
	return n
}

// WaitForQueue blocks until every queued message has been processed or ctx
// is done.
func (c *AsyncChatClient) WaitForQueue(ctx context.Context) error {
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()
	for {
		if c.Pending() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// IsHealthy reports false once the client is closed or after several
// consecutive failed fetches.
func (c *AsyncChatClient) IsHealthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.failures < healthFailures
}

// Session returns the session the client was built with.
func (c *AsyncChatClient) Session() models.SessionInfo {
	return c.core.session
}

// Close stops accepting messages, discards queued ones and waits for the
// in-flight fetch, if any, until ctx is done. A Close that returned early
// because ctx expired can be retried; once one completes, later calls are
// no-ops.
func (c *AsyncChatClient) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.shutDown {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	dropped := len(c.queue)
	c.queue = nil
	c.mu.Unlock()

	if dropped > 0 {
		c.core.logger.Info("Discarded queued messages on close", zap.Int("dropped", dropped))
	}

	// No drainer can start once closed is set, so holding the slot means the
	// last fetch has finished.
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.sem.Release(1)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.shutDown {
		c.shutDown = true
		c.core.close()
	}
	return nil
}
