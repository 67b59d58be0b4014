package client

import (
	"context"
	"sync"

	"github.com/patrickwarner/adcortex-go/pkg/models"
)

// ChatClient fetches an ad synchronously for every message.
type ChatClient struct {
	core *core

	mu     sync.RWMutex
	latest *models.Ad
}

// NewChatClient validates session and builds a client.
func NewChatClient(session models.SessionInfo, opts ...Option) (*ChatClient, error) {
	c, err := newCore(session, opts)
	if err != nil {
		return nil, err
	}
	return &ChatClient{core: c}, nil
}

// Send records a message stamped now and fetches an ad for it. It returns
// nil without error when the API had no ad. On error the latest ad is left
// unchanged.
func (c *ChatClient) Send(ctx context.Context, role models.Role, content string) (*models.Ad, error) {
	msg, err := c.core.newMessage(role, content)
	if err != nil {
		return nil, err
	}

	ad, err := c.core.fetchMessage(ctx, msg)
	if err != nil {
		return nil, err
	}
	if ad != nil {
		c.mu.Lock()
		c.latest = ad
		c.mu.Unlock()
	}
	return copyAd(ad), nil
}

// LatestAd returns the last ad received, or nil.
func (c *ChatClient) LatestAd() *models.Ad {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyAd(c.latest)
}

// CreateContext formats the latest ad through the context template. It
// returns "" when no ad has been received.
func (c *ChatClient) CreateContext() (string, error) {
	return c.core.createContext(c.LatestAd())
}

// Session returns the session the client was built with.
func (c *ChatClient) Session() models.SessionInfo {
	return c.core.session
}

// Close releases idle connections.
func (c *ChatClient) Close() {
	c.core.close()
}
