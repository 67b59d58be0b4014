package client

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/patrickwarner/adcortex-go/pkg/models"
)

// Default cadence thresholds.
const (
	DefaultBeforeFirst = 3
	DefaultBetween     = 10
)

// CadenceState is the per-conversation counter set a Cadence decides on.
type CadenceState struct {
	Observed  int  `json:"observed"`   // messages seen in total
	SinceLast int  `json:"since_last"` // messages since the last ad
	Shown     bool `json:"shown"`      // an ad has been fetched
}

// Cadence decides how often an ad is requested: not before BeforeFirst
// messages, then no more than once every Between messages.
type Cadence struct {
	BeforeFirst int
	Between     int

	mu    sync.Mutex
	state CadenceState
}

// NewCadence returns a cadence with the given thresholds. Negative values
// are treated as zero.
func NewCadence(beforeFirst, between int) *Cadence {
	return &Cadence{BeforeFirst: max(beforeFirst, 0), Between: max(between, 0)}
}

// DefaultCadence returns a cadence with DefaultBeforeFirst and DefaultBetween.
func DefaultCadence() *Cadence {
	return NewCadence(DefaultBeforeFirst, DefaultBetween)
}

// Due applies the thresholds to an externally held state.
func (c *Cadence) Due(s CadenceState) bool {
	if s.Observed < c.BeforeFirst {
		return false
	}
	if s.Shown && s.SinceLast < c.Between {
		return false
	}
	return true
}

// Observe counts one message.
func (c *Cadence) Observe() {
	c.mu.Lock()
	c.state.Observed++
	c.state.SinceLast++
	c.mu.Unlock()
}

// ShouldFetch reports whether an ad is due.
func (c *Cadence) ShouldFetch() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Due(c.state)
}

// MarkFetched records that an ad was shown.
func (c *Cadence) MarkFetched() {
	c.mu.Lock()
	c.state.SinceLast = 0
	c.state.Shown = true
	c.mu.Unlock()
}

// State returns a copy of the counters.
func (c *Cadence) State() CadenceState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CadenceStore holds cadence counters per conversation key so several
// processes can share them.
type CadenceStore interface {
	// Observe counts one message for key and returns the updated state.
	Observe(ctx context.Context, key string) (CadenceState, error)
	// Get returns the state for key; unknown keys have a zero state.
	Get(ctx context.Context, key string) (CadenceState, error)
	// MarkFetched resets the since-last counter for key and marks an ad shown.
	MarkFetched(ctx context.Context, key string) error
	// Reset forgets key.
	Reset(ctx context.Context, key string) error
}

// MemoryCadenceStore is an in-process CadenceStore.
type MemoryCadenceStore struct {
	mu     sync.Mutex
	states map[string]CadenceState
}

// NewMemoryCadenceStore creates an empty store.
func NewMemoryCadenceStore() *MemoryCadenceStore {
	return &MemoryCadenceStore{states: make(map[string]CadenceState)}
}

func (m *MemoryCadenceStore) Observe(_ context.Context, key string) (CadenceState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.states[key]
	s.Observed++
	s.SinceLast++
	m.states[key] = s
	return s, nil
}

func (m *MemoryCadenceStore) Get(_ context.Context, key string) (CadenceState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[key], nil
}

func (m *MemoryCadenceStore) MarkFetched(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.states[key]
	s.SinceLast = 0
	s.Shown = true
	m.states[key] = s
	return nil
}

func (m *MemoryCadenceStore) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, key)
	return nil
}

// CadenceClient accumulates the conversation and sends the whole history to
// LegacyMatchPath, but only when its Cadence says an ad is due.
type CadenceClient struct {
	core    *core
	cadence *Cadence
	store   CadenceStore

	mu      sync.Mutex
	history []models.Message
	latest  *models.Ad
}

// NewCadenceClient validates session and builds a client. Counters live in
// memory unless WithCadenceStore is given.
func NewCadenceClient(session models.SessionInfo, opts ...Option) (*CadenceClient, error) {
	c, err := newCore(session, opts)
	if err != nil {
		return nil, err
	}
	cadence := c.settings.cadence
	if cadence == nil {
		cadence = DefaultCadence()
	}
	store := c.settings.cadenceStore
	if store == nil {
		store = NewMemoryCadenceStore()
	}
	return &CadenceClient{core: c, cadence: cadence, store: store}, nil
}

// AddMessage appends a message stamped now to the history and counts it.
func (c *CadenceClient) AddMessage(ctx context.Context, role models.Role, content string) error {
	msg, err := c.core.newMessage(role, content)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.history = append(c.history, msg)
	c.mu.Unlock()

	if _, err := c.store.Observe(ctx, c.core.session.SessionID); err != nil {
		return err
	}
	return nil
}

// ShouldShowAd reports whether the cadence allows a fetch now.
func (c *CadenceClient) ShouldShowAd(ctx context.Context) (bool, error) {
	s, err := c.store.Get(ctx, c.core.session.SessionID)
	if err != nil {
		return false, err
	}
	return c.cadence.Due(s), nil
}

// FetchAd sends the accumulated history and returns the ad. The cadence
// advances only when an ad comes back.
func (c *CadenceClient) FetchAd(ctx context.Context) (*models.Ad, error) {
	history := c.History()
	ad, err := c.core.fetchHistory(ctx, history)
	if err != nil {
		return nil, err
	}
	if ad == nil {
		return nil, nil
	}
	if err := c.store.MarkFetched(ctx, c.core.session.SessionID); err != nil {
		c.core.logger.Warn("Failed to record ad fetch in cadence store", zap.Error(err))
	}
	c.mu.Lock()
	c.latest = ad
	c.mu.Unlock()
	return copyAd(ad), nil
}

// MaybeFetchAd fetches only when an ad is due; otherwise it returns nil and
// counts a cadence skip.
func (c *CadenceClient) MaybeFetchAd(ctx context.Context) (*models.Ad, error) {
	due, err := c.ShouldShowAd(ctx)
	if err != nil {
		return nil, err
	}
	if !due {
		c.core.metrics.IncrementCadenceSkips()
		return nil, nil
	}
	return c.FetchAd(ctx)
}

// History returns a copy of the accumulated messages.
func (c *CadenceClient) History() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Message, len(c.history))
	copy(out, c.history)
	return out
}

// LatestAd returns the last ad fetched, or nil.
func (c *CadenceClient) LatestAd() *models.Ad {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyAd(c.latest)
}

// CreateContext formats the latest ad through the context template.
func (c *CadenceClient) CreateContext() (string, error) {
	return c.core.createContext(c.LatestAd())
}

// Close releases idle connections.
func (c *CadenceClient) Close() {
	c.core.close()
}
