package keypool

import (
	"log/slog"
	"sync"
	"time"

	"autovideo/internal/logging"
)

const dateLayout = "2006-01-02"

// Option customizes a Pool.
type Option func(*Pool)

// WithClock injects the time source used for daily resets.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) {
		if now != nil {
			p.now = now
		}
	}
}

// WithLocation sets the zone whose calendar date drives daily resets.
func WithLocation(loc *time.Location) Option {
	return func(p *Pool) {
		if loc != nil {
			p.loc = loc
		}
	}
}

// WithLogger attaches a logger for rotation and exhaustion events.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Pool tracks usage and exhaustion for one provider's credentials.
type Pool struct {
	provider string
	keys     []string
	now      func() time.Time
	loc      *time.Location
	logger   *slog.Logger

	mu        sync.Mutex
	usage     map[string]int
	exhausted map[string]bool
	resetDate string
}

// New builds a pool over keys in priority order. Duplicate and empty keys are dropped.
func New(provider string, keys []string, opts ...Option) *Pool {
	p := &Pool{
		provider:  provider,
		now:       time.Now,
		loc:       time.UTC,
		logger:    logging.NewNop(),
		usage:     make(map[string]int),
		exhausted: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logging.NewComponentLogger(p.logger, "keypool").With(logging.String(logging.FieldProvider, provider))
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		p.keys = append(p.keys, key)
	}
	p.resetDate = p.today()
	return p
}

// Provider returns the provider name the pool serves.
func (p *Pool) Provider() string { return p.provider }

// Size returns the number of configured keys.
func (p *Pool) Size() int { return len(p.keys) }

func (p *Pool) today() string {
	return p.now().In(p.loc).Format(dateLayout)
}

// maybeResetLocked clears usage and exhaustion when the calendar date changed.
func (p *Pool) maybeResetLocked() {
	today := p.today()
	if today == p.resetDate {
		return
	}
	previous := p.resetDate
	p.resetDate = today
	p.usage = make(map[string]int)
	p.exhausted = make(map[string]bool)
	p.logger.Info("daily key reset",
		logging.String(logging.FieldEventType, "key_pool_reset"),
		logging.String("previous_date", previous),
		logging.String("date", today),
		logging.Int("keys", len(p.keys)))
}

// NextKey returns the least-used non-exhausted key.
func (p *Pool) NextKey() (string, bool) {
	return p.NextKeyExcluding(nil)
}

// NextKeyExcluding is NextKey restricted to keys not present in tried.
func (p *Pool) NextKeyExcluding(tried map[string]struct{}) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.maybeResetLocked()

	best := ""
	bestUsage := 0
	for _, key := range p.keys {
		if p.exhausted[key] {
			continue
		}
		if _, skip := tried[key]; skip {
			continue
		}
		if best == "" || p.usage[key] < bestUsage {
			best = key
			bestUsage = p.usage[key]
		}
	}
	return best, best != ""
}

// MarkUsed records a successful call made with key.
func (p *Pool) MarkUsed(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.maybeResetLocked()
	if !p.knownLocked(key) {
		return
	}
	p.usage[key]++
}

// MarkExhausted removes key from selection until the next daily reset.
func (p *Pool) MarkExhausted(key string) {
	p.mu.Lock()
	p.maybeResetLocked()
	if !p.knownLocked(key) || p.exhausted[key] {
		p.mu.Unlock()
		return
	}
	p.exhausted[key] = true
	remaining := p.availableLocked()
	p.mu.Unlock()

	logging.WarnWithContext(p.logger, "api key exhausted; rotating", "key_exhausted",
		logging.String("key", Mask(key)),
		logging.Int("remaining_keys", remaining),
		logging.String(logging.FieldErrorHint, "add keys or wait for the daily reset"),
	)
}

// Available returns the number of keys currently eligible for selection.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.maybeResetLocked()
	return p.availableLocked()
}

func (p *Pool) availableLocked() int {
	count := 0
	for _, key := range p.keys {
		if !p.exhausted[key] {
			count++
		}
	}
	return count
}

func (p *Pool) knownLocked(key string) bool {
	for _, candidate := range p.keys {
		if candidate == key {
			return true
		}
	}
	return false
}

// KeyState describes one credential with its secret masked.
type KeyState struct {
	Key       string `json:"key"`
	Usage     int    `json:"usage"`
	Exhausted bool   `json:"exhausted"`
}

// Snapshot is a diagnostic view of a pool.
type Snapshot struct {
	Provider  string     `json:"provider"`
	ResetDate string     `json:"reset_date"`
	Available int        `json:"available"`
	Keys      []KeyState `json:"keys"`
}

// Snapshot returns the pool state with masked keys.
func (p *Pool) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.maybeResetLocked()
	snap := Snapshot{
		Provider:  p.provider,
		ResetDate: p.resetDate,
		Available: p.availableLocked(),
		Keys:      make([]KeyState, 0, len(p.keys)),
	}
	for _, key := range p.keys {
		snap.Keys = append(snap.Keys, KeyState{Key: Mask(key), Usage: p.usage[key], Exhausted: p.exhausted[key]})
	}
	return snap
}

// Mask hides all but the last four characters of a credential.
func Mask(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}
