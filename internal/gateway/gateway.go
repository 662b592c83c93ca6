package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"autovideo/internal/cache"
	"autovideo/internal/config"
	"autovideo/internal/keypool"
	"autovideo/internal/logging"
	"autovideo/internal/providers"
	"autovideo/internal/providers/gemini"
	"autovideo/internal/providers/openai"
	"autovideo/internal/ratelimit"
	"autovideo/internal/services"
)

// Call describes one logical generative request.
type Call struct {
	Request providers.Request
	// Scope selects the cache scope; empty uses the shared scope.
	Scope string
	Hint  cache.Hint
	// Classifier overrides providers.Classify for this call.
	Classifier providers.Classifier
	// NoCache skips both cache lookup and population.
	NoCache bool
}

// Options wires a Gateway.
type Options struct {
	Providers        []providers.Provider
	Order            map[providers.Operation][]string
	Keys             *keypool.Registry
	Limits           *ratelimit.Registry
	Cache            *cache.Cache
	CallTimeout      time.Duration
	TransientRetries int
	TransientBackoff time.Duration
	// MaxThrottleWait bounds how long the gateway sleeps for a throttle
	// before deferring the provider instead. Defaults to CallTimeout.
	MaxThrottleWait time.Duration
	Logger          *slog.Logger
	Now             func() time.Time
	Sleep           func(context.Context, time.Duration) error
}

// Gateway is the provider call wrapper.
type Gateway struct {
	providers        map[string]providers.Provider
	order            map[providers.Operation][]string
	keys             *keypool.Registry
	limits           *ratelimit.Registry
	cache            *cache.Cache
	callTimeout      time.Duration
	transientRetries int
	transientBackoff time.Duration
	maxThrottleWait  time.Duration
	logger           *slog.Logger
	now              func() time.Time
	sleep            func(context.Context, time.Duration) error
}

// New builds a gateway from explicit collaborators.
func New(opts Options) *Gateway {
	g := &Gateway{
		providers:        make(map[string]providers.Provider, len(opts.Providers)),
		order:            opts.Order,
		keys:             opts.Keys,
		limits:           opts.Limits,
		cache:            opts.Cache,
		callTimeout:      opts.CallTimeout,
		transientRetries: opts.TransientRetries,
		transientBackoff: opts.TransientBackoff,
		maxThrottleWait:  opts.MaxThrottleWait,
		logger:           opts.Logger,
		now:              opts.Now,
		sleep:            opts.Sleep,
	}
	for _, p := range opts.Providers {
		g.providers[p.Kind()] = p
	}
	if g.order == nil {
		g.order = make(map[providers.Operation][]string)
	}
	if g.callTimeout <= 0 {
		g.callTimeout = 2 * time.Minute
	}
	if g.maxThrottleWait <= 0 {
		g.maxThrottleWait = g.callTimeout
	}
	if g.transientRetries < 0 {
		g.transientRetries = 0
	}
	if g.logger == nil {
		g.logger = logging.NewNop()
	}
	g.logger = logging.NewComponentLogger(g.logger, "gateway")
	if g.now == nil {
		g.now = time.Now
	}
	if g.sleep == nil {
		g.sleep = ratelimit.SleepWithContext
	}
	return g
}

// NewFromConfig constructs the enabled provider adapters and the wrapper.
func NewFromConfig(cfg *config.Config, keys *keypool.Registry, limits *ratelimit.Registry, responses *cache.Cache, logger *slog.Logger) *Gateway {
	var adapters []providers.Provider
	if cfg.Providers.Gemini.Enabled {
		adapters = append(adapters, gemini.New(gemini.Config{Model: cfg.Providers.Gemini.TextModel}))
	}
	if p := cfg.Providers.OpenAI; p.Enabled {
		adapters = append(adapters, openai.New(openai.Config{
			BaseURL:     p.BaseURL,
			TextModel:   p.TextModel,
			SpeechModel: p.SpeechModel,
			ImageModel:  p.ImageModel,
			Voice:       p.Voice,
		}))
	}
	if !cfg.Cache.Enabled {
		responses = nil
	}
	return New(Options{
		Providers: adapters,
		Order: map[providers.Operation][]string{
			providers.OpText:   cfg.Providers.TextOrder,
			providers.OpSpeech: cfg.Providers.SpeechOrder,
			providers.OpImage:  cfg.Providers.ImageOrder,
		},
		Keys:             keys,
		Limits:           limits,
		Cache:            responses,
		CallTimeout:      cfg.CallTimeout(),
		TransientRetries: cfg.Providers.TransientRetries,
		TransientBackoff: time.Duration(cfg.Providers.TransientBackoffMS) * time.Millisecond,
		Logger:           logger,
	})
}

// Order returns the provider fallback order for op.
func (g *Gateway) Order(op providers.Operation) []string {
	return append([]string(nil), g.order[op]...)
}

// Generate runs call through cache, ceilings, keys and providers.
func (g *Gateway) Generate(ctx context.Context, call Call) (providers.Response, error) {
	op := call.Request.Operation
	if _, ok := providers.ParseOperation(string(op)); !ok {
		return providers.Response{}, services.Wrap(services.ErrValidation, "gateway", "generate", fmt.Sprintf("unknown operation %q", op), nil)
	}
	logger := logging.WithContext(ctx, g.logger).With(logging.String("operation", string(op)))

	fingerprint := ""
	if g.cache != nil && !call.NoCache {
		fingerprint = cache.Fingerprint(string(op), call.Request.CacheParams())
		if payload, ok := g.cache.Get(call.Scope, fingerprint); ok {
			var resp providers.Response
			if err := json.Unmarshal(payload, &resp); err == nil {
				return resp, nil
			}
			g.cache.Delete(call.Scope, fingerprint)
		}
	}

	classify := call.Classifier
	if classify == nil {
		classify = providers.Classify
	}

	callErr := &CallError{Operation: op}
	order := g.order[op]
	if len(order) == 0 {
		return providers.Response{}, services.Wrap(services.ErrConfiguration, "gateway", "generate", fmt.Sprintf("no providers configured for %s", op), nil)
	}
	for idx, name := range order {
		if idx > 0 {
			logger.Info("falling back to next provider",
				logging.String(logging.FieldEventType, "provider_fallback"),
				logging.String("from", order[idx-1]),
				logging.String("to", name))
		}
		resp, done, err := g.tryProvider(ctx, logger, name, call, classify, callErr)
		if done {
			if err != nil {
				return providers.Response{}, err
			}
			if fingerprint != "" {
				if payload, mErr := json.Marshal(resp); mErr == nil {
					g.cache.Put(call.Scope, fingerprint, payload, call.Hint)
				}
			}
			return resp, nil
		}
	}

	if !callErr.RetryAt.IsZero() && !callErr.QuotaOnly() {
		callErr.RetryAt = time.Time{}
	}
	logging.WarnWithContext(logger, "all providers exhausted", "providers_exhausted",
		logging.Int("attempts", len(callErr.Attempts)),
		logging.Bool("quota_only", callErr.QuotaOnly()),
		logging.String(logging.FieldErrorHint, "add credentials, raise ceilings, or retry later"),
	)
	return providers.Response{}, callErr
}

// tryProvider works through one provider's keys. done reports that the call
// finished (successfully or with a non-rotating error); otherwise the caller
// falls through to the next provider.
func (g *Gateway) tryProvider(ctx context.Context, logger *slog.Logger, name string, call Call, classify providers.Classifier, callErr *CallError) (providers.Response, bool, error) {
	op := call.Request.Operation
	provider, ok := g.providers[name]
	if !ok || !provider.Supports(op) {
		callErr.Attempts = append(callErr.Attempts, Attempt{Provider: name, Outcome: OutcomeUnsupported, Message: "provider disabled or unsupported for operation"})
		return providers.Response{}, false, nil
	}
	pool, ok := g.keys.Pool(name)
	if !ok {
		callErr.Attempts = append(callErr.Attempts, Attempt{Provider: name, Outcome: OutcomeNoKeys, Message: "no key pool"})
		return providers.Response{}, false, nil
	}
	limiter, hasLimiter := g.limits.Limiter(name)
	logger = logger.With(logging.String(logging.FieldProvider, name))
	ctx = services.WithProvider(ctx, name)

	budget := pool.Available()
	if budget == 0 {
		callErr.Attempts = append(callErr.Attempts, Attempt{Provider: name, Outcome: OutcomeNoKeys, Message: "all keys exhausted"})
		return providers.Response{}, false, nil
	}
	tried := make(map[string]struct{}, budget)
	for len(tried) < budget {
		if hasLimiter {
			if decision := limiter.Window.Check(); !decision.Allowed {
				g.deferProvider(logger, callErr, name, decision.Reason, decision.RetryAfter)
				return providers.Response{}, false, nil
			}
		}
		key, ok := pool.NextKeyExcluding(tried)
		if !ok {
			break
		}
		tried[key] = struct{}{}
		masked := keypool.Mask(key)

		if hasLimiter {
			if wait := limiter.Throttle.Wait(); wait > 0 {
				if wait > g.maxThrottleWait {
					g.deferProvider(logger, callErr, name, "throttled", wait)
					return providers.Response{}, false, nil
				}
				logger.Debug("waiting for throttle",
					logging.String(logging.FieldEventType, "throttle_wait"),
					logging.Duration("wait", wait))
				if err := g.sleep(ctx, wait); err != nil {
					return providers.Response{}, true, err
				}
			}
		}

		resp, class, err := g.callWithTransientRetry(ctx, logger, provider, limiter, key, call.Request, classify)
		if err == nil {
			if hasLimiter {
				limiter.Throttle.ResetOnSuccess()
				limiter.Window.Increment()
			}
			pool.MarkUsed(key)
			if resp.Provider == "" {
				resp.Provider = name
			}
			return resp, true, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return providers.Response{}, true, ctxErr
		}

		attempt := Attempt{Provider: name, Key: masked, Outcome: string(class), Message: err.Error()}
		switch class {
		case providers.ClassAuth:
			// Rejected keys are skipped for this call only and stay in the pool.
			callErr.Attempts = append(callErr.Attempts, attempt)
			logging.WarnWithContext(logger, "api key rejected; trying next key", "key_rejected",
				logging.String("key", masked),
				logging.String(logging.FieldErrorHint, "check the provider api_keys"),
			)
		case providers.ClassQuota:
			pool.MarkExhausted(key)
			callErr.Attempts = append(callErr.Attempts, attempt)
			logger.Info("rotating api key",
				logging.String(logging.FieldEventType, "key_rotated"),
				logging.String("key", masked),
				logging.String("reason", string(class)))
		case providers.ClassRateLimited:
			var delay time.Duration
			if hasLimiter {
				delay = limiter.Throttle.Handle429()
			}
			attempt.RetryAfter = delay
			callErr.Attempts = append(callErr.Attempts, attempt)
			logging.WarnWithContext(logger, "provider throttled; escalating delay", "throttle_escalated",
				logging.String("key", masked),
				logging.Duration("delay", delay),
				logging.String(logging.FieldErrorHint, "lower max_per_minute or add keys"),
			)
		default:
			callErr.Attempts = append(callErr.Attempts, attempt)
			callErr.cause = err
			callErr.RetryAt = time.Time{}
			return providers.Response{}, true, callErr
		}
	}
	return providers.Response{}, false, nil
}

func (g *Gateway) deferProvider(logger *slog.Logger, callErr *CallError, name, reason string, wait time.Duration) {
	retryAt := g.now().Add(wait)
	if callErr.RetryAt.IsZero() || retryAt.Before(callErr.RetryAt) {
		callErr.RetryAt = retryAt
	}
	callErr.Attempts = append(callErr.Attempts, Attempt{Provider: name, Outcome: OutcomeDeferred, Message: reason, RetryAfter: wait})
	logger.Info("provider deferred",
		logging.String(logging.FieldEventType, "provider_deferred"),
		logging.String("reason", reason),
		logging.Duration("retry_after", wait))
}

// callWithTransientRetry performs the call, retrying transient failures on the
// same key. It returns the class of the final error.
func (g *Gateway) callWithTransientRetry(ctx context.Context, logger *slog.Logger, provider providers.Provider, limiter *ratelimit.Limiter, key string, req providers.Request, classify providers.Classifier) (providers.Response, providers.Class, error) {
	for attempt := 0; ; attempt++ {
		if limiter != nil {
			limiter.Throttle.MarkCall()
		}
		callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
		resp, err := provider.Generate(callCtx, key, req)
		timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
		cancel()
		if err == nil {
			return resp, providers.ClassNone, nil
		}
		if ctx.Err() != nil {
			return providers.Response{}, providers.ClassFatal, ctx.Err()
		}
		if timedOut {
			err = services.Wrap(services.ErrTimeout, provider.Kind(), "generate", fmt.Sprintf("no response within %s", g.callTimeout), err)
		}
		class := classify(err)
		if class == providers.ClassNone {
			class = providers.ClassFatal
		}
		if class != providers.ClassTransient || attempt >= g.transientRetries {
			return providers.Response{}, class, err
		}
		backoff := ratelimit.Backoff(g.transientBackoff, g.callTimeout, attempt+1)
		logger.Warn("transient provider failure, retrying",
			logging.Duration("backoff", backoff),
			logging.Int("attempt", attempt+1),
			logging.Int("max_attempts", g.transientRetries),
			logging.Error(err),
			logging.String(logging.FieldEventType, "provider_transient_retry"),
			logging.String(logging.FieldErrorHint, "check network connectivity or provider status"),
		)
		if err := g.sleep(ctx, backoff); err != nil {
			return providers.Response{}, providers.ClassFatal, err
		}
	}
}
