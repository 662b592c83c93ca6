package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"autovideo/internal/logging"
	"autovideo/internal/services"
)

// SchemaVersion identifies the persisted document layout.
const SchemaVersion = 1

type document struct {
	SchemaVersion int                `json:"schema_version"`
	Namespace     string             `json:"namespace"`
	SavedAt       time.Time          `json:"saved_at"`
	Scopes        map[string][]Entry `json:"scopes"`
}

func (c *Cache) storeKey() string {
	return "cache/" + c.namespace
}

// Flush writes the whole cache as one document. Errors are logged and
// returned, but the in-memory state is left untouched either way.
func (c *Cache) Flush(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	c.mu.Lock()
	doc := document{
		SchemaVersion: SchemaVersion,
		Namespace:     c.namespace,
		SavedAt:       c.now().UTC(),
		Scopes:        c.snapshotLocked(),
	}
	c.mu.Unlock()

	err := c.writeDocument(ctx, doc)

	c.mu.Lock()
	if err != nil {
		c.lastError = err.Error()
	} else {
		c.lastFlush = doc.SavedAt
		c.lastError = ""
	}
	c.mu.Unlock()

	if err != nil {
		logging.WarnWithContext(c.logger, "cache flush failed; in-memory cache unchanged", "cache_flush_failed",
			logging.String("namespace", c.namespace),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check storage backend availability"),
			logging.String(logging.FieldImpact, "cached responses since the last flush are lost on restart"),
		)
		return err
	}
	c.logger.Debug("cache flushed",
		logging.String(logging.FieldEventType, "cache_flushed"),
		logging.String("namespace", c.namespace))
	return nil
}

func (c *Cache) writeDocument(ctx context.Context, doc document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode cache document: %w", err)
	}
	if err := c.store.Put(ctx, c.storeKey(), data); err != nil {
		return fmt.Errorf("persist cache document: %w", err)
	}
	return nil
}

// Load replaces the in-memory cache with the persisted document and sweeps
// expired entries. A missing, unreadable or version-mismatched document leaves
// the cache empty.
func (c *Cache) Load(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	data, err := c.store.Get(ctx, c.storeKey())
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("read cache document: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		logging.WarnWithContext(c.logger, "cache document unreadable; starting empty", "cache_load_discarded",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the next flush overwrites the document"),
		)
		return nil
	}
	if doc.SchemaVersion != SchemaVersion {
		logging.WarnWithContext(c.logger, "cache document schema mismatch; starting empty", "cache_load_discarded",
			logging.Int("found_version", doc.SchemaVersion),
			logging.Int("expected_version", SchemaVersion),
			logging.String(logging.FieldErrorHint, "the next flush overwrites the document"),
		)
		return nil
	}

	scopes := make(map[string]map[string]Entry, len(doc.Scopes))
	for scope, list := range doc.Scopes {
		entries := make(map[string]Entry, len(list))
		for _, entry := range list {
			if entry.Fingerprint == "" {
				continue
			}
			entries[entry.Fingerprint] = entry
		}
		scopes[scope] = entries
	}

	c.mu.Lock()
	c.scopes = scopes
	removed := c.sweepLocked(c.now())
	loaded := 0
	for _, entries := range c.scopes {
		loaded += len(entries)
	}
	c.mu.Unlock()

	c.logger.Info("cache loaded",
		logging.String(logging.FieldEventType, "cache_loaded"),
		logging.String("namespace", c.namespace),
		logging.Int("entries", loaded),
		logging.Int("expired", removed))
	return nil
}

// RunFlusher flushes every interval until ctx is done, then flushes once more.
func (c *Cache) RunFlusher(ctx context.Context, interval time.Duration) {
	if c.store == nil {
		return
	}
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
	loop:
		for {
			select {
			case <-ctx.Done():
				break loop
			case <-ticker.C:
				c.Sweep()
				_ = c.Flush(ctx)
			}
		}
	} else {
		<-ctx.Done()
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	_ = c.Flush(shutdownCtx)
}
