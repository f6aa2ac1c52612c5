/**
 * @description
 * Admission control over a shared counter store. Counters live in the external
 * store (not in process memory) so limits hold across service instances.
 *
 * @notes
 * - Every store failure is treated as "allowed" / "not banned". The failure is
 *   logged and handed to the FailureRecorder but never returned.
 * - Bans use their own key namespace so they outlive the rolling counters.
 */

package admission

import (
	"context"
	"log"
	"math"
	"strings"
	"time"
)

// Store is the counter store consumed by the controller.
type Store interface {
	// Increment atomically adds one to key and returns the new count.
	Increment(ctx context.Context, key string) (int64, error)
	// TTL returns the remaining lifetime of key, or a negative duration when the
	// key is missing or has no expiry.
	TTL(ctx context.Context, key string) (time.Duration, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
	// Count returns the current value of a counter, zero when missing.
	Count(ctx context.Context, key string) (int64, error)
}

// WindowIncrementer is implemented by stores that can increment and assign the
// window in one round trip. The controller prefers it when available.
type WindowIncrementer interface {
	IncrementWithin(ctx context.Context, key string, window time.Duration) (int64, error)
}

// FailureRecorder observes counter store failures.
type FailureRecorder interface {
	RecordStoreFailure(operation string)
}

// Controller implements allow/remaining/resetSeconds/ban/isBanned over a Store.
// A Controller with a nil store admits everything.
type Controller struct {
	store    Store
	prefix   string
	recorder FailureRecorder
}

func NewController(store Store, prefix string, recorder FailureRecorder) *Controller {
	trimmedPrefix := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmedPrefix == "" {
		trimmedPrefix = "pix:admission"
	}
	return &Controller{store: store, prefix: trimmedPrefix, recorder: recorder}
}

func (c *Controller) counterKey(scope string) string {
	return c.prefix + ":count:" + scope
}

func (c *Controller) banKey(scope string) string {
	return c.prefix + ":ban:" + scope
}

func (c *Controller) enabled() bool {
	return c != nil && c.store != nil
}

func (c *Controller) failed(operation, scope string, err error) {
	log.Printf("level=warn component=admission msg=\"counter store unavailable, failing open\" op=%s scope=%s err=%v", operation, scope, err)
	if c.recorder != nil {
		c.recorder.RecordStoreFailure(operation)
	}
}

// Allow counts one hit against scope and reports whether the count is still
// within limit for the current window.
func (c *Controller) Allow(ctx context.Context, scope string, limit int, window time.Duration) bool {
	if !c.enabled() || limit <= 0 || window <= 0 {
		return true
	}
	key := c.counterKey(scope)

	if windowed, ok := c.store.(WindowIncrementer); ok {
		count, err := windowed.IncrementWithin(ctx, key, window)
		if err != nil {
			c.failed("increment", scope, err)
			return true
		}
		return count <= int64(limit)
	}

	count, err := c.store.Increment(ctx, key)
	if err != nil {
		c.failed("increment", scope, err)
		return true
	}

	needsWindow := count == 1
	if !needsWindow {
		ttl, err := c.store.TTL(ctx, key)
		if err != nil {
			c.failed("ttl", scope, err)
		} else if ttl < 0 {
			needsWindow = true
		}
	}
	if needsWindow {
		if err := c.store.Expire(ctx, key, window); err != nil {
			c.failed("expire", scope, err)
		}
	}
	return count <= int64(limit)
}

// Remaining returns how many more hits scope may take before Allow denies.
func (c *Controller) Remaining(ctx context.Context, scope string, limit int) int {
	if !c.enabled() || limit <= 0 {
		return limit
	}
	count, err := c.store.Count(ctx, c.counterKey(scope))
	if err != nil {
		c.failed("count", scope, err)
		return limit
	}
	remaining := int64(limit) - count
	if remaining < 0 {
		return 0
	}
	return int(remaining)
}

// ResetSeconds returns the whole seconds until the scope's window resets, or 0.
func (c *Controller) ResetSeconds(ctx context.Context, scope string) int {
	if !c.enabled() {
		return 0
	}
	ttl, err := c.store.TTL(ctx, c.counterKey(scope))
	if err != nil {
		c.failed("ttl", scope, err)
		return 0
	}
	if ttl <= 0 {
		return 0
	}
	return int(math.Ceil(ttl.Seconds()))
}

// Ban blocks scope for d.
func (c *Controller) Ban(ctx context.Context, scope string, d time.Duration) {
	if !c.enabled() || d <= 0 {
		return
	}
	if err := c.store.Set(ctx, c.banKey(scope), "1", d); err != nil {
		c.failed("ban", scope, err)
		return
	}
	log.Printf("level=warn component=admission msg=\"scope banned\" scope=%s duration=%s", scope, d)
}

func (c *Controller) IsBanned(ctx context.Context, scope string) bool {
	if !c.enabled() {
		return false
	}
	banned, err := c.store.Exists(ctx, c.banKey(scope))
	if err != nil {
		c.failed("is_banned", scope, err)
		return false
	}
	return banned
}

// BanSeconds returns the whole seconds left on a ban, or 0 when scope is not banned.
func (c *Controller) BanSeconds(ctx context.Context, scope string) int {
	if !c.enabled() {
		return 0
	}
	ttl, err := c.store.TTL(ctx, c.banKey(scope))
	if err != nil || ttl <= 0 {
		return 0
	}
	return int(math.Ceil(ttl.Seconds()))
}
