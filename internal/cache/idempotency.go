package cache

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Idempotency states observed by Begin.
type State int

const (
	// StateNew means this caller won the key and should execute the request.
	StateNew State = iota
	// StateInFlight means another caller holds the key and has not finished.
	StateInFlight
	// StateCompleted means the request already ran; the cached result applies.
	StateCompleted
)

const inFlightMarker = "__in_flight__"

// CachedResult is the stored outcome replayed to duplicate callers.
type CachedResult struct {
	Status int    `json:"status"`
	Body   string `json:"body"`
}

// IdempotencyGuard provides cross-instance mutual exclusion per idempotency
// key, backed by a shared Redis. If Redis is unreachable the guard fails
// open: callers proceed without duplicate suppression rather than reject
// traffic, since the transaction's own dedupe on anchor id still applies.
type IdempotencyGuard struct {
	client      *redis.Client
	inFlightTTL time.Duration
	resultTTL   time.Duration
}

func NewIdempotencyGuard(client *redis.Client, inFlightTTL, resultTTL time.Duration) *IdempotencyGuard {
	if inFlightTTL <= 0 {
		inFlightTTL = 5 * time.Minute
	}
	if resultTTL <= 0 {
		resultTTL = 24 * time.Hour
	}
	return &IdempotencyGuard{
		client:      client,
		inFlightTTL: inFlightTTL,
		resultTTL:   resultTTL,
	}
}

func Key(key string) string {
	return "idempotency:" + key
}

// Begin claims the key. Exactly one of two racing callers observes StateNew;
// the SETNX write of the in-flight marker is the exclusivity mechanism.
func (g *IdempotencyGuard) Begin(ctx context.Context, key string) (State, *CachedResult) {
	ok, err := g.client.SetNX(ctx, Key(key), inFlightMarker, g.inFlightTTL).Result()
	if err != nil {
		log.Printf("Idempotency check failed, proceeding without protection: %v", err)
		return StateNew, nil
	}
	if ok {
		return StateNew, nil
	}

	val, err := g.client.Get(ctx, Key(key)).Result()
	if err != nil {
		// Marker expired or store hiccup between SETNX and GET; fail open.
		if err != redis.Nil {
			log.Printf("Idempotency read failed, proceeding without protection: %v", err)
		}
		return StateNew, nil
	}
	if val == inFlightMarker {
		return StateInFlight, nil
	}

	var cached CachedResult
	if err := json.Unmarshal([]byte(val), &cached); err != nil {
		log.Printf("Corrupt idempotency record for key %q: %v", key, err)
		return StateNew, nil
	}
	return StateCompleted, &cached
}

// Complete overwrites the in-flight marker with the result so replays within
// the result TTL return the cached outcome instead of re-executing.
func (g *IdempotencyGuard) Complete(ctx context.Context, key string, status int, body string) {
	data, err := json.Marshal(CachedResult{Status: status, Body: body})
	if err != nil {
		log.Printf("Failed to marshal idempotency result: %v", err)
		return
	}
	if err := g.client.Set(ctx, Key(key), data, g.resultTTL).Err(); err != nil {
		log.Printf("Failed to store idempotency result: %v", err)
	}
}

// Release deletes the marker after a failed request so a legitimate retry is
// not blocked by a stale in-flight entry.
func (g *IdempotencyGuard) Release(ctx context.Context, key string) {
	if err := g.client.Del(ctx, Key(key)).Err(); err != nil {
		log.Printf("Failed to release idempotency key: %v", err)
	}
}
