// Package redis implements the job queue on Redis Streams with consumer
// groups, a sorted set for delayed jobs, and SETNX idempotency claims.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/finbooks/resilience/queue"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	streamPrefix    = "jobs:"
	scheduledPrefix = "jobs:scheduled:"
	claimPrefix     = "jobs:key:"
	deadStream      = "jobs:dead"
	groupName       = "workers"

	// claimTTL is the dedup horizon for idempotency keys. A key enqueued
	// twice within this window is dropped the second time.
	claimTTL = 24 * time.Hour

	consumeBlock = 1 * time.Second
	consumeCount = 10

	// reclaimMinIdle is how long a consumed-but-unacked entry may sit in a
	// consumer's pending list before another consumer takes it over. Keeps
	// at-least-once delivery across worker crashes.
	reclaimMinIdle = 30 * time.Second
)

// Queue is the Redis Streams implementation of queue.Queue.
type Queue struct {
	client   *redis.Client
	consumer string
	logger   zerolog.Logger
}

var _ queue.Queue = (*Queue)(nil)

// NewQueue creates a queue on the given client. Each instance gets its own
// consumer name within the shared group.
func NewQueue(client *redis.Client, logger zerolog.Logger) *Queue {
	return &Queue{
		client:   client,
		consumer: "worker-" + uuid.NewString(),
		logger:   logger.With().Str("component", "queue").Logger(),
	}
}

func streamKey(name string) string    { return streamPrefix + name }
func scheduledKey(name string) string { return scheduledPrefix + name }

// Enqueue schedules a job. Jobs with an already-claimed idempotency key are
// dropped silently; delayed jobs land on the scheduled set until due.
func (q *Queue) Enqueue(ctx context.Context, job queue.Job) error {
	if job.Name == "" {
		return fmt.Errorf("job name is required")
	}

	if job.Key != "" {
		claimed, err := q.client.SetNX(ctx, claimPrefix+job.Key, "1", claimTTL).Result()
		if err != nil {
			return fmt.Errorf("claiming job key %s: %w", job.Key, err)
		}
		if !claimed {
			q.logger.Debug().Str("job", job.Name).Str("key", job.Key).Msg("duplicate job key, skipping")
			return nil
		}
	}

	if !job.RunAt.IsZero() && job.RunAt.After(time.Now()) {
		raw, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("marshaling scheduled job: %w", err)
		}
		err = q.client.ZAdd(ctx, scheduledKey(job.Name), redis.Z{
			Score:  float64(job.RunAt.Unix()),
			Member: string(raw),
		}).Err()
		if err != nil {
			return fmt.Errorf("scheduling job %s: %w", job.Name, err)
		}
		return nil
	}

	return q.append(ctx, job)
}

func (q *Queue) append(ctx context.Context, job queue.Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling job: %w", err)
	}

	err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(job.Name),
		Values: map[string]interface{}{"job": string(raw)},
	}).Err()
	if err != nil {
		return fmt.Errorf("adding job %s to stream: %w", job.Name, err)
	}
	return nil
}

// Consume promotes due scheduled jobs, reclaims stale pending entries from
// crashed consumers, then reads the next batch from the streams for the
// given names. Blocks up to one second when nothing is ready and returns an
// empty batch.
func (q *Queue) Consume(ctx context.Context, names []string) ([]queue.Job, error) {
	var jobs []queue.Job
	streams := make([]string, 0, len(names)*2)
	for _, name := range names {
		if err := q.promoteDue(ctx, name); err != nil {
			q.logger.Warn().Err(err).Str("job", name).Msg("promoting scheduled jobs")
		}
		// Ignore BUSYGROUP when the group already exists
		q.client.XGroupCreateMkStream(ctx, streamKey(name), groupName, "0")

		for _, msg := range q.reclaimStale(ctx, streamKey(name)) {
			if job, ok := q.decode(ctx, streamKey(name), msg); ok {
				jobs = append(jobs, job)
			}
		}
		streams = append(streams, streamKey(name))
	}
	if len(jobs) > 0 {
		return jobs, nil
	}
	for range names {
		streams = append(streams, ">")
	}

	res, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    groupName,
		Consumer: q.consumer,
		Streams:  streams,
		Count:    consumeCount,
		Block:    consumeBlock,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading job streams: %w", err)
	}

	for _, stream := range res {
		for _, msg := range stream.Messages {
			if job, ok := q.decode(ctx, stream.Stream, msg); ok {
				jobs = append(jobs, job)
			}
		}
	}
	return jobs, nil
}

// decode turns a stream entry into a job. Undecodable entries are acked and
// removed so they cannot wedge the stream.
func (q *Queue) decode(ctx context.Context, stream string, msg redis.XMessage) (queue.Job, bool) {
	raw, ok := msg.Values["job"].(string)
	if !ok {
		q.logger.Error().Str("stream", stream).Str("id", msg.ID).Msg("stream entry without job field, acking")
		q.client.XAck(ctx, stream, groupName, msg.ID)
		q.client.XDel(ctx, stream, msg.ID)
		return queue.Job{}, false
	}

	var job queue.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		q.logger.Error().Err(err).Str("stream", stream).Str("id", msg.ID).Msg("undecodable job, acking")
		q.client.XAck(ctx, stream, groupName, msg.ID)
		q.client.XDel(ctx, stream, msg.ID)
		return queue.Job{}, false
	}

	job.Receipt = stream + "|" + msg.ID
	return job, true
}

/* reclaimStale takes over entries that have sat unacked in any consumer's
 * pending list longer than reclaimMinIdle
 * This is what makes a consumed-but-never-acked job come back: without it,
 * a crashed worker would strand its batch in a dead consumer's PEL forever
 */
func (q *Queue) reclaimStale(ctx context.Context, stream string) []redis.XMessage {
	msgs, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    groupName,
		Consumer: q.consumer,
		MinIdle:  reclaimMinIdle,
		Start:    "0-0",
		Count:    consumeCount,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		q.logger.Warn().Err(err).Str("stream", stream).Msg("reclaiming stale jobs")
		return nil
	}
	if len(msgs) > 0 {
		q.logger.Info().Str("stream", stream).Int("jobs", len(msgs)).Msg("reclaimed stale jobs")
	}
	return msgs
}

/* promoteDue moves scheduled jobs whose time has come onto the live stream
 * ZRem acts as the claim: only the worker that removed the member appends
 * it, so concurrent workers never double-promote
 */
func (q *Queue) promoteDue(ctx context.Context, name string) error {
	now := strconv.FormatInt(time.Now().Unix(), 10)
	members, err := q.client.ZRangeByScore(ctx, scheduledKey(name), &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		return fmt.Errorf("listing due jobs: %w", err)
	}

	for _, member := range members {
		removed, err := q.client.ZRem(ctx, scheduledKey(name), member).Result()
		if err != nil {
			return fmt.Errorf("removing due job: %w", err)
		}
		if removed == 0 {
			continue
		}

		var job queue.Job
		if err := json.Unmarshal([]byte(member), &job); err != nil {
			q.logger.Error().Err(err).Str("job", name).Msg("undecodable scheduled job, dropping")
			continue
		}
		if err := q.append(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

// Ack marks the job done and removes it from its stream.
func (q *Queue) Ack(ctx context.Context, job queue.Job) error {
	stream, msgID, err := parseReceipt(job.Receipt)
	if err != nil {
		return err
	}

	if err := q.client.XAck(ctx, stream, groupName, msgID).Err(); err != nil {
		return fmt.Errorf("acknowledging job %s: %w", msgID, err)
	}
	if err := q.client.XDel(ctx, stream, msgID).Err(); err != nil {
		return fmt.Errorf("deleting job %s: %w", msgID, err)
	}
	return nil
}

// Reject records the job on the dead letter stream and acks it.
func (q *Queue) Reject(ctx context.Context, job queue.Job, reason string) error {
	err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: deadStream,
		Values: map[string]interface{}{
			"name":      job.Name,
			"payload":   string(job.Payload),
			"key":       job.Key,
			"reason":    reason,
			"failed_at": time.Now().UTC().Format(time.RFC3339),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("adding job to dead letter stream: %w", err)
	}

	q.logger.Warn().Str("job", job.Name).Str("key", job.Key).Str("reason", reason).Msg("job dead-lettered")
	return q.Ack(ctx, job)
}

// Depths reports pending jobs per name, scheduled jobs included.
func (q *Queue) Depths(ctx context.Context) (map[string]int64, error) {
	depths := make(map[string]int64, len(queue.KnownJobs))
	for _, name := range queue.KnownJobs {
		live, err := q.client.XLen(ctx, streamKey(name)).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("measuring stream %s: %w", name, err)
		}
		scheduled, err := q.client.ZCard(ctx, scheduledKey(name)).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("measuring scheduled %s: %w", name, err)
		}
		depths[name] = live + scheduled
	}
	return depths, nil
}

// DeadLetters returns up to count entries from the dead letter stream,
// oldest first.
func (q *Queue) DeadLetters(ctx context.Context, count int64) ([]queue.DeadLetter, error) {
	msgs, err := q.client.XRangeN(ctx, deadStream, "-", "+", count).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("reading dead letter stream: %w", err)
	}

	letters := make([]queue.DeadLetter, 0, len(msgs))
	for _, msg := range msgs {
		letters = append(letters, queue.DeadLetter{
			ID:       msg.ID,
			Name:     stringValue(msg.Values, "name"),
			Payload:  json.RawMessage(stringValue(msg.Values, "payload")),
			Key:      stringValue(msg.Values, "key"),
			Reason:   stringValue(msg.Values, "reason"),
			FailedAt: stringValue(msg.Values, "failed_at"),
		})
	}
	return letters, nil
}

func stringValue(values map[string]interface{}, key string) string {
	s, _ := values[key].(string)
	return s
}

func parseReceipt(receipt string) (stream, msgID string, err error) {
	for i := 0; i < len(receipt); i++ {
		if receipt[i] == '|' {
			return receipt[:i], receipt[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("malformed receipt: %q", receipt)
}

// Close is a no-op. The Redis client is owned by the caller.
func (q *Queue) Close() error {
	return nil
}
