package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"      // Redis client for Go
	"github.com/vmihailenco/msgpack/v5" // Library for MessagePack serialization

	"github.com/helvethink/dora-exporter/pkg/schemas" // Data schemas
)

// Constants for Redis keys
const (
	redisDeploymentsKey         string = "deployments"
	redisDeploymentsTimelineKey string = "deployments:timeline"
	redisIncidentsKey           string = "incidents"
	redisIncidentsTimelineKey   string = "incidents:timeline"
	redisTaskKey                string = "task"
	redisTasksExecutedCountKey  string = "tasksExecutedCount"
	redisKeepaliveKey           string = "keepalive"

	// Upserts are optimistic transactions, they are retried with a jittered backoff
	// when another writer touched the same entity
	redisMaxTxRetries = 32
)

// Redis represents a Redis client wrapper.
//
// Each entity kind lives in a hash of msgpack blobs keyed on the stable identifier, next to a sorted set
// indexing the identifiers by their relevant instant in milliseconds. Window queries range on the sorted set
// and filter the decoded entities exactly.
type Redis struct {
	*redis.Client
}

// UpsertDeployment inserts a deployment or overwrites the mutable fields of an existing one.
func (r *Redis) UpsertDeployment(ctx context.Context, d schemas.Deployment) error {
	return r.upsert(ctx, redisDeploymentsKey, string(d.Key()), func(tx *redis.Tx) (interface{}, float64, error) {
		var existing *schemas.Deployment

		raw, err := tx.HGet(ctx, redisDeploymentsKey, string(d.Key())).Result()
		switch {
		case err == redis.Nil:
		case err != nil:
			return nil, 0, err
		default:
			e := schemas.Deployment{}
			if err = msgpack.Unmarshal([]byte(raw), &e); err != nil {
				return nil, 0, err
			}
			existing = &e
		}

		merged := mergeDeployment(d, existing, Clock())

		return merged, scoreOf(merged.Timestamp), nil
	})
}

// GetDeployment retrieves a deployment from Redis.
func (r *Redis) GetDeployment(ctx context.Context, d *schemas.Deployment) error {
	exists, err := r.DeploymentExists(ctx, d.Key())
	if err != nil {
		return err
	}

	if exists {
		raw, err := r.HGet(ctx, redisDeploymentsKey, string(d.Key())).Result()
		if err != nil {
			return err
		}

		if err = msgpack.Unmarshal([]byte(raw), d); err != nil {
			return err
		}

		normalizeDeployment(d)
	}

	return nil
}

// DeploymentExists checks if a deployment exists in Redis.
func (r *Redis) DeploymentExists(ctx context.Context, k schemas.DeploymentKey) (bool, error) {
	return r.HExists(ctx, redisDeploymentsKey, string(k)).Result()
}

// CountDeploymentsInWindow counts the deployments whose timestamp falls within w.
func (r *Redis) CountDeploymentsInWindow(ctx context.Context, w schemas.Window) (int64, error) {
	blobs, err := r.rangeWindow(ctx, redisDeploymentsKey, redisDeploymentsTimelineKey, w)
	if err != nil {
		return 0, err
	}

	var count int64

	for _, b := range blobs {
		d := schemas.Deployment{}
		if err = msgpack.Unmarshal(b, &d); err != nil {
			return 0, err
		}

		if w.Contains(d.Timestamp) {
			count++
		}
	}

	return count, nil
}

// DeploymentsCount returns the count of deployments in Redis.
func (r *Redis) DeploymentsCount(ctx context.Context) (int64, error) {
	return r.HLen(ctx, redisDeploymentsKey).Result()
}

// UpsertIncident inserts an incident or overwrites the mutable fields of an existing one.
func (r *Redis) UpsertIncident(ctx context.Context, i schemas.Incident) error {
	return r.upsert(ctx, redisIncidentsKey, string(i.Key()), func(tx *redis.Tx) (interface{}, float64, error) {
		var existing *schemas.Incident

		raw, err := tx.HGet(ctx, redisIncidentsKey, string(i.Key())).Result()
		switch {
		case err == redis.Nil:
		case err != nil:
			return nil, 0, err
		default:
			e := schemas.Incident{}
			if err = msgpack.Unmarshal([]byte(raw), &e); err != nil {
				return nil, 0, err
			}
			existing = &e
		}

		merged := mergeIncident(i, existing, Clock())

		return merged, scoreOf(merged.CreatedAt), nil
	})
}

// GetIncident retrieves an incident from Redis.
func (r *Redis) GetIncident(ctx context.Context, i *schemas.Incident) error {
	exists, err := r.IncidentExists(ctx, i.Key())
	if err != nil {
		return err
	}

	if exists {
		raw, err := r.HGet(ctx, redisIncidentsKey, string(i.Key())).Result()
		if err != nil {
			return err
		}

		if err = msgpack.Unmarshal([]byte(raw), i); err != nil {
			return err
		}

		normalizeIncident(i)
	}

	return nil
}

// IncidentExists checks if an incident exists in Redis.
func (r *Redis) IncidentExists(ctx context.Context, k schemas.IncidentKey) (bool, error) {
	return r.HExists(ctx, redisIncidentsKey, string(k)).Result()
}

// CountIncidentsCreatedInWindow counts the incidents created within w.
func (r *Redis) CountIncidentsCreatedInWindow(ctx context.Context, w schemas.Window) (int64, error) {
	incidents, err := r.incidentsInWindow(ctx, w)
	return int64(len(incidents)), err
}

// ListResolvedIncidentsCreatedInWindow returns the incidents created within w which have been resolved,
// ordered by creation instant.
func (r *Redis) ListResolvedIncidentsCreatedInWindow(ctx context.Context, w schemas.Window) ([]schemas.Incident, error) {
	incidents, err := r.incidentsInWindow(ctx, w)
	if err != nil {
		return nil, err
	}

	var resolved []schemas.Incident

	for _, i := range incidents {
		if i.IsResolved() {
			resolved = append(resolved, i)
		}
	}

	sortIncidents(resolved)

	return resolved, nil
}

// IncidentsCount returns the count of incidents in Redis.
func (r *Redis) IncidentsCount(ctx context.Context) (int64, error) {
	return r.HLen(ctx, redisIncidentsKey).Result()
}

func (r *Redis) incidentsInWindow(ctx context.Context, w schemas.Window) ([]schemas.Incident, error) {
	blobs, err := r.rangeWindow(ctx, redisIncidentsKey, redisIncidentsTimelineKey, w)
	if err != nil {
		return nil, err
	}

	incidents := make([]schemas.Incident, 0, len(blobs))

	for _, b := range blobs {
		i := schemas.Incident{}
		if err = msgpack.Unmarshal(b, &i); err != nil {
			return nil, err
		}

		normalizeIncident(&i)

		if w.Contains(i.CreatedAt) {
			incidents = append(incidents, i)
		}
	}

	return incidents, nil
}

// upsert runs an optimistic transaction watching a per-entity revision key, so that writers of distinct
// identifiers never conflict. build reads the current record through the transaction and returns the entity
// to write along with its timeline score.
func (r *Redis) upsert(
	ctx context.Context,
	hashKey, id string,
	build func(tx *redis.Tx) (interface{}, float64, error),
) error {
	timelineKey := hashKey + ":timeline"
	revisionKey := hashKey + ":revision:" + id

	txf := func(tx *redis.Tx) error {
		entity, score, err := build(tx)
		if err != nil {
			return err
		}

		marshalled, err := msgpack.Marshal(entity)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, hashKey, id, marshalled)
			pipe.ZAdd(ctx, timelineKey, redis.Z{Score: score, Member: id})
			pipe.Incr(ctx, revisionKey)

			return nil
		})

		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := r.Watch(ctx, txf, revisionKey)
		if err != nil && err != redis.TxFailedErr {
			return struct{}{}, backoff.Permanent(err)
		}

		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(redisMaxTxRetries),
	)
	if err == redis.TxFailedErr {
		return errors.Errorf("upserting %s %s: too many concurrent writers", hashKey, id)
	}

	return err
}

// rangeWindow returns the msgpack blobs of the entities indexed within w on the timeline.
// Scores have a millisecond resolution, so the range is widened and callers must filter exactly.
func (r *Redis) rangeWindow(ctx context.Context, hashKey, timelineKey string, w schemas.Window) ([][]byte, error) {
	ids, err := r.ZRangeByScore(ctx, timelineKey, &redis.ZRangeBy{
		Min: strconv.FormatInt(w.Start.UnixMilli(), 10),
		Max: strconv.FormatInt(w.End.UnixMilli()+1, 10),
	}).Result()
	if err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return nil, nil
	}

	values, err := r.HMGet(ctx, hashKey, ids...).Result()
	if err != nil {
		return nil, err
	}

	blobs := make([][]byte, 0, len(values))

	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}

		blobs = append(blobs, []byte(s))
	}

	return blobs, nil
}

func scoreOf(t time.Time) float64 {
	return float64(t.UnixMilli())
}

func normalizeDeployment(d *schemas.Deployment) {
	d.Timestamp = d.Timestamp.UTC()
	d.RecordCreatedAt = d.RecordCreatedAt.UTC()
	d.RecordUpdatedAt = d.RecordUpdatedAt.UTC()
}

func normalizeIncident(i *schemas.Incident) {
	i.CreatedAt = i.CreatedAt.UTC()
	i.RecordCreatedAt = i.RecordCreatedAt.UTC()
	i.RecordUpdatedAt = i.RecordUpdatedAt.UTC()

	if i.AcknowledgedAt != nil {
		t := i.AcknowledgedAt.UTC()
		i.AcknowledgedAt = &t
	}

	if i.ResolvedAt != nil {
		t := i.ResolvedAt.UTC()
		i.ResolvedAt = &t
	}
}

// SetKeepalive sets a key with an UUID corresponding to the currently running process.
func (r *Redis) SetKeepalive(ctx context.Context, uuid string, ttl time.Duration) (bool, error) {
	return r.SetNX(ctx, fmt.Sprintf("%s:%s", redisKeepaliveKey, uuid), nil, ttl).Result()
}

// KeepaliveExists returns whether a keepalive exists or not for a particular UUID.
func (r *Redis) KeepaliveExists(ctx context.Context, uuid string) (bool, error) {
	exists, err := r.Exists(ctx, fmt.Sprintf("%s:%s", redisKeepaliveKey, uuid)).Result()
	return exists == 1, err
}

// getRedisQueueKey generates a Redis key for a task.
func getRedisQueueKey(tt schemas.TaskType, taskUUID string) string {
	return fmt.Sprintf("%s:%v:%s", redisTaskKey, tt, taskUUID)
}

// QueueTask registers that we are queueing the task.
// It returns true if it managed to schedule it, false if it was already scheduled.
// A task held by a process whose keepalive expired is taken over.
func (r *Redis) QueueTask(ctx context.Context, tt schemas.TaskType, taskUUID, processUUID string) (set bool, err error) {
	k := getRedisQueueKey(tt, taskUUID)

	set, err = r.SetNX(ctx, k, processUUID, 0).Result()
	if err != nil || set {
		return
	}

	var tpuuid string
	if tpuuid, err = r.Get(ctx, k).Result(); err != nil {
		return
	}

	if tpuuid != processUUID {
		var uuidIsAlive bool
		if uuidIsAlive, err = r.KeepaliveExists(ctx, tpuuid); err != nil {
			return
		}

		if !uuidIsAlive {
			if _, err = r.Set(ctx, k, processUUID, 0).Result(); err != nil {
				return
			}
			return true, nil
		}
	}

	return
}

// UnqueueTask removes the task from the tracker.
func (r *Redis) UnqueueTask(ctx context.Context, tt schemas.TaskType, taskUUID string) (err error) {
	var matched int64

	matched, err = r.Del(ctx, getRedisQueueKey(tt, taskUUID)).Result()
	if err != nil {
		return
	}

	if matched > 0 {
		_, err = r.Incr(ctx, redisTasksExecutedCountKey).Result()
	}

	return
}

// CurrentlyQueuedTasksCount returns the count of currently queued tasks.
func (r *Redis) CurrentlyQueuedTasksCount(ctx context.Context) (count uint64, err error) {
	iter := r.Scan(ctx, 0, fmt.Sprintf("%s:*", redisTaskKey), 0).Iterator()
	for iter.Next(ctx) {
		count++
	}

	err = iter.Err()
	return
}

// ExecutedTasksCount returns the count of executed tasks.
func (r *Redis) ExecutedTasksCount(ctx context.Context) (uint64, error) {
	countString, err := r.Get(ctx, redisTasksExecutedCountKey).Result()
	if err == redis.Nil {
		return 0, nil
	}

	if err != nil {
		return 0, err
	}

	c, err := strconv.Atoi(countString)
	return uint64(c), err
}
