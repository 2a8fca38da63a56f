package jobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/lecternlabs/lectern-core/internal/config"
)

// Redis stores jobs as JSON values with a sorted set for recency-ordered
// listing. Keys:
//
//	narration:job:<id>          JSON(Job)
//	narration:job:<id>:events   list of JSON progress payloads
//	narration:jobs              sorted set, score = CreatedAt unix
type Redis struct {
	client *redis.Client
	cfg    config.JobStoreConfig
	log    *slog.Logger
	clock  func() time.Time
}

const redisOpTimeout = 2 * time.Second

func OpenRedis(ctx context.Context, cfg config.JobStoreConfig, log *slog.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{client: client, cfg: cfg, log: log, clock: time.Now}, nil
}

func (r *Redis) jobKey(id string) string    { return "narration:job:" + id }
func (r *Redis) eventsKey(id string) string { return "narration:job:" + id + ":events" }

const indexKey = "narration:jobs"

func (r *Redis) Create(ctx context.Context, job *Job) error {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	key := r.jobKey(job.ID)
	exists, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return err
	}
	if exists > 0 {
		return ErrExists
	}
	now := r.clock().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	b, err := json.Marshal(job)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, key, b, 0)
	pipe.ZAdd(ctx, indexKey, redis.Z{Score: float64(job.CreatedAt.Unix()), Member: job.ID})
	_, err = pipe.Exec(ctx)
	return err
}

func (r *Redis) Get(ctx context.Context, id string) (*Job, error) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	val, err := r.client.Get(ctx, r.jobKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var job Job
	if err := json.Unmarshal(val, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *Redis) Update(ctx context.Context, job *Job) error {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	key := r.jobKey(job.ID)
	exists, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}
	job.UpdatedAt = r.clock().UTC()
	b, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key, b, 0).Err()
}

func (r *Redis) List(ctx context.Context, limit int) ([]*Job, error) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := r.client.ZRevRange(ctx, indexKey, 0, stop).Result()
	if err != nil {
		return nil, err
	}
	jobs := make([]*Job, 0, len(ids))
	for _, id := range ids {
		job, err := r.Get(ctx, id)
		if err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (r *Redis) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	exists, err := r.client.Exists(ctx, r.jobKey(id)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.jobKey(id), r.eventsKey(id))
	pipe.ZRem(ctx, indexKey, id)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *Redis) AppendEvent(ctx context.Context, jobID, kind string, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	record := ProgressRecord{JobID: jobID, Type: kind, Payload: payload, CreatedAt: r.clock().UTC()}
	b, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return r.client.RPush(ctx, r.eventsKey(jobID), b).Err()
}

func (r *Redis) ListEvents(ctx context.Context, jobID string, limit int) ([]ProgressRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	vals, err := r.client.LRange(ctx, r.eventsKey(jobID), 0, stop).Result()
	if err != nil {
		return nil, err
	}
	records := make([]ProgressRecord, 0, len(vals))
	for i, val := range vals {
		var rec ProgressRecord
		if err := json.Unmarshal([]byte(val), &rec); err != nil {
			continue
		}
		rec.ID = int64(i + 1)
		records = append(records, rec)
	}
	return records, nil
}

// Prune removes expired IDs from the index and their job keys.
func (r *Redis) Prune(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	if r.cfg.RetentionDays > 0 {
		cutoff := r.clock().Add(-time.Duration(r.cfg.RetentionDays) * 24 * time.Hour)
		expired, err := r.client.ZRangeByScore(ctx, indexKey, &redis.ZRangeBy{
			Min: "-inf",
			Max: fmt.Sprintf("%d", cutoff.Unix()),
		}).Result()
		if err != nil {
			return err
		}
		for _, id := range expired {
			if err := r.Delete(ctx, id); err != nil && err != ErrNotFound {
				r.log.Warn("prune job failed", slog.String("job_id", id), slog.String("error", err.Error()))
			}
		}
	}
	if r.cfg.MaxJobs > 0 {
		excess, err := r.client.ZRevRange(ctx, indexKey, int64(r.cfg.MaxJobs), -1).Result()
		if err != nil {
			return err
		}
		for _, id := range excess {
			if err := r.Delete(ctx, id); err != nil && err != ErrNotFound {
				r.log.Warn("prune job failed", slog.String("job_id", id), slog.String("error", err.Error()))
			}
		}
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

var _ Store = (*Redis)(nil)
