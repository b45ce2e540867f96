package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"perparb/internal/application/port"
	"perparb/internal/domain/model"

	"github.com/redis/go-redis/v9"
)

// Repo mirrors latest state into redis hashes and announces each cycle on a
// pubsub channel.
//
//	<prefix>:funding:<exchange>    hash  BASE/QUOTE:SETTLE -> json
//	<prefix>:opportunities         hash  BASE -> json (replaced per cycle)
//	<prefix>:opportunities:pub     channel, full result json
type Repo struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration

	keyOpps  string
	chanOpps string
}

func New(rdb redis.UniversalClient, prefix string, ttl time.Duration) *Repo {
	if prefix == "" {
		prefix = "perparb"
	}
	return &Repo{
		rdb:      rdb,
		prefix:   prefix,
		ttl:      ttl,
		keyOpps:  prefix + ":opportunities",
		chanOpps: prefix + ":opportunities:pub",
	}
}

// Dial connects and pings.
func Dial(ctx context.Context, addr, password string, db int, prefix string, ttl time.Duration) (*Repo, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return New(rdb, prefix, ttl), nil
}

func (r *Repo) Close() error { return r.rdb.Close() }

func (r *Repo) fundingKey(exchange string) string {
	return r.prefix + ":funding:" + exchange
}

func (r *Repo) UpsertFunding(ctx context.Context, exchange string, fs []model.FundingSnapshot) error {
	if len(fs) == 0 {
		return nil
	}
	key := r.fundingKey(exchange)
	fields := make(map[string]any, len(fs))
	for _, f := range fs {
		if !f.Valid() {
			continue
		}
		b, err := json.Marshal(f)
		if err != nil {
			return err
		}
		fields[f.Symbol.String()] = string(b)
	}
	if len(fields) == 0 {
		return nil
	}

	pipe := r.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *Repo) LoadFunding(ctx context.Context, exchange string) ([]model.FundingSnapshot, error) {
	vals, err := r.rdb.HGetAll(ctx, r.fundingKey(exchange)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]model.FundingSnapshot, 0, len(vals))
	for field, v := range vals {
		var f model.FundingSnapshot
		if err := json.Unmarshal([]byte(v), &f); err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", exchange, field, err)
		}
		f.Exchange = exchange
		out = append(out, f)
	}
	return out, nil
}

func (r *Repo) PublishOpportunities(ctx context.Context, res *model.Result) error {
	if res == nil {
		return nil
	}
	fields := make(map[string]any, len(res.Opportunities))
	for _, o := range res.Opportunities {
		b, err := json.Marshal(o)
		if err != nil {
			return err
		}
		fields[o.Base] = string(b)
	}
	msg, err := json.Marshal(res)
	if err != nil {
		return err
	}

	// DEL + HSET in one MULTI so readers never see a half-written cycle
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.keyOpps)
		if len(fields) > 0 {
			pipe.HSet(ctx, r.keyOpps, fields)
			if r.ttl > 0 {
				pipe.Expire(ctx, r.keyOpps, r.ttl)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, r.chanOpps, string(msg)).Err()
}

var _ port.Repository = (*Repo)(nil)
