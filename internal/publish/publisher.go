// Package publish mirrors engine events into Redis.
//
// Every event except heartbeats goes to the <prefix>:events pub/sub
// channel. Parameter values are kept in the <prefix>:state hash, the link
// status in <prefix>:link, and measurement readings are pushed onto the
// capped <prefix>:measurements list, newest first.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/naelolaiz/JDY-31-PSG9080/internal/config"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/telemetry"
)

type opKind int

const (
	opPublish opKind = iota
	opHSet
	opLPush
	opLTrim
)

// op is one Redis command derived from an event.
type op struct {
	kind   opKind
	key    string
	value  interface{}
	fields map[string]interface{}
	stop   int64
}

// Publisher writes events to Redis.
type Publisher struct {
	client  *redis.Client
	prefix  string
	history int64
	timeout time.Duration
	log     zerolog.Logger
}

// New connects to Redis and checks the connection with a ping.
func New(ctx context.Context, cfg config.RedisConfig, log zerolog.Logger) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}

	log.Info().Str("addr", cfg.Addr).Str("prefix", cfg.KeyPrefix).Msg("redis publisher connected")
	return newPublisher(client, cfg, log), nil
}

func newPublisher(client *redis.Client, cfg config.RedisConfig, log zerolog.Logger) *Publisher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Publisher{
		client:  client,
		prefix:  cfg.KeyPrefix,
		history: cfg.HistoryLength,
		timeout: timeout,
		log:     log,
	}
}

// Run consumes events until ctx ends or the channel closes. Write failures
// are logged and do not stop the loop.
func (p *Publisher) Run(ctx context.Context, events <-chan telemetry.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := p.Handle(ctx, e); err != nil {
				p.log.Warn().Err(err).Str("event", e.Type).Msg("redis publish failed")
			}
		}
	}
}

// Handle writes one event in a single pipeline.
func (p *Publisher) Handle(ctx context.Context, e telemetry.Event) error {
	ops, err := p.plan(e)
	if err != nil || len(ops) == 0 {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	pipe := p.client.Pipeline()
	for _, o := range ops {
		switch o.kind {
		case opPublish:
			pipe.Publish(ctx, o.key, o.value)
		case opHSet:
			pipe.HSet(ctx, o.key, o.fields)
		case opLPush:
			pipe.LPush(ctx, o.key, o.value)
		case opLTrim:
			pipe.LTrim(ctx, o.key, 0, o.stop)
		}
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Close releases the Redis connection pool.
func (p *Publisher) Close() error {
	return p.client.Close()
}

func (p *Publisher) key(name string) string {
	if p.prefix == "" {
		return name
	}
	return p.prefix + ":" + name
}

func (p *Publisher) plan(e telemetry.Event) ([]op, error) {
	if e.Type == telemetry.EventHeartbeat {
		return nil, nil
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", e.Type, err)
	}
	ops := []op{{kind: opPublish, key: p.key("events"), value: payload}}

	switch e.Type {
	case telemetry.EventStateChanged:
		if values, ok := e.Data["values"].(map[string]float64); ok && len(values) > 0 {
			fields := make(map[string]interface{}, len(values))
			for name, v := range values {
				fields[name] = strconv.FormatFloat(v, 'f', -1, 64)
			}
			ops = append(ops, op{kind: opHSet, key: p.key("state"), fields: fields})
		}

	case telemetry.EventConnectionChanged:
		ops = append(ops, op{kind: opHSet, key: p.key("link"), fields: map[string]interface{}{
			"connected": fmt.Sprint(e.Data["connected"]),
			"address":   fmt.Sprint(e.Data["address"]),
			"since":     e.Time.Format(time.RFC3339Nano),
		}})

	case telemetry.EventMeasurementUpdated:
		m, err := json.Marshal(e.Data["measurement"])
		if err != nil {
			return nil, fmt.Errorf("marshal measurement: %w", err)
		}
		ops = append(ops, op{kind: opLPush, key: p.key("measurements"), value: m})
		if p.history > 0 {
			ops = append(ops, op{kind: opLTrim, key: p.key("measurements"), stop: p.history - 1})
		}
	}
	return ops, nil
}
