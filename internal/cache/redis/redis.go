package redis

import (
	"context"
	"time"

	rdb "github.com/redis/go-redis/v9"
)

// Cache implementa cache.Cache sobre un redis.Client.
type Cache struct{ c *rdb.Client }

func New(addr string, db int) *Cache {
	return &Cache{c: rdb.NewClient(&rdb.Options{Addr: addr, DB: db})}
}

// NewFromClient permite inyectar un cliente ya configurado (tests/miniredis).
func NewFromClient(c *rdb.Client) *Cache { return &Cache{c: c} }

func (r *Cache) Get(k string) ([]byte, bool) {
	b, err := r.c.Get(context.Background(), k).Bytes()
	if err != nil {
		return nil, false
	}
	return b, true
}

// GetDel usa GETDEL (Redis >= 6.2): lectura y borrado en una sola operación,
// garantía at-most-once para states y authorization codes.
func (r *Cache) GetDel(k string) ([]byte, bool) {
	b, err := r.c.GetDel(context.Background(), k).Bytes()
	if err != nil {
		return nil, false
	}
	return b, true
}

func (r *Cache) Set(k string, v []byte, ttl time.Duration) {
	_ = r.c.Set(context.Background(), k, v, ttl).Err()
}

func (r *Cache) Delete(k string) { _ = r.c.Del(context.Background(), k).Err() }

func (r *Cache) Ping(ctx context.Context) error { return r.c.Ping(ctx).Err() }
