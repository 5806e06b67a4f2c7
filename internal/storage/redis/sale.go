// Package redis caches hot read paths in Redis.
package redis

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/qpay-checkout/internal/domain/discount"
	"github.com/xenking/qpay-checkout/internal/domain/sale"
)

const activeSalesKey = "sales:active"

// Store is the subset of redis.Cmdable the cache needs.
type Store interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

var _ Store = (*redis.Client)(nil)

// NewClient parses a redis:// URL and returns a connected client.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	c := redis.NewClient(opts)
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return c, nil
}

var _ sale.Repository = (*SaleCache)(nil)

// SaleCache is a read-through cache in front of a sale.Repository. The
// cached list expires after ttl and is never invalidated explicitly, so a
// sale edit shows up within one ttl. Cache failures fall through to the
// wrapped repository.
type SaleCache struct {
	next  sale.Repository
	store Store
	ttl   time.Duration
}

// NewSaleCache wraps next with a cache of the given ttl.
func NewSaleCache(next sale.Repository, store Store, ttl time.Duration) *SaleCache {
	return &SaleCache{next: next, store: store, ttl: ttl}
}

// ListActive returns the cached active sales, loading them from the wrapped
// repository on a miss.
func (c *SaleCache) ListActive(ctx context.Context, now time.Time) ([]sale.Sale, error) {
	lg := zctx.From(ctx)

	raw, err := c.store.Get(ctx, activeSalesKey).Bytes()
	switch {
	case err == nil:
		sales, err := decodeSales(raw)
		if err == nil {
			return sales, nil
		}
		lg.Warn("Discarding corrupt sale cache entry", zap.Error(err))
	case !errors.Is(err, redis.Nil):
		lg.Warn("Sale cache read failed", zap.Error(err))
	}

	sales, err := c.next.ListActive(ctx, now)
	if err != nil {
		return nil, err
	}
	if err := c.store.Set(ctx, activeSalesKey, encodeSales(sales), c.ttl).Err(); err != nil {
		lg.Warn("Sale cache write failed", zap.Error(err))
	}
	return sales, nil
}

func encodeSales(sales []sale.Sale) []byte {
	var e jx.Encoder
	e.Arr(func(e *jx.Encoder) {
		for _, s := range sales {
			e.Obj(func(e *jx.Encoder) {
				e.Field("id", func(e *jx.Encoder) { e.Str(s.ID) })
				e.Field("title", func(e *jx.Encoder) { e.Str(s.Title) })
				e.Field("badge", func(e *jx.Encoder) { e.Str(s.BadgeText) })
				e.Field("target_type", func(e *jx.Encoder) { e.Str(string(s.Target.Kind())) })
				if id := s.Target.ID(); id != "" {
					e.Field("target_id", func(e *jx.Encoder) { e.Str(id) })
				}
				e.Field("type", func(e *jx.Encoder) { e.Str(string(s.Discount.Type)) })
				e.Field("value", func(e *jx.Encoder) { e.Str(s.Discount.Value.String()) })
				if s.Discount.MaxAmount.Valid {
					e.Field("max", func(e *jx.Encoder) { e.Str(s.Discount.MaxAmount.Decimal.String()) })
				}
				if s.StartDate != nil {
					e.Field("start", func(e *jx.Encoder) { e.Str(s.StartDate.Format(time.RFC3339Nano)) })
				}
				if s.EndDate != nil {
					e.Field("end", func(e *jx.Encoder) { e.Str(s.EndDate.Format(time.RFC3339Nano)) })
				}
				e.Field("enabled", func(e *jx.Encoder) { e.Bool(s.Enabled) })
				e.Field("priority", func(e *jx.Encoder) { e.Int(s.Priority) })
				e.Field("created", func(e *jx.Encoder) { e.Str(s.CreatedAt.Format(time.RFC3339Nano)) })
			})
		}
	})
	return e.Bytes()
}

func decodeSales(raw []byte) ([]sale.Sale, error) {
	var sales []sale.Sale
	err := jx.DecodeBytes(raw).Arr(func(d *jx.Decoder) error {
		s, err := decodeSale(d)
		if err != nil {
			return err
		}
		sales = append(sales, s)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode sales")
	}
	return sales, nil
}

func decodeSale(d *jx.Decoder) (sale.Sale, error) {
	var (
		s          sale.Sale
		targetType string
		targetID   *string
	)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			s.ID, err = d.Str()
		case "title":
			s.Title, err = d.Str()
		case "badge":
			s.BadgeText, err = d.Str()
		case "target_type":
			targetType, err = d.Str()
		case "target_id":
			var id string
			id, err = d.Str()
			targetID = &id
		case "type":
			var t string
			if t, err = d.Str(); err == nil {
				s.Discount.Type, err = discount.ParseType(t)
			}
		case "value":
			s.Discount.Value, err = decodeDecimal(d)
		case "max":
			var v decimal.Decimal
			v, err = decodeDecimal(d)
			s.Discount.MaxAmount = decimal.NewNullDecimal(v)
		case "start":
			s.StartDate, err = decodeTime(d)
		case "end":
			s.EndDate, err = decodeTime(d)
		case "enabled":
			s.Enabled, err = d.Bool()
		case "priority":
			s.Priority, err = d.Int()
		case "created":
			var t *time.Time
			if t, err = decodeTime(d); err == nil {
				s.CreatedAt = *t
			}
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, string(key))
		}
		return nil
	})
	if err != nil {
		return sale.Sale{}, err
	}
	s.Target, err = discount.ParseTarget(targetType, targetID)
	if err != nil {
		return sale.Sale{}, errors.Wrapf(err, "sale %s", s.ID)
	}
	return s, nil
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	v, err := d.Str()
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromString(v)
}

func decodeTime(d *jx.Decoder) (*time.Time, error) {
	v, err := d.Str()
	if err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
