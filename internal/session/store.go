// Package session keeps the per-owner checkout choices (applied coupon,
// destination country) that survive between cart requests.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flicky/storefront/internal/model"
)

const (
	fieldCoupon  = "coupon"
	fieldCountry = "country"
)

type Checkout struct {
	CouponCode string
	Country    string
}

type Store struct {
	client *redis.Client
	ttl    time.Duration
}

func NewStore(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

func key(owner model.Owner) string { return "checkout:" + owner.Key() }

func (s *Store) Get(ctx context.Context, owner model.Owner) (Checkout, error) {
	vals, err := s.client.HGetAll(ctx, key(owner)).Result()
	if err != nil {
		return Checkout{}, fmt.Errorf("get checkout session: %w", err)
	}
	return Checkout{CouponCode: vals[fieldCoupon], Country: vals[fieldCountry]}, nil
}

func (s *Store) SetCoupon(ctx context.Context, owner model.Owner, code string) error {
	return s.set(ctx, owner, fieldCoupon, code)
}

func (s *Store) SetCountry(ctx context.Context, owner model.Owner, country string) error {
	return s.set(ctx, owner, fieldCountry, country)
}

func (s *Store) ClearCoupon(ctx context.Context, owner model.Owner) error {
	if err := s.client.HDel(ctx, key(owner), fieldCoupon).Err(); err != nil {
		return fmt.Errorf("clear session coupon: %w", err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context, owner model.Owner) error {
	if err := s.client.Del(ctx, key(owner)).Err(); err != nil {
		return fmt.Errorf("clear checkout session: %w", err)
	}
	return nil
}

func (s *Store) set(ctx context.Context, owner model.Owner, field, value string) error {
	k := key(owner)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, k, field, value)
	pipe.Expire(ctx, k, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save checkout session: %w", err)
	}
	return nil
}
