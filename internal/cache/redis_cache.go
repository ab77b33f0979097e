package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"puntoventa/backend/internal/domain"
)

type RedisCatalogCache struct {
	client *redis.Client
}

func NewRedisCatalogCache(addr string, password string, db int) *RedisCatalogCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisCatalogCache{client: client}
}

func (c *RedisCatalogCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCatalogCache) Close() error {
	return c.client.Close()
}

func (c *RedisCatalogCache) GetProduct(ctx context.Context, id string) (*domain.Product, bool, error) {
	val, err := c.client.Get(ctx, "catalog:product:"+id).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var product domain.Product
	if err := json.Unmarshal([]byte(val), &product); err != nil {
		return nil, false, err
	}
	return &product, true, nil
}

func (c *RedisCatalogCache) SetProduct(ctx context.Context, product *domain.Product, ttl time.Duration) error {
	if product == nil {
		return nil
	}
	payload, err := json.Marshal(product)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, "catalog:product:"+product.ID, payload, ttl).Err()
}

func (c *RedisCatalogCache) GetCombo(ctx context.Context, id string) (*domain.Combo, bool, error) {
	val, err := c.client.Get(ctx, "catalog:combo:"+id).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var combo domain.Combo
	if err := json.Unmarshal([]byte(val), &combo); err != nil {
		return nil, false, err
	}
	return &combo, true, nil
}

func (c *RedisCatalogCache) SetCombo(ctx context.Context, combo *domain.Combo, ttl time.Duration) error {
	if combo == nil {
		return nil
	}
	payload, err := json.Marshal(combo)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, "catalog:combo:"+combo.ID, payload, ttl).Err()
}
