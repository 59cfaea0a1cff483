// Package valkey mirrors the latest Snapshot into Valkey so that other
// processes can read it without touching the database.
package valkey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"

	"dockpulse/internal/models"
)

const SnapshotKey = "dockpulse:snapshot:latest"

var ErrNoSnapshot = errors.New("no snapshot mirrored")

type Client struct {
	client valkey.Client
}

func New(ctx context.Context, addr, password string) (*Client, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{addr},
		Password:    password,
	})
	if err != nil {
		return nil, fmt.Errorf("create valkey client: %w", err)
	}
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping valkey: %w", err)
	}
	return &Client{client: client}, nil
}

// Publish overwrites the mirrored snapshot. The key expires after ttl so a
// stopped collector does not leave a stale reading behind.
func (c *Client) Publish(ctx context.Context, snap models.Snapshot, ttl time.Duration) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	cmd := c.client.B().Setex().Key(SnapshotKey).Seconds(ttlSeconds(ttl)).Value(string(b)).Build()
	return c.client.Do(ctx, cmd).Error()
}

func (c *Client) Latest(ctx context.Context) (models.Snapshot, error) {
	var snap models.Snapshot
	s, err := c.client.Do(ctx, c.client.B().Get().Key(SnapshotKey).Build()).ToString()
	if valkey.IsValkeyNil(err) {
		return snap, ErrNoSnapshot
	}
	if err != nil {
		return snap, err
	}
	if err := json.Unmarshal([]byte(s), &snap); err != nil {
		return snap, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

func (c *Client) Close() {
	c.client.Close()
}

func ttlSeconds(ttl time.Duration) int64 {
	s := int64((ttl + time.Second - 1) / time.Second)
	if s < 1 {
		return 1
	}
	return s
}
