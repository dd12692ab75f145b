package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	*redis.Client
}

func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{client}, nil
}

func (c *Client) Close() error {
	return c.Client.Close()
}

// SignalChannel carries signaling messages addressed to one user.
func SignalChannel(user string) string {
	return fmt.Sprintf("voice:signals:%s", user)
}

// ParticipantChannel carries participant changes of one session.
func ParticipantChannel(session string) string {
	return fmt.Sprintf("voice:participants:%s", session)
}
