package cluster

import (
	"context"
	"fmt"
)

// IndexExists reports whether the index exists.
func (c *Client) IndexExists(ctx context.Context, name string) (bool, error) {
	return c.exists(ctx, "/"+pathEscape(name))
}

// CreateIndex creates an empty index with default settings.
func (c *Client) CreateIndex(ctx context.Context, name string) error {
	if err := c.put(ctx, "/"+pathEscape(name), map[string]any{}, nil); err != nil {
		return fmt.Errorf("failed to create index %q: %w", name, err)
	}
	return nil
}

// DeleteIndex deletes the index.
func (c *Client) DeleteIndex(ctx context.Context, name string) error {
	err := c.delete(ctx, "/"+pathEscape(name))
	if apiErr, ok := err.(*APIError); ok && apiErr.IsNotFound() {
		return ErrIndexNotFound
	}
	return err
}

// FlushIndex flushes the index to durable storage.
func (c *Client) FlushIndex(ctx context.Context, name string) error {
	err := c.post(ctx, "/"+pathEscape(name)+"/_flush", nil, nil)
	if apiErr, ok := err.(*APIError); ok && apiErr.IsNotFound() {
		return ErrIndexNotFound
	}
	return err
}
