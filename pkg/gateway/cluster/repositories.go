package cluster

import (
	"context"
	"fmt"
)

// repositoryBody is the wire form of a snapshot repository registration.
type repositoryBody struct {
	Type     string             `json:"type"`
	Settings repositorySettings `json:"settings"`
}

type repositorySettings struct {
	Bucket       string `json:"bucket"`
	BasePath     string `json:"base_path,omitempty"`
	CannedACL    string `json:"canned_acl,omitempty"`
	StorageClass string `json:"storage_class,omitempty"`
}

// RepositoryExists reports whether the snapshot repository is registered.
func (c *Client) RepositoryExists(ctx context.Context, name string) (bool, error) {
	return c.exists(ctx, "/_snapshot/"+pathEscape(name))
}

// CreateRepository registers an S3-backed snapshot repository.
func (c *Client) CreateRepository(ctx context.Context, spec RepositorySpec) error {
	body := repositoryBody{
		Type: "s3",
		Settings: repositorySettings{
			Bucket:       spec.Bucket,
			BasePath:     spec.BasePath,
			CannedACL:    spec.CannedACL,
			StorageClass: spec.StorageClass,
		},
	}
	if err := c.put(ctx, "/_snapshot/"+pathEscape(spec.Name), body, nil); err != nil {
		return fmt.Errorf("failed to create repository %q: %w", spec.Name, err)
	}
	return nil
}

// DeleteRepository removes the repository registration. The backing bucket
// and its snapshots are untouched.
func (c *Client) DeleteRepository(ctx context.Context, name string) error {
	err := c.delete(ctx, "/_snapshot/"+pathEscape(name))
	if apiErr, ok := err.(*APIError); ok && apiErr.IsNotFound() {
		return ErrRepositoryNotFound
	}
	return err
}
