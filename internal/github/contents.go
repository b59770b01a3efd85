package github

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/go-github/v41/github"

	"github.com/danielolaszy/scanglue/internal/config"
	"github.com/danielolaszy/scanglue/internal/logging"
)

var _ config.RepositoryConfigFetcher = (*Client)(nil)

// Fetch reads a file from repository at ref. A missing file, or a path that
// is a directory, yields config.ErrConfigNotFound.
func (c *Client) Fetch(ctx context.Context, repository, ref, path string) ([]byte, error) {
	owner, repo, err := splitRepository(repository)
	if err != nil {
		return nil, err
	}

	var opts *github.RepositoryContentGetOptions
	if ref != "" {
		opts = &github.RepositoryContentGetOptions{Ref: ref}
	}

	file, _, resp, err := c.client.Repositories.GetContents(ctx, owner, repo, path, opts)
	if err != nil {
		if statusCode(resp) == http.StatusNotFound {
			return nil, config.ErrConfigNotFound
		}
		return nil, fmt.Errorf("failed to fetch %s from %s@%s: %w", path, repository, ref, err)
	}
	if file == nil {
		return nil, config.ErrConfigNotFound
	}

	content, err := file.GetContent()
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s from %s: %w", path, repository, err)
	}

	logging.Debug("fetched repository file",
		"repository", repository,
		"ref", ref,
		"path", path,
		"bytes", len(content))
	return []byte(content), nil
}
