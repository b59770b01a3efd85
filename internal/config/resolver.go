package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/danielolaszy/scanglue/internal/logging"
	"github.com/danielolaszy/scanglue/pkg/models"
)

// ErrConfigNotFound is returned by fetchers when the repository carries no
// config-as-code file at the requested ref.
var ErrConfigNotFound = errors.New("config-as-code file not found")

// RepositoryConfigFetcher reads a file from a repository at a given ref.
type RepositoryConfigFetcher interface {
	Fetch(ctx context.Context, repository, ref, path string) ([]byte, error)
}

// BeanChecker reports whether a tracker implementation is registered.
type BeanChecker interface {
	Has(name string) bool
}

// Target identifies where config-as-code is read from.
type Target struct {
	Repository string
	Ref        string
}

// Resolver merges static configuration, routing overrides and config-as-code.
type Resolver struct {
	static Config
	beans  BeanChecker
}

// NewResolver creates a Resolver over an immutable static configuration.
func NewResolver(static Config, beans BeanChecker) *Resolver {
	return &Resolver{static: static, beans: beans}
}

// Resolve returns the effective configuration of one run. A missing
// config-as-code file is not an error; a malformed one is, and so is a bug
// tracker selection that no registered implementation can serve.
func (r *Resolver) Resolve(ctx context.Context, target Target, overrides Overrides, fetcher RepositoryConfigFetcher) (EffectiveConfig, error) {
	eff, err := Defaults(r.static)
	if err != nil {
		return EffectiveConfig{}, models.NewFlowError(models.StageConfig, err)
	}

	eff, err = overrides.Apply(eff)
	if err != nil {
		return EffectiveConfig{}, models.NewFlowError(models.StageConfig, fmt.Errorf("routing overrides: %w", err))
	}

	path := r.static.GitHub.ConfigAsCode
	if path != "" && fetcher != nil {
		data, err := fetcher.Fetch(ctx, target.Repository, target.Ref, path)
		switch {
		case errors.Is(err, ErrConfigNotFound):
			logging.Debug("no config-as-code file, using static defaults",
				"repository", target.Repository,
				"path", path)
		case err != nil:
			logging.Warn("failed to fetch config-as-code, using static defaults",
				"repository", target.Repository,
				"path", path,
				"error", err)
		default:
			fileOverrides, err := ParseConfigAsCode(data)
			if err != nil {
				return EffectiveConfig{}, models.NewFlowError(models.StageConfig,
					fmt.Errorf("%w: %s: %v", models.ErrConfigParse, path, err))
			}
			eff, err = fileOverrides.Apply(eff)
			if err != nil {
				return EffectiveConfig{}, models.NewFlowError(models.StageConfig,
					fmt.Errorf("%w: %s: %v", models.ErrConfigParse, path, err))
			}
			logging.Info("applied config-as-code",
				"repository", target.Repository,
				"path", path,
				"bug_tracker", eff.BugTracker.String())
		}
	}

	if bean := eff.BugTracker.BeanName(); bean != "" {
		if r.beans == nil || !r.beans.Has(bean) {
			return EffectiveConfig{}, models.NewFlowError(models.StageConfig,
				fmt.Errorf("%w: %q", models.ErrUnknownBugTrackerBean, bean))
		}
	}

	return eff, nil
}

// ParseConfigAsCode decodes a YAML or JSON config-as-code document. Unknown
// keys are rejected so that typos do not silently fall back to defaults.
func ParseConfigAsCode(data []byte) (Overrides, error) {
	var o Overrides
	if len(strings.TrimSpace(string(data))) == 0 {
		return o, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&o); err != nil && !errors.Is(err, io.EOF) {
		return Overrides{}, err
	}
	return o, nil
}
