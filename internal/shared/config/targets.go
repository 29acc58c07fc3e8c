package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DeploymentTarget maps an expected image tag to a cluster/service pair.
// Targets are loaded once at startup and treated as immutable afterwards.
type DeploymentTarget struct {
	Cluster    string `yaml:"cluster"`
	Service    string `yaml:"service"`
	Repository string `yaml:"repository,omitempty"` // Optional repository filter; empty matches any repository
	Tag        string `yaml:"tag"`
}

// Matches reports whether a push of repository:tag should redeploy this target.
// Tag comparison is exact and case-sensitive.
func (t DeploymentTarget) Matches(repository, tag string) bool {
	if t.Repository != "" && t.Repository != repository {
		return false
	}
	return t.Tag == tag
}

type targetsFile struct {
	Targets []DeploymentTarget `yaml:"targets"`
}

// LoadTargets reads and validates the deployment targets file
func LoadTargets(path string) ([]DeploymentTarget, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read targets file %s: %w", path, err)
	}

	var file targetsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse targets file %s: %w", path, err)
	}

	if len(file.Targets) == 0 {
		return nil, fmt.Errorf("targets file %s defines no targets", path)
	}

	for i, target := range file.Targets {
		if target.Cluster == "" {
			return nil, fmt.Errorf("target %d: cluster is required", i)
		}
		if target.Service == "" {
			return nil, fmt.Errorf("target %d: service is required", i)
		}
		if target.Tag == "" {
			return nil, fmt.Errorf("target %d: tag is required", i)
		}
	}

	return file.Targets, nil
}
