package github

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseGitHubRepo(t *testing.T) {
	cases := []struct {
		remote string
		name   string
		owner  string
		repo   string
		ok     bool
	}{
		{"git@github.com:acme/api.git", "api", "acme", "api", true},
		{"https://github.com/acme/api", "api", "acme", "api", true},
		{"https://github.com/acme/api.git", "api", "acme", "api", true},
		{"", "acme/api", "acme", "api", true},
		{"https://gitlab.com/acme/api", "api", "", "", false},
		{"", "just-a-name", "", "", false},
		{"https://github.com/acme", "api", "", "", false},
	}

	for _, tc := range cases {
		owner, repo, ok := parseGitHubRepo(tc.remote, tc.name)
		assert.Equal(t, tc.ok, ok, "remote=%q name=%q", tc.remote, tc.name)
		assert.Equal(t, tc.owner, owner)
		assert.Equal(t, tc.repo, repo)
	}
}
