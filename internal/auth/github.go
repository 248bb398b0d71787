package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	gh "github.com/google/go-github/v66/github"
)

// GitHubVerifier checks a token against the authenticated-user endpoint.
type GitHubVerifier struct {
	httpClient *http.Client
	baseURL    *url.URL
}

// NewGitHubVerifier returns a verifier for apiURL (empty means api.github.com).
func NewGitHubVerifier(apiURL string, httpClient *http.Client) (*GitHubVerifier, error) {
	v := &GitHubVerifier{httpClient: httpClient}
	if apiURL != "" {
		u, err := url.Parse(strings.TrimSuffix(apiURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("parse github api url: %w", err)
		}
		v.baseURL = u
	}
	return v, nil
}

// Verify implements Verifier.
func (v *GitHubVerifier) Verify(ctx context.Context, token string) (User, error) {
	c := gh.NewClient(v.httpClient).WithAuthToken(token)
	if v.baseURL != nil {
		c.BaseURL = v.baseURL
	}
	u, _, err := c.Users.Get(ctx, "")
	if err != nil {
		var apiErr *gh.ErrorResponse
		if errors.As(err, &apiErr) && apiErr.Response != nil && apiErr.Response.StatusCode == http.StatusUnauthorized {
			return User{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		return User{}, fmt.Errorf("verify token: %w", err)
	}
	return User{Login: u.GetLogin(), DisplayName: u.GetName(), AvatarURL: u.GetAvatarURL()}, nil
}

// StaticVerifier accepts a fixed token set; used for local drivers and tests.
type StaticVerifier map[string]User

// Verify implements Verifier.
func (s StaticVerifier) Verify(_ context.Context, token string) (User, error) {
	u, ok := s[token]
	if !ok {
		return User{}, ErrInvalidToken
	}
	return u, nil
}
