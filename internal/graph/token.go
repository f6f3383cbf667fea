package graph

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

type ClientCredentialsOptions struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	// TokenURL overrides the tenant token endpoint, mostly for tests.
	TokenURL string
	Scopes   []string
}

// ClientCredentials returns a TokenProvider backed by the OAuth2 client
// credentials grant. Tokens are cached and refreshed by the oauth2 package.
func ClientCredentials(opts ClientCredentialsOptions) (TokenProvider, error) {
	tenant := strings.TrimSpace(opts.TenantID)
	clientID := strings.TrimSpace(opts.ClientID)
	secret := strings.TrimSpace(opts.ClientSecret)
	if tenant == "" || clientID == "" || secret == "" {
		return nil, fmt.Errorf("tenant id, client id and client secret are required")
	}
	tokenURL := strings.TrimSpace(opts.TokenURL)
	if tokenURL == "" {
		tokenURL = fmt.Sprintf(defaultAuthorityTemplate, tenant)
	}
	scopes := opts.Scopes
	if len(scopes) == 0 {
		scopes = []string{DefaultScope}
	}
	cfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: secret,
		TokenURL:     tokenURL,
		Scopes:       scopes,
		AuthStyle:    oauth2.AuthStyleInParams,
	}

	var (
		once   sync.Once
		source oauth2.TokenSource
	)
	return func(ctx context.Context) (string, error) {
		// The token source keeps the context of its first use for refreshes,
		// so it is bound to a background context rather than a per-run one.
		once.Do(func() {
			source = cfg.TokenSource(context.Background())
		})
		token, err := source.Token()
		if err != nil {
			return "", err
		}
		return token.AccessToken, nil
	}, nil
}
