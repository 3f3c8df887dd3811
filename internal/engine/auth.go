package engine

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/david/grant-scraper/internal/models"
)

// ApplyAuth decorates req with the source's credentials. OAuth2 sources are
// handled by OAuth2Client instead and return an error here.
func ApplyAuth(req *http.Request, auth *models.AuthConfig) error {
	if auth == nil {
		return nil
	}
	creds := auth.Credentials
	switch auth.Type {
	case models.AuthBearer:
		token := creds["token"]
		if token == "" {
			return models.NewScrapeError(models.ErrAuthentication, "bearer auth missing token credential", nil)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	case models.AuthBasic:
		user, pass := creds["username"], creds["password"]
		if user == "" {
			return models.NewScrapeError(models.ErrAuthentication, "basic auth missing username credential", nil)
		}
		req.SetBasicAuth(user, pass)
	case models.AuthAPIKey:
		key := creds["key"]
		if key == "" {
			return models.NewScrapeError(models.ErrAuthentication, "apikey auth missing key credential", nil)
		}
		header := creds["header"]
		if header == "" {
			header = "X-API-Key"
		}
		req.Header.Set(header, key)
	case models.AuthOAuth2:
		return fmt.Errorf("oauth2 sources must use OAuth2Client")
	default:
		return models.NewScrapeError(models.ErrAuthentication, fmt.Sprintf("unknown auth type %q", auth.Type), nil)
	}
	return nil
}

// OAuth2Client builds an http.Client that acquires and refreshes tokens via
// the client-credentials flow. The base client keeps the SSRF-safe
// transport.
func OAuth2Client(ctx context.Context, auth *models.AuthConfig, base *http.Client) (*http.Client, error) {
	creds := auth.Credentials
	if creds["client_id"] == "" || creds["client_secret"] == "" || creds["token_url"] == "" {
		return nil, models.NewScrapeError(models.ErrAuthentication, "oauth2 auth requires client_id, client_secret, and token_url", nil)
	}
	cfg := &clientcredentials.Config{
		ClientID:     creds["client_id"],
		ClientSecret: creds["client_secret"],
		TokenURL:     creds["token_url"],
	}
	if scopes := creds["scopes"]; scopes != "" {
		cfg.Scopes = strings.Split(scopes, ",")
	}
	if base != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	}
	return cfg.Client(ctx), nil
}
