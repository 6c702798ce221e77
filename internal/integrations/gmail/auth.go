package gmail

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"

	"outreach-agent/internal/integrations/paramstore"
)

// Credentials is the JSON stored under <prefix>/gmail-oauth.
type Credentials struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RefreshToken string `json:"refresh_token"`
}

// Scopes requested for the refresh token.
var Scopes = []string{gmailapi.GmailSendScope, gmailapi.GmailReadonlyScope}

// HTTPClient returns an http.Client that authorizes with the refresh token
// stored in SSM.
func HTTPClient(ctx context.Context, getter paramstore.Getter, prefix string) (*http.Client, error) {
	var creds Credentials
	if err := paramstore.DecodeJSON(ctx, getter, paramstore.Name(prefix, "gmail-oauth"), &creds); err != nil {
		return nil, fmt.Errorf("gmail: load oauth credentials: %w", err)
	}
	if creds.ClientID == "" || creds.RefreshToken == "" {
		return nil, errors.New("gmail: oauth credentials need client_id and refresh_token")
	}
	cfg := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       Scopes,
	}
	return cfg.Client(ctx, &oauth2.Token{RefreshToken: creds.RefreshToken}), nil
}
