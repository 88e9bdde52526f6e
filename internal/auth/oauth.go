package auth

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/okian/swapbridge/internal/domain/model"
)

// OAuthExchanger logs in with the OAuth2 resource owner password grant.
type OAuthExchanger struct {
	config oauth2.Config
	client *http.Client
}

// NewOAuthExchanger creates an exchanger for the token endpoint. client may
// be nil to use http.DefaultClient.
func NewOAuthExchanger(endpoint, clientID string, client *http.Client) *OAuthExchanger {
	return &OAuthExchanger{
		config: oauth2.Config{
			ClientID: clientID,
			Endpoint: oauth2.Endpoint{
				TokenURL:  endpoint,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		client: client,
	}
}

// Exchange implements Exchanger.
func (e *OAuthExchanger) Exchange(ctx context.Context, cred model.Credential) (string, error) {
	if e.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, e.client)
	}
	tok, err := e.config.PasswordCredentialsToken(ctx, cred.Username, cred.Secret)
	if err != nil {
		return "", fmt.Errorf("password grant at %s: %w", e.config.Endpoint.TokenURL, err)
	}
	return tok.AccessToken, nil
}
