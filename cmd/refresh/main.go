// This command is only used for local testing: it performs a single
// refresh-token exchange against the configured CRM account server and
// prints the resulting access token, so that an operator can verify
// credentials before deploying them.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/sethvargo/go-envconfig"

	"github.com/spectra-media/lead-bridge/internal/token"
)

type Config struct {
	TokenURL     string `env:"CRM_TOKEN_URL, default=https://accounts.zoho.eu/oauth/v2/token"`
	ClientID     string `env:"CRM_CLIENT_ID, required"`
	ClientSecret string `env:"CRM_CLIENT_SECRET, required"`
	RefreshToken string `env:"CRM_REFRESH_TOKEN, required"`
}

func main() {
	ctx := context.Background()

	cfg := Config{}
	err := envconfig.Process(ctx, &cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading config: %v\n", err)
		os.Exit(1)
	}

	provider := token.NewHTTPProvider(cfg.TokenURL, http.DefaultClient)

	grant, err := provider.Refresh(ctx, token.Credentials{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RefreshToken: cfg.RefreshToken,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "token exchange failed: %v\n", err)
		os.Exit(1)
	}

	expiry := time.Now().Add(grant.ExpiresIn)

	fmt.Printf("access token: %s\n", grant.AccessToken)
	fmt.Printf("expires in:   %s (%s)\n", grant.ExpiresIn, expiry.Format(time.RFC3339))
}
