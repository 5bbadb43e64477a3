package token

import (
	"context"

	"golang.org/x/oauth2"
)

// TokenSource adapts the keeper to oauth2.TokenSource so outbound clients
// can attach the credential via oauth2.Transport. scheme becomes the token
// type, and consequently the Authorization header scheme ("Zoho-oauthtoken"
// for Zoho; non-standard schemes pass through oauth2 untouched).
//
// Each Token call goes through Get, so consumers receive a freshly validated
// value per request and never cache one beyond it. ctx should be the service
// lifetime context: oauth2.Transport does not thread the request context
// through to the source.
func (k *Keeper) TokenSource(ctx context.Context, scheme string) oauth2.TokenSource {
	return &keeperSource{keeper: k, ctx: ctx, scheme: scheme}
}

type keeperSource struct {
	keeper *Keeper
	ctx    context.Context
	scheme string
}

func (s *keeperSource) Token() (*oauth2.Token, error) {
	value, err := s.keeper.Get(s.ctx)
	if err != nil {
		return nil, err
	}

	t := &oauth2.Token{
		AccessToken: value,
		TokenType:   s.scheme,
	}

	// Attach the expiry when the snapshot still matches the value returned;
	// a concurrent refresh may have moved it on, in which case the token is
	// served without one.
	if current, ok := s.keeper.Current(); ok && current.Value == value {
		t.Expiry = current.ExpiresAt
	}

	return t, nil
}
