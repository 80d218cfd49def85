package microsoft

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/parcelcrm/auth/social"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderTenantEndpoints(t *testing.T) {
	t.Run("defaults to the common tenant", func(t *testing.T) {
		provider := New(Config{ClientID: "client-id"})
		assert.True(t, strings.HasPrefix(
			provider.AuthCodeURL("s"),
			"https://login.microsoftonline.com/common/oauth2/v2.0/authorize?",
		))
	})

	t.Run("tenant id is substituted", func(t *testing.T) {
		provider := New(Config{ClientID: "client-id", Tenant: "contoso.onmicrosoft.com"})
		assert.True(t, strings.HasPrefix(
			provider.AuthCodeURL("s"),
			"https://login.microsoftonline.com/contoso.onmicrosoft.com/oauth2/v2.0/authorize?",
		))
	})
}

func TestProviderAuthCodeURL(t *testing.T) {
	provider := New(Config{
		ClientID:    "client-id",
		CallbackURL: "https://crm.example.com/auth/microsoft/callback",
	})

	authURL := provider.AuthCodeURL("state-token", social.WithPKCE("challenge", "S256"))

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)

	query := parsed.Query()
	assert.Equal(t, "client-id", query.Get("client_id"))
	assert.Equal(t, "https://crm.example.com/auth/microsoft/callback", query.Get("redirect_uri"))
	assert.Equal(t, "state-token", query.Get("state"))
	assert.Equal(t, "code", query.Get("response_type"))
	assert.Equal(t, "query", query.Get("response_mode"))
	assert.Equal(t, "challenge", query.Get("code_challenge"))
	assert.Equal(t, "S256", query.Get("code_challenge_method"))

	scope := query.Get("scope")
	assert.Contains(t, scope, "openid")
	assert.Contains(t, scope, "offline_access")
}

func TestProviderExchangeProfileAndRefresh(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			body, err := io.ReadAll(r.Body)
			assert.NoError(t, err)
			values, err := url.ParseQuery(string(body))
			assert.NoError(t, err)

			grantType := values.Get("grant_type")
			w.Header().Set("Content-Type", "application/json")
			if grantType == "authorization_code" {
				assert.Equal(t, "client-id", values.Get("client_id"))
				assert.Equal(t, "client-secret", values.Get("client_secret"))
				assert.Equal(t, "auth-code", values.Get("code"))
				assert.Equal(t, "verifier", values.Get("code_verifier"))
				_ = json.NewEncoder(w).Encode(map[string]any{
					"access_token":  "token",
					"token_type":    "Bearer",
					"expires_in":    3600,
					"refresh_token": "refresh-token",
					"scope":         "openid email profile offline_access",
					"id_token":      "id-token",
				})
				return
			}

			if grantType == "refresh_token" {
				assert.Equal(t, "refresh-token", values.Get("refresh_token"))
				// the identity platform requires scope on refresh
				assert.Contains(t, values.Get("scope"), "offline_access")
				_ = json.NewEncoder(w).Encode(map[string]any{
					"access_token":  "refreshed",
					"token_type":    "Bearer",
					"expires_in":    7200,
					"refresh_token": "rotated-refresh-token",
					"scope":         "openid email profile offline_access",
				})
				return
			}

			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": "unsupported_grant"})
		case "/userinfo":
			assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"sub":        "ms-user-1",
				"email":      "broker@example.com",
				"name":       "Bo Broker",
				"givenname":  "Bo",
				"familyname": "Broker",
				"picture":    "https://graph.microsoft.com/v1.0/me/photo/$value",
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	provider := New(Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		CallbackURL:  "https://crm.example.com/auth/microsoft/callback",
		TokenURL:     server.URL + "/token",
		UserInfoURL:  server.URL + "/userinfo",
	})

	token, err := provider.Exchange(context.Background(), "auth-code", social.WithCodeVerifier("verifier"))
	require.NoError(t, err)
	assert.Equal(t, "token", token.AccessToken)
	assert.Equal(t, "refresh-token", token.RefreshToken)
	assert.True(t, token.ExpiresAt.After(time.Now()))

	profile, err := provider.Profile(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "ms-user-1", profile.ProviderUserID)
	assert.Equal(t, "microsoft", profile.Provider)
	assert.Equal(t, "broker@example.com", profile.Email)
	assert.True(t, profile.EmailVerified)
	assert.Equal(t, "Bo", profile.FirstName)
	assert.Equal(t, "Broker", profile.LastName)

	refreshed, err := provider.RefreshToken(context.Background(), "refresh-token")
	require.NoError(t, err)
	assert.Equal(t, "refreshed", refreshed.AccessToken)
	assert.Equal(t, "rotated-refresh-token", refreshed.RefreshToken)
}

func TestProviderProfileWithoutEmail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"sub":  "ms-user-2",
			"name": "No Mail",
		})
	}))
	defer server.Close()

	provider := New(Config{ClientID: "client-id", UserInfoURL: server.URL})

	profile, err := provider.Profile(context.Background(), &social.Token{AccessToken: "token"})
	require.NoError(t, err)
	// no email claim released means the directory never attested one
	assert.False(t, profile.EmailVerified)
	assert.Empty(t, profile.Email)
}

func TestProviderExchangeErrorNormalized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":             "invalid_grant",
			"error_description": "AADSTS70008: The provided authorization code has expired.",
		})
	}))
	defer server.Close()

	provider := New(Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		CallbackURL:  "https://crm.example.com/auth/microsoft/callback",
		TokenURL:     server.URL,
	})

	_, err := provider.Exchange(context.Background(), "stale-code")
	require.Error(t, err)

	var perr *social.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "microsoft", perr.Provider)
	assert.Equal(t, "exchange", perr.Operation)
	assert.Equal(t, http.StatusBadRequest, perr.Status)
	assert.Equal(t, "invalid_grant", perr.Code)
}

func TestProviderProfileGraphErrorNormalized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"code":    "InvalidAuthenticationToken",
				"message": "Access token has expired or is not yet valid.",
			},
		})
	}))
	defer server.Close()

	provider := New(Config{ClientID: "client-id", UserInfoURL: server.URL})

	_, err := provider.Profile(context.Background(), &social.Token{AccessToken: "bad"})
	require.Error(t, err)

	var perr *social.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "profile", perr.Operation)
	assert.Equal(t, http.StatusUnauthorized, perr.Status)
	assert.Equal(t, "InvalidAuthenticationToken", perr.Code)
}
