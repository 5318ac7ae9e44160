package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	authmw "github.com/mind-engage/gradecalc/internal/auth/middleware"
	"github.com/mind-engage/gradecalc/internal/config"
	"github.com/mind-engage/gradecalc/internal/db"
	"github.com/mind-engage/gradecalc/internal/simulation"
)

type memUsers struct {
	byExt map[string]simulation.User
}

func (m *memUsers) GetUserByExternalID(_ context.Context, ext string) (simulation.User, error) {
	if u, ok := m.byExt[ext]; ok {
		return u, nil
	}
	return simulation.User{}, simulation.ErrNotFound
}

func (m *memUsers) UpsertUser(_ context.Context, u simulation.User) (simulation.User, bool, error) {
	for ext, other := range m.byExt {
		if other.Username == u.Username && ext != u.ExternalID {
			return simulation.User{}, false, simulation.ErrConflict
		}
	}
	_, exists := m.byExt[u.ExternalID]
	if u.ID == "" {
		u.ID = "id-" + u.ExternalID
	}
	m.byExt[u.ExternalID] = u
	return u, !exists, nil
}

func fakeGoogle(t *testing.T, info map[string]string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		assert.Equal(t, "the-code", r.PostForm.Get("code"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "google-access",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"id_token":     "the-id-token",
		})
	})
	mux.HandleFunc("/tokeninfo", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "the-id-token", r.URL.Query().Get("id_token"))
		_ = json.NewEncoder(w).Encode(info)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newProvider(srv *httptest.Server, users Users) *GoogleProvider {
	cfg := config.Config{
		GoogleClientID:     "client-1",
		GoogleClientSecret: "shh",
		GoogleRedirectURI:  "https://grades.example/auth/google/callback",
		PublicURL:          "https://grades.example",
	}
	p := NewGoogleProvider(cfg, users, authmw.NewAuthService("secret", time.Hour))
	p.OAuth.Endpoint.TokenURL = srv.URL + "/token"
	p.OAuth.Endpoint.AuthStyle = oauth2.AuthStyleInParams
	p.TokenInfoURL = srv.URL + "/tokeninfo"
	return p
}

func TestGoogleLoginHandler(t *testing.T) {
	p := newProvider(fakeGoogle(t, nil), &memUsers{byExt: map[string]simulation.User{}})

	rec := httptest.NewRecorder()
	p.LoginHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/google/login?redirect=/dashboard", nil))
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "client-1", loc.Query().Get("client_id"))
	assert.NotEmpty(t, loc.Query().Get("state"))

	var state string
	for _, c := range rec.Result().Cookies() {
		if c.Name == stateCookie {
			state = c.Value
		}
	}
	assert.Equal(t, state, loc.Query().Get("state"))

	rec = httptest.NewRecorder()
	p.LoginHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/google/login?redirect=https://evil.example/", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func callback(p *GoogleProvider, state, cookieState string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=the-code&state="+state, nil)
	req.AddCookie(&http.Cookie{Name: stateCookie, Value: cookieState})
	req.AddCookie(&http.Cookie{Name: redirectCookie, Value: url.QueryEscape("/dashboard")})
	rec := httptest.NewRecorder()
	p.CallbackHandler().ServeHTTP(rec, req)
	return rec
}

func TestGoogleCallback_CreatesStudent(t *testing.T) {
	users := &memUsers{byExt: map[string]simulation.User{}}
	p := newProvider(fakeGoogle(t, map[string]string{
		"iss": "https://accounts.google.com", "aud": "client-1", "sub": "1234", "email": "ana@example.com", "email_verified": "true",
	}), users)

	rec := callback(p, "st", "st")
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/dashboard", loc.Path)

	claims, err := p.Tokens.Parse(loc.Query().Get("access_token"))
	require.NoError(t, err)
	assert.Equal(t, "google|1234", claims.Subject)
	assert.Equal(t, simulation.RoleStudent, claims.Role)

	u, ok := users.byExt["google|1234"]
	require.True(t, ok)
	assert.Equal(t, "ana@example.com", u.Username)
}

func TestGoogleCallback_KeepsExistingRole(t *testing.T) {
	users := &memUsers{byExt: map[string]simulation.User{
		"google|1234": {ID: "u1", ExternalID: "google|1234", Username: "ana@example.com", Role: simulation.RoleAdmin},
	}}
	p := newProvider(fakeGoogle(t, map[string]string{
		"iss": "accounts.google.com", "aud": "client-1", "sub": "1234", "email": "ana@example.com", "email_verified": "true",
	}), users)

	rec := callback(p, "st", "st")
	require.Equal(t, http.StatusFound, rec.Code)
	loc, _ := url.Parse(rec.Header().Get("Location"))
	claims, err := p.Tokens.Parse(loc.Query().Get("access_token"))
	require.NoError(t, err)
	assert.Equal(t, simulation.RoleAdmin, claims.Role)
}

func TestGoogleCallback_Rejections(t *testing.T) {
	tests := []struct {
		name        string
		info        map[string]string
		hd          string
		state       string
		cookieState string
		want        int
	}{
		{"state mismatch", nil, "", "a", "b", http.StatusBadRequest},
		{"wrong audience", map[string]string{"iss": "accounts.google.com", "aud": "other", "sub": "1", "email": "x@y", "email_verified": "true"}, "", "s", "s", http.StatusUnauthorized},
		{"wrong issuer", map[string]string{"iss": "evil", "aud": "client-1", "sub": "1", "email": "x@y", "email_verified": "true"}, "", "s", "s", http.StatusUnauthorized},
		{"unverified email", map[string]string{"iss": "accounts.google.com", "aud": "client-1", "sub": "1", "email": "x@y", "email_verified": "false"}, "", "s", "s", http.StatusUnauthorized},
		{"wrong domain", map[string]string{"iss": "accounts.google.com", "aud": "client-1", "sub": "1", "email": "x@y", "email_verified": "true", "hd": "y"}, "school.edu", "s", "s", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users := &memUsers{byExt: map[string]simulation.User{}}
			p := newProvider(fakeGoogle(t, tt.info), users)
			p.AllowedHD = tt.hd
			rec := callback(p, tt.state, tt.cookieState)
			assert.Equal(t, tt.want, rec.Code)
			assert.Empty(t, users.byExt)
		})
	}
}

func TestGoogleCallback_DoesNotLinkLocalAccount(t *testing.T) {
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "gradecalc.db") + "?mode=rwc&_pragma=foreign_keys(1)"
	h, err := db.Open(ctx, db.DriverSQLite, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	store := simulation.NewSQLStore(h, string(db.DriverSQLite))

	boss, _, err := store.UpsertUser(ctx, simulation.User{Username: "boss@x.edu", Role: simulation.RoleAdmin, PasswordHash: "h1"})
	require.NoError(t, err)

	for _, tt := range []struct {
		verified string
		want     int
	}{
		{"false", http.StatusUnauthorized},
		{"true", http.StatusConflict},
	} {
		p := newProvider(fakeGoogle(t, map[string]string{
			"iss": "accounts.google.com", "aud": "client-1", "sub": "999", "email": "boss@x.edu", "email_verified": tt.verified,
		}), store)
		rec := callback(p, "st", "st")
		assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		assert.Empty(t, rec.Header().Get("Location"))
	}

	got, err := store.GetUserByExternalID(ctx, "local|boss@x.edu")
	require.NoError(t, err)
	assert.Equal(t, boss.ID, got.ID)
	assert.Equal(t, simulation.RoleAdmin, got.Role)
	_, err = store.GetUserByExternalID(ctx, "google|999")
	assert.ErrorIs(t, err, simulation.ErrNotFound)
}
