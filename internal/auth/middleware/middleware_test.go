package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mind-engage/gradecalc/internal/rbac"
	"github.com/mind-engage/gradecalc/internal/simulation"
)

type fakeUsers map[string]simulation.User // keyed by username

func (f fakeUsers) GetUserByUsername(_ context.Context, username string) (simulation.User, error) {
	if u, ok := f[username]; ok {
		return u, nil
	}
	return simulation.User{}, simulation.ErrNotFound
}

func (f fakeUsers) GetUserByExternalID(_ context.Context, ext string) (simulation.User, error) {
	if ext == "broken" {
		return simulation.User{}, errors.New("db down")
	}
	for _, u := range f {
		if u.ExternalID == ext {
			return u, nil
		}
	}
	return simulation.User{}, simulation.ErrNotFound
}

func TestIssueAndParse(t *testing.T) {
	a := NewAuthService("secret", time.Hour)
	tok, err := a.IssueJWT("local|ana", "student")
	require.NoError(t, err)

	c, err := a.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, "local|ana", c.Subject)
	assert.Equal(t, "student", c.Role)
	assert.Equal(t, Issuer, c.Issuer)

	_, err = NewAuthService("other", time.Hour).Parse(tok)
	assert.Error(t, err)

	expired := NewAuthService("secret", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, err := expired.IssueJWT("local|ana", "student")
	require.NoError(t, err)
	_, err = a.Parse(old)
	assert.Error(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{Role: "admin"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = a.Parse(unsigned)
	assert.Error(t, err)
}

func TestJWTMiddleware(t *testing.T) {
	a := NewAuthService("secret", time.Hour)
	tok, err := a.IssueJWT("local|ana", "student")
	require.NoError(t, err)

	var gotSub, gotRole string
	h := JWTMiddleware(a)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSub = SubjectFromContext(r.Context())
		gotRole = rbac.RoleFromContext(r.Context())
	}))

	tests := []struct {
		name   string
		header string
		cookie string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"garbage", "Bearer nope", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + tok, "", http.StatusUnauthorized},
		{"bearer", "Bearer " + tok, "", http.StatusOK},
		{"cookie", "", tok, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotSub, gotRole = "", ""
			req := httptest.NewRequest(http.MethodPost, "/api/calculate", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: CookieName, Value: tt.cookie})
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusOK {
				assert.Equal(t, "local|ana", gotSub)
				assert.Equal(t, "student", gotRole)
			} else {
				assert.JSONEq(t, `{"error":"Unauthorized"}`, rec.Body.String())
			}
		})
	}
}

func TestLoginHandler(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	users := fakeUsers{
		"ana": {ID: "u1", ExternalID: "local|ana", Username: "ana", Role: "student", PasswordHash: string(hash)},
		"sso": {ID: "u2", ExternalID: "google|1", Username: "sso", Role: "student"},
	}
	a := NewAuthService("secret", time.Hour)
	h := LoginHandler(a, users)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"ok", `{"username":"ana","password":"s3cret"}`, http.StatusOK},
		{"wrong password", `{"username":"ana","password":"nope"}`, http.StatusUnauthorized},
		{"unknown user", `{"username":"zoe","password":"s3cret"}`, http.StatusUnauthorized},
		{"provider-only account", `{"username":"sso","password":""}`, http.StatusUnauthorized},
		{"bad json", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(tt.body)))
			require.Equal(t, tt.want, rec.Code)
			if tt.want != http.StatusOK {
				return
			}
			var out struct {
				AccessToken string `json:"access_token"`
			}
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
			c, err := a.Parse(out.AccessToken)
			require.NoError(t, err)
			assert.Equal(t, "local|ana", c.Subject)
		})
	}
}

func TestAttachRoleFromStore(t *testing.T) {
	users := fakeUsers{"boss": {ID: "u9", ExternalID: "local|boss", Username: "boss", Role: "admin"}}
	var gotRole string
	h := AttachRoleFromStore(users)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRole = rbac.RoleFromContext(r.Context())
	}))

	tests := []struct {
		sub, claim, want string
		code             int
	}{
		{"local|boss", "student", "admin", http.StatusOK},
		{"local|new", "student", "student", http.StatusOK},
		{"broken", "student", "", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		gotRole = ""
		req := httptest.NewRequest(http.MethodGet, "/api/simulations", nil)
		ctx := rbac.WithRole(WithSubject(req.Context(), tt.sub), tt.claim)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req.WithContext(ctx))
		assert.Equal(t, tt.code, rec.Code, tt.sub)
		assert.Equal(t, tt.want, gotRole, tt.sub)
	}
}
