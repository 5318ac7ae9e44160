package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	authmw "github.com/mind-engage/gradecalc/internal/auth/middleware"
	"github.com/mind-engage/gradecalc/internal/config"
	"github.com/mind-engage/gradecalc/internal/httpx"
	"github.com/mind-engage/gradecalc/internal/simulation"
)

const (
	stateCookie    = "gc_oauth_state"
	redirectCookie = "gc_post_auth_redirect"

	googleAuthURL      = "https://accounts.google.com/o/oauth2/v2/auth"
	googleTokenURL     = "https://oauth2.googleapis.com/token"
	googleTokenInfoURL = "https://oauth2.googleapis.com/tokeninfo"
)

// Users is what sign-in needs from the store.
type Users interface {
	GetUserByExternalID(ctx context.Context, externalID string) (simulation.User, error)
	UpsertUser(ctx context.Context, u simulation.User) (simulation.User, bool, error)
}

// GoogleProvider signs users in with Google and mints internal tokens.
type GoogleProvider struct {
	OAuth        *oauth2.Config
	TokenInfoURL string
	AllowedHD    string
	PublicURL    string
	HTTPClient   *http.Client

	Users  Users
	Tokens *authmw.AuthService
}

func NewGoogleProvider(cfg config.Config, users Users, tokens *authmw.AuthService) *GoogleProvider {
	return &GoogleProvider{
		OAuth: &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURI,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     oauth2.Endpoint{AuthURL: googleAuthURL, TokenURL: googleTokenURL},
		},
		TokenInfoURL: googleTokenInfoURL,
		AllowedHD:    cfg.GoogleAllowedHD,
		PublicURL:    cfg.PublicURL,
		HTTPClient:   &http.Client{Timeout: 10 * time.Second},
		Users:        users,
		Tokens:       tokens,
	}
}

// sameOrigin allows relative targets, PUBLIC_URL's origin and localhost.
func (p *GoogleProvider) sameOrigin(target string) bool {
	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	if u.Host == "" || strings.HasPrefix(u.Host, "localhost") {
		return true
	}
	base, err := url.Parse(p.PublicURL)
	return err == nil && base.Host != "" && u.Scheme == base.Scheme && u.Host == base.Host
}

func (p *GoogleProvider) defaultTarget() string {
	if p.PublicURL == "" {
		return "/"
	}
	return strings.TrimRight(p.PublicURL, "/") + "/"
}

func randomState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// GET /auth/google/login → redirect to Google
func (p *GoogleProvider) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		next := r.URL.Query().Get("redirect")
		if next == "" {
			next = p.defaultTarget()
		}
		if !p.sameOrigin(next) {
			httpx.WriteError(w, http.StatusBadRequest, "bad redirect")
			return
		}

		state, err := randomState()
		if err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}
		expires := time.Now().Add(10 * time.Minute)
		http.SetCookie(w, &http.Cookie{
			Name: stateCookie, Value: state, Path: "/",
			HttpOnly: true, Secure: true, SameSite: http.SameSiteLaxMode, Expires: expires,
		})
		http.SetCookie(w, &http.Cookie{
			Name: redirectCookie, Value: url.QueryEscape(next), Path: "/",
			HttpOnly: true, Secure: true, SameSite: http.SameSiteLaxMode, Expires: expires,
		})

		opts := []oauth2.AuthCodeOption{oauth2.AccessTypeOnline}
		if p.AllowedHD != "" {
			opts = append(opts, oauth2.SetAuthURLParam("hd", p.AllowedHD))
		}
		http.Redirect(w, r, p.OAuth.AuthCodeURL(state, opts...), http.StatusFound)
	}
}

type tokenInfo struct {
	Iss           string `json:"iss"`
	Aud           string `json:"aud"`
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified string `json:"email_verified"`
	Hd            string `json:"hd"`
}

var errIdentity = errors.New("identity rejected")

// verify checks the id_token with the provider's tokeninfo endpoint.
func (p *GoogleProvider) verify(ctx context.Context, idToken string) (tokenInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		p.TokenInfoURL+"?id_token="+url.QueryEscape(idToken), nil)
	if err != nil {
		return tokenInfo{}, err
	}
	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return tokenInfo{}, fmt.Errorf("tokeninfo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return tokenInfo{}, fmt.Errorf("%w: tokeninfo status %d", errIdentity, resp.StatusCode)
	}
	var ti tokenInfo
	if err := json.NewDecoder(resp.Body).Decode(&ti); err != nil {
		return tokenInfo{}, fmt.Errorf("tokeninfo decode: %w", err)
	}
	switch {
	case ti.Aud != p.OAuth.ClientID:
		return tokenInfo{}, fmt.Errorf("%w: invalid aud", errIdentity)
	case ti.Iss != "accounts.google.com" && ti.Iss != "https://accounts.google.com":
		return tokenInfo{}, fmt.Errorf("%w: invalid iss", errIdentity)
	case ti.Sub == "" || ti.Email == "":
		return tokenInfo{}, fmt.Errorf("%w: missing sub or email", errIdentity)
	case ti.EmailVerified != "true":
		return tokenInfo{}, fmt.Errorf("%w: email not verified", errIdentity)
	case p.AllowedHD != "" && !strings.EqualFold(ti.Hd, p.AllowedHD):
		return tokenInfo{}, fmt.Errorf("%w: unauthorized domain", errIdentity)
	}
	return ti, nil
}

// GET /auth/google/callback → exchange code, verify id_token, upsert user,
// mint internal JWT, redirect with ?access_token=
func (p *GoogleProvider) CallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(stateCookie)
		if err != nil || c.Value == "" || c.Value != r.URL.Query().Get("state") {
			httpx.WriteError(w, http.StatusBadRequest, "bad state")
			return
		}
		code := r.URL.Query().Get("code")
		if code == "" {
			httpx.WriteError(w, http.StatusBadRequest, "missing code")
			return
		}

		ctx := context.WithValue(r.Context(), oauth2.HTTPClient, p.HTTPClient)
		tok, err := p.OAuth.Exchange(ctx, code)
		if err != nil {
			log.Printf("google: exchange: %v", err)
			httpx.WriteError(w, http.StatusBadGateway, "token exchange error")
			return
		}
		idToken, _ := tok.Extra("id_token").(string)
		if idToken == "" {
			httpx.WriteError(w, http.StatusBadGateway, "bad token response")
			return
		}
		ti, err := p.verify(r.Context(), idToken)
		if errors.Is(err, errIdentity) {
			httpx.WriteError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		if err != nil {
			log.Printf("google: %v", err)
			httpx.WriteError(w, http.StatusBadGateway, "tokeninfo error")
			return
		}

		// Existing rows keep their role; new sign-ins are students. An email
		// already used by another account is never linked to this subject.
		u := simulation.User{ExternalID: "google|" + ti.Sub, Username: ti.Email, Role: simulation.RoleStudent}
		existing, err := p.Users.GetUserByExternalID(r.Context(), u.ExternalID)
		switch {
		case err == nil:
			u.Role = existing.Role
		case !errors.Is(err, simulation.ErrNotFound):
			log.Printf("google: lookup user: %v", err)
			httpx.WriteError(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}
		u, _, err = p.Users.UpsertUser(r.Context(), u)
		if errors.Is(err, simulation.ErrConflict) {
			httpx.WriteError(w, http.StatusConflict, "email already belongs to another account")
			return
		}
		if err != nil {
			log.Printf("google: upsert user: %v", err)
			httpx.WriteError(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}

		access, err := p.Tokens.IssueJWT(u.ExternalID, u.Role)
		if err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, "issue token")
			return
		}
		http.SetCookie(w, &http.Cookie{
			Name: authmw.CookieName, Value: access, Path: "/",
			HttpOnly: true, Secure: true, SameSite: http.SameSiteLaxMode,
			Expires: time.Now().Add(p.Tokens.TTL()),
		})

		target := ""
		if c, err := r.Cookie(redirectCookie); err == nil {
			target, _ = url.QueryUnescape(c.Value)
		}
		if target == "" || !p.sameOrigin(target) {
			target = p.defaultTarget()
		}
		http.SetCookie(w, &http.Cookie{Name: stateCookie, Value: "", Path: "/", MaxAge: -1})
		http.SetCookie(w, &http.Cookie{Name: redirectCookie, Value: "", Path: "/", MaxAge: -1})

		dest, _ := url.Parse(target)
		q := dest.Query()
		q.Set("access_token", access)
		dest.RawQuery = q.Encode()
		http.Redirect(w, r, dest.String(), http.StatusFound)
	}
}
