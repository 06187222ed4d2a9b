package wavelet

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// ============================================================================
// Wire types
// ============================================================================

type authUserPayload struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Metadata struct {
		DisplayName string `json:"display_name"`
		AvatarURL   string `json:"avatar_url"`
	} `json:"user_metadata"`
}

type authTokenPayload struct {
	AccessToken  string          `json:"access_token"`
	TokenType    string          `json:"token_type"`
	ExpiresIn    int             `json:"expires_in"`
	RefreshToken string          `json:"refresh_token"`
	User         authUserPayload `json:"user"`
}

type authErrorPayload struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Code             string `json:"error_code"`
	Msg              string `json:"msg"`
}

func (p *authUserPayload) toUser() User {
	return User{
		ID:          p.ID,
		Email:       p.Email,
		DisplayName: p.Metadata.DisplayName,
		AvatarURL:   p.Metadata.AvatarURL,
	}
}

func (p *authTokenPayload) toSession() *Session {
	return &Session{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(p.ExpiresIn) * time.Second),
		User:         p.User.toUser(),
	}
}

func decodeAuthError(resp *apiResponse) error {
	var p authErrorPayload
	_ = json.Unmarshal(resp.Body, &p)
	msg := p.ErrorDescription
	if msg == "" {
		msg = p.Msg
	}
	if msg == "" {
		msg = p.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.Status)
	}
	code := p.Code
	if code == "" {
		code = p.Error
	}
	return &AuthError{Status: resp.Status, Code: code, Message: msg}
}

// ============================================================================
// AuthClient
// ============================================================================

// AuthClient talks to the authentication endpoint and owns the live Session.
// Session changes (sign-in, sign-out, refresh, profile update) are pushed to
// registered watchers; the rest of the client reacts to them, never drives them.
type AuthClient struct {
	c *Client

	mu       sync.Mutex
	session  *Session
	watchers []func(*Session)

	refreshCancel context.CancelFunc
}

func newAuthClient(c *Client) *AuthClient {
	return &AuthClient{c: c}
}

// OnSessionChange registers a callback invoked with the new session after
// sign-in, refresh, or profile update, and with nil after sign-out.
func (a *AuthClient) OnSessionChange(fn func(*Session)) {
	a.watch(fn)
}

// watch registers fn and returns the session current at registration under
// one lock, so a caller can adopt an existing session without missing a
// transition in between.
func (a *AuthClient) watch(fn func(*Session)) *Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.watchers = append(a.watchers, fn)
	return a.session
}

// Session returns the current session, or nil when signed out.
func (a *AuthClient) Session() *Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

func (a *AuthClient) setSession(s *Session) {
	a.mu.Lock()
	a.session = s
	watchers := append([]func(*Session){}, a.watchers...)
	a.mu.Unlock()

	if s != nil {
		a.c.SetToken(s.AccessToken)
	} else {
		a.c.SetToken("")
	}
	for _, fn := range watchers {
		fn(s)
	}
}

// SignUp registers a new account with the display name stored as user
// metadata. The account still has to sign in afterwards.
func (a *AuthClient) SignUp(ctx context.Context, email, password, displayName string) error {
	body := map[string]any{
		"email":    email,
		"password": password,
		"data":     map[string]string{"display_name": displayName},
	}
	resp, err := a.c.doRequest(ctx, "POST", "/auth/v1/signup", body, nil, nil)
	if err != nil {
		return err
	}
	if resp.Status >= 300 {
		return decodeAuthError(resp)
	}
	return nil
}

// SignIn exchanges credentials for a Session and installs it on the client.
func (a *AuthClient) SignIn(ctx context.Context, email, password string) (*Session, error) {
	query := url.Values{"grant_type": {"password"}}
	body := map[string]string{"email": email, "password": password}
	resp, err := a.c.doRequest(ctx, "POST", "/auth/v1/token", body, query, nil)
	if err != nil {
		return nil, err
	}
	if resp.Status >= 300 {
		return nil, decodeAuthError(resp)
	}
	payload, err := decodeJSON[authTokenPayload](resp.Body)
	if err != nil {
		return nil, err
	}
	sess := payload.toSession()
	a.setSession(sess)
	return sess, nil
}

// Restore installs a previously persisted session without a network round
// trip, then refreshes it so the token is known-good.
func (a *AuthClient) Restore(ctx context.Context, refreshToken string) (*Session, error) {
	return a.refresh(ctx, refreshToken)
}

// RefreshSession trades the current refresh token for a new access token.
func (a *AuthClient) RefreshSession(ctx context.Context) (*Session, error) {
	a.mu.Lock()
	sess := a.session
	a.mu.Unlock()
	if sess == nil {
		return nil, &AuthError{Status: http.StatusUnauthorized, Message: "no session to refresh"}
	}
	return a.refresh(ctx, sess.RefreshToken)
}

func (a *AuthClient) refresh(ctx context.Context, refreshToken string) (*Session, error) {
	query := url.Values{"grant_type": {"refresh_token"}}
	body := map[string]string{"refresh_token": refreshToken}
	resp, err := a.c.doRequest(ctx, "POST", "/auth/v1/token", body, query, nil)
	if err != nil {
		return nil, err
	}
	if resp.Status >= 300 {
		return nil, decodeAuthError(resp)
	}
	payload, err := decodeJSON[authTokenPayload](resp.Body)
	if err != nil {
		return nil, err
	}
	sess := payload.toSession()
	a.setSession(sess)
	return sess, nil
}

// SignOut revokes the session server-side and clears it locally. Watchers
// receive nil. Local state is cleared even when the revoke call fails.
func (a *AuthClient) SignOut(ctx context.Context) error {
	resp, err := a.c.doRequest(ctx, "POST", "/auth/v1/logout", nil, nil, nil)
	a.StopAutoRefresh()
	a.setSession(nil)
	if err != nil {
		return err
	}
	if resp.Status >= 300 {
		return decodeAuthError(resp)
	}
	return nil
}

// UpdateProfile changes display name and/or avatar URL in the user metadata.
// On success the live session is updated, so subsequently sent messages carry
// the new identity; already-sent history is never relabeled.
func (a *AuthClient) UpdateProfile(ctx context.Context, update ProfileUpdate) (*Session, error) {
	a.mu.Lock()
	sess := a.session
	a.mu.Unlock()
	if sess == nil {
		return nil, &AuthError{Status: http.StatusUnauthorized, Message: "not signed in"}
	}

	data := map[string]string{}
	if update.DisplayName != nil {
		data["display_name"] = *update.DisplayName
	}
	if update.AvatarURL != nil {
		data["avatar_url"] = *update.AvatarURL
	}
	if len(data) == 0 {
		return sess, nil
	}

	resp, err := a.c.doRequest(ctx, "PUT", "/auth/v1/user", map[string]any{"data": data}, nil, nil)
	if err != nil {
		return nil, err
	}
	if resp.Status >= 300 {
		return nil, decodeAuthError(resp)
	}
	payload, err := decodeJSON[authUserPayload](resp.Body)
	if err != nil {
		return nil, err
	}

	updated := *sess
	updated.User = payload.toUser()
	a.setSession(&updated)
	return &updated, nil
}

// StartAutoRefresh refreshes the session in the background shortly before
// each expiry, until the context is cancelled or StopAutoRefresh is called.
func (a *AuthClient) StartAutoRefresh(ctx context.Context) {
	a.mu.Lock()
	if a.refreshCancel != nil {
		a.mu.Unlock()
		return
	}
	refreshCtx, cancel := context.WithCancel(ctx)
	a.refreshCancel = cancel
	a.mu.Unlock()

	go a.refreshLoop(refreshCtx)
}

// StopAutoRefresh cancels the background refresh loop. Idempotent.
func (a *AuthClient) StopAutoRefresh() {
	a.mu.Lock()
	cancel := a.refreshCancel
	a.refreshCancel = nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (a *AuthClient) refreshLoop(ctx context.Context) {
	for {
		a.mu.Lock()
		sess := a.session
		a.mu.Unlock()
		if sess == nil {
			return
		}

		wait := time.Until(sess.ExpiresAt) - 30*time.Second
		if wait < time.Second {
			wait = time.Second
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		if _, err := a.RefreshSession(ctx); err != nil {
			// Transient failure: retry on the next loop with a short wait.
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
		}
	}
}
