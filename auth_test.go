package wavelet_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	wavelet "github.com/wavelet-im/wavelet-go"
)

func tokenResponse(access, refresh, name string) string {
	return fmt.Sprintf(`{
		"access_token": %q,
		"token_type": "bearer",
		"expires_in": 3600,
		"refresh_token": %q,
		"user": {"id": "u-1", "email": "alice@example.com", "user_metadata": {"display_name": %q}}
	}`, access, refresh, name)
}

func TestSignIn(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("method: got %s", r.Method)
		}
		if got := r.URL.Query().Get("grant_type"); got != "password" {
			t.Errorf("grant_type: got %q", got)
		}
		var creds map[string]string
		json.NewDecoder(r.Body).Decode(&creds)
		if creds["email"] != "alice@example.com" || creds["password"] != "hunter2" {
			t.Errorf("credentials: %v", creds)
		}
		w.Write([]byte(tokenResponse("at-1", "rt-1", "alice")))
	})
	mux.HandleFunc("/rest/v1/rooms", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer at-1" {
			t.Errorf("token not installed after sign-in: %q", got)
		}
		w.Write([]byte(`[]`))
	})
	client := newTestClient(t, mux)

	var watched []*wavelet.Session
	client.Auth().OnSessionChange(func(s *wavelet.Session) { watched = append(watched, s) })

	sess, err := client.Auth().SignIn(context.Background(), "alice@example.com", "hunter2")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if sess.AccessToken != "at-1" || sess.RefreshToken != "rt-1" {
		t.Fatalf("tokens: %+v", sess)
	}
	if sess.User.ID != "u-1" || sess.User.DisplayName != "alice" {
		t.Fatalf("user: %+v", sess.User)
	}
	if len(watched) != 1 || watched[0] != sess {
		t.Fatalf("watcher calls: %d", len(watched))
	}

	// The access token must ride on subsequent requests.
	if _, err := client.Store().ListRooms(context.Background()); err != nil {
		t.Fatalf("list rooms: %v", err)
	}
}

func TestSignInBadCredentials(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error_code": "invalid_credentials", "msg": "Invalid login credentials"}`))
	}))

	_, err := client.Auth().SignIn(context.Background(), "alice@example.com", "wrong")
	var aerr *wavelet.AuthError
	if !errors.As(err, &aerr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if aerr.Status != http.StatusBadRequest || aerr.Code != "invalid_credentials" {
		t.Fatalf("error detail: %+v", aerr)
	}
	if client.Auth().Session() != nil {
		t.Fatal("failed sign-in left a session behind")
	}
}

func TestSignUp(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/signup" {
			t.Errorf("path: got %s", r.URL.Path)
		}
		var body struct {
			Email string            `json:"email"`
			Data  map[string]string `json:"data"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.Data["display_name"] != "alice" {
			t.Errorf("display name not in metadata: %v", body.Data)
		}
		w.Write([]byte(`{"id": "u-1", "email": "alice@example.com"}`))
	}))

	if err := client.Auth().SignUp(context.Background(), "alice@example.com", "hunter2", "alice"); err != nil {
		t.Fatalf("sign up: %v", err)
	}
}

func TestRestoreRotatesRefreshToken(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type: got %q", got)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["refresh_token"] != "rt-1" {
			t.Errorf("refresh token: got %q", body["refresh_token"])
		}
		w.Write([]byte(tokenResponse("at-2", "rt-2", "alice")))
	}))

	sess, err := client.Auth().Restore(context.Background(), "rt-1")
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if sess.RefreshToken != "rt-2" || sess.AccessToken != "at-2" {
		t.Fatalf("rotation: %+v", sess)
	}
}

func TestUpdateProfile(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(tokenResponse("at-1", "rt-1", "alice")))
	})
	mux.HandleFunc("/auth/v1/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "PUT" {
			t.Errorf("method: got %s", r.Method)
		}
		var body struct {
			Data map[string]string `json:"data"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.Data["display_name"] != "neo" {
			t.Errorf("update payload: %v", body.Data)
		}
		w.Write([]byte(`{"id": "u-1", "email": "alice@example.com", "user_metadata": {"display_name": "neo"}}`))
	})
	client := newTestClient(t, mux)

	if _, err := client.Auth().SignIn(context.Background(), "alice@example.com", "hunter2"); err != nil {
		t.Fatalf("sign in: %v", err)
	}

	name := "neo"
	sess, err := client.Auth().UpdateProfile(context.Background(), wavelet.ProfileUpdate{DisplayName: &name})
	if err != nil {
		t.Fatalf("update profile: %v", err)
	}
	if sess.User.DisplayName != "neo" {
		t.Fatalf("display name: got %q", sess.User.DisplayName)
	}
	if got := client.Auth().Session().User.DisplayName; got != "neo" {
		t.Fatalf("live session not updated: %q", got)
	}
	if sess.AccessToken != "at-1" {
		t.Fatal("profile update must not rotate tokens")
	}
}

func TestUpdateProfileSignedOut(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected while signed out")
	}))

	name := "neo"
	_, err := client.Auth().UpdateProfile(context.Background(), wavelet.ProfileUpdate{DisplayName: &name})
	var aerr *wavelet.AuthError
	if !errors.As(err, &aerr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
}

func TestSignOut(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(tokenResponse("at-1", "rt-1", "alice")))
	})
	mux.HandleFunc("/auth/v1/logout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	client := newTestClient(t, mux)

	var last *wavelet.Session
	client.Auth().OnSessionChange(func(s *wavelet.Session) { last = s })

	if _, err := client.Auth().SignIn(context.Background(), "alice@example.com", "hunter2"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if err := client.Auth().SignOut(context.Background()); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	if client.Auth().Session() != nil {
		t.Fatal("session survived sign-out")
	}
	if last != nil {
		t.Fatal("watcher should see nil after sign-out")
	}
}
