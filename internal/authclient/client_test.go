package authclient_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"jointly/internal/authclient"
	"jointly/internal/domain"
)

func tokenResponse(role string) map[string]any {
	return map[string]any{
		"access_token":  "at-1",
		"refresh_token": "rt-1",
		"token_type":    "bearer",
		"user": map[string]any{
			"id":         "u1",
			"email":      "asha@example.com",
			"name":       "Asha",
			"role":       role,
			"is_active":  true,
			"created_at": "2026-01-01T00:00:00Z",
		},
	}
}

func TestLoginSendsFormEncodedCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/auth/login" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
			t.Errorf("content type = %q", ct)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if r.PostForm.Get("username") != "asha@example.com" || r.PostForm.Get("password") != "secret" {
			t.Errorf("form = %v", r.PostForm)
		}
		json.NewEncoder(w).Encode(tokenResponse("LANDOWNER"))
	}))
	defer srv.Close()

	c := authclient.New(srv.URL)
	resp, err := c.Login(context.Background(), "asha@example.com", "secret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if resp.AccessToken != "at-1" || resp.RefreshToken != "rt-1" {
		t.Fatalf("tokens = %+v", resp)
	}
	if got := resp.User.AppRole(); got != domain.RoleLandowner {
		t.Errorf("app role = %s", got)
	}
}

func TestRegisterSendsJSONAndNormalizesRole(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/auth/register" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		if body["role"] != "PROFESSIONAL" || body["name"] != "Ravi" {
			t.Errorf("body = %v", body)
		}
		json.NewEncoder(w).Encode(tokenResponse("PROFESSIONAL"))
	}))
	defer srv.Close()

	c := authclient.New(srv.URL)
	resp, err := c.Register(context.Background(), "Ravi", "ravi@example.com", "secret", authclient.BackendRoleProfessional)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if got := resp.User.AppRole(); got != domain.RoleBuilder {
		t.Errorf("app role = %s, want builder", got)
	}
	if _, err := c.Register(context.Background(), "x", "x@example.com", "secret", "ADMIN"); err == nil {
		t.Error("invalid backend role accepted")
	}
}

func TestMeSendsBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer at-1" {
			t.Errorf("authorization = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id": "u1", "email": "asha@example.com", "name": "Asha",
			"role": "LANDOWNER", "is_active": true, "created_at": "2026-01-01T00:00:00Z",
		})
	}))
	defer srv.Close()

	user, err := authclient.New(srv.URL).Me(context.Background(), "at-1")
	if err != nil {
		t.Fatal(err)
	}
	if user.User().Role != domain.RoleLandowner {
		t.Errorf("user = %+v", user)
	}
}

func TestRefreshRotatesTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["refresh_token"] != "rt-1" {
			t.Errorf("body = %v", body)
		}
		resp := tokenResponse("LANDOWNER")
		resp["access_token"] = "at-2"
		resp["refresh_token"] = "rt-2"
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	resp, err := authclient.New(srv.URL).Refresh(context.Background(), "rt-1")
	if err != nil {
		t.Fatal(err)
	}
	if resp.AccessToken != "at-2" || resp.RefreshToken != "rt-2" {
		t.Fatalf("tokens = %+v", resp)
	}
}

func TestErrorDetailSurfaces(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		want    string
	}{
		{"string detail", `{"detail":"Incorrect email or password"}`, "Incorrect email or password"},
		{"array detail", `{"detail":["email required","password too short"]}`, "email required, password too short"},
		{"no detail", `{}`, "401 Unauthorized"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(tc.payload))
			}))
			defer srv.Close()

			_, err := authclient.New(srv.URL).Login(context.Background(), "a@example.com", "bad")
			var authErr *authclient.AuthError
			if !errors.As(err, &authErr) {
				t.Fatalf("err = %v", err)
			}
			if authErr.StatusCode != http.StatusUnauthorized || authErr.Message != tc.want {
				t.Fatalf("got %d %q, want 401 %q", authErr.StatusCode, authErr.Message, tc.want)
			}
		})
	}
}
