package auth

import "testing"

func TestIsPublicPath(t *testing.T) {
	for _, p := range []string{"/health", "/api/v1/auth/login", "/api/v1/auth/register"} {
		if !IsPublicPath(p) {
			t.Errorf("expected %s to be public", p)
		}
	}
	for _, p := range []string{"/api/v1/connections", "/api/v1/auth/logout", "/api/v1/ws/dashboard"} {
		if IsPublicPath(p) {
			t.Errorf("expected %s to require auth", p)
		}
	}
}
