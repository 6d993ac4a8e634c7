package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"registration-service/internal/token"
)

type ctxKey int

const phoneKey ctxKey = iota

// RegistrationToken admits requests bearing a valid registration token and
// stores its subject phone number in the request context.
func RegistrationToken(signer token.Signer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearer(r)
			if !ok {
				writeJSON(w, http.StatusUnauthorized, Response{Success: false, Error: "missing bearer token"})
				return
			}
			claims, err := signer.Verify(raw, token.TypeRegistration)
			if err != nil {
				msg := "invalid registration token"
				if errors.Is(err, token.ErrTokenExpired) {
					msg = "registration token has expired"
				}
				writeJSON(w, http.StatusUnauthorized, Response{Success: false, Error: msg})
				return
			}
			ctx := context.WithValue(r.Context(), phoneKey, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearer(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(h[len(prefix):]), true
}

// phoneFromContext returns the phone bound by RegistrationToken.
func phoneFromContext(ctx context.Context) string {
	phone, _ := ctx.Value(phoneKey).(string)
	return phone
}
