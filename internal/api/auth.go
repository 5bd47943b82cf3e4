package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const sessionContextKey = contextKey("sessionID")

// Claims is the payload of a session capability token.
type Claims struct {
	SessionID string `json:"session_id"`
	jwt.RegisteredClaims
}

// issueToken signs a token granting access to one session.
func (s *Server) issueToken(sessionID string) (string, error) {
	now := time.Now()
	claims := &Claims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
}

func (s *Server) parseToken(raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// requireSession checks that the request carries a token for the {id} in
// its path. Browsers cannot set headers on websocket upgrades, so a token
// query parameter is accepted as well.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if raw == "" || raw == r.Header.Get("Authorization") {
			raw = r.URL.Query().Get("token")
		}
		if raw == "" {
			respondError(w, http.StatusUnauthorized, "missing session token")
			return
		}

		claims, err := s.parseToken(raw)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "invalid session token")
			return
		}
		if claims.SessionID != r.PathValue("id") {
			respondError(w, http.StatusForbidden, "token not valid for this session")
			return
		}

		ctx := context.WithValue(r.Context(), sessionContextKey, claims.SessionID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionID(r *http.Request) string {
	if v, ok := r.Context().Value(sessionContextKey).(string); ok {
		return v
	}
	return ""
}
