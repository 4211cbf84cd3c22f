package server

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/GoCodeAlone/tally/actor"
	"github.com/GoCodeAlone/tally/server/api"
)

// jwtClaims holds the JWT payload fields. Role is informational; requests are
// authorized against the directory's current role.
type jwtClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// signJWT creates an HS256 token for u valid for ttl.
func signJWT(secret string, u *actor.User, now time.Time, ttl time.Duration) (string, error) {
	claims := jwtClaims{
		Role: string(u.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// verifyJWT validates a token and returns its subject.
func verifyJWT(secret, token string) (string, error) {
	var claims jwtClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// generateSecret creates a random 32-byte secret.
func generateSecret() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

// jwtSecret returns the configured JWT secret, generating one if empty.
func (s *Server) jwtSecret() string {
	if s.cfg.Auth.JWTSecret != "" {
		return s.cfg.Auth.JWTSecret
	}
	s.secretOnce.Do(func() {
		s.generatedSecret = generateSecret()
	})
	return s.generatedSecret
}

func (s *Server) tokenTTL() time.Duration {
	if s.cfg.Auth.TokenTTL > 0 {
		return s.cfg.Auth.TokenTTL
	}
	return 24 * time.Hour
}

// credentials is the body accepted by login and register.
type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// loginResponse is the body returned by a successful login.
type loginResponse struct {
	Token string      `json:"token"`
	User  actor.Actor `json:"user"`
}

// handleLogin validates credentials and issues a JWT.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	u, err := s.directory.Authenticate(r.Context(), req.Username, req.Password)
	if errors.Is(err, actor.ErrBadCredentials) {
		s.logger.Warn("login failed", slog.String("username", req.Username))
		writeJSONError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		s.logger.Error("login", slog.Any("err", err))
		writeJSONError(w, http.StatusInternalServerError, "could not verify credentials")
		return
	}

	token, err := signJWT(s.jwtSecret(), u, time.Now(), s.tokenTTL())
	if err != nil {
		s.logger.Error("sign jwt", slog.Any("err", err))
		writeJSONError(w, http.StatusInternalServerError, "could not issue token")
		return
	}
	if err := s.directory.Touch(r.Context(), u.Username); err != nil {
		s.logger.Warn("record activity", slog.String("username", u.Username), slog.Any("err", err))
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, User: u.Actor()})
}

// handleRegister creates an Employee account when open registration is on.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Auth.OpenRegistration {
		writeJSONError(w, http.StatusForbidden, "registration is closed")
		return
	}
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	created, err := s.directory.Register(r.Context(), req.Username, req.Password, actor.RoleEmployee)
	if errors.Is(err, actor.ErrInvalidUser) {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("register", slog.Any("err", err))
		writeJSONError(w, http.StatusInternalServerError, "could not create account")
		return
	}
	if !created {
		writeJSON(w, http.StatusConflict, map[string]any{"created": false, "error": "user exists"})
		return
	}
	s.logger.Info("user registered", slog.String("username", req.Username))
	writeJSON(w, http.StatusCreated, map[string]bool{"created": true})
}

// handleMe returns the currently authenticated user.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	a, _ := api.ActorFrom(r.Context())
	writeJSON(w, http.StatusOK, a)
}

// errUnauthenticated marks failures that are the caller's fault. Any other
// error from actorFromRequest means the directory could not be consulted.
var errUnauthenticated = errors.New("unauthenticated")

// actorFromRequest authenticates r from the Authorization header or, for SSE,
// the token query parameter, and resolves the actor's current role.
func (s *Server) actorFromRequest(r *http.Request) (actor.Actor, error) {
	var token string
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		token = strings.TrimPrefix(h, "Bearer ")
	} else {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return actor.Actor{}, fmt.Errorf("%w: missing or invalid Authorization header", errUnauthenticated)
	}
	subject, err := verifyJWT(s.jwtSecret(), token)
	if err != nil {
		return actor.Actor{}, fmt.Errorf("%w: invalid token: %v", errUnauthenticated, err)
	}
	u, err := s.directory.Get(r.Context(), subject)
	if errors.Is(err, actor.ErrNotFound) {
		return actor.Actor{}, fmt.Errorf("%w: invalid token: %v", errUnauthenticated, err)
	}
	if err != nil {
		return actor.Actor{}, fmt.Errorf("look up %s: %w", subject, err)
	}
	return u.Actor(), nil
}

// writeAuthError answers 401 for bad credentials and 503 when the directory
// is unavailable.
func (s *Server) writeAuthError(w http.ResponseWriter, err error) {
	if errors.Is(err, errUnauthenticated) {
		writeJSONError(w, http.StatusUnauthorized, strings.TrimPrefix(err.Error(), errUnauthenticated.Error()+": "))
		return
	}
	s.logger.Error("authenticate", slog.Any("err", err))
	writeJSONError(w, http.StatusServiceUnavailable, "user directory unavailable")
}

// authMiddleware enforces JWT authentication on wrapped handlers and places
// the actor in the request context.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a, err := s.actorFromRequest(r)
		if err != nil {
			s.writeAuthError(w, err)
			return
		}
		if err := s.directory.Touch(r.Context(), a.ID); err != nil {
			s.logger.Warn("record activity", slog.String("username", a.ID), slog.Any("err", err))
		}
		next.ServeHTTP(w, r.WithContext(api.WithActor(r.Context(), a)))
	})
}
