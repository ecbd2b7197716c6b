package admin

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultAdminPass = "mushKeeper"
	adminPassFile    = "admin_pass.hash" // stored in data dir
	tokenIssuer      = "mushkeeper"
)

// adminAuth checks the admin password.
type adminAuth struct {
	mu      sync.RWMutex
	dataDir string
	envPass string // from MUSH_ADMIN_PASS env var (always wins)
}

func newAdminAuth(dataDir string) *adminAuth {
	return &adminAuth{
		dataDir: dataDir,
		envPass: os.Getenv("MUSH_ADMIN_PASS"),
	}
}

// checkPassword verifies a password against the stored/env/default password.
// Priority: env var > stored hash file > default
func (aa *adminAuth) checkPassword(password string) bool {
	aa.mu.RLock()
	defer aa.mu.RUnlock()

	if aa.envPass != "" {
		return subtle.ConstantTimeCompare([]byte(password), []byte(aa.envPass)) == 1
	}
	if aa.dataDir != "" {
		if hash, err := os.ReadFile(filepath.Join(aa.dataDir, adminPassFile)); err == nil {
			return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
		}
	}
	return subtle.ConstantTimeCompare([]byte(password), []byte(defaultAdminPass)) == 1
}

// changePassword stores a new bcrypt hash in the data directory.
func (aa *adminAuth) changePassword(newPassword string) error {
	aa.mu.Lock()
	defer aa.mu.Unlock()

	if aa.dataDir == "" {
		return fmt.Errorf("no data directory to store the password in")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(aa.dataDir, adminPassFile), hash, 0600)
}

// isUsingDefault returns true if the password is still the default.
func (aa *adminAuth) isUsingDefault() bool {
	aa.mu.RLock()
	defer aa.mu.RUnlock()

	if aa.envPass != "" {
		return false
	}
	if aa.dataDir != "" {
		if _, err := os.Stat(filepath.Join(aa.dataDir, adminPassFile)); err == nil {
			return false
		}
	}
	return true
}

// Claims holds the JWT claims for an admin session.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenService issues and validates HS256 admin tokens.
type TokenService struct {
	key    []byte
	expiry time.Duration
}

// NewTokenService creates a token service. If secret is empty, a random
// secret is generated, so tokens do not survive a restart.
func NewTokenService(secret string, expirySeconds int) *TokenService {
	if secret == "" {
		secret = GenerateJWTSecret()
	}
	key := []byte(secret)
	expiry := time.Hour
	if expirySeconds > 0 {
		expiry = time.Duration(expirySeconds) * time.Second
	}
	return &TokenService{key: key, expiry: expiry}
}

// Issue signs a new admin token.
func (ts *TokenService) Issue() (string, error) {
	now := time.Now()
	claims := Claims{
		Role: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "admin",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ts.expiry)),
			Issuer:    tokenIssuer,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ts.key)
}

// Validate parses and validates a token string.
func (ts *TokenService) Validate(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.key, nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// GenerateJWTSecret generates a random hex-encoded secret suitable for jwt_secret config.
func GenerateJWTSecret() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}

type contextKey string

const claimsKey contextKey = "claims"

// ClaimsFromContext extracts admin Claims from a request context.
func ClaimsFromContext(ctx context.Context) *Claims {
	if v := ctx.Value(claimsKey); v != nil {
		return v.(*Claims)
	}
	return nil
}

// actor names the admin behind r for the log.
func actor(r *http.Request) string {
	if c := ClaimsFromContext(r.Context()); c != nil && c.Subject != "" {
		return c.Subject
	}
	return "unknown"
}

// authMiddleware requires a valid bearer token and injects its Claims.
func authMiddleware(ts *TokenService, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "authorization required")
			return
		}
		claims, err := ts.Validate(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	})
}

// handleAuthLogin handles POST /api/auth/login
func (a *Admin) handleAuthLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if !a.auth.checkPassword(req.Password) {
		log.Printf("admin: failed login attempt from %s", r.RemoteAddr)
		writeError(w, http.StatusUnauthorized, "invalid password")
		return
	}
	token, err := a.tokens.Issue()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to sign token")
		return
	}
	log.Printf("admin: successful login from %s", r.RemoteAddr)
	writeJSON(w, http.StatusOK, map[string]any{
		"token":            token,
		"default_password": a.auth.isUsingDefault(),
	})
}

// handleAuthRefresh handles POST /api/auth/refresh
func (a *Admin) handleAuthRefresh(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authorization required")
		return
	}
	if _, err := a.tokens.Validate(token); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	fresh, err := a.tokens.Issue()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to sign token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": fresh})
}

// handleAuthChangePassword handles POST /api/auth/change-password
func (a *Admin) handleAuthChangePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Current string `json:"current"`
		New     string `json:"new"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if !a.auth.checkPassword(req.Current) {
		writeError(w, http.StatusUnauthorized, "current password is incorrect")
		return
	}
	if len(req.New) < 6 {
		writeError(w, http.StatusBadRequest, "new password must be at least 6 characters")
		return
	}
	if err := a.auth.changePassword(req.New); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save password: "+err.Error())
		return
	}
	log.Printf("admin: password changed by %s from %s", actor(r), r.RemoteAddr)
	writeJSON(w, http.StatusOK, map[string]string{"status": "changed"})
}
