package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// ErrNoSecret means tokens cannot be issued or checked.
var ErrNoSecret = errors.New("JWT secret is not configured")

type contextKey string

const subjectKey contextKey = "subject"

// AuthService issues and checks the bearer tokens of the management API.
// The single administrator is configured by name and bcrypt password hash.
type AuthService struct {
	jwtSecret []byte
	tokenTTL  time.Duration
	adminUser string
	adminHash []byte
}

// NewAuthService creates an AuthService. An empty adminHash disables
// password login; tokens can still be issued with the token command.
func NewAuthService(secret string, tokenTTL time.Duration, adminUser, adminHash string) *AuthService {
	if tokenTTL <= 0 {
		tokenTTL = time.Hour
	}
	return &AuthService{
		jwtSecret: []byte(secret),
		tokenTTL:  tokenTTL,
		adminUser: adminUser,
		adminHash: []byte(adminHash),
	}
}

// HashPassword returns the bcrypt hash to configure as ADMIN_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("error hashing password: %w", err)
	}
	return string(hashed), nil
}

// Authenticate checks username and password against the configured admin.
func (a *AuthService) Authenticate(username, password string) bool {
	if len(a.adminHash) == 0 || username != a.adminUser {
		return false
	}
	return bcrypt.CompareHashAndPassword(a.adminHash, []byte(password)) == nil
}

// GenerateToken creates a signed token for subject.
func (a *AuthService) GenerateToken(subject string) (string, error) {
	if len(a.jwtSecret) == 0 {
		return "", ErrNoSecret
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(a.tokenTTL)),
	})
	return token.SignedString(a.jwtSecret)
}

// Subject returns the token subject stored by Middleware.
func Subject(ctx context.Context) string {
	s, _ := ctx.Value(subjectKey).(string)
	return s
}

// Middleware checks for JWT in the Authorization header: "Bearer <token>"
func (a *AuthService) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}
		tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))

		claims := &jwt.RegisteredClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method")
			}
			if len(a.jwtSecret) == 0 {
				return nil, ErrNoSecret
			}
			return a.jwtSecret, nil
		})
		if err != nil || !token.Valid {
			logrus.WithFields(logrus.Fields{"error": err, "ip": r.RemoteAddr}).Warn("Rejected API token")
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), subjectKey, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// HandleLogin processes HTTP POST /login for user authentication.
func (a *AuthService) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		logrus.WithFields(logrus.Fields{"error": err}).Warn("Invalid login data")
		http.Error(w, "Invalid data", http.StatusBadRequest)
		return
	}
	if !a.Authenticate(creds.Username, creds.Password) {
		logrus.WithFields(logrus.Fields{"username": creds.Username}).Warn("Invalid credentials")
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}
	token, err := a.GenerateToken(creds.Username)
	if err != nil {
		logrus.WithFields(logrus.Fields{"error": err}).Error("Error generating JWT token")
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"token": token,
	})
}
