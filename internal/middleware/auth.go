package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"infracontrol/internal/models"
)

const (
	TokenExpiry = 24 * time.Hour
	tokenIssuer = "infracontrol"

	// Context keys set by RequireAPIAuth.
	ContextUsername = "username"
	ContextRole     = "role"
)

type Claims struct {
	Username string      `json:"username"`
	Role     models.Role `json:"role"`
	jwt.RegisteredClaims
}

type AuthService struct {
	secret      []byte
	mu          sync.Mutex
	apiFailures map[string]*apiFailure
	now         func() time.Time
}

type apiFailure struct {
	count        int
	lastAttempt  time.Time
	lockoutUntil time.Time
}

func NewAuthService(secret string) *AuthService {
	return &AuthService{
		secret:      []byte(secret),
		apiFailures: make(map[string]*apiFailure),
		now:         time.Now,
	}
}

func (a *AuthService) HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func (a *AuthService) CheckPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

func (a *AuthService) GenerateToken(username string, role models.Role) (string, error) {
	now := a.now()
	claims := Claims{
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    tokenIssuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   username,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *AuthService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithIssuer(tokenIssuer))

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		if !claims.Role.Valid() {
			return nil, fmt.Errorf("invalid role %q", claims.Role)
		}
		return claims, nil
	}

	return nil, fmt.Errorf("invalid token")
}

// RequireAPIAuth validates the bearer token and stores the caller's username
// and role in the context. Repeated failures from one client IP lock it out
// for a growing period.
func (a *AuthService) RequireAPIAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if retryAfter, locked := a.checkAPILockout(key); locked {
			abortLockedOut(c, retryAfter)
			return
		}

		tokenString := strings.TrimSpace(c.GetHeader("Authorization"))
		if tokenString == "" {
			if retryAfter, locked := a.recordAPIFailure(key); locked {
				abortLockedOut(c, retryAfter)
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		tokenString = strings.TrimSpace(strings.TrimPrefix(tokenString, "Bearer "))

		claims, err := a.ValidateToken(tokenString)
		if err != nil {
			if retryAfter, locked := a.recordAPIFailure(key); locked {
				abortLockedOut(c, retryAfter)
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		a.clearAPIFailures(key)
		c.Set(ContextUsername, claims.Username)
		c.Set(ContextRole, claims.Role)
		c.Next()
	}
}

// RequireRole must run after RequireAPIAuth.
func RequireRole(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := CurrentRole(c)
		for _, allowed := range roles {
			if role == allowed {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Insufficient permissions"})
	}
}

func CurrentRole(c *gin.Context) models.Role {
	if v, ok := c.Get(ContextRole); ok {
		if role, ok := v.(models.Role); ok {
			return role
		}
	}
	return ""
}

func CurrentUsername(c *gin.Context) string {
	return c.GetString(ContextUsername)
}

func abortLockedOut(c *gin.Context, retryAfter time.Duration) {
	c.Header("Retry-After", fmt.Sprintf("%.0f", retryAfter.Seconds()))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"error":       "Too many unauthorized attempts",
		"retry_after": int(retryAfter.Seconds()),
	})
}

func (a *AuthService) checkAPILockout(key string) (time.Duration, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rec, ok := a.apiFailures[key]
	if !ok {
		return 0, false
	}
	now := a.now()
	if rec.lockoutUntil.After(now) {
		return rec.lockoutUntil.Sub(now), true
	}
	return 0, false
}

// RecordLoginFailure counts a failed login against the client the same way
// as a rejected token.
func (a *AuthService) RecordLoginFailure(c *gin.Context) (time.Duration, bool) {
	return a.recordAPIFailure(c.ClientIP())
}

// LoginLockout reports whether the client is currently locked out.
func (a *AuthService) LoginLockout(c *gin.Context) (time.Duration, bool) {
	return a.checkAPILockout(c.ClientIP())
}

func (a *AuthService) ClearFailures(c *gin.Context) {
	a.clearAPIFailures(c.ClientIP())
}

func (a *AuthService) recordAPIFailure(key string) (time.Duration, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	rec, ok := a.apiFailures[key]
	if !ok {
		rec = &apiFailure{}
		a.apiFailures[key] = rec
	}

	if rec.lockoutUntil.After(now) {
		return rec.lockoutUntil.Sub(now), true
	}

	if now.Sub(rec.lastAttempt) > 5*time.Minute {
		rec.count = 0
	}

	rec.lastAttempt = now
	rec.count++

	if rec.count >= 5 {
		lockout := time.Duration(rec.count) * 15 * time.Second
		if lockout > 2*time.Minute {
			lockout = 2 * time.Minute
		}
		rec.lockoutUntil = now.Add(lockout)
		rec.count = 0
		return lockout, true
	}

	return 0, false
}

func (a *AuthService) clearAPIFailures(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.apiFailures, key)
}
