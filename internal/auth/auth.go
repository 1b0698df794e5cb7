package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/fundops/capcall-api/pkg/response"
)

var (
	ErrInvalidCredentials = errors.New("invalid API credentials")
	ErrTokenGeneration    = errors.New("failed to generate token")
	ErrPermissionDenied   = errors.New("permission denied")
)

// Capabilities granted through token claims. Core operations check these
// explicitly instead of inspecting role strings.
const (
	PermManageFunds    = "funds:manage"
	PermIssueDrawdowns = "drawdowns:issue"
	PermReconcile      = "payments:reconcile"
	PermAllot          = "allotments:generate"
)

// AllPermissions is the full capability set granted to operations clients.
var AllPermissions = []string{PermManageFunds, PermIssueDrawdowns, PermReconcile, PermAllot}

// Test credentials registered by the server in non-production mode.
var (
	TestAPIKey    = "test-api-key"
	TestAPISecret = "test-api-secret"
)

// Credentials represents the API authentication credentials.
type Credentials struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

// TokenResponse represents the JWT token response.
type TokenResponse struct {
	Token      string    `json:"jwt_token"`
	Expiration time.Time `json:"expiration"`
}

// Claims represents the JWT claims structure.
type Claims struct {
	jwt.RegisteredClaims
	ClientID    string   `json:"client_id"`
	Permissions []string `json:"permissions"`
}

// Actor is the authenticated caller handed into core operations. Services
// verify the required capability on the actor before doing any work.
type Actor struct {
	ClientID    string
	Permissions []string
}

// Can reports whether the actor holds the given capability.
func (a Actor) Can(perm string) bool {
	for _, p := range a.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// Require returns ErrPermissionDenied when the actor lacks the capability.
func (a Actor) Require(perm string) error {
	if !a.Can(perm) {
		return fmt.Errorf("%w: %s requires %s", ErrPermissionDenied, a.ClientID, perm)
	}
	return nil
}

// ActorFromContext rebuilds the Actor from claims the JWT middleware stored
// on the gin context. A request that passed the middleware always yields a
// usable actor; missing permission claims yield an actor with none.
func ActorFromContext(c *gin.Context) Actor {
	actor := Actor{ClientID: c.GetString("clientID")}

	raw, exists := c.Get("permissions")
	if !exists {
		return actor
	}
	switch perms := raw.(type) {
	case []string:
		actor.Permissions = perms
	case []interface{}:
		for _, p := range perms {
			if s, ok := p.(string); ok {
				actor.Permissions = append(actor.Permissions, s)
			}
		}
	}
	return actor
}

// Service handles authentication and authorization operations.
type Service struct {
	jwtSecret      []byte
	apiCredentials map[string]string // map[APIKey]APISecret
}

// NewService creates a new authentication service with the given JWT secret.
func NewService(jwtSecret string) *Service {
	return &Service{
		jwtSecret:      []byte(jwtSecret),
		apiCredentials: make(map[string]string),
	}
}

// GenerateToken generates a JWT token for valid API credentials. The token
// carries the client ID and the full operations capability set with 24-hour
// expiration.
func (s *Service) GenerateToken(creds Credentials) (*TokenResponse, error) {
	if !s.validateCredentials(creds) {
		return nil, ErrInvalidCredentials
	}

	expiration := time.Now().Add(24 * time.Hour)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiration),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
		ClientID:    creds.APIKey,
		Permissions: AllPermissions,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return nil, ErrTokenGeneration
	}

	return &TokenResponse{
		Token:      tokenString,
		Expiration: expiration,
	}, nil
}

// ValidateToken validates a JWT token and returns the claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}

func (s *Service) validateCredentials(creds Credentials) bool {
	secret, exists := s.apiCredentials[creds.APIKey]
	return exists && secret == creds.APISecret
}

// RegisterAPICredentials registers new API credentials (for testing/demo purposes).
func (s *Service) RegisterAPICredentials(apiKey, apiSecret string) {
	s.apiCredentials[apiKey] = apiSecret
}

// GinHandlers contains HTTP handlers for authentication endpoints.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// GenerateTokenHandler handles POST requests to generate JWT tokens.
func (h *GinHandlers) GenerateTokenHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var creds Credentials
		if err := c.ShouldBindJSON(&creds); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		token, err := h.service.GenerateToken(creds)
		if errors.Is(err, ErrInvalidCredentials) {
			response.Unauthorized(c, err.Error())
			return
		}
		response.Handle(c, token, err)
	}
}
