package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const issuer = "taskexec"

// Service authenticates API callers against configured accounts.
type Service struct {
	users     map[string]UserConfig
	clients   map[string]ClientConfig
	jwtSecret []byte
	tokenTTL  time.Duration
}

// Claims represents JWT claims
type Claims struct {
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
	jwt.RegisteredClaims
}

// NewService validates cfg and indexes its accounts.
func NewService(cfg Config) (*Service, error) {
	s := &Service{
		users:     make(map[string]UserConfig, len(cfg.Users)),
		clients:   make(map[string]ClientConfig, len(cfg.Clients)),
		jwtSecret: []byte(cfg.JWTSecret),
		tokenTTL:  cfg.TokenTTL,
	}
	if len(s.jwtSecret) == 0 {
		// tokens do not survive a restart without a configured secret
		s.jwtSecret = make([]byte, 32)
		if _, err := rand.Read(s.jwtSecret); err != nil {
			return nil, fmt.Errorf("failed to generate JWT secret: %w", err)
		}
	}
	if s.tokenTTL <= 0 {
		s.tokenTTL = 24 * time.Hour
	}
	for _, u := range cfg.Users {
		if u.Username == "" || u.PasswordHash == "" {
			return nil, errors.New("auth user requires username and password_hash")
		}
		if _, err := bcrypt.Cost([]byte(u.PasswordHash)); err != nil {
			return nil, fmt.Errorf("auth user %s: password_hash: %w", u.Username, err)
		}
		if _, dup := s.users[u.Username]; dup {
			return nil, fmt.Errorf("duplicate auth user %q", u.Username)
		}
		s.users[u.Username] = u
	}
	for _, c := range cfg.Clients {
		if c.ClientID == "" || c.ClientSecret == "" {
			return nil, errors.New("auth client requires client_id and client_secret")
		}
		if _, dup := s.clients[c.ClientID]; dup {
			return nil, fmt.Errorf("duplicate auth client %q", c.ClientID)
		}
		s.clients[c.ClientID] = c
	}
	return s, nil
}

// HashPassword returns the bcrypt hash to put in a user's password_hash.
func HashPassword(password string, cost int) (string, error) {
	if password == "" {
		return "", errors.New("password cannot be empty")
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(h), nil
}

// Authenticate performs authentication based on the login request
func (s *Service) Authenticate(ctx context.Context, req LoginRequest) (*Result, error) {
	switch req.Method {
	case AuthMethodBasic:
		return s.authenticateBasic(req.Username, req.Password)
	case AuthMethodClientSecret:
		return s.authenticateClientSecret(req.ClientID, req.ClientSecret)
	case AuthMethodJWT:
		return s.authenticateJWT(req.Token)
	default:
		return &Result{Success: false}, fmt.Errorf("unsupported auth method: %s", req.Method)
	}
}

// authenticateBasic performs username/password authentication
func (s *Service) authenticateBasic(username, password string) (*Result, error) {
	if username == "" || password == "" {
		return &Result{Success: false}, ErrInvalidCredentials
	}
	user, ok := s.users[username]
	if !ok {
		return &Result{Success: false}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return &Result{Success: false}, ErrInvalidCredentials
	}
	return s.issue(user.Username, user.Roles)
}

// authenticateClientSecret performs client_id/client_secret authentication
func (s *Service) authenticateClientSecret(clientID, clientSecret string) (*Result, error) {
	if clientID == "" || clientSecret == "" {
		return &Result{Success: false}, ErrInvalidCredentials
	}
	client, ok := s.clients[clientID]
	if !ok {
		return &Result{Success: false}, ErrInvalidCredentials
	}
	if subtle.ConstantTimeCompare([]byte(client.ClientSecret), []byte(clientSecret)) != 1 {
		return &Result{Success: false}, ErrInvalidCredentials
	}
	// scopes act as roles for clients
	return s.issue(client.ClientID, client.Scopes)
}

// authenticateJWT validates a JWT token
func (s *Service) authenticateJWT(tokenString string) (*Result, error) {
	if tokenString == "" {
		return &Result{Success: false}, ErrInvalidCredentials
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	if err != nil {
		return &Result{Success: false}, ErrInvalidCredentials
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return &Result{Success: false}, ErrInvalidCredentials
	}
	return &Result{Success: true, Username: claims.Username, Roles: claims.Roles}, nil
}

func (s *Service) issue(username string, roles []string) (*Result, error) {
	token, err := s.generateJWT(username, roles)
	if err != nil {
		return &Result{Success: false}, fmt.Errorf("failed to generate token: %w", err)
	}
	return &Result{Success: true, Username: username, Roles: roles, Token: token}, nil
}

// generateJWT generates a signed token carrying the caller's roles
func (s *Service) generateJWT(username string, roles []string) (*Token, error) {
	now := time.Now()
	expiresAt := now.Add(s.tokenTTL)
	claims := &Claims{
		Username: username,
		Roles:    roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   username,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return &Token{Type: "Bearer", Value: tokenString, ExpiresAt: expiresAt}, nil
}

var rolePermissions = map[string][]Permission{
	"admin": {
		{Resource: "*", Action: "*"},
	},
	"operator": {
		{Resource: ResourceCommand, Action: ActionRead},
		{Resource: ResourceCommand, Action: ActionRun},
		{Resource: ResourceProcess, Action: ActionRead},
	},
	"viewer": {
		{Resource: ResourceCommand, Action: ActionRead},
		{Resource: ResourceProcess, Action: ActionRead},
	},
}

// HasPermission checks if any of roles grants action on resource
func HasPermission(roles []string, resource, action string) bool {
	for _, role := range roles {
		for _, perm := range rolePermissions[role] {
			if (perm.Resource == "*" || perm.Resource == resource) &&
				(perm.Action == "*" || perm.Action == action) {
				return true
			}
		}
	}
	return false
}
