package auth

import (
	"errors"
	"time"
)

// AuthMethod represents the type of authentication
type AuthMethod string

const (
	AuthMethodBasic        AuthMethod = "basic"         // username/password
	AuthMethodClientSecret AuthMethod = "client_secret" // client_id/client_secret
	AuthMethodJWT          AuthMethod = "jwt"           // JWT token
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// Resources and actions checked by the API.
const (
	ResourceCommand = "command"
	ResourceProcess = "process"

	ActionRead = "read"
	ActionRun  = "run"
)

// Config configures API authentication. Accounts live in the config file;
// passwords are bcrypt hashes.
type Config struct {
	Enabled    bool           `toml:"enabled" mapstructure:"enabled"`
	JWTSecret  string         `toml:"jwt_secret" mapstructure:"jwt_secret"`
	TokenTTL   time.Duration  `toml:"token_ttl" mapstructure:"token_ttl"`
	BcryptCost int            `toml:"bcrypt_cost" mapstructure:"bcrypt_cost"`
	Users      []UserConfig   `toml:"users" mapstructure:"users"`
	Clients    []ClientConfig `toml:"clients" mapstructure:"clients"`
}

type UserConfig struct {
	Username     string   `toml:"username" mapstructure:"username"`
	PasswordHash string   `toml:"password_hash" mapstructure:"password_hash"`
	Roles        []string `toml:"roles" mapstructure:"roles"`
}

type ClientConfig struct {
	ClientID     string   `toml:"client_id" mapstructure:"client_id"`
	ClientSecret string   `toml:"client_secret" mapstructure:"client_secret"`
	Scopes       []string `toml:"scopes" mapstructure:"scopes"`
}

// Result represents the result of authentication
type Result struct {
	Success  bool     `json:"success"`
	Username string   `json:"username,omitempty"`
	Roles    []string `json:"roles,omitempty"`
	Token    *Token   `json:"token,omitempty"`
}

// Token represents a JWT token
type Token struct {
	Type      string    `json:"type"`  // "Bearer"
	Value     string    `json:"value"` // JWT token string
	ExpiresAt time.Time `json:"expires_at"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Method       AuthMethod `json:"method"`
	Username     string     `json:"username,omitempty"`
	Password     string     `json:"password,omitempty"`
	ClientID     string     `json:"client_id,omitempty"`
	ClientSecret string     `json:"client_secret,omitempty"`
	Token        string     `json:"token,omitempty"`
}

// Permission represents a permission in the system
type Permission struct {
	Resource string `json:"resource"` // "command" or "process"
	Action   string `json:"action"`   // "read" or "run"
}
