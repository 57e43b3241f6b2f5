package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	jwtSecret          []byte
	refreshSecret      []byte
	accessTokenMinutes = 15
	refreshTokenDays   = 7
	rememberDays       = 30
)

// CookieSecure controls the Secure flag on the refresh cookie; disabled
// for local HTTP development.
var CookieSecure = true

type Config struct {
	Secret        string
	RefreshSecret string
	CookieSecure  bool
}

// Configure installs the signing secrets. Called once from main (and from
// tests); token operations fail until it runs.
func Configure(cfg Config) error {
	if len(cfg.Secret) < 32 {
		return errors.New("JWT secret must be at least 32 characters long")
	}
	jwtSecret = []byte(cfg.Secret)
	if cfg.RefreshSecret == "" {
		// Derive from the main secret when not provided separately.
		cfg.RefreshSecret = cfg.Secret + "-refresh"
	}
	refreshSecret = []byte(cfg.RefreshSecret)
	CookieSecure = cfg.CookieSecure
	return nil
}

type Claims struct {
	UserID    int    `json:"user_id"`
	Username  string `json:"username"`
	TokenType string `json:"token_type,omitempty"` // "access" or "refresh"
	jwt.RegisteredClaims
}

// GenerateToken creates a short-lived access token.
func GenerateToken(userID int, username string) (string, error) {
	if len(jwtSecret) == 0 {
		return "", errors.New("auth not configured")
	}
	claims := Claims{
		UserID:    userID,
		Username:  username,
		TokenType: "access",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Duration(accessTokenMinutes) * time.Minute)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret)
}

// GenerateRefreshToken creates a refresh token that expires after the
// given number of days.
func GenerateRefreshToken(userID int, username string, days int) (string, error) {
	if len(refreshSecret) == 0 {
		return "", errors.New("auth not configured")
	}
	if days <= 0 {
		days = refreshTokenDays
	}
	claims := Claims{
		UserID:    userID,
		Username:  username,
		TokenType: "refresh",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Duration(days) * 24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(refreshSecret)
}

func validate(tokenString, tokenType string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		if claims.TokenType != tokenType {
			return nil, errors.New("invalid token type")
		}
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

func ValidateToken(tokenString string) (*Claims, error) {
	return validate(tokenString, "access", jwtSecret)
}

func ValidateRefreshToken(tokenString string) (*Claims, error) {
	return validate(tokenString, "refresh", refreshSecret)
}

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(hash), err
}

func CheckPassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

// RefreshDays returns the refresh token TTL in days for the remember flag.
func RefreshDays(remember bool) int {
	if remember {
		return rememberDays
	}
	return refreshTokenDays
}
