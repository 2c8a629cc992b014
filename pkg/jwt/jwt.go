package jwt

import (
	"errors"
	"strings"
	"time"

	"taskportal/internal/entity"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Claims is the credential issued by the portal's login service. Older
// tokens carry the role only in Role ("Owner", "Employee"), newer ones
// also in UserType.
type Claims struct {
	UserId     string `json:"userId"`
	Identifier string `json:"identifier,omitempty"`
	UserType   string `json:"userType,omitempty"`
	Role       string `json:"role,omitempty"`
	LoginTime  int64  `json:"loginTime,omitempty"`
	jwt.RegisteredClaims
}

type JWTManager struct {
	secretKey           string
	accessTokenDuration time.Duration
}

func NewJWTManager(secretKey string, accessTokenDuration time.Duration) *JWTManager {
	return &JWTManager{
		secretKey:           secretKey,
		accessTokenDuration: accessTokenDuration,
	}
}

// GenerateAccessToken signs a token for the identity. The portal's login
// service owns issuance; this exists for tooling and tests.
func (m *JWTManager) GenerateAccessToken(identity entity.Identity, identifier string) (string, error) {
	now := time.Now()
	role := identity.Role
	if role == "" && identity.UserType.Valid() {
		t := identity.UserType.String()
		role = strings.ToUpper(t[:1]) + t[1:]
	}

	claims := Claims{
		UserId:     identity.UserId,
		Identifier: identifier,
		UserType:   identity.UserType.String(),
		Role:       role,
		LoginTime:  now.UnixMilli(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.accessTokenDuration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(m.secretKey))
}

// ValidateAccessToken validates and parses an access token
func (m *JWTManager) ValidateAccessToken(tokenString string) (entity.Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(m.secretKey), nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return entity.Identity{}, ErrExpiredToken
		}
		return entity.Identity{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserId == "" {
		return entity.Identity{}, ErrInvalidToken
	}

	userType, err := entity.ParseUserType(claims.UserType)
	if err != nil {
		userType, err = entity.ParseUserType(claims.Role)
	}
	if err != nil {
		return entity.Identity{}, ErrInvalidToken
	}

	return entity.Identity{
		UserId:   claims.UserId,
		UserType: userType,
		Role:     claims.Role,
	}, nil
}
