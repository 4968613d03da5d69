package jwt

import (
	"fmt"
	"math"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/IlyasAtabaev731/downline-ledger/internal/domain/models"
)

type Claims struct {
	UserID   string
	Role     models.Role
	IssuedAt time.Time
}

func NewToken(user models.User, jwtSecret string, duration time.Duration) (string, error) {
	return NewTokenAt(user, jwtSecret, time.Now(), duration)
}

func NewTokenAt(user models.User, jwtSecret string, issuedAt time.Time, duration time.Duration) (string, error) {
	token := jwt.New(jwt.SigningMethodHS256)

	claims := token.Claims.(jwt.MapClaims)
	claims["uid"] = user.ID
	claims["role"] = string(user.Role)
	// fractional iat keeps the microseconds needed to order a token against
	// a password change made within the same second
	claims["iat"] = float64(issuedAt.UnixMicro()) / 1e6
	claims["exp"] = issuedAt.Add(duration).Unix()

	tokenString, err := token.SignedString([]byte(jwtSecret))
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

func ParseToken(tokenString string, secret string) (*Claims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})

	if err != nil {
		return nil, err
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	uid, _ := mapClaims["uid"].(string)
	role, _ := mapClaims["role"].(string)
	iat, _ := mapClaims["iat"].(float64)
	if uid == "" {
		return nil, fmt.Errorf("invalid token: missing uid")
	}

	return &Claims{
		UserID:   uid,
		Role:     models.Role(role),
		IssuedAt: time.UnixMicro(int64(math.Round(iat * 1e6))),
	}, nil
}
