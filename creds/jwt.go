package creds

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// jwtClaims is the payload a device presents as its `password:` field
// when Credentials-Mode=jwt: a signed ticket rather than a shared
// secret, modeled on the teacher's HttpIngester JWT auth path
// (ingesters/HttpIngester/auth.go), adapted from its v3-API claims
// struct to golang-jwt/jwt/v5's RegisteredClaims plus one custom field.
type jwtClaims struct {
	jwt.RegisteredClaims
	MultiLogin bool `json:"multi_login"`
}

// JWT is a Credentials backend that treats the password field as an
// HMAC-signed JWT. The token's Subject must equal the requested device
// name; MultiLogin comes from the `multi_login` claim.
type JWT struct {
	secret []byte
}

// NewJWT returns a JWT credentials backend keyed by secret.
func NewJWT(secret string) *JWT {
	return &JWT{secret: []byte(secret)}
}

// Check implements Credentials. The password argument is the raw JWT
// string; name must match the token's `sub` claim.
func (j *JWT) Check(name, password string) (Result, error) {
	var claims jwtClaims
	token, err := jwt.ParseWithClaims(password, &claims, j.keyFunc)
	if err != nil || !token.Valid {
		return Result{}, nil
	}
	if claims.Subject != name {
		return Result{}, nil
	}
	return Result{Trusted: true, MultiLogin: claims.MultiLogin}, nil
}

func (j *JWT) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("creds: unexpected signing method %v", token.Header["alg"])
	}
	return j.secret, nil
}

// Sign produces a JWT ticket for name, intended for use by test harnesses
// and provisioning tools rather than by the broker itself.
func (j *JWT) Sign(name string, multiLogin bool) (string, error) {
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: name},
		MultiLogin:       multiLogin,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString(j.secret)
	if err != nil {
		return ``, errors.Join(errors.New("creds: failed to sign ticket"), err)
	}
	return s, nil
}
