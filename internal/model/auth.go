package model

import "github.com/golang-jwt/jwt/v5"

// ObserverClaims are JWT claims for observers (game masters, instructors)
type ObserverClaims struct {
	ObserverID string `json:"observerId"`
	Name       string `json:"name"`
	jwt.RegisteredClaims
}

// LoginRequest is the request body for observer login
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse is returned after successful login
type LoginResponse struct {
	Token      string `json:"token"`
	ObserverID string `json:"observerId"`
}
