package auth

import (
	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID   uuid.UUID
	SellerID *uuid.UUID
	Role     enums.ActorRole
	JTI      string
}

// AccessTokenClaims represents the typed JWT presented by sellers and operators.
type AccessTokenClaims struct {
	UserID   uuid.UUID       `json:"user_id"`
	SellerID *uuid.UUID      `json:"seller_id,omitempty"`
	Role     enums.ActorRole `json:"role"`
	jwt.RegisteredClaims
}

// ActingSellerID resolves the seller a token acts for. Seller tokens without an
// explicit seller_id act for their own user id.
func (c *AccessTokenClaims) ActingSellerID() (uuid.UUID, bool) {
	if c == nil {
		return uuid.Nil, false
	}
	if c.SellerID != nil && *c.SellerID != uuid.Nil {
		return *c.SellerID, true
	}
	if c.Role == enums.ActorRoleSeller && c.UserID != uuid.Nil {
		return c.UserID, true
	}
	return uuid.Nil, false
}
