package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/terminalpay/pkg/enums"
)

// Identity is what a box-office token asserts about its bearer.
type Identity struct {
	UserID uuid.UUID
	Role   enums.MemberRole
	// POSClient names the scanner app or register the token was issued to.
	POSClient string
}

// Claims is the JWT body. Organization membership is not carried in the
// token; the terminals service resolves it from the database per request.
type Claims struct {
	UserID    uuid.UUID        `json:"user_id"`
	Role      enums.MemberRole `json:"role"`
	POSClient string           `json:"pos_client,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) Identity() Identity {
	return Identity{UserID: c.UserID, Role: c.Role, POSClient: c.POSClient}
}
