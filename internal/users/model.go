package users

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// User is a registered account stored in the users collection.
type User struct {
	ID           primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	Email        string             `json:"email" bson:"email"` // lower-cased
	Name         string             `json:"name,omitempty" bson:"name,omitempty"`
	PasswordHash string             `json:"-" bson:"password"` // bcrypt
	CreatedAt    time.Time          `json:"created_at" bson:"createdAt"`
	UpdatedAt    time.Time          `json:"updated_at" bson:"updatedAt"`
	LastLoginAt  *time.Time         `json:"last_login_at,omitempty" bson:"lastLoginAt,omitempty"`
}

// SignupRequest is the body accepted by the signup route, as JSON or a
// URL-encoded form.
type SignupRequest struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
	Name     string `json:"name" form:"name"`
}

// LoginRequest is the body accepted by the login route.
type LoginRequest struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}
