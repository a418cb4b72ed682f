package model

import "time"

// User represents an application user record as stored in the
// `users` table.  Holds, orders and real-time sessions are all keyed
// by the user's ID.
//
// Fields:
//  ID           – primary key identifier of the user.
//  Email        – unique email address.
//  PasswordHash – bcrypt hashed password.
//  Role         – name of the role (CUSTOMER or ORGANIZER).
//  IsActive     – whether the account is active.
//  CreatedAt    – timestamp of creation.
type User struct {
    ID           uint64    // users.id
    Email        string    // users.email
    PasswordHash string    // users.password_hash
    Role         string    // users.role
    IsActive     bool      // users.is_active
    CreatedAt    time.Time // users.created_at
}

// Role names carried in the JWT "role" claim.
const (
    RoleCustomer  = "CUSTOMER"
    RoleOrganizer = "ORGANIZER"
)
