package model

import "time"

// Account represents a gateway account record as stored in the
// `accounts` table.  Each field corresponds to a column in the
// database.  The json tags are omitted here because these structs
// are used internally by the repository layer; handlers define
// separate response types with appropriate JSON tags.
//
// Fields:
//  ID           – UUID primary key; this is the user id handed out in sessions.
//  Email        – unique, lower-cased email address.
//  PasswordHash – bcrypt hashed password; empty for federated-only accounts.
//  UserType     – which application profile the account is provisioned as.
//  IsActive     – deactivated accounts can no longer sign in or hold a session.
//  CreatedAt    – timestamp of creation.
//  UpdatedAt    – timestamp of last update.
type Account struct {
    ID           string    // accounts.id
    Email        string    // accounts.email
    PasswordHash string    // accounts.password_hash
    UserType     UserType  // accounts.user_type
    IsActive     bool      // accounts.is_active
    CreatedAt    time.Time // accounts.created_at
    UpdatedAt    time.Time // accounts.updated_at
}
