// Package queue defines the auth events exchanged over the message broker
// and the consumer that delivers them.
package queue

import (
    "encoding/json"
    "fmt"
    "time"
)

// Exchange is the fanout exchange auth events are published on.  Every
// client bridge binds its own exclusive queue to it.
const Exchange = "auth.events"

// Event kinds.  They match the session-change kinds the client contexts
// understand.
const (
    KindSignedIn       = "signed_in"
    KindSignedOut      = "signed_out"
    KindTokenRefreshed = "token_refreshed"
)

// AuthEvent is published by the gateway whenever a session of UserID is
// created, rotated or revoked.  AllSessions marks a sign-out that revoked
// every refresh token of the account.
type AuthEvent struct {
    Kind        string    `json:"kind"`
    UserID      string    `json:"user_id"`
    UserType    string    `json:"user_type,omitempty"`
    Email       string    `json:"email,omitempty"`
    AllSessions bool      `json:"all_sessions,omitempty"`
    OccurredAt  time.Time `json:"occurred_at"`
}

// Decode parses and validates a message body.
func Decode(body []byte) (AuthEvent, error) {
    var ev AuthEvent
    if err := json.Unmarshal(body, &ev); err != nil {
        return AuthEvent{}, fmt.Errorf("unmarshal: %w", err)
    }
    switch ev.Kind {
    case KindSignedIn, KindSignedOut, KindTokenRefreshed:
    default:
        return AuthEvent{}, fmt.Errorf("unknown event kind %q", ev.Kind)
    }
    if ev.UserID == "" {
        return AuthEvent{}, fmt.Errorf("%s event without user_id", ev.Kind)
    }
    return ev, nil
}
