package models

// IdentityState classifies which persistence backend is active.
type IdentityState int

const (
	// StateUnauthenticated - no session at all, persistence is idle.
	StateUnauthenticated IdentityState = iota
	// StateGuest - explicit local-only session, looks live on the device.
	StateGuest
	// StateAuthenticated - real account, looks live in the cloud.
	StateAuthenticated
)

func (s IdentityState) String() string {
	switch s {
	case StateGuest:
		return "guest"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unauthenticated"
	}
}

// IdentityMode is the current mode plus the user id when authenticated.
type IdentityMode struct {
	State  IdentityState
	UserID string
}

func Unauthenticated() IdentityMode {
	return IdentityMode{State: StateUnauthenticated}
}

func Guest() IdentityMode {
	return IdentityMode{State: StateGuest}
}

func Authenticated(userID string) IdentityMode {
	return IdentityMode{State: StateAuthenticated, UserID: userID}
}
