package models

type SessionState string

const (
	SessionLoading         SessionState = "loading"
	SessionAuthenticated   SessionState = "authenticated"
	SessionUnauthenticated SessionState = "unauthenticated"
	SessionError           SessionState = "error"
)

// Session is an immutable snapshot of who is signed in and in which tenant.
// A new value replaces the old one whole; fields are never updated in place.
type Session struct {
	State      SessionState `json:"state"`
	User       *UserProfile `json:"user,omitempty"`
	Tenant     *Tenant      `json:"tenant,omitempty"`
	Generation uint64       `json:"generation"`
	Err        error        `json:"-"`
}

func (s Session) Authenticated() bool {
	return s.User != nil
}

func (s Session) Loading() bool {
	return s.State == SessionLoading
}

// UnauthenticatedSession is the empty session.
func UnauthenticatedSession(gen uint64) Session {
	return Session{State: SessionUnauthenticated, Generation: gen}
}
