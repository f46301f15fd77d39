package engine

import (
	"github.com/stemsi/exstem-assessment/internal/model"
)

// RoleAdmin may read and list every session.
const RoleAdmin = "admin"

// Caller is the identity behind a request. A nil UserID means no valid
// bearer credential was presented.
type Caller struct {
	UserID *int
	Role   string
}

// Anonymous reports whether no bearer credential backs the call.
func (c Caller) Anonymous() bool { return c.UserID == nil }

// IsAdmin reports whether the caller carries the admin role.
func (c Caller) IsAdmin() bool { return c.UserID != nil && c.Role == RoleAdmin }

// ResolveStart decides the identity mode of a new session from the caller.
func ResolveStart(c Caller) model.IdentityMode {
	if c.Anonymous() {
		return model.IdentityAnonymous
	}
	return model.IdentityAuthenticated
}

type submissionKind int

const (
	submitAuthenticated submissionKind = iota + 1
	submitAnonymous
	submitTimeout
)

// Submission is the tagged variant every submit path is reduced to
// before it reaches the single grading routine.
type Submission struct {
	SessionID string
	kind      submissionKind
	userID    int
	forced    bool
}

// Authenticated is a submit made with a bearer credential.
func Authenticated(sessionID string, userID int) Submission {
	return Submission{SessionID: sessionID, kind: submitAuthenticated, userID: userID}
}

// Anonymous is a tokenless submit. Forced marks a client-side timeout.
func Anonymous(sessionID string, forced bool) Submission {
	return Submission{SessionID: sessionID, kind: submitAnonymous, forced: forced}
}

// Timeout is the server's own submit when the session clock runs out.
// It is authorized for every identity mode.
func Timeout(sessionID string) Submission {
	return Submission{SessionID: sessionID, kind: submitTimeout, forced: true}
}

// WithForced marks a client-side timeout on a credentialed or anonymous
// submit. Timeout submissions are always forced.
func (s Submission) WithForced(forced bool) Submission {
	if s.kind != submitTimeout {
		s.forced = forced
	}
	return s
}

// Forced reports whether the submission ignores new answers in favour of
// the stored ones.
func (s Submission) Forced() bool { return s.forced }

// Mode returns the submit mode recorded on the finalized session.
func (s Submission) Mode() model.SubmitMode {
	switch {
	case s.kind == submitTimeout:
		return model.SubmitModeTimeout
	case s.forced:
		return model.SubmitModeForced
	default:
		return model.SubmitModeManual
	}
}

// Authorize checks that this submit path may complete sess. An anonymous
// session can never be completed through the authenticated path and vice
// versa.
func (s Submission) Authorize(sess *model.Session) error {
	switch s.kind {
	case submitTimeout:
		return nil
	case submitAuthenticated:
		if sess.IdentityMode != model.IdentityAuthenticated {
			return ErrIdentityMismatch
		}
		if sess.OwnerID == nil || *sess.OwnerID != s.userID {
			return ErrIdentityMismatch
		}
		return nil
	case submitAnonymous:
		if sess.IdentityMode != model.IdentityAnonymous {
			return ErrIdentityMismatch
		}
		return nil
	}
	return ErrIdentityMismatch
}

// AuthorizeProgress checks that a progress call made by c is on the
// path matching the session's identity mode.
func AuthorizeProgress(c Caller, sess *model.Session) error {
	if sess.IdentityMode == model.IdentityAnonymous {
		if !c.Anonymous() {
			return ErrIdentityMismatch
		}
		return nil
	}
	if c.Anonymous() || sess.OwnerID == nil || *sess.OwnerID != *c.UserID {
		return ErrIdentityMismatch
	}
	return nil
}

// CanRead reports whether c may read the state or results of sess.
// Anonymous sessions are readable by whoever holds the session id.
func CanRead(c Caller, sess *model.Session) bool {
	if sess.IdentityMode == model.IdentityAnonymous {
		return true
	}
	if c.IsAdmin() {
		return true
	}
	return c.UserID != nil && sess.OwnerID != nil && *sess.OwnerID == *c.UserID
}
