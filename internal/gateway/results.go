package gateway

// RegistrationResult is the decoded register response. A result with
// Accepted() == false is a domain rejection such as an email already in use;
// Message explains it.
type RegistrationResult struct {
	StatusCode int
	Message    string
	UserID     string
	SessionID  int64
}

// Accepted reports whether the service registered the user.
func (r RegistrationResult) Accepted() bool { return isSuccess(r.StatusCode) }

// IdentityStatus is the decoded identity check response.
type IdentityStatus struct {
	Exists    bool
	UserID    string
	SessionID int64
}

// SessionActivationResult is the decoded session start response.
type SessionActivationResult struct {
	StatusCode int
	SessionID  int64
	UserID     string
}

// Accepted reports whether the service activated the session.
func (r SessionActivationResult) Accepted() bool { return isSuccess(r.StatusCode) }

func isSuccess(code int) bool { return code >= 200 && code < 300 }
