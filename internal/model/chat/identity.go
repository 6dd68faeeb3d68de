package chat

// Identity is the local participant. UserID is empty until the service assigns one.
type Identity struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	UserID string `json:"userId,omitempty"`
}
