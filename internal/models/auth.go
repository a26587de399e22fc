package models

// Persisted preference keys.
const (
	KeyAuthToken = "auth_token"
	KeyUserID    = "user_id"
	KeyUsername  = "username"
	KeyUserRole  = "user_role"
	KeyTheme     = "theme"
)

// Roles known to the backend.
const (
	RoleUser      = "user"
	RoleDeveloper = "developer"
	RoleAdmin     = "admin"
)

// AuthState mirrors the persisted credentials.
type AuthState struct {
	IsAuthenticated bool
	UserID          string
	Username        string
	Role            string
	Loading         bool
	Error           string
}

// IsDeveloper reports whether the role may use the developer console.
func (a AuthState) IsDeveloper() bool {
	return a.Role == RoleDeveloper || a.Role == RoleAdmin
}

// LoginResponse is returned by POST /auth/token.
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	Role        string `json:"role"`
}

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// User is a registered account as reported by the backend.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}
