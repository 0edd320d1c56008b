package organization

// View is the public representation of an organization. The admin password
// digest never appears here.
type View struct {
	ID         string `json:"id"`
	Name       string `json:"organization_name"`
	Namespace  string `json:"collection_name"`
	AdminEmail string `json:"admin_email"`
}

// Session is the result of a successful admin authentication.
type Session struct {
	AdminID      string
	AdminEmail   string
	Organization *View
}

// CreateRequest represents the request to create a new organization
type CreateRequest struct {
	Name     string `json:"organization_name" validate:"required,min=2"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// UpdateRequest changes the caller's own organization. Nil fields are left as they are.
type UpdateRequest struct {
	Name       *string `json:"organization_name,omitempty" validate:"omitempty,min=2"`
	AdminEmail *string `json:"admin_email,omitempty" validate:"omitempty,email"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}
