package models

// User is the identity returned by a user lookup.
// Fields are carried as-is; nothing in the request pipeline interprets them
// beyond storing the value on the session and the request context.
type User struct {
	ID         string         `json:"id"`
	Email      string         `json:"email,omitempty"`
	Name       string         `json:"name,omitempty"`
	Roles      []string       `json:"roles,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}
