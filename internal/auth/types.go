package auth

// Scope constants
const (
	ScopeWrite = "write"
	ScopeRead  = "read"
)

// Token is a configured bearer token for the MCP HTTP endpoint.
// The secret itself is never kept on the value.
type Token struct {
	Name  string `json:"name"`
	Scope string `json:"scope"`
}

// ValidScope reports whether scope is a known scope
func ValidScope(scope string) bool {
	return scope == ScopeWrite || scope == ScopeRead
}

// AuthContext holds authentication information for a request
type AuthContext struct {
	Token *Token
}

// CanWrite checks if the auth context allows control operations
func (a *AuthContext) CanWrite() bool {
	if a == nil || a.Token == nil {
		return false
	}
	return a.Token.Scope == ScopeWrite
}
