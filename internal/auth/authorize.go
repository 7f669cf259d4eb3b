package auth

// Allows reports whether the claims hold any of required in the active account.
// An account missing from the permission map holds nothing.
func (c *Claims) Allows(required ...string) bool {
	if c == nil || c.AccountID == "" {
		return false
	}
	held := c.Permissions.For(c.AccountID)
	if len(held) == 0 {
		return false
	}
	for _, want := range required {
		for _, have := range held {
			if want == have {
				return true
			}
		}
	}
	return false
}
