package auth

import "testing"

func TestClaimsAllows(t *testing.T) {
	claims := &Claims{
		AccountID: "demo",
		Permissions: PermissionMap{
			"demo":  {"account.read"},
			"other": {"account.write"},
		},
	}

	cases := []struct {
		name     string
		required []string
		want     bool
	}{
		{"held", []string{"account.read"}, true},
		{"any of", []string{"account.write", "account.read"}, true},
		{"held in other account only", []string{"account.write"}, false},
		{"nothing required", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := claims.Allows(tc.required...); got != tc.want {
				t.Fatalf("Allows(%v) = %v, want %v", tc.required, got, tc.want)
			}
		})
	}
}

func TestClaimsAllowsFailsClosed(t *testing.T) {
	missing := &Claims{AccountID: "ghost", Permissions: PermissionMap{"demo": {"account.read"}}}
	if missing.Allows("account.read") {
		t.Fatalf("expected account absent from map to be denied")
	}
	var nilClaims *Claims
	if nilClaims.Allows("account.read") {
		t.Fatalf("expected nil claims to be denied")
	}
	noAccount := &Claims{Permissions: PermissionMap{"": {"account.read"}}}
	if noAccount.Allows("account.read") {
		t.Fatalf("expected empty account id to be denied")
	}
}
