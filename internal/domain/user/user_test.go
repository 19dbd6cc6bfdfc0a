package user

import "testing"

func TestUser_Validate(t *testing.T) {
	tests := []struct {
		name    string
		user    User
		wantErr bool
	}{
		{"valid", User{ID: "u-1", Email: "a@example.com", AccessToken: "tok"}, false},
		{"missing id", User{Email: "a@example.com", AccessToken: "tok"}, true},
		{"bad email", User{ID: "u-1", Email: "not-an-email", AccessToken: "tok"}, true},
		{"missing token", User{ID: "u-1", Email: "a@example.com"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.user.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNormalizeEmail(t *testing.T) {
	if got := NormalizeEmail("  Foo@Example.COM "); got != "foo@example.com" {
		t.Fatalf("got %q", got)
	}
	if err := ValidateEmail(NormalizeEmail("Display <x@example.com>")); err == nil {
		t.Fatal("expected display-name form to be rejected")
	}
}

func TestUser_SettingsURL(t *testing.T) {
	u := User{AccessToken: "abc"}
	if got := u.SettingsURL("https://stockalarm.co.kr/"); got != "https://stockalarm.co.kr/settings/abc" {
		t.Fatalf("unexpected url %s", got)
	}
}
