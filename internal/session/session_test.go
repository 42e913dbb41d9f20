package session

import "testing"

func TestValidateName(t *testing.T) {
	valid := []string{"main", "work-account", "a", "user_2", "0123456789"}
	for _, name := range valid {
		if err := ValidateName(name); err != nil {
			t.Errorf("ValidateName(%q) = %v, want nil", name, err)
		}
	}

	invalid := []string{"", "Main", "has space", "über", "a/b", "x.y",
		"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"}
	for _, name := range invalid {
		if err := ValidateName(name); err == nil {
			t.Errorf("ValidateName(%q) = nil, want error", name)
		}
	}
}

func TestContextActiveConversation(t *testing.T) {
	c := NewContext("alice")

	if c.UserID() != "alice" {
		t.Errorf("user id = %q", c.UserID())
	}
	if c.ActiveConversation() != "" {
		t.Error("fresh context has an active conversation")
	}
	if c.IsActive("") {
		t.Error("empty id reported active")
	}

	c.SetActive("bob")
	if !c.IsActive("bob") || c.IsActive("carol") {
		t.Error("active conversation not tracked")
	}

	c.SetActive("")
	if c.IsActive("bob") {
		t.Error("cleared selection still active")
	}
}

func TestContextFocus(t *testing.T) {
	c := NewContext("alice")
	if c.Focused() {
		t.Error("fresh context reports focus")
	}
	c.SetFocused(true)
	if !c.Focused() {
		t.Error("focus not recorded")
	}
}

func TestResolve(t *testing.T) {
	if got := Resolve("work"); got != "work" {
		t.Errorf("explicit flag ignored: %q", got)
	}
	if got := Resolve(""); got == "" {
		t.Error("empty resolution")
	}
}
