package auth

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/oarkflow/smpp-engine/pkg/smpp"
)

func TestAuthenticate(t *testing.T) {
	a := NewDefaultUserAuth(nil)
	if err := a.CreateUser("smppclient1", "pass", ""); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := a.Authenticate(ctx, "smppclient1", "pass", ""); err != nil {
		t.Fatalf("valid credentials: %v", err)
	}
	if err := a.Authenticate(ctx, "smppclient1", "wrong", ""); !errors.Is(err, smpp.ErrInvalidPassword) {
		t.Fatalf("wrong password: %v", err)
	}
	if err := a.Authenticate(ctx, "nobody", "pass", ""); !errors.Is(err, smpp.ErrInvalidSystemID) {
		t.Fatalf("unknown user: %v", err)
	}

	u, err := a.GetUser("smppclient1")
	if err != nil {
		t.Fatal(err)
	}
	if u.LoginCount != 1 || u.LastLogin.IsZero() {
		t.Fatalf("login not recorded: %+v", u)
	}
	if u.PasswordHash != "" || u.Salt != "" {
		t.Fatal("GetUser leaked secrets")
	}
}

func TestAuthenticateSystemType(t *testing.T) {
	a := NewDefaultUserAuth(nil)
	a.CreateUser("vma", "pw", "VMA")

	err := a.Authenticate(context.Background(), "vma", "pw", "OTHER")
	if smpp.StatusOf(err, 0) != smpp.StatusInvSysTyp {
		t.Fatalf("system_type mismatch: %v", err)
	}
	if err := a.Authenticate(context.Background(), "vma", "pw", "VMA"); err != nil {
		t.Fatal(err)
	}
}

func TestDisabledUser(t *testing.T) {
	a, err := FromConfig(smpp.AuthConfig{Users: []smpp.UserConfig{
		{SystemID: "on", Password: "pw"},
		{SystemID: "off", Password: "pw", Disabled: true},
	}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Authenticate(context.Background(), "off", "pw", ""); smpp.StatusOf(err, 0) != smpp.StatusBindFail {
		t.Fatalf("disabled user: %v", err)
	}
	if err := a.SetActive("off", true); err != nil {
		t.Fatal(err)
	}
	if err := a.Authenticate(context.Background(), "off", "pw", ""); err != nil {
		t.Fatalf("re-enabled user: %v", err)
	}
}

func TestUserManagement(t *testing.T) {
	a := NewDefaultUserAuth(nil)
	if err := a.CreateUser("", "pw", ""); err == nil {
		t.Error("empty system_id accepted")
	}
	if err := a.CreateUser(strings.Repeat("x", smpp.MaxSystemIDLength), "pw", ""); err == nil {
		t.Error("overlong system_id accepted")
	}
	if err := a.CreateUser("b", "pw", ""); err != nil {
		t.Fatal(err)
	}
	if err := a.CreateUser("b", "pw", ""); err == nil {
		t.Error("duplicate user accepted")
	}
	a.CreateUser("a", "pw", "")

	users := a.ListUsers()
	if len(users) != 2 || users[0].SystemID != "a" || users[1].SystemID != "b" {
		t.Fatalf("ListUsers = %+v", users)
	}

	if err := a.SetPassword("b", "new"); err != nil {
		t.Fatal(err)
	}
	if err := a.Authenticate(context.Background(), "b", "pw", ""); !errors.Is(err, smpp.ErrInvalidPassword) {
		t.Fatalf("old password still works: %v", err)
	}
	if err := a.Authenticate(context.Background(), "b", "new", ""); err != nil {
		t.Fatal(err)
	}

	if err := a.DeleteUser("b"); err != nil {
		t.Fatal(err)
	}
	if err := a.DeleteUser("b"); err == nil {
		t.Error("deleting a missing user succeeded")
	}
}
