package auth

import (
	"context"
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func newTestProvider(t *testing.T) *StaticProvider {
	t.Helper()
	p := NewStaticProvider(nil)
	p.SetCost(bcrypt.MinCost)
	if err := p.AddUser("demo_user", "demo_password"); err != nil {
		t.Fatalf("AddUser() error = %v", err)
	}
	return p
}

func TestStaticProvider_AuthenticateSubject(t *testing.T) {
	p := newTestProvider(t)

	tests := []struct {
		name    string
		creds   Credentials
		want    string
		wantErr bool
	}{
		{name: "valid credentials", creds: Credentials{Username: "demo_user", Password: "demo_password"}, want: "demo_user"},
		{name: "surrounding whitespace in username", creds: Credentials{Username: " demo_user ", Password: "demo_password"}, want: "demo_user"},
		{name: "wrong password", creds: Credentials{Username: "demo_user", Password: "nope"}, wantErr: true},
		{name: "unknown user", creds: Credentials{Username: "mallory", Password: "demo_password"}, wantErr: true},
		{name: "empty credentials", creds: Credentials{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.AuthenticateSubject(context.Background(), tt.creds)
			if tt.wantErr {
				if !errors.Is(err, ErrAuthenticationFailed) {
					t.Fatalf("AuthenticateSubject() error = %v, want ErrAuthenticationFailed", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("AuthenticateSubject() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("AuthenticateSubject() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStaticProvider_AddUserHash(t *testing.T) {
	p := NewStaticProvider(nil)

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateFromPassword() error = %v", err)
	}
	if err := p.AddUserHash("alice", string(hash)); err != nil {
		t.Fatalf("AddUserHash() error = %v", err)
	}

	subject, err := p.AuthenticateSubject(context.Background(), Credentials{Username: "alice", Password: "s3cret"})
	if err != nil || subject != "alice" {
		t.Fatalf("AuthenticateSubject() = %q, %v", subject, err)
	}

	if err := p.AddUserHash("bob", "not-a-hash"); err == nil {
		t.Error("AddUserHash() should reject an invalid hash")
	}
}

func TestStaticProvider_AddUser_Invalid(t *testing.T) {
	p := NewStaticProvider(nil)
	if err := p.AddUser("", "password"); err == nil {
		t.Error("AddUser() should reject an empty username")
	}
	if err := p.AddUser("alice", ""); err == nil {
		t.Error("AddUser() should reject an empty password")
	}
}

func TestAnonymous(t *testing.T) {
	subject, err := Anonymous{Subject: "demo_user"}.AuthenticateSubject(context.Background(), Credentials{})
	if err != nil || subject != "demo_user" {
		t.Fatalf("AuthenticateSubject() = %q, %v", subject, err)
	}

	if _, err := (Anonymous{}).AuthenticateSubject(context.Background(), Credentials{}); !errors.Is(err, ErrAuthenticationFailed) {
		t.Errorf("empty Anonymous should fail, got %v", err)
	}
}
