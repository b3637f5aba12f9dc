package engine

import (
	"context"
	"os"
)

// Authenticator gates engine startup on the presence of usable ESGF
// credentials. A real MyProxy logon client is a second implementation
// left for the operator's environment to supply; FileAuthenticator
// below covers the common case where a proxy certificate was already
// minted by an external myproxy-logon-equivalent tool.
type Authenticator interface {
	IsLoggedOn() bool
	Logon(ctx context.Context, user, pass, authServer string) error
}

// FileAuthenticator treats the presence and readability of a
// credentials file as "logged on." It never performs a network call.
type FileAuthenticator struct {
	CredentialsPath string
	loggedOn        bool
}

// Logon checks that CredentialsPath exists and is readable. user, pass,
// and authServer are accepted for interface compatibility with a future
// MyProxy-backed Authenticator but are not used here.
func (f *FileAuthenticator) Logon(ctx context.Context, user, pass, authServer string) error {
	fh, err := os.Open(f.CredentialsPath)
	if err != nil {
		f.loggedOn = false
		return err
	}
	fh.Close()
	f.loggedOn = true
	return nil
}

// IsLoggedOn reports the result of the last Logon call.
func (f *FileAuthenticator) IsLoggedOn() bool {
	return f.loggedOn
}
