package cli

import (
	"context"
	"fmt"
)

// getSimpleText and getPassword are indirections used to facilitate testing.
var getSimpleText = GetSimpleText
var getPassword = GetPassword

func (a *App) credentials() (string, []byte, error) {
	email, err := getSimpleText(a.reader, "Enter email", a.out)
	if err != nil {
		return "", nil, err
	}
	password, err := getPassword(a.out)
	if err != nil {
		return "", nil, err
	}
	return email, password, nil
}

// Register prompts for an email and password and creates an account. The
// new account is signed in on success.
func (a *App) Register(ctx context.Context) error {
	email, password, err := a.credentials()
	if err != nil {
		return err
	}
	defer wipe(password)

	s, err := a.authService.SignUp(ctx, email, password)
	if err != nil {
		return err
	}
	a.setSession(s)
	fmt.Fprintln(a.out, "Success!")
	return nil
}

// Login prompts for credentials and signs in. Signing in needs the backend;
// an already saved session keeps working offline without it.
func (a *App) Login(ctx context.Context) error {
	email, password, err := a.credentials()
	if err != nil {
		return err
	}
	defer wipe(password)

	s, err := a.authService.SignIn(ctx, email, password)
	if err != nil {
		return err
	}
	a.setSession(s)
	fmt.Fprintln(a.out, "Login successful")
	return nil
}

// Logout signs out and wipes every local table.
func (a *App) Logout(ctx context.Context) error {
	if err := a.authService.SignOut(ctx); err != nil {
		return err
	}
	a.setSession(nil)
	fmt.Fprintln(a.out, "Logged out, local data removed")
	return nil
}
