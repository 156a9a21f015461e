// Package auth obtains session credentials for the bulk service.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultLoginURL is the production login host.
const DefaultLoginURL = "https://login.salesforce.com"

const tokenPath = "/services/oauth2/token"

// Credential identifies an authenticated session. It is immutable for the
// lifetime of one load or query.
type Credential struct {
	InstanceURL string `json:"instanceUrl"`
	AccessToken string `json:"accessToken"`
}

// Valid reports whether both fields are set.
func (c Credential) Valid() bool {
	return c.InstanceURL != "" && c.AccessToken != ""
}

// Authenticator produces a Credential on demand.
type Authenticator interface {
	Login(ctx context.Context) (Credential, error)
}

// Static is an Authenticator that always returns the same credential.
type Static Credential

// Login implements Authenticator.
func (s Static) Login(context.Context) (Credential, error) {
	c := Credential(s)
	if !c.Valid() {
		return Credential{}, &LoginError{Reason: "instance URL and access token are required"}
	}
	return c, nil
}

// LoginError reports a failed login.
type LoginError struct {
	StatusCode int
	Reason     string
	Err        error
}

func (e *LoginError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("failed to login due to unexpected error: %v", e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("failed to login (status %d): %s", e.StatusCode, e.Reason)
	default:
		return "failed to login: " + e.Reason
	}
}

func (e *LoginError) Unwrap() error { return e.Err }

// PasswordLogin performs the OAuth username-password flow. The security
// token is appended to the password.
type PasswordLogin struct {
	LoginURL      string
	ClientID      string
	ClientSecret  string
	Username      string
	Password      string
	SecurityToken string

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Login implements Authenticator.
func (p *PasswordLogin) Login(ctx context.Context) (Credential, error) {
	if p.Username == "" {
		return Credential{}, &LoginError{Reason: "username is required"}
	}

	base := p.LoginURL
	if base == "" {
		base = DefaultLoginURL
	}
	conf := &oauth2.Config{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  strings.TrimRight(base, "/") + tokenPath,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client())

	tok, err := conf.PasswordCredentialsToken(ctx, p.Username, p.Password+p.SecurityToken)
	if err != nil {
		var re *oauth2.RetrieveError
		if !errors.As(err, &re) {
			return Credential{}, &LoginError{Err: err}
		}
		loginErr := &LoginError{Reason: "error received from the login service; check the credentials provided"}
		if re.Response != nil {
			loginErr.StatusCode = re.Response.StatusCode
		}
		if re.ErrorCode != "" {
			loginErr.Reason = fmt.Sprintf("%s; %s", re.ErrorCode, re.ErrorDescription)
		}
		p.logger().Error("login rejected", "status", loginErr.StatusCode, "username", p.Username)
		return Credential{}, loginErr
	}

	instanceURL, _ := tok.Extra("instance_url").(string)
	cred := Credential{InstanceURL: instanceURL, AccessToken: tok.AccessToken}
	if !cred.Valid() {
		return Credential{}, &LoginError{Err: errors.New("token response is missing access_token or instance_url")}
	}

	p.logger().Debug("login succeeded", "instance_url", cred.InstanceURL)
	return cred, nil
}

func (p *PasswordLogin) client() *http.Client {
	if p.HTTPClient != nil {
		return p.HTTPClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func (p *PasswordLogin) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}
