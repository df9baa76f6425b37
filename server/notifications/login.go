package notifications

import (
	"context"
	"errors"
	"fmt"
)

func (n *Notifier) canLogin() bool {
	return n.cfg.Email != "" && n.cfg.Password != ""
}

// getToken returns the cached token, logging in if there is none (or if refresh is true)
func (n *Notifier) getToken(ctx context.Context, refresh bool) (string, error) {
	n.tokenLock.Lock()
	defer n.tokenLock.Unlock()
	if n.token != "" && !refresh {
		return n.token, nil
	}
	if !n.canLogin() {
		if n.token != "" {
			return n.token, nil
		}
		return "", ErrNoCredentials
	}
	token, err := n.login(ctx)
	if err != nil {
		return "", err
	}
	n.token = token
	return token, nil
}

// SYNC-SOCIETY-LOGIN-JSON
type loginRequestJSON struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponseJSON struct {
	Token string `json:"token"`
}

func (n *Notifier) login(ctx context.Context) (string, error) {
	req := loginRequestJSON{
		Email:    n.cfg.Email,
		Password: n.cfg.Password,
	}
	resp := loginResponseJSON{}
	if _, err := n.do(ctx, "", "POST", "/society/login", &req, &resp); err != nil {
		return "", fmt.Errorf("Failed to log in as %v: %w", n.cfg.Email, err)
	}
	if resp.Token == "" {
		return "", errors.New("Login response has no token")
	}
	n.log.Infof("Logged in as %v", n.cfg.Email)
	return resp.Token, nil
}
