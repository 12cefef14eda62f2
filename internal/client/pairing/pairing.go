// Package pairing links a second client to an existing account with a
// short-lived six digit code.
package pairing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/iliyamo/brick-focus/internal/config"
	"github.com/iliyamo/brick-focus/internal/model"
	"github.com/iliyamo/brick-focus/internal/utils"
)

// User-facing redemption failures.
var (
	ErrCodeInvalid  = errors.New("link code must be six digits")
	ErrCodeNotFound = errors.New("link code not found")
	ErrCodeExpired  = errors.New("link code expired")
)

type Remote interface {
	IssueLinkCode(ctx context.Context) (model.LinkCode, error)
	VerifyLinkCode(ctx context.Context, code string) (model.LinkVerification, error)
}

// Rebinder moves every watched subscription and cached entity to a new
// account: it re-subscribes and refetches the Focus Record and the sites.
type Rebinder interface {
	Rebind(ctx context.Context, s config.Scope) error
}

// Pairer creates and redeems link codes.  A successful redemption is
// persisted to StateFile before the client is rebound.
type Pairer struct {
	Remote    Remote
	StateFile string
	Rebinder  Rebinder
	Log       *zap.SugaredLogger
}

// Create issues a code for the current account; the previous one stops
// working.
func (p *Pairer) Create(ctx context.Context) (model.LinkCode, error) {
	lc, err := p.Remote.IssueLinkCode(ctx)
	if err != nil {
		return model.LinkCode{}, fmt.Errorf("issue link code: %w", err)
	}
	return lc, nil
}

// Redeem verifies code and adopts the account it belongs to.
func (p *Pairer) Redeem(ctx context.Context, code string) (config.Scope, error) {
	code = strings.TrimSpace(code)
	if !utils.ValidLinkCode(code) {
		return config.Scope{}, ErrCodeInvalid
	}
	v, err := p.Remote.VerifyLinkCode(ctx, code)
	if err != nil {
		return config.Scope{}, fmt.Errorf("verify link code: %w", err)
	}
	if !v.Valid {
		return config.Scope{}, verificationError(v.Error)
	}
	scope := config.Scope{AccountID: v.AccountID, Token: v.Token}
	if p.StateFile != "" {
		if err := config.SaveScope(p.StateFile, scope); err != nil {
			return config.Scope{}, fmt.Errorf("save scope: %w", err)
		}
	}
	if p.Log != nil {
		p.Log.Infow("paired", "account_id", scope.AccountID)
	}
	if p.Rebinder != nil {
		if err := p.Rebinder.Rebind(ctx, scope); err != nil {
			return scope, fmt.Errorf("rebind: %w", err)
		}
	}
	return scope, nil
}

func verificationError(code string) error {
	switch code {
	case model.LinkErrNotFound:
		return ErrCodeNotFound
	case model.LinkErrExpired:
		return ErrCodeExpired
	default:
		return ErrCodeInvalid
	}
}
