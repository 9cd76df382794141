package privilege

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/lumichat/billing/internal/app/store"
	cfgpkg "github.com/lumichat/billing/pkg/config"
	"github.com/lumichat/billing/pkg/logctx"
)

// Resolver is the single source of truth for operator entitlement. The
// profile flag is canonical; the configured email allow-list is an emergency
// fallback for operators whose profile row is missing or stale.
type Resolver interface {
	IsAdmin(ctx context.Context, userID, email string) bool
}

type resolver struct {
	profiles    store.Profiles
	adminEmails map[string]struct{}
	log         *zap.SugaredLogger
}

func NewResolver(cfg *cfgpkg.Config, profiles store.Profiles, log *zap.SugaredLogger) Resolver {
	allow := make(map[string]struct{}, len(cfg.Auth.AdminEmails))
	for _, e := range cfg.Auth.AdminEmails {
		allow[strings.ToLower(strings.TrimSpace(e))] = struct{}{}
	}
	return &resolver{profiles: profiles, adminEmails: allow, log: log}
}

func (r *resolver) IsAdmin(ctx context.Context, userID, email string) bool {
	if userID != "" {
		p, err := r.profiles.Get(ctx, userID)
		if err == nil {
			if p.IsAdmin {
				return true
			}
		} else if !errors.Is(err, store.ErrNotFound) {
			logctx.FromCtx(ctx, r.log).Warnw("admin flag lookup failed", "err", err)
		}
	}
	if email == "" {
		return false
	}
	_, ok := r.adminEmails[strings.ToLower(email)]
	return ok
}

var Module = fx.Options(
	fx.Provide(NewResolver),
)
