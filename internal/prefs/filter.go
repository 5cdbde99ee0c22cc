// Package prefs decides whether a user/channel/category combination is
// eligible for delivery.
package prefs

import (
	"context"

	"github.com/notifyd/notifyd/internal/domain/notification"
	"github.com/notifyd/notifyd/internal/domain/preferences"
	"go.uber.org/zap"
)

type Filter struct {
	repo preferences.Repo
	log  *zap.Logger
}

func NewFilter(repo preferences.Repo, log *zap.Logger) *Filter {
	if log == nil {
		log = zap.L()
	}
	return &Filter{repo: repo, log: log.With(zap.String("component", "prefs.filter"))}
}

// IsAllowed consults the stored matrix. A user without a row gets the
// defaults, which are persisted on this first contact so later edits
// have a row to update. Storage failures fail open so a preference
// lookup can never stall the pipeline.
func (f *Filter) IsAllowed(ctx context.Context, userID int64, ch notification.Channel, cat preferences.Category) bool {
	p, err := f.repo.Get(ctx, userID)
	if err != nil {
		f.log.Warn("preference lookup failed, allowing delivery",
			zap.Int64("user_id", userID), zap.Error(err))
		return true
	}
	if p == nil {
		p = preferences.Defaults(userID)
		if err := f.repo.Upsert(ctx, p); err != nil {
			f.log.Warn("persisting default preferences failed",
				zap.Int64("user_id", userID), zap.Error(err))
		}
	}
	return p.AllowsChannel(string(ch)) && p.AllowsCategory(cat)
}

// GetOrDefaults returns the stored row, or the default matrix when the
// user has none yet. Used by the read side of the preferences API.
func (f *Filter) GetOrDefaults(ctx context.Context, userID int64) (*preferences.Preferences, error) {
	p, err := f.repo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return preferences.Defaults(userID), nil
	}
	return p, nil
}
