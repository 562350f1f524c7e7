package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/step-groups/internal/config"
	"github.com/step-groups/internal/domain"
	"golang.org/x/sync/errgroup"
)

// LeaderboardService assembles group leaderboards for the current competition period
type LeaderboardService struct {
	store    Store
	steps    StepAggregator
	profiles ProfileSource
	cache    TotalsCache
	config   *config.LeaderboardConfig
	loc      *time.Location
	logger   *slog.Logger
	now      func() time.Time
}

// NewLeaderboardService creates a new leaderboard service. cache may be nil.
func NewLeaderboardService(
	store Store,
	steps StepAggregator,
	profiles ProfileSource,
	cache TotalsCache,
	cfg *config.LeaderboardConfig,
	logger *slog.Logger,
) (*LeaderboardService, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return &LeaderboardService{
		store:    store,
		steps:    steps,
		profiles: profiles,
		cache:    cache,
		config:   cfg,
		loc:      loc,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// GetLeaderboard ranks a group's members by steps in the current period and
// reports each member's movement since the previous period.
func (s *LeaderboardService) GetLeaderboard(ctx context.Context, actorID, groupID string) (*domain.Leaderboard, error) {
	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.GetMembership(ctx, groupID, actorID); err != nil {
		if domain.IsNotFoundError(err) {
			return nil, domain.PermissionDenied("not a member of this group").WithGroup(groupID)
		}
		return nil, err
	}

	memberships, err := s.store.ListMemberships(ctx, groupID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(memberships))
	for i, m := range memberships {
		ids[i] = m.UserID
	}

	now := s.now()
	current, err := domain.ComputePeriod(group.PeriodType, domain.DateOf(now, s.loc))
	if err != nil {
		return nil, err
	}
	previous, err := domain.ComputePreviousPeriod(group.PeriodType, current.Start)
	if err != nil {
		return nil, err
	}

	var (
		currentTotals  []domain.StepTotal
		previousTotals []domain.StepTotal
		profiles       map[string]domain.Profile
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		totals, err := s.steps.GetTotals(gctx, ids, current)
		if err != nil {
			return upstream("fetching current period totals", err)
		}
		currentTotals = domain.MemberTotals(ids, totals)
		return nil
	})
	g.Go(func() error {
		totals, err := s.previousTotals(gctx, groupID, ids, previous, s.settled(previous, now))
		if err != nil {
			return err
		}
		previousTotals = totals
		return nil
	})
	g.Go(func() error {
		p, err := profileMap(gctx, s.profiles, ids)
		if err != nil {
			return err
		}
		profiles = p
		return nil
	})
	if err := g.Wait(); err != nil {
		s.logger.Warn("leaderboard assembly failed", "group_id", groupID, "error", err)
		return nil, withGroup(err, groupID)
	}

	prevRanks := domain.PreviousRanks(previousTotals)
	standings := domain.RankTotals(currentTotals)
	entries := make([]domain.LeaderboardEntry, len(standings))
	for i, st := range standings {
		p := profiles[st.UserID]
		entries[i] = domain.LeaderboardEntry{
			UserID:        st.UserID,
			DisplayName:   p.DisplayName,
			AvatarURL:     p.AvatarURL,
			TotalSteps:    st.TotalSteps,
			Rank:          st.Rank,
			RankChange:    domain.RankChange(st.Rank, prevRanks, st.UserID),
			IsCurrentUser: st.UserID == actorID,
		}
	}

	return &domain.Leaderboard{
		GroupID:        groupID,
		PeriodType:     group.PeriodType,
		Period:         current,
		PreviousPeriod: previous,
		Entries:        entries,
		GeneratedAt:    now.UTC(),
	}, nil
}

// settled reports whether period closed long enough before now that its
// totals are no longer expected to change.
func (s *LeaderboardService) settled(period domain.Period, now time.Time) bool {
	end := period.End.AddDate(0, 0, 1)
	closed := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, s.loc)
	return !now.Before(closed.Add(s.config.PreviousCacheSettle))
}

// previousTotals returns member totals for a closed period. Settled periods
// are served from the cache when it holds every current member.
func (s *LeaderboardService) previousTotals(ctx context.Context, groupID string, ids []string, period domain.Period, cacheable bool) ([]domain.StepTotal, error) {
	if s.cache != nil && cacheable {
		cached, err := s.cache.GetTotals(ctx, groupID, period)
		if err != nil {
			s.logger.Warn("failed to read cached totals", "group_id", groupID, "period", period.Key(), "error", err)
		} else if covers(cached, ids) {
			return fromCache(cached, ids), nil
		}
	}

	totals, err := s.steps.GetTotals(ctx, ids, period)
	if err != nil {
		return nil, upstream(fmt.Sprintf("fetching totals for %s", period.Key()), err)
	}
	filled := domain.MemberTotals(ids, totals)

	if s.cache != nil && cacheable && len(filled) > 0 {
		if err := s.cache.SetTotals(ctx, groupID, period, filled); err != nil {
			s.logger.Warn("failed to cache totals", "group_id", groupID, "period", period.Key(), "error", err)
		}
	}
	return filled, nil
}

func covers(cached map[string]int64, ids []string) bool {
	if len(cached) == 0 {
		return false
	}
	for _, id := range ids {
		if _, ok := cached[id]; !ok {
			return false
		}
	}
	return true
}

func fromCache(cached map[string]int64, ids []string) []domain.StepTotal {
	out := make([]domain.StepTotal, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.StepTotal{UserID: id, TotalSteps: cached[id]})
	}
	return domain.MemberTotals(ids, out)
}
