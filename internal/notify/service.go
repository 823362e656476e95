package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/licitabr/pncp-harvester/internal/harvest"
	"github.com/licitabr/pncp-harvester/internal/match"
	"github.com/licitabr/pncp-harvester/internal/metrics"
)

// Matcher is the slice of the matching engine the service uses.
type Matcher interface {
	MatchesForProfile(ctx context.Context, profile match.Profile) ([]match.Match, error)
	LogSent(ctx context.Context, userID, configID int64, controlNumber string, keywords []string, status, errorMessage string) error
}

// ProfileSource lists the profiles eligible for a notification run.
type ProfileSource interface {
	ActiveProfiles(ctx context.Context) ([]match.Profile, error)
}

// Service runs the notification pass: one email per profile with matches,
// one log row per matched notice.
type Service struct {
	profiles ProfileSource
	matcher  Matcher
	mailer   Mailer
	clock    harvest.Clock
	logger   *zap.Logger
}

// NewService constructs a Service.
func NewService(
	profiles ProfileSource,
	matcher Matcher,
	mailer Mailer,
	clock harvest.Clock,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		profiles: profiles,
		matcher:  matcher,
		mailer:   mailer,
		clock:    clock,
		logger:   logger.Named("notify"),
	}
}

// Run walks every active profile. A profile that fails is logged and does
// not stop the others; the returned error reports how many profiles failed.
func (s *Service) Run(ctx context.Context) (harvest.NotifySummary, error) {
	start := s.clock.Now()
	summary := harvest.NotifySummary{}

	profiles, err := s.profiles.ActiveProfiles(ctx)
	if err != nil {
		summary.Duration = s.clock.Now().Sub(start)
		return summary, fmt.Errorf("list active profiles: %w", err)
	}

	failedProfiles := 0
	for _, profile := range profiles {
		summary.Profiles++
		sent, err := s.notifyProfile(ctx, profile)
		if err != nil {
			failedProfiles++
			summary.Failed++
			s.logger.Error("profile notification failed",
				zap.Int64("config_id", profile.ConfigID),
				zap.String("profile", profile.Name),
				zap.Error(err))
			continue
		}
		if sent {
			summary.Sent++
		}
	}

	summary.Duration = s.clock.Now().Sub(start)
	metrics.ObserveStage("notify", summary.Duration)
	s.logger.Info("notification run finished",
		zap.Int("profiles", summary.Profiles),
		zap.Int("sent", summary.Sent),
		zap.Int("failed", summary.Failed),
		zap.Duration("duration", summary.Duration))

	if failedProfiles > 0 {
		return summary, fmt.Errorf("%d of %d profiles failed", failedProfiles, len(profiles))
	}
	return summary, nil
}

// notifyProfile sends at most one email. sent is false when the profile had
// no matches. A delivery failure is recorded per notice with status failed,
// so those notices stay eligible for the next run only if the log insert
// itself also failed.
func (s *Service) notifyProfile(ctx context.Context, profile match.Profile) (sent bool, err error) {
	matches, err := s.matcher.MatchesForProfile(ctx, profile)
	if err != nil {
		return false, err
	}
	if len(matches) == 0 {
		return false, nil
	}

	body, err := Render(profile.FullName, profile.Name, matches)
	if err != nil {
		return false, err
	}
	email := Email{
		To:      profile.Email,
		Subject: fmt.Sprintf("PNCP: %d nova(s) licitação(ões) para %s", len(matches), profile.Name),
		HTML:    body,
	}

	status := match.StatusSent
	errorMessage := ""
	if sendErr := s.mailer.Send(ctx, email); sendErr != nil {
		status = match.StatusFailed
		errorMessage = sendErr.Error()
		err = fmt.Errorf("send to %s: %w", profile.Email, sendErr)
	}
	metrics.ObserveNotification(status)

	for _, m := range matches {
		logErr := s.matcher.LogSent(ctx, profile.UserID, profile.ConfigID,
			m.ControlNumber, m.Keywords, status, errorMessage)
		if logErr != nil && err == nil {
			err = logErr
		}
	}
	return err == nil, err
}
