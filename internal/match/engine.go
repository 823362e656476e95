package match

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/licitabr/pncp-harvester/internal/harvest"
)

// Notification statuses recorded in the log.
const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

// Store is what the engine needs from persistence.
type Store interface {
	Profile(ctx context.Context, configID, userID int64) (Profile, error)
	ActiveProfiles(ctx context.Context) ([]Profile, error)
	Candidates(ctx context.Context, q CandidateQuery) ([]CandidateRow, error)
	LogNotification(ctx context.Context, rec NotificationRecord) error
}

// Config bounds the result set.
type Config struct {
	MaxNotices        int
	MaxItemsPerNotice int
	PublishedStatus   string
}

func (c Config) withDefaults() Config {
	if c.MaxNotices <= 0 {
		c.MaxNotices = 50
	}
	if c.MaxItemsPerNotice <= 0 {
		c.MaxItemsPerNotice = 3
	}
	if c.PublishedStatus == "" {
		c.PublishedStatus = "Divulgada no PNCP"
	}
	return c
}

// Engine ranks candidate notices against a profile.
type Engine struct {
	store  Store
	clock  harvest.Clock
	cfg    Config
	logger *zap.Logger
}

// NewEngine constructs an Engine.
func NewEngine(store Store, clock harvest.Clock, cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:  store,
		clock:  clock,
		cfg:    cfg.withDefaults(),
		logger: logger,
	}
}

// FindMatches returns the ranked, capped list of notices to notify the user
// about. A profile with no positive keywords or no usable region codes
// matches nothing: filters fail closed rather than notify on everything.
func (e *Engine) FindMatches(ctx context.Context, configID, userID int64) ([]Match, error) {
	profile, err := e.store.Profile(ctx, configID, userID)
	if err != nil {
		return nil, fmt.Errorf("load profile %d: %w", configID, err)
	}
	return e.matchesFor(ctx, profile)
}

// MatchesForProfile is FindMatches for a profile already in hand.
func (e *Engine) MatchesForProfile(ctx context.Context, profile Profile) ([]Match, error) {
	return e.matchesFor(ctx, profile)
}

func (e *Engine) matchesFor(ctx context.Context, profile Profile) ([]Match, error) {
	positive := ParseKeywords(profile.Keywords)
	negative := ParseKeywords(profile.NegativeKeywords)
	regions := ParseRegions(profile.Regions)

	if len(positive) == 0 {
		e.logger.Warn("profile has no positive keywords",
			zap.Int64("config_id", profile.ConfigID), zap.String("profile", profile.Name))
		return nil, nil
	}
	if len(regions) == 0 {
		e.logger.Warn("profile has no usable region codes",
			zap.Int64("config_id", profile.ConfigID), zap.String("profile", profile.Name))
		return nil, nil
	}

	q := CandidateQuery{
		Positive:        patterns(positive),
		Negative:        patterns(negative),
		Regions:         regions,
		UserID:          profile.UserID,
		PublishedStatus: e.cfg.PublishedStatus,
		Now:             e.clock.Now(),
	}
	rows, err := e.store.Candidates(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query candidates for profile %d: %w", profile.ConfigID, err)
	}

	matches := e.group(rows, profile, positive)
	sort.SliceStable(matches, func(i, j int) bool {
		vi, vj := totalOrZero(matches[i].EstimatedTotal), totalOrZero(matches[j].EstimatedTotal)
		if vi != vj {
			return vi > vj
		}
		return laterPublished(matches[i].PublishedAt, matches[j].PublishedAt)
	})
	if len(matches) > e.cfg.MaxNotices {
		matches = matches[:e.cfg.MaxNotices]
	}

	e.logger.Info("matches found",
		zap.String("profile", profile.Name),
		zap.Int64("user_id", profile.UserID),
		zap.Int("count", len(matches)))
	return matches, nil
}

// group folds the (notice, item) rows into one Match per notice, retaining up
// to the configured number of matching items and the union of matched
// keywords.
func (e *Engine) group(rows []CandidateRow, profile Profile, positive []string) []Match {
	byNotice := make(map[string]*Match)
	var order []string

	for _, row := range rows {
		m, seen := byNotice[row.ControlNumber]
		if !seen {
			m = &Match{
				ControlNumber:  row.ControlNumber,
				Description:    row.Description,
				Year:           intOrZero(row.Year),
				PublishedAt:    row.PublishedAt,
				ClosesAt:       row.ClosesAt,
				City:           strOrEmpty(row.City),
				Region:         strOrEmpty(row.Region),
				BuyerName:      strOrEmpty(row.BuyerName),
				BuyerID:        strOrEmpty(row.BuyerID),
				Sequencial:     harvest.Sequencial(row.ControlNumber),
				EstimatedTotal: row.EstimatedTotal,
				AwardedTotal:   row.AwardedTotal,
				Status:         strOrEmpty(row.Status),
				CategoryLabel:  strOrEmpty(row.CategoryLabel),
				ConfigID:       profile.ConfigID,
				ProfileName:    profile.Name,
				ObjectMatched:  row.ObjectMatched,
			}
			byNotice[row.ControlNumber] = m
			order = append(order, row.ControlNumber)
		}

		if row.ItemID != nil && row.ItemMatched && len(m.Items) < e.cfg.MaxItemsPerNotice {
			desc := strOrEmpty(row.ItemDesc)
			itemWords := matchedKeywords(desc, positive)
			m.Keywords = union(m.Keywords, itemWords)
			m.Items = append(m.Items, MatchedItem{
				Number:       intOrZero(row.ItemNumber),
				Description:  Highlight(desc, itemWords),
				RawDesc:      desc,
				Category:     strOrEmpty(row.ItemCategory),
				MatchedWords: itemWords,
			})
		}
		if row.ObjectMatched {
			m.Keywords = union(m.Keywords, matchedKeywords(row.Description, positive))
		}
	}

	out := make([]Match, 0, len(order))
	for _, id := range order {
		out = append(out, *byNotice[id])
	}
	return out
}

// LogSent appends a notification attempt with insert-or-ignore semantics on
// (user, notice), so a retried run never produces a second notification row.
func (e *Engine) LogSent(
	ctx context.Context,
	userID, configID int64,
	controlNumber string,
	keywords []string,
	status string,
	errorMessage string,
) error {
	rec := NotificationRecord{
		UserID:        userID,
		ConfigID:      configID,
		ControlNumber: controlNumber,
		Keywords:      keywords,
		Status:        status,
		ErrorMessage:  errorMessage,
	}
	if err := e.store.LogNotification(ctx, rec); err != nil {
		return fmt.Errorf("log notification for user %d notice %s: %w", userID, controlNumber, err)
	}
	return nil
}

// Highlight wraps every case-insensitive occurrence of each keyword in
// <strong> markup, mirroring the email template's emphasis.
func Highlight(text string, keywords []string) string {
	out := text
	for _, kw := range keywords {
		re, err := regexp.Compile("(?i)" + regexp.QuoteMeta(kw))
		if err != nil {
			continue
		}
		out = re.ReplaceAllLiteralString(out, "<strong>"+kw+"</strong>")
	}
	return out
}

func matchedKeywords(text string, keywords []string) []string {
	lower := strings.ToLower(text)
	var out []string
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			out = append(out, kw)
		}
	}
	return out
}

func patterns(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		out = append(out, "%"+kw+"%")
	}
	return out
}

func union(dst, add []string) []string {
	for _, kw := range add {
		found := false
		for _, have := range dst {
			if have == kw {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, kw)
		}
	}
	return dst
}

func totalOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func intOrZero(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

func strOrEmpty(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func laterPublished(a, b *time.Time) bool {
	switch {
	case a == nil:
		return false
	case b == nil:
		return true
	default:
		return a.After(*b)
	}
}
