package match

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	profile  Profile
	rows     []CandidateRow
	lastQ    CandidateQuery
	logged   []NotificationRecord
	queryErr error
}

func (f *fakeStore) Profile(_ context.Context, configID, userID int64) (Profile, error) {
	return f.profile, nil
}

func (f *fakeStore) ActiveProfiles(_ context.Context) ([]Profile, error) {
	return []Profile{f.profile}, nil
}

func (f *fakeStore) Candidates(_ context.Context, q CandidateQuery) ([]CandidateRow, error) {
	f.lastQ = q
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.rows, nil
}

func (f *fakeStore) LogNotification(_ context.Context, rec NotificationRecord) error {
	f.logged = append(f.logged, rec)
	return nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func strPtr(s string) *string     { return &s }
func intPtr(i int) *int           { return &i }
func i64Ptr(i int64) *int64       { return &i }
func f64Ptr(f float64) *float64   { return &f }
func tPtr(t time.Time) *time.Time { return &t }

func validProfile() Profile {
	return Profile{
		ConfigID: 3,
		UserID:   7,
		Name:     "Material escolar",
		Keywords: "caneta, papel",
		Regions:  `["PE","SP"]`,
		Email:    "ana@example.com",
	}
}

func TestFindMatchesFailsClosedWithoutKeywords(t *testing.T) {
	t.Parallel()

	p := validProfile()
	p.Keywords = "  ,  "
	store := &fakeStore{profile: p, rows: []CandidateRow{{ControlNumber: "x"}}}
	engine := NewEngine(store, fixedClock{time.Now()}, Config{}, nil)

	matches, err := engine.FindMatches(context.Background(), 3, 7)
	require.NoError(t, err)
	require.Empty(t, matches)
	require.Empty(t, store.lastQ.Positive, "candidates must not be queried")
}

func TestFindMatchesFailsClosedWithoutRegions(t *testing.T) {
	t.Parallel()

	p := validProfile()
	p.Regions = "not json"
	store := &fakeStore{profile: p, rows: []CandidateRow{{ControlNumber: "x"}}}
	engine := NewEngine(store, fixedClock{time.Now()}, Config{}, nil)

	matches, err := engine.FindMatches(context.Background(), 3, 7)
	require.NoError(t, err)
	require.Empty(t, matches)
}

func TestFindMatchesBuildsQueryFromProfile(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	p := validProfile()
	p.NegativeKeywords = "usado"
	store := &fakeStore{profile: p}
	engine := NewEngine(store, fixedClock{now}, Config{}, nil)

	_, err := engine.FindMatches(context.Background(), 3, 7)
	require.NoError(t, err)
	require.Equal(t, []string{"%caneta%", "%papel%"}, store.lastQ.Positive)
	require.Equal(t, []string{"%usado%"}, store.lastQ.Negative)
	require.Equal(t, []string{"PE", "SP"}, store.lastQ.Regions)
	require.Equal(t, int64(7), store.lastQ.UserID)
	require.Equal(t, "Divulgada no PNCP", store.lastQ.PublishedStatus)
	require.Equal(t, now, store.lastQ.Now)
}

func TestFindMatchesGroupsRowsPerNotice(t *testing.T) {
	t.Parallel()

	published := time.Date(2024, 5, 30, 10, 0, 0, 0, time.UTC)
	rows := []CandidateRow{
		{
			ControlNumber:  "a-1-1/2024",
			Description:    "Aquisição de material de escritório",
			Year:           intPtr(2024),
			PublishedAt:    tPtr(published),
			City:           strPtr("Recife"),
			Region:         strPtr("PE"),
			EstimatedTotal: f64Ptr(5000),
			ItemID:         i64Ptr(1),
			ItemNumber:     intPtr(1),
			ItemDesc:       strPtr("Caneta esferográfica azul"),
			ItemMatched:    true,
			ItemRank:       1,
		},
		{
			ControlNumber:  "a-1-1/2024",
			Description:    "Aquisição de material de escritório",
			Year:           intPtr(2024),
			PublishedAt:    tPtr(published),
			EstimatedTotal: f64Ptr(5000),
			ItemID:         i64Ptr(2),
			ItemNumber:     intPtr(2),
			ItemDesc:       strPtr("Bloco de papel A4"),
			ItemMatched:    true,
			ItemRank:       2,
		},
		{
			ControlNumber:  "a-1-1/2024",
			ItemID:         i64Ptr(3),
			ItemNumber:     intPtr(3),
			ItemDesc:       strPtr("Grampeador"),
			ItemMatched:    false,
			ItemRank:       3,
		},
	}
	store := &fakeStore{profile: validProfile(), rows: rows}
	engine := NewEngine(store, fixedClock{time.Now()}, Config{}, nil)

	matches, err := engine.FindMatches(context.Background(), 3, 7)
	require.NoError(t, err)
	require.Len(t, matches, 1)

	m := matches[0]
	require.Equal(t, "a-1-1/2024", m.ControlNumber)
	require.Equal(t, "1", m.Sequencial)
	require.Len(t, m.Items, 2, "non-matching item must not be retained")
	require.Equal(t, "<strong>caneta</strong> esferográfica azul", m.Items[0].Description)
	require.ElementsMatch(t, []string{"caneta", "papel"}, m.Keywords)
	require.Equal(t, int64(3), m.ConfigID)
}

func TestFindMatchesCapsItemsPerNotice(t *testing.T) {
	t.Parallel()

	var rows []CandidateRow
	for i := 1; i <= 5; i++ {
		rows = append(rows, CandidateRow{
			ControlNumber: "a-1-1/2024",
			Description:   "compra de canetas",
			ItemID:        i64Ptr(int64(i)),
			ItemNumber:    intPtr(i),
			ItemDesc:      strPtr("caneta azul"),
			ItemMatched:   true,
			ItemRank:      int64(i),
		})
	}
	store := &fakeStore{profile: validProfile(), rows: rows}
	engine := NewEngine(store, fixedClock{time.Now()}, Config{}, nil)

	matches, err := engine.FindMatches(context.Background(), 3, 7)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Len(t, matches[0].Items, 3)
}

func TestFindMatchesRanksByValueThenRecency(t *testing.T) {
	t.Parallel()

	older := time.Date(2024, 5, 28, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2024, 5, 30, 0, 0, 0, 0, time.UTC)
	rows := []CandidateRow{
		{ControlNumber: "cheap", Description: "caneta", EstimatedTotal: f64Ptr(100), PublishedAt: tPtr(newer), ObjectMatched: true},
		{ControlNumber: "no-value-old", Description: "caneta", PublishedAt: tPtr(older), ObjectMatched: true},
		{ControlNumber: "pricey", Description: "caneta", EstimatedTotal: f64Ptr(9000), PublishedAt: tPtr(older), ObjectMatched: true},
		{ControlNumber: "no-value-new", Description: "caneta", PublishedAt: tPtr(newer), ObjectMatched: true},
	}
	store := &fakeStore{profile: validProfile(), rows: rows}
	engine := NewEngine(store, fixedClock{time.Now()}, Config{}, nil)

	matches, err := engine.FindMatches(context.Background(), 3, 7)
	require.NoError(t, err)
	require.Len(t, matches, 4)
	require.Equal(t, "pricey", matches[0].ControlNumber)
	require.Equal(t, "cheap", matches[1].ControlNumber)
	require.Equal(t, "no-value-new", matches[2].ControlNumber)
	require.Equal(t, "no-value-old", matches[3].ControlNumber)
}

func TestFindMatchesCapsNoticeCount(t *testing.T) {
	t.Parallel()

	var rows []CandidateRow
	for i := 0; i < 6; i++ {
		rows = append(rows, CandidateRow{
			ControlNumber:  string(rune('a'+i)) + "-1-1/2024",
			Description:    "caneta",
			EstimatedTotal: f64Ptr(float64(100 * (i + 1))),
			ObjectMatched:  true,
		})
	}
	store := &fakeStore{profile: validProfile(), rows: rows}
	engine := NewEngine(store, fixedClock{time.Now()}, Config{MaxNotices: 2}, nil)

	matches, err := engine.FindMatches(context.Background(), 3, 7)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	require.Equal(t, "f-1-1/2024", matches[0].ControlNumber)
}

func TestLogSent(t *testing.T) {
	t.Parallel()

	store := &fakeStore{profile: validProfile()}
	engine := NewEngine(store, fixedClock{time.Now()}, Config{}, nil)

	err := engine.LogSent(context.Background(), 7, 3, "a-1-1/2024", []string{"caneta"}, StatusSent, "")
	require.NoError(t, err)
	require.Len(t, store.logged, 1)
	require.Equal(t, StatusSent, store.logged[0].Status)
	require.Equal(t, "a-1-1/2024", store.logged[0].ControlNumber)
}

func TestHighlight(t *testing.T) {
	t.Parallel()

	out := Highlight("Caneta azul e CANETA preta", []string{"caneta"})
	require.Equal(t, "<strong>caneta</strong> azul e <strong>caneta</strong> preta", out)

	require.Equal(t, "sem marcação", Highlight("sem marcação", nil))
}

func TestParseRegions(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"PE", "SP"}, ParseRegions(`["pe", "SP"]`))
	require.Nil(t, ParseRegions(""))
	require.Nil(t, ParseRegions("not json"))
	require.Empty(t, ParseRegions(`["XYZ", 12]`))
}
