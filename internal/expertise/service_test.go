package expertise

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/quorum/internal/qa"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

const testNowSeconds = 1700000000

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "expertise.db")), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(&qa.Question{}, &qa.Answer{}, &qa.Reaction{}, &qa.Flag{}, &Stats{}, &Domain{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	service, err := NewService(ServiceConfig{
		Database: db,
		Clock:    func() time.Time { return time.Unix(testNowSeconds, 0).UTC() },
	})
	if err != nil {
		t.Fatalf("failed to construct expertise service: %v", err)
	}
	return service, db
}

func mustCreate(t *testing.T, db *gorm.DB, value interface{}) {
	t.Helper()
	if err := db.Create(value).Error; err != nil {
		t.Fatalf("failed to seed %T: %v", value, err)
	}
}

// seedSpecialist seeds author-1 with 5 answers, 2 accepted, 2 helpful, 1 expert and 8 questions.
func seedSpecialist(t *testing.T, db *gorm.DB) {
	t.Helper()
	mustCreate(t, db, &qa.Question{QuestionID: "q-go", AskerID: "asker-1", Category: "go", CreatedAtSeconds: testNowSeconds - 500})
	mustCreate(t, db, &qa.Question{QuestionID: "q-sql", AskerID: "asker-2", Category: "sql", CreatedAtSeconds: testNowSeconds - 500})
	for index := 0; index < 8; index++ {
		mustCreate(t, db, &qa.Question{
			QuestionID:       fmt.Sprintf("q-own-%d", index),
			AskerID:          "author-1",
			Category:         "misc",
			CreatedAtSeconds: testNowSeconds - 400,
		})
	}
	answers := []qa.Answer{
		{AnswerID: "a-1", QuestionID: "q-go", IsAccepted: true, AcceptedAtSeconds: testNowSeconds - 100, HelpfulCount: 2, ExpertBadgeCount: 1},
		{AnswerID: "a-2", QuestionID: "q-go"},
		{AnswerID: "a-3", QuestionID: "q-go"},
		{AnswerID: "a-4", QuestionID: "q-sql", IsAccepted: true, AcceptedAtSeconds: testNowSeconds - 100},
		{AnswerID: "a-5", QuestionID: "q-sql"},
	}
	for index := range answers {
		answers[index].AuthorID = "author-1"
		answers[index].Body = "an answer body"
		answers[index].CreatedAtSeconds = testNowSeconds - 300
		answers[index].UpdatedAtSeconds = testNowSeconds - 300
		mustCreate(t, db, &answers[index])
	}
	reactions := []qa.Reaction{
		{ReactionID: "r-1", AnswerID: "a-1", UserID: "reader-1", Type: qa.ReactionHelpful},
		{ReactionID: "r-2", AnswerID: "a-1", UserID: "reader-2", Type: qa.ReactionHelpful},
		{ReactionID: "r-3", AnswerID: "a-1", UserID: "reader-3", Type: qa.ReactionExpert},
	}
	for index := range reactions {
		reactions[index].CreatedAtSeconds = testNowSeconds - 200
		reactions[index].UpdatedAtSeconds = testNowSeconds - 200
		mustCreate(t, db, &reactions[index])
	}
}

func TestGetProfileCreatesStatsOnFirstRead(t *testing.T) {
	service, db := newTestService(t)
	seedSpecialist(t, db)

	profile, err := service.GetProfile(context.Background(), "author-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if profile.Stats.ExpertScore != 196 {
		t.Fatalf("expected score 196, got %d", profile.Stats.ExpertScore)
	}
	if profile.Stats.ExpertLevel != LevelSpecialist {
		t.Fatalf("expected specialist, got %s", profile.Stats.ExpertLevel)
	}
	if profile.Stats.TopCategory != "go" {
		t.Fatalf("expected top category go, got %q", profile.Stats.TopCategory)
	}
	if profile.NextLevel != LevelSenior || profile.PointsToNextLevel != 4 {
		t.Fatalf("expected senior in 4 points, got %s in %d", profile.NextLevel, profile.PointsToNextLevel)
	}
	if len(profile.Domains) != 2 {
		t.Fatalf("expected 2 domains, got %d", len(profile.Domains))
	}

	var stored Stats
	if err := db.Where("user_id = ?", "author-1").Take(&stored).Error; err != nil {
		t.Fatalf("expected stats row to be persisted: %v", err)
	}
	if stored.TotalAnswers != 5 || stored.FeaturedAnswers != 2 || stored.TotalQuestions != 8 {
		t.Fatalf("unexpected stored counters: %+v", stored)
	}
}

func TestGetProfileRederivesStaleScore(t *testing.T) {
	service, db := newTestService(t)
	seedSpecialist(t, db)
	if _, err := service.GetProfile(context.Background(), "author-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := db.Model(&Stats{}).Where("user_id = ?", "author-1").
		Updates(map[string]interface{}{"expert_score": 7, "expert_level": "top_expert"}).Error; err != nil {
		t.Fatalf("failed to corrupt stats: %v", err)
	}

	profile, err := service.GetProfile(context.Background(), "author-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if profile.Stats.ExpertScore != 196 || profile.Stats.ExpertLevel != LevelSpecialist {
		t.Fatalf("expected derived fields to be recomputed, got %+v", profile.Stats)
	}
}

func TestGetProfileRejectsInvalidUser(t *testing.T) {
	service, _ := newTestService(t)
	_, err := service.GetProfile(context.Background(), "   ")
	if qa.KindOf(err) != qa.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestApplyDeltaMatchesFullRecompute(t *testing.T) {
	service, db := newTestService(t)
	seedSpecialist(t, db)
	ctx := context.Background()
	if _, err := service.GetProfile(ctx, "author-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&qa.Reaction{
			ReactionID: "r-4", AnswerID: "a-4", UserID: "reader-4", Type: qa.ReactionHelpful,
			CreatedAtSeconds: testNowSeconds, UpdatedAtSeconds: testNowSeconds,
		}).Error; err != nil {
			return err
		}
		if err := tx.Model(&qa.Answer{}).Where("answer_id = ?", "a-4").
			Update("helpful_count", gorm.Expr("helpful_count + 1")).Error; err != nil {
			return err
		}
		return ApplyDelta(tx, "author-1", "sql", ReactionDelta(qa.ReactionHelpful, 1))
	})
	if err != nil {
		t.Fatalf("failed to apply delta: %v", err)
	}

	var incremental Stats
	if err := db.Where("user_id = ?", "author-1").Take(&incremental).Error; err != nil {
		t.Fatalf("failed to load stats: %v", err)
	}
	if incremental.HelpfulReactions != 3 || incremental.ExpertScore != 201 || incremental.ExpertLevel != LevelSenior {
		t.Fatalf("unexpected incremental stats: %+v", incremental)
	}

	recomputed, err := service.Recompute(ctx, "author-1")
	if err != nil {
		t.Fatalf("unexpected recompute error: %v", err)
	}
	if recomputed.Stats.Inputs() != incremental.Inputs() || recomputed.Stats.ExpertScore != incremental.ExpertScore {
		t.Fatalf("incremental %+v diverged from recompute %+v", incremental, recomputed.Stats)
	}
}

func TestApplyDeltaLeavesMissingStatsForLazyCreation(t *testing.T) {
	_, db := newTestService(t)
	if err := ApplyDelta(db, "ghost", "go", Delta{Answers: 1, ActivitySeconds: testNowSeconds}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var count int64
	db.Model(&Stats{}).Where("user_id = ?", "ghost").Count(&count)
	if count != 0 {
		t.Fatalf("expected no stats row, got %d", count)
	}
	var domain Domain
	if err := db.Where("user_id = ? AND category = ?", "ghost", "go").Take(&domain).Error; err != nil {
		t.Fatalf("expected domain row: %v", err)
	}
	if domain.AnswerCount != 1 || domain.LastActivitySeconds != testNowSeconds {
		t.Fatalf("unexpected domain row: %+v", domain)
	}
}

func TestApplyDeltaNeverGoesNegative(t *testing.T) {
	service, db := newTestService(t)
	if _, err := service.Recompute(context.Background(), "idle"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ApplyDelta(db, "idle", "go", Delta{Helpful: -2}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var stats Stats
	if err := db.Where("user_id = ?", "idle").Take(&stats).Error; err != nil {
		t.Fatalf("failed to load stats: %v", err)
	}
	if stats.HelpfulReactions != 0 {
		t.Fatalf("expected helpful reactions to stay at zero, got %d", stats.HelpfulReactions)
	}
}

func TestRecordAnswerPostedUpdatesDomain(t *testing.T) {
	service, db := newTestService(t)
	seedSpecialist(t, db)
	ctx := context.Background()
	if _, err := service.GetProfile(ctx, "author-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mustCreate(t, db, &qa.Answer{
		AnswerID: "a-6", QuestionID: "q-sql", AuthorID: "author-1", Body: "more",
		CreatedAtSeconds: testNowSeconds, UpdatedAtSeconds: testNowSeconds,
	})
	mustCreate(t, db, &qa.Question{QuestionID: "q-new", AskerID: "author-1", Category: "misc", CreatedAtSeconds: testNowSeconds})
	if err := service.RecordAnswerPosted(ctx, "a-6"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := service.RecordQuestionPosted(ctx, "q-new"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var stats Stats
	if err := db.Where("user_id = ?", "author-1").Take(&stats).Error; err != nil {
		t.Fatalf("failed to load stats: %v", err)
	}
	if stats.TotalAnswers != 6 || stats.TotalQuestions != 9 {
		t.Fatalf("unexpected counters: %+v", stats)
	}
	var domain Domain
	if err := db.Where("user_id = ? AND category = ?", "author-1", "sql").Take(&domain).Error; err != nil {
		t.Fatalf("failed to load domain: %v", err)
	}
	if domain.AnswerCount != 3 || domain.LastActivitySeconds != testNowSeconds {
		t.Fatalf("unexpected domain: %+v", domain)
	}

	err := service.RecordAnswerPosted(ctx, "missing")
	if qa.KindOf(err) != qa.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRecordEventsRejectHiddenRows(t *testing.T) {
	service, db := newTestService(t)
	seedSpecialist(t, db)
	ctx := context.Background()
	if _, err := service.GetProfile(ctx, "author-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mustCreate(t, db, &qa.Question{QuestionID: "q-hidden", AskerID: "author-1", Category: "go", IsHidden: true, CreatedAtSeconds: testNowSeconds})
	mustCreate(t, db, &qa.Answer{
		AnswerID: "a-hidden", QuestionID: "q-go", AuthorID: "author-1", Body: "x", IsHidden: true,
		CreatedAtSeconds: testNowSeconds, UpdatedAtSeconds: testNowSeconds,
	})
	mustCreate(t, db, &qa.Answer{
		AnswerID: "a-under-hidden", QuestionID: "q-hidden", AuthorID: "author-1", Body: "x",
		CreatedAtSeconds: testNowSeconds, UpdatedAtSeconds: testNowSeconds,
	})

	testCases := []struct {
		name     string
		record   func() error
		sentinel error
	}{
		{name: "hidden answer", record: func() error { return service.RecordAnswerPosted(ctx, "a-hidden") }, sentinel: qa.ErrAnswerNotFound},
		{name: "answer under hidden question", record: func() error { return service.RecordAnswerPosted(ctx, "a-under-hidden") }, sentinel: qa.ErrQuestionNotFound},
		{name: "hidden question", record: func() error { return service.RecordQuestionPosted(ctx, "q-hidden") }, sentinel: qa.ErrQuestionNotFound},
		{name: "missing question", record: func() error { return service.RecordQuestionPosted(ctx, "q-missing") }, sentinel: qa.ErrQuestionNotFound},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			err := testCase.record()
			if !errors.Is(err, testCase.sentinel) || qa.KindOf(err) != qa.KindNotFound {
				t.Fatalf("expected not found, got %v", err)
			}
		})
	}

	var stats Stats
	if err := db.Where("user_id = ?", "author-1").Take(&stats).Error; err != nil {
		t.Fatalf("failed to load stats: %v", err)
	}
	if stats.TotalAnswers != 5 || stats.TotalQuestions != 8 {
		t.Fatalf("expected hidden rows to leave counters untouched, got %+v", stats)
	}
}

func TestScoreMatchesAcrossProfileDebugAndLeaderboard(t *testing.T) {
	service, db := newTestService(t)
	seedSpecialist(t, db)
	ctx := context.Background()

	assertParity := func(t *testing.T, want int64) {
		t.Helper()
		profile, err := service.GetProfile(ctx, "author-1")
		if err != nil {
			t.Fatalf("unexpected profile error: %v", err)
		}
		debug, err := service.ScoreBreakdown(ctx, "author-1")
		if err != nil {
			t.Fatalf("unexpected debug error: %v", err)
		}
		entries, err := service.Leaderboard(ctx, LeaderboardQuery{})
		if err != nil {
			t.Fatalf("unexpected leaderboard error: %v", err)
		}
		var leaderboardScore int64 = -1
		for _, entry := range entries {
			if entry.UserID == "author-1" {
				leaderboardScore = entry.Score
			}
		}
		if profile.Stats.ExpertScore != want || debug.Breakdown.Total != want || leaderboardScore != want {
			t.Fatalf("expected %d everywhere, got profile=%d debug=%d leaderboard=%d",
				want, profile.Stats.ExpertScore, debug.Breakdown.Total, leaderboardScore)
		}
	}

	// No stats row yet: the leaderboard derives what the first profile read stores.
	if _, err := service.Leaderboard(ctx, LeaderboardQuery{}); err != nil {
		t.Fatalf("unexpected leaderboard error: %v", err)
	}
	assertParity(t, 196)

	mustCreate(t, db, &qa.Answer{
		AnswerID: "a-7", QuestionID: "q-sql", AuthorID: "author-1", Body: "x",
		CreatedAtSeconds: testNowSeconds, UpdatedAtSeconds: testNowSeconds,
	})
	if err := service.RecordAnswerPosted(ctx, "a-7"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertParity(t, 206)

	// Stored counters that drift from the signal tables still read the same everywhere.
	if err := db.Model(&Stats{}).Where("user_id = ?", "author-1").Update("total_questions", 20).Error; err != nil {
		t.Fatalf("failed to skew stats: %v", err)
	}
	assertParity(t, 230)
}

func TestUserLockStatement(t *testing.T) {
	statement, ok := userLockStatement("postgres")
	if !ok || !strings.Contains(statement, "pg_advisory_xact_lock") {
		t.Fatalf("expected an advisory transaction lock for postgres, got %q", statement)
	}
	if _, ok := userLockStatement("sqlite"); ok {
		t.Fatalf("expected no lock statement for sqlite")
	}
}

func TestConcurrentDeltasAndRecomputesConverge(t *testing.T) {
	service, db := newTestService(t)
	seedSpecialist(t, db)
	ctx := context.Background()

	const readers = 8
	var wait sync.WaitGroup
	errs := make(chan error, readers*2)
	for index := 0; index < readers; index++ {
		wait.Add(2)
		go func(index int) {
			defer wait.Done()
			errs <- db.Transaction(func(tx *gorm.DB) error {
				if err := tx.Create(&qa.Reaction{
					ReactionID: fmt.Sprintf("r-extra-%d", index), AnswerID: "a-2", UserID: fmt.Sprintf("extra-%d", index),
					Type: qa.ReactionHelpful, CreatedAtSeconds: testNowSeconds, UpdatedAtSeconds: testNowSeconds,
				}).Error; err != nil {
					return err
				}
				if err := tx.Model(&qa.Answer{}).Where("answer_id = ?", "a-2").
					Update("helpful_count", gorm.Expr("helpful_count + 1")).Error; err != nil {
					return err
				}
				return ApplyDelta(tx, "author-1", "go", ReactionDelta(qa.ReactionHelpful, 1))
			})
		}(index)
		go func() {
			defer wait.Done()
			_, err := service.Recompute(ctx, "author-1")
			errs <- err
		}()
	}
	wait.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	debug, err := service.ScoreBreakdown(ctx, "author-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !debug.InSync || debug.Stored.HelpfulReactions != 2+readers {
		t.Fatalf("expected stored counters to match signals, got %+v", debug)
	}
}

func TestScoreBreakdownReportsDrift(t *testing.T) {
	service, db := newTestService(t)
	seedSpecialist(t, db)
	ctx := context.Background()

	debug, err := service.ScoreBreakdown(ctx, "author-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !debug.InSync || debug.Breakdown.Total != 196 {
		t.Fatalf("expected in-sync breakdown of 196, got %+v", debug)
	}

	if err := db.Model(&Stats{}).Where("user_id = ?", "author-1").Update("total_answers", 9).Error; err != nil {
		t.Fatalf("failed to skew stats: %v", err)
	}
	debug, err = service.ScoreBreakdown(ctx, "author-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if debug.InSync {
		t.Fatalf("expected drift to be reported")
	}
	if debug.Stored.TotalAnswers != 9 || debug.Derived.TotalAnswers != 5 {
		t.Fatalf("unexpected counters: %+v", debug)
	}
}

func TestLeaderboardRanksByScoreThenUserID(t *testing.T) {
	service, db := newTestService(t)
	seedSpecialist(t, db)
	for _, author := range []string{"author-b", "author-a"} {
		mustCreate(t, db, &qa.Answer{
			AnswerID: "a-" + author, QuestionID: "q-go", AuthorID: author, Body: "x",
			CreatedAtSeconds: testNowSeconds - 60, UpdatedAtSeconds: testNowSeconds - 60,
		})
	}

	entries, err := service.Leaderboard(context.Background(), LeaderboardQuery{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expectedOrder := []string{"author-1", "author-a", "author-b", "asker-1", "asker-2"}
	if len(entries) != len(expectedOrder) {
		t.Fatalf("expected %d entries, got %d", len(expectedOrder), len(entries))
	}
	for index, userID := range expectedOrder {
		if entries[index].UserID != userID || entries[index].Rank != index+1 {
			t.Fatalf("position %d: expected %s, got %+v", index, userID, entries[index])
		}
	}
	if entries[0].Score != 196 {
		t.Fatalf("expected leader score 196, got %d", entries[0].Score)
	}

	categorised, err := service.Leaderboard(context.Background(), LeaderboardQuery{Category: "sql", Limit: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(categorised) != 1 || categorised[0].UserID != "author-1" {
		t.Fatalf("unexpected category leaderboard: %+v", categorised)
	}
	// 2 answers + 1 accepted in sql, no reactions and no sql questions.
	if categorised[0].Score != 70 {
		t.Fatalf("expected sql score 70, got %d", categorised[0].Score)
	}
}

func TestLeaderboardPeriodExcludesOldActivity(t *testing.T) {
	service, db := newTestService(t)
	mustCreate(t, db, &qa.Question{QuestionID: "q-1", AskerID: "asker", Category: "go", CreatedAtSeconds: testNowSeconds - 90*86400})
	mustCreate(t, db, &qa.Answer{
		AnswerID: "old", QuestionID: "q-1", AuthorID: "veteran", Body: "x",
		CreatedAtSeconds: testNowSeconds - 60*86400, UpdatedAtSeconds: testNowSeconds - 60*86400,
	})
	mustCreate(t, db, &qa.Answer{
		AnswerID: "new", QuestionID: "q-1", AuthorID: "rookie", Body: "x",
		CreatedAtSeconds: testNowSeconds - 86400, UpdatedAtSeconds: testNowSeconds - 86400,
	})

	entries, err := service.Leaderboard(context.Background(), LeaderboardQuery{Period: PeriodWeek})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0].UserID != "rookie" {
		t.Fatalf("expected only recent author, got %+v", entries)
	}

	_, err = service.Leaderboard(context.Background(), LeaderboardQuery{Period: "decade"})
	if qa.KindOf(err) != qa.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestParsePeriod(t *testing.T) {
	testCases := map[string]Period{"": PeriodAll, "all": PeriodAll, "MONTH": PeriodMonth, " week ": PeriodWeek}
	for raw, expected := range testCases {
		got, err := ParsePeriod(raw)
		if err != nil || got != expected {
			t.Fatalf("ParsePeriod(%q) = %q, %v", raw, got, err)
		}
	}
	if _, err := ParsePeriod("year"); !errors.Is(err, errInvalidPeriod) {
		t.Fatalf("expected invalid period error, got %v", err)
	}
}

func TestRecomputeAllCoversEveryKnownUser(t *testing.T) {
	service, db := newTestService(t)
	seedSpecialist(t, db)

	result, err := service.RecomputeAll(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// author-1, asker-1, asker-2
	if result.Recomputed != 3 || result.Failed != 0 {
		t.Fatalf("unexpected sweep result: %+v", result)
	}
	var count int64
	db.Model(&Stats{}).Count(&count)
	if count != 3 {
		t.Fatalf("expected 3 stats rows, got %d", count)
	}
}
