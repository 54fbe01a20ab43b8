package cluster

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm/logger"

	gormstore "github.com/thebtf/photodedup/internal/db/gorm"
	"github.com/thebtf/photodedup/pkg/models"
	"github.com/thebtf/photodedup/pkg/similarity"
)

type fakeDeleter struct {
	err     error
	deleted [][]string
	calls   int
}

func (f *fakeDeleter) Delete(_ context.Context, ids []string) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, ids)
	return nil
}

type EngineSuite struct {
	suite.Suite
	ctx     context.Context
	store   *gormstore.Store
	sets    *gormstore.SetStore
	deleter *fakeDeleter
	engine  *Engine
}

func (s *EngineSuite) SetupTest() {
	s.ctx = context.Background()

	store, err := gormstore.NewStore(gormstore.Config{
		Path:     filepath.Join(s.T().TempDir(), "photos.db"),
		MaxConns: 4,
		LogLevel: logger.Silent,
	})
	s.Require().NoError(err)
	s.store = store
	s.sets = gormstore.NewSetStore(store)
	s.deleter = &fakeDeleter{}

	s.engine = NewEngine(s.sets, s.deleter, Config{
		Threshold: similarity.DefaultOverlapThreshold,
		MatchMode: similarity.MatchRepresentative,
		Window:    WindowHour,
		Location:  time.UTC,
	}, zerolog.Nop(), nil)
}

func (s *EngineSuite) TearDownTest() {
	s.sets.Close()
	_ = s.store.Close()
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) ingestABC() {
	_, err := s.engine.IngestBatch(s.ctx, []models.Photo{
		at("a", 0, 1, 2, 3, 4, 5),
		at("b", time.Minute, 5, 3, 4, 1, 2),
		at("c", 2*time.Minute, 9, 9, 9),
	})
	s.Require().NoError(err)
}

func (s *EngineSuite) TestIngest_EndToEnd() {
	s.ingestABC()

	a, err := s.sets.GetSet(s.ctx, "a")
	s.Require().NoError(err)
	s.Require().NotNil(a)
	s.Equal([]string{"a", "b"}, a.MemberIDs)

	c, err := s.sets.GetSet(s.ctx, "c")
	s.Require().NoError(err)
	s.Require().NotNil(c)
	s.Equal([]string{"c"}, c.MemberIDs)

	surfaced, err := s.sets.ListSurfacedSets(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(surfaced, 1)
	s.Equal("a", surfaced[0].ID)
}

func (s *EngineSuite) TestIngest_Idempotent() {
	s.ingestABC()

	results, err := s.engine.IngestBatch(s.ctx, []models.Photo{at("b", time.Minute, 5, 3, 4, 1, 2)})
	s.Require().NoError(err)
	s.Require().Len(results, 1)
	s.Equal("a", results[0].SetID)

	a, err := s.sets.GetSet(s.ctx, "a")
	s.Require().NoError(err)
	s.Equal([]string{"a", "b"}, a.MemberIDs)

	count, err := s.sets.CountPhotos(s.ctx)
	s.Require().NoError(err)
	s.EqualValues(3, count)
}

func (s *EngineSuite) TestKeepAll() {
	s.ingestABC()

	s.Require().NoError(s.engine.KeepAll(s.ctx, "a"))

	a, err := s.sets.GetSet(s.ctx, "a")
	s.Require().NoError(err)
	s.False(a.Visible)
	s.Equal([]string{"a", "b"}, a.MemberIDs)

	surfaced, err := s.sets.ListSurfacedSets(s.ctx)
	s.Require().NoError(err)
	s.Empty(surfaced)
	s.Zero(s.deleter.calls)
}

func (s *EngineSuite) TestKeepAll_UnknownSet() {
	err := s.engine.KeepAll(s.ctx, "missing")
	s.ErrorIs(err, ErrSetNotFound)
}

func (s *EngineSuite) TestKeptSetStaysHiddenWhenJoined() {
	s.ingestABC()
	s.Require().NoError(s.engine.KeepAll(s.ctx, "a"))

	_, err := s.engine.IngestBatch(s.ctx, []models.Photo{at("d", 3*time.Minute, 1, 2, 3)})
	s.Require().NoError(err)

	a, err := s.sets.GetSet(s.ctx, "a")
	s.Require().NoError(err)
	s.Equal([]string{"a", "b", "d"}, a.MemberIDs)
	s.False(a.Visible)
}

func (s *EngineSuite) TestRemoveAll() {
	s.ingestABC()

	removed, err := s.engine.RemoveAll(s.ctx, "a")
	s.Require().NoError(err)
	s.Equal([]string{"a", "b"}, removed)
	s.Equal([][]string{{"a", "b"}}, s.deleter.deleted)

	a, err := s.sets.GetSet(s.ctx, "a")
	s.Require().NoError(err)
	s.Nil(a)

	exists, err := s.sets.Exists(s.ctx, "b")
	s.Require().NoError(err)
	s.False(exists)
}

func (s *EngineSuite) TestRemoveAll_SourceRefusalKeepsStore() {
	s.ingestABC()
	s.deleter.err = errors.New("permission denied")

	_, err := s.engine.RemoveAll(s.ctx, "a")
	var srcErr *SourceDeleteError
	s.Require().ErrorAs(err, &srcErr)
	s.Equal([]string{"a", "b"}, srcErr.IDs)

	a, err := s.sets.GetSet(s.ctx, "a")
	s.Require().NoError(err)
	s.Require().NotNil(a)
	s.Equal([]string{"a", "b"}, a.MemberIDs)
}

func (s *EngineSuite) TestRemoveAll_UnknownSet() {
	_, err := s.engine.RemoveAll(s.ctx, "missing")
	s.ErrorIs(err, ErrSetNotFound)
	s.Zero(s.deleter.calls)
}

func (s *EngineSuite) TestRemoveSelected() {
	_, err := s.engine.IngestBatch(s.ctx, []models.Photo{
		at("a", 0, 1, 2, 3),
		at("b", time.Minute, 1, 2, 3),
		at("c", 2*time.Minute, 1, 2, 3),
	})
	s.Require().NoError(err)

	removed, err := s.engine.RemoveSelected(s.ctx, "a", []int{2, 0, 2})
	s.Require().NoError(err)
	s.ElementsMatch([]string{"a", "c"}, removed)

	set, err := s.sets.GetSet(s.ctx, "a")
	s.Require().NoError(err)
	s.Require().NotNil(set)
	s.Equal([]string{"b"}, set.MemberIDs)
	s.False(set.Surfaced())
}

func (s *EngineSuite) TestRemoveSelected_IndexOutOfRange() {
	s.ingestABC()

	_, err := s.engine.RemoveSelected(s.ctx, "a", []int{0, 2})
	s.ErrorIs(err, ErrInvalidIndex)
	s.Zero(s.deleter.calls)

	_, err = s.engine.RemoveSelected(s.ctx, "a", []int{-1})
	s.ErrorIs(err, ErrInvalidIndex)

	a, err := s.sets.GetSet(s.ctx, "a")
	s.Require().NoError(err)
	s.Len(a.MemberIDs, 2)
}

func (s *EngineSuite) TestRemoveSelected_Empty() {
	s.ingestABC()

	removed, err := s.engine.RemoveSelected(s.ctx, "a", nil)
	s.Require().NoError(err)
	s.Empty(removed)
	s.Zero(s.deleter.calls)
}

func (s *EngineSuite) TestRebuild_PreservesHiddenSets() {
	s.ingestABC()
	s.Require().NoError(s.engine.KeepAll(s.ctx, "a"))

	report, err := s.engine.Rebuild(s.ctx)
	s.Require().NoError(err)
	s.NotEmpty(report.RunID)
	s.Equal(3, report.Photos)
	s.Equal(1, report.Sets)
	s.Equal(1, report.Singletons)
	s.Equal(1, report.Hidden)

	a, err := s.sets.GetSet(s.ctx, "a")
	s.Require().NoError(err)
	s.Require().NotNil(a)
	s.False(a.Visible)
	s.Equal([]string{"a", "b"}, a.MemberIDs)

	exists, err := s.sets.Exists(s.ctx, "c")
	s.Require().NoError(err)
	s.True(exists)
}

func (s *EngineSuite) TestRebuild_MergesAcrossWindows() {
	// Same content one hour apart: incremental assembly keeps them apart
	_, err := s.engine.IngestBatch(s.ctx, []models.Photo{
		at("a", 0, 1, 2, 3),
		at("b", time.Hour, 1, 2, 3),
	})
	s.Require().NoError(err)

	surfaced, err := s.sets.ListSurfacedSets(s.ctx)
	s.Require().NoError(err)
	s.Empty(surfaced)

	_, err = s.engine.Rebuild(s.ctx)
	s.Require().NoError(err)

	surfaced, err = s.sets.ListSurfacedSets(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(surfaced, 1)
	s.Equal([]string{"a", "b"}, surfaced[0].MemberIDs)
}

func (s *EngineSuite) TestReset() {
	s.ingestABC()
	s.Require().NoError(s.engine.Reset(s.ctx))

	count, err := s.sets.CountPhotos(s.ctx)
	s.Require().NoError(err)
	s.Zero(count)
}
