package apportion

import (
	"context"
	"sync"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/apportion/internal/model"
)

type fakeAreas struct {
	areas []model.Area
	err   error
}

func (f *fakeAreas) Areas(context.Context) ([]model.Area, error) { return f.areas, f.err }

// fakeBlocks returns every block whose bounding box intersects the query.
type fakeBlocks struct {
	mu      sync.Mutex
	blocks  []model.Block
	fail    map[string]error
	queries []model.BlockQuery
}

func (f *fakeBlocks) Blocks(_ context.Context, q model.BlockQuery) ([]model.Block, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()
	if err, ok := f.fail[q.AreaID]; ok {
		return nil, err
	}
	var out []model.Block
	for _, b := range f.blocks {
		if model.RingsBBox(b.Rings).Intersects(q.BBox) {
			out = append(out, b)
		}
	}
	return out, nil
}

type fakeSink struct {
	mu      sync.Mutex
	updated map[string]model.Area
	err     error
}

func (f *fakeSink) UpdateArea(_ context.Context, area model.Area) (*model.UpdateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.updated == nil {
		f.updated = map[string]model.Area{}
	}
	f.updated[area.ID] = area
	return model.NewUpdateResult(area.ID, nil), nil
}

func testAreas() []model.Area {
	return []model.Area{
		{ID: "west", Rings: rect(0, 0, 2000, 2000)},
		{ID: "east", Rings: rect(10000, 0, 1000, 1000)},
	}
}

func testBlocks() *fakeBlocks {
	return &fakeBlocks{blocks: []model.Block{
		block("w1", rect(0, 0, 1000, 2000), 100, 40),
		block("w2", rect(1000, 0, 1000, 2000), 50, 20),
		block("e1", rect(10000, 0, 1000, 1000), 1234, 512),
	}}
}

func TestRunner_Run(t *testing.T) {
	sink := &fakeSink{}
	r := NewRunner(&fakeAreas{areas: testAreas()}, testBlocks(), sink, RunOptions{Method: MethodAll, Concurrency: 2})

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Summaries, 2)
	assert.False(t, res.Issues)

	west := res.Summaries["west"]
	require.NotNil(t, west)
	assert.Equal(t, int64(150), west.PopAll)
	assert.Equal(t, 2, west.BlocksGT50)
	require.NotNil(t, west.Update)
	assert.True(t, west.Update.Success)
	assert.Len(t, west.Update.Fields, len(model.AreaFields))

	east := res.Summaries["east"]
	require.NotNil(t, east)
	assert.Equal(t, int64(1234), east.PopAll)

	require.Len(t, sink.updated, 2)
	assert.Equal(t, int64(1200), *sink.updated["east"].Population)
	assert.Equal(t, int64(510), *sink.updated["east"].Housing)
	assert.Equal(t, "all", *sink.updated["east"].Method)
	assert.Equal(t, int64(150), *sink.updated["west"].Population)
}

func TestRunner_QueriesWithNormalizedArea(t *testing.T) {
	blocks := testBlocks()
	r := NewRunner(&fakeAreas{areas: testAreas()[:1]}, blocks, nil, RunOptions{})

	_, err := r.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, blocks.queries, 1)
	q := blocks.queries[0]
	assert.Equal(t, "west", q.AreaID)
	assert.Equal(t, model.BBox{MinX: 0, MinY: 0, MaxX: 2000, MaxY: 2000}, q.BBox)
	assert.NotEmpty(t, q.WKB)
	assert.Equal(t, testAreas()[0].Rings, q.Rings)
}

func TestRunner_MethodNoneSkipsSink(t *testing.T) {
	r := NewRunner(&fakeAreas{areas: testAreas()}, testBlocks(), nil, RunOptions{Method: MethodNone})

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Summaries, 2)
	for _, s := range res.Summaries {
		assert.Nil(t, s.Update)
	}
}

func TestRunner_RequiresSinkForMethod(t *testing.T) {
	r := NewRunner(&fakeAreas{areas: testAreas()}, testBlocks(), nil, RunOptions{Method: MethodWeighted})
	_, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires an area sink")
}

func TestRunner_FailingAreaDoesNotAbortBatch(t *testing.T) {
	areas := append(testAreas(),
		model.Area{ID: "broken", Rings: []model.Ring{{{500, 500}, {600, 600}, {500, 500}}}},
		model.Area{ID: "empty"},
	)
	blocks := testBlocks()
	blocks.fail = map[string]error{"east": eris.New("connection reset")}

	r := NewRunner(&fakeAreas{areas: areas}, blocks, &fakeSink{}, RunOptions{Method: MethodAll, Verbose: true})
	res, err := r.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Summaries, 4)
	assert.True(t, res.Issues)

	assert.Empty(t, res.Summaries["west"].Errors)

	east := res.Summaries["east"]
	require.Len(t, east.Errors, 1)
	assert.Contains(t, east.Errors[0], "fetch blocks for area east")
	assert.Nil(t, east.Update)

	require.Len(t, res.Summaries["broken"].Errors, 1)
	assert.Contains(t, res.Summaries["broken"].Errors[0], "normalize area broken")

	require.Len(t, res.Summaries["empty"].Errors, 1)
	assert.Contains(t, res.Summaries["empty"].Errors[0], "normalize area empty")
}

func TestRunner_SinkFailureRecorded(t *testing.T) {
	sink := &fakeSink{err: eris.New("permission denied")}
	r := NewRunner(&fakeAreas{areas: testAreas()[:1]}, testBlocks(), sink, RunOptions{Method: MethodGT50})

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Issues)

	upd := res.Summaries["west"].Update
	require.NotNil(t, upd)
	assert.False(t, upd.Success)
	assert.Contains(t, upd.Error, "permission denied")
	for _, f := range upd.Fields {
		assert.False(t, f.Success)
	}
}

func TestRunner_AreaSourceError(t *testing.T) {
	r := NewRunner(&fakeAreas{err: eris.New("layer not found")}, testBlocks(), nil, RunOptions{})
	_, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read areas")
}

func TestRunner_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewRunner(&fakeAreas{areas: testAreas()}, testBlocks(), nil, RunOptions{Concurrency: 1})
	res, err := r.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context canceled")
	assert.Empty(t, res.Summaries)
}

func TestRunner_RepairedAreaWarnedOnce(t *testing.T) {
	blocks := &fakeBlocks{blocks: []model.Block{block("b", rect(0, 0, 10, 10), 4, 4)}}
	areas := &fakeAreas{areas: []model.Area{{ID: "bow", Rings: bowtie()}}}
	r := NewRunner(areas, blocks, nil, RunOptions{})

	res, err := r.Run(context.Background())
	require.NoError(t, err)

	s := res.Summaries["bow"]
	require.NotNil(t, s)
	require.Len(t, s.Warnings, 1)
	assert.Contains(t, s.Warnings[0], "self-intersections were automatically fixed")
	assert.Equal(t, 1, s.BlocksAll)
	require.Len(t, blocks.queries, 1)
}
