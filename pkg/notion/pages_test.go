package notion

import (
	"context"
	"errors"
	"testing"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// mockClient implements Client for testing.
type mockClient struct {
	mock.Mock
}

func (m *mockClient) GetDatabase(ctx context.Context, dbID string) (*notionapi.Database, error) {
	args := m.Called(ctx, dbID)
	db, _ := args.Get(0).(*notionapi.Database)
	return db, args.Error(1)
}

func (m *mockClient) UpdateDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseUpdateRequest) (*notionapi.Database, error) {
	args := m.Called(ctx, dbID, req)
	db, _ := args.Get(0).(*notionapi.Database)
	return db, args.Error(1)
}

func (m *mockClient) QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	args := m.Called(ctx, dbID, req)
	resp, _ := args.Get(0).(*notionapi.DatabaseQueryResponse)
	return resp, args.Error(1)
}

func (m *mockClient) CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	args := m.Called(ctx, req)
	p, _ := args.Get(0).(*notionapi.Page)
	return p, args.Error(1)
}

func (m *mockClient) UpdatePage(ctx context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error) {
	args := m.Called(ctx, pageID, req)
	p, _ := args.Get(0).(*notionapi.Page)
	return p, args.Error(1)
}

var _ Client = (*mockClient)(nil)

func firstBatch(req *notionapi.DatabaseQueryRequest) bool {
	return req.StartCursor == "" && req.PageSize == MaxPageSize
}

func cursor(c notionapi.Cursor) func(*notionapi.DatabaseQueryRequest) bool {
	return func(req *notionapi.DatabaseQueryRequest) bool { return req.StartCursor == c }
}

func TestQueryAll_FollowsCursors(t *testing.T) {
	mc := new(mockClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "db", mock.MatchedBy(firstBatch)).Return(&notionapi.DatabaseQueryResponse{
		Results:    []notionapi.Page{{ID: "p1"}, {ID: "p2"}},
		HasMore:    true,
		NextCursor: "c2",
	}, nil).Once()
	mc.On("QueryDatabase", ctx, "db", mock.MatchedBy(cursor("c2"))).Return(&notionapi.DatabaseQueryResponse{
		Results:    []notionapi.Page{{ID: "p3"}, {ID: "gone", Archived: true}},
		HasMore:    true,
		NextCursor: "c3",
	}, nil).Once()
	mc.On("QueryDatabase", ctx, "db", mock.MatchedBy(cursor("c3"))).Return(&notionapi.DatabaseQueryResponse{
		Results: []notionapi.Page{{ID: "p4"}},
	}, nil).Once()

	pages, err := QueryAll(ctx, mc, "db")
	require.NoError(t, err)

	ids := make([]string, len(pages))
	for i, p := range pages {
		ids[i] = string(p.ID)
	}
	assert.Equal(t, []string{"p1", "p2", "p3", "p4"}, ids)
	mc.AssertExpectations(t)
}

func TestQueryAll_Empty(t *testing.T) {
	mc := new(mockClient)
	mc.On("QueryDatabase", mock.Anything, "db", mock.Anything).
		Return(&notionapi.DatabaseQueryResponse{}, nil).Once()

	pages, err := QueryAll(context.Background(), mc, "db")
	require.NoError(t, err)
	assert.Empty(t, pages)
}

func TestQueryAll_StopsWithoutCursor(t *testing.T) {
	mc := new(mockClient)
	mc.On("QueryDatabase", mock.Anything, "db", mock.Anything).
		Return(&notionapi.DatabaseQueryResponse{Results: []notionapi.Page{{ID: "p1"}}, HasMore: true}, nil).Once()

	pages, err := QueryAll(context.Background(), mc, "db")
	require.NoError(t, err)
	assert.Len(t, pages, 1)
	mc.AssertExpectations(t)
}

func TestQueryAll_ErrorOnSecondBatch(t *testing.T) {
	mc := new(mockClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "db", mock.MatchedBy(firstBatch)).Return(&notionapi.DatabaseQueryResponse{
		Results: []notionapi.Page{{ID: "p1"}}, HasMore: true, NextCursor: "c2",
	}, nil).Once()
	mc.On("QueryDatabase", ctx, "db", mock.MatchedBy(cursor("c2"))).
		Return(nil, errors.New("bad gateway")).Once()

	_, err := QueryAll(ctx, mc, "db")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query batch 2")
}

func TestEachPage_CallbackErrorStops(t *testing.T) {
	mc := new(mockClient)
	mc.On("QueryDatabase", mock.Anything, "db", mock.Anything).Return(&notionapi.DatabaseQueryResponse{
		Results: []notionapi.Page{{ID: "p1"}, {ID: "p2"}},
	}, nil).Once()

	stop := errors.New("stop")
	var seen int
	err := EachPage(context.Background(), mc, "db", func(notionapi.Page) error {
		seen++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, seen)
}
