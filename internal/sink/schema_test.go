package sink

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSchemaState_GrowIsMonotonic(t *testing.T) {
	s := NewSchemaState("deal_id", "deal_name")

	grown, added := s.Grow([]string{"deal_id", "taxonomy_tier1", "", "deal_name", "concepts", "taxonomy_tier1"})
	assert.Equal(t, []string{"taxonomy_tier1", "concepts"}, added)
	assert.Equal(t, []string{"deal_id", "deal_name", "taxonomy_tier1", "concepts"}, grown.Columns())
	assert.Equal(t, 2, s.Len(), "receiver is not mutated")

	same, added := grown.Grow([]string{"concepts"})
	assert.Nil(t, added)
	assert.Equal(t, grown.Columns(), same.Columns())
}

func TestSchemaState_RowPads(t *testing.T) {
	s := NewSchemaState("deal_id", "a", "b")
	assert.Equal(t, []string{"x", "", "2"}, s.Row(map[string]string{"deal_id": "x", "b": "2"}))
}

func TestSchemaState_ColumnsIsACopy(t *testing.T) {
	s := NewSchemaState("deal_id")
	cols := s.Columns()
	cols[0] = "mutated"
	assert.True(t, s.Has("deal_id"))
	assert.False(t, s.Has("mutated"))
}
