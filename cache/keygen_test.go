package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestListKeyIgnoresParameterOrder(t *testing.T) {
	a := ListKey("products", map[string]string{"limit": "10", "skip": "20", "select": JoinSet([]string{"title", "price"})})
	b := ListKey("products", map[string]string{"select": JoinSet([]string{"price", "title"}), "skip": "20", "limit": "10"})
	assert.Equal(t, a, b)
	assert.Equal(t, "products?limit=10&select=price%2Ctitle&skip=20", a.String())
}

func TestListKeyDropsEmptyValues(t *testing.T) {
	assert.Equal(t, ListKey("products", nil), ListKey("products", map[string]string{"q": ""}))
	assert.Equal(t, "products", ListKey("products", nil).String())
}

func TestEntityKeyDiffersFromListKey(t *testing.T) {
	assert.NotEqual(t, ListKey("products", nil), EntityKey("products", 0))
	assert.Equal(t, "products/7", EntityKey("products", 7).String())
}

func TestPredicates(t *testing.T) {
	list := ListKey("products", nil)
	entity := EntityKey("products", 1)
	user := EntityKey("users", 1)

	tests := []struct {
		name  string
		match Predicate
		want  []bool
	}{
		{"exact", Exact(entity), []bool{false, true, false}},
		{"lists", Lists("products"), []bool{true, false, false}},
		{"entities", Entities("products"), []bool{false, true, false}},
		{"collection", Collection("products"), []bool{true, true, false}},
		{"all", All(), []bool{true, true, true}},
	}

	for _, tt := range tests {
		for i, k := range []Key{list, entity, user} {
			assert.Equal(t, tt.want[i], tt.match(k), "%s(%s)", tt.name, k)
		}
	}
}

func TestParamsRoundTrip(t *testing.T) {
	k := ListKey("products", map[string]string{"q": "phone case"})
	assert.Equal(t, "phone case", k.Params().Get("q"))
}
