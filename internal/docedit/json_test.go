package docedit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONDocumentUpdateExistingValue(t *testing.T) {
	doc, err := NewJSONDocument([]byte(`{"test": "value"}`))
	require.NoError(t, err)

	require.NoError(t, doc.Set(ParsePath("test"), Str("foo")))
	assert.Equal(t, `{"test": "foo"}`, string(doc.Bytes()))
}

func TestJSONDocumentInsertTopLevelKeyIntoEmptyObject(t *testing.T) {
	doc, err := NewJSONDocument([]byte(`{}`))
	require.NoError(t, err)

	require.NoError(t, doc.Set(ParsePath("new_key"), Str("value")))
	assert.Equal(t, "{\n  \"new_key\": \"value\"\n}", string(doc.Bytes()))
}

func TestJSONDocumentInsertSortsAmongSiblings(t *testing.T) {
	doc, err := NewJSONDocument([]byte(`{"existing": "value"}`))
	require.NoError(t, err)

	require.NoError(t, doc.Set(ParsePath("new_key"), Str("another")))
	assert.Equal(t, `{"existing": "value", "new_key": "another"}`, string(doc.Bytes()))
}

func TestJSONDocumentInsertNestedKeyCreatesParent(t *testing.T) {
	doc, err := NewJSONDocument([]byte(`{"level1": {}}`))
	require.NoError(t, err)

	require.NoError(t, doc.Set(Path{"level1", "level2", "level3"}, Str("very_deep")))
	assert.Equal(t, `{"level1": {"level2": {"level3": "very_deep"}}}`, string(doc.Bytes()))
}

func TestJSONDocumentRemoveOnlyKeyLeavesEmptyObject(t *testing.T) {
	doc, err := NewJSONDocument([]byte(`{"only_key": "value"}`))
	require.NoError(t, err)

	require.NoError(t, doc.Remove(ParsePath("only_key")))
	assert.Equal(t, `{}`, string(doc.Bytes()))
}

func TestJSONDocumentRemoveMiddleKeyPreservesSiblings(t *testing.T) {
	doc, err := NewJSONDocument([]byte(`{"first": "value1", "second": "value2", "third": "value3"}`))
	require.NoError(t, err)

	require.NoError(t, doc.Remove(ParsePath("second")))
	assert.Equal(t, `{"first": "value1", "third": "value3"}`, string(doc.Bytes()))
}

func TestJSONDocumentRemoveNestedLeavesParentStructure(t *testing.T) {
	doc, err := NewJSONDocument([]byte(`{"parent":{"child1":"keep","child2":"delete"}}`))
	require.NoError(t, err)

	require.NoError(t, doc.Remove(Path{"parent", "child2"}))
	assert.Equal(t, `{"parent":{"child1":"keep"}}`, string(doc.Bytes()))
}

func TestJSONDocumentSetUndefinedOnMissingKeyIsNoop(t *testing.T) {
	doc, err := NewJSONDocument([]byte(`{"foo": "bar"}`))
	require.NoError(t, err)

	require.NoError(t, doc.Set(ParsePath("nonexistent"), Undefined()))
	assert.Equal(t, `{"foo": "bar"}`, string(doc.Bytes()))
}

func TestJSONDocumentArrayValue(t *testing.T) {
	doc, err := NewJSONDocument([]byte(`{"arr": []}`))
	require.NoError(t, err)

	require.NoError(t, doc.Set(ParsePath("arr"), Arr(Int(1), Int(2), Int(3))))
	assert.Equal(t, `{"arr": [1, 2, 3]}`, string(doc.Bytes()))
}
