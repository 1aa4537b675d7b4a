package domain

import (
	"context"
	"encoding/json"
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUpdateType(t *testing.T) {
	for _, tag := range []string{"PUT", "PATCH", "DELETE"} {
		op, err := ParseUpdateType(tag)
		require.NoError(t, err)
		assert.Equal(t, tag, op.String())
	}

	for _, tag := range []string{"", "put", "UPSERT", " PUT"} {
		_, err := ParseUpdateType(tag)
		assert.True(t, errors.Is(err, ErrInvalidOperationKind), "tag %q", tag)
	}
}

func TestClientIDFromUint64(t *testing.T) {
	v, err := ClientIDFromUint64(math.MaxInt64)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), v)

	_, err = ClientIDFromUint64(math.MaxInt64 + 1)
	assert.True(t, errors.Is(err, ErrClientIDOutOfRange))
}

func TestCrudEntry_RoundTrip(t *testing.T) {
	txID := int64(42)
	entries := []CrudEntry{
		{
			ClientID:      math.MaxInt64,
			ID:            "a7f1",
			Op:            UpdateTypePut,
			Table:         "todos",
			TransactionID: &txID,
			OpData: map[string]*string{
				"description": ptr("buy milk"),
				"list_id":     ptr("l1"),
				"completed":   nil,
			},
		},
		{ClientID: 7, ID: "b2", Op: UpdateTypePatch, Table: "lists", OpData: map[string]*string{"name": ptr("")}},
		{ClientID: 8, ID: "c3", Op: UpdateTypeDelete, Table: "todos", TransactionID: &txID},
	}

	for _, want := range entries {
		data, err := json.Marshal(want)
		require.NoError(t, err)

		var got CrudEntry
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, want, got)
	}
}

func TestCrudEntry_UnmarshalJSON(t *testing.T) {
	t.Run("unknown op", func(t *testing.T) {
		var e CrudEntry
		err := json.Unmarshal([]byte(`{"clientId":1,"id":"x","op":"MERGE","type":"todos"}`), &e)
		assert.True(t, errors.Is(err, ErrInvalidOperationKind))
	})

	t.Run("missing op", func(t *testing.T) {
		var e CrudEntry
		err := json.Unmarshal([]byte(`{"clientId":1,"id":"x","type":"todos"}`), &e)
		assert.True(t, errors.Is(err, ErrInvalidOperationKind))
	})

	t.Run("missing client id", func(t *testing.T) {
		for _, in := range []string{
			`{"id":"x","op":"PUT","type":"todos"}`,
			`{"clientId":null,"id":"x","op":"PUT","type":"todos"}`,
		} {
			var e CrudEntry
			err := json.Unmarshal([]byte(in), &e)
			assert.True(t, errors.Is(err, ErrPreconditionViolation), in)
			assert.Zero(t, e)
		}
	})

	t.Run("client id above int64", func(t *testing.T) {
		var e CrudEntry
		err := json.Unmarshal([]byte(`{"clientId":9223372036854775808,"id":"x","op":"PUT","type":"todos"}`), &e)
		assert.True(t, errors.Is(err, ErrClientIDOutOfRange))
	})

	t.Run("large client id is not truncated", func(t *testing.T) {
		var e CrudEntry
		require.NoError(t, json.Unmarshal([]byte(`{"clientId":9007199254740993,"id":"x","op":"PUT","type":"todos"}`), &e))
		assert.Equal(t, int64(9007199254740993), e.ClientID)
	})

	t.Run("non string data", func(t *testing.T) {
		var e CrudEntry
		require.NoError(t, json.Unmarshal([]byte(`{
			"clientId": 3, "id": "x", "op": "PATCH", "type": "todos",
			"data": {"s": "text", "n": 12.50, "b": true, "z": null, "o": {"a": 1}, "a": [1, 2]}
		}`), &e))

		require.Contains(t, e.OpData, "s")
		assert.Equal(t, "text", *e.OpData["s"])
		assert.Equal(t, "12.50", *e.OpData["n"])
		assert.Equal(t, "true", *e.OpData["b"])
		assert.Contains(t, e.OpData, "z")
		assert.Nil(t, e.OpData["z"])
		assert.NotContains(t, e.OpData, "o")
		assert.NotContains(t, e.OpData, "a")
	})
}

func TestParseCrudRow(t *testing.T) {
	txID := int64(5)

	e, err := ParseCrudRow(11, &txID, `{"op":"PUT","type":"lists","id":"l1","data":{"name":"Groceries","position":2}}`)
	require.NoError(t, err)
	assert.Equal(t, int64(11), e.ClientID)
	assert.Equal(t, &txID, e.TransactionID)
	assert.Equal(t, UpdateTypePut, e.Op)
	assert.Equal(t, "lists", e.Table)
	assert.Equal(t, "l1", e.ID)
	assert.Equal(t, "Groceries", *e.OpData["name"])
	assert.Equal(t, "2", *e.OpData["position"])

	del, err := ParseCrudRow(12, nil, `{"op":"DELETE","type":"lists","id":"l1","data":{"name":"ignored"}}`)
	require.NoError(t, err)
	assert.Nil(t, del.OpData)
	assert.Nil(t, del.TransactionID)

	_, err = ParseCrudRow(13, nil, `{"op":"REPLACE","type":"lists","id":"l1"}`)
	assert.True(t, errors.Is(err, ErrInvalidOperationKind))

	_, err = ParseCrudRow(14, nil, `not json`)
	assert.Error(t, err)
}

func TestCrudTransaction_Complete(t *testing.T) {
	var gotCheckpoint *string
	tx := NewCrudTransaction(nil, []CrudEntry{{ClientID: 1}}, func(ctx context.Context, cp *string) error {
		gotCheckpoint = cp
		return nil
	})

	require.NoError(t, tx.Complete(context.Background(), ptr("cp-1")))
	assert.Equal(t, "cp-1", *gotCheckpoint)

	assert.Error(t, (&CrudTransaction{}).Complete(context.Background(), nil))
	assert.Error(t, (&CrudBatch{}).Complete(context.Background(), nil))
}
