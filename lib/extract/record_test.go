package extract

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordKeepsInsertionOrder(t *testing.T) {
	rec := NewRecord()
	rec.Set("z", 1)
	rec.Set("a", 2)
	rec.Set("m", 3)
	rec.Set("a", 4) // overwrite keeps the original position

	require.Equal(t, []string{"z", "a", "m"}, rec.Keys())
	require.Equal(t, 3, rec.Len())

	v, ok := rec.Get("a")
	require.True(t, ok)
	require.Equal(t, 4, v)

	data, err := json.Marshal(rec)
	require.NoError(t, err)
	require.Equal(t, `{"z":1,"a":4,"m":3}`, string(data))
}

func TestRecordJSONRoundTrip(t *testing.T) {
	in := `{"doiBong":"Arsenal vs Chelsea","kenhTv":["K+SPORT1","VTV6"],"trucTiep":true,"ghiChu":null}`

	var rec Record
	require.NoError(t, json.Unmarshal([]byte(in), &rec))
	require.Equal(t, []string{"doiBong", "kenhTv", "trucTiep", "ghiChu"}, rec.Keys())

	out, err := json.Marshal(rec)
	require.NoError(t, err)
	require.Equal(t, in, string(out))
}

func TestRecordRejectsNonObject(t *testing.T) {
	var rec Record
	require.Error(t, json.Unmarshal([]byte(`[1,2]`), &rec))
}

func TestRecordStringAccessor(t *testing.T) {
	rec := NewRecord()
	rec.Set("text", "value")
	rec.Set("number", 3)

	require.Equal(t, "value", rec.String("text"))
	require.Equal(t, "", rec.String("number"))
	require.Equal(t, "", rec.String("absent"))
}
