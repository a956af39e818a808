package template

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFieldRuleDecode(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want FieldRule
	}{
		{
			name: "text with match",
			in:   `{"selector":".score","type":"text","match":"(\\d+)"}`,
			want: FieldRule{Kind: KindText, Selector: ".score", Match: `(\d+)`},
		},
		{
			name: "missing type defaults to text",
			in:   `{"selector":".teams"}`,
			want: FieldRule{Kind: KindText, Selector: ".teams"},
		},
		{
			name: "unknown type degrades to text",
			in:   `{"selector":".teams","type":"bogus"}`,
			want: FieldRule{Kind: KindText, Selector: ".teams"},
		},
		{
			name: "attr",
			in:   `{"selector":"img","type":"attr","name":"data-src"}`,
			want: FieldRule{Kind: KindAttr, Selector: "img", Name: "data-src"},
		},
		{
			name: "exists",
			in:   `{"selector":".live","type":"exists"}`,
			want: FieldRule{Kind: KindExists, Selector: ".live"},
		},
		{
			name: "closestFind with html",
			in:   `{"selector":".body","type":"closestFind","closest":".card","html":true}`,
			want: FieldRule{Kind: KindClosestFind, Selector: ".body", Closest: ".card", Html: true},
		},
		{
			name: "prevOfClosest",
			in:   `{"selector":"h3","type":"prevOfClosest","closest":".list"}`,
			want: FieldRule{Kind: KindPrevOfClosest, Selector: "h3", Closest: ".list"},
		},
		{
			name: "card header magic selector wins over type",
			in:   `{"selector":"closestCardHeader","type":"text"}`,
			want: FieldRule{Kind: KindCardHeader, Selector: "closestCardHeader"},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var rule FieldRule
			require.NoError(t, json.Unmarshal([]byte(c.in), &rule))
			require.Equal(t, c.want, rule)
		})
	}
}

func TestFieldRuleRoundTrip(t *testing.T) {
	rules := []FieldRule{
		{Kind: KindText, Selector: ".teams", Match: `(\d+)`},
		{Kind: KindHtml, Selector: ".body"},
		{Kind: KindAttr, Selector: "img", Name: "href"},
		{Kind: KindExists, Selector: ".live"},
		{Kind: KindClosestFind, Selector: ".header", Closest: ".card", Html: true},
		{Kind: KindPrevOfClosest, Selector: "h3", Closest: ".list"},
		{Kind: KindCardHeader, Selector: "closestCardHeader"},
	}
	for _, rule := range rules {
		data, err := json.Marshal(rule)
		require.NoError(t, err)

		var back FieldRule
		require.NoError(t, json.Unmarshal(data, &back))
		require.Equal(t, rule, back)
	}
}

func TestConfigValidate(t *testing.T) {
	require.ErrorIs(t, Config{}.Validate(), ErrNoListSelector)
	require.NoError(t, Config{Select: Select{List: ".row"}}.Validate())
}

func TestFetchTimeout(t *testing.T) {
	require.Equal(t, 20*time.Second, Fetch{}.Timeout(20*time.Second))
	require.Equal(t, 1500*time.Millisecond, Fetch{TimeoutMs: 1500}.Timeout(20*time.Second))
	require.Equal(t, 20*time.Second, Fetch{TimeoutMs: -1}.Timeout(20*time.Second))
}

func TestTemplateDocumentDecode(t *testing.T) {
	in := `{
		"id": 1713512345678,
		"name": "lich-thi-dau",
		"config": {
			"fetch": {"dynamic": true, "waitSelector": ".row", "timeoutMs": 45000},
			"select": {
				"list": ".row",
				"fields": {
					"doiBong": {"selector": ".teams", "type": "text"},
					"giai": {"selector": "closestCardHeader"}
				}
			},
			"transform": {"kenhTv": {"split": ",|;"}},
			"output": {"schema": ["giai", "doiBong"]}
		},
		"isActive": true
	}`

	var tpl Template
	require.NoError(t, json.Unmarshal([]byte(in), &tpl))
	require.Equal(t, int64(1713512345678), tpl.ID)
	require.True(t, tpl.Config.Fetch.Dynamic)
	require.Equal(t, KindCardHeader, tpl.Config.Select.Fields["giai"].Kind)
	require.Equal(t, []string{"giai", "doiBong"}, tpl.Config.Output.Schema)
	require.NotNil(t, tpl.Config.Transform.KenhTv)
	require.Equal(t, ",|;", tpl.Config.Transform.KenhTv.Split)
}
