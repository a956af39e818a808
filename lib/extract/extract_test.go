package extract

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"webharvest-backend/lib/template"
)

const fixtureHTML = `
<div class="card">
  <div class="card-header">Ngoại Hạng Anh</div>
  <h3 class="round">Vòng 5</h3>
  <div class="match-list">
    <div class="row">
      <span class="teams">Arsenal vs Chelsea</span>
      <span class="time"> 21h30 </span>
      <span class="score">Final: 3-1 win</span>
      <span class="channels">K+SPORT1, HTV7; VTV6</span>
      <img class="logo" src="/img/arsenal.png">
      <span class="live-badge"></span>
      <a class="detail" href="/match/1">chi tiết</a>
    </div>
    <div class="row">
      <span class="teams">Liverpool vs Everton</span>
      <span class="time">22h00</span>
      <span class="score">   </span>
      <span class="channels">VTV5</span>
    </div>
  </div>
</div>
`

func parseFixture(t *testing.T) *goquery.Document {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fixtureHTML))
	require.NoError(t, err)
	return doc
}

func TestExtractFieldKinds(t *testing.T) {
	doc := parseFixture(t)

	cfg := template.Config{
		Select: template.Select{
			List: ".row",
			Fields: map[string]template.FieldRule{
				"doiBong": {Kind: template.KindText, Selector: ".teams"},
				"gio":     {Kind: template.KindText, Selector: ".time"},
				"tiSo":    {Kind: template.KindText, Selector: ".score", Match: `(\d+)-(\d+)`},
				"logo":    {Kind: template.KindAttr, Selector: ".logo"},
				"link":    {Kind: template.KindAttr, Selector: ".detail", Name: "href"},
				"trucTiep": {
					Kind: template.KindExists, Selector: ".live-badge",
				},
				"doiBongHtml": {Kind: template.KindHtml, Selector: ".teams"},
				"giai":        {Kind: template.KindCardHeader, Selector: "closestCardHeader"},
				"vong": {
					Kind: template.KindPrevOfClosest, Selector: "h3", Closest: ".match-list",
				},
				"tieuDe": {
					Kind: template.KindClosestFind, Selector: ".card-header", Closest: ".card",
				},
			},
		},
	}

	items, err := Extract(doc, cfg)
	require.NoError(t, err)
	require.Len(t, items, 2)

	first := items[0]
	require.Equal(t, "Arsenal vs Chelsea", first.String("doiBong"))
	require.Equal(t, "21h30", first.String("gio"))
	require.Equal(t, "3", first.String("tiSo"))
	require.Equal(t, "/img/arsenal.png", first.String("logo"))
	require.Equal(t, "/match/1", first.String("link"))
	require.Equal(t, "Arsenal vs Chelsea", first.String("doiBongHtml"))
	require.Equal(t, "Ngoại Hạng Anh", first.String("giai"))
	require.Equal(t, "Vòng 5", first.String("vong"))
	require.Equal(t, "Ngoại Hạng Anh", first.String("tieuDe"))

	live, ok := first.Get("trucTiep")
	require.True(t, ok)
	require.Equal(t, true, live)

	second := items[1]
	require.Equal(t, "Liverpool vs Everton", second.String("doiBong"))
	require.Equal(t, "", second.String("logo"))
	require.Equal(t, "", second.String("link"))

	live, ok = second.Get("trucTiep")
	require.True(t, ok)
	require.Equal(t, false, live)
}

func TestExtractMatchFallbacks(t *testing.T) {
	doc := parseFixture(t)

	cases := []struct {
		name  string
		match string
		want  string
	}{
		{name: "no pattern", match: "", want: "Final: 3-1 win"},
		{name: "first capture group", match: `(\d+)-(\d+)`, want: "3"},
		{name: "whole match without groups", match: `\d+-\d+`, want: "3-1"},
		{name: "no match leaves value", match: `\d{4}`, want: "Final: 3-1 win"},
		{name: "invalid pattern leaves value", match: `(`, want: "Final: 3-1 win"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := template.Config{
				Select: template.Select{
					List: ".row",
					Fields: map[string]template.FieldRule{
						"tiSo": {Kind: template.KindText, Selector: ".score", Match: c.match},
					},
				},
			}
			items, err := Extract(doc, cfg)
			require.NoError(t, err)
			require.Equal(t, c.want, items[0].String("tiSo"))
		})
	}
}

func TestExtractRequiresListSelector(t *testing.T) {
	doc := parseFixture(t)

	_, err := Extract(doc, template.Config{})
	require.ErrorIs(t, err, template.ErrNoListSelector)
}

func TestExtractNoRowsYieldsEmpty(t *testing.T) {
	doc := parseFixture(t)

	items, err := Extract(doc, template.Config{
		Select: template.Select{List: ".does-not-exist"},
	})
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestApplyTransforms(t *testing.T) {
	rec := NewRecord()
	rec.Set("kenhTvRaw", "K+SPORT1, HTV7; VTV6 /  | ")
	rec.Set("gio", "21h30")
	rec.Set("ketQua", "   ")

	ApplyTransforms(&rec, template.Transform{
		KenhTv: &template.SplitTransform{},
		Gio:    &template.ReplaceTransform{Replace: [][]string{{"h", ":"}}},
		KetQua: &template.DefaultTransform{DefaultIfEmpty: "?"},
	})

	channels, ok := rec.Get("kenhTv")
	require.True(t, ok)
	require.Equal(t, []string{"K+SPORT1", "HTV7", "VTV6"}, channels)
	require.Equal(t, "21:30", rec.String("gio"))
	require.Equal(t, "?", rec.String("ketQua"))
}

func TestApplyTransformsSkipsWrongShapes(t *testing.T) {
	rec := NewRecord()
	rec.Set("kenhTvRaw", 42)
	rec.Set("gio", []string{"21h30"})

	ApplyTransforms(&rec, template.Transform{
		KenhTv: &template.SplitTransform{},
		Gio:    &template.ReplaceTransform{Replace: [][]string{{"h", ":"}}},
	})

	_, ok := rec.Get("kenhTv")
	require.False(t, ok)
	v, _ := rec.Get("gio")
	require.Equal(t, []string{"21h30"}, v)
}

func TestShapePinsKeysAndOrder(t *testing.T) {
	rec := NewRecord()
	rec.Set("b", "2")
	rec.Set("a", "1")
	rec.Set("extra", "dropped")

	shaped := Shape(rec, []string{"a", "b", "missing"})
	require.Equal(t, []string{"a", "b", "missing"}, shaped.Keys())

	v, ok := shaped.Get("missing")
	require.True(t, ok)
	require.Nil(t, v)

	_, ok = shaped.Get("extra")
	require.False(t, ok)

	data, err := json.Marshal(shaped)
	require.NoError(t, err)
	require.Equal(t, `{"a":"1","b":"2","missing":null}`, string(data))
}

func TestExtractIsDeterministic(t *testing.T) {
	cfg := template.Config{
		Select: template.Select{
			List: ".row",
			Fields: map[string]template.FieldRule{
				"doiBong":   {Kind: template.KindText, Selector: ".teams"},
				"gio":       {Kind: template.KindText, Selector: ".time"},
				"kenhTvRaw": {Kind: template.KindText, Selector: ".channels"},
				"ketQua":    {Kind: template.KindText, Selector: ".score"},
			},
		},
		Transform: template.Transform{
			KenhTv: &template.SplitTransform{},
			KetQua: &template.DefaultTransform{DefaultIfEmpty: "?"},
		},
		Output: template.Output{Schema: []string{"doiBong", "gio", "kenhTv", "ketQua"}},
	}

	a, err := Extract(parseFixture(t), cfg)
	require.NoError(t, err)
	b, err := Extract(parseFixture(t), cfg)
	require.NoError(t, err)

	aj, err := json.Marshal(a)
	require.NoError(t, err)
	bj, err := json.Marshal(b)
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(string(aj), string(bj)))

	require.Equal(t, []string{"doiBong", "gio", "kenhTv", "ketQua"}, a[0].Keys())
	require.Equal(t, "?", a[1].String("ketQua"))
}
