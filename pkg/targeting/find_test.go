package targeting

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/entrhq/browserd/pkg/browsererr"
	"github.com/entrhq/browserd/pkg/driver/drivertest"
)

func mediaPage() *drivertest.Page {
	return drivertest.NewPage(&drivertest.Document{
		URL:   "https://video.example.com",
		Title: "Videos",
		Elements: []*drivertest.Element{
			{Tag: "a", Text: "Play now", Attrs: map[string]string{"href": "/watch"}},
			{Tag: "div", Text: "Play"},
			{Tag: "button", Classes: []string{"btn-play"}, Text: "Play"},
			{Tag: "button", Text: "Play", Hidden: true},
			{Tag: "div", Role: "menuitem", Text: "Playlist settings"},
			{Tag: "span", Attrs: map[string]string{"tabindex": "0", "aria-label": "Play trailer"}},
			{Tag: "span", Attrs: map[string]string{"tabindex": "-1"}, Text: "Play later"},
			{Tag: "div", Attrs: map[string]string{"onclick": "go()", "data-action": "replay"}},
		},
	})
}

func TestFindClickTargetsRanking(t *testing.T) {
	e := newTestEngine(t)
	res, err := e.FindClickTargets(context.Background(), mediaPage(), FindOptions{Query: "play"})
	require.NoError(t, err)

	// a, button, hidden button, menuitem div, tabindex span, onclick div
	assert.Equal(t, 6, res.CandidateCount)
	assert.Equal(t, 6, res.Scanned)
	require.Equal(t, 5, res.TotalMatches)
	assert.False(t, res.MoreAvailable)

	best := res.Matches[0]
	assert.Equal(t, "button", best.Tag)
	assert.Equal(t, 1, best.Index)
	assert.True(t, best.ExactMatch)
	assert.Equal(t, 1.0, best.Confidence)
	assert.Equal(t, "text", best.MatchedField)

	for i := 1; i < len(res.Matches); i++ {
		assert.GreaterOrEqual(t, res.Matches[i-1].Confidence, res.Matches[i].Confidence)
	}

	var aria *ClickTarget
	for i := range res.Matches {
		if res.Matches[i].MatchedField == "aria-label" {
			aria = &res.Matches[i]
		}
	}
	require.NotNil(t, aria, "aria-label source must match")
	assert.Equal(t, "Play trailer", aria.MatchedText)
}

func TestFindClickTargetsScores(t *testing.T) {
	e := newTestEngine(t)
	res, err := e.FindClickTargets(context.Background(), mediaPage(), FindOptions{Query: "Play", CaseSensitive: true})
	require.NoError(t, err)

	byIndex := map[int]ClickTarget{}
	for _, m := range res.Matches {
		byIndex[m.Index] = m
	}

	// link: substring text match, visible, enabled, interactive, primary tag,
	// length similarity 0 for "Play now" vs "Play".
	assert.InDelta(t, 5.0/6.0, byIndex[0].Confidence, 1e-9)

	// hidden button: exact match still clamps to 1 without the visibility bonus.
	assert.Equal(t, 1.0, byIndex[2].Confidence)
	assert.False(t, byIndex[2].Visible)

	// menuitem div: substring text match on an interactive role.
	assert.InDelta(t, 4.5/6.0, byIndex[3].Confidence, 1e-9)

	// span with only an aria-label and no role.
	assert.InDelta(t, 3.0/6.0, byIndex[4].Confidence, 1e-9)
	assert.Equal(t, "aria-label", byIndex[4].MatchedField)
}

func TestFindClickTargetsExactRejectsSubstring(t *testing.T) {
	e := newTestEngine(t)
	res, err := e.FindClickTargets(context.Background(), mediaPage(), FindOptions{Query: "Playlist", Exact: true})
	require.NoError(t, err)
	assert.Empty(t, res.Matches)

	res, err = e.FindClickTargets(context.Background(), mediaPage(), FindOptions{Query: "Playlist settings", Exact: true})
	require.NoError(t, err)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, "menuitem", res.Matches[0].Role)
}

func TestFindClickTargetsCaseSensitivity(t *testing.T) {
	e := newTestEngine(t)
	res, err := e.FindClickTargets(context.Background(), mediaPage(), FindOptions{Query: "PLAY", CaseSensitive: true})
	require.NoError(t, err)
	assert.Empty(t, res.Matches)
}

func TestFindClickTargetsRoleFilter(t *testing.T) {
	e := newTestEngine(t)

	res, err := e.FindClickTargets(context.Background(), mediaPage(), FindOptions{Query: "play", Roles: []string{"link"}})
	require.NoError(t, err)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, "a", res.Matches[0].Tag)

	res, err = e.FindClickTargets(context.Background(), mediaPage(), FindOptions{Query: "play", Roles: []string{"menu*"}})
	require.NoError(t, err)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, "menuitem", res.Matches[0].Role)
}

func TestFindClickTargetsExtraAttributes(t *testing.T) {
	e := newTestEngine(t)

	res, err := e.FindClickTargets(context.Background(), mediaPage(), FindOptions{Query: "replay"})
	require.NoError(t, err)
	assert.Empty(t, res.Matches)

	res, err = e.FindClickTargets(context.Background(), mediaPage(), FindOptions{Query: "replay", ExtraAttributes: []string{"data-action"}})
	require.NoError(t, err)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, "data-action", res.Matches[0].MatchedField)
}

func TestFindClickTargetsTruncation(t *testing.T) {
	var els []*drivertest.Element
	for i := 0; i < 30; i++ {
		els = append(els, &drivertest.Element{Tag: "button", Text: fmt.Sprintf("Item %d", i)})
	}
	page := drivertest.NewPage(&drivertest.Document{URL: "https://example.com", Elements: els})
	e := newTestEngine(t)

	res, err := e.FindClickTargets(context.Background(), page, FindOptions{Query: "item"})
	require.NoError(t, err)
	assert.Len(t, res.Matches, DefaultMaxResults)
	assert.Equal(t, 30, res.TotalMatches)
	assert.True(t, res.MoreAvailable)

	res, err = e.FindClickTargets(context.Background(), page, FindOptions{Query: "item", ScanLimit: 5, MaxResults: 10})
	require.NoError(t, err)
	assert.Equal(t, 30, res.CandidateCount)
	assert.Equal(t, 5, res.Scanned)
	assert.Len(t, res.Matches, 5)
	assert.False(t, res.MoreAvailable)
}

func TestFindClickTargetsNoCandidates(t *testing.T) {
	page := drivertest.NewPage(&drivertest.Document{
		URL:      "https://example.com",
		Elements: []*drivertest.Element{{Tag: "p", Text: "nothing to click"}},
	})
	e := newTestEngine(t)

	res, err := e.FindClickTargets(context.Background(), page, FindOptions{Query: "click"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.CandidateCount)
	assert.Empty(t, res.Matches)
}

func TestFindClickTargetsEmptyQuery(t *testing.T) {
	e := newTestEngine(t)
	for _, q := range []string{"", "   ", "\t\n"} {
		_, err := e.FindClickTargets(context.Background(), mediaPage(), FindOptions{Query: q})
		require.ErrorIs(t, err, browsererr.ErrInvalidSelector)

		var be *browsererr.Error
		require.ErrorAs(t, err, &be)
		assert.Equal(t, "query", be.Details["field"])
	}
}

func TestClickableSelector(t *testing.T) {
	e := newTestEngine(t)
	sel := e.ClickableSelector()
	for _, part := range []string{"a[href]", "button", `input[type="submit"]`, "select", "summary",
		`[role="tab"]`, `[tabindex]:not([tabindex="-1"])`, "[onclick]", `[contenteditable="true"]`} {
		assert.Contains(t, sel, part)
	}

	e = newTestEngine(t, WithInteractiveRoles([]string{"menu*"}))
	assert.Contains(t, e.ClickableSelector(), "[role]")
	assert.NotContains(t, e.ClickableSelector(), `[role="tab"]`)
}

func TestInvalidRolePattern(t *testing.T) {
	_, err := NewEngine(WithInteractiveRoles([]string{"[unterminated"}))
	assert.Error(t, err)

	e := newTestEngine(t)
	_, err = e.FindClickTargets(context.Background(), mediaPage(), FindOptions{Query: "play", Roles: []string{"[bad"}})
	assert.ErrorIs(t, err, browsererr.ErrInvalidSelector)
}

func TestFindClickTargetsProperties(t *testing.T) {
	e := newTestEngine(t)
	words := []string{"play", "pause", "stop", "Play", "next"}

	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 25).Draw(rt, "n")
		els := make([]*drivertest.Element, 0, n)
		for i := 0; i < n; i++ {
			text := strings.Join(rapid.SliceOfN(rapid.SampledFrom(words), 1, 3).Draw(rt, "text"), " ")
			els = append(els, &drivertest.Element{
				Tag:      rapid.SampledFrom([]string{"button", "div", "span"}).Draw(rt, "tag"),
				Role:     rapid.SampledFrom([]string{"", "button", "tab", "menuitem"}).Draw(rt, "role"),
				Text:     text,
				Hidden:   rapid.Bool().Draw(rt, "hidden"),
				Disabled: rapid.Bool().Draw(rt, "disabled"),
				Classes:  rapid.SliceOfN(rapid.SampledFrom([]string{"btn", "play-btn", "x"}), 0, 2).Draw(rt, "classes"),
			})
		}
		page := drivertest.NewPage(&drivertest.Document{URL: "https://example.com", Elements: els})
		query := rapid.SampledFrom(words).Draw(rt, "query")
		exact := rapid.Bool().Draw(rt, "exact")
		maxResults := rapid.IntRange(1, 10).Draw(rt, "max")

		res, err := e.FindClickTargets(context.Background(), page, FindOptions{Query: query, Exact: exact, MaxResults: maxResults})
		if err != nil {
			rt.Fatalf("unexpected error: %v", err)
		}
		if len(res.Matches) > maxResults {
			rt.Fatalf("%d matches exceed cap %d", len(res.Matches), maxResults)
		}
		if res.MoreAvailable != (res.TotalMatches > maxResults) {
			rt.Fatalf("more_available=%v with total %d cap %d", res.MoreAvailable, res.TotalMatches, maxResults)
		}
		for i, m := range res.Matches {
			if m.Confidence < 0 || m.Confidence > 1 {
				rt.Fatalf("confidence %f out of range", m.Confidence)
			}
			if i > 0 {
				prev := res.Matches[i-1]
				if prev.Confidence < m.Confidence || (prev.Confidence == m.Confidence && prev.Index > m.Index) {
					rt.Fatalf("matches out of order at %d", i)
				}
			}
			if exact && !strings.EqualFold(m.MatchedText, query) {
				rt.Fatalf("exact query %q matched %q", query, m.MatchedText)
			}
		}
	})
}
