package seo_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stickertrendz/pipeline/internal/domain"
	"github.com/stickertrendz/pipeline/internal/service/moderation"
	"github.com/stickertrendz/pipeline/internal/service/seo"
)

func newGenerator() *seo.Generator {
	return seo.NewGenerator(moderation.NewBlocklists(nil, nil))
}

func TestTitle(t *testing.T) {
	t.Parallel()
	g := newGenerator()

	got := g.Title("Capybara Cafe")

	assert.Equal(t, "Capybara Cafe Sticker - Vinyl Sticker Decal - Laptop Water Bottle Sticker", got)
	assert.LessOrEqual(t, utf8.RuneCountInString(got), seo.MaxTitleLength)
}

func TestTitle_TruncatesLongTopics(t *testing.T) {
	t.Parallel()
	g := newGenerator()
	topic := strings.Repeat("x", 200)

	got := g.Title(topic)

	assert.Equal(t, seo.MaxTitleLength, utf8.RuneCountInString(got))
	assert.True(t, strings.HasPrefix(got, "xxxx"))
}

func TestTags_FillsToThirteenWithoutKeywords(t *testing.T) {
	t.Parallel()
	g := newGenerator()

	got := g.Tags("capybara cafe", nil)

	assert.Equal(t, []string{
		"free shipping",
		"vinyl sticker",
		"laptop sticker",
		"waterproof decal",
		"water bottle sticker",
		"funny sticker",
		"meme sticker",
		"trendy sticker",
		"sticker",
		"decal",
		"die cut sticker",
		"cute sticker",
		"trending",
	}, got)
}

func TestTags_KeywordsComeBeforePadding(t *testing.T) {
	t.Parallel()
	g := newGenerator()

	got := g.Tags("capybara cafe", []string{"capybara", "Cafe Vibes", "CAPYBARA", "  "})

	require.Len(t, got, seo.TagCount)
	assert.Equal(t, "capybara", got[8])
	assert.Equal(t, "cafe vibes", got[9])
	assert.Equal(t, "sticker", got[10])
	assert.Equal(t, 1, strings.Count(strings.Join(got, "|"), "capybara"))
}

func TestTags_FiltersTrademarkedKeywords(t *testing.T) {
	t.Parallel()
	g := seo.NewGenerator(moderation.NewBlocklists([]string{"acme"}, nil))

	got := g.Tags("acme parody", []string{"acme corp", "frog"})

	assert.Contains(t, got, "frog")
	for _, tag := range got {
		assert.NotContains(t, tag, "acme")
	}
}

func TestTags_CapsAtThirteen(t *testing.T) {
	t.Parallel()
	g := newGenerator()

	keywords := make([]string, 0, 20)
	for r := 'a'; r < 'a'+20; r++ {
		keywords = append(keywords, "kw "+string(r))
	}

	got := g.Tags("busy topic", keywords)

	require.Len(t, got, seo.TagCount)
	assert.Equal(t, "kw a", got[8])
	assert.Equal(t, "kw e", got[12])
}

func TestDescription_SmallProduct(t *testing.T) {
	t.Parallel()
	g := newGenerator()

	got := g.Description("capybara cafe", domain.ProductSingleSmall, "")

	assert.Contains(t, got, "trendy capybara cafe inspired sticker")
	assert.Contains(t, got, "Size: 3 inch (3\" x 3\")")
	assert.Contains(t, got, "1x premium vinyl sticker (3 inch)")
	assert.Contains(t, got, "FREE SHIPPING!")
}

func TestDescription_LargeProduct(t *testing.T) {
	t.Parallel()
	g := newGenerator()

	got := g.Description("capybara cafe", domain.ProductSingleLarge, "")

	assert.Contains(t, got, "Size: 4 inch (4\" x 4\")")
}

func TestDescription_UnknownProductTypeRendersSmall(t *testing.T) {
	t.Parallel()
	g := newGenerator()

	got := g.Description("capybara cafe", "", "")

	assert.Contains(t, got, "Size: 3 inch (3\" x 3\")")
}

func TestDescription_CustomBlurbLeads(t *testing.T) {
	t.Parallel()
	g := newGenerator()

	got := g.Description("capybara cafe", domain.ProductSingleSmall, "A chill capybara sipping espresso.")

	assert.True(t, strings.HasPrefix(got, "A chill capybara sipping espresso.\n"))
	assert.NotContains(t, got, "Express your personality")
}
