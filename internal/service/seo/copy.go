// Package seo builds Etsy listing copy from fixed templates seeded with the
// trend topic. Copy generation is deterministic so listings never spend AI
// budget and reruns for the same trend produce identical text.
package seo

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/stickertrendz/pipeline/internal/domain"
	"github.com/stickertrendz/pipeline/internal/service/moderation"
	"github.com/stickertrendz/pipeline/pkg/textx"
)

const (
	// MaxTitleLength is Etsy's listing title cap.
	MaxTitleLength = 140

	// TagCount is Etsy's per-listing tag cap. Tags always fills it.
	TagCount = 13
)

// Tag pools, consumed in order until TagCount is reached.
var (
	evergreenTags = []string{
		"vinyl sticker",
		"laptop sticker",
		"waterproof decal",
		"water bottle sticker",
	}

	audienceTags = []string{
		"funny sticker",
		"meme sticker",
		"trendy sticker",
	}

	paddingTags = []string{
		"sticker",
		"decal",
		"die cut sticker",
		"cute sticker",
		"trending",
		"gift idea",
		"sticker art",
	}
)

const descriptionTemplate = `%[1]s

--- What You Get ---
- 1x premium vinyl sticker (%[2]s)
- Waterproof & UV-resistant
- Perfect for laptops, water bottles, notebooks, and more

--- Size & Material ---
- Size: %[2]s (%[3]s)
- Material: Premium vinyl, waterproof
- Finish: Glossy
- Durable outdoor-grade adhesive

--- Shipping ---
FREE SHIPPING! Ships within 3-5 business days via USPS First-Class Mail.
US addresses only.

--- About This Design ---
This sticker design was created with the assistance of AI tools.
Inspired by trending topics and pop culture moments.

--- Shop Policies ---
Questions? Message us! We respond within 24 hours.`

// Generator assembles listing titles, tags, and descriptions. Keywords that
// hit the trademark blocklist never make it into tags.
type Generator struct {
	lists *moderation.Blocklists
}

func NewGenerator(lists *moderation.Blocklists) *Generator {
	return &Generator{lists: lists}
}

// Title returns the listing title for a trend topic, capped at MaxTitleLength.
func (g *Generator) Title(topic string) string {
	title := topic + " Sticker - Vinyl Sticker Decal - Laptop Water Bottle Sticker"
	return textx.Truncate(title, MaxTitleLength)
}

// Tags returns exactly TagCount listing tags: free shipping first, then the
// evergreen and audience pools, then trend keywords, padded with generic
// sticker tags. Tags are lowercased and deduplicated in insertion order.
func (g *Generator) Tags(topic string, keywords []string) []string {
	tags := make([]string, 0, TagCount)
	seen := make(map[string]bool, TagCount)
	add := func(tag string) {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || seen[tag] || len(tags) >= TagCount {
			return
		}
		seen[tag] = true
		tags = append(tags, tag)
	}

	add("free shipping")
	for _, t := range evergreenTags {
		add(t)
	}
	for _, t := range audienceTags {
		add(t)
	}
	for _, kw := range keywords {
		if len(tags) >= TagCount {
			break
		}
		if g.lists != nil {
			if _, hit := g.lists.MatchTrademark(kw); hit {
				slog.Debug("dropping trademarked keyword from tags",
					"topic", textx.Truncate(topic, 50), "keyword", kw)
				continue
			}
		}
		add(kw)
	}
	for _, t := range paddingTags {
		add(t)
	}

	return tags
}

// Description renders the full listing description. blurb is the lead-in
// paragraph; when empty a generic topic line is used.
func (g *Generator) Description(topic, productType, blurb string) string {
	if blurb == "" {
		blurb = fmt.Sprintf(
			"Express your personality with this trendy %s inspired sticker! "+
				"Perfect for decorating your laptop, water bottle, or notebook.",
			topic)
	}
	label, dimensions := sizeSpec(productType)
	return fmt.Sprintf(descriptionTemplate, blurb, label, dimensions)
}

func sizeSpec(productType string) (label, dimensions string) {
	if productType == domain.ProductSingleLarge {
		return "4 inch", `4" x 4"`
	}
	return "3 inch", `3" x 3"`
}
