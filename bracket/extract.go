package bracket

import (
	"fmt"
	"github.com/PuerkitoBio/goquery"
	"strings"
)

const (
	sectionSelector     = "div.tournament-category__match"
	headerSelector      = "div.tournament-category__match-header"
	whereSelector       = "div.bracket-match-header__where"
	whenSelector        = "div.bracket-match-header__when"
	cardSelector        = "div.tournament-category__match-card"
	slotSelector        = "div.match-card__competitor"
	byeSelector         = "div.match-card__bye"
	childWhereSelector  = "div.match-card__child-where"
	nameSelector        = "div.match-card__competitor-name"
	clubSelector        = "div.match-card__club-name"
	numberSelector      = "span.match-card__competitor-n"
	winnerPlaceholderOf = "Winner of Fight"
)

// Extract reads every match section of a category page. Sections without a
// single usable slot are skipped; missing header or card blocks only leave
// the matching fields empty.
func Extract(document string) ([]MatchRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(document))
	if err != nil {
		return nil, fmt.Errorf("parse bracket page: %w", err)
	}

	var records []MatchRecord
	doc.Find(sectionSelector).Each(func(_ int, section *goquery.Selection) {
		var rec MatchRecord

		if header := section.Find(headerSelector).First(); header.Length() > 0 {
			rec.Location = text(header.Find(whereSelector))
			rec.Time = text(header.Find(whenSelector))
		}

		card := section.Find(cardSelector).First()
		if card.Length() == 0 {
			return
		}
		card.Find(slotSelector).Each(func(_ int, slot *goquery.Selection) {
			if c, ok := readSlot(slot); ok {
				rec.Competitors = append(rec.Competitors, c)
			}
		})

		if len(rec.Competitors) == 0 {
			return
		}
		records = append(records, rec)
	})
	return records, nil
}

func readSlot(slot *goquery.Selection) (Competitor, bool) {
	if slot.Find(byeSelector).Length() > 0 {
		return Competitor{}, false
	}

	// A pending slot still renders an empty name block, so the placeholder
	// check has to come first.
	if where := slot.Find(childWhereSelector).First(); where.Length() > 0 &&
		strings.Contains(where.Text(), winnerPlaceholderOf) {
		return Competitor{
			Name: text(where),
			Kind: KindWinnerPlaceholder,
		}, true
	}

	name := text(slot.Find(nameSelector))
	if name == "" {
		return Competitor{}, false
	}
	return Competitor{
		Name:   name,
		Club:   text(slot.Find(clubSelector)),
		Number: text(slot.Find(numberSelector)),
		Kind:   KindNormal,
	}, true
}

// text returns the trimmed text of the first element in sel, or "" when sel
// is empty.
func text(sel *goquery.Selection) string {
	return strings.TrimSpace(sel.First().Text())
}
