package bracket

// Project flattens records into one row per real entrant. A "winner vs
// winner" bout has nobody to show yet and contributes nothing; placeholder
// slots never become rows.
func Project(records []MatchRecord) []CompetitorRow {
	var rows []CompetitorRow
	for _, rec := range records {
		if winnerVsWinner(rec) {
			continue
		}
		for _, c := range rec.Competitors {
			if c.Kind != KindNormal {
				continue
			}
			rows = append(rows, CompetitorRow{
				Number:   c.Number,
				Name:     c.Name,
				Club:     c.Club,
				Location: rec.Location,
				Time:     rec.Time,
			})
		}
	}
	return rows
}

func winnerVsWinner(rec MatchRecord) bool {
	return len(rec.Competitors) == 2 &&
		rec.Competitors[0].Kind == KindWinnerPlaceholder &&
		rec.Competitors[1].Kind == KindWinnerPlaceholder
}
