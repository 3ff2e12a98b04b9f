package evaluation

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
)

// WriteJSON writes the full summary, per-query results included
func WriteJSON(w io.Writer, s *EvalSummary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

// WriteTable writes a per-mode table followed by the queries that missed or failed
func WriteTable(w io.Writer, s *EvalSummary) error {
	modes := newTable(w)
	modes.Header([]string{"Mode", "Queries", "Recall@10", "MRR@10"})
	rows := make([][]string, 0, len(ValidModes())+1)
	for _, mode := range ValidModes() {
		ms, ok := s.ByMode[mode]
		if !ok {
			continue
		}
		rows = append(rows, []string{string(mode), fmt.Sprintf("%d", ms.Count), formatScore(ms.AvgRecallAt10), formatScore(ms.AvgMRRAt10)})
	}
	rows = append(rows, []string{"all", fmt.Sprintf("%d", s.TotalQueries), formatScore(s.AvgRecallAt10), formatScore(s.AvgMRRAt10)})
	if err := modes.Bulk(rows); err != nil {
		return err
	}
	if err := modes.Render(); err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "\nfailed: %d  with hits: %d  avg latency: %s\n", s.FailedQueries, s.QueriesWithHits, s.AvgLatency); err != nil {
		return err
	}

	var misses [][]string
	for _, res := range s.Results {
		if res.Error == "" && res.RecallAt10 == 1 {
			continue
		}
		note := strings.Join(topK(res.RetrievedCodes, 5), " ")
		if res.Error != "" {
			note = "error: " + res.Error
		}
		misses = append(misses, []string{res.QueryID, string(res.Mode), res.Query, formatScore(res.RecallAt10), note})
	}
	if len(misses) == 0 {
		return nil
	}

	if _, err := fmt.Fprintln(w); err != nil {
		return err
	}
	detail := newTable(w)
	detail.Header([]string{"ID", "Mode", "Query", "Recall@10", "Top retrieved"})
	if err := detail.Bulk(misses); err != nil {
		return err
	}
	return detail.Render()
}

func newTable(w io.Writer) *tablewriter.Table {
	return tablewriter.NewTable(w,
		tablewriter.WithConfig(tablewriter.Config{
			Row: tw.CellConfig{
				Formatting: tw.CellFormatting{AutoWrap: tw.WrapNone},
				Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			},
			Header: tw.CellConfig{
				Alignment: tw.CellAlignment{Global: tw.AlignLeft},
			},
		}),
	)
}

func formatScore(v float64) string {
	return fmt.Sprintf("%.3f", v)
}
