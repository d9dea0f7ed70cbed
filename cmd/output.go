package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
	"unicode/utf8"

	"mycelica/wot/internal/db"
	"mycelica/wot/internal/graph"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncName(s string, max int) string {
	if len(s) <= max {
		return s
	}
	truncated := s[:max]
	for len(truncated) > 0 && !utf8.ValidString(truncated) {
		truncated = truncated[:len(truncated)-1]
	}
	return truncated + "..."
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return "never"
	}
	return time.UnixMilli(ms).UTC().Format("2006-01-02 15:04")
}

func ownMarker(i *db.Identity) string {
	if i.IsOwn() {
		return "*"
	}
	return " "
}

func printIdentityLine(i *db.Identity) {
	fmt.Printf("  %s %s  %-30s  ed=%d  fetched=%s\n",
		ownMarker(i), truncID(i.ID), truncName(i.DisplayName(), 30), i.Edition, formatMillis(i.LastFetched))
}

func scoreString(s *graph.ScoreInfo) string {
	if s == nil {
		return "none"
	}
	return fmt.Sprintf("%d/rank %d/cap %d", s.Value, s.Rank, s.Capacity)
}
