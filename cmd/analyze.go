package cmd

import (
	"fmt"
	"math"
	"strings"

	"github.com/spf13/cobra"

	"mycelica/wot/internal/graph"
)

var (
	analyzeTopN         int
	analyzeStaleDays    int64
	analyzeHubThreshold int
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze the trust graph: topology, staleness, fragility, health score",
	RunE: func(cmd *cobra.Command, args []string) error {
		w, store, err := OpenWoT()
		if err != nil {
			return err
		}
		defer store.Close()

		report, err := w.Analyze(cmd.Context(), &graph.AnalyzerConfig{
			HubThreshold: analyzeHubThreshold,
			TopN:         analyzeTopN,
			StaleDays:    analyzeStaleDays,
		})
		if err != nil {
			return fmt.Errorf("analyzing graph: %w", err)
		}

		if jsonOut {
			return printJSON(report)
		}
		printHumanReadable(report)
		return nil
	},
}

func init() {
	analyzeCmd.Flags().IntVar(&analyzeTopN, "top-n", 10, "Number of top items to show per section")
	analyzeCmd.Flags().Int64Var(&analyzeStaleDays, "stale-days", 30, "Days since last fetch to consider an identity stale")
	analyzeCmd.Flags().IntVar(&analyzeHubThreshold, "hub-threshold", 5, "Minimum received trusts to consider an identity a hub")
	rootCmd.AddCommand(analyzeCmd)
}

func printHumanReadable(report *graph.AnalysisReport) {
	// Health bar
	barLen := int(report.HealthScore * 20)
	if barLen > 20 {
		barLen = 20
	}
	bar := strings.Repeat("█", barLen) + strings.Repeat("░", 20-barLen)
	fmt.Printf("\n  Trust Graph Health: %.0f%%  [%s]\n", report.HealthScore*100, bar)
	fmt.Printf("  breakdown: connectivity=%.2f components=%.2f freshness=%.2f reach=%.2f\n\n",
		report.HealthBreakdown.Connectivity,
		report.HealthBreakdown.Components,
		report.HealthBreakdown.Freshness,
		report.HealthBreakdown.Reach)

	// Topology
	t := report.Topology
	fmt.Println("  TOPOLOGY")
	fmt.Println("  ────────────────────────────────────────")
	fmt.Printf("  Identities: %d (%d own)  Trusts: %d (%d negative)\n",
		t.TotalIdentities, t.OwnIdentities, t.TotalTrusts, t.NegativeTrusts)
	fmt.Printf("  Components: %d  Largest: %d  Smallest: %d\n",
		t.NumComponents, t.LargestComponent, t.SmallestComponent)

	if t.IsolatedCount > 0 {
		fmt.Printf("  Isolated: %d identities with no trust in or out\n", t.IsolatedCount)
		limit := 5
		if len(t.IsolatedIDs) < limit {
			limit = len(t.IsolatedIDs)
		}
		for _, id := range t.IsolatedIDs[:limit] {
			fmt.Printf("    - %s\n", truncID(id))
		}
		if t.IsolatedCount > 5 {
			fmt.Printf("    ... and %d more\n", t.IsolatedCount-5)
		}
	}

	// Degree distribution
	fmt.Println("\n  Received trust distribution:")
	for _, b := range t.DegreeHistogram {
		if b.Count > 0 {
			barWidth := int(math.Log2(float64(b.Count))) + 2
			fmt.Printf("    %5s: %4d  %s\n", b.Label, b.Count, strings.Repeat("=", barWidth))
		}
	}

	// Hubs
	if len(t.Hubs) > 0 {
		fmt.Println("\n  Top hubs (received trusts >= threshold):")
		for _, hub := range t.Hubs {
			fmt.Printf("    %s received=%d (+%d/-%d, sum %d) given=%d  %s\n",
				truncID(hub.ID), hub.Received, hub.Positive, hub.Negative, hub.ReceivedTotal,
				hub.Given, truncName(hub.Nickname, 30))
		}
	}

	// Staleness
	s := report.Staleness
	if s.StaleCount > 0 {
		fmt.Println("\n  STALENESS")
		fmt.Println("  ────────────────────────────────────────")
		fmt.Printf("  %d stale identities (%d never fetched):\n", s.StaleCount, s.NeverFetchedCount)
		limit := 10
		if len(s.StaleIdentities) < limit {
			limit = len(s.StaleIdentities)
		}
		for _, si := range s.StaleIdentities[:limit] {
			age := fmt.Sprintf("%dd", si.DaysSinceFetch)
			if si.NeverFetched {
				age = "never"
			}
			fmt.Printf("    %s fetched=%-6s %d positive trusters  %s\n",
				truncID(si.ID), age, si.PositiveTrusters, truncName(si.Nickname, 30))
		}
	}

	// Fragility
	br := report.Bridges
	if br != nil && (br.APCount > 0 || br.BridgeCount > 0 || len(br.SingleTrusters) > 0) {
		fmt.Println("\n  FRAGILITY")
		fmt.Println("  ────────────────────────────────────────")
		if br.APCount > 0 {
			fmt.Printf("  %d articulation identities (removal disconnects graph):\n", br.APCount)
			limit := 10
			if len(br.ArticulationPoints) < limit {
				limit = len(br.ArticulationPoints)
			}
			for _, ap := range br.ArticulationPoints[:limit] {
				fmt.Printf("    %s (degree %d)  %s\n", truncID(ap.ID), ap.Degree, truncName(ap.Nickname, 30))
			}
		}
		if br.BridgeCount > 0 {
			fmt.Printf("  %d bridge trusts (removal disconnects graph):\n", br.BridgeCount)
			limit := 10
			if len(br.BridgeTrusts) < limit {
				limit = len(br.BridgeTrusts)
			}
			for _, bt := range br.BridgeTrusts[:limit] {
				fmt.Printf("    %s -> %s\n", truncName(bt.TrusterName, 30), truncName(bt.TrusteeName, 30))
			}
		}
		if len(br.SingleTrusters) > 0 {
			fmt.Printf("  %d identities with a single positive truster\n", len(br.SingleTrusters))
		}
	}

	// Trust trees
	if len(report.Trees) > 0 {
		fmt.Println("\n  TRUST TREES")
		fmt.Println("  ────────────────────────────────────────")
		for _, tree := range report.Trees {
			fmt.Printf("  %s %-20s size=%d positive=%d negative=%d depth=%d\n",
				truncID(tree.OwnerID), truncName(tree.Nickname, 20),
				tree.Size, tree.Positive, tree.Negative, tree.MaxRank)
		}
	}
	fmt.Println()
}
