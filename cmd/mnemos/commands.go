package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mnemos/internal/retrieval"
)

var (
	queryMode            string
	queryLimit           int
	queryTones           []string
	queryAnchorTypes     []string
	queryMinSignificance float64
	queryRelPatterns     []string
	queryJSON            bool
)

// queryCmd retrieves grounding fragments for a free-text query.
var queryCmd = &cobra.Command{
	Use:   "query [persona] [query...]",
	Short: "Retrieve grounding fragments for a query",
	Long: `Retrieves the most relevant transcript fragments for a persona.

Semantic mode scores fragments by keyword overlap with the conversation
index. Anchor mode returns high-confidence identity fragments filtered
by anchor category and significance:

  mnemos query nova "what did she say about copyright"
  mnemos query nova --mode anchor --min-significance 0.8`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

// validateCmd gates a candidate answer against retrieved evidence.
var validateCmd = &cobra.Command{
	Use:   "validate [persona] [query] [candidate]",
	Short: "Validate a candidate answer against retrieved evidence",
	Args:  cobra.ExactArgs(3),
	RunE:  runValidate,
}

// warmCmd pre-builds capsules.
var warmCmd = &cobra.Command{
	Use:   "warm [personas...]",
	Short: "Pre-build capsules (all personas when none given)",
	RunE:  runWarm,
}

// statsCmd reports cache and validation counters.
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show capsule cache and validation statistics",
	RunE:  runStats,
}

// invalidateCmd drops a cached capsule.
var invalidateCmd = &cobra.Command{
	Use:   "invalidate [persona]",
	Short: "Drop a persona's cached capsule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng.InvalidateCapsule(args[0])
		fmt.Printf("Invalidated capsule for %s\n", args[0])
		return nil
	},
}

// sessionsCmd manages short-term conversation state.
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage short-term session state",
}

var sessionsExpireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Drop sessions idle beyond the configured TTL",
	RunE: func(cmd *cobra.Command, args []string) error {
		removed := eng.Sessions().ExpireIdle()
		fmt.Printf("Expired %d idle sessions (%d remain)\n", removed, eng.Sessions().Len())
		return nil
	},
}

var sessionsClearCmd = &cobra.Command{
	Use:   "clear [conversation] [persona]",
	Short: "Destroy one session",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng.Sessions().Clear(args[0], args[1])
		fmt.Printf("Cleared session %s/%s\n", args[0], args[1])
		return nil
	},
}

func init() {
	queryCmd.Flags().StringVar(&queryMode, "mode", "semantic", "Retrieval mode: semantic or anchor")
	queryCmd.Flags().IntVar(&queryLimit, "limit", 0, "Maximum hits (0 = configured default)")
	queryCmd.Flags().StringSliceVar(&queryTones, "tone", nil, "Restrict hits to these tones")
	queryCmd.Flags().StringSliceVar(&queryAnchorTypes, "anchor-types", nil, "Anchor categories (anchor mode)")
	queryCmd.Flags().Float64Var(&queryMinSignificance, "min-significance", 0, "Minimum anchor significance (anchor mode)")
	queryCmd.Flags().StringSliceVar(&queryRelPatterns, "relationship", nil, "Relationship patterns like nova,copyright (anchor mode)")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "Emit JSON")

	sessionsCmd.AddCommand(sessionsExpireCmd)
	sessionsCmd.AddCommand(sessionsClearCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	persona := args[0]
	query := strings.Join(args[1:], " ")

	mode := retrieval.ModeSemantic
	if queryMode == "anchor" {
		mode = retrieval.ModeAnchor
	}

	hits, diag, err := eng.RetrieveContext(context.Background(), persona, query, mode, retrieval.Options{
		Limit:                queryLimit,
		ToneHints:            queryTones,
		AnchorTypes:          queryAnchorTypes,
		MinSignificance:      queryMinSignificance,
		RelationshipPatterns: queryRelPatterns,
	})
	if err != nil {
		return err
	}
	logger.Debug("retrieval finished",
		zap.String("request_id", diag.RequestID),
		zap.Int("raw", diag.RawCount),
		zap.Int("filtered", diag.FilteredCount))

	if queryJSON {
		return json.NewEncoder(os.Stdout).Encode(struct {
			Hits        interface{} `json:"hits"`
			Diagnostics interface{} `json:"diagnostics"`
		}{hits, diag})
	}

	if len(hits) == 0 {
		fmt.Println("No grounding fragments found.")
		return nil
	}
	for i, h := range hits {
		fmt.Printf("%2d. [%.2f] %s#%d", i+1, h.Relevance, h.Ref.SourceFile, h.Ref.TurnIndex)
		if h.DetectedTone != "" {
			fmt.Printf(" (%s)", h.DetectedTone)
		}
		fmt.Printf("\n    User: %s\n    Assistant: %s\n", firstLine(h.Context), firstLine(h.Response))
	}
	if diag.Partial {
		fmt.Println("(partial: retrieval budget exhausted)")
	}
	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	persona, query, candidate := args[0], args[1], args[2]

	hits, _, err := eng.RetrieveContext(context.Background(), persona, query, retrieval.ModeSemantic, retrieval.Options{})
	if err != nil {
		return err
	}

	res := eng.ValidateResponse(query, candidate, hits)
	if res.Valid {
		fmt.Printf("VALID (%s)\n", res.Category)
		return nil
	}
	fmt.Printf("REJECTED (%s): %s\n", res.Category, res.Reason)
	os.Exit(2)
	return nil
}

func runWarm(cmd *cobra.Command, args []string) error {
	if err := eng.WarmCapsules(context.Background(), args); err != nil {
		return err
	}
	st := eng.CapsuleStats()
	fmt.Printf("Warmed %d capsules (%d builds total)\n", st.CachedCount, st.Builds)
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	out := struct {
		Capsules     interface{} `json:"capsules"`
		CoverageGaps int64       `json:"validation_coverage_gaps"`
		Sessions     int         `json:"sessions"`
	}{eng.CapsuleStats(), eng.CoverageGaps(), eng.Sessions().Len()}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}
