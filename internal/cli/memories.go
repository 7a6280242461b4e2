package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/doppelhq/doppel/internal/config"
	"github.com/doppelhq/doppel/internal/memory"
	"github.com/doppelhq/doppel/internal/store"
)

// openManager opens the local database and builds a memory manager with the
// same embedder selection the serve command uses.
func openManager() (*memory.Manager, *store.DB, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, nil, err
	}

	db, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}

	return memory.NewManager(db, buildEmbedder(cfg)), db, nil
}

// --- remember command ---

var (
	rememberCategory   string
	rememberSummary    string
	rememberImportance float64
)

var rememberCmd = &cobra.Command{
	Use:   "remember [content]",
	Short: "Store a memory",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRemember,
}

func runRemember(cmd *cobra.Command, args []string) error {
	manager, db, err := openManager()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	mem, err := manager.Create(ctx, memory.CreateMemory{
		OwnerID:    flagOwner,
		Content:    strings.Join(args, " "),
		Summary:    rememberSummary,
		Category:   rememberCategory,
		Source:     "manual",
		Importance: rememberImportance,
	})
	if err != nil {
		return fmt.Errorf("remember: %w", err)
	}

	fmt.Printf("remembered %s [%s]\n", mem.ID, mem.Category)
	if !mem.Embedded {
		fmt.Println("note: stored without embedding, will be backfilled when an embedder is available")
	}
	return nil
}

// --- search command ---

var (
	searchLimit    int
	searchCategory string
	searchMinSim   float64
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search memories by similarity",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

func runSearch(cmd *cobra.Command, args []string) error {
	manager, db, err := openManager()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	results, err := manager.Search(ctx, flagOwner, strings.Join(args, " "), memory.SearchOpts{
		Limit:         searchLimit,
		Category:      searchCategory,
		MinSimilarity: searchMinSim,
	})
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	if len(results.Items) == 0 {
		fmt.Println("No results found.")
		return nil
	}
	if !results.Ranked {
		fmt.Println("note: no embedder available, showing recent memories instead")
	}

	for i, r := range results.Items {
		fmt.Printf("%d. [%.3f] %s\n", i+1, r.Similarity, r.ID)
		fmt.Printf("   %s [%s]\n", r.Content, r.Category)
		if r.Summary != "" {
			fmt.Printf("   %s\n", r.Summary)
		}
		fmt.Println()
	}
	return nil
}

// --- forget command ---

var forgetCmd = &cobra.Command{
	Use:   "forget [memory-id]",
	Short: "Delete a memory",
	Args:  cobra.ExactArgs(1),
	RunE:  runForget,
}

func runForget(cmd *cobra.Command, args []string) error {
	manager, db, err := openManager()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := manager.Delete(ctx, flagOwner, args[0]); err != nil {
		return fmt.Errorf("forget: %w", err)
	}
	fmt.Printf("forgot %s\n", args[0])
	return nil
}

// --- stats command ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show memory and insight statistics",
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	memStats, err := db.MemoryStatsFor(ctx, flagOwner)
	if err != nil {
		return fmt.Errorf("memory stats: %w", err)
	}
	insightStats, err := db.InsightStatsFor(ctx, flagOwner)
	if err != nil {
		return fmt.Errorf("insight stats: %w", err)
	}

	fmt.Printf("## Memories (%d total, %d embedded)\n", memStats.Total, memStats.Embedded)
	if memStats.Total > 0 {
		fmt.Printf("   avg importance %.2f\n", memStats.AvgImportance)
	}
	for category, n := range memStats.ByCategory {
		fmt.Printf("   %-14s %d\n", category, n)
	}
	for source, n := range memStats.BySource {
		fmt.Printf("   from %-9s %d\n", source, n)
	}

	fmt.Printf("\n## Insights (%d total)\n", insightStats.Total)
	if insightStats.Total > 0 {
		fmt.Printf("   avg confidence %.2f\n", insightStats.AvgConfidence)
	}
	for category, n := range insightStats.ByCategory {
		fmt.Printf("   %-14s %d\n", category, n)
	}
	return nil
}

func init() {
	rememberCmd.Flags().StringVarP(&rememberCategory, "category", "c", "fact", "Memory category (fact, preference, experience, relationship, habit)")
	rememberCmd.Flags().StringVar(&rememberSummary, "summary", "", "Short summary")
	rememberCmd.Flags().Float64Var(&rememberImportance, "importance", 0, "Importance 0-1 (default 0.5)")

	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 5, "Maximum number of results")
	searchCmd.Flags().StringVarP(&searchCategory, "category", "c", "", "Filter by category")
	searchCmd.Flags().Float64Var(&searchMinSim, "min-similarity", 0, "Minimum similarity score")
}
