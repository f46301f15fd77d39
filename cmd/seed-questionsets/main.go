package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/stemsi/exstem-assessment/internal/config"
	"github.com/stemsi/exstem-assessment/internal/database"
	"github.com/stemsi/exstem-assessment/internal/logger"
	"github.com/stemsi/exstem-assessment/internal/model"
	"github.com/stemsi/exstem-assessment/internal/repository"
	"github.com/stemsi/exstem-assessment/internal/seed"
	"github.com/stemsi/exstem-assessment/internal/service"
)

var rootCmd = &cobra.Command{
	Use:           "seed-questionsets",
	Short:         "Validate and import question sets",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var validateCmd = &cobra.Command{
	Use:   "validate <file>...",
	Short: "Check question-set files against the schema without touching the database",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sets, err := parseFiles(args)
		if err != nil {
			return err
		}
		for _, set := range sets {
			fmt.Fprintf(cmd.OutOrStdout(), "ok  %s (%d questions)\n", set.ID, set.TotalQuestions)
		}
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>...",
	Short: "Validate question-set files and replace them in PostgreSQL",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runImport,
}

func init() {
	importCmd.Flags().Bool("warm", true, "Refresh the Redis cache of each imported set")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(importCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// parseFiles validates every file before any is imported.
func parseFiles(paths []string) ([]*model.QuestionSet, error) {
	sets := make([]*model.QuestionSet, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		set, err := seed.Parse(p, data)
		if err != nil {
			return nil, err
		}
		sets = append(sets, set)
	}
	return sets, nil
}

func runImport(cmd *cobra.Command, args []string) error {
	sets, err := parseFiles(args)
	if err != nil {
		return err
	}
	warm, _ := cmd.Flags().GetBool("warm")

	cfg := config.Load()
	log := logger.Setup("seed-questionsets", cfg.LogLevel, cfg.LogFormat)
	ctx := context.Background()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer pool.Close()
	repo := repository.NewQuestionSetRepository(pool)

	var cache *service.QuestionSetService
	if warm {
		rdb, err := database.NewRedisClient(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer rdb.Close()
		cache = service.NewQuestionSetService(repo, rdb, log)
	}

	for _, set := range sets {
		if err := repo.Replace(ctx, set); err != nil {
			if errors.Is(err, repository.ErrQuestionSetInUse) {
				return fmt.Errorf("import %s: sessions already use this set, publish the change under a new id: %w", set.ID, err)
			}
			return fmt.Errorf("import %s: %w", set.ID, err)
		}
		if cache != nil {
			if err := cache.Warm(ctx, set); err != nil {
				log.Warn().Err(err).Str("question_set_id", set.ID).Msg("Cache warm failed")
			}
		}
		log.Info().Str("question_set_id", set.ID).Int("questions", set.TotalQuestions).Msg("Question set imported")
	}
	return nil
}
