package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/curator/internal/digest"
)

var (
	digestMax      int
	digestLookback int
	digestTest     bool
	digestNoSave   bool
)

var digestCmd = &cobra.Command{
	Use:   "digest <user>",
	Short: "Build and print a digest for a user (ID or email)",
	Long: `Build a digest for a registered user and print it as markdown.

With --test the argument is treated as an email address and the digest is
built from the top items by authority without personalization. Test
digests are never saved.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		maxItems := digestMax
		if maxItems <= 0 {
			maxItems = cfg.Digest.MaxItems
		}
		lookback := digestLookback
		if lookback <= 0 {
			lookback = cfg.Digest.LookbackHours
		}

		assembler := digest.NewAssembler(db, logger)

		var d *digest.Digest
		if digestTest {
			d, err = assembler.BuildTest(ctx, args[0], maxItems, lookback)
		} else {
			user, uerr := resolveUser(ctx, db, args[0])
			if uerr != nil {
				return uerr
			}
			d, err = assembler.Build(ctx, user.ID, maxItems, lookback)
		}
		if err != nil {
			return fmt.Errorf("building digest: %w", err)
		}

		if !digestTest && !digestNoSave {
			if _, err := assembler.Save(ctx, d); err != nil {
				return fmt.Errorf("saving digest: %w", err)
			}
		}

		fmt.Print(digest.RenderMarkdown(d))
		return nil
	},
}

func init() {
	digestCmd.Flags().IntVarP(&digestMax, "max", "n", 0, "Maximum items (default from config)")
	digestCmd.Flags().IntVar(&digestLookback, "lookback", 0, "Candidate window in hours (default from config)")
	digestCmd.Flags().BoolVar(&digestTest, "test", false, "Build an unpersonalized test digest for an email address")
	digestCmd.Flags().BoolVar(&digestNoSave, "no-save", false, "Do not record the digest")
}
