package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/DHANNZHOST/imagetohd/internal/repository"
	"github.com/DHANNZHOST/imagetohd/relay"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// uploadsCmd lists the upload records kept in the database
var uploadsCmd = &cobra.Command{
	Use:   "uploads",
	Short: "List files stored through /api/upload-local",
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		all, _ := cmd.Flags().GetBool("all")

		db, err := relay.GetDatabase(config.Database)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()
		if err := relay.PrepareDatabase(cmd.Context(), db); err != nil {
			return fmt.Errorf("failed to prepare database: %w", err)
		}

		uploads, err := repository.NewUploadRepository(db).List(cmd.Context(), all)
		if err != nil {
			return fmt.Errorf("failed to list uploads: %w", err)
		}
		if len(uploads) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No uploads")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "FILENAME\tORIGINAL\tSIZE\tCREATED\tSTATUS")
		for _, u := range uploads {
			status := "stored"
			if u.Deleted() {
				status = "deleted " + humanize.Time(*u.DeletedAt)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				u.Filename,
				u.OriginalFilename,
				humanize.IBytes(uint64(u.Size)),
				humanize.Time(u.CreatedAt),
				status,
			)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(uploadsCmd)
	uploadsCmd.Flags().Bool("all", false, "Include deleted uploads")
}
