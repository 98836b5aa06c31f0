package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/DHANNZHOST/imagetohd/relay"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// initCmd represents the init command
var initCmd = &cobra.Command{
	Use:   "init [folder]",
	Short: "Initialize a new imagetohd deployment",
	Long: `Initialize a deployment folder by creating:
- A sample configuration file (config.yaml)
- The uploads directory
- A migrated SQLite database for upload records (imagetohd.db)

Example:
  imagetohd init ./deploy
  imagetohd -c ./deploy/config.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := "."
		if len(args) == 1 {
			dir = args[0]
		}
		absDir, err := filepath.Abs(dir)
		if err != nil {
			return fmt.Errorf("failed to resolve folder: %w", err)
		}

		configFile := filepath.Join(absDir, "config.yaml")
		uploadsDir := filepath.Join(absDir, "uploads")
		databaseFile := filepath.Join(absDir, "imagetohd.db")

		if err := os.MkdirAll(uploadsDir, 0o755); err != nil {
			return fmt.Errorf("failed to create uploads directory: %w", err)
		}
		log.Info().Str("path", uploadsDir).Msg("uploads directory ready")

		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			log.Info().Str("path", configFile).Msg("creating sample config")
			if err := createSampleConfig(configFile, uploadsDir, databaseFile); err != nil {
				return fmt.Errorf("failed to create config file: %w", err)
			}
		} else {
			log.Info().Str("path", configFile).Msg("config file already exists")
		}

		config, err := relay.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		db, err := relay.GetDatabase(config.Database)
		if err != nil {
			return fmt.Errorf("failed to create database: %w", err)
		}
		defer db.Close()
		if err := relay.PrepareDatabase(cmd.Context(), db); err != nil {
			return fmt.Errorf("failed to prepare database: %w", err)
		}
		log.Info().Str("path", config.Database).Msg("database ready")

		fmt.Fprintln(cmd.OutOrStdout(), "Initialization complete!")
		fmt.Fprintln(cmd.OutOrStdout(), "Start the server with:")
		fmt.Fprintf(cmd.OutOrStdout(), "  imagetohd -c %s\n", configFile)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func createSampleConfig(filename, uploadsDir, databaseFile string) error {
	sampleConfig := fmt.Sprintf(`# imagetohd configuration file
# Every key can be overridden with an IMAGETOHD_* environment variable,
# e.g. IMAGETOHD_RELAY_MODE=two-hop

server:
  addr: ":3000"
  service: imagetohd
  # fallback message language when a request sends no Accept-Language (id or en)
  language: id
  # public_url: https://img.example.com

relay:
  # direct, two-hop or disk-staged
  mode: direct
  default_scale: 2
  two_hop_scale: 4
  max_file_size: 10485760
  allowed_extensions: [jpeg, jpg, png, gif, webp]

uploads:
  dir: %q
  url_prefix: /uploads/

upstream:
  enhance_url: https://api.siputzx.my.id/api/iloveimg/upscale
  enhance_timeout: 30s
  two_hop_timeout: 120s
  tmpfiles_upload_url: https://tmpfiles.org/api/v1/upload
  tmpfiles_host: https://tmpfiles.org
  catbox_url: https://catbox.moe/user/api.php
  catbox_timeout: 60s

staging:
  # tmpfiles or s3
  backend: tmpfiles
  s3:
    endpoint: localhost:9000
    region: us-east-1
    bucket: imagetohd-staging
    use_ssl: false
    path_style: true
    presign_ttl: 15m

logging:
  level: info
  format: console

database: %q
`, uploadsDir, databaseFile)

	return os.WriteFile(filename, []byte(sampleConfig), 0o644)
}
