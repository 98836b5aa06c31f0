package main

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/DHANNZHOST/imagetohd/internal/storage"
	"github.com/DHANNZHOST/imagetohd/relay"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// enhanceCmd runs a single relay from the command line
var enhanceCmd = &cobra.Command{
	Use:   "enhance <image file|image url>",
	Short: "Upscale one image through the configured relay",
	Long: `Upscale one image without starting the server.

A local file goes through the configured relay mode, exactly like
POST /api/upscale. An http(s) URL is handed to the enhance endpoint like
GET /api/enhance.

Example:
  imagetohd enhance cat.png -o cat-hd.png
  imagetohd enhance https://example.com/cat.png --scale 4`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		source := args[0]
		output, _ := cmd.Flags().GetString("output")
		if output == "" {
			output = defaultOutput(source)
		}

		var store *storage.Store
		if config.Relay.Mode == relay.ModeDiskStaged {
			if store, err = storage.NewOS(config.Uploads.Dir); err != nil {
				return err
			}
		}
		rl, err := relay.NewRelay(config, store, nil)
		if err != nil {
			return err
		}

		var written int64
		deliver := func(contentType string, body io.Reader) error {
			f, err := os.Create(output)
			if err != nil {
				return err
			}
			written, err = io.Copy(f, body)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			log.Debug().Str("content_type", contentType).Msg("enhanced image received")
			return err
		}

		ctx := relay.WithTrace(cmd.Context())
		if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
			scale, _ := cmd.Flags().GetInt("scale")
			if scale <= 0 {
				scale = config.Relay.DefaultScale
			}
			err = rl.EnhanceURL(ctx, source, scale, deliver)
		} else {
			var img *relay.InboundImage
			img, err = readImageFile(source, config.Limits())
			if err == nil {
				err = rl.Upscale(ctx, img, deliver)
			}
		}
		log.Debug().Str("relay", relay.TraceFrom(ctx).String()).Msg("relay finished")
		if err != nil {
			return relay.AsError(err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", output, humanize.IBytes(uint64(written)))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(enhanceCmd)
	enhanceCmd.Flags().StringP("output", "o", "", "Output file (default <name>-hd<ext>)")
	enhanceCmd.Flags().Int("scale", 0, "Scale for URL sources (default from config)")
	enhanceCmd.Flags().StringP("mode", "m", "", "Relay mode (direct, two-hop, disk-staged)")
}

// readImageFile applies the same type and size filter the HTTP API uses.
func readImageFile(filename string, limits relay.Limits) (*relay.InboundImage, error) {
	info, err := os.Stat(filename)
	if err != nil {
		return nil, err
	}
	if info.Size() > limits.MaxFileSize {
		return nil, fmt.Errorf("%s is %s, over the %s limit", filename,
			humanize.IBytes(uint64(info.Size())), humanize.IBytes(uint64(limits.MaxFileSize)))
	}
	contentType := mime.TypeByExtension(storage.Ext(filename))
	if !limits.Allowed(filename, contentType) {
		return nil, fmt.Errorf("%s is not an allowed image type", filename)
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return &relay.InboundImage{
		Filename:    filepath.Base(filename),
		ContentType: contentType,
		Data:        data,
	}, nil
}

func defaultOutput(source string) string {
	name := path.Base(source)
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	ext := storage.Ext(name)
	if ext == "" {
		ext = ".png"
	}
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	if stem == "" || stem == "." || stem == "/" {
		stem = "image"
	}
	return stem + "-hd" + ext
}
