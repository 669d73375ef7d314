// Package cli holds the cobra commands of the chainverify operator tool.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rithikashettigar/ChainVerify-Forensics/internal/app"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/config"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/models"
	"github.com/rithikashettigar/ChainVerify-Forensics/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:   "chainverify",
	Short: "Register and verify media against the tamper-evident ledger",
	Long: `chainverify works directly on the configured registry, ledger and block
store. Configuration comes from chainverify.yaml or CHAINVERIFY_* variables.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// Root exposes the command tree to tests.
func Root() *cobra.Command {
	return rootCmd
}

// withApp loads configuration, builds the backends and runs fn.
func withApp(ctx context.Context, fn func(a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.App.Env, "cli")
	if err != nil {
		return err
	}
	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// mediaType resolves the --type flag; "auto" picks by extension.
func mediaType(flag, path string) (models.MediaType, error) {
	switch flag {
	case "image":
		return models.MediaImage, nil
	case "video":
		return models.MediaVideo, nil
	case "", "auto":
		mt, ok := models.DetectMediaType(path)
		if !ok {
			return "", fmt.Errorf("cannot tell the media type of %s; pass --type", path)
		}
		return mt, nil
	default:
		return "", fmt.Errorf("unknown --type %q", flag)
	}
}
