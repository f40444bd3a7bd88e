package commands

import (
	"github.com/spf13/cobra"
)

// Global flags
var verbose bool

var rootCmd = &cobra.Command{
	Use:   "picseek",
	Short: "Reverse image search service",
	Long: `picseek - reverse image search over a Qdrant vector index.

Images are embedded into fixed-dimension vectors and indexed by an
externally supplied item identifier; queries return the nearest items by
cosine similarity together with their stored metadata.

Configuration comes from an optional YAML file (--config) overridden by
PICSEEK_* environment variables, e.g.:

  PICSEEK_LISTEN=:8080
  PICSEEK_API_KEY=...
  PICSEEK_STORAGE_BACKEND=s3
  PICSEEK_STORAGE_BUCKET=images
  PICSEEK_QDRANT_URL=http://localhost:6333
  PICSEEK_EMBEDDER_KIND=grid

Examples:
  picseek serve
  picseek serve --config /etc/picseek/picseek.yaml`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// IsVerbose reports whether --verbose was given.
func IsVerbose() bool {
	return verbose
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
