package cmd

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/sarchlab/nachosvm/config"
	"github.com/sarchlab/nachosvm/noff"
	"github.com/spf13/cobra"
)

var noffCmd = &cobra.Command{
	Use:   "noff [executable]",
	Short: "Print the segments of a NOFF executable.",
	Long: "`noff [executable]` prints the segments of a NOFF executable and " +
		"the number of pages it occupies once loaded.",
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)

		f, err := os.Open(args[0])
		if err != nil {
			log.Fatalf("Error opening executable: %v", err)
		}
		defer f.Close()

		h, err := noff.ReadHeader(f)
		if err != nil {
			log.Fatalf("Error reading executable: %v", err)
		}

		printHeader(cmd.OutOrStdout(), h, cfg)
	},
}

func init() {
	rootCmd.AddCommand(noffCmd)
}

func loadConfig(cmd *cobra.Command) config.Config {
	files, _ := cmd.Flags().GetStringSlice("env")

	cfg, err := config.Load(files...)
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	return cfg
}

func printHeader(w io.Writer, h noff.Header, cfg config.Config) {
	segments := []struct {
		name string
		seg  noff.Segment
	}{
		{"code", h.Code},
		{"data", h.InitData},
		{"bss", h.UninitData},
	}

	fmt.Fprintf(w, "%-6s %8s %8s %8s\n", "", "vaddr", "offset", "size")
	for _, s := range segments {
		fmt.Fprintf(w, "%-6s %8d %8d %8d\n",
			s.name, s.seg.VirtualAddr, s.seg.InFileAddr, s.seg.Size)
	}

	fmt.Fprintf(w, "pages: %d (page size %d, stack %d)\n",
		h.NumPages(cfg.UserStackSize, cfg.PageSize),
		cfg.PageSize, cfg.UserStackSize)
}
