package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	count    int
	interval time.Duration
	seed     uint64
	target   string
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system env")
	}

	rootCmd := &cobra.Command{
		Use:   "load_simulator",
		Short: "Submit random adoption requests to the pipeline",
		Long: `load_simulator generates random adoption requests for the pets in the
configured catalog. By default it publishes through the gateway service
straight to the broker; with --url it posts to a running gateway API instead.`,
		RunE: run,
	}

	rootCmd.Flags().IntVarP(&count, "count", "n", 5, "Number of requests to submit")
	rootCmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Pause between submissions")
	rootCmd.Flags().Uint64Var(&seed, "seed", uint64(time.Now().UnixNano()), "Random seed")
	rootCmd.Flags().StringVar(&target, "url", "", "Gateway API base URL (e.g. http://localhost:3000)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
