// Command api runs the Mirror assistant backend.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mirror",
	Short: "Magic mirror voice assistant backend",
	Long: `Routes spoken requests to Spotify playback or to a conversational
language model reply, keeping per-session conversation state.`,
	SilenceUsage: true,
	RunE:         runServe,
}

func main() {
	rootCmd.AddCommand(serveCmd, chatCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
