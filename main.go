package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "linguachat",
	Short: "LinguaChat language tutor server and CLI",
	Long: `LinguaChat runs a conversational language tutor.

  serve  starts the HTTP/WebSocket server
  chat   practices a conversation from the terminal`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (defaults plus environment when empty)")
	rootCmd.AddCommand(serveCmd, chatCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
