package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// hooksCmd exposes the agent event hooks over stdin/stdout so host runtimes
// can shell out: before-agent-start reads the prompt and prints the
// prepend-context block; agent-end reads user messages (one per line) and
// runs auto-capture.
var hooksCmd = &cobra.Command{
	Use:    "hook",
	Short:  "Agent lifecycle hooks",
	Hidden: true,
}

var hookSuccess bool

var beforeAgentStartCmd = &cobra.Command{
	Use:   "before-agent-start",
	Short: "Compute auto-recall context for a prompt read from stdin",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		promptBytes, err := io.ReadAll(os.Stdin)
		if err != nil {
			return err
		}
		prompt := string(promptBytes)
		if block := eng.BeforeAgentStart(cmd.Context(), prompt); block != "" {
			fmt.Println(block)
		}
		return nil
	},
}

var agentEndCmd = &cobra.Command{
	Use:   "agent-end",
	Short: "Auto-capture user messages read from stdin, one per line",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		var messages []string
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			messages = append(messages, scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			return err
		}
		eng.AgentEnd(cmd.Context(), hookSuccess, messages)
		return nil
	},
}

func init() {
	agentEndCmd.Flags().BoolVar(&hookSuccess, "success", true, "whether the agent turn succeeded")
	hooksCmd.AddCommand(beforeAgentStartCmd, agentEndCmd)
}
