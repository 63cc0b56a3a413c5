package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/xaenox/kb-bot/internal/models"
)

func (c *cli) botsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bots",
		Short: "List and create bots",
	}
	cmd.AddCommand(c.botsListCmd(), c.botsCreateCmd())
	return cmd
}

func (c *cli) botsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all bots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.application(cmd.Context())
			if err != nil {
				return err
			}
			bots, err := a.Store.ListBots(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tMODEL\tAUTO UPDATE")
			for _, b := range bots {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", b.ID, b.Name, b.Model, b.AutoUpdateKB)
			}
			return w.Flush()
		},
	}
}

func (c *cli) botsCreateCmd() *cobra.Command {
	var b models.Bot
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a bot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.application(cmd.Context())
			if err != nil {
				return err
			}
			if b.Prompt == "" && b.PromptTemplate != "" {
				b.Prompt = b.PromptTemplate
			}
			if err := a.Store.CreateBot(cmd.Context(), &b); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created bot %s\n", b.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&b.ID, "id", "", "Bot ID (generated when empty)")
	cmd.Flags().StringVar(&b.Name, "name", "", "Bot name")
	cmd.Flags().StringVar(&b.Description, "description", "", "Bot description")
	cmd.Flags().StringVar(&b.Model, "model", "gpt-4o-mini", "Chat model identifier")
	cmd.Flags().StringVar(&b.Prompt, "prompt", "", "System prompt")
	cmd.Flags().StringVar(&b.PromptTemplate, "prompt-template", "", "Prompt template with {{titles}} and {{count}} placeholders")
	cmd.Flags().BoolVar(&b.AutoUpdateKB, "auto-update", false, "Rebuild the knowledge base on refresh")
	cmd.MarkFlagRequired("name")
	return cmd
}
