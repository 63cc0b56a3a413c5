package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/xaenox/kb-bot/internal/models"
)

func (c *cli) kbCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kb",
		Short: "Populate, inspect and clear a bot knowledge base",
	}
	cmd.AddCommand(c.kbIngestCmd(), c.kbCrawlCmd(), c.kbClearCmd(), c.kbListCmd())
	return cmd
}

// readItems loads a JSON array of {content, metadata} items.
func readItems(path string) ([]models.EmbeddingItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var items []models.EmbeddingItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return items, nil
}

// sourceTitles lists the distinct sources of items in first-seen order.
func sourceTitles(items []models.EmbeddingItem) []string {
	seen := make(map[string]bool)
	var titles []string
	for _, it := range items {
		src := it.Metadata.Source()
		if src == "" || seen[src] {
			continue
		}
		seen[src] = true
		titles = append(titles, src)
	}
	return titles
}

func (c *cli) kbIngestCmd() *cobra.Command {
	var tag string
	cmd := &cobra.Command{
		Use:   "ingest <botID> <file.json>",
		Short: "Store a JSON array of {content, metadata} items",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			botID, path := args[0], args[1]
			items, err := readItems(path)
			if err != nil {
				return err
			}
			if tag == "" {
				tag = filepath.Base(path)
			}

			a, err := c.application(cmd.Context())
			if err != nil {
				return err
			}
			res, err := a.Ingester.PopulateFromItems(cmd.Context(), botID, items, tag, sourceTitles(items))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored %d embeddings from %s\n", res.Count, path)
			return nil
		},
	}
	cmd.Flags().StringVar(&tag, "tag", "", "Batch tag (defaults to the file name)")
	return cmd
}

func (c *cli) kbCrawlCmd() *cobra.Command {
	var saveLink bool
	cmd := &cobra.Command{
		Use:   "crawl <botID> <url>",
		Short: "Populate from a paginated crawler result feed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			botID, url := args[0], args[1]
			a, err := c.application(cmd.Context())
			if err != nil {
				return err
			}
			res, err := a.Ingester.PopulateFromCrawler(cmd.Context(), botID, url)
			if err != nil {
				return err
			}
			if saveLink {
				if _, err := a.Bots.AddCrawlerLink(cmd.Context(), botID, url); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored %d embeddings from %s\n", res.Count, url)
			return nil
		},
	}
	cmd.Flags().BoolVar(&saveLink, "save-link", false, "Also register the url as a crawler link for refresh")
	return cmd
}

func (c *cli) kbClearCmd() *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "clear <botID>",
		Short: "Delete the knowledge base, or only the records whose source contains --source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.application(cmd.Context())
			if err != nil {
				return err
			}
			res, err := a.Ingester.ClearSource(cmd.Context(), args[0], source)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d embeddings\n", res.Count)
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "Source substring to match")
	return cmd
}

func (c *cli) kbListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <botID>",
		Short: "List the knowledge base records of a bot, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.application(cmd.Context())
			if err != nil {
				return err
			}
			recs, err := a.Vectors.GetAllEmbeddingsByBotID(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSOURCE\tTAG\tCREATED\tCONTENT")
			for _, r := range recs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					r.ID, r.Metadata.Source(), r.Tag, r.CreatedAt.Format(time.RFC3339), truncate(r.Content, 60))
			}
			return w.Flush()
		},
	}
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
