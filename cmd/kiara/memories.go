package main

import (
	"encoding/json"
	"fmt"

	"github.com/kiara-intelligence/kiara/memory"
	"github.com/spf13/cobra"
)

func init() {
	memoriesCmd := &cobra.Command{
		Use:   "memories",
		Short: "Inspect and maintain stored memories",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's active memories",
		RunE:  runMemoriesList,
	}
	listCmd.Flags().StringP("user", "u", "", "User ID (required)")
	listCmd.Flags().String("type", "", "Filter by type: fact, preference, context or personality")
	listCmd.Flags().Bool("all", false, "Include inactive memories")
	listCmd.Flags().Bool("json", false, "Print newline-delimited JSON")
	_ = listCmd.MarkFlagRequired("user")

	consolidateCmd := &cobra.Command{
		Use:   "consolidate",
		Short: "Merge duplicate memories for a user",
		RunE:  runMemoriesConsolidate,
	}
	consolidateCmd.Flags().StringP("user", "u", "", "User ID (required)")
	_ = consolidateCmd.MarkFlagRequired("user")

	memoriesCmd.AddCommand(listCmd, consolidateCmd)
	rootCmd.AddCommand(memoriesCmd)
}

func runMemoriesList(cmd *cobra.Command, args []string) error {
	userID, _ := cmd.Flags().GetString("user")
	typ, _ := cmd.Flags().GetString("type")
	all, _ := cmd.Flags().GetBool("all")
	asJSON, _ := cmd.Flags().GetBool("json")

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck // No remedy for db close errors

	items, err := a.memories.Backend().Query(cmd.Context(), memory.Filter{
		UserID:     userID,
		ActiveOnly: !all,
		Type:       memory.MemoryType(typ),
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		for _, item := range items {
			if err := enc.Encode(item); err != nil {
				return err
			}
		}
		return nil
	}

	for _, item := range items {
		scope := "global"
		if item.ChatID != nil {
			scope = "chat:" + *item.ChatID
		}
		fmt.Fprintf(out, "%s  %-11s %-12s %.2f  %-8t %-20s %s\n",
			item.ID, item.Type, item.Category, item.Confidence, item.IsActive, scope, item.Content)
	}
	fmt.Fprintf(out, "%d memories\n", len(items))
	return nil
}

func runMemoriesConsolidate(cmd *cobra.Command, args []string) error {
	userID, _ := cmd.Flags().GetString("user")

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck // No remedy for db close errors

	merged, err := a.memories.ConsolidateMemories(cmd.Context(), userID)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Invalidated %d duplicate memories for %s\n", merged, userID)
	return nil
}
