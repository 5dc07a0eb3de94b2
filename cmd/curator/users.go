package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/curator/internal/database"
)

var (
	feedbackPositive bool
	feedbackNegative bool
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage digest recipients and their subscriptions",
}

var usersAddCmd = &cobra.Command{
	Use:   "add <email> [name]",
	Short: "Register a user",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		var name string
		if len(args) > 1 {
			name = args[1]
		}
		u, err := db.CreateUser(cmd.Context(), args[0], name)
		if err != nil {
			return err
		}
		fmt.Printf("Created user %s (%s)\n", u.Email, u.ID)
		return nil
	},
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users with their subscriptions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		users, err := db.ListUsers(ctx)
		if err != nil {
			return err
		}
		if len(users) == 0 {
			fmt.Println("No users. Add one with 'curator users add <email>'.")
			return nil
		}
		for _, u := range users {
			fmt.Printf("%s  %s", u.ID, u.Email)
			if u.Name != "" {
				fmt.Printf(" (%s)", u.Name)
			}
			fmt.Println()

			subs, err := db.GetSubscriptions(ctx, u.ID)
			if err != nil {
				return err
			}
			for _, dim := range []string{database.DimCompany, database.DimIndustry,
				database.DimTechnology, database.DimPerson, database.DimTopic} {
				if values := subs.Dimension(dim); len(values) > 0 {
					fmt.Printf("    %s: %s\n", dim, strings.Join(values, ", "))
				}
			}
		}
		return nil
	},
}

var usersSubscribeCmd = &cobra.Command{
	Use:   "subscribe <user> <dimension> <value>",
	Short: "Subscribe a user to a tag (company, industry, technology, person, topic)",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		u, err := resolveUser(ctx, db, args[0])
		if err != nil {
			return err
		}
		if err := db.Subscribe(ctx, u.ID, args[1], args[2]); err != nil {
			return err
		}
		fmt.Printf("%s subscribed to %s %q\n", u.Email, args[1], args[2])
		return nil
	},
}

var usersUnsubscribeCmd = &cobra.Command{
	Use:   "unsubscribe <user> <dimension> <value>",
	Short: "Remove a subscription",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		u, err := resolveUser(ctx, db, args[0])
		if err != nil {
			return err
		}
		if err := db.Unsubscribe(ctx, u.ID, args[1], args[2]); err != nil {
			return err
		}
		fmt.Printf("%s unsubscribed from %s %q\n", u.Email, args[1], args[2])
		return nil
	},
}

var feedbackCmd = &cobra.Command{
	Use:   "feedback <user> <item-id>",
	Short: "Record feedback on an item and show the updated weights",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if feedbackPositive == feedbackNegative {
			return fmt.Errorf("pass exactly one of --positive or --negative")
		}
		itemID, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid item id %q", args[1])
		}

		ctx := cmd.Context()
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		u, err := resolveUser(ctx, db, args[0])
		if err != nil {
			return err
		}
		if err := db.ApplyItemFeedback(ctx, u.ID, itemID, feedbackPositive); err != nil {
			return fmt.Errorf("applying feedback: %w", err)
		}

		weights, err := db.GetWeightTable(ctx, u.ID)
		if err != nil {
			return err
		}
		for _, dim := range []struct {
			name   string
			values map[string]float64
		}{
			{database.DimCompany, weights.Companies},
			{database.DimIndustry, weights.Industries},
			{database.DimTopic, weights.Topics},
		} {
			if len(dim.values) == 0 {
				continue
			}
			fmt.Printf("%s:\n", dim.name)
			for _, tag := range sortedWeights(dim.values) {
				fmt.Printf("  %-30s %.2f\n", tag, dim.values[tag])
			}
		}
		return nil
	},
}

func init() {
	usersCmd.AddCommand(usersAddCmd)
	usersCmd.AddCommand(usersListCmd)
	usersCmd.AddCommand(usersSubscribeCmd)
	usersCmd.AddCommand(usersUnsubscribeCmd)

	feedbackCmd.Flags().BoolVar(&feedbackPositive, "positive", false, "Mark the item as useful")
	feedbackCmd.Flags().BoolVar(&feedbackNegative, "negative", false, "Mark the item as not useful")
}
