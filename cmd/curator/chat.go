package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/TobiSchelling/curator/internal/chat"
	"github.com/TobiSchelling/curator/internal/database"
)

var (
	chatUser    string
	chatSession string
	similarTopK int
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive conversation over today's digest and the archive",
	Long: `Start an interactive conversation. Answers stream as they are generated.

Commands inside the session:
  /reset   drop cached context and reload on the next message
  /quit    leave the session`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		orch, sessionID, err := openSession(cmd, db)
		if err != nil {
			return err
		}
		fmt.Printf("Session %s (type /quit to leave)\n", sessionID)

		scanner := bufio.NewScanner(os.Stdin)
		for {
			fmt.Print("\n> ")
			if !scanner.Scan() {
				break
			}
			line := strings.TrimSpace(scanner.Text())
			switch line {
			case "":
				continue
			case "/quit", "/exit":
				return nil
			case "/reset":
				orch.Reset()
				fmt.Println("Context cleared.")
				continue
			}

			result := orch.SendStream(ctx, line, func(chunk string) {
				fmt.Print(chunk)
			})
			fmt.Println()
			if verbose {
				fmt.Printf("[%s, confidence %.2f, layers %s]\n",
					result.QueryType, result.Confidence, strings.Join(result.LayersUsed, ", "))
			}
		}
		return scanner.Err()
	},
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a single question and print the answer",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		orch, _, err := openSession(cmd, db)
		if err != nil {
			return err
		}

		result := orch.Send(cmd.Context(), strings.Join(args, " "))
		fmt.Println(result.Answer)
		if verbose {
			fmt.Printf("\n[%s, confidence %.2f, layers %s]\n",
				result.QueryType, result.Confidence, strings.Join(result.LayersUsed, ", "))
		}
		return nil
	},
}

var similarCmd = &cobra.Command{
	Use:   "similar <item-id>",
	Short: "List archived items similar to an item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		itemID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid item id %q", args[0])
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		results := newBackends(db).Similar(cmd.Context(), itemID, similarTopK)
		if len(results) == 0 {
			fmt.Println("No similar items found.")
			return nil
		}
		for i, r := range results {
			fmt.Printf("%d. %s (%.0f%%)\n   %s\n", i+1, r.Item.Title, r.Similarity*100, r.Item.URL)
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{chatCmd, askCmd} {
		c.Flags().StringVarP(&chatUser, "user", "u", "", "User ID or email for personalized context")
		c.Flags().StringVar(&chatSession, "session", "", "Resume an existing session ID")
	}
	similarCmd.Flags().IntVarP(&similarTopK, "top", "k", 5, "Number of similar items")
}

func openSession(cmd *cobra.Command, db *database.DB) (*chat.Orchestrator, string, error) {
	ctx := cmd.Context()
	var userID string
	if chatUser != "" {
		user, err := resolveUser(ctx, db, chatUser)
		if err != nil {
			return nil, "", err
		}
		userID = user.ID
	}

	sessionID := chatSession
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	orch, err := newBackends(db).NewOrchestrator(ctx, userID, sessionID)
	if err != nil {
		return nil, "", err
	}
	return orch, sessionID, nil
}
