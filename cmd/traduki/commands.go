package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/traduki/traduki/internal/config"
)

// --- translate ---

var translateCmd = &cobra.Command{
	Use:   "translate",
	Short: "Translate a text and open a refinement conversation",
	Long: `Translate a text and open a refinement conversation.

Examples:
  traduki translate --text "hello world" --from en --to es
  traduki translate --file ./letter.txt --from en --to fr`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		file, _ := cmd.Flags().GetString("file")
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")

		if text == "" && file == "" {
			return fmt.Errorf("one of --text or --file is required")
		}
		if from == "" || to == "" {
			return fmt.Errorf("--from and --to are required")
		}
		if file != "" {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			text = string(data)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/translate", map[string]string{
			"text":            text,
			"source_language": from,
			"target_language": to,
		})
		if err != nil {
			return err
		}

		var result struct {
			ConversationID string `json:"conversation_id"`
			Translation    string `json:"translation"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		fmt.Println(result.Translation)
		printStatus("Conversation", "%s", result.ConversationID)
		return nil
	},
}

// --- refine ---

var refineCmd = &cobra.Command{
	Use:   "refine <conversation-id>",
	Short: "Send feedback on a translation and get a refined version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		feedback, _ := cmd.Flags().GetString("feedback")
		if feedback == "" {
			return fmt.Errorf("--feedback is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/refine", map[string]string{
			"conversation_id": args[0],
			"feedback":        feedback,
		})
		if err != nil {
			return err
		}

		var result struct {
			Translation string `json:"translation"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		fmt.Println(result.Translation)
		return nil
	},
}

// --- improvements ---

var improvementsCmd = &cobra.Command{
	Use:   "improvements",
	Short: "List or apply improvement proposals extracted from feedback",
}

var improvementsListCmd = &cobra.Command{
	Use:   "list <conversation-id>",
	Short: "List pending improvement proposals for a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/improvements?conversation_id=" + url.QueryEscape(args[0]))
		if err != nil {
			return err
		}

		var result struct {
			Improvements []json.RawMessage `json:"improvements"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Improvements) == 0 {
			printStatus("Improvements", "none pending")
			return nil
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		for i, p := range result.Improvements {
			fmt.Printf("[%d] ", i)
			var v any
			if err := json.Unmarshal(p, &v); err != nil {
				return err
			}
			if err := enc.Encode(v); err != nil {
				return err
			}
		}
		return nil
	},
}

var improvementsApplyCmd = &cobra.Command{
	Use:   "apply <conversation-id>",
	Short: "Apply a pending improvement proposal by its list index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, _ := cmd.Flags().GetInt("index")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/improvements?conversation_id=" + url.QueryEscape(args[0]))
		if err != nil {
			return err
		}
		var list struct {
			Improvements []json.RawMessage `json:"improvements"`
		}
		if err := decodeJSON(resp, &list); err != nil {
			return err
		}
		if index < 0 || index >= len(list.Improvements) {
			return fmt.Errorf("index %d out of range: %d proposals pending", index, len(list.Improvements))
		}

		resp, err = client.post(cmd.Context(), "/v1/improvements/apply", map[string]any{
			"conversation_id": args[0],
			"proposal":        json.RawMessage(list.Improvements[index]),
		})
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Improvement applied")
		return nil
	},
}

var improvementsDiscardCmd = &cobra.Command{
	Use:   "discard <conversation-id>",
	Short: "Discard all pending improvement proposals for a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/v1/improvements?conversation_id=" + url.QueryEscape(args[0]))
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Pending improvements discarded")
		return nil
	},
}

func init() {
	translateCmd.Flags().String("text", "", "text to translate")
	translateCmd.Flags().String("file", "", "file whose contents to translate")
	translateCmd.Flags().String("from", "", "source language code (e.g. en)")
	translateCmd.Flags().String("to", "", "target language code (e.g. es)")

	refineCmd.Flags().String("feedback", "", "feedback on the current translation")

	improvementsApplyCmd.Flags().Int("index", 0, "proposal index from 'improvements list'")
	improvementsCmd.AddCommand(improvementsListCmd)
	improvementsCmd.AddCommand(improvementsApplyCmd)
	improvementsCmd.AddCommand(improvementsDiscardCmd)
}

// --- glossary ---

var glossaryCmd = &cobra.Command{
	Use:   "glossary",
	Short: "Manage glossary entries",
}

var glossaryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List glossary entries for a language pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")
		if from == "" || to == "" {
			return fmt.Errorf("--from and --to are required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/v1/glossary?source_language=%s&target_language=%s",
			url.QueryEscape(from), url.QueryEscape(to)))
		if err != nil {
			return err
		}

		var result struct {
			Entries []struct {
				SourceText string `json:"source_text"`
				TargetText string `json:"target_text"`
				Note       string `json:"note"`
			} `json:"entries"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Entries) == 0 {
			printStatus("Glossary", "no entries for %s-%s", from, to)
			return nil
		}
		for _, e := range result.Entries {
			line := fmt.Sprintf("%s: %s", e.SourceText, e.TargetText)
			if e.Note != "" {
				line += fmt.Sprintf(" (%s)", e.Note)
			}
			fmt.Println(line)
		}
		return nil
	},
}

var glossaryAddCmd = &cobra.Command{
	Use:   "add <source-text> <target-text>",
	Short: "Add or update a glossary entry",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")
		note, _ := cmd.Flags().GetString("note")
		if from == "" || to == "" {
			return fmt.Errorf("--from and --to are required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/glossary", map[string]string{
			"source_language": from,
			"target_language": to,
			"source_text":     args[0],
			"target_text":     args[1],
			"note":            note,
		})
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Stored %q for %s-%s", strings.ToLower(args[0]), from, to)
		return nil
	},
}

var glossaryEditCmd = &cobra.Command{
	Use:   "edit <source-text>",
	Short: "Edit a glossary entry, optionally renaming its source text",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")
		rename, _ := cmd.Flags().GetString("rename")
		target, _ := cmd.Flags().GetString("target")
		note, _ := cmd.Flags().GetString("note")
		if from == "" || to == "" {
			return fmt.Errorf("--from and --to are required")
		}
		if target == "" {
			return fmt.Errorf("--target is required")
		}
		source := args[0]
		if rename != "" {
			source = rename
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.do(cmd.Context(), "PUT", "/v1/glossary", map[string]string{
			"source_language": from,
			"target_language": to,
			"old_source_text": args[0],
			"source_text":     source,
			"target_text":     target,
			"note":            note,
		})
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Updated %q", strings.ToLower(source))
		return nil
	},
}

var glossaryRemoveCmd = &cobra.Command{
	Use:   "remove <source-text>",
	Short: "Remove a glossary entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")
		if from == "" || to == "" {
			return fmt.Errorf("--from and --to are required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), fmt.Sprintf("/v1/glossary?source_language=%s&target_language=%s&source_text=%s",
			url.QueryEscape(from), url.QueryEscape(to), url.QueryEscape(args[0])))
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Removed %q", args[0])
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{glossaryListCmd, glossaryAddCmd, glossaryEditCmd, glossaryRemoveCmd} {
		c.Flags().String("from", "", "source language code")
		c.Flags().String("to", "", "target language code")
	}
	glossaryAddCmd.Flags().String("note", "", "note on when the term applies")
	glossaryEditCmd.Flags().String("rename", "", "new source text")
	glossaryEditCmd.Flags().String("target", "", "new target text")
	glossaryEditCmd.Flags().String("note", "", "note on when the term applies")
	glossaryCmd.AddCommand(glossaryListCmd)
	glossaryCmd.AddCommand(glossaryAddCmd)
	glossaryCmd.AddCommand(glossaryEditCmd)
	glossaryCmd.AddCommand(glossaryRemoveCmd)
}

// --- rules ---

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage phrasing rules",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List phrasing rules for a language pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")
		if from == "" || to == "" {
			return fmt.Errorf("--from and --to are required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/v1/rules?source_language=%s&target_language=%s",
			url.QueryEscape(from), url.QueryEscape(to)))
		if err != nil {
			return err
		}

		var result struct {
			Rules []struct {
				Text string `json:"text"`
			} `json:"rules"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Rules) == 0 {
			printStatus("Rules", "no rules for %s-%s", from, to)
			return nil
		}
		for _, r := range result.Rules {
			fmt.Println("- " + r.Text)
		}
		return nil
	},
}

var rulesAddCmd = &cobra.Command{
	Use:   "add <text>",
	Short: "Add a phrasing rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")
		if from == "" || to == "" {
			return fmt.Errorf("--from and --to are required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/rules", map[string]string{
			"source_language": from,
			"target_language": to,
			"text":            args[0],
		})
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Stored rule for %s-%s", from, to)
		return nil
	},
}

var rulesRemoveCmd = &cobra.Command{
	Use:   "remove <text>",
	Short: "Remove a phrasing rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")
		if from == "" || to == "" {
			return fmt.Errorf("--from and --to are required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), fmt.Sprintf("/v1/rules?source_language=%s&target_language=%s&text=%s",
			url.QueryEscape(from), url.QueryEscape(to), url.QueryEscape(args[0])))
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Removed rule")
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{rulesListCmd, rulesAddCmd, rulesRemoveCmd} {
		c.Flags().String("from", "", "source language code")
		c.Flags().String("to", "", "target language code")
	}
	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesAddCmd)
	rulesCmd.AddCommand(rulesRemoveCmd)
}

// --- usage ---

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show consumed cost against the quota ceiling",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/usage")
		if err != nil {
			return err
		}

		var result struct {
			Used  int64 `json:"used"`
			Limit int64 `json:"limit"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printStatus("Usage", "%d / %d cost units", result.Used, result.Limit)
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or set configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("%-28s %-34s %s\n", k.Key, k.Value, k.EnvVar)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetKey(args[0], args[1]); err != nil {
			return fmt.Errorf("%w\nvalid keys: %s", err, strings.Join(config.ValidKeys(), ", "))
		}
		printSuccess("Set %s = %s", args[0], args[1])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
