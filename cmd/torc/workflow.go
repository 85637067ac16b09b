package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/torc-hpc/torc/pkg/export"
)

var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Manage workflows",
}

var workflowCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a new workflow",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		description, _ := cmd.Flags().GetString("description")

		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		w, err := c.CreateWorkflow(context.Background(), args[0], description)
		if err != nil {
			return fmt.Errorf("failed to create workflow: %v", err)
		}
		fmt.Printf("✓ Workflow created: %s (ID: %d)\n", w.Name, w.ID)
		return nil
	},
}

var workflowListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workflows",
	RunE: func(cmd *cobra.Command, args []string) error {
		allUsers, _ := cmd.Flags().GetBool("all-users")

		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		workflows, err := c.ListWorkflows(context.Background(), allUsers)
		if err != nil {
			return fmt.Errorf("failed to list workflows: %v", err)
		}
		if len(workflows) == 0 {
			fmt.Println("No workflows found")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tUSER\tSTATUS\tRUN\tCREATED")
		fmt.Fprintln(w, "--\t----\t----\t------\t---\t-------")
		for _, wf := range workflows {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\n",
				wf.ID, wf.Name, wf.User, wf.Status, wf.RunID,
				wf.CreatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var workflowGetCmd = &cobra.Command{
	Use:   "get ID",
	Short: "Show a workflow",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		wf, err := c.GetWorkflow(context.Background(), id)
		if err != nil {
			return fmt.Errorf("failed to get workflow: %v", err)
		}
		return printJSON(wf)
	},
}

var workflowDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a workflow and everything it owns",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		if err := c.DeleteWorkflow(context.Background(), id); err != nil {
			return fmt.Errorf("failed to delete workflow: %v", err)
		}
		fmt.Printf("✓ Workflow deleted: %d\n", id)
		return nil
	},
}

var workflowInitializeCmd = &cobra.Command{
	Use:   "initialize ID",
	Short: "Build the dependency graph and mark jobs ready",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		res, err := c.InitializeWorkflow(context.Background(), id)
		if err != nil {
			return fmt.Errorf("failed to initialize workflow: %v", err)
		}
		fmt.Printf("✓ Workflow %d initialized (run %d)\n", id, res.RunID)
		fmt.Printf("  Total jobs: %d\n", res.TotalJobs)
		fmt.Printf("  Ready: %d\n", res.ReadyJobs)
		fmt.Printf("  Blocked: %d\n", res.BlockedJobs)
		return nil
	},
}

var workflowResetCmd = &cobra.Command{
	Use:   "reset ID",
	Short: "Reset jobs back to uninitialized for a rerun",
	Long: `Reset jobs back to uninitialized for a rerun.

By default every job is reset. With --failed-only, only jobs whose
latest result failed are reset, along with everything downstream of
them; completed work that is still valid stays completed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		failedOnly, _ := cmd.Flags().GetBool("failed-only")

		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		res, err := c.ResetWorkflow(context.Background(), id, failedOnly)
		if err != nil {
			return fmt.Errorf("failed to reset workflow: %v", err)
		}
		fmt.Printf("✓ Workflow %d reset (%d jobs)\n", id, res.ResetJobs)
		return nil
	},
}

var workflowExportCmd = &cobra.Command{
	Use:   "export ID",
	Short: "Export a workflow as a portable JSON document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		includeResults, _ := cmd.Flags().GetBool("include-results")
		includeEvents, _ := cmd.Flags().GetBool("include-events")

		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		doc, err := c.ExportWorkflow(context.Background(), id, includeResults, includeEvents)
		if err != nil {
			return fmt.Errorf("failed to export workflow: %v", err)
		}

		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode export: %v", err)
		}
		if output == "" || output == "-" {
			fmt.Println(string(data))
			return nil
		}
		if err := os.WriteFile(output, data, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %v", output, err)
		}
		fmt.Printf("✓ Workflow %d exported to %s (%d jobs)\n", id, output, len(doc.Jobs))
		return nil
	},
}

var workflowImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a workflow from an exported JSON document",
	RunE: func(cmd *cobra.Command, args []string) error {
		filename, _ := cmd.Flags().GetString("file")

		data, err := os.ReadFile(filename)
		if err != nil {
			return fmt.Errorf("failed to read file: %v", err)
		}
		var doc export.Document
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("failed to parse export document: %v", err)
		}

		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		wf, err := c.ImportWorkflow(context.Background(), &doc)
		if err != nil {
			return fmt.Errorf("failed to import workflow: %v", err)
		}
		fmt.Printf("✓ Workflow imported: %s (ID: %d)\n", wf.Name, wf.ID)
		return nil
	},
}

var workflowMissingFilesCmd = &cobra.Command{
	Use:   "missing-files ID",
	Short: "List declared artifacts whose backing data is absent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		ctx := context.Background()

		files, err := c.ListMissingFiles(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to list missing files: %v", err)
		}
		userData, err := c.ListMissingUserData(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to list missing user data: %v", err)
		}
		if len(files) == 0 && len(userData) == 0 {
			fmt.Println("✓ No missing artifacts")
			return nil
		}

		if len(files) > 0 {
			fmt.Printf("Missing files (%d):\n", len(files))
			for _, f := range files {
				fmt.Printf("  %s: %s\n", f.Name, f.Path)
			}
		}
		if len(userData) > 0 {
			fmt.Printf("Missing user data (%d):\n", len(userData))
			for _, u := range userData {
				fmt.Printf("  %s\n", u.Name)
			}
		}
		return nil
	},
}

func init() {
	workflowCmd.AddCommand(workflowCreateCmd)
	workflowCmd.AddCommand(workflowListCmd)
	workflowCmd.AddCommand(workflowGetCmd)
	workflowCmd.AddCommand(workflowDeleteCmd)
	workflowCmd.AddCommand(workflowInitializeCmd)
	workflowCmd.AddCommand(workflowResetCmd)
	workflowCmd.AddCommand(workflowExportCmd)
	workflowCmd.AddCommand(workflowImportCmd)
	workflowCmd.AddCommand(workflowMissingFilesCmd)

	workflowCreateCmd.Flags().String("description", "", "Workflow description")
	workflowListCmd.Flags().Bool("all-users", false, "List every user's workflows")
	workflowResetCmd.Flags().Bool("failed-only", false, "Reset only failed jobs and their dependents")
	workflowExportCmd.Flags().StringP("output", "o", "", "Write to file instead of stdout")
	workflowExportCmd.Flags().Bool("include-results", false, "Include job results")
	workflowExportCmd.Flags().Bool("include-events", false, "Include the event log")
	workflowImportCmd.Flags().StringP("file", "f", "", "Export document to import (required)")
	_ = workflowImportCmd.MarkFlagRequired("file")
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid ID %q", s)
	}
	return id, nil
}
