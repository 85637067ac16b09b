package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/torc-hpc/torc/pkg/client"
	"github.com/torc-hpc/torc/pkg/types"
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Manage jobs",
}

var jobAddCmd = &cobra.Command{
	Use:   "add WORKFLOW_ID NAME",
	Short: "Add a job to a workflow",
	Long: `Add a job to a workflow.

Jobs are added while the workflow is uninitialized; dependencies
reference the IDs of previously added jobs. Run "torc workflow
initialize" once the graph is complete.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		command, _ := cmd.Flags().GetString("command")
		priority, _ := cmd.Flags().GetInt("priority")
		dependsOn, _ := cmd.Flags().GetInt64Slice("depends-on")
		inputFiles, _ := cmd.Flags().GetInt64Slice("input-file")
		outputFiles, _ := cmd.Flags().GetInt64Slice("output-file")
		inputUserData, _ := cmd.Flags().GetInt64Slice("input-user-data")
		outputUserData, _ := cmd.Flags().GetInt64Slice("output-user-data")
		rrID, _ := cmd.Flags().GetInt64("resource-requirements")
		schedulerID, _ := cmd.Flags().GetInt64("scheduler")
		cancelOnFailure, _ := cmd.Flags().GetBool("cancel-on-failure")
		supportsTermination, _ := cmd.Flags().GetBool("supports-termination")

		workflowID, err := parseID(args[0])
		if err != nil {
			return err
		}
		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		j, err := c.CreateJob(context.Background(), workflowID, &client.JobSpec{
			Name:                       args[1],
			Command:                    command,
			Priority:                   priority,
			DependsOnJobIDs:            dependsOn,
			InputFileIDs:               inputFiles,
			OutputFileIDs:              outputFiles,
			InputUserDataIDs:           inputUserData,
			OutputUserDataIDs:          outputUserData,
			ResourceRequirementsID:     rrID,
			SchedulerID:                schedulerID,
			CancelOnBlockingJobFailure: cancelOnFailure,
			SupportsTermination:        supportsTermination,
		})
		if err != nil {
			return fmt.Errorf("failed to add job: %v", err)
		}
		fmt.Printf("✓ Job added: %s (ID: %d)\n", j.Name, j.ID)
		return nil
	},
}

var jobListCmd = &cobra.Command{
	Use:   "list WORKFLOW_ID",
	Short: "List a workflow's jobs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")

		workflowID, err := parseID(args[0])
		if err != nil {
			return err
		}
		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		jobs, err := c.ListJobs(context.Background(), workflowID, types.JobStatus(status))
		if err != nil {
			return fmt.Errorf("failed to list jobs: %v", err)
		}
		if len(jobs) == 0 {
			fmt.Println("No jobs found")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSTATUS\tATTEMPT\tNODE\tCOMMAND")
		fmt.Fprintln(w, "--\t----\t------\t-------\t----\t-------")
		for _, j := range jobs {
			node := "-"
			if j.ComputeNodeID != 0 {
				node = fmt.Sprintf("%d", j.ComputeNodeID)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\n",
				j.ID, j.Name, j.Status, j.AttemptID, node, j.Command)
		}
		return w.Flush()
	},
}

var jobGetCmd = &cobra.Command{
	Use:   "get WORKFLOW_ID JOB_ID",
	Short: "Show a job",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		workflowID, err := parseID(args[0])
		if err != nil {
			return err
		}
		jobID, err := parseID(args[1])
		if err != nil {
			return err
		}
		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		j, err := c.GetJob(context.Background(), workflowID, jobID)
		if err != nil {
			return fmt.Errorf("failed to get job: %v", err)
		}
		return printJSON(j)
	},
}

var jobCompleteCmd = &cobra.Command{
	Use:   "complete JOB_ID",
	Short: "Record a job's terminal result",
	Long: `Record a job's terminal result.

The status must be terminal: completed, canceled, or terminated.
Failure is a completed status with a nonzero return code.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		returnCode, _ := cmd.Flags().GetInt("return-code")
		execMinutes, _ := cmd.Flags().GetFloat64("exec-time-minutes")

		jobID, err := parseID(args[0])
		if err != nil {
			return err
		}
		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		res, err := c.CompleteJob(context.Background(), jobID, &types.CompleteJobRequest{
			Status:          types.JobStatus(status),
			ReturnCode:      returnCode,
			ExecTimeMinutes: execMinutes,
		})
		if err != nil {
			return fmt.Errorf("failed to complete job: %v", err)
		}
		fmt.Printf("✓ Job %d completed: %s (rc=%d, run %d attempt %d)\n",
			jobID, res.Status, res.ReturnCode, res.RunID, res.AttemptID)
		return nil
	},
}

func init() {
	jobCmd.AddCommand(jobAddCmd)
	jobCmd.AddCommand(jobListCmd)
	jobCmd.AddCommand(jobGetCmd)
	jobCmd.AddCommand(jobCompleteCmd)

	jobAddCmd.Flags().String("command", "", "Shell command the job runs (required)")
	jobAddCmd.Flags().Int("priority", 0, "Claim priority, higher first")
	jobAddCmd.Flags().Int64Slice("depends-on", nil, "Job IDs this job depends on")
	jobAddCmd.Flags().Int64Slice("input-file", nil, "File IDs this job consumes")
	jobAddCmd.Flags().Int64Slice("output-file", nil, "File IDs this job produces")
	jobAddCmd.Flags().Int64Slice("input-user-data", nil, "User data IDs this job consumes")
	jobAddCmd.Flags().Int64Slice("output-user-data", nil, "User data IDs this job produces")
	jobAddCmd.Flags().Int64("resource-requirements", 0, "Resource requirements ID")
	jobAddCmd.Flags().Int64("scheduler", 0, "Scheduler config ID")
	jobAddCmd.Flags().Bool("cancel-on-failure", false, "Cancel this job when a dependency fails")
	jobAddCmd.Flags().Bool("supports-termination", false, "Job handles SIGTERM and may be terminated")
	_ = jobAddCmd.MarkFlagRequired("command")

	jobListCmd.Flags().String("status", "", "Filter by status")

	jobCompleteCmd.Flags().String("status", "completed", "Terminal status: completed, canceled, terminated")
	jobCompleteCmd.Flags().Int("return-code", 0, "Process return code")
	jobCompleteCmd.Flags().Float64("exec-time-minutes", 0, "Wall-clock runtime in minutes")
}
