package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/torc-hpc/torc/pkg/client"
	"github.com/torc-hpc/torc/pkg/types"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Create a workflow from a YAML manifest",
	Long: `Create a workflow from a YAML manifest.

The manifest declares the whole workflow in one file: files, user
data, resource requirements, schedulers, actions, and jobs. Jobs
reference the other entities by name; a job may only depend on jobs
defined earlier in the manifest.

Examples:
  # Create a workflow
  torc apply -f pipeline.yaml

  # Create and initialize in one step
  torc apply -f pipeline.yaml --initialize`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML manifest to apply (required)")
	applyCmd.Flags().Bool("initialize", false, "Initialize the workflow after creating it")
	_ = applyCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(applyCmd)
}

// workflowManifest is the YAML shape torc apply consumes.
type workflowManifest struct {
	Name                 string              `yaml:"name"`
	Description          string              `yaml:"description"`
	Files                []manifestFile      `yaml:"files"`
	UserData             []manifestUserData  `yaml:"user_data"`
	ResourceRequirements []manifestResources `yaml:"resource_requirements"`
	SlurmSchedulers      []manifestSlurm     `yaml:"slurm_schedulers"`
	LocalSchedulers      []manifestLocal     `yaml:"local_schedulers"`
	Actions              []manifestAction    `yaml:"actions"`
	Jobs                 []manifestJob       `yaml:"jobs"`
}

type manifestFile struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

type manifestUserData struct {
	Name string      `yaml:"name"`
	Data interface{} `yaml:"data"`
}

type manifestResources struct {
	Name     string `yaml:"name"`
	NumCPUs  int    `yaml:"num_cpus"`
	NumGPUs  int    `yaml:"num_gpus"`
	NumNodes int    `yaml:"num_nodes"`
	Memory   string `yaml:"memory"`
	Runtime  string `yaml:"runtime"`
}

type manifestSlurm struct {
	Name      string `yaml:"name"`
	Account   string `yaml:"account"`
	Partition string `yaml:"partition"`
	QOS       string `yaml:"qos"`
	Walltime  string `yaml:"walltime"`
	Nodes     int    `yaml:"nodes"`
	Mem       string `yaml:"mem"`
	Gres      string `yaml:"gres"`
	Tmp       string `yaml:"tmp"`
	ExtraArgs string `yaml:"extra_args"`
}

type manifestLocal struct {
	Name            string `yaml:"name"`
	MaxParallelJobs int    `yaml:"max_parallel_jobs"`
}

type manifestAction struct {
	Name    string      `yaml:"name"`
	Trigger string      `yaml:"trigger"`
	Payload interface{} `yaml:"payload"`
}

type manifestJob struct {
	Name                 string   `yaml:"name"`
	Command              string   `yaml:"command"`
	Priority             int      `yaml:"priority"`
	DependsOn            []string `yaml:"depends_on"`
	InputFiles           []string `yaml:"input_files"`
	OutputFiles          []string `yaml:"output_files"`
	InputUserData        []string `yaml:"input_user_data"`
	OutputUserData       []string `yaml:"output_user_data"`
	ResourceRequirements string   `yaml:"resource_requirements"`
	Scheduler            string   `yaml:"scheduler"`
	CancelOnFailure      bool     `yaml:"cancel_on_failure"`
	SupportsTermination  bool     `yaml:"supports_termination"`
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	initialize, _ := cmd.Flags().GetBool("initialize")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %v", err)
	}
	var m workflowManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("failed to parse YAML: %v", err)
	}
	if m.Name == "" {
		return fmt.Errorf("manifest must set name")
	}

	c, err := apiClient(cmd)
	if err != nil {
		return err
	}
	ctx := context.Background()

	wf, err := c.CreateWorkflow(ctx, m.Name, m.Description)
	if err != nil {
		return fmt.Errorf("failed to create workflow: %v", err)
	}
	fmt.Printf("✓ Workflow created: %s (ID: %d)\n", wf.Name, wf.ID)

	fileIDs := make(map[string]int64)
	for _, f := range m.Files {
		created, err := c.CreateFile(ctx, wf.ID, f.Name, f.Path)
		if err != nil {
			return fmt.Errorf("failed to create file %q: %v", f.Name, err)
		}
		fileIDs[f.Name] = created.ID
		fmt.Printf("✓ File: %s (ID: %d)\n", f.Name, created.ID)
	}

	userDataIDs := make(map[string]int64)
	for _, u := range m.UserData {
		payload, err := toJSON(u.Data)
		if err != nil {
			return fmt.Errorf("failed to encode user data %q: %v", u.Name, err)
		}
		created, err := c.CreateUserData(ctx, wf.ID, u.Name, payload)
		if err != nil {
			return fmt.Errorf("failed to create user data %q: %v", u.Name, err)
		}
		userDataIDs[u.Name] = created.ID
		fmt.Printf("✓ User data: %s (ID: %d)\n", u.Name, created.ID)
	}

	rrIDs := make(map[string]int64)
	for _, r := range m.ResourceRequirements {
		created, err := c.CreateResourceRequirements(ctx, wf.ID, &types.ResourceRequirements{
			Name:     r.Name,
			NumCPUs:  r.NumCPUs,
			NumGPUs:  r.NumGPUs,
			NumNodes: r.NumNodes,
			Memory:   r.Memory,
			Runtime:  r.Runtime,
		})
		if err != nil {
			return fmt.Errorf("failed to create resource requirements %q: %v", r.Name, err)
		}
		rrIDs[r.Name] = created.ID
		fmt.Printf("✓ Resource requirements: %s (ID: %d)\n", r.Name, created.ID)
	}

	// Jobs reference schedulers by bare name, so a name may not be
	// reused across the slurm and local sections.
	schedulerIDs := make(map[string]int64)
	for _, s := range m.SlurmSchedulers {
		if _, dup := schedulerIDs[s.Name]; dup {
			return fmt.Errorf("duplicate scheduler name %q", s.Name)
		}
		created, err := c.CreateSlurmScheduler(ctx, wf.ID, &types.SlurmScheduler{
			Name:      s.Name,
			Account:   s.Account,
			Partition: s.Partition,
			QOS:       s.QOS,
			Walltime:  s.Walltime,
			Nodes:     s.Nodes,
			Mem:       s.Mem,
			Gres:      s.Gres,
			Tmp:       s.Tmp,
			ExtraArgs: s.ExtraArgs,
		})
		if err != nil {
			return fmt.Errorf("failed to create slurm scheduler %q: %v", s.Name, err)
		}
		schedulerIDs[s.Name] = created.ID
		fmt.Printf("✓ Slurm scheduler: %s (ID: %d)\n", s.Name, created.ID)
	}
	for _, s := range m.LocalSchedulers {
		if _, dup := schedulerIDs[s.Name]; dup {
			return fmt.Errorf("duplicate scheduler name %q", s.Name)
		}
		created, err := c.CreateLocalScheduler(ctx, wf.ID, &types.LocalScheduler{
			Name:            s.Name,
			MaxParallelJobs: s.MaxParallelJobs,
		})
		if err != nil {
			return fmt.Errorf("failed to create local scheduler %q: %v", s.Name, err)
		}
		schedulerIDs[s.Name] = created.ID
		fmt.Printf("✓ Local scheduler: %s (ID: %d)\n", s.Name, created.ID)
	}

	for _, a := range m.Actions {
		payload, err := toJSON(a.Payload)
		if err != nil {
			return fmt.Errorf("failed to encode action %q payload: %v", a.Name, err)
		}
		created, err := c.CreateWorkflowAction(ctx, wf.ID, &types.WorkflowAction{
			Name:    a.Name,
			Trigger: types.ActionTrigger(a.Trigger),
			Payload: payload,
		})
		if err != nil {
			return fmt.Errorf("failed to create action %q: %v", a.Name, err)
		}
		fmt.Printf("✓ Action: %s (ID: %d)\n", a.Name, created.ID)
	}

	jobIDs := make(map[string]int64)
	for _, j := range m.Jobs {
		spec := &client.JobSpec{
			Name:                       j.Name,
			Command:                    j.Command,
			Priority:                   j.Priority,
			CancelOnBlockingJobFailure: j.CancelOnFailure,
			SupportsTermination:        j.SupportsTermination,
		}
		for _, dep := range j.DependsOn {
			id, ok := jobIDs[dep]
			if !ok {
				return fmt.Errorf("job %q depends on %q, which is not defined earlier in the manifest", j.Name, dep)
			}
			spec.DependsOnJobIDs = append(spec.DependsOnJobIDs, id)
		}
		if spec.InputFileIDs, err = resolveNames(fileIDs, j.InputFiles, "file"); err != nil {
			return fmt.Errorf("job %q: %v", j.Name, err)
		}
		if spec.OutputFileIDs, err = resolveNames(fileIDs, j.OutputFiles, "file"); err != nil {
			return fmt.Errorf("job %q: %v", j.Name, err)
		}
		if spec.InputUserDataIDs, err = resolveNames(userDataIDs, j.InputUserData, "user data"); err != nil {
			return fmt.Errorf("job %q: %v", j.Name, err)
		}
		if spec.OutputUserDataIDs, err = resolveNames(userDataIDs, j.OutputUserData, "user data"); err != nil {
			return fmt.Errorf("job %q: %v", j.Name, err)
		}
		if j.ResourceRequirements != "" {
			id, ok := rrIDs[j.ResourceRequirements]
			if !ok {
				return fmt.Errorf("job %q references unknown resource requirements %q", j.Name, j.ResourceRequirements)
			}
			spec.ResourceRequirementsID = id
		}
		if j.Scheduler != "" {
			id, ok := schedulerIDs[j.Scheduler]
			if !ok {
				return fmt.Errorf("job %q references unknown scheduler %q", j.Name, j.Scheduler)
			}
			spec.SchedulerID = id
		}

		created, err := c.CreateJob(ctx, wf.ID, spec)
		if err != nil {
			return fmt.Errorf("failed to create job %q: %v", j.Name, err)
		}
		jobIDs[j.Name] = created.ID
		fmt.Printf("✓ Job: %s (ID: %d)\n", j.Name, created.ID)
	}

	if initialize {
		res, err := c.InitializeWorkflow(ctx, wf.ID)
		if err != nil {
			return fmt.Errorf("failed to initialize workflow: %v", err)
		}
		fmt.Printf("✓ Initialized: %d ready, %d blocked (run %d)\n",
			res.ReadyJobs, res.BlockedJobs, res.RunID)
	}

	fmt.Println()
	fmt.Printf("Workflow %d ready. Next steps:\n", wf.ID)
	if !initialize {
		fmt.Printf("  torc workflow initialize %d\n", wf.ID)
	}
	fmt.Printf("  torc job list %d\n", wf.ID)
	return nil
}

func resolveNames(ids map[string]int64, names []string, kind string) ([]int64, error) {
	if len(names) == 0 {
		return nil, nil
	}
	out := make([]int64, 0, len(names))
	for _, name := range names {
		id, ok := ids[name]
		if !ok {
			return nil, fmt.Errorf("references unknown %s %q", kind, name)
		}
		out = append(out, id)
	}
	return out, nil
}

func toJSON(v interface{}) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return data, nil
}
