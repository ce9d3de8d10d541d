// Command cli is a thin client for the processing API.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"video-batch-processor/internal/config"
	"video-batch-processor/internal/models"
)

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: cli <command> [flags]

Commands:
  create     submit a job (-op, -input or -inputs, -output, -params)
  profile    submit a job from a named profile (-name, -input)
  workflow   submit every step of a workflow (-name, -input)
  status     show one job (cli status <job-id>)
  list       list jobs (-status filter)
  watch      poll a job until it finishes (cli watch <job-id>)
  cancel     request cancellation (cli cancel <job-id>)
  delete     remove a finished job record (cli delete <job-id>)
  profiles   list available profiles
  workflows  list available workflows
  stats      show service statistics

The API base URL comes from -api, then VIDEO_API_URL, then
http://localhost:8000.`)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "create":
		err = cmdCreate(args)
	case "profile":
		err = cmdProfile(args)
	case "workflow":
		err = cmdWorkflow(args)
	case "status":
		err = cmdStatus(args)
	case "list":
		err = cmdList(args)
	case "watch":
		err = cmdWatch(args)
	case "cancel":
		err = cmdCancel(args)
	case "delete":
		err = cmdDelete(args)
	case "profiles":
		err = cmdProfiles(args)
	case "workflows":
		err = cmdWorkflows(args)
	case "stats":
		err = cmdStats(args)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func defaultAPI() string {
	if v := os.Getenv("VIDEO_API_URL"); v != "" {
		return v
	}
	return "http://localhost:8000"
}

type client struct {
	base string
	http *http.Client
}

func newClient(base string) *client {
	return &client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *client) do(method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func (c *client) get(path string, out any) error {
	return c.do(http.MethodGet, path, nil, out)
}

func (c *client) post(path string, body, out any) error {
	return c.do(http.MethodPost, path, body, out)
}

type submitResult struct {
	JobID  string        `json:"job_id"`
	Status models.Status `json:"status"`
}

func cmdCreate(args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	apiURL := fs.String("api", defaultAPI(), "API base URL")
	op := fs.String("op", "", "operation to run")
	input := fs.String("input", "", "input file")
	inputs := fs.String("inputs", "", "comma-separated inputs for concatenate_videos")
	output := fs.String("output", "", "output file")
	params := fs.String("params", "", "operation parameters as JSON")
	fs.Parse(args)

	if *op == "" {
		return errors.New("-op is required")
	}
	body := map[string]any{"operation": *op}
	if *input != "" {
		body["input_file"] = *input
	}
	if *inputs != "" {
		body["input_files"] = strings.Split(*inputs, ",")
	}
	if *output != "" {
		body["output_file"] = *output
	}
	if *params != "" {
		var m map[string]any
		if err := json.Unmarshal([]byte(*params), &m); err != nil {
			return fmt.Errorf("parse -params: %w", err)
		}
		body["parameters"] = m
	}

	var resp submitResult
	if err := newClient(*apiURL).post("/jobs/", body, &resp); err != nil {
		return err
	}
	fmt.Printf("job %s %s\n", resp.JobID, resp.Status)
	return nil
}

func cmdProfile(args []string) error {
	fs := flag.NewFlagSet("profile", flag.ExitOnError)
	apiURL := fs.String("api", defaultAPI(), "API base URL")
	name := fs.String("name", "", "profile name")
	input := fs.String("input", "", "input file")
	output := fs.String("output", "", "output file")
	fs.Parse(args)

	if *name == "" {
		return errors.New("-name is required")
	}
	body := map[string]any{"profile": *name, "input_file": *input}
	if *output != "" {
		body["output_file"] = *output
	}

	var resp submitResult
	if err := newClient(*apiURL).post("/jobs/profile", body, &resp); err != nil {
		return err
	}
	fmt.Printf("job %s %s\n", resp.JobID, resp.Status)
	return nil
}

func cmdWorkflow(args []string) error {
	fs := flag.NewFlagSet("workflow", flag.ExitOnError)
	apiURL := fs.String("api", defaultAPI(), "API base URL")
	name := fs.String("name", "", "workflow name")
	input := fs.String("input", "", "input file")
	fs.Parse(args)

	if *name == "" {
		return errors.New("-name is required")
	}
	var resp struct {
		Workflow string         `json:"workflow"`
		Jobs     []submitResult `json:"jobs"`
	}
	err := newClient(*apiURL).post("/jobs/workflow", map[string]any{
		"workflow":   *name,
		"input_file": *input,
	}, &resp)
	if err != nil {
		return err
	}
	fmt.Printf("workflow %s: %d jobs\n", resp.Workflow, len(resp.Jobs))
	for _, j := range resp.Jobs {
		fmt.Printf("  job %s %s\n", j.JobID, j.Status)
	}
	return nil
}

func jobID(fs *flag.FlagSet) (string, error) {
	if fs.NArg() != 1 {
		return "", errors.New("exactly one job id expected")
	}
	return fs.Arg(0), nil
}

func printJob(job models.Job) {
	fmt.Printf("id:         %s\n", job.ID)
	fmt.Printf("operation:  %s\n", job.Operation)
	fmt.Printf("status:     %s\n", job.Status)
	fmt.Printf("progress:   %.1f%%\n", job.Progress*100)
	if job.Message != "" {
		fmt.Printf("message:    %s\n", job.Message)
	}
	if job.Error != "" {
		fmt.Printf("error:      %s\n", job.Error)
	}
	if job.Result != nil {
		fmt.Printf("output:     %s\n", job.Result.StoredAt)
		fmt.Printf("took:       %.1fs\n", job.Result.ProcessingSeconds)
	}
}

func cmdStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	apiURL := fs.String("api", defaultAPI(), "API base URL")
	fs.Parse(args)
	id, err := jobID(fs)
	if err != nil {
		return err
	}

	var job models.Job
	if err := newClient(*apiURL).get("/jobs/"+id, &job); err != nil {
		return err
	}
	printJob(job)
	return nil
}

func cmdList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	apiURL := fs.String("api", defaultAPI(), "API base URL")
	status := fs.String("status", "", "filter by status")
	fs.Parse(args)

	path := "/jobs/"
	if *status != "" {
		path += "?status=" + *status
	}
	var resp struct {
		Jobs  []models.Job `json:"jobs"`
		Count int          `json:"count"`
	}
	if err := newClient(*apiURL).get(path, &resp); err != nil {
		return err
	}
	for _, job := range resp.Jobs {
		fmt.Printf("%s  %-20s %-10s %5.1f%%\n", job.ID, job.Operation, job.Status, job.Progress*100)
	}
	fmt.Printf("%d jobs\n", resp.Count)
	return nil
}

func cmdWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	apiURL := fs.String("api", defaultAPI(), "API base URL")
	fs.Parse(args)
	id, err := jobID(fs)
	if err != nil {
		return err
	}

	c := newClient(*apiURL)
	for {
		var job models.Job
		if err := c.get("/jobs/"+id, &job); err != nil {
			return err
		}
		fmt.Printf("\r%-10s %5.1f%%  %-30s", job.Status, job.Progress*100, job.Message)
		if job.Status.Terminal() {
			fmt.Println()
			if job.Status == models.StatusFailed {
				return errors.New(job.Error)
			}
			if job.Result != nil {
				fmt.Printf("output: %s\n", job.Result.StoredAt)
			}
			return nil
		}
		time.Sleep(time.Second)
	}
}

func cmdCancel(args []string) error {
	fs := flag.NewFlagSet("cancel", flag.ExitOnError)
	apiURL := fs.String("api", defaultAPI(), "API base URL")
	fs.Parse(args)
	id, err := jobID(fs)
	if err != nil {
		return err
	}

	var resp struct {
		Job       models.Job `json:"job"`
		Cancelled bool       `json:"cancelled"`
		Note      string     `json:"note"`
	}
	if err := newClient(*apiURL).post("/jobs/"+id+"/cancel", nil, &resp); err != nil {
		return err
	}
	if resp.Note != "" {
		fmt.Printf("job %s %s (%s)\n", resp.Job.ID, resp.Job.Status, resp.Note)
	} else {
		fmt.Printf("job %s cancellation requested\n", resp.Job.ID)
	}
	return nil
}

func cmdDelete(args []string) error {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	apiURL := fs.String("api", defaultAPI(), "API base URL")
	fs.Parse(args)
	id, err := jobID(fs)
	if err != nil {
		return err
	}

	if err := newClient(*apiURL).do(http.MethodDelete, "/jobs/"+id, nil, nil); err != nil {
		return err
	}
	fmt.Printf("job %s deleted\n", id)
	return nil
}

func cmdProfiles(args []string) error {
	fs := flag.NewFlagSet("profiles", flag.ExitOnError)
	apiURL := fs.String("api", defaultAPI(), "API base URL")
	fs.Parse(args)

	var resp struct {
		Profiles map[string]config.Profile `json:"profiles"`
	}
	if err := newClient(*apiURL).get("/profiles/", &resp); err != nil {
		return err
	}
	names := make([]string, 0, len(resp.Profiles))
	for name := range resp.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p := resp.Profiles[name]
		fmt.Printf("%-20s %-20s %s\n", name, p.Operation, p.Description)
	}
	return nil
}

func cmdWorkflows(args []string) error {
	fs := flag.NewFlagSet("workflows", flag.ExitOnError)
	apiURL := fs.String("api", defaultAPI(), "API base URL")
	fs.Parse(args)

	var resp struct {
		Workflows map[string]config.Workflow `json:"workflows"`
	}
	if err := newClient(*apiURL).get("/workflows/", &resp); err != nil {
		return err
	}
	names := make([]string, 0, len(resp.Workflows))
	for name := range resp.Workflows {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		w := resp.Workflows[name]
		steps := make([]string, 0, len(w.Jobs))
		for _, j := range w.Jobs {
			steps = append(steps, j.Profile)
		}
		fmt.Printf("%-20s %-40s %s\n", name, strings.Join(steps, " -> "), w.Description)
	}
	return nil
}

func cmdStats(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	apiURL := fs.String("api", defaultAPI(), "API base URL")
	fs.Parse(args)

	var resp struct {
		TotalJobs     int            `json:"total_jobs"`
		StatusCounts  map[string]int `json:"status_counts"`
		QueueSize     int            `json:"queue_size"`
		ActiveWorkers int            `json:"active_workers"`
		MaxWorkers    int            `json:"max_workers"`
		Profiles      int            `json:"profiles"`
		Workflows     int            `json:"workflows"`
	}
	if err := newClient(*apiURL).get("/stats", &resp); err != nil {
		return err
	}
	fmt.Printf("jobs:       %d\n", resp.TotalJobs)
	statuses := make([]string, 0, len(resp.StatusCounts))
	for s := range resp.StatusCounts {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		fmt.Printf("  %-11s %d\n", s, resp.StatusCounts[s])
	}
	fmt.Printf("queued:     %d\n", resp.QueueSize)
	fmt.Printf("active:     %d/%d workers\n", resp.ActiveWorkers, resp.MaxWorkers)
	fmt.Printf("profiles:   %d\n", resp.Profiles)
	fmt.Printf("workflows:  %d\n", resp.Workflows)
	return nil
}
