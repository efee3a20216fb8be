// starqctl manages queues and jobs on a running Starq server.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

type client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func (c *client) request(method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
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
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%d %s", resp.StatusCode, string(raw))
	}
	if out != nil {
		return json.Unmarshal(raw, out)
	}
	return nil
}

func printJSON(v any) {
	encoded, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(encoded))
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: starqctl [-url URL] [-api-key KEY] COMMAND [args]

Commands:
  health                          check API health
  queues                          list all queues
  create NAME [-d DESC] [-dedupe] create a queue
  info NAME                       queue details + stats
  delete NAME                     delete a queue
  submit FILE -q QUEUE [-b N]     submit a JSONL file (- for stdin)
  jobs QUEUE [-s STATUS] [-n N]   list jobs in a queue
  claim QUEUE [-n N]              claim jobs from a queue
  complete QUEUE JOB_ID [-r JSON] mark a job completed
  fail QUEUE JOB_ID [-e MSG]      mark a job failed`)
	os.Exit(2)
}

func main() {
	baseURL := flag.String("url", "http://localhost:8000", "API base URL")
	apiKey := flag.String("api-key", "", "API key for write operations")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
	}

	c := &client{baseURL: *baseURL, apiKey: *apiKey, http: &http.Client{Timeout: 30 * time.Second}}

	switch args[0] {
	case "health":
		cmdHealth(c)
	case "queues":
		cmdQueues(c)
	case "create":
		cmdCreate(c, args[1:])
	case "info":
		cmdInfo(c, args[1:])
	case "delete":
		cmdDelete(c, args[1:])
	case "submit":
		cmdSubmit(c, args[1:])
	case "jobs":
		cmdJobs(c, args[1:])
	case "claim":
		cmdClaim(c, args[1:])
	case "complete":
		cmdComplete(c, args[1:])
	case "fail":
		cmdFail(c, args[1:])
	default:
		usage()
	}
}

func cmdHealth(c *client) {
	var out map[string]any
	if err := c.request("GET", "/api/health", nil, &out); err != nil {
		fatal("%v", err)
	}
	printJSON(out)
}

func cmdQueues(c *client) {
	var out struct {
		Queues []map[string]any `json:"queues"`
	}
	if err := c.request("GET", "/api/v1/queues", nil, &out); err != nil {
		fatal("%v", err)
	}
	if len(out.Queues) == 0 {
		fmt.Println("No queues")
		return
	}
	for _, q := range out.Queues {
		fmt.Printf("  %-20v  pending=%v  completed=%v  failed=%v\n",
			q["name"], q["pending"], q["completed"], q["failed"])
	}
}

func cmdCreate(c *client, args []string) {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	description := fs.String("d", "", "queue description")
	dedupe := fs.Bool("dedupe", false, "reject jobs with duplicate payloads")
	name, rest := popArg(args)
	_ = fs.Parse(rest)
	if name == "" {
		fatal("create requires a queue name")
	}

	body := map[string]any{"name": name}
	if *description != "" {
		body["description"] = *description
	}
	if *dedupe {
		body["dedupe"] = true
	}

	var out map[string]any
	if err := c.request("POST", "/api/v1/queues", body, &out); err != nil {
		fatal("%v", err)
	}
	printJSON(out)
}

func cmdInfo(c *client, args []string) {
	name, _ := popArg(args)
	if name == "" {
		fatal("info requires a queue name")
	}
	var out map[string]any
	if err := c.request("GET", "/api/v1/queues/"+name, nil, &out); err != nil {
		fatal("%v", err)
	}
	printJSON(out)
}

func cmdDelete(c *client, args []string) {
	name, _ := popArg(args)
	if name == "" {
		fatal("delete requires a queue name")
	}
	var out map[string]any
	if err := c.request("DELETE", "/api/v1/queues/"+name, nil, &out); err != nil {
		fatal("%v", err)
	}
	printJSON(out)
}

// cmdSubmit reads one JSON payload per line and submits them in batches.
func cmdSubmit(c *client, args []string) {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	queueName := fs.String("q", "", "queue name")
	batchSize := fs.Int("b", 100, "jobs per request")
	file, rest := popArg(args)
	_ = fs.Parse(rest)
	if file == "" || *queueName == "" {
		fatal("submit requires a file and -q QUEUE")
	}

	var in io.Reader
	if file == "-" {
		in = os.Stdin
	} else {
		f, err := os.Open(file)
		if err != nil {
			fatal("%v", err)
		}
		defer f.Close()
		in = f
	}

	var payloads []map[string]any
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var payload map[string]any
		if err := json.Unmarshal(line, &payload); err != nil {
			fatal("bad JSON on line %d: %v", lineNo, err)
		}
		payloads = append(payloads, payload)
	}
	if err := scanner.Err(); err != nil {
		fatal("%v", err)
	}
	if len(payloads) == 0 {
		fmt.Fprintln(os.Stderr, "No jobs to submit")
		return
	}

	endpoint := "/api/v1/queues/" + *queueName + "/jobs"
	totalSubmitted := 0
	totalSkipped := 0

	for start := 0; start < len(payloads); start += *batchSize {
		end := min(start+*batchSize, len(payloads))
		jobs := make([]map[string]any, 0, end-start)
		for _, p := range payloads[start:end] {
			jobs = append(jobs, map[string]any{"payload": p})
		}

		var out struct {
			Submitted int `json:"submitted"`
			Skipped   int `json:"skipped"`
		}
		if err := c.request("POST", endpoint, map[string]any{"jobs": jobs}, &out); err != nil {
			fatal("%v", err)
		}
		totalSubmitted += out.Submitted
		totalSkipped += out.Skipped
		fmt.Printf("  processed %d/%d\n", totalSubmitted+totalSkipped, len(payloads))
	}

	msg := fmt.Sprintf("Done — %d jobs submitted to '%s'", totalSubmitted, *queueName)
	if totalSkipped > 0 {
		msg += fmt.Sprintf(" (%d skipped as duplicates)", totalSkipped)
	}
	fmt.Println(msg)
}

func cmdJobs(c *client, args []string) {
	fs := flag.NewFlagSet("jobs", flag.ExitOnError)
	status := fs.String("s", "", "filter by status")
	count := fs.Int("n", 0, "max jobs to return")
	queueName, rest := popArg(args)
	_ = fs.Parse(rest)
	if queueName == "" {
		fatal("jobs requires a queue name")
	}

	path := "/api/v1/queues/" + queueName + "/jobs"
	sep := "?"
	if *status != "" {
		path += sep + "status=" + *status
		sep = "&"
	}
	if *count > 0 {
		path += sep + fmt.Sprintf("count=%d", *count)
	}

	var out struct {
		Jobs    []map[string]any `json:"jobs"`
		Cursor  string           `json:"cursor"`
		HasMore bool             `json:"has_more"`
	}
	if err := c.request("GET", path, nil, &out); err != nil {
		fatal("%v", err)
	}
	if len(out.Jobs) == 0 {
		fmt.Println("No jobs")
		return
	}
	for _, j := range out.Jobs {
		payload, _ := json.Marshal(j["payload"])
		display := string(payload)
		if len(display) > 60 {
			display = display[:57] + "..."
		}
		fmt.Printf("  %-20v  %-10v  %s\n", j["id"], j["status"], display)
	}
	if out.HasMore {
		fmt.Printf("  ... more available (cursor: %s)\n", out.Cursor)
	}
}

func cmdClaim(c *client, args []string) {
	fs := flag.NewFlagSet("claim", flag.ExitOnError)
	count := fs.Int("n", 1, "number of jobs to claim")
	queueName, rest := popArg(args)
	_ = fs.Parse(rest)
	if queueName == "" {
		fatal("claim requires a queue name")
	}

	var out struct {
		Jobs []map[string]any `json:"jobs"`
	}
	err := c.request("POST", "/api/v1/queues/"+queueName+"/jobs/claim",
		map[string]any{"count": *count}, &out)
	if err != nil {
		fatal("%v", err)
	}
	if len(out.Jobs) == 0 {
		fmt.Println("No jobs to claim")
		return
	}
	for _, j := range out.Jobs {
		payload, _ := json.Marshal(j["payload"])
		fmt.Printf("  claimed %v  payload=%s\n", j["id"], payload)
	}
}

func cmdComplete(c *client, args []string) {
	fs := flag.NewFlagSet("complete", flag.ExitOnError)
	result := fs.String("r", "", "result JSON")
	queueName, rest := popArg(args)
	jobID, rest := popArg(rest)
	_ = fs.Parse(rest)
	if queueName == "" || jobID == "" {
		fatal("complete requires a queue name and job ID")
	}

	body := map[string]any{}
	if *result != "" {
		var parsed map[string]any
		if err := json.Unmarshal([]byte(*result), &parsed); err != nil {
			fatal("bad result JSON: %v", err)
		}
		body["result"] = parsed
	}

	var out map[string]any
	err := c.request("PUT", "/api/v1/queues/"+queueName+"/jobs/"+jobID+"/complete", body, &out)
	if err != nil {
		fatal("%v", err)
	}
	printJSON(out)
}

func cmdFail(c *client, args []string) {
	fs := flag.NewFlagSet("fail", flag.ExitOnError)
	errMsg := fs.String("e", "", "error message")
	queueName, rest := popArg(args)
	jobID, rest := popArg(rest)
	_ = fs.Parse(rest)
	if queueName == "" || jobID == "" {
		fatal("fail requires a queue name and job ID")
	}

	var out map[string]any
	err := c.request("PUT", "/api/v1/queues/"+queueName+"/jobs/"+jobID+"/fail",
		map[string]any{"error": *errMsg}, &out)
	if err != nil {
		fatal("%v", err)
	}
	printJSON(out)
}

func popArg(args []string) (string, []string) {
	if len(args) == 0 {
		return "", nil
	}
	return args[0], args[1:]
}
