package cli

// This file contains the commands that list and edit backend resources.

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/husmancristian/TA_CONSOLE/pkg/models"
	"github.com/husmancristian/TA_CONSOLE/pkg/presets"
	"github.com/husmancristian/TA_CONSOLE/pkg/runview"
	"github.com/husmancristian/TA_CONSOLE/pkg/tui"

	"github.com/urfave/cli/v2"
)

func testCaseCommand(app *App) *cli.Command {
	return &cli.Command{
		Name:    "test-cases",
		Aliases: []string{"tc"},
		Usage:   "Manage test cases",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List test cases",
				Action: app.listTestCases,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "project",
						Usage: "Only list test cases of this project id",
					},
				},
			},
			{
				Name:      "get",
				Usage:     "Print one test case as JSON",
				ArgsUsage: "ID",
				Action:    app.getTestCase,
			},
			{
				Name:      "delete",
				Usage:     "Delete a test case",
				ArgsUsage: "ID",
				Action:    app.deleteTestCase,
			},
			{
				Name:   "create",
				Usage:  "Create a test case",
				Action: app.createTestCase,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Usage: "Test case name", Required: true},
					&cli.StringFlag{Name: "goal", Usage: "What the agent should achieve", Required: true},
					&cli.StringFlag{Name: "description", Usage: "Free text description"},
					&cli.StringFlag{Name: "browser-config", Usage: "Browser config id"},
					&cli.StringFlag{Name: "project", Usage: "Project id"},
				},
			},
		},
	}
}

func browserConfigCommand(app *App) *cli.Command {
	return &cli.Command{
		Name:    "browser-configs",
		Aliases: []string{"bc"},
		Usage:   "Manage browser configs",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List browser configs",
				Action: app.listBrowserConfigs,
			},
			{
				Name:      "import",
				Usage:     "Create browser configs from a YAML presets file",
				ArgsUsage: "FILE",
				Action:    app.importBrowserConfigs,
			},
		},
	}
}

func runsCommand(app *App) *cli.Command {
	return &cli.Command{
		Name:  "runs",
		Usage: "Inspect test runs",
		Subcommands: []*cli.Command{
			{
				Name:      "list",
				Usage:     "List the runs of a test case",
				ArgsUsage: "TEST_CASE_ID",
				Action:    app.listRuns,
			},
			{
				Name:      "view",
				Usage:     "Print the current state of a run once",
				ArgsUsage: "RUN_ID",
				Action:    app.viewRun,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "json", Usage: "Print the run view as JSON"},
				},
			},
		},
	}
}

func (a *App) listTestCases(c *cli.Context) error {
	client, err := a.backendClient()
	if err != nil {
		return err
	}
	cases, err := client.ListTestCases(c.Context, c.String("project"))
	if err != nil {
		return err
	}
	if len(cases) == 0 {
		fmt.Fprintln(a.out, "No test cases found")
		return nil
	}
	return table(a.out, []string{"ID", "NAME", "PROJECT", "GOAL"}, func(row func(...string)) {
		for _, tc := range cases {
			row(tc.ID, tc.Name, tc.ProjectID, truncate(tc.Goal, 60))
		}
	})
}

func (a *App) getTestCase(c *cli.Context) error {
	id, err := requireArg(c, "ID")
	if err != nil {
		return err
	}
	client, err := a.backendClient()
	if err != nil {
		return err
	}
	tc, err := client.GetTestCase(c.Context, id)
	if err != nil {
		return err
	}
	return printJSON(a.out, tc)
}

func (a *App) deleteTestCase(c *cli.Context) error {
	id, err := requireArg(c, "ID")
	if err != nil {
		return err
	}
	client, err := a.backendClient()
	if err != nil {
		return err
	}
	if err := client.DeleteTestCase(c.Context, id); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Deleted test case %s\n", id)
	return nil
}

func (a *App) createTestCase(c *cli.Context) error {
	tc := &models.TestCase{
		Name:            c.String("name"),
		Goal:            c.String("goal"),
		Description:     c.String("description"),
		BrowserConfigID: c.String("browser-config"),
		ProjectID:       c.String("project"),
	}
	if err := tc.Validate(); err != nil {
		return err
	}
	client, err := a.backendClient()
	if err != nil {
		return err
	}
	created, err := client.CreateTestCase(c.Context, tc)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Created test case %s\n", created.ID)
	return nil
}

func (a *App) listBrowserConfigs(c *cli.Context) error {
	client, err := a.backendClient()
	if err != nil {
		return err
	}
	configs, err := client.ListBrowserConfigs(c.Context)
	if err != nil {
		return err
	}
	if len(configs) == 0 {
		fmt.Fprintln(a.out, "No browser configs found")
		return nil
	}
	return table(a.out, []string{"ID", "NAME", "BROWSER", "VIEWPORT"}, func(row func(...string)) {
		for _, bc := range configs {
			viewport := "-"
			if bc.Viewport != nil {
				viewport = fmt.Sprintf("%dx%d", bc.Viewport.Width, bc.Viewport.Height)
			}
			row(bc.ID, bc.Name, runview.BrowserName(bc.UserAgent), viewport)
		}
	})
}

// importBrowserConfigs validates the whole file before creating anything.
func (a *App) importBrowserConfigs(c *cli.Context) error {
	path, err := requireArg(c, "FILE")
	if err != nil {
		return err
	}
	configs, err := presets.Load(path)
	if err != nil {
		return err
	}
	client, err := a.backendClient()
	if err != nil {
		return err
	}
	for i := range configs {
		created, err := client.CreateBrowserConfig(c.Context, &configs[i])
		if err != nil {
			return fmt.Errorf("failed to create browser config %q: %w", configs[i].Name, err)
		}
		fmt.Fprintf(a.out, "Created browser config %s (%s)\n", created.Name, created.ID)
	}
	return nil
}

func (a *App) listSecrets(c *cli.Context) error {
	client, err := a.backendClient()
	if err != nil {
		return err
	}
	secrets, err := client.ListSecrets(c.Context)
	if err != nil {
		return err
	}
	if len(secrets) == 0 {
		fmt.Fprintln(a.out, "No secrets found")
		return nil
	}
	return table(a.out, []string{"ID", "NAME", "VALUE", "DESCRIPTION"}, func(row func(...string)) {
		for _, s := range secrets {
			s = s.Masked()
			row(s.ID, s.Name, s.Value, truncate(s.Description, 60))
		}
	})
}

func (a *App) listProjects(c *cli.Context) error {
	client, err := a.backendClient()
	if err != nil {
		return err
	}
	projects, err := client.ListProjects(c.Context)
	if err != nil {
		return err
	}
	if len(projects) == 0 {
		fmt.Fprintln(a.out, "No projects found")
		return nil
	}
	return table(a.out, []string{"ID", "NAME", "DESCRIPTION"}, func(row func(...string)) {
		for _, p := range projects {
			row(p.ID, p.Name, truncate(p.Description, 60))
		}
	})
}

func (a *App) listRuns(c *cli.Context) error {
	testCaseID, err := requireArg(c, "TEST_CASE_ID")
	if err != nil {
		return err
	}
	client, err := a.backendClient()
	if err != nil {
		return err
	}
	runs, err := client.ListTestRuns(c.Context, testCaseID)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(a.out, "No runs found")
		return nil
	}
	return table(a.out, []string{"ID", "STATUS", "STARTED", "DURATION"}, func(row func(...string)) {
		for _, r := range runs {
			started := "-"
			if r.StartedAt.Valid() {
				started = r.StartedAt.Local().Format("2006-01-02 15:04:05")
			}
			row(r.ID, string(runview.ClassifyStatus(r.CurrentState)), started,
				tui.FormatDuration(runview.RunDuration(r.StartedAt, r.FinishedAt)))
		}
	})
}

func (a *App) viewRun(c *cli.Context) error {
	runID, err := requireArg(c, "RUN_ID")
	if err != nil {
		return err
	}
	client, err := a.backendClient()
	if err != nil {
		return err
	}
	run, err := client.GetTestRun(c.Context, runID)
	if err != nil {
		return err
	}
	view := runview.Transform(run)
	if c.Bool("json") {
		return printJSON(a.out, view)
	}
	printRunView(a.out, view)
	return nil
}

func printRunView(w io.Writer, view runview.RunView) {
	name := view.Name
	if name == "" {
		name = "Test run"
	}
	fmt.Fprintf(w, "%s [%s] %s\n", name, strings.ToUpper(string(view.Status)), view.ID)
	if view.Goal != "" {
		fmt.Fprintf(w, "Goal: %s\n", view.Goal)
	}
	fmt.Fprintf(w, "Browser: %s  Viewport: %dx%d  Duration: %s\n",
		view.Browser, view.Viewport.Width, view.Viewport.Height, tui.FormatDuration(view.Duration))
	if view.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", view.Error)
	}
	fmt.Fprintf(w, "Steps: %d total, %d passed, %d failed\n", view.TotalSteps, view.PassedSteps, view.FailedSteps)
	for _, step := range view.Steps {
		fmt.Fprintf(w, "\n[%s] Step %d %s\n", step.Status, step.Number, step.Goal)
		for _, action := range step.Actions {
			detail := action.URL
			if action.IsSecret {
				detail = "secret " + action.InputText
			} else if action.InputText != "" {
				detail = fmt.Sprintf("%q", action.InputText)
			} else if action.ResultMessage != "" {
				detail = action.ResultMessage
			}
			fmt.Fprintf(w, "  %d. %s %s (%s)\n", action.Number, action.ActionType, detail, action.Status)
		}
	}
}

func table(w io.Writer, header []string, rows func(row func(...string))) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	rows(func(cols ...string) {
		fmt.Fprintln(tw, strings.Join(cols, "\t"))
	})
	return tw.Flush()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
