package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/husmancristian/TA_CONSOLE/pkg/models"
)

// GetTestRun fetches one run document.
func (c *Client) GetTestRun(ctx context.Context, id string) (*models.TestRun, error) {
	if id == "" {
		return nil, fmt.Errorf("test run id is required")
	}
	var run models.TestRun
	if err := c.do(ctx, http.MethodGet, pathFor("test-runs", id), nil, nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListTestRuns lists the runs of one test case, newest first as returned by the backend.
func (c *Client) ListTestRuns(ctx context.Context, testCaseID string) ([]models.RunSummary, error) {
	runs := []models.RunSummary{}
	if err := c.do(ctx, http.MethodGet, pathFor("test-cases", testCaseID, "runs"), nil, nil, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// RunTestCase asks the backend to execute a test case and returns the new run.
func (c *Client) RunTestCase(ctx context.Context, testCaseID string) (*models.TestRun, error) {
	var run models.TestRun
	if err := c.do(ctx, http.MethodPost, pathFor("test-cases", testCaseID, "run"), nil, nil, &run); err != nil {
		return nil, err
	}
	if run.ID == "" {
		return nil, fmt.Errorf("backend accepted run for test case %s but returned no run id", testCaseID)
	}
	return &run, nil
}

// --- Test cases ---

func (c *Client) ListTestCases(ctx context.Context, projectID string) ([]models.TestCase, error) {
	var query url.Values
	if projectID != "" {
		query = url.Values{"project_id": []string{projectID}}
	}
	items := []models.TestCase{}
	if err := c.do(ctx, http.MethodGet, pathFor("test-cases"), query, nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Client) GetTestCase(ctx context.Context, id string) (*models.TestCase, error) {
	var tc models.TestCase
	if err := c.do(ctx, http.MethodGet, pathFor("test-cases", id), nil, nil, &tc); err != nil {
		return nil, err
	}
	return &tc, nil
}

func (c *Client) CreateTestCase(ctx context.Context, tc *models.TestCase) (*models.TestCase, error) {
	var created models.TestCase
	if err := c.do(ctx, http.MethodPost, pathFor("test-cases"), nil, tc, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) UpdateTestCase(ctx context.Context, id string, tc *models.TestCase) (*models.TestCase, error) {
	var updated models.TestCase
	if err := c.do(ctx, http.MethodPut, pathFor("test-cases", id), nil, tc, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (c *Client) DeleteTestCase(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, pathFor("test-cases", id), nil, nil, nil)
}

// --- Browser configs ---

func (c *Client) ListBrowserConfigs(ctx context.Context) ([]models.BrowserConfig, error) {
	items := []models.BrowserConfig{}
	if err := c.do(ctx, http.MethodGet, pathFor("browser-configs"), nil, nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Client) GetBrowserConfig(ctx context.Context, id string) (*models.BrowserConfig, error) {
	var bc models.BrowserConfig
	if err := c.do(ctx, http.MethodGet, pathFor("browser-configs", id), nil, nil, &bc); err != nil {
		return nil, err
	}
	return &bc, nil
}

func (c *Client) CreateBrowserConfig(ctx context.Context, bc *models.BrowserConfig) (*models.BrowserConfig, error) {
	var created models.BrowserConfig
	if err := c.do(ctx, http.MethodPost, pathFor("browser-configs"), nil, bc, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) UpdateBrowserConfig(ctx context.Context, id string, bc *models.BrowserConfig) (*models.BrowserConfig, error) {
	var updated models.BrowserConfig
	if err := c.do(ctx, http.MethodPut, pathFor("browser-configs", id), nil, bc, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (c *Client) DeleteBrowserConfig(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, pathFor("browser-configs", id), nil, nil, nil)
}

// --- Secrets ---

func (c *Client) ListSecrets(ctx context.Context) ([]models.Secret, error) {
	items := []models.Secret{}
	if err := c.do(ctx, http.MethodGet, pathFor("secrets"), nil, nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Client) GetSecret(ctx context.Context, id string) (*models.Secret, error) {
	var s models.Secret
	if err := c.do(ctx, http.MethodGet, pathFor("secrets", id), nil, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) CreateSecret(ctx context.Context, s *models.Secret) (*models.Secret, error) {
	var created models.Secret
	if err := c.do(ctx, http.MethodPost, pathFor("secrets"), nil, s, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) UpdateSecret(ctx context.Context, id string, s *models.Secret) (*models.Secret, error) {
	var updated models.Secret
	if err := c.do(ctx, http.MethodPut, pathFor("secrets", id), nil, s, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (c *Client) DeleteSecret(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, pathFor("secrets", id), nil, nil, nil)
}

// --- Projects ---

func (c *Client) ListProjects(ctx context.Context) ([]models.Project, error) {
	items := []models.Project{}
	if err := c.do(ctx, http.MethodGet, pathFor("projects"), nil, nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Client) GetProject(ctx context.Context, id string) (*models.Project, error) {
	var p models.Project
	if err := c.do(ctx, http.MethodGet, pathFor("projects", id), nil, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) CreateProject(ctx context.Context, p *models.Project) (*models.Project, error) {
	var created models.Project
	if err := c.do(ctx, http.MethodPost, pathFor("projects"), nil, p, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) UpdateProject(ctx context.Context, id string, p *models.Project) (*models.Project, error) {
	var updated models.Project
	if err := c.do(ctx, http.MethodPut, pathFor("projects", id), nil, p, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (c *Client) DeleteProject(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, pathFor("projects", id), nil, nil, nil)
}
