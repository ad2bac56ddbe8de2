package gitlab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"
	"strconv"

	"github.com/gabriel-vasile/mimetype"
)

// GetProject returns the configured project.
func (c *Client) GetProject(ctx context.Context) (*Project, error) {
	var p Project
	if err := c.getJSON(ctx, "/projects/"+c.projectPath(), nil, &p); err != nil {
		return nil, fmt.Errorf("failed to fetch project %s: %w", c.ProjectID, err)
	}
	return &p, nil
}

// ListLabels returns every label of the project.
func (c *Client) ListLabels(ctx context.Context) ([]Label, error) {
	return fetchAll[Label](ctx, c, "/projects/"+c.projectPath()+"/labels", nil)
}

// CreateLabel creates a project label. color is "#RRGGBB".
func (c *Client) CreateLabel(ctx context.Context, name, color, description string) (*Label, error) {
	body := map[string]string{"name": name, "color": color}
	if description != "" {
		body["description"] = description
	}
	var l Label
	if err := c.sendJSON(ctx, http.MethodPost, "/projects/"+c.projectPath()+"/labels", body, &l); err != nil {
		return nil, fmt.Errorf("failed to create label %q: %w", name, err)
	}
	return &l, nil
}

// ListMilestones returns every milestone of the project, active and closed.
func (c *Client) ListMilestones(ctx context.Context) ([]Milestone, error) {
	return fetchAll[Milestone](ctx, c, "/projects/"+c.projectPath()+"/milestones", nil)
}

// CreateMilestone creates a project milestone.
func (c *Client) CreateMilestone(ctx context.Context, opts CreateMilestoneOptions) (*Milestone, error) {
	var m Milestone
	if err := c.sendJSON(ctx, http.MethodPost, "/projects/"+c.projectPath()+"/milestones", opts, &m); err != nil {
		return nil, fmt.Errorf("failed to create milestone %q: %w", opts.Title, err)
	}
	return &m, nil
}

// UpdateMilestone updates a milestone, e.g. {"state_event": "close"}.
func (c *Client) UpdateMilestone(ctx context.Context, id int, updates map[string]interface{}) (*Milestone, error) {
	var m Milestone
	path := "/projects/" + c.projectPath() + "/milestones/" + strconv.Itoa(id)
	if err := c.sendJSON(ctx, http.MethodPut, path, updates, &m); err != nil {
		return nil, fmt.Errorf("failed to update milestone %d: %w", id, err)
	}
	return &m, nil
}

// UploadFile uploads a file to the project so it can be linked from
// markdown. The part's content type is sniffed from the data.
func (c *Client) UploadFile(ctx context.Context, name string, r io.Reader) (*Upload, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filepath.Base(name)))
	h.Set("Content-Type", mimetype.Detect(data).String())
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to build upload: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("failed to build upload: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to build upload: %w", err)
	}

	urlStr := c.buildURL("/projects/"+c.projectPath()+"/uploads", nil)
	body, _, err := c.send(ctx, http.MethodPost, urlStr, w.FormDataContentType(), buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to upload %s: %w", name, err)
	}
	var up Upload
	if err := json.Unmarshal(body, &up); err != nil {
		return nil, fmt.Errorf("failed to parse upload response: %w", err)
	}
	return &up, nil
}
