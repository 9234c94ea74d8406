// Package servicenow is the REST table-API client for the ticketing system:
// caller and CI lookups during enrichment, incident updates and work notes
// during execution, and the closed-incident / KB queries the weekly
// back-sync runs on.
package servicenow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/maniltns/AEGIS/internal/circuitbreaker"
	"github.com/maniltns/AEGIS/internal/incident"
)

// ClosedIncident is one closed ticket pulled by the back-sync.
type ClosedIncident struct {
	Number           string `json:"number"`
	ShortDescription string `json:"short_description"`
	Description      string `json:"description"`
	CloseNotes       string `json:"close_notes"`
	ClosedAt         string `json:"closed_at"`
	ResolutionCode   string `json:"resolution_code"`
}

// KBRecord is one published knowledge article pulled by the back-sync.
type KBRecord struct {
	Number           string `json:"number"`
	ShortDescription string `json:"short_description"`
	Text             string `json:"text"`
	Category         string `json:"category"`
	Topic            string `json:"topic"`
	UpdatedOn        string `json:"sys_updated_on"`
}

// Client authenticates with basic auth against the instance table API.
type Client struct {
	baseURL  string
	user     string
	password string
	http     *http.Client
	breaker  *circuitbreaker.Breaker
}

// NewClient builds a client for https://{instance}/api/now.
func NewClient(instance, user, password string) *Client {
	return &Client{
		baseURL:  "https://" + instance + "/api/now",
		user:     user,
		password: password,
		http:     &http.Client{Timeout: 30 * time.Second},
		breaker:  circuitbreaker.New(circuitbreaker.DefaultConfig("servicenow")),
	}
}

// Configured reports whether instance credentials were supplied. Enrichment
// and sync skip ServiceNow quietly when they were not.
func (c *Client) Configured() bool {
	return c.baseURL != "https:///api/now" && c.user != ""
}

// GetUser looks up a caller by email or sys_id. A miss returns (nil, nil).
func (c *Client) GetUser(ctx context.Context, emailOrID string) (*incident.UserInfo, error) {
	params := url.Values{
		"sysparm_query":  {fmt.Sprintf("email=%s^ORsys_id=%s", emailOrID, emailOrID)},
		"sysparm_limit":  {"1"},
		"sysparm_fields": {"name,email,vip,department,location,title"},
	}
	var rows []struct {
		Name       string `json:"name"`
		Email      string `json:"email"`
		VIP        string `json:"vip"`
		Department string `json:"department"`
		Location   string `json:"location"`
		Title      string `json:"title"`
	}
	if err := c.getTable(ctx, "table/sys_user", params, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	r := rows[0]
	return &incident.UserInfo{
		Name:       r.Name,
		Email:      r.Email,
		VIP:        r.VIP == "true",
		Department: r.Department,
		Location:   r.Location,
		Title:      r.Title,
	}, nil
}

// GetCI looks up a configuration item by name or sys_id. A miss returns
// (nil, nil).
func (c *Client) GetCI(ctx context.Context, ciName string) (*incident.CIInfo, error) {
	params := url.Values{
		"sysparm_query":  {fmt.Sprintf("nameLIKE%s^ORsys_id=%s", ciName, ciName)},
		"sysparm_limit":  {"1"},
		"sysparm_fields": {"name,sys_class_name,operational_status,support_group,business_criticality"},
	}
	var rows []struct {
		Name                string `json:"name"`
		Class               string `json:"sys_class_name"`
		OperationalStatus   string `json:"operational_status"`
		SupportGroup        string `json:"support_group"`
		BusinessCriticality string `json:"business_criticality"`
	}
	if err := c.getTable(ctx, "table/cmdb_ci", params, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	r := rows[0]
	return &incident.CIInfo{
		Name:                r.Name,
		Class:               r.Class,
		OperationalStatus:   r.OperationalStatus,
		SupportGroup:        r.SupportGroup,
		BusinessCriticality: r.BusinessCriticality,
	}, nil
}

// UpdateIncident resolves the incident number to its sys_id and patches the
// given fields.
func (c *Client) UpdateIncident(ctx context.Context, number string, fields map[string]string) error {
	params := url.Values{
		"sysparm_query":  {"number=" + number},
		"sysparm_limit":  {"1"},
		"sysparm_fields": {"sys_id"},
	}
	var rows []struct {
		SysID string `json:"sys_id"`
	}
	if err := c.getTable(ctx, "table/incident", params, &rows); err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("incident %s not found", number)
	}
	return c.patch(ctx, "table/incident/"+rows[0].SysID, fields)
}

// AddWorkNote appends a work note to the incident.
func (c *Client) AddWorkNote(ctx context.Context, number, note string) error {
	return c.UpdateIncident(ctx, number, map[string]string{"work_notes": note})
}

// ClosedIncidents returns incidents closed (state=7) within the past
// daysBack days, up to 100.
func (c *Client) ClosedIncidents(ctx context.Context, daysBack int) ([]ClosedIncident, error) {
	since := time.Now().UTC().AddDate(0, 0, -daysBack).Format("2006-01-02")
	params := url.Values{
		"sysparm_query":  {"state=7^closed_at>=" + since},
		"sysparm_limit":  {"100"},
		"sysparm_fields": {"number,short_description,description,close_notes,closed_at,resolution_code"},
	}
	var rows []ClosedIncident
	if err := c.getTable(ctx, "table/incident", params, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// PublishedKB returns published KB articles updated within the past
// daysBack days, up to 50.
func (c *Client) PublishedKB(ctx context.Context, daysBack int) ([]KBRecord, error) {
	since := time.Now().UTC().AddDate(0, 0, -daysBack).Format("2006-01-02")
	params := url.Values{
		"sysparm_query":  {"workflow_state=published^sys_updated_on>=" + since},
		"sysparm_limit":  {"50"},
		"sysparm_fields": {"number,short_description,text,topic,category,sys_updated_on"},
	}
	var rows []KBRecord
	if err := c.getTable(ctx, "table/kb_knowledge", params, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Client) getTable(ctx context.Context, endpoint string, params url.Values, out any) error {
	return c.breaker.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			c.baseURL+"/"+endpoint+"?"+params.Encode(), nil)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.SetBasicAuth(c.user, c.password)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("GET %s: %w", endpoint, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("GET %s: status %d", endpoint, resp.StatusCode)
		}

		var envelope struct {
			Result json.RawMessage `json:"result"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			return fmt.Errorf("decode %s response: %w", endpoint, err)
		}
		return json.Unmarshal(envelope.Result, out)
	})
}

func (c *Client) patch(ctx context.Context, endpoint string, fields map[string]string) error {
	payload, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}
	return c.breaker.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPatch,
			c.baseURL+"/"+endpoint, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.SetBasicAuth(c.user, c.password)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("PATCH %s: %w", endpoint, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("PATCH %s: status %d", endpoint, resp.StatusCode)
		}
		return nil
	})
}

// PriorityLabel renders the human label ServiceNow shows for a numeric
// priority string.
func PriorityLabel(p string) string {
	n, err := strconv.Atoi(p)
	if err != nil {
		return p
	}
	labels := map[int]string{1: "Critical", 2: "High", 3: "Moderate", 4: "Low", 5: "Planning"}
	if l, ok := labels[n]; ok {
		return l
	}
	return p
}
