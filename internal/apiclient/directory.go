package apiclient

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"qms/clinic-console/internal/models"
)

func (c *Client) ListDepartments(ctx context.Context) ([]models.Department, error) {
	var departments []models.Department
	if err := c.getList(ctx, "list departments", "/departments", nil, &departments); err != nil {
		return nil, err
	}
	return departments, nil
}

func (c *Client) GetDepartment(ctx context.Context, id int64) (models.Department, error) {
	var department models.Department
	if err := c.getOne(ctx, "get department", fmt.Sprintf("/departments/%d", id), nil, &department); err != nil {
		return models.Department{}, err
	}
	return department, nil
}

func (c *Client) SearchPatients(ctx context.Context, search string) ([]models.Patient, error) {
	query := url.Values{}
	if trimmed := strings.TrimSpace(search); trimmed != "" {
		query.Set("search", trimmed)
	}
	var patients []models.Patient
	if err := c.getList(ctx, "search patients", "/patients", query, &patients); err != nil {
		return nil, err
	}
	return patients, nil
}

func (c *Client) GetPatient(ctx context.Context, id int64) (models.Patient, error) {
	var patient models.Patient
	if err := c.getOne(ctx, "get patient", fmt.Sprintf("/patients/%d", id), nil, &patient); err != nil {
		return models.Patient{}, err
	}
	return patient, nil
}

func (c *Client) ClinicSettings(ctx context.Context) (models.ClinicSettings, error) {
	var settings models.ClinicSettings
	if err := c.getOne(ctx, "clinic settings", "/settings", nil, &settings); err != nil {
		return models.ClinicSettings{}, err
	}
	return settings, nil
}
