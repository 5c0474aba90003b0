// Package urlmapper builds the player url of the application under test
package urlmapper

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/QTest-hq/qtest-engine/internal/config"
	"github.com/QTest-hq/qtest-engine/internal/state"
)

// Source is sent with every generated url so the app can tell test traffic apart
const Source = "testengine"

var (
	ErrEnvironmentURLMissing = errors.New("environment url is required")
	ErrSuiteMissing          = errors.New("test suite definition is not set")
	ErrAppLogicalNameMissing = errors.New("app logical name is required")
)

// Mapper builds urls from the environment config and the current suite
type Mapper struct {
	env      config.EnvironmentConfig
	instance state.TestInstanceState
}

// New creates a Mapper
func New(env config.EnvironmentConfig, instance state.TestInstanceState) *Mapper {
	return &Mapper{env: env, instance: instance}
}

// GenerateTestURL returns {environment}/play/e/{environmentId}/an/{app}?tenantId=..&source=testengine.
// A non-empty domain replaces the environment host; queryParams are appended as given.
func (m *Mapper) GenerateTestURL(domain, queryParams string) (string, error) {
	if strings.TrimSpace(m.env.URL) == "" {
		return "", ErrEnvironmentURLMissing
	}
	suite := m.instance.TestSuiteDefinition()
	if suite == nil {
		return "", ErrSuiteMissing
	}
	if strings.TrimSpace(suite.AppLogicalName) == "" {
		return "", ErrAppLogicalNameMissing
	}

	base, err := url.Parse(m.env.URL)
	if err != nil {
		return "", fmt.Errorf("failed to parse environment url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return "", fmt.Errorf("environment url must be http or https: %s", m.env.URL)
	}

	if domain = strings.TrimSpace(domain); domain != "" {
		if err := applyDomain(base, domain); err != nil {
			return "", err
		}
	}

	base.Path = strings.TrimRight(base.Path, "/")
	if m.env.ID != "" {
		base.Path += "/play/e/" + m.env.ID + "/an/" + suite.AppLogicalName
	} else {
		base.Path += "/play/an/" + suite.AppLogicalName
	}

	var query []string
	if m.env.TenantID != "" {
		query = append(query, "tenantId="+url.QueryEscape(m.env.TenantID))
	}
	query = append(query, "source="+Source)
	if extra := strings.TrimLeft(strings.TrimSpace(queryParams), "?&"); extra != "" {
		query = append(query, extra)
	}
	base.RawQuery = strings.Join(query, "&")

	return base.String(), nil
}

func applyDomain(base *url.URL, domain string) error {
	if !strings.Contains(domain, "://") {
		base.Host = strings.TrimRight(domain, "/")
		return nil
	}
	u, err := url.Parse(domain)
	if err != nil {
		return fmt.Errorf("failed to parse domain: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("domain must be http or https: %s", domain)
	}
	base.Scheme = u.Scheme
	base.Host = u.Host
	return nil
}
