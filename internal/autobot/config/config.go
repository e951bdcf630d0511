// Package config loads and validates the AutoBot deployment configuration.
//
// The configuration is a single YAML document holding the notification-stack
// catalog and the credentials for every external collaborator. It is parsed
// once at process start and the resulting *Config is passed by reference into
// every component constructor; no component reads ambient global state.
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Stack describes one regional deployment of the notification platform.
type Stack struct {
	// IngestionURL is the base URL of the ITSM ingestion endpoint used for
	// path-test dispatches (POST submission, GET {url}/status/{token}).
	IngestionURL string `yaml:"ingestion_url"`
	// APIKey authenticates against both the ingestion and REST endpoints.
	APIKey string `yaml:"api_key"`
	// OrgID is the organization identifier this stack's confirmation
	// callbacks report under.
	OrgID string `yaml:"org_id"`
	// RestURL is the base URL of the platform REST API (contacts,
	// notifications) used by TelQ test sends.
	RestURL string `yaml:"rest_url"`
	// AccountID, DeliveryPathID and RecordTypeID parameterise the TelQ
	// notification payloads. Only needed on stacks TelQ tests send from.
	AccountID      string `yaml:"account_id"`
	DeliveryPathID string `yaml:"delivery_path_id"`
	RecordTypeID   string `yaml:"record_type_id"`
	// MongoURI is the connection string for this stack's SMS routing
	// database. Only needed on stacks that support primary lookups/switches.
	MongoURI string `yaml:"mongo_uri"`
}

// Datadog holds Datadog API credentials.
type Datadog struct {
	APIKey string `yaml:"api_key"`
	AppKey string `yaml:"app_key"`
}

// AlertSite holds AlertSite login credentials.
type AlertSite struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// SumoLogic holds SumoLogic access credentials.
type SumoLogic struct {
	AccessID  string `yaml:"access_id"`
	AccessKey string `yaml:"access_key"`
	// RoleIDs are assigned to newly onboarded users.
	RoleIDs []string `yaml:"role_ids"`
}

// DigiCert holds DigiCert API credentials.
type DigiCert struct {
	APIKey string `yaml:"api_key"`
	// ContainerID is the account container new users are created under.
	ContainerID int `yaml:"container_id"`
}

// Vendors groups the provisioning collaborator credentials. A nil section
// disables the onboard/offboard keywords.
type Vendors struct {
	Datadog   *Datadog   `yaml:"datadog"`
	AlertSite *AlertSite `yaml:"alertsite"`
	SumoLogic *SumoLogic `yaml:"sumologic"`
	DigiCert  *DigiCert  `yaml:"digicert"`
}

// TelQ holds TelQ API credentials. A nil section disables the telq keyword.
type TelQ struct {
	AppID  string `yaml:"app_id"`
	AppKey string `yaml:"app_key"`
}

// Config is the full deployment configuration.
type Config struct {
	// EmailDomain is the only domain users may be on/offboarded under.
	EmailDomain string `yaml:"email_domain"`
	// NOCUsers is the allowlist of chat user IDs permitted to run
	// destructive keywords (offboard, primary switch, telq).
	NOCUsers []string `yaml:"noc_users"`
	// ProtectedEmails can never be on/offboarded (service accounts).
	ProtectedEmails []string `yaml:"protected_emails"`
	// Stacks maps a stack label (e.g. "US", "EU") to its endpoints.
	Stacks map[string]Stack `yaml:"stacks"`
	// Vendors holds the provisioning collaborator credentials.
	Vendors *Vendors `yaml:"vendors"`
	// TelQ holds TelQ credentials.
	TelQ *TelQ `yaml:"telq"`
	// RoutingDatabase and RoutingCollection name the SMS routing records in
	// each stack's Mongo deployment.
	RoutingDatabase   string `yaml:"routing_database"`
	RoutingCollection string `yaml:"routing_collection"`
}

// Load reads, parses and validates the YAML configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML configuration document and validates it.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config parse: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks a Config for structural correctness. It returns the first
// validation error encountered, or nil if the config is valid.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config must not be nil")
	}
	if strings.TrimSpace(cfg.EmailDomain) == "" {
		return fmt.Errorf("email_domain must not be empty")
	}
	if strings.Contains(cfg.EmailDomain, "@") {
		return fmt.Errorf("email_domain must not include %q", "@")
	}
	if len(cfg.Stacks) == 0 {
		return fmt.Errorf("at least one stack must be configured")
	}

	for name, st := range cfg.Stacks {
		if name != strings.ToUpper(name) {
			return fmt.Errorf("stacks[%s]: stack labels must be upper-case", name)
		}
		if st.IngestionURL == "" {
			return fmt.Errorf("stacks[%s]: ingestion_url must not be empty", name)
		}
		if st.APIKey == "" {
			return fmt.Errorf("stacks[%s]: api_key must not be empty", name)
		}
		if st.OrgID == "" {
			return fmt.Errorf("stacks[%s]: org_id must not be empty", name)
		}
	}

	if v := cfg.Vendors; v != nil {
		if v.Datadog == nil || v.Datadog.APIKey == "" || v.Datadog.AppKey == "" {
			return fmt.Errorf("vendors.datadog: api_key and app_key are required")
		}
		if v.AlertSite == nil || v.AlertSite.Username == "" || v.AlertSite.Password == "" {
			return fmt.Errorf("vendors.alertsite: username and password are required")
		}
		if v.SumoLogic == nil || v.SumoLogic.AccessID == "" || v.SumoLogic.AccessKey == "" {
			return fmt.Errorf("vendors.sumologic: access_id and access_key are required")
		}
		if v.DigiCert == nil || v.DigiCert.APIKey == "" {
			return fmt.Errorf("vendors.digicert: api_key is required")
		}
	}

	if cfg.TelQ != nil && (cfg.TelQ.AppID == "" || cfg.TelQ.AppKey == "") {
		return fmt.Errorf("telq: app_id and app_key are required")
	}

	return nil
}

// Stack returns the configuration for the given stack label.
func (c *Config) Stack(label string) (Stack, bool) {
	st, ok := c.Stacks[strings.ToUpper(label)]
	return st, ok
}

// StackNames returns the configured stack labels in sorted order.
func (c *Config) StackNames() []string {
	names := make([]string, 0, len(c.Stacks))
	for name := range c.Stacks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StackForOrg maps an organization ID from a confirmation callback back to
// its stack label. Returns "" when the org is unknown.
func (c *Config) StackForOrg(orgID string) string {
	for name, st := range c.Stacks {
		if st.OrgID == orgID {
			return name
		}
	}
	return ""
}

// IsNOC reports whether the given chat user may run destructive keywords.
// An empty allowlist locks everyone out of them.
func (c *Config) IsNOC(userID string) bool {
	for _, u := range c.NOCUsers {
		if u == userID {
			return true
		}
	}
	return false
}

// IsProtected reports whether the given email must never be on/offboarded.
func (c *Config) IsProtected(email string) bool {
	for _, p := range c.ProtectedEmails {
		if strings.EqualFold(p, email) {
			return true
		}
	}
	return false
}

// Secrets returns every credential value in the configuration, for redacting
// upstream payloads before they are quoted into chat.
func (c *Config) Secrets() []string {
	var out []string
	add := func(vals ...string) {
		for _, v := range vals {
			if v != "" {
				out = append(out, v)
			}
		}
	}
	for _, st := range c.Stacks {
		add(st.APIKey, st.MongoURI)
	}
	if v := c.Vendors; v != nil {
		if v.Datadog != nil {
			add(v.Datadog.APIKey, v.Datadog.AppKey)
		}
		if v.AlertSite != nil {
			add(v.AlertSite.Password)
		}
		if v.SumoLogic != nil {
			add(v.SumoLogic.AccessID, v.SumoLogic.AccessKey)
		}
		if v.DigiCert != nil {
			add(v.DigiCert.APIKey)
		}
	}
	if c.TelQ != nil {
		add(c.TelQ.AppID, c.TelQ.AppKey)
	}
	return out
}
