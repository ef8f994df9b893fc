// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for the newsletter digester.
//
// The returned Config is built once at startup. Components receive copies of
// the sub-structs they need and never read the environment themselves.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // DISPLAY_TIMEZONE must resolve in minimal containers

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

// DefaultQuery selects Seeking Alpha breaking-news alerts.
const DefaultQuery = `from:(account@seekingalpha.com "SA Breaking News")`

// DefaultUserAgent is sent by the article fetcher; several news sites refuse
// requests without a browser-like agent.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// Mail backends.
const (
	BackendGmailAPI = "gmailapi"
	BackendIMAP     = "imap"
)

// LLM providers.
const (
	LLMOpenAI    = "openai"
	LLMAnthropic = "anthropic"
)

// Publisher names accepted in Digest.Publishers.
const (
	PublisherNotion   = "notion"
	PublisherMarkdown = "markdown"
	PublisherStdout   = "stdout"
	PublisherSES      = "ses"
	PublisherGraph    = "graph"
	PublisherSMTP     = "smtp"
)

// Config holds the complete application configuration.
type Config struct {
	Mail    MailConfig    `yaml:"mail"`
	Article ArticleConfig `yaml:"article"`
	LLM     LLMConfig     `yaml:"llm"`
	Notion  NotionConfig  `yaml:"notion"`
	Output  OutputConfig  `yaml:"output"`
	SES     SESConfig     `yaml:"ses"`
	Graph   GraphConfig   `yaml:"graph"`
	SMTP    SMTPConfig    `yaml:"smtp"`
	Digest  DigestConfig  `yaml:"digest"`
	Poller  PollerConfig  `yaml:"poller"`
	Logging LoggingConfig `yaml:"logging"`
}

// MailConfig selects and configures the mailbox the digester reads.
type MailConfig struct {
	Backend         string `yaml:"backend"`
	CredentialsFile string `yaml:"credentials_file"`
	TokenFile       string `yaml:"token_file"`
	Query           string `yaml:"query"`
	ProcessedLabel  string `yaml:"processed_label"`
	MaxResults      int64  `yaml:"max_results"`

	// IMAP backend only.
	Address     string        `yaml:"address"`
	AppPassword string        `yaml:"app_password"`
	IMAPAddress string        `yaml:"imap_address"`
	Mailbox     string        `yaml:"mailbox"`
	CAFile      string        `yaml:"ca_file"`
	Timeout     time.Duration `yaml:"timeout"`
}

// ArticleConfig controls fetching of pages linked from short messages.
type ArticleConfig struct {
	Timeout    time.Duration `yaml:"timeout"`
	MinBodyLen int           `yaml:"min_body_len"`
	MaxLinks   int           `yaml:"max_links"`
	UserAgent  string        `yaml:"user_agent"`
}

// LLMConfig holds summarizer settings.
type LLMConfig struct {
	Provider   string          `yaml:"provider"`
	PromptFile string          `yaml:"prompt_file"`
	Timeout    time.Duration   `yaml:"timeout"`
	MaxTokens  int64           `yaml:"max_tokens"`
	OpenAI     OpenAIConfig    `yaml:"openai"`
	Anthropic  AnthropicConfig `yaml:"anthropic"`
}

// OpenAIConfig holds OpenAI-compatible endpoint settings.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// NotionConfig holds Notion API settings and the database property names
// summaries are filed under. Empty optional property names are skipped.
type NotionConfig struct {
	Token           string        `yaml:"token"`
	DatabaseID      string        `yaml:"database_id"`
	APIURL          string        `yaml:"api_url"`
	Version         string        `yaml:"version"`
	TitleProperty   string        `yaml:"title_property"`
	DateProperty    string        `yaml:"date_property"`
	TickersProperty string        `yaml:"tickers_property"`
	URLProperty     string        `yaml:"url_property"`
	Timeout         time.Duration `yaml:"timeout"`
}

// OutputConfig holds the markdown publisher's output directory.
type OutputConfig struct {
	Dir string `yaml:"dir"`
}

// SESConfig holds AWS SES configuration.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Sender          string `yaml:"sender"`
}

// GraphConfig holds Microsoft Graph API configuration.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Sender       string `yaml:"sender"`
}

// SMTPConfig holds outbound SMTP settings. TLSMode is "tls", "starttls" or "none".
type SMTPConfig struct {
	Address  string `yaml:"address"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	TLSMode  string `yaml:"tls_mode"`
	CAFile   string `yaml:"ca_file"`
}

// DigestConfig holds pipeline-wide settings.
type DigestConfig struct {
	Publishers     []string `yaml:"publishers"`
	Recipients     []string `yaml:"recipients"`
	AllowedTickers []string `yaml:"allowed_tickers"`
	Timezone       string   `yaml:"timezone"`
}

// PollerConfig holds scheduling and time budgets.
type PollerConfig struct {
	Interval       time.Duration `yaml:"interval"`
	MessageTimeout time.Duration `yaml:"message_timeout"`
	RunTimeout     time.Duration `yaml:"run_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultTokenFile is where the Gmail OAuth token is kept unless configured.
func DefaultTokenFile() string {
	return filepath.Join(xdg.DataHome, "newsletter-digest", "gmail-token.json")
}

// NotionConfigured returns true if a Notion token and database id are set.
func (c *Config) NotionConfigured() bool {
	return c.Notion.Token != "" && c.Notion.DatabaseID != ""
}

// SESConfigured returns true if the SES region and sender are set.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != "" && c.SES.Sender != ""
}

// GraphConfigured returns true if all four Graph API credentials are set.
func (c *Config) GraphConfigured() bool {
	return c.Graph.TenantID != "" &&
		c.Graph.ClientID != "" &&
		c.Graph.ClientSecret != "" &&
		c.Graph.Sender != ""
}

// SMTPConfigured returns true if an SMTP server and sender are set.
func (c *Config) SMTPConfigured() bool {
	return c.SMTP.Address != "" && c.SMTP.From != ""
}

// Location resolves Digest.Timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Digest.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Digest.Timezone, err)
	}
	return loc, nil
}

// Validate reports every configuration problem at once. A non-nil result
// means the process must not start.
func (c *Config) Validate() error {
	var errs []error

	switch c.Mail.Backend {
	case BackendGmailAPI:
		if c.Mail.CredentialsFile == "" {
			errs = append(errs, errors.New("GOOGLE_CREDENTIALS_FILE is required for the gmailapi backend"))
		}
	case BackendIMAP:
		if c.Mail.Address == "" || c.Mail.AppPassword == "" {
			errs = append(errs, errors.New("GMAIL_ADDRESS and GMAIL_APP_PASSWORD are required for the imap backend"))
		}
		if c.Mail.IMAPAddress == "" {
			errs = append(errs, errors.New("IMAP_ADDRESS is required for the imap backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown mail backend %q", c.Mail.Backend))
	}
	if strings.TrimSpace(c.Mail.Query) == "" {
		errs = append(errs, errors.New("GMAIL_SEARCH_QUERY must not be empty"))
	}
	if strings.TrimSpace(c.Mail.ProcessedLabel) == "" {
		errs = append(errs, errors.New("GMAIL_PROCESSED_LABEL must not be empty"))
	}
	if c.Mail.MaxResults <= 0 {
		errs = append(errs, fmt.Errorf("GMAIL_MAX_RESULTS must be positive, got %d", c.Mail.MaxResults))
	}

	switch c.LLM.Provider {
	case LLMOpenAI:
		if c.LLM.OpenAI.APIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required for the openai provider"))
		}
	case LLMAnthropic:
		if c.LLM.Anthropic.APIKey == "" {
			errs = append(errs, errors.New("ANTHROPIC_API_KEY is required for the anthropic provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown LLM provider %q", c.LLM.Provider))
	}

	if len(c.Digest.Publishers) == 0 {
		errs = append(errs, errors.New("PUBLISHERS must name at least one publisher"))
	}
	for _, p := range c.Digest.Publishers {
		switch p {
		case PublisherNotion:
			if !c.NotionConfigured() {
				errs = append(errs, errors.New("notion publisher requires NOTION_TOKEN and NOTION_DATABASE_ID"))
			}
		case PublisherMarkdown:
			if c.Output.Dir == "" {
				errs = append(errs, errors.New("markdown publisher requires OUTPUT_DIR"))
			}
		case PublisherStdout:
		case PublisherSES:
			if !c.SESConfigured() {
				errs = append(errs, errors.New("ses publisher requires SES_REGION and SES_SENDER"))
			}
			errs = append(errs, c.requireRecipients(p)...)
		case PublisherGraph:
			if !c.GraphConfigured() {
				errs = append(errs, errors.New("graph publisher requires GRAPH_TENANT_ID, GRAPH_CLIENT_ID, GRAPH_CLIENT_SECRET and GRAPH_SENDER"))
			}
			errs = append(errs, c.requireRecipients(p)...)
		case PublisherSMTP:
			if !c.SMTPConfigured() {
				errs = append(errs, errors.New("smtp publisher requires SMTP_ADDRESS and SMTP_FROM"))
			}
			switch c.SMTP.TLSMode {
			case "tls", "starttls", "none":
			default:
				errs = append(errs, fmt.Errorf("unknown SMTP_TLS_MODE %q", c.SMTP.TLSMode))
			}
			errs = append(errs, c.requireRecipients(p)...)
		default:
			errs = append(errs, fmt.Errorf("unknown publisher %q", p))
		}
	}

	if c.Poller.Interval <= 0 {
		errs = append(errs, errors.New("POLL_INTERVAL must be positive"))
	}
	if c.Poller.MessageTimeout <= 0 || c.Poller.RunTimeout <= 0 {
		errs = append(errs, errors.New("MESSAGE_TIMEOUT and RUN_TIMEOUT must be positive"))
	}
	if c.Article.MaxLinks <= 0 {
		errs = append(errs, errors.New("ARTICLE_MAX_LINKS must be positive"))
	}
	if c.Article.MinBodyLen <= 0 {
		errs = append(errs, errors.New("MIN_BODY_LEN must be positive"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (c *Config) requireRecipients(publisher string) []error {
	if len(c.Digest.Recipients) == 0 {
		return []error{fmt.Errorf("%s publisher requires DIGEST_RECIPIENTS", publisher)}
	}
	return nil
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.Mail.Backend = BackendGmailAPI
	c.Mail.CredentialsFile = "credentials.json"
	c.Mail.TokenFile = DefaultTokenFile()
	c.Mail.Query = DefaultQuery
	c.Mail.ProcessedLabel = "newsletter-digest/processed"
	c.Mail.MaxResults = 10
	c.Mail.IMAPAddress = "imap.gmail.com:993"
	c.Mail.Mailbox = "[Gmail]/All Mail"
	c.Mail.Timeout = 30 * time.Second

	c.Article.Timeout = 15 * time.Second
	c.Article.MinBodyLen = 120
	c.Article.MaxLinks = 3
	c.Article.UserAgent = DefaultUserAgent

	c.LLM.Provider = LLMOpenAI
	c.LLM.Timeout = 60 * time.Second
	c.LLM.MaxTokens = 2048
	c.LLM.OpenAI.Model = "gpt-4o"
	c.LLM.Anthropic.Model = "claude-sonnet-4-5"

	c.Notion.APIURL = "https://api.notion.com"
	c.Notion.Version = "2022-06-28"
	c.Notion.TitleProperty = "Name"
	c.Notion.Timeout = 30 * time.Second

	c.Output.Dir = "./out"
	c.SMTP.TLSMode = "tls"

	c.Digest.Publishers = []string{PublisherNotion}
	c.Digest.Timezone = "Asia/Seoul"

	c.Poller.Interval = 30 * time.Second
	c.Poller.MessageTimeout = 60 * time.Second
	c.Poller.RunTimeout = 180 * time.Second

	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() error {
	var errs []error

	setString(&c.Mail.Backend, "MAIL_BACKEND")
	setString(&c.Mail.CredentialsFile, "GOOGLE_CREDENTIALS_FILE")
	setString(&c.Mail.TokenFile, "GMAIL_TOKEN_FILE")
	setString(&c.Mail.Query, "GMAIL_SEARCH_QUERY")
	setString(&c.Mail.ProcessedLabel, "GMAIL_PROCESSED_LABEL")
	errs = append(errs, setInt64(&c.Mail.MaxResults, "GMAIL_MAX_RESULTS"))
	setString(&c.Mail.Address, "GMAIL_ADDRESS")
	if v := os.Getenv("GMAIL_APP_PASSWORD"); v != "" {
		// Google displays app passwords in groups of four.
		c.Mail.AppPassword = strings.ReplaceAll(v, " ", "")
	}
	setString(&c.Mail.IMAPAddress, "IMAP_ADDRESS")
	setString(&c.Mail.Mailbox, "IMAP_MAILBOX")
	setString(&c.Mail.CAFile, "IMAP_CA_FILE")
	errs = append(errs, setDuration(&c.Mail.Timeout, "MAIL_TIMEOUT"))

	errs = append(errs, setDuration(&c.Article.Timeout, "ARTICLE_TIMEOUT"))
	errs = append(errs, setInt(&c.Article.MinBodyLen, "MIN_BODY_LEN"))
	errs = append(errs, setInt(&c.Article.MaxLinks, "ARTICLE_MAX_LINKS"))
	setString(&c.Article.UserAgent, "ARTICLE_USER_AGENT")

	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		c.LLM.Provider = strings.ToLower(v)
	}
	setString(&c.LLM.PromptFile, "PROMPT_FILE")
	errs = append(errs, setDuration(&c.LLM.Timeout, "LLM_TIMEOUT"))
	errs = append(errs, setInt64(&c.LLM.MaxTokens, "LLM_MAX_TOKENS"))
	setString(&c.LLM.OpenAI.APIKey, "OPENAI_API_KEY")
	setString(&c.LLM.OpenAI.BaseURL, "OPENAI_BASE_URL")
	setString(&c.LLM.OpenAI.Model, "OPENAI_MODEL")
	setString(&c.LLM.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	setString(&c.LLM.Anthropic.Model, "ANTHROPIC_MODEL")

	setString(&c.Notion.Token, "NOTION_TOKEN")
	setString(&c.Notion.DatabaseID, "NOTION_DATABASE_ID")
	setString(&c.Notion.APIURL, "NOTION_API_URL")
	setString(&c.Notion.Version, "NOTION_VERSION")
	setString(&c.Notion.TitleProperty, "NOTION_TITLE_PROPERTY")
	setString(&c.Notion.DateProperty, "NOTION_DATE_PROPERTY")
	setString(&c.Notion.TickersProperty, "NOTION_TICKERS_PROPERTY")
	setString(&c.Notion.URLProperty, "NOTION_URL_PROPERTY")

	setString(&c.Output.Dir, "OUTPUT_DIR")

	setString(&c.SES.Region, "SES_REGION")
	setString(&c.SES.AccessKeyID, "SES_ACCESS_KEY_ID")
	setString(&c.SES.SecretAccessKey, "SES_SECRET_ACCESS_KEY")
	setString(&c.SES.Sender, "SES_SENDER")

	setString(&c.Graph.TenantID, "GRAPH_TENANT_ID")
	setString(&c.Graph.ClientID, "GRAPH_CLIENT_ID")
	setString(&c.Graph.ClientSecret, "GRAPH_CLIENT_SECRET")
	setString(&c.Graph.Sender, "GRAPH_SENDER")

	setString(&c.SMTP.Address, "SMTP_ADDRESS")
	setString(&c.SMTP.Username, "SMTP_USERNAME")
	setString(&c.SMTP.Password, "SMTP_PASSWORD")
	setString(&c.SMTP.From, "SMTP_FROM")
	if v := os.Getenv("SMTP_TLS_MODE"); v != "" {
		c.SMTP.TLSMode = strings.ToLower(v)
	}
	setString(&c.SMTP.CAFile, "SMTP_CA_FILE")

	if v := os.Getenv("PUBLISHERS"); v != "" {
		c.Digest.Publishers = splitList(strings.ToLower(v))
	}
	if v := os.Getenv("DIGEST_RECIPIENTS"); v != "" {
		c.Digest.Recipients = splitList(v)
	}
	if v := os.Getenv("ALLOWED_TICKERS"); v != "" {
		c.Digest.AllowedTickers = splitList(strings.ToUpper(v))
	}
	setString(&c.Digest.Timezone, "DISPLAY_TIMEZONE")

	errs = append(errs, setDuration(&c.Poller.Interval, "POLL_INTERVAL"))
	errs = append(errs, setDuration(&c.Poller.MessageTimeout, "MESSAGE_TIMEOUT"))
	errs = append(errs, setDuration(&c.Poller.RunTimeout, "RUN_TIMEOUT"))

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}

	return errors.Join(errs...)
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setInt64(dst *int64, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

// setDuration accepts Go durations ("90s", "2m") or plain integers as seconds.
func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := parseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func parseDuration(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
