// Package grouper provides an attribute source over the Grouper web
// services API. It contributes one attribute: the names of the groups a
// subject belongs to.
package grouper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/apereo/persondir/pkg/attribute"
	"github.com/apereo/persondir/pkg/logger"
	"github.com/apereo/persondir/pkg/persondir"
	"github.com/apereo/persondir/pkg/telemetry"
)

var tracer = otel.Tracer("persondir/pkg/source/grouper")

// DefaultGroupsAttribute is the attribute name group memberships resolve
// under.
const DefaultGroupsAttribute = "grouperGroups"

const resultCodeSubjectNotFound = "SUBJECT_NOT_FOUND"

// SubjectType selects which subject key the group lookup uses.
type SubjectType string

const (
	SubjectID            SubjectType = "id"
	SubjectIdentifier    SubjectType = "identifier"
	SubjectAttributeName SubjectType = "attributeName"
)

// ParseSubjectType parses a subject type name. The empty string parses to
// SubjectID.
func ParseSubjectType(s string) (SubjectType, error) {
	switch strings.TrimSpace(s) {
	case "", "id":
		return SubjectID, nil
	case "identifier":
		return SubjectIdentifier, nil
	case "attributeName", "attribute-name":
		return SubjectAttributeName, nil
	default:
		return SubjectID, persondir.ConfigurationError("unknown grouper subject type %q", s)
	}
}

// Config defines the configuration parameters for a Grouper attribute
// source.
type Config struct {
	// BaseURL is the root of the Grouper web services API, up to and
	// excluding the /subjects segment.
	BaseURL string

	Username string
	Password string

	GroupsAttribute          string
	UsernameAttribute        string
	DefaultUsernameAttribute string

	SubjectType SubjectType

	// Parameters are appended to every lookup as query parameters.
	Parameters map[string]string

	Timeout time.Duration

	// HTTPClient overrides the default retrying client.
	HTTPClient *http.Client

	Logger logger.Logger
}

// SourceOption defines a function type used for configuring a Config object.
type SourceOption func(*Config)

// WithBaseURL returns a SourceOption that sets the web services root in the
// Config.
func WithBaseURL(baseURL string) SourceOption {
	return func(cfg *Config) {
		cfg.BaseURL = baseURL
	}
}

// WithBasicAuth returns a SourceOption that sets the web services
// credentials in the Config.
func WithBasicAuth(username, password string) SourceOption {
	return func(cfg *Config) {
		cfg.Username = username
		cfg.Password = password
	}
}

// WithGroupsAttribute returns a SourceOption that sets the attribute name
// group memberships resolve under.
func WithGroupsAttribute(attr string) SourceOption {
	return func(cfg *Config) {
		cfg.GroupsAttribute = attr
	}
}

// WithUsernameAttribute returns a SourceOption that sets the identifier
// attribute consulted in queries.
func WithUsernameAttribute(attr string) SourceOption {
	return func(cfg *Config) {
		cfg.UsernameAttribute = attr
	}
}

// WithDefaultUsernameAttribute returns a SourceOption that sets the
// fallback identifier attribute consulted in queries.
func WithDefaultUsernameAttribute(attr string) SourceOption {
	return func(cfg *Config) {
		cfg.DefaultUsernameAttribute = attr
	}
}

// WithSubjectType returns a SourceOption that sets the subject key kind in
// the Config.
func WithSubjectType(subjectType SubjectType) SourceOption {
	return func(cfg *Config) {
		cfg.SubjectType = subjectType
	}
}

// WithParameters returns a SourceOption that sets the extra lookup query
// parameters in the Config.
func WithParameters(params map[string]string) SourceOption {
	return func(cfg *Config) {
		cfg.Parameters = params
	}
}

// WithTimeout returns a SourceOption that sets the per-request timeout in
// the Config.
func WithTimeout(d time.Duration) SourceOption {
	return func(cfg *Config) {
		cfg.Timeout = d
	}
}

// WithHTTPClient returns a SourceOption that sets the HTTP client in the
// Config.
func WithHTTPClient(client *http.Client) SourceOption {
	return func(cfg *Config) {
		cfg.HTTPClient = client
	}
}

// WithLogger returns a SourceOption that sets the Logger in the Config.
func WithLogger(l logger.Logger) SourceOption {
	return func(cfg *Config) {
		cfg.Logger = l
	}
}

// NewConfig creates a new Config instance with default values and applies
// any provided SourceOption modifications.
func NewConfig(opts ...SourceOption) *Config {
	cfg := &Config{
		GroupsAttribute: DefaultGroupsAttribute,
		SubjectType:     SubjectID,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoopLogger()
	}

	return cfg
}

// Source resolves group memberships from Grouper.
type Source struct {
	baseURL    string
	httpClient *http.Client
	cfg        *Config
	logger     logger.Logger
}

var _ persondir.Source = (*Source)(nil)

// New builds a Grouper attribute source.
func New(cfg *Config) (*Source, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	if cfg.BaseURL == "" {
		return nil, persondir.ConfigurationError("grouper source requires a base url")
	}

	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if parsed, err := url.Parse(baseURL); err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, persondir.ConfigurationError("invalid grouper base url %q", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		client := retryablehttp.NewClient()
		client.Logger = nil
		if cfg.Timeout != 0 {
			client.HTTPClient.Timeout = cfg.Timeout
		}
		httpClient = client.StandardClient()
	}

	return &Source{
		baseURL:    baseURL,
		httpClient: httpClient,
		cfg:        cfg,
		logger:     cfg.Logger,
	}, nil
}

// wsGroup is one group in a web services response.
type wsGroup struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	UUID        string `json:"uuid"`
}

type wsResultMetadata struct {
	ResultCode    string `json:"resultCode"`
	ResultMessage string `json:"resultMessage"`
	Success       string `json:"success"`
}

type wsGetGroupsLiteResult struct {
	ResultMetadata wsResultMetadata `json:"resultMetadata"`
	WsGroups       []wsGroup        `json:"wsGroups"`
}

// wsGetGroupsLiteResponse is the envelope the web services wrap every
// lite result in.
type wsGetGroupsLiteResponse struct {
	WsGetGroupsLiteResult wsGetGroupsLiteResult `json:"WsGetGroupsLiteResult"`
}

// Resolve looks up the groups of the subject the query identifies. A query
// carrying no subject identifier matches nobody here, which is not an
// error.
func (s *Source) Resolve(ctx context.Context, query persondir.Query) ([]*persondir.Person, error) {
	ctx, span := tracer.Start(ctx, "grouper.Resolve")
	defer span.End()

	username := s.queryUsername(query)
	if username == "" {
		return nil, nil
	}

	person, err := s.ResolveSubject(ctx, username)
	if err != nil {
		if errors.Is(err, persondir.ErrNotFound) {
			return nil, nil
		}
		telemetry.TraceError(span, err)
		return nil, err
	}

	return []*persondir.Person{person}, nil
}

// ResolveSubject fetches the subject's groups and returns them as a single
// multi-valued attribute.
func (s *Source) ResolveSubject(ctx context.Context, username string) (*persondir.Person, error) {
	ctx, span := tracer.Start(ctx, "grouper.ResolveSubject")
	defer span.End()

	groups, err := s.fetchGroups(ctx, username)
	if err != nil {
		telemetry.TraceError(span, err)
		return nil, err
	}

	attrs := attribute.New()
	for _, group := range groups {
		attrs.Add(s.cfg.GroupsAttribute, group.Name)
	}

	return persondir.NewPerson(username, attrs), nil
}

// PossibleAttributeNames reports the single attribute this source produces.
func (s *Source) PossibleAttributeNames(ctx context.Context) ([]string, error) {
	return []string{s.cfg.GroupsAttribute}, nil
}

// QueryableAttributeNames reports none: the source supports whole-subject
// lookup only.
func (s *Source) QueryableAttributeNames(ctx context.Context) ([]string, error) {
	return nil, nil
}

func (s *Source) fetchGroups(ctx context.Context, username string) ([]wsGroup, error) {
	endpoint := s.baseURL + "/subjects/" + url.PathEscape(username) + "/groups"

	params := url.Values{}
	if s.cfg.SubjectType != SubjectID {
		params.Set("subjectType", string(s.cfg.SubjectType))
	}
	for name, value := range s.cfg.Parameters {
		params.Set(name, value)
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build grouper request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.cfg.Username != "" {
		req.SetBasicAuth(s.cfg.Username, s.cfg.Password)
	}

	s.logger.Debug("fetching groups", zap.String("url", endpoint))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, persondir.BackendUnavailableError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, persondir.ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, persondir.BackendUnavailableError(fmt.Errorf("grouper ws status %d", resp.StatusCode))
	case resp.StatusCode >= 500:
		return nil, persondir.BackendUnavailableError(fmt.Errorf("grouper ws status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("grouper ws status %d", resp.StatusCode)
	}

	var envelope wsGetGroupsLiteResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode grouper response: %w", err)
	}

	result := envelope.WsGetGroupsLiteResult
	if result.ResultMetadata.ResultCode == resultCodeSubjectNotFound {
		return nil, persondir.ErrNotFound
	}
	if result.ResultMetadata.Success != "T" {
		return nil, fmt.Errorf("grouper ws result %q: %s",
			result.ResultMetadata.ResultCode, result.ResultMetadata.ResultMessage)
	}

	return result.WsGroups, nil
}

// queryUsername extracts the subject identifier the query carries,
// consulting the configured identifier attribute before the default one.
func (s *Source) queryUsername(query persondir.Query) string {
	if s.cfg.UsernameAttribute != "" {
		if username, ok := query.Username(s.cfg.UsernameAttribute); ok {
			return username
		}
	}
	username, _ := query.Username(s.cfg.DefaultUsernameAttribute)
	return username
}
