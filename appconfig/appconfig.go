// Package appconfig reads application settings from Azure App Configuration.
package appconfig

import (
	"context"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/data/azappconfig"

	azfunc "github.com/Voitanos/azfunctions-cicd-iac"
)

// Keys of the settings stored in the App Configuration resource.
const (
	// KeyAppVersion is the application version.
	KeyAppVersion = "APP_VERSION"
	// KeyCommitHash is the SHA of the commit currently deployed.
	KeyCommitHash = "COMMIT_HASH"
)

// ErrNoStore is returned when no App Configuration resource name is configured.
var ErrNoStore = errors.New("app configuration name not set")

// Setting is a single labelled key/value.
type Setting struct {
	Key   string
	Label string
	Value string
}

// Store is a key/value configuration service.
type Store interface {
	GetSetting(ctx context.Context, key, label string) (Setting, error)
}

// settingsAPI is the subset of *azappconfig.Client used by Client.
type settingsAPI interface {
	GetSetting(ctx context.Context, key string, options *azappconfig.GetSettingOptions) (azappconfig.GetSettingResponse, error)
}

// Client is the Azure App Configuration Store.
type Client struct {
	endpoint string
	api      settingsAPI
}

var _ Store = (*Client)(nil)

// Endpoint returns the URL of the App Configuration resource called name.
func Endpoint(name string) string {
	return fmt.Sprintf("https://%s.azconfig.io", name)
}

// NewClient connects to the App Configuration resource called name, using
// the default Azure credential chain (environment, workload identity, managed
// identity, Azure CLI). Outgoing requests go through the instrumented
// azfunc HTTP client, so lookups show up as spans of the invocation.
func NewClient(name string) (*Client, error) {
	if name == "" {
		return nil, ErrNoStore
	}

	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("create azure credential: %w", err)
	}

	return newClientWithCredential(name, cred, azfunc.NewHTTPClient(0))
}

func newClientWithCredential(name string, cred azcore.TokenCredential, transport policy.Transporter) (*Client, error) {
	endpoint := Endpoint(name)
	api, err := azappconfig.NewClient(endpoint, cred, &azappconfig.ClientOptions{
		ClientOptions: azcore.ClientOptions{Transport: transport},
	})
	if err != nil {
		return nil, fmt.Errorf("create app configuration client for %s: %w", endpoint, err)
	}
	return &Client{endpoint: endpoint, api: api}, nil
}

// GetSetting reads key under label. An empty label selects the unlabelled
// setting. A setting without a value yields an empty Value.
func (c *Client) GetSetting(ctx context.Context, key, label string) (Setting, error) {
	var opts *azappconfig.GetSettingOptions
	if label != "" {
		opts = &azappconfig.GetSettingOptions{Label: &label}
	}

	resp, err := c.api.GetSetting(ctx, key, opts)
	if err != nil {
		return Setting{}, fmt.Errorf("get setting %q (label %q) from %s: %w", key, label, c.endpoint, err)
	}

	s := Setting{Key: key, Label: label}
	if resp.Value != nil {
		s.Value = *resp.Value
	}
	return s, nil
}

// AppDetails describes the deployed build.
type AppDetails struct {
	Version    string
	CommitHash string
}

// ReadAppDetails reads APP_VERSION and COMMIT_HASH under label.
func ReadAppDetails(ctx context.Context, store Store, label string) (AppDetails, error) {
	version, err := store.GetSetting(ctx, KeyAppVersion, label)
	if err != nil {
		return AppDetails{}, err
	}
	commit, err := store.GetSetting(ctx, KeyCommitHash, label)
	if err != nil {
		return AppDetails{}, err
	}
	return AppDetails{Version: version.Value, CommitHash: commit.Value}, nil
}
