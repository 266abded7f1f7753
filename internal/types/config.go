package types

import "time"

// Config is the process configuration. Keys match the configuration file
// and are decoded by viper.
type Config struct {
	RootDir string `mapstructure:"rootDir" yaml:"rootDir" json:"rootDir"`
	LogFile string `mapstructure:"logFile" yaml:"logFile,omitempty" json:"logFile,omitempty"`

	DownloadConcurrency int      `mapstructure:"downloadConcurrency" yaml:"downloadConcurrency" json:"downloadConcurrency"`
	DownloadRetries     int      `mapstructure:"downloadRetries" yaml:"downloadRetries" json:"downloadRetries"`
	DownloadTimeoutSec  int      `mapstructure:"downloadTimeoutSec" yaml:"downloadTimeoutSec" json:"downloadTimeoutSec"`
	Architectures       []string `mapstructure:"architectures" yaml:"architectures" json:"architectures"`

	DependencyFollowSuggests    bool `mapstructure:"dependencyFollowSuggests" yaml:"dependencyFollowSuggests" json:"dependencyFollowSuggests"`
	DependencyFollowRecommends  bool `mapstructure:"dependencyFollowRecommends" yaml:"dependencyFollowRecommends" json:"dependencyFollowRecommends"`
	DependencyFollowAllVariants bool `mapstructure:"dependencyFollowAllVariants" yaml:"dependencyFollowAllVariants" json:"dependencyFollowAllVariants"`
	DependencyFollowSource      bool `mapstructure:"dependencyFollowSource" yaml:"dependencyFollowSource" json:"dependencyFollowSource"`

	GpgDisableSign   bool   `mapstructure:"gpgDisableSign" yaml:"gpgDisableSign" json:"gpgDisableSign"`
	GpgDisableVerify bool   `mapstructure:"gpgDisableVerify" yaml:"gpgDisableVerify" json:"gpgDisableVerify"`
	GpgProvider      string `mapstructure:"gpgProvider" yaml:"gpgProvider" json:"gpgProvider"`
	GpgKeyring       string `mapstructure:"gpgKeyring" yaml:"gpgKeyring,omitempty" json:"gpgKeyring,omitempty"`
	GpgSecretKeyring string `mapstructure:"gpgSecretKeyring" yaml:"gpgSecretKeyring,omitempty" json:"gpgSecretKeyring,omitempty"`
	GpgKey           string `mapstructure:"gpgKey" yaml:"gpgKey,omitempty" json:"gpgKey,omitempty"`
	GpgPassphrase    string `mapstructure:"gpgPassphrase" yaml:"gpgPassphrase,omitempty" json:"-"`

	SkipLegacyPool         bool `mapstructure:"skipLegacyPool" yaml:"skipLegacyPool" json:"skipLegacyPool"`
	SkipContentsPublishing bool `mapstructure:"skipContentsPublishing" yaml:"skipContentsPublishing" json:"skipContentsPublishing"`
	SkipBz2Publishing      bool `mapstructure:"skipBz2Publishing" yaml:"skipBz2Publishing" json:"skipBz2Publishing"`

	PpaDistributorID string `mapstructure:"ppaDistributorID" yaml:"ppaDistributorID" json:"ppaDistributorID"`
	PpaCodename      string `mapstructure:"ppaCodename" yaml:"ppaCodename" json:"ppaCodename"`

	DatabaseBackend    DatabaseConfig    `mapstructure:"databaseBackend" yaml:"databaseBackend" json:"databaseBackend"`
	PackagePoolStorage PoolStorageConfig `mapstructure:"packagePoolStorage" yaml:"packagePoolStorage" json:"packagePoolStorage"`

	FileSystemPublishEndpoints map[string]FileSystemEndpoint `mapstructure:"FileSystemPublishEndpoints" yaml:"FileSystemPublishEndpoints,omitempty" json:"FileSystemPublishEndpoints,omitempty"`
	S3PublishEndpoints         map[string]S3Endpoint         `mapstructure:"S3PublishEndpoints" yaml:"S3PublishEndpoints,omitempty" json:"S3PublishEndpoints,omitempty"`
	AzurePublishEndpoints      map[string]AzureEndpoint      `mapstructure:"AzurePublishEndpoints" yaml:"AzurePublishEndpoints,omitempty" json:"AzurePublishEndpoints,omitempty"`
	SwiftPublishEndpoints      map[string]SwiftEndpoint      `mapstructure:"SwiftPublishEndpoints" yaml:"SwiftPublishEndpoints,omitempty" json:"SwiftPublishEndpoints,omitempty"`
	SFTPPublishEndpoints       map[string]SFTPEndpoint       `mapstructure:"SFTPPublishEndpoints" yaml:"SFTPPublishEndpoints,omitempty" json:"SFTPPublishEndpoints,omitempty"`

	APIListen   string `mapstructure:"apiListen" yaml:"apiListen" json:"apiListen"`
	ServeListen string `mapstructure:"serveListen" yaml:"serveListen" json:"serveListen"`
}

// DownloadTimeout returns the per-URL deadline.
func (c Config) DownloadTimeout() time.Duration {
	if c.DownloadTimeoutSec <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.DownloadTimeoutSec) * time.Second
}

// DependencyFlags returns the solver toggles configured globally.
func (c Config) DependencyFlags() DependencyFlags {
	return DependencyFlags{
		FollowRecommends:  c.DependencyFollowRecommends,
		FollowSuggests:    c.DependencyFollowSuggests,
		FollowAllVariants: c.DependencyFollowAllVariants,
		FollowSource:      c.DependencyFollowSource,
	}
}

// DatabaseConfig selects the KV back-end.
type DatabaseConfig struct {
	Type      string   `mapstructure:"type" yaml:"type" json:"type"`
	DBPath    string   `mapstructure:"dbPath" yaml:"dbPath,omitempty" json:"dbPath,omitempty"`
	Endpoints []string `mapstructure:"endpoints" yaml:"endpoints,omitempty" json:"endpoints,omitempty"`
	Prefix    string   `mapstructure:"prefix" yaml:"prefix,omitempty" json:"prefix,omitempty"`
	Username  string   `mapstructure:"username" yaml:"username,omitempty" json:"username,omitempty"`
	Password  string   `mapstructure:"password" yaml:"password,omitempty" json:"-"`
}

// PoolStorageConfig selects the package pool back-end. Exactly one of the
// back-end sections is used, chosen by Type.
type PoolStorageConfig struct {
	Type  string        `mapstructure:"type" yaml:"type" json:"type"`
	Path  string        `mapstructure:"path" yaml:"path,omitempty" json:"path,omitempty"`
	S3    S3Endpoint    `mapstructure:"s3" yaml:"s3,omitempty" json:"s3,omitempty"`
	Azure AzureEndpoint `mapstructure:"azure" yaml:"azure,omitempty" json:"azure,omitempty"`
	Swift SwiftEndpoint `mapstructure:"swift" yaml:"swift,omitempty" json:"swift,omitempty"`
	SFTP  SFTPEndpoint  `mapstructure:"sftp" yaml:"sftp,omitempty" json:"sftp,omitempty"`
}

// FileSystemEndpoint publishes to a local directory.
type FileSystemEndpoint struct {
	RootDir      string       `mapstructure:"rootDir" yaml:"rootDir" json:"rootDir"`
	LinkMethod   LinkMethod   `mapstructure:"linkMethod" yaml:"linkMethod" json:"linkMethod"`
	VerifyMethod VerifyMethod `mapstructure:"verifyMethod" yaml:"verifyMethod" json:"verifyMethod"`
}

// S3Endpoint publishes to an S3 bucket.
type S3Endpoint struct {
	Region          string `mapstructure:"region" yaml:"region" json:"region"`
	Bucket          string `mapstructure:"bucket" yaml:"bucket" json:"bucket"`
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Prefix          string `mapstructure:"prefix" yaml:"prefix,omitempty" json:"prefix,omitempty"`
	AccessKeyID     string `mapstructure:"awsAccessKeyID" yaml:"awsAccessKeyID,omitempty" json:"awsAccessKeyID,omitempty"`
	SecretAccessKey string `mapstructure:"awsSecretAccessKey" yaml:"awsSecretAccessKey,omitempty" json:"-"`
	SessionToken    string `mapstructure:"awsSessionToken" yaml:"awsSessionToken,omitempty" json:"-"`
	ForcePathStyle  bool   `mapstructure:"forcePathStyle" yaml:"forcePathStyle" json:"forcePathStyle"`
}

// AzureEndpoint publishes to an Azure Blob container.
type AzureEndpoint struct {
	AccountName string `mapstructure:"accountName" yaml:"accountName" json:"accountName"`
	AccountKey  string `mapstructure:"accountKey" yaml:"accountKey,omitempty" json:"-"`
	Container   string `mapstructure:"container" yaml:"container" json:"container"`
	Prefix      string `mapstructure:"prefix" yaml:"prefix,omitempty" json:"prefix,omitempty"`
	Endpoint    string `mapstructure:"endpoint" yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
}

// SwiftEndpoint publishes to an OpenStack Swift container.
type SwiftEndpoint struct {
	UserName  string `mapstructure:"osname" yaml:"osname" json:"osname"`
	Password  string `mapstructure:"password" yaml:"password,omitempty" json:"-"`
	AuthURL   string `mapstructure:"authurl" yaml:"authurl" json:"authurl"`
	Tenant    string `mapstructure:"tenant" yaml:"tenant,omitempty" json:"tenant,omitempty"`
	TenantID  string `mapstructure:"tenantid" yaml:"tenantid,omitempty" json:"tenantid,omitempty"`
	Domain    string `mapstructure:"domain" yaml:"domain,omitempty" json:"domain,omitempty"`
	Region    string `mapstructure:"region" yaml:"region,omitempty" json:"region,omitempty"`
	Container string `mapstructure:"container" yaml:"container" json:"container"`
	Prefix    string `mapstructure:"prefix" yaml:"prefix,omitempty" json:"prefix,omitempty"`
}

// SFTPEndpoint publishes over SFTP.
type SFTPEndpoint struct {
	Addr                  string `mapstructure:"addr" yaml:"addr" json:"addr"`
	User                  string `mapstructure:"user" yaml:"user" json:"user"`
	Password              string `mapstructure:"password" yaml:"password,omitempty" json:"-"`
	PrivateKeyFile        string `mapstructure:"privateKeyFile" yaml:"privateKeyFile,omitempty" json:"privateKeyFile,omitempty"`
	KnownHostsFile        string `mapstructure:"knownHostsFile" yaml:"knownHostsFile,omitempty" json:"knownHostsFile,omitempty"`
	InsecureIgnoreHostKey bool   `mapstructure:"insecureIgnoreHostKey" yaml:"insecureIgnoreHostKey" json:"insecureIgnoreHostKey"`
	RootDir               string `mapstructure:"rootDir" yaml:"rootDir" json:"rootDir"`
}
