package types

// SourceConfig describes where and how the source file is fetched.
type SourceConfig struct {
	Kind   string `yaml:"kind" json:"kind"` // "http" or "local"
	URL    string `yaml:"url,omitempty" json:"url,omitempty"`
	Format string `yaml:"format,omitempty" json:"format,omitempty"` // "csv", "xlsx"
	Sheet  string `yaml:"sheet,omitempty" json:"sheet,omitempty"`
}

// ParseConfig selects the parser plugin for a dataset.
type ParseConfig struct {
	Plugin string `yaml:"plugin,omitempty" json:"plugin,omitempty"`
}

// NormalizeConfig selects the normalizer plugin and defines the identity of a row.
type NormalizeConfig struct {
	Plugin      string   `yaml:"plugin,omitempty" json:"plugin,omitempty"`
	PrimaryKeys []string `yaml:"primaryKeys" json:"primary_keys"`
	Timezone    string   `yaml:"timezone,omitempty" json:"timezone,omitempty"`
}

// NotifyConfig configures the post-publish notification.
type NotifyConfig struct {
	TopicARN string `yaml:"topicArn,omitempty" json:"topic_arn,omitempty"`
}

// DatasetConfig is the resolved configuration of one dataset pipeline. The
// core consumes this struct; YAML loading lives in internal/config.
type DatasetConfig struct {
	DatasetID  string          `yaml:"datasetId" json:"dataset_id"`
	Provider   string          `yaml:"provider,omitempty" json:"provider,omitempty"`
	Frequency  string          `yaml:"frequency" json:"frequency"`
	Unit       string          `yaml:"unit,omitempty" json:"unit,omitempty"`
	LagDays    int             `yaml:"lagDays,omitempty" json:"lag_days,omitempty"`
	FullReload bool            `yaml:"fullReload,omitempty" json:"full_reload,omitempty"`
	Source     SourceConfig    `yaml:"source" json:"source"`
	Parse      ParseConfig     `yaml:"parse,omitempty" json:"parse,omitempty"`
	Normalize  NormalizeConfig `yaml:"normalize" json:"normalize"`
	Notify     *NotifyConfig   `yaml:"notify,omitempty" json:"notify,omitempty"`

	// LockTable is the DynamoDB table used for the pipeline lock. Empty
	// disables locking and runs proceed unguarded.
	LockTable string `yaml:"lockTable,omitempty" json:"lock_table,omitempty"`
}

// PrimaryKeys is shorthand for the normalize section's key columns.
func (c DatasetConfig) PrimaryKeys() []string {
	return c.Normalize.PrimaryKeys
}
