package models

import (
	"bytes"
	"encoding/json"
)

// ColumnSchema is a single column of a feature group.
type ColumnSchema struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Tag is a CloudFormation style key/value tag.
type Tag struct {
	Key   string `json:"Key"`
	Value string `json:"Value"`
}

// OnlineStoreConfig mirrors the legacy online_store_config block.
type OnlineStoreConfig struct {
	EnableOnlineStore bool `json:"EnableOnlineStore"`
}

// FeatureGroupConfig is the content of a *.fg.json file.
type FeatureGroupConfig struct {
	FeatureGroupName            string             `json:"feature_group_name"`
	RecordIdentifierFeatureName string             `json:"record_identifier_feature_name"`
	EventTimeFeatureName        string             `json:"event_time_feature_name"`
	EnableOnlineStore           *bool              `json:"enable_online_store,omitempty"`
	DisableGlueTableCreation    bool               `json:"disable_glue_table_creation,omitempty"`
	OnlineStoreConfig           *OnlineStoreConfig `json:"online_store_config,omitempty"`
	OfflineStoreConfig          json.RawMessage    `json:"offline_store_config,omitempty"`
	ColumnSchemas               []ColumnSchema     `json:"column_schemas"`
	Tags                        []Tag              `json:"tags,omitempty"`
}

// OnlineEnabled reports whether the online store should be created.
func (f FeatureGroupConfig) OnlineEnabled() bool {
	if f.EnableOnlineStore != nil {
		return *f.EnableOnlineStore
	}
	return f.OnlineStoreConfig != nil && f.OnlineStoreConfig.EnableOnlineStore
}

// OfflineEnabled reports whether the offline store should be created. An absent block
// means enabled; an explicit false, null or empty value disables it.
func (f FeatureGroupConfig) OfflineEnabled() bool {
	raw := bytes.TrimSpace(f.OfflineStoreConfig)
	if len(raw) == 0 {
		return true
	}
	switch string(raw) {
	case "null", "false", "{}", `""`, "0":
		return false
	}
	return true
}
