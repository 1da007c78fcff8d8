package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const schemaVersion = 1

const (
	DefaultMaxConcurrentSessions = 1
	DefaultHistoryCapacity       = 50
	DefaultBatchInsertThreshold  = 10
	DefaultBatchDeleteThreshold  = 10
	DefaultPropagationDelayMS    = 50
	DefaultKernelBaseURL         = "http://127.0.0.1:6806"
	DefaultContextTemplate       = "{above_units=3}\n\n{below_units=3}"
)

type Settings struct {
	SchemaVersion         int    `json:"schema_version"`
	MaxConcurrentSessions int    `json:"max_concurrent_sessions"`
	HistoryCapacity       int    `json:"history_capacity"`
	BatchInsertThreshold  int    `json:"batch_insert_threshold"`
	BatchDeleteThreshold  int    `json:"batch_delete_threshold"`
	PropagationDelayMS    int    `json:"propagation_delay_ms"`
	KernelBaseURL         string `json:"kernel_base_url"`
	GenerationBaseURL     string `json:"generation_base_url,omitempty"`
	ModelID               string `json:"model_id,omitempty"`
	ContextTemplate       string `json:"context_template,omitempty"`
}

type Store struct {
	path string
	mu   sync.Mutex
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Load() (*Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultSettings(), nil
		}
		return nil, err
	}
	var loaded Settings
	if err := json.Unmarshal(data, &loaded); err != nil {
		return nil, err
	}
	normalize(&loaded)
	return &loaded, nil
}

func (s *Store) Save(value *Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *value
	normalize(&copied)
	copied.SchemaVersion = schemaVersion
	data, err := json.MarshalIndent(&copied, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func defaultSettings() *Settings {
	return &Settings{
		SchemaVersion:         schemaVersion,
		MaxConcurrentSessions: DefaultMaxConcurrentSessions,
		HistoryCapacity:       DefaultHistoryCapacity,
		BatchInsertThreshold:  DefaultBatchInsertThreshold,
		BatchDeleteThreshold:  DefaultBatchDeleteThreshold,
		PropagationDelayMS:    DefaultPropagationDelayMS,
		KernelBaseURL:         DefaultKernelBaseURL,
		ContextTemplate:       DefaultContextTemplate,
	}
}

func normalize(value *Settings) {
	if value.MaxConcurrentSessions <= 0 {
		value.MaxConcurrentSessions = DefaultMaxConcurrentSessions
	}
	if value.HistoryCapacity <= 0 {
		value.HistoryCapacity = DefaultHistoryCapacity
	}
	if value.BatchInsertThreshold <= 0 {
		value.BatchInsertThreshold = DefaultBatchInsertThreshold
	}
	if value.BatchDeleteThreshold <= 0 {
		value.BatchDeleteThreshold = DefaultBatchDeleteThreshold
	}
	if value.PropagationDelayMS < 0 {
		value.PropagationDelayMS = DefaultPropagationDelayMS
	}
	if strings.TrimSpace(value.KernelBaseURL) == "" {
		value.KernelBaseURL = DefaultKernelBaseURL
	}
	if strings.TrimSpace(value.ContextTemplate) == "" {
		value.ContextTemplate = DefaultContextTemplate
	}
}
