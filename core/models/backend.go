package models

import "time"

// BackendStatus describes reachability of the backend host and its inference server
type BackendStatus struct {
	Reachable    bool      `json:"reachable"`
	ModelLoaded  bool      `json:"model_loaded"`
	Model        string    `json:"model"`
	InstanceID   string    `json:"instance_id,omitempty"`
	InstanceType string    `json:"instance_type,omitempty"`
	State        string    `json:"state,omitempty"`
	PublicIP     string    `json:"public_ip,omitempty"`
	PrivateIP    string    `json:"private_ip,omitempty"`
	HourlyPrice  float64   `json:"hourly_price_usd,omitempty"`
	Error        string    `json:"error,omitempty"`
	CheckedAt    time.Time `json:"checked_at"`
}

// ModelInfo lists the models served by the backend inference server
type ModelInfo struct {
	Model           string   `json:"model"`
	Loaded          bool     `json:"loaded"`
	AvailableModels []string `json:"available_models"`
	Versions        []string `json:"versions,omitempty"`
}
