// Package config provides YAML-based configuration loading and validation
// for the transcription service. Values are read once at startup; a handful
// of deploy-sensitive fields can be overridden through environment variables.
package config
