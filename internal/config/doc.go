// Package config loads scheduler, worker and CLI settings from defaults, an
// optional config.yaml, .env files and SWARM_* environment variables, then
// validates them.
package config
