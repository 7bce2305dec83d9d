// Package config loads the relay configuration from a YAML file and the
// MAILRELAY_* environment variables. Secrets are normally provided through
// the environment.
package config
