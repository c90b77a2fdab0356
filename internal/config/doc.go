/*
Package config provides layered configuration for the mount.

Sources are applied in precedence order: built-in defaults, then an
optional YAML file, then JOPLINFS_* environment variables, then
command-line flags (applied by the caller). Validation runs once over
the final result.
*/
package config
